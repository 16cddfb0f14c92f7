package value

import (
	"strconv"
	"strings"
)

// Format renders v for diagnostics. Objects already on the current path print
// as *RECURSION* so cyclic graphs terminate.
func Format(v Value) string {
	var b strings.Builder
	format(&b, v, make(map[*Object]bool))
	return b.String()
}

func format(b *strings.Builder, v Value, path map[*Object]bool) {
	switch t := OrNull(v).(type) {
	case Null:
		b.WriteString("null")
	case Bool:
		b.WriteString(strconv.FormatBool(bool(t)))
	case Int:
		b.WriteString(strconv.FormatInt(int64(t), 10))
	case Double:
		b.WriteString(strconv.FormatFloat(float64(t), 'g', -1, 64))
	case String:
		b.WriteString(strconv.Quote(string(t)))
	case *Resource:
		b.WriteString("resource(")
		b.WriteString(t.Type)
		b.WriteByte('#')
		b.WriteString(strconv.FormatInt(t.ID, 10))
		b.WriteByte(')')
	case Array:
		if t.IsSequence() {
			b.WriteByte('[')
			for i, e := range t.entries {
				if i > 0 {
					b.WriteString(", ")
				}
				format(b, e.Value, path)
			}
			b.WriteByte(']')
			return
		}
		formatEntries(b, "{", "}", t.entries, path)
	case *Object:
		if path[t] {
			b.WriteString("*RECURSION*")
			return
		}
		path[t] = true
		defer delete(path, t)

		b.WriteString(t.Class)
		if t.IsCollection() {
			formatEntries(b, "{", "}", t.items, path)
			return
		}
		b.WriteByte('{')
		for i, p := range t.props {
			if i > 0 {
				b.WriteString(", ")
			}
			if p.Dynamic {
				b.WriteByte('+')
			}
			b.WriteString(p.Name)
			b.WriteString(": ")
			format(b, p.Value, path)
		}
		b.WriteByte('}')
	}
}

func formatEntries(b *strings.Builder, open, close string, entries []Entry, path map[*Object]bool) {
	b.WriteString(open)
	for i, e := range entries {
		if i > 0 {
			b.WriteString(", ")
		}
		format(b, e.Key, path)
		b.WriteString(" => ")
		format(b, e.Value, path)
	}
	b.WriteString(close)
}
