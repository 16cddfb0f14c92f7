package value

// Entry is one key/value pair of an Array or collection. Keys are Int or String.
type Entry struct {
	Key   Value
	Value Value
}

// Array is an ordered map with Int or String keys. A sequence is an Array whose
// keys are 0..n-1 in order. Arrays have value semantics: mutating methods
// return a new Array.
type Array struct {
	entries []Entry
}

func (Array) Kind() Kind { return KindArray }
func (Array) isValue()   {}

// NewVec builds a sequence from values.
func NewVec(values ...Value) Array {
	entries := make([]Entry, len(values))
	for i, v := range values {
		entries[i] = Entry{Key: Int(i), Value: OrNull(v)}
	}
	return Array{entries: entries}
}

// NewDict builds an array from entries, later duplicates replacing earlier ones
// in place.
func NewDict(entries ...Entry) Array {
	var a Array
	for _, e := range entries {
		a = a.With(e.Key, e.Value)
	}
	return a
}

// Len returns the number of entries.
func (a Array) Len() int { return len(a.entries) }

// Entries returns a copy of the entries in order.
func (a Array) Entries() []Entry {
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Get returns the value stored under key.
func (a Array) Get(key Value) (Value, bool) {
	if i := indexOf(a.entries, key); i >= 0 {
		return a.entries[i].Value, true
	}
	return nil, false
}

// With returns a copy of a with key set to v.
func (a Array) With(key, v Value) Array {
	entries := make([]Entry, len(a.entries), len(a.entries)+1)
	copy(entries, a.entries)
	if i := indexOf(entries, key); i >= 0 {
		entries[i].Value = OrNull(v)
	} else {
		entries = append(entries, Entry{Key: key, Value: OrNull(v)})
	}
	return Array{entries: entries}
}

// IsSequence reports whether the keys are exactly 0..n-1 in order.
func (a Array) IsSequence() bool {
	for i, e := range a.entries {
		if k, ok := e.Key.(Int); !ok || int(k) != i {
			return false
		}
	}
	return true
}

func indexOf(entries []Entry, key Value) int {
	for i, e := range entries {
		if keyEqual(e.Key, key) {
			return i
		}
	}
	return -1
}

// keyEqual compares array/collection keys. Keys are scalars, so shallow
// comparison suffices except for object elements of sets.
func keyEqual(a, b Value) bool {
	if KindOf(a) != KindOf(b) {
		return false
	}
	switch ka := a.(type) {
	case *Object, *Resource:
		return a == b
	case Double:
		return doubleEqual(float64(ka), float64(b.(Double)))
	case Array:
		return Equal(a, b)
	default:
		return OrNull(a) == OrNull(b)
	}
}
