// Package mutate restores recorded post-call state onto live by-reference
// arguments.
//
// Identity is preserved wherever the live graph already has a counterpart:
// plain objects are updated in place and mutable collections are cleared and
// rebuilt rather than replaced. The traversal keeps a recorded->live map, so a
// recorded object reached twice always maps to the same live object. That
// makes cyclic graphs terminate and keeps self references pointing at the live
// target.
package mutate

import (
	"fmt"

	"nativereplay/internal/replayerr"
	"nativereplay/internal/value"
)

type options struct {
	strict bool
}

// Option configures Apply.
type Option func(*options)

// WithStrict additionally requires the live object to be structurally equal
// to the recorded one after mutation, extra live properties included.
func WithStrict() Option {
	return func(o *options) { o.strict = true }
}

// Apply makes live reflect recorded.
func Apply(recorded, live *value.Object, opts ...Option) error {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if recorded == nil || live == nil {
		if recorded == nil && live == nil {
			return nil
		}
		return replayerr.Divergence("by-reference argument nullness differs",
			value.Format(recorded), value.Format(live))
	}

	m := &mutator{visited: make(map[*value.Object]*value.Object)}
	if err := m.apply(recorded, live); err != nil {
		return err
	}
	if o.strict && !value.Equal(recorded, live) {
		return replayerr.Divergence("object state after mutation differs from recording",
			value.Format(recorded), value.Format(live))
	}
	return nil
}

type mutator struct {
	visited map[*value.Object]*value.Object
}

func (m *mutator) apply(rec, live *value.Object) error {
	if seen, ok := m.visited[rec]; ok {
		if seen != live {
			return replayerr.Divergence(fmt.Sprintf("%s is aliased differently than recorded", rec.Class),
				value.Format(seen), value.Format(live))
		}
		return nil
	}
	if rec.Class != live.Class || rec.CollectionType() != live.CollectionType() {
		return replayerr.Divergence("by-reference argument class differs", rec.Class, live.Class)
	}
	m.visited[rec] = live

	if rec.IsCollection() {
		if rec.CollectionType().Mutable() {
			return m.rebuild(rec, live)
		}
		return compareImmutable(rec, live)
	}
	return m.updateProps(rec, live)
}

// rebuild clears live and re-inserts every recorded item with the variant's
// own insertion operation.
func (m *mutator) rebuild(rec, live *value.Object) error {
	if err := live.Clear(); err != nil {
		return err
	}
	for _, it := range rec.Items() {
		v := m.live(it.Value)
		var err error
		switch rec.CollectionType() {
		case value.Vector:
			err = live.Append(v)
		case value.Map:
			err = live.Set(m.live(it.Key), v)
		case value.Set:
			err = live.Add(v)
		}
		if err != nil {
			return fmt.Errorf("rebuild %s: %w", rec.Class, err)
		}
	}
	return nil
}

func compareImmutable(rec, live *value.Object) error {
	ri, li := rec.Items(), live.Items()
	if len(ri) != len(li) {
		return replayerr.Divergence(fmt.Sprintf("%s length differs", rec.Class),
			fmt.Sprint(len(ri)), fmt.Sprint(len(li)))
	}
	for i := range ri {
		if !value.Equal(ri[i].Key, li[i].Key) || !value.Equal(ri[i].Value, li[i].Value) {
			return replayerr.Divergence(fmt.Sprintf("%s element %d differs", rec.Class, i),
				value.Format(ri[i].Value), value.Format(li[i].Value))
		}
	}
	return nil
}

func (m *mutator) updateProps(rec, live *value.Object) error {
	for _, p := range rec.Props() {
		cur, has := live.Prop(p.Name)

		if recObj, ok := p.Value.(*value.Object); ok && recObj != nil && !recObj.IsCollection() {
			if seen, ok := m.visited[recObj]; ok {
				live.SetProp(p.Name, seen)
				continue
			}
			if curObj, ok := cur.(*value.Object); ok && curObj != nil &&
				curObj.Class == recObj.Class && !curObj.IsCollection() {
				if err := m.apply(recObj, curObj); err != nil {
					return err
				}
				continue
			}
		}

		v := m.live(p.Value)
		switch {
		case has || p.Dynamic:
			live.SetProp(p.Name, v)
		default:
			live.Declare(p.Name, v)
		}
	}
	return nil
}

// live returns the value to store on the live side for a recorded value:
// recorded objects map to their live counterpart, or to a fresh copy built
// from the recording.
func (m *mutator) live(v value.Value) value.Value {
	switch t := value.OrNull(v).(type) {
	case *value.Object:
		return m.adopt(t)
	case value.Array:
		entries := t.Entries()
		for i := range entries {
			entries[i].Value = m.live(entries[i].Value)
		}
		return value.NewDict(entries...)
	default:
		return t
	}
}

func (m *mutator) adopt(rec *value.Object) *value.Object {
	if seen, ok := m.visited[rec]; ok {
		return seen
	}
	var fresh *value.Object
	if rec.IsCollection() {
		fresh = value.NewCollection(rec.CollectionType())
		fresh.Class = rec.Class
	} else {
		fresh = value.NewObject(rec.Class)
	}
	m.visited[rec] = fresh

	if rec.IsCollection() {
		items := rec.Items()
		for i := range items {
			items[i] = value.Entry{Key: m.live(items[i].Key), Value: m.live(items[i].Value)}
		}
		fresh.Fill(items...)
		return fresh
	}
	for _, p := range rec.Props() {
		if p.Dynamic {
			fresh.SetProp(p.Name, m.live(p.Value))
		} else {
			fresh.Declare(p.Name, m.live(p.Value))
		}
	}
	return fresh
}
