package value

import (
	"errors"
	"fmt"
)

// ErrImmutable is returned by collection mutators on read-only variants.
var ErrImmutable = errors.New("collection is immutable")

// CollectionType distinguishes the built-in collection classes from plain objects.
type CollectionType uint8

const (
	NotCollection CollectionType = iota
	Vector
	Map
	Set
	ImmVector
	ImmMap
	ImmSet
	Pair
)

func (c CollectionType) String() string {
	switch c {
	case NotCollection:
		return "object"
	case Vector:
		return "Vector"
	case Map:
		return "Map"
	case Set:
		return "Set"
	case ImmVector:
		return "ImmVector"
	case ImmMap:
		return "ImmMap"
	case ImmSet:
		return "ImmSet"
	case Pair:
		return "Pair"
	default:
		return fmt.Sprintf("collection(%d)", uint8(c))
	}
}

// Mutable reports whether the variant supports clear and insertion.
func (c CollectionType) Mutable() bool {
	return c == Vector || c == Map || c == Set
}

// Valid reports whether c is a known collection type (or NotCollection).
func (c CollectionType) Valid() bool {
	return c <= Pair
}

// Property is one object property. Declared properties come from the class and
// keep their slot order; dynamic properties are appended at runtime.
type Property struct {
	Name    string
	Value   Value
	Dynamic bool
}

// Object is a heap object with identity. Plain objects carry properties;
// collections carry ordered items instead.
type Object struct {
	Class string

	props []Property
	coll  CollectionType
	items []Entry
}

func (*Object) Kind() Kind { return KindObject }
func (*Object) isValue()   {}

// NewObject creates a plain object with its declared properties in slot order.
func NewObject(class string, declared ...Property) *Object {
	o := &Object{Class: class, props: make([]Property, 0, len(declared))}
	for _, p := range declared {
		o.props = append(o.props, Property{Name: p.Name, Value: OrNull(p.Value)})
	}
	return o
}

// NewCollection creates a collection of type t holding items. Vector, ImmVector
// and Pair items are re-keyed 0..n-1; Set and ImmSet items use the element as
// key.
func NewCollection(t CollectionType, items ...Entry) *Object {
	o := &Object{Class: t.String(), coll: t}
	o.Fill(items...)
	return o
}

// Fill inserts items regardless of mutability, with the keying rules of
// NewCollection. Decoders use it to populate a collection after registering
// its identity.
func (o *Object) Fill(items ...Entry) {
	for _, it := range items {
		switch o.coll {
		case Vector, ImmVector, Pair:
			o.items = append(o.items, Entry{Key: Int(len(o.items)), Value: OrNull(it.Value)})
		case Set, ImmSet:
			if indexOf(o.items, it.Value) < 0 {
				o.items = append(o.items, Entry{Key: it.Value, Value: it.Value})
			}
		default:
			if i := indexOf(o.items, it.Key); i >= 0 {
				o.items[i].Value = OrNull(it.Value)
			} else {
				o.items = append(o.items, Entry{Key: it.Key, Value: OrNull(it.Value)})
			}
		}
	}
}

// IsCollection reports whether o is one of the built-in collection classes.
func (o *Object) IsCollection() bool { return o.coll != NotCollection }

// CollectionType returns the collection variant, NotCollection for plain objects.
func (o *Object) CollectionType() CollectionType { return o.coll }

// Props returns a copy of the properties, declared first in slot order.
func (o *Object) Props() []Property {
	out := make([]Property, len(o.props))
	copy(out, o.props)
	return out
}

// Prop returns the value of the named property.
func (o *Object) Prop(name string) (Value, bool) {
	for _, p := range o.props {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// Declare sets a declared property, appending it if o does not have it yet.
func (o *Object) Declare(name string, v Value) {
	for i := range o.props {
		if o.props[i].Name == name {
			o.props[i] = Property{Name: name, Value: OrNull(v)}
			return
		}
	}
	o.props = append(o.props, Property{Name: name, Value: OrNull(v)})
}

// SetProp overwrites a property, adding it as dynamic if o does not have it.
func (o *Object) SetProp(name string, v Value) {
	for i := range o.props {
		if o.props[i].Name == name {
			o.props[i].Value = OrNull(v)
			return
		}
	}
	o.props = append(o.props, Property{Name: name, Value: OrNull(v), Dynamic: true})
}

// Len returns the number of collection items.
func (o *Object) Len() int { return len(o.items) }

// Items returns a copy of the collection items in order.
func (o *Object) Items() []Entry {
	out := make([]Entry, len(o.items))
	copy(out, o.items)
	return out
}

// At returns the item stored under key.
func (o *Object) At(key Value) (Value, bool) {
	if i := indexOf(o.items, key); i >= 0 {
		return o.items[i].Value, true
	}
	return nil, false
}

// Clear removes every item of a mutable collection.
func (o *Object) Clear() error {
	if err := o.mutable(); err != nil {
		return err
	}
	o.items = nil
	return nil
}

// Append adds v at the end of a Vector.
func (o *Object) Append(v Value) error {
	if err := o.expect(Vector); err != nil {
		return err
	}
	o.items = append(o.items, Entry{Key: Int(len(o.items)), Value: OrNull(v)})
	return nil
}

// Set stores v under key in a Map.
func (o *Object) Set(key, v Value) error {
	if err := o.expect(Map); err != nil {
		return err
	}
	if i := indexOf(o.items, key); i >= 0 {
		o.items[i].Value = OrNull(v)
		return nil
	}
	o.items = append(o.items, Entry{Key: key, Value: OrNull(v)})
	return nil
}

// Add inserts v into a Set unless already present.
func (o *Object) Add(v Value) error {
	if err := o.expect(Set); err != nil {
		return err
	}
	if indexOf(o.items, v) < 0 {
		o.items = append(o.items, Entry{Key: v, Value: v})
	}
	return nil
}

func (o *Object) mutable() error {
	if !o.IsCollection() {
		return fmt.Errorf("%s is not a collection", o.Class)
	}
	if !o.coll.Mutable() {
		return fmt.Errorf("%s: %w", o.coll, ErrImmutable)
	}
	return nil
}

func (o *Object) expect(t CollectionType) error {
	if err := o.mutable(); err != nil {
		return err
	}
	if o.coll != t {
		return fmt.Errorf("%s does not support %s insertion", o.coll, t)
	}
	return nil
}
