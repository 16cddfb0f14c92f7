// Package value is the live value model of the hosted runtime as seen by replay.
//
// It is a closed tagged variant: every Value reports one Kind, and the set of
// kinds is fixed. Scalars and arrays have value semantics. Objects and
// resources are pointers and carry identity, which is what by-reference
// arguments and cyclic graphs depend on.
package value

import "fmt"

// Kind is the variant tag of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindDouble
	KindString
	KindArray
	KindObject
	KindResource
)

// KindAny is not a tag carried by values; decoders use it to accept every kind.
const KindAny Kind = 0xff

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindResource:
		return "resource"
	case KindAny:
		return "any"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the closed set of value tags.
func (k Kind) Valid() bool {
	return k <= KindResource
}

// Value is implemented by exactly the types of this package.
type Value interface {
	Kind() Kind
	isValue()
}

type (
	Null   struct{}
	Bool   bool
	Int    int64
	Double float64
	String string
)

func (Null) Kind() Kind   { return KindNull }
func (Bool) Kind() Kind   { return KindBool }
func (Int) Kind() Kind    { return KindInt }
func (Double) Kind() Kind { return KindDouble }
func (String) Kind() Kind { return KindString }

func (Null) isValue()   {}
func (Bool) isValue()   {}
func (Int) isValue()    {}
func (Double) isValue() {}
func (String) isValue() {}

// Resource is an opaque runtime handle (file, socket, ...). Only its type and
// id are observable.
type Resource struct {
	Type string
	ID   int64
}

func (*Resource) Kind() Kind { return KindResource }
func (*Resource) isValue()   {}

// KindOf returns v's kind, treating a nil Value or nil pointer as null.
func KindOf(v Value) Kind {
	switch t := v.(type) {
	case nil:
		return KindNull
	case *Object:
		if t == nil {
			return KindNull
		}
	case *Resource:
		if t == nil {
			return KindNull
		}
	}
	return v.Kind()
}

// OrNull maps a nil Value (or nil object/resource pointer) to Null.
func OrNull(v Value) Value {
	if KindOf(v) == KindNull {
		return Null{}
	}
	return v
}
