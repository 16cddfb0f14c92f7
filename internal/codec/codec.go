// Package codec is the canonical value encoding shared by recorder and replayer.
//
// A value is encoded as a CBOR node tree using Core Deterministic Encoding, so
// equal values always produce identical bytes and a live argument can be
// verified against its recorded snapshot by byte comparison. Objects receive
// ids in first-visit order; a second visit encodes a back-reference, which
// keeps cyclic graphs finite and lets the decoder restore identity.
package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"nativereplay/internal/value"
)

// Encoded is one canonically encoded value. An empty Encoded means "absent".
type Encoded []byte

// Empty reports whether no value was recorded.
func (e Encoded) Empty() bool { return len(e) == 0 }

type node struct {
	Kind    uint8    `cbor:"0,keyasint"`
	Bool    bool     `cbor:"1,keyasint,omitempty"`
	Int     int64    `cbor:"2,keyasint,omitempty"`
	Double  *float64 `cbor:"3,keyasint,omitempty"`
	Str     string   `cbor:"4,keyasint,omitempty"`
	Entries []entry  `cbor:"5,keyasint,omitempty"`
	Class   string   `cbor:"6,keyasint,omitempty"`
	Coll    uint8    `cbor:"7,keyasint,omitempty"`
	Props   []prop   `cbor:"8,keyasint,omitempty"`
	ID      uint64   `cbor:"9,keyasint,omitempty"`
	Ref     uint64   `cbor:"10,keyasint,omitempty"`
}

type entry struct {
	_     struct{} `cbor:",toarray"`
	Key   node
	Value node
}

type prop struct {
	_       struct{} `cbor:",toarray"`
	Name    string
	Dynamic bool
	Value   node
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: encode mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
		MaxNestedLevels:   4096,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: decode mode: %v", err))
	}
}

// Marshal encodes v with the canonical CBOR options. The trace container uses
// it so the whole file follows one encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data strictly: duplicate map keys and unknown fields are
// errors.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encode returns the canonical encoding of v.
func Encode(v value.Value) (Encoded, error) {
	e := encoder{ids: make(map[*value.Object]uint64)}
	n := e.node(v)
	data, err := encMode.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("codec: encode %s: %w", value.KindOf(v), err)
	}
	return data, nil
}

// MustEncode is Encode for values known to be encodable, such as test fixtures.
func MustEncode(v value.Value) Encoded {
	enc, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return enc
}

type encoder struct {
	ids map[*value.Object]uint64
}

func (e *encoder) node(v value.Value) node {
	switch t := value.OrNull(v).(type) {
	case value.Null:
		return node{Kind: uint8(value.KindNull)}
	case value.Bool:
		return node{Kind: uint8(value.KindBool), Bool: bool(t)}
	case value.Int:
		return node{Kind: uint8(value.KindInt), Int: int64(t)}
	case value.Double:
		f := float64(t)
		return node{Kind: uint8(value.KindDouble), Double: &f}
	case value.String:
		return node{Kind: uint8(value.KindString), Str: string(t)}
	case value.Array:
		return node{Kind: uint8(value.KindArray), Entries: e.entries(t.Entries())}
	case *value.Resource:
		return node{Kind: uint8(value.KindResource), Str: t.Type, Int: t.ID}
	case *value.Object:
		if id, ok := e.ids[t]; ok {
			return node{Kind: uint8(value.KindObject), Ref: id}
		}
		id := uint64(len(e.ids) + 1)
		e.ids[t] = id
		n := node{Kind: uint8(value.KindObject), ID: id, Class: t.Class, Coll: uint8(t.CollectionType())}
		if t.IsCollection() {
			n.Entries = e.entries(t.Items())
			return n
		}
		for _, p := range t.Props() {
			n.Props = append(n.Props, prop{Name: p.Name, Dynamic: p.Dynamic, Value: e.node(p.Value)})
		}
		return n
	default:
		panic(fmt.Sprintf("codec: unknown value type %T", v))
	}
}

func (e *encoder) entries(in []value.Entry) []entry {
	if len(in) == 0 {
		return nil
	}
	out := make([]entry, len(in))
	for i, it := range in {
		out[i] = entry{Key: e.node(it.Key), Value: e.node(it.Value)}
	}
	return out
}
