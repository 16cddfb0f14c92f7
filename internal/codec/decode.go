package codec

import (
	"bytes"

	"nativereplay/internal/replayerr"
	"nativereplay/internal/value"
)

// DecodeAny decodes enc whatever its kind.
func DecodeAny(enc Encoded) (value.Value, error) {
	n, err := parse(enc)
	if err != nil {
		return nil, err
	}
	d := decoder{objs: make(map[uint64]*value.Object)}
	return d.value(n)
}

// DecodeNull succeeds only if enc holds null.
func DecodeNull(enc Encoded) error {
	_, err := decodeKind(enc, value.KindNull)
	return err
}

// DecodeBool decodes a bool.
func DecodeBool(enc Encoded) (bool, error) {
	v, err := decodeKind(enc, value.KindBool)
	if err != nil {
		return false, err
	}
	return bool(v.(value.Bool)), nil
}

// DecodeInt decodes an int.
func DecodeInt(enc Encoded) (int64, error) {
	v, err := decodeKind(enc, value.KindInt)
	if err != nil {
		return 0, err
	}
	return int64(v.(value.Int)), nil
}

// DecodeDouble decodes a double, keeping NaN and negative zero.
func DecodeDouble(enc Encoded) (float64, error) {
	v, err := decodeKind(enc, value.KindDouble)
	if err != nil {
		return 0, err
	}
	return float64(v.(value.Double)), nil
}

// DecodeString decodes a string.
func DecodeString(enc Encoded) (string, error) {
	v, err := decodeKind(enc, value.KindString)
	if err != nil {
		return "", err
	}
	return string(v.(value.String)), nil
}

// DecodeArray decodes an array with its keys in recorded order.
func DecodeArray(enc Encoded) (value.Array, error) {
	v, err := decodeKind(enc, value.KindArray)
	if err != nil {
		return value.Array{}, err
	}
	return v.(value.Array), nil
}

// DecodeObject decodes an object. A recorded null decodes to a nil object.
func DecodeObject(enc Encoded) (*value.Object, error) {
	n, err := parse(enc)
	if err != nil {
		return nil, err
	}
	if value.Kind(n.Kind) == value.KindNull {
		return nil, nil
	}
	if value.Kind(n.Kind) != value.KindObject {
		return nil, replayerr.KindMismatch(value.KindObject.String(), value.Kind(n.Kind).String())
	}
	d := decoder{objs: make(map[uint64]*value.Object)}
	v, err := d.value(n)
	if err != nil {
		return nil, err
	}
	return v.(*value.Object), nil
}

// DecodeResource decodes a resource handle.
func DecodeResource(enc Encoded) (*value.Resource, error) {
	v, err := decodeKind(enc, value.KindResource)
	if err != nil {
		return nil, err
	}
	return v.(*value.Resource), nil
}

// Decode decodes enc into the value type T. With T = value.Value every kind
// is accepted.
func Decode[T value.Value](enc Encoded) (T, error) {
	var zero T
	v, err := decodeKind(enc, kindFor[T]())
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, replayerr.KindMismatch(kindFor[T]().String(), value.KindOf(v).String())
	}
	return out, nil
}

func kindFor[T value.Value]() value.Kind {
	var zero T
	switch any(zero).(type) {
	case value.Null:
		return value.KindNull
	case value.Bool:
		return value.KindBool
	case value.Int:
		return value.KindInt
	case value.Double:
		return value.KindDouble
	case value.String:
		return value.KindString
	case value.Array:
		return value.KindArray
	case *value.Object:
		return value.KindObject
	case *value.Resource:
		return value.KindResource
	default:
		return value.KindAny
	}
}

// VerifyLive re-encodes live and requires the bytes to equal enc. A mismatch is
// a divergence carrying both renderings.
func VerifyLive(enc Encoded, live value.Value) error {
	got, err := Encode(live)
	if err != nil {
		return err
	}
	if bytes.Equal(enc, got) {
		return nil
	}
	expected := "<undecodable>"
	if rec, err := DecodeAny(enc); err == nil {
		expected = value.Format(rec)
	}
	return replayerr.Divergence("argument differs from recording", expected, value.Format(live))
}

func decodeKind(enc Encoded, want value.Kind) (value.Value, error) {
	n, err := parse(enc)
	if err != nil {
		return nil, err
	}
	got := value.Kind(n.Kind)
	if want != value.KindAny && got != want {
		return nil, replayerr.KindMismatch(want.String(), got.String())
	}
	d := decoder{objs: make(map[uint64]*value.Object)}
	return d.value(n)
}

func parse(enc Encoded) (node, error) {
	var n node
	if enc.Empty() {
		return n, replayerr.Integrityf("empty encoded value")
	}
	if err := decMode.Unmarshal(enc, &n); err != nil {
		return n, replayerr.Integrityf("malformed encoded value: %v", err)
	}
	return n, nil
}

type decoder struct {
	objs map[uint64]*value.Object
}

func (d *decoder) value(n node) (value.Value, error) {
	switch value.Kind(n.Kind) {
	case value.KindNull:
		return value.Null{}, nil
	case value.KindBool:
		return value.Bool(n.Bool), nil
	case value.KindInt:
		return value.Int(n.Int), nil
	case value.KindDouble:
		if n.Double == nil {
			return nil, replayerr.Integrityf("double without payload")
		}
		return value.Double(*n.Double), nil
	case value.KindString:
		return value.String(n.Str), nil
	case value.KindResource:
		return &value.Resource{Type: n.Str, ID: n.Int}, nil
	case value.KindArray:
		entries, err := d.entries(n.Entries)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if k := value.KindOf(e.Key); k != value.KindInt && k != value.KindString {
				return nil, replayerr.Integrityf("array key of kind %s", k)
			}
		}
		return value.NewDict(entries...), nil
	case value.KindObject:
		return d.object(n)
	default:
		return nil, replayerr.Integrityf("unknown value kind %d", n.Kind)
	}
}

func (d *decoder) object(n node) (value.Value, error) {
	if n.Ref != 0 {
		o, ok := d.objs[n.Ref]
		if !ok {
			return nil, replayerr.Integrityf("dangling object reference %d", n.Ref)
		}
		return o, nil
	}
	if n.ID == 0 {
		return nil, replayerr.Integrityf("object without id")
	}
	if _, dup := d.objs[n.ID]; dup {
		return nil, replayerr.Integrityf("duplicate object id %d", n.ID)
	}
	coll := value.CollectionType(n.Coll)
	if !coll.Valid() {
		return nil, replayerr.Integrityf("unknown collection type %d", n.Coll)
	}

	var o *value.Object
	if coll == value.NotCollection {
		o = value.NewObject(n.Class)
	} else {
		o = value.NewCollection(coll)
		o.Class = n.Class
	}
	d.objs[n.ID] = o

	if coll != value.NotCollection {
		items, err := d.entries(n.Entries)
		if err != nil {
			return nil, err
		}
		o.Fill(items...)
		return o, nil
	}
	for _, p := range n.Props {
		v, err := d.value(p.Value)
		if err != nil {
			return nil, err
		}
		if p.Dynamic {
			o.SetProp(p.Name, v)
		} else {
			o.Declare(p.Name, v)
		}
	}
	return o, nil
}

func (d *decoder) entries(in []entry) ([]value.Entry, error) {
	out := make([]value.Entry, 0, len(in))
	for _, e := range in {
		k, err := d.value(e.Key)
		if err != nil {
			return nil, err
		}
		v, err := d.value(e.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, value.Entry{Key: k, Value: v})
	}
	return out, nil
}
