package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfTreatsNilAsNull(t *testing.T) {
	var obj *Object
	var res *Resource
	assert.Equal(t, KindNull, KindOf(nil))
	assert.Equal(t, KindNull, KindOf(obj))
	assert.Equal(t, KindNull, KindOf(res))
	assert.Equal(t, Null{}, OrNull(obj))
	assert.Equal(t, KindInt, KindOf(Int(3)))
}

func TestArrayWithKeepsValueSemantics(t *testing.T) {
	a := NewDict(Entry{Key: String("a"), Value: Int(1)})
	b := a.With(String("b"), Int(2))

	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 2, b.Len())

	v, ok := b.Get(String("b"))
	require.True(t, ok)
	assert.Equal(t, Int(2), v)

	c := b.With(String("a"), Int(9))
	got, _ := c.Get(String("a"))
	assert.Equal(t, Int(9), got)
	assert.Equal(t, String("a"), c.Entries()[0].Key, "replacing a key keeps its position")
}

func TestArrayIsSequence(t *testing.T) {
	assert.True(t, NewVec(Int(1), String("x")).IsSequence())
	assert.True(t, NewVec().IsSequence())
	assert.False(t, NewDict(Entry{Key: Int(1), Value: Int(1)}).IsSequence())
}

func TestCollectionInsertion(t *testing.T) {
	m := NewCollection(Map)
	require.NoError(t, m.Set(String("a"), Int(1)))
	require.NoError(t, m.Set(String("a"), Int(2)))
	assert.Equal(t, 1, m.Len())

	s := NewCollection(Set)
	require.NoError(t, s.Add(Int(1)))
	require.NoError(t, s.Add(Int(1)))
	assert.Equal(t, 1, s.Len())

	v := NewCollection(Vector)
	require.NoError(t, v.Append(String("x")))
	got, ok := v.At(Int(0))
	require.True(t, ok)
	assert.Equal(t, String("x"), got)

	assert.Error(t, v.Set(String("k"), Int(1)))
	assert.Error(t, m.Append(Int(1)))
}

func TestImmutableCollectionsRejectMutation(t *testing.T) {
	iv := NewCollection(ImmVector, Entry{Value: Int(1)})
	assert.ErrorIs(t, iv.Clear(), ErrImmutable)
	assert.ErrorIs(t, iv.Append(Int(2)), ErrImmutable)
	assert.Equal(t, 1, iv.Len())

	plain := NewObject("Foo")
	assert.Error(t, plain.Clear())
}

func TestSetPropAddsDynamic(t *testing.T) {
	o := NewObject("Point", Property{Name: "x", Value: Int(1)})
	o.SetProp("x", Int(2))
	o.SetProp("label", String("p"))

	props := o.Props()
	require.Len(t, props, 2)
	assert.Equal(t, Property{Name: "x", Value: Int(2)}, props[0])
	assert.Equal(t, Property{Name: "label", Value: String("p"), Dynamic: true}, props[1])
}

func TestEqualStructural(t *testing.T) {
	a := NewObject("Point", Property{Name: "x", Value: Int(1)})
	b := NewObject("Point", Property{Name: "x", Value: Int(1)})
	assert.True(t, Equal(a, b))

	b.SetProp("x", Int(2))
	assert.False(t, Equal(a, b))

	assert.True(t, Equal(Double(math.NaN()), Double(math.NaN())))
	assert.False(t, Equal(Int(1), Double(1)))
	assert.True(t, Equal(nil, Null{}))
}

func TestEqualHandlesCycles(t *testing.T) {
	a := NewObject("Node", Property{Name: "next"})
	a.SetProp("next", a)
	b := NewObject("Node", Property{Name: "next"})
	b.SetProp("next", b)

	assert.True(t, Equal(a, b))
}

func TestFormat(t *testing.T) {
	n := NewObject("Node", Property{Name: "v", Value: Int(1)}, Property{Name: "next"})
	n.SetProp("next", n)
	assert.Equal(t, "Node{v: 1, next: *RECURSION*}", Format(n))

	m := NewCollection(Map, Entry{Key: String("a"), Value: Int(1)})
	assert.Equal(t, `Map{"a" => 1}`, Format(m))
	assert.Equal(t, `[1, "x"]`, Format(NewVec(Int(1), String("x"))))
	assert.Equal(t, "resource(stream#4)", Format(&Resource{Type: "stream", ID: 4}))
	assert.Equal(t, "null", Format(nil))
}
