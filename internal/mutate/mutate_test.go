package mutate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nativereplay/internal/replayerr"
	"nativereplay/internal/value"
)

func kv(k string, v int64) value.Entry {
	return value.Entry{Key: value.String(k), Value: value.Int(v)}
}

func TestApplyRebuildsMap(t *testing.T) {
	live := value.NewCollection(value.Map, kv("a", 1))
	rec := value.NewCollection(value.Map, kv("a", 1), kv("b", 2))

	require.NoError(t, Apply(rec, live))
	assert.True(t, value.Equal(rec, live), "got %s", value.Format(live))
	assert.Equal(t, 2, live.Len())
}

func TestApplyRebuildsVectorAndSet(t *testing.T) {
	vec := value.NewCollection(value.Vector, value.Entry{Value: value.Int(9)})
	require.NoError(t, Apply(value.NewCollection(value.Vector,
		value.Entry{Value: value.Int(1)}, value.Entry{Value: value.Int(2)}), vec))
	assert.Equal(t, `Vector{0 => 1, 1 => 2}`, value.Format(vec))

	set := value.NewCollection(value.Set, value.Entry{Value: value.String("old")})
	require.NoError(t, Apply(value.NewCollection(value.Set, value.Entry{Value: value.String("new")}), set))
	_, hasOld := set.At(value.String("old"))
	_, hasNew := set.At(value.String("new"))
	assert.False(t, hasOld)
	assert.True(t, hasNew)
}

func TestApplyIsIdempotent(t *testing.T) {
	rec := value.NewObject("Box",
		value.Property{Name: "items", Value: value.NewCollection(value.Map, kv("a", 1), kv("b", 2))},
		value.Property{Name: "count", Value: value.Int(2)},
	)
	rec.SetProp("extra", value.NewObject("Tag", value.Property{Name: "name", Value: value.String("t")}))

	once := value.NewObject("Box", value.Property{Name: "items"}, value.Property{Name: "count"})
	twice := value.NewObject("Box", value.Property{Name: "items"}, value.Property{Name: "count"})

	require.NoError(t, Apply(rec, once))
	require.NoError(t, Apply(rec, twice))
	require.NoError(t, Apply(rec, twice))

	assert.True(t, value.Equal(once, twice), "once=%s twice=%s", value.Format(once), value.Format(twice))
	assert.True(t, value.Equal(rec, once))
}

func TestApplyUpdatesNestedObjectsInPlace(t *testing.T) {
	inner := value.NewObject("Inner", value.Property{Name: "v", Value: value.Int(1)})
	live := value.NewObject("Outer", value.Property{Name: "in", Value: inner})
	alias := inner

	rec := value.NewObject("Outer", value.Property{Name: "in",
		Value: value.NewObject("Inner", value.Property{Name: "v", Value: value.Int(5)})})

	require.NoError(t, Apply(rec, live))
	got, _ := live.Prop("in")
	assert.Same(t, alias, got, "identity of the nested object is kept")
	v, _ := alias.Prop("v")
	assert.Equal(t, value.Int(5), v)
}

func TestApplyAddsDynamicProps(t *testing.T) {
	live := value.NewObject("Req", value.Property{Name: "id", Value: value.Int(1)})
	rec := value.NewObject("Req", value.Property{Name: "id", Value: value.Int(1)})
	rec.SetProp("cached", value.Bool(true))

	require.NoError(t, Apply(rec, live))
	props := live.Props()
	require.Len(t, props, 2)
	assert.Equal(t, value.Property{Name: "cached", Value: value.Bool(true), Dynamic: true}, props[1])
}

func TestApplySelfReference(t *testing.T) {
	rec := value.NewObject("Node", value.Property{Name: "v", Value: value.Int(2)}, value.Property{Name: "next"})
	rec.SetProp("next", rec)

	live := value.NewObject("Node", value.Property{Name: "v", Value: value.Int(1)}, value.Property{Name: "next"})

	require.NoError(t, Apply(rec, live))
	next, ok := live.Prop("next")
	require.True(t, ok)
	assert.Same(t, live, next, "self reference points at the live target")
	v, _ := live.Prop("v")
	assert.Equal(t, value.Int(2), v)

	// Applying again over an already cyclic live graph also terminates.
	require.NoError(t, Apply(rec, live, WithStrict()))
}

func TestApplyLongerCycle(t *testing.T) {
	a := value.NewObject("N", value.Property{Name: "next"})
	b := value.NewObject("N", value.Property{Name: "next"})
	a.SetProp("next", b)
	b.SetProp("next", a)

	live := value.NewObject("N", value.Property{Name: "next"})
	require.NoError(t, Apply(a, live))

	second, _ := live.Prop("next")
	secondObj, ok := second.(*value.Object)
	require.True(t, ok)
	back, _ := secondObj.Prop("next")
	assert.Same(t, live, back)
}

func TestApplyImmutableCollections(t *testing.T) {
	rec := value.NewCollection(value.ImmVector, value.Entry{Value: value.Int(1)}, value.Entry{Value: value.Int(2)})

	same := value.NewCollection(value.ImmVector, value.Entry{Value: value.Int(1)}, value.Entry{Value: value.Int(2)})
	require.NoError(t, Apply(rec, same))

	shorter := value.NewCollection(value.ImmVector, value.Entry{Value: value.Int(1)})
	err := Apply(rec, shorter)
	require.ErrorIs(t, err, replayerr.ErrDivergence)
	assert.Equal(t, 1, shorter.Len(), "immutable collections are never mutated")

	other := value.NewCollection(value.ImmVector, value.Entry{Value: value.Int(1)}, value.Entry{Value: value.Int(3)})
	assert.ErrorIs(t, Apply(rec, other), replayerr.ErrDivergence)

	pair := value.NewCollection(value.Pair, value.Entry{Value: value.Int(1)}, value.Entry{Value: value.Int(2)})
	assert.ErrorIs(t, Apply(rec, pair), replayerr.ErrDivergence)
}

func TestApplyClassMismatch(t *testing.T) {
	err := Apply(value.NewObject("A"), value.NewObject("B"))
	require.ErrorIs(t, err, replayerr.ErrDivergence)

	assert.NoError(t, Apply(nil, nil))
	assert.ErrorIs(t, Apply(value.NewObject("A"), nil), replayerr.ErrDivergence)
}

func TestStrictRejectsExtraLiveState(t *testing.T) {
	rec := value.NewObject("P", value.Property{Name: "x", Value: value.Int(1)})
	live := value.NewObject("P", value.Property{Name: "x", Value: value.Int(0)})
	live.SetProp("leftover", value.Int(7))

	require.NoError(t, Apply(rec, live), "property-level fidelity tolerates extra live props")
	assert.ErrorIs(t, Apply(rec, live, WithStrict()), replayerr.ErrDivergence)
}
