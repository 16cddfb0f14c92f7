package value

import "math"

// Equal reports deep structural equality. Objects compare by class, collection
// type, properties and items; identity is not required. Cyclic graphs are
// handled by assuming equality for object pairs already under comparison.
func Equal(a, b Value) bool {
	return equal(a, b, make(map[[2]*Object]struct{}))
}

func equal(a, b Value, seen map[[2]*Object]struct{}) bool {
	ka, kb := KindOf(a), KindOf(b)
	if ka != kb {
		return false
	}
	switch ka {
	case KindNull:
		return true
	case KindBool:
		return a.(Bool) == b.(Bool)
	case KindInt:
		return a.(Int) == b.(Int)
	case KindDouble:
		return doubleEqual(float64(a.(Double)), float64(b.(Double)))
	case KindString:
		return a.(String) == b.(String)
	case KindArray:
		return entriesEqual(a.(Array).entries, b.(Array).entries, seen)
	case KindResource:
		ra, rb := a.(*Resource), b.(*Resource)
		return ra.Type == rb.Type && ra.ID == rb.ID
	case KindObject:
		return objectEqual(a.(*Object), b.(*Object), seen)
	default:
		return false
	}
}

func objectEqual(a, b *Object, seen map[[2]*Object]struct{}) bool {
	if a == b {
		return true
	}
	pair := [2]*Object{a, b}
	if _, ok := seen[pair]; ok {
		return true
	}
	seen[pair] = struct{}{}

	if a.Class != b.Class || a.coll != b.coll {
		return false
	}
	if len(a.props) != len(b.props) {
		return false
	}
	for i := range a.props {
		pa, pb := a.props[i], b.props[i]
		if pa.Name != pb.Name || pa.Dynamic != pb.Dynamic {
			return false
		}
		if !equal(pa.Value, pb.Value, seen) {
			return false
		}
	}
	return entriesEqual(a.items, b.items, seen)
}

func entriesEqual(a, b []Entry, seen map[[2]*Object]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equal(a[i].Key, b[i].Key, seen) || !equal(a[i].Value, b[i].Value, seen) {
			return false
		}
	}
	return true
}

// doubleEqual treats NaN as equal to NaN so recorded NaNs verify.
func doubleEqual(a, b float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	return a == b
}
