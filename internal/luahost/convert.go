package luahost

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/Shopify/go-lua"

	"nativereplay/internal/value"
)

// maxDepth bounds table nesting when converting to values.
const maxDepth = 64

var collectionTypes = map[string]value.CollectionType{
	"Vector":    value.Vector,
	"Map":       value.Map,
	"Set":       value.Set,
	"ImmVector": value.ImmVector,
	"ImmMap":    value.ImmMap,
	"ImmSet":    value.ImmSet,
	"Pair":      value.Pair,
}

func (h *Host) registerTypes() {
	l := h.l

	lua.NewMetaTable(l, objectType)
	lua.SetFunctions(l, []lua.RegistryFunction{
		{Name: "__index", Function: h.objectIndex},
		{Name: "__newindex", Function: objectNewIndex},
		{Name: "__len", Function: objectLen},
		{Name: "__tostring", Function: tostring},
	}, 0)
	l.Pop(1)

	lua.NewMetaTable(l, arrayType)
	lua.SetFunctions(l, []lua.RegistryFunction{
		{Name: "__index", Function: h.arrayIndex},
		{Name: "__len", Function: arrayLen},
		{Name: "__tostring", Function: tostring},
	}, 0)
	l.Pop(1)

	lua.NewMetaTable(l, resourceType)
	lua.SetFunctions(l, []lua.RegistryFunction{
		{Name: "__index", Function: resourceIndex},
		{Name: "__tostring", Function: tostring},
	}, 0)
	l.Pop(1)

	lua.NewMetaTable(l, handleType)
	l.NewTable()
	lua.SetFunctions(l, []lua.RegistryFunction{{Name: "join", Function: h.join}}, 0)
	l.SetField(-2, "__index")
	l.Pop(1)

	l.NewTable()
	lua.SetFunctions(l, []lua.RegistryFunction{
		{Name: "object", Function: h.newObject},
		{Name: "collection", Function: h.newCollection},
		{Name: "resource", Function: h.newResource},
		{Name: "class", Function: className},
	}, 0)
	l.SetGlobal("native")
}

// push converts v to its Lua form. Arrays, objects and resources stay Go
// values behind userdata so they round-trip unchanged.
func (h *Host) push(l *lua.State, v value.Value) {
	switch t := value.OrNull(v).(type) {
	case value.Bool:
		l.PushBoolean(bool(t))
	case value.Int:
		l.PushInteger(int(t))
	case value.Double:
		l.PushNumber(float64(t))
	case value.String:
		l.PushString(string(t))
	case value.Array:
		l.PushUserData(t)
		lua.SetMetaTableNamed(l, arrayType)
	case *value.Object:
		l.PushUserData(t)
		lua.SetMetaTableNamed(l, objectType)
	case *value.Resource:
		l.PushUserData(t)
		lua.SetMetaTableNamed(l, resourceType)
	default:
		l.PushNil()
	}
}

func toValue(l *lua.State, index int) (value.Value, error) {
	return convert(l, index, 0)
}

func convert(l *lua.State, index, depth int) (value.Value, error) {
	switch l.TypeOf(index) {
	case lua.TypeNil, lua.TypeNone:
		return value.Null{}, nil
	case lua.TypeBoolean:
		return value.Bool(l.ToBoolean(index)), nil
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		return number(n), nil
	case lua.TypeString:
		s, _ := l.ToString(index)
		return value.String(s), nil
	case lua.TypeUserData:
		switch u := l.ToUserData(index).(type) {
		case value.Array:
			return u, nil
		case *value.Object:
			return u, nil
		case *value.Resource:
			return u, nil
		}
		return nil, errors.New("userdata is not a value")
	case lua.TypeTable:
		if depth >= maxDepth {
			return nil, fmt.Errorf("table nested deeper than %d", maxDepth)
		}
		return table(l, index, depth)
	default:
		return nil, errors.New("value of unsupported Lua type")
	}
}

// number maps integral floats to Int, the way interpreted code sees them.
func number(n float64) value.Value {
	if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
		return value.Int(int64(n))
	}
	return value.Double(n)
}

// table converts a Lua table to an array. A table with keys 1..n becomes a
// vec keyed from 0; anything else becomes a dict with integer keys first,
// then string keys, each ascending.
func table(l *lua.State, index, depth int) (value.Value, error) {
	index = l.AbsIndex(index)
	var ints, strs []value.Entry
	l.PushNil()
	for l.Next(index) {
		var key value.Value
		switch l.TypeOf(-2) {
		case lua.TypeNumber:
			n, _ := l.ToNumber(-2)
			key = number(n)
			if _, ok := key.(value.Int); !ok {
				l.Pop(2)
				return nil, fmt.Errorf("non-integer table key %v", n)
			}
		case lua.TypeString:
			s, _ := l.ToString(-2)
			key = value.String(s)
		default:
			l.Pop(2)
			return nil, errors.New("table key must be a number or string")
		}
		v, err := convert(l, -1, depth+1)
		if err != nil {
			l.Pop(2)
			return nil, err
		}
		if _, ok := key.(value.Int); ok {
			ints = append(ints, value.Entry{Key: key, Value: v})
		} else {
			strs = append(strs, value.Entry{Key: key, Value: v})
		}
		l.Pop(1)
	}

	sort.Slice(ints, func(i, j int) bool { return ints[i].Key.(value.Int) < ints[j].Key.(value.Int) })
	sort.Slice(strs, func(i, j int) bool { return strs[i].Key.(value.String) < strs[j].Key.(value.String) })

	if len(strs) == 0 && isSequence(ints) {
		vals := make([]value.Value, len(ints))
		for i, e := range ints {
			vals[i] = e.Value
		}
		return value.NewVec(vals...), nil
	}
	return value.NewDict(append(ints, strs...)...), nil
}

func isSequence(sorted []value.Entry) bool {
	for i, e := range sorted {
		if e.Key.(value.Int) != value.Int(i+1) {
			return false
		}
	}
	return true
}

// display renders v the way print shows it.
func display(v value.Value) string {
	switch t := value.OrNull(v).(type) {
	case value.Null:
		return "nil"
	case value.String:
		return string(t)
	case value.Double:
		return strconv.FormatFloat(float64(t), 'g', 14, 64)
	default:
		return value.Format(v)
	}
}

func checkObject(l *lua.State, index int) *value.Object {
	obj, _ := lua.CheckUserData(l, index, objectType).(*value.Object)
	if obj == nil {
		lua.ArgumentError(l, index, "object expected")
	}
	return obj
}

func (h *Host) objectIndex(l *lua.State) int {
	obj := checkObject(l, 1)
	key, err := toValue(l, 2)
	if err != nil {
		l.PushNil()
		return 1
	}
	var (
		v  value.Value
		ok bool
	)
	if obj.IsCollection() {
		v, ok = obj.At(key)
	} else if name, isStr := key.(value.String); isStr {
		v, ok = obj.Prop(string(name))
	}
	if !ok {
		l.PushNil()
		return 1
	}
	h.push(l, v)
	return 1
}

func objectNewIndex(l *lua.State) int {
	obj := checkObject(l, 1)
	key, err := toValue(l, 2)
	if err != nil {
		lua.ArgumentError(l, 2, err.Error())
		return 0
	}
	v, err := toValue(l, 3)
	if err != nil {
		lua.ArgumentError(l, 3, err.Error())
		return 0
	}

	switch obj.CollectionType() {
	case value.NotCollection:
		name, ok := key.(value.String)
		if !ok {
			lua.ArgumentError(l, 2, "property name must be a string")
			return 0
		}
		obj.SetProp(string(name), v)
	case value.Vector:
		if i, ok := key.(value.Int); ok && int(i) == obj.Len() {
			err = obj.Append(v)
		} else {
			err = obj.Set(key, v)
		}
	default:
		err = obj.Set(key, v)
	}
	if err != nil {
		lua.Errorf(l, "%s", err.Error())
	}
	return 0
}

func objectLen(l *lua.State) int {
	obj := checkObject(l, 1)
	if obj.IsCollection() {
		l.PushInteger(obj.Len())
	} else {
		l.PushInteger(len(obj.Props()))
	}
	return 1
}

func (h *Host) arrayIndex(l *lua.State) int {
	a, _ := lua.CheckUserData(l, 1, arrayType).(value.Array)
	key, err := toValue(l, 2)
	if err != nil {
		l.PushNil()
		return 1
	}
	v, ok := a.Get(key)
	if !ok {
		l.PushNil()
		return 1
	}
	h.push(l, v)
	return 1
}

func arrayLen(l *lua.State) int {
	a, _ := lua.CheckUserData(l, 1, arrayType).(value.Array)
	l.PushInteger(a.Len())
	return 1
}

func resourceIndex(l *lua.State) int {
	r, _ := lua.CheckUserData(l, 1, resourceType).(*value.Resource)
	switch lua.CheckString(l, 2) {
	case "type":
		l.PushString(r.Type)
	case "id":
		l.PushInteger(int(r.ID))
	default:
		l.PushNil()
	}
	return 1
}

func tostring(l *lua.State) int {
	v, err := toValue(l, 1)
	if err != nil {
		l.PushString("<value>")
		return 1
	}
	l.PushString(value.Format(v))
	return 1
}

// newObject is native.object(class [, props]). Props are declared in name
// order.
func (h *Host) newObject(l *lua.State) int {
	obj := value.NewObject(lua.CheckString(l, 1))
	if !l.IsNoneOrNil(2) {
		props, err := toValue(l, 2)
		a, ok := props.(value.Array)
		if err != nil || !ok {
			lua.ArgumentError(l, 2, "props table expected")
			return 0
		}
		for _, e := range a.Entries() {
			name, ok := e.Key.(value.String)
			if !ok {
				lua.ArgumentError(l, 2, "property names must be strings")
				return 0
			}
			obj.Declare(string(name), e.Value)
		}
	}
	h.push(l, obj)
	return 1
}

// newCollection is native.collection(type [, items]).
func (h *Host) newCollection(l *lua.State) int {
	name := lua.CheckString(l, 1)
	ct, ok := collectionTypes[name]
	if !ok {
		lua.ArgumentError(l, 1, "unknown collection type "+name)
		return 0
	}
	var entries []value.Entry
	if !l.IsNoneOrNil(2) {
		items, err := toValue(l, 2)
		a, ok := items.(value.Array)
		if err != nil || !ok {
			lua.ArgumentError(l, 2, "items table expected")
			return 0
		}
		for i, e := range a.Entries() {
			switch ct {
			case value.Map, value.ImmMap:
				entries = append(entries, e)
			case value.Set, value.ImmSet:
				entries = append(entries, value.Entry{Key: e.Value, Value: e.Value})
			default:
				entries = append(entries, value.Entry{Key: value.Int(int64(i)), Value: e.Value})
			}
		}
	}
	h.push(l, value.NewCollection(ct, entries...))
	return 1
}

// newResource is native.resource(type, id).
func (h *Host) newResource(l *lua.State) int {
	h.push(l, &value.Resource{Type: lua.CheckString(l, 1), ID: int64(lua.CheckInteger(l, 2))})
	return 1
}

func className(l *lua.State) int {
	l.PushString(checkObject(l, 1).Class)
	return 1
}
