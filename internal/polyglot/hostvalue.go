package polyglot

import (
	"context"
	"fmt"
	"math/big"
	"reflect"
	"slices"
)

// HostValue wraps a host value in the Value interface. Adapters use it for
// values that never entered a guest engine, and the shared polyglot scope
// uses it to hand values across languages
func HostValue(v any) Value {
	return hostValue{v: v}
}

type hostValue struct {
	v any
}

func (h hostValue) Kind() Kind {
	switch v := h.v.(type) {
	case nil:
		return KindNull
	case HostFunc, func(args []any) (any, error):
		return KindExecutable
	case string:
		return KindString
	case int, int8, int16, int32, int64, uint8, uint16, uint32, float32, float64, *big.Int:
		return KindNumeric
	case uint, uint64:
		return KindNumeric
	case *Map, map[string]any:
		return KindHashLike
	case []any, bool:
		return KindFallback
	case Value:
		return v.Kind()
	}
	if rv := reflect.ValueOf(h.v); rv.Kind() == reflect.Slice {
		return KindFallback
	}
	return KindOpaque
}

func (h hostValue) AsString() string {
	if s, ok := h.v.(string); ok {
		return s
	}
	return fmt.Sprint(h.v)
}

func (h hostValue) AsNumber() (Number, bool) {
	switch v := h.v.(type) {
	case int:
		return Number{Int: int64(v), IsInt: true}, true
	case int8:
		return Number{Int: int64(v), IsInt: true}, true
	case int16:
		return Number{Int: int64(v), IsInt: true}, true
	case int32:
		return Number{Int: int64(v), IsInt: true}, true
	case int64:
		return Number{Int: v, IsInt: true}, true
	case uint8:
		return Number{Int: int64(v), IsInt: true}, true
	case uint16:
		return Number{Int: int64(v), IsInt: true}, true
	case uint32:
		return Number{Int: int64(v), IsInt: true}, true
	case uint:
		if uint64(v) <= 1<<63-1 {
			return Number{Int: int64(v), IsInt: true}, true
		}
	case uint64:
		if v <= 1<<63-1 {
			return Number{Int: int64(v), IsInt: true}, true
		}
	case float32:
		return Number{Float: float64(v)}, true
	case float64:
		return Number{Float: v}, true
	case *big.Int:
		if v.IsInt64() {
			return Number{Int: v.Int64(), IsInt: true}, true
		}
	case Value:
		return v.AsNumber()
	}
	return Number{}, false
}

func (h hostValue) AsOpaque() any {
	return h.v
}

func (h hostValue) Entries() ([]Entry, error) {
	switch v := h.v.(type) {
	case *Map:
		out := make([]Entry, 0, v.Len())
		v.Range(func(k string, val any) bool {
			out = append(out, Entry{Key: HostValue(k), Value: HostValue(val)})
			return true
		})
		return out, nil
	case map[string]any:
		return HostValue(MapFromStd(v)).Entries()
	case Value:
		return v.Entries()
	}
	return nil, fmt.Errorf("%T has no entries", h.v)
}

func (h hostValue) MemberKeys() []string {
	switch v := h.v.(type) {
	case *Map:
		return v.Keys()
	case Value:
		return v.MemberKeys()
	}
	return nil
}

func (h hostValue) Member(name string) (Value, bool) {
	switch v := h.v.(type) {
	case *Map:
		val, ok := v.Get(name)
		if !ok {
			return nil, false
		}
		return HostValue(val), true
	case map[string]any:
		val, ok := v[name]
		if !ok {
			return nil, false
		}
		return HostValue(val), true
	case Value:
		return v.Member(name)
	}
	return nil, false
}

func (h hostValue) Elements() ([]Value, bool) {
	switch v := h.v.(type) {
	case []any:
		out := make([]Value, len(v))
		for i, e := range v {
			out[i] = HostValue(e)
		}
		return out, true
	case Value:
		return v.Elements()
	}
	rv := reflect.ValueOf(h.v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]Value, rv.Len())
	for i := range out {
		out[i] = HostValue(rv.Index(i).Interface())
	}
	return out, true
}

func (h hostValue) Call(ctx context.Context) (Value, error) {
	switch f := h.v.(type) {
	case HostFunc:
		out, err := f(nil)
		return HostValue(out), err
	case func(args []any) (any, error):
		out, err := f(nil)
		return HostValue(out), err
	case Value:
		return f.Call(ctx)
	}
	return nil, fmt.Errorf("%w: %T is not callable", ErrTypeMismatch, h.v)
}

func (h hostValue) Export() (any, error) {
	switch v := h.v.(type) {
	case bool:
		return v, nil
	case []byte:
		return string(v), nil
	case *big.Int:
		return v.String(), nil
	case Value:
		return v.Export()
	}
	return h.v, nil
}

// MapFromStd builds a Map from a Go map with keys in sorted order
func MapFromStd(in map[string]any) *Map {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	m := NewMap()
	for _, k := range keys {
		v := in[k]
		if nested, ok := v.(map[string]any); ok {
			v = MapFromStd(nested)
		}
		m.Set(k, v)
	}
	return m
}
