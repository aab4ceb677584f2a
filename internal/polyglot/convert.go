package polyglot

import (
	"fmt"
)

// Convert turns a guest value into its host representation. The first rule
// that matches the value's kind wins:
//
//	null, executable   -> nil
//	string             -> string
//	numeric            -> int32, int64, float32 or float64 (narrowest exact fit)
//	opaque             -> the wrapped Go value
//	hash-like          -> *Map, keys forced to string
//	member-bearing     -> *Map keyed by member name
//	anything else      -> the adapter's Export
//
// Convert never mutates v
func Convert(v Value) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch v.Kind() {
	case KindNull, KindExecutable:
		return nil, nil

	case KindString:
		return v.AsString(), nil

	case KindNumeric:
		if n, ok := v.AsNumber(); ok {
			return n.Narrow(), nil
		}
		return export(v)

	case KindOpaque:
		return v.AsOpaque(), nil

	case KindHashLike:
		entries, err := v.Entries()
		if err != nil {
			return nil, fmt.Errorf("reading entries: %w", err)
		}
		m := NewMap()
		for _, e := range entries {
			k, err := Convert(e.Key)
			if err != nil {
				return nil, fmt.Errorf("converting key: %w", err)
			}
			key := keyString(k)
			val, err := Convert(e.Value)
			if err != nil {
				return nil, fmt.Errorf("converting %q: %w", key, err)
			}
			m.Set(key, val)
		}
		return m, nil

	case KindMemberBearing:
		m := NewMap()
		for _, name := range v.MemberKeys() {
			member, ok := v.Member(name)
			if !ok {
				m.Set(name, nil)
				continue
			}
			val, err := Convert(member)
			if err != nil {
				return nil, fmt.Errorf("converting member %q: %w", name, err)
			}
			m.Set(name, val)
		}
		return m, nil
	}

	return export(v)
}

func export(v Value) (any, error) {
	if elems, ok := v.Elements(); ok {
		out := make([]any, 0, len(elems))
		for i, e := range elems {
			val, err := Convert(e)
			if err != nil {
				return nil, fmt.Errorf("converting element %d: %w", i, err)
			}
			out = append(out, val)
		}
		return out, nil
	}

	out, err := v.Export()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
	}
	return out, nil
}

func keyString(k any) string {
	switch k := k.(type) {
	case string:
		return k
	case nil:
		return "null"
	default:
		return fmt.Sprint(k)
	}
}
