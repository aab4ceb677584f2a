package starlark

import (
	"context"
	"fmt"
	"math/big"

	"go.starlark.net/starlark"

	"github.com/mpataki/polyrun/internal/polyglot"
)

type value struct {
	sc *scope
	v  starlark.Value
}

func (sc *scope) wrap(v starlark.Value) polyglot.Value {
	if v == nil {
		v = starlark.None
	}
	return value{sc: sc, v: v}
}

func (v value) Kind() polyglot.Kind {
	switch v.v.(type) {
	case starlark.NoneType:
		return polyglot.KindNull
	case starlark.String:
		return polyglot.KindString
	case starlark.Int, starlark.Float:
		return polyglot.KindNumeric
	case *opaque, *hostModule:
		return polyglot.KindOpaque
	case starlark.Callable:
		return polyglot.KindExecutable
	case starlark.IterableMapping:
		return polyglot.KindHashLike
	case starlark.Bool, starlark.Bytes, starlark.Indexable, *starlark.Set:
		return polyglot.KindFallback
	case starlark.HasAttrs:
		return polyglot.KindMemberBearing
	}
	return polyglot.KindFallback
}

func (v value) AsString() string {
	if s, ok := starlark.AsString(v.v); ok {
		return s
	}
	return v.v.String()
}

func (v value) AsNumber() (polyglot.Number, bool) {
	switch n := v.v.(type) {
	case starlark.Int:
		if i, ok := n.Int64(); ok {
			return polyglot.Number{Int: i, IsInt: true}, true
		}
	case starlark.Float:
		return polyglot.Number{Float: float64(n)}, true
	}
	return polyglot.Number{}, false
}

func (v value) AsOpaque() any {
	switch x := v.v.(type) {
	case *opaque:
		return x.v
	case *hostModule:
		return x.obj
	}
	return nil
}

func (v value) Entries() ([]polyglot.Entry, error) {
	m, ok := v.v.(starlark.IterableMapping)
	if !ok {
		return nil, fmt.Errorf("%s is not a mapping", v.v.Type())
	}
	items := m.Items()
	out := make([]polyglot.Entry, len(items))
	for i, kv := range items {
		out[i] = polyglot.Entry{Key: v.sc.wrap(kv[0]), Value: v.sc.wrap(kv[1])}
	}
	return out, nil
}

func (v value) MemberKeys() []string {
	switch x := v.v.(type) {
	case starlark.IterableMapping:
		items := x.Items()
		keys := make([]string, 0, len(items))
		for _, kv := range items {
			if s, ok := starlark.AsString(kv[0]); ok {
				keys = append(keys, s)
			}
		}
		return keys
	case starlark.HasAttrs:
		return x.AttrNames()
	}
	return nil
}

func (v value) Member(name string) (polyglot.Value, bool) {
	switch x := v.v.(type) {
	case starlark.IterableMapping:
		m, found, err := x.Get(starlark.String(name))
		if err != nil || !found {
			return nil, false
		}
		return v.sc.wrap(m), true
	case starlark.HasAttrs:
		m, err := x.Attr(name)
		if err != nil || m == nil {
			return nil, false
		}
		return v.sc.wrap(m), true
	}
	return nil, false
}

func (v value) Elements() ([]polyglot.Value, bool) {
	switch x := v.v.(type) {
	case starlark.String, starlark.Bytes:
		return nil, false
	case starlark.Indexable:
		out := make([]polyglot.Value, x.Len())
		for i := range out {
			out[i] = v.sc.wrap(x.Index(i))
		}
		return out, true
	case *starlark.Set:
		out := make([]polyglot.Value, 0, x.Len())
		iter := x.Iterate()
		defer iter.Done()
		var e starlark.Value
		for iter.Next(&e) {
			out = append(out, v.sc.wrap(e))
		}
		return out, true
	}
	return nil, false
}

func (v value) Call(ctx context.Context) (polyglot.Value, error) {
	if _, ok := v.v.(starlark.Callable); !ok {
		return nil, fmt.Errorf("%w: %s is not callable", polyglot.ErrTypeMismatch, v.v.Type())
	}
	thread := v.sc.newThread("call")
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
	defer stop()

	out, err := starlark.Call(thread, v.v, nil, nil)
	if err != nil {
		return nil, v.sc.evalError(ctx, polyglot.Source{Language: ID}, err)
	}
	return v.sc.wrap(out), nil
}

func (v value) Export() (any, error) {
	switch x := v.v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.Int:
		return x.BigInt(), nil
	case starlark.Bytes:
		return []byte(x), nil
	}
	return nil, fmt.Errorf("no host shape for starlark %s", v.v.Type())
}

// toStarlark maps a host value into the interpreter
func (sc *scope) toStarlark(v any) starlark.Value {
	switch x := v.(type) {
	case nil:
		return starlark.None
	case value:
		if x.sc == sc {
			return x.v
		}
		host, err := polyglot.Convert(x)
		if err != nil {
			return starlark.None
		}
		return sc.toStarlark(host)
	case polyglot.Value:
		host, err := polyglot.Convert(x)
		if err != nil {
			return starlark.None
		}
		return sc.toStarlark(host)
	case starlark.Value:
		return x
	case bool:
		return starlark.Bool(x)
	case string:
		return starlark.String(x)
	case int:
		return starlark.MakeInt(x)
	case int32:
		return starlark.MakeInt64(int64(x))
	case int64:
		return starlark.MakeInt64(x)
	case float32:
		return starlark.Float(x)
	case float64:
		return starlark.Float(x)
	case *big.Int:
		return starlark.MakeBigInt(x)
	case *polyglot.Map:
		d := starlark.NewDict(x.Len())
		x.Range(func(k string, val any) bool {
			_ = d.SetKey(starlark.String(k), sc.toStarlark(val))
			return true
		})
		return d
	case map[string]any:
		return sc.toStarlark(polyglot.MapFromStd(x))
	case []any:
		elems := make([]starlark.Value, len(x))
		for i, e := range x {
			elems[i] = sc.toStarlark(e)
		}
		return starlark.NewList(elems)
	case *polyglot.HostObject:
		if m, ok := sc.hostModules[x]; ok {
			return m
		}
		m := &hostModule{obj: x, fns: make(map[string]*starlark.Builtin, len(x.Methods))}
		for name, fn := range x.Methods {
			m.fns[name] = starlark.NewBuiltin(name, sc.hostFunc(fn))
		}
		sc.hostModules[x] = m
		return m
	case polyglot.HostFunc:
		return starlark.NewBuiltin("host", sc.hostFunc(x))
	}
	return &opaque{v: v}
}

func (sc *scope) hostFunc(fn polyglot.HostFunc) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(kwargs) > 0 {
			return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
		}
		in := make([]any, len(args))
		for i, a := range args {
			arg, err := polyglot.Convert(sc.wrap(a))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			in[i] = arg
		}
		out, err := fn(in)
		if err != nil {
			return nil, err
		}
		return sc.toStarlark(out), nil
	}
}

// opaque carries a host value through guest code untouched
type opaque struct {
	v any
}

func (o *opaque) String() string        { return fmt.Sprint(o.v) }
func (o *opaque) Type() string          { return "host_value" }
func (o *opaque) Freeze()               {}
func (o *opaque) Truth() starlark.Bool  { return starlark.True }
func (o *opaque) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: %s", o.Type()) }

// hostModule exposes a host object's methods as attributes
type hostModule struct {
	obj *polyglot.HostObject
	fns map[string]*starlark.Builtin
}

func (m *hostModule) String() string        { return m.obj.String() }
func (m *hostModule) Type() string          { return "host_type" }
func (m *hostModule) Freeze()               {}
func (m *hostModule) Truth() starlark.Bool  { return starlark.True }
func (m *hostModule) Hash() (uint32, error) { return starlark.String(m.obj.Name).Hash() }

func (m *hostModule) Attr(name string) (starlark.Value, error) {
	fn, ok := m.fns[name]
	if !ok {
		return nil, nil
	}
	return fn, nil
}

func (m *hostModule) AttrNames() []string { return m.obj.MethodNames() }
