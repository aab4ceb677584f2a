package javascript

import (
	"context"
	"fmt"
	"math/big"
	"reflect"
	"strconv"

	"github.com/dop251/goja"

	"github.com/mpataki/polyrun/internal/polyglot"
)

var (
	typeStdMap   = reflect.TypeOf(map[string]any{})
	typeStdSlice = reflect.TypeOf([]any{})
)

type value struct {
	sc *scope
	v  goja.Value
}

func (sc *scope) wrap(v goja.Value) polyglot.Value {
	return value{sc: sc, v: v}
}

func (v value) object() (*goja.Object, bool) {
	obj, ok := v.v.(*goja.Object)
	return obj, ok
}

func (v value) Kind() polyglot.Kind {
	if v.v == nil || goja.IsUndefined(v.v) || goja.IsNull(v.v) {
		return polyglot.KindNull
	}

	obj, ok := v.object()
	if !ok {
		switch v.v.Export().(type) {
		case string:
			return polyglot.KindString
		case int64, float64, *big.Int:
			return polyglot.KindNumeric
		default:
			return polyglot.KindFallback
		}
	}

	if _, isFn := goja.AssertFunction(obj); isFn {
		return polyglot.KindExecutable
	}
	if _, isHost := v.sc.hosts[obj]; isHost {
		return polyglot.KindOpaque
	}

	switch {
	case v.isMap(obj):
		return polyglot.KindHashLike
	case obj.ClassName() == "Array", v.sc.test(v.sc.isSet, obj):
		return polyglot.KindFallback
	}

	switch obj.ExportType() {
	case typeStdMap:
		return polyglot.KindMemberBearing
	case typeStdSlice:
		return polyglot.KindFallback
	}
	return polyglot.KindOpaque
}

func (v value) isMap(obj *goja.Object) bool {
	return v.sc.test(v.sc.isMap, obj)
}

func (v value) AsString() string {
	return v.v.String()
}

func (v value) AsNumber() (polyglot.Number, bool) {
	switch n := v.v.Export().(type) {
	case int64:
		return polyglot.Number{Int: n, IsInt: true}, true
	case float64:
		return polyglot.Number{Float: n}, true
	case *big.Int:
		if n.IsInt64() {
			return polyglot.Number{Int: n.Int64(), IsInt: true}, true
		}
	}
	return polyglot.Number{}, false
}

func (v value) AsOpaque() any {
	if obj, ok := v.object(); ok {
		if h, ok := v.sc.hosts[obj]; ok {
			return h
		}
	}
	return v.v.Export()
}

func (v value) Entries() ([]polyglot.Entry, error) {
	obj, ok := v.object()
	if !ok || !v.isMap(obj) {
		return nil, fmt.Errorf("%s is not a Map", v.v.String())
	}
	pairs, err := v.sc.mapEntries(goja.Undefined(), obj)
	if err != nil {
		return nil, err
	}
	elems := v.sc.elements(pairs.ToObject(v.sc.vm))
	out := make([]polyglot.Entry, 0, len(elems))
	for _, pair := range elems {
		p := pair.ToObject(v.sc.vm)
		out = append(out, polyglot.Entry{
			Key:   v.sc.wrap(p.Get("0")),
			Value: v.sc.wrap(p.Get("1")),
		})
	}
	return out, nil
}

func (v value) MemberKeys() []string {
	obj, ok := v.object()
	if !ok {
		return nil
	}
	return obj.Keys()
}

func (v value) Member(name string) (polyglot.Value, bool) {
	obj, ok := v.object()
	if !ok {
		return nil, false
	}
	if v.isMap(obj) {
		entries, err := v.Entries()
		if err != nil {
			return nil, false
		}
		for _, e := range entries {
			if e.Key.Kind() == polyglot.KindString && e.Key.AsString() == name {
				return e.Value, true
			}
		}
		return nil, false
	}
	m := obj.Get(name)
	if m == nil {
		return nil, false
	}
	return v.sc.wrap(m), true
}

func (v value) Elements() ([]polyglot.Value, bool) {
	obj, ok := v.object()
	if !ok {
		return nil, false
	}
	if obj.ClassName() != "Array" && !v.sc.test(v.sc.isSet, obj) && obj.ExportType() != typeStdSlice {
		return nil, false
	}
	arr, err := v.sc.arrayFrom(goja.Undefined(), obj)
	if err != nil {
		return nil, false
	}
	elems := v.sc.elements(arr.ToObject(v.sc.vm))
	out := make([]polyglot.Value, len(elems))
	for i, e := range elems {
		out[i] = v.sc.wrap(e)
	}
	return out, true
}

func (sc *scope) elements(arr *goja.Object) []goja.Value {
	n := int(arr.Get("length").ToInteger())
	out := make([]goja.Value, n)
	for i := 0; i < n; i++ {
		out[i] = arr.Get(strconv.Itoa(i))
	}
	return out
}

func (v value) Call(ctx context.Context) (polyglot.Value, error) {
	fn, ok := goja.AssertFunction(v.v)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not callable", polyglot.ErrTypeMismatch, v.v.String())
	}
	v.sc.setDenied(nil)
	defer v.sc.interruptOn(ctx)()

	out, err := fn(goja.Undefined())
	if err != nil {
		return nil, v.sc.evalError(polyglot.Source{Language: ID}, err)
	}
	return v.sc.wrap(out), nil
}

func (v value) Export() (any, error) {
	switch x := v.v.Export().(type) {
	case bool:
		return x, nil
	case *big.Int:
		return x, nil
	case nil:
		return nil, nil
	}
	if _, ok := v.object(); ok {
		return v.v.Export(), nil
	}
	return nil, fmt.Errorf("no host shape for %s", v.v.String())
}

// toJS maps a host value into the runtime
func (sc *scope) toJS(v any) goja.Value {
	vm := sc.vm
	switch x := v.(type) {
	case nil:
		return goja.Null()
	case goja.Value:
		return x
	case value:
		if x.sc == sc {
			return x.v
		}
		host, err := polyglot.Convert(x)
		if err != nil {
			return goja.Undefined()
		}
		return sc.toJS(host)
	case polyglot.Value:
		host, err := polyglot.Convert(x)
		if err != nil {
			return goja.Undefined()
		}
		return sc.toJS(host)
	case *polyglot.Map:
		obj := vm.NewObject()
		x.Range(func(k string, val any) bool {
			_ = obj.Set(k, sc.toJS(val))
			return true
		})
		return obj
	case map[string]any:
		return sc.toJS(polyglot.MapFromStd(x))
	case []any:
		items := make([]any, len(x))
		for i, e := range x {
			items[i] = sc.toJS(e)
		}
		return vm.NewArray(items...)
	case *polyglot.HostObject:
		if obj, ok := sc.hostObjects[x]; ok {
			return obj
		}
		obj := vm.NewObject()
		for _, name := range x.MethodNames() {
			_ = obj.Set(name, sc.hostFunc(x.Methods[name]))
		}
		sc.hosts[obj] = x
		sc.hostObjects[x] = obj
		return obj
	case polyglot.HostFunc:
		return vm.ToValue(sc.hostFunc(x))
	}
	return vm.ToValue(v)
}

func (sc *scope) hostFunc(fn polyglot.HostFunc) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		args := make([]any, len(call.Arguments))
		for i, a := range call.Arguments {
			arg, err := polyglot.Convert(sc.wrap(a))
			if err != nil {
				panic(sc.vm.NewGoError(err))
			}
			args[i] = arg
		}
		out, err := fn(args)
		if err != nil {
			panic(sc.vm.NewGoError(err))
		}
		return sc.toJS(out)
	}
}
