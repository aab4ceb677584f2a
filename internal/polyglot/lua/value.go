package lua

import (
	"context"
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"

	"github.com/mpataki/polyrun/internal/polyglot"
)

type value struct {
	sc *scope
	v  lua.LValue
}

func (sc *scope) wrap(v lua.LValue) polyglot.Value {
	if v == nil {
		v = lua.LNil
	}
	return value{sc: sc, v: v}
}

func (v value) Kind() polyglot.Kind {
	switch x := v.v.(type) {
	case *lua.LNilType:
		return polyglot.KindNull
	case *lua.LFunction:
		return polyglot.KindExecutable
	case lua.LString:
		return polyglot.KindString
	case lua.LNumber:
		return polyglot.KindNumeric
	case *lua.LUserData:
		return polyglot.KindOpaque
	case *lua.LTable:
		if _, ok := v.sc.hosts[x]; ok {
			return polyglot.KindOpaque
		}
		if n := x.Len(); n > 0 && isSequence(x, n) {
			return polyglot.KindFallback
		}
		return polyglot.KindHashLike
	}
	return polyglot.KindFallback
}

// isSequence reports whether the table holds exactly the keys 1..n
func isSequence(t *lua.LTable, n int) bool {
	count := 0
	seq := true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		if num, ok := k.(lua.LNumber); !ok || float64(num) != math.Trunc(float64(num)) || int(num) < 1 || int(num) > n {
			seq = false
		}
	})
	return seq && count == n
}

func (v value) AsString() string {
	return v.v.String()
}

func (v value) AsNumber() (polyglot.Number, bool) {
	n, ok := v.v.(lua.LNumber)
	if !ok {
		return polyglot.Number{}, false
	}
	return polyglot.Number{Float: float64(n)}, true
}

func (v value) AsOpaque() any {
	switch x := v.v.(type) {
	case *lua.LUserData:
		return x.Value
	case *lua.LTable:
		if h, ok := v.sc.hosts[x]; ok {
			return h
		}
	}
	return nil
}

// Entries walks the table in insertion order
func (v value) Entries() ([]polyglot.Entry, error) {
	t, ok := v.v.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("%s is not a table", v.v.Type())
	}
	var out []polyglot.Entry
	for k, val := t.Next(lua.LNil); k != lua.LNil; k, val = t.Next(k) {
		out = append(out, polyglot.Entry{Key: v.sc.wrap(k), Value: v.sc.wrap(val)})
	}
	return out, nil
}

func (v value) MemberKeys() []string {
	entries, err := v.Entries()
	if err != nil {
		return nil
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key.AsString())
	}
	return keys
}

func (v value) Member(name string) (polyglot.Value, bool) {
	t, ok := v.v.(*lua.LTable)
	if !ok {
		return nil, false
	}
	m := t.RawGetString(name)
	if m == lua.LNil {
		return nil, false
	}
	return v.sc.wrap(m), true
}

func (v value) Elements() ([]polyglot.Value, bool) {
	t, ok := v.v.(*lua.LTable)
	if !ok {
		return nil, false
	}
	if _, isHost := v.sc.hosts[t]; isHost {
		return nil, false
	}
	n := t.Len()
	if !isSequence(t, n) {
		return nil, false
	}
	out := make([]polyglot.Value, n)
	for i := 1; i <= n; i++ {
		out[i-1] = v.sc.wrap(t.RawGetInt(i))
	}
	return out, true
}

func (v value) Call(ctx context.Context) (polyglot.Value, error) {
	fn, ok := v.v.(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not callable", polyglot.ErrTypeMismatch, v.v.Type())
	}
	v.sc.setDenied(nil)
	L := v.sc.L
	L.SetContext(ctx)
	defer L.RemoveContext()

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}); err != nil {
		return nil, v.sc.evalError(ctx, polyglot.Source{Language: ID}, err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	return v.sc.wrap(ret), nil
}

func (v value) Export() (any, error) {
	switch x := v.v.(type) {
	case lua.LBool:
		return bool(x), nil
	case *lua.LNilType:
		return nil, nil
	}
	return nil, fmt.Errorf("no host shape for lua %s", v.v.Type())
}

// toLua maps a host value into the state
func (sc *scope) toLua(v any) lua.LValue {
	L := sc.L
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return x
	case value:
		if x.sc == sc {
			return x.v
		}
		host, err := polyglot.Convert(x)
		if err != nil {
			return lua.LNil
		}
		return sc.toLua(host)
	case polyglot.Value:
		host, err := polyglot.Convert(x)
		if err != nil {
			return lua.LNil
		}
		return sc.toLua(host)
	case bool:
		return lua.LBool(x)
	case string:
		return lua.LString(x)
	case int:
		return lua.LNumber(x)
	case int32:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case float32:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case *polyglot.Map:
		tbl := L.NewTable()
		x.Range(func(k string, val any) bool {
			tbl.RawSetString(k, sc.toLua(val))
			return true
		})
		return tbl
	case map[string]any:
		return sc.toLua(polyglot.MapFromStd(x))
	case []any:
		tbl := L.CreateTable(len(x), 0)
		for _, item := range x {
			tbl.Append(sc.toLua(item))
		}
		return tbl
	case *polyglot.HostObject:
		if tbl, ok := sc.hostTables[x]; ok {
			return tbl
		}
		tbl := L.NewTable()
		for _, name := range x.MethodNames() {
			tbl.RawSetString(name, L.NewFunction(sc.hostFunc(tbl, x.Methods[name])))
		}
		sc.hosts[tbl] = x
		sc.hostTables[x] = tbl
		return tbl
	case polyglot.HostFunc:
		return L.NewFunction(sc.hostFunc(nil, x))
	}

	ud := L.NewUserData()
	ud.Value = v
	L.SetMetatable(ud, sc.opaqueMeta)
	return ud
}

// hostFunc adapts a host function; a leading self argument from
// method-call syntax is dropped
func (sc *scope) hostFunc(self *lua.LTable, fn polyglot.HostFunc) lua.LGFunction {
	return func(L *lua.LState) int {
		first := 1
		if self != nil && L.GetTop() >= 1 && L.Get(1) == self {
			first = 2
		}
		args := make([]any, 0, L.GetTop())
		for i := first; i <= L.GetTop(); i++ {
			arg, err := polyglot.Convert(sc.wrap(L.Get(i)))
			if err != nil {
				L.RaiseError("%v", err)
				return 0
			}
			args = append(args, arg)
		}
		out, err := fn(args)
		if err != nil {
			L.RaiseError("%v", err)
			return 0
		}
		L.Push(sc.toLua(out))
		return 1
	}
}
