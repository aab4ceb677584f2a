package lua

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/mpataki/polyrun/internal/polyglot"
)

const opaqueTypeName = "polyrun.host"

type scope struct {
	session *polyglot.Session
	L       *lua.LState

	// host tables handed to the guest, so they convert back unchanged
	hosts      map[*lua.LTable]*polyglot.HostObject
	hostTables map[*polyglot.HostObject]*lua.LTable
	opaqueMeta *lua.LTable

	mu     sync.Mutex
	denied error
}

// newScope creates a Lua state with the sandbox libraries and host API
func newScope(s *polyglot.Session) *scope {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	sc := &scope{
		session:    s,
		L:          L,
		hosts:      make(map[*lua.LTable]*polyglot.HostObject),
		hostTables: make(map[*polyglot.HostObject]*lua.LTable),
	}

	sc.openLibs()
	sc.registerAPI()
	return sc
}

// openLibs loads the standard libraries the policy allows
func (sc *scope) openLibs() {
	L := sc.L
	p := sc.session.Policy()

	lua.OpenPackage(L)
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	if p.AllowIO {
		lua.OpenIo(L)
		lua.OpenOs(L)
	}
	if p.AllowCreateThread {
		lua.OpenCoroutine(L)
	}
	L.Pop(L.GetTop())

	// Guest modules resolve from the module search path only
	pkg := L.GetGlobal("package")
	if tbl, ok := pkg.(*lua.LTable); ok {
		path := ""
		if p.ModulePath != "" {
			path = filepath.Join(p.ModulePath, "?.lua")
		}
		L.SetField(tbl, "path", lua.LString(path))
	}

	sc.opaqueMeta = L.NewTypeMetatable(opaqueTypeName)
	L.SetField(sc.opaqueMeta, "__tostring", L.NewFunction(func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		L.Push(lua.LString(fmt.Sprint(ud.Value)))
		return 1
	}))
}

// registerAPI registers print, warn, host, polyglot and fs
func (sc *scope) registerAPI() {
	L := sc.L
	s := sc.session

	L.SetGlobal("print", L.NewFunction(sc.luaPrint))
	L.SetGlobal("warn", L.NewFunction(sc.luaWarn))
	if io, ok := L.GetGlobal("io").(*lua.LTable); ok {
		L.SetField(io, "write", L.NewFunction(sc.luaWrite))
	}

	host := L.NewTable()
	L.SetField(host, "type", L.NewFunction(sc.luaHostType))
	L.SetGlobal("host", host)

	if s.Policy().AllowPolyglot {
		pg := L.NewTable()
		L.SetField(pg, "export", L.NewFunction(func(L *lua.LState) int {
			name := L.CheckString(1)
			v, err := polyglot.Convert(sc.wrap(L.Get(2)))
			if err != nil {
				L.RaiseError("polyglot.export: %v", err)
				return 0
			}
			s.Shared().Store(name, v)
			return 0
		}))
		L.SetField(pg, "import", L.NewFunction(func(L *lua.LState) int {
			v, ok := s.Shared().Load(L.CheckString(1))
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(sc.toLua(v))
			return 1
		}))
		L.SetGlobal("polyglot", pg)
	}

	if s.Policy().AllowIO {
		L.SetGlobal("fs", sc.toLua(s.FS()))
	}
}

// luaPrint implements print(...) on the session output
func (sc *scope) luaPrint(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, n)
	for i := 1; i <= n; i++ {
		parts[i-1] = L.ToStringMeta(L.Get(i)).String()
	}
	fmt.Fprintln(sc.session.Stdout(), strings.Join(parts, "\t"))
	return 0
}

// luaWarn implements warn(...), which Lua 5.4 writes to stderr
func (sc *scope) luaWarn(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, n)
	for i := 1; i <= n; i++ {
		parts[i-1] = L.ToStringMeta(L.Get(i)).String()
	}
	fmt.Fprintln(sc.session.Stderr(), strings.Join(parts, "\t"))
	return 0
}

// luaWrite implements io.write(...) without a trailing newline
func (sc *scope) luaWrite(L *lua.LState) int {
	n := L.GetTop()
	for i := 1; i <= n; i++ {
		fmt.Fprint(sc.session.Stdout(), L.ToStringMeta(L.Get(i)).String())
	}
	return 0
}

// luaHostType implements host.type(name)
func (sc *scope) luaHostType(L *lua.LState) int {
	name := L.CheckString(1)
	t, err := sc.session.LookupHostType(name)
	if err != nil {
		if errors.Is(err, polyglot.ErrPermissionDenied) {
			sc.setDenied(err)
		}
		L.RaiseError("%v", err)
		return 0
	}
	L.Push(sc.toLua(t))
	return 1
}

func (sc *scope) Bindings() polyglot.Bindings { return bindings{sc} }

// Eval runs the program's chunk and returns its first return value
func (sc *scope) Eval(ctx context.Context, p polyglot.Program) (polyglot.Value, error) {
	prog, ok := p.(*program)
	if !ok {
		return nil, fmt.Errorf("lua: cannot evaluate %s program", p.Source().Language)
	}

	sc.setDenied(nil)
	L := sc.L
	L.SetContext(ctx)
	defer L.RemoveContext()

	L.Push(L.NewFunctionFromProto(prog.proto))
	if err := L.PCall(0, 1, nil); err != nil {
		return nil, sc.evalError(ctx, prog.src, err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	return sc.wrap(ret), nil
}

func (sc *scope) Close() {
	sc.L.Close()
}

func (sc *scope) setDenied(err error) {
	sc.mu.Lock()
	sc.denied = err
	sc.mu.Unlock()
}

func (sc *scope) evalError(ctx context.Context, src polyglot.Source, err error) error {
	e := &polyglot.EvalError{Language: ID, Source: src.Name, Message: err.Error(), Err: err}

	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		if apiErr.Object != nil {
			e.Message = apiErr.Object.String()
		}
		e.Stack = apiErr.StackTrace
		if apiErr.Cause != nil {
			e.Err = apiErr.Cause
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		e.Err = ctxErr
	}

	sc.mu.Lock()
	if sc.denied != nil {
		e.Err = sc.denied
	}
	sc.mu.Unlock()
	return e
}

type bindings struct {
	sc *scope
}

func (b bindings) Put(name string, v any) error {
	b.sc.L.SetGlobal(name, b.sc.toLua(v))
	return nil
}

func (b bindings) Get(name string) (polyglot.Value, bool) {
	// Lua cannot tell a nil global from a missing one
	return b.sc.wrap(b.sc.L.G.Global.RawGetString(name)), true
}
