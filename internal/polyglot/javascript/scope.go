package javascript

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/mpataki/polyrun/internal/polyglot"
)

const helpers = `(function() {
	return {
		from: function(x) { return Array.from(x); },
		entries: function(m) { return Array.from(m.entries()); },
		isMap: function(x) { return x instanceof Map; },
		isSet: function(x) { return x instanceof Set; }
	};
})()`

type scope struct {
	session *polyglot.Session
	vm      *goja.Runtime

	arrayFrom  goja.Callable
	mapEntries goja.Callable
	isMap      goja.Callable
	isSet      goja.Callable

	// host objects handed to the guest, so they convert back unchanged
	hosts       map[*goja.Object]any
	hostObjects map[*polyglot.HostObject]*goja.Object

	modules map[string]goja.Value

	mu     sync.Mutex
	denied error
}

func newScope(s *polyglot.Session) (*scope, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())
	vm.SetMaxCallStackSize(maxCallStackSize)

	sc := &scope{
		session:     s,
		vm:          vm,
		hosts:       make(map[*goja.Object]any),
		hostObjects: make(map[*polyglot.HostObject]*goja.Object),
		modules:     make(map[string]goja.Value),
	}

	h, err := vm.RunString(helpers)
	if err != nil {
		return nil, fmt.Errorf("installing helpers: %w", err)
	}
	obj := h.ToObject(vm)
	for name, dst := range map[string]*goja.Callable{
		"from":    &sc.arrayFrom,
		"entries": &sc.mapEntries,
		"isMap":   &sc.isMap,
		"isSet":   &sc.isSet,
	} {
		fn, ok := goja.AssertFunction(obj.Get(name))
		if !ok {
			return nil, fmt.Errorf("installing helpers: %s is not a function", name)
		}
		*dst = fn
	}

	if err := sc.installGlobals(); err != nil {
		return nil, err
	}
	return sc, nil
}

func (sc *scope) Bindings() polyglot.Bindings { return bindings{sc} }

func (sc *scope) Eval(ctx context.Context, p polyglot.Program) (polyglot.Value, error) {
	prog, ok := p.(*program)
	if !ok {
		return nil, fmt.Errorf("javascript: cannot evaluate %s program", p.Source().Language)
	}

	sc.setDenied(nil)

	defer sc.interruptOn(ctx)()

	v, err := sc.vm.RunProgram(prog.prog)
	if err != nil {
		return nil, sc.evalError(prog.src, err)
	}
	return sc.wrap(v), nil
}

// interruptOn stops the runtime when ctx is done until the returned func
// is called
func (sc *scope) interruptOn(ctx context.Context) func() {
	stop := context.AfterFunc(ctx, func() {
		sc.vm.Interrupt(ctx.Err())
	})
	return func() {
		stop()
		sc.vm.ClearInterrupt()
	}
}

func (sc *scope) Close() {
	sc.vm.Interrupt("scope closed")
}

func (sc *scope) setDenied(err error) {
	sc.mu.Lock()
	sc.denied = err
	sc.mu.Unlock()
}

func (sc *scope) evalError(src polyglot.Source, err error) error {
	e := &polyglot.EvalError{Language: ID, Source: src.Name, Err: err}

	var ex *goja.Exception
	var interrupted *goja.InterruptedError
	switch {
	case errors.As(err, &interrupted):
		e.Message = fmt.Sprintf("interrupted: %v", interrupted.Value())
		e.Stack = interrupted.String()
		if cause, ok := interrupted.Value().(error); ok {
			e.Err = cause
		}
	case errors.As(err, &ex):
		e.Message = ex.Value().String()
		e.Stack = ex.String()
	default:
		e.Message = err.Error()
	}

	sc.mu.Lock()
	if sc.denied != nil {
		e.Err = sc.denied
	}
	sc.mu.Unlock()
	return e
}

func (sc *scope) installGlobals() error {
	vm := sc.vm
	s := sc.session

	console := vm.NewObject()
	logTo := func(stderr bool) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = sc.format(a)
			}
			line := strings.Join(parts, " ") + "\n"
			if stderr {
				fmt.Fprint(s.Stderr(), line)
			} else {
				fmt.Fprint(s.Stdout(), line)
			}
			return goja.Undefined()
		}
	}
	for _, name := range []string{"log", "info", "debug", "trace"} {
		if err := console.Set(name, logTo(false)); err != nil {
			return err
		}
	}
	for _, name := range []string{"warn", "error"} {
		if err := console.Set(name, logTo(true)); err != nil {
			return err
		}
	}
	if err := vm.Set("console", console); err != nil {
		return err
	}

	host := vm.NewObject()
	if err := host.Set("type", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		t, err := s.LookupHostType(name)
		if err != nil {
			if errors.Is(err, polyglot.ErrPermissionDenied) {
				sc.setDenied(err)
			}
			panic(vm.NewGoError(err))
		}
		return sc.toJS(t)
	}); err != nil {
		return err
	}
	if err := vm.Set("Host", host); err != nil {
		return err
	}

	if s.Policy().AllowPolyglot {
		pg := vm.NewObject()
		if err := pg.Set("export", func(call goja.FunctionCall) goja.Value {
			name := call.Argument(0).String()
			v, err := polyglot.Convert(sc.wrap(call.Argument(1)))
			if err != nil {
				panic(vm.NewGoError(err))
			}
			s.Shared().Store(name, v)
			return goja.Undefined()
		}); err != nil {
			return err
		}
		if err := pg.Set("import", func(call goja.FunctionCall) goja.Value {
			v, ok := s.Shared().Load(call.Argument(0).String())
			if !ok {
				return goja.Undefined()
			}
			return sc.toJS(v)
		}); err != nil {
			return err
		}
		if err := vm.Set("Polyglot", pg); err != nil {
			return err
		}
	}

	if s.Policy().AllowIO {
		if err := vm.Set("fs", sc.toJS(s.FS())); err != nil {
			return err
		}
	}

	return vm.Set("require", sc.require)
}

// require loads <module path>/<name>.js as a CommonJS module
func (sc *scope) require(call goja.FunctionCall) goja.Value {
	vm := sc.vm
	name := strings.TrimSuffix(call.Argument(0).String(), ".js")
	if m, ok := sc.modules[name]; ok {
		return m
	}

	dir := sc.session.Policy().ModulePath
	if dir == "" || strings.Contains(name, "..") {
		panic(vm.NewGoError(fmt.Errorf("module %q not found", name)))
	}
	text, err := os.ReadFile(filepath.Join(dir, name+".js"))
	if err != nil {
		panic(vm.NewGoError(fmt.Errorf("module %q: %w", name, err)))
	}

	wrapped := "(function(module, exports) {\n" + string(text) + "\n})"
	fn, err := vm.RunScript(name+".js", wrapped)
	if err != nil {
		sc.throw(err)
	}
	fn2, ok := goja.AssertFunction(fn)
	if !ok {
		panic(vm.NewTypeError("module %q did not compile to a function", name))
	}

	module := vm.NewObject()
	exports := vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		panic(vm.NewGoError(err))
	}
	if _, err := fn2(goja.Undefined(), module, exports); err != nil {
		sc.throw(err)
	}
	out := module.Get("exports")
	sc.modules[name] = out
	return out
}

// test reports whether the helper check holds for obj. goja gives Map and
// Set instances the plain Object class, so ClassName cannot tell them apart
func (sc *scope) test(check goja.Callable, obj *goja.Object) bool {
	out, err := check(goja.Undefined(), obj)
	return err == nil && out.ToBoolean()
}

// throw rethrows err inside the guest. Only valid inside a native function
func (sc *scope) throw(err error) {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex)
	}
	panic(sc.vm.NewGoError(err))
}

func (sc *scope) format(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if obj, ok := v.(*goja.Object); ok {
		if _, isFn := goja.AssertFunction(obj); !isFn {
			if b, err := obj.MarshalJSON(); err == nil {
				return string(b)
			}
		}
	}
	return v.String()
}

type bindings struct {
	sc *scope
}

func (b bindings) Put(name string, v any) error {
	return b.sc.vm.Set(name, b.sc.toJS(v))
}

func (b bindings) Get(name string) (polyglot.Value, bool) {
	v := b.sc.vm.Get(name)
	if v == nil {
		return nil, false
	}
	return b.sc.wrap(v), true
}
