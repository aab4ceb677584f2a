package starlark

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.starlark.net/lib/json"
	"go.starlark.net/lib/math"
	"go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/mpataki/polyrun/internal/polyglot"
)

type scope struct {
	session  *polyglot.Session
	builtins starlark.StringDict

	hostModules map[*polyglot.HostObject]*hostModule

	// modules loaded through load(), by file name
	loaded map[string]*loadEntry

	mu       sync.Mutex
	thread   *starlark.Thread
	globals  starlark.StringDict
	exported map[string]bool
	denied   error
}

type loadEntry struct {
	globals starlark.StringDict
	err     error
}

func newScope(s *polyglot.Session) *scope {
	sc := &scope{
		session:     s,
		hostModules: make(map[*polyglot.HostObject]*hostModule),
		loaded:      make(map[string]*loadEntry),
		exported:    make(map[string]bool),
	}
	sc.builtins = sc.makeBuiltins()
	return sc
}

// makeBuiltins builds the predeclared modules every script sees
func (sc *scope) makeBuiltins() starlark.StringDict {
	p := sc.session.Policy()

	b := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":   json.Module,
		"math":   math.Module,
		"time":   time.Module,
		"warn":   starlark.NewBuiltin("warn", sc.warn),
		"host": &starlarkstruct.Module{
			Name: "host",
			Members: starlark.StringDict{
				"type": starlark.NewBuiltin("type", sc.hostType),
			},
		},
	}
	if p.AllowPolyglot {
		b["polyglot"] = &starlarkstruct.Module{
			Name: "polyglot",
			Members: starlark.StringDict{
				"import_value": starlark.NewBuiltin("import_value", sc.importValue),
				"export_value": starlark.NewBuiltin("export_value", sc.exportValue),
			},
		}
	}
	if p.AllowIO {
		b["fs"] = sc.toStarlark(sc.session.FS())
	}
	return b
}

// warn prints its arguments to the session stderr
func (sc *scope) warn(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		if s, ok := starlark.AsString(a); ok {
			parts[i] = s
		} else {
			parts[i] = a.String()
		}
	}
	fmt.Fprintln(sc.session.Stderr(), strings.Join(parts, " "))
	return starlark.None, nil
}

func (sc *scope) hostType(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	t, err := sc.session.LookupHostType(name)
	if err != nil {
		if errors.Is(err, polyglot.ErrPermissionDenied) {
			sc.setDenied(err)
		}
		return nil, err
	}
	return sc.toStarlark(t), nil
}

func (sc *scope) importValue(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	v, ok := sc.session.Shared().Load(name)
	if !ok {
		return starlark.None, nil
	}
	return sc.toStarlark(v), nil
}

func (sc *scope) exportValue(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &name, &v); err != nil {
		return nil, err
	}
	sc.session.Shared().Store(name, sc.wrap(v))
	sc.mu.Lock()
	sc.exported[name] = true
	sc.mu.Unlock()
	return starlark.None, nil
}

// predeclared is the builtins plus every binding of the polyglot scope
func (sc *scope) predeclared() starlark.StringDict {
	shared := sc.session.Shared()
	out := make(starlark.StringDict, len(sc.builtins)+len(shared.Names()))
	for k, v := range sc.builtins {
		out[k] = v
	}
	for _, name := range shared.Names() {
		v, ok := shared.Load(name)
		if !ok {
			continue
		}
		out[name] = sc.toStarlark(v)
	}
	return out
}

func (sc *scope) newThread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			fmt.Fprintln(sc.session.Stdout(), msg)
		},
		Load: sc.load,
	}
}

// load implements load() from the module search path
func (sc *scope) load(_ *starlark.Thread, module string) (starlark.StringDict, error) {
	dir := sc.session.Policy().ModulePath
	if dir == "" {
		return nil, fmt.Errorf("load %s: no module path", module)
	}
	if strings.Contains(module, "..") {
		return nil, fmt.Errorf("load %s: invalid module name", module)
	}

	e, ok := sc.loaded[module]
	if ok {
		if e == nil {
			return nil, fmt.Errorf("load %s: cycle in load graph", module)
		}
		return e.globals, e.err
	}

	sc.loaded[module] = nil
	path := filepath.Join(dir, module)
	data, err := os.ReadFile(path)
	if err != nil {
		delete(sc.loaded, module)
		return nil, fmt.Errorf("load %s: %w", module, err)
	}
	globals, err := starlark.ExecFileOptions(fileOptions, sc.newThread("load "+module), module, data, sc.builtins)
	sc.loaded[module] = &loadEntry{globals: globals, err: err}
	return globals, err
}

func (sc *scope) Bindings() polyglot.Bindings { return bindings{sc} }

// Eval runs the program against the current polyglot scope. The value of a
// trailing expression statement is returned, None otherwise
func (sc *scope) Eval(ctx context.Context, p polyglot.Program) (polyglot.Value, error) {
	prog, ok := p.(*program)
	if !ok {
		return nil, fmt.Errorf("starlark: cannot evaluate %s program", p.Source().Language)
	}

	thread := sc.newThread(prog.src.Name)
	sc.mu.Lock()
	sc.thread = thread
	sc.denied = nil
	sc.exported = make(map[string]bool)
	sc.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
	defer stop()

	globals, err := prog.prog.Init(thread, sc.predeclared())
	sc.mu.Lock()
	sc.globals = globals
	sc.mu.Unlock()
	if err != nil {
		return nil, sc.evalError(ctx, prog.src, err)
	}

	if result, ok := globals[resultName]; ok {
		return sc.wrap(result), nil
	}
	return sc.wrap(starlark.None), nil
}

// Close cancels any evaluation still running on the scope
func (sc *scope) Close() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.thread != nil {
		sc.thread.Cancel("scope closed")
	}
}

func (sc *scope) setDenied(err error) {
	sc.mu.Lock()
	sc.denied = err
	sc.mu.Unlock()
}

func (sc *scope) evalError(ctx context.Context, src polyglot.Source, err error) error {
	e := &polyglot.EvalError{Language: ID, Source: src.Name, Message: err.Error(), Err: err}

	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		e.Message = evalErr.Msg
		e.Stack = evalErr.Backtrace()
		if cause := evalErr.Unwrap(); cause != nil {
			e.Err = cause
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

// bindings is a view of the session polyglot scope. Globals assigned by the
// last evaluation are visible too, unless the name was exported
type bindings struct {
	sc *scope
}

func (b bindings) Put(name string, v any) error {
	b.sc.session.Shared().Store(name, b.sc.wrap(b.sc.toStarlark(v)))
	return nil
}

func (b bindings) Get(name string) (polyglot.Value, bool) {
	sc := b.sc
	sc.mu.Lock()
	exported := sc.exported[name]
	g, inGlobals := sc.globals[name]
	sc.mu.Unlock()

	if inGlobals && !exported {
		return sc.wrap(g), true
	}
	return sc.session.Shared().Value(name)
}
