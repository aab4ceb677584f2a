// Package starlark registers the "starlark" guest language, a Python dialect
// evaluated by go.starlark.net.
//
// Starlark scripts see the session polyglot scope: every binding is readable
// as a top-level name and through polyglot.import_value, and a script
// replaces a binding with polyglot.export_value. Top-level names cannot be
// reassigned once read, so a row is dropped with
//
//	polyglot.export_value("row", None)
//
// and modified in place otherwise. The value of a trailing expression
// statement is the script result
package starlark

import (
	"errors"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/mpataki/polyrun/internal/polyglot"
)

// ID is the language identifier used in task definitions
const ID = "starlark"

const resultName = "__result__"

var fileOptions = &syntax.FileOptions{
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

func init() {
	polyglot.Register(language{})
}

type language struct{}

func (language) ID() string { return ID }

func (language) AlternateScope() bool { return true }

func (language) Init() error {
	thread := &starlark.Thread{Name: "init"}
	v, err := starlark.EvalOptions(fileOptions, thread, "init", "1 + 1", nil)
	if err != nil {
		return err
	}
	if n, ok := v.(starlark.Int); !ok || n.String() != "2" {
		return errors.New("engine self-check failed")
	}
	return nil
}

type program struct {
	src  polyglot.Source
	prog *starlark.Program
}

func (p *program) Source() polyglot.Source { return p.src }

// isPredeclared treats every non-universal free name as a binding; names
// are only known per evaluation
func isPredeclared(name string) bool {
	return !starlark.Universe.Has(name)
}

func (language) Compile(src polyglot.Source) (polyglot.Program, error) {
	name := src.Name
	if name == "" {
		name = "script.star"
	}
	f, err := fileOptions.Parse(name, src.Text, 0)
	if err != nil {
		return nil, &polyglot.EvalError{Language: ID, Source: src.Name, Message: err.Error(), Err: err}
	}

	if n := len(f.Stmts); n > 0 {
		if expr, ok := f.Stmts[n-1].(*syntax.ExprStmt); ok {
			start, _ := expr.Span()
			f.Stmts[n-1] = &syntax.AssignStmt{
				OpPos: start,
				Op:    syntax.EQ,
				LHS:   &syntax.Ident{NamePos: start, Name: resultName},
				RHS:   expr.X,
			}
		}
	}

	prog, err := starlark.FileProgram(f, isPredeclared)
	if err != nil {
		return nil, &polyglot.EvalError{Language: ID, Source: src.Name, Message: err.Error(), Err: err}
	}
	return &program{src: src, prog: prog}, nil
}

func (language) NewScope(s *polyglot.Session) (polyglot.Scope, error) {
	return newScope(s), nil
}
