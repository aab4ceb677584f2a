// Package javascript registers the goja-backed "javascript" guest language
package javascript

import (
	"errors"

	"github.com/dop251/goja"

	"github.com/mpataki/polyrun/internal/polyglot"
)

// ID is the language identifier used in task definitions
const ID = "javascript"

// maxCallStackSize bounds guest recursion
const maxCallStackSize = 1024

func init() {
	polyglot.Register(language{})
}

type language struct{}

func (language) ID() string { return ID }

func (language) AlternateScope() bool { return false }

func (language) Init() error {
	vm := goja.New()
	v, err := vm.RunString("1 + 1")
	if err != nil {
		return err
	}
	if v.ToInteger() != 2 {
		return errors.New("engine self-check failed")
	}
	return nil
}

type program struct {
	src  polyglot.Source
	prog *goja.Program
}

func (p *program) Source() polyglot.Source { return p.src }

func (language) Compile(src polyglot.Source) (polyglot.Program, error) {
	name := src.Name
	if name == "" {
		name = "script.js"
	}
	prog, err := goja.Compile(name, src.Text, false)
	if err != nil {
		return nil, &polyglot.EvalError{
			Language: ID,
			Source:   src.Name,
			Message:  err.Error(),
			Err:      err,
		}
	}
	return &program{src: src, prog: prog}, nil
}

func (language) NewScope(s *polyglot.Session) (polyglot.Scope, error) {
	return newScope(s)
}
