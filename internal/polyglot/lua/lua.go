// Package lua registers the gopher-lua backed "lua" guest language
package lua

import (
	"errors"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/mpataki/polyrun/internal/polyglot"
)

// ID is the language identifier used in task definitions
const ID = "lua"

func init() {
	polyglot.Register(language{})
}

type language struct{}

func (language) ID() string { return ID }

func (language) AlternateScope() bool { return false }

// Init checks that a bare state can run a chunk
func (language) Init() error {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	if err := L.DoString("return 1 + 1"); err != nil {
		return err
	}
	if L.Get(-1) != lua.LNumber(2) {
		return errors.New("engine self-check failed")
	}
	return nil
}

type program struct {
	src   polyglot.Source
	proto *lua.FunctionProto
}

func (p *program) Source() polyglot.Source { return p.src }

// Compile parses the chunk once; every scope builds its own closure from the proto
func (language) Compile(src polyglot.Source) (polyglot.Program, error) {
	name := src.Name
	if name == "" {
		name = "script.lua"
	}
	chunk, err := parse.Parse(strings.NewReader(src.Text), name)
	if err != nil {
		return nil, &polyglot.EvalError{Language: ID, Source: src.Name, Message: err.Error(), Err: err}
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, &polyglot.EvalError{Language: ID, Source: src.Name, Message: err.Error(), Err: err}
	}
	return &program{src: src, proto: proto}, nil
}

func (language) NewScope(s *polyglot.Session) (polyglot.Scope, error) {
	return newScope(s), nil
}
