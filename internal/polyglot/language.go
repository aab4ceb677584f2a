package polyglot

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Source is one unit of guest code
type Source struct {
	Language string
	Name     string
	Text     string
}

// Program is a compiled Source. Programs are immutable and may be evaluated
// by any number of scopes of their language
type Program interface {
	Source() Source
}

// Bindings is the named-variable scope a script sees
type Bindings interface {
	Put(name string, v any) error
	Get(name string) (Value, bool)
}

// Scope is one interpreter instance owned by a session. A Scope must only be
// used from one goroutine at a time
type Scope interface {
	Bindings() Bindings
	Eval(ctx context.Context, prog Program) (Value, error)
	Close()
}

// Language is a guest language adapter
type Language interface {
	ID() string

	// AlternateScope reports that scripts read and write their variables
	// through the session polyglot scope rather than their own globals
	AlternateScope() bool

	// Init is checked once when the shared engine is built
	Init() error

	Compile(src Source) (Program, error)
	NewScope(s *Session) (Scope, error)
}

var (
	registryMu sync.Mutex
	registry   = map[string]Language{}
)

// Register makes a language available to the shared engine. Adapters call it
// from init; registering after the engine is built has no effect on it
func Register(lang Language) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if lang == nil {
		panic("polyglot: Register language is nil")
	}
	if _, dup := registry[lang.ID()]; dup {
		panic(fmt.Sprintf("polyglot: Register called twice for language %q", lang.ID()))
	}
	registry[lang.ID()] = lang
}

// Languages returns the registered language ids in sorted order
func Languages() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func registered() []Language {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]Language, 0, len(registry))
	for _, l := range registry {
		out = append(out, l)
	}
	return out
}
