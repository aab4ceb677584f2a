package polyglot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// Engine is the process-wide language registry and compiled-program cache.
// It is built once and shared by every session
type Engine struct {
	languages map[string]Language
	hostTypes map[string]*HostObject

	mu       sync.RWMutex
	programs map[string]Program
}

var sharedEngine = sync.OnceValues(func() (*Engine, error) {
	return buildEngine(registered())
})

// SharedEngine returns the process-wide engine, building it on first use
func SharedEngine() (*Engine, error) {
	return sharedEngine()
}

func buildEngine(langs []Language) (*Engine, error) {
	if len(langs) == 0 {
		return nil, fmt.Errorf("%w: no languages registered", ErrEngineUnavailable)
	}

	e := &Engine{
		languages: make(map[string]Language, len(langs)),
		hostTypes: defaultHostTypes(),
		programs:  make(map[string]Program),
	}
	for _, l := range langs {
		if err := l.Init(); err != nil {
			return nil, fmt.Errorf("%w: init %s: %v", ErrEngineUnavailable, l.ID(), err)
		}
		e.languages[l.ID()] = l
	}
	return e, nil
}

func (e *Engine) Language(id string) (Language, bool) {
	l, ok := e.languages[id]
	return l, ok
}

// HostType returns a registered host type without checking any policy
func (e *Engine) HostType(name string) (*HostObject, bool) {
	t, ok := e.hostTypes[name]
	return t, ok
}

// Compile returns the cached program for src, compiling it on first use
func (e *Engine) Compile(src Source) (Program, error) {
	lang, ok := e.languages[src.Language]
	if !ok {
		return nil, fmt.Errorf("unknown language %q", src.Language)
	}

	sum := sha256.Sum256([]byte(src.Language + "\x00" + src.Name + "\x00" + src.Text))
	key := hex.EncodeToString(sum[:])

	e.mu.RLock()
	if prog, ok := e.programs[key]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prog, ok := e.programs[key]; ok {
		return prog, nil
	}

	prog, err := lang.Compile(src)
	if err != nil {
		return nil, err
	}
	e.programs[key] = prog
	return prog, nil
}
