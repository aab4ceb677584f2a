package polyglot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/mpataki/polyrun/internal/ctxlog"
	"github.com/mpataki/polyrun/internal/logrelay"
)

type SessionConfig struct {
	// Language is the primary guest language of the session
	Language   string
	WorkDir    string
	ModulePath string

	// Logger receives guest output. Defaults to the context logger
	Logger *slog.Logger
}

// Session is the per-task execution environment: a sandbox policy, the guest
// output pipes with their relay, and the scopes handed out so far
type Session struct {
	engine *Engine
	lang   Language
	policy Policy
	logger *slog.Logger
	shared *SharedScope

	stdout *io.PipeWriter
	stderr *io.PipeWriter
	relay  *logrelay.Relay

	turn sync.Mutex

	mu     sync.Mutex
	scopes []Scope
	closed bool
}

func NewSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	engine, err := SharedEngine()
	if err != nil {
		return nil, err
	}

	lang, ok := engine.Language(cfg.Language)
	if !ok {
		return nil, fmt.Errorf("unknown language %q", cfg.Language)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = ctxlog.FromContext(ctx)
	}

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()

	return &Session{
		engine: engine,
		lang:   lang,
		policy: DefaultPolicy(cfg.WorkDir, cfg.ModulePath),
		logger: logger,
		shared: NewSharedScope(),
		stdout: outW,
		stderr: errW,
		relay:  logrelay.Start(logger, outR, errR),
	}, nil
}

func (s *Session) Language() Language { return s.lang }
func (s *Session) Policy() Policy { return s.policy }
func (s *Session) Logger() *slog.Logger { return s.logger }
func (s *Session) Shared() *SharedScope { return s.shared }
func (s *Session) Stdout() io.Writer { return s.stdout }
func (s *Session) Stderr() io.Writer { return s.stderr }
func (s *Session) FS() *HostObject { return FS(s.policy) }
func (s *Session) Engine() *Engine { return s.engine }

// Compile compiles text in the session language
func (s *Session) Compile(name, text string) (Program, error) {
	return s.engine.Compile(Source{Language: s.lang.ID(), Name: name, Text: text})
}

// CompileFor compiles text in another registered language
func (s *Session) CompileFor(langID, name, text string) (Program, error) {
	if langID != s.lang.ID() && !s.policy.AllowPolyglot {
		return nil, fmt.Errorf("language %s: %w", langID, ErrPermissionDenied)
	}
	return s.engine.Compile(Source{Language: langID, Name: name, Text: text})
}

// NewScope creates a scope for the session language
func (s *Session) NewScope() (Scope, error) {
	return s.NewScopeFor(s.lang.ID())
}

// NewScopeFor creates a scope for any registered language. The scope is
// closed with the session
func (s *Session) NewScopeFor(langID string) (Scope, error) {
	lang := s.lang
	if langID != s.lang.ID() {
		if !s.policy.AllowPolyglot {
			return nil, fmt.Errorf("language %s: %w", langID, ErrPermissionDenied)
		}
		var ok bool
		if lang, ok = s.engine.Language(langID); !ok {
			return nil, fmt.Errorf("unknown language %q", langID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("session closed")
	}

	scope, err := lang.NewScope(s)
	if err != nil {
		return nil, fmt.Errorf("creating %s scope: %w", langID, err)
	}
	s.scopes = append(s.scopes, scope)
	return scope, nil
}

// LookupHostType resolves a host type name for guest code
func (s *Session) LookupHostType(name string) (*HostObject, error) {
	if !s.policy.HostTypeAllowed(name) {
		return nil, PermissionError(name)
	}
	t, ok := s.engine.HostType(name)
	if !ok {
		return nil, fmt.Errorf("host type %q not found", name)
	}
	return t, nil
}

// Turn takes the session evaluation turn and returns its release function.
// Languages that share the session polyglot scope evaluate one at a time
func (s *Session) Turn() func() {
	s.turn.Lock()
	return s.turn.Unlock
}

// Close releases the scopes, closes the guest output pipes and waits for the
// relay to log everything written so far. It is safe to call more than once
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	scopes := s.scopes
	s.scopes = nil
	s.mu.Unlock()

	for _, scope := range scopes {
		scope.Close()
	}
	s.stdout.Close()
	s.stderr.Close()
	s.relay.Wait()
}

// SharedScope is the session-wide variable map used for cross-language
// exchange and by alternate-scope languages
type SharedScope struct {
	mu     sync.RWMutex
	values map[string]any
	order  []string
}

func NewSharedScope() *SharedScope {
	return &SharedScope{values: make(map[string]any)}
}

// Store saves a host value or a guest Value under name
func (s *SharedScope) Store(name string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[name]; !ok {
		s.order = append(s.order, name)
	}
	s.values[name] = v
}

func (s *SharedScope) Load(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

// Value loads name as a guest Value
func (s *SharedScope) Value(name string) (Value, bool) {
	v, ok := s.Load(name)
	if !ok {
		return nil, false
	}
	if gv, ok := v.(Value); ok {
		return gv, true
	}
	return HostValue(v), true
}

func (s *SharedScope) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
