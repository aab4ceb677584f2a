package polyglot

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLanguage struct {
	id      string
	initErr error
}

func (l stubLanguage) ID() string           { return l.id }
func (l stubLanguage) AlternateScope() bool { return false }
func (l stubLanguage) Init() error          { return l.initErr }

func (l stubLanguage) Compile(src Source) (Program, error) {
	return nil, errors.New("stub cannot compile")
}

func (l stubLanguage) NewScope(*Session) (Scope, error) {
	return nil, errors.New("stub has no scopes")
}

func TestBuildEngineWithoutLanguages(t *testing.T) {
	_, err := buildEngine(nil)
	assert.ErrorIs(t, err, ErrEngineUnavailable)
	assert.ErrorContains(t, err, "no languages registered")
}

func TestBuildEngineInitFailure(t *testing.T) {
	_, err := buildEngine([]Language{
		stubLanguage{id: "ok"},
		stubLanguage{id: "broken", initErr: errors.New("missing runtime")},
	})
	assert.ErrorIs(t, err, ErrEngineUnavailable)
	assert.ErrorContains(t, err, "init broken: missing runtime")
}

func TestBuildEngine(t *testing.T) {
	e, err := buildEngine([]Language{stubLanguage{id: "ok"}})
	require.NoError(t, err)

	l, ok := e.Language("ok")
	require.True(t, ok)
	assert.Equal(t, "ok", l.ID())

	_, ok = e.HostType("std.strings")
	assert.True(t, ok)

	_, err = e.Compile(Source{Language: "missing", Text: "x"})
	assert.ErrorContains(t, err, "unknown language")
}
