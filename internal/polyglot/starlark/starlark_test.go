package starlark_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/polyrun/internal/polyglot"
	"github.com/mpataki/polyrun/internal/polyglot/starlark"
	"github.com/mpataki/polyrun/internal/testutil"
)

type fixture struct {
	session *polyglot.Session
	scope   polyglot.Scope
	logs    *testutil.LogRecorder
}

func newFixture(t *testing.T, modulePath string) *fixture {
	t.Helper()
	logs := testutil.NewLogRecorder()
	s, err := polyglot.NewSession(context.Background(), polyglot.SessionConfig{
		Language:   starlark.ID,
		WorkDir:    t.TempDir(),
		ModulePath: modulePath,
		Logger:     logs.Logger(),
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	scope, err := s.NewScope()
	require.NoError(t, err)
	return &fixture{session: s, scope: scope, logs: logs}
}

func (f *fixture) eval(ctx context.Context, src string) (polyglot.Value, error) {
	prog, err := f.session.Compile("test.star", src)
	if err != nil {
		return nil, err
	}
	return f.scope.Eval(ctx, prog)
}

func (f *fixture) mustEval(t *testing.T, src string) polyglot.Value {
	t.Helper()
	v, err := f.eval(context.Background(), src)
	require.NoError(t, err)
	return v
}

func TestKinds(t *testing.T) {
	f := newFixture(t, "")

	tests := []struct {
		src  string
		want polyglot.Kind
	}{
		{"None", polyglot.KindNull},
		{"x = 1", polyglot.KindNull},
		{"'text'", polyglot.KindString},
		{"1.5", polyglot.KindNumeric},
		{"def f():\n    pass\nf", polyglot.KindExecutable},
		{"host.type('std.strings')", polyglot.KindOpaque},
		{"{'a': 1}", polyglot.KindHashLike},
		{"struct(a = 1)", polyglot.KindMemberBearing},
		{"[1, 2]", polyglot.KindFallback},
		{"(1, 2)", polyglot.KindFallback},
		{"True", polyglot.KindFallback},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			assert.Equal(t, tt.want, f.mustEval(t, tt.src).Kind())
		})
	}
}

func TestConvert(t *testing.T) {
	f := newFixture(t, "")

	tests := []struct {
		src  string
		want any
	}{
		{"None", nil},
		{"'text'", "text"},
		{"666", int32(666)},
		{"1 << 40", int64(1 << 40)},
		{"2.5", float32(2.5)},
		{"0.1", 0.1},
		{"{'b': 1, 'a': 'x'}", polyglot.MapOf("b", int32(1), "a", "x")},
		{"{1: 'one'}", polyglot.MapOf("1", "one")},
		{"struct(n = 2)", polyglot.MapOf("n", int32(2))},
		{"[1, 'two', {'c': True}]", []any{int32(1), "two", polyglot.MapOf("c", true)}},
		{"False", false},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := polyglot.Convert(f.mustEval(t, tt.src))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHostObjects(t *testing.T) {
	f := newFixture(t, "")

	got, err := polyglot.Convert(f.mustEval(t, "host.type('std.strings').upper('abc')"))
	require.NoError(t, err)
	assert.Equal(t, "ABC", got)

	got, err = polyglot.Convert(f.mustEval(t, "host.type('std.strings')"))
	require.NoError(t, err)
	obj, ok := got.(*polyglot.HostObject)
	require.True(t, ok, "got %T", got)
	assert.Equal(t, "std.strings", obj.Name)
}

func TestBindingsLiveInSharedScope(t *testing.T) {
	f := newFixture(t, "")
	b := f.scope.Bindings()

	require.NoError(t, b.Put("row", polyglot.MapOf("id", int32(666), "name", "beast")))
	_, ok := f.session.Shared().Load("row")
	require.True(t, ok)

	f.mustEval(t, "row['id'] = row['id'] + 1")
	row, ok := b.Get("row")
	require.True(t, ok)
	got, err := polyglot.Convert(row)
	require.NoError(t, err)
	assert.Equal(t, polyglot.MapOf("id", int32(667), "name", "beast"), got)
}

func TestExportValueReplacesBinding(t *testing.T) {
	f := newFixture(t, "")
	b := f.scope.Bindings()

	require.NoError(t, b.Put("row", polyglot.MapOf("id", int32(1))))
	f.mustEval(t, "polyglot.export_value('row', None)")

	row, ok := b.Get("row")
	require.True(t, ok)
	assert.Equal(t, polyglot.KindNull, row.Kind())
}

func TestGlobalsAreReadable(t *testing.T) {
	f := newFixture(t, "")

	f.mustEval(t, "total = 2 + 3")
	v, ok := f.scope.Bindings().Get("total")
	require.True(t, ok)
	got, err := polyglot.Convert(v)
	require.NoError(t, err)
	assert.Equal(t, int32(5), got)

	_, ok = f.scope.Bindings().Get("missing")
	assert.False(t, ok)
}

func TestCallableResult(t *testing.T) {
	f := newFixture(t, "")

	fn := f.mustEval(t, "def make():\n    return {'a': 1, 'b': 'x'}\nmake")
	out, err := fn.Call(context.Background())
	require.NoError(t, err)

	a, ok := out.Member("a")
	require.True(t, ok)
	assert.Equal(t, polyglot.KindNumeric, a.Kind())
	b, ok := out.Member("b")
	require.True(t, ok)
	assert.Equal(t, "x", b.AsString())
}

func TestOutputIsRelayed(t *testing.T) {
	f := newFixture(t, "")

	f.mustEval(t, "print('hello', 1)\nwarn('careful')")
	f.session.Close()

	assert.Equal(t, []string{"hello 1"}, f.logs.Stream("stdout"))
	assert.Equal(t, []string{"careful"}, f.logs.Stream("stderr"))
}

func TestHostTypeDenied(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.eval(context.Background(), "host.type('internal.env').get('HOME')")
	require.Error(t, err)
	assert.ErrorIs(t, err, polyglot.ErrPermissionDenied)

	var evalErr *polyglot.EvalError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, starlark.ID, evalErr.Language)
	assert.NotEmpty(t, evalErr.Stack)
}

func TestRuntimeError(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.eval(context.Background(), "fail('kaboom')")
	var evalErr *polyglot.EvalError
	require.ErrorAs(t, err, &evalErr)
	assert.Contains(t, evalErr.Message, "kaboom")
	assert.NotErrorIs(t, err, polyglot.ErrPermissionDenied)
}

func TestSyntaxError(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.eval(context.Background(), "def (")
	var evalErr *polyglot.EvalError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, "test.star", evalErr.Source)
}

func TestEvalHonoursContext(t *testing.T) {
	f := newFixture(t, "")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.eval(ctx, "while True:\n    pass")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "util.star"),
		[]byte("def double(x):\n    return x * 2\n"), 0644))

	f := newFixture(t, dir)
	got, err := polyglot.Convert(f.mustEval(t, "load('util.star', 'double')\ndouble(21)"))
	require.NoError(t, err)
	assert.Equal(t, int32(42), got)

	_, err = f.eval(context.Background(), "load('../util.star', 'double')")
	assert.Error(t, err)
}

func TestLibraryModules(t *testing.T) {
	f := newFixture(t, "")

	got, err := polyglot.Convert(f.mustEval(t, "json.encode({'a': [1, 2]})"))
	require.NoError(t, err)
	assert.Equal(t, `{"a":[1,2]}`, got)

	got, err = polyglot.Convert(f.mustEval(t, "math.floor(2.7)"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), got)
}
