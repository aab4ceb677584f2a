package task_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/polyrun/internal/polyglot"
	"github.com/mpataki/polyrun/internal/task"
	"github.com/mpataki/polyrun/internal/testutil"
)

func TestEvalCallableOutputs(t *testing.T) {
	callables := map[string]string{
		"javascript": `(function() { return {a: 1, b: "x"} })`,
		"lua":        `return function() return {a = 1, b = "x"} end`,
		"starlark":   "def make():\n    return {'a': 1, 'b': 'x'}\nmake",
	}

	for _, lang := range languages() {
		t.Run(lang, func(t *testing.T) {
			run := testutil.NewRun(t, nil)

			out, err := (&task.Eval{
				Language: lang,
				Script:   callables[lang],
				Outputs:  []string{"a", "b"},
			}).Run(context.Background(), run.Context)
			require.NoError(t, err)

			assert.Nil(t, out.Result)
			assert.Equal(t, polyglot.MapOf("a", int32(1), "b", "x"), out.Outputs)
		})
	}
}

func TestEvalMapOutputs(t *testing.T) {
	run := testutil.NewRun(t, nil)

	out, err := (&task.Eval{
		Language: "javascript",
		Script:   `new Map([["a", 1], ["b", "x"]])`,
		Outputs:  []string{"a", "b"},
	}).Run(context.Background(), run.Context)
	require.NoError(t, err)

	assert.Nil(t, out.Result)
	assert.Equal(t, polyglot.MapOf("a", int32(1), "b", "x"), out.Outputs)
}

func TestEvalCallableHonoursContext(t *testing.T) {
	spinners := map[string]string{
		"javascript": `(function() { while (true) {} })`,
		"lua":        `return function() while true do end end`,
		"starlark":   "def spin():\n    while True:\n        pass\nspin",
	}

	for _, lang := range languages() {
		t.Run(lang, func(t *testing.T) {
			run := testutil.NewRun(t, nil)
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			_, err := (&task.Eval{Language: lang, Script: spinners[lang]}).Run(ctx, run.Context)
			require.Error(t, err)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
		})
	}
}

func TestEvalMissingOutputIsNull(t *testing.T) {
	run := testutil.NewRun(t, nil)

	out, err := (&task.Eval{
		Language: "javascript",
		Script:   `({a: 1})`,
		Outputs:  []string{"a", "missing"},
	}).Run(context.Background(), run.Context)
	require.NoError(t, err)

	assert.Equal(t, polyglot.MapOf("a", int32(1), "missing", nil), out.Outputs)
}

func TestEvalOutputsFromBindings(t *testing.T) {
	assignments := map[string]string{
		"javascript": `var greeting = "hello " + name; var size = 3`,
		"lua":        `greeting = "hello " .. name; size = 3`,
		"starlark":   "greeting = 'hello ' + name\nsize = 3",
	}

	for _, lang := range languages() {
		t.Run(lang, func(t *testing.T) {
			run := testutil.NewRun(t, polyglot.MapOf("name", "world"))

			out, err := (&task.Eval{
				Language: lang,
				Script:   assignments[lang],
				Outputs:  []string{"greeting", "size"},
			}).Run(context.Background(), run.Context)
			require.NoError(t, err)

			assert.Nil(t, out.Result)
			assert.Equal(t, polyglot.MapOf("greeting", "hello world", "size", int32(3)), out.Outputs)
		})
	}
}

func TestEvalOpaqueResult(t *testing.T) {
	run := testutil.NewRun(t, nil)

	out, err := (&task.Eval{
		Language: "javascript",
		Script:   `Host.type("std.time")`,
	}).Run(context.Background(), run.Context)
	require.NoError(t, err)

	obj, ok := out.Result.(*polyglot.HostObject)
	require.True(t, ok, "got %T", out.Result)
	assert.Equal(t, "std.time", obj.Name)
	assert.Nil(t, out.Outputs)
}

func TestEvalWithoutShapeIsEmpty(t *testing.T) {
	cases := []struct {
		name    string
		script  string
		outputs []string
	}{
		{"plain value without outputs", `1 + 1`, nil},
		{"object without outputs", `({a: 1})`, nil},
		{"opaque with outputs", `Host.type("std.time")`, []string{"now"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			run := testutil.NewRun(t, nil)

			out, err := (&task.Eval{
				Language: "javascript",
				Script:   tc.script,
				Outputs:  tc.outputs,
			}).Run(context.Background(), run.Context)
			require.NoError(t, err)

			assert.Nil(t, out.Result)
			assert.Nil(t, out.Outputs)
		})
	}
}

func TestEvalRelaysOutputBeforeError(t *testing.T) {
	failing := map[string]string{
		"javascript": `console.log("first"); console.log("second"); throw new Error("boom")`,
		"lua":        `print("first"); print("second"); error("boom")`,
		"starlark":   "print('first')\nprint('second')\nfail('boom')",
	}

	for _, lang := range languages() {
		t.Run(lang, func(t *testing.T) {
			run := testutil.NewRun(t, nil)

			_, err := (&task.Eval{
				Language: lang,
				Script:   failing[lang],
			}).Run(context.Background(), run.Context)

			var evalErr *polyglot.EvalError
			require.ErrorAs(t, err, &evalErr)
			assert.Contains(t, evalErr.Message, "boom")
			assert.Equal(t, []string{"first", "second"}, run.Logs.Stream("stdout"))
		})
	}
}

func TestEvalPermissionDenied(t *testing.T) {
	denied := map[string]string{
		"javascript": `Host.type("internal.env").get("HOME")`,
		"lua":        `return host.type("internal.env").get("HOME")`,
		"starlark":   `host.type("internal.env").get("HOME")`,
	}

	for _, lang := range languages() {
		t.Run(lang, func(t *testing.T) {
			run := testutil.NewRun(t, nil)

			_, err := (&task.Eval{Language: lang, Script: denied[lang]}).Run(context.Background(), run.Context)
			assert.ErrorIs(t, err, polyglot.ErrPermissionDenied)
		})
	}
}

func TestEvalRunContext(t *testing.T) {
	scripts := map[string]string{
		"javascript": `
			runContext.counter("hits", 2, "source", "js");
			runContext.metric(Host.type("models.Counter").of("items", 5));
			logger.info("from guest", "k", "v");
			var vars = runContext.variables();
			var seen = vars.name;`,
		"lua": `
			runContext.counter("hits", 2, "source", "js")
			runContext.metric(host.type("models.Counter").of("items", 5))
			logger.info("from guest", "k", "v")
			seen = runContext.variables().name`,
		"starlark": `
runContext.counter("hits", 2, "source", "js")
runContext.metric(host.type("models.Counter").of("items", 5))
logger.info("from guest", "k", "v")
seen = runContext.variables()["name"]`,
	}

	for _, lang := range languages() {
		t.Run(lang, func(t *testing.T) {
			run := testutil.NewRun(t, polyglot.MapOf("name", "world"))

			out, err := (&task.Eval{
				Language: lang,
				Script:   scripts[lang],
				Outputs:  []string{"seen"},
			}).Run(context.Background(), run.Context)
			require.NoError(t, err)
			assert.Equal(t, polyglot.MapOf("seen", "world"), out.Outputs)

			hits := run.Metrics.Named("hits")
			require.Len(t, hits, 1)
			assert.Equal(t, float64(2), hits[0].Value)
			assert.Equal(t, map[string]string{"source": "js"}, hits[0].Tags)

			items := run.Metrics.Named("items")
			require.Len(t, items, 1)
			assert.Equal(t, float64(5), items[0].Value)

			var found bool
			for _, rec := range run.Logs.Records() {
				if rec.Message == "from guest" && rec.Level == slog.LevelInfo {
					found = true
					assert.Equal(t, "v", rec.Attrs["k"])
				}
			}
			assert.True(t, found, "guest log line not recorded")
		})
	}
}

func TestEvalStorageRoundTrip(t *testing.T) {
	run := testutil.NewRun(t, nil)

	out, err := (&task.Eval{
		Language: "javascript",
		Script: `
			var path = runContext.workingDir().createTempFile(".txt");
			fs.write(path, "payload");
			var uri = runContext.storage().putFile(path);
			var copy = runContext.storage().getFile(uri);
			var back = fs.read(copy);`,
		Outputs: []string{"uri", "back"},
	}).Run(context.Background(), run.Context)
	require.NoError(t, err)

	uri, _ := out.Outputs.Get("uri")
	data, ok := run.Store.Bytes(uri.(string))
	require.True(t, ok)
	assert.Equal(t, "payload", string(data))

	back, _ := out.Outputs.Get("back")
	assert.Equal(t, "payload", back)
}

func TestEvalInlineModules(t *testing.T) {
	run := testutil.NewRun(t, nil)

	out, err := (&task.Eval{
		Language: "starlark",
		Script:   "load('greet.star', 'greet')\nmessage = greet('world')",
		Outputs:  []string{"message"},
		Modules:  map[string]string{"greet.star": "def greet(name):\n    return 'hello ' + name\n"},
	}).Run(context.Background(), run.Context)
	require.NoError(t, err)

	assert.Equal(t, polyglot.MapOf("message", "hello world"), out.Outputs)
}

func TestEvalCompileError(t *testing.T) {
	run := testutil.NewRun(t, nil)

	_, err := (&task.Eval{Language: "lua", Script: "return ("}).Run(context.Background(), run.Context)
	var evalErr *polyglot.EvalError
	assert.ErrorAs(t, err, &evalErr)
}

func TestEvalUnknownLanguage(t *testing.T) {
	run := testutil.NewRun(t, nil)

	_, err := (&task.Eval{Language: "cobol", Script: "DISPLAY 'hi'"}).Run(context.Background(), run.Context)
	assert.ErrorContains(t, err, "unknown language")
}
