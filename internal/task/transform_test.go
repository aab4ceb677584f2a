package task_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/polyrun/internal/polyglot"
	"github.com/mpataki/polyrun/internal/task"
	"github.com/mpataki/polyrun/internal/testutil"

	_ "github.com/mpataki/polyrun/internal/polyglot/javascript"
	_ "github.com/mpataki/polyrun/internal/polyglot/lua"
	_ "github.com/mpataki/polyrun/internal/polyglot/starlark"
)

// scripts holds one script per language for each transform behaviour
var scripts = map[string]map[string]string{
	"javascript": {
		"drop666": `if (row.id === 666) { row = null } else { row.doubled = row.id * 2 }`,
		"fanout":  `({rows: [row, {copy: row.id}, {copy: row.id * 10}]})`,
		"none":    `({rows: []})`,
		"tag":     `row.tagged = true`,
	},
	"lua": {
		"drop666": `if row.id == 666 then row = nil else row.doubled = row.id * 2 end`,
		"fanout":  `return {rows = {row, {copy = row.id}, {copy = row.id * 10}}}`,
		"none":    `return {rows = {}}`,
		"tag":     `row.tagged = true`,
	},
	"starlark": {
		"drop666": "if row['id'] == 666:\n    polyglot.export_value('row', None)\nelse:\n    row['doubled'] = row['id'] * 2",
		"fanout":  `{'rows': [row, {'copy': row['id']}, {'copy': row['id'] * 10}]}`,
		"none":    `{'rows': []}`,
		"tag":     `row['tagged'] = True`,
	},
}

func languages() []string {
	return []string{"javascript", "lua", "starlark"}
}

func TestTransformDropsAndModifies(t *testing.T) {
	for _, lang := range languages() {
		t.Run(lang, func(t *testing.T) {
			run := testutil.NewRun(t, nil)

			tr := &task.Transform{
				Language: lang,
				Script:   scripts[lang]["drop666"],
				From:     `[{"id":1},{"id":2},{"id":666}]`,
			}
			out, err := tr.Run(context.Background(), run.Context)
			require.NoError(t, err)

			assert.Equal(t, int64(2), out.Records)
			assert.Equal(t, []any{
				polyglot.MapOf("id", int32(1), "doubled", int32(2)),
				polyglot.MapOf("id", int32(2), "doubled", int32(4)),
			}, run.Records(t, out.URI))

			counters := run.Metrics.Named(task.RecordsMetric)
			require.Len(t, counters, 1)
			assert.Equal(t, float64(2), counters[0].Value)
		})
	}
}

func TestTransformFansOut(t *testing.T) {
	for _, lang := range languages() {
		t.Run(lang, func(t *testing.T) {
			run := testutil.NewRun(t, nil)

			tr := &task.Transform{
				Language: lang,
				Script:   scripts[lang]["fanout"],
				From:     `[{"id":1},{"id":2}]`,
			}
			out, err := tr.Run(context.Background(), run.Context)
			require.NoError(t, err)

			assert.Equal(t, int64(6), out.Records)
			assert.Equal(t, []any{
				polyglot.MapOf("id", int32(1)),
				polyglot.MapOf("copy", int32(1)),
				polyglot.MapOf("copy", int32(10)),
				polyglot.MapOf("id", int32(2)),
				polyglot.MapOf("copy", int32(2)),
				polyglot.MapOf("copy", int32(20)),
			}, run.Records(t, out.URI))
		})
	}
}

func TestTransformEmptyRowsEmitsNothing(t *testing.T) {
	for _, lang := range languages() {
		t.Run(lang, func(t *testing.T) {
			run := testutil.NewRun(t, nil)

			tr := &task.Transform{
				Language: lang,
				Script:   scripts[lang]["none"],
				From:     `[{"id":1},{"id":2}]`,
			}
			out, err := tr.Run(context.Background(), run.Context)
			require.NoError(t, err)

			assert.Equal(t, int64(0), out.Records)
			assert.Empty(t, run.Records(t, out.URI))

			counters := run.Metrics.Named(task.RecordsMetric)
			require.Len(t, counters, 1)
			assert.Equal(t, float64(0), counters[0].Value)
		})
	}
}

func TestTransformConcurrentMatchesSequential(t *testing.T) {
	from := `[{"id":1},{"id":2},{"id":3},{"id":4},{"id":5},{"id":6},{"id":666}]`

	for _, lang := range languages() {
		t.Run(lang, func(t *testing.T) {
			seqRun := testutil.NewRun(t, nil)
			seq, err := (&task.Transform{
				Language: lang,
				Script:   scripts[lang]["drop666"],
				From:     from,
			}).Run(context.Background(), seqRun.Context)
			require.NoError(t, err)

			parRun := testutil.NewRun(t, nil)
			par, err := (&task.Transform{
				Language:   lang,
				Script:     scripts[lang]["drop666"],
				From:       from,
				Concurrent: 3,
			}).Run(context.Background(), parRun.Context)
			require.NoError(t, err)

			assert.Equal(t, int64(6), seq.Records)
			assert.Equal(t, seq.Records, par.Records)
			assert.ElementsMatch(t, seqRun.Records(t, seq.URI), parRun.Records(t, par.URI))

			counters := parRun.Metrics.Named(task.RecordsMetric)
			require.Len(t, counters, 1)
			assert.Equal(t, float64(6), counters[0].Value)
		})
	}
}

func TestTransformConcurrentPassThrough(t *testing.T) {
	from := `[{"id":1},{"id":2},{"id":3},{"id":4},{"id":5},{"id":6},{"id":7}]`

	for _, lang := range languages() {
		t.Run(lang, func(t *testing.T) {
			run := testutil.NewRun(t, nil)
			out, err := (&task.Transform{
				Language:   lang,
				Script:     scripts[lang]["tag"],
				From:       from,
				Concurrent: 3,
			}).Run(context.Background(), run.Context)
			require.NoError(t, err)

			want := make([]any, 0, 7)
			for i := 1; i <= 7; i++ {
				want = append(want, polyglot.MapOf("id", int32(i), "tagged", true))
			}
			assert.ElementsMatch(t, want, run.Records(t, out.URI))
		})
	}
}

func TestTransformReadsBlobInput(t *testing.T) {
	run := testutil.NewRun(t, nil)
	uri := run.Store.PutBytes([]byte("{\"id\":1}\n{\"id\":666}\n{\"id\":3}\n"))

	out, err := (&task.Transform{
		Language: "javascript",
		Script:   scripts["javascript"]["drop666"],
		From:     uri,
	}).Run(context.Background(), run.Context)
	require.NoError(t, err)

	assert.Equal(t, []any{
		polyglot.MapOf("id", int32(1), "doubled", int32(2)),
		polyglot.MapOf("id", int32(3), "doubled", int32(6)),
	}, run.Records(t, out.URI))
}

func TestTransformSingleInlineRecord(t *testing.T) {
	run := testutil.NewRun(t, nil)

	out, err := (&task.Transform{
		Language: "lua",
		Script:   scripts["lua"]["tag"],
		From:     `{"id": 9}`,
	}).Run(context.Background(), run.Context)
	require.NoError(t, err)

	assert.Equal(t, []any{polyglot.MapOf("id", int32(9), "tagged", true)}, run.Records(t, out.URI))
}

func TestTransformSeesVariables(t *testing.T) {
	run := testutil.NewRun(t, polyglot.MapOf("factor", int32(3)))

	out, err := (&task.Transform{
		Language: "javascript",
		Script:   `row.scaled = row.n * factor`,
		From:     `[{"n":1},{"n":2}]`,
	}).Run(context.Background(), run.Context)
	require.NoError(t, err)

	assert.Equal(t, []any{
		polyglot.MapOf("n", int32(1), "scaled", int32(3)),
		polyglot.MapOf("n", int32(2), "scaled", int32(6)),
	}, run.Records(t, out.URI))
}

func TestTransformErrorAbortsPipeline(t *testing.T) {
	for _, concurrent := range []int{0, 3} {
		run := testutil.NewRun(t, nil)

		_, err := (&task.Transform{
			Language:   "javascript",
			Script:     `if (row.id === 2) { throw new Error("bad record " + row.id) }`,
			From:       `[{"id":1},{"id":2},{"id":3},{"id":4}]`,
			Concurrent: concurrent,
		}).Run(context.Background(), run.Context)

		var evalErr *polyglot.EvalError
		require.ErrorAs(t, err, &evalErr)
		assert.Contains(t, evalErr.Message, "bad record 2")

		// nothing is stored or counted for a failed pipeline
		assert.Equal(t, 0, run.Store.Len())
		assert.Empty(t, run.Metrics.Named(task.RecordsMetric))
	}
}

func TestTransformCancelledBeforeStart(t *testing.T) {
	for _, concurrent := range []int{0, 3} {
		run := testutil.NewRun(t, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := (&task.Transform{
			Language:   "javascript",
			Script:     `runContext.counter("seen", 1)`,
			From:       `[{"id":1},{"id":2},{"id":3},{"id":4}]`,
			Concurrent: concurrent,
		}).Run(ctx, run.Context)

		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, run.Metrics.Named("seen"), "records evaluated after cancellation")
	}
}

func TestTransformMapRow(t *testing.T) {
	run := testutil.NewRun(t, nil)

	out, err := (&task.Transform{
		Language: "javascript",
		Script:   `row = new Map([["id", row.id], ["seen", true]])`,
		From:     `[{"id":1},{"id":2}]`,
	}).Run(context.Background(), run.Context)
	require.NoError(t, err)

	assert.Equal(t, []any{
		polyglot.MapOf("id", int32(1), "seen", true),
		polyglot.MapOf("id", int32(2), "seen", true),
	}, run.Records(t, out.URI))
}

func TestTransformRowsMustBeSequence(t *testing.T) {
	run := testutil.NewRun(t, nil)

	_, err := (&task.Transform{
		Language: "javascript",
		Script:   `({rows: 5})`,
		From:     `[{"id":1}]`,
	}).Run(context.Background(), run.Context)
	assert.ErrorIs(t, err, polyglot.ErrTypeMismatch)
}

func TestTransformInvalidInlineInput(t *testing.T) {
	run := testutil.NewRun(t, nil)

	_, err := (&task.Transform{
		Language: "javascript",
		Script:   `row`,
		From:     `[{"id":1}`,
	}).Run(context.Background(), run.Context)
	assert.ErrorContains(t, err, "parsing inline records")
}

func TestTransformMissingBlob(t *testing.T) {
	run := testutil.NewRun(t, nil)

	_, err := (&task.Transform{
		Language: "javascript",
		Script:   `row`,
		From:     "polyrun:///00000000-0000-0000-0000-000000000000",
	}).Run(context.Background(), run.Context)
	assert.Error(t, err)
}

func TestTransformLoadsModules(t *testing.T) {
	run := testutil.NewRun(t, nil)
	uri := run.Store.PutBytes([]byte("return { triple = function(x) return x * 3 end }"))

	out, err := (&task.Transform{
		Language: "lua",
		Script:   `local m = require('math3'); row.n = m.triple(row.n)`,
		From:     `[{"n":2}]`,
		Modules:  map[string]string{"math3.lua": uri},
	}).Run(context.Background(), run.Context)
	require.NoError(t, err)

	assert.Equal(t, []any{polyglot.MapOf("n", int32(6))}, run.Records(t, out.URI))
}
