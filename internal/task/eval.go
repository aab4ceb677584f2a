// Package task implements the two script tasks: inline evaluation and the
// row transform pipeline
package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mpataki/polyrun/internal/polyglot"
	"github.com/mpataki/polyrun/internal/runctx"
)

// Eval evaluates a script once against the run context variables
type Eval struct {
	Language string
	Script   string
	// Outputs names the values to read back from the result or the bindings
	Outputs []string
	// Modules maps module file names to inline text or a storage URI
	Modules map[string]string
}

// EvalOutput holds at most one of Result and Outputs
type EvalOutput struct {
	Result  any
	Outputs *polyglot.Map
}

func (t *Eval) Run(ctx context.Context, rc *runctx.RunContext) (*EvalOutput, error) {
	session, err := openSession(ctx, rc, t.Language, t.Modules)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	prog, err := session.Compile("eval", t.Script)
	if err != nil {
		return nil, err
	}
	scope, err := session.NewScope()
	if err != nil {
		return nil, err
	}

	bindings := scope.Bindings()
	if err := rc.Bind(ctx, bindings); err != nil {
		return nil, fmt.Errorf("binding variables: %w", err)
	}

	result, err := scope.Eval(ctx, prog)
	if err != nil {
		return nil, err
	}
	if result.Kind() == polyglot.KindExecutable {
		if result, err = result.Call(ctx); err != nil {
			return nil, err
		}
	}

	out, err := collect(result, bindings, t.Outputs)
	if err != nil {
		return nil, err
	}
	session.Logger().Debug("script evaluated",
		slog.String("language", t.Language),
		slog.String("result", result.Kind().String()),
	)
	return out, nil
}

// collect reads the task output from the script result
func collect(result polyglot.Value, bindings polyglot.Bindings, outputs []string) (*EvalOutput, error) {
	kind := result.Kind()

	if kind == polyglot.KindOpaque && len(outputs) == 0 {
		return &EvalOutput{Result: result.AsOpaque()}, nil
	}
	if len(outputs) == 0 {
		return &EvalOutput{}, nil
	}

	lookup := bindings.Get
	switch kind {
	case polyglot.KindHashLike, polyglot.KindMemberBearing:
		lookup = result.Member
	case polyglot.KindNull, polyglot.KindString, polyglot.KindNumeric, polyglot.KindFallback:
	default:
		return &EvalOutput{}, nil
	}

	values := polyglot.NewMap()
	for _, name := range outputs {
		v, ok := lookup(name)
		if !ok {
			values.Set(name, nil)
			continue
		}
		host, err := polyglot.Convert(v)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", name, err)
		}
		values.Set(name, host)
	}
	return &EvalOutput{Outputs: values}, nil
}
