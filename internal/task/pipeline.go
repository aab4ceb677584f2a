package task

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/mpataki/polyrun/internal/polyglot"
	"github.com/mpataki/polyrun/internal/runctx"
)

const (
	rowBinding  = "row"
	rowsMember  = "rows"
	queueFactor = 2
)

type pipeline struct {
	session *polyglot.Session
	prog    polyglot.Program
	rc      *runctx.RunContext
	out     *recordWriter
}

// worker owns one scope; scopes never cross goroutines
type worker struct {
	p     *pipeline
	scope polyglot.Scope
}

func (p *pipeline) newWorker() (*worker, error) {
	scope, err := p.session.NewScope()
	if err != nil {
		return nil, err
	}
	return &worker{p: p, scope: scope}, nil
}

// runSequential processes records on the calling goroutine in input order
func (p *pipeline) runSequential(ctx context.Context, reader RecordReader) error {
	w, err := p.newWorker()
	if err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := w.handle(ctx, record); err != nil {
			return err
		}
	}
}

// runParallel fans records out to n workers. Output is written in
// completion order; the first error cancels the rest
func (p *pipeline) runParallel(ctx context.Context, reader RecordReader, n int) error {
	workers := make([]*worker, n)
	for i := range workers {
		w, err := p.newWorker()
		if err != nil {
			return err
		}
		workers[i] = w
	}

	g, ctx := errgroup.WithContext(ctx)
	records := make(chan any, n*queueFactor)

	g.Go(func() error {
		defer close(records)
		for {
			record, err := reader.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			select {
			case records <- record:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	for _, w := range workers {
		g.Go(func() error {
			for record := range records {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := w.handle(ctx, record); err != nil {
					return err
				}
			}
			return nil
		})
	}

	return g.Wait()
}

// handle evaluates one record and writes what it emits
func (w *worker) handle(ctx context.Context, record any) error {
	out, err := w.process(ctx, record)
	if err != nil {
		return err
	}
	for _, r := range out {
		if err := w.p.out.write(r); err != nil {
			return err
		}
	}
	return nil
}

// process binds the record, evaluates the program and reads back the
// records it emits. Alternate-scope languages hold the session turn for the
// whole exchange, since their bindings live in the shared polyglot scope
func (w *worker) process(ctx context.Context, record any) ([]any, error) {
	p := w.p
	if p.session.Language().AlternateScope() {
		release := p.session.Turn()
		defer release()
	}

	bindings := w.scope.Bindings()
	if err := p.rc.Bind(ctx, bindings); err != nil {
		return nil, fmt.Errorf("binding variables: %w", err)
	}
	if err := bindings.Put(rowBinding, record); err != nil {
		return nil, fmt.Errorf("binding row: %w", err)
	}

	result, err := w.scope.Eval(ctx, p.prog)
	if err != nil {
		return nil, err
	}
	return emitted(result, bindings)
}

// emitted applies the row protocol: a rows member fans out, a null row
// drops the record, otherwise the row binding is the output
func emitted(result polyglot.Value, bindings polyglot.Bindings) ([]any, error) {
	if rows, ok := result.Member(rowsMember); ok {
		return rowsOf(rows)
	}

	row, ok := bindings.Get(rowBinding)
	if !ok || row.Kind() == polyglot.KindNull {
		return nil, nil
	}
	host, err := polyglot.Convert(row)
	if err != nil {
		return nil, fmt.Errorf("row: %w", err)
	}
	return []any{host}, nil
}

func rowsOf(rows polyglot.Value) ([]any, error) {
	elems, ok := rows.Elements()
	if !ok {
		// an empty table or object converts to an empty map
		host, err := polyglot.Convert(rows)
		if err != nil {
			return nil, fmt.Errorf("rows: %w", err)
		}
		if m, isMap := host.(*polyglot.Map); isMap && m.Len() == 0 {
			return nil, nil
		}
		if host == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("rows: %w: expected a sequence, got %T", polyglot.ErrTypeMismatch, host)
	}

	out := make([]any, 0, len(elems))
	for i, e := range elems {
		host, err := polyglot.Convert(e)
		if err != nil {
			return nil, fmt.Errorf("rows[%d]: %w", i, err)
		}
		out = append(out, host)
	}
	return out, nil
}
