package task

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mpataki/polyrun/internal/polyglot"
	"github.com/mpataki/polyrun/internal/runctx"
)

// RecordReader yields input records one at a time. Next returns io.EOF
// after the last record
type RecordReader interface {
	Next() (any, error)
	Close() error
}

// OpenRecords opens the transform input. A storage URI streams JSON lines
// from the blob store; anything else is inline JSON, where an array yields
// one record per element and any other value is a single record
func OpenRecords(ctx context.Context, rc *runctx.RunContext, from string) (RecordReader, error) {
	if runctx.IsStorageURI(from) {
		if rc.Storage == nil {
			return nil, fmt.Errorf("reading %s: run context has no blob store", from)
		}
		r, err := rc.Storage.Get(ctx, from)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", from, err)
		}
		return &streamReader{r: r, dec: polyglot.NewDecoder(r)}, nil
	}

	v, err := polyglot.DecodeJSON([]byte(from))
	if err != nil {
		return nil, fmt.Errorf("parsing inline records: %w", err)
	}
	if items, ok := v.([]any); ok {
		return &sliceReader{items: items}, nil
	}
	return &sliceReader{items: []any{v}}, nil
}

type streamReader struct {
	r    io.ReadCloser
	dec  *polyglot.Decoder
	line int
}

func (s *streamReader) Next() (any, error) {
	v, err := s.dec.Decode()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("record %d: %w", s.line+1, err)
	}
	s.line++
	return v, nil
}

func (s *streamReader) Close() error {
	return s.r.Close()
}

type sliceReader struct {
	items []any
	pos   int
}

func (s *sliceReader) Next() (any, error) {
	if s.pos >= len(s.items) {
		return nil, io.EOF
	}
	v := s.items[s.pos]
	s.pos++
	return v, nil
}

func (s *sliceReader) Close() error { return nil }
