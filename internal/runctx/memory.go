package runctx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/mpataki/polyrun/internal/models"
)

// MemoryMetrics collects counters in memory
type MemoryMetrics struct {
	mu       sync.Mutex
	counters []models.Counter
}

func (m *MemoryMetrics) Record(c models.Counter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, c)
	return nil
}

func (m *MemoryMetrics) Counters() []models.Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Counter, len(m.counters))
	copy(out, m.counters)
	return out
}

// Named returns every recorded counter called name
func (m *MemoryMetrics) Named(name string) []models.Counter {
	var out []models.Counter
	for _, c := range m.Counters() {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// MemoryStore is a BlobStore keeping contents in memory
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	uri := models.StoragePrefix + "/" + uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[uri] = data
	return uri, nil
}

// PutBytes stores data directly
func (s *MemoryStore) PutBytes(data []byte) string {
	uri, _ := s.Put(context.Background(), bytes.NewReader(data))
	return uri
}

func (s *MemoryStore) Get(_ context.Context, uri string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[uri]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", uri)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Bytes returns the stored contents of uri
func (s *MemoryStore) Bytes(uri string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[uri]
	return data, ok
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
