package cache

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dgraph-io/ristretto"
)

// Memory is an in-memory cache backend over ristretto, sized by total entry
// bytes. Useful for deployments where the working set is small and disk
// round-trips are not worth it.
type Memory struct {
	cache *ristretto.Cache
}

// NewMemory creates a memory store holding at most maxBytes of entries.
func NewMemory(maxBytes int64) (*Memory, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	return &Memory{cache: c}, nil
}

func (m *Memory) get(key string) ([]byte, bool) {
	v, ok := m.cache.Get(key)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok && len(b) > 0
}

// Probe reports whether a finished entry is resident.
func (m *Memory) Probe(key string) bool {
	_, ok := m.get(key)
	return ok
}

// Open returns a reader over a resident entry.
func (m *Memory) Open(key string) (io.ReadCloser, int64, error) {
	b, ok := m.get(key)
	if !ok {
		return nil, 0, fmt.Errorf("cache entry not found: %s", key)
	}
	return io.NopCloser(bytes.NewReader(b)), int64(len(b)), nil
}

// Begin starts buffering a new entry.
func (m *Memory) Begin(key string) (EntryWriter, error) {
	if m.Probe(key) {
		return nil, nil
	}
	return &memoryWriter{key: key, cache: m.cache}, nil
}

// Wait blocks until buffered writes are visible. Ristretto applies sets
// through a ring buffer, so entries are not readable immediately after
// Finalize; tests use this.
func (m *Memory) Wait() {
	m.cache.Wait()
}

type memoryWriter struct {
	key   string
	buf   bytes.Buffer
	cache *ristretto.Cache
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *memoryWriter) Finalize() error {
	if w.buf.Len() == 0 {
		return nil
	}
	b := w.buf.Bytes()
	w.cache.Set(w.key, b, int64(len(b)))
	return nil
}

func (w *memoryWriter) Discard() {
	w.buf.Reset()
}
