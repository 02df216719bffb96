package cache

import (
	"fmt"
	"io"
)

// Noop is a cache backend that caches nothing. Every probe misses and every
// write is skipped.
type Noop struct{}

// Probe always misses.
func (Noop) Probe(string) bool { return false }

// Open always fails; Probe never reports a hit.
func (Noop) Open(key string) (io.ReadCloser, int64, error) {
	return nil, 0, fmt.Errorf("cache entry not found: %s", key)
}

// Begin always skips caching.
func (Noop) Begin(string) (EntryWriter, error) { return nil, nil }
