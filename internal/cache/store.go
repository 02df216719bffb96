package cache

import "io"

// Store is a cache backend. Implementations must treat zero-byte entries as
// absent and must never expose a partially-written entry to Probe or Open.
type Store interface {
	// Probe reports whether a finished entry exists for the key.
	Probe(key string) bool

	// Open returns a reader over a finished entry and its size.
	Open(key string) (io.ReadCloser, int64, error)

	// Begin starts writing a new entry. A nil EntryWriter with a nil
	// error means caching is skipped for this request (for example
	// because a concurrent writer already holds the key); the caller must
	// still serve its response.
	Begin(key string) (EntryWriter, error)
}

// EntryWriter accumulates one streamed entry. Exactly one of Finalize or
// Discard must be called.
type EntryWriter interface {
	io.Writer

	// Finalize commits the entry if any bytes were written; an empty
	// entry is dropped instead of being committed.
	Finalize() error

	// Discard abandons the entry without committing it.
	Discard()
}
