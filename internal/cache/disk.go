package cache

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Disk is the filesystem cache backend. Entries are written to a temporary
// sibling file and renamed into place on completion, so a partial write is
// never visible under the final name and a crash can only leave temp files
// behind.
//
// Concurrent identical requests are not deduplicated: each writer gets its
// own temp name and the last successful rename wins. That race is benign
// because every rename commits a complete, identical entry.
type Disk struct {
	root   string
	logger *slog.Logger
}

// NewDisk creates a disk store rooted at the given directory, creating it
// if needed.
func NewDisk(root string, logger *slog.Logger) (*Disk, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Disk{root: abs, logger: logger}, nil
}

// resolve maps a cache key to an absolute path, refusing anything that
// would escape the cache root.
func (d *Disk) resolve(key string) (string, error) {
	full := filepath.Join(d.root, filepath.FromSlash(key))
	clean := filepath.Clean(full)
	if clean != d.root && !strings.HasPrefix(clean, d.root+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid cache key: path traversal detected")
	}
	return clean, nil
}

// Probe reports whether a finished entry exists: a regular file with
// size > 0. Zero-byte or absent files are always a miss.
func (d *Disk) Probe(key string) bool {
	full, err := d.resolve(key)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// Open returns a reader over a finished entry.
func (d *Disk) Open(key string) (io.ReadCloser, int64, error) {
	full, err := d.resolve(key)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open cache entry: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat cache entry: %w", err)
	}
	return f, info.Size(), nil
}

// Begin opens a temporary sibling file for the key. The temp name embeds a
// timestamp and a random suffix to keep concurrent writers apart. If the
// final path or that exact temp path already exists, caching is skipped for
// this request (nil writer, nil error) — a best-effort race check, not a
// lock.
func (d *Disk) Begin(key string) (EntryWriter, error) {
	final, err := d.resolve(key)
	if err != nil {
		return nil, err
	}

	temp := fmt.Sprintf("%s.cache.%d.%d", final, time.Now().Unix(), rand.Intn(10000))
	if _, err := os.Stat(final); err == nil {
		return nil, nil
	}
	if _, err := os.Stat(temp); err == nil {
		return nil, nil
	}

	// Intermediate directories are created as needed; losing an
	// already-exists race here is fine.
	if err := os.MkdirAll(filepath.Dir(temp), 0o755); err != nil && !os.IsExist(err) {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	f, err := os.OpenFile(temp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open cache temp file: %w", err)
	}

	return &diskWriter{f: f, temp: temp, final: final, logger: d.logger}, nil
}

type diskWriter struct {
	f      *os.File
	temp   string
	final  string
	wrote  int64
	logger *slog.Logger
}

func (w *diskWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	w.wrote += int64(n)
	if err != nil {
		return n, fmt.Errorf("failed to write cache temp file: %w", err)
	}
	return n, nil
}

// Finalize renames the temp file over the final path. The rename is the
// sole commit point. An empty entry is deleted instead of committed.
func (w *diskWriter) Finalize() error {
	if err := w.f.Close(); err != nil {
		os.Remove(w.temp)
		return fmt.Errorf("failed to close cache temp file: %w", err)
	}
	if w.wrote == 0 {
		os.Remove(w.temp)
		return nil
	}
	if err := os.Rename(w.temp, w.final); err != nil {
		os.Remove(w.temp)
		return fmt.Errorf("failed to commit cache entry: %w", err)
	}
	return nil
}

// Discard abandons the temp file. The final path is never created.
func (w *diskWriter) Discard() {
	w.f.Close()
	if err := os.Remove(w.temp); err != nil && !os.IsNotExist(err) {
		w.logger.Warn("failed to remove cache temp file", "path", w.temp, "error", err)
	}
}
