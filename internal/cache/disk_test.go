package cache

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDisk(t *testing.T) *Disk {
	t.Helper()
	d, err := NewDisk(t.TempDir(), nil)
	require.NoError(t, err)
	return d
}

func TestDiskProbeMissWhenAbsent(t *testing.T) {
	d := newDisk(t)
	assert.False(t, d.Probe("img/base.jpeg"))
}

func TestDiskProbeMissOnZeroByteFile(t *testing.T) {
	d := newDisk(t)
	full := filepath.Join(d.root, "img", "base.jpeg")
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, nil, 0o644))

	assert.False(t, d.Probe("img/base.jpeg"))
}

func TestDiskWriteFinalizeProbeOpen(t *testing.T) {
	d := newDisk(t)
	const key = "img/nested/resize_10_10_0.jpeg"

	w, err := d.Begin(key)
	require.NoError(t, err)
	require.NotNil(t, w)

	_, err = w.Write([]byte("hello "))
	require.NoError(t, err)

	// A write in progress is never visible as a hit.
	assert.False(t, d.Probe(key))

	_, err = w.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, w.Finalize())

	assert.True(t, d.Probe(key))

	rc, size, err := d.Open(key)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, int64(11), size)

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	// No temp files are left behind after the commit.
	entries, err := os.ReadDir(filepath.Dir(filepath.Join(d.root, key)))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "resize_10_10_0.jpeg", entries[0].Name())
}

func TestDiskFinalizeEmptyEntryDropsFile(t *testing.T) {
	d := newDisk(t)
	const key = "img/base.jpeg"

	w, err := d.Begin(key)
	require.NoError(t, err)
	require.NotNil(t, w)
	require.NoError(t, w.Finalize())

	assert.False(t, d.Probe(key))
	entries, err := os.ReadDir(filepath.Join(d.root, "img"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDiskDiscardRemovesTemp(t *testing.T) {
	d := newDisk(t)
	const key = "img/base.jpeg"

	w, err := d.Begin(key)
	require.NoError(t, err)
	require.NotNil(t, w)
	_, err = w.Write([]byte("partial output"))
	require.NoError(t, err)
	w.Discard()

	assert.False(t, d.Probe(key))
	entries, err := os.ReadDir(filepath.Join(d.root, "img"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDiskBeginSkipsWhenFinalExists(t *testing.T) {
	d := newDisk(t)
	const key = "img/base.jpeg"

	w, err := d.Begin(key)
	require.NoError(t, err)
	require.NotNil(t, w)
	_, err = w.Write([]byte("cached"))
	require.NoError(t, err)
	require.NoError(t, w.Finalize())

	// A second writer for the same key is skipped, not an error.
	w2, err := d.Begin(key)
	require.NoError(t, err)
	assert.Nil(t, w2)
}

func TestDiskConcurrentWritersLastRenameWins(t *testing.T) {
	d := newDisk(t)
	const key = "img/base.jpeg"

	w1, err := d.Begin(key)
	require.NoError(t, err)
	require.NotNil(t, w1)
	w2, err := d.Begin(key)
	require.NoError(t, err)

	_, err = w1.Write([]byte("first"))
	require.NoError(t, err)
	require.NoError(t, w1.Finalize())

	if w2 != nil {
		_, err = w2.Write([]byte("second"))
		require.NoError(t, err)
		require.NoError(t, w2.Finalize())
	}

	// Whichever writer committed last, the entry is complete.
	rc, _, err := d.Open(key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Contains(t, []string{"first", "second"}, string(data))
}

func TestDiskRejectsTraversalKeys(t *testing.T) {
	d := newDisk(t)

	assert.False(t, d.Probe("../outside.jpeg"))

	_, err := d.Begin("../outside.jpeg")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "traversal"))
}

func TestDiskCreatesIntermediateDirectories(t *testing.T) {
	d := newDisk(t)
	const key = "a/b/c/d/base.jpeg"

	w, err := d.Begin(key)
	require.NoError(t, err)
	require.NotNil(t, w)
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, w.Finalize())

	assert.True(t, d.Probe(key))
}
