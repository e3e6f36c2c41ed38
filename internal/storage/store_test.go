package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreWriteRead(t *testing.T) {
	fs, err := NewFileStore(4)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", "10.1.2.256.tile.png")
	assert.False(t, fs.Exists(path))

	require.NoError(t, fs.Write(path, []byte("tile-bytes")))
	assert.True(t, fs.Exists(path))

	data, err := fs.Read(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("tile-bytes"), data)

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("tile-bytes"), onDisk)
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	fs, err := NewFileStore(0)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, fs.Write(filepath.Join(dir, "a.tile.png"), []byte("a")))
	require.NoError(t, fs.Write(filepath.Join(dir, "a.tile.png"), []byte("b")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.tile.png", entries[0].Name())
}

func TestFileStoreReadMissing(t *testing.T) {
	fs, err := NewFileStore(0)
	require.NoError(t, err)

	_, err = fs.Read(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFileStoreDirectoryIsNotATile(t *testing.T) {
	fs, err := NewFileStore(0)
	require.NoError(t, err)
	assert.False(t, fs.Exists(t.TempDir()))
}

func TestFileStoreReadCache(t *testing.T) {
	fs, err := NewFileStore(1)
	require.NoError(t, err)

	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, fs.Write(a, []byte("a")))
	require.NoError(t, fs.Write(b, []byte("b")))
	assert.Equal(t, 1, fs.Len())

	// Cached bytes are served even if the file changes underneath.
	require.NoError(t, os.WriteFile(b, []byte("changed"), 0644))
	data, err := fs.Read(b)
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), data)

	// a was evicted and is read back from disk.
	data, err = fs.Read(a)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), data)
}
