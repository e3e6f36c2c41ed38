// Package storage persists tile artifacts. The downloader only depends on the
// Store interface; FileStore is the disk implementation.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/geoyee/slippytile/internal/util"
)

// ErrNotFound is returned by Read for a missing artifact.
var ErrNotFound = errors.New("tile not found")

// Store reads and writes tile bytes by path.
type Store interface {
	// Exists reports whether an artifact is present. Read failures count as absent.
	Exists(path string) bool
	Read(path string) ([]byte, error)
	// Write stores data so that a reader sees either nothing or the complete artifact.
	Write(path string, data []byte) error
}

// DefaultReadCacheSize is the number of tiles FileStore keeps in memory.
const DefaultReadCacheSize = 256

// FileStore stores tiles as plain files and keeps recently touched tiles in an
// LRU so repeated loads of the same artifact skip the disk.
type FileStore struct {
	cache *lru.Cache[string, []byte]
}

// NewFileStore creates a store with an LRU of cacheSize tiles (0 disables it).
func NewFileStore(cacheSize int) (*FileStore, error) {
	fs := &FileStore{}
	if cacheSize > 0 {
		cache, err := lru.New[string, []byte](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create read cache: %w", err)
		}
		fs.cache = cache
	}
	return fs, nil
}

func (fs *FileStore) Exists(path string) bool {
	if fs.cache != nil && fs.cache.Contains(path) {
		return true
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (fs *FileStore) Read(path string) ([]byte, error) {
	if fs.cache != nil {
		if data, ok := fs.cache.Get(path); ok {
			return data, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if fs.cache != nil {
		fs.cache.Add(path, data)
	}
	return data, nil
}

// Write writes to a temporary file in the target directory, syncs and closes
// it, then renames it into place.
func (fs *FileStore) Write(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := util.EnsureDirExists(dir); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tile-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write tile: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync tile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close tile: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to move tile into place: %w", err)
	}

	if fs.cache != nil {
		fs.cache.Add(path, data)
	}
	return nil
}

// Len returns the number of tiles held in the read cache.
func (fs *FileStore) Len() int {
	if fs.cache == nil {
		return 0
	}
	return fs.cache.Len()
}
