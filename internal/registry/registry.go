// Package registry tracks the download status of every tile the engine has seen
// and the fetches currently in flight. Neither type is safe for concurrent use;
// both belong to the goroutine that drives the downloader tick.
package registry

import (
	"time"

	"github.com/geoyee/slippytile/internal/model"
)

// Entry is the registry record for one tile.
type Entry struct {
	Path      string
	Status    model.DownloadStatus
	UpdatedAt time.Time
}

// Registry maps tile keys to their storage path and status.
type Registry struct {
	entries map[model.TileKey]Entry
	now     func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[model.TileKey]Entry),
		now:     time.Now,
	}
}

func (r *Registry) Contains(key model.TileKey) bool {
	_, ok := r.entries[key]
	return ok
}

func (r *Registry) Get(key model.TileKey) (Entry, bool) {
	e, ok := r.entries[key]
	return e, ok
}

// Status returns the status for key, if any.
func (r *Registry) Status(key model.TileKey) (model.DownloadStatus, bool) {
	e, ok := r.entries[key]
	return e.Status, ok
}

// Insert records path and status for key, replacing any previous entry.
func (r *Registry) Insert(key model.TileKey, path string, status model.DownloadStatus) {
	r.entries[key] = Entry{Path: path, Status: status, UpdatedAt: r.now()}
}

// Remove drops a Downloading entry. Downloaded entries are kept for the
// lifetime of the registry and Remove reports false for them.
func (r *Registry) Remove(key model.TileKey) bool {
	e, ok := r.entries[key]
	if !ok || e.Status == model.StatusDownloaded {
		return false
	}
	delete(r.entries, key)
	return true
}

func (r *Registry) Len() int {
	return len(r.entries)
}

// Snapshot returns a copy of all entries.
func (r *Registry) Snapshot() map[model.TileKey]Entry {
	out := make(map[model.TileKey]Entry, len(r.entries))
	for k, v := range r.entries {
		out[k] = v
	}
	return out
}
