package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoyee/slippytile/internal/model"
)

func key(x, y uint32, z model.ZoomLevel, size model.TileSize) model.TileKey {
	return model.TileKey{Coordinates: model.TileCoordinates{X: x, Y: y}, Zoom: z, Size: size}
}

func TestRegistryKeysAreStructural(t *testing.T) {
	r := New()
	r.Insert(key(100, 50, 10, model.TileSizeNormal), "filename", model.StatusDownloading)

	assert.False(t, r.Contains(key(100, 50, 1, model.TileSizeNormal)))
	assert.False(t, r.Contains(key(100, 50, 10, model.TileSizeLarge)))
	assert.False(t, r.Contains(key(100, 100, 10, model.TileSizeNormal)))
	assert.True(t, r.Contains(key(100, 50, 10, model.TileSizeNormal)))

	r.Insert(key(50, 100, 18, model.TileSizeLarge), "filename", model.StatusDownloaded)
	assert.False(t, r.Contains(key(50, 100, 1, model.TileSizeLarge)))
	assert.False(t, r.Contains(key(50, 100, 18, model.TileSizeNormal)))
	assert.False(t, r.Contains(key(100, 50, 18, model.TileSizeLarge)))
	assert.True(t, r.Contains(key(50, 100, 18, model.TileSizeLarge)))
	assert.Equal(t, 2, r.Len())
}

func TestRegistryInsertOverwrites(t *testing.T) {
	r := New()
	k := key(1, 2, 3, model.TileSizeNormal)
	r.Insert(k, "a", model.StatusDownloading)
	r.Insert(k, "b", model.StatusDownloaded)

	e, ok := r.Get(k)
	require.True(t, ok)
	assert.Equal(t, "b", e.Path)
	assert.Equal(t, model.StatusDownloaded, e.Status)

	status, ok := r.Status(k)
	require.True(t, ok)
	assert.Equal(t, model.StatusDownloaded, status)
}

func TestRegistryRemoveKeepsDownloaded(t *testing.T) {
	r := New()
	downloading := key(1, 1, 5, model.TileSizeNormal)
	downloaded := key(2, 2, 5, model.TileSizeNormal)
	r.Insert(downloading, "a", model.StatusDownloading)
	r.Insert(downloaded, "b", model.StatusDownloaded)

	assert.True(t, r.Remove(downloading))
	assert.False(t, r.Remove(downloaded))
	assert.False(t, r.Remove(key(9, 9, 5, model.TileSizeNormal)))
	assert.False(t, r.Contains(downloading))
	assert.True(t, r.Contains(downloaded))
}

func TestRegistrySnapshotIsCopy(t *testing.T) {
	r := New()
	k := key(1, 1, 1, model.TileSizeNormal)
	r.Insert(k, "a", model.StatusDownloaded)

	snap := r.Snapshot()
	delete(snap, k)
	assert.True(t, r.Contains(k))
}

type doneHandle struct{ result model.FetchResult }

func (h doneHandle) Poll() (model.FetchResult, bool) { return h.result, true }

func TestInFlight(t *testing.T) {
	f := NewInFlight()
	k := key(3, 3, 3, model.TileSizeNormal)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	f.Put(k, Flight{Handle: doneHandle{}, StartedAt: start})
	assert.Equal(t, 1, f.Len())
	assert.Equal(t, []model.TileKey{k}, f.Keys())

	_, ok := f.Get(k)
	assert.True(t, ok)

	assert.False(t, f.Stale(k, start.Add(time.Minute), 0))
	assert.False(t, f.Stale(k, start.Add(time.Second), time.Minute))
	assert.True(t, f.Stale(k, start.Add(2*time.Minute), time.Minute))

	f.Delete(k)
	assert.Equal(t, 0, f.Len())
	assert.False(t, f.Stale(k, start.Add(time.Hour), time.Minute))
}
