package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoyee/slippytile/internal/model"
)

func req(x uint32) model.BufferedRequest {
	return model.BufferedRequest{
		Key:  model.TileKey{Coordinates: model.TileCoordinates{X: x, Y: 1}, Zoom: 4, Size: model.TileSizeNormal},
		Path: "tiles/x",
	}
}

func TestFIFO(t *testing.T) {
	q := New()
	for i := uint32(0); i < 5; i++ {
		q.PushBack(req(i))
	}
	require.Equal(t, 5, q.Len())

	for i := uint32(0); i < 5; i++ {
		got, ok := q.PopFront()
		require.True(t, ok)
		assert.Equal(t, i, got.Key.Coordinates.X)
	}
	_, ok := q.PopFront()
	assert.False(t, ok)
}

func TestPushFrontKeepsOrder(t *testing.T) {
	q := New()
	q.PushBack(req(1))
	q.PushBack(req(2))

	first, _ := q.PopFront()
	q.PushFront(first)

	peek, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, uint32(1), peek.Key.Coordinates.X)
	assert.Equal(t, 2, q.Len())
}

func TestDrainStopsAtFirstDenial(t *testing.T) {
	q := New()
	for i := uint32(0); i < 6; i++ {
		q.PushBack(req(i))
	}

	budget := 2
	var seen []uint32
	admitted := q.Drain(func(r model.BufferedRequest) bool {
		if budget == 0 {
			return false
		}
		budget--
		seen = append(seen, r.Key.Coordinates.X)
		return true
	})

	assert.Equal(t, 2, admitted)
	assert.Equal(t, []uint32{0, 1}, seen)
	assert.Equal(t, 4, q.Len())

	next, _ := q.Peek()
	assert.Equal(t, uint32(2), next.Key.Coordinates.X)

	// Nothing is lost across repeated drains.
	var rest []uint32
	q.Drain(func(r model.BufferedRequest) bool {
		rest = append(rest, r.Key.Coordinates.X)
		return true
	})
	assert.Equal(t, []uint32{2, 3, 4, 5}, rest)
	assert.Equal(t, 0, q.Len())
}

func TestDrainEmpty(t *testing.T) {
	q := New()
	assert.Equal(t, 0, q.Drain(func(model.BufferedRequest) bool { return true }))
}
