package registry

import (
	"time"

	"github.com/geoyee/slippytile/internal/model"
)

// Handle is a pollable view of an asynchronous fetch.
type Handle interface {
	// Poll returns the result once it is available. It never blocks.
	Poll() (model.FetchResult, bool)
}

// Flight is one outstanding fetch.
type Flight struct {
	Handle    Handle
	StartedAt time.Time
	// Refresh marks a forced re-download of a tile that was already Downloaded.
	Refresh bool
}

// InFlight maps tile keys to outstanding fetches. An entry exists exactly while
// its fetch is unresolved.
type InFlight struct {
	flights map[model.TileKey]Flight
}

// NewInFlight creates an empty in-flight set.
func NewInFlight() *InFlight {
	return &InFlight{flights: make(map[model.TileKey]Flight)}
}

func (f *InFlight) Put(key model.TileKey, flight Flight) {
	f.flights[key] = flight
}

func (f *InFlight) Get(key model.TileKey) (Flight, bool) {
	fl, ok := f.flights[key]
	return fl, ok
}

func (f *InFlight) Delete(key model.TileKey) {
	delete(f.flights, key)
}

func (f *InFlight) Len() int {
	return len(f.flights)
}

// Keys returns the keys of all outstanding fetches in no particular order.
func (f *InFlight) Keys() []model.TileKey {
	keys := make([]model.TileKey, 0, len(f.flights))
	for k := range f.flights {
		keys = append(keys, k)
	}
	return keys
}

// Stale reports whether the flight for key started more than maxAge before now.
// A zero maxAge disables staleness.
func (f *InFlight) Stale(key model.TileKey, now time.Time, maxAge time.Duration) bool {
	fl, ok := f.flights[key]
	if !ok || maxAge <= 0 {
		return false
	}
	return now.Sub(fl.StartedAt) > maxAge
}
