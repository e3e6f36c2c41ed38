package download

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/geoyee/slippytile/internal/client"
	"github.com/geoyee/slippytile/internal/config"
	"github.com/geoyee/slippytile/internal/logger"
	"github.com/geoyee/slippytile/internal/model"
	"github.com/geoyee/slippytile/internal/storage"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}

// memStore is an in-memory storage.Store.
type memStore struct {
	mu       sync.Mutex
	files    map[string][]byte
	failNext int
	writes   int
}

func newMemStore() *memStore {
	return &memStore{files: make(map[string][]byte)}
}

func (s *memStore) Exists(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[path]
	return ok
}

func (s *memStore) Read(path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (s *memStore) Write(path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failNext > 0 {
		s.failNext--
		return errors.New("disk full")
	}
	s.files[path] = append([]byte(nil), data...)
	return nil
}

// fakeFetcher answers from a script of status codes; once the script is used
// up every call returns 200 with a PNG body.
type fakeFetcher struct {
	mu     sync.Mutex
	calls  int
	urls   []string
	script []int
	block  chan struct{}
	body   []byte
}

func (f *fakeFetcher) Get(ctx context.Context, url string, headers map[string]string) (int, []byte, error) {
	f.mu.Lock()
	f.calls++
	f.urls = append(f.urls, url)
	status := 200
	if len(f.script) > 0 {
		status = f.script[0]
		f.script = f.script[1:]
	}
	block := f.block
	body := f.body
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if status < 0 {
		return 0, nil, errors.New("connection refused")
	}
	if body == nil {
		body = pngBytes
	}
	return status, body, nil
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// panicFetcher fails the test if the network is touched.
type panicFetcher struct {
	t *testing.T
}

func (f panicFetcher) Get(context.Context, string, map[string]string) (int, []byte, error) {
	f.t.Errorf("unexpected network fetch")
	return 500, nil, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testSettings(t *testing.T) *config.Settings {
	s := config.Default()
	s.TilesDirectory = t.TempDir()
	s.Endpoint = "http://tiles.test"
	s.RateLimitRequests = 0
	s.MaxConcurrentDownloads = 4
	s.MaxRetries = 3
	s.ResumeFile = ""
	s.StatsInterval = 0
	return s
}

func newTestDownloader(t *testing.T, s *config.Settings, store *memStore, fetcher client.Fetcher, opts ...Option) *Downloader {
	t.Helper()
	d, err := New(s, store, fetcher, logger.NewNoOpLogger(), opts...)
	require.NoError(t, err)
	return d
}

// tickUntilIdle ticks until the downloader has no work left.
func tickUntilIdle(t *testing.T, d *Downloader) []model.Event {
	t.Helper()
	var events []model.Event
	deadline := time.Now().Add(5 * time.Second)
	for {
		events = append(events, d.Tick()...)
		if d.Idle() {
			return events
		}
		if time.Now().After(deadline) {
			t.Fatalf("downloader still busy: inflight=%d buffered=%d", d.inflight.Len(), d.buffered.Len())
		}
		time.Sleep(time.Millisecond)
	}
}

func tileKey(x, y uint32, z model.ZoomLevel) model.TileKey {
	return model.TileKey{Coordinates: model.TileCoordinates{X: x, Y: y}, Zoom: z, Size: model.TileSizeNormal}
}

func single(key model.TileKey, useCache bool) model.RegionRequest {
	return model.RegionRequest{Size: key.Size, Zoom: key.Zoom, Center: key.Coordinates, UseCache: useCache}
}
