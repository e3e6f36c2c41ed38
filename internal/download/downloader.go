package download

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/geoyee/slippytile/internal/calculator"
	"github.com/geoyee/slippytile/internal/client"
	"github.com/geoyee/slippytile/internal/config"
	"github.com/geoyee/slippytile/internal/limiter"
	"github.com/geoyee/slippytile/internal/logger"
	"github.com/geoyee/slippytile/internal/model"
	"github.com/geoyee/slippytile/internal/queue"
	"github.com/geoyee/slippytile/internal/registry"
	"github.com/geoyee/slippytile/internal/resume"
	"github.com/geoyee/slippytile/internal/stats"
	"github.com/geoyee/slippytile/internal/storage"
	"github.com/geoyee/slippytile/internal/util"
)

// Downloader turns region requests into tile fetches.
//
// Everything except Request, Stats, Completed and RetryFailed belongs to the
// goroutine that calls Tick (or Run). Fetches run on the worker pool and hand
// their results back through handles that Tick polls.
type Downloader struct {
	settings   *config.Settings
	store      storage.Store
	fetcher    client.Fetcher
	logger     logger.Logger
	headers    map[string]string
	registry   *registry.Registry
	inflight   *registry.InFlight
	admission  *limiter.Admission
	buffered   *queue.BufferedQueue
	pool       *WorkerPool
	monitor    *stats.StatsMonitor
	resume     *resume.ResumeManager
	errorStats *util.ErrorStats
	now        func() time.Time
	deferLog   rate.Sometimes

	inboxMu sync.Mutex
	inbox   []model.RegionRequest

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Option customizes a Downloader.
type Option func(*Downloader)

// WithClock replaces time.Now for admission and staleness decisions.
func WithClock(now func() time.Time) Option {
	return func(d *Downloader) { d.now = now }
}

// New creates a Downloader and starts its worker pool.
func New(settings *config.Settings, store storage.Store, fetcher client.Fetcher, log logger.Logger, opts ...Option) (*Downloader, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	log = log.WithComponent("download")
	d := &Downloader{
		settings: settings,
		store:    store,
		fetcher:  fetcher,
		logger:   log,
		headers:  map[string]string{"User-Agent": settings.UserAgent},
		registry: registry.New(),
		inflight: registry.NewInFlight(),
		admission: limiter.NewAdmission(
			limiter.NewRateLimiter(settings.RateLimitRequests, settings.RateLimitWindow),
			limiter.NewConcurrencyGate(settings.MaxConcurrentDownloads),
		),
		buffered:   queue.New(),
		monitor:    stats.NewStatsMonitor(log),
		resume:     resume.NewResumeManager(settings.TilesDirectory, settings.ResumeFile, log),
		errorStats: util.NewErrorStats(),
		now:        time.Now,
		deferLog:   rate.Sometimes{Interval: time.Second},
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := util.EnsureDirExists(settings.TilesDirectory); err != nil {
		return nil, fmt.Errorf("failed to create tiles directory: %w", err)
	}
	if err := d.resume.LoadResumeData(); err != nil {
		return nil, fmt.Errorf("failed to load resume data: %w", err)
	}

	d.pool = NewWorkerPool(context.Background(), settings.MaxConcurrentDownloads, d.fetch)
	d.pool.Start()
	d.monitor.StartMonitoring(settings.StatsInterval)

	log.Infow("downloader started",
		"endpoint", settings.Endpoint,
		"tiles_directory", settings.TilesDirectory,
		"max_concurrent", settings.MaxConcurrentDownloads,
		"max_retries", settings.MaxRetries,
		"rate_limit", fmt.Sprintf("%d/%s", settings.RateLimitRequests, settings.RateLimitWindow))
	return d, nil
}

// NewFromSettings wires the disk store and HTTP client described by settings.
func NewFromSettings(settings *config.Settings, log logger.Logger, opts ...Option) (*Downloader, error) {
	store, err := storage.NewFileStore(settings.ReadCacheSize)
	if err != nil {
		return nil, err
	}
	httpClient, err := client.NewHTTPClient(&client.Config{
		Timeout:   settings.Timeout,
		ProxyURL:  settings.ProxyURL,
		UseHTTP2:  settings.UseHTTP2,
		KeepAlive: settings.KeepAlive,
		UserAgent: settings.UserAgent,
	})
	if err != nil {
		return nil, err
	}
	return New(settings, store, httpClient, log, opts...)
}

// Request queues a region request for the next tick. Safe for concurrent use.
// Requests made after Close are dropped.
func (d *Downloader) Request(req model.RegionRequest) {
	if d.closed.Load() {
		return
	}
	d.inboxMu.Lock()
	d.inbox = append(d.inbox, req)
	d.inboxMu.Unlock()
}

// RetryFailed requests every tile the ledger records as failed and returns
// how many were queued.
func (d *Downloader) RetryFailed() int {
	keys := d.resume.FailedTiles()
	for _, key := range keys {
		d.Request(model.RegionRequest{
			Size:     key.Size,
			Zoom:     key.Zoom,
			Center:   key.Coordinates,
			UseCache: true,
		})
	}
	return len(keys)
}

// Tick runs one orchestration step and returns the events it produced:
// buffered requests are replayed first, then new region requests are
// expanded, then finished fetches are collected. It never waits on the network.
// After Close it does nothing and returns nil.
func (d *Downloader) Tick() []model.Event {
	if d.closed.Load() {
		return nil
	}
	now := d.now()

	d.buffered.Drain(func(req model.BufferedRequest) bool {
		if !d.admission.TryAdmit(now) {
			return false
		}
		// A refused request stays at the front and draining stops.
		return d.dispatch(req, now)
	})

	for _, req := range d.takeInbox() {
		d.expand(req, now)
	}

	return d.poll(now)
}

// Run calls Tick every interval until ctx is done, passing events to sink.
func (d *Downloader) Run(ctx context.Context, interval time.Duration, sink func(model.Event)) error {
	if interval <= 0 {
		interval = d.settings.TickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, ev := range d.Tick() {
				if sink != nil {
					sink(ev)
				}
			}
		}
	}
}

// Idle reports whether there is no queued, buffered or outstanding work.
func (d *Downloader) Idle() bool {
	d.inboxMu.Lock()
	pending := len(d.inbox)
	d.inboxMu.Unlock()
	return pending == 0 && d.buffered.Len() == 0 && d.inflight.Len() == 0
}

// Status returns the registry state of key.
func (d *Downloader) Status(key model.TileKey) (registry.Entry, bool) {
	return d.registry.Get(key)
}

// Completed returns the ledger record of a tile fetched in this or an earlier
// run whose file is still intact. Safe for concurrent use.
func (d *Downloader) Completed(key model.TileKey) (*model.TileInfo, bool) {
	ok, info := d.resume.IsTileDownloaded(key)
	return info, ok
}

// ReadTile returns the stored bytes of key, or an error wrapping
// storage.ErrNotFound when it has not been fetched. Safe for concurrent use.
func (d *Downloader) ReadTile(key model.TileKey) ([]byte, error) {
	return d.store.Read(util.TileFilename(d.settings.TilesDirectory, key))
}

// Stats returns a snapshot of the download counters. Safe for concurrent use.
func (d *Downloader) Stats() model.DownloadStats {
	return d.monitor.Snapshot()
}

// ErrorStats returns failure counts by category. Safe for concurrent use.
func (d *Downloader) ErrorStats() map[string]int {
	return d.errorStats.GetErrorStats()
}

// Close waits for running fetches, saves the ledger and logs final statistics.
// Results of fetches still in flight are not delivered. The Downloader cannot
// be used afterwards: Request drops its argument and Tick returns nil.
func (d *Downloader) Close() error {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		d.pool.Stop()
		d.monitor.StopMonitoring()
		if err := d.resume.SaveResumeData(d.settings.Endpoint); err != nil {
			d.logger.Errorw("failed to save resume data", "error", err)
			d.closeErr = err
		}
		d.monitor.PrintFinalStats()
		d.printErrorStats()
	})
	return d.closeErr
}

func (d *Downloader) takeInbox() []model.RegionRequest {
	d.inboxMu.Lock()
	defer d.inboxMu.Unlock()
	reqs := d.inbox
	d.inbox = nil
	return reqs
}

// expand resolves the region center and offers every tile in the region to
// admission control.
func (d *Downloader) expand(req model.RegionRequest, now time.Time) {
	if !req.Zoom.Valid() {
		d.logger.Errorw("dropping region request", "error", model.ErrInvalidZoomLevel, "zoom", req.Zoom)
		return
	}
	center, err := calculator.Resolve(req.Center, req.Zoom)
	if err != nil {
		d.logger.Errorw("dropping region request", "error", err)
		return
	}

	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = d.settings.Endpoint
	}
	size := model.NewTileSize(int(req.Size))

	counters := d.monitor.Counters()
	for _, coords := range calculator.ExpandRegion(center, req.Radius, req.Zoom) {
		key := model.TileKey{Coordinates: coords, Zoom: req.Zoom, Size: size}
		br := model.BufferedRequest{
			Key:      key,
			Endpoint: endpoint,
			Path:     util.TileFilename(d.settings.TilesDirectory, key),
			UseCache: req.UseCache,
		}
		counters.Requested.Add(1)

		// Older deferred requests go first.
		if d.buffered.Len() > 0 || !d.admission.TryAdmit(now) {
			d.buffered.PushBack(br)
			counters.Buffered.Add(1)
			d.deferLog.Do(func() {
				d.logger.Debugw("admission deferred", "tile", key.String(), "buffered", d.buffered.Len())
			})
			continue
		}
		if !d.dispatch(br, now) {
			d.buffered.PushBack(br)
			counters.Buffered.Add(1)
		}
	}
}

// dispatch applies the cache policy to an admitted request. The caller holds
// one gate slot; every path that does not start a network fetch returns it.
// It reports false when the worker pool refused the fetch, in which case the
// caller must buffer req again.
func (d *Downloader) dispatch(req model.BufferedRequest, now time.Time) bool {
	key := req.Key
	counters := d.monitor.Counters()

	if _, ok := d.inflight.Get(key); ok {
		if !d.inflight.Stale(key, now, d.settings.StaleAfter) {
			d.admission.Release()
			counters.Deduped.Add(1)
			return true
		}
		d.logger.Warnw("re-issuing stale fetch", "tile", key.String(), "stale_after", d.settings.StaleAfter)
	}

	entry, known := d.registry.Get(key)
	downloaded := known && entry.Status == model.StatusDownloaded

	if req.UseCache {
		if downloaded {
			d.admission.Release()
			counters.Deduped.Add(1)
			return true
		}
		if d.store.Exists(req.Path) {
			d.admission.Release()
			counters.CacheHits.Add(1)
			d.registry.Insert(key, req.Path, model.StatusDownloaded)
			d.inflight.Put(key, registry.Flight{
				Handle:    resolvedHandle(model.FetchResult{Key: key, Path: req.Path, FromCache: true}),
				StartedAt: now,
			})
			return true
		}
	}

	j := &job{
		key:     key,
		url:     util.GetTileURL(req.Endpoint, key),
		path:    req.Path,
		release: d.admission.Release,
		handle:  newHandle(),
	}
	if !d.pool.Submit(j) {
		d.admission.Release()
		d.logger.Warnw("worker pool refused fetch, deferring", "tile", key.String())
		return false
	}

	if !downloaded {
		d.registry.Insert(key, req.Path, model.StatusDownloading)
	}
	d.inflight.Put(key, registry.Flight{Handle: j.handle, StartedAt: now, Refresh: downloaded})
	d.logger.Debugw("fetch dispatched", "tile", key.String(), "url", j.url)
	return true
}

// poll collects every finished fetch without blocking.
func (d *Downloader) poll(now time.Time) []model.Event {
	var events []model.Event
	counters := d.monitor.Counters()

	for _, key := range d.inflight.Keys() {
		flight, _ := d.inflight.Get(key)
		result, ok := flight.Handle.Poll()
		if !ok {
			continue
		}
		d.inflight.Delete(key)

		ev := model.Event{
			Key:       key,
			Path:      result.Path,
			Bound:     calculator.TileBound(key),
			FromCache: result.FromCache,
			Refreshed: flight.Refresh,
			Time:      now,
		}

		if result.OK() {
			ev.Kind = model.EventDownloaded
			d.registry.Insert(key, result.Path, model.StatusDownloaded)
			if !result.FromCache {
				counters.Success.Add(1)
				counters.BytesTotal.Add(result.Bytes)
				d.resume.MarkTileComplete(key, result.Path, result.Bytes)
			}
			d.logger.Debugw("tile downloaded",
				"tile", key.String(),
				"path", result.Path,
				"attempts", result.Attempts,
				"from_cache", result.FromCache)
		} else {
			ev.Kind = model.EventFailed
			ev.Err = result.Err
			d.registry.Remove(key)
			counters.Failed.Add(1)
			d.resume.MarkTileFailed(key, result.Err.Error())
			d.logger.Warnw("tile failed",
				"tile", key.String(),
				"attempts", result.Attempts,
				"error", result.Err)
		}
		events = append(events, ev)
	}
	return events
}

func (d *Downloader) printErrorStats() {
	if !d.errorStats.HasErrors() {
		return
	}
	for category, count := range d.errorStats.GetErrorStats() {
		d.logger.Warnw("error statistics", "category", category, "occurrences", count)
	}
}
