// Package stats 提供下载统计与进度监控
package stats

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geoyee/slippytile/internal/logger"
	"github.com/geoyee/slippytile/internal/model"
)

// Counters are updated from the tick goroutine and from fetch workers.
type Counters struct {
	Requested  atomic.Int64
	Success    atomic.Int64
	Failed     atomic.Int64
	CacheHits  atomic.Int64
	Deduped    atomic.Int64
	Buffered   atomic.Int64
	Retries    atomic.Int64
	BytesTotal atomic.Int64
	Active     atomic.Int32
}

type StatsMonitor struct {
	counters  Counters
	startTime time.Time
	logger    logger.Logger
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewStatsMonitor(log logger.Logger) *StatsMonitor {
	return &StatsMonitor{
		startTime: time.Now(),
		logger:    log.WithComponent("stats"),
		stopChan:  make(chan struct{}),
	}
}

// Counters exposes the live counters for updates.
func (sm *StatsMonitor) Counters() *Counters {
	return &sm.counters
}

// Snapshot returns a point-in-time copy of the counters.
func (sm *StatsMonitor) Snapshot() model.DownloadStats {
	c := &sm.counters
	return model.DownloadStats{
		Requested:  c.Requested.Load(),
		Success:    c.Success.Load(),
		Failed:     c.Failed.Load(),
		CacheHits:  c.CacheHits.Load(),
		Deduped:    c.Deduped.Load(),
		Buffered:   c.Buffered.Load(),
		Retries:    c.Retries.Load(),
		BytesTotal: c.BytesTotal.Load(),
		Active:     c.Active.Load(),
		StartTime:  sm.startTime,
	}
}

// StartMonitoring logs progress every interval until StopMonitoring.
func (sm *StatsMonitor) StartMonitoring(interval time.Duration) {
	if interval <= 0 {
		return
	}
	sm.wg.Add(1)
	go func() {
		defer sm.wg.Done()
		sm.monitor(interval)
	}()
}

func (sm *StatsMonitor) StopMonitoring() {
	sm.stopOnce.Do(func() { close(sm.stopChan) })
	sm.wg.Wait()
}

func (sm *StatsMonitor) monitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastSuccess, lastBytes int64
	lastTime := time.Now()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s := sm.Snapshot()
			duration := now.Sub(lastTime).Seconds()

			var speed, tileSpeed float64
			if duration > 0 {
				speed = float64(s.BytesTotal-lastBytes) / 1024 / duration
				tileSpeed = float64(s.Success-lastSuccess) / duration
			}

			sm.logger.Infow("progress",
				"success", s.Success,
				"failed", s.Failed,
				"cache_hits", s.CacheHits,
				"buffered", s.Buffered,
				"active", s.Active,
				"kb_per_sec", formatFloat(speed),
				"tiles_per_sec", formatFloat(tileSpeed),
			)

			lastSuccess = s.Success
			lastBytes = s.BytesTotal
			lastTime = now
		case <-sm.stopChan:
			return
		}
	}
}

func (sm *StatsMonitor) PrintFinalStats() {
	s := sm.Snapshot()
	duration := time.Since(s.StartTime)

	sm.logger.Infow("download statistics",
		"duration", duration.Round(time.Millisecond),
		"requested", s.Requested,
		"success", s.Success,
		"cache_hits", s.CacheHits,
		"deduplicated", s.Deduped,
		"buffered", s.Buffered,
		"failed", s.Failed,
		"retries", s.Retries,
		"mb_total", formatFloat(float64(s.BytesTotal)/1024/1024),
	)

	if duration.Seconds() > 0 {
		sm.logger.Infow("average speed",
			"kb_per_sec", formatFloat(float64(s.BytesTotal)/1024/duration.Seconds()),
			"tiles_per_sec", formatFloat(float64(s.Success)/duration.Seconds()),
		)
	}
}

type formatFloat float64

func (f formatFloat) String() string {
	return strconv.FormatFloat(float64(f), 'f', 1, 64)
}
