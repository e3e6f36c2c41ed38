package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/geoyee/slippytile/internal/model"
	"github.com/geoyee/slippytile/internal/util"
)

var (
	// ErrTransport covers network failures and non-200 responses.
	ErrTransport = errors.New("transport failure")
	// ErrStorage is returned when persisting tile bytes fails.
	ErrStorage = errors.New("storage failure")
	// ErrInvalidTile is returned when image validation is enabled and the body is not an image.
	ErrInvalidTile = errors.New("invalid tile data")
	// ErrRetriesExhausted wraps the last cause once every attempt failed.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// StatusError is a non-200 HTTP response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Code)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrTransport
}

// job is one network fetch handed to the worker pool. The gate slot acquired
// at admission belongs to the job and is released by release.
type job struct {
	key     model.TileKey
	url     string
	path    string
	release func()
	handle  *Handle
}

// fetch runs the retry loop for j. The loop makes at most MaxRetries attempts
// (at least one) and never blocks the tick.
func (d *Downloader) fetch(ctx context.Context, j *job) (result model.FetchResult) {
	defer j.release()

	counters := d.monitor.Counters()
	counters.Active.Add(1)
	defer counters.Active.Add(-1)

	result = model.FetchResult{Key: j.key, Path: j.path}
	maxAttempts := max(d.settings.MaxRetries, 1)

	var lastErr error
	for result.Attempts < maxAttempts {
		if result.Attempts > 0 {
			counters.Retries.Add(1)
			if !sleepCtx(ctx, d.settings.RetryDelay) {
				lastErr = ctx.Err()
				break
			}
		}
		result.Attempts++

		n, err := d.fetchOnce(ctx, j)
		if err == nil {
			result.Bytes = n
			return result
		}
		lastErr = err
		d.errorStats.RecordError(err)
		d.logger.Debugw("tile attempt failed",
			"tile", j.key.String(),
			"attempt", result.Attempts,
			"error", err)
	}

	result.Err = fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, result.Attempts, lastErr)
	return result
}

func (d *Downloader) fetchOnce(ctx context.Context, j *job) (int64, error) {
	status, body, err := d.fetcher.Get(ctx, j.url, d.headers)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if status != http.StatusOK {
		return 0, &StatusError{Code: status}
	}
	if d.settings.ValidateImages && !util.ValidateFileFormat(body) {
		return 0, fmt.Errorf("%w: %d bytes from %s", ErrInvalidTile, len(body), j.url)
	}
	if err := d.store.Write(j.path, body); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return int64(len(body)), nil
}

func sleepCtx(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
