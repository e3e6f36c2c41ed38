// Package download 提供下载相关功能
package download

import (
	"context"
	"sync"

	"github.com/geoyee/slippytile/internal/model"
)

// Handle 下载任务句柄
//
// A worker delivers exactly one result into the buffered channel; Poll never
// blocks. Poll is meant to be called from the tick goroutine only.
type Handle struct {
	ch     chan model.FetchResult
	result model.FetchResult
	done   bool
}

func newHandle() *Handle {
	return &Handle{ch: make(chan model.FetchResult, 1)}
}

// resolvedHandle returns a handle that already carries result.
func resolvedHandle(result model.FetchResult) *Handle {
	return &Handle{result: result, done: true}
}

// Poll implements registry.Handle.
func (h *Handle) Poll() (model.FetchResult, bool) {
	if h.done {
		return h.result, true
	}
	select {
	case r := <-h.ch:
		h.result = r
		h.done = true
		return r, true
	default:
		return model.FetchResult{}, false
	}
}

// WorkerPool 工作池
type WorkerPool struct {
	workers   int
	taskQueue chan *job
	wg        sync.WaitGroup
	run       func(context.Context, *job) model.FetchResult
	ctx       context.Context

	mu      sync.RWMutex
	stopped bool
}

// NewWorkerPool 创建工作池
func NewWorkerPool(ctx context.Context, workers int, run func(context.Context, *job) model.FetchResult) *WorkerPool {
	workers = max(workers, 1)
	return &WorkerPool{
		workers:   workers,
		taskQueue: make(chan *job, workers*2),
		run:       run,
		ctx:       ctx,
	}
}

// Start 启动工作池
func (wp *WorkerPool) Start() {
	wp.wg.Add(wp.workers)
	for i := 0; i < wp.workers; i++ {
		go func() {
			defer wp.wg.Done()
			for j := range wp.taskQueue {
				j.handle.ch <- wp.run(wp.ctx, j)
			}
		}()
	}
}

// Submit 提交任务
//
// It never blocks and reports false when the pool is saturated or stopped.
func (wp *WorkerPool) Submit(j *job) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.stopped {
		return false
	}
	select {
	case wp.taskQueue <- j:
		return true
	default:
		return false
	}
}

// Stop 停止工作池
//
// It waits for queued and running jobs to finish.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.stopped {
		wp.stopped = true
		close(wp.taskQueue)
	}
	wp.mu.Unlock()
	wp.wg.Wait()
}
