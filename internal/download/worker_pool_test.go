package download

import (
	"context"
	"testing"
	"time"

	"github.com/geoyee/slippytile/internal/model"
)

func newJob(x uint32) *job {
	return &job{key: tileKey(x, 0, 4), release: func() {}, handle: newHandle()}
}

func TestHandlePoll(t *testing.T) {
	h := newHandle()
	if _, ok := h.Poll(); ok {
		t.Fatal("empty handle reported a result")
	}

	want := model.FetchResult{Key: tileKey(1, 2, 3), Path: "p", Attempts: 2}
	h.ch <- want
	got, ok := h.Poll()
	if !ok || got.Key != want.Key || got.Attempts != 2 {
		t.Fatalf("Poll = %+v, %v", got, ok)
	}
	// The result stays available after the first successful poll.
	if again, ok := h.Poll(); !ok || again.Path != "p" {
		t.Errorf("second Poll = %+v, %v", again, ok)
	}

	r := resolvedHandle(model.FetchResult{FromCache: true})
	if res, ok := r.Poll(); !ok || !res.FromCache {
		t.Errorf("resolved handle Poll = %+v, %v", res, ok)
	}
}

func TestWorkerPoolRunsJobs(t *testing.T) {
	wp := NewWorkerPool(context.Background(), 2, func(_ context.Context, j *job) model.FetchResult {
		return model.FetchResult{Key: j.key, Attempts: 1}
	})
	wp.Start()

	jobs := []*job{newJob(1), newJob(2), newJob(3)}
	for _, j := range jobs {
		if !wp.Submit(j) {
			t.Fatalf("Submit(%v) refused", j.key)
		}
	}
	wp.Stop()

	for _, j := range jobs {
		res, ok := j.handle.Poll()
		if !ok || res.Key != j.key {
			t.Errorf("job %v: Poll = %+v, %v", j.key, res, ok)
		}
	}
}

func TestWorkerPoolSubmitNeverBlocks(t *testing.T) {
	block := make(chan struct{})
	wp := NewWorkerPool(context.Background(), 1, func(_ context.Context, j *job) model.FetchResult {
		<-block
		return model.FetchResult{Key: j.key}
	})
	wp.Start()

	accepted := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint32(0); i < 4; i++ {
			if wp.Submit(newJob(i)) {
				accepted++
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a saturated pool")
	}
	if accepted > 3 {
		t.Errorf("accepted %d jobs, pool holds at most 3", accepted)
	}

	close(block)
	wp.Stop()
}

func TestWorkerPoolSubmitAfterStop(t *testing.T) {
	wp := NewWorkerPool(context.Background(), 1, func(_ context.Context, j *job) model.FetchResult {
		return model.FetchResult{}
	})
	wp.Start()
	wp.Stop()
	wp.Stop()

	if wp.Submit(newJob(1)) {
		t.Error("Submit succeeded on a stopped pool")
	}
}
