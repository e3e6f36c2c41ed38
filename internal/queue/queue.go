// Package queue holds tile requests deferred by admission control until a
// later tick. Entries are never dropped and never reordered.
package queue

import (
	"container/list"

	"github.com/geoyee/slippytile/internal/model"
)

// BufferedQueue is a FIFO of deferred requests. Not safe for concurrent use.
type BufferedQueue struct {
	items *list.List
}

// New creates an empty queue.
func New() *BufferedQueue {
	return &BufferedQueue{items: list.New()}
}

// PushBack appends a newly deferred request.
func (q *BufferedQueue) PushBack(req model.BufferedRequest) {
	q.items.PushBack(req)
}

// PushFront returns a request taken with PopFront that still could not be
// admitted, keeping it ahead of everything queued after it.
func (q *BufferedQueue) PushFront(req model.BufferedRequest) {
	q.items.PushFront(req)
}

// PopFront removes and returns the oldest request.
func (q *BufferedQueue) PopFront() (model.BufferedRequest, bool) {
	e := q.items.Front()
	if e == nil {
		return model.BufferedRequest{}, false
	}
	q.items.Remove(e)
	return e.Value.(model.BufferedRequest), true
}

// Peek returns the oldest request without removing it.
func (q *BufferedQueue) Peek() (model.BufferedRequest, bool) {
	e := q.items.Front()
	if e == nil {
		return model.BufferedRequest{}, false
	}
	return e.Value.(model.BufferedRequest), true
}

func (q *BufferedQueue) Len() int {
	return q.items.Len()
}

// Drain pops requests front to back and hands each to admit. When admit
// returns false the request goes back to the front and draining stops, so the
// remainder waits for the next call. It returns the number of requests admitted.
func (q *BufferedQueue) Drain(admit func(model.BufferedRequest) bool) int {
	admitted := 0
	for {
		req, ok := q.PopFront()
		if !ok {
			return admitted
		}
		if !admit(req) {
			q.PushFront(req)
			return admitted
		}
		admitted++
	}
}
