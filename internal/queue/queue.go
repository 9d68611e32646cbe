// Package queue implements the Turn Queue & Executor (§4.5): a FIFO queue
// of Turn Requests with at most one in-flight turn at a time.
package queue

import (
	"sync"

	"github.com/victorarias/jelly-j/internal/envctx"
	"github.com/victorarias/jelly-j/internal/registry"
)

// TurnRequest is one item in the queue (§3's Turn Request data model).
type TurnRequest struct {
	RequestID   string
	ClientKey   registry.Key
	ClientID    string
	Text        string
	SessionTag  string
	Env         envctx.Context
	QueuedAhead int // turns ahead of this one at the moment it was admitted
}

// Queue is a plain FIFO — simplified from kdlbs-kandev's priority-heap
// orchestrator queue, since the spec requires strict enqueue-order
// chat_start delivery, never priority reordering.
type Queue struct {
	mu    sync.Mutex
	items []TurnRequest
}

func New() *Queue {
	return &Queue{}
}

// Enqueue appends req to the tail and returns the number of requests now
// ahead of it (its queuedAhead at the moment of enqueue).
func (q *Queue) Enqueue(req TurnRequest) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	ahead := len(q.items)
	q.items = append(q.items, req)
	return ahead
}

// Dequeue removes and returns the head request.
func (q *Queue) Dequeue() (TurnRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return TurnRequest{}, false
	}
	req := q.items[0]
	q.items = q.items[1:]
	return req, true
}

// Len reports the current depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
