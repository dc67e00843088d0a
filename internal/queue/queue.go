// Package queue implements the bounded FIFO of accepted prompts.
package queue

import (
	"sync"
	"time"

	"vibepie/internal/metrics"
	"vibepie/pkg/interfaces"
)

// Item is one accepted prompt waiting for generation.
// Reply is the submitting connection; it may be closed by the time the item
// is processed, so every write must check IsOpen first.
type Item struct {
	Prompt     string
	SessionID  string
	Reply      interfaces.Connection
	EnqueuedAt time.Time
}

// PromptQueue is a fixed-capacity FIFO. Add never blocks; a full queue
// rejects. Items leave only through Next.
type PromptQueue struct {
	mu       sync.Mutex
	capacity int
	items    []*Item
	now      func() time.Time
}

func NewPromptQueue(capacity int) *PromptQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &PromptQueue{
		capacity: capacity,
		items:    make([]*Item, 0, capacity),
		now:      time.Now,
	}
}

// Add appends item and returns its 1-based position, or ErrQueueFull.
func (q *PromptQueue) Add(item Item) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		return 0, ErrQueueFull
	}
	item.EnqueuedAt = q.now()
	q.items = append(q.items, &item)
	metrics.QueueDepth.Set(float64(len(q.items)))
	return len(q.items), nil
}

// Next pops the oldest item.
func (q *PromptQueue) Next() (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	metrics.QueueDepth.Set(float64(len(q.items)))
	return item, true
}

func (q *PromptQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *PromptQueue) Capacity() int {
	return q.capacity
}

// PositionOf returns the 1-based position of the first item from sessionID.
func (q *PromptQueue) PositionOf(sessionID string) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range q.items {
		if item.SessionID == sessionID {
			return i + 1, true
		}
	}
	return 0, false
}

// Clear drops every waiting item.
func (q *PromptQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = make([]*Item, 0, q.capacity)
	metrics.QueueDepth.Set(0)
}
