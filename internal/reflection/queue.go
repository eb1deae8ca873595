package reflection

import (
	"sync"

	"github.com/atlas-desktop/paperengine/pkg/types"
)

// Queue is the bounded ReflectionQueue (spec §5): overflow past MaxSize
// signals an early reflection rather than dropping events.
type Queue struct {
	mu      sync.Mutex
	items   []types.TradeEvent
	maxSize int
	signal  chan struct{}
}

// NewQueue builds a Queue that signals overflow once it holds more than
// maxSize events.
func NewQueue(maxSize int) *Queue {
	return &Queue{
		maxSize: maxSize,
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue appends event, non-blocking. If this pushes the queue past
// maxSize, a non-blocking signal requests an early reflection cycle.
func (q *Queue) Enqueue(event types.TradeEvent) {
	q.mu.Lock()
	q.items = append(q.items, event)
	over := len(q.items) > q.maxSize
	q.mu.Unlock()

	if over {
		select {
		case q.signal <- struct{}{}:
		default:
		}
	}
}

// Overflow is signaled (non-blocking receive) when the queue has exceeded
// maxSize since the last drain.
func (q *Queue) Overflow() <-chan struct{} {
	return q.signal
}

// Drain atomically removes and returns every queued event.
func (q *Queue) Drain() []types.TradeEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Requeue pushes events back to the front of the queue, preserving order,
// undoing a Drain whose downstream processing failed.
func (q *Queue) Requeue(events []types.TradeEvent) {
	if len(events) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(append([]types.TradeEvent{}, events...), q.items...)
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
