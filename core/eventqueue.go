package orchestration

import (
	"sync"

	"github.com/koscakluka/ema-talk/core/events"
)

// queue is an unbounded FIFO consumed by a single goroutine. Pushing never
// blocks, so engine callbacks can push from any goroutine, including while
// the loop itself holds other locks.
type queue[T any] struct {
	mu           sync.Mutex
	items        []T
	closed       bool
	updateSignal chan struct{}
}

type eventQueue = queue[events.Event]

func newQueue[T any]() *queue[T] {
	return &queue[T]{
		updateSignal: make(chan struct{}, 1),
	}
}

func newEventQueue() *eventQueue {
	return newQueue[events.Event]()
}

func (q *queue[T]) Push(item T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.signalUpdate()
}

// All yields queued items in push order until the queue is closed. Items
// still queued when the queue closes are dropped.
func (q *queue[T]) All(yield func(T) bool) {
	var zero T
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}

		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			if !yield(item) {
				return
			}
			continue
		}

		q.mu.Unlock()
		<-q.updateSignal
	}
}

func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.signalUpdate()
}

func (q *queue[T]) signalUpdate() {
	select {
	case q.updateSignal <- struct{}{}:
	default:
	}
}
