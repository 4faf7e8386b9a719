package pipeline

import (
	"context"
	"time"

	"github.com/semfs/semfs/internal/observability"
)

// Op classifies a filesystem event.
type Op string

const (
	OpCreated  Op = "created"
	OpModified Op = "modified"
	OpRemoved  Op = "removed"
)

// Event is one unit of work for the processor.
type Event struct {
	Op         Op
	Path       string
	EnqueuedAt time.Time
}

// Queue is a bounded FIFO of filesystem events. When full, the oldest
// pending event is evicted to make room, so a burst degrades to
// processing the most recent activity rather than blocking the watcher.
type Queue struct {
	ch chan Event
}

// NewQueue builds a queue holding at most capacity events.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	return &Queue{ch: make(chan Event, capacity)}
}

// Push enqueues e, evicting the oldest event if the queue is full.
// Never blocks.
func (q *Queue) Push(e Event) {
	e.EnqueuedAt = time.Now()
	for {
		select {
		case q.ch <- e:
			observability.SetQueueSize(len(q.ch))
			return
		default:
		}
		select {
		case <-q.ch:
			observability.RecordEviction()
		default:
		}
	}
}

// Pop dequeues the next event, blocking until one is available or the
// context is cancelled.
func (q *Queue) Pop(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case e := <-q.ch:
		observability.SetQueueSize(len(q.ch))
		return e, nil
	}
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	return len(q.ch)
}
