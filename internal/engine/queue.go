package engine

import (
	"github.com/google/uuid"
)

// Queue is a bounded in-process task queue of subscription IDs awaiting a
// sync pass. Enqueue never blocks: a full queue sheds the task, which is safe
// because a pass always re-derives the complete delta from the stored cursor.
type Queue struct {
	tasks chan uuid.UUID
}

// NewQueue creates a queue with the given capacity
func NewQueue(size int) *Queue {
	return &Queue{tasks: make(chan uuid.UUID, size)}
}

// Enqueue adds a sync task, reporting whether it was accepted
func (q *Queue) Enqueue(subscriptionID uuid.UUID) bool {
	select {
	case q.tasks <- subscriptionID:
		return true
	default:
		return false
	}
}

// Tasks exposes the consumer side of the queue
func (q *Queue) Tasks() <-chan uuid.UUID {
	return q.tasks
}

// Len returns the number of queued tasks
func (q *Queue) Len() int {
	return len(q.tasks)
}
