package engine

import (
	"sync"

	"appforge/internal/models"
)

// PendingQueue buffers remote events that arrive before the local engine has
// been initialized with the server snapshot. Events are appended in arrival
// order and drained strictly FIFO once the snapshot lands; dropping them
// would lose mutations that raced the join handshake.
type PendingQueue struct {
	mu     sync.Mutex
	events []models.SyncEvent
}

// Enqueue appends one event in arrival order.
func (q *PendingQueue) Enqueue(ev models.SyncEvent) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
}

// Drain removes and returns all buffered events in arrival order.
func (q *PendingQueue) Drain() []models.SyncEvent {
	q.mu.Lock()
	events := q.events
	q.events = nil
	q.mu.Unlock()
	return events
}

// Len reports the number of buffered events.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
