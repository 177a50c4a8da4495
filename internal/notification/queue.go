package notification

import (
	"sync"
	"time"

	"task-notification-service/internal/models"
)

// PendingEntry is an event that could not be delivered live.
type PendingEntry struct {
	Event      models.NotificationEvent
	EnqueuedAt time.Time
}

// PendingQueue buffers undeliverable events per user, keeping only the most
// recent cap entries.
type PendingQueue struct {
	mu      sync.Mutex
	cap     int
	entries map[string][]PendingEntry
}

func NewPendingQueue(capacity int) *PendingQueue {
	if capacity <= 0 {
		capacity = 5
	}
	return &PendingQueue{cap: capacity, entries: make(map[string][]PendingEntry)}
}

// Push appends e and reports whether the oldest entry was evicted to make room.
func (q *PendingQueue) Push(userID string, e PendingEntry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := append(q.entries[userID], e)
	evicted := false
	if len(list) > q.cap {
		list = append([]PendingEntry(nil), list[len(list)-q.cap:]...)
		evicted = true
	}
	q.entries[userID] = list
	return evicted
}

// Drain removes and returns every entry for userID in enqueue order.
func (q *PendingQueue) Drain(userID string) []PendingEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.entries[userID]
	delete(q.entries, userID)
	return list
}

func (q *PendingQueue) Len(userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries[userID])
}
