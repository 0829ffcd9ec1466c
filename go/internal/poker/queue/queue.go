package queue

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/scrumdeck/scrumdeck/go/internal/models"
)

// Queue is the server-wide staging list of items available to seed new
// estimation sessions. It is insertion-ordered and deduplicated by item key.
// All methods are safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	items []models.Item
	keys  map[string]struct{}
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		keys: make(map[string]struct{}),
	}
}

// Add inserts the given items, skipping any whose key is already present,
// preserving submission order. It returns the resulting full queue and
// whether anything was inserted.
func (q *Queue) Add(items []models.Item) ([]models.Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	changed := false
	for _, item := range items {
		if item.Key == "" {
			continue
		}
		if _, exists := q.keys[item.Key]; exists {
			continue
		}
		q.keys[item.Key] = struct{}{}
		q.items = append(q.items, item)
		changed = true
	}

	if changed {
		log.Debug().Int("queue_size", len(q.items)).Msg("items added to estimation queue")
	}
	return q.snapshotLocked(), changed
}

// Remove deletes the item with the given key and reports whether it was
// present.
func (q *Queue) Remove(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.keys[key]; !exists {
		return false
	}
	delete(q.keys, key)
	for i, item := range q.items {
		if item.Key == key {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	return true
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = nil
	q.keys = make(map[string]struct{})
}

// Snapshot returns a defensive copy of the queue contents.
func (q *Queue) Snapshot() []models.Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Get returns the item with the given key, if present.
func (q *Queue) Get(key string) (models.Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.keys[key]; !exists {
		return models.Item{}, false
	}
	for _, item := range q.items {
		if item.Key == key {
			return item, true
		}
	}
	return models.Item{}, false
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) snapshotLocked() []models.Item {
	out := make([]models.Item, len(q.items))
	copy(out, q.items)
	return out
}
