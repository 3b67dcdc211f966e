package storage

import (
	"sync"
	"sync/atomic"
	"time"

	gm "github.com/daniel-nichter/go-metrics"
)

// ActivityCache tracks cheap-to-poll activity for the report store: a
// generation counter for change detection, lifetime publish and eviction
// counters, and subscriber notification for live viewers.
type ActivityCache struct {
	// Generation counter for change detection.
	// Incremented on every publish and clear.
	generation atomic.Uint64

	published *gm.Counter
	evicted   *gm.Counter
	rejected  *gm.Counter

	subscriberMu     sync.Mutex
	subscribers      map[uint64]chan struct{}
	nextSubscriberID uint64

	startMu   sync.RWMutex
	startTime time.Time
}

// NewActivityCache creates a new activity cache.
func NewActivityCache() *ActivityCache {
	return &ActivityCache{
		published:   gm.NewCounter(),
		evicted:     gm.NewCounter(),
		rejected:    gm.NewCounter(),
		subscribers: make(map[uint64]chan struct{}),
		startTime:   time.Now(),
	}
}

// Subscribe returns a notification channel and an unsubscribe function.
// The channel receives a signal (non-blocking) whenever a report is
// published or the store is cleared. It is buffered with capacity 1 to
// coalesce rapid updates.
func (h *ActivityCache) Subscribe() (<-chan struct{}, func()) {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()

	id := h.nextSubscriberID
	h.nextSubscriberID++

	ch := make(chan struct{}, 1)
	h.subscribers[id] = ch

	unsubscribe := func() {
		h.subscriberMu.Lock()
		defer h.subscriberMu.Unlock()
		delete(h.subscribers, id)
	}

	return ch, unsubscribe
}

// SubscriberCount returns the number of live subscriptions.
func (h *ActivityCache) SubscriberCount() int {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	return len(h.subscribers)
}

// notifySubscribers sends a non-blocking signal to all subscriber channels.
func (h *ActivityCache) notifySubscribers() {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()

	for _, ch := range h.subscribers {
		select {
		case ch <- struct{}{}:
		default:
			// Channel already has a pending notification; skip to coalesce.
		}
	}
}

// RecordPublish counts a stored report and wakes subscribers.
func (h *ActivityCache) RecordPublish() {
	h.published.Add(1)
	h.generation.Add(1)
	h.notifySubscribers()
}

// RecordEviction counts a report pushed out of the buffer.
func (h *ActivityCache) RecordEviction() {
	h.evicted.Add(1)
}

// RecordRejected counts a report that could not be stored.
func (h *ActivityCache) RecordRejected() {
	h.rejected.Add(1)
}

// Published returns the number of reports stored since startup.
func (h *ActivityCache) Published() int64 {
	return h.published.Count()
}

// Evicted returns the number of reports dropped for capacity since startup.
func (h *ActivityCache) Evicted() int64 {
	return h.evicted.Count()
}

// Rejected returns the number of invalid reports refused since startup.
func (h *ActivityCache) Rejected() int64 {
	return h.rejected.Count()
}

// Generation returns the current generation counter.
func (h *ActivityCache) Generation() uint64 {
	return h.generation.Load()
}

// UptimeSeconds returns the time since creation or the last Reset.
func (h *ActivityCache) UptimeSeconds() float64 {
	h.startMu.RLock()
	defer h.startMu.RUnlock()
	return time.Since(h.startTime).Seconds()
}

// Reset bumps the generation, restarts the uptime clock and wakes
// subscribers. Lifetime counters are kept.
func (h *ActivityCache) Reset() {
	h.generation.Add(1)

	h.startMu.Lock()
	h.startTime = time.Now()
	h.startMu.Unlock()

	h.notifySubscribers()
}
