package api

import (
	"sync"
	"time"

	"mini-profiler/internal/metrics"
)

// Announcement tells stream subscribers that results were stored.
type Announcement struct {
	IDs []string  `json:"ids"`
	At  time.Time `json:"at"`
}

// Hub fans announcements out to stream subscribers.
type Hub struct {
	events      chan Announcement
	subscribers map[chan Announcement]struct{}
	subBuffer   int
	mu          sync.RWMutex
	shutdown    chan struct{}
	once        sync.Once
	metrics     *metrics.Metrics
}

// NewHub creates a hub whose subscribers each buffer up to bufferSize
// announcements.
func NewHub(bufferSize int, m *metrics.Metrics) *Hub {
	if bufferSize < 1 {
		bufferSize = 1
	}
	h := &Hub{
		events:      make(chan Announcement, bufferSize),
		subscribers: make(map[chan Announcement]struct{}),
		subBuffer:   bufferSize,
		shutdown:    make(chan struct{}),
		metrics:     m,
	}
	go h.forward()
	return h
}

func (h *Hub) forward() {
	for {
		select {
		case a, ok := <-h.events:
			if !ok {
				return
			}
			// Sends happen under the read lock so Unsubscribe cannot close a
			// channel mid-send. Slow subscribers miss announcements.
			h.mu.RLock()
			for ch := range h.subscribers {
				select {
				case ch <- a:
				default:
				}
			}
			h.mu.RUnlock()
		case <-h.shutdown:
			return
		}
	}
}

// Publish queues an announcement. It never blocks; when the queue is full
// the announcement is dropped.
func (h *Hub) Publish(a Announcement) {
	select {
	case <-h.shutdown:
		return
	default:
	}
	select {
	case h.events <- a:
	default:
	}
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() chan Announcement {
	ch := make(chan Announcement, h.subBuffer)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	n := len(h.subscribers)
	h.mu.Unlock()
	h.metrics.UpdateStreamClients(n)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(ch chan Announcement) {
	h.mu.Lock()
	if _, exists := h.subscribers[ch]; exists {
		delete(h.subscribers, ch)
		close(ch)
	}
	n := len(h.subscribers)
	h.mu.Unlock()
	h.metrics.UpdateStreamClients(n)
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Shutdown stops forwarding and closes every subscriber channel.
func (h *Hub) Shutdown() {
	h.once.Do(func() {
		close(h.shutdown)

		h.mu.Lock()
		for ch := range h.subscribers {
			close(ch)
		}
		h.subscribers = make(map[chan Announcement]struct{})
		h.mu.Unlock()
		h.metrics.UpdateStreamClients(0)
	})
}
