// Package events buffers session status changes so API clients can follow a
// session live without polling the store.
package events

import (
	"context"
	"sync"
	"time"
)

// SessionEvent records one status change of a listening session.
type SessionEvent struct {
	Sequence  uint64    `json:"seq"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"-"`
	BookID    string    `json:"bookId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	At        time.Time `json:"at"`
}

// Hub stores recent events in a bounded ring and wakes waiters when new
// events arrive.
type Hub struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []SessionEvent
	nextSeq  uint64
}

// NewHub constructs a hub retaining at most capacity events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 512
	}
	h := &Hub{capacity: capacity}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Publish appends evt, assigning its sequence number.
func (h *Hub) Publish(evt SessionEvent) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.nextSeq++
	evt.Sequence = h.nextSeq
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	if len(h.buffer) == h.capacity {
		copy(h.buffer, h.buffer[1:])
		h.buffer = h.buffer[:h.capacity-1]
	}
	h.buffer = append(h.buffer, evt)
	h.cond.Broadcast()
	h.mu.Unlock()
}

// Cursor returns the sequence of the newest published event. Fetching from
// it yields only events published afterwards.
func (h *Hub) Cursor() uint64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nextSeq
}

// Filter selects which events a reader receives.
type Filter func(SessionEvent) bool

// Fetch returns events with sequence greater than since that match filter.
// When wait is true Fetch blocks until at least one event matches or ctx ends.
// The returned cursor is the highest sequence examined.
func (h *Hub) Fetch(ctx context.Context, since uint64, filter Filter, wait bool) ([]SessionEvent, uint64, error) {
	if h == nil {
		return nil, since, nil
	}

	stop := make(chan struct{})
	defer close(stop)
	if wait && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.mu.Lock()
				h.cond.Broadcast()
				h.mu.Unlock()
			case <-stop:
			}
		}()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		events, cursor := h.snapshotLocked(since, filter)
		if len(events) > 0 || !wait {
			return events, cursor, ctx.Err()
		}
		since = cursor
		if err := ctx.Err(); err != nil {
			return nil, cursor, err
		}
		h.cond.Wait()
	}
}

func (h *Hub) snapshotLocked(since uint64, filter Filter) ([]SessionEvent, uint64) {
	cursor := since
	var out []SessionEvent
	for _, evt := range h.buffer {
		if evt.Sequence <= since {
			continue
		}
		cursor = evt.Sequence
		if filter != nil && !filter(evt) {
			continue
		}
		out = append(out, evt)
	}
	return out, cursor
}

// ForSession returns a filter matching one session owned by userID.
func ForSession(userID, sessionID string) Filter {
	return func(evt SessionEvent) bool {
		return evt.UserID == userID && evt.SessionID == sessionID
	}
}

// ForUser returns a filter matching every session owned by userID.
func ForUser(userID string) Filter {
	return func(evt SessionEvent) bool {
		return evt.UserID == userID
	}
}
