package stream

import (
	"context"
	"sync"
	"time"
)

// Event kinds published on the invalidation stream. Clients that cache scope
// or filter results drop their caches for the affected users on receipt.
const (
	KindGrantIssued  = "grant_issued"
	KindGrantAmended = "grant_amended"
	KindGrantRevoked = "grant_revoked"
	KindNodeMoved    = "node_moved"
	KindNodeStatus   = "node_status"
)

// Event describes one change that can invalidate previously computed access
// decisions.
type Event struct {
	Kind        string    `json:"kind"`
	GrantID     string    `json:"grant_id,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	HierarchyID string    `json:"hierarchy_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Stream fan-outs invalidation events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers. A zero timestamp is filled
// with the current time.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
