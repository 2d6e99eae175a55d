package stream

import (
	"context"
	"sync"
	"time"
)

// Notice is a user-visible protection event emitted by a viewer session, for
// example "print blocked". Suppression is never silent: every blocked action
// produces one of these plus an audit entry.
type Notice struct {
	SessionID  string    `json:"session_id"`
	DocumentID string    `json:"document_id"`
	Action     string    `json:"action"`
	Title      string    `json:"title"`
	Detail     string    `json:"detail"`
	Timestamp  time.Time `json:"timestamp"`
}

// Stream fan-outs viewer notices to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Notice
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{
		subs: make(map[int]chan Notice),
	}
}

// Subscribe registers a subscriber and returns a channel which will receive
// notices. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Notice {
	ch := make(chan Notice, 16)

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

// Publish fan-outs the notice to all subscribers.
func (s *Stream) Publish(n Notice) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- n:
		default:
			// Drop when subscriber is slow to avoid blocking the UI loop.
		}
	}
}
