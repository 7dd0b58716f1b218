package events

import (
	"sync"
	"time"
)

// Handler receives a single event. Handlers are invoked synchronously on
// the publishing goroutine and must not block.
type Handler func(Event)

// Stream is an observer registry for lifecycle events. Each component owns
// one Stream; the coordinator subscribes to component streams and
// republishes onto its merged stream.
type Stream struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]Handler
	closed   bool
}

// NewStream creates an empty event stream.
func NewStream() *Stream {
	return &Stream{handlers: make(map[int]Handler)}
}

// Subscribe registers a handler and returns an unsubscribe function.
// Unsubscribing twice is a no-op.
func (s *Stream) Subscribe(h Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = h
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

// Publish delivers the event to all current subscribers. Events published
// after Close are dropped.
func (s *Stream) Publish(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	hs := make([]Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		hs = append(hs, h)
	}
	s.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}

// Close drops all subscribers and rejects further publishes.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.handlers = make(map[int]Handler)
}
