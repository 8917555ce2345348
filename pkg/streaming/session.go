package streaming

import (
	"context"
	"log/slog"
	"sync"
)

// Handler consumes stream events. HandleError receives failures from this
// handler's own HandleEvent; it must not panic.
type Handler interface {
	HandleEvent(ctx context.Context, event StreamEvent) error
	HandleError(ctx context.Context, event StreamEvent, err error)
}

// Session fans one turn's events out to a set of handlers. Delivery is
// sequential per event, so every handler observes the same total order. A
// failing handler is isolated: its error goes to its own HandleError and the
// remaining handlers still receive the event.
type Session struct {
	id       string
	mu       sync.Mutex
	handlers []Handler
	filter   func(EventKind) bool
	closed   bool
}

func NewSession(id string, handlers ...Handler) *Session {
	return &Session{id: id, handlers: handlers}
}

// Subscribe limits delivery to the listed event kinds. Heartbeats always
// pass. A nil or empty list restores delivery of everything.
func (s *Session) Subscribe(kinds ...EventKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(kinds) == 0 {
		s.filter = nil
		return
	}
	wanted := make(map[EventKind]bool, len(kinds))
	for _, k := range kinds {
		wanted[k] = true
	}
	s.filter = func(k EventKind) bool { return wanted[k] || k == EventHeartbeat }
}

func (s *Session) ID() string {
	return s.id
}

// AddHandler attaches a handler. No-op after close.
func (s *Session) AddHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.handlers = append(s.handlers, h)
}

// EmitEvent delivers the event to every handler in order. Events emitted
// after Close are dropped. The event's session id is filled in when empty.
func (s *Session) EmitEvent(ctx context.Context, event StreamEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.filter != nil && !s.filter(event.Kind) {
		s.mu.Unlock()
		return
	}
	handlers := make([]Handler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	if event.SessionID == "" && event.Kind != EventHeartbeat {
		event.SessionID = s.id
	}

	for _, h := range handlers {
		if err := h.HandleEvent(ctx, event); err != nil {
			h.HandleError(ctx, event, err)
		}
	}
}

// Close stops the session. Handlers that hold resources (heartbeat tasks,
// open writers) are closed; later emits are dropped.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	handlers := s.handlers
	s.handlers = nil
	s.mu.Unlock()

	for _, h := range handlers {
		if closer, ok := h.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				slog.Warn("Stream handler close failed", "session_id", s.id, "error", err)
			}
		}
	}
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
