package streaming

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const chunkBufferFlushThreshold = 5

// SSEHandler serializes events as server-sent-event frames to a writer.
// A background heartbeat keeps idle connections alive; assistant chunks can
// be buffered and flushed in batches to reduce frame overhead. After the
// first write error the handler cancels its heartbeat and goes quiet.
type SSEHandler struct {
	w       io.Writer
	flusher http.Flusher

	heartbeatInterval time.Duration
	bufferChunks      bool

	mu        sync.Mutex
	buffer    []StreamEvent
	lastWrite time.Time
	failed    bool
	done      chan struct{}
	closeOnce sync.Once
}

type SSEOption func(*SSEHandler)

func WithHeartbeatInterval(d time.Duration) SSEOption {
	return func(h *SSEHandler) { h.heartbeatInterval = d }
}

// WithChunkBuffering batches assistant_message_chunk events, flushing once
// five are buffered or any other event arrives.
func WithChunkBuffering() SSEOption {
	return func(h *SSEHandler) { h.bufferChunks = true }
}

func NewSSEHandler(w io.Writer, opts ...SSEOption) *SSEHandler {
	h := &SSEHandler{
		w:                 w,
		heartbeatInterval: 15 * time.Second,
		lastWrite:         time.Now(),
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if flusher, ok := w.(http.Flusher); ok {
		h.flusher = flusher
	}

	if h.heartbeatInterval > 0 {
		go h.heartbeatLoop()
	}
	return h
}

func (h *SSEHandler) HandleEvent(ctx context.Context, event StreamEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.failed {
		return nil
	}

	if h.bufferChunks && event.Kind == EventAssistantMessageChunk {
		h.buffer = append(h.buffer, event)
		if len(h.buffer) < chunkBufferFlushThreshold {
			return nil
		}
		return h.flushLocked()
	}

	if err := h.flushLocked(); err != nil {
		return err
	}
	return h.writeLocked(event)
}

func (h *SSEHandler) HandleError(ctx context.Context, event StreamEvent, err error) {
	slog.Warn("SSE write failed, closing stream", "event", string(event.Kind), "error", err)
}

// Flush writes any buffered chunks immediately.
func (h *SSEHandler) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failed {
		return nil
	}
	return h.flushLocked()
}

func (h *SSEHandler) Close() error {
	h.closeOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failed {
		return nil
	}
	return h.flushLocked()
}

func (h *SSEHandler) flushLocked() error {
	for i, event := range h.buffer {
		if err := h.writeLocked(event); err != nil {
			h.buffer = h.buffer[i+1:]
			return err
		}
	}
	h.buffer = nil
	return nil
}

func (h *SSEHandler) writeLocked(event StreamEvent) error {
	frame, err := event.SSEFrame()
	if err != nil {
		return err
	}
	if _, err := h.w.Write(frame); err != nil {
		h.fail()
		return err
	}
	if h.flusher != nil {
		h.flusher.Flush()
	}
	h.lastWrite = time.Now()
	return nil
}

// fail is called with the mutex held.
func (h *SSEHandler) fail() {
	h.failed = true
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *SSEHandler) heartbeatLoop() {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.mu.Lock()
			if h.failed {
				h.mu.Unlock()
				return
			}
			if time.Since(h.lastWrite) >= h.heartbeatInterval {
				if err := h.writeLocked(NewHeartbeatEvent()); err != nil {
					h.mu.Unlock()
					slog.Debug("SSE heartbeat failed", "error", err)
					return
				}
			}
			h.mu.Unlock()
		}
	}
}

// WriteSSEHeaders sets the response headers a text/event-stream endpoint
// needs before the first frame.
func WriteSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
