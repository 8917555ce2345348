// Package server exposes the planner over HTTP (SSE streaming) and MCP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gtplanner/gtplanner/pkg/protocol"
	"github.com/gtplanner/gtplanner/pkg/session"
	"github.com/gtplanner/gtplanner/pkg/streaming"
)

// TurnRunner executes one conversation turn, emitting events into the stream
// session as it goes.
type TurnRunner interface {
	Run(ctx context.Context, userInput string, agentCtx *protocol.AgentContext, stream *streaming.Session) *protocol.AgentResult
}

// Server is the HTTP façade. The session store and compressor are optional;
// without a store every request starts a fresh conversation.
type Server struct {
	runner     TurnRunner
	store      *session.SQLStore
	compressor *session.Compressor

	httpServer *http.Server
}

type Option func(*Server)

// WithSessionStore enables persistent conversations.
func WithSessionStore(store *session.SQLStore) Option {
	return func(s *Server) { s.store = store }
}

// WithCompressor trims replayed history to a token budget before each turn.
func WithCompressor(c *session.Compressor) Option {
	return func(s *Server) { s.compressor = c }
}

func New(runner TurnRunner, opts ...Option) *Server {
	s := &Server{runner: runner}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/agent/{session}", func(r chi.Router) {
		r.Post("/stream", s.handleStream)
	})
	r.Get("/sessions", s.handleListSessions)
	r.Delete("/sessions/{session}", s.handleDeleteSession)

	return r
}

// ListenAndServe blocks until the context is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type streamRequest struct {
	Message  string `json:"message"`
	Language string `json:"language,omitempty"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")

	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	agentCtx, err := s.loadContext(r.Context(), sessionID, req.Language)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.compressor != nil {
		agentCtx.DialogueHistory = s.compressor.Compress(agentCtx.DialogueHistory)
	}

	streaming.WriteSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	handler := streaming.NewSSEHandler(w)
	stream := streaming.NewSession(sessionID, handler)
	defer stream.Close()

	result := s.runner.Run(r.Context(), req.Message, agentCtx, stream)

	if s.store != nil && len(result.NewMessages) > 0 {
		// The client already has the stream; a persistence failure only
		// loses replay, so log and move on.
		if err := s.store.ApplyResult(r.Context(), sessionID, result); err != nil {
			slog.Error("Failed to persist turn", "session_id", sessionID, "error", err)
		}
	}
}

// loadContext resolves the conversation to continue: stored history when a
// store is configured, a blank context otherwise. Unknown sessions are
// created on first use.
func (s *Server) loadContext(ctx context.Context, sessionID, language string) (*protocol.AgentContext, error) {
	metadata := map[string]any{}
	if language != "" {
		metadata["language"] = language
	}

	if s.store == nil {
		return &protocol.AgentContext{
			SessionID:       sessionID,
			SessionMetadata: metadata,
			LastUpdated:     protocol.Now(),
		}, nil
	}

	agentCtx, err := s.store.Load(ctx, sessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		if err := s.store.Create(ctx, sessionID, metadata); err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		return s.store.Load(ctx, sessionID)
	}
	if err != nil {
		return nil, err
	}
	if language != "" {
		if agentCtx.SessionMetadata == nil {
			agentCtx.SessionMetadata = map[string]any{}
		}
		agentCtx.SessionMetadata["language"] = language
	}
	return agentCtx, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	infos, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type sessionInfo struct {
		ID           string    `json:"id"`
		MessageCount int       `json:"message_count"`
		LastUpdated  time.Time `json:"last_updated"`
	}
	out := make([]sessionInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, sessionInfo{ID: info.ID, MessageCount: info.MessageCount, LastUpdated: info.LastUpdated})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "session persistence is not enabled")
		return
	}
	sessionID := chi.URLParam(r, "session")
	if err := s.store.Delete(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
