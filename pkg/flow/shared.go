package flow

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gtplanner/gtplanner/pkg/protocol"
	"github.com/gtplanner/gtplanner/pkg/streaming"
)

// Shared is the working state for one conversation turn. The orchestrator
// owns it; nodes and tool handlers read it concurrently but each writes only
// its own keys. The mutex guards the slices and maps that cross goroutines.
type Shared struct {
	SessionID string
	Language  string
	UserInput string
	Stream    *streaming.Session

	mu sync.Mutex

	// Messages is the working conversation; NewMessages collects only the
	// messages produced during this turn.
	Messages    []protocol.Message
	NewMessages []protocol.Message
	Errors      []string

	RecommendedPrefabs []map[string]interface{}
	ResearchFindings   map[string]interface{}
	ShortPlanning      string
	GeneratedDocuments []protocol.Document
	PendingEdits       map[string]*protocol.EditProposal

	ReactCycleCount int
	ToolCallIDs     []string

	// DirtyKeys records which persistent tool-result keys this turn wrote,
	// so the caller-facing diff carries only real updates. Guarded by mu.
	DirtyKeys map[string]bool

	// ToolResults mirrors the per-tool sub-keys of the session's persistent
	// tool execution results.
	ToolResults map[string]json.RawMessage

	// Values holds free-form per-node inputs and outputs.
	Values map[string]interface{}
}

func NewShared(sessionID, language, userInput string, stream *streaming.Session) *Shared {
	return &Shared{
		SessionID:    sessionID,
		Language:     language,
		UserInput:    userInput,
		Stream:       stream,
		PendingEdits: make(map[string]*protocol.EditProposal),
		DirtyKeys:    make(map[string]bool),
		ToolResults:  make(map[string]json.RawMessage),
		Values:       make(map[string]interface{}),
	}
}

func (s *Shared) Lock()   { s.mu.Lock() }
func (s *Shared) Unlock() { s.mu.Unlock() }

// AppendMessages adds messages to both the working conversation and the
// turn's new-message log.
func (s *Shared) AppendMessages(msgs ...protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, msgs...)
	s.NewMessages = append(s.NewMessages, msgs...)
}

// RecordError notes a failure without aborting the turn.
func (s *Shared) RecordError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errors = append(s.Errors, msg)
}

// SetToolResult stores a tool's raw result under its own sub-key.
func (s *Shared) SetToolResult(tool string, result json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ToolResults[tool] = result
}

// AppendDocument records a generated document for this turn.
func (s *Shared) AppendDocument(doc protocol.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GeneratedDocuments = append(s.GeneratedDocuments, doc)
	s.DirtyKeys[protocol.KeyDesigns] = true
}

// LatestDocument returns the newest generated document with the given
// filename, or false when none exists.
func (s *Shared) LatestDocument(filename string) (protocol.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return protocol.LatestDocument(s.GeneratedDocuments, filename)
}

// Documents returns a copy of the generated documents.
func (s *Shared) Documents() []protocol.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := make([]protocol.Document, len(s.GeneratedDocuments))
	copy(docs, s.GeneratedDocuments)
	return docs
}

// Emit forwards an event to the turn's streaming session, if any.
func (s *Shared) Emit(ctx context.Context, event streaming.StreamEvent) {
	if s.Stream != nil {
		s.Stream.EmitEvent(ctx, event)
	}
}
