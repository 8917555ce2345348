package streaming

import (
	"encoding/json"
	"fmt"

	"github.com/gtplanner/gtplanner/pkg/protocol"
)

// EventKind names one variant of the stream event union.
type EventKind string

const (
	EventConversationStart       EventKind = "conversation_start"
	EventConversationEnd         EventKind = "conversation_end"
	EventAssistantMessageStart   EventKind = "assistant_message_start"
	EventAssistantMessageChunk   EventKind = "assistant_message_chunk"
	EventAssistantMessageEnd     EventKind = "assistant_message_end"
	EventToolCallStart           EventKind = "tool_call_start"
	EventToolCallProgress        EventKind = "tool_call_progress"
	EventToolCallEnd             EventKind = "tool_call_end"
	EventProcessingStatus        EventKind = "processing_status"
	EventError                   EventKind = "error"
	EventDesignDocumentGenerated EventKind = "design_document_generated"
	EventPrefabsInfo             EventKind = "prefabs_info"
	EventDocumentEditProposal    EventKind = "document_edit_proposal"
	EventHeartbeat               EventKind = "heartbeat"
)

// StreamEvent is a tagged union: Kind selects which payload fields are
// meaningful. Every event carries a session id and a timestamp.
type StreamEvent struct {
	Kind      EventKind `json:"-"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp float64   `json:"timestamp"`

	// Assistant message payload.
	Content   string              `json:"content,omitempty"`
	ToolCalls []protocol.ToolCall `json:"tool_calls,omitempty"`

	// Tool lifecycle payload.
	ToolName string          `json:"tool_name,omitempty"`
	CallID   string          `json:"call_id,omitempty"`
	Success  *bool           `json:"success,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`

	// Processing status payload. LongRunning hints renderers that a slow
	// generation is in progress.
	Status      string `json:"status,omitempty"`
	LongRunning bool   `json:"long_running,omitempty"`

	// Error payload.
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Document payload. The document body rides in Content.
	Filename string `json:"filename,omitempty"`

	// Edit proposal payload, flattened into the event object.
	*protocol.EditProposal
}

func newEvent(kind EventKind, sessionID string) StreamEvent {
	return StreamEvent{Kind: kind, SessionID: sessionID, Timestamp: protocol.Now()}
}

func NewConversationStartEvent(sessionID string) StreamEvent {
	return newEvent(EventConversationStart, sessionID)
}

func NewConversationEndEvent(sessionID string) StreamEvent {
	return newEvent(EventConversationEnd, sessionID)
}

func NewAssistantMessageStartEvent(sessionID string) StreamEvent {
	return newEvent(EventAssistantMessageStart, sessionID)
}

func NewAssistantMessageChunkEvent(sessionID, content string) StreamEvent {
	e := newEvent(EventAssistantMessageChunk, sessionID)
	e.Content = content
	return e
}

func NewAssistantMessageEndEvent(sessionID, content string, toolCalls []protocol.ToolCall) StreamEvent {
	e := newEvent(EventAssistantMessageEnd, sessionID)
	e.Content = content
	e.ToolCalls = toolCalls
	return e
}

func NewToolCallStartEvent(sessionID, toolName, callID string) StreamEvent {
	e := newEvent(EventToolCallStart, sessionID)
	e.ToolName = toolName
	e.CallID = callID
	return e
}

func NewToolCallProgressEvent(sessionID, toolName, callID, status string) StreamEvent {
	e := newEvent(EventToolCallProgress, sessionID)
	e.ToolName = toolName
	e.CallID = callID
	e.Status = status
	return e
}

func NewToolCallEndEvent(sessionID, toolName, callID string, success bool, result json.RawMessage) StreamEvent {
	e := newEvent(EventToolCallEnd, sessionID)
	e.ToolName = toolName
	e.CallID = callID
	e.Success = &success
	e.Result = result
	return e
}

func NewProcessingStatusEvent(sessionID, status string, longRunning bool) StreamEvent {
	e := newEvent(EventProcessingStatus, sessionID)
	e.Status = status
	e.LongRunning = longRunning
	return e
}

func NewErrorEvent(sessionID, kind, message string) StreamEvent {
	e := newEvent(EventError, sessionID)
	e.ErrorKind = kind
	e.ErrorMessage = message
	return e
}

func NewDesignDocumentEvent(sessionID, filename, content string) StreamEvent {
	e := newEvent(EventDesignDocumentGenerated, sessionID)
	e.Filename = filename
	e.Content = content
	return e
}

func NewPrefabsInfoEvent(sessionID, filename, content string) StreamEvent {
	e := newEvent(EventPrefabsInfo, sessionID)
	e.Filename = filename
	e.Content = content
	return e
}

func NewDocumentEditProposalEvent(sessionID string, proposal *protocol.EditProposal) StreamEvent {
	e := newEvent(EventDocumentEditProposal, sessionID)
	e.EditProposal = proposal
	return e
}

func NewHeartbeatEvent() StreamEvent {
	return StreamEvent{Kind: EventHeartbeat, Timestamp: protocol.Now()}
}

// SSEFrame renders the event in server-sent-event wire form:
// "event: <kind>\ndata: <json>\n\n".
func (e StreamEvent) SSEFrame() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", e.Kind, err)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", e.Kind, data)), nil
}
