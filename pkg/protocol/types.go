package protocol

import (
	"fmt"
	"time"
)

// Message roles. These mirror the OpenAI chat completion wire format so that
// dialogue history can be sent to any OpenAI-compatible endpoint unchanged.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a structured request by the model to invoke a named function.
// The ID pairs an assistant message's tool_calls entry with the later tool
// message carrying the result.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one entry of the dialogue history. Timestamp is float seconds
// since the Unix epoch; within a turn timestamps are non-decreasing.
type Message struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Timestamp  float64        `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// Now returns the current time as float seconds.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content, Timestamp: Now()}
}

func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: Now()}
}

func NewAssistantMessage(content string, toolCalls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, Timestamp: Now(), ToolCalls: toolCalls}
}

func NewToolMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: content, Timestamp: Now(), ToolCallID: toolCallID}
}

// Well-known keys of AgentContext.ToolExecutionResults. Tools write their
// outputs under these keys; the orchestrator folds them into the result diff.
const (
	KeyRecommendedPrefabs   = "recommended_prefabs"
	KeyResearchFindings     = "research_findings"
	KeyShortPlanning        = "short_planning"
	KeyDesigns              = "designs"
	KeyGeneratedDocuments   = "generated_documents"
	KeyPendingDocumentEdits = "pending_document_edits"
)

// AgentContext is the request side of a turn. The caller owns it; the core
// reads it and never mutates it.
type AgentContext struct {
	SessionID            string         `json:"session_id"`
	DialogueHistory      []Message      `json:"dialogue_history"`
	ToolExecutionResults map[string]any `json:"tool_execution_results,omitempty"`
	SessionMetadata      map[string]any `json:"session_metadata,omitempty"`
	LastUpdated          float64        `json:"last_updated"`
}

// Validate checks the minimal shape the orchestrator relies on.
func (c *AgentContext) Validate() error {
	if c == nil {
		return fmt.Errorf("agent context is nil")
	}
	if c.SessionID == "" {
		return fmt.Errorf("session_id cannot be empty")
	}
	for i, msg := range c.DialogueHistory {
		switch msg.Role {
		case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		default:
			return fmt.Errorf("dialogue_history[%d]: unknown role %q", i, msg.Role)
		}
		if msg.Role == RoleTool && msg.ToolCallID == "" {
			return fmt.Errorf("dialogue_history[%d]: tool message missing tool_call_id", i)
		}
	}
	return nil
}

// AgentResult is the response side of a turn: everything the turn appended
// plus the subset of tool-result keys it wrote to.
type AgentResult struct {
	Success                 bool           `json:"success"`
	Error                   string         `json:"error,omitempty"`
	NewMessages             []Message      `json:"new_messages"`
	ToolExecutionResultsUpd map[string]any `json:"tool_execution_results_updates,omitempty"`
	Metadata                map[string]any `json:"metadata,omitempty"`
	ExecutionTime           float64        `json:"execution_time"`
}

// ValidateToolCallPairing checks the pairing invariant: every assistant
// message with tool calls is followed, before the next assistant message, by
// exactly one tool message per tool call id.
func ValidateToolCallPairing(messages []Message) error {
	pending := make(map[string]bool)
	for i, msg := range messages {
		switch msg.Role {
		case RoleAssistant:
			if len(pending) > 0 {
				return fmt.Errorf("message %d: assistant message before %d pending tool result(s)", i, len(pending))
			}
			for _, tc := range msg.ToolCalls {
				if tc.ID == "" {
					return fmt.Errorf("message %d: tool call with empty id", i)
				}
				if pending[tc.ID] {
					return fmt.Errorf("message %d: duplicate tool call id %s", i, tc.ID)
				}
				pending[tc.ID] = true
			}
		case RoleTool:
			if !pending[msg.ToolCallID] {
				return fmt.Errorf("message %d: tool result for unknown call id %s", i, msg.ToolCallID)
			}
			delete(pending, msg.ToolCallID)
		}
	}
	if len(pending) > 0 {
		return fmt.Errorf("%d tool call(s) left unpaired at end of messages", len(pending))
	}
	return nil
}
