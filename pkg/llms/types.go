package llms

import (
	"context"

	"github.com/gtplanner/gtplanner/pkg/protocol"
)

// ToolDefinition describes one callable tool in the form the chat completion
// API expects: a name, a description, and a JSON Schema for the arguments.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Response is the outcome of a non-streaming chat completion.
type Response struct {
	Content    string
	ToolCalls  []protocol.ToolCall
	TokensUsed int
}

// Chunk types emitted on a streaming channel.
const (
	ChunkTypeText     = "text"
	ChunkTypeToolCall = "tool_call"
	ChunkTypeDone     = "done"
	ChunkTypeError    = "error"
)

// StreamChunk is one unit of a streaming completion. Text chunks carry
// cleaned content; tool_call chunks carry one coalesced or synthesized call.
type StreamChunk struct {
	Type     string
	Text     string
	ToolCall *protocol.ToolCall
	Tokens   int
	Error    error
}

// StreamOptions controls a streaming completion request.
type StreamOptions struct {
	// FilterToolTags routes chunk text through the inline tool-call tag
	// filter, replacing tagged spans with synthesized tool-call deltas.
	FilterToolTags bool
}

// Provider is a chat-completion backend.
type Provider interface {
	Generate(ctx context.Context, messages []protocol.Message, tools []ToolDefinition) (*Response, error)
	GenerateStreaming(ctx context.Context, messages []protocol.Message, tools []ToolDefinition, opts StreamOptions) (<-chan StreamChunk, error)
	ModelName() string
	Stats() StatsSnapshot
	Close() error
}
