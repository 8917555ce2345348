package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gtplanner/gtplanner/pkg/flow"
	"github.com/gtplanner/gtplanner/pkg/llms"
	"github.com/gtplanner/gtplanner/pkg/prompts"
	"github.com/gtplanner/gtplanner/pkg/protocol"
	"github.com/gtplanner/gtplanner/pkg/streaming"
	"github.com/gtplanner/gtplanner/pkg/tools"
)

// DefaultMaxDepth bounds the number of model round-trips in one turn.
const DefaultMaxDepth = 5

const depthLimitMessage = "I've reached the maximum number of reasoning steps for this request. " +
	"Here is a summary based on the work completed so far. " +
	"Ask a follow-up question to continue."

// Orchestrator drives one conversation turn: it loops the model against the
// tool catalogue until the model answers without tool calls or the depth
// limit is hit.
type Orchestrator struct {
	llm            llms.Provider
	registry       *tools.Registry
	dispatcher     *tools.Dispatcher
	prompts        *prompts.Store
	maxDepth       int
	filterToolTags bool
}

type Option func(*Orchestrator)

// WithMaxDepth overrides the model round-trip limit per turn.
func WithMaxDepth(depth int) Option {
	return func(o *Orchestrator) {
		if depth > 0 {
			o.maxDepth = depth
		}
	}
}

// WithToolTagFilter enables the inline tool-call tag filter on streamed text.
func WithToolTagFilter(enabled bool) Option {
	return func(o *Orchestrator) { o.filterToolTags = enabled }
}

func New(llm llms.Provider, registry *tools.Registry, promptStore *prompts.Store, opts ...Option) *Orchestrator {
	if promptStore == nil {
		promptStore = prompts.NewStore(prompts.Config{})
	}
	o := &Orchestrator{
		llm:            llm,
		registry:       registry,
		dispatcher:     tools.NewDispatcher(registry),
		prompts:        promptStore,
		maxDepth:       DefaultMaxDepth,
		filterToolTags: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one turn. The stream session is owned by the caller; Run emits
// into it but never closes it.
func (o *Orchestrator) Run(ctx context.Context, userInput string, agentCtx *protocol.AgentContext, stream *streaming.Session) *protocol.AgentResult {
	start := time.Now()

	language := o.prompts.Resolve(languageOf(agentCtx))
	shared, err := newTurnShared(userInput, agentCtx, language, stream)
	if err != nil {
		if stream != nil {
			stream.EmitEvent(ctx, streaming.NewErrorEvent("", "invalid_context", err.Error()))
		}
		return errorResult(nil, err, time.Since(start).Seconds())
	}

	shared.Emit(ctx, streaming.NewConversationStartEvent(shared.SessionID))
	defer shared.Emit(ctx, streaming.NewConversationEndEvent(shared.SessionID))

	definitions := o.registry.Definitions()

	for cycle := 0; cycle < o.maxDepth; cycle++ {
		shared.Lock()
		shared.ReactCycleCount++
		shared.Unlock()

		assistant, err := o.generateAssistantMessage(ctx, shared, definitions)
		if err != nil {
			msg := fmt.Sprintf("model call failed: %v", err)
			shared.RecordError(msg)
			shared.Emit(ctx, streaming.NewErrorEvent(shared.SessionID, "llm_error", err.Error()))
			return errorResult(shared, fmt.Errorf("%s", msg), time.Since(start).Seconds())
		}

		shared.AppendMessages(assistant)
		shared.Emit(ctx, streaming.NewAssistantMessageEndEvent(shared.SessionID, assistant.Content, assistant.ToolCalls))

		if len(assistant.ToolCalls) == 0 {
			return buildResult(shared, time.Since(start).Seconds())
		}

		toolMessages := o.dispatcher.Dispatch(ctx, assistant.ToolCalls, shared)
		shared.AppendMessages(toolMessages...)
	}

	// The model still wanted tools on its last cycle. Close the turn with a
	// synthetic answer so the history stays well formed.
	slog.Warn("Recursion depth limit reached", "session_id", shared.SessionID, "max_depth", o.maxDepth)
	closing := protocol.NewAssistantMessage(depthLimitMessage, nil)
	shared.AppendMessages(closing)
	shared.Emit(ctx, streaming.NewAssistantMessageStartEvent(shared.SessionID))
	shared.Emit(ctx, streaming.NewAssistantMessageChunkEvent(shared.SessionID, closing.Content))
	shared.Emit(ctx, streaming.NewAssistantMessageEndEvent(shared.SessionID, closing.Content, nil))
	return buildResult(shared, time.Since(start).Seconds())
}

// generateAssistantMessage runs one streaming completion: system prompt plus
// the working conversation, text chunks re-emitted as message chunks, tool
// call chunks collected in arrival order.
func (o *Orchestrator) generateAssistantMessage(ctx context.Context, shared *flow.Shared, definitions []llms.ToolDefinition) (protocol.Message, error) {
	system := o.prompts.SystemPrompt(shared.Language, shared.Documents())

	shared.Lock()
	messages := make([]protocol.Message, 0, len(shared.Messages)+1)
	messages = append(messages, protocol.NewSystemMessage(system))
	messages = append(messages, shared.Messages...)
	shared.Unlock()

	shared.Emit(ctx, streaming.NewAssistantMessageStartEvent(shared.SessionID))

	chunks, err := o.llm.GenerateStreaming(ctx, messages, definitions, llms.StreamOptions{
		FilterToolTags: o.filterToolTags,
	})
	if err != nil {
		return protocol.Message{}, err
	}

	var content string
	var toolCalls []protocol.ToolCall
	for chunk := range chunks {
		switch chunk.Type {
		case llms.ChunkTypeText:
			if chunk.Text == "" {
				continue
			}
			content += chunk.Text
			shared.Emit(ctx, streaming.NewAssistantMessageChunkEvent(shared.SessionID, chunk.Text))
		case llms.ChunkTypeToolCall:
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}
		case llms.ChunkTypeError:
			return protocol.Message{}, chunk.Error
		case llms.ChunkTypeDone:
		}
	}
	if err := ctx.Err(); err != nil {
		return protocol.Message{}, err
	}
	return protocol.NewAssistantMessage(content, toolCalls), nil
}

func languageOf(agentCtx *protocol.AgentContext) string {
	if agentCtx == nil || agentCtx.SessionMetadata == nil {
		return ""
	}
	if lang, ok := agentCtx.SessionMetadata["language"].(string); ok {
		return lang
	}
	return ""
}
