package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/gtplanner/gtplanner/pkg/flow"
	"github.com/gtplanner/gtplanner/pkg/protocol"
	"github.com/gtplanner/gtplanner/pkg/streaming"
)

// newTurnShared builds the turn's working state from the caller's context:
// dialogue history plus the new user message, and the well-known
// tool-result keys carried over from earlier turns.
func newTurnShared(userInput string, agentCtx *protocol.AgentContext, language string, stream *streaming.Session) (*flow.Shared, error) {
	if err := agentCtx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent context: %w", err)
	}

	shared := flow.NewShared(agentCtx.SessionID, language, userInput, stream)
	shared.Messages = append(shared.Messages, agentCtx.DialogueHistory...)
	shared.AppendMessages(protocol.NewUserMessage(userInput))

	results := agentCtx.ToolExecutionResults
	if results == nil {
		return shared, nil
	}

	if prefabs := toMapSlice(results[protocol.KeyRecommendedPrefabs]); prefabs != nil {
		shared.RecommendedPrefabs = prefabs
	}
	if findings, ok := results[protocol.KeyResearchFindings].(map[string]any); ok {
		shared.ResearchFindings = findings
	}
	if plan, ok := results[protocol.KeyShortPlanning].(string); ok {
		shared.ShortPlanning = plan
	}
	if designs, ok := results[protocol.KeyDesigns].(map[string]any); ok {
		shared.GeneratedDocuments = toDocuments(designs[protocol.KeyGeneratedDocuments])
	}
	if edits, ok := results[protocol.KeyPendingDocumentEdits].(map[string]any); ok {
		for id, raw := range edits {
			if proposal := toProposal(raw); proposal != nil {
				shared.PendingEdits[id] = proposal
			}
		}
	}
	return shared, nil
}

// buildResult packs the turn's new messages and tool-result updates into
// the caller-facing diff. Only keys the turn actually wrote appear; values
// hydrated from the context stay out unless a tool touched them.
func buildResult(shared *flow.Shared, executionTime float64) *protocol.AgentResult {
	shared.Lock()
	defer shared.Unlock()

	updates := make(map[string]any)
	if shared.DirtyKeys[protocol.KeyRecommendedPrefabs] {
		updates[protocol.KeyRecommendedPrefabs] = shared.RecommendedPrefabs
	}
	if shared.DirtyKeys[protocol.KeyResearchFindings] {
		updates[protocol.KeyResearchFindings] = shared.ResearchFindings
	}
	if shared.DirtyKeys[protocol.KeyShortPlanning] {
		updates[protocol.KeyShortPlanning] = shared.ShortPlanning
	}
	if shared.DirtyKeys[protocol.KeyDesigns] {
		updates[protocol.KeyDesigns] = map[string]any{
			protocol.KeyGeneratedDocuments: shared.GeneratedDocuments,
		}
	}
	if shared.DirtyKeys[protocol.KeyPendingDocumentEdits] {
		updates[protocol.KeyPendingDocumentEdits] = shared.PendingEdits
	}

	result := &protocol.AgentResult{
		Success:                 true,
		NewMessages:             shared.NewMessages,
		ToolExecutionResultsUpd: updates,
		ExecutionTime:           executionTime,
		Metadata: map[string]any{
			"react_cycle_count": shared.ReactCycleCount,
		},
	}
	if len(shared.Errors) > 0 {
		result.Metadata["errors"] = shared.Errors
	}
	return result
}

func errorResult(shared *flow.Shared, err error, executionTime float64) *protocol.AgentResult {
	result := &protocol.AgentResult{
		Success:       false,
		Error:         err.Error(),
		ExecutionTime: executionTime,
	}
	if shared != nil {
		shared.Lock()
		result.NewMessages = shared.NewMessages
		result.Metadata = map[string]any{"react_cycle_count": shared.ReactCycleCount}
		if len(shared.Errors) > 0 {
			result.Metadata["errors"] = shared.Errors
		}
		shared.Unlock()
	}
	return result
}

func toMapSlice(v any) []map[string]any {
	switch typed := v.(type) {
	case []map[string]any:
		return typed
	case []any:
		out := make([]map[string]any, 0, len(typed))
		for _, item := range typed {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return nil
	}
}

func toDocuments(v any) []protocol.Document {
	switch typed := v.(type) {
	case []protocol.Document:
		return typed
	case []any:
		// Histories loaded from JSON arrive as generic maps.
		raw, err := json.Marshal(typed)
		if err != nil {
			return nil
		}
		var docs []protocol.Document
		if err := json.Unmarshal(raw, &docs); err != nil {
			return nil
		}
		return docs
	default:
		return nil
	}
}

func toProposal(v any) *protocol.EditProposal {
	switch typed := v.(type) {
	case *protocol.EditProposal:
		return typed
	case map[string]any:
		raw, err := json.Marshal(typed)
		if err != nil {
			return nil
		}
		var proposal protocol.EditProposal
		if err := json.Unmarshal(raw, &proposal); err != nil {
			return nil
		}
		return &proposal
	default:
		return nil
	}
}
