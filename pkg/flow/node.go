package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gtplanner/gtplanner/pkg/streaming"
)

// Terminal actions recognized by the flow runner.
const (
	ActionDefault  = "default"
	ActionComplete = "complete"
	ActionError    = "error"
)

// Node is one step of a flow. The three phases run in order: Prep gathers
// inputs from shared state, Exec does the work without touching shared
// state, Post writes results back and picks the next action.
type Node interface {
	Name() string
	Prep(ctx context.Context, shared *Shared) (interface{}, error)
	Exec(ctx context.Context, prepResult interface{}) (interface{}, error)
	Post(ctx context.Context, shared *Shared, prepResult, execResult interface{}) (string, error)
}

// RunNode drives one node through its lifecycle with uniform error handling:
// status events at phase boundaries, and any phase error recorded into
// shared.Errors and emitted as an error event.
func RunNode(ctx context.Context, node Node, shared *Shared) (string, error) {
	shared.Emit(ctx, streaming.NewProcessingStatusEvent(shared.SessionID, node.Name()+": preparing", false))

	prepResult, err := node.Prep(ctx, shared)
	if err != nil {
		return ActionError, failNode(ctx, node, shared, "prep", err)
	}

	shared.Emit(ctx, streaming.NewProcessingStatusEvent(shared.SessionID, node.Name()+": running", false))

	execResult, err := node.Exec(ctx, prepResult)
	if err != nil {
		return ActionError, failNode(ctx, node, shared, "exec", err)
	}

	action, err := node.Post(ctx, shared, prepResult, execResult)
	if err != nil {
		return ActionError, failNode(ctx, node, shared, "post", err)
	}
	if action == "" {
		action = ActionDefault
	}
	return action, nil
}

func failNode(ctx context.Context, node Node, shared *Shared, phase string, err error) error {
	wrapped := fmt.Errorf("%s %s failed: %w", node.Name(), phase, err)
	slog.Error("Flow node failed", "node", node.Name(), "phase", phase, "error", err)
	shared.RecordError(wrapped.Error())
	shared.Emit(ctx, streaming.NewErrorEvent(shared.SessionID, "unknown", wrapped.Error()))
	return wrapped
}
