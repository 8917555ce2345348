package flow

import (
	"context"
	"fmt"
)

type edge struct {
	from   string
	action string
}

// Flow is a directed graph of nodes linked by action labels. Run walks the
// graph from the start node, following each Post's returned action, until a
// terminal action or an unlinked action stops it.
type Flow struct {
	start string
	nodes map[string]Node
	edges map[edge]string
}

func New(start Node) *Flow {
	f := &Flow{
		start: start.Name(),
		nodes: map[string]Node{start.Name(): start},
		edges: make(map[edge]string),
	}
	return f
}

// Next links from's action to the to node, registering to if needed.
func (f *Flow) Next(from Node, action string, to Node) *Flow {
	f.nodes[from.Name()] = from
	f.nodes[to.Name()] = to
	f.edges[edge{from: from.Name(), action: action}] = to.Name()
	return f
}

// Run executes the flow and returns the final action.
func (f *Flow) Run(ctx context.Context, shared *Shared) (string, error) {
	current, ok := f.nodes[f.start]
	if !ok {
		return ActionError, fmt.Errorf("flow has no start node %q", f.start)
	}

	for {
		action, err := RunNode(ctx, current, shared)
		if err != nil {
			return ActionError, err
		}
		if action == ActionComplete || action == ActionError {
			return action, nil
		}

		nextName, ok := f.edges[edge{from: current.Name(), action: action}]
		if !ok {
			// No successor registered for this action: the flow is done.
			return action, nil
		}
		current = f.nodes[nextName]
	}
}
