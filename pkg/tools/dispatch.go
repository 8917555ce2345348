package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/gtplanner/gtplanner/pkg/flow"
	"github.com/gtplanner/gtplanner/pkg/observability"
	"github.com/gtplanner/gtplanner/pkg/protocol"
	"github.com/gtplanner/gtplanner/pkg/streaming"
)

// Dispatcher validates and executes the tool calls of one assistant turn.
// All handlers of a turn run concurrently; the resulting tool messages are
// returned in the original tool-call order regardless of completion order.
type Dispatcher struct {
	registry *Registry
}

func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Execution pairs one tool call with its outcome.
type Execution struct {
	Call     protocol.ToolCall
	Result   Result
	Duration time.Duration
}

// Dispatch runs every call and returns one tool message per call, in call
// order. Validation failures become failed results without invoking the
// handler. Successful results are folded into shared afterwards.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []protocol.ToolCall, shared *flow.Shared) []protocol.Message {
	executions := make([]Execution, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i := range calls {
		i, call := i, calls[i]
		g.Go(func() error {
			executions[i] = d.runOne(gctx, call, shared)
			return nil
		})
	}
	_ = g.Wait()

	// Fold results into shared only after every handler has finished, so
	// concurrent handlers never write the same shared key.
	messages := make([]protocol.Message, 0, len(executions))
	for _, exec := range executions {
		d.extract(exec, shared)

		content, err := json.Marshal(exec.Result)
		if err != nil {
			content = []byte(fmt.Sprintf(`{"success":false,"error":%q}`, err.Error()))
		}
		if exec.Result.Success {
			shared.SetToolResult(exec.Call.Function.Name, content)
		}
		messages = append(messages, protocol.NewToolMessage(exec.Call.ID, string(content)))
	}

	shared.Lock()
	for _, call := range calls {
		shared.ToolCallIDs = append(shared.ToolCallIDs, call.ID)
	}
	shared.Unlock()

	return messages
}

func (d *Dispatcher) runOne(ctx context.Context, call protocol.ToolCall, shared *flow.Shared) Execution {
	name := call.Function.Name
	startTime := time.Now()

	tracer := observability.GetTracer("gtplanner.tools")
	ctx, span := tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(
			attribute.String(observability.AttrToolName, name),
			attribute.String("tool.call_id", call.ID),
		),
	)
	defer span.End()

	shared.Emit(ctx, streaming.NewToolCallStartEvent(shared.SessionID, name, call.ID))

	result := d.execute(ctx, call, shared)
	duration := time.Since(startTime)

	var execErr error
	if !result.Success {
		execErr = fmt.Errorf("%s", result.Error)
		span.SetStatus(codes.Error, result.Error)
	} else {
		span.SetStatus(codes.Ok, "success")
	}
	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordToolExecution(ctx, name, duration, execErr)
	}

	raw, _ := json.Marshal(result)
	shared.Emit(ctx, streaming.NewToolCallEndEvent(shared.SessionID, name, call.ID, result.Success, raw))

	slog.Debug("Tool executed", "tool", name, "call_id", call.ID, "success", result.Success, "duration", duration)
	return Execution{Call: call, Result: result, Duration: duration}
}

func (d *Dispatcher) execute(ctx context.Context, call protocol.ToolCall, shared *flow.Shared) Result {
	name := call.Function.Name

	tool, ok := d.registry.Get(name)
	if !ok {
		return Fail("Unknown tool: %s", name)
	}

	args, failure := validateArguments(tool, call.Function.Arguments)
	if failure != nil {
		return *failure
	}

	result, err := tool.Execute(ctx, args, shared)
	if err != nil {
		return Fail("%s", err.Error())
	}
	return result
}

// validateArguments parses the argument JSON and checks it against the
// tool's schema. Missing required fields produce the canonical message
// without invoking the handler.
func validateArguments(tool Tool, rawArgs string) (map[string]interface{}, *Result) {
	if strings.TrimSpace(rawArgs) == "" {
		rawArgs = "{}"
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		failure := Fail("Invalid tool arguments: %s", err.Error())
		return nil, &failure
	}

	schema := tool.Parameters()
	if required, ok := schema["required"].([]string); ok {
		for _, field := range required {
			if _, present := args[field]; !present {
				failure := Fail("Missing required parameter: %s", field)
				return nil, &failure
			}
		}
	} else if required, ok := schema["required"].([]interface{}); ok {
		for _, f := range required {
			field, _ := f.(string)
			if _, present := args[field]; !present {
				failure := Fail("Missing required parameter: %s", field)
				return nil, &failure
			}
		}
	}

	if err := validateSchema(schema, args); err != nil {
		failure := Fail("Invalid tool arguments: %s", err.Error())
		return nil, &failure
	}

	return args, nil
}

func validateSchema(schema map[string]interface{}, args map[string]interface{}) error {
	// A nil required slice marshals to JSON null, which the compiler
	// rejects. Strip it; requiredness was already checked above.
	if required, present := schema["required"]; present && isNilSlice(required) {
		schema = maps.Clone(schema)
		delete(schema, "required")
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return err
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool.json", strings.NewReader(string(raw))); err != nil {
		return err
	}
	compiled, err := compiler.Compile("tool.json")
	if err != nil {
		return err
	}

	// Round-trip the args so numbers come back as json.Number-free
	// interface values the validator understands.
	var doc interface{}
	argsRaw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(argsRaw, &doc); err != nil {
		return err
	}

	return compiled.Validate(doc)
}

func isNilSlice(v interface{}) bool {
	switch s := v.(type) {
	case []string:
		return s == nil
	case []interface{}:
		return s == nil
	case nil:
		return true
	}
	return false
}

// extract folds one successful result into the shared working state, keyed
// by tool name.
func (d *Dispatcher) extract(exec Execution, shared *flow.Shared) {
	if !exec.Result.Success {
		return
	}

	shared.Lock()
	defer shared.Unlock()

	switch exec.Call.Function.Name {
	case "prefab_recommend", "search_prefabs":
		if prefabs := toMapSlice(exec.Result.Data["prefabs"]); prefabs != nil {
			shared.RecommendedPrefabs = prefabs
			shared.DirtyKeys[protocol.KeyRecommendedPrefabs] = true
		}

	case "research":
		if findings, ok := exec.Result.Data["findings"].(map[string]interface{}); ok {
			shared.ResearchFindings = findings
			shared.DirtyKeys[protocol.KeyResearchFindings] = true
		}

	case "short_planning":
		if plan, ok := exec.Result.Data["plan"].(string); ok {
			shared.ShortPlanning = plan
			shared.DirtyKeys[protocol.KeyShortPlanning] = true
		}

	case "design", "database_design":
		if docs, ok := exec.Result.Data["documents"].([]protocol.Document); ok {
			shared.GeneratedDocuments = append(shared.GeneratedDocuments, docs...)
			shared.DirtyKeys[protocol.KeyDesigns] = true
		}

	case "edit_document":
		if proposal, ok := exec.Result.Data["proposal"].(*protocol.EditProposal); ok {
			shared.PendingEdits[proposal.ProposalID] = proposal
			shared.DirtyKeys[protocol.KeyPendingDocumentEdits] = true
		}
	}
}

func toMapSlice(v interface{}) []map[string]interface{} {
	switch typed := v.(type) {
	case []map[string]interface{}:
		return typed
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(typed))
		for _, item := range typed {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}
