package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/gtplanner/gtplanner/pkg/flow"
	"github.com/gtplanner/gtplanner/pkg/protocol"
	"github.com/gtplanner/gtplanner/pkg/session"
	"github.com/gtplanner/gtplanner/pkg/streaming"
	"github.com/gtplanner/gtplanner/pkg/tools"
)

// stubRunner emits a tiny scripted turn and returns a canned result.
type stubRunner struct {
	lastInput string
	lastCtx   *protocol.AgentContext
}

func (r *stubRunner) Run(ctx context.Context, userInput string, agentCtx *protocol.AgentContext, stream *streaming.Session) *protocol.AgentResult {
	r.lastInput = userInput
	r.lastCtx = agentCtx
	if stream != nil {
		stream.EmitEvent(ctx, streaming.NewConversationStartEvent(agentCtx.SessionID))
		stream.EmitEvent(ctx, streaming.NewAssistantMessageChunkEvent(agentCtx.SessionID, "hello"))
		stream.EmitEvent(ctx, streaming.NewConversationEndEvent(agentCtx.SessionID))
	}
	return &protocol.AgentResult{
		Success: true,
		NewMessages: []protocol.Message{
			protocol.NewUserMessage(userInput),
			protocol.NewAssistantMessage("hello", nil),
		},
	}
}

func openTestStore(t *testing.T) *session.SQLStore {
	t.Helper()
	store, err := session.Open(session.DatabaseConfig{
		Driver:   "sqlite",
		Database: filepath.Join(t.TempDir(), "sessions.db"),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestHealthz(t *testing.T) {
	srv := New(&stubRunner{})
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestStreamEndpoint(t *testing.T) {
	runner := &stubRunner{}
	srv := New(runner)

	body := strings.NewReader(`{"message":"plan a blog","language":"en"}`)
	req := httptest.NewRequest(http.MethodPost, "/agent/s1/stream", body)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	out := rec.Body.String()
	for _, frame := range []string{"event: conversation_start", "event: assistant_message_chunk", "event: conversation_end"} {
		if !strings.Contains(out, frame) {
			t.Errorf("missing frame %q in:\n%s", frame, out)
		}
	}
	if runner.lastInput != "plan a blog" {
		t.Errorf("input = %q", runner.lastInput)
	}
	if runner.lastCtx.SessionID != "s1" {
		t.Errorf("session id = %q", runner.lastCtx.SessionID)
	}
	if runner.lastCtx.SessionMetadata["language"] != "en" {
		t.Errorf("language not threaded: %v", runner.lastCtx.SessionMetadata)
	}
}

func TestStreamEndpointValidation(t *testing.T) {
	srv := New(&stubRunner{})

	req := httptest.NewRequest(http.MethodPost, "/agent/s1/stream", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty message: status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/agent/s1/stream", strings.NewReader(`{not json`))
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json: status = %d", rec.Code)
	}
}

func TestStreamPersistsTurns(t *testing.T) {
	store := openTestStore(t)
	runner := &stubRunner{}
	srv := New(runner, WithSessionStore(store))

	send := func() {
		body := strings.NewReader(`{"message":"hi"}`)
		req := httptest.NewRequest(http.MethodPost, "/agent/s1/stream", body)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	}

	send()
	send()

	// The second run must have seen the first turn's two messages.
	if len(runner.lastCtx.DialogueHistory) != 2 {
		t.Errorf("history = %d messages", len(runner.lastCtx.DialogueHistory))
	}

	loaded, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.DialogueHistory) != 4 {
		t.Errorf("stored history = %d messages", len(loaded.DialogueHistory))
	}
}

func TestSessionsListAndDelete(t *testing.T) {
	store := openTestStore(t)
	srv := New(&stubRunner{}, WithSessionStore(store))

	if err := store.Create(context.Background(), "s1", nil); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var infos []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &infos); err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0]["id"] != "s1" {
		t.Errorf("sessions = %v", infos)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/sessions/s1", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
}

// listTool is a minimal catalogue entry for MCP tests.
type listTool struct{}

func (listTool) Name() string        { return "list_things" }
func (listTool) Description() string { return "lists things" }

func (listTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string"},
		},
	}
}

func (listTool) Execute(ctx context.Context, args map[string]interface{}, shared *flow.Shared) (tools.Result, error) {
	query, _ := args["query"].(string)
	if query == "boom" {
		return tools.Fail("nothing found"), nil
	}
	return tools.OK(map[string]interface{}{"things": []string{"a", "b"}}), nil
}

func TestMCPToolHandler(t *testing.T) {
	handler := mcpToolHandler(listTool{})

	req := mcp.CallToolRequest{}
	req.Params.Name = "list_things"
	req.Params.Arguments = map[string]interface{}{"query": "stuff"}

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}

	req.Params.Arguments = map[string]interface{}{"query": "boom"}
	result, err = handler(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Errorf("failure must map to an error result: %+v", result)
	}
}

func TestNewMCPServerRegistersTools(t *testing.T) {
	registry := tools.NewRegistry()
	if err := registry.Register(listTool{}); err != nil {
		t.Fatal(err)
	}
	if s := NewMCPServer(registry, "test"); s == nil {
		t.Fatal("nil server")
	}
}
