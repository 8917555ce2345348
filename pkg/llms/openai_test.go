package llms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gtplanner/gtplanner/pkg/protocol"
)

func testProvider(url string) *OpenAIProvider {
	return NewOpenAIProvider(Config{
		Model:   "gpt-4o",
		APIKey:  "test-key",
		BaseURL: url,
		Timeout: 5 * time.Second,
	})
}

func sseBody(payloads ...string) string {
	var b strings.Builder
	for _, p := range payloads {
		b.WriteString("data: ")
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func collectChunks(t *testing.T, ch <-chan StreamChunk) (string, []protocol.ToolCall, int) {
	t.Helper()
	var text strings.Builder
	var calls []protocol.ToolCall
	tokens := 0
	for chunk := range ch {
		switch chunk.Type {
		case ChunkTypeText:
			text.WriteString(chunk.Text)
		case ChunkTypeToolCall:
			calls = append(calls, *chunk.ToolCall)
		case ChunkTypeDone:
			tokens = chunk.Tokens
		case ChunkTypeError:
			t.Fatalf("stream error: %v", chunk.Error)
		}
	}
	return text.String(), calls, tokens
}

func TestGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("authorization = %q", auth)
		}

		var req openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("stream = true for non-streaming call")
		}
		if len(req.Messages) != 2 {
			t.Errorf("messages = %d, want 2", len(req.Messages))
		}

		json.NewEncoder(w).Encode(openAIResponse{
			Choices: []openAIChoice{{
				Message:      openAIChoiceMessage{Role: "assistant", Content: "Hello there."},
				FinishReason: "stop",
			}},
			Usage: openAIUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		})
	}))
	defer server.Close()

	provider := testProvider(server.URL)
	resp, err := provider.Generate(context.Background(), []protocol.Message{
		protocol.NewSystemMessage("You are a planner."),
		protocol.NewUserMessage("hello"),
	}, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Content != "Hello there." {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.TokensUsed != 15 {
		t.Errorf("tokens = %d, want 15", resp.TokensUsed)
	}

	stats := provider.Stats()
	if stats.Requests != 1 || stats.Successes != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestGenerateAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key","type":"invalid_request_error","code":"invalid_api_key"}}`)
	}))
	defer server.Close()

	provider := testProvider(server.URL)
	_, err := provider.Generate(context.Background(), []protocol.Message{protocol.NewUserMessage("hi")}, nil)
	if err == nil {
		t.Fatal("Generate() error = nil, want authentication failure")
	}
	if !strings.Contains(err.Error(), "Incorrect API key") {
		t.Errorf("error %q does not carry the API message", err)
	}

	stats := provider.Stats()
	if stats.Failures != 1 {
		t.Errorf("failures = %d, want 1", stats.Failures)
	}
}

func TestGenerateStreamingText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo!"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"total_tokens":7}}`,
		))
	}))
	defer server.Close()

	provider := testProvider(server.URL)
	ch, err := provider.GenerateStreaming(context.Background(), []protocol.Message{protocol.NewUserMessage("hi")}, nil, StreamOptions{})
	if err != nil {
		t.Fatalf("GenerateStreaming() error = %v", err)
	}

	text, calls, tokens := collectChunks(t, ch)
	if text != "Hello!" {
		t.Errorf("text = %q", text)
	}
	if len(calls) != 0 {
		t.Errorf("calls = %d, want 0", len(calls))
	}
	if tokens != 7 {
		t.Errorf("tokens = %d, want 7", tokens)
	}
}

func TestGenerateStreamingNativeToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.ParallelToolCalls == nil || !*req.ParallelToolCalls {
			t.Error("parallel_tool_calls not requested")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_abc","type":"function","function":{"name":"research","arguments":""}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"keywo"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"rds\":[\"go\"]}"}},{"index":1,"id":"call_def","type":"function","function":{"name":"short_planning","arguments":"{}"}}]}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		))
	}))
	defer server.Close()

	provider := testProvider(server.URL)
	ch, err := provider.GenerateStreaming(context.Background(), []protocol.Message{protocol.NewUserMessage("plan")}, []ToolDefinition{
		{Name: "research", Description: "research", Parameters: map[string]interface{}{"type": "object"}},
	}, StreamOptions{})
	if err != nil {
		t.Fatalf("GenerateStreaming() error = %v", err)
	}

	_, calls, _ := collectChunks(t, ch)
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	if calls[0].ID != "call_abc" || calls[0].Function.Name != "research" {
		t.Errorf("first call = %+v", calls[0])
	}
	if calls[0].Function.Arguments != `{"keywords":["go"]}` {
		t.Errorf("coalesced arguments = %q", calls[0].Function.Arguments)
	}
	if calls[1].ID != "call_def" || calls[1].Function.Name != "short_planning" {
		t.Errorf("second call = %+v", calls[1])
	}
}

func TestGenerateStreamingTagFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// The tag is split across chunk boundaries on purpose.
		fmt.Fprint(w, sseBody(
			`{"choices":[{"delta":{"content":"Let me check <tool_"}}]}`,
			`{"choices":[{"delta":{"content":"call>{\"name\":\"search_prefabs\",\"arguments\":{\"query\":\"pdf\"}}</tool_"}}]}`,
			`{"choices":[{"delta":{"content":"call> the catalogue."}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		))
	}))
	defer server.Close()

	provider := testProvider(server.URL)
	ch, err := provider.GenerateStreaming(context.Background(), []protocol.Message{protocol.NewUserMessage("find pdf tools")}, nil, StreamOptions{FilterToolTags: true})
	if err != nil {
		t.Fatalf("GenerateStreaming() error = %v", err)
	}

	text, calls, _ := collectChunks(t, ch)
	if text != "Let me check  the catalogue." {
		t.Errorf("text = %q", text)
	}
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	if calls[0].Function.Name != "search_prefabs" {
		t.Errorf("name = %q", calls[0].Function.Name)
	}
	if !strings.HasPrefix(calls[0].ID, "call_") || len(calls[0].ID) != len("call_")+8 {
		t.Errorf("id = %q, want call_ plus 8 hex chars", calls[0].ID)
	}
}

func TestGenerateStreamingTagFilterFlushesTrailingText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			`{"choices":[{"delta":{"content":"done <tool_ca"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		))
	}))
	defer server.Close()

	provider := testProvider(server.URL)
	ch, err := provider.GenerateStreaming(context.Background(), []protocol.Message{protocol.NewUserMessage("hi")}, nil, StreamOptions{FilterToolTags: true})
	if err != nil {
		t.Fatalf("GenerateStreaming() error = %v", err)
	}

	text, calls, _ := collectChunks(t, ch)
	if text != "done <tool_ca" {
		t.Errorf("text = %q, want partial tag flushed as literal text", text)
	}
	if len(calls) != 0 {
		t.Errorf("unexpected calls")
	}
}

func TestBuildRequestRoundTripsToolMessages(t *testing.T) {
	provider := testProvider("http://unused")

	call := protocol.ToolCall{
		ID:   "call_1",
		Type: "function",
		Function: protocol.FunctionCall{
			Name:      "view_document",
			Arguments: `{"filename":"design.md"}`,
		},
	}
	assistant := protocol.NewAssistantMessage("", []protocol.ToolCall{call})

	messages := []protocol.Message{
		protocol.NewUserMessage("show me the design"),
		assistant,
		protocol.NewToolMessage("call_1", `{"success":true}`),
	}

	req := provider.buildRequest(messages, false, nil)
	if len(req.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(req.Messages))
	}
	if len(req.Messages[1].ToolCalls) != 1 || req.Messages[1].ToolCalls[0].ID != "call_1" {
		t.Errorf("assistant tool_calls not preserved: %+v", req.Messages[1])
	}
	if req.Messages[2].Role != "tool" || req.Messages[2].ToolCallID != "call_1" {
		t.Errorf("tool message not preserved: %+v", req.Messages[2])
	}
}
