package session

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gtplanner/gtplanner/pkg/protocol"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := Open(DatabaseConfig{
		Driver:   "sqlite",
		Database: filepath.Join(t.TempDir(), "sessions.db"),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "s1", map[string]any{"language": "en"}); err != nil {
		t.Fatal(err)
	}

	call := protocol.ToolCall{
		ID:       "call_1",
		Type:     "function",
		Function: protocol.FunctionCall{Name: "short_planning", Arguments: `{"user_requirements":"a blog"}`},
	}
	result := &protocol.AgentResult{
		Success: true,
		NewMessages: []protocol.Message{
			protocol.NewUserMessage("plan a blog"),
			protocol.NewAssistantMessage("", []protocol.ToolCall{call}),
			protocol.NewToolMessage("call_1", `{"success":true}`),
			protocol.NewAssistantMessage("Here is the plan.", nil),
		},
		ToolExecutionResultsUpd: map[string]any{
			protocol.KeyShortPlanning: "1. write posts",
		},
	}
	if err := store.ApplyResult(ctx, "s1", result); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.SessionMetadata["language"] != "en" {
		t.Errorf("metadata lost: %v", loaded.SessionMetadata)
	}
	if loaded.ToolExecutionResults[protocol.KeyShortPlanning] != "1. write posts" {
		t.Errorf("tool results lost: %v", loaded.ToolExecutionResults)
	}
	if len(loaded.DialogueHistory) != 4 {
		t.Fatalf("history = %d messages", len(loaded.DialogueHistory))
	}
	if err := protocol.ValidateToolCallPairing(loaded.DialogueHistory); err != nil {
		t.Errorf("pairing broken after round trip: %v", err)
	}
	second := loaded.DialogueHistory[1]
	if len(second.ToolCalls) != 1 || second.ToolCalls[0].ID != "call_1" {
		t.Errorf("tool calls not restored: %+v", second)
	}
	if loaded.DialogueHistory[2].ToolCallID != "call_1" {
		t.Errorf("tool call id not restored: %+v", loaded.DialogueHistory[2])
	}
}

func TestStoreMergesToolResults(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "s1", nil); err != nil {
		t.Fatal(err)
	}
	first := &protocol.AgentResult{
		NewMessages:             []protocol.Message{protocol.NewUserMessage("hi")},
		ToolExecutionResultsUpd: map[string]any{protocol.KeyShortPlanning: "v1"},
	}
	if err := store.ApplyResult(ctx, "s1", first); err != nil {
		t.Fatal(err)
	}
	second := &protocol.AgentResult{
		NewMessages: []protocol.Message{protocol.NewUserMessage("again")},
		ToolExecutionResultsUpd: map[string]any{
			protocol.KeyResearchFindings: map[string]any{"summary": "notes"},
		},
	}
	if err := store.ApplyResult(ctx, "s1", second); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	// Updates merge per key: the first turn's plan survives the second turn.
	if loaded.ToolExecutionResults[protocol.KeyShortPlanning] != "v1" {
		t.Errorf("earlier key overwritten: %v", loaded.ToolExecutionResults)
	}
	if _, ok := loaded.ToolExecutionResults[protocol.KeyResearchFindings]; !ok {
		t.Errorf("new key missing: %v", loaded.ToolExecutionResults)
	}
	if len(loaded.DialogueHistory) != 2 {
		t.Errorf("history = %d messages", len(loaded.DialogueHistory))
	}
}

func TestStoreUnknownSession(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.Load(context.Background(), "missing"); err != ErrSessionNotFound {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
	err := store.ApplyResult(context.Background(), "missing", &protocol.AgentResult{})
	if err != ErrSessionNotFound {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestStoreListAndDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := store.Create(ctx, id, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.ApplyResult(ctx, "a", &protocol.AgentResult{
		NewMessages: []protocol.Message{protocol.NewUserMessage("hi")},
	}); err != nil {
		t.Fatal(err)
	}

	infos, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Fatalf("sessions = %d", len(infos))
	}

	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(ctx, "a"); err != ErrSessionNotFound {
		t.Errorf("deleted session still loads: %v", err)
	}
}

func TestDatabaseConfigDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "sqlite path",
			cfg:  DatabaseConfig{Driver: "sqlite", Database: "/tmp/x.db"},
			want: "/tmp/x.db",
		},
		{
			name: "postgres",
			cfg: DatabaseConfig{
				Driver: "postgres", Host: "db", Port: 5432,
				Database: "gt", Username: "u", Password: "p", SSLMode: "disable",
			},
			want: "host=db port=5432 dbname=gt user=u password=p sslmode=disable",
		},
		{
			name: "mysql",
			cfg: DatabaseConfig{
				Driver: "mysql", Host: "db", Port: 3306,
				Database: "gt", Username: "u", Password: "p",
			},
			want: "u:p@tcp(db:3306)/gt?parseTime=true",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.DSN(); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDatabaseConfigValidate(t *testing.T) {
	cfg := DatabaseConfig{Driver: "oracle", Database: "x"}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "invalid driver") {
		t.Errorf("err = %v", err)
	}
	cfg = DatabaseConfig{Driver: "postgres", Database: "x"}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "host is required") {
		t.Errorf("err = %v", err)
	}
}

// fixedCompressor counts every message as a flat cost so tests control the
// budget precisely.
func fixedCompressor(perMessage, maxTokens int) *Compressor {
	return &Compressor{
		maxTokens: maxTokens,
		count:     func(protocol.Message) int { return perMessage },
	}
}

func historyWithToolGroup() []protocol.Message {
	call := protocol.ToolCall{ID: "call_1", Type: "function", Function: protocol.FunctionCall{Name: "echo", Arguments: "{}"}}
	return []protocol.Message{
		protocol.NewUserMessage("old question"),
		protocol.NewAssistantMessage("old answer", nil),
		protocol.NewUserMessage("use the tool"),
		protocol.NewAssistantMessage("", []protocol.ToolCall{call}),
		protocol.NewToolMessage("call_1", `{"success":true}`),
		protocol.NewAssistantMessage("done", nil),
	}
}

func TestCompressKeepsWithinBudget(t *testing.T) {
	messages := historyWithToolGroup()
	// Budget for four messages: the tool group (2) plus its surrounding
	// user and final assistant messages.
	c := fixedCompressor(10, 4*10+tokensPerReply)

	fitted := c.Compress(messages)
	if len(fitted) != 4 {
		t.Fatalf("fitted = %d messages: %+v", len(fitted), fitted)
	}
	if fitted[0].Content != "use the tool" {
		t.Errorf("oldest kept = %q", fitted[0].Content)
	}
	if err := protocol.ValidateToolCallPairing(fitted); err != nil {
		t.Errorf("pairing broken: %v", err)
	}
}

func TestCompressNeverSplitsToolGroup(t *testing.T) {
	messages := historyWithToolGroup()
	// Budget for three flat messages. Keeping the final assistant message,
	// the tool result, but not the paired assistant would break pairing, so
	// the whole group must go or stay together.
	c := fixedCompressor(10, 3*10+tokensPerReply)

	fitted := c.Compress(messages)
	if err := protocol.ValidateToolCallPairing(fitted); err != nil {
		t.Fatalf("pairing broken: %v (fitted %d messages)", err, len(fitted))
	}
	if len(fitted) != 3 {
		t.Errorf("fitted = %d messages", len(fitted))
	}
	if fitted[len(fitted)-1].Content != "done" {
		t.Errorf("newest message dropped: %+v", fitted[len(fitted)-1])
	}
}

func TestCompressAlwaysKeepsNewestGroup(t *testing.T) {
	messages := historyWithToolGroup()
	c := fixedCompressor(1000, 10)

	fitted := c.Compress(messages)
	if len(fitted) != 1 || fitted[0].Content != "done" {
		t.Errorf("newest group must survive an impossible budget: %+v", fitted)
	}
}

func TestCompressNoopUnderBudget(t *testing.T) {
	messages := historyWithToolGroup()
	c := fixedCompressor(1, 1000)

	fitted := c.Compress(messages)
	if len(fitted) != len(messages) {
		t.Errorf("fitted = %d, want all %d", len(fitted), len(messages))
	}
}

func TestCompressorTokenCounting(t *testing.T) {
	c := NewCompressor("gpt-4o", 1000)
	msgs := []protocol.Message{protocol.NewUserMessage("hello world")}
	if n := c.CountMessages(msgs); n <= tokensPerReply {
		t.Errorf("CountMessages = %d, want a positive message cost", n)
	}
}
