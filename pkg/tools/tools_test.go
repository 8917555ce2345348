package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gtplanner/gtplanner/pkg/export"
	"github.com/gtplanner/gtplanner/pkg/flow"
	"github.com/gtplanner/gtplanner/pkg/llms"
	"github.com/gtplanner/gtplanner/pkg/prefabs"
	"github.com/gtplanner/gtplanner/pkg/prompts"
	"github.com/gtplanner/gtplanner/pkg/protocol"
)

// stubLLM returns canned responses in order.
type stubLLM struct {
	responses []string
	calls     int
	prompts   []string
}

func (s *stubLLM) Generate(ctx context.Context, messages []protocol.Message, tools []llms.ToolDefinition) (*llms.Response, error) {
	if len(messages) > 0 {
		s.prompts = append(s.prompts, messages[len(messages)-1].Content)
	}
	resp := s.responses[s.calls%len(s.responses)]
	s.calls++
	return &llms.Response{Content: resp}, nil
}

func (s *stubLLM) GenerateStreaming(ctx context.Context, messages []protocol.Message, tools []llms.ToolDefinition, opts llms.StreamOptions) (<-chan llms.StreamChunk, error) {
	ch := make(chan llms.StreamChunk, 2)
	resp, _ := s.Generate(ctx, messages, tools)
	ch <- llms.StreamChunk{Type: llms.ChunkTypeText, Text: resp.Content}
	ch <- llms.StreamChunk{Type: llms.ChunkTypeDone}
	close(ch)
	return ch, nil
}

func (s *stubLLM) ModelName() string         { return "stub" }
func (s *stubLLM) Stats() llms.StatsSnapshot { return llms.StatsSnapshot{} }
func (s *stubLLM) Close() error              { return nil }

func newTestShared() *flow.Shared {
	return flow.NewShared("sess-1", "en", "build a podcast service", nil)
}

func testCatalog(t *testing.T) *prefabs.Catalog {
	t.Helper()
	data, _ := json.Marshal([]prefabs.Prefab{
		{
			ID: "speech-to-text", Name: "Speech To Text", Description: "Transcribe audio",
			Version: "1.0.0", Tags: []string{"audio"},
			Functions: []prefabs.PrefabFunction{{Name: "transcribe", Description: "Transcribe an audio file"}},
		},
		{ID: "pdf-parser", Name: "PDF Parser", Description: "Parse PDF files", Version: "2.0.0"},
	})
	path := filepath.Join(t.TempDir(), "prefabs.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := prefabs.LoadCatalog(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRegisterAllBuildsCatalogue(t *testing.T) {
	reg := NewRegistry()
	if err := RegisterAll(reg, Deps{LLM: &stubLLM{responses: []string{"x"}}}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	want := []string{
		"prefab_recommend", "search_prefabs", "call_prefab_function", "research",
		"short_planning", "design", "database_design", "edit_document",
		"view_document", "export_document",
	}
	for _, name := range want {
		if _, ok := reg.Get(name); !ok {
			t.Errorf("tool %s not registered", name)
		}
	}
	if defs := reg.Definitions(); len(defs) != len(want) {
		t.Errorf("definitions = %d, want %d", len(defs), len(want))
	}
}

func TestToolSchemasHaveRequiredFields(t *testing.T) {
	reg := NewRegistry()
	if err := RegisterAll(reg, Deps{}); err != nil {
		t.Fatal(err)
	}

	required := map[string]string{
		"research":             "keywords",
		"short_planning":       "user_requirements",
		"design":               "user_requirements",
		"edit_document":        "document_type",
		"view_document":        "filename",
		"export_document":      "document_type",
		"call_prefab_function": "prefab_id",
		"prefab_recommend":     "query",
	}
	for name, field := range required {
		tool, _ := reg.Get(name)
		schema := tool.Parameters()
		if !requiredContains(schema, field) {
			t.Errorf("%s schema missing required field %q: %v", name, field, schema["required"])
		}
	}
}

func requiredContains(schema map[string]interface{}, field string) bool {
	switch req := schema["required"].(type) {
	case []string:
		for _, f := range req {
			if f == field {
				return true
			}
		}
	case []interface{}:
		for _, f := range req {
			if f == field {
				return true
			}
		}
	}
	return false
}

func TestSearchPrefabs(t *testing.T) {
	tool := &searchPrefabsTool{deps: Deps{Catalog: testCatalog(t)}}
	result, err := tool.Execute(context.Background(), map[string]interface{}{"query": "pdf"}, newTestShared())
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Fatalf("search failed: %s", result.Error)
	}
	found := result.Data["prefabs"].([]map[string]interface{})
	if len(found) == 0 || found[0]["id"] != "pdf-parser" {
		t.Errorf("unexpected results %v", found)
	}
}

func TestPrefabRecommendFallsBackWithoutVectorService(t *testing.T) {
	tool := &prefabRecommendTool{deps: Deps{}}
	result, err := tool.Execute(context.Background(), map[string]interface{}{"query": "speech"}, newTestShared())
	if err != nil {
		t.Fatal(err)
	}
	if result.Success {
		t.Fatal("expected failure without a vector service")
	}
	if suggestion, _ := result.Data["suggestion"].(string); suggestion != "use search_prefabs" {
		t.Errorf("missing fallback suggestion: %+v", result)
	}
}

func TestResearchDisabledWithoutKey(t *testing.T) {
	tool := &researchTool{deps: Deps{}}
	result, err := tool.Execute(context.Background(), map[string]interface{}{"keywords": []interface{}{"sse"}}, newTestShared())
	if err != nil {
		t.Fatal(err)
	}
	if result.Success || !strings.Contains(result.Error, "research disabled") {
		t.Errorf("expected disabled-tool error, got %+v", result)
	}
}

func TestShortPlanning(t *testing.T) {
	llm := &stubLLM{responses: []string{"1. ingest audio\n2. transcribe"}}
	tool := &shortPlanningTool{deps: depsWithDefaults(Deps{LLM: llm})}

	shared := newTestShared()
	shared.ResearchFindings = map[string]interface{}{"summary": "use whisper"}

	result, err := tool.Execute(context.Background(), map[string]interface{}{"user_requirements": "podcast transcription"}, shared)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Fatalf("planning failed: %s", result.Error)
	}
	if plan, _ := result.Data["plan"].(string); !strings.Contains(plan, "transcribe") {
		t.Errorf("unexpected plan %q", plan)
	}
	if !strings.Contains(llm.prompts[0], "whisper") {
		t.Error("research findings not fed into the prompt")
	}
}

func depsWithDefaults(d Deps) Deps {
	if d.Prompts == nil {
		d.Prompts = prompts.NewStore(prompts.Config{})
	}
	if d.Exporter == nil {
		d.Exporter = export.NewExporter()
	}
	return d
}

func TestDesignGeneratesDocumentAndCompanion(t *testing.T) {
	llm := &stubLLM{responses: []string{"# Design\n\nArchitecture."}}
	tool := &designTool{deps: depsWithDefaults(Deps{LLM: llm, Catalog: testCatalog(t)})}

	shared := newTestShared()
	shared.RecommendedPrefabs = []map[string]interface{}{
		{"id": "speech-to-text", "name": "Speech To Text", "version": "1.0.0"},
	}

	result, err := tool.Execute(context.Background(), map[string]interface{}{"user_requirements": "podcast service"}, shared)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Fatalf("design failed: %s", result.Error)
	}

	docs := result.Data["documents"].([]protocol.Document)
	if len(docs) != 2 {
		t.Fatalf("expected design.md plus prefabs_info.md, got %d docs", len(docs))
	}
	if docs[0].Filename != protocol.FilenameDesign || docs[1].Filename != protocol.FilenamePrefabsInfo {
		t.Errorf("unexpected filenames %s, %s", docs[0].Filename, docs[1].Filename)
	}
	if !strings.Contains(docs[1].Content, "transcribe") {
		t.Errorf("companion missing function docs:\n%s", docs[1].Content)
	}
}

func TestDatabaseDesignRequiresSystemDesign(t *testing.T) {
	tool := &databaseDesignTool{deps: depsWithDefaults(Deps{LLM: &stubLLM{responses: []string{"# DB"}}})}

	shared := newTestShared()
	result, err := tool.Execute(context.Background(), map[string]interface{}{"user_requirements": "x"}, shared)
	if err != nil {
		t.Fatal(err)
	}
	if result.Success || !strings.Contains(result.Error, "design tool first") {
		t.Errorf("expected missing-design failure, got %+v", result)
	}

	shared.AppendDocument(protocol.Document{Type: protocol.DocumentTypeDesign, Filename: protocol.FilenameDesign, Content: "the design", Timestamp: 1})
	result, err = tool.Execute(context.Background(), map[string]interface{}{"user_requirements": "x"}, shared)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Fatalf("database design failed: %s", result.Error)
	}
	docs := result.Data["documents"].([]protocol.Document)
	if len(docs) != 1 || docs[0].Filename != protocol.FilenameDatabaseDesign {
		t.Errorf("unexpected documents %+v", docs)
	}
}

func TestEditDocumentValidatesSearchStrings(t *testing.T) {
	shared := newTestShared()
	shared.AppendDocument(protocol.Document{
		Type: protocol.DocumentTypeDesign, Filename: protocol.FilenameDesign,
		Content: "The system uses polling.", Timestamp: 1,
	})

	good := `{"edits":[{"search":"polling","replace":"server-sent events","reason":"streaming requirement"}],"summary":"switch to SSE"}`
	tool := &editDocumentTool{deps: depsWithDefaults(Deps{LLM: &stubLLM{responses: []string{good}}})}

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"document_type": "design", "edit_instructions": "use SSE",
	}, shared)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Fatalf("edit failed: %s", result.Error)
	}
	proposal := result.Data["proposal"].(*protocol.EditProposal)
	if proposal.ProposalID == "" || proposal.DocumentFilename != protocol.FilenameDesign {
		t.Errorf("incomplete proposal %+v", proposal)
	}
	if !strings.Contains(proposal.PreviewContent, "server-sent events") {
		t.Errorf("preview not applied: %q", proposal.PreviewContent)
	}

	bad := `{"edits":[{"search":"not in the document","replace":"x","reason":"r"}],"summary":"s"}`
	tool = &editDocumentTool{deps: depsWithDefaults(Deps{LLM: &stubLLM{responses: []string{bad}}})}
	result, err = tool.Execute(context.Background(), map[string]interface{}{
		"document_type": "design", "edit_instructions": "use SSE",
	}, shared)
	if err != nil {
		t.Fatal(err)
	}
	if result.Success || !strings.Contains(result.Error, "not found") {
		t.Errorf("expected validation failure, got %+v", result)
	}
}

func TestViewDocument(t *testing.T) {
	shared := newTestShared()
	shared.AppendDocument(protocol.Document{Filename: "design.md", Content: "v1", Timestamp: 1})
	shared.AppendDocument(protocol.Document{Filename: "design.md", Content: "v2", Timestamp: 2})

	tool := &viewDocumentTool{}
	result, err := tool.Execute(context.Background(), map[string]interface{}{"filename": "design.md"}, shared)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success || result.Data["content"] != "v2" {
		t.Errorf("expected latest version, got %+v", result)
	}

	result, _ = tool.Execute(context.Background(), map[string]interface{}{"filename": "missing.md"}, shared)
	if result.Success {
		t.Error("expected failure for unknown document")
	}
}

func TestExportDocument(t *testing.T) {
	dir := t.TempDir()
	shared := newTestShared()
	shared.AppendDocument(protocol.Document{
		Type: protocol.DocumentTypeDesign, Filename: protocol.FilenameDesign,
		Content: "# Design\n\nBody.", Timestamp: 1,
	})

	tool := &exportDocumentTool{deps: depsWithDefaults(Deps{})}
	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"document_type": "design", "export_formats": []interface{}{"md", "html", "pdf"},
		"output_dir": dir,
	}, shared)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Fatalf("export failed: %s", result.Error)
	}

	files := result.Data["files"].([]map[string]interface{})
	if len(files) != 2 {
		t.Errorf("expected md+html exports, got %v", files)
	}
	failures := result.Data["failures"].([]string)
	if len(failures) != 1 || !strings.Contains(failures[0], "pdf") {
		t.Errorf("expected pdf not-implemented failure, got %v", failures)
	}
	for _, f := range files {
		if _, err := os.Stat(f["path"].(string)); err != nil {
			t.Errorf("exported file missing: %v", err)
		}
	}
}
