package prompts

import (
	"strings"
	"testing"

	"github.com/gtplanner/gtplanner/pkg/protocol"
)

func TestResolveFallsBackToDefault(t *testing.T) {
	s := NewStore(Config{DefaultLanguage: "en", SupportedLanguages: []string{"en", "zh"}})
	if got := s.Resolve("zh"); got != "zh" {
		t.Errorf("Resolve(zh) = %q", got)
	}
	if got := s.Resolve("fr"); got != "en" {
		t.Errorf("Resolve(fr) = %q, want en", got)
	}
	if got := s.Resolve(""); got != "en" {
		t.Errorf("Resolve(empty) = %q, want en", got)
	}
}

func TestSystemPromptInjectsDocuments(t *testing.T) {
	s := NewStore(Config{})

	bare := s.SystemPrompt("en", nil)
	if strings.Contains(bare, "Documents already generated") {
		t.Error("document section present without documents")
	}

	docs := []protocol.Document{
		{Type: protocol.DocumentTypeDesign, Filename: "design.md", Content: "v1", Timestamp: 1},
		{Type: protocol.DocumentTypeDesign, Filename: "design.md", Content: "v2", Timestamp: 2},
		{Type: protocol.DocumentTypeDatabaseDesign, Filename: "database_design.md", Content: "db", Timestamp: 3},
	}
	withDocs := s.SystemPrompt("en", docs)
	if !strings.Contains(withDocs, "- design.md (design)") {
		t.Errorf("design.md missing from prompt:\n%s", withDocs)
	}
	if strings.Count(withDocs, "design.md") != 2 {
		// design.md once plus database_design.md containing the substring.
		t.Errorf("duplicate filenames not collapsed:\n%s", withDocs)
	}
}

func TestSystemPromptChinese(t *testing.T) {
	s := NewStore(Config{})
	prompt := s.SystemPrompt("zh", []protocol.Document{{Filename: "design.md", Type: "design"}})
	if !strings.Contains(prompt, "GTPlanner") || !strings.Contains(prompt, "已生成的文档") {
		t.Errorf("unexpected zh prompt:\n%s", prompt)
	}
}

func TestGenerationPromptsIncludeSections(t *testing.T) {
	s := NewStore(Config{})
	in := GenerationInput{
		UserRequirements: "a podcast transcription service",
		ShortPlanning:    "1. ingest audio",
		Prefabs:          []map[string]any{{"id": "speech-to-text"}},
	}

	plan := s.ShortPlanningPrompt("en", in)
	if !strings.Contains(plan, "podcast transcription") || !strings.Contains(plan, "speech-to-text") {
		t.Errorf("plan prompt missing inputs:\n%s", plan)
	}

	design := s.DesignPrompt("en", in)
	if !strings.Contains(design, "mermaid") || !strings.Contains(design, "## Project plan") {
		t.Errorf("design prompt missing sections:\n%s", design)
	}

	db := s.DatabaseDesignPrompt("en", GenerationInput{UserRequirements: "x", SystemDesign: "the design"})
	if !strings.Contains(db, "## System design") {
		t.Errorf("database prompt missing system design:\n%s", db)
	}

	edit := s.EditPrompt("en", "doc body", "tighten the intro")
	if !strings.Contains(edit, "doc body") || !strings.Contains(edit, "verbatim") {
		t.Errorf("edit prompt incomplete:\n%s", edit)
	}
}
