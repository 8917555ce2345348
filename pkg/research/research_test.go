package research

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientDisabledWithoutKey(t *testing.T) {
	c := NewClient(Config{})
	if c.Enabled() {
		t.Fatal("client should be disabled without an API key")
	}
	_, err := c.Search(context.Background(), "golang sse")
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestClientSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer jina-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		if r.URL.Path != "/speech%20recognition" && r.URL.Path != "/speech recognition" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{
				{"title": "ASR overview", "url": "https://example.com/asr", "description": "Modern speech recognition uses transformers."},
			},
		})
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "jina-key", BaseURL: server.URL})
	results, err := c.Search(context.Background(), "speech recognition")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 || results[0].Title != "ASR overview" {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestResearcherBuildsFindings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snippet := "Streaming uses server-sent events."
		if strings.Contains(r.URL.Path, "websocket") {
			snippet = "WebSockets are bidirectional."
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"title": "t", "url": "u", "description": snippet}},
		})
	}))
	defer server.Close()

	r := NewResearcher(NewClient(Config{APIKey: "k", BaseURL: server.URL}))
	findings, err := r.Research(context.Background(), []string{"sse", "websocket"}, []string{"golang"}, "a planning agent")
	if err != nil {
		t.Fatalf("research failed: %v", err)
	}

	if len(findings.Keywords) != 2 {
		t.Fatalf("expected 2 keyword findings, got %d", len(findings.Keywords))
	}
	if !strings.Contains(findings.Keywords["websocket"].Summary, "bidirectional") {
		t.Errorf("unexpected summary %q", findings.Keywords["websocket"].Summary)
	}
	if !strings.HasPrefix(findings.Summary, "In the context of a planning agent:") {
		t.Errorf("summary missing project context: %q", findings.Summary)
	}
}

func TestResearcherRequiresKeywords(t *testing.T) {
	r := NewResearcher(NewClient(Config{APIKey: "k"}))
	if _, err := r.Research(context.Background(), nil, nil, ""); err == nil {
		t.Fatal("expected error for empty keywords")
	}
}

func TestResearcherDegradesOnFailedKeyword(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	r := NewResearcher(NewClient(Config{APIKey: "k", BaseURL: server.URL}))
	findings, err := r.Research(context.Background(), []string{"unfindable"}, nil, "")
	if err != nil {
		t.Fatalf("research should degrade, got %v", err)
	}
	if findings.Keywords["unfindable"].Summary != "no findings available" {
		t.Errorf("unexpected summary %q", findings.Keywords["unfindable"].Summary)
	}
}
