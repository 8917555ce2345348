package prefabs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gtplanner/gtplanner/pkg/vector"
)

func writeCatalog(t *testing.T, prefabs []Prefab) string {
	t.Helper()
	data, err := json.Marshal(prefabs)
	if err != nil {
		t.Fatalf("marshal catalog: %v", err)
	}
	path := filepath.Join(t.TempDir(), "prefabs.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return path
}

func testPrefabs() []Prefab {
	return []Prefab{
		{ID: "speech-to-text", Name: "Speech To Text", Description: "Transcribe audio to text", Version: "1.2.0", Author: "acme", Tags: []string{"audio", "ml"}},
		{ID: "pdf-parser", Name: "PDF Parser", Description: "Extract text and tables from PDF files", Version: "2.0.1", Author: "acme", Tags: []string{"documents"}},
		{ID: "auth-service", Name: "Auth Service", Description: "User authentication and session management", Version: "3.1.0", Author: "other", Tags: []string{"security"}},
	}
}

func TestCatalogSearchByQuery(t *testing.T) {
	c, err := LoadCatalog(writeCatalog(t, testPrefabs()))
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	defer c.Close()

	results := c.Search(SearchQuery{Query: "pdf"})
	if len(results) == 0 || results[0].ID != "pdf-parser" {
		t.Fatalf("expected pdf-parser first, got %+v", results)
	}
}

func TestCatalogSearchFilters(t *testing.T) {
	c, err := LoadCatalog(writeCatalog(t, testPrefabs()))
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	defer c.Close()

	byAuthor := c.Search(SearchQuery{Author: "acme"})
	if len(byAuthor) != 2 {
		t.Errorf("expected 2 prefabs by acme, got %d", len(byAuthor))
	}

	byTag := c.Search(SearchQuery{Tags: []string{"security"}})
	if len(byTag) != 1 || byTag[0].ID != "auth-service" {
		t.Errorf("expected auth-service for security tag, got %+v", byTag)
	}

	limited := c.Search(SearchQuery{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("expected limit to apply, got %d", len(limited))
	}
}

func TestCatalogGet(t *testing.T) {
	c, err := LoadCatalog(writeCatalog(t, testPrefabs()))
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	defer c.Close()

	if _, ok := c.Get("pdf-parser", "2.0.1"); !ok {
		t.Error("expected pdf-parser@2.0.1")
	}
	if _, ok := c.Get("pdf-parser", "9.9.9"); ok {
		t.Error("unexpected match for wrong version")
	}
	if _, ok := c.Get("pdf-parser", ""); !ok {
		t.Error("empty version should match any")
	}
}

type stubEmbedder struct {
	vec []float32
}

func (s stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.vec, nil
}

func (s stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vec
	}
	return out, nil
}

func (s stubEmbedder) Dimension() int    { return len(s.vec) }
func (s stubEmbedder) ModelName() string { return "stub" }
func (s stubEmbedder) Close() error      { return nil }

func TestRecommenderUnavailableWithoutBackend(t *testing.T) {
	r := NewRecommender(vector.NilProvider{}, stubEmbedder{vec: []float32{1}})
	_, err := r.Recommend(context.Background(), "speech", 3)
	if !errors.Is(err, ErrRecommenderUnavailable) {
		t.Fatalf("expected ErrRecommenderUnavailable, got %v", err)
	}
}

func TestRecommenderIndexAndRecommend(t *testing.T) {
	store, err := vector.NewChromemProvider(vector.ChromemConfig{})
	if err != nil {
		t.Fatalf("chromem: %v", err)
	}
	defer store.Close()

	r := NewRecommender(store, stubEmbedder{vec: []float32{1, 0}})
	if err := r.Index(context.Background(), testPrefabs()[:1]); err != nil {
		t.Fatalf("index: %v", err)
	}

	recs, err := r.Recommend(context.Background(), "transcribe audio", 3)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "speech-to-text" {
		t.Fatalf("unexpected recommendations %+v", recs)
	}
	if recs[0].Name != "Speech To Text" {
		t.Errorf("metadata not carried through: %+v", recs[0])
	}
}

func TestGatewayDisabledWithoutKey(t *testing.T) {
	g := NewGatewayClient(GatewayConfig{BaseURL: "http://localhost"})
	_, err := g.CallFunction(context.Background(), "p", "1", "f", nil, nil)
	if !errors.Is(err, ErrGatewayDisabled) {
		t.Fatalf("expected ErrGatewayDisabled, got %v", err)
	}
}

func TestGatewayCallTruncatesContent(t *testing.T) {
	long := strings.Repeat("x", 5000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req callRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.PrefabID != "speech-to-text" || req.FunctionName != "transcribe" {
			t.Errorf("unexpected request %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"content": long,
			"nested":  map[string]any{"content": long},
		})
	}))
	defer server.Close()

	g := NewGatewayClient(GatewayConfig{BaseURL: server.URL, APIKey: "key"})
	result, err := g.CallFunction(context.Background(), "speech-to-text", "1.2.0", "transcribe", map[string]any{"lang": "en"}, nil)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}

	content, _ := result["content"].(string)
	if len(content) >= 5000 || !strings.Contains(content, "content truncated") {
		t.Errorf("content not truncated: %d chars", len(content))
	}
	nested, _ := result["nested"].(map[string]any)
	nestedContent, _ := nested["content"].(string)
	if !strings.Contains(nestedContent, "content truncated") {
		t.Error("nested content not truncated")
	}
}

func TestGatewayFunctionDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/prefabs/pdf-parser/functions/extract" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"name": "extract", "description": "Extract text"})
	}))
	defer server.Close()

	g := NewGatewayClient(GatewayConfig{BaseURL: server.URL, APIKey: "key"})
	detail, err := g.FunctionDetail(context.Background(), "pdf-parser", "", "extract")
	if err != nil {
		t.Fatalf("detail failed: %v", err)
	}
	if detail["name"] != "extract" {
		t.Errorf("unexpected detail %+v", detail)
	}
}
