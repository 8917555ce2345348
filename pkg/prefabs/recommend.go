package prefabs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gtplanner/gtplanner/pkg/embedders"
	"github.com/gtplanner/gtplanner/pkg/vector"
)

// DefaultCollection is the vector collection holding prefab embeddings.
const DefaultCollection = "prefabs"

// ErrRecommenderUnavailable reports that semantic recommendation has no
// reachable vector backend. Callers fall back to catalogue search.
var ErrRecommenderUnavailable = errors.New("prefab recommendation unavailable")

// Recommendation is one semantic match with its similarity score.
type Recommendation struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Version     string  `json:"version,omitempty"`
	Score       float32 `json:"score"`
}

// Recommender answers "which prefab fits this requirement" by embedding
// the query and searching the vector index.
type Recommender struct {
	store      vector.Provider
	embedder   embedders.Embedder
	collection string
	timeout    time.Duration
}

type RecommenderOption func(*Recommender)

func WithCollection(name string) RecommenderOption {
	return func(r *Recommender) { r.collection = name }
}

func WithSearchTimeout(d time.Duration) RecommenderOption {
	return func(r *Recommender) { r.timeout = d }
}

func NewRecommender(store vector.Provider, embedder embedders.Embedder, opts ...RecommenderOption) *Recommender {
	r := &Recommender{
		store:      store,
		embedder:   embedder,
		collection: DefaultCollection,
		timeout:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Recommend returns up to topK prefabs ranked by similarity to the query.
func (r *Recommender) Recommend(ctx context.Context, query string, topK int) ([]Recommendation, error) {
	if r.store == nil || r.embedder == nil {
		return nil, ErrRecommenderUnavailable
	}
	if topK <= 0 {
		topK = 5
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := r.store.Search(ctx, r.collection, embedding, topK)
	if err != nil {
		if errors.Is(err, vector.ErrUnavailable) {
			return nil, ErrRecommenderUnavailable
		}
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	recs := make([]Recommendation, 0, len(results))
	for _, res := range results {
		rec := Recommendation{ID: res.ID, Score: res.Score, Description: res.Content}
		if name, ok := res.Metadata["name"].(string); ok {
			rec.Name = name
		}
		if desc, ok := res.Metadata["description"].(string); ok {
			rec.Description = desc
		}
		if version, ok := res.Metadata["version"].(string); ok {
			rec.Version = version
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Index writes the whole catalogue into the vector store. Intended for
// startup or catalogue reload, not the request path.
func (r *Recommender) Index(ctx context.Context, prefabs []Prefab) error {
	if r.store == nil || r.embedder == nil {
		return ErrRecommenderUnavailable
	}

	texts := make([]string, len(prefabs))
	for i, p := range prefabs {
		texts[i] = p.Name + ": " + p.Description
	}

	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed catalog: %w", err)
	}

	for i, p := range prefabs {
		metadata := map[string]any{
			"name":        p.Name,
			"description": p.Description,
			"version":     p.Version,
			"content":     texts[i],
		}
		if err := r.store.Upsert(ctx, r.collection, p.ID, vectors[i], metadata); err != nil {
			return fmt.Errorf("failed to index prefab %s: %w", p.ID, err)
		}
	}

	slog.Info("Indexed prefab catalog", "count", len(prefabs), "collection", r.collection)
	return nil
}
