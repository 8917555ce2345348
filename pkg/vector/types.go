package vector

import "context"

// Provider is a vector store holding prefab embeddings. Embeddings are
// computed externally; providers only store and search pre-computed vectors.
type Provider interface {
	Name() string
	Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)
	SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error)
	Delete(ctx context.Context, collection string, id string) error
	CreateCollection(ctx context.Context, collection string, vectorDimension int) error
	DeleteCollection(ctx context.Context, collection string) error
	Close() error
}

// Result is one similarity match.
type Result struct {
	ID       string
	Score    float32
	Content  string
	Vector   []float32
	Metadata map[string]any
}

// NilProvider is used when no vector backend is configured. Every call
// reports the store as unavailable, which the recommendation tool turns
// into a fallback suggestion.
type NilProvider struct{}

func (NilProvider) Name() string { return "nil" }

func (NilProvider) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error {
	return ErrUnavailable
}

func (NilProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	return nil, ErrUnavailable
}

func (NilProvider) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	return nil, ErrUnavailable
}

func (NilProvider) Delete(ctx context.Context, collection, id string) error {
	return ErrUnavailable
}

func (NilProvider) CreateCollection(ctx context.Context, collection string, vectorDimension int) error {
	return ErrUnavailable
}

func (NilProvider) DeleteCollection(ctx context.Context, collection string) error {
	return ErrUnavailable
}

func (NilProvider) Close() error { return nil }

var _ Provider = NilProvider{}
