package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gtplanner/gtplanner/pkg/config"
	"github.com/gtplanner/gtplanner/pkg/embedders"
	"github.com/gtplanner/gtplanner/pkg/export"
	"github.com/gtplanner/gtplanner/pkg/llms"
	"github.com/gtplanner/gtplanner/pkg/orchestrator"
	"github.com/gtplanner/gtplanner/pkg/prefabs"
	"github.com/gtplanner/gtplanner/pkg/prompts"
	"github.com/gtplanner/gtplanner/pkg/research"
	"github.com/gtplanner/gtplanner/pkg/session"
	"github.com/gtplanner/gtplanner/pkg/tools"
	"github.com/gtplanner/gtplanner/pkg/vector"
)

// planner bundles the wired-up components one command needs: the
// orchestrator plus the optional persistence pieces around it.
type planner struct {
	cfg        *config.Config
	llm        *llms.OpenAIProvider
	registry   *tools.Registry
	orch       *orchestrator.Orchestrator
	store      *session.SQLStore
	compressor *session.Compressor

	catalog     *prefabs.Catalog
	vectorStore vector.Provider
}

// buildPlanner assembles the full planning stack from configuration.
// Optional services (prefab catalog, recommender, research, gateway) degrade
// to nil; the affected tools report their absence instead of failing hard.
func buildPlanner(ctx context.Context, cfg *config.Config, persistent bool) (*planner, error) {
	llm := llms.NewOpenAIProvider(llms.Config{
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.TimeoutDuration(),
	})

	promptStore := prompts.NewStore(cfg.Prompts)

	p := &planner{cfg: cfg, llm: llm}

	var catalog *prefabs.Catalog
	if cfg.Prefabs.CatalogPath != "" {
		var err error
		catalog, err = prefabs.LoadCatalog(cfg.Prefabs.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load prefab catalog: %w", err)
		}
		p.catalog = catalog
	}

	var recommender *prefabs.Recommender
	if cfg.Embedder.APIKey != "" {
		embedder, err := embedders.NewOpenAIEmbedder(cfg.Embedder)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
		store, err := vector.NewProvider(&cfg.Vector)
		if err != nil {
			return nil, fmt.Errorf("failed to create vector store: %w", err)
		}
		p.vectorStore = store
		recommender = prefabs.NewRecommender(store, embedder)

		if catalog != nil {
			// Index in the background so startup is not gated on the
			// embedding API.
			go func() {
				if err := recommender.Index(ctx, catalog.All()); err != nil && ctx.Err() == nil {
					slog.Warn("Failed to index prefab catalog", "error", err)
				}
			}()
		}
	} else {
		slog.Info("No embedder API key set, semantic prefab recommendation disabled")
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterAll(registry, tools.Deps{
		LLM:         llm,
		Prompts:     promptStore,
		Catalog:     catalog,
		Recommender: recommender,
		Gateway:     prefabs.NewGatewayClient(cfg.Prefabs.Gateway),
		Researcher:  research.NewResearcher(research.NewClient(cfg.Research)),
		Exporter:    export.NewExporter(export.WithOutputDir(cfg.Export.OutputDir)),
	}); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	p.registry = registry

	p.orch = orchestrator.New(llm, registry, promptStore,
		orchestrator.WithMaxDepth(cfg.LLM.MaxRecursionDepth),
	)

	if persistent {
		store, err := session.Open(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to open session store: %w", err)
		}
		p.store = store
		if cfg.History.MaxTokens > 0 {
			p.compressor = session.NewCompressor(cfg.LLM.Model, cfg.History.MaxTokens)
		}
	}

	return p, nil
}

func (p *planner) Close() error {
	if p.catalog != nil {
		_ = p.catalog.Close()
	}
	if p.vectorStore != nil {
		_ = p.vectorStore.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
	return p.llm.Close()
}
