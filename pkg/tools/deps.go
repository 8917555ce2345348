package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/gtplanner/gtplanner/pkg/export"
	"github.com/gtplanner/gtplanner/pkg/llms"
	"github.com/gtplanner/gtplanner/pkg/prefabs"
	"github.com/gtplanner/gtplanner/pkg/prompts"
	"github.com/gtplanner/gtplanner/pkg/protocol"
	"github.com/gtplanner/gtplanner/pkg/research"
)

// Deps are the external collaborators the tool catalogue is built around.
// Optional services may be nil; the affected tools then return
// failure-shaped results pointing at an alternative.
type Deps struct {
	LLM         llms.Provider
	Prompts     *prompts.Store
	Catalog     *prefabs.Catalog
	Recommender *prefabs.Recommender
	Gateway     *prefabs.GatewayClient
	Researcher  *research.Researcher
	Exporter    *export.Exporter
}

// RegisterAll builds the full tool catalogue into the registry.
func RegisterAll(registry *Registry, deps Deps) error {
	if deps.Prompts == nil {
		deps.Prompts = prompts.NewStore(prompts.Config{})
	}
	if deps.Exporter == nil {
		deps.Exporter = export.NewExporter()
	}

	catalogue := []Tool{
		&prefabRecommendTool{deps: deps},
		&searchPrefabsTool{deps: deps},
		&callPrefabFunctionTool{deps: deps},
		&researchTool{deps: deps},
		&shortPlanningTool{deps: deps},
		&designTool{deps: deps},
		&databaseDesignTool{deps: deps},
		&editDocumentTool{deps: deps},
		&viewDocumentTool{},
		&exportDocumentTool{deps: deps},
	}
	for _, t := range catalogue {
		if err := registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// decodeArgs maps validated JSON arguments onto a typed struct.
func decodeArgs(args map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(args); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// generate runs one non-streaming LLM completion and returns its text.
func generate(ctx context.Context, llm llms.Provider, prompt string) (string, error) {
	if llm == nil {
		return "", fmt.Errorf("no language model configured")
	}
	resp, err := llm.Generate(ctx, []protocol.Message{protocol.NewUserMessage(prompt)}, nil)
	if err != nil {
		return "", err
	}
	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return "", fmt.Errorf("model returned an empty response")
	}
	return content, nil
}
