package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gtplanner/gtplanner/pkg/flow"
	"github.com/gtplanner/gtplanner/pkg/prefabs"
)

// prefabRecommendTool answers "which prefab fits this requirement" via the
// vector index, optionally re-ranked by the model.
type prefabRecommendTool struct {
	deps Deps
}

type prefabRecommendArgs struct {
	Query        string `json:"query" jsonschema_description:"Natural-language description of the capability needed"`
	TopK         int    `json:"top_k,omitempty" jsonschema_description:"How many prefabs to return (default 5)"`
	UseLLMFilter bool   `json:"use_llm_filter,omitempty" jsonschema_description:"Re-rank candidates with the language model"`
}

func (t *prefabRecommendTool) Name() string { return "prefab_recommend" }

func (t *prefabRecommendTool) Description() string {
	return "Recommend prefabs semantically matching a capability description, ranked by similarity score."
}

func (t *prefabRecommendTool) Parameters() map[string]interface{} {
	return SchemaFor(&prefabRecommendArgs{})
}

func (t *prefabRecommendTool) Execute(ctx context.Context, rawArgs map[string]interface{}, shared *flow.Shared) (Result, error) {
	var args prefabRecommendArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return Fail("%s", err.Error()), nil
	}

	if t.deps.Recommender == nil {
		return FailWith(map[string]interface{}{"suggestion": "use search_prefabs"},
			"prefab recommendation unavailable"), nil
	}

	recs, err := t.deps.Recommender.Recommend(ctx, args.Query, args.TopK)
	if err != nil {
		if errors.Is(err, prefabs.ErrRecommenderUnavailable) {
			return FailWith(map[string]interface{}{"suggestion": "use search_prefabs"},
				"prefab recommendation unavailable"), nil
		}
		return Fail("recommendation failed: %s", err.Error()), nil
	}

	if args.UseLLMFilter && t.deps.LLM != nil && len(recs) > 1 {
		recs = t.llmFilter(ctx, args.Query, recs)
	}

	return OK(map[string]interface{}{"prefabs": recommendationsToMaps(recs)}), nil
}

// llmFilter asks the model which candidates actually fit the query and
// keeps the original ranking on any parsing trouble.
func (t *prefabRecommendTool) llmFilter(ctx context.Context, query string, recs []prefabs.Recommendation) []prefabs.Recommendation {
	var b strings.Builder
	b.WriteString("Given the requirement \"")
	b.WriteString(query)
	b.WriteString("\", select the prefab ids that genuinely fit, best first. Answer with a JSON array of ids only.\n\nCandidates:\n")
	for _, rec := range recs {
		b.WriteString("- ")
		b.WriteString(rec.ID)
		b.WriteString(": ")
		b.WriteString(rec.Description)
		b.WriteString("\n")
	}

	answer, err := generate(ctx, t.deps.LLM, b.String())
	if err != nil {
		return recs
	}

	start := strings.Index(answer, "[")
	end := strings.LastIndex(answer, "]")
	if start < 0 || end <= start {
		return recs
	}
	var ids []string
	if err := json.Unmarshal([]byte(answer[start:end+1]), &ids); err != nil || len(ids) == 0 {
		return recs
	}

	byID := make(map[string]prefabs.Recommendation, len(recs))
	for _, rec := range recs {
		byID[rec.ID] = rec
	}
	filtered := make([]prefabs.Recommendation, 0, len(ids))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			filtered = append(filtered, rec)
		}
	}
	if len(filtered) == 0 {
		return recs
	}
	return filtered
}

func recommendationsToMaps(recs []prefabs.Recommendation) []map[string]interface{} {
	out := make([]map[string]interface{}, len(recs))
	for i, rec := range recs {
		out[i] = map[string]interface{}{
			"id":          rec.ID,
			"name":        rec.Name,
			"description": rec.Description,
			"version":     rec.Version,
			"score":       rec.Score,
		}
	}
	return out
}

// searchPrefabsTool is the always-available fallback: fuzzy search over
// the local catalogue.
type searchPrefabsTool struct {
	deps Deps
}

type searchPrefabsArgs struct {
	Query  string   `json:"query,omitempty" jsonschema_description:"Free-text search over names, descriptions and tags"`
	Tags   []string `json:"tags,omitempty" jsonschema_description:"Require all of these tags"`
	Author string   `json:"author,omitempty" jsonschema_description:"Filter by author"`
	Limit  int      `json:"limit,omitempty" jsonschema_description:"Maximum results (default 10)"`
}

func (t *searchPrefabsTool) Name() string { return "search_prefabs" }

func (t *searchPrefabsTool) Description() string {
	return "Search the local prefab catalogue by keyword, tags, or author. Always available."
}

func (t *searchPrefabsTool) Parameters() map[string]interface{} {
	return SchemaFor(&searchPrefabsArgs{})
}

func (t *searchPrefabsTool) Execute(ctx context.Context, rawArgs map[string]interface{}, shared *flow.Shared) (Result, error) {
	var args searchPrefabsArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return Fail("%s", err.Error()), nil
	}
	if t.deps.Catalog == nil {
		return Fail("no prefab catalog configured"), nil
	}

	matches := t.deps.Catalog.Search(prefabs.SearchQuery{
		Query:  args.Query,
		Tags:   args.Tags,
		Author: args.Author,
		Limit:  args.Limit,
	})

	out := make([]map[string]interface{}, len(matches))
	for i, p := range matches {
		out[i] = map[string]interface{}{
			"id":          p.ID,
			"name":        p.Name,
			"description": p.Description,
			"version":     p.Version,
			"author":      p.Author,
			"tags":        p.Tags,
		}
	}
	return OK(map[string]interface{}{"prefabs": out}), nil
}

// callPrefabFunctionTool invokes a function on a remote prefab through the
// gateway.
type callPrefabFunctionTool struct {
	deps Deps
}

type callPrefabFunctionArgs struct {
	PrefabID     string                 `json:"prefab_id" jsonschema_description:"Prefab identifier"`
	Version      string                 `json:"version,omitempty" jsonschema_description:"Prefab version, latest when omitted"`
	FunctionName string                 `json:"function_name" jsonschema_description:"Function to invoke"`
	Parameters   map[string]interface{} `json:"parameters,omitempty" jsonschema_description:"Function parameters"`
	Files        map[string]string      `json:"files,omitempty" jsonschema_description:"Filename to base64 content for file inputs"`
}

func (t *callPrefabFunctionTool) Name() string { return "call_prefab_function" }

func (t *callPrefabFunctionTool) Description() string {
	return "Invoke a named function of a prefab through the prefab gateway. Long-running functions are supported."
}

func (t *callPrefabFunctionTool) Parameters() map[string]interface{} {
	return SchemaFor(&callPrefabFunctionArgs{})
}

func (t *callPrefabFunctionTool) Execute(ctx context.Context, rawArgs map[string]interface{}, shared *flow.Shared) (Result, error) {
	var args callPrefabFunctionArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return Fail("%s", err.Error()), nil
	}
	if !t.deps.Gateway.Enabled() {
		return Fail("%s", prefabs.ErrGatewayDisabled.Error()), nil
	}

	result, err := t.deps.Gateway.CallFunction(ctx, args.PrefabID, args.Version, args.FunctionName, args.Parameters, args.Files)
	if err != nil {
		return Fail("prefab function call failed: %s", err.Error()), nil
	}
	return OK(map[string]interface{}{"result": result}), nil
}
