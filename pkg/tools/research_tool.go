package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gtplanner/gtplanner/pkg/flow"
	"github.com/gtplanner/gtplanner/pkg/research"
)

// researchTool runs keyword web research through the configured fetcher.
type researchTool struct {
	deps Deps
}

type researchArgs struct {
	Keywords       []string `json:"keywords" jsonschema_description:"Search keywords to investigate"`
	FocusAreas     []string `json:"focus_areas,omitempty" jsonschema_description:"Aspects to focus the searches on"`
	ProjectContext string   `json:"project_context,omitempty" jsonschema_description:"One-line description of the project"`
}

func (t *researchTool) Name() string { return "research" }

func (t *researchTool) Description() string {
	return "Research technical topics on the web and return per-keyword findings plus an overall summary."
}

func (t *researchTool) Parameters() map[string]interface{} {
	return SchemaFor(&researchArgs{})
}

func (t *researchTool) Execute(ctx context.Context, rawArgs map[string]interface{}, shared *flow.Shared) (Result, error) {
	var args researchArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return Fail("%s", err.Error()), nil
	}
	if !t.deps.Researcher.Enabled() {
		return Fail("%s", research.ErrDisabled.Error()), nil
	}

	findings, err := t.deps.Researcher.Research(ctx, args.Keywords, args.FocusAreas, args.ProjectContext)
	if err != nil {
		if errors.Is(err, research.ErrDisabled) {
			return Fail("%s", err.Error()), nil
		}
		return Fail("research failed: %s", err.Error()), nil
	}

	// Round-trip through JSON so the findings land in shared as plain maps.
	raw, err := json.Marshal(findings)
	if err != nil {
		return Fail("failed to encode findings: %s", err.Error()), nil
	}
	var asMap map[string]interface{}
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return Fail("failed to encode findings: %s", err.Error()), nil
	}
	return OK(map[string]interface{}{"findings": asMap}), nil
}
