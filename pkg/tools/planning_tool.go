package tools

import (
	"context"

	"github.com/gtplanner/gtplanner/pkg/flow"
	"github.com/gtplanner/gtplanner/pkg/prompts"
	"github.com/gtplanner/gtplanner/pkg/streaming"
)

// shortPlanningTool drafts or refines the step-by-step project plan.
type shortPlanningTool struct {
	deps Deps
}

type shortPlanningArgs struct {
	UserRequirements  string   `json:"user_requirements" jsonschema_description:"What the user wants to build"`
	PreviousPlan      string   `json:"previous_plan,omitempty" jsonschema_description:"Existing plan to refine"`
	ImprovementPoints []string `json:"improvement_points,omitempty" jsonschema_description:"What to improve in the previous plan"`
}

func (t *shortPlanningTool) Name() string { return "short_planning" }

func (t *shortPlanningTool) Description() string {
	return "Produce a step-by-step project plan in Markdown. Call again with improvement points to refine."
}

func (t *shortPlanningTool) Parameters() map[string]interface{} {
	return SchemaFor(&shortPlanningArgs{})
}

func (t *shortPlanningTool) Execute(ctx context.Context, rawArgs map[string]interface{}, shared *flow.Shared) (Result, error) {
	var args shortPlanningArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return Fail("%s", err.Error()), nil
	}

	shared.Emit(ctx, streaming.NewProcessingStatusEvent(shared.SessionID, "drafting project plan", false))

	previousPlan := args.PreviousPlan
	if previousPlan == "" {
		previousPlan = shared.ShortPlanning
	}
	prompt := t.deps.Prompts.ShortPlanningPrompt(shared.Language, prompts.GenerationInput{
		UserRequirements:  args.UserRequirements,
		ShortPlanning:     previousPlan,
		ImprovementPoints: args.ImprovementPoints,
		Prefabs:           shared.RecommendedPrefabs,
		Research:          shared.ResearchFindings,
	})

	plan, err := generate(ctx, t.deps.LLM, prompt)
	if err != nil {
		return Fail("planning failed: %s", err.Error()), nil
	}
	return OK(map[string]interface{}{"plan": plan}), nil
}
