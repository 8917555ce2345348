package observability

const (
	AttrSessionID       = "session.id"
	AttrToolName        = "tool.name"
	AttrLLMModel        = "llm.model"
	AttrLLMTokensInput  = "llm.tokens.input"
	AttrLLMTokensOutput = "llm.tokens.output"
	AttrErrorType       = "error.type"
	AttrCycleDepth      = "planner.cycle_depth"

	SpanPlannerTurn   = "planner.turn"
	SpanLLMRequest    = "planner.llm_request"
	SpanToolExecution = "planner.tool_execution"
	SpanPrefabLookup  = "planner.prefab_lookup"

	DefaultServiceName = "gtplanner"
)
