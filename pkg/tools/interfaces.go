package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/gtplanner/gtplanner/pkg/flow"
)

// Tool is one callable entry of the planner's catalogue. Parameters returns
// the complete JSON Schema for the argument object, including the required
// list the dispatcher enforces before invoking Execute.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}, shared *flow.Shared) (Result, error)
}

// Result is a tool outcome: a success flag, an optional error message, and
// free-form payload fields that are flattened into the JSON object.
type Result struct {
	Success bool
	Error   string
	Data    map[string]interface{}
}

func OK(data map[string]interface{}) Result {
	return Result{Success: true, Data: data}
}

func Fail(format string, args ...interface{}) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// FailWith is a failure carrying extra payload fields, e.g. a fallback
// suggestion.
func FailWith(data map[string]interface{}, format string, args ...interface{}) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...), Data: data}
}

func (r Result) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(r.Data)+2)
	for k, v := range r.Data {
		m[k] = v
	}
	m["success"] = r.Success
	if r.Error != "" {
		m["error"] = r.Error
	}
	return json.Marshal(m)
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if success, ok := m["success"].(bool); ok {
		r.Success = success
	}
	if errMsg, ok := m["error"].(string); ok {
		r.Error = errMsg
	}
	delete(m, "success")
	delete(m, "error")
	r.Data = m
	return nil
}

// Get reads one payload field.
func (r Result) Get(key string) (interface{}, bool) {
	v, ok := r.Data[key]
	return v, ok
}

// SchemaFor reflects a parameter struct into the JSON Schema object the LLM
// tools array and the argument validator both consume. Fields tagged
// omitempty are optional; everything else lands in required.
func SchemaFor(v interface{}) map[string]interface{} {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)

	raw, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("schema reflection failed: %v", err))
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		panic(fmt.Sprintf("schema reflection failed: %v", err))
	}
	delete(m, "$schema")
	delete(m, "$id")
	delete(m, "additionalProperties")
	return m
}
