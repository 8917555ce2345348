package tools

import (
	"github.com/gtplanner/gtplanner/pkg/llms"
	"github.com/gtplanner/gtplanner/pkg/registry"
)

// Registry is the static tool catalogue, keyed by tool name.
type Registry struct {
	base *registry.BaseRegistry[Tool]
}

func NewRegistry() *Registry {
	return &Registry{base: registry.NewBaseRegistry[Tool]()}
}

func (r *Registry) Register(t Tool) error {
	return r.base.Register(t.Name(), t)
}

func (r *Registry) Get(name string) (Tool, bool) {
	return r.base.Get(name)
}

func (r *Registry) Names() []string {
	return r.base.Names()
}

func (r *Registry) List() []Tool {
	return r.base.List()
}

// Definitions serializes the catalogue as the LLM tools array.
func (r *Registry) Definitions() []llms.ToolDefinition {
	list := r.base.List()
	defs := make([]llms.ToolDefinition, 0, len(list))
	for _, t := range list {
		defs = append(defs, llms.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}
