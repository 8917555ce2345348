package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/gtplanner/gtplanner/pkg/flow"
	"github.com/gtplanner/gtplanner/pkg/prompts"
	"github.com/gtplanner/gtplanner/pkg/protocol"
	"github.com/gtplanner/gtplanner/pkg/streaming"
)

// designTool generates design.md. It is a two-node flow: the design node
// writes the document, then the prefab-detail node assembles a companion
// prefabs_info.md from gateway function lookups.
type designTool struct {
	deps Deps
}

type designArgs struct {
	UserRequirements string `json:"user_requirements" jsonschema_description:"What the user wants to build"`
}

func (t *designTool) Name() string { return "design" }

func (t *designTool) Description() string {
	return "Generate the system design document (design.md) plus a prefab usage companion when prefabs are selected."
}

func (t *designTool) Parameters() map[string]interface{} {
	return SchemaFor(&designArgs{})
}

func (t *designTool) Execute(ctx context.Context, rawArgs map[string]interface{}, shared *flow.Shared) (Result, error) {
	var args designArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return Fail("%s", err.Error()), nil
	}

	design := &designNode{deps: t.deps, requirements: args.UserRequirements}
	details := &prefabDetailNode{deps: t.deps}

	f := flow.New(design)
	f.Next(design, flow.ActionDefault, details)
	if _, err := f.Run(ctx, shared); err != nil {
		return Fail("design generation failed: %s", err.Error()), nil
	}

	docs := make([]protocol.Document, 0, 2)
	if design.document.Content != "" {
		docs = append(docs, design.document)
	}
	if details.document.Content != "" {
		docs = append(docs, details.document)
	}
	return OK(map[string]interface{}{"documents": docs}), nil
}

// designNode writes the design document itself.
type designNode struct {
	deps         Deps
	requirements string
	document     protocol.Document
}

func (n *designNode) Name() string { return "design" }

func (n *designNode) Prep(ctx context.Context, shared *flow.Shared) (interface{}, error) {
	if n.requirements == "" {
		n.requirements = shared.UserInput
	}
	shared.Lock()
	in := prompts.GenerationInput{
		UserRequirements: n.requirements,
		ShortPlanning:    shared.ShortPlanning,
		Prefabs:          shared.RecommendedPrefabs,
		Research:         shared.ResearchFindings,
	}
	shared.Unlock()

	shared.Emit(ctx, streaming.NewProcessingStatusEvent(shared.SessionID, "generating design document", true))
	return n.deps.Prompts.DesignPrompt(shared.Language, in), nil
}

func (n *designNode) Exec(ctx context.Context, prepResult interface{}) (interface{}, error) {
	return generate(ctx, n.deps.LLM, prepResult.(string))
}

func (n *designNode) Post(ctx context.Context, shared *flow.Shared, prepResult, execResult interface{}) (string, error) {
	content := execResult.(string)
	n.document = protocol.Document{
		Type:      protocol.DocumentTypeDesign,
		Filename:  protocol.FilenameDesign,
		Content:   content,
		Timestamp: protocol.Now(),
	}
	shared.Emit(ctx, streaming.NewDesignDocumentEvent(shared.SessionID, n.document.Filename, content))
	return flow.ActionDefault, nil
}

// prefabDetailNode looks up function documentation for the selected
// prefabs and assembles prefabs_info.md. Without selected prefabs or a
// gateway it completes quietly.
type prefabDetailNode struct {
	deps     Deps
	document protocol.Document
}

type prefabDetailPrep struct {
	prefabs []map[string]interface{}
}

func (n *prefabDetailNode) Name() string { return "prefab_functions_detail" }

func (n *prefabDetailNode) Prep(ctx context.Context, shared *flow.Shared) (interface{}, error) {
	shared.Lock()
	defer shared.Unlock()
	return prefabDetailPrep{prefabs: shared.RecommendedPrefabs}, nil
}

func (n *prefabDetailNode) Exec(ctx context.Context, prepResult interface{}) (interface{}, error) {
	prep := prepResult.(prefabDetailPrep)
	if len(prep.prefabs) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("# Prefab Usage\n\n")
	for _, p := range prep.prefabs {
		id, _ := p["id"].(string)
		if id == "" {
			continue
		}
		name, _ := p["name"].(string)
		version, _ := p["version"].(string)
		if name == "" {
			name = id
		}
		fmt.Fprintf(&b, "## %s (`%s`)\n\n", name, id)

		n.writeFunctions(ctx, &b, id, version)
	}
	return b.String(), nil
}

// writeFunctions prefers the gateway's per-function documentation and
// falls back to the local catalogue.
func (n *prefabDetailNode) writeFunctions(ctx context.Context, b *strings.Builder, id, version string) {
	if n.deps.Catalog != nil {
		if prefab, ok := n.deps.Catalog.Get(id, version); ok {
			for _, fn := range prefab.Functions {
				detail := map[string]any{"description": fn.Description}
				if n.deps.Gateway.Enabled() {
					if remote, err := n.deps.Gateway.FunctionDetail(ctx, id, version, fn.Name); err == nil {
						detail = remote
					}
				}
				desc, _ := detail["description"].(string)
				fmt.Fprintf(b, "### %s\n\n%s\n\n", fn.Name, desc)
			}
			return
		}
	}
	b.WriteString("No function documentation available.\n\n")
}

func (n *prefabDetailNode) Post(ctx context.Context, shared *flow.Shared, prepResult, execResult interface{}) (string, error) {
	content := execResult.(string)
	if content == "" {
		return flow.ActionComplete, nil
	}
	n.document = protocol.Document{
		Type:      protocol.DocumentTypeDesign,
		Filename:  protocol.FilenamePrefabsInfo,
		Content:   content,
		Timestamp: protocol.Now(),
	}
	shared.Emit(ctx, streaming.NewPrefabsInfoEvent(shared.SessionID, n.document.Filename, content))
	return flow.ActionComplete, nil
}

// databaseDesignTool generates database_design.md, grounded on the
// system design generated earlier in the session.
type databaseDesignTool struct {
	deps Deps
}

type databaseDesignArgs struct {
	UserRequirements string `json:"user_requirements" jsonschema_description:"What the user wants to build"`
	SystemDesign     string `json:"system_design,omitempty" jsonschema_description:"System design to ground the schema on; defaults to the session's design.md"`
}

func (t *databaseDesignTool) Name() string { return "database_design" }

func (t *databaseDesignTool) Description() string {
	return "Generate the database design document (database_design.md). Intended to run after design."
}

func (t *databaseDesignTool) Parameters() map[string]interface{} {
	return SchemaFor(&databaseDesignArgs{})
}

func (t *databaseDesignTool) Execute(ctx context.Context, rawArgs map[string]interface{}, shared *flow.Shared) (Result, error) {
	var args databaseDesignArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return Fail("%s", err.Error()), nil
	}

	systemDesign := args.SystemDesign
	if systemDesign == "" {
		if doc, ok := shared.LatestDocument(protocol.FilenameDesign); ok {
			systemDesign = doc.Content
		}
	}
	if systemDesign == "" {
		return Fail("no system design available: run the design tool first"), nil
	}

	shared.Lock()
	in := prompts.GenerationInput{
		UserRequirements: args.UserRequirements,
		SystemDesign:     systemDesign,
		ShortPlanning:    shared.ShortPlanning,
		Prefabs:          shared.RecommendedPrefabs,
	}
	shared.Unlock()

	shared.Emit(ctx, streaming.NewProcessingStatusEvent(shared.SessionID, "generating database design", true))

	content, err := generate(ctx, t.deps.LLM, t.deps.Prompts.DatabaseDesignPrompt(shared.Language, in))
	if err != nil {
		return Fail("database design generation failed: %s", err.Error()), nil
	}

	doc := protocol.Document{
		Type:      protocol.DocumentTypeDatabaseDesign,
		Filename:  protocol.FilenameDatabaseDesign,
		Content:   content,
		Timestamp: protocol.Now(),
	}
	shared.Emit(ctx, streaming.NewDesignDocumentEvent(shared.SessionID, doc.Filename, content))
	return OK(map[string]interface{}{"documents": []protocol.Document{doc}}), nil
}
