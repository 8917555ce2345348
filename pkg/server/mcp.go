package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/gtplanner/gtplanner/pkg/flow"
	"github.com/gtplanner/gtplanner/pkg/tools"
)

// NewMCPServer exposes the tool catalogue over the Model Context Protocol.
// Each call runs against a fresh turn state, so MCP clients get stateless
// tool access: planning, research, and prefab search without the chat loop.
func NewMCPServer(registry *tools.Registry, version string) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer("gtplanner", version,
		mcpserver.WithToolCapabilities(false),
	)

	for _, tool := range registry.List() {
		schema, err := json.Marshal(tool.Parameters())
		if err != nil {
			continue
		}
		s.AddTool(
			mcp.NewToolWithRawSchema(tool.Name(), tool.Description(), schema),
			mcpToolHandler(tool),
		)
	}
	return s
}

func mcpToolHandler(tool tools.Tool) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		if args == nil {
			args = map[string]interface{}{}
		}

		shared := flow.NewShared("mcp-"+uuid.NewString(), "", "", nil)
		result, err := tool.Execute(ctx, args, shared)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !result.Success {
			return mcp.NewToolResultError(result.Error), nil
		}

		payload, err := json.Marshal(result.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tool result: %w", err)
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}

// ServeMCPStdio blocks serving MCP over stdin/stdout.
func ServeMCPStdio(registry *tools.Registry, version string) error {
	return mcpserver.ServeStdio(NewMCPServer(registry, version))
}
