package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sibyl/app/config"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tmc/langchaingo/tools"
	"golang.org/x/sync/errgroup"
)

type mcpClientWrapper struct {
	client client.MCPClient
	name   string
}

// initializeMCPClients spawns the configured stdio tool servers in parallel
// and folds their tools into the registry (browser automation lives behind
// one of these).
func (r *Registry) initializeMCPClients() error {
	var group errgroup.Group

	for _, server := range r.cfg.Tools.MCP {
		group.Go(func() error {
			return r.initializeMCPServer(server)
		})
	}

	return group.Wait()
}

func (r *Registry) initializeMCPServer(server config.MCPServer) error {
	mcpClient, err := client.NewStdioMCPClient(server.Command, nil, server.Args...)
	if err != nil {
		return fmt.Errorf("failed to create MCP client for %s: %w", server.Name, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "sibyl",
		Version: "1.0.0",
	}

	if _, err = mcpClient.Initialize(ctx, initRequest); err != nil {
		return fmt.Errorf("failed to initialize MCP client %s: %w", server.Name, err)
	}

	toolsResponse, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list tools from %s: %w", server.Name, err)
	}

	for _, mcpTool := range toolsResponse.Tools {
		adapter := &mcpToolAdapter{
			client: mcpClient,
			tool:   mcpTool,
			name:   fmt.Sprintf("%s_%s", server.Name, mcpTool.Name),
		}

		r.Register(Definition{
			Name:        adapter.name,
			Description: mcpTool.Description,
			Parameters:  schemaFromMCP(mcpTool.InputSchema),
		}, adapter)
	}

	r.mu.Lock()
	r.mcpClients = append(r.mcpClients, &mcpClientWrapper{
		client: mcpClient,
		name:   server.Name,
	})
	r.mu.Unlock()

	return nil
}

func schemaFromMCP(input mcp.ToolInputSchema) Schema {
	schema := Schema{
		Type:       input.Type,
		Properties: make(map[string]Property),
		Required:   input.Required,
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	if schema.Required == nil {
		schema.Required = []string{}
	}

	for name, raw := range input.Properties {
		prop := Property{}
		if m, ok := raw.(map[string]any); ok {
			if t, ok := m["type"].(string); ok {
				prop.Type = t
			}
			if d, ok := m["description"].(string); ok {
				prop.Description = d
			}
		}
		schema.Properties[name] = prop
	}

	return schema
}

type mcpToolAdapter struct {
	client client.MCPClient
	tool   mcp.Tool
	name   string
}

var _ tools.Tool = (*mcpToolAdapter)(nil)

func (m *mcpToolAdapter) Name() string {
	return m.name
}

func (m *mcpToolAdapter) Description() string {
	return m.tool.Description
}

func (m *mcpToolAdapter) Call(ctx context.Context, input string) (string, error) {
	callRequest := mcp.CallToolRequest{
		Request: mcp.Request{
			Method: "tools/call",
		},
	}

	callRequest.Params.Name = m.tool.Name
	callRequest.Params.Arguments = decodeArguments(m.tool, input)

	response, err := m.client.CallTool(ctx, callRequest)
	if err != nil {
		return "", fmt.Errorf("MCP tool call failed: %w", err)
	}

	var result strings.Builder
	for _, content := range response.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			result.WriteString(textContent.Text)
			result.WriteString("\n")
		}
	}

	return strings.TrimSpace(result.String()), nil
}

func decodeArguments(tool mcp.Tool, input string) map[string]any {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "{") {
		var args map[string]any
		if err := json.Unmarshal([]byte(trimmed), &args); err == nil {
			return args
		}
	}

	// Non-JSON input gets bound to the first schema property, if any.
	for propName := range tool.InputSchema.Properties {
		return map[string]any{propName: input}
	}

	return map[string]any{"input": input}
}
