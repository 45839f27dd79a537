package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rmax-ai/quotascope/pkg/client"
	"github.com/rmax-ai/quotascope/pkg/usage"
)

// Server adapts quotascope-d to the Model Context Protocol so coding
// agents can check their own remaining quota before acting.
type Server struct {
	mcpServer *server.MCPServer
	apiClient *client.Client
}

// NewServer creates a new MCP server instance.
func NewServer(apiURL string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"quotascope",
			"1.0.0",
		),
		apiClient: client.NewClient(apiURL),
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	// quotascope://usage
	s.mcpServer.AddResource(mcp.NewResource(
		"quotascope://usage",
		"Current Service Usage",
		mcp.WithResourceDescription("Latest quota usage for every monitored AI service"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadUsage)

	// quotascope://services
	s.mcpServer.AddResource(mcp.NewResource(
		"quotascope://services",
		"Monitored Services",
		mcp.WithResourceDescription("Registered services and whether credentials are available"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadServices)
}

// --- Tools ---

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"get_usage",
		mcp.WithDescription("Get the latest quota usage for one service (e.g. 'anthropic', 'github')."),
		mcp.WithString("service_id", mcp.Required(), mcp.Description("The service to look up")),
	), s.handleGetUsage)

	s.mcpServer.AddTool(mcp.NewTool(
		"refresh_usage",
		mcp.WithDescription("Poll services for fresh quota data now instead of waiting for the next cycle."),
		mcp.WithString("service_id", mcp.Description("Refresh only this service (default: all)")),
	), s.handleRefreshUsage)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"quota-aware",
		mcp.WithPromptDescription("Provides context about quota windows and how to react to them"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func (s *Server) handleReadUsage(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	records, err := s.apiClient.GetUsage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch usage: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal usage: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleReadServices(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	infos, err := s.apiClient.ListServices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch services: %w", err)
	}

	data, err := json.MarshalIndent(infos, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal services: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleGetUsage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	serviceID := mcp.ParseString(request, "service_id", "")
	if serviceID == "" {
		return mcp.NewToolResultError("service_id is required"), nil
	}

	record, err := s.apiClient.GetServiceUsage(ctx, usage.ServiceID(serviceID))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}

	return mcp.NewToolResultText(formatRecord(record)), nil
}

func (s *Server) handleRefreshUsage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	serviceID := mcp.ParseString(request, "service_id", "")

	var (
		records []usage.ServiceUsage
		err     error
	)
	if serviceID == "" {
		records, err = s.apiClient.Refresh(ctx)
	} else {
		var record usage.ServiceUsage
		record, err = s.apiClient.RefreshService(ctx, usage.ServiceID(serviceID))
		records = []usage.ServiceUsage{record}
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}

	var b strings.Builder
	for _, record := range records {
		b.WriteString(formatRecord(record))
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

// formatRecord renders one record as compact text for tool output.
func formatRecord(record usage.ServiceUsage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:", record.DisplayName)
	if record.Error != "" {
		fmt.Fprintf(&b, " unavailable (%s)", record.Error)
		if record.NeedsLogin {
			b.WriteString(" [login required]")
		}
		return b.String()
	}
	for _, w := range []*usage.RateWindow{record.Primary, record.Secondary, record.Tertiary} {
		if w == nil {
			continue
		}
		label := w.Label
		if label == "" {
			label = "usage"
		}
		fmt.Fprintf(&b, " %s %.0f%% used", label, w.UsedPercent)
		if w.ResetsAt != nil {
			fmt.Fprintf(&b, " (resets %s)", w.ResetsAt.Format("15:04 MST"))
		}
		b.WriteString(";")
	}
	return strings.TrimSuffix(b.String(), ";")
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != "quota-aware" {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are interacting with Quotascope, a local agent that tracks
quota and rate-limit usage for AI developer services.

Concepts:
- Service: a monitored upstream (e.g. 'anthropic', 'github', 'openai', 'cursor').
- Window: one metered allowance with a used percentage and a reset time.
- needs_login: the service requires interactive re-authentication; usage
  data cannot be fetched until the user signs in again.

Before starting work that consumes significant API quota, use the
'get_usage' tool for the relevant service. If the primary window is
above 90% used, warn the user and prefer to wait for the reset time.
Use 'refresh_usage' only when you need data fresher than the last poll.
`

	return mcp.NewGetPromptResult(
		"quota-aware",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}
