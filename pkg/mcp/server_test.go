package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rmax-ai/quotascope/pkg/usage"
)

func mockDaemon(t *testing.T) *httptest.Server {
	t.Helper()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/v1/usage":
			w.Write([]byte(`{"services":[
				{"service_id":"anthropic","display_name":"Claude","primary":{"used_percent":27,"label":"five_hour"},"needs_login":false,"updated_at":"2026-08-30T10:00:00Z"}
			]}`))
		case r.URL.Path == "/v1/usage/anthropic":
			w.Write([]byte(`{"service_id":"anthropic","display_name":"Claude","primary":{"used_percent":27,"label":"five_hour"},"needs_login":false,"updated_at":"2026-08-30T10:00:00Z"}`))
		case r.URL.Path == "/v1/services":
			w.Write([]byte(`[{"id":"anthropic","display_name":"Claude","available":true}]`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/refresh/anthropic":
			w.Write([]byte(`{"status":"refreshed","services":[{"service_id":"anthropic","display_name":"Claude","primary":{"used_percent":30,"label":"five_hour"},"updated_at":"2026-08-30T10:05:00Z"}]}`))
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestMCPServer_ReadUsage(t *testing.T) {
	s := NewServer(mockDaemon(t).URL)

	req := mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: "quotascope://usage",
		},
	}

	result, err := s.handleReadUsage(context.Background(), req)
	if err != nil {
		t.Fatalf("handleReadUsage failed: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("Expected 1 resource content, got %d", len(result))
	}

	content, ok := result[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("Expected TextResourceContents")
	}
	if content.MIMEType != "application/json" {
		t.Errorf("Expected application/json, got %s", content.MIMEType)
	}

	var records []map[string]interface{}
	if err := json.Unmarshal([]byte(content.Text), &records); err != nil {
		t.Errorf("Failed to parse result JSON: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Expected 1 usage record")
	}
}

func TestMCPServer_GetUsageTool(t *testing.T) {
	s := NewServer(mockDaemon(t).URL)

	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name: "get_usage",
			Arguments: map[string]interface{}{
				"service_id": "anthropic",
			},
		},
	}

	result, err := s.handleGetUsage(context.Background(), req)
	if err != nil {
		t.Fatalf("handleGetUsage failed: %v", err)
	}
	if result.IsError {
		t.Errorf("Expected success, got error")
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok || !strings.Contains(text.Text, "five_hour 27% used") {
		t.Errorf("tool output = %+v", result.Content[0])
	}
}

func TestMCPServer_GetUsageTool_MissingArg(t *testing.T) {
	s := NewServer(mockDaemon(t).URL)

	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: "get_usage"},
	}

	result, err := s.handleGetUsage(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("Expected an error result without service_id")
	}
}

func TestMCPServer_RefreshTool(t *testing.T) {
	s := NewServer(mockDaemon(t).URL)

	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name: "refresh_usage",
			Arguments: map[string]interface{}{
				"service_id": "anthropic",
			},
		},
	}

	result, err := s.handleRefreshUsage(context.Background(), req)
	if err != nil {
		t.Fatalf("handleRefreshUsage failed: %v", err)
	}
	if result.IsError {
		t.Errorf("Expected success, got error")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok || !strings.Contains(text.Text, "30% used") {
		t.Errorf("tool output = %+v", result.Content[0])
	}
}

func TestFormatRecordNeedsLogin(t *testing.T) {
	record := usage.ServiceUsage{
		DisplayName: "Claude",
		Error:       "run `claude /login`",
		NeedsLogin:  true,
	}
	got := formatRecord(record)
	if !strings.Contains(got, "login required") {
		t.Errorf("formatRecord = %q", got)
	}
}
