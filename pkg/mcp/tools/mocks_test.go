package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"

	"github.com/lenslabs/webset-engine/pkg/apperrors"
	"github.com/lenslabs/webset-engine/pkg/upstream"
)

// stubClient is a function-field upstream stub. Unset methods report not
// found.
type stubClient struct {
	getWebset      func(ctx context.Context, id string) (*upstream.Webset, error)
	listItems      func(ctx context.Context, websetID string, limit int) ([]upstream.WebsetItem, error)
	createResearch func(ctx context.Context, req *upstream.CreateResearchRequest) (*upstream.Research, error)
	getResearch    func(ctx context.Context, id string) (*upstream.Research, error)
}

func (s *stubClient) CreateWebset(ctx context.Context, req *upstream.CreateWebsetRequest) (*upstream.Webset, error) {
	return nil, apperrors.ErrNotFound
}

func (s *stubClient) GetWebset(ctx context.Context, id string) (*upstream.Webset, error) {
	if s.getWebset != nil {
		return s.getWebset(ctx, id)
	}
	return nil, apperrors.ErrNotFound
}

func (s *stubClient) CancelWebset(ctx context.Context, id string) error { return nil }

func (s *stubClient) DeleteWebset(ctx context.Context, id string) error { return nil }

func (s *stubClient) ListItems(ctx context.Context, websetID string, limit int) ([]upstream.WebsetItem, error) {
	if s.listItems != nil {
		return s.listItems(ctx, websetID, limit)
	}
	return nil, apperrors.ErrNotFound
}

func (s *stubClient) CreateMonitor(ctx context.Context, req *upstream.CreateMonitorRequest) (*upstream.Monitor, error) {
	return nil, apperrors.ErrNotFound
}

func (s *stubClient) CreateResearch(ctx context.Context, req *upstream.CreateResearchRequest) (*upstream.Research, error) {
	if s.createResearch != nil {
		return s.createResearch(ctx, req)
	}
	return nil, apperrors.ErrNotFound
}

func (s *stubClient) GetResearch(ctx context.Context, id string) (*upstream.Research, error) {
	if s.getResearch != nil {
		return s.getResearch(ctx, id)
	}
	return nil, apperrors.ErrNotFound
}

func (s *stubClient) PollResearch(ctx context.Context, id string, deadline time.Duration) (*upstream.Research, error) {
	return s.GetResearch(ctx, id)
}

var _ upstream.Client = (*stubClient)(nil)

// callTool executes an MCP tool via the server's HandleMessage method.
func callTool(t *testing.T, s *server.MCPServer, toolName string, arguments map[string]any) *mcp.CallToolResult {
	t.Helper()

	callReq := map[string]any{
		"jsonrpc": "2.0",
		"method":  "tools/call",
		"id":      1,
		"params": map[string]any{
			"name":      toolName,
			"arguments": arguments,
		},
	}
	reqBytes, err := json.Marshal(callReq)
	require.NoError(t, err)

	raw := s.HandleMessage(context.Background(), reqBytes)
	resultBytes, err := json.Marshal(raw)
	require.NoError(t, err)

	var response struct {
		Result *mcp.CallToolResult `json:"result,omitempty"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error,omitempty"`
	}
	require.NoError(t, json.Unmarshal(resultBytes, &response))
	require.Nil(t, response.Error, "tool call returned a protocol error")
	require.NotNil(t, response.Result)
	return response.Result
}

// toolPayload unmarshals a successful tool result's JSON text.
func toolPayload(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &out))
	return out
}

// toolError unmarshals an error tool result.
func toolError(t *testing.T, result *mcp.CallToolResult) ErrorResponse {
	t.Helper()
	require.True(t, result.IsError)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &resp))
	return resp
}

// listToolNames returns the registered tool names via tools/list.
func listToolNames(t *testing.T, s *server.MCPServer) []string {
	t.Helper()
	raw := s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`))
	resultBytes, err := json.Marshal(raw)
	require.NoError(t, err)

	var response struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(resultBytes, &response))

	names := make([]string, 0, len(response.Result.Tools))
	for _, tool := range response.Result.Tools {
		names = append(names, tool.Name)
	}
	return names
}
