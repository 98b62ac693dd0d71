package tools

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lenslabs/webset-engine/pkg/upstream"
)

func newWebsetToolServer(t *testing.T, client upstream.Client) *server.MCPServer {
	t.Helper()
	s := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterWebsetTools(s, &WebsetToolDeps{Client: client, Logger: zap.NewNop()})
	return s
}

func TestRegisterWebsetTools(t *testing.T) {
	s := newWebsetToolServer(t, &stubClient{})
	names := listToolNames(t, s)

	for _, want := range []string{"websets_get", "items_list", "research_create", "research_get"} {
		assert.Contains(t, names, want)
	}
}

func TestWebsetsGet(t *testing.T) {
	client := &stubClient{
		getWebset: func(ctx context.Context, id string) (*upstream.Webset, error) {
			return &upstream.Webset{ID: id, Status: upstream.WebsetStatusIdle}, nil
		},
	}
	s := newWebsetToolServer(t, client)

	payload := toolPayload(t, callTool(t, s, "websets_get", map[string]any{"websetId": "ws_1"}))
	assert.Equal(t, "ws_1", payload["id"])
	assert.Equal(t, "idle", payload["status"])
}

func TestWebsetsGetNotFound(t *testing.T) {
	s := newWebsetToolServer(t, &stubClient{})

	resp := toolError(t, callTool(t, s, "websets_get", map[string]any{"websetId": "ws_missing"}))
	assert.Equal(t, "not_found", resp.Code)
}

func TestWebsetsGetUpstreamError(t *testing.T) {
	transient := &stubClient{
		getWebset: func(ctx context.Context, id string) (*upstream.Webset, error) {
			return nil, &upstream.APIError{StatusCode: 503, Body: "upstream down"}
		},
	}
	resp := toolError(t, callTool(t, newWebsetToolServer(t, transient), "websets_get", map[string]any{"websetId": "ws_1"}))
	assert.Equal(t, "upstream_transient", resp.Code)
	assert.Contains(t, resp.Message, "503")

	permanent := &stubClient{
		getWebset: func(ctx context.Context, id string) (*upstream.Webset, error) {
			return nil, &upstream.APIError{StatusCode: 422, Body: "bad entity"}
		},
	}
	resp = toolError(t, callTool(t, newWebsetToolServer(t, permanent), "websets_get", map[string]any{"websetId": "ws_1"}))
	assert.Equal(t, "upstream_error", resp.Code)
}

func TestItemsListProjects(t *testing.T) {
	client := &stubClient{
		getWebset: func(ctx context.Context, id string) (*upstream.Webset, error) {
			return &upstream.Webset{
				ID:          id,
				Enrichments: []upstream.Enrichment{{ID: "enr_1", Description: "headcount", Format: "number"}},
			}, nil
		},
		listItems: func(ctx context.Context, websetID string, limit int) ([]upstream.WebsetItem, error) {
			assert.Equal(t, 100, limit, "limit defaults to 100")
			return []upstream.WebsetItem{
				{
					ID: "i1",
					Properties: upstream.ItemProperties{
						Type:    "company",
						URL:     "https://acme.test",
						Company: &upstream.CompanyProps{Name: "Acme"},
					},
					Evaluations: []upstream.Evaluation{{Criterion: "c1", Satisfied: "yes"}},
				},
				{
					ID:          "i2",
					Properties:  upstream.ItemProperties{Type: "company"},
					Evaluations: []upstream.Evaluation{{Criterion: "c1", Satisfied: "no"}},
				},
			}, nil
		},
	}
	s := newWebsetToolServer(t, client)

	payload := toolPayload(t, callTool(t, s, "items_list", map[string]any{"websetId": "ws_1"}))
	assert.Equal(t, float64(2), payload["total"])
	assert.Equal(t, float64(1), payload["included"])
	assert.Equal(t, float64(1), payload["excluded"])

	data := payload["data"].([]any)
	require.Len(t, data, 1)
	item := data[0].(map[string]any)
	assert.Equal(t, "Acme", item["name"])
}

func TestResearchCreateAndGet(t *testing.T) {
	client := &stubClient{
		createResearch: func(ctx context.Context, req *upstream.CreateResearchRequest) (*upstream.Research, error) {
			assert.Equal(t, "survey the field", req.Instructions)
			return &upstream.Research{ID: "res_1", Status: upstream.ResearchStatusRunning}, nil
		},
		getResearch: func(ctx context.Context, id string) (*upstream.Research, error) {
			return &upstream.Research{
				ID:     id,
				Status: upstream.ResearchStatusCompleted,
				Output: &upstream.ResearchOutput{Content: "findings"},
			}, nil
		},
	}
	s := newWebsetToolServer(t, client)

	payload := toolPayload(t, callTool(t, s, "research_create", map[string]any{"instructions": "survey the field"}))
	assert.Equal(t, "res_1", payload["id"])
	assert.Equal(t, "running", payload["status"])

	payload = toolPayload(t, callTool(t, s, "research_get", map[string]any{"researchId": "res_1"}))
	assert.Equal(t, "completed", payload["status"])
	assert.Equal(t, "findings", payload["result"])
}

func TestResearchCreateRequiresInstructions(t *testing.T) {
	s := newWebsetToolServer(t, &stubClient{})

	resp := toolError(t, callTool(t, s, "research_create", map[string]any{}))
	assert.Equal(t, "invalid_params", resp.Code)
}
