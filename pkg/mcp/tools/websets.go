package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/lenslabs/webset-engine/pkg/apperrors"
	"github.com/lenslabs/webset-engine/pkg/logging"
	"github.com/lenslabs/webset-engine/pkg/projection"
	"github.com/lenslabs/webset-engine/pkg/upstream"
)

// WebsetToolDeps contains dependencies for the upstream pass-through tools.
type WebsetToolDeps struct {
	Client upstream.Client
	Logger *zap.Logger
}

// RegisterWebsetTools registers the projected pass-through tools for websets,
// items and research jobs.
func RegisterWebsetTools(s *server.MCPServer, deps *WebsetToolDeps) {
	registerWebsetsGetTool(s, deps)
	registerItemsListTool(s, deps)
	registerResearchCreateTool(s, deps)
	registerResearchGetTool(s, deps)
}

func registerWebsetsGetTool(s *server.MCPServer, deps *WebsetToolDeps) {
	tool := mcp.NewTool(
		"websets_get",
		mcp.WithDescription(
			"Get one webset in raw form: status, searches with progress, "+
				"enrichment definitions and monitors.",
		),
		mcp.WithString("websetId", mcp.Required(), mcp.Description("Webset id")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		websetID, err := req.RequireString("websetId")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}
		ws, err := deps.Client.GetWebset(ctx, websetID)
		if err != nil {
			return upstreamErrorResult(deps.Logger, "websets_get", err)
		}
		return marshalResult(ws)
	})
}

func registerItemsListTool(s *server.MCPServer, deps *WebsetToolDeps) {
	tool := mcp.NewTool(
		"items_list",
		mcp.WithDescription(
			"List a webset's items in projected form. Items with evaluations but "+
				"no satisfied one are filtered out; the envelope reports total, "+
				"included and excluded counts.",
		),
		mcp.WithString("websetId", mcp.Required(), mcp.Description("Webset id")),
		mcp.WithNumber("limit", mcp.Description("Maximum items to return, default 100")),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		websetID, err := req.RequireString("websetId")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}
		limit := req.GetInt("limit", 100)

		ws, err := deps.Client.GetWebset(ctx, websetID)
		if err != nil {
			return upstreamErrorResult(deps.Logger, "items_list", err)
		}
		items, err := deps.Client.ListItems(ctx, websetID, limit)
		if err != nil {
			return upstreamErrorResult(deps.Logger, "items_list", err)
		}

		env := projection.ProjectItems(items, projection.EnrichmentDescriptions(ws))
		return marshalResult(env)
	})
}

func registerResearchCreateTool(s *server.MCPServer, deps *WebsetToolDeps) {
	tool := mcp.NewTool(
		"research_create",
		mcp.WithDescription(
			"Dispatch an upstream deep-research job. Returns the job id and "+
				"status; poll research_get for the outcome. For a managed "+
				"research task with progress reporting use tasks_create with "+
				"type research.deep instead.",
		),
		mcp.WithString("instructions", mcp.Required(), mcp.Description("Research instructions")),
		mcp.WithString("model", mcp.Description("Upstream research model override")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		instructions, err := req.RequireString("instructions")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}
		research, err := deps.Client.CreateResearch(ctx, &upstream.CreateResearchRequest{
			Instructions: instructions,
			Model:        req.GetString("model", ""),
		})
		if err != nil {
			return upstreamErrorResult(deps.Logger, "research_create", err)
		}
		return marshalResult(projection.ProjectResearch(research))
	})
}

func registerResearchGetTool(s *server.MCPServer, deps *WebsetToolDeps) {
	tool := mcp.NewTool(
		"research_get",
		mcp.WithDescription("Get a research job in projected form, preferring structured output over raw text."),
		mcp.WithString("researchId", mcp.Required(), mcp.Description("Research job id")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		researchID, err := req.RequireString("researchId")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}
		research, err := deps.Client.GetResearch(ctx, researchID)
		if err != nil {
			return upstreamErrorResult(deps.Logger, "research_get", err)
		}
		return marshalResult(projection.ProjectResearch(research))
	})
}

// upstreamErrorResult maps an upstream failure to a structured tool error.
// Not-found and client errors come back as actionable results; transient
// upstream failures surface as internal errors but still carry the message.
func upstreamErrorResult(logger *zap.Logger, toolName string, err error) (*mcp.CallToolResult, error) {
	if errors.Is(err, apperrors.ErrNotFound) {
		return NewErrorResult("not_found", err.Error()), nil
	}

	var apiErr *upstream.APIError
	if errors.As(err, &apiErr) {
		code := "upstream_error"
		if apiErr.Transient() {
			code = "upstream_transient"
		}
		logger.Warn("upstream call failed",
			zap.String("tool", toolName),
			zap.Int("status_code", apiErr.StatusCode),
			zap.String("error", logging.SanitizeError(err)))
		return NewErrorResult(code, fmt.Sprintf("upstream returned status %d", apiErr.StatusCode)), nil
	}

	logger.Error("upstream call failed",
		zap.String("tool", toolName),
		zap.String("error", logging.SanitizeError(err)))
	return NewErrorResult("internal_error", logging.SanitizeError(err)), nil
}
