package tools

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lenslabs/webset-engine/pkg/apperrors"
)

// ErrorResponse represents a structured error in tool results. It is
// returned as a successful tool result so error details stay visible to the
// agent instead of being swallowed by the MCP client.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error. Use
// this for actionable errors the agent can fix (invalid parameters, unknown
// task id). System failures should still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// ErrorCode maps a domain error to a stable tool-facing code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperrors.ErrTaskTerminal):
		return "task_terminal"
	case errors.Is(err, apperrors.ErrTaskLimitReached):
		return "task_limit_reached"
	case errors.Is(err, apperrors.ErrUnknownWorkflow):
		return "unknown_workflow"
	default:
		return "internal_error"
	}
}

// inputErrorPatterns are substrings that indicate an error is caused by tool
// input rather than a server failure. These are logged at DEBUG level.
var inputErrorPatterns = []string{
	"not found",
	"missing required",
	"invalid",
	"unknown workflow",
	"unresolved template",
	"cannot be empty",
}

// IsInputError reports whether the error appears to be caused by tool input
// rather than a server failure.
func IsInputError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, pattern := range inputErrorPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
