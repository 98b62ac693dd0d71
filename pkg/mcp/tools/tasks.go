// Package tools provides the MCP tool implementations for webset-engine.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/lenslabs/webset-engine/pkg/logging"
	"github.com/lenslabs/webset-engine/pkg/taskstore"
	"github.com/lenslabs/webset-engine/pkg/workflows"
)

// TaskToolDeps contains dependencies for task tools.
type TaskToolDeps struct {
	Runner *workflows.Runner
	Store  *taskstore.Store
	Logger *zap.Logger
}

// RegisterTaskTools registers the task lifecycle tools.
func RegisterTaskTools(s *server.MCPServer, deps *TaskToolDeps) {
	registerTasksCreateTool(s, deps)
	registerTasksGetTool(s, deps)
	registerTasksResultTool(s, deps)
	registerTasksListTool(s, deps)
	registerTasksCancelTool(s, deps)
}

func registerTasksCreateTool(s *server.MCPServer, deps *TaskToolDeps) {
	tool := mcp.NewTool(
		"tasks_create",
		mcp.WithDescription(
			"Start a background workflow task. Returns immediately with the task id; "+
				"poll tasks_get for progress and tasks_result for the outcome. "+
				"Available workflow types: "+workflowTypeList()+". "+
				"All remaining arguments are passed to the workflow.",
		),
		mcp.WithString("type",
			mcp.Required(),
			mcp.Description("Workflow type name, e.g. lifecycle.harvest"),
		),
		mcp.WithObject("args",
			mcp.Description("Workflow arguments; schema depends on the workflow type"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		workflowType, err := req.RequireString("type")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}
		args, _ := req.GetArguments()["args"].(map[string]any)
		if args == nil {
			args = map[string]any{}
		}

		task, err := deps.Runner.Start(workflowType, args)
		if err != nil {
			if IsInputError(err) {
				deps.Logger.Debug("task creation rejected",
					zap.String("task_type", workflowType),
					zap.String("error", logging.SanitizeError(err)))
			} else {
				deps.Logger.Error("task creation failed",
					zap.String("task_type", workflowType),
					zap.String("error", logging.SanitizeError(err)))
			}
			return NewErrorResult(ErrorCode(err), err.Error()), nil
		}

		return marshalResult(map[string]any{
			"taskId": task.ID,
			"status": task.Status,
		})
	})
}

func registerTasksGetTool(s *server.MCPServer, deps *TaskToolDeps) {
	tool := mcp.NewTool(
		"tasks_get",
		mcp.WithDescription(
			"Get a task's status and progress. Does not include the result; "+
				"use tasks_result once the status is terminal.",
		),
		mcp.WithString("taskId", mcp.Required(), mcp.Description("Task id from tasks_create")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := req.RequireString("taskId")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}
		task, ok := deps.Store.Get(taskID)
		if !ok {
			return NewErrorResult("not_found", fmt.Sprintf("task %q not found", taskID)), nil
		}

		return marshalResult(map[string]any{
			"id":        task.ID,
			"type":      task.Type,
			"status":    task.Status,
			"progress":  task.Progress,
			"createdAt": task.CreatedAt,
			"updatedAt": task.UpdatedAt,
		})
	})
}

func registerTasksResultTool(s *server.MCPServer, deps *TaskToolDeps) {
	tool := mcp.NewTool(
		"tasks_result",
		mcp.WithDescription(
			"Get a finished task's result. Never blocks: for a non-terminal task "+
				"it returns the current status so the caller can keep polling. Failed "+
				"tasks return the error record and any partial result.",
		),
		mcp.WithString("taskId", mcp.Required(), mcp.Description("Task id from tasks_create")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := req.RequireString("taskId")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}
		task, ok := deps.Store.Get(taskID)
		if !ok {
			return NewErrorResult("not_found", fmt.Sprintf("task %q not found", taskID)), nil
		}

		switch task.Status {
		case taskstore.StatusCompleted:
			return marshalResult(task.Result)
		case taskstore.StatusFailed:
			out := map[string]any{
				"status": task.Status,
				"error":  task.Error,
			}
			if task.PartialResult != nil {
				out["partialResult"] = task.PartialResult
			}
			return marshalResult(out)
		case taskstore.StatusCancelled:
			out := map[string]any{"status": task.Status}
			if task.PartialResult != nil {
				out["partialResult"] = task.PartialResult
			}
			return marshalResult(out)
		default:
			return marshalResult(map[string]any{
				"status":   task.Status,
				"progress": task.Progress,
			})
		}
	})
}

func registerTasksListTool(s *server.MCPServer, deps *TaskToolDeps) {
	tool := mcp.NewTool(
		"tasks_list",
		mcp.WithDescription("List tasks in summary form, newest first, optionally filtered by status."),
		mcp.WithString("status",
			mcp.Description("Filter by status: pending, working, completed, failed or cancelled"),
			mcp.Enum("pending", "working", "completed", "failed", "cancelled"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status := req.GetString("status", "")
		tasks := deps.Store.List(taskstore.Status(status))
		return marshalResult(map[string]any{
			"tasks": tasks,
			"count": len(tasks),
		})
	})
}

func registerTasksCancelTool(s *server.MCPServer, deps *TaskToolDeps) {
	tool := mcp.NewTool(
		"tasks_cancel",
		mcp.WithDescription(
			"Cancel a running task. Cancellation is advisory: the workflow observes "+
				"it at its next checkpoint and cancels any upstream websets it created.",
		),
		mcp.WithString("taskId", mcp.Required(), mcp.Description("Task id from tasks_create")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := req.RequireString("taskId")
		if err != nil {
			return NewErrorResult("invalid_params", err.Error()), nil
		}
		cancelled := deps.Store.Cancel(taskID)
		if cancelled {
			deps.Logger.Info("task cancel requested", zap.String("task_id", taskID))
		}
		return marshalResult(map[string]any{"cancelled": cancelled})
	})
}

func workflowTypeList() string {
	names := workflows.Names()
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}

// marshalResult renders a tool payload as a JSON text result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
