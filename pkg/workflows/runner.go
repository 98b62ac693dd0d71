package workflows

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lenslabs/webset-engine/pkg/apperrors"
	"github.com/lenslabs/webset-engine/pkg/logging"
	"github.com/lenslabs/webset-engine/pkg/taskstore"
	"github.com/lenslabs/webset-engine/pkg/upstream"
)

// Runner creates tasks and executes their workflow functions in the
// background. The creating caller never joins the worker; it polls the task
// store instead.
type Runner struct {
	rt     *Runtime
	logger *zap.Logger
}

// NewRunner builds a runner around the shared runtime. Options mutate the
// runtime defaults (poll cadence, step timeout, research concurrency).
func NewRunner(client upstream.Client, store *taskstore.Store, logger *zap.Logger, rtOpts ...func(*Runtime)) *Runner {
	rt := &Runtime{
		Client:              client,
		Store:               store,
		Logger:              logger.Named("workflows"),
		PollInterval:        DefaultPollInterval,
		StepTimeout:         DefaultStepTimeout,
		ResearchConcurrency: DefaultResearchConcurrency,
	}
	for _, opt := range rtOpts {
		opt(rt)
	}
	return &Runner{rt: rt, logger: rt.Logger}
}

// Runtime exposes the runner's runtime for tests.
func (r *Runner) Runtime() *Runtime {
	return r.rt
}

// Start creates a task for the named workflow and schedules it. The returned
// task is in state pending; the worker flips it to working.
func (r *Runner) Start(workflowType string, args map[string]any) (*taskstore.Task, error) {
	fn, ok := Lookup(workflowType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownWorkflow, workflowType)
	}

	task, err := r.rt.Store.Create(workflowType, args)
	if err != nil {
		return nil, err
	}

	go r.run(task.ID, workflowType, fn, args)
	return task, nil
}

func (r *Runner) run(taskID, workflowType string, fn Func, args map[string]any) {
	store := r.rt.Store

	if err := store.UpdateStatus(taskID, taskstore.StatusWorking); err != nil {
		// Cancelled or deleted before the worker started.
		r.logger.Debug("task not startable", zap.String("task_id", taskID), zap.Error(err))
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("workflow panicked",
				zap.String("task_id", taskID),
				zap.String("task_type", workflowType),
				zap.Any("panic", rec))
			_ = store.SetError(taskID, &taskstore.Error{
				Step:    "internal",
				Message: fmt.Sprintf("panic: %v", rec),
			})
		}
	}()

	result, err := fn(context.Background(), r.rt, taskID, args)
	if err != nil {
		var stepErr *StepError
		if !errors.As(err, &stepErr) {
			stepErr = &StepError{Step: "internal", Message: err.Error()}
		}
		r.logger.Warn("workflow failed",
			zap.String("task_id", taskID),
			zap.String("task_type", workflowType),
			zap.String("step", stepErr.Step),
			zap.String("error", logging.SanitizeError(err)))
		// SetError fails when the task was cancelled mid-flight; the
		// cancelled state wins.
		_ = store.SetError(taskID, &taskstore.Error{
			Step:        stepErr.Step,
			Message:     stepErr.Message,
			Recoverable: stepErr.Recoverable,
		})
		return
	}

	if result == nil {
		// Cancellation path: the workflow observed the cancelled status and
		// unwound. The store already holds the terminal state.
		return
	}

	if err := store.SetResult(taskID, result); err != nil {
		r.logger.Debug("result dropped, task already terminal",
			zap.String("task_id", taskID), zap.Error(err))
		return
	}
	r.logger.Info("workflow completed",
		zap.String("task_id", taskID),
		zap.String("task_type", workflowType))
}

// Cancelled reports whether the task has been cancelled. Workflows call this
// at every safe checkpoint.
func Cancelled(store *taskstore.Store, taskID string) bool {
	t, ok := store.Get(taskID)
	return ok && t.Status == taskstore.StatusCancelled
}
