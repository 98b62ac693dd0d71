package workflows

import (
	"context"
	"errors"
	"time"

	"github.com/lenslabs/webset-engine/pkg/upstream"
)

// PollOptions configures one poll-to-idle run.
type PollOptions struct {
	// Interval between refetches; defaults to the runtime's cadence.
	Interval time.Duration
	// Timeout is the per-step deadline. Hitting it is not an error; the
	// result carries TimedOut so workflows can return partial state.
	Timeout time.Duration
	// Owner, when set, receives upstream cancellation on task cancel.
	Owner *WebsetOwner
}

// PollResult reports how a poll-to-idle run ended.
type PollResult struct {
	Webset    *upstream.Webset
	TimedOut  bool
	Cancelled bool
}

// PollUntilIdle drives a webset's lifecycle until its status is idle. On
// every refresh the latest search's found/analyzed counters are mirrored
// into task progress. A paused webset fails the step with a non-recoverable
// error; task cancellation triggers best-effort upstream cancel and an early
// return.
func PollUntilIdle(ctx context.Context, rt *Runtime, taskID, websetID string, opts PollOptions) (*PollResult, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = rt.PollInterval
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = rt.StepTimeout
	}
	deadline := time.Now().Add(timeout)

	var last *upstream.Webset
	for {
		if Cancelled(rt.Store, taskID) {
			if opts.Owner != nil {
				opts.Owner.CancelAll(ctx)
			}
			return &PollResult{Webset: last, Cancelled: true}, nil
		}

		ws, err := rt.Client.GetWebset(ctx, websetID)
		if err != nil {
			return &PollResult{Webset: last}, wrapStep("poll", err)
		}
		last = ws

		if len(ws.Searches) > 0 {
			p := ws.Searches[len(ws.Searches)-1].Progress
			_ = rt.Store.UpdateSearchProgress(taskID, p.Found, p.Analyzed)
		}

		switch ws.Status {
		case upstream.WebsetStatusIdle:
			return &PollResult{Webset: ws}, nil
		case upstream.WebsetStatusPaused:
			return &PollResult{Webset: ws}, &StepError{
				Step:    "poll",
				Message: "webset " + websetID + " is paused",
			}
		}

		if time.Now().After(deadline) {
			return &PollResult{Webset: ws, TimedOut: true}, nil
		}

		select {
		case <-ctx.Done():
			return &PollResult{Webset: last}, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// IsStepError reports whether err carries a step attribution.
func IsStepError(err error) (*StepError, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
