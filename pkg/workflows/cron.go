package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lenslabs/webset-engine/pkg/upstream"
)

func init() {
	MustRegister("semantic.cron", SemanticCron)
}

// SemanticCron evaluates a declarative lens pipeline: resolve each lens's
// webset, shape its items, join evidence across lenses and fire a signal.
// Re-runs with a previous snapshot also compute a delta. The system never
// persists snapshots; callers hold them between evaluations.
func SemanticCron(ctx context.Context, rt *Runtime, taskID string, args map[string]any) (any, error) {
	steps := NewStepTracker(rt.Store, taskID, 6)
	steps.Begin("validate")

	cfg, err := ExpandCronConfig(OptionalMap(args, "config"), variablesFrom(args))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	previous, err := previousSnapshotFrom(args)
	if err != nil {
		return nil, err
	}
	existing := existingWebsetsFrom(args)
	reEvaluation := len(existing) > 0
	timeout := StepTimeout(args, rt.StepTimeout)

	owner := NewWebsetOwner(rt.Client, rt.Logger)

	steps.Begin("resolveLenses")
	websets := make(map[string]*upstream.Webset, len(cfg.Lenses))
	websetIDs := make(map[string]string, len(cfg.Lenses))
	for _, lens := range cfg.Lenses {
		if Cancelled(rt.Store, taskID) {
			owner.CancelAll(ctx)
			return nil, nil
		}

		boundID := existing[lens.ID]
		if reEvaluation && boundID == "" && lens.WebsetID == "" {
			return nil, Validationf("re-evaluation is missing a webset binding for lens %q", lens.ID)
		}
		ws, err := resolveLens(ctx, rt, taskID, lens, boundID, owner, timeout)
		if err != nil {
			return nil, err
		}
		if ws == nil {
			return nil, nil
		}
		websets[lens.ID] = ws
		websetIDs[lens.ID] = ws.ID
		_ = rt.Store.SetPartialResult(taskID, map[string]any{"websetIds": websetIDs})
	}

	steps.Begin("evaluate")
	lensResults := make([]LensResult, 0, len(cfg.Lenses))
	for _, lens := range cfg.Lenses {
		if Cancelled(rt.Store, taskID) {
			owner.CancelAll(ctx)
			return nil, nil
		}
		lr, err := evaluateLens(ctx, rt, lens, websets[lens.ID], cfg.ShapesFor(lens.ID), ItemCap(lens.Count))
		if err != nil {
			return nil, err
		}
		lensResults = append(lensResults, *lr)
	}

	steps.Begin("join")
	join := joinLenses(cfg.Join, lensResults)

	steps.Begin("signal")
	signal := evaluateSignal(cfg.Signal, cfg.LensIDs(), join)

	steps.Begin("finalize")
	snapshot := buildSnapshot(time.Now().UTC(), cfg, lensResults, join, signal)

	result := map[string]any{
		"snapshot":  snapshot,
		"websetIds": websetIDs,
	}
	if previous != nil {
		result["delta"] = computeDelta(previous, snapshot)
	}

	if !reEvaluation && cfg.Monitor != nil {
		attachMonitors(ctx, rt, cfg.Monitor, websetIDs)
	}
	steps.End()

	result["duration"] = steps.DurationMs()
	result["steps"] = steps.Steps()
	return result, nil
}

// attachMonitors registers the re-run cadence on every lens webset. Failures
// are dropped; the evaluation already succeeded.
func attachMonitors(ctx context.Context, rt *Runtime, monitor *MonitorConfig, websetIDs map[string]string) {
	for lensID, websetID := range websetIDs {
		_, err := rt.Client.CreateMonitor(ctx, &upstream.CreateMonitorRequest{
			WebsetID: websetID,
			Cadence:  upstream.Cadence{Cron: monitor.Cron, Timezone: monitor.Timezone},
		})
		if err != nil {
			rt.Logger.Debug("monitor creation failed",
				zap.String("lens_id", lensID),
				zap.String("webset_id", websetID),
				zap.Error(err))
		}
	}
}

// variablesFrom flattens the variables argument to strings.
func variablesFrom(args map[string]any) map[string]string {
	raw := OptionalMap(args, "variables")
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch s := v.(type) {
		case string:
			out[k] = s
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

// previousSnapshotFrom round-trips the previousSnapshot argument through
// JSON into the typed form.
func previousSnapshotFrom(args map[string]any) (*Snapshot, error) {
	raw := OptionalMap(args, "previousSnapshot")
	if raw == nil {
		return nil, nil
	}
	text, err := json.Marshal(raw)
	if err != nil {
		return nil, Validationf("previousSnapshot is not serializable: %v", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(text, &snap); err != nil {
		return nil, Validationf("previousSnapshot does not parse: %v", err)
	}
	return &snap, nil
}

// existingWebsetsFrom reads the lens-id to webset-id bindings for
// re-evaluation mode.
func existingWebsetsFrom(args map[string]any) map[string]string {
	raw := OptionalMap(args, "existingWebsets")
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out[k] = s
		}
	}
	return out
}
