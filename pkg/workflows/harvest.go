package workflows

import (
	"context"

	"go.uber.org/zap"

	"github.com/lenslabs/webset-engine/pkg/projection"
	"github.com/lenslabs/webset-engine/pkg/upstream"
)

func init() {
	MustRegister("lifecycle.harvest", Harvest)
}

// Harvest is the simplest workflow: create one webset, poll it to idle,
// collect its items and optionally delete it. Timeouts yield partial
// results instead of failing the task.
func Harvest(ctx context.Context, rt *Runtime, taskID string, args map[string]any) (any, error) {
	steps := NewStepTracker(rt.Store, taskID, 4)
	steps.Begin("validate")

	query, err := RequireString(args, "query")
	if err != nil {
		return nil, err
	}
	entityType, err := entityTypeFrom(args)
	if err != nil {
		return nil, err
	}
	count := OptionalInt(args, "count", 10)
	cleanup := OptionalBool(args, "cleanup", false)
	timeout := StepTimeout(args, rt.StepTimeout)
	enrichments := enrichmentSpecsFrom(args)

	owner := NewWebsetOwner(rt.Client, rt.Logger)

	steps.Begin("createWebset")
	ws, err := rt.Client.CreateWebset(ctx, &upstream.CreateWebsetRequest{
		Search: upstream.SearchSpec{
			Query:    query,
			Count:    count,
			Entity:   &upstream.EntitySpec{Type: entityType},
			Criteria: criterionSpecsFrom(args),
		},
		Enrichments: enrichments,
	})
	if err != nil {
		return nil, wrapStep("createWebset", err)
	}
	owner.Own(ws.ID)
	_ = rt.Store.SetPartialResult(taskID, map[string]any{"websetId": ws.ID})

	steps.Begin("poll")
	pr, err := PollUntilIdle(ctx, rt, taskID, ws.ID, PollOptions{Timeout: timeout, Owner: owner})
	if err != nil {
		return nil, err
	}
	if pr.Cancelled {
		return nil, nil
	}

	steps.Begin("collectItems")
	items, err := CollectItems(ctx, rt, ws.ID, ItemCap(count))
	if err != nil {
		return nil, err
	}

	final := pr.Webset
	if final == nil {
		final = ws
	}
	descs := projection.EnrichmentDescriptions(final)
	projected := make([]projection.Item, 0, len(items))
	for _, item := range items {
		projected = append(projected, projection.ProjectItem(item, descs))
	}

	if cleanup {
		if err := rt.Client.DeleteWebset(ctx, ws.ID); err != nil {
			rt.Logger.Warn("webset cleanup failed", zap.String("webset_id", ws.ID), zap.Error(err))
		}
	}
	steps.End()

	result := map[string]any{
		"websetId":        ws.ID,
		"items":           projected,
		"itemCount":       len(projected),
		"enrichmentCount": len(final.Enrichments),
		"duration":        steps.DurationMs(),
		"steps":           steps.Steps(),
	}
	if len(final.Searches) > 0 {
		result["searchProgress"] = final.Searches[len(final.Searches)-1].Progress
	}
	if pr.TimedOut {
		result["timedOut"] = true
	}
	return result, nil
}

// entityTypeFrom requires args.entity.type.
func entityTypeFrom(args map[string]any) (string, error) {
	entity := OptionalMap(args, "entity")
	if entity == nil {
		return "", Validationf("missing required argument %q", "entity")
	}
	t, ok := entity["type"].(string)
	if !ok || t == "" {
		return "", Validationf("entity.type must be a non-empty string")
	}
	return t, nil
}

func criterionSpecsFrom(args map[string]any) []upstream.CriterionSpec {
	descs := OptionalStringSlice(args, "criteria")
	if len(descs) == 0 {
		return nil
	}
	out := make([]upstream.CriterionSpec, 0, len(descs))
	for _, d := range descs {
		out = append(out, upstream.CriterionSpec{Description: d})
	}
	return out
}

func enrichmentSpecsFrom(args map[string]any) []upstream.EnrichmentSpec {
	raw := OptionalMapSlice(args, "enrichments")
	if len(raw) == 0 {
		return nil
	}
	out := make([]upstream.EnrichmentSpec, 0, len(raw))
	for _, m := range raw {
		spec := upstream.EnrichmentSpec{}
		if d, ok := m["description"].(string); ok {
			spec.Description = d
		}
		if f, ok := m["format"].(string); ok {
			spec.Format = f
		}
		if opts, ok := m["options"].([]any); ok {
			for _, o := range opts {
				if s, ok := o.(string); ok {
					spec.Options = append(spec.Options, upstream.Option{Label: s})
				}
			}
		}
		if spec.Description != "" {
			out = append(out, spec)
		}
	}
	return out
}
