package workflows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lenslabs/webset-engine/pkg/projection"
	"github.com/lenslabs/webset-engine/pkg/upstream"
)

func init() {
	MustRegister("research.deep", ResearchDeep)
	MustRegister("research.verifiedCollection", VerifiedCollection)
}

// ResearchDeep dispatches a single deep-research job upstream and waits for
// it to finish within the step timeout.
func ResearchDeep(ctx context.Context, rt *Runtime, taskID string, args map[string]any) (any, error) {
	steps := NewStepTracker(rt.Store, taskID, 2)
	steps.Begin("validate")

	instructions, err := RequireString(args, "instructions")
	if err != nil {
		return nil, err
	}
	model := OptionalString(args, "model", "")
	timeout := StepTimeout(args, rt.StepTimeout)

	steps.Begin("research")
	research, err := rt.Client.CreateResearch(ctx, &upstream.CreateResearchRequest{
		Instructions: instructions,
		Model:        model,
	})
	if err != nil {
		return nil, wrapStep("research", err)
	}
	_ = rt.Store.SetPartialResult(taskID, map[string]any{"researchId": research.ID})

	if Cancelled(rt.Store, taskID) {
		return nil, nil
	}

	final, err := rt.Client.PollResearch(ctx, research.ID, timeout)
	if err != nil {
		return nil, wrapStep("research", err)
	}
	steps.End()

	summary := projection.ProjectResearch(final)
	result := map[string]any{
		"researchId": final.ID,
		"status":     final.Status,
		"result":     summary,
		"duration":   steps.DurationMs(),
		"steps":      steps.Steps(),
	}
	if final.Model != "" {
		result["model"] = final.Model
	}
	if final.Status != upstream.ResearchStatusCompleted {
		result["timedOut"] = final.Status == upstream.ResearchStatusPending ||
			final.Status == upstream.ResearchStatusRunning
	}
	return result, nil
}

// itemResearch pairs a collected item with its deep-research outcome.
type itemResearch struct {
	Item       projection.Item             `json:"item"`
	ResearchID string                      `json:"researchId,omitempty"`
	Research   *projection.ResearchSummary `json:"research,omitempty"`
	Error      string                      `json:"error,omitempty"`
}

// VerifiedCollection builds a verified webset, then runs a deep-research job
// for each of the first researchLimit items with bounded concurrency. A
// failed per-item research does not fail the others or the task.
func VerifiedCollection(ctx context.Context, rt *Runtime, taskID string, args map[string]any) (any, error) {
	steps := NewStepTracker(rt.Store, taskID, 5)
	steps.Begin("validate")

	query, err := RequireString(args, "query")
	if err != nil {
		return nil, err
	}
	entityType, err := entityTypeFrom(args)
	if err != nil {
		return nil, err
	}
	template, err := RequireString(args, "researchTemplate")
	if err != nil {
		return nil, err
	}
	count := OptionalInt(args, "count", 10)
	researchLimit := OptionalInt(args, "researchLimit", 5)
	timeout := StepTimeout(args, rt.StepTimeout)

	owner := NewWebsetOwner(rt.Client, rt.Logger)

	steps.Begin("createWebset")
	ws, err := rt.Client.CreateWebset(ctx, &upstream.CreateWebsetRequest{
		Search: upstream.SearchSpec{
			Query:    query,
			Count:    count,
			Entity:   &upstream.EntitySpec{Type: entityType},
			Criteria: criterionSpecsFrom(args),
		},
		Enrichments: enrichmentSpecsFrom(args),
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

	if Cancelled(rt.Store, taskID) {
		owner.CancelAll(ctx)
		return nil, nil
	}

	steps.Begin("researchItems")
	limit := researchLimit
	if limit > len(projected) {
		limit = len(projected)
	}
	researched := make([]itemResearch, limit)

	concurrency := rt.ResearchConcurrency
	if concurrency <= 0 {
		concurrency = DefaultResearchConcurrency
	}
	sem := semaphore.NewWeighted(int64(concurrency))
	for i := 0; i < limit; i++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, wrapStep("researchItems", err)
		}
		go func(i int, item projection.Item) {
			defer sem.Release(1)
			researched[i] = researchItem(ctx, rt, template, item, timeout)
		}(i, projected[i])
	}
	// Drain to the full weight so every in-flight item has finished.
	if err := sem.Acquire(ctx, int64(concurrency)); err != nil {
		return nil, wrapStep("researchItems", err)
	}
	sem.Release(int64(concurrency))
	steps.End()

	failures := 0
	for _, r := range researched {
		if r.Error != "" {
			failures++
		}
	}

	result := map[string]any{
		"websetId":         ws.ID,
		"items":            projected,
		"itemCount":        len(projected),
		"researched":       researched,
		"researchedCount":  len(researched),
		"researchFailures": failures,
		"duration":         steps.DurationMs(),
		"steps":            steps.Steps(),
	}
	if pr.TimedOut {
		result["timedOut"] = true
	}
	return result, nil
}

// researchItem runs one item's deep-research job, capturing failure in the
// result rather than propagating it.
func researchItem(ctx context.Context, rt *Runtime, template string, item projection.Item, timeout time.Duration) itemResearch {
	out := itemResearch{Item: item}

	research, err := rt.Client.CreateResearch(ctx, &upstream.CreateResearchRequest{
		Instructions: expandItemTemplate(template, item),
	})
	if err != nil {
		out.Error = fmt.Sprintf("create research: %v", err)
		return out
	}
	out.ResearchID = research.ID

	final, err := rt.Client.PollResearch(ctx, research.ID, timeout)
	if err != nil {
		out.Error = fmt.Sprintf("poll research: %v", err)
		return out
	}
	summary := projection.ProjectResearch(final)
	out.Research = &summary
	if final.Status == upstream.ResearchStatusFailed {
		out.Error = "research failed upstream"
	}
	return out
}

// expandItemTemplate substitutes {{name}}, {{url}} and {{description}} in a
// per-item research prompt template.
func expandItemTemplate(template string, item projection.Item) string {
	r := strings.NewReplacer(
		"{{name}}", item.Name,
		"{{url}}", item.URL,
		"{{description}}", item.Description,
	)
	return r.Replace(template)
}
