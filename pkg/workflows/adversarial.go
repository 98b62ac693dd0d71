package workflows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lenslabs/webset-engine/pkg/projection"
	"github.com/lenslabs/webset-engine/pkg/upstream"
)

func init() {
	MustRegister("adversarial.verify", AdversarialVerify)
}

// evidenceSet is one side of the adversarial pair.
type evidenceSet struct {
	WebsetID  string            `json:"websetId"`
	Query     string            `json:"query"`
	ItemCount int               `json:"itemCount"`
	Items     []projection.Item `json:"items"`
	TimedOut  bool              `json:"timedOut,omitempty"`
}

// AdversarialVerify runs two sequential searches, one hunting supporting
// evidence for a claim and one hunting disconfirming evidence, then
// optionally asks the upstream research API for a synthesis of both sides.
func AdversarialVerify(ctx context.Context, rt *Runtime, taskID string, args map[string]any) (any, error) {
	steps := NewStepTracker(rt.Store, taskID, 4)
	steps.Begin("validate")

	claim, err := RequireString(args, "claim")
	if err != nil {
		return nil, err
	}
	count := OptionalInt(args, "count", 10)
	synthesize := OptionalBool(args, "synthesize", true)
	timeout := StepTimeout(args, rt.StepTimeout)
	entityType := OptionalString(args, "entityType", "article")

	owner := NewWebsetOwner(rt.Client, rt.Logger)

	steps.Begin("searchSupporting")
	supporting, err := gatherEvidence(ctx, rt, taskID, owner,
		fmt.Sprintf("evidence supporting the claim: %s", claim),
		entityType, count, timeout)
	if err != nil {
		return nil, err
	}
	if supporting == nil {
		return nil, nil
	}

	if Cancelled(rt.Store, taskID) {
		owner.CancelAll(ctx)
		return nil, nil
	}

	steps.Begin("searchDisconfirming")
	disconfirming, err := gatherEvidence(ctx, rt, taskID, owner,
		fmt.Sprintf("evidence contradicting or disproving the claim: %s", claim),
		entityType, count, timeout)
	if err != nil {
		return nil, err
	}
	if disconfirming == nil {
		return nil, nil
	}

	result := map[string]any{
		"claim":         claim,
		"supporting":    supporting,
		"disconfirming": disconfirming,
	}

	if synthesize {
		if Cancelled(rt.Store, taskID) {
			owner.CancelAll(ctx)
			return nil, nil
		}
		steps.Begin("synthesize")
		research, err := rt.Client.CreateResearch(ctx, &upstream.CreateResearchRequest{
			Instructions: synthesisPrompt(claim, supporting, disconfirming),
		})
		if err != nil {
			return nil, wrapStep("synthesize", err)
		}
		final, err := rt.Client.PollResearch(ctx, research.ID, timeout)
		if err != nil {
			return nil, wrapStep("synthesize", err)
		}
		result["synthesis"] = projection.ProjectResearch(final)
	}
	steps.End()

	result["duration"] = steps.DurationMs()
	result["steps"] = steps.Steps()
	return result, nil
}

// gatherEvidence runs one create/poll/collect round. A nil set with nil
// error means the task was cancelled.
func gatherEvidence(ctx context.Context, rt *Runtime, taskID string, owner *WebsetOwner, query, entityType string, count int, timeout time.Duration) (*evidenceSet, error) {
	ws, err := rt.Client.CreateWebset(ctx, &upstream.CreateWebsetRequest{
		Search: upstream.SearchSpec{
			Query:  query,
			Count:  count,
			Entity: &upstream.EntitySpec{Type: entityType},
		},
	})
	if err != nil {
		return nil, wrapStep("createWebset", err)
	}
	owner.Own(ws.ID)
	_ = rt.Store.SetPartialResult(taskID, map[string]any{"websetIds": owner.IDs()})

	pr, err := PollUntilIdle(ctx, rt, taskID, ws.ID, PollOptions{Timeout: timeout, Owner: owner})
	if err != nil {
		return nil, err
	}
	if pr.Cancelled {
		return nil, nil
	}

	items, err := CollectItems(ctx, rt, ws.ID, ItemCap(count))
	if err != nil {
		return nil, err
	}

	descs := projection.EnrichmentDescriptions(pr.Webset)
	projected := make([]projection.Item, 0, len(items))
	for _, item := range items {
		projected = append(projected, projection.ProjectItem(item, descs))
	}

	return &evidenceSet{
		WebsetID:  ws.ID,
		Query:     query,
		ItemCount: len(projected),
		Items:     projected,
		TimedOut:  pr.TimedOut,
	}, nil
}

// synthesisPrompt is built deterministically from summaries of both item
// sets so repeated runs over identical evidence produce identical prompts.
func synthesisPrompt(claim string, supporting, disconfirming *evidenceSet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Evaluate the claim: %q\n\n", claim)
	b.WriteString("Supporting evidence:\n")
	writeEvidenceLines(&b, supporting.Items)
	b.WriteString("\nDisconfirming evidence:\n")
	writeEvidenceLines(&b, disconfirming.Items)
	b.WriteString("\nWeigh both sides and state whether the claim holds, with confidence and caveats.")
	return b.String()
}

func writeEvidenceLines(b *strings.Builder, items []projection.Item) {
	if len(items) == 0 {
		b.WriteString("- (none found)\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s (%s): %s\n", item.Name, item.URL, TruncateForPrompt(item.Description))
	}
}

// TruncateForPrompt bounds a description's contribution to a prompt.
func TruncateForPrompt(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
