package workflows

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lenslabs/webset-engine/pkg/projection"
	"github.com/lenslabs/webset-engine/pkg/upstream"
)

func TestResearchDeep(t *testing.T) {
	client := newFakeClient()
	client.researchOutput = func(req *upstream.CreateResearchRequest) *upstream.ResearchOutput {
		return &upstream.ResearchOutput{Parsed: map[string]any{"verdict": "holds"}}
	}
	rt := newTestRuntime(t, client)
	taskID := newTestTask(t, rt, "research.deep")

	result, err := ResearchDeep(context.Background(), rt, taskID, map[string]any{
		"instructions": "survey the field",
		"model":        "exa-research",
	})
	require.NoError(t, err)
	out := result.(map[string]any)

	assert.NotEmpty(t, out["researchId"])
	assert.Equal(t, upstream.ResearchStatusCompleted, out["status"])
	assert.Equal(t, "exa-research", out["model"])

	summary := out["result"].(projection.ResearchSummary)
	assert.Equal(t, map[string]any{"verdict": "holds"}, summary.Result)
}

func TestResearchDeepRequiresInstructions(t *testing.T) {
	client := newFakeClient()
	rt := newTestRuntime(t, client)
	taskID := newTestTask(t, rt, "research.deep")

	_, err := ResearchDeep(context.Background(), rt, taskID, map[string]any{})
	require.Error(t, err)
	se, ok := IsStepError(err)
	require.True(t, ok)
	assert.Equal(t, "validate", se.Step)
}

func TestExpandItemTemplate(t *testing.T) {
	item := projection.Item{Name: "Acme", URL: "https://acme.test", Description: "anvils"}
	got := expandItemTemplate("Research {{name}} ({{url}}): {{description}}", item)
	assert.Equal(t, "Research Acme (https://acme.test): anvils", got)
}

func TestVerifiedCollectionResearchesItems(t *testing.T) {
	client := newFakeClient()
	client.itemsForQuery = map[string][]upstream.WebsetItem{
		"robotics startups": {
			companyItem("i1", "Alpha", "https://alpha.test"),
			companyItem("i2", "Beta", "https://beta.test"),
			companyItem("i3", "Gamma", "https://gamma.test"),
		},
	}
	rt := newTestRuntime(t, client)
	taskID := newTestTask(t, rt, "research.verifiedCollection")

	result, err := VerifiedCollection(context.Background(), rt, taskID, map[string]any{
		"query":            "robotics startups",
		"entity":           map[string]any{"type": "company"},
		"researchTemplate": "Deep dive on {{name}}",
		"researchLimit":    float64(2),
	})
	require.NoError(t, err)
	out := result.(map[string]any)

	assert.Equal(t, 3, out["itemCount"])
	researched := out["researched"].([]itemResearch)
	require.Len(t, researched, 2, "bounded by researchLimit")
	assert.Equal(t, 0, out["researchFailures"])

	for _, r := range researched {
		require.NotNil(t, r.Research)
		assert.Empty(t, r.Error)
	}

	// Prompts were expanded per item.
	client.mu.Lock()
	defer client.mu.Unlock()
	seen := make([]string, 0, len(client.researches))
	for _, res := range client.researches {
		seen = append(seen, res.Instructions)
	}
	assert.Contains(t, strings.Join(seen, "\n"), "Deep dive on Alpha")
}

func TestVerifiedCollectionIsolatesResearchFailures(t *testing.T) {
	client := newFakeClient()
	client.itemsForQuery = map[string][]upstream.WebsetItem{
		"q": {companyItem("i1", "Alpha", "https://alpha.test")},
	}
	client.researchErr = errors.New("research backend down")
	rt := newTestRuntime(t, client)
	taskID := newTestTask(t, rt, "research.verifiedCollection")

	result, err := VerifiedCollection(context.Background(), rt, taskID, map[string]any{
		"query":            "q",
		"entity":           map[string]any{"type": "company"},
		"researchTemplate": "{{name}}",
	})
	require.NoError(t, err, "per-item research failures never fail the task")
	out := result.(map[string]any)

	assert.Equal(t, 1, out["researchFailures"])
	researched := out["researched"].([]itemResearch)
	require.Len(t, researched, 1)
	assert.Contains(t, researched[0].Error, "create research")
	assert.Equal(t, "Alpha", researched[0].Item.Name, "webset-side data is kept")
}
