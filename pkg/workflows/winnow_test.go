package workflows

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lenslabs/webset-engine/pkg/upstream"
)

// winnowItem builds an item with criterion verdicts and a single completed
// number enrichment carrying its fitness.
func winnowItem(id string, verdicts []string, fitness float64) upstream.WebsetItem {
	item := companyItem(id, "Co "+id, "https://"+id+".test")
	for i, v := range verdicts {
		item.Evaluations = append(item.Evaluations, upstream.Evaluation{
			Criterion: fmt.Sprintf("criterion %d", i+1),
			Satisfied: v,
		})
	}
	item.Enrichments = []upstream.EnrichmentResult{{
		EnrichmentID: "enr_fit",
		Format:       "number",
		Status:       upstream.EnrichmentStatusCompleted,
		Result:       []string{fmt.Sprintf("%g", fitness)},
	}}
	return item
}

func seedWinnowWebset(client *fakeClient, items []upstream.WebsetItem) string {
	client.websets["ws_seed"] = &upstream.Webset{
		ID:     "ws_seed",
		Status: upstream.WebsetStatusIdle,
		Searches: []upstream.Search{{
			Query:  "seed",
			Status: "completed",
			Criteria: []upstream.Criterion{
				{Description: "criterion 1"},
				{Description: "criterion 2"},
			},
			Progress: upstream.SearchProgress{Found: len(items), Analyzed: len(items) * 2},
		}},
		Enrichments: []upstream.Enrichment{{ID: "enr_fit", Description: "score", Format: "number"}},
	}
	client.items["ws_seed"] = items
	return "ws_seed"
}

func TestWinnowDiverseSelection(t *testing.T) {
	client := newFakeClient()
	websetID := seedWinnowWebset(client, []upstream.WebsetItem{
		winnowItem("a", []string{"yes", "yes"}, 5),
		winnowItem("b", []string{"yes", "no"}, 8),
		winnowItem("c", []string{"yes", "no"}, 12),
		winnowItem("d", []string{"no", "yes"}, 3),
	})
	rt := newTestRuntime(t, client)
	taskID := newTestTask(t, rt, "qd.winnow")

	result, err := Winnow(context.Background(), rt, taskID, map[string]any{
		"websetId": websetID,
		"strategy": "diverse",
	})
	require.NoError(t, err)
	out := result.(map[string]any)

	elites := out["elites"].([]Elite)
	require.Len(t, elites, 3, "one elite per populated niche")

	byNiche := make(map[string]Elite)
	for _, e := range elites {
		byNiche[e.Niche] = e
	}
	require.Contains(t, byNiche, "1,0")
	assert.Equal(t, "c", byNiche["1,0"].Item.ID, "highest fitness wins the niche")
	assert.InDelta(t, 12, byNiche["1,0"].Fitness, 1e-9)

	metrics := out["metrics"].(WinnowMetrics)
	assert.InDelta(t, 0.75, metrics.Coverage, 1e-9, "3 of 4 niches populated")
	assert.InDelta(t, 0.5, metrics.Stringency, 1e-9)
}

func TestWinnowNicheStringShape(t *testing.T) {
	client := newFakeClient()
	websetID := seedWinnowWebset(client, []upstream.WebsetItem{
		winnowItem("a", []string{"yes", "unclear"}, 1),
		// No evaluations at all still classifies, as the zero vector.
		companyItem("b", "Bare Co", "https://bare.test"),
	})
	rt := newTestRuntime(t, client)
	taskID := newTestTask(t, rt, "qd.winnow")

	result, err := Winnow(context.Background(), rt, taskID, map[string]any{
		"websetId": websetID,
		"strategy": "diverse",
	})
	require.NoError(t, err)
	out := result.(map[string]any)

	for niche := range out["nicheCounts"].(map[string]int) {
		parts := strings.Split(niche, ",")
		assert.Len(t, parts, 2, "niche length equals criteria count")
		for _, p := range parts {
			assert.Contains(t, []string{"0", "1"}, p)
		}
	}
}

func TestWinnowStrategies(t *testing.T) {
	client := newFakeClient()
	websetID := seedWinnowWebset(client, []upstream.WebsetItem{
		winnowItem("all", []string{"yes", "yes"}, 4),
		winnowItem("some", []string{"yes", "no"}, 9),
		winnowItem("none", []string{"no", "no"}, 7),
	})
	rt := newTestRuntime(t, client)

	t.Run("all-criteria", func(t *testing.T) {
		taskID := newTestTask(t, rt, "qd.winnow")
		result, err := Winnow(context.Background(), rt, taskID, map[string]any{
			"websetId": websetID,
			"strategy": "all-criteria",
		})
		require.NoError(t, err)
		elites := result.(map[string]any)["elites"].([]Elite)
		require.Len(t, elites, 1)
		assert.Equal(t, "all", elites[0].Item.ID)
	})

	t.Run("any-criteria", func(t *testing.T) {
		taskID := newTestTask(t, rt, "qd.winnow")
		result, err := Winnow(context.Background(), rt, taskID, map[string]any{
			"websetId": websetID,
			"strategy": "any-criteria",
		})
		require.NoError(t, err)
		elites := result.(map[string]any)["elites"].([]Elite)
		require.Len(t, elites, 2, "the zero vector is excluded")
		assert.Equal(t, "some", elites[0].Item.ID, "ordered by fitness desc")
	})

	t.Run("unknown strategy", func(t *testing.T) {
		taskID := newTestTask(t, rt, "qd.winnow")
		_, err := Winnow(context.Background(), rt, taskID, map[string]any{
			"websetId": websetID,
			"strategy": "best-effort",
		})
		require.Error(t, err)
	})
}

func TestWinnowDiversityBounds(t *testing.T) {
	client := newFakeClient()
	// Uniform distribution over all four niches maximizes entropy.
	websetID := seedWinnowWebset(client, []upstream.WebsetItem{
		winnowItem("a", []string{"yes", "yes"}, 1),
		winnowItem("b", []string{"yes", "no"}, 1),
		winnowItem("c", []string{"no", "yes"}, 1),
		winnowItem("d", []string{"no", "no"}, 1),
	})
	rt := newTestRuntime(t, client)
	taskID := newTestTask(t, rt, "qd.winnow")

	result, err := Winnow(context.Background(), rt, taskID, map[string]any{
		"websetId": websetID,
		"strategy": "diverse",
	})
	require.NoError(t, err)
	metrics := result.(map[string]any)["metrics"].(WinnowMetrics)

	assert.InDelta(t, 1.0, metrics.Coverage, 1e-9)
	assert.InDelta(t, 1.0, metrics.Diversity, 1e-9, "uniform niches give maximal diversity")
	assert.False(t, math.IsNaN(metrics.Diversity))
}

func TestWinnowFitnessScoring(t *testing.T) {
	assert.InDelta(t, 120, enrichmentScore(upstream.EnrichmentResult{
		Format: "number", Result: []string{"120"},
	}), 1e-9)
	assert.InDelta(t, 1200, enrichmentScore(upstream.EnrichmentResult{
		Format: "number", Result: []string{"$1,200"},
	}), 1e-9)
	assert.Zero(t, enrichmentScore(upstream.EnrichmentResult{
		Format: "number", Result: []string{"n/a"},
	}))
	assert.InDelta(t, 1, enrichmentScore(upstream.EnrichmentResult{
		Format: "text", Result: []string{"present"},
	}), 1e-9)
	assert.Zero(t, enrichmentScore(upstream.EnrichmentResult{Format: "text"}))

	// Pending enrichments are excluded from the mean entirely.
	assert.InDelta(t, 10, itemFitness([]upstream.EnrichmentResult{
		{Format: "number", Status: upstream.EnrichmentStatusCompleted, Result: []string{"10"}},
		{Format: "number", Status: upstream.EnrichmentStatusPending, Result: []string{"99"}},
	}), 1e-9)
	assert.Zero(t, itemFitness(nil))
}

func TestWinnowDescriptorFeedback(t *testing.T) {
	rate := func(v float64) *float64 { return &v }
	ws := &upstream.Webset{
		Searches: []upstream.Search{{
			Criteria: []upstream.Criterion{
				{Description: "too strict", SuccessRate: rate(2)},
				{Description: "useless", SuccessRate: rate(99)},
				{Description: "good", SuccessRate: rate(40)},
				{Description: "no data"},
			},
		}},
	}

	fb := criterionFeedback(ws)
	require.Len(t, fb, 4)
	assert.Equal(t, "too-strict", fb[0].Label)
	assert.Equal(t, "not-discriminating", fb[1].Label)
	assert.Equal(t, "good-discriminator", fb[2].Label)
	assert.Equal(t, "unknown", fb[3].Label)
}

func TestWinnowRequiresSource(t *testing.T) {
	client := newFakeClient()
	rt := newTestRuntime(t, client)
	taskID := newTestTask(t, rt, "qd.winnow")

	_, err := Winnow(context.Background(), rt, taskID, map[string]any{"strategy": "diverse"})
	require.Error(t, err)
	se, ok := IsStepError(err)
	require.True(t, ok)
	assert.Equal(t, "validate", se.Step)
}
