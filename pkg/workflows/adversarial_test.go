package workflows

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lenslabs/webset-engine/pkg/projection"
	"github.com/lenslabs/webset-engine/pkg/upstream"
)

func articleItem(id, title, url string) upstream.WebsetItem {
	return upstream.WebsetItem{
		ID: id,
		Properties: upstream.ItemProperties{
			Type:    "article",
			URL:     url,
			Article: &upstream.ArticleProps{Title: title},
		},
	}
}

func TestAdversarialVerify(t *testing.T) {
	claim := "remote work increases productivity"
	client := newFakeClient()
	client.itemsForQuery = map[string][]upstream.WebsetItem{
		"evidence supporting the claim: " + claim: {
			articleItem("i1", "Productivity up 13%", "https://pro.test"),
		},
		"evidence contradicting or disproving the claim: " + claim: {
			articleItem("i2", "Output fell after going remote", "https://con.test"),
			articleItem("i3", "Collaboration costs of remote teams", "https://con2.test"),
		},
	}
	rt := newTestRuntime(t, client)
	taskID := newTestTask(t, rt, "adversarial.verify")

	result, err := AdversarialVerify(context.Background(), rt, taskID, map[string]any{
		"claim": claim,
	})
	require.NoError(t, err)
	out := result.(map[string]any)

	supporting := out["supporting"].(*evidenceSet)
	disconfirming := out["disconfirming"].(*evidenceSet)
	assert.Equal(t, 1, supporting.ItemCount)
	assert.Equal(t, 2, disconfirming.ItemCount)
	assert.NotEqual(t, supporting.WebsetID, disconfirming.WebsetID, "each side gets its own webset")

	synthesis := out["synthesis"].(projection.ResearchSummary)
	assert.Equal(t, "completed", synthesis.Status)
	assert.Equal(t, "synthesized findings", synthesis.Result)
}

func TestAdversarialVerifySkipsSynthesis(t *testing.T) {
	claim := "x"
	client := newFakeClient()
	client.itemsForQuery = map[string][]upstream.WebsetItem{
		"evidence supporting the claim: x":                  {},
		"evidence contradicting or disproving the claim: x": {},
	}
	rt := newTestRuntime(t, client)
	taskID := newTestTask(t, rt, "adversarial.verify")

	result, err := AdversarialVerify(context.Background(), rt, taskID, map[string]any{
		"claim":      claim,
		"synthesize": false,
	})
	require.NoError(t, err)
	out := result.(map[string]any)

	_, hasSynthesis := out["synthesis"]
	assert.False(t, hasSynthesis)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Empty(t, client.researches, "no research job is dispatched")
}

func TestAdversarialVerifyRequiresClaim(t *testing.T) {
	client := newFakeClient()
	rt := newTestRuntime(t, client)
	taskID := newTestTask(t, rt, "adversarial.verify")

	_, err := AdversarialVerify(context.Background(), rt, taskID, map[string]any{})
	require.Error(t, err)
	se, ok := IsStepError(err)
	require.True(t, ok)
	assert.Equal(t, "validate", se.Step)
}

func TestSynthesisPromptIsDeterministic(t *testing.T) {
	supporting := &evidenceSet{Items: []projection.Item{
		{Name: "A", URL: "https://a.test", Description: "short"},
	}}
	disconfirming := &evidenceSet{Items: nil}

	first := synthesisPrompt("claim", supporting, disconfirming)
	second := synthesisPrompt("claim", supporting, disconfirming)
	assert.Equal(t, first, second)

	assert.Contains(t, first, `Evaluate the claim: "claim"`)
	assert.Contains(t, first, "- A (https://a.test): short")
	assert.Contains(t, first, "- (none found)")
}

func TestTruncateForPrompt(t *testing.T) {
	assert.Equal(t, "short", TruncateForPrompt("short"))

	long := strings.Repeat("x", 300)
	got := TruncateForPrompt(long)
	assert.Len(t, got, 203)
	assert.True(t, strings.HasSuffix(got, "..."))
}
