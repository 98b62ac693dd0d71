package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("WEBSET_API_KEY", "test-key")
	t.Setenv("PORT", "9999")
	t.Setenv("WORKFLOW_RESEARCH_CONCURRENCY", "5")

	cfg, err := Load("v-test")
	require.NoError(t, err)

	assert.Equal(t, "v-test", cfg.Version)
	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, "test-key", cfg.Upstream.APIKey)
	assert.Equal(t, 5, cfg.Workflows.ResearchConcurrency)

	// Defaults fill in everything not overridden.
	assert.Equal(t, "127.0.0.1", cfg.BindAddr)
	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, 20, cfg.Tasks.MaxConcurrent)
}

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("WEBSET_API_KEY", "")

	_, err := Load("v-test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WEBSET_API_KEY")
}

func TestDurationHelpers(t *testing.T) {
	tasks := TaskConfig{TTLMinutes: 60, SweepIntervalMinutes: 5}
	assert.Equal(t, time.Hour, tasks.TaskTTL())
	assert.Equal(t, 5*time.Minute, tasks.SweepInterval())

	wf := WorkflowConfig{PollIntervalSeconds: 2, StepTimeoutSeconds: 300}
	assert.Equal(t, 2*time.Second, wf.PollInterval())
	assert.Equal(t, 5*time.Minute, wf.StepTimeout())

	up := UpstreamConfig{RequestTimeoutSeconds: 30}
	assert.Equal(t, 30*time.Second, up.RequestTimeout())
}
