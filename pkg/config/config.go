package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for webset-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (the upstream API key) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3456"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Upstream websets API configuration
	Upstream UpstreamConfig `yaml:"upstream"`

	// Task store configuration
	Tasks TaskConfig `yaml:"tasks"`

	// Workflow runtime configuration
	Workflows WorkflowConfig `yaml:"workflows"`
}

// UpstreamConfig holds websets API connection settings.
type UpstreamConfig struct {
	BaseURL string `yaml:"base_url" env:"WEBSET_API_BASE_URL" env-default:"https://api.websets.dev/v1"`
	// APIKey authenticates against the upstream. Secret - not in YAML.
	APIKey string `yaml:"-" env:"WEBSET_API_KEY"`
	// RequestTimeoutSeconds bounds a single upstream HTTP call.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" env:"WEBSET_REQUEST_TIMEOUT_SECONDS" env-default:"30"`
}

// TaskConfig holds task store lifecycle settings.
type TaskConfig struct {
	// TTLMinutes is how long terminal tasks are kept before the sweeper removes them.
	TTLMinutes int `yaml:"ttl_minutes" env:"TASK_TTL_MINUTES" env-default:"60"`
	// SweepIntervalMinutes is the cleanup cadence.
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes" env:"TASK_SWEEP_INTERVAL_MINUTES" env-default:"5"`
	// MaxConcurrent is the soft cap on non-terminal tasks.
	MaxConcurrent int `yaml:"max_concurrent" env:"TASK_MAX_CONCURRENT" env-default:"20"`
}

// WorkflowConfig holds workflow runtime defaults.
type WorkflowConfig struct {
	// PollIntervalSeconds is the webset refresh cadence while polling to idle.
	PollIntervalSeconds int `yaml:"poll_interval_seconds" env:"WORKFLOW_POLL_INTERVAL_SECONDS" env-default:"2"`
	// StepTimeoutSeconds is the default per-step deadline.
	StepTimeoutSeconds int `yaml:"step_timeout_seconds" env:"WORKFLOW_STEP_TIMEOUT_SECONDS" env-default:"300"`
	// ResearchConcurrency bounds parallel research calls in verified collection.
	ResearchConcurrency int `yaml:"research_concurrency" env:"WORKFLOW_RESEARCH_CONCURRENCY" env-default:"3"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Upstream.APIKey == "" {
		return fmt.Errorf("WEBSET_API_KEY must be set")
	}
	if c.Tasks.MaxConcurrent <= 0 {
		return fmt.Errorf("tasks.max_concurrent must be positive")
	}
	if c.Workflows.PollIntervalSeconds <= 0 {
		return fmt.Errorf("workflows.poll_interval_seconds must be positive")
	}
	return nil
}

// TaskTTL returns the terminal-task retention duration.
func (c *TaskConfig) TaskTTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// SweepInterval returns the cleanup cadence.
func (c *TaskConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

// PollInterval returns the webset refresh cadence.
func (c *WorkflowConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// StepTimeout returns the default per-step deadline.
func (c *WorkflowConfig) StepTimeout() time.Duration {
	return time.Duration(c.StepTimeoutSeconds) * time.Second
}

// RequestTimeout returns the single-call HTTP timeout.
func (c *UpstreamConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}
