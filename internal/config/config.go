package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lamim/previz/internal/world"
	"github.com/lamim/previz/pkg/models"
)

// Config represents the complete application configuration
type Config struct {
	Provider   ProviderConfig          `toml:"provider"`
	Polling    PollingConfig           `toml:"polling"`
	Retry      RetryConfig             `toml:"retry"`
	Batch      BatchConfig             `toml:"batch"`
	Generation models.GenerationParams `toml:"generation"`
	Prompts    PromptsConfig           `toml:"prompts"`
	Output     OutputConfig            `toml:"output"`
	Metrics    MetricsConfig           `toml:"metrics"`
}

// ProviderConfig describes the inference backend
type ProviderConfig struct {
	BaseURL                  string `toml:"base_url"`
	ModelID                  string `toml:"model_id"`
	PreviewModelID           string `toml:"preview_model_id"`             // Optional: faster model for previews (defaults to model_id)
	SubmitRateLimitPerMinute int    `toml:"submit_rate_limit_per_minute"` // 0 = unlimited
	StatusRateLimitPerMinute int    `toml:"status_rate_limit_per_minute"` // 0 = unlimited
	HTTPTimeoutSeconds       int    `toml:"http_timeout_seconds"`         // Per request, not per job (default 30)
}

// PollingConfig controls status polling of a single job
type PollingConfig struct {
	BaseIntervalSeconds float64 `toml:"base_interval_seconds"` // default 2
	GrowthFactor        float64 `toml:"growth_factor"`         // default 1.05
	MaxIntervalSeconds  float64 `toml:"max_interval_seconds"`  // default 5
	MaxAttempts         int     `toml:"max_attempts"`          // default 120
}

// RetryConfig controls whole-operation retries and watchdogs
type RetryConfig struct {
	MaxAttempts        int     `toml:"max_attempts"`         // default 3
	BaseDelaySeconds   float64 `toml:"base_delay_seconds"`   // default 2
	Multiplier         float64 `toml:"multiplier"`           // default 2
	MaxDelaySeconds    float64 `toml:"max_delay_seconds"`    // default 60
	MaxTotalAttempts   int     `toml:"max_total_attempts"`   // Optional: budget per public operation (0 = unbounded)
	StallWindowSeconds float64 `toml:"stall_window_seconds"` // default 90
	HardTimeoutSeconds float64 `toml:"hard_timeout_seconds"` // default 720
}

// BatchConfig controls world generation batches
type BatchConfig struct {
	Groups [][]string `toml:"groups"` // default [["front","back","left"],["right","up","down"]]
	// SettleDelayMs pauses between groups. 0 = default 500ms, -1 = no pause.
	SettleDelayMs int `toml:"settle_delay_ms"`
}

// PromptsConfig overrides the built-in prompt wording. Templates see
// {{.Prompt}}, {{.Direction}} and {{.Hint}}.
type PromptsConfig struct {
	Face    string `toml:"face"`
	Explore string `toml:"explore"`
}

// OutputConfig controls where sessions are written
type OutputConfig struct {
	Dir string `toml:"dir"` // default "output"
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Addr string `toml:"addr"` // empty = disabled
}

// Secrets holds sensitive credentials loaded from environment variables
type Secrets struct {
	APIKey string
}

const (
	// MaxPollAttempts bounds polling.max_attempts
	MaxPollAttempts = 10000
	// MaxRetryAttempts bounds retry.max_attempts
	MaxRetryAttempts = 20
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	if c.Provider.ModelID == "" {
		return fmt.Errorf("provider.model_id is required")
	}
	if c.Provider.SubmitRateLimitPerMinute < 0 || c.Provider.StatusRateLimitPerMinute < 0 {
		return fmt.Errorf("provider rate limits must not be negative")
	}
	if c.Provider.HTTPTimeoutSeconds < 0 {
		return fmt.Errorf("provider.http_timeout_seconds must not be negative")
	}

	p := c.Polling
	if p.BaseIntervalSeconds <= 0 {
		return fmt.Errorf("polling.base_interval_seconds must be positive (got %.2f)", p.BaseIntervalSeconds)
	}
	if p.GrowthFactor < 1 {
		return fmt.Errorf("polling.growth_factor must be at least 1 (got %.2f)", p.GrowthFactor)
	}
	if p.MaxIntervalSeconds < p.BaseIntervalSeconds {
		return fmt.Errorf("polling.max_interval_seconds (%.2f) must not be below base_interval_seconds (%.2f)",
			p.MaxIntervalSeconds, p.BaseIntervalSeconds)
	}
	if p.MaxAttempts < 1 || p.MaxAttempts > MaxPollAttempts {
		return fmt.Errorf("polling.max_attempts must be between 1 and %d (got %d)", MaxPollAttempts, p.MaxAttempts)
	}

	r := c.Retry
	if r.MaxAttempts < 1 || r.MaxAttempts > MaxRetryAttempts {
		return fmt.Errorf("retry.max_attempts must be between 1 and %d (got %d)", MaxRetryAttempts, r.MaxAttempts)
	}
	if r.BaseDelaySeconds < 0 {
		return fmt.Errorf("retry.base_delay_seconds must not be negative")
	}
	if r.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1 (got %.2f)", r.Multiplier)
	}
	if r.MaxDelaySeconds < r.BaseDelaySeconds {
		return fmt.Errorf("retry.max_delay_seconds must not be below base_delay_seconds")
	}
	if r.MaxTotalAttempts < 0 {
		return fmt.Errorf("retry.max_total_attempts must not be negative")
	}
	if r.StallWindowSeconds <= 0 || r.HardTimeoutSeconds <= 0 {
		return fmt.Errorf("retry.stall_window_seconds and retry.hard_timeout_seconds must be positive")
	}
	if r.StallWindowSeconds >= r.HardTimeoutSeconds {
		return fmt.Errorf("retry.stall_window_seconds (%.0f) must be shorter than hard_timeout_seconds (%.0f)",
			r.StallWindowSeconds, r.HardTimeoutSeconds)
	}
	// A healthy poll loop heartbeats once per interval
	if r.StallWindowSeconds <= p.MaxIntervalSeconds {
		return fmt.Errorf("retry.stall_window_seconds (%.0f) must exceed polling.max_interval_seconds (%.0f)",
			r.StallWindowSeconds, p.MaxIntervalSeconds)
	}

	if _, err := c.BatchPlan(); err != nil {
		return err
	}

	probe := models.GenerationRequest{Prompt: "probe", Params: c.Generation}
	if err := probe.Validate(); err != nil {
		return fmt.Errorf("generation: %w", err)
	}

	if _, err := c.PromptTemplates(); err != nil {
		return fmt.Errorf("prompts: %w", err)
	}
	return nil
}

// PromptTemplates compiles the configured prompt templates. nil means the
// built-in wording.
func (c *Config) PromptTemplates() (*world.Prompts, error) {
	return world.ParsePrompts(c.Prompts.Face, c.Prompts.Explore)
}

// PollPolicy derives the poll policy
func (c *Config) PollPolicy() models.PollPolicy {
	return models.PollPolicy{
		BaseInterval: seconds(c.Polling.BaseIntervalSeconds),
		GrowthFactor: c.Polling.GrowthFactor,
		MaxInterval:  seconds(c.Polling.MaxIntervalSeconds),
		MaxAttempts:  c.Polling.MaxAttempts,
	}
}

// RetryPolicy derives the retry policy
func (c *Config) RetryPolicy() models.RetryPolicy {
	return models.RetryPolicy{
		MaxAttempts:      c.Retry.MaxAttempts,
		BaseDelay:        seconds(c.Retry.BaseDelaySeconds),
		Multiplier:       c.Retry.Multiplier,
		MaxDelay:         seconds(c.Retry.MaxDelaySeconds),
		MaxTotalAttempts: c.Retry.MaxTotalAttempts,
		StallWindow:      seconds(c.Retry.StallWindowSeconds),
		HardTimeout:      seconds(c.Retry.HardTimeoutSeconds),
	}
}

// BatchPlan parses the configured groups. Every cube face must appear in
// exactly one group.
func (c *Config) BatchPlan() (models.BatchPlan, error) {
	if len(c.Batch.Groups) == 0 {
		return models.DefaultBatchPlan(), nil
	}
	seen := make(map[models.Direction]bool)
	plan := models.BatchPlan{Groups: make([][]models.Direction, 0, len(c.Batch.Groups))}
	for i, group := range c.Batch.Groups {
		if len(group) == 0 {
			return models.BatchPlan{}, fmt.Errorf("batch.groups[%d] is empty", i)
		}
		dirs := make([]models.Direction, 0, len(group))
		for _, name := range group {
			d, err := models.ParseDirection(name)
			if err != nil {
				return models.BatchPlan{}, fmt.Errorf("batch.groups[%d]: %w", i, err)
			}
			if !d.IsCanonical() {
				return models.BatchPlan{}, fmt.Errorf("batch.groups[%d]: %q is not a cube face", i, name)
			}
			if seen[d] {
				return models.BatchPlan{}, fmt.Errorf("batch.groups: %s listed more than once", d)
			}
			seen[d] = true
			dirs = append(dirs, d)
		}
		plan.Groups = append(plan.Groups, dirs)
	}
	if len(seen) != len(models.CanonicalDirections) {
		return models.BatchPlan{}, fmt.Errorf("batch.groups must cover all %d cube faces (got %d)",
			len(models.CanonicalDirections), len(seen))
	}
	return plan, nil
}

// SettleDelay returns the pause between batch groups
func (c *Config) SettleDelay() time.Duration {
	if c.Batch.SettleDelayMs < 0 {
		return 0
	}
	return time.Duration(c.Batch.SettleDelayMs) * time.Millisecond
}

// PreviewModel returns the model used for previews
func (c *Config) PreviewModel() string {
	if c.Provider.PreviewModelID != "" {
		return c.Provider.PreviewModelID
	}
	return c.Provider.ModelID
}

// HTTPTimeout returns the per-request HTTP timeout
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Provider.HTTPTimeoutSeconds) * time.Second
}

// LoadSecrets loads sensitive credentials from environment variables
func LoadSecrets() (*Secrets, error) {
	secrets := &Secrets{}

	// Provider-agnostic key wins over the Replicate-specific one
	for _, name := range []string{"PREVIZ_API_KEY", "REPLICATE_API_TOKEN"} {
		if key := strings.TrimSpace(os.Getenv(name)); key != "" {
			secrets.APIKey = key
			break
		}
	}

	return secrets, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
