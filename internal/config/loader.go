package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/lamim/previz/pkg/models"
)

// DefaultBaseURL is the prediction API used when none is configured
const DefaultBaseURL = "https://api.replicate.com/v1"

// DefaultModelID is the model used when none is configured
const DefaultModelID = "black-forest-labs/flux-schnell"

// Load reads and parses the configuration file and environment variables
func Load(configPath string) (*Config, *Secrets, error) {
	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, nil, err
	}

	// Load secrets from environment
	secrets, err := LoadSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	return cfg, secrets, nil
}

// Parse decodes, defaults and validates TOML configuration
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Additional input security validation
	if err := cfg.ValidateInputs(); err != nil {
		return nil, fmt.Errorf("input validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	// Provider defaults
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = DefaultBaseURL
	}
	if cfg.Provider.ModelID == "" {
		cfg.Provider.ModelID = DefaultModelID
	}
	if cfg.Provider.HTTPTimeoutSeconds == 0 {
		cfg.Provider.HTTPTimeoutSeconds = 30
	}

	// Polling defaults: 2s growing by 5% per query up to 5s, 120 queries
	if cfg.Polling.BaseIntervalSeconds == 0 {
		cfg.Polling.BaseIntervalSeconds = 2
	}
	if cfg.Polling.GrowthFactor == 0 {
		cfg.Polling.GrowthFactor = 1.05
	}
	if cfg.Polling.MaxIntervalSeconds == 0 {
		cfg.Polling.MaxIntervalSeconds = 5
	}
	if cfg.Polling.MaxAttempts == 0 {
		cfg.Polling.MaxAttempts = 120
	}

	// Retry defaults
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelaySeconds == 0 {
		cfg.Retry.BaseDelaySeconds = 2
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = 2
	}
	if cfg.Retry.MaxDelaySeconds == 0 {
		cfg.Retry.MaxDelaySeconds = 60
	}
	if cfg.Retry.StallWindowSeconds == 0 {
		cfg.Retry.StallWindowSeconds = 90
	}
	if cfg.Retry.HardTimeoutSeconds == 0 {
		cfg.Retry.HardTimeoutSeconds = 720 // 12 minutes
	}

	// Batch defaults
	// NOTE: In TOML, we can't distinguish 0 from unset, so:
	// - Unset (0) → 500ms
	// - Explicitly set to -1 → no pause
	if cfg.Batch.SettleDelayMs == 0 {
		cfg.Batch.SettleDelayMs = 500
	}

	// Generation defaults
	if cfg.Generation.GuidanceScale == 0 {
		cfg.Generation.GuidanceScale = 7.5
	}
	if cfg.Generation.Steps == 0 {
		cfg.Generation.Steps = 30
	}
	if cfg.Generation.Resolution == "" {
		cfg.Generation.Resolution = models.ResolutionHD
	}

	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "output"
	}
}
