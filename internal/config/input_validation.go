package config

import (
	"fmt"
	"net/url"
	"unicode"
)

const (
	// MaxModelIDLength is the maximum allowed length for model identifiers
	MaxModelIDLength = 200

	// MaxNegativePromptLength is the maximum allowed negative prompt length
	MaxNegativePromptLength = 2000
)

// ValidateInputs performs additional security validation on user-controllable fields.
func (c *Config) ValidateInputs() error {
	for _, m := range []struct {
		key   string
		value string
	}{
		{"model_id", c.Provider.ModelID},
		{"preview_model_id", c.Provider.PreviewModelID},
	} {
		if err := validateModelID(m.value, m.key); err != nil {
			return err
		}
	}

	if err := validateBaseURL(c.Provider.BaseURL); err != nil {
		return err
	}

	if len(c.Generation.NegativePrompt) > MaxNegativePromptLength {
		return fmt.Errorf("generation.negative_prompt exceeds maximum length of %d (got %d)",
			MaxNegativePromptLength, len(c.Generation.NegativePrompt))
	}
	if containsControlChars(c.Generation.NegativePrompt) {
		return fmt.Errorf("generation.negative_prompt contains invalid control characters")
	}

	return nil
}

// validateModelID checks a model identifier for security issues
func validateModelID(modelID, configKey string) error {
	if len(modelID) > MaxModelIDLength {
		return fmt.Errorf("provider.%s exceeds maximum length of %d (got %d)",
			configKey, MaxModelIDLength, len(modelID))
	}

	if containsControlChars(modelID) {
		return fmt.Errorf("provider.%s contains invalid control characters", configKey)
	}

	return nil
}

// validateBaseURL checks that the base URL is properly formatted and safe
func validateBaseURL(baseURL string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("provider has invalid base_url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("provider.base_url must use http or https scheme (got %s)", u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("provider.base_url must have a host")
	}

	return nil
}

// containsControlChars checks if a string contains control characters
// (excluding newlines, tabs, and carriage returns which are acceptable)
func containsControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return true
		}
	}
	return false
}
