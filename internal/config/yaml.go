package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// yamlOverrides is the optional config.yaml layer, loaded beneath env vars
// (env always wins) the way the teacher's config.yaml + .env layering works,
// narrowed to the knobs worth committing to a checked-in file rather than a
// per-deployment env var.
type yamlOverrides struct {
	Conversation struct {
		MaxTurns       *int `yaml:"max_turns"`
		MinTurns       *int `yaml:"min_turns"`
		TimeoutSeconds *int `yaml:"timeout_seconds"`
	} `yaml:"conversation"`
	RateLimit struct {
		RequestsPerMinute *int `yaml:"requests_per_minute"`
	} `yaml:"rate_limit"`
	Retry struct {
		MaxAttempts *int `yaml:"max_attempts"`
	} `yaml:"retry"`
}

// loadYAMLOverrides reads path if present and applies any set fields onto
// cfg. A missing file is not an error; a malformed one is.
func loadYAMLOverrides(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var y yamlOverrides
	if err := yaml.Unmarshal(data, &y); err != nil {
		return err
	}

	if v := y.Conversation.MaxTurns; v != nil {
		cfg.Conversation.MaxTurns = *v
	}
	if v := y.Conversation.MinTurns; v != nil {
		cfg.Conversation.MinTurns = *v
	}
	if v := y.Conversation.TimeoutSeconds; v != nil {
		cfg.Conversation.TimeoutSeconds = *v
	}
	if v := y.RateLimit.RequestsPerMinute; v != nil {
		cfg.RateLimit.RequestsPerMinute = *v
	}
	if v := y.Retry.MaxAttempts; v != nil {
		cfg.Retry.MaxAttempts = *v
	}
	return nil
}
