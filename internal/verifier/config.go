package verifier

import (
	"time"

	"instrument-verification-service/pkg/errors"
)

// Config tunes dispatch rate and failure handling of verification attempts
type Config struct {
	// Stagger is the delay between consecutive dispatches of a batch
	Stagger time.Duration `json:"stagger" mapstructure:"stagger"`
	// Timeout bounds each attempt independently of the batch
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	// LockTTL is the lifetime of the distributed per-record lock
	LockTTL time.Duration `json:"lock_ttl" mapstructure:"lock_ttl"`
	// ProgressInterval throttles batch progress log lines
	ProgressInterval time.Duration `json:"progress_interval" mapstructure:"progress_interval"`
}

// DefaultConfig returns the production dispatch settings
func DefaultConfig() *Config {
	return &Config{
		Stagger:          200 * time.Millisecond,
		Timeout:          10 * time.Second,
		LockTTL:          30 * time.Second,
		ProgressInterval: 5 * time.Second,
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Stagger < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "verification.stagger", c.Stagger, nil).
			WithSuggestion("stagger must be zero or positive")
	}
	if c.Timeout <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "verification.timeout", c.Timeout, nil).
			WithSuggestion("timeout must be positive (e.g., 10s)")
	}
	if c.LockTTL > 0 && c.LockTTL < c.Timeout {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "verification.lock_ttl", c.LockTTL, nil).
			WithSuggestion("lock_ttl must not be shorter than the timeout")
	}
	return nil
}
