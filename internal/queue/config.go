package queue

import "time"

// Config holds configuration for the queue stores.
type Config struct {
	// Type selects the backend: "redis" (default) or "memory".
	Type      string `mapstructure:"type"`
	KeyPrefix string `mapstructure:"key_prefix"`
	// MaxAttempts bounds delivery attempts before a message is dead-lettered.
	MaxAttempts int `mapstructure:"max_attempts"`
	// RetrySchedule is an optional delay before each retry. Empty means
	// retries go straight back into the queue with a demoted score.
	RetrySchedule []time.Duration `mapstructure:"retry_schedule"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Type:        "redis",
		KeyPrefix:   "guestmsg",
		MaxAttempts: 3,
	}
}
