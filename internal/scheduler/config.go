package scheduler

import (
	"time"
)

// Config controls scheduler intervals and batch limits.
type Config struct {
	RunInterval time.Duration
	LockTTL     time.Duration
	// EnabledJobs restricts which jobs this instance runs. Empty means all.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		LockTTL:     5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}

func ProvideConfig() Config {
	return DefaultConfig()
}
