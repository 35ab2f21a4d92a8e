package pipeline

import (
	"time"

	"github.com/smallbiznis/catalogue/internal/config"
)

// Config controls the run loop and the run lock.
type Config struct {
	RunInterval time.Duration
	LockKey     string
	LockTTL     time.Duration
	// PreloadDirectory loads the establishment directory in memory once per
	// match phase instead of querying it per candidate.
	PreloadDirectory bool
}

func DefaultConfig() Config {
	return Config{
		RunInterval:      24 * time.Hour,
		LockKey:          "catalogue:pipeline",
		LockTTL:          6 * time.Hour,
		PreloadDirectory: true,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.LockKey == "" {
		c.LockKey = defaults.LockKey
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:      cfg.ScheduleEvery,
		PreloadDirectory: cfg.DirectoryPreload,
	}.withDefaults()
}
