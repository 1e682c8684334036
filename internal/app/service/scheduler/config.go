package scheduler

import (
	"time"

	"github.com/fatflowers/tunnelbot/pkg/config"
)

// Config controls polling cadence, leasing and retry backoff.
type Config struct {
	WorkerID     string
	PollInterval time.Duration
	BatchSize    int
	LeaseTTL     time.Duration
	JobTimeout   time.Duration
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

func DefaultConfig() Config {
	return Config{
		WorkerID:     "worker",
		PollInterval: 5 * time.Second,
		BatchSize:    50,
		LeaseTTL:     5 * time.Minute,
		JobTimeout:   4 * time.Minute,
		BaseBackoff:  60 * time.Second,
		MaxBackoff:   15 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WorkerID == "" {
		c.WorkerID = d.WorkerID
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = d.LeaseTTL
	}
	if c.JobTimeout <= 0 || c.JobTimeout >= c.LeaseTTL {
		c.JobTimeout = c.LeaseTTL * 4 / 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = d.BaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	return c
}

func ProvideConfig(cfg *config.Config) Config {
	w := cfg.Worker
	return Config{
		WorkerID:     w.ID,
		PollInterval: w.PollInterval,
		BatchSize:    w.BatchSize,
		LeaseTTL:     w.LeaseTTL,
		JobTimeout:   w.JobTimeout,
		BaseBackoff:  w.BaseBackoff,
		MaxBackoff:   w.MaxBackoff,
	}.withDefaults()
}

// RetryDelay is the wait before the next attempt after attempts failures:
// base·2^attempts, capped at max.
func RetryDelay(attempts int, base, max time.Duration) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	d := base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
