package core

import "time"

// Quiescence modes for the async operation tracker.
const (
	// QuiescencePolling polls the in-flight set with a grace tick and stops
	// after a run of idle rounds.
	QuiescencePolling = "polling"
	// QuiescenceLatch stops as soon as nothing is in flight and no timer is
	// armed.
	QuiescenceLatch = "latch"
)

// Config holds the per-run limits shared by every backend.
type Config struct {
	MemoryLimitMB     int           // per-guest heap limit, 0 for none
	ExecutionTimeout  time.Duration // wall clock budget for a whole run
	MaxFetchRequests  int           // fetch calls allowed per run
	MaxResponseBytes  int64         // reply bodies are truncated past this
	MaxConsoleEntries int           // console entries kept per run
	WarmPool          int           // guests created ahead of time

	Quiescence string        // QuiescencePolling or QuiescenceLatch
	GraceTick  time.Duration // polling tick
	IdleRounds int           // consecutive idle ticks before the drain stops
}

// WithDefaults fills zero fields with the library defaults.
func (c Config) WithDefaults() Config {
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = 30 * time.Second
	}
	if c.MaxFetchRequests <= 0 {
		c.MaxFetchRequests = 50
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = 10 * 1024 * 1024
	}
	if c.MaxConsoleEntries <= 0 {
		c.MaxConsoleEntries = MaxConsoleEntries
	}
	if c.Quiescence == "" {
		c.Quiescence = QuiescencePolling
	}
	if c.GraceTick <= 0 {
		c.GraceTick = 10 * time.Millisecond
	}
	if c.IdleRounds <= 0 {
		c.IdleRounds = 5
	}
	return c
}
