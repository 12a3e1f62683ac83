package scheduler

import "time"

// Config defines the scheduler configuration.
type Config struct {
	// TickInterval is how often due tasks are checked. Cron resolution is one
	// minute, so anything other than a minute risks double or missed runs.
	TickInterval time.Duration
	// LockTimeout is passed to the device lock; zero uses the lock default.
	LockTimeout time.Duration
	// ResultMaxLen caps stored results, in characters.
	ResultMaxLen int
	// LogCapacity bounds the in-memory execution log.
	LogCapacity int
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		TickInterval: 60 * time.Second,
		ResultMaxLen: 500,
		LogCapacity:  100,
	}
}

func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.TickInterval <= 0 {
		out.TickInterval = d.TickInterval
	}
	if out.ResultMaxLen <= 0 {
		out.ResultMaxLen = d.ResultMaxLen
	}
	if out.LogCapacity <= 0 {
		out.LogCapacity = d.LogCapacity
	}
	return &out
}
