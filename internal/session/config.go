package session

import (
	"fmt"
	"time"
)

// BackoffConfig defines reconnect backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines session timing and identity. The zero value is
// usable through WithDefaults.
type Config struct {
	// DeviceID pins scanning to one address. NamePrefix filters by
	// advertised name. With neither set the first candidate wins.
	DeviceID   string
	NamePrefix string

	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
	ResolveTimeout time.Duration

	// ResponseTimeout bounds one control round trip.
	ResponseTimeout time.Duration

	// Settle delays after the reserved signals; the protocol has no
	// post-signal acknowledgment, so these are load-bearing.
	BreakSettle time.Duration
	ResetSettle time.Duration

	Backoff BackoffConfig

	// OnState observes every successful transition. OnTelemetry
	// receives battery levels. OnConsole receives unsolicited plain
	// frames (peripheral print output). All may be nil and must not
	// block.
	OnState     func(old, new State)
	OnTelemetry func(level int)
	OnConsole   func(line string)
}

func DefaultConfig() Config {
	return Config{
		ScanTimeout:     10 * time.Second,
		ConnectTimeout:  10 * time.Second,
		ResolveTimeout:  5 * time.Second,
		ResponseTimeout: 1 * time.Second,
		BreakSettle:     200 * time.Millisecond,
		ResetSettle:     800 * time.Millisecond,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills unset fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = def.ScanTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = def.ResolveTimeout
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = def.ResponseTimeout
	}
	if c.BreakSettle <= 0 {
		c.BreakSettle = def.BreakSettle
	}
	if c.ResetSettle <= 0 {
		c.ResetSettle = def.ResetSettle
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}

func (c Config) Validate() error {
	if c.DeviceID != "" && c.NamePrefix != "" {
		return fmt.Errorf("session: DeviceID and NamePrefix are mutually exclusive")
	}
	for name, d := range map[string]time.Duration{
		"ScanTimeout":     c.ScanTimeout,
		"ConnectTimeout":  c.ConnectTimeout,
		"ResolveTimeout":  c.ResolveTimeout,
		"ResponseTimeout": c.ResponseTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("session: %s must not be negative", name)
		}
	}
	return nil
}
