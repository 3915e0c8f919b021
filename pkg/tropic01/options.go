package tropic01

import (
	"crypto/rand"
	"io"
	"time"
)

// L1 timing bounds.
const (
	TimeoutMin     = 5 * time.Millisecond
	TimeoutMax     = 150 * time.Millisecond
	TimeoutDefault = 70 * time.Millisecond

	ReadMaxTriesDefault = 50
	RetryDelayDefault   = 25 * time.Millisecond
	MaxResendsDefault   = 3
)

// config holds the device configuration.
type config struct {
	readMaxTries int
	retryDelay   time.Duration
	timeout      time.Duration
	maxResends   int
	rand         io.Reader
	metrics      *Metrics
	revision     Revision
}

func defaultConfig() config {
	return config{
		readMaxTries: ReadMaxTriesDefault,
		retryDelay:   RetryDelayDefault,
		timeout:      TimeoutDefault,
		maxResends:   MaxResendsDefault,
		rand:         rand.Reader,
	}
}

// Option is a functional option for configuring a Device.
type Option func(*config)

// WithReadMaxTries sets how many times an L1 read polls the chip before
// giving up with ErrChipBusy.
func WithReadMaxTries(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.readMaxTries = n
		}
	}
}

// WithRetryDelay sets the wait between L1 read polls.
func WithRetryDelay(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.retryDelay = d
		}
	}
}

// WithTimeout sets the per-transfer timeout handed to the port, clamped to
// TimeoutMin..TimeoutMax.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		switch {
		case d < TimeoutMin:
			c.timeout = TimeoutMin
		case d > TimeoutMax:
			c.timeout = TimeoutMax
		default:
			c.timeout = d
		}
	}
}

// WithMaxResends bounds RESEND requests and retransmissions per frame.
func WithMaxResends(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.maxResends = n
		}
	}
}

// WithRand replaces the entropy source used for ephemeral handshake keys.
//
// Example:
//
//	dev := tropic01.New(port, tropic01.WithRand(deterministicReader))
func WithRand(r io.Reader) Option {
	return func(c *config) {
		if r != nil {
			c.rand = r
		}
	}
}

// WithMetrics records protocol traffic on m.
func WithMetrics(m *Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithRevision pins the silicon revision instead of reading it from CHIP_ID.
func WithRevision(r Revision) Option {
	return func(c *config) {
		c.revision = r
	}
}
