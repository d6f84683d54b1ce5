// Package retry implements exponential backoff with jitter for one attempt sequence.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Default backoff settings.
const (
	DefaultMaxRetries   = 3
	DefaultBaseDelay    = time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultJitterFactor = 0.1
)

// Config controls the backoff schedule.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the exponential delay before jitter is added.
	MaxDelay time.Duration
	// JitterFactor adds up to delay x JitterFactor of random extra wait.
	JitterFactor float64
	// OnRetry is called before each backoff sleep with the retry number (1-based) and the delay.
	OnRetry func(retry int, delay time.Duration)
}

// DefaultConfig returns the default backoff schedule.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   DefaultMaxRetries,
		BaseDelay:    DefaultBaseDelay,
		MaxDelay:     DefaultMaxDelay,
		JitterFactor: DefaultJitterFactor,
	}
}

func applyDefaults(cfg Config) Config {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.JitterFactor < 0 {
		cfg.JitterFactor = 0
	}
	return cfg
}

// Policy tracks the retries of a single row. It is not safe for concurrent use;
// create one per attempt sequence.
type Policy struct {
	cfg     Config
	attempt int
}

// New creates a policy with no retries spent.
func New(cfg Config) *Policy {
	return &Policy{cfg: applyDefaults(cfg)}
}

// ShouldRetry reports whether another retry is allowed.
func (p *Policy) ShouldRetry() bool {
	return p.attempt < p.cfg.MaxRetries
}

// Attempt returns the number of retries already waited for.
func (p *Policy) Attempt() int {
	return p.attempt
}

// Delay computes min(BaseDelay x 2^attempt, MaxDelay) plus up to JitterFactor of it.
func (p *Policy) Delay() time.Duration {
	delay := float64(p.cfg.BaseDelay) * math.Pow(2, float64(p.attempt)) //nolint:mnd // exponential base
	delay = min(delay, float64(p.cfg.MaxDelay))

	if p.cfg.JitterFactor > 0 {
		delay += rand.Float64() * delay * p.cfg.JitterFactor //nolint:gosec // jitter does not need crypto rand
	}

	return time.Duration(delay)
}

// Wait sleeps for the next delay and counts the retry.
func (p *Policy) Wait(ctx context.Context) error {
	return p.sleep(ctx, p.Delay())
}

// WaitAtLeast sleeps for the next delay, or for hint if it is longer. The hint is
// capped at MaxDelay so a provider cannot stall a row indefinitely.
func (p *Policy) WaitAtLeast(ctx context.Context, hint time.Duration) error {
	return p.sleep(ctx, max(p.Delay(), min(hint, p.cfg.MaxDelay)))
}

// Reset forgets every retry spent so far.
func (p *Policy) Reset() {
	p.attempt = 0
}

func (p *Policy) sleep(ctx context.Context, delay time.Duration) error {
	p.attempt++
	if p.cfg.OnRetry != nil {
		p.cfg.OnRetry(p.attempt, delay)
	}

	timer := time.NewTimer(delay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
