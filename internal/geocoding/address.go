package geocoding

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/UnknownOlympus/cartograph/internal/models"
	"github.com/UnknownOlympus/cartograph/internal/taxonomy"
)

// DefaultTimeout bounds a single provider call when none is configured.
const DefaultTimeout = 10 * time.Second

// prepareQuery formats addr for a provider, rejecting addresses that cannot be
// geocoded before any request is made.
func prepareQuery(provider string, addr models.Address) (string, error) {
	if !addr.Sufficient() {
		return "", taxonomy.Validation(provider, taxonomy.ReasonInsufficientAddress)
	}

	return addr.Format(), nil
}

func checkCoordinates(provider string, lat, lng float64) error {
	if !models.ValidCoordinates(lat, lng) {
		return taxonomy.Validation(provider, taxonomy.ReasonInvalidCoordinates)
	}

	return nil
}

// withTimeout bounds a single call. The caller must keep the parent context to
// tell a cancelled job apart from a slow provider.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return context.WithTimeout(ctx, timeout)
}

// acquire waits for a rate-limit token of the provider.
func acquire(ctx context.Context, provider string, limiter Limiter) error {
	if limiter == nil {
		return nil
	}
	if err := limiter.Acquire(ctx); err != nil {
		return transportFailure(ctx, provider, err)
	}

	return nil
}

// transportFailure classifies an error raised before a response was received.
// parent is the caller's context, not the per-call one.
func transportFailure(parent context.Context, provider string, err error) *taxonomy.Error {
	if errors.Is(parent.Err(), context.Canceled) {
		cancelled := taxonomy.Cancelled()
		cancelled.Provider = provider
		cancelled.Err = err
		return cancelled
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return taxonomy.Network(provider, "Request timed out", err)
	}

	return taxonomy.Network(provider, "Network error", err)
}
