package embed

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited is an Embedder decorator throttling provider calls to a
// requests-per-minute budget. One token is spent per inner Embed call, so
// batching still pays off.
type RateLimited struct {
	inner   Embedder
	limiter *rate.Limiter
}

// NewRateLimited wraps inner with an rpm requests/minute limiter.
// rpm <= 0 disables throttling.
func NewRateLimited(inner Embedder, rpm int) *RateLimited {
	var limiter *rate.Limiter
	if rpm > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	}
	return &RateLimited{inner: inner, limiter: limiter}
}

// Dimension returns the inner embedder's dimension.
func (r *RateLimited) Dimension() int { return r.inner.Dimension() }

// Embed waits for the limiter (respecting ctx cancellation) and delegates.
func (r *RateLimited) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return r.inner.Embed(ctx, texts)
}
