package embedder

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/54b3r/tixrag/internal/rag"
	"github.com/54b3r/tixrag/internal/retry"
)

// Resilient wraps a rag.Embedder with client-side throttling and bounded
// retries. Each Embed call waits for a limiter token before every attempt.
type Resilient struct {
	inner   rag.Embedder
	policy  retry.Policy
	limiter *rate.Limiter
}

// NewResilient wraps inner. rps <= 0 disables throttling.
func NewResilient(inner rag.Embedder, policy retry.Policy, rps float64) *Resilient {
	r := &Resilient{inner: inner, policy: policy}
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return r
}

// Embed delegates to the wrapped embedder under the retry policy.
func (r *Resilient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := retry.Do(ctx, r.policy, "embed", func(ctx context.Context) error {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return limiterError(ctx, err)
			}
		}
		v, err := r.inner.Embed(ctx, texts)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// limiterError reports a failed limiter wait as a context error. Wait
// refuses up front, without waiting, when the next token falls after the
// deadline; that is still a deadline miss.
func limiterError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("embedder: rate limiter: %w", ctxErr)
	}
	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("embedder: rate limiter: %w: %w", context.DeadlineExceeded, err)
	}
	return fmt.Errorf("embedder: rate limiter: %w", err)
}
