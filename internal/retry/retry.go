// Package retry wraps remote calls (embedding and generation) in a bounded
// exponential-backoff policy built on github.com/cenkalti/backoff/v4.
//
// Environment variables:
//
//	RETRY_MAX_ATTEMPTS     = total attempts including the first (default: 3)
//	RETRY_INITIAL_INTERVAL = first backoff delay, Go duration (default: 500ms)
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/54b3r/tixrag/internal/logging"
)

const (
	// DefaultMaxAttempts is the number of attempts made when unset.
	DefaultMaxAttempts = 3
	// DefaultInitialInterval is the first backoff delay when unset.
	DefaultInitialInterval = 500 * time.Millisecond
	// DefaultMaxInterval caps any single backoff delay.
	DefaultMaxInterval = 10 * time.Second
)

// Policy bounds how often and how patiently an operation is retried.
// The zero value makes a single attempt.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialInterval is the delay before the second attempt; later delays
	// grow exponentially with jitter.
	InitialInterval time.Duration
	// MaxInterval caps a single delay.
	MaxInterval time.Duration
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
	}
}

// PolicyFromEnv reads RETRY_MAX_ATTEMPTS and RETRY_INITIAL_INTERVAL on top of
// DefaultPolicy. Unparseable values keep the default.
func PolicyFromEnv() Policy {
	p := DefaultPolicy()
	if v := os.Getenv("RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.MaxAttempts = n
		}
	}
	if v := os.Getenv("RETRY_INITIAL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			p.InitialInterval = d
		}
	}
	return p
}

// StatusError carries the HTTP status of a failed remote call so Do can tell
// transient failures from permanent ones.
type StatusError struct {
	// Code is the HTTP status code returned by the remote service.
	Code int
	// Err is the underlying error, usually carrying the provider's message.
	Err error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// RetryableStatus reports whether a remote call that failed with code is
// worth repeating: 408, 429 and every 5xx.
func RetryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

// Retryable reports whether err should be retried. Context errors and
// StatusErrors with a non-retryable code are permanent; everything else
// (transport failures, opaque provider errors) is treated as transient.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return RetryableStatus(se.Code)
	}
	return true
}

// Do runs op until it succeeds, returns a non-retryable error, the policy is
// exhausted, or ctx is done. The last error from op is returned; if ctx ends
// while waiting between attempts, ctx.Err() is returned instead.
func Do(ctx context.Context, p Policy, name string, op func(ctx context.Context) error) error {
	if p.MaxAttempts <= 1 {
		return op(ctx)
	}

	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = 0 // bounded by attempts, not wall time

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx) //nolint:gosec // MaxAttempts > 1 here

	log := logging.FromContext(ctx)
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx)
		if err != nil && !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		log.Warn("retry: attempt failed",
			slog.String("op", name),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
	})
}
