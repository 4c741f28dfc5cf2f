package server

import (
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/54b3r/tixrag/internal/logging"
)

const (
	// defaultRateLimit is the sustained per-client rate on the embedding and
	// generation endpoints, in requests per second.
	defaultRateLimit = 10
	// defaultRateBurst is the per-client bucket size.
	defaultRateBurst = 20
	// clientIdleTTL is how long an idle client's bucket is kept.
	clientIdleTTL = 5 * time.Minute
	// sweepInterval is how often idle buckets are swept.
	sweepInterval = time.Minute
)

// errRateLimited is reported to clients whose bucket is empty.
var errRateLimited = errors.New("rate limit exceeded")

// clientBucket is one client's token bucket plus its last use.
type clientBucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// rateLimiter guards the endpoints that spend embedding or model calls.
// Each client address gets its own bucket; buckets idle for clientIdleTTL
// are dropped by a background sweep.
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket

	rps   rate.Limit
	burst int
	log   *slog.Logger

	// rejected counts 429 responses by handler. May be nil.
	rejected *prometheus.CounterVec
}

// newRateLimiter starts a rateLimiter. The returned func stops the sweep.
func newRateLimiter(rps float64, burst int, log *slog.Logger, rejected *prometheus.CounterVec) (*rateLimiter, func()) {
	rl := &rateLimiter{
		clients:  make(map[string]*clientBucket),
		rps:      rate.Limit(rps),
		burst:    burst,
		log:      log,
		rejected: rejected,
	}

	done := make(chan struct{})
	go rl.sweepLoop(done)

	var once sync.Once
	return rl, func() { once.Do(func() { close(done) }) }
}

// bucket returns the limiter for client, creating it on first use.
func (rl *rateLimiter) bucket(client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.clients[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[client] = b
	}
	b.lastUsed = time.Now()
	return b.limiter
}

func (rl *rateLimiter) sweepLoop(done <-chan struct{}) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			rl.sweep(now)
		}
	}
}

// sweep drops buckets not used since now-clientIdleTTL and returns how
// many were dropped.
func (rl *rateLimiter) sweep(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-clientIdleTTL)
	dropped := 0
	for client, b := range rl.clients {
		if b.lastUsed.Before(cutoff) {
			delete(rl.clients, client)
			dropped++
		}
	}
	return dropped
}

// admit reserves a token for client. When none is available it returns the
// wait until one would be, and the reservation is released.
func (rl *rateLimiter) admit(client string) (time.Duration, bool) {
	res := rl.bucket(client).Reserve()
	if !res.OK() {
		return time.Second, false
	}
	delay := res.Delay()
	if delay == 0 {
		return 0, true
	}
	res.Cancel()
	return delay, false
}

// middleware applies the limit to next. Rejected requests get a 429 with a
// JSON body and a Retry-After rounded up to whole seconds.
func (rl *rateLimiter) middleware(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		wait, ok := rl.admit(client)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		if rl.rejected != nil {
			rl.rejected.WithLabelValues(handler).Inc()
		}
		logging.FromContext(r.Context()).Warn("rate limit exceeded",
			slog.String("client", client),
			slog.String(labelHandler, handler),
			slog.Duration("retry_after", wait),
		)
		w.Header().Set("Retry-After", retryAfterSeconds(wait))
		writeJSON(w, r, http.StatusTooManyRequests, errorResponse{Error: errRateLimited.Error()})
	})
}

// retryAfterSeconds renders d for the Retry-After header, never below 1.
func retryAfterSeconds(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

// clientIP returns the host part of RemoteAddr. X-Forwarded-For is ignored;
// the server is meant to sit on a trusted network without a proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
