package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// pingable is any dependency with its own health check.
type pingable interface {
	Ping(ctx context.Context) error
}

// StorePinger checks a record store through its own Ping method.
// It satisfies the Pinger interface and is used by GET /api/ready.
type StorePinger struct {
	// store is the dependency to ping.
	store pingable
	// name identifies the backend in readiness responses (e.g. "sqlite").
	name string
}

// NewStorePinger constructs a StorePinger for any store exposing Ping.
func NewStorePinger(name string, store pingable) *StorePinger {
	return &StorePinger{store: store, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *StorePinger) Name() string { return p.name }

// Ping calls the store's own health check.
func (p *StorePinger) Ping(ctx context.Context) error {
	if err := p.store.Ping(ctx); err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}
	return nil
}

// HTTPPinger checks a remote service with a GET request that costs no
// tokens, e.g. Ollama's /api/tags. Any 2xx response counts as healthy.
type HTTPPinger struct {
	// url is the endpoint to GET.
	url string
	// name identifies the service in readiness responses.
	name string
	// client issues the ping request.
	client *http.Client
}

// NewHTTPPinger constructs an HTTPPinger for url.
func NewHTTPPinger(name, url string) *HTTPPinger {
	return &HTTPPinger{url: url, name: name, client: &http.Client{Timeout: pingTimeout}}
}

// Name returns the service label used in readiness responses.
func (p *HTTPPinger) Name() string { return p.name }

// Ping issues the GET request and checks the status code.
func (p *HTTPPinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ping failed after %s: %w", time.Since(start).Round(time.Millisecond), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("ping returned HTTP %d", resp.StatusCode)
	}
	return nil
}
