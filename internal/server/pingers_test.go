package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/54b3r/tixrag/internal/rag/ragtest"
)

func TestStorePinger(t *testing.T) {
	t.Parallel()

	healthy := NewStorePinger("memory", &ragtest.MemStore{})
	if err := healthy.Ping(context.Background()); err != nil {
		t.Errorf("healthy store Ping() = %v", err)
	}
	if healthy.Name() != "memory" {
		t.Errorf("Name() = %q", healthy.Name())
	}

	down := NewStorePinger("memory", &ragtest.MemStore{QueryErr: errors.New("connection refused")})
	if err := down.Ping(context.Background()); err == nil {
		t.Error("failing store Ping() = nil, want error")
	}
}

func TestHTTPPinger(t *testing.T) {
	t.Parallel()

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ok.Close)

	cases := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"healthy", ok.URL + "/api/tags", false},
		{"non-2xx", ok.URL + "/missing", true},
		{"unreachable", "http://127.0.0.1:1/api/tags", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := NewHTTPPinger("ollama", tc.url).Ping(context.Background())
			if (err != nil) != tc.wantErr {
				t.Errorf("Ping() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
