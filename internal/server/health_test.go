package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// fakePinger reports err after sleeping for delay.
type fakePinger struct {
	name  string
	err   error
	delay time.Duration
}

func (f *fakePinger) Name() string { return f.name }

func (f *fakePinger) Ping(ctx context.Context) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func newReadyTestServer(pingers ...Pinger) *Server {
	s := newTestServer()
	s.pingers = pingers
	return s
}

func getReady(t *testing.T, s *Server) (int, readyResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	s.handleReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return w.Code, resp
}

func TestHandleHealth_OK(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	newTestServer().handleHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestHandleReady(t *testing.T) {
	t.Parallel()

	down := errors.New("connection refused")
	cases := []struct {
		name       string
		pingers    []Pinger
		wantStatus int
		wantOK     []bool
	}{
		{
			name:       "no dependencies",
			wantStatus: http.StatusOK,
			wantOK:     []bool{},
		},
		{
			name:       "all reachable",
			pingers:    []Pinger{&fakePinger{name: "ollama"}, &fakePinger{name: "sqlite"}},
			wantStatus: http.StatusOK,
			wantOK:     []bool{true, true},
		},
		{
			name:       "store down",
			pingers:    []Pinger{&fakePinger{name: "ollama"}, &fakePinger{name: "sqlite", err: down}},
			wantStatus: http.StatusServiceUnavailable,
			wantOK:     []bool{true, false},
		},
		{
			name:       "everything down",
			pingers:    []Pinger{&fakePinger{name: "ollama", err: down}, &fakePinger{name: "qdrant", err: down}},
			wantStatus: http.StatusServiceUnavailable,
			wantOK:     []bool{false, false},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			status, resp := getReady(t, newReadyTestServer(tc.pingers...))
			if status != tc.wantStatus {
				t.Errorf("status = %d, want %d", status, tc.wantStatus)
			}
			if resp.Ready != (tc.wantStatus == http.StatusOK) {
				t.Errorf("ready = %v", resp.Ready)
			}
			if len(resp.Checks) != len(tc.wantOK) {
				t.Fatalf("got %d checks, want %d", len(resp.Checks), len(tc.wantOK))
			}
			for i, c := range resp.Checks {
				if c.Name != tc.pingers[i].Name() {
					t.Errorf("check %d name = %q, want %q", i, c.Name, tc.pingers[i].Name())
				}
				if c.OK != tc.wantOK[i] {
					t.Errorf("check %q ok = %v, want %v", c.Name, c.OK, tc.wantOK[i])
				}
				if c.OK == (c.Error != "") {
					t.Errorf("check %q: ok=%v but error=%q", c.Name, c.OK, c.Error)
				}
			}
		})
	}
}

func TestHandleReady_ProbesRunConcurrently(t *testing.T) {
	t.Parallel()

	const delay = 200 * time.Millisecond
	s := newReadyTestServer(
		&fakePinger{name: "ollama", delay: delay},
		&fakePinger{name: "ollama-embeddings", delay: delay},
		&fakePinger{name: "sqlite", delay: delay},
	)

	start := time.Now()
	status, resp := getReady(t, s)
	elapsed := time.Since(start)

	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if elapsed >= 2*delay {
		t.Errorf("readiness took %s; checks look sequential", elapsed)
	}
	for _, c := range resp.Checks {
		if c.LatencyMS < delay.Milliseconds()-10 {
			t.Errorf("check %q latency_ms = %d, want about %d", c.Name, c.LatencyMS, delay.Milliseconds())
		}
	}
}

func TestMultiPinger(t *testing.T) {
	t.Parallel()

	ok := NewMultiPinger(&fakePinger{name: "a"}, &fakePinger{name: "b"})
	if err := ok.Ping(context.Background()); err != nil {
		t.Errorf("all healthy: Ping() = %v", err)
	}

	down := errors.New("down")
	m := NewMultiPinger(&fakePinger{name: "a", err: down}, &fakePinger{name: "b"}, &fakePinger{name: "c", err: down})
	err := m.Ping(context.Background())
	if !errors.Is(err, down) {
		t.Fatalf("Ping() = %v, want wrapping %v", err, down)
	}
	if want := "a: down\nc: down"; err.Error() != want {
		t.Errorf("Ping() = %q, want %q", err.Error(), want)
	}
}
