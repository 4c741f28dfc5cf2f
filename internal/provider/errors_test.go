package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sashabaranov/go-openai"

	"github.com/54b3r/tixrag/internal/retry"
)

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantCode int // 0: left unclassified
	}{
		{name: "openai bad key", err: errors.New("error, status code: 401, status: 401 Unauthorized, message: invalid api key"), wantCode: 401},
		{name: "azure throttled", err: fmt.Errorf("chat completion: %w", errors.New("error, status code: 429, status: 429 Too Many Requests, message: slow down")), wantCode: 429},
		{name: "ark bad request", err: errors.New("Error code: 400 - invalid model"), wantCode: 400},
		{name: "gemini denied", err: errors.New("Error 403, Message: API key not valid, Status: PERMISSION_DENIED, Details: []"), wantCode: 403},
		{name: "ollama missing model", err: errors.New(`404 Not Found: model "llama3" not found, try pulling it first`), wantCode: 404},
		{name: "ollama wrapped overload", err: errors.New("ollama chat: 503 Service Unavailable: server busy"), wantCode: 503},
		{name: "typed go-openai error", err: &openai.APIError{HTTPStatusCode: 400, Message: "bad"}, wantCode: 400},
		{name: "connection refused", err: errors.New("dial tcp 127.0.0.1:11434: connect: connection refused")},
		{name: "deadline", err: fmt.Errorf("status code: 504: %w", context.DeadlineExceeded)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := classifyError(tc.err)
			if !errors.Is(got, tc.err) {
				t.Errorf("classifyError() = %v, lost the original error", got)
			}
			var se *retry.StatusError
			classified := errors.As(got, &se)
			switch {
			case tc.wantCode == 0 && classified:
				t.Errorf("classifyError() = %v, want unclassified", got)
			case tc.wantCode != 0 && !classified:
				t.Errorf("classifyError() = %v, want *retry.StatusError", got)
			case tc.wantCode != 0 && se.Code != tc.wantCode:
				t.Errorf("Code = %d, want %d", se.Code, tc.wantCode)
			}
		})
	}
}

// failingModel fails every call with err.
type failingModel struct {
	err   error
	calls int
}

func (f *failingModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	f.calls++
	return nil, f.err
}

func (f *failingModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.calls++
	return nil, f.err
}

func TestWithStatusErrors_StopsRetryOnPermanentFailure(t *testing.T) {
	t.Parallel()

	policy := retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond}
	msgs := []*schema.Message{schema.UserMessage("vpn drops")}

	permanent := &failingModel{err: errors.New("error, status code: 401, status: 401 Unauthorized, message: invalid api key")}
	m := WithStatusErrors(permanent)
	err := retry.Do(context.Background(), policy, "generate", func(ctx context.Context) error {
		_, err := m.Generate(ctx, msgs)
		return err
	})
	if err == nil || permanent.calls != 1 {
		t.Errorf("401: calls = %d, err = %v; want one attempt and an error", permanent.calls, err)
	}

	transient := &failingModel{err: errors.New("error, status code: 503, status: 503 Service Unavailable, message: overloaded")}
	m = WithStatusErrors(transient)
	_ = retry.Do(context.Background(), policy, "generate-stream", func(ctx context.Context) error {
		_, err := m.Stream(ctx, msgs)
		return err
	})
	if transient.calls != 3 {
		t.Errorf("503: calls = %d, want 3", transient.calls)
	}
}

func TestNew_WrapsEinoBackends(t *testing.T) {
	t.Parallel()

	m, err := New(context.Background(), &Config{
		Backend: BackendOllama,
		Ollama:  ProviderOllama{Host: "http://127.0.0.1:1", Model: "llama3"},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, ok := m.(*statusErrorModel); !ok {
		t.Errorf("New() = %T, want *statusErrorModel", m)
	}
}
