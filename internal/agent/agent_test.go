package agent

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/tixrag/internal/provider"
	"github.com/54b3r/tixrag/internal/rag"
	"github.com/54b3r/tixrag/internal/rag/ragtest"
	"github.com/54b3r/tixrag/internal/retry"
	"github.com/54b3r/tixrag/internal/store"
)

const cannedGuide = "The VPN client is likely dropping its tunnel. 1. Restart the adapter. 2. Escalate to networking if it persists."

// fakeChatModel records its inputs and fails the first failTimes calls.
type fakeChatModel struct {
	reply     string
	err       error
	failTimes int

	mu     sync.Mutex
	calls  int
	inputs [][]*schema.Message
	opts   []model.Option
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.inputs = append(f.inputs, input)
	f.opts = opts
	if f.calls <= f.failTimes {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	words := strings.SplitAfter(msg.Content, " ")
	chunks := make([]*schema.Message, 0, len(words))
	for _, w := range words {
		chunks = append(chunks, schema.AssistantMessage(w, nil))
	}
	return schema.StreamReaderFromArray(chunks), nil
}

func (f *fakeChatModel) prompt(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inputs) == 0 {
		t.Fatal("chat model was never called")
	}
	last := f.inputs[len(f.inputs)-1]
	if len(last) != 1 || last[0].Role != schema.User {
		t.Fatalf("prompt = %+v, want a single user message", last)
	}
	return last[0].Content
}

func (f *fakeChatModel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// newCorpus returns a retriever over the VPN and printer tickets.
func newCorpus(t *testing.T, emb *ragtest.HashEmbedder, tickets ...rag.Ticket) rag.Retriever {
	t.Helper()
	s := &ragtest.MemStore{}
	for _, tk := range tickets {
		rec, err := tk.ToRecord(ragtest.Vector(tk.EmbeddingText()))
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Upsert(context.Background(), rec); err != nil {
			t.Fatal(err)
		}
	}
	r, err := rag.NewRetriever(emb, s, 0)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func newTestAgent(t *testing.T, cfg *Config) *HelpdeskAgent {
	t.Helper()
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return a
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()
	r := newCorpus(t, &ragtest.HashEmbedder{})
	if _, err := New(&Config{Retriever: r}); err == nil {
		t.Error("New() without ChatModel expected error")
	}
	if _, err := New(&Config{ChatModel: &fakeChatModel{}}); err == nil {
		t.Error("New() without Retriever expected error")
	}
}

func TestSynthesize_VPNScenario(t *testing.T) {
	t.Parallel()
	cm := &fakeChatModel{reply: cannedGuide}
	a := newTestAgent(t, &Config{
		ChatModel: cm,
		Retriever: newCorpus(t, &ragtest.HashEmbedder{}, ragtest.VPNTicket, ragtest.PrinterTicket),
		NResults:  1,
	})

	guide, err := a.Synthesize(context.Background(), "VPN keeps disconnecting")
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}
	if guide.Text != cannedGuide {
		t.Errorf("Text = %q, want model output verbatim", guide.Text)
	}
	if guide.Text == ragtest.VPNTicket.Description {
		t.Error("guide echoes the ticket description")
	}
	if len(guide.Matches) != 1 || guide.Matches[0].ID != "T1" {
		t.Errorf("Matches = %+v, want [T1]", guide.Matches)
	}

	p := cm.prompt(t)
	for _, want := range []string{"You are an IT support assistant.", "ID: T1", "Alice: Reset adapter", "escalation guidance"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
	if strings.Contains(p, "ID: T2") {
		t.Error("prompt contains T2 although only one result was requested")
	}
}

func TestSynthesize_EmptyStoreUsesSentinel(t *testing.T) {
	t.Parallel()
	cm := &fakeChatModel{reply: "Nothing similar on record; collect logs and escalate."}
	a := newTestAgent(t, &Config{ChatModel: cm, Retriever: newCorpus(t, &ragtest.HashEmbedder{})})

	guide, err := a.Synthesize(context.Background(), "printer jam")
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}
	if len(guide.Matches) != 0 {
		t.Errorf("Matches = %+v, want none", guide.Matches)
	}
	if guide.Context != rag.NoMatchesContext {
		t.Errorf("Context = %q, want sentinel", guide.Context)
	}
	if !strings.Contains(cm.prompt(t), rag.NoMatchesContext) {
		t.Error("prompt does not carry the no-matches sentinel")
	}
}

func TestSynthesize_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		emb       *ragtest.HashEmbedder
		cm        *fakeChatModel
		wantKind  error
		notKind   error
		wantCalls int
	}{
		{
			name:      "generation failure",
			emb:       &ragtest.HashEmbedder{},
			cm:        &fakeChatModel{err: errors.New("model unavailable"), failTimes: 10},
			wantKind:  rag.ErrGeneration,
			notKind:   rag.ErrEmbedding,
			wantCalls: 1,
		},
		{
			name:      "query embedding failure never reaches the model",
			emb:       &ragtest.HashEmbedder{FailOn: []string{"VPN"}},
			cm:        &fakeChatModel{reply: cannedGuide},
			wantKind:  rag.ErrEmbedding,
			notKind:   rag.ErrGeneration,
			wantCalls: 0,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a := newTestAgent(t, &Config{
				ChatModel: tc.cm,
				Retriever: newCorpus(t, tc.emb),
			})
			guide, err := a.Synthesize(context.Background(), "VPN keeps disconnecting")
			if !errors.Is(err, tc.wantKind) {
				t.Fatalf("Synthesize() error = %v, want %v", err, tc.wantKind)
			}
			if errors.Is(err, tc.notKind) {
				t.Errorf("Synthesize() error also matches %v", tc.notKind)
			}
			if guide != nil {
				t.Errorf("Synthesize() returned a guide alongside an error")
			}
			if got := tc.cm.callCount(); got != tc.wantCalls {
				t.Errorf("model calls = %d, want %d", got, tc.wantCalls)
			}
		})
	}
}

func TestSynthesize_RetriesTransientGenerationErrors(t *testing.T) {
	t.Parallel()
	policy := retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

	transient := &fakeChatModel{reply: cannedGuide, failTimes: 2, err: &retry.StatusError{Code: 503, Err: errors.New("overloaded")}}
	a := newTestAgent(t, &Config{ChatModel: transient, Retriever: newCorpus(t, &ragtest.HashEmbedder{}), Retry: policy})
	if _, err := a.Synthesize(context.Background(), "q"); err != nil {
		t.Fatalf("Synthesize() error after transient failures: %v", err)
	}
	if got := transient.callCount(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}

	permanent := &fakeChatModel{failTimes: 5, err: &retry.StatusError{Code: 401, Err: errors.New("bad key")}}
	a = newTestAgent(t, &Config{ChatModel: permanent, Retriever: newCorpus(t, &ragtest.HashEmbedder{}), Retry: policy})
	if _, err := a.Synthesize(context.Background(), "q"); !errors.Is(err, rag.ErrGeneration) {
		t.Fatalf("Synthesize() error = %v, want ErrGeneration", err)
	}
	if got := permanent.callCount(); got != 1 {
		t.Errorf("calls = %d, want 1 for a permanent failure", got)
	}
}

func TestSynthesize_BackendAuthFailureNotRetried(t *testing.T) {
	t.Parallel()
	policy := retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

	// eino-ext backends report HTTP failures as plain error text.
	cm := &fakeChatModel{failTimes: 5, err: errors.New("error, status code: 401, status: 401 Unauthorized, message: invalid api key")}
	a := newTestAgent(t, &Config{ChatModel: provider.WithStatusErrors(cm), Retriever: newCorpus(t, &ragtest.HashEmbedder{}), Retry: policy})

	_, err := a.Synthesize(context.Background(), "vpn drops every hour")
	if !errors.Is(err, rag.ErrGeneration) {
		t.Fatalf("Synthesize() error = %v, want ErrGeneration", err)
	}
	var se *retry.StatusError
	if !errors.As(err, &se) || se.Code != 401 {
		t.Errorf("Synthesize() error = %v, want status 401 in chain", err)
	}
	if got := cm.callCount(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}

	var buf bytes.Buffer
	if _, err := a.Stream(context.Background(), "vpn drops every hour", &buf); !errors.Is(err, rag.ErrGeneration) {
		t.Fatalf("Stream() error = %v, want ErrGeneration", err)
	}
	if got := cm.callCount(); got != 2 {
		t.Errorf("calls after Stream = %d, want 2", got)
	}
}

func TestSynthesize_CanceledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := newTestAgent(t, &Config{ChatModel: &fakeChatModel{reply: "x"}, Retriever: newCorpus(t, &ragtest.HashEmbedder{})})
	if _, err := a.Synthesize(ctx, "q"); !errors.Is(err, rag.ErrCanceled) {
		t.Fatalf("Synthesize() error = %v, want ErrCanceled", err)
	}
}

func TestSynthesize_PassesModelOptions(t *testing.T) {
	t.Parallel()
	cm := &fakeChatModel{reply: "ok"}
	a := newTestAgent(t, &Config{
		ChatModel:    cm,
		Retriever:    newCorpus(t, &ragtest.HashEmbedder{}),
		ModelOptions: []model.Option{model.WithTemperature(0)},
	})
	if _, err := a.Synthesize(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}
	common := model.GetCommonOptions(nil, cm.opts...)
	if common.Temperature == nil || *common.Temperature != 0 {
		t.Errorf("temperature option = %v, want 0", common.Temperature)
	}
}

func TestSynthesize_BudgetDropsLowestRankedBlocks(t *testing.T) {
	t.Parallel()
	cm := &fakeChatModel{reply: "ok"}
	a := newTestAgent(t, &Config{
		ChatModel:        cm,
		Retriever:        newCorpus(t, &ragtest.HashEmbedder{}, ragtest.VPNTicket, ragtest.PrinterTicket),
		NResults:         2,
		MaxContextTokens: 1,
	})
	guide, err := a.Synthesize(context.Background(), "VPN keeps disconnecting")
	if err != nil {
		t.Fatal(err)
	}
	if len(guide.Matches) != 2 {
		t.Fatalf("Matches = %d, want 2 retrieved", len(guide.Matches))
	}
	if !strings.Contains(guide.Context, "ID: T1") || strings.Contains(guide.Context, "ID: T2") {
		t.Errorf("Context = %q, want only the top-ranked block", guide.Context)
	}
}

func TestSynthesize_RecordsHistory(t *testing.T) {
	t.Parallel()
	h, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = h.Close() })

	a := newTestAgent(t, &Config{
		ChatModel: &fakeChatModel{reply: cannedGuide},
		Retriever: newCorpus(t, &ragtest.HashEmbedder{}, ragtest.VPNTicket),
		History:   h,
	})
	if _, err := a.Synthesize(context.Background(), "VPN keeps disconnecting"); err != nil {
		t.Fatal(err)
	}
	got, err := h.Recent(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Query != "VPN keeps disconnecting" || got[0].Text != cannedGuide {
		t.Errorf("history = %+v", got)
	}
}

func TestStream(t *testing.T) {
	t.Parallel()
	cm := &fakeChatModel{reply: cannedGuide}
	a := newTestAgent(t, &Config{
		ChatModel: cm,
		Retriever: newCorpus(t, &ragtest.HashEmbedder{}, ragtest.VPNTicket, ragtest.PrinterTicket),
	})

	var buf bytes.Buffer
	guide, err := a.Stream(context.Background(), "VPN keeps disconnecting", &buf)
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	if buf.String() != cannedGuide || guide.Text != cannedGuide {
		t.Errorf("streamed %q, guide %q, want %q", buf.String(), guide.Text, cannedGuide)
	}

	failing := &fakeChatModel{err: errors.New("down"), failTimes: 1}
	a = newTestAgent(t, &Config{ChatModel: failing, Retriever: newCorpus(t, &ragtest.HashEmbedder{})})
	if _, err := a.Stream(context.Background(), "q", &buf); !errors.Is(err, rag.ErrGeneration) {
		t.Errorf("Stream() error = %v, want ErrGeneration", err)
	}
}
