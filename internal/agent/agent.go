// Package agent turns retrieved tickets into a troubleshooting guide.
// It runs the query-time flow end to end: retrieve similar tickets, format
// them as case blocks, interpolate the blocks into the IT support template,
// and ask the configured chat model for the guide.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/tixrag/internal/budget"
	"github.com/54b3r/tixrag/internal/logging"
	"github.com/54b3r/tixrag/internal/rag"
	"github.com/54b3r/tixrag/internal/retry"
	"github.com/54b3r/tixrag/internal/store"
)

// Config holds the dependencies required to construct a HelpdeskAgent.
type Config struct {
	// ChatModel is the LLM backend constructed by the provider factory.
	ChatModel model.BaseChatModel

	// Retriever fetches similar tickets for the query. Required.
	Retriever rag.Retriever

	// NResults is the number of tickets retrieved per query.
	// Defaults to rag.DefaultNResults if zero.
	NResults int

	// MaxContextTokens is the estimated token budget for the prompt. Case
	// blocks are dropped lowest-rank-first to fit. Defaults to
	// budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int

	// Retry bounds repeated generation attempts. The zero value makes a
	// single attempt.
	Retry retry.Policy

	// ModelOptions are passed to every model call, typically the provider's
	// temperature and max-token settings.
	ModelOptions []model.Option

	// History optionally records every generated guide. Failures to record
	// are logged and never fail the request.
	History store.GuideHistory
}

// Guide is the result of one synthesis.
type Guide struct {
	// Query is the free-text problem description that was asked.
	Query string `json:"query"`

	// Text is the model output, returned verbatim.
	Text string `json:"guide"`

	// Matches are the tickets that were retrieved, most similar first.
	Matches []rag.Match `json:"-"`

	// Context is the formatted ticket context that was sent to the model.
	Context string `json:"-"`
}

// HelpdeskAgent synthesizes troubleshooting guides from similar tickets.
type HelpdeskAgent struct {
	// chatModel produces the guide text.
	chatModel model.BaseChatModel

	// retriever supplies the similar tickets.
	retriever rag.Retriever

	// template renders the instruction prompt around the ticket context.
	template prompt.ChatTemplate

	// nResults is the number of tickets retrieved per query.
	nResults int

	// maxContextTokens is the estimated prompt budget.
	maxContextTokens int

	// retry bounds repeated generation attempts.
	retry retry.Policy

	// opts are passed to every model call.
	opts []model.Option

	// history is the optional guide log.
	history store.GuideHistory
}

// New constructs a HelpdeskAgent from the provided Config.
func New(cfg *Config) (*HelpdeskAgent, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("agent: ChatModel must not be nil")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("agent: Retriever must not be nil")
	}

	n := cfg.NResults
	if n <= 0 {
		n = rag.DefaultNResults
	}

	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}

	return &HelpdeskAgent{
		chatModel:        cfg.ChatModel,
		retriever:        cfg.Retriever,
		template:         newTemplate(),
		nResults:         n,
		maxContextTokens: maxCtx,
		retry:            cfg.Retry,
		opts:             cfg.ModelOptions,
		history:          cfg.History,
	}, nil
}

// Synthesize retrieves tickets similar to query and returns the generated
// troubleshooting guide. Retrieval failures keep their embedding or store
// stage; a failed model call is a generation-stage error. An empty store is
// not an error: the model is told no relevant tickets were found.
func (a *HelpdeskAgent) Synthesize(ctx context.Context, query string) (*Guide, error) {
	guide, msgs, err := a.prepare(ctx, query)
	if err != nil {
		return nil, err
	}

	var resp *schema.Message
	err = retry.Do(ctx, a.retry, "generate", func(ctx context.Context) error {
		var genErr error
		resp, genErr = a.chatModel.Generate(ctx, msgs, a.opts...)
		return genErr
	})
	if err != nil {
		return nil, rag.NewStageError(rag.StageGeneration, "", fmt.Errorf("agent: generate: %w", err))
	}
	if resp == nil {
		return nil, rag.NewStageError(rag.StageGeneration, "", errors.New("agent: model returned no message"))
	}

	guide.Text = resp.Content
	a.record(ctx, guide)
	return guide, nil
}

// Stream behaves like Synthesize but writes the guide to w as the model
// produces it. Opening the stream is retried under the agent's policy; a
// failure after the first chunk has been written is returned as-is.
func (a *HelpdeskAgent) Stream(ctx context.Context, query string, w io.Writer) (*Guide, error) {
	guide, msgs, err := a.prepare(ctx, query)
	if err != nil {
		return nil, err
	}

	var sr *schema.StreamReader[*schema.Message]
	err = retry.Do(ctx, a.retry, "generate-stream", func(ctx context.Context) error {
		var streamErr error
		sr, streamErr = a.chatModel.Stream(ctx, msgs, a.opts...)
		return streamErr
	})
	if err != nil {
		return nil, rag.NewStageError(rag.StageGeneration, "", fmt.Errorf("agent: stream: %w", err))
	}
	defer sr.Close()

	var buf strings.Builder
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, rag.NewStageError(rag.StageGeneration, "", fmt.Errorf("agent: stream receive: %w", err))
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		buf.WriteString(msg.Content)
		if _, err := io.WriteString(w, msg.Content); err != nil {
			return nil, fmt.Errorf("agent: write error: %w", err)
		}
	}

	guide.Text = buf.String()
	a.record(ctx, guide)
	return guide, nil
}

// prepare runs retrieval and renders the prompt messages.
func (a *HelpdeskAgent) prepare(ctx context.Context, query string) (*Guide, []*schema.Message, error) {
	ctx = logging.With(ctx, slog.Int("query_len", len(query)), slog.Int("n_results", a.nResults))
	matches, err := a.retriever.Search(ctx, query, a.nResults)
	if err != nil {
		return nil, nil, err
	}

	ticketContext, err := a.buildContext(ctx, matches)
	if err != nil {
		return nil, nil, err
	}

	msgs, err := a.template.Format(ctx, map[string]any{"tickets": ticketContext})
	if err != nil {
		return nil, nil, rag.NewStageError(rag.StageGeneration, "", fmt.Errorf("agent: render prompt: %w", err))
	}

	logging.FromContext(ctx).Debug("agent: prompt prepared",
		slog.Int("matches", len(matches)),
		slog.Int("estimated_tokens", budget.EstimateMessages(msgs)),
	)

	return &Guide{Query: query, Matches: matches, Context: ticketContext}, msgs, nil
}

// buildContext formats matches as case blocks, dropping the lowest-ranked
// blocks that would push the prompt over the token budget.
func (a *HelpdeskAgent) buildContext(ctx context.Context, matches []rag.Match) (string, error) {
	if len(matches) == 0 {
		return rag.FormatContext(nil), nil
	}

	blocks := make([]string, len(matches))
	for i, m := range matches {
		blocks[i] = rag.FormatMatch(m)
	}

	fixed, err := a.template.Format(ctx, map[string]any{"tickets": ""})
	if err != nil {
		return "", rag.NewStageError(rag.StageGeneration, "", fmt.Errorf("agent: render prompt: %w", err))
	}

	kept := budget.FitBlocks(fixed, blocks, a.maxContextTokens)
	if kept < len(blocks) {
		logging.FromContext(ctx).Warn("budget: dropped ticket blocks to fit context window",
			slog.Int("dropped", len(blocks)-kept),
			slog.Int("retained", kept),
			slog.Int("max_tokens", a.maxContextTokens),
		)
	}
	return strings.Join(blocks[:kept], ""), nil
}

// record appends the guide to the history log, if one is configured.
func (a *HelpdeskAgent) record(ctx context.Context, g *Guide) {
	if a.history == nil {
		return
	}
	if err := a.history.Append(ctx, g.Query, g.Text); err != nil {
		logging.FromContext(ctx).Warn("history: failed to persist guide", slog.Any("error", err))
	}
}
