package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/tixrag/internal/retry"
)

// anthropicDefaultMaxTokens is used when neither the config nor the call
// sets a limit; the Messages API requires one.
const anthropicDefaultMaxTokens = 2048

// AnthropicChatModel adapts the Anthropic Messages API to eino's
// model.BaseChatModel so it can be swapped in for any eino-ext backend.
type AnthropicChatModel struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropic constructs an AnthropicChatModel from cfg.Anthropic and
// cfg.Tuning.
func NewAnthropic(cfg *Config) *AnthropicChatModel {
	opts := []option.RequestOption{option.WithAPIKey(cfg.Anthropic.APIKey)}
	if cfg.Anthropic.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.Anthropic.BaseURL))
	}
	maxTokens := cfg.Tuning.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	return &AnthropicChatModel{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Anthropic.Model,
		maxTokens: maxTokens,
	}
}

// Generate sends input as a single Messages request. System messages are
// joined into the request's system prompt; user and assistant messages keep
// their order.
func (m *AnthropicChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	params, err := m.buildParams(input, opts...)
	if err != nil {
		return nil, err
	}

	rsp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode != 0 {
			err = &retry.StatusError{Code: apiErr.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var b strings.Builder
	for _, content := range rsp.Content {
		if text, ok := content.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	if b.Len() == 0 {
		return nil, errors.New("anthropic: response contained no text")
	}
	return schema.AssistantMessage(b.String(), nil), nil
}

// Stream returns the full Generate result as a single-chunk stream.
func (m *AnthropicChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *AnthropicChatModel) buildParams(input []*schema.Message, opts ...model.Option) (anthropic.MessageNewParams, error) {
	temp := GuideTemperature
	maxTokens := m.maxTokens
	name := m.model
	o := model.GetCommonOptions(&model.Options{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		Model:       &name,
	}, opts...)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(*o.Model),
		MaxTokens: int64(*o.MaxTokens),
	}
	if o.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*o.Temperature))
	}

	var system []string
	for _, msg := range input {
		switch msg.Role {
		case schema.System:
			system = append(system, msg.Content)
		case schema.User:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case schema.Assistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			return params, fmt.Errorf("anthropic: unsupported message role %q", msg.Role)
		}
	}
	if len(params.Messages) == 0 {
		return params, errors.New("anthropic: at least one user message is required")
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	return params, nil
}
