package provider

import (
	"context"
	"errors"
	"regexp"
	"strconv"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sashabaranov/go-openai"

	"github.com/54b3r/tixrag/internal/retry"
)

// statusPatterns pull the HTTP status out of the error text of the eino-ext
// backends, whose SDK error types live in modules this package does not
// import:
//
//	openai, azure: "error, status code: 401, status: 401 Unauthorized, message: ..."
//	ark:           "Error code: 400 - ..."
//	gemini:        "Error 403, Message: ..., Status: PERMISSION_DENIED"
//	ollama:        "404 Not Found: model \"llama3\" not found"
var statusPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)status code:?\s*(\d{3})\b`),
	regexp.MustCompile(`(?i)error code:?\s*(\d{3})\b`),
	regexp.MustCompile(`\bError (\d{3}), Message:`),
	regexp.MustCompile(`(?:^|: )(\d{3}) [A-Z][A-Za-z ]*:`),
}

// classifyError lifts the HTTP status of a failed model call into a
// *retry.StatusError so retry can stop on permanent failures such as a bad
// API key. Context errors, already classified errors and errors without a
// recognisable status pass through unchanged.
func classifyError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var se *retry.StatusError
	if errors.As(err, &se) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &retry.StatusError{Code: apiErr.HTTPStatusCode, Err: err}
	}
	msg := err.Error()
	for _, re := range statusPatterns {
		m := re.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		if code, convErr := strconv.Atoi(m[1]); convErr == nil && code >= 400 && code <= 599 {
			return &retry.StatusError{Code: code, Err: err}
		}
	}
	return err
}

// statusErrorModel classifies the errors of the model it wraps.
type statusErrorModel struct {
	inner model.BaseChatModel
}

// WithStatusErrors wraps m so failed calls carry their HTTP status as a
// *retry.StatusError.
func WithStatusErrors(m model.BaseChatModel) model.BaseChatModel {
	return &statusErrorModel{inner: m}
}

func (m *statusErrorModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	msg, err := m.inner.Generate(ctx, input, opts...)
	if err != nil {
		return nil, classifyError(err)
	}
	return msg, nil
}

func (m *statusErrorModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	sr, err := m.inner.Stream(ctx, input, opts...)
	if err != nil {
		return nil, classifyError(err)
	}
	return sr, nil
}
