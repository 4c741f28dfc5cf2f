package rag

import (
	"context"
	"errors"
	"fmt"
)

// Stage names the pipeline step an error originated in.
type Stage string

const (
	// StageEmbedding is the remote embedding call.
	StageEmbedding Stage = "embedding"
	// StageStore is any vector store read or write.
	StageStore Stage = "store"
	// StageGeneration is the language model call.
	StageGeneration Stage = "generation"
	// StageInput is validation of caller-supplied tickets.
	StageInput Stage = "input"
)

// Error kinds. Match with errors.Is against any error returned by this
// module's pipeline operations.
var (
	ErrEmbedding      = errors.New("embedding failure")
	ErrStore          = errors.New("store failure")
	ErrGeneration     = errors.New("generation failure")
	ErrMalformedInput = errors.New("malformed input")
	ErrCanceled       = errors.New("operation canceled")

	// ErrDuplicateID is wrapped by VectorStore.Add when the id already exists.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrNotFound is wrapped by VectorStore.Get when the id does not exist.
	ErrNotFound = errors.New("record not found")
)

// StageError tags a failure with the stage it came from and, for per-record
// failures, the ticket id.
type StageError struct {
	Stage Stage
	ID    string
	Err   error
}

// NewStageError wraps err for stage. A nil err yields nil.
func NewStageError(stage Stage, id string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) && se.Stage == stage && se.ID == id {
		return err
	}
	return &StageError{Stage: stage, ID: id, Err: err}
}

func (e *StageError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s stage (ticket %s): %v", e.Stage, e.ID, e.Err)
	}
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

// Unwrap exposes the stage kind, the cancellation kind when the cause was a
// context error, and the cause itself.
func (e *StageError) Unwrap() []error {
	errs := make([]error, 0, 3)
	if k := e.kind(); k != nil {
		errs = append(errs, k)
	}
	if errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded) {
		errs = append(errs, ErrCanceled)
	}
	return append(errs, e.Err)
}

func (e *StageError) kind() error {
	switch e.Stage {
	case StageEmbedding:
		return ErrEmbedding
	case StageStore:
		return ErrStore
	case StageGeneration:
		return ErrGeneration
	case StageInput:
		return ErrMalformedInput
	default:
		return nil
	}
}

// StageOf reports the stage of the first StageError in err's chain, or ""
// when err carries none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
