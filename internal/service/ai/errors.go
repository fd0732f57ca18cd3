package ai

import (
	"errors"
	"fmt"
)

var (
	// ErrAPIKeyMissing is returned before any provider call when no key is available.
	ErrAPIKeyMissing = errors.New("api key missing")
	ErrEmptyQuestion = errors.New("question must not be empty")
	ErrUnknownModel  = errors.New("unknown model")
)

// ExternalError marks a failure reported by an LLM or embedding provider.
type ExternalError struct {
	Op  string
	Err error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }

func external(op string, err error) error {
	if err == nil {
		return nil
	}
	var ext *ExternalError
	if errors.As(err, &ext) {
		return err
	}
	return &ExternalError{Op: op, Err: err}
}
