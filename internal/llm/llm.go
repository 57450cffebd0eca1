// Package llm is the provider-neutral model client used by the audit stage,
// with a middleware chain for rate limiting, retries, logging and hooks.
package llm

import (
	"context"
	"encoding/json"
	"errors"

	genai "google.golang.org/genai"
)

// ErrEmptyResponse is returned when the provider answers without any text.
var ErrEmptyResponse = errors.New("llm: empty response from model")

// LLMClient generates a JSON document for a prompt. schema may be nil; when
// set, providers that support structured output enforce it server side.
type LLMClient interface {
	Name() string
	GenerateJSON(ctx context.Context, prompt string, schema *genai.Schema) (json.RawMessage, error)
	Close() error
}

// PermanentError marks failures that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func NewPermanentError(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
