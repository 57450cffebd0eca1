// Package audit invokes the generative model with the fixed audit prompt and
// response schema.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"repoaudit/internal/llm"
	"repoaudit/internal/types"
)

// ErrEmptyResponse means the provider answered without text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// InvocationError wraps any failure of the model call itself.
type InvocationError struct {
	Model string
	Err   error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("model invocation failed (%s): %v", e.Model, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// Input is everything the prompt is built from.
type Input struct {
	RepoName      string
	Stats         types.AuditStats
	SourceContext string
}

// Phase is the llm phase label used for logs and hooks.
const Phase = "audit"

type Client struct {
	llm llm.LLMClient
}

func NewClient(c llm.LLMClient) *Client {
	return &Client{llm: c}
}

// Model names the underlying provider client.
func (c *Client) Model() string { return c.llm.Name() }

// Audit sends one request and returns the raw JSON text. It does not retry;
// retries, when configured, live in the llm middleware chain.
func (c *Client) Audit(ctx context.Context, in Input) (json.RawMessage, error) {
	ctx = llm.WithPhase(ctx, Phase)
	raw, err := c.llm.GenerateJSON(ctx, BuildPrompt(in), ResponseSchema())
	if err != nil {
		if errors.Is(err, llm.ErrEmptyResponse) {
			return nil, ErrEmptyResponse
		}
		return nil, &InvocationError{Model: c.llm.Name(), Err: err}
	}
	if strings.TrimSpace(string(raw)) == "" {
		return nil, ErrEmptyResponse
	}
	return raw, nil
}
