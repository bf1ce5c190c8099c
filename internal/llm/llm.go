// Package llm routes completion and embedding requests to a language-model
// provider. It speaks the OpenAI-compatible chat/embeddings wire format and
// ships a deterministic offline client for tests and air-gapped use.
package llm

import (
	"context"
	"fmt"
)

// Request is the normalized completion request shared by all providers.
type Request struct {
	Prompt       string
	SystemPrompt string
	Model        string
	Temperature  float64
}

// Client is the provider-agnostic LLM surface used by the agents and CBR.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProviderError carries the provider name and HTTP status for failed calls.
type ProviderError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.Status, e.Body)
}
