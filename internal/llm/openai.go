package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAIClient talks to any OpenAI-compatible endpoint (OpenAI, OpenRouter,
// local gateways) over the chat-completions and embeddings routes.
type OpenAIClient struct {
	provider   string
	apiKey     string
	baseURL    string
	model      string
	embedModel string
	client     *http.Client
}

// OpenAIConfig configures an OpenAI-compatible client.
type OpenAIConfig struct {
	// Provider labels errors; "openai" or "openrouter".
	Provider string
	APIKey   string
	BaseURL  string // default: https://api.openai.com/v1
	Model    string // default: gpt-4o-mini
	// EmbedModel is used by Embed; default: text-embedding-3-small.
	EmbedModel string
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	embedModel := cfg.EmbedModel
	if embedModel == "" {
		embedModel = "text-embedding-3-small"
	}
	return &OpenAIClient{
		provider:   provider,
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      model,
		embedModel: embedModel,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Complete performs a chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = 0.2
	}

	body := chatRequest{
		Model:       model,
		Temperature: temperature,
	}
	if req.SystemPrompt != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})

	var out chatResponse
	if err := c.post(ctx, "/chat/completions", body, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", c.provider)
	}
	return out.Choices[0].Message.Content, nil
}

// Embed returns the embedding vector for text.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body := embedRequest{
		Model: c.embedModel,
		Input: []string{text},
	}

	var out embedResponse
	if err := c.post(ctx, "/embeddings", body, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("%s returned no embedding data", c.provider)
	}
	return out.Data[0].Embedding, nil
}

func (c *OpenAIClient) post(ctx context.Context, path string, in, out interface{}) error {
	jsonBody, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", c.provider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &ProviderError{Provider: c.provider, Status: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
