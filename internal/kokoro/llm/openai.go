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

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 30 * time.Second
)

// Config configures the OpenAI-compatible provider.
type Config struct {
	// APIKey is the bearer token used to authenticate against the API.
	APIKey string

	// BaseURL overrides the API endpoint. Useful for local models (Ollama)
	// or any other OpenAI-compatible endpoint. Defaults to the public
	// OpenAI endpoint when empty.
	BaseURL string

	// Model is the chat model to use. Defaults to gpt-4o-mini when empty.
	Model string

	// Timeout is the HTTP request timeout. Defaults to 30 s.
	Timeout time.Duration
}

// openAIProvider implements Provider against the OpenAI chat completions
// API.
type openAIProvider struct {
	cfg    Config
	client *http.Client
}

// New returns a Provider backed by the OpenAI (or compatible) chat API.
// The returned provider is safe for concurrent use.
func New(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &openAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- minimal OpenAI wire types ---

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiRequest struct {
	Model          string       `json:"model"`
	Messages       []oaiMessage `json:"messages"`
	Temperature    float64      `json:"temperature,omitempty"`
	MaxTokens      int          `json:"max_tokens,omitempty"`
	ResponseFormat *oaiFormat   `json:"response_format,omitempty"`
}

type oaiFormat struct {
	Type string `json:"type"` // "json_object"
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

// Complete sends the chat request and returns the completion text.
func (p *openAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	body := oaiRequest{
		Model:       p.cfg.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, oaiMessage{Role: m.Role, Content: m.Content})
	}
	if req.JSONOnly {
		body.ResponseFormat = &oaiFormat{Type: "json_object"}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/chat/completions",
		bytes.NewReader(data),
	)
	if err != nil {
		return "", fmt.Errorf("llm: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("llm: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", ErrRateLimit
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm: read response body: %w", err)
	}

	var oaiResp oaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return "", fmt.Errorf("llm: decode API response: %w: %w", ErrMalformedOutput, err)
	}

	if oaiResp.Error != nil {
		return "", fmt.Errorf("llm: API error (%s): %s", oaiResp.Error.Type, oaiResp.Error.Message)
	}

	if len(oaiResp.Choices) == 0 {
		return "", fmt.Errorf("llm: no choices returned (HTTP %d): %w", resp.StatusCode, ErrMalformedOutput)
	}

	return oaiResp.Choices[0].Message.Content, nil
}
