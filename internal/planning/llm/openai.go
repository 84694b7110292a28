package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider speaks the OpenAI-compatible chat completions protocol.
// The same type serves OpenAI, OpenRouter, DeepSeek, Ollama and custom
// gateways; only the name and base URL differ.
type OpenAIProvider struct {
	name   string
	cfg    Config
	client *http.Client
}

// NewOpenAIProvider creates a provider for an OpenAI-compatible API. An
// empty name means "openai".
func NewOpenAIProvider(name string, cfg Config) *OpenAIProvider {
	if name == "" {
		name = ProviderOpenAI
	}
	return &OpenAIProvider{
		name:   name,
		cfg:    cfg,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

// Available reports whether the provider can be called. Local endpoints
// (Ollama, custom) need no key but must have a base URL.
func (p *OpenAIProvider) Available() bool {
	switch p.name {
	case ProviderOllama:
		return true
	case ProviderCustom:
		return p.cfg.Endpoint != ""
	}
	return p.cfg.APIKey != ""
}

func (p *OpenAIProvider) baseURL() string {
	if p.cfg.Endpoint != "" {
		return strings.TrimRight(p.cfg.Endpoint, "/")
	}
	if u, ok := defaultEndpoints[p.name]; ok {
		return u
	}
	return defaultEndpoints[ProviderOpenAI]
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int64         `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	model, maxTokens, temp := p.cfg.resolve(opts)
	fail := func(status int, err error) error {
		return &ProviderError{Provider: p.name, Model: model, StatusCode: status, Err: err}
	}

	msgs := make([]chatMessage, len(messages))
	for i, m := range messages {
		msgs[i] = chatMessage(m)
	}
	bodyJSON, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: temp,
	})
	if err != nil {
		return nil, fail(0, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL()+"/chat/completions", bytes.NewReader(bodyJSON))
	if err != nil {
		return nil, fail(0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fail(0, fmt.Errorf("http request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fail(resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fail(resp.StatusCode, fmt.Errorf("%w: %s", ErrRateLimited, strings.TrimSpace(string(respBody))))
	case resp.StatusCode != http.StatusOK:
		return nil, fail(resp.StatusCode, fmt.Errorf("api error: %s", strings.TrimSpace(string(respBody))))
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fail(resp.StatusCode, fmt.Errorf("unmarshal response: %w", err))
	}
	if out.Error != nil {
		return nil, fail(resp.StatusCode, fmt.Errorf("api error: %s", out.Error.Message))
	}
	if len(out.Choices) == 0 {
		return nil, fail(resp.StatusCode, fmt.Errorf("no choices in response"))
	}

	return &Response{
		Content:      out.Choices[0].Message.Content,
		FinishReason: out.Choices[0].FinishReason,
		PromptTokens: out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
	}, nil
}
