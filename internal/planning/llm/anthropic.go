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

const anthropicVersion = "2023-06-01"

// AnthropicProvider calls the Anthropic Messages API.
type AnthropicProvider struct {
	cfg    Config
	client *http.Client
}

// NewAnthropicProvider creates an Anthropic provider. cfg.Endpoint overrides
// the API base URL.
func NewAnthropicProvider(cfg Config) *AnthropicProvider {
	return &AnthropicProvider{cfg: cfg, client: &http.Client{Timeout: 120 * time.Second}}
}

func (p *AnthropicProvider) Name() string    { return ProviderAnthropic }
func (p *AnthropicProvider) Available() bool { return p.cfg.APIKey != "" }

func (p *AnthropicProvider) baseURL() string {
	if p.cfg.Endpoint != "" {
		return strings.TrimRight(p.cfg.Endpoint, "/")
	}
	return defaultEndpoints[ProviderAnthropic]
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int64         `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// splitSystem moves system messages into the top-level system prompt; the
// Messages API accepts only user and assistant turns.
func splitSystem(messages []Message) (string, []chatMessage) {
	var system []string
	turns := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, chatMessage(m))
	}
	return strings.Join(system, "\n\n"), turns
}

func (p *AnthropicProvider) Complete(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	model, maxTokens, temp := p.cfg.resolve(opts)
	fail := func(status int, err error) error {
		return &ProviderError{Provider: ProviderAnthropic, Model: model, StatusCode: status, Err: err}
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	system, turns := splitSystem(messages)
	body, err := json.Marshal(anthropicRequest{
		Model:       model,
		System:      system,
		Messages:    turns,
		MaxTokens:   maxTokens,
		Temperature: temp,
	})
	if err != nil {
		return nil, fail(0, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL()+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fail(0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fail(0, fmt.Errorf("http request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fail(resp.StatusCode, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(raw))
		var ae anthropicError
		if json.Unmarshal(raw, &ae) == nil && ae.Error.Message != "" {
			msg = ae.Error.Message
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, fail(resp.StatusCode, fmt.Errorf("%w: %s", ErrRateLimited, msg))
		}
		return nil, fail(resp.StatusCode, fmt.Errorf("api error: %s", msg))
	}

	var out anthropicResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fail(resp.StatusCode, fmt.Errorf("unmarshal response: %w", err))
	}
	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fail(resp.StatusCode, fmt.Errorf("no text content in response"))
	}
	return &Response{
		Content:      text.String(),
		FinishReason: out.StopReason,
		PromptTokens: out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
	}, nil
}
