package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Message represents a chat message sent to or received from the LLM.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Options configures a single completion request. Zero values fall back to
// the provider's Config.
type Options struct {
	Model       string
	MaxTokens   int64
	Temperature float64
}

// Response is the result of a completion.
type Response struct {
	Content      string
	FinishReason string
	PromptTokens int64
	OutputTokens int64
}

// Provider abstracts an LLM backend (OpenAI-compatible endpoints, Gemini).
type Provider interface {
	// Complete sends messages and returns a full response.
	Complete(ctx context.Context, messages []Message, opts Options) (*Response, error)

	// Name returns the provider name (e.g. "openai").
	Name() string

	// Available returns true if the provider is configured and ready.
	Available() bool
}

var (
	// ErrUnavailable is returned when a provider is unknown or not configured.
	ErrUnavailable = errors.New("llm provider unavailable")
	// ErrRateLimited is returned when the backend or the local limiter refuses a request.
	ErrRateLimited = errors.New("llm rate limited")
)

// ProviderError describes a failed completion call (transport, auth, quota).
type ProviderError struct {
	Provider   string
	Model      string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Provider)
	if e.Model != "" {
		sb.WriteString(" (" + e.Model + ")")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, ": status %d", e.StatusCode)
	}
	if e.Err != nil {
		sb.WriteString(": " + e.Err.Error())
	}
	return sb.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// AsProviderError wraps err as a *ProviderError unless it already is one.
func AsProviderError(provider, model string, err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProviderError{Provider: provider, Model: model, Err: err}
}

// Config holds configuration for one provider.
type Config struct {
	APIKey            string
	Model             string
	Endpoint          string // base URL override (Ollama, OpenRouter, custom gateways)
	MaxTokens         int64
	Temperature       float64
	RequestsPerSecond float64
}

// ConfigFromEnv reads configuration for the named provider. Provider-specific
// variables (TASKRAILS_LLM_<PROVIDER>_API_KEY, ..._MODEL, ..._ENDPOINT) take
// precedence over the shared TASKRAILS_LLM_* ones.
func ConfigFromEnv(provider string) Config {
	prefix := "TASKRAILS_LLM_" + strings.ToUpper(provider) + "_"
	lookup := func(key string) string {
		if v := os.Getenv(prefix + key); v != "" {
			return v
		}
		return os.Getenv("TASKRAILS_LLM_" + key)
	}

	maxTokens := int64(4096)
	if v := lookup("MAX_TOKENS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			maxTokens = n
		}
	}

	temperature := 0.7
	if v := lookup("TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			temperature = f
		}
	}

	var rps float64
	if v := lookup("RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			rps = f
		}
	}

	model := lookup("MODEL")
	if model == "" {
		model = DefaultModel(provider)
	}

	return Config{
		APIKey:            lookup("API_KEY"),
		Model:             model,
		Endpoint:          lookup("ENDPOINT"),
		MaxTokens:         maxTokens,
		Temperature:       temperature,
		RequestsPerSecond: rps,
	}
}

func (c Config) resolve(opts Options) (model string, maxTokens int64, temperature float64) {
	model, maxTokens, temperature = opts.Model, opts.MaxTokens, opts.Temperature
	if model == "" {
		model = c.Model
	}
	if maxTokens == 0 {
		maxTokens = c.MaxTokens
	}
	if temperature == 0 {
		temperature = c.Temperature
	}
	return model, maxTokens, temperature
}
