package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// GeminiProvider calls Google Gemini through the official genai client.
// The client is created lazily on the first request.
type GeminiProvider struct {
	cfg Config

	once    sync.Once
	cli     *genai.Client
	initErr error
}

// NewGeminiProvider creates a Gemini provider.
func NewGeminiProvider(cfg Config) *GeminiProvider {
	return &GeminiProvider{cfg: cfg}
}

func (g *GeminiProvider) Name() string    { return ProviderGoogle }
func (g *GeminiProvider) Available() bool { return g.cfg.APIKey != "" }

func (g *GeminiProvider) client(ctx context.Context) (*genai.Client, error) {
	g.once.Do(func() {
		g.cli, g.initErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	return g.cli, g.initErr
}

// Complete maps system messages to the system instruction and the remaining
// turns to user/model contents.
func (g *GeminiProvider) Complete(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	model, maxTokens, temp := g.cfg.resolve(opts)

	cli, err := g.client(ctx)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderGoogle, Model: model, Err: fmt.Errorf("create client: %w", err)}
	}

	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	t := float32(temp)
	gc := &genai.GenerateContentConfig{Temperature: &t}
	if maxTokens > 0 {
		gc.MaxOutputTokens = int32(maxTokens)
	}
	if len(system) > 0 {
		gc.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}

	resp, err := cli.Models.GenerateContent(ctx, model, contents, gc)
	if err != nil {
		pe := &ProviderError{Provider: ProviderGoogle, Model: model, Err: err}
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			pe.StatusCode = apiErr.Code
			if apiErr.Code == http.StatusTooManyRequests {
				pe.Err = fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
			}
		}
		return nil, pe
	}
	if len(resp.Candidates) == 0 {
		return nil, &ProviderError{Provider: ProviderGoogle, Model: model, Err: fmt.Errorf("no candidates in response")}
	}

	out := &Response{
		Content:      resp.Text(),
		FinishReason: string(resp.Candidates[0].FinishReason),
	}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int64(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}
