package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/time/rate"
)

// Router dispatches completions to a provider chosen per request, so each
// setup session can pick its own provider and model.
type Router struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRouter creates a router over the given providers.
func NewRouter(providers ...Provider) *Router {
	r := &Router{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider under its Name.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Available lists providers that are configured, sorted by name.
func (r *Router) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, p := range r.providers {
		if p.Available() {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Complete sends messages to the named provider. Every failure is returned
// as a *ProviderError.
func (r *Router) Complete(ctx context.Context, provider, model string, messages []Message) (string, error) {
	r.mu.RLock()
	p, ok := r.providers[provider]
	r.mu.RUnlock()
	if !ok || !p.Available() {
		return "", &ProviderError{Provider: provider, Model: model, Err: ErrUnavailable}
	}
	resp, err := p.Complete(ctx, messages, Options{Model: model})
	if err != nil {
		return "", AsProviderError(provider, model, err)
	}
	return resp.Content, nil
}

// NewProvider builds the provider for a catalogue name from cfg.
func NewProvider(name string, cfg Config) (Provider, error) {
	var p Provider
	switch name {
	case ProviderGoogle:
		p = NewGeminiProvider(cfg)
	case ProviderAnthropic:
		p = NewAnthropicProvider(cfg)
	case ProviderOpenAI, ProviderOpenRouter, ProviderDeepSeek, ProviderOllama, ProviderCustom:
		p = NewOpenAIProvider(name, cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
	if cfg.RequestsPerSecond > 0 {
		p = WithRateLimit(p, cfg.RequestsPerSecond, 1)
	}
	return p, nil
}

// rateLimited wraps a Provider with a client-side token bucket.
type rateLimited struct {
	Provider
	limiter *rate.Limiter
}

// WithRateLimit limits outbound requests of p to rps with the given burst.
// A request waits for a token until ctx is done.
func WithRateLimit(p Provider, rps float64, burst int) Provider {
	if burst < 1 {
		burst = 1
	}
	return &rateLimited{Provider: p, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *rateLimited) Complete(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, &ProviderError{Provider: r.Name(), Model: opts.Model, Err: fmt.Errorf("%w: %v", ErrRateLimited, err)}
	}
	return r.Provider.Complete(ctx, messages, opts)
}
