package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubProvider struct {
	name      string
	available bool
	reply     string
	err       error
	gotModel  string
}

func (s *stubProvider) Name() string    { return s.name }
func (s *stubProvider) Available() bool { return s.available }
func (s *stubProvider) Complete(_ context.Context, _ []Message, opts Options) (*Response, error) {
	s.gotModel = opts.Model
	if s.err != nil {
		return nil, s.err
	}
	return &Response{Content: s.reply}, nil
}

func TestRouterComplete(t *testing.T) {
	google := &stubProvider{name: ProviderGoogle, available: true, reply: "from gemini"}
	openai := &stubProvider{name: ProviderOpenAI, available: false}
	r := NewRouter(google, openai)

	got, err := r.Complete(context.Background(), ProviderGoogle, "gemini-2.5-pro", []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != "from gemini" || google.gotModel != "gemini-2.5-pro" {
		t.Fatalf("got %q with model %q", got, google.gotModel)
	}

	if av := r.Available(); len(av) != 1 || av[0] != ProviderGoogle {
		t.Fatalf("Available() = %v", av)
	}

	for _, name := range []string{ProviderOpenAI, "nope"} {
		_, err := r.Complete(context.Background(), name, "", nil)
		var pe *ProviderError
		if !errors.As(err, &pe) || !errors.Is(err, ErrUnavailable) {
			t.Errorf("%s: expected unavailable provider error, got %v", name, err)
		}
	}
}

func TestRouterWrapsPlainErrors(t *testing.T) {
	r := NewRouter(&stubProvider{name: ProviderOllama, available: true, err: errors.New("connection refused")})
	_, err := r.Complete(context.Background(), ProviderOllama, "llama3.1", nil)
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProviderError, got %T", err)
	}
	if pe.Provider != ProviderOllama || pe.Model != "llama3.1" {
		t.Fatalf("unexpected error fields: %+v", pe)
	}
	if pe.Error() != "ollama (llama3.1): connection refused" {
		t.Fatalf("Error() = %q", pe.Error())
	}
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(ProviderGoogle, Config{APIKey: "k"})
	if err != nil || p.Name() != ProviderGoogle {
		t.Fatalf("google: %v %v", p, err)
	}
	p, err = NewProvider(ProviderOllama, Config{RequestsPerSecond: 5})
	if err != nil {
		t.Fatalf("ollama: %v", err)
	}
	if _, ok := p.(*rateLimited); !ok {
		t.Fatalf("expected rate limited wrapper, got %T", p)
	}
	if p.Name() != ProviderOllama {
		t.Fatalf("wrapper must keep name, got %s", p.Name())
	}
	if _, err := NewProvider("anthropic-direct", Config{}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestRateLimitHonoursContext(t *testing.T) {
	stub := &stubProvider{name: ProviderOpenAI, available: true, reply: "ok"}
	p := WithRateLimit(stub, 0.001, 1)

	if _, err := p.Complete(context.Background(), nil, Options{}); err != nil {
		t.Fatalf("first request should use the burst token: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Complete(ctx, nil, Options{})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestCatalog(t *testing.T) {
	if DefaultModel(ProviderOpenAI) != "gpt-4o" {
		t.Errorf("unexpected openai default %s", DefaultModel(ProviderOpenAI))
	}
	if DefaultModel(ProviderCustom) != "" {
		t.Errorf("custom provider has no default model")
	}
	m := Models(ProviderGoogle)
	m[0] = "mutated"
	if DefaultModel(ProviderGoogle) == "mutated" {
		t.Error("Models must return a copy")
	}
	if KnownProvider("anthropic-direct") {
		t.Error("unexpected known provider")
	}
}
