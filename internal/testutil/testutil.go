// Package testutil provides fixtures for TaskRails HTTP integration tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"taskrails/internal/api"
	"taskrails/internal/domain"
	"taskrails/internal/events"
	"taskrails/internal/observability"
	"taskrails/internal/planning/llm"
	"taskrails/internal/setup"
	"taskrails/internal/storage"
)

// FlavorBaseReply is an assistant reply carrying all seven required fields.
const FlavorBaseReply = `Great, here is what I captured:
/ProjectName/*FlavorBase*
/ProjectGoal/*A recipe app with search and bookmarking for home cooks*
/TechStack/*React*, *Node*
/Features/*Search*, *Bookmarking*
/DataStructure/*Recipes and users stored in Postgres*
/DesignSpec/*Material UI dark theme*
/EngineeringRules/*ESLint + Jest*`

// ScriptedCompleter replays canned replies in order. When Gate is set,
// Complete signals Entered (if set) and blocks until Gate is closed.
type ScriptedCompleter struct {
	mu      sync.Mutex
	Replies []string
	Err     error
	Gate    chan struct{}
	Entered chan struct{}
	calls   int
}

func (c *ScriptedCompleter) Complete(ctx context.Context, _, _ string, _ []llm.Message) (string, error) {
	c.mu.Lock()
	c.calls++
	gate, entered := c.Gate, c.Entered
	c.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return "", c.Err
	}
	if len(c.Replies) == 0 {
		return "Could you tell me more?", nil
	}
	reply := c.Replies[0]
	c.Replies = c.Replies[1:]
	return reply, nil
}

// Calls returns how many completions were requested.
func (c *ScriptedCompleter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type staticProviders []string

func (p staticProviders) Available() []string { return p }

// TestServerConfig holds configuration for creating a test server.
type TestServerConfig struct {
	// Completer answers chat turns; a ScriptedCompleter with no replies by default.
	Completer setup.Completer
	// Documents overrides the in-memory document store.
	Documents storage.DocumentStore
	// RateLimit enables rate limiting if set.
	RateLimit api.RateLimitConfig
	// EnableMetrics enables metrics collection and the /metrics route.
	EnableMetrics bool
	// Providers lists the providers reported as configured.
	Providers []string
}

// TestServerComponents holds all the components created for a test server.
type TestServerComponents struct {
	Server    *httptest.Server
	Store     *storage.MemoryStore
	Documents storage.DocumentStore
	Hub       *events.Hub
	Registry  *setup.Registry
	Metrics   *observability.Metrics
}

// NewTestServer wires the API over in-memory stores and closes it when the
// test ends.
func NewTestServer(t *testing.T, cfg TestServerConfig) *TestServerComponents {
	t.Helper()

	store := storage.NewMemoryStore()
	docs := cfg.Documents
	if docs == nil {
		docs = storage.NewMemoryDocumentStore()
	}
	completer := cfg.Completer
	if completer == nil {
		completer = &ScriptedCompleter{}
	}

	var metrics *observability.Metrics
	if cfg.EnableMetrics {
		metrics = observability.NewMetrics(observability.MetricsConfig{Enabled: true, Namespace: "taskrails", Version: "test"})
	}
	logger := observability.Discard()
	hub := events.NewHub(logger)

	coordinator := setup.NewCoordinator(setup.CoordinatorOptions{
		Sinks:     setup.Sinks{Spec: store, Documents: docs, Roster: store, Tasks: store},
		Publisher: hub,
		Logger:    logger,
		Metrics:   metrics,
	})
	registry, err := setup.NewRegistry(setup.RegistryOptions{
		CacheSize:    16,
		Completer:    completer,
		Coordinator:  coordinator,
		Projects:     store,
		Settings:     store,
		Publisher:    hub,
		DefaultModel: domain.ModelSelection{Provider: llm.ProviderOpenAI, Language: setup.DefaultLanguage},
		Logger:       logger,
		Metrics:      metrics,
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	providers := cfg.Providers
	if providers == nil {
		providers = []string{llm.ProviderOpenAI}
	}
	srv := api.NewServer(api.Options{
		Registry:  registry,
		Store:     store,
		Documents: docs,
		Hub:       hub,
		Providers: staticProviders(providers),
		Logger:    logger,
		Metrics:   metrics,
		RateLimit: cfg.RateLimit,
	})
	testServer := httptest.NewServer(srv.Handler())
	t.Cleanup(testServer.Close)

	return &TestServerComponents{
		Server:    testServer,
		Store:     store,
		Documents: docs,
		Hub:       hub,
		Registry:  registry,
		Metrics:   metrics,
	}
}

// URL returns the full URL for a given path.
func (c *TestServerComponents) URL(path string) string {
	return c.Server.URL + path
}

// Do sends a request with an optional JSON body and returns the response.
func (c *TestServerComponents) Do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		r = JSONBody(t, body)
	}
	req, err := http.NewRequest(method, c.URL(path), r)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return DoRequest(t, c.Server.Client(), req)
}

// DoRequest performs an HTTP request and returns the response.
func DoRequest(t *testing.T, client *http.Client, req *http.Request) *http.Response {
	t.Helper()
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// AssertStatus checks that the response has the expected status code.
func AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d: %s", expected, resp.StatusCode, data)
	}
}

// JSONBody creates an io.Reader from a JSON-serializable value.
func JSONBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return bytes.NewReader(data)
}

// ReadJSONResponse reads and unmarshals a JSON response body.
func ReadJSONResponse(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("failed to unmarshal response: %v\nBody: %s", err, string(data))
	}
}
