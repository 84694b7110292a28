package observability

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsConfig holds configuration for the metrics subsystem.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool
	// Namespace prefix for all metrics (default: taskrails).
	Namespace string
	// Version is the application version for the info metric.
	Version string
}

// DefaultMetricsConfig returns the default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "taskrails",
		Version:   "dev",
	}
}

// MetricsConfigFromEnv creates a MetricsConfig from environment variables.
// TASKRAILS_METRICS_ENABLED: true/false (default: true)
// APP_VERSION: version string (default: dev)
func MetricsConfigFromEnv() MetricsConfig {
	cfg := DefaultMetricsConfig()
	if v := os.Getenv("TASKRAILS_METRICS_ENABLED"); v != "" {
		cfg.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("APP_VERSION"); v != "" {
		cfg.Version = v
	}
	return cfg
}

// counterVec is a set of counters keyed by label values joined with "|".
type counterVec struct {
	mu     sync.RWMutex
	values map[string]*atomic.Int64
}

func newCounterVec() *counterVec {
	return &counterVec{values: make(map[string]*atomic.Int64)}
}

func (c *counterVec) inc(labels ...string) {
	key := strings.Join(labels, "|")
	c.mu.RLock()
	v, ok := c.values[key]
	c.mu.RUnlock()
	if !ok {
		c.mu.Lock()
		if v, ok = c.values[key]; !ok {
			v = &atomic.Int64{}
			c.values[key] = v
		}
		c.mu.Unlock()
	}
	v.Add(1)
}

func (c *counterVec) get(labels ...string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.values[strings.Join(labels, "|")]; ok {
		return v.Load()
	}
	return 0
}

// write emits one sample per label set, sorted for deterministic output.
func (c *counterVec) write(w io.Writer, metric string, names ...string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vals := strings.SplitN(k, "|", len(names))
		pairs := make([]string, len(names))
		for i, n := range names {
			v := ""
			if i < len(vals) {
				v = vals[i]
			}
			pairs[i] = fmt.Sprintf("%s=%q", n, v)
		}
		fmt.Fprintf(w, "%s{%s} %d\n", metric, strings.Join(pairs, ","), c.values[k].Load())
	}
}

// durationCollector keeps a sliding window of samples for quantiles.
type durationCollector struct {
	mu      sync.Mutex
	samples []float64
	maxSize int
}

func newDurationCollector(maxSize int) *durationCollector {
	return &durationCollector{
		samples: make([]float64, 0, maxSize),
		maxSize: maxSize,
	}
}

func (d *durationCollector) add(duration time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.samples) >= d.maxSize {
		copy(d.samples, d.samples[1:])
		d.samples = d.samples[:len(d.samples)-1]
	}
	d.samples = append(d.samples, duration.Seconds())
}

func (d *durationCollector) quantile(q float64) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), d.samples...)
	sort.Float64s(sorted)

	idx := q * float64(len(sorted)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

func (d *durationCollector) sum() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var total float64
	for _, s := range d.samples {
		total += s
	}
	return total
}

func (d *durationCollector) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.samples)
}

// summaryVec groups duration collectors by a label value.
type summaryVec struct {
	mu         sync.RWMutex
	collectors map[string]*durationCollector
}

func newSummaryVec() *summaryVec {
	return &summaryVec{collectors: make(map[string]*durationCollector)}
}

func (s *summaryVec) observe(key string, d time.Duration) {
	s.mu.Lock()
	c, ok := s.collectors[key]
	if !ok {
		c = newDurationCollector(1000)
		s.collectors[key] = c
	}
	s.mu.Unlock()
	c.add(d)
}

// write emits quantiles, sum and count. labels renders the label set for a key.
func (s *summaryVec) write(w io.Writer, metric string, labels func(key string) string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.collectors))
	for k := range s.collectors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c := s.collectors[k]
		l := labels(k)
		for _, q := range []float64{0.5, 0.9, 0.99} {
			fmt.Fprintf(w, "%s{%s,quantile=\"%.2f\"} %.6f\n", metric, l, q, c.quantile(q))
		}
		fmt.Fprintf(w, "%s_sum{%s} %.6f\n", metric, l, c.sum())
		fmt.Fprintf(w, "%s_count{%s} %d\n", metric, l, c.count())
	}
}

// Metrics provides application metrics collection.
// Thread-safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	namespace string
	version   string

	httpRequests  *counterVec // method, path, status
	httpDurations *summaryVec // "method path"

	chatTurns   *counterVec // outcome
	extractions *counterVec // strategy
	deploySinks *counterVec // sink, outcome
	completions *summaryVec // provider

	rateLimitAllowed  atomic.Int64
	rateLimitRejected atomic.Int64
	activeConnections atomic.Int64
}

// NewMetrics creates a new Metrics collector.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "taskrails"
	}
	return &Metrics{
		namespace:     cfg.Namespace,
		version:       cfg.Version,
		httpRequests:  newCounterVec(),
		httpDurations: newSummaryVec(),
		chatTurns:     newCounterVec(),
		extractions:   newCounterVec(),
		deploySinks:   newCounterVec(),
		completions:   newSummaryVec(),
	}
}

// RecordHTTPRequest records an HTTP request with its method, path, status code, and duration.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	p := normalizePath(path)
	m.httpRequests.inc(method, p, strconv.Itoa(statusCode))
	m.httpDurations.observe(method+" "+p, duration)
}

// RecordChatTurn counts a finished chat turn by outcome (ok, provider_error, stale).
func (m *Metrics) RecordChatTurn(outcome string) {
	if m == nil {
		return
	}
	m.chatTurns.inc(outcome)
}

// RecordExtraction counts a field populated by an extraction strategy.
func (m *Metrics) RecordExtraction(strategy string) {
	if m == nil {
		return
	}
	m.extractions.inc(strategy)
}

// RecordDeploySink counts one sink write during deployment.
func (m *Metrics) RecordDeploySink(sink string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.deploySinks.inc(sink, outcome)
}

// RecordCompletion records the latency of a completion request.
func (m *Metrics) RecordCompletion(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.completions.observe(provider, d)
}

// ChatTurns returns the count for one outcome. Intended for tests and diagnostics.
func (m *Metrics) ChatTurns(outcome string) int64 {
	if m == nil {
		return 0
	}
	return m.chatTurns.get(outcome)
}

// DeploySinks returns the count for one sink and outcome.
func (m *Metrics) DeploySinks(sink string, ok bool) int64 {
	if m == nil {
		return 0
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	return m.deploySinks.get(sink, outcome)
}

// RecordRateLimitAllowed increments the count of allowed requests.
func (m *Metrics) RecordRateLimitAllowed() {
	if m != nil {
		m.rateLimitAllowed.Add(1)
	}
}

// RecordRateLimitRejected increments the count of rejected requests.
func (m *Metrics) RecordRateLimitRejected() {
	if m != nil {
		m.rateLimitRejected.Add(1)
	}
}

// IncrementActiveConnections increments the active connection gauge.
func (m *Metrics) IncrementActiveConnections() {
	if m != nil {
		m.activeConnections.Add(1)
	}
}

// DecrementActiveConnections decrements the active connection gauge.
func (m *Metrics) DecrementActiveConnections() {
	if m != nil {
		m.activeConnections.Add(-1)
	}
}

// normalizePath replaces numeric and UUID segments and project ids with
// {id} to keep label cardinality bounded.
func normalizePath(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		switch {
		case part == "":
		case len(part) == 36 && strings.Count(part, "-") == 4:
			parts[i] = "{id}"
		case strings.HasPrefix(part, "project-"):
			parts[i] = "{id}"
		default:
			if _, err := strconv.ParseInt(part, 10, 64); err == nil {
				parts[i] = "{id}"
			}
		}
	}
	return strings.Join(parts, "/")
}

// Handler returns an http.Handler that serves Prometheus-format metrics.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		if m == nil {
			return
		}
		m.writePrometheus(w)
	})
}

func (m *Metrics) writePrometheus(w io.Writer) {
	ns := m.namespace
	header := func(name, help, kind string) {
		fmt.Fprintf(w, "# HELP %s_%s %s\n# TYPE %s_%s %s\n", ns, name, help, ns, name, kind)
	}

	header("info", "Application information", "gauge")
	fmt.Fprintf(w, "%s_info{version=%q} 1\n\n", ns, m.version)

	header("http_requests_total", "Total number of HTTP requests", "counter")
	m.httpRequests.write(w, ns+"_http_requests_total", "method", "path", "status")
	fmt.Fprintln(w)

	header("http_request_duration_seconds", "HTTP request duration in seconds", "summary")
	m.httpDurations.write(w, ns+"_http_request_duration_seconds", func(key string) string {
		method, path, _ := strings.Cut(key, " ")
		return fmt.Sprintf("method=%q,path=%q", method, path)
	})
	fmt.Fprintln(w)

	header("chat_turns_total", "Setup chat turns by outcome", "counter")
	m.chatTurns.write(w, ns+"_chat_turns_total", "outcome")
	fmt.Fprintln(w)

	header("extractions_total", "Configuration fields extracted by strategy", "counter")
	m.extractions.write(w, ns+"_extractions_total", "strategy")
	fmt.Fprintln(w)

	header("deploy_sink_total", "Deployment sink writes by outcome", "counter")
	m.deploySinks.write(w, ns+"_deploy_sink_total", "sink", "outcome")
	fmt.Fprintln(w)

	header("completion_duration_seconds", "LLM completion latency in seconds", "summary")
	m.completions.write(w, ns+"_completion_duration_seconds", func(key string) string {
		return fmt.Sprintf("provider=%q", key)
	})
	fmt.Fprintln(w)

	header("rate_limit_requests_total", "Total rate limit decisions", "counter")
	fmt.Fprintf(w, "%s_rate_limit_requests_total{status=\"allowed\"} %d\n", ns, m.rateLimitAllowed.Load())
	fmt.Fprintf(w, "%s_rate_limit_requests_total{status=\"rejected\"} %d\n\n", ns, m.rateLimitRejected.Load())

	header("active_connections", "Current number of active HTTP connections", "gauge")
	fmt.Fprintf(w, "%s_active_connections %d\n", ns, m.activeConnections.Load())
}

// MetricsMiddleware returns an HTTP middleware that records request metrics.
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	if m == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			m.IncrementActiveConnections()
			defer m.DecrementActiveConnections()

			start := time.Now()
			wrapped := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			m.RecordHTTPRequest(r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
		})
	}
}

// RateLimitMetricsMiddleware records allow/reject decisions of the rate
// limiting middleware it wraps.
func RateLimitMetricsMiddleware(m *Metrics, rateLimitEnabled bool) func(http.Handler) http.Handler {
	if m == nil || !rateLimitEnabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			if wrapped.statusCode == http.StatusTooManyRequests {
				m.RecordRateLimitRejected()
			} else {
				m.RecordRateLimitAllowed()
			}
		})
	}
}

type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap returns the underlying ResponseWriter for http.ResponseController.
func (w *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack lets websocket upgrades pass through the metrics wrapper.
func (w *metricsResponseWriter) Hijack() (c net.Conn, rw *bufio.ReadWriter, err error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}
