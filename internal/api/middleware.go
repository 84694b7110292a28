package api

import (
	"math"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"taskrails/internal/observability"
)

const (
	requestIDHeader    = "X-Request-ID"
	maxRequestIDLength = 64

	defaultRateLimitRPS   = 20.0
	defaultRateLimitBurst = 40

	visitorIdleTTL = 5 * time.Minute
	sweepEvery     = 30 * time.Second
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// ApplyMiddlewares wraps h so that the first middleware runs first.
func ApplyMiddlewares(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RateLimitConfig configures the per-client token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Enabled reports whether rate limiting should be enforced.
func (c RateLimitConfig) Enabled() bool {
	return c.RequestsPerSecond > 0 && c.Burst > 0
}

// DefaultRateLimitConfig reads TASKRAILS_RATE_LIMIT_RPS and
// TASKRAILS_RATE_LIMIT_BURST, falling back to 20 RPS and a burst of 40.
// Every chat turn costs a completion, so the defaults are modest.
func DefaultRateLimitConfig() RateLimitConfig {
	cfg := RateLimitConfig{RequestsPerSecond: defaultRateLimitRPS, Burst: defaultRateLimitBurst}
	if v, err := strconv.ParseFloat(os.Getenv("TASKRAILS_RATE_LIMIT_RPS"), 64); err == nil && v >= 0 {
		cfg.RequestsPerSecond = v
	}
	if v, err := strconv.Atoi(os.Getenv("TASKRAILS_RATE_LIMIT_BURST")); err == nil && v > 0 {
		cfg.Burst = v
	}
	return cfg
}

// RequestIDMiddleware keeps a well-formed incoming X-Request-ID or assigns a
// new one, and puts it on the response and the request context.
func RequestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := sanitizeRequestID(r.Header.Get(requestIDHeader))
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(observability.WithRequestID(r.Context(), id)))
		})
	}
}

func sanitizeRequestID(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" || len(id) > maxRequestIDLength {
		return ""
	}
	valid := strings.IndexFunc(id, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' || r == '.')
	}) < 0
	if !valid {
		return ""
	}
	return id
}

// TracingMiddleware runs each request inside a Sentry transaction on a
// request-scoped hub. Without a configured client the transaction is a no-op.
func TracingMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			hub := sentry.GetHubFromContext(ctx)
			if hub == nil {
				hub = sentry.CurrentHub().Clone()
				ctx = sentry.SetHubOnContext(ctx, hub)
			}
			tx := sentry.StartTransaction(ctx, r.Method+" "+r.URL.Path,
				sentry.WithOpName("http.server"),
				sentry.ContinueFromRequest(r),
				sentry.WithTransactionSource(sentry.SourceURL),
			)
			defer tx.Finish()

			r = r.WithContext(tx.Context())
			hub.Scope().SetRequest(r)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			tx.Status = sentry.HTTPtoSpanStatus(rec.status)
		})
	}
}

// LoggingMiddleware writes one log line per request, at warn level for 4xx
// and error level for 5xx.
func LoggingMiddleware(logger observability.Logger) Middleware {
	logger = observability.OrDiscard(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			log := logger.InfoContext
			switch {
			case rec.status >= http.StatusInternalServerError:
				log = logger.ErrorContext
			case rec.status >= http.StatusBadRequest:
				log = logger.WarnContext
			}
			log(r.Context(), "request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// RecoverMiddleware turns a handler panic into a 500 response, reporting it
// to Sentry.
func RecoverMiddleware(logger observability.Logger) Middleware {
	logger = observability.OrDiscard(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				ctx := r.Context()
				if hub := sentry.GetHubFromContext(ctx); hub != nil {
					hub.RecoverWithContext(ctx, p)
				}
				logger.ErrorContext(ctx, "panic recovered", "method", r.Method, "path", r.URL.Path, "panic", p)
				writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal server error"})
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// visitors holds one token bucket per client, dropping idle ones.
type visitors struct {
	cfg       RateLimitConfig
	mu        sync.Mutex
	buckets   map[string]*visitor
	lastSweep time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (v *visitors) get(key string, now time.Time) *rate.Limiter {
	v.mu.Lock()
	defer v.mu.Unlock()
	if now.Sub(v.lastSweep) > sweepEvery {
		for k, b := range v.buckets {
			if now.Sub(b.lastSeen) > visitorIdleTTL {
				delete(v.buckets, k)
			}
		}
		v.lastSweep = now
	}
	b, ok := v.buckets[key]
	if !ok {
		b = &visitor{limiter: rate.NewLimiter(rate.Limit(v.cfg.RequestsPerSecond), v.cfg.Burst)}
		v.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// RateLimitMiddleware enforces a token bucket per client host. Every response
// carries X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset;
// rejected requests get 429 with Retry-After.
func RateLimitMiddleware(cfg RateLimitConfig, logger observability.Logger) Middleware {
	if !cfg.Enabled() {
		return func(next http.Handler) http.Handler { return next }
	}
	logger = observability.OrDiscard(logger)
	clients := &visitors{cfg: cfg, buckets: make(map[string]*visitor)}
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)
	refill := time.Duration(float64(time.Second) / cfg.RequestsPerSecond)
	retryAfter := strconv.Itoa(max(int(math.Ceil(1/cfg.RequestsPerSecond)), 1))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			key := clientKey(r)
			limiter := clients.get(key, now)

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(max(int(limiter.TokensAt(now)), 0)))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(refill).Unix(), 10))

			if !limiter.AllowN(now, 1) {
				logger.WarnContext(r.Context(), "rate limit exceeded", "method", r.Method, "path", r.URL.Path, "client", key)
				h.Set("Retry-After", retryAfter)
				writeJSON(w, http.StatusTooManyRequests, apiError{Error: "too many requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey identifies the caller by remote host.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
