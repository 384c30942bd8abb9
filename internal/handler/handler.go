package handler

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angeloszaimis/bookstore-proxy/internal/backend"
	"github.com/angeloszaimis/bookstore-proxy/internal/circuitbreaker"
	"github.com/angeloszaimis/bookstore-proxy/internal/filter"
	"github.com/angeloszaimis/bookstore-proxy/internal/header"
	"github.com/angeloszaimis/bookstore-proxy/internal/metrics"
	"github.com/angeloszaimis/bookstore-proxy/internal/route"
)

// Options groups the collaborators of a ProxyHandler. Breakers and
// Collector are optional.
type Options struct {
	Locator     route.Locator
	Pool        *backend.Pool
	Pipeline    *filter.Pipeline
	Breakers    *circuitbreaker.Registry
	Collector   *metrics.Collector
	ContextPath string
}

type ProxyHandler struct {
	logger      *slog.Logger
	locator     route.Locator
	pool        *backend.Pool
	pipeline    *filter.Pipeline
	breakers    *circuitbreaker.Registry
	collector   *metrics.Collector
	contextPath string
}

func NewProxyHandler(logger *slog.Logger, opts Options) *ProxyHandler {
	return &ProxyHandler{
		logger:      logger,
		locator:     opts.Locator,
		pool:        opts.Pool,
		pipeline:    opts.Pipeline,
		breakers:    opts.Breakers,
		collector:   opts.Collector,
		contextPath: filter.NormalizeContextPath(opts.ContextPath),
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := extractClientIP(r)

	h.logger.Debug("Received request",
		slog.String("from", clientIP),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("host", r.Host),
		slog.String("user_agent", r.UserAgent()))

	path, ok := pathWithinApplication(r.URL.Path, h.contextPath)
	if !ok {
		http.NotFound(w, r)
		return
	}

	matched, ok := h.locator.MatchingRoute(path)
	if !ok {
		h.collector.Emit(metrics.MetricEvent{Type: metrics.EventRouteMissed})
		h.logger.Info("No route for path", slog.String("path", path))
		http.Error(w, "No route for path", http.StatusNotFound)
		return
	}

	h.collector.Emit(metrics.MetricEvent{
		Type:  metrics.EventRequestReceived,
		Route: matched.ID,
	})

	b, err := h.pool.Get(matched.Location)
	if err != nil {
		h.logger.Error("Route has an unusable location",
			slog.String("route", matched.ID),
			slog.String("error", err.Error()))
		http.Error(w, "Bad gateway", http.StatusBadGateway)
		return
	}

	if !b.IsHealthy() {
		h.logger.Warn("Backend unhealthy",
			slog.String("route", matched.ID),
			slog.String("backend", matched.Location))
		http.Error(w, "No healthy server available", http.StatusServiceUnavailable)
		return
	}

	var cb *circuitbreaker.CircuitBreaker
	if h.breakers != nil {
		cb = h.breakers.GetBreaker(matched.Location)
		if !cb.Allow() {
			h.logger.Warn("Circuit open",
				slog.String("route", matched.ID),
				slog.String("backend", matched.Location))
			http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	fc := filter.NewContext(r, path)
	fc.Route = matched

	outbound := r.Clone(r.Context())
	outbound.URL.Path, outbound.URL.RawPath = outboundPath(r.URL, h.contextPath, matched, path)
	fc.Outbound = outbound

	h.pipeline.Run(filter.Pre, fc)

	wrapped := newPostFilterWriter(w, func(code int) {
		fc.StatusCode = code
		fc.ResponseHeaders = header.NewStore(w.Header())
		h.pipeline.Run(filter.Post, fc)
	})

	b.IncrementConn()
	defer b.DecrementConn()
	start := time.Now()

	// ReverseProxy panics with http.ErrAbortHandler when the body copy fails.
	defer func() {
		if rec := recover(); rec != nil {
			if cb != nil {
				cb.RecordFailure()
			}
			h.logger.Warn("Proxied request aborted",
				slog.String("route", matched.ID),
				slog.String("path", r.URL.Path),
				slog.Any("reason", rec))
			panic(rec)
		}
	}()

	b.ReverseProxy().ServeHTTP(wrapped, outbound)

	duration := time.Since(start)
	status := wrapped.status()

	if cb != nil {
		cb.Record(status)
	}
	b.RecordResponse(duration)

	h.collector.Emit(metrics.MetricEvent{
		Type:       metrics.EventResponseCompleted,
		Route:      matched.ID,
		Backend:    matched.Location,
		Duration:   duration,
		StatusCode: status,
	})

	h.logger.Info("Proxied request",
		slog.String("client", clientIP),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("route", matched.ID),
		slog.String("target", outbound.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", duration))
}

func pathWithinApplication(p, contextPath string) (string, bool) {
	if contextPath == "" {
		return p, true
	}
	if p == contextPath {
		return "/", true
	}
	if strings.HasPrefix(p, contextPath+"/") {
		return p[len(contextPath):], true
	}
	return "", false
}

// outboundPath strips the route prefix from the decoded and escaped forms
// of the request path, so encoded slashes reach the backend unchanged.
// RawPath is empty when the escaped form cannot be stripped consistently.
func outboundPath(u *url.URL, contextPath string, matched *route.Route, path string) (string, string) {
	target := matched.TargetPath(path)

	escaped, ok := pathWithinApplication(u.EscapedPath(), contextPath)
	if !ok {
		return target, ""
	}

	rawTarget := matched.TargetPath(escaped)
	if decoded, err := url.PathUnescape(rawTarget); err != nil || decoded != target {
		return target, ""
	}
	if rawTarget == target {
		return target, ""
	}
	return target, rawTarget
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}
