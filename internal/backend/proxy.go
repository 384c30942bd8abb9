package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"
)

var ErrInvalidLocation = errors.New("invalid backend location")

// Backend is a single upstream location with health status, connection
// tracking and response time monitoring.
type Backend struct {
	url               *url.URL
	proxy             *httputil.ReverseProxy
	mutex             sync.Mutex
	isHealthy         bool
	activeConnections int
	ewmaResponseTime  time.Duration
	hasEWMA           bool
}

const ewmaAlpha = 0.2

// New creates a healthy backend for u. Requests handed to its proxy keep
// their path, which is joined onto the path of u.
func New(u *url.URL, logger *slog.Logger) *Backend {
	b := &Backend{
		url:       u,
		isHealthy: true,
	}

	b.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(u)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("Backend request failed",
				slog.String("backend", u.String()),
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()))
			w.WriteHeader(http.StatusBadGateway)
		},
	}

	return b
}

// Parse validates location and creates a backend for it.
func Parse(location string, logger *slog.Logger) (*Backend, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q: scheme must be http or https", ErrInvalidLocation, location)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %q: missing host", ErrInvalidLocation, location)
	}

	return New(u, logger), nil
}

// ReverseProxy returns the HTTP reverse proxy for this backend.
func (b *Backend) ReverseProxy() *httputil.ReverseProxy {
	return b.proxy
}

// URL returns the backend location.
func (b *Backend) URL() *url.URL {
	return b.url
}

func (b *Backend) IncrementConn() {
	b.mutex.Lock()
	b.activeConnections++
	b.mutex.Unlock()
}

func (b *Backend) DecrementConn() {
	b.mutex.Lock()
	if b.activeConnections > 0 {
		b.activeConnections--
	}
	b.mutex.Unlock()
}

func (b *Backend) ActiveConnections() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.activeConnections
}

func (b *Backend) IsHealthy() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.isHealthy
}

// SetHealthy updates the health status and reports whether it changed.
func (b *Backend) SetHealthy(healthy bool) (changed bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.isHealthy == healthy {
		return false
	}

	b.isHealthy = healthy
	return true
}

// RecordResponse folds duration into the moving average response time.
func (b *Backend) RecordResponse(duration time.Duration) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.hasEWMA {
		b.ewmaResponseTime = duration
		b.hasEWMA = true
		return
	}
	//ewma = (1 - α) * ewma + α * latest
	b.ewmaResponseTime = time.Duration((1-ewmaAlpha)*float64(b.ewmaResponseTime) + ewmaAlpha*float64(duration))
}

// EWMATime returns the moving average response time, 0 before the first response.
func (b *Backend) EWMATime() time.Duration {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.hasEWMA {
		return 0
	}

	return b.ewmaResponseTime
}

// Status is a point-in-time view of a backend.
type Status struct {
	URL               string  `json:"url"`
	Healthy           bool    `json:"healthy"`
	ActiveConnections int     `json:"active_connections"`
	EWMAMs            float64 `json:"ewma_ms"`
}

func (b *Backend) Status() Status {
	return Status{
		URL:               b.url.String(),
		Healthy:           b.IsHealthy(),
		ActiveConnections: b.ActiveConnections(),
		EWMAMs:            float64(b.EWMATime().Microseconds()) / 1000,
	}
}
