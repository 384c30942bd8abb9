package healthcheck

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/angeloszaimis/bookstore-proxy/internal/backend"
)

const DefaultPath = "/health"

// Checker sends GET requests to the health path of each backend in a pool.
// The path is resolved against the backend host, not the location path.
type Checker struct {
	pool     *backend.Pool
	path     string
	client   *http.Client
	logger   *slog.Logger
	onChange func(b *backend.Backend, healthy bool)
}

// New creates a Checker. onChange, if set, is called when a backend flips.
func New(pool *backend.Pool, path string, logger *slog.Logger, onChange func(*backend.Backend, bool)) *Checker {
	if path == "" {
		path = DefaultPath
	}

	return &Checker{
		pool: pool,
		path: path,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger:   logger,
		onChange: onChange,
	}
}

// Run checks all backends every interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Health check stopped")
			return

		case <-ticker.C:
			c.CheckAll(ctx)
		}
	}
}

// CheckAll checks every pooled backend once.
func (c *Checker) CheckAll(ctx context.Context) {
	for _, b := range c.pool.All() {
		c.Check(ctx, b)
	}
}

// Check queries one backend and records the result.
func (c *Checker) Check(ctx context.Context, b *backend.Backend) {
	healthy := c.ping(ctx, b)
	if ctx.Err() != nil {
		return
	}

	if !b.SetHealthy(healthy) {
		return
	}

	if healthy {
		c.logger.Info("Server is back up",
			slog.String("server", b.URL().String()))
	} else {
		c.logger.Warn("Server is down",
			slog.String("server", b.URL().String()))
	}

	if c.onChange != nil {
		c.onChange(b, healthy)
	}
}

func (c *Checker) ping(ctx context.Context, b *backend.Backend) bool {
	healthURL := b.URL().ResolveReference(&url.URL{Path: c.path})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL.String(), nil)
	if err != nil {
		return false
	}

	res, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer res.Body.Close()

	return res.StatusCode == http.StatusOK
}
