package backend

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Pool hands out one Backend per location, creating it on first use.
type Pool struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	backends map[string]*Backend
	onCreate func(*Backend)
}

// NewPool creates an empty pool. onCreate, if set, runs once per new backend.
func NewPool(logger *slog.Logger, onCreate func(*Backend)) *Pool {
	return &Pool{
		logger:   logger,
		backends: make(map[string]*Backend),
		onCreate: onCreate,
	}
}

func (p *Pool) Get(location string) (*Backend, error) {
	p.mu.RLock()
	b, exists := p.backends[location]
	p.mu.RUnlock()

	if exists {
		return b, nil
	}

	p.mu.Lock()
	if b, exists = p.backends[location]; exists {
		p.mu.Unlock()
		return b, nil
	}

	b, err := Parse(location, p.logger)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.backends[location] = b
	p.mu.Unlock()

	p.logger.Info("Backend added", slog.String("backend", location))
	if p.onCreate != nil {
		p.onCreate(b)
	}

	return b, nil
}

// All returns the pooled backends ordered by location.
func (p *Pool) All() []*Backend {
	p.mu.RLock()
	all := make([]*Backend, 0, len(p.backends))
	for _, b := range p.backends {
		all = append(all, b)
	}
	p.mu.RUnlock()

	slices.SortFunc(all, func(a, b *Backend) int {
		return strings.Compare(a.URL().String(), b.URL().String())
	})
	return all
}

// Retain drops every backend whose location is not listed and returns how
// many were removed.
func (p *Pool) Retain(locations []string) int {
	keep := make(map[string]struct{}, len(locations))
	for _, l := range locations {
		keep[l] = struct{}{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for location := range p.backends {
		if _, ok := keep[location]; !ok {
			delete(p.backends, location)
			removed++
			p.logger.Info("Backend removed", slog.String("backend", location))
		}
	}
	return removed
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.backends)
}
