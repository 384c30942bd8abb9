package circuitbreaker

import (
	"sync"
	"time"
)

// Registry keeps one breaker per backend location.
type Registry struct {
	mutex     sync.RWMutex
	breakers  map[string]*CircuitBreaker
	threshold int
	timeout   time.Duration
}

func NewRegistry(threshold int, timeout time.Duration) *Registry {
	return &Registry{
		breakers:  make(map[string]*CircuitBreaker),
		threshold: threshold,
		timeout:   timeout,
	}
}

func (r *Registry) GetBreaker(location string) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[location]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// another goroutine may have created it
	if cb, exists = r.breakers[location]; exists {
		return cb
	}

	cb = NewCircuitBreaker(r.threshold, r.timeout)
	r.breakers[location] = cb
	return cb
}

// Remove forgets the breaker of a location that is no longer routed.
func (r *Registry) Remove(location string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.breakers, location)
}

func (r *Registry) Stats() map[string]State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]State, len(r.breakers))
	for location, cb := range r.breakers {
		stats[location] = cb.State()
	}
	return stats
}
