// Package circuitbreaker stops forwarding to backend locations that keep
// failing.
//
// A breaker has three states:
//
//   - CLOSED: requests pass through
//   - OPEN: requests are rejected until the reset timeout elapses
//   - HALF-OPEN: a single trial request decides whether to close again
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(5, 30*time.Second)
//	cb := registry.GetBreaker("http://orders:8080/orders")
//	if cb.Allow() {
//	    status := forward()
//	    cb.Record(status)
//	}
package circuitbreaker
