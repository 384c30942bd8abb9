// Package config loads the proxy configuration from a YAML file and the
// environment. It covers the listener and context path, the route table
// sources (inline routes, a routes file, Consul), proxy header handling,
// health checks, circuit breaking, metrics and tracing.
package config
