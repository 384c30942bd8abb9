// Package handler implements the proxy's request handler. A request is
// matched to a route by its path within the application and refused early
// when the backend is unhealthy or its circuit is open. Otherwise it is
// forwarded, with post filters applied to the response headers before the
// status line is written.
package handler
