// Package filter runs ordered request and response filters around a proxied
// exchange.
//
// Filters are registered explicitly on a Pipeline at startup. Pre filters see
// the outbound request before it is forwarded; post filters see the backend
// response headers before they are committed to the client. A filter that
// fails is logged and skipped, it never fails the exchange.
//
// The LocationRewriter post filter rewrites backend-absolute Location headers
// so that redirects point at the proxy instead of the backend.
package filter
