// Package httpserver runs the proxy's listener with validated addresses,
// conservative timeouts and bounded graceful shutdown.
package httpserver
