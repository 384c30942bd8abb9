// Package healthcheck checks every pooled backend on a fixed interval and
// flips its health status according to the response of the health endpoint.
package healthcheck
