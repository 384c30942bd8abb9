package filter

import (
	"errors"
	"net"
	"net/http"
	"strings"
)

var ErrMissingHost = errors.New("request has no host")

// BaseURLOptions controls how the client-facing base URL is derived.
type BaseURLOptions struct {
	// TrustForwarded honours X-Forwarded-Proto, -Host and -Port.
	TrustForwarded bool
	// ContextPath is the path the proxy itself is mounted under, e.g. "/shop".
	ContextPath string
}

// ExternalBaseURL returns "scheme://host[:port]<context path>/" as seen by
// the client that sent r. Default ports are omitted.
func ExternalBaseURL(r *http.Request, opts BaseURLOptions) (string, error) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	host := r.Host
	if host == "" && r.URL != nil {
		host = r.URL.Host
	}

	var port string
	if opts.TrustForwarded {
		if v := firstValue(r.Header.Get("X-Forwarded-Proto")); v != "" {
			scheme = strings.ToLower(v)
		}
		if v := firstValue(r.Header.Get("X-Forwarded-Host")); v != "" {
			host = v
		}
		port = firstValue(r.Header.Get("X-Forwarded-Port"))
	}

	if host == "" {
		return "", ErrMissingHost
	}

	hostname, hostPort := splitHostPort(host)
	if port == "" {
		port = hostPort
	}

	authority := hostname
	if port != "" && port != defaultPort(scheme) {
		authority = net.JoinHostPort(strings.Trim(hostname, "[]"), port)
	}

	return scheme + "://" + authority + NormalizeContextPath(opts.ContextPath) + "/", nil
}

// NormalizeContextPath returns "" or a path with a leading and no trailing slash.
func NormalizeContextPath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

func firstValue(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

func splitHostPort(host string) (string, string) {
	h, p, err := net.SplitHostPort(host)
	if err != nil {
		return host, ""
	}
	if strings.Contains(h, ":") {
		h = "[" + h + "]"
	}
	return h, p
}

func defaultPort(scheme string) string {
	switch scheme {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}
