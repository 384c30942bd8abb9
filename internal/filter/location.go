package filter

import (
	"strings"

	"github.com/angeloszaimis/bookstore-proxy/internal/route"
)

const LocationHeader = "Location"

// LocationRewriteOrder places the rewriter after the default response filters.
const LocationRewriteOrder = 100

// LocationRewriter replaces the backend location of the matched route inside
// the response Location header with the proxy's own external URL.
//
//	route     /orders/** -> http://backend-host:8080/orders
//	request   https://proxy.example.com/orders/5
//	Location  http://backend-host:8080/orders/5/status
//	becomes   https://proxy.example.com/orders/5/status
//
// The route is resolved from the inbound path, never from the path the
// backend received. Only the first occurrence is replaced.
type LocationRewriter struct {
	locator   route.Locator
	opts      BaseURLOptions
	onRewrite func(routeID string)
}

// NewLocationRewriter creates the rewriter. onRewrite may be nil.
func NewLocationRewriter(locator route.Locator, opts BaseURLOptions, onRewrite func(routeID string)) *LocationRewriter {
	return &LocationRewriter{
		locator:   locator,
		opts:      opts,
		onRewrite: onRewrite,
	}
}

func (l *LocationRewriter) Name() string { return "location-rewrite" }
func (l *LocationRewriter) Type() Type   { return Post }
func (l *LocationRewriter) Order() int   { return LocationRewriteOrder }

// ShouldApply reports whether the response carries a header named exactly "Location".
func (l *LocationRewriter) ShouldApply(fc *Context) bool {
	return fc.ResponseHeaders.Has(LocationHeader)
}

func (l *LocationRewriter) Apply(fc *Context) error {
	entry, ok := fc.ResponseHeaders.Find(LocationHeader)
	if !ok {
		return nil
	}

	matched, ok := l.locator.MatchingRoute(fc.Path)
	if !ok || matched.Location == "" {
		return nil
	}

	base, err := ExternalBaseURL(fc.Request, l.opts)
	if err != nil {
		return err
	}

	current := entry.Value()
	updated := strings.Replace(current, matched.Location, Replacement(base, matched), 1)
	if updated == current {
		return nil
	}

	entry.SetValue(updated)
	if l.onRewrite != nil {
		l.onRewrite(matched.ID)
	}
	return nil
}

// Replacement is the text substituted for r.Location: the external base URL
// joined with the path prefix the route strips. A trailing slash on the
// backend location is mirrored so the remainder of the URL is not altered.
func Replacement(base string, r *route.Route) string {
	s := strings.TrimSuffix(base, "/") + r.ExternalPrefix()
	if strings.HasSuffix(r.Location, "/") && !strings.HasSuffix(s, "/") {
		s += "/"
	}
	return s
}
