package route

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrInvalidPattern  = errors.New("invalid route pattern")
	ErrInvalidLocation = errors.New("invalid route location")
)

const (
	SourceStatic = "static"
	SourceFile   = "file"
	SourceConsul = "consul"
)

// Route is an immutable mapping from a path pattern to a backend location.
type Route struct {
	ID          string
	Path        string
	Location    string
	StripPrefix bool
	Source      string

	// Prefix is the part of Path that is removed before forwarding.
	// Empty unless StripPrefix is set and Path contains a wildcard.
	Prefix string

	pattern pattern
}

// Locator resolves a path within the application to the route serving it.
type Locator interface {
	MatchingRoute(path string) (*Route, bool)
	Routes() []Route
}

// New builds a route. An empty id defaults to the pattern.
func New(id, path, location string, stripPrefix bool) (Route, error) {
	p, err := compilePattern(path)
	if err != nil {
		return Route{}, err
	}

	if err := validateLocation(location); err != nil {
		return Route{}, err
	}

	if id == "" {
		id = path
	}

	r := Route{
		ID:          id,
		Path:        path,
		Location:    location,
		StripPrefix: stripPrefix,
		pattern:     p,
	}

	if stripPrefix {
		if idx := strings.Index(path, "*") - 1; idx > 0 {
			r.Prefix = path[:idx]
		}
	}

	return r, nil
}

// Matches reports whether path is served by this route.
func (r Route) Matches(path string) bool {
	return r.pattern.match(path)
}

// TargetPath returns the path forwarded to the backend.
func (r Route) TargetPath(path string) string {
	if r.Prefix == "" || !strings.HasPrefix(path, r.Prefix) {
		return path
	}

	target := path[len(r.Prefix):]
	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}
	return target
}

// ExternalPrefix is the path segment clients see in front of whatever the
// backend considers its own root.
func (r Route) ExternalPrefix() string {
	return r.Prefix
}

func (r Route) String() string {
	return fmt.Sprintf("%s (%s -> %s)", r.ID, r.Path, r.Location)
}

func validateLocation(location string) error {
	u, err := url.Parse(location)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidLocation, location, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q: scheme must be http or https", ErrInvalidLocation, location)
	}

	if u.Host == "" {
		return fmt.Errorf("%w: %q: missing host", ErrInvalidLocation, location)
	}

	return nil
}
