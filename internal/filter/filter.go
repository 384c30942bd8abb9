package filter

import (
	"net/http"

	"github.com/angeloszaimis/bookstore-proxy/internal/header"
	"github.com/angeloszaimis/bookstore-proxy/internal/route"
)

type Type string

const (
	Pre  Type = "pre"
	Post Type = "post"
)

// Filter is a single step of the pipeline.
type Filter interface {
	Name() string
	Type() Type
	Order() int
	ShouldApply(fc *Context) bool
	Apply(fc *Context) error
}

// Context is the per-exchange state handed to every filter. It is owned by
// one request and must not be shared.
type Context struct {
	// Request is the inbound client request, before any rewriting.
	Request *http.Request
	// Path is the inbound path within the application (context path removed).
	Path string
	// Route is the route the handler selected, if any.
	Route *route.Route

	// Outbound is the request about to be forwarded. Set for pre filters.
	Outbound *http.Request

	// ResponseHeaders and StatusCode are set for post filters.
	ResponseHeaders *header.Store
	StatusCode      int
}

func NewContext(r *http.Request, path string) *Context {
	return &Context{
		Request: r,
		Path:    path,
	}
}
