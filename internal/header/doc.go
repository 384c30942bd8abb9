// Package header exposes the response headers of an in-flight proxied
// exchange as an ordered, mutable store. Lookups match header names exactly
// and mutations are made in place so that later filters and the client see
// the updated value.
package header
