package header

import "net/http"

// Store is a view over the live header map of a response that is about to be
// committed. It never copies values: every change lands in the wrapped map.
type Store struct {
	h http.Header
}

// Entry is a single (name, value) pair inside a Store.
type Entry struct {
	h     http.Header
	name  string
	index int
}

// NewStore wraps h. A nil map yields an empty, read-only store.
func NewStore(h http.Header) *Store {
	return &Store{h: h}
}

// Find returns the first entry whose name equals name exactly.
// No case folding is applied, so "location" does not match "Location".
func (s *Store) Find(name string) (*Entry, bool) {
	if s == nil || s.h == nil {
		return nil, false
	}

	values, ok := s.h[name]
	if !ok || len(values) == 0 {
		return nil, false
	}

	return &Entry{h: s.h, name: name, index: 0}, true
}

// Has reports whether an entry named exactly name exists.
func (s *Store) Has(name string) bool {
	_, ok := s.Find(name)
	return ok
}

// Replace overwrites the value of the first entry named name and reports
// whether such an entry existed. Absent entries are not created.
func (s *Store) Replace(name, value string) bool {
	e, ok := s.Find(name)
	if !ok {
		return false
	}
	e.SetValue(value)
	return true
}

// Len returns the number of distinct header names.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.h)
}

// Header returns the wrapped map.
func (s *Store) Header() http.Header {
	return s.h
}

func (e *Entry) Name() string {
	return e.name
}

func (e *Entry) Value() string {
	return e.h[e.name][e.index]
}

// SetValue mutates the entry in place. Position and sibling values are kept.
func (e *Entry) SetValue(value string) {
	e.h[e.name][e.index] = value
}
