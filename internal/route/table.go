package route

import (
	"slices"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCacheSize = 1024

var sourceOrder = []string{SourceStatic, SourceFile, SourceConsul}

// Table is a Locator backed by several route sources. Every change publishes
// a new immutable snapshot; readers never take a lock.
type Table struct {
	mu        sync.Mutex
	sources   map[string][]Route
	ignored   []pattern
	cacheSize int

	current atomic.Pointer[snapshot]
}

type snapshot struct {
	routes  []Route
	ignored []pattern
	// path -> index into routes, -1 for a miss
	cache *lru.Cache[string, int]
}

// NewTable creates an empty table. Paths matching any ignored pattern are
// never routed.
func NewTable(cacheSize int, ignoredPatterns []string) (*Table, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	ignored := make([]pattern, 0, len(ignoredPatterns))
	for _, raw := range ignoredPatterns {
		p, err := compilePattern(raw)
		if err != nil {
			return nil, err
		}
		ignored = append(ignored, p)
	}

	t := &Table{
		sources:   make(map[string][]Route),
		ignored:   ignored,
		cacheSize: cacheSize,
	}

	if err := t.publish(); err != nil {
		return nil, err
	}
	return t, nil
}

// Replace swaps all routes of one source and publishes a new snapshot.
func (t *Table) Replace(source string, routes []Route) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tagged := make([]Route, len(routes))
	for i, r := range routes {
		r.Source = source
		tagged[i] = r
	}
	t.sources[source] = tagged

	return t.publishLocked()
}

// MatchingRoute returns a copy of the first route whose pattern matches path.
func (t *Table) MatchingRoute(path string) (*Route, bool) {
	snap := t.current.Load()

	idx, ok := snap.cache.Get(path)
	if !ok {
		idx = snap.lookup(path)
		snap.cache.Add(path, idx)
	}

	if idx < 0 {
		return nil, false
	}

	r := snap.routes[idx]
	return &r, true
}

// Routes returns the current routes in match order.
func (t *Table) Routes() []Route {
	return slices.Clone(t.current.Load().routes)
}

func (t *Table) publish() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.publishLocked()
}

func (t *Table) publishLocked() error {
	cache, err := lru.New[string, int](t.cacheSize)
	if err != nil {
		return err
	}

	var routes []Route
	for _, name := range t.orderedSources() {
		routes = append(routes, t.sources[name]...)
	}

	t.current.Store(&snapshot{
		routes:  routes,
		ignored: t.ignored,
		cache:   cache,
	})
	return nil
}

func (t *Table) orderedSources() []string {
	names := slices.Clone(sourceOrder)

	var extra []string
	for name := range t.sources {
		if !slices.Contains(sourceOrder, name) {
			extra = append(extra, name)
		}
	}
	slices.Sort(extra)

	return append(names, extra...)
}

func (s *snapshot) lookup(path string) int {
	for _, p := range s.ignored {
		if p.match(path) {
			return -1
		}
	}

	for i := range s.routes {
		if s.routes[i].Matches(path) {
			return i
		}
	}
	return -1
}
