package route

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sort"
	"strconv"
	"time"

	consulapi "github.com/hashicorp/consul/api"
)

// Service metadata keys read by ConsulSource.
const (
	MetaRoutePath         = "route_path"
	MetaRouteLocationPath = "route_location_path"
	MetaRouteStripPrefix  = "route_strip_prefix"
)

// ConsulSource discovers routes from services registered in the Consul
// catalog. A service takes part when it carries route_path metadata.
type ConsulSource struct {
	client   *consulapi.Client
	waitTime time.Duration
	logger   *slog.Logger
}

// NewConsulClient creates a client for the agent at addr, given as
// "host:port" or as an http(s) URL.
func NewConsulClient(addr string) (*consulapi.Client, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	return consulapi.NewClient(cfg)
}

func NewConsulSource(client *consulapi.Client, waitTime time.Duration, logger *slog.Logger) *ConsulSource {
	if waitTime <= 0 {
		waitTime = 30 * time.Second
	}

	return &ConsulSource{
		client:   client,
		waitTime: waitTime,
		logger:   logger,
	}
}

// Watch runs blocking catalog queries until ctx is cancelled and calls fn
// with the full route list whenever the catalog index moves.
func (s *ConsulSource) Watch(ctx context.Context, fn func([]Route)) {
	var lastIndex uint64

	for {
		if ctx.Err() != nil {
			return
		}

		opts := (&consulapi.QueryOptions{
			WaitIndex: lastIndex,
			WaitTime:  s.waitTime,
		}).WithContext(ctx)

		services, meta, err := s.client.Catalog().Services(opts)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("Consul catalog query failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if meta.LastIndex == lastIndex {
			continue
		}
		// Consul may reset the index; start over rather than block forever.
		if meta.LastIndex < lastIndex {
			lastIndex = 0
			continue
		}
		lastIndex = meta.LastIndex

		routes := s.resolve(ctx, services)
		s.logger.Info("Consul routes updated",
			slog.Uint64("index", lastIndex),
			slog.Int("routes", len(routes)))
		fn(routes)
	}
}

// Fetch performs one non-blocking catalog read.
func (s *ConsulSource) Fetch(ctx context.Context) ([]Route, error) {
	services, _, err := s.client.Catalog().Services((&consulapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("listing consul services: %w", err)
	}
	return s.resolve(ctx, services), nil
}

func (s *ConsulSource) resolve(ctx context.Context, services map[string][]string) []Route {
	names := make([]string, 0, len(services))
	for name := range services {
		if name != "consul" {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	var routes []Route
	for _, name := range names {
		entries, _, err := s.client.Health().Service(name, "", true, (&consulapi.QueryOptions{}).WithContext(ctx))
		if err != nil {
			s.logger.Warn("Failed fetching healthy entries",
				slog.String("service", name),
				slog.String("error", err.Error()))
			continue
		}

		r, ok := s.routeFor(name, entries)
		if ok {
			routes = append(routes, r)
		}
	}

	return routes
}

// routeFor builds one route per service. Only the most recently modified
// healthy instance is routed to; the others are logged and left out.
func (s *ConsulSource) routeFor(name string, entries []*consulapi.ServiceEntry) (Route, bool) {
	if len(entries) == 0 {
		return Route{}, false
	}

	// metadata of the most recently modified instance wins
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Service.ModifyIndex > entries[j].Service.ModifyIndex
	})
	head := entries[0]

	path, ok := head.Service.Meta[MetaRoutePath]
	if !ok || path == "" {
		return Route{}, false
	}

	addr := serviceHost(head)
	if addr == "" {
		s.logger.Warn("Service has no address", slog.String("service", name))
		return Route{}, false
	}

	strip := true
	if v, ok := head.Service.Meta[MetaRouteStripPrefix]; ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			strip = parsed
		}
	}

	location := "http://" + net.JoinHostPort(addr, strconv.Itoa(head.Service.Port)) + head.Service.Meta[MetaRouteLocationPath]

	if len(entries) > 1 {
		skipped := make([]string, 0, len(entries)-1)
		for _, e := range entries[1:] {
			skipped = append(skipped, instanceAddress(e))
		}
		s.logger.Debug("Routing to a single instance",
			slog.String("service", name),
			slog.String("location", location),
			slog.Any("skipped", skipped))
	}

	r, err := New(name, path, location, strip)
	if err != nil {
		s.logger.Warn("Ignoring service route",
			slog.String("service", name),
			slog.String("error", err.Error()))
		return Route{}, false
	}
	r.Source = SourceConsul
	return r, true
}

// serviceHost falls back to the node address when the service registered none.
func serviceHost(e *consulapi.ServiceEntry) string {
	if e.Service.Address != "" || e.Node == nil {
		return e.Service.Address
	}
	return e.Node.Address
}

func instanceAddress(e *consulapi.ServiceEntry) string {
	return net.JoinHostPort(serviceHost(e), strconv.Itoa(e.Service.Port))
}
