package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/angeloszaimis/bookstore-proxy/config"
	"github.com/angeloszaimis/bookstore-proxy/internal/backend"
	"github.com/angeloszaimis/bookstore-proxy/internal/circuitbreaker"
	"github.com/angeloszaimis/bookstore-proxy/internal/filter"
	"github.com/angeloszaimis/bookstore-proxy/internal/handler"
	"github.com/angeloszaimis/bookstore-proxy/internal/healthcheck"
	"github.com/angeloszaimis/bookstore-proxy/internal/metrics"
	"github.com/angeloszaimis/bookstore-proxy/internal/route"
)

// app holds the long-lived components shared by the proxy and the
// actuator endpoints.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	table     *route.Table
	pool      *backend.Pool
	breakers  *circuitbreaker.Registry
	collector *metrics.Collector
	pipeline  *filter.Pipeline
	checker   *healthcheck.Checker
	consul    *route.ConsulSource
	proxy     *handler.ProxyHandler
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	table, err := route.NewTable(cfg.Proxy.RouteCacheSize, cfg.IgnoredPatterns)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		log:       log,
		table:     table,
		pool:      backend.NewPool(log, nil),
		collector: metrics.NewCollector(cfg.Metrics.BufferSize, log),
		pipeline:  filter.NewPipeline(log),
	}

	if cfg.CircuitBreaker.Enabled {
		a.breakers = circuitbreaker.NewRegistry(cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.ResetTimeoutDuration())
	}

	a.checker = healthcheck.New(a.pool, cfg.HealthCheck.Path, log, func(b *backend.Backend, healthy bool) {
		a.collector.Emit(metrics.MetricEvent{
			Type:    metrics.EventHealthChanged,
			Backend: b.URL().String(),
			Healthy: healthy,
		})
	})

	static, err := cfg.StaticRoutes()
	if err != nil {
		return nil, err
	}
	if err := a.setRoutes(route.SourceStatic, static); err != nil {
		return nil, err
	}

	if cfg.RoutesFile != "" {
		routes, err := route.LoadFile(cfg.RoutesFile)
		if err != nil {
			return nil, err
		}
		if err := a.setRoutes(route.SourceFile, routes); err != nil {
			return nil, err
		}
	}

	if cfg.Discovery.Consul.Enabled {
		client, err := route.NewConsulClient(cfg.Discovery.Consul.Address)
		if err != nil {
			return nil, fmt.Errorf("consul client: %w", err)
		}
		a.consul = route.NewConsulSource(client, cfg.Discovery.Consul.WaitTimeDuration(), log)
	}

	baseOpts := filter.BaseURLOptions{
		TrustForwarded: cfg.Proxy.TrustForwardedHeaders,
		ContextPath:    cfg.Server.ContextPath,
	}

	a.pipeline.Register(
		filter.NewProxyHeaders(cfg.Server.ContextPath),
		filter.NewSensitiveHeaders(cfg.Proxy.SensitiveHeaders),
		filter.NewLocationRewriter(a.table, baseOpts, func(routeID string) {
			a.collector.Emit(metrics.MetricEvent{
				Type:  metrics.EventLocationRewritten,
				Route: routeID,
			})
		}),
	)

	a.proxy = handler.NewProxyHandler(log, handler.Options{
		Locator:     a.table,
		Pool:        a.pool,
		Pipeline:    a.pipeline,
		Breakers:    a.breakers,
		Collector:   a.collector,
		ContextPath: cfg.Server.ContextPath,
	})

	return a, nil
}

// setRoutes replaces one route source and brings the backend pool in line
// with the resulting table.
func (a *app) setRoutes(source string, routes []route.Route) error {
	if err := a.table.Replace(source, routes); err != nil {
		return err
	}
	a.syncBackends()
	return nil
}

func (a *app) syncBackends() {
	keep := make(map[string]struct{})
	locations := make([]string, 0)

	for _, r := range a.table.Routes() {
		if _, ok := keep[r.Location]; ok {
			continue
		}
		if _, err := a.pool.Get(r.Location); err != nil {
			a.log.Warn("Skipping backend",
				slog.String("route", r.ID),
				slog.String("error", err.Error()))
			continue
		}
		keep[r.Location] = struct{}{}
		locations = append(locations, r.Location)
	}

	if a.pool.Retain(locations) == 0 || a.breakers == nil {
		return
	}
	for location := range a.breakers.Stats() {
		if _, ok := keep[location]; !ok {
			a.breakers.Remove(location)
		}
	}
}

// start launches the background workers. They stop with ctx.
func (a *app) start(ctx context.Context) {
	a.collector.Start(ctx)

	if a.cfg.HealthCheck.Enabled {
		go a.checker.Run(ctx, a.cfg.HealthCheck.IntervalDuration())
	}

	if a.consul != nil {
		go a.consul.Watch(ctx, func(routes []route.Route) {
			if err := a.setRoutes(route.SourceConsul, routes); err != nil {
				a.log.Error("Rejected consul routes", slog.String("error", err.Error()))
			}
		})
	}
}
