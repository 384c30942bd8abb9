package filter

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/angeloszaimis/bookstore-proxy/internal/filter"

// Pipeline holds the registered filters grouped by type, each group sorted
// by ascending order. Filters with equal order keep registration order.
type Pipeline struct {
	logger *slog.Logger
	tracer trace.Tracer

	mu      sync.RWMutex
	filters map[Type][]Filter
}

func NewPipeline(logger *slog.Logger) *Pipeline {
	return &Pipeline{
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
		filters: make(map[Type][]Filter),
	}
}

// Register adds filters to the pipeline.
func (p *Pipeline) Register(filters ...Filter) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, f := range filters {
		group := append(p.filters[f.Type()], f)
		slices.SortStableFunc(group, func(a, b Filter) int {
			return cmp.Compare(a.Order(), b.Order())
		})
		p.filters[f.Type()] = group

		p.logger.Debug("Registered filter",
			slog.String("name", f.Name()),
			slog.String("type", string(f.Type())),
			slog.Int("order", f.Order()))
	}
}

// Filters returns the registered filters of one type in run order.
func (p *Pipeline) Filters(t Type) []Filter {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.filters[t])
}

// Run applies every filter of type t to fc.
func (p *Pipeline) Run(t Type, fc *Context) {
	for _, f := range p.Filters(t) {
		p.runOne(f, fc)
	}
}

func (p *Pipeline) runOne(f Filter, fc *Context) {
	ctx := context.Background()
	if fc.Request != nil {
		ctx = fc.Request.Context()
	}

	_, span := p.tracer.Start(ctx, "filter."+f.Name(),
		trace.WithAttributes(
			attribute.String("filter.type", string(f.Type())),
			attribute.Int("filter.order", f.Order()),
		))
	defer span.End()

	applied, err := p.guard(f, fc)
	span.SetAttributes(attribute.Bool("filter.applied", applied))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("Filter failed, continuing",
			slog.String("filter", f.Name()),
			slog.String("path", fc.Path),
			slog.String("error", err.Error()))
	}
}

func (p *Pipeline) guard(f Filter, fc *Context) (applied bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("filter %s panicked: %v", f.Name(), rec)
		}
	}()

	if !f.ShouldApply(fc) {
		return false, nil
	}
	return true, f.Apply(fc)
}
