package handler

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tracing starts a server span per request. Filter spans nest under it.
func Tracing(next http.Handler) http.Handler {
	tracer := otel.Tracer("github.com/angeloszaimis/bookstore-proxy/internal/handler")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.host", r.Host),
			))
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
