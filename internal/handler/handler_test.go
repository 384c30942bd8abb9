package handler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/bookstore-proxy/internal/backend"
	"github.com/angeloszaimis/bookstore-proxy/internal/circuitbreaker"
	"github.com/angeloszaimis/bookstore-proxy/internal/filter"
	"github.com/angeloszaimis/bookstore-proxy/internal/handler"
	"github.com/angeloszaimis/bookstore-proxy/internal/metrics"
	"github.com/angeloszaimis/bookstore-proxy/internal/route"
)

type failingFilter struct{}

func (failingFilter) Name() string                     { return "failing" }
func (failingFilter) Type() filter.Type                { return filter.Post }
func (failingFilter) Order() int                       { return 1 }
func (failingFilter) ShouldApply(*filter.Context) bool { return true }
func (failingFilter) Apply(*filter.Context) error      { return errors.New("broken filter") }

type seenRequest struct {
	path    string
	rawPath string
	headers http.Header
}

var _ = Describe("ProxyHandler", func() {
	var (
		log       *slog.Logger
		upstream  *httptest.Server
		mu        sync.Mutex
		seen      []seenRequest
		table     *route.Table
		pool      *backend.Pool
		pipeline  *filter.Pipeline
		breakers  *circuitbreaker.Registry
		collector *metrics.Collector
		ctx       context.Context
		cancel    context.CancelFunc
		h         http.Handler
		location  string
	)

	build := func(contextPath string) {
		pipeline = filter.NewPipeline(log)
		pipeline.Register(
			filter.NewProxyHeaders(contextPath),
			filter.NewSensitiveHeaders(filter.DefaultSensitiveHeaders),
			filter.NewLocationRewriter(table, filter.BaseURLOptions{TrustForwarded: true, ContextPath: contextPath}, func(id string) {
				collector.Emit(metrics.MetricEvent{Type: metrics.EventLocationRewritten, Route: id})
			}),
		)

		h = handler.NewProxyHandler(log, handler.Options{
			Locator:     table,
			Pool:        pool,
			Pipeline:    pipeline,
			Breakers:    breakers,
			Collector:   collector,
			ContextPath: contextPath,
		})
	}

	serve := func(req *http.Request) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
		seen = nil

		upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			seen = append(seen, seenRequest{path: r.URL.Path, rawPath: r.URL.EscapedPath(), headers: r.Header.Clone()})
			mu.Unlock()

			switch r.URL.Path {
			case "/orders/5":
				w.Header().Set("Location", "http://"+r.Host+"/orders/5/status")
				w.WriteHeader(http.StatusFound)
			case "/orders/boom":
				w.WriteHeader(http.StatusInternalServerError)
			default:
				w.Header().Set("Content-Type", "text/plain")
				_, _ = w.Write([]byte("order list"))
			}
		}))
		location = upstream.URL + "/orders"

		var err error
		table, err = route.NewTable(64, nil)
		Expect(err).NotTo(HaveOccurred())
		orders, err := route.New("orders", "/orders/**", location, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(table.Replace(route.SourceStatic, []route.Route{orders})).To(Succeed())

		pool = backend.NewPool(log, nil)
		breakers = circuitbreaker.NewRegistry(2, time.Minute)

		ctx, cancel = context.WithCancel(context.Background())
		collector = metrics.NewCollector(100, log)
		collector.Start(ctx)

		build("")
	})

	AfterEach(func() {
		cancel()
		upstream.Close()
	})

	It("should rewrite the backend Location to the proxy's external URL", func() {
		rec := serve(httptest.NewRequest(http.MethodGet, "https://proxy.example.com/orders/5", nil))

		Expect(rec.Code).To(Equal(http.StatusFound))
		Expect(rec.Header().Get("Location")).To(Equal("https://proxy.example.com/orders/5/status"))

		Expect(seen).To(HaveLen(1))
		Expect(seen[0].path).To(Equal("/orders/5"))
		Expect(seen[0].headers.Get("X-Forwarded-Prefix")).To(Equal("/orders"))
		Expect(seen[0].headers.Get("X-Forwarded-Host")).To(Equal("proxy.example.com"))

		Eventually(func() int64 {
			return collector.Snapshot().Routes["orders"].LocationRewrites
		}).Should(Equal(int64(1)))
	})

	It("should pass responses without a Location header through untouched", func() {
		rec := serve(httptest.NewRequest(http.MethodGet, "http://proxy.example.com/orders/", nil))

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(Equal("order list"))
		Expect(rec.Header().Get("Content-Type")).To(Equal("text/plain"))
		Expect(rec.Header()).NotTo(HaveKey("Location"))
	})

	It("should keep encoded slashes when stripping the route prefix", func() {
		rec := serve(httptest.NewRequest(http.MethodGet, "http://proxy.example.com/orders/a%2Fb", nil))

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(seen).To(HaveLen(1))
		Expect(seen[0].rawPath).To(Equal("/orders/a%2Fb"))
		Expect(seen[0].path).To(Equal("/orders/a/b"))
	})

	It("should answer 404 without contacting a backend when no route matches", func() {
		rec := serve(httptest.NewRequest(http.MethodGet, "http://proxy.example.com/books/1", nil))

		Expect(rec.Code).To(Equal(http.StatusNotFound))
		Expect(seen).To(BeEmpty())

		Eventually(func() int64 {
			return collector.Snapshot().UnmatchedRequests
		}).Should(Equal(int64(1)))
	})

	It("should strip sensitive headers before forwarding", func() {
		req := httptest.NewRequest(http.MethodGet, "http://proxy.example.com/orders/", nil)
		req.Header.Set("Cookie", "session=abc")
		req.Header.Set("Authorization", "Bearer t")
		req.Header.Set("Accept", "text/plain")

		serve(req)

		Expect(seen).To(HaveLen(1))
		Expect(seen[0].headers.Get("Cookie")).To(BeEmpty())
		Expect(seen[0].headers.Get("Authorization")).To(BeEmpty())
		Expect(seen[0].headers.Get("Accept")).To(Equal("text/plain"))
	})

	It("should answer 503 when the backend is unhealthy", func() {
		b, err := pool.Get(location)
		Expect(err).NotTo(HaveOccurred())
		b.SetHealthy(false)

		rec := serve(httptest.NewRequest(http.MethodGet, "http://proxy.example.com/orders/5", nil))
		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
		Expect(seen).To(BeEmpty())
	})

	It("should open the circuit after repeated server errors", func() {
		for i := 0; i < 2; i++ {
			rec := serve(httptest.NewRequest(http.MethodGet, "http://proxy.example.com/orders/boom", nil))
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		}
		Expect(breakers.GetBreaker(location).State()).To(Equal(circuitbreaker.StateOpen))

		rec := serve(httptest.NewRequest(http.MethodGet, "http://proxy.example.com/orders/5", nil))
		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
		Expect(seen).To(HaveLen(2))
	})

	It("should work without breakers or a collector", func() {
		h = handler.NewProxyHandler(log, handler.Options{
			Locator:  table,
			Pool:     pool,
			Pipeline: pipeline,
		})

		rec := serve(httptest.NewRequest(http.MethodGet, "https://proxy.example.com/orders/5", nil))
		Expect(rec.Code).To(Equal(http.StatusFound))
		Expect(rec.Header().Get("Location")).To(Equal("https://proxy.example.com/orders/5/status"))
	})

	It("should never fail the exchange because a filter failed", func() {
		pipeline.Register(failingFilter{})

		rec := serve(httptest.NewRequest(http.MethodGet, "https://proxy.example.com/orders/5", nil))
		Expect(rec.Code).To(Equal(http.StatusFound))
		Expect(rec.Header().Get("Location")).To(Equal("https://proxy.example.com/orders/5/status"))
	})

	It("should leave Location untouched when the host is unknown", func() {
		req := httptest.NewRequest(http.MethodGet, "/orders/5", nil)
		req.Host = ""

		rec := serve(req)
		Expect(rec.Code).To(Equal(http.StatusFound))
		Expect(rec.Header().Get("Location")).To(Equal(location + "/5/status"))
	})

	It("should answer 502 when the backend is down", func() {
		upstream.Close()

		rec := serve(httptest.NewRequest(http.MethodGet, "http://proxy.example.com/orders/5", nil))
		Expect(rec.Code).To(Equal(http.StatusBadGateway))
	})

	Context("when the backend drops a response mid-body", func() {
		It("should count the aborted exchange and recover the route", func() {
			var mode atomic.Int32
			flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch mode.Load() {
				case 0:
					w.WriteHeader(http.StatusInternalServerError)
				case 1:
					w.Header().Set("Content-Length", "100")
					w.WriteHeader(http.StatusOK)
					_, _ = w.Write([]byte("short"))
					rc := http.NewResponseController(w)
					_ = rc.Flush()
					if conn, _, err := rc.Hijack(); err == nil {
						conn.Close()
					}
				default:
					w.WriteHeader(http.StatusOK)
				}
			}))
			defer flaky.Close()

			orders, err := route.New("orders", "/orders/**", flaky.URL+"/orders", true)
			Expect(err).NotTo(HaveOccurred())
			Expect(table.Replace(route.SourceStatic, []route.Route{orders})).To(Succeed())

			breakers = circuitbreaker.NewRegistry(1, 50*time.Millisecond)
			build("")

			front := httptest.NewServer(h)
			defer front.Close()

			get := func() int {
				resp, err := http.Get(front.URL + "/orders/5")
				if err != nil {
					return 0
				}
				defer resp.Body.Close()
				_, _ = io.Copy(io.Discard, resp.Body)
				return resp.StatusCode
			}

			Expect(get()).To(Equal(http.StatusInternalServerError))
			Expect(breakers.GetBreaker(flaky.URL + "/orders").State()).To(Equal(circuitbreaker.StateOpen))

			time.Sleep(60 * time.Millisecond)
			mode.Store(1)
			get()
			Expect(breakers.GetBreaker(flaky.URL + "/orders").State()).To(Equal(circuitbreaker.StateOpen))

			mode.Store(2)
			Eventually(get, 2*time.Second, 20*time.Millisecond).Should(Equal(http.StatusOK))
			Expect(breakers.GetBreaker(flaky.URL + "/orders").State()).To(Equal(circuitbreaker.StateClosed))
		})
	})

	Context("with a context path", func() {
		BeforeEach(func() {
			build("/shop")
		})

		It("should route and rewrite below the context path", func() {
			rec := serve(httptest.NewRequest(http.MethodGet, "https://proxy.example.com/shop/orders/5", nil))

			Expect(rec.Code).To(Equal(http.StatusFound))
			Expect(rec.Header().Get("Location")).To(Equal("https://proxy.example.com/shop/orders/5/status"))
			Expect(seen[0].path).To(Equal("/orders/5"))
			Expect(seen[0].headers.Get("X-Forwarded-Prefix")).To(Equal("/shop/orders"))
		})

		It("should keep encoded slashes below the context path", func() {
			serve(httptest.NewRequest(http.MethodGet, "https://proxy.example.com/shop/orders/a%2Fb", nil))

			Expect(seen).To(HaveLen(1))
			Expect(seen[0].rawPath).To(Equal("/orders/a%2Fb"))
		})

		It("should answer 404 outside the context path", func() {
			rec := serve(httptest.NewRequest(http.MethodGet, "https://proxy.example.com/orders/5", nil))
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(seen).To(BeEmpty())
		})
	})
})
