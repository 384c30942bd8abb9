package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/bookstore-proxy/config"
	"github.com/angeloszaimis/bookstore-proxy/internal/filter"
	"github.com/angeloszaimis/bookstore-proxy/internal/route"
)

func testConfig(routes ...config.RouteConfig) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Address:         "127.0.0.1:0",
			Environment:     config.EnvDev,
			ReadTimeout:     "5s",
			WriteTimeout:    "5s",
			IdleTimeout:     "5s",
			ShutdownTimeout: "1s",
		},
		Logging:        config.LoggingConfig{Level: config.LogLevelInfo},
		Routes:         routes,
		Proxy:          config.ProxyConfig{TrustForwardedHeaders: true, SensitiveHeaders: []string{"Cookie"}, RouteCacheSize: 16},
		HealthCheck:    config.HealthCheckConfig{Interval: "1s", Path: "/health"},
		CircuitBreaker: config.CircuitBreakerConfig{Enabled: true, FailureThreshold: 3, ResetTimeout: "10s"},
		Metrics:        config.MetricsConfig{BufferSize: 100},
	}
}

var _ = Describe("app", func() {
	var (
		log      *slog.Logger
		upstream *httptest.Server
	)

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
		upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/orders/new" {
				w.Header().Set("Location", "http://"+r.Host+"/orders/17")
				w.WriteHeader(http.StatusSeeOther)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
	})

	AfterEach(func() {
		upstream.Close()
	})

	It("should create a backend for every configured route", func() {
		a, err := newApp(testConfig(
			config.RouteConfig{ID: "orders", Path: "/orders/**", URL: upstream.URL + "/orders"},
			config.RouteConfig{ID: "books", Path: "/books/**", URL: "http://books:8080"},
		), log)
		Expect(err).NotTo(HaveOccurred())

		Expect(a.table.Routes()).To(HaveLen(2))
		Expect(a.pool.Len()).To(Equal(2))
		Expect(a.pipeline.Filters(filter.Post)).To(HaveLen(1))
	})

	It("should drop backends that no route uses any more", func() {
		a, err := newApp(testConfig(
			config.RouteConfig{ID: "orders", Path: "/orders/**", URL: upstream.URL + "/orders"},
		), log)
		Expect(err).NotTo(HaveOccurred())

		books, err := route.New("books", "/books/**", "http://books:8080", true)
		Expect(err).NotTo(HaveOccurred())
		Expect(a.setRoutes(route.SourceConsul, []route.Route{books})).To(Succeed())
		Expect(a.pool.Len()).To(Equal(2))

		Expect(a.setRoutes(route.SourceConsul, nil)).To(Succeed())
		Expect(a.pool.Len()).To(Equal(1))
	})

	It("should load routes from a routes file", func() {
		dir := GinkgoT().TempDir()
		file := filepath.Join(dir, "routes.yaml")
		Expect(os.WriteFile(file, []byte(`
routes:
  - id: reviews
    path: /reviews/**
    url: http://reviews:8080/reviews
`), 0o644)).To(Succeed())

		cfg := testConfig()
		cfg.RoutesFile = file

		a, err := newApp(cfg, log)
		Expect(err).NotTo(HaveOccurred())

		routes := a.table.Routes()
		Expect(routes).To(HaveLen(1))
		Expect(routes[0].ID).To(Equal("reviews"))
		Expect(routes[0].Source).To(Equal(route.SourceFile))
	})

	It("should fail on a missing routes file", func() {
		cfg := testConfig()
		cfg.RoutesFile = filepath.Join(GinkgoT().TempDir(), "absent.yaml")

		_, err := newApp(cfg, log)
		Expect(err).To(HaveOccurred())
	})

	Describe("router", func() {
		var (
			a      *app
			mux    *http.ServeMux
			ctx    context.Context
			cancel context.CancelFunc
		)

		BeforeEach(func() {
			var err error
			a, err = newApp(testConfig(
				config.RouteConfig{ID: "orders", Path: "/orders/**", URL: upstream.URL + "/orders"},
			), log)
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel = context.WithCancel(context.Background())
			a.start(ctx)
			mux = setupRouter(a)
		})

		AfterEach(func() {
			cancel()
		})

		It("should proxy and rewrite redirects", func() {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "https://shop.example.com/orders/new", nil))

			Expect(rec.Code).To(Equal(http.StatusSeeOther))
			Expect(rec.Header().Get("Location")).To(Equal("https://shop.example.com/orders/17"))
		})

		It("should report health", func() {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/actuator/health", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			var body healthResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Status).To(Equal("UP"))
			Expect(body.Backends).To(HaveLen(1))
		})

		It("should report DOWN when every backend is unhealthy", func() {
			for _, b := range a.pool.All() {
				b.SetHealthy(false)
			}

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/actuator/health", nil))
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
		})

		It("should list the route table", func() {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/actuator/routes", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			var body routesResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Routes).To(ConsistOf(routeView{
				ID:          "orders",
				Path:        "/orders/**",
				Location:    upstream.URL + "/orders",
				StripPrefix: true,
				Prefix:      "/orders",
				Source:      route.SourceStatic,
			}))
		})

		It("should count rewrites in the metrics endpoints", func() {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "https://shop.example.com/orders/new", nil))
			Expect(rec.Code).To(Equal(http.StatusSeeOther))

			Eventually(func() string {
				rec := httptest.NewRecorder()
				mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/actuator/prometheus", nil))
				return rec.Body.String()
			}).Should(ContainSubstring(`bookstore_proxy_location_rewrites_total{route="orders"} 1`))

			rec = httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/actuator/metrics", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"orders"`))
		})
	})

	It("should stop serving when the context is cancelled", func() {
		cfg := testConfig(config.RouteConfig{ID: "orders", Path: "/orders/**", URL: upstream.URL + "/orders"})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- run(ctx, cfg, log)
		}()

		time.Sleep(50 * time.Millisecond)
		cancel()
		Eventually(done, 5*time.Second).Should(Receive(BeNil()))
	})

	It("should fail when the listen address is taken", func() {
		taken, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		defer taken.Close()

		cfg := testConfig(config.RouteConfig{ID: "orders", Path: "/orders/**", URL: upstream.URL + "/orders"})
		cfg.Server.Address = taken.Addr().String()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		Expect(run(ctx, cfg, log)).To(HaveOccurred())
	})

	Describe("routes command", func() {
		It("should print the route table", func() {
			dir := GinkgoT().TempDir()
			file := filepath.Join(dir, "config.yaml")
			Expect(os.WriteFile(file, []byte(`
routes:
  - id: orders
    path: /orders/**
    url: http://orders:8080/orders
  - id: books
    path: /books/**
    url: http://books:8080
    strip_prefix: false
`), 0o644)).To(Succeed())

			var out, errOut bytes.Buffer
			rootCmd.SetOut(&out)
			rootCmd.SetErr(&errOut)
			rootCmd.SetArgs([]string{"routes", "--config", file})
			DeferCleanup(func() {
				rootCmd.SetArgs(nil)
				rootCmd.SetOut(nil)
				rootCmd.SetErr(nil)
			})

			Expect(rootCmd.ExecuteContext(context.Background())).To(Succeed())

			lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
			Expect(lines).To(HaveLen(3))
			Expect(string(lines[0])).To(MatchRegexp(`^ID\s+PATH\s+LOCATION\s+PREFIX\s+SOURCE$`))
			Expect(string(lines[1])).To(MatchRegexp(`^orders\s+/orders/\*\*\s+http://orders:8080/orders\s+/orders\s+static$`))
			Expect(string(lines[2])).To(MatchRegexp(`^books\s+/books/\*\*\s+http://books:8080\s+-\s+static$`))
		})
	})
})
