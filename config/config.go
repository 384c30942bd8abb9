package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/bookstore-proxy/internal/filter"
	"github.com/angeloszaimis/bookstore-proxy/internal/healthcheck"
	"github.com/angeloszaimis/bookstore-proxy/internal/httpserver"
	"github.com/angeloszaimis/bookstore-proxy/internal/route"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type ServerConfig struct {
	Address         string `mapstructure:"address"`
	Environment     string `mapstructure:"environment"`
	ContextPath     string `mapstructure:"context_path"`
	ReadTimeout     string `mapstructure:"read_timeout"`
	WriteTimeout    string `mapstructure:"write_timeout"`
	IdleTimeout     string `mapstructure:"idle_timeout"`
	ShutdownTimeout string `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// RouteConfig is one statically configured route. StripPrefix defaults to
// true when omitted.
type RouteConfig struct {
	ID          string `mapstructure:"id"`
	Path        string `mapstructure:"path"`
	URL         string `mapstructure:"url"`
	StripPrefix *bool  `mapstructure:"strip_prefix"`
}

type ProxyConfig struct {
	TrustForwardedHeaders bool     `mapstructure:"trust_forwarded_headers"`
	SensitiveHeaders      []string `mapstructure:"sensitive_headers"`
	RouteCacheSize        int      `mapstructure:"route_cache_size"`
}

type HealthCheckConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
	Path     string `mapstructure:"path"`
}

type CircuitBreakerConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	FailureThreshold int    `mapstructure:"failure_threshold"`
	ResetTimeout     string `mapstructure:"reset_timeout"`
}

type MetricsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

type ConsulConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	WaitTime string `mapstructure:"wait_time"`
}

type DiscoveryConfig struct {
	Consul ConsulConfig `mapstructure:"consul"`
}

type Config struct {
	Server          ServerConfig         `mapstructure:"server"`
	Logging         LoggingConfig        `mapstructure:"logging"`
	Routes          []RouteConfig        `mapstructure:"routes"`
	RoutesFile      string               `mapstructure:"routes_file"`
	IgnoredPatterns []string             `mapstructure:"ignored_patterns"`
	Proxy           ProxyConfig          `mapstructure:"proxy"`
	HealthCheck     HealthCheckConfig    `mapstructure:"health_check"`
	CircuitBreaker  CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Metrics         MetricsConfig        `mapstructure:"metrics"`
	Tracing         TracingConfig        `mapstructure:"tracing"`
	Discovery       DiscoveryConfig      `mapstructure:"discovery"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.context_path", "")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("routes_file", "")
	v.SetDefault("proxy.trust_forwarded_headers", true)
	v.SetDefault("proxy.sensitive_headers", filter.DefaultSensitiveHeaders)
	v.SetDefault("proxy.route_cache_size", 1024)
	v.SetDefault("health_check.enabled", true)
	v.SetDefault("health_check.interval", "10s")
	v.SetDefault("health_check.path", healthcheck.DefaultPath)
	v.SetDefault("circuit_breaker.enabled", true)
	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.reset_timeout", "30s")
	v.SetDefault("metrics.buffer_size", 1000)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "bookstore-proxy")
	v.SetDefault("discovery.consul.enabled", false)
	v.SetDefault("discovery.consul.address", "127.0.0.1:8500")
	v.SetDefault("discovery.consul.wait_time", "30s")
}

// Load reads configuration from path, or from config.yaml in ./config or
// the working directory when path is empty. Environment variables override
// file values, with "." in keys replaced by "_".
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	needsRoutes := c.RoutesFile == "" && !c.Discovery.Consul.Enabled

	return validation.ValidateStruct(c,
		validation.Field(&c.Server),
		validation.Field(&c.Logging),
		validation.Field(&c.Routes,
			validation.When(needsRoutes, validation.Required.Error("at least one route is required without routes_file or consul discovery")),
		),
		validation.Field(&c.IgnoredPatterns,
			validation.Each(validation.Required, validation.By(validatePath)),
		),
		validation.Field(&c.Proxy),
		validation.Field(&c.HealthCheck),
		validation.Field(&c.CircuitBreaker),
		validation.Field(&c.Metrics),
		validation.Field(&c.Tracing),
		validation.Field(&c.Discovery),
	)
}

func (sc ServerConfig) Validate() error {
	return validation.ValidateStruct(&sc,
		validation.Field(&sc.Environment,
			validation.Required,
			validation.In(EnvDev, EnvStaging, EnvProd),
		),
		validation.Field(&sc.Address,
			validation.Required,
			validation.By(validateHostPort),
		),
		validation.Field(&sc.ContextPath,
			validation.By(validatePath),
		),
		validation.Field(&sc.ReadTimeout, validation.Required, validation.By(validateDuration)),
		validation.Field(&sc.WriteTimeout, validation.Required, validation.By(validateDuration)),
		validation.Field(&sc.IdleTimeout, validation.Required, validation.By(validateDuration)),
		validation.Field(&sc.ShutdownTimeout, validation.Required, validation.By(validateDuration)),
	)
}

func (lc LoggingConfig) Validate() error {
	return validation.ValidateStruct(&lc,
		validation.Field(&lc.Level,
			validation.Required,
			validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
		),
	)
}

func (rc RouteConfig) Validate() error {
	return validation.ValidateStruct(&rc,
		validation.Field(&rc.Path,
			validation.Required,
			validation.By(validatePath),
		),
		validation.Field(&rc.URL,
			validation.Required,
			validation.By(validateServerURL),
		),
	)
}

func (pc ProxyConfig) Validate() error {
	return validation.ValidateStruct(&pc,
		validation.Field(&pc.SensitiveHeaders,
			validation.Each(validation.Required),
		),
		validation.Field(&pc.RouteCacheSize,
			validation.Min(0),
		),
	)
}

func (hc HealthCheckConfig) Validate() error {
	return validation.ValidateStruct(&hc,
		validation.Field(&hc.Interval,
			validation.When(hc.Enabled, validation.Required, validation.By(validateDuration)),
		),
		validation.Field(&hc.Path,
			validation.By(validatePath),
		),
	)
}

func (cc CircuitBreakerConfig) Validate() error {
	return validation.ValidateStruct(&cc,
		validation.Field(&cc.FailureThreshold,
			validation.When(cc.Enabled, validation.Required, validation.Min(1)),
		),
		validation.Field(&cc.ResetTimeout,
			validation.When(cc.Enabled, validation.Required, validation.By(validateDuration)),
		),
	)
}

func (mc MetricsConfig) Validate() error {
	return validation.ValidateStruct(&mc,
		validation.Field(&mc.BufferSize,
			validation.Required,
			validation.Min(1),
		),
	)
}

func (tc TracingConfig) Validate() error {
	return validation.ValidateStruct(&tc,
		validation.Field(&tc.ServiceName,
			validation.When(tc.Enabled, validation.Required),
		),
	)
}

func (dc DiscoveryConfig) Validate() error {
	return validation.ValidateStruct(&dc,
		validation.Field(&dc.Consul),
	)
}

func (cc ConsulConfig) Validate() error {
	return validation.ValidateStruct(&cc,
		validation.Field(&cc.Address,
			validation.When(cc.Enabled, validation.Required, validation.By(validateAgentAddress)),
		),
		validation.Field(&cc.WaitTime,
			validation.When(cc.Enabled, validation.Required, validation.By(validateDuration)),
		),
	)
}

// StaticRoutes builds the routes declared inline in the config file.
func (c *Config) StaticRoutes() ([]route.Route, error) {
	routes := make([]route.Route, 0, len(c.Routes))
	for i, rc := range c.Routes {
		strip := true
		if rc.StripPrefix != nil {
			strip = *rc.StripPrefix
		}

		r, err := route.New(rc.ID, rc.Path, rc.URL, strip)
		if err != nil {
			return nil, fmt.Errorf("routes[%d]: %w", i, err)
		}
		routes = append(routes, r)
	}
	return routes, nil
}

// Timeouts converts the server timeouts for httpserver.New.
func (sc ServerConfig) Timeouts() httpserver.Timeouts {
	return httpserver.Timeouts{
		Read:     mustDuration(sc.ReadTimeout),
		Write:    mustDuration(sc.WriteTimeout),
		Idle:     mustDuration(sc.IdleTimeout),
		Shutdown: mustDuration(sc.ShutdownTimeout),
	}
}

func (hc HealthCheckConfig) IntervalDuration() time.Duration {
	return mustDuration(hc.Interval)
}

func (cc CircuitBreakerConfig) ResetTimeoutDuration() time.Duration {
	return mustDuration(cc.ResetTimeout)
}

func (cc ConsulConfig) WaitTimeDuration() time.Duration {
	return mustDuration(cc.WaitTime)
}

// mustDuration parses a value already checked by validateDuration.
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}
	if d <= 0 {
		return validation.NewError("validation_invalid_duration", "must be positive")
	}

	return nil
}

func validatePath(value interface{}) error {
	p, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if p != "" && !strings.HasPrefix(p, "/") {
		return validation.NewError("validation_invalid_path", "must start with /")
	}

	return nil
}

// validateAgentAddress accepts the forms the consul client does:
// host:port or an http(s) URL.
func validateAgentAddress(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if strings.Contains(addr, "://") {
		return validateServerURL(addr)
	}
	return validateHostPort(addr)
}

func validateServerURL(value interface{}) error {
	serverURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}
