package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/bookstore-proxy/config"
	"github.com/angeloszaimis/bookstore-proxy/internal/httpserver"
	"github.com/angeloszaimis/bookstore-proxy/internal/observability"
	"github.com/angeloszaimis/bookstore-proxy/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "bookstore-proxy",
	Short: "Edge proxy for the bookstore services",
	Long: `Edge proxy for the bookstore services.

Requests are matched against the route table and forwarded to the owning
backend. Redirects issued by a backend are rewritten so that the Location
header points back at the proxy instead of the internal service.`,
	SilenceUsage: true,
	RunE:         runRoot,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path")
}

func runRoot(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)
	return run(ctx, cfg, log)
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.Tracing.Enabled {
		shutdownTracer, err := observability.InitTracer(cfg.Tracing.ServiceName, os.Stdout)
		if err != nil {
			log.Error("Failed to initialize tracing", slog.Any("err", err))
			return err
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				log.Warn("Tracer shutdown failed", slog.Any("err", err))
			}
		}()
	}

	a, err := newApp(cfg, log)
	if err != nil {
		log.Error("Failed to build proxy", slog.Any("err", err))
		return err
	}
	a.start(ctx)

	srv, err := httpserver.New(cfg.Server.Address, setupRouter(a), cfg.Server.Timeouts())
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		return err
	}

	listener, err := net.Listen("tcp", srv.Addr())
	if err != nil {
		log.Error("Failed to listen", slog.String("address", srv.Addr()), slog.Any("err", err))
		return err
	}

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Serve(listener)
	}()

	log.Info("Proxy started",
		slog.String("address", listener.Addr().String()),
		slog.String("context_path", cfg.Server.ContextPath),
		slog.Int("routes", len(a.table.Routes())))

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
			return err
		}
		return nil
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting proxy", slog.Any("err", err))
			return err
		}
		return nil
	}
}
