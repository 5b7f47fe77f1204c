package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gonzalop/ftpd/internal/config"
	"github.com/gonzalop/ftpd/internal/logger"
	"github.com/gonzalop/ftpd/internal/metrics"
	"github.com/gonzalop/ftpd/internal/telemetry"
	"github.com/gonzalop/ftpd/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the FTP server",
	Long: `Start the FTP server in the foreground.

SIGINT or SIGTERM stop accepting connections and let running commands
finish for up to shutdown_timeout. Edits to the config file change the log
level and the user list without a restart.

Examples:
  # Start with a config file
  ftpd start --config /etc/ftpd/ftpd.yaml

  # Serve an in-memory tree to anonymous users on port 2121
  FTPD_FILESYSTEM_TYPE=memory FTPD_ANONYMOUS_WRITABLE=true ftpd start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Close()
	slog.SetDefault(log.Logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry, "ftpd", Version)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			log.Error("telemetry shutdown error", "error", err)
		}
	}()

	var extra []server.Option
	registry := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		extra = append(extra, server.WithMetrics(metrics.NewCollector(registry)))
	}

	d, err := newDeployment(cfg, log.Logger, tp, extra...)
	if err != nil {
		return err
	}
	defer d.Close()

	log.Info("configuration loaded",
		"source", configSource(GetConfigFile()),
		"address", cfg.Server.Address,
		"filesystem", cfg.Filesystem.Type,
		"anonymous", cfg.Anonymous.Enabled,
		"users", d.store.Len(),
		"tls", cfg.TLS.Enabled,
		"telemetry", cfg.Telemetry.Enabled,
	)

	if path := GetConfigFile(); path != "" {
		err := config.Watch(path, func(next *config.Config) {
			if err := log.SetLevel(next.Logging.Level); err != nil {
				log.Warn("config reload: log level", "error", err)
			}
			if err := d.store.Replace(next.Users); err != nil {
				log.Warn("config reload: users", "error", err)
				return
			}
			log.Info("configuration reloaded", "users", d.store.Len(), "level", next.Logging.Level)
		}, func(err error) {
			log.Warn("config reload rejected", "error", err)
		})
		if err != nil {
			log.Warn("config file will not be watched", "error", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, server.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Metrics.Enabled {
		router := metrics.NewRouter(registry, func() (int, error) {
			if !d.server.Serving() {
				return d.server.ActiveSessions(), errors.New("ftp server is not serving")
			}
			return d.server.ActiveSessions(), nil
		})
		g.Go(func() error {
			return metrics.NewServer(cfg.Metrics.Address, router, log.Logger).Start(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining sessions", "sessions", d.server.ActiveSessions())
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+5*time.Second)
		defer cancel()
		return d.server.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped", "error", err)
		return err
	}
	log.Info("server stopped gracefully")
	return nil
}

func configSource(path string) string {
	if path != "" {
		return path
	}
	return "defaults"
}
