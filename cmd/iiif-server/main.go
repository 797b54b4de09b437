package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/greut/jp2iiif/cache"
	"github.com/greut/jp2iiif/config"
	"github.com/greut/jp2iiif/iiif"
	"github.com/greut/jp2iiif/source"
	"github.com/greut/jp2iiif/transform"
)

const shutdownTimeout = 30 * time.Second

func main() {
	var configPath = flag.String("config", "config.toml", "Path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// newLogger logs as JSON, LOG_LEVEL takes precedence over the configured
// level.
func newLogger(level string) *slog.Logger {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newHandler builds every component from the configuration.
func newHandler(cfg *config.Config, logger *slog.Logger) (http.Handler, error) {
	resolver, err := source.NewResolverFromConfig(cfg.Images)
	if err != nil {
		return nil, err
	}

	infos, err := cache.NewInfoCache(cfg.Cache.InfoPath, cfg.Cache.InfoEntries, logger)
	if err != nil {
		return nil, err
	}

	derivatives, err := cache.NewDerivativeCache(cfg.Cache.DerivativesPath, cfg.ImageOptions(), logger)
	if err != nil {
		return nil, err
	}

	decoder, err := transform.NewDecoder(cfg.Transform.Decoder, cfg.Transform, logger)
	if err != nil {
		return nil, err
	}
	finisher := transform.NewVipsFinisher(cfg.Transform, logger)

	server, err := iiif.NewServer(iiif.Deps{
		Config:      cfg,
		Resolver:    resolver,
		Infos:       infos,
		Derivatives: derivatives,
		Pipeline:    transform.NewPipeline(decoder, finisher, logger),
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	return server.Handler(), nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	handler, err := newHandler(cfg, logger)
	if err != nil {
		return err
	}

	maxICC, _ := cfg.MaxICCBytes()
	logger.Info("configuration loaded",
		"roots", cfg.Images.Roots,
		"decoder", cfg.Transform.Decoder,
		"info_entries", cfg.Cache.InfoEntries,
		"max_icc_size", bytefmt.ByteSize(uint64(maxICC)),
		"timeout", cfg.Transform.Timeout.Duration)

	servers := []*http.Server{{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}}

	if cfg.MetricsPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.MetricsPort)),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	g, ctx := errgroup.WithContext(ctx)

	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("server running", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
