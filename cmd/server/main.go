package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/slidebank/slidebank"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML or JSON)")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	flag.Parse()

	cfg, err := slidebank.LoadConfig(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	logger, logFile, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		slog.Error("opening log", "error", err)
		os.Exit(1)
	}
	defer logFile.Close()
	slog.SetDefault(logger)

	apiKey := os.Getenv("SLIDEBANK_API_KEY")
	corsOrigins := os.Getenv("SLIDEBANK_CORS_ORIGINS")

	app, err := slidebank.New(cfg, slidebank.WithLogger(logger))
	if err != nil {
		logger.Error("creating app", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      newRouter(app, routerOptions{APIKey: apiKey, CORSOrigins: corsOrigins, Logger: logger}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // ingest and stitch can be long
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "addr", cfg.Addr, "data_dir", app.DataDir())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		app.Close()
		os.Exit(1)
	}
	logger.Info("server stopped")
}
