// Command shimsd serves the shim HTTP API backed by SQL storage, an optional
// redis replay ledger and a background token refresh worker.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-shims/adapters/gologger"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", os.Getenv("SHIMSD_CONFIG"), "path to a JSON config file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath, os.Getenv)
	if err != nil {
		gologger.New(gologger.Options{Name: "shimsd"}).Error("load config failed", "error", err)
		return 1
	}
	base := gologger.New(gologger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log := base.GetLogger("shimsd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	application, err := buildApp(ctx, cfg, base, registry, registry)
	if err != nil {
		log.Error("build app failed", "error", err)
		return 1
	}
	defer func() {
		if err := application.Close(); err != nil {
			log.Warn("close resources failed", "error", err)
		}
	}()

	if application.worker != nil {
		if err := application.worker.Start(ctx); err != nil {
			log.Error("start refresh worker failed", "error", err)
			return 1
		}
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           application.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting shimsd", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	code := 0
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			log.Error("server error", "error", err)
			code = 1
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		code = 1
	}
	if err := application.worker.Stop(shutdownCtx); err != nil {
		log.Warn("refresh worker stop failed", "error", err)
	}
	return code
}
