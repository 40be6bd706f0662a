// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/chanfeed/chanfeed/internal/api"
	"github.com/chanfeed/chanfeed/internal/config"
	"github.com/chanfeed/chanfeed/internal/engine"
	"github.com/chanfeed/chanfeed/internal/log"
	"github.com/chanfeed/chanfeed/internal/store"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("chanfeed %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		l := log.Base()
		l.Error().Err(err).Str("event", "daemon.fatal").Msg("daemon exited with error")
		os.Exit(1)
	}
}

func run(configPath string) error {
	log.Configure(log.Config{Service: "chanfeed"})

	if configPath == "" {
		configPath = config.ParseString("CHANFEED_CONFIG", "config.yaml")
	}

	cfgMgr, err := config.NewManager(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := cfgMgr.Get()
	log.SetLevel(cfg.LogLevel)

	logger := log.WithComponent("daemon")
	logger.Info().
		Str("event", "daemon.start").
		Str("version", version).
		Str("listen", cfg.Listen).
		Str("store", cfg.StoreBackend).
		Msg("starting")

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn().Err(err).Str("event", "store.close_failed").Msg("store close failed")
		}
	}()

	eng := engine.New(cfgMgr, cfgMgr, st, engine.Options{
		HTTPClient: &http.Client{Timeout: 2 * time.Minute},
	})

	// Serve whatever the disk already has before the first network load.
	eng.WarmupFromCacheOnly()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A config file edit may change URLs or the active profile; the
	// engine notices through its signature check on the next load.
	if err := cfgMgr.StartWatcher(ctx); err != nil {
		logger.Warn().Err(err).Str("event", "config.watcher_failed").Msg("config watcher unavailable, continuing without hot reload")
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.New(eng, cfgMgr).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("event", "http.listen").Str("addr", cfg.Listen).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Str("event", "daemon.shutdown").Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openStore(cfg config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "badger":
		return store.NewBadgerStore(filepath.Join(cfg.DataDir, "badger"))
	default:
		return store.NewFileStore(filepath.Join(cfg.DataDir, "cache"))
	}
}
