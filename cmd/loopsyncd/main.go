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
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/loopsync/internal/amcp"
	"github.com/ManuGH/loopsync/internal/api"
	"github.com/ManuGH/loopsync/internal/config"
	"github.com/ManuGH/loopsync/internal/engine"
	"github.com/ManuGH/loopsync/internal/journal"
	xlog "github.com/ManuGH/loopsync/internal/log"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configFlag := flag.String("config", "", "path to config file (JSON)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	xlog.Configure(xlog.Config{
		Level:   envString("LOG_LEVEL", "info"),
		Service: "loopsync",
		Version: version,
	})
	logger := xlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dataDir := envString("LOOPSYNC_DATA", "/data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		fallback := filepath.Join(os.TempDir(), "loopsync")
		logger.Warn().
			Err(err).
			Str("event", "startup.data_dir_fallback").
			Str("path", dataDir).
			Str("fallback", fallback).
			Msg("data directory not writable, using fallback")
		dataDir = fallback
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			logger.Fatal().
				Err(err).
				Str("event", "startup.data_dir_failed").
				Str("path", dataDir).
				Msg("failed to create data directory")
		}
	}

	// Config path precedence: --config > LOOPSYNC_CONFIG > ${LOOPSYNC_DATA}/config.json.
	configPath := strings.TrimSpace(*configFlag)
	if configPath == "" {
		configPath = envString("LOOPSYNC_CONFIG", filepath.Join(dataDir, "config.json"))
	}

	settings, err := config.Load(configPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", configPath).
			Msg("failed to load configuration")
	}
	logger.Info().
		Str("event", "config.loaded").
		Str("path", configPath).
		Int("slots", len(settings.Slots)).
		Msg("loaded configuration")

	jrnl, err := journal.Open(filepath.Join(dataDir, "journal.db"))
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "journal.open_failed").
			Msg("failed to open event journal")
	}

	pool := amcp.NewPool()
	ctrl := engine.New(settings, pool, jrnl)

	addr := ":" + envString("PORT", "8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.New(ctrl, jrnl, configPath).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", addr).
		Msg("starting loopsync")

	g, runCtx := errgroup.WithContext(ctx)

	// Drift controller loop. Inert until mode is switched to auto.
	g.Go(func() error {
		ctrl.Run(runCtx)
		return nil
	})

	// Hot reload: API writes and hand-edits both land through the watcher.
	g.Go(func() error {
		err := config.Watch(runCtx, configPath, func(s config.Settings) {
			ctrl.ApplySettings(runCtx, s)
		})
		if err != nil {
			logger.Warn().
				Err(err).
				Str("event", "config.watch_failed").
				Msg("config hot reload disabled")
		}
		return nil
	})

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-runCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().
				Err(err).
				Str("event", "shutdown.http_failed").
				Msg("http server shutdown failed")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().
			Err(err).
			Str("event", "shutdown.error").
			Msg("daemon exited with error")
	}

	pool.CloseAll(5 * time.Second)
	if err := jrnl.Close(); err != nil {
		logger.Error().
			Err(err).
			Str("event", "shutdown.journal_failed").
			Msg("journal close failed")
	}

	logger.Info().
		Str("event", "shutdown.complete").
		Msg("loopsync stopped")
}
