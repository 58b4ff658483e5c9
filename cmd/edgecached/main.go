// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main provides the entry point for the edgecached daemon.
// The daemon learns translation usage patterns on the device, estimates
// offline risk, and pre-caches the translations a clinician is most
// likely to need before connectivity drops.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/medtranslate/edgecache/internal/api"
	"github.com/medtranslate/edgecache/internal/buildinfo"
	"github.com/medtranslate/edgecache/internal/config"
	"github.com/medtranslate/edgecache/internal/engine"
	"github.com/medtranslate/edgecache/internal/logging"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func defaultConfigPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".edgecache", "config.yaml")
	}
	return "config.yaml"
}

func main() {
	if err := run(); err != nil {
		log.Errorf("edgecached: %v", err)
		os.Exit(1)
	}
}

func run() error {
	// Optional .env next to the binary; missing file is fine.
	if err := godotenv.Load(); err == nil {
		log.Debug("Loaded environment from .env")
	}

	var (
		configPath  = flag.String("config", defaultConfigPath(), "path to the configuration file")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("edgecached %s (commit %s, built %s)\n",
			buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if err := logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.DataDir); err != nil {
		return fmt.Errorf("configure log output: %w", err)
	}

	log.Infof("Starting edgecached %s (commit %s, built %s)",
		buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
	log.Infof("Config: %s, data dir: %s", *configPath, cfg.DataDir)

	eng, err := engine.New(engine.Options{Config: cfg})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}

	// Hot-reload steering rules and runtime tunables on config edits.
	watcher, err := config.NewWatcher(*configPath, func(next *config.Config) {
		eng.ApplyConfig(next)
		if next.Debug {
			log.SetLevel(log.DebugLevel)
		} else {
			log.SetLevel(log.InfoLevel)
		}
	})
	if err != nil {
		log.Warnf("Config watcher unavailable, edits need a restart: %v", err)
	} else {
		defer watcher.Close()
	}

	srv := api.NewServer(cfg, eng)
	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-srvErr:
		if err != nil {
			log.Errorf("Admin API stopped: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("Admin API shutdown: %v", err)
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("engine shutdown: %w", err)
	}
	log.Info("edgecached stopped")
	return nil
}
