// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ccobservatory/core/internal/api"
	"github.com/ccobservatory/core/internal/auth"
	"github.com/ccobservatory/core/internal/broadcast"
	"github.com/ccobservatory/core/internal/config"
	"github.com/ccobservatory/core/internal/monitor"
	"github.com/ccobservatory/core/internal/parser"
	"github.com/ccobservatory/core/internal/pipeline"
	"github.com/ccobservatory/core/internal/store"
)

var version = "0.1"

func main() {
	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "Path to ambient config file (default: auto-detect)")
	flag.StringVar(&configPath, "c", "", "Path to ambient config file (short)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.Parse()

	if showVersion {
		fmt.Printf("observatory %s\n", version)
		os.Exit(0)
	}

	if configPath == "" {
		found, err := config.FindAmbientConfig()
		if err != nil {
			log.Fatalf("observatory: %v", err)
		}
		configPath = found
	}
	log.Printf("observatory: using ambient config %s", configPath)

	ambient, err := config.LoadAmbient(configPath)
	if err != nil {
		log.Fatalf("observatory: %v", err)
	}
	core := config.LoadCore()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	writer, err := store.NewPostgresWriter(ctx, ambient.Database.DSN, store.RetryConfig{
		MaxAttempts: core.RetryMaxAttempts,
		BaseDelay:   core.RetryBaseDelay,
	})
	cancel()
	if err != nil {
		log.Fatalf("observatory: connect to database: %v", err)
	}
	defer writer.Close()

	mon := monitor.New(core.RingBufferSize, core.SLAThresholdMS)
	registry := broadcast.New(0)
	predicate := auth.NewJWTPredicate(ambient.Auth.JWTSecret)

	orchestrator := pipeline.New(core.WatchRoot, parser.New(), writer, mon, registry, core.GracePeriod)
	if err := orchestrator.Start(); err != nil {
		log.Fatalf("observatory: start pipeline: %v", err)
	}

	server := api.NewServer(api.ServerConfig{
		Host: ambient.Server.Host,
		Port: ambient.Server.Port,
	}, api.Dependencies{
		Registry:     registry,
		Auth:         predicate,
		Orchestrator: orchestrator,
		Monitor:      mon,
	})

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("observatory: API server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("observatory: received signal %v, shutting down...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("observatory: error shutting down API server: %v", err)
	}

	orchestrator.Stop()
	log.Println("observatory: shutdown complete")
}
