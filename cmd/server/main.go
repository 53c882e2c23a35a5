// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

// Package main is the entry point for the VeloSync server.
//
// VeloSync runs unattended on a home server and periodically pulls completed
// workouts from Peloton, converts them to TCX, and uploads them to Garmin
// Connect. Garmin has no public API, so the destination side emulates the
// browser SSO handshake; when the Garmin account has MFA enabled, a login
// suspends until the code is submitted via POST /api/v1/auth/mfa.
//
// Components start in this order:
//
//  1. Configuration: Koanf v2 layered sources (env > config.yaml > defaults)
//  2. Store: BadgerDB for auth state (encrypted at rest), sync history,
//     and the last run status
//  3. Garmin: SSO client, session manager, and TCX uploader
//  4. Peloton: API client behind a circuit breaker and rate limiter
//  5. Pipeline: download -> convert -> upload orchestrator
//  6. Supervisor tree: the sync poller and the HTTP server under suture
//
// The server handles graceful shutdown on SIGINT and SIGTERM: the poller
// finishes its sleep slice, the HTTP server drains in-flight requests, and
// the store is closed last.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jcrawford/velosync/internal/api"
	"github.com/jcrawford/velosync/internal/config"
	"github.com/jcrawford/velosync/internal/convert"
	"github.com/jcrawford/velosync/internal/garmin"
	"github.com/jcrawford/velosync/internal/gateway"
	"github.com/jcrawford/velosync/internal/logging"
	"github.com/jcrawford/velosync/internal/peloton"
	"github.com/jcrawford/velosync/internal/store"
	"github.com/jcrawford/velosync/internal/supervisor"
	"github.com/jcrawford/velosync/internal/supervisor/services"
	syncpkg "github.com/jcrawford/velosync/internal/sync"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Bool("sync_enabled", cfg.Sync.Enabled).
		Dur("interval", cfg.Sync.Interval).
		Str("store_path", cfg.Store.Path).
		Msg("Starting VeloSync")

	db, err := store.Open(cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	// Destination side: SSO login client, cached session manager, uploader.
	garminGW := gateway.New(gateway.Config{})
	garminClient := garmin.NewClient(cfg.Garmin, garminGW)
	sessions := garmin.NewSessionManager(garminClient, db)
	garminCreds := garmin.Credentials{Email: cfg.Garmin.Email, Password: cfg.Garmin.Password}
	uploader := garmin.NewUploader(garminGW, cfg.Garmin.APIBaseURL, cfg.Garmin.UserAgent)
	syncUploader := garmin.NewSyncUploader(sessions, uploader, garminCreds)

	// Source side: rate-limited client behind a circuit breaker.
	pelotonGW := gateway.New(gateway.Config{})
	pelotonClient := peloton.NewClient(cfg.Peloton, pelotonGW)
	fetcher := peloton.NewFetcher(peloton.NewCircuitBreakerClient(pelotonClient))

	dirs := syncpkg.NewWorkDirs(cfg.Sync.WorkingDir)
	orch := syncpkg.NewOrchestrator(fetcher, convert.NewTCX(), syncUploader, db, db, dirs)

	watch := config.NewWatch(cfg.Sync)
	poller := syncpkg.NewPoller(orch, watch, db)

	handler := api.NewHandler(orch, sessions, db, watch, garminCreds)
	router := api.NewRouter(cfg.Server, handler)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddSyncService(poller)
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("VeloSync stopped gracefully")
}
