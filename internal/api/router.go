// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

// Package api exposes the service over HTTP: on-demand sync runs, sync
// status, MFA completion, health and metrics.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jcrawford/velosync/internal/config"
)

// Router builds the HTTP routing tree.
type Router struct {
	cfg     config.ServerConfig
	handler *Handler
}

// NewRouter creates a router around the handler set.
func NewRouter(cfg config.ServerConfig, handler *Handler) *Router {
	return &Router{cfg: cfg, handler: handler}
}

// Setup returns the fully wired routing tree.
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: rt.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// Unauthenticated operational endpoints with a permissive limit so
	// monitoring can poll freely.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(1000, time.Minute))
		r.Get("/health", rt.handler.Health)
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	})

	r.Route("/api/v1", func(r chi.Router) {
		reqs, window := rt.cfg.RateLimitReqs, rt.cfg.RateLimitWindow
		if reqs <= 0 {
			reqs, window = 60, time.Minute
		}
		r.Use(httprate.LimitByIP(reqs, window))
		r.Use(apiMetrics)

		r.Post("/sync", rt.handler.Sync)
		r.Get("/sync/status", rt.handler.SyncStatus)
		r.Post("/auth/mfa", rt.handler.CompleteMfa)
	})

	return r
}
