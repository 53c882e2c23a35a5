// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/jcrawford/velosync/internal/config"
	"github.com/jcrawford/velosync/internal/garmin"
	"github.com/jcrawford/velosync/internal/logging"
	syncpkg "github.com/jcrawford/velosync/internal/sync"
)

var validate = validator.New()

// SyncRunner runs one on-demand pipeline pass; satisfied by
// *sync.Orchestrator.
type SyncRunner interface {
	Run(ctx context.Context, opts syncpkg.Options) *syncpkg.Run
}

// MfaCompleter resumes a suspended destination login; satisfied by
// *garmin.SessionManager.
type MfaCompleter interface {
	CompleteMfa(ctx context.Context, creds garmin.Credentials, code string) (*garmin.AuthState, error)
	MfaPending(ctx context.Context, email string) bool
}

// StatusReader reads the persisted sync status.
type StatusReader interface {
	GetSyncStatus(ctx context.Context) (*syncpkg.Status, error)
}

// Handler implements the HTTP endpoints.
type Handler struct {
	runner   SyncRunner
	sessions MfaCompleter
	status   StatusReader
	watch    *config.Watch
	creds    garmin.Credentials
}

// NewHandler creates the handler set.
func NewHandler(runner SyncRunner, sessions MfaCompleter, status StatusReader, watch *config.Watch, creds garmin.Credentials) *Handler {
	return &Handler{
		runner:   runner,
		sessions: sessions,
		status:   status,
		watch:    watch,
		creds:    creds,
	}
}

// syncRequest selects what an on-demand run syncs.
type syncRequest struct {
	WorkoutCount       int      `json:"workout_count" validate:"gte=0,lte=100"`
	WorkoutIDs         []string `json:"workout_ids" validate:"max=100,dive,required"`
	ForceIgnoreHistory bool     `json:"force_ignore_history"`
}

// syncResponse reports per-stage outcomes of one run.
type syncResponse struct {
	SyncSuccess     bool     `json:"sync_success"`
	DownloadSuccess bool     `json:"download_success"`
	ConvertSuccess  bool     `json:"convert_success"`
	UploadSuccess   bool     `json:"upload_success"`
	Uploaded        int      `json:"uploaded"`
	Errors          []string `json:"errors"`
}

// Sync triggers one on-demand run and reports its outcome. Runs are
// synchronous: the response describes the completed run.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err)
		return
	}
	if req.WorkoutCount == 0 && len(req.WorkoutIDs) == 0 {
		// Default to the configured batch size instead of a no-op.
		req.WorkoutCount = h.watch.Sync().WorkoutCount
	}

	run := h.runner.Run(r.Context(), syncpkg.Options{
		RequestedCount: req.WorkoutCount,
		WorkoutIDs:     req.WorkoutIDs,
		IgnoreHistory:  req.ForceIgnoreHistory,
	})

	errs := run.Errors
	if errs == nil {
		errs = []string{}
	}
	respondJSON(w, http.StatusOK, syncResponse{
		SyncSuccess:     run.Success(),
		DownloadSuccess: run.DownloadOk,
		ConvertSuccess:  run.ConvertOk,
		UploadSuccess:   run.UploadOk,
		Uploaded:        run.Uploaded,
		Errors:          errs,
	})
}

// statusResponse is the wire shape of the sync status endpoint.
type statusResponse struct {
	Status     *syncpkg.Status `json:"status"`
	MfaPending bool            `json:"mfa_pending"`
}

// SyncStatus reports the persisted run summary plus whether a destination
// login is waiting for an MFA code.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.status.GetSyncStatus(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load sync status", err)
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{
		Status:     status,
		MfaPending: h.sessions.MfaPending(r.Context(), h.creds.Email),
	})
}

// mfaRequest carries the out-of-band MFA code.
type mfaRequest struct {
	Code string `json:"code" validate:"required,numeric,min=4,max=8"`
}

// CompleteMfa resumes the suspended destination login with the submitted
// code.
func (h *Handler) CompleteMfa(w http.ResponseWriter, r *http.Request) {
	var req mfaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid mfa code format", err)
		return
	}

	_, err := h.sessions.CompleteMfa(r.Context(), h.creds, req.Code)
	switch garmin.KindOf(err) {
	case "":
		// No auth error; either success or a transport failure.
		if err != nil {
			respondError(w, http.StatusBadGateway, "mfa completion failed", err)
			return
		}
	case garmin.KindNotInitialized:
		respondError(w, http.StatusConflict, "no login is waiting for an mfa code", err)
		return
	case garmin.KindInvalidMfaCode:
		respondError(w, http.StatusUnauthorized, "mfa code rejected", err)
		return
	default:
		respondError(w, http.StatusBadGateway, "mfa completion failed", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"completed": true})
}

// Health reports liveness plus the poller-derived health classification.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status, err := h.status.GetSyncStatus(r.Context())
	health := syncpkg.HealthNotRunning
	if err == nil {
		health = status.Health
	}

	code := http.StatusOK
	if health == syncpkg.HealthDead {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]string{
		"status": "ok",
		"health": string(health),
	})
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error().Err(err).Msg("Failed to encode API response")
	}
}

// errorResponse is the wire shape of all error responses.
type errorResponse struct {
	Error string `json:"error"`
}

// respondError writes a JSON error response and logs the cause.
func respondError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Warn().Err(err).Int("status", status).Msg("API request failed")
	}
	respondJSON(w, status, errorResponse{Error: message})
}
