// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/sonicmirror/internal/logging"
	"github.com/tomtom215/sonicmirror/internal/mirror"
	"github.com/tomtom215/sonicmirror/internal/models"
	"github.com/tomtom215/sonicmirror/internal/offline"
	intsync "github.com/tomtom215/sonicmirror/internal/sync"
	"github.com/tomtom215/sonicmirror/internal/validation"
)

// SyncRunner is the part of *sync.Manager the HTTP surface drives.
type SyncRunner interface {
	StartIfNeeded(ctx context.Context) <-chan intsync.Result
	InProgress() bool
	LastResult() (intsync.Result, bool)
}

// ReachabilitySource is the part of *reachability.Tracker the HTTP surface reads.
type ReachabilitySource interface {
	State() models.ReachabilityState
}

// Handler serves every route of the HTTP surface.
type Handler struct {
	store     mirror.Store
	browser   *offline.Browser
	sync      SyncRunner
	tracker   ReachabilitySource
	startTime time.Time
}

// NewHandler creates a Handler. browser must already be open for the browse
// routes to succeed.
func NewHandler(store mirror.Store, browser *offline.Browser, sync SyncRunner, tracker ReachabilitySource) *Handler {
	return &Handler{
		store:     store,
		browser:   browser,
		sync:      sync,
		tracker:   tracker,
		startTime: time.Now(),
	}
}

// idTag validates item IDs taken from the path.
const idTag = "required,max=512,entityid"

// pathID reads and validates the {id} URL parameter, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := validation.ValidateVar(id, idTag); err != nil {
		respondError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid item id", nil)
		return "", false
	}
	return id, true
}

// respondStoreError maps mirror and browser errors onto HTTP statuses.
func respondStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, mirror.ErrNotFound):
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", "item not found", nil)
	case errors.Is(err, offline.ErrNotContainer):
		respondError(w, r, http.StatusConflict, "NOT_CONTAINER", "item cannot be entered", nil)
	case errors.Is(err, offline.ErrNotOpen):
		respondError(w, r, http.StatusConflict, "BROWSER_CLOSED", "browser is not open", nil)
	case errors.Is(err, mirror.ErrClosed):
		respondError(w, r, http.StatusServiceUnavailable, "STORE_ERROR", "mirror is closed", err)
	default:
		respondError(w, r, http.StatusInternalServerError, "STORE_ERROR", "mirror operation failed", err)
	}
}

// Health reports whether the mirror answers plus the sync and reachability state.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health := models.HealthStatus{
		Status:         "healthy",
		Reachability:   h.tracker.State(),
		SyncInProgress: h.sync.InProgress(),
		Uptime:         time.Since(h.startTime).Seconds(),
	}

	count, err := h.store.Count(r.Context())
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Health check could not read the mirror")
		health.Status = "degraded"
	}
	health.Entities = count

	if cp, err := h.store.GetCheckpoint(r.Context()); err == nil && cp.LastSyncedAt != 0 {
		at := cp.Time()
		health.LastSyncedAt = &at
	}

	status := http.StatusOK
	if health.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	respondSuccess(w, r, status, health)
}

// Reachability returns the current reachability belief.
func (h *Handler) Reachability(w http.ResponseWriter, r *http.Request) {
	state := h.tracker.State()
	respondSuccess(w, r, http.StatusOK, map[string]any{
		"state":     state,
		"reachable": state.IsReachable(),
	})
}

// Checkpoint returns the durable sync checkpoint.
func (h *Handler) Checkpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := h.store.GetCheckpoint(r.Context())
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, cp)
}
