// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/tomtom215/sonicmirror/internal/models"
	intsync "github.com/tomtom215/sonicmirror/internal/sync"
)

// TriggerSync starts a sync. By default it waits for the run and returns its
// Result; with ?wait=false it returns 202 immediately. The run is detached
// from the request, so a client that disconnects does not cancel it.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	wait := true
	if v := r.URL.Query().Get("wait"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "wait must be a boolean", nil)
			return
		}
		wait = parsed
	}

	done := h.sync.StartIfNeeded(context.WithoutCancel(r.Context()))
	if !wait {
		respondSuccess(w, r, http.StatusAccepted, map[string]string{"status": "accepted"})
		return
	}

	select {
	case result := <-done:
		respondSyncResult(w, r, result)
	case <-r.Context().Done():
	}
}

// LastSync returns the last completed or failed run, or 404 before the first.
func (h *Handler) LastSync(w http.ResponseWriter, r *http.Request) {
	result, ok := h.sync.LastResult()
	if !ok {
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", "no sync has run yet", nil)
		return
	}
	respondSuccess(w, r, http.StatusOK, result)
}

func respondSyncResult(w http.ResponseWriter, r *http.Request, result intsync.Result) {
	if result.Status != intsync.StatusFailed {
		respondSuccess(w, r, http.StatusOK, result)
		return
	}
	respondJSON(w, http.StatusBadGateway, &models.APIResponse{
		Status:   "error",
		Data:     result,
		Metadata: metadata(r),
		Error: &models.APIError{
			Code:    "SYNC_FAILED",
			Message: result.Error,
		},
	})
}
