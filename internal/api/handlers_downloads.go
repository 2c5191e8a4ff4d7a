// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sonicmirror/internal/validation"
)

// maxBodySize caps request bodies on the download routes.
const maxBodySize = 64 * 1024

// MarkDownloadRequest is the body of POST /api/v1/downloads/{id}.
type MarkDownloadRequest struct {
	LocalPath string `json:"local_path" validate:"required,max=4096"`
}

// ListDownloads returns every item with local content.
func (h *Handler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListDownloaded(r.Context())
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, items)
}

// MarkDownloaded records that {id} has local content. The browser snapshot
// picks the change up on its next refresh.
func (h *Handler) MarkDownloaded(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req MarkDownloadRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "could not read request body", err)
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "request body must be JSON", nil)
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		respondValidationError(w, r, err)
		return
	}

	if err := h.store.MarkDownloaded(r.Context(), id, req.LocalPath); err != nil {
		respondStoreError(w, r, err)
		return
	}
	item, err := h.store.Get(r.Context(), id)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, item)
}

// RemoveDownload clears the local content of {id}.
func (h *Handler) RemoveDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.store.RemoveDownload(r.Context(), id); err != nil {
		respondStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondValidationError(w http.ResponseWriter, r *http.Request, err error) {
	message := err.Error()
	var verr *validation.Error
	if errors.As(err, &verr) && len(verr.Fields) > 0 {
		message = verr.Fields[0].Message
	}
	respondError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", message, nil)
}
