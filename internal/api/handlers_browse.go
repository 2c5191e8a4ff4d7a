// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package api

import (
	"net/http"
)

// BrowseState returns the latest browser snapshot.
func (h *Handler) BrowseState(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, r, http.StatusOK, h.browser.State())
}

// BrowseEnter pushes the folder {id} onto the navigation stack.
func (h *Handler) BrowseEnter(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.browser.Enter(r.Context(), id); err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, h.browser.State())
}

// BrowseBack pops one frame. At the root nothing changes and at_root is true,
// telling the client to leave the screen.
func (h *Handler) BrowseBack(w http.ResponseWriter, r *http.Request) {
	atRoot := h.browser.Back()
	respondSuccess(w, r, http.StatusOK, map[string]any{
		"at_root": atRoot,
		"state":   h.browser.State(),
	})
}

// BrowseRefresh re-reads the current frame from the mirror.
func (h *Handler) BrowseRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.browser.Refresh(r.Context()); err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, h.browser.State())
}
