// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

// Package api is the local HTTP surface of sonicmirror.
//
// It exposes the offline browser snapshot (as JSON and as a websocket
// stream), a manual sync trigger, download bookkeeping and Prometheus
// metrics. Every JSON response uses the models.APIResponse envelope.
//
//	GET    /healthz
//	GET    /metrics
//	GET    /api/v1/browse
//	POST   /api/v1/browse/enter/{id}
//	POST   /api/v1/browse/back
//	POST   /api/v1/browse/refresh
//	POST   /api/v1/sync[?wait=false]
//	GET    /api/v1/sync/last
//	GET    /api/v1/reachability
//	GET    /api/v1/checkpoint
//	GET    /api/v1/downloads
//	POST   /api/v1/downloads/{id}
//	DELETE /api/v1/downloads/{id}
//	GET    /ws/browse
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the chi router for h.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	// Applied to all routes in order
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(PrometheusMetrics)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(APISecurityHeaders())

		r.Route("/browse", func(r chi.Router) {
			r.Get("/", h.BrowseState)
			r.Post("/enter/{id}", h.BrowseEnter)
			r.Post("/back", h.BrowseBack)
			r.Post("/refresh", h.BrowseRefresh)
		})

		r.Post("/sync", h.TriggerSync)
		r.Get("/sync/last", h.LastSync)
		r.Get("/reachability", h.Reachability)
		r.Get("/checkpoint", h.Checkpoint)

		r.Route("/downloads", func(r chi.Router) {
			r.Get("/", h.ListDownloads)
			r.Post("/{id}", h.MarkDownloaded)
			r.Delete("/{id}", h.RemoveDownload)
		})
	})

	r.Get("/ws/browse", h.BrowseWebSocket)

	return r
}
