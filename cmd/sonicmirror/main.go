// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

/*
Sonicmirror keeps a local, browsable mirror of a Subsonic server's library
and keeps it usable while the server is unreachable.

Process layout:

	RootSupervisor ("sonicmirror")
	├── "events-layer"
	│   └── event bridge (sync events -> browser, reachability -> bus)
	├── "sync-layer"
	│   ├── sync manager (scheduled FULL/DELTA sync, store GC)
	│   └── connectivity trigger (SIGUSR1 -> probe + sync)
	└── "api-layer"
	    └── HTTP server (browse, sync trigger, downloads, metrics)

Send SIGUSR1 when the host regains network connectivity; SIGINT or SIGTERM
shuts down gracefully.
*/
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

	"github.com/tomtom215/sonicmirror/internal/api"
	"github.com/tomtom215/sonicmirror/internal/config"
	"github.com/tomtom215/sonicmirror/internal/events"
	"github.com/tomtom215/sonicmirror/internal/logging"
	"github.com/tomtom215/sonicmirror/internal/mirror"
	"github.com/tomtom215/sonicmirror/internal/offline"
	"github.com/tomtom215/sonicmirror/internal/reachability"
	"github.com/tomtom215/sonicmirror/internal/subsonic"
	"github.com/tomtom215/sonicmirror/internal/supervisor"
	"github.com/tomtom215/sonicmirror/internal/supervisor/services"
	intsync "github.com/tomtom215/sonicmirror/internal/sync"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("Sonicmirror stopped with an error")
	}
	logging.Info().Msg("Application stopped gracefully")
}

//nolint:gocyclo // sequential wiring
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	logging.Info().
		Str("server", cfg.Server.URL).
		Str("mirror_path", cfg.Store.Path).
		Bool("in_memory", cfg.Store.InMemory).
		Msg("Configuration loaded")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := mirror.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("open mirror: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close mirror")
		}
	}()

	tracker := reachability.NewTracker()
	transport := reachability.NewTransport(http.DefaultTransport, tracker)
	client := subsonic.NewCircuitBreakerClient(subsonic.NewClient(cfg.Server, cfg.Sync, transport), cfg.Sync)

	bus, err := events.NewBus(cfg.Events)
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close event bus")
		}
	}()

	browser := offline.NewBrowser(store, tracker, offline.Options{DownloadedOnly: cfg.HTTP.DownloadedOnly})
	if err := browser.Open(ctx); err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	defer browser.Close()

	manager := intsync.NewManager(store, client, tracker, cfg.Sync, bus)
	manager.SetOnSyncStarted(func() { browser.SetLoading(true) })
	trigger := intsync.NewConnectivityTrigger(manager, client, cfg.Sync.ProbeOnConnectivity)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	})

	bridge := services.NewEventBridgeService(bus, browser, tracker)
	tree.AddEventsService(bridge)
	tree.AddSyncService(services.NewSyncService(manager, bridge.Ready()))
	tree.AddSyncService(services.NewConnectivityService(trigger, connectivitySignals(ctx)))

	if cfg.HTTP.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
		server := &http.Server{
			Addr:              addr,
			Handler:           api.NewRouter(api.NewHandler(store, browser, manager, tracker)),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		tree.AddAPIService(services.NewHTTPServerService(server, addr, cfg.HTTP.ShutdownTimeout))
	}

	logging.Info().Msg("Starting supervisor tree...")
	var serveErr error
	if err := <-tree.ServeBackground(ctx); err != nil && !errors.Is(err, context.Canceled) {
		serveErr = err
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}
	return serveErr
}

// connectivitySignals turns SIGUSR1 into connectivity-regained notifications.
// Bursts collapse into one pending notification. The channel closes with ctx.
func connectivitySignals(ctx context.Context) <-chan struct{} {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1)

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer signal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				logging.Info().Msg("Connectivity regained notification received")
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}
