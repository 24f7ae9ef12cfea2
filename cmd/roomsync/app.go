package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/njoerd114/roomsync/internal/config"
	"github.com/njoerd114/roomsync/internal/graph"
	"github.com/njoerd114/roomsync/internal/search"
	"github.com/njoerd114/roomsync/internal/store"
	syncp "github.com/njoerd114/roomsync/internal/sync"
	"github.com/njoerd114/roomsync/internal/telemetry"
)

// app holds the components shared by every command.
type app struct {
	cfgPath string
	cfg     *config.Config
	log     *slog.Logger
	store   *store.Store
	index   *search.Index

	cleanup []func()
}

// open loads the config and opens storage and the search index. withTelemetry
// additionally starts OTLP export when the config asks for it.
func open(ctx context.Context, cmd *cli.Command, withTelemetry bool) (*app, error) {
	logger, err := newLogger(cmd)
	if err != nil {
		return nil, err
	}

	cfgPath := cmd.String("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}
	logger.Debug("config loaded", "path", cfgPath, "tenant", cfg.Graph.TenantID)

	a := &app{cfgPath: cfgPath, cfg: cfg, log: logger}

	if withTelemetry && cfg.Telemetry != nil {
		a.startTelemetry(ctx)
	}

	a.store, err = store.Open(cfg.Storage.Path, store.Options{BatchSize: cfg.Sync.StorageBatchSize})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("opening storage at %q: %w", cfg.Storage.Path, err)
	}
	a.onClose(func() {
		if err := a.store.Close(); err != nil {
			logger.Error("closing storage", "error", err)
		}
	})

	a.index, err = search.Open(cfg.Search.Path, a.store.Directory(), logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("opening search index at %q: %w", cfg.Search.Path, err)
	}
	a.onClose(func() {
		if err := a.index.Close(); err != nil {
			logger.Error("closing search index", "error", err)
		}
	})

	return a, nil
}

func (a *app) startTelemetry(ctx context.Context) {
	tc := a.cfg.Telemetry
	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		OTLPEndpoint:   tc.OTLPEndpoint,
		Insecure:       tc.Insecure,
		ServiceName:    tc.ServiceName,
		ServiceVersion: version,
		Headers:        tc.Headers,
	})
	if err != nil {
		a.log.Error("telemetry setup failed, continuing without telemetry", "error", err)
		return
	}
	a.log.Info("telemetry enabled", "endpoint", tc.OTLPEndpoint)
	a.onClose(func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			a.log.Error("telemetry shutdown error", "error", err)
		}
	})
}

// orchestrator wires the Graph client, token source and storage into a sync
// orchestrator.
func (a *app) orchestrator(ctx context.Context) (*syncp.Orchestrator, error) {
	g := a.cfg.Graph
	client, err := graph.NewClient(graph.Options{
		BaseURL:           g.BaseURL,
		Timeout:           g.Timeout,
		RequestsPerSecond: g.RequestsPerSecond,
		Burst:             g.Burst,
	}, a.log)
	if err != nil {
		return nil, fmt.Errorf("initialising Graph client: %w", err)
	}

	tokens := graph.NewAppTokenSource(ctx, graph.TokenConfig{
		AuthorityURL: g.AuthorityURL,
		TenantID:     g.TenantID,
		ClientID:     g.ClientID,
		ClientSecret: g.ClientSecret,
	})

	return syncp.NewOrchestrator(
		tokens,
		graph.NewPlaces(client, a.log),
		a.store.Directory(),
		a.store.Favorites(),
		a.index,
		syncp.Options{
			BatchSize: a.cfg.Sync.BuildingBatchSize,
			Retry:     a.cfg.RetryPolicy(),
		},
		a.log,
	), nil
}

func (a *app) onClose(fn func()) {
	a.cleanup = append(a.cleanup, fn)
}

// close runs cleanups in reverse order: the index and storage close before
// telemetry flushes.
func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

// aborted reports whether err means the run never reached the buildings.
func aborted(err error) bool {
	return errors.Is(err, syncp.ErrNoAccessToken) || errors.Is(err, syncp.ErrNoBuildings)
}
