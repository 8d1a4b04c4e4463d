// Shared helpers for leafvault CLI commands.
package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arborsense/leafvault/internal/cache"
	"github.com/arborsense/leafvault/internal/connectivity"
	"github.com/arborsense/leafvault/internal/logging"
	"github.com/arborsense/leafvault/internal/pending"
	"github.com/arborsense/leafvault/internal/remote"
	"github.com/arborsense/leafvault/internal/scan"
	"github.com/arborsense/leafvault/internal/sqlite"
	syncengine "github.com/arborsense/leafvault/internal/sync"
	"github.com/arborsense/leafvault/internal/trash"
	"github.com/arborsense/leafvault/pkg/types"
)

// attachBackend resolves the data directory and attaches a SQLite backend.
// The caller must defer backend.Detach(). Local commands that never touch
// the network use this directly.
func attachBackend() (*sqlite.Backend, error) {
	dataDir, err := resolveDataDir()
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}

	backend := sqlite.NewBackend(logging.New("sqlite"))
	if err := backend.Attach(types.Config{DataDir: dataDir}); err != nil {
		return nil, fmt.Errorf("attach backend: %w", err)
	}
	return backend, nil
}

// session is the fully wired engine: storage, cache, queue, sync, trash.
// CLI commands run one-shot against it; the daemon also starts its loops.
type session struct {
	cfg       types.Config
	backend   *sqlite.Backend
	store     *cache.Store
	queue     *pending.Queue
	monitor   *connectivity.Monitor
	ready     *syncengine.Readiness
	engine    *syncengine.Engine
	client    *remote.Client
	inference *remote.InferenceClient
	scans     *scan.Service
	trash     *trash.Service
}

// openSession builds and hydrates a session. Requires remote_url in the
// configuration.
func openSession() (*session, error) {
	cfg, err := buildConfig()
	if err != nil {
		return nil, err
	}

	backend := sqlite.NewBackend(logging.New("sqlite"))
	if err := backend.Attach(cfg); err != nil {
		return nil, fmt.Errorf("attach backend: %w", err)
	}

	store := cache.New(backend, logging.New("cache"))
	if err := store.Hydrate(); err != nil {
		backend.Detach()
		return nil, fmt.Errorf("hydrate: %w", err)
	}

	queue := pending.NewQueue(backend, logging.New("pending"))
	if err := queue.Load(); err != nil {
		backend.Detach()
		return nil, fmt.Errorf("load pending queue: %w", err)
	}

	client := remote.NewClient(cfg.RemoteURL, cfg.UserID, cfg.HTTPTimeout, logging.New("remote"))
	inference := remote.NewInferenceClient(cfg.InferenceURL, cfg.HTTPTimeout, logging.New("inference"))
	monitor := connectivity.NewMonitor(client.Ping, cfg.SyncInterval, logging.New("connectivity"))
	ready := syncengine.NewReadiness()
	engine := syncengine.NewEngine(store, client, backend, monitor, ready, &cfg, logging.New("sync"))
	if err := engine.LoadCursors(); err != nil {
		backend.Detach()
		return nil, fmt.Errorf("load cursors: %w", err)
	}

	scans := scan.NewService(store, queue, inference, monitor, logging.New("scan"))
	trashSvc := trash.NewService(store, backend, cfg.UserID, logging.New("trash"))

	return &session{
		cfg:       cfg,
		backend:   backend,
		store:     store,
		queue:     queue,
		monitor:   monitor,
		ready:     ready,
		engine:    engine,
		client:    client,
		inference: inference,
		scans:     scans,
		trash:     trashSvc,
	}, nil
}

// probe runs one connectivity check so Online() reflects reality before a
// one-shot command decides between the direct and queued paths.
func (s *session) probe(ctx context.Context) {
	s.monitor.SetOnline(s.client.Ping(ctx) == nil)
}

// Close detaches the backend.
func (s *session) Close() error {
	return s.backend.Detach()
}

// printJSON renders v as indented JSON on stdout.
func printJSON(v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Println(string(output))
	return nil
}
