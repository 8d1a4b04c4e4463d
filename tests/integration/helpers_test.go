// Package integration provides shared test helpers for integration tests:
// a fake sync/inference server and a fully wired device session.
package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arborsense/leafvault/internal/cache"
	"github.com/arborsense/leafvault/internal/connectivity"
	"github.com/arborsense/leafvault/internal/pending"
	"github.com/arborsense/leafvault/internal/remote"
	"github.com/arborsense/leafvault/internal/scan"
	"github.com/arborsense/leafvault/internal/sqlite"
	syncengine "github.com/arborsense/leafvault/internal/sync"
	"github.com/arborsense/leafvault/internal/trash"
	"github.com/arborsense/leafvault/pkg/types"
)

// fakeServer is an in-memory stand-in for the sync and inference services.
// It speaks the same HTTP surface as the real remote and can be toggled
// unhealthy to simulate outages.
type fakeServer struct {
	mu      sync.Mutex
	healthy bool
	rows    map[string]map[string]*types.Entity
	srv     *httptest.Server
}

func newFakeServer() *fakeServer {
	f := &fakeServer{
		healthy: true,
		rows:    make(map[string]map[string]*types.Entity),
	}
	for _, c := range types.Collections {
		f.rows[c] = make(map[string]*types.Entity)
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

func (f *fakeServer) Close()      { f.srv.Close() }
func (f *fakeServer) URL() string { return f.srv.URL }

func (f *fakeServer) setHealthy(healthy bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = healthy
}

func (f *fakeServer) entity(collection, id string) *types.Entity {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.rows[collection][id]; ok {
		return e.Clone()
	}
	return nil
}

func (f *fakeServer) seed(e *types.Entity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[e.Collection][e.ID] = e.Clone()
}

func (f *fakeServer) count(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows[collection])
}

func (f *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	healthy := f.healthy
	f.mu.Unlock()
	if !healthy {
		http.Error(w, "down", http.StatusServiceUnavailable)
		return
	}

	switch {
	case r.URL.Path == "/api/v1/health":
		w.WriteHeader(http.StatusOK)
	case r.URL.Path == "/api/v1/analyze":
		f.handleAnalyze(w, r)
	default:
		f.handleEntities(w, r)
	}
}

func (f *fakeServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req types.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(remote.AnalysisResult{
		AnalyzedImage: []byte("annotated:" + req.TreeCode),
		BoundingBoxes: []types.BoundingBox{{DiseaseName: "apple scab", X: 1, Y: 2, W: 3, H: 4}},
		Detections:    []remote.Detection{{DiseaseName: "apple scab", LikelihoodScore: 0.88}},
	})
}

func (f *fakeServer) handleEntities(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/"), "/")
	collection := parts[0]
	if !types.KnownCollection(collection) {
		http.NotFound(w, r)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodGet:
		var since time.Time
		if raw := r.URL.Query().Get("since"); raw != "" {
			since, _ = time.Parse(time.RFC3339Nano, raw)
		}
		out := []*types.Entity{}
		for _, e := range f.rows[collection] {
			if e.UpdatedAt.After(since) {
				out = append(out, e)
			}
		}
		_ = json.NewEncoder(w).Encode(out)
	case http.MethodPut:
		var e types.Entity
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.rows[collection][e.ID] = &e
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		delete(f.rows[collection], parts[1])
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// device is one fully wired leafvault instance over its own temp data dir.
type device struct {
	backend *sqlite.Backend
	store   *cache.Store
	queue   *pending.Queue
	monitor *connectivity.Monitor
	engine  *syncengine.Engine
	scans   *scan.Service
	trash   *trash.Service
}

func newDevice(t *testing.T, server *fakeServer) *device {
	t.Helper()
	return newDeviceAt(t, server, t.TempDir())
}

// newDeviceAt wires a device over an explicit data dir so tests can simulate
// an app restart by opening the same dir twice.
func newDeviceAt(t *testing.T, server *fakeServer, dataDir string) *device {
	t.Helper()

	cfg := types.Config{
		DataDir:      dataDir,
		RemoteURL:    server.URL(),
		InferenceURL: server.URL(),
		UserID:       7,
	}
	require.NoError(t, cfg.Validate())

	backend := sqlite.NewBackend(nil)
	require.NoError(t, backend.Attach(cfg))
	t.Cleanup(func() { _ = backend.Detach() })

	store := cache.New(backend, nil)
	require.NoError(t, store.Hydrate())

	queue := pending.NewQueue(backend, nil)
	require.NoError(t, queue.Load())

	client := remote.NewClient(cfg.RemoteURL, cfg.UserID, cfg.HTTPTimeout, nil)
	inference := remote.NewInferenceClient(cfg.InferenceURL, cfg.HTTPTimeout, nil)
	monitor := connectivity.NewMonitor(client.Ping, time.Hour, nil)
	engine := syncengine.NewEngine(store, client, backend, monitor, syncengine.NewReadiness(), &cfg, nil)
	require.NoError(t, engine.LoadCursors())

	return &device{
		backend: backend,
		store:   store,
		queue:   queue,
		monitor: monitor,
		engine:  engine,
		scans:   scan.NewService(store, queue, inference, monitor, nil),
		trash:   trash.NewService(store, backend, cfg.UserID, nil),
	}
}

func (d *device) addTree(t *testing.T, id, code string) {
	t.Helper()
	payload, err := json.Marshal(types.Tree{Code: code, Species: "Malus domestica"})
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, d.store.Upsert(types.CollectionTrees, &types.Entity{
		ID:         id,
		Collection: types.CollectionTrees,
		Payload:    payload,
		Status:     types.StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}))
}

func treeItem(id string) trash.Item {
	return trash.Item{ID: id, Type: types.ItemTypeTree}
}

// editTree rewrites a tree's code with an explicit update time so tests can
// control which side of a conflict is newer.
func editTree(t *testing.T, d *device, id, code string, at time.Time) {
	t.Helper()
	entity, err := d.store.Get(types.CollectionTrees, id)
	require.NoError(t, err)
	var tree types.Tree
	require.NoError(t, entity.DecodePayload(&tree))
	tree.Code = code
	require.NoError(t, entity.EncodePayload(tree))
	entity.UpdatedAt = at
	require.NoError(t, d.store.Upsert(types.CollectionTrees, entity))
}
