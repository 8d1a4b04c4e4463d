package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborsense/leafvault/pkg/types"
)

func seedTree(t *testing.T, server *fakeServer, id, code string, at time.Time) {
	t.Helper()
	payload, err := json.Marshal(types.Tree{Code: code})
	require.NoError(t, err)
	server.seed(&types.Entity{
		ID:         id,
		Collection: types.CollectionTrees,
		Payload:    payload,
		Status:     types.StatusActive,
		CreatedAt:  at,
		UpdatedAt:  at,
	})
}

// TestIncrementalPull verifies the per-collection cursor only fetches what
// changed since the last pull and advances to the newest applied row.
func TestIncrementalPull(t *testing.T) {
	server := newFakeServer()
	defer server.Close()

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedTree(t, server, "t1", "A-001", t0)

	d := newDevice(t, server)
	require.NoError(t, d.engine.SyncOnce(context.Background()))
	_, err := d.store.Get(types.CollectionTrees, "t1")
	require.NoError(t, err)
	assert.Equal(t, t0, d.engine.Cursor(types.CollectionTrees))

	// A later server-side change is picked up; the untouched one is not
	// re-sent because the cursor is strictly after it.
	t1 := t0.Add(time.Hour)
	seedTree(t, server, "t2", "A-002", t1)
	require.NoError(t, d.engine.SyncOnce(context.Background()))

	_, err = d.store.Get(types.CollectionTrees, "t2")
	require.NoError(t, err)
	assert.Equal(t, t1, d.engine.Cursor(types.CollectionTrees))
}

// TestCursorPersistsAcrossRestart reopens the data dir and expects the
// cursor to carry over instead of refetching from the epoch.
func TestCursorPersistsAcrossRestart(t *testing.T) {
	server := newFakeServer()
	defer server.Close()

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedTree(t, server, "t1", "A-001", t0)

	dataDir := t.TempDir()
	first := newDeviceAt(t, server, dataDir)
	require.NoError(t, first.engine.SyncOnce(context.Background()))
	require.NoError(t, first.backend.Detach())

	second := newDeviceAt(t, server, dataDir)
	assert.Equal(t, t0, second.engine.Cursor(types.CollectionTrees))
	_, err := second.store.Get(types.CollectionTrees, "t1")
	require.NoError(t, err)
}
