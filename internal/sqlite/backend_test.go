package sqlite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborsense/leafvault/pkg/types"
)

// setupBackend creates an attached Backend over a temp directory with a
// cleanup-deferred detach.
func setupBackend(t *testing.T) *Backend {
	t.Helper()
	b := NewBackend(nil)
	config := types.Config{
		RemoteURL: "http://localhost:8080",
		DataDir:   t.TempDir(),
	}
	require.NoError(t, config.Validate())
	require.NoError(t, b.Attach(config))
	t.Cleanup(func() { b.Detach() })
	return b
}

// makeEntity builds a minimal tree entity for tests.
func makeEntity(t *testing.T, id, code string) *types.Entity {
	t.Helper()
	now := time.Now().UTC()
	e := &types.Entity{
		ID:         id,
		Collection: types.CollectionTrees,
		Status:     types.StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, e.EncodePayload(types.Tree{Code: code}))
	return e
}

func TestAttachDetachLifecycle(t *testing.T) {
	b := NewBackend(nil)
	config := types.Config{RemoteURL: "http://localhost:8080", DataDir: t.TempDir()}

	require.NoError(t, b.Attach(config))
	assert.ErrorIs(t, b.Attach(config), types.ErrAlreadyAttached)

	require.NoError(t, b.Detach())
	require.NoError(t, b.Detach(), "detach is idempotent")

	_, err := b.Load(types.CollectionTrees)
	assert.ErrorIs(t, err, types.ErrDetached)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	b := setupBackend(t)

	e := makeEntity(t, "t1", "T-100")
	require.NoError(t, b.Save(types.CollectionTrees, e))

	entities, err := b.Load(types.CollectionTrees)
	require.NoError(t, err)
	require.Len(t, entities, 1)

	got := entities[0]
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, types.CollectionTrees, got.Collection)
	assert.Equal(t, types.StatusActive, got.Status)

	var tree types.Tree
	require.NoError(t, got.DecodePayload(&tree))
	assert.Equal(t, "T-100", tree.Code)
}

func TestSaveOverwritesOnIDMatch(t *testing.T) {
	b := setupBackend(t)

	e := makeEntity(t, "t1", "T-100")
	require.NoError(t, b.Save(types.CollectionTrees, e))

	require.NoError(t, e.EncodePayload(types.Tree{Code: "T-200"}))
	e.UpdatedAt = e.UpdatedAt.Add(time.Second)
	require.NoError(t, b.Save(types.CollectionTrees, e))

	entities, err := b.Load(types.CollectionTrees)
	require.NoError(t, err)
	require.Len(t, entities, 1)

	var tree types.Tree
	require.NoError(t, entities[0].DecodePayload(&tree))
	assert.Equal(t, "T-200", tree.Code)
}

func TestSaveValidation(t *testing.T) {
	b := setupBackend(t)

	err := b.Save(types.CollectionTrees, &types.Entity{})
	assert.ErrorIs(t, err, types.ErrInvalidID)

	err = b.Save("nope", makeEntity(t, "t1", "T-100"))
	assert.ErrorIs(t, err, types.ErrUnknownCollection)
}

func TestDeleteRemovesRow(t *testing.T) {
	b := setupBackend(t)

	require.NoError(t, b.Save(types.CollectionTrees, makeEntity(t, "t1", "T-100")))
	require.NoError(t, b.Delete(types.CollectionTrees, "t1"))

	entities, err := b.Load(types.CollectionTrees)
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestSnapshotSurvivesReattach(t *testing.T) {
	dir := t.TempDir()
	config := types.Config{RemoteURL: "http://localhost:8080", DataDir: dir}

	b := NewBackend(nil)
	require.NoError(t, b.Attach(config))
	require.NoError(t, b.Save(types.CollectionTrees, makeEntity(t, "t1", "T-100")))
	require.NoError(t, b.SaveCursor(types.CollectionTrees, time.Now().UTC()))
	require.NoError(t, b.Detach())

	// A fresh backend over the same directory sees the same data.
	b2 := NewBackend(nil)
	require.NoError(t, b2.Attach(config))
	t.Cleanup(func() { b2.Detach() })

	entities, err := b2.Load(types.CollectionTrees)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "t1", entities[0].ID)

	cursors, err := b2.LoadCursors()
	require.NoError(t, err)
	assert.Contains(t, cursors, types.CollectionTrees)
}

func TestCursorRoundTrip(t *testing.T) {
	b := setupBackend(t)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	require.NoError(t, b.SaveCursor(types.CollectionImages, ts))

	cursors, err := b.LoadCursors()
	require.NoError(t, err)
	require.Contains(t, cursors, types.CollectionImages)
	assert.True(t, cursors[types.CollectionImages].Equal(ts), "nanosecond precision preserved")

	_, ok := cursors[types.CollectionTrees]
	assert.False(t, ok, "collections without a cursor are absent")
}
