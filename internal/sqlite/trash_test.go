package sqlite

import (
	"bytes"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborsense/leafvault/pkg/types"
)

// makeTrashRecord builds a trash record for the given item.
func makeTrashRecord(itemID string, itemType types.ItemType) *types.TrashRecord {
	return &types.TrashRecord{
		UserID:    7,
		ItemID:    itemID,
		ItemType:  itemType,
		DeletedAt: time.Now().UTC(),
	}
}

func TestTrashTransitionPairsRecordAndStatus(t *testing.T) {
	b := setupBackend(t)

	e := makeEntity(t, "t1", "T-100")
	require.NoError(t, b.Save(types.CollectionTrees, e))

	e.Status = types.StatusTemporarilyDeleted
	rec := makeTrashRecord("t1", types.ItemTypeTree)
	require.NoError(t, b.TrashTransition(e, rec))
	assert.NotEmpty(t, rec.TrashID, "trash id assigned on insert")

	// Both sides of the transition are visible.
	got, err := b.TrashRecordFor("t1", types.ItemTypeTree)
	require.NoError(t, err)
	assert.Equal(t, rec.TrashID, got.TrashID)

	entities, err := b.Load(types.CollectionTrees)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, types.StatusTemporarilyDeleted, entities[0].Status)
}

func TestTrashTransitionRejectsSecondLiveRecord(t *testing.T) {
	b := setupBackend(t)

	e := makeEntity(t, "t1", "T-100")
	e.Status = types.StatusTemporarilyDeleted
	require.NoError(t, b.TrashTransition(e, makeTrashRecord("t1", types.ItemTypeTree)))

	err := b.TrashTransition(e, makeTrashRecord("t1", types.ItemTypeTree))
	assert.ErrorIs(t, err, types.ErrAlreadyTrashed)

	// Same item id under a different item type is a distinct pair.
	img := makeEntity(t, "t1", "")
	img.Collection = types.CollectionImages
	img.Status = types.StatusTemporarilyDeleted
	assert.NoError(t, b.TrashTransition(img, makeTrashRecord("t1", types.ItemTypeImage)))
}

func TestRestoreTransitionRemovesRecord(t *testing.T) {
	b := setupBackend(t)

	e := makeEntity(t, "t1", "T-100")
	e.Status = types.StatusTemporarilyDeleted
	rec := makeTrashRecord("t1", types.ItemTypeTree)
	require.NoError(t, b.TrashTransition(e, rec))

	e.Status = types.StatusActive
	require.NoError(t, b.RestoreTransition(e, rec.TrashID))

	_, err := b.TrashRecordFor("t1", types.ItemTypeTree)
	assert.ErrorIs(t, err, types.ErrNotTrashed)

	entities, err := b.Load(types.CollectionTrees)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, entities[0].Status)
}

func TestRestoreTransitionMissingRecord(t *testing.T) {
	b := setupBackend(t)

	e := makeEntity(t, "t1", "T-100")
	err := b.RestoreTransition(e, "no-such-record")
	assert.ErrorIs(t, err, types.ErrNotTrashed)
}

func TestPurgeTransitionIsTerminal(t *testing.T) {
	b := setupBackend(t)

	e := makeEntity(t, "t1", "T-100")
	e.Status = types.StatusTemporarilyDeleted
	rec := makeTrashRecord("t1", types.ItemTypeTree)
	require.NoError(t, b.TrashTransition(e, rec))

	e.Status = types.StatusPermanentlyDeleted
	require.NoError(t, b.PurgeTransition(e, rec.TrashID))

	_, err := b.TrashRecordFor("t1", types.ItemTypeTree)
	assert.ErrorIs(t, err, types.ErrNotTrashed)

	// The row remains for audit but no longer surfaces to read paths.
	entities, err := b.Load(types.CollectionTrees)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, types.StatusPermanentlyDeleted, entities[0].Status)
	assert.False(t, entities[0].Visible())
}

func TestListTrashOrdered(t *testing.T) {
	b := setupBackend(t)

	base := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		e := makeEntity(t, id, "T-"+id)
		e.Status = types.StatusTemporarilyDeleted
		rec := makeTrashRecord(id, types.ItemTypeTree)
		rec.DeletedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, b.TrashTransition(e, rec))
	}

	recs, err := b.ListTrash()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "a", recs[0].ItemID)
	assert.Equal(t, "c", recs[2].ItemID)
}

func TestTrashTransitionDegradedCollectionWarns(t *testing.T) {
	var buf bytes.Buffer
	b := NewBackend(log.New(&buf, "", 0))
	config := types.Config{RemoteURL: "http://localhost:8080", DataDir: t.TempDir()}
	require.NoError(t, config.Validate())
	require.NoError(t, b.Attach(config))
	t.Cleanup(func() { b.Detach() })

	b.mu.Lock()
	b.degraded[types.CollectionTrees] = true
	b.mu.Unlock()

	e := makeEntity(t, "t1", "T-100")
	e.Status = types.StatusTemporarilyDeleted
	require.NoError(t, b.TrashTransition(e, makeTrashRecord("t1", types.ItemTypeTree)))

	// The skipped entity row is reported, and the record alone persists.
	assert.Contains(t, buf.String(), "degraded")
	rec, err := b.TrashRecordFor("t1", types.ItemTypeTree)
	require.NoError(t, err)
	assert.Equal(t, "t1", rec.ItemID)
	_, err = b.Load(types.CollectionTrees)
	assert.ErrorIs(t, err, types.ErrCollectionDegraded)
}
