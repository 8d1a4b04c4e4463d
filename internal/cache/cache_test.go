package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborsense/leafvault/pkg/types"
)

// memPersister is an in-memory types.Persister with optional per-collection
// degradation, standing in for the sqlite backend.
type memPersister struct {
	rows     map[string]map[string]*types.Entity
	degraded map[string]bool
	saves    int
	deletes  int
}

func newMemPersister() *memPersister {
	p := &memPersister{
		rows:     make(map[string]map[string]*types.Entity),
		degraded: make(map[string]bool),
	}
	for _, c := range types.Collections {
		p.rows[c] = make(map[string]*types.Entity)
	}
	return p
}

func (p *memPersister) Load(collection string) ([]*types.Entity, error) {
	if p.degraded[collection] {
		return nil, types.ErrCollectionDegraded
	}
	var out []*types.Entity
	for _, e := range p.rows[collection] {
		out = append(out, e.Clone())
	}
	return out, nil
}

func (p *memPersister) Save(collection string, e *types.Entity) error {
	if p.degraded[collection] {
		return types.ErrCollectionDegraded
	}
	p.saves++
	p.rows[collection][e.ID] = e.Clone()
	return nil
}

func (p *memPersister) Delete(collection, id string) error {
	if p.degraded[collection] {
		return types.ErrCollectionDegraded
	}
	p.deletes++
	delete(p.rows[collection], id)
	return nil
}

func makeTree(id, code string) *types.Entity {
	payload, _ := json.Marshal(types.Tree{Code: code, Species: "Malus domestica"})
	now := time.Now().UTC()
	return &types.Entity{
		ID:         id,
		Collection: types.CollectionTrees,
		Payload:    payload,
		Status:     types.StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestUpsertPersistsBeforeMemory(t *testing.T) {
	p := newMemPersister()
	store := New(p, nil)

	err := store.Upsert(types.CollectionTrees, makeTree("t1", "A-001"))
	require.NoError(t, err)

	assert.Equal(t, 1, p.saves)
	_, ok := p.rows[types.CollectionTrees]["t1"]
	assert.True(t, ok, "durable mirror should hold the entity")

	got, err := store.Get(types.CollectionTrees, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)
}

func TestGetReturnsCopy(t *testing.T) {
	store := New(newMemPersister(), nil)
	require.NoError(t, store.Upsert(types.CollectionTrees, makeTree("t1", "A-001")))

	got, err := store.Get(types.CollectionTrees, "t1")
	require.NoError(t, err)
	got.Status = types.StatusPermanentlyDeleted

	again, err := store.Get(types.CollectionTrees, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, again.Status)
}

func TestGetUnknownCollection(t *testing.T) {
	store := New(newMemPersister(), nil)
	_, err := store.Get("nope", "t1")
	assert.ErrorIs(t, err, types.ErrUnknownCollection)
}

func TestGetMissing(t *testing.T) {
	store := New(newMemPersister(), nil)
	_, err := store.Get(types.CollectionTrees, "absent")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestHydrateLoadsSnapshot(t *testing.T) {
	p := newMemPersister()
	p.rows[types.CollectionTrees]["t1"] = makeTree("t1", "A-001")
	p.rows[types.CollectionTrees]["t2"] = makeTree("t2", "A-002")

	store := New(p, nil)
	require.NoError(t, store.Hydrate())

	list, err := store.List(types.CollectionTrees, nil)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestHydrateToleratesDegradedCollection(t *testing.T) {
	p := newMemPersister()
	p.degraded[types.CollectionImages] = true
	p.rows[types.CollectionTrees]["t1"] = makeTree("t1", "A-001")

	store := New(p, nil)
	require.NoError(t, store.Hydrate())

	list, err := store.List(types.CollectionTrees, nil)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	images, err := store.List(types.CollectionImages, nil)
	require.NoError(t, err)
	assert.Empty(t, images)
}

func TestUpsertDegradedKeepsMemory(t *testing.T) {
	p := newMemPersister()
	p.degraded[types.CollectionTrees] = true
	store := New(p, nil)

	require.NoError(t, store.Upsert(types.CollectionTrees, makeTree("t1", "A-001")))

	got, err := store.Get(types.CollectionTrees, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, 0, p.saves)
}

func TestLocalChangeHookFiresAfterPersist(t *testing.T) {
	p := newMemPersister()
	store := New(p, nil)

	var hookSaves int
	store.SetOnLocalChange(func(collection string, e *types.Entity) {
		hookSaves = p.saves
	})

	require.NoError(t, store.Upsert(types.CollectionTrees, makeTree("t1", "A-001")))
	assert.Equal(t, 1, hookSaves, "durable write must precede the outbound hook")
}

func TestApplyRemoteSkipsLocalHook(t *testing.T) {
	store := New(newMemPersister(), nil)

	hookCalls := 0
	store.SetOnLocalChange(func(string, *types.Entity) { hookCalls++ })

	require.NoError(t, store.ApplyRemote(types.CollectionTrees, makeTree("t1", "A-001")))
	assert.Zero(t, hookCalls)

	got, err := store.Get(types.CollectionTrees, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)
}

func TestApplyRemoteIdempotent(t *testing.T) {
	store := New(newMemPersister(), nil)

	e := makeTree("t1", "A-001")
	require.NoError(t, store.ApplyRemote(types.CollectionTrees, e))
	require.NoError(t, store.ApplyRemote(types.CollectionTrees, e))

	list, err := store.List(types.CollectionTrees, nil)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSubscribeOrderedDelivery(t *testing.T) {
	store := New(newMemPersister(), nil)

	var seen []string
	_, err := store.Subscribe(types.CollectionTrees, nil, func(ev Event) {
		seen = append(seen, ev.Entity.ID)
	})
	require.NoError(t, err)

	require.NoError(t, store.Upsert(types.CollectionTrees, makeTree("t1", "A-001")))
	require.NoError(t, store.Upsert(types.CollectionTrees, makeTree("t2", "A-002")))
	require.NoError(t, store.Upsert(types.CollectionTrees, makeTree("t3", "A-003")))

	assert.Equal(t, []string{"t1", "t2", "t3"}, seen)
}

func TestSubscribePredicateFilters(t *testing.T) {
	store := New(newMemPersister(), nil)

	var seen []string
	_, err := store.Subscribe(types.CollectionTrees, func(e *types.Entity) bool {
		return e.Status == types.StatusTemporarilyDeleted
	}, func(ev Event) {
		seen = append(seen, ev.Entity.ID)
	})
	require.NoError(t, err)

	active := makeTree("t1", "A-001")
	trashed := makeTree("t2", "A-002")
	trashed.Status = types.StatusTemporarilyDeleted
	trashed.Deleted = true

	require.NoError(t, store.Upsert(types.CollectionTrees, active))
	require.NoError(t, store.Upsert(types.CollectionTrees, trashed))

	assert.Equal(t, []string{"t2"}, seen)
}

func TestSubscriptionCancel(t *testing.T) {
	store := New(newMemPersister(), nil)

	calls := 0
	sub, err := store.Subscribe(types.CollectionTrees, nil, func(Event) { calls++ })
	require.NoError(t, err)

	require.NoError(t, store.Upsert(types.CollectionTrees, makeTree("t1", "A-001")))
	sub.Cancel()
	sub.Cancel() // second cancel is harmless
	require.NoError(t, store.Upsert(types.CollectionTrees, makeTree("t2", "A-002")))

	assert.Equal(t, 1, calls)
}

func TestRemoveDeletesAndNotifies(t *testing.T) {
	p := newMemPersister()
	store := New(p, nil)
	require.NoError(t, store.Upsert(types.CollectionTrees, makeTree("t1", "A-001")))

	var removed []string
	_, err := store.Subscribe(types.CollectionTrees, nil, func(ev Event) {
		if ev.Type == EventRemove {
			removed = append(removed, ev.Entity.ID)
		}
	})
	require.NoError(t, err)

	var hookID string
	store.SetOnLocalRemove(func(collection, id string) { hookID = id })

	require.NoError(t, store.Remove(types.CollectionTrees, "t1"))

	assert.Equal(t, []string{"t1"}, removed)
	assert.Equal(t, "t1", hookID)
	assert.Equal(t, 1, p.deletes)

	_, err = store.Get(types.CollectionTrees, "t1")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestRemoveMissing(t *testing.T) {
	store := New(newMemPersister(), nil)
	err := store.Remove(types.CollectionTrees, "absent")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestApplyRemoteRemoveMissingIsNoop(t *testing.T) {
	store := New(newMemPersister(), nil)

	hookCalls := 0
	store.SetOnLocalRemove(func(string, string) { hookCalls++ })

	assert.NoError(t, store.ApplyRemoteRemove(types.CollectionTrees, "absent"))
	assert.Zero(t, hookCalls)
}

func TestListOrderedByCreatedAt(t *testing.T) {
	store := New(newMemPersister(), nil)

	older := makeTree("b", "A-002")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer := makeTree("a", "A-001")

	require.NoError(t, store.Upsert(types.CollectionTrees, newer))
	require.NoError(t, store.Upsert(types.CollectionTrees, older))

	list, err := store.List(types.CollectionTrees, nil)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)
	assert.Equal(t, "a", list[1].ID)
}

func TestListPredicate(t *testing.T) {
	store := New(newMemPersister(), nil)

	visible := makeTree("t1", "A-001")
	hidden := makeTree("t2", "A-002")
	hidden.Status = types.StatusTemporarilyDeleted
	hidden.Deleted = true

	require.NoError(t, store.Upsert(types.CollectionTrees, visible))
	require.NoError(t, store.Upsert(types.CollectionTrees, hidden))

	list, err := store.List(types.CollectionTrees, func(e *types.Entity) bool { return e.Visible() })
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "t1", list[0].ID)
}
