// Package sync implements bidirectional synchronization between the local
// entity store and the remote authoritative store, plus the readiness
// aggregator the UI watches.
//
// Outbound: local changes are tracked as a dirty set and pushed whenever the
// device is online, retrying forever with capped exponential backoff.
// Inbound: each collection is pulled incrementally from its cursor and
// applied last-writer-wins by update time; the cursor only advances after the
// whole batch is applied.
package sync

import (
	"context"
	"errors"
	"log"
	"os"
	stdsync "sync"
	"time"

	"github.com/arborsense/leafvault/internal/cache"
	"github.com/arborsense/leafvault/internal/connectivity"
	"github.com/arborsense/leafvault/pkg/types"
)

// Engine drives push and pull for all collections. One engine per session.
type Engine struct {
	store   *cache.Store
	remote  types.RemoteStore
	cursors types.CursorStore
	monitor *connectivity.Monitor
	ready   *Readiness
	logger  *log.Logger

	interval   time.Duration
	backoffMin time.Duration
	backoffMax time.Duration

	mu stdsync.Mutex
	// dirty and removed track locally-originated changes not yet confirmed by
	// the server, keyed by collection then id.
	dirty    map[string]map[string]bool
	removed  map[string]map[string]bool
	watermrk map[string]*types.SyncCursor
	// synced marks collections whose initial pull has completed. The
	// readiness aggregator stays busy while any collection is unsynced and
	// a pass for it is underway.
	synced map[string]bool

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewEngine wires an engine over the cache, remote store, and cursor store.
// The engine registers itself as the cache's outbound hook. If logger is
// nil, a default logger writing to stderr is used.
func NewEngine(store *cache.Store, remote types.RemoteStore, cursors types.CursorStore,
	monitor *connectivity.Monitor, ready *Readiness, cfg *types.Config, logger *log.Logger) *Engine {

	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	e := &Engine{
		store:      store,
		remote:     remote,
		cursors:    cursors,
		monitor:    monitor,
		ready:      ready,
		logger:     logger,
		interval:   cfg.SyncInterval,
		backoffMin: cfg.BackoffMin,
		backoffMax: cfg.BackoffMax,
		dirty:      make(map[string]map[string]bool),
		removed:    make(map[string]map[string]bool),
		watermrk:   make(map[string]*types.SyncCursor),
		synced:     make(map[string]bool),
		kick:       make(chan struct{}, 1),
	}
	store.SetOnLocalChange(func(collection string, changed *types.Entity) {
		e.MarkDirty(collection, changed.ID)
	})
	store.SetOnLocalRemove(e.MarkRemoved)
	return e
}

// LoadCursors restores the per-collection watermarks. Call once before Start.
func (e *Engine) LoadCursors() error {
	saved, err := e.cursors.LoadCursors()
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range types.Collections {
		e.watermrk[c] = &types.SyncCursor{Collection: c, LastSyncedAt: saved[c]}
		// A persisted cursor means the collection completed its initial
		// pull in an earlier session.
		if !saved[c].IsZero() {
			e.synced[c] = true
		}
	}
	return nil
}

// Cursor returns the current watermark for a collection.
func (e *Engine) Cursor(collection string) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.watermrk[collection]; ok {
		return c.LastSyncedAt
	}
	return time.Time{}
}

// MarkDirty records that a collection has local changes to push. An empty id
// marks the whole collection for a rescan; the push pass resolves ids from
// the store.
func (e *Engine) MarkDirty(collection, id string) {
	e.mu.Lock()
	if e.dirty[collection] == nil {
		e.dirty[collection] = make(map[string]bool)
	}
	e.dirty[collection][id] = true
	e.mu.Unlock()
	e.Kick()
}

// MarkRemoved records a local permanent removal to replicate.
func (e *Engine) MarkRemoved(collection, id string) {
	e.mu.Lock()
	if e.removed[collection] == nil {
		e.removed[collection] = make(map[string]bool)
	}
	e.removed[collection][id] = true
	e.mu.Unlock()
	e.Kick()
}

// Kick requests a sync pass soon. Non-blocking; kicks coalesce.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Start launches the sync loop: an immediate pass, then passes on the
// interval, on kicks, and on reconnect. Passes are skipped while offline.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.stop != nil {
		e.mu.Unlock()
		return
	}
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	stop, done := e.stop, e.done
	e.mu.Unlock()

	transitions, cancelSub := e.monitor.Subscribe()

	go func() {
		defer close(done)
		defer cancelSub()

		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		backoff := e.backoffMin
		var retry <-chan time.Time

		attempt := func() {
			if !e.monitor.Online() {
				return
			}
			if err := e.SyncOnce(ctx); err != nil {
				e.logger.Printf("sync pass failed: %v (retrying in %s)", err, backoff)
				retry = time.After(backoff)
				backoff *= 2
				if backoff > e.backoffMax {
					backoff = e.backoffMax
				}
				return
			}
			backoff = e.backoffMin
			retry = nil
		}

		attempt()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				attempt()
			case <-e.kick:
				attempt()
			case online := <-transitions:
				if online {
					attempt()
				}
			case <-retry:
				attempt()
			}
		}
	}()
}

// Stop halts the sync loop and waits for it to exit. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	stop, done := e.stop, e.done
	e.stop, e.done = nil, nil
	e.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// SyncOnce runs one full pass: push local changes, then pull every
// collection. Returns the first error; partial progress is kept.
func (e *Engine) SyncOnce(ctx context.Context) error {
	e.beginFirstSync()

	if err := e.pushAll(ctx); err != nil {
		return err
	}
	var firstErr error
	for _, collection := range types.Collections {
		if err := e.PullCollection(ctx, collection); err != nil {
			e.logger.Printf("pulling %s: %v", collection, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// beginFirstSync flags every collection still awaiting its initial pull, so
// the aggregate reads busy from the first attempt until the pull applies.
// A failed attempt leaves the flag set. Collections already past their
// initial pull are never flagged again; routine passes do not touch
// readiness.
func (e *Engine) beginFirstSync() {
	e.mu.Lock()
	var pending []string
	for _, c := range types.Collections {
		if !e.synced[c] {
			pending = append(pending, c)
		}
	}
	e.mu.Unlock()

	for _, c := range pending {
		e.ready.Set(c, true)
	}
}

// pushAll replicates the dirty set. Transient failures put the work back and
// surface the error so the loop retries; rejected writes are logged and
// dropped, leaving the server's version to win on the next pull.
func (e *Engine) pushAll(ctx context.Context) error {
	dirty, removed := e.takeOutbound()

	// Confirmed and rejected ids are removed from the snapshots as they are
	// settled, so on a transient failure the snapshots hold exactly the
	// unconfirmed work and both go back whole for the retry pass.
	if err := e.pushSnapshot(ctx, dirty, removed); err != nil {
		e.restoreOutbound(dirty, removed)
		return err
	}
	return nil
}

func (e *Engine) pushSnapshot(ctx context.Context, dirty, removed map[string]map[string]bool) error {
	for collection, ids := range removed {
		for id := range ids {
			if err := e.remote.Delete(ctx, collection, id); err != nil {
				if !errors.Is(err, types.ErrRejected) {
					return err
				}
				e.logger.Printf("WARNING: remote refused delete of %s/%s: %v", collection, id, err)
			}
			delete(ids, id)
		}
	}

	for collection, ids := range dirty {
		entities, err := e.resolveDirty(collection, ids)
		if err != nil {
			return err
		}
		for _, entity := range entities {
			if err := e.remote.Put(ctx, entity); err != nil {
				if !errors.Is(err, types.ErrRejected) {
					return err
				}
				e.logger.Printf("WARNING: remote refused %s/%s: %v", collection, entity.ID, err)
			}
			delete(ids, entity.ID)
		}
	}
	return nil
}

// takeOutbound snapshots and clears the outbound sets.
func (e *Engine) takeOutbound() (dirty, removed map[string]map[string]bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	dirty, removed = e.dirty, e.removed
	e.dirty = make(map[string]map[string]bool)
	e.removed = make(map[string]map[string]bool)
	return dirty, removed
}

// restoreOutbound merges unfinished work back into the outbound sets so the
// retry pass sees it.
func (e *Engine) restoreOutbound(dirty, removed map[string]map[string]bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for collection, ids := range dirty {
		if e.dirty[collection] == nil {
			e.dirty[collection] = make(map[string]bool)
		}
		for id := range ids {
			e.dirty[collection][id] = true
		}
	}
	for collection, ids := range removed {
		if e.removed[collection] == nil {
			e.removed[collection] = make(map[string]bool)
		}
		for id := range ids {
			e.removed[collection][id] = true
		}
	}
}

// resolveDirty turns dirty marks into concrete entities. The empty-id mark
// expands to the whole collection.
func (e *Engine) resolveDirty(collection string, ids map[string]bool) ([]*types.Entity, error) {
	if ids[""] {
		entities, err := e.store.List(collection, nil)
		if err != nil {
			return nil, err
		}
		delete(ids, "")
		for _, entity := range entities {
			ids[entity.ID] = true
		}
	}
	var entities []*types.Entity
	for id := range ids {
		entity, err := e.store.Get(collection, id)
		if errors.Is(err, types.ErrNotFound) {
			delete(ids, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

// PullCollection fetches remote changes past the collection's cursor and
// applies them last-writer-wins. The cursor advances only after every record
// in the batch is applied, so an interrupted pull replays rather than skips.
func (e *Engine) PullCollection(ctx context.Context, collection string) error {
	since := e.Cursor(collection)
	incoming, err := e.remote.Changes(ctx, collection, since)
	if err != nil {
		return err
	}
	if len(incoming) == 0 {
		e.completeFirstSync(collection)
		return nil
	}

	var high time.Time
	applied := 0
	for _, remote := range incoming {
		if remote.UpdatedAt.After(high) {
			high = remote.UpdatedAt
		}
		local, err := e.store.Get(collection, remote.ID)
		if err == nil && local.UpdatedAt.After(remote.UpdatedAt) {
			// Local edit is newer; it stays and will push on its own.
			continue
		}
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			return err
		}
		if err := e.store.ApplyRemote(collection, remote); err != nil {
			return err
		}
		applied++
	}

	e.mu.Lock()
	cursor := e.watermrk[collection]
	if cursor == nil {
		cursor = &types.SyncCursor{Collection: collection}
		e.watermrk[collection] = cursor
	}
	cursor.Advance(high)
	watermark := cursor.LastSyncedAt
	e.mu.Unlock()

	if err := e.cursors.SaveCursor(collection, watermark); err != nil {
		return err
	}
	e.logger.Printf("pulled %s: %d received, %d applied, cursor %s",
		collection, len(incoming), applied, watermark.Format(time.RFC3339Nano))
	e.completeFirstSync(collection)
	return nil
}

// completeFirstSync clears a collection's initial-pull flag, permanently.
func (e *Engine) completeFirstSync(collection string) {
	e.mu.Lock()
	first := !e.synced[collection]
	e.synced[collection] = true
	e.mu.Unlock()

	if first {
		e.ready.Set(collection, false)
	}
}
