package types

import (
	"context"
	"time"
)

// Persister mirrors the local entity store to durable storage. Implemented by
// the SQLite backend; the cache calls it on every mutation and at startup.
type Persister interface {
	// Load returns the durable snapshot of a collection for hydration.
	// Returns ErrCollectionDegraded if the collection's namespace could not
	// be created; the caller keeps the collection memory-only.
	Load(collection string) ([]*Entity, error)

	// Save mirrors an upsert. Atomic per entity id.
	Save(collection string, e *Entity) error

	// Delete mirrors a confirmed permanent removal.
	Delete(collection, id string) error
}

// PendingStore is the durable home of the pending-operation queue.
type PendingStore interface {
	// AppendPending persists a new operation and assigns its PendingID.
	// The operation is durable before AppendPending returns.
	AppendPending(op *PendingOp) error

	// UpdatePending persists status, attempts, and last-error changes.
	UpdatePending(op *PendingOp) error

	// DeletePending removes an operation permanently.
	DeletePending(pendingID int64) error

	// LoadPending returns all stored operations ordered by PendingID.
	LoadPending() ([]*PendingOp, error)

	// PruneSucceeded keeps only the newest keep succeeded operations per
	// kind and deletes the rest. Returns the number pruned.
	PruneSucceeded(kind string, keep int) (int, error)
}

// TrashStore persists trash bookkeeping. The three transition methods apply
// the entity status flip and the trash record change as a single transaction;
// they are the only write paths for trash state.
type TrashStore interface {
	// TrashTransition saves the entity (already flipped to
	// temporarily-deleted by the caller) and inserts the trash record
	// atomically. Fails with ErrAlreadyTrashed if a live record exists for
	// the same item.
	TrashTransition(e *Entity, rec *TrashRecord) error

	// RestoreTransition saves the entity (flipped back to active) and
	// deletes the trash record atomically.
	RestoreTransition(e *Entity, trashID string) error

	// PurgeTransition saves the entity (flipped to permanently-deleted) and
	// deletes the trash record atomically.
	PurgeTransition(e *Entity, trashID string) error

	// TrashRecordFor returns the live record for (itemID, itemType).
	// Returns ErrNotTrashed if none exists.
	TrashRecordFor(itemID string, itemType ItemType) (*TrashRecord, error)

	// ListTrash returns all live trash records ordered by DeletedAt.
	ListTrash() ([]*TrashRecord, error)
}

// CursorStore persists per-collection sync cursors.
type CursorStore interface {
	// SaveCursor persists the watermark for a collection.
	SaveCursor(collection string, lastSyncedAt time.Time) error

	// LoadCursors returns the persisted watermark per collection. Absent
	// collections resume from the zero time.
	LoadCursors() (map[string]time.Time, error)
}

// RemoteStore is the contract the sync engine requires from the remote
// authoritative store. Keyed by entity id; the id doubles as the idempotency
// key for writes.
type RemoteStore interface {
	// Changes returns all records of the collection with UpdatedAt strictly
	// after since, ordered by UpdatedAt ascending.
	Changes(ctx context.Context, collection string, since time.Time) ([]*Entity, error)

	// Put creates or overwrites the record with the entity's id.
	// Returns an error wrapping ErrRejected for constraint violations.
	Put(ctx context.Context, e *Entity) error

	// Delete removes the record permanently.
	Delete(ctx context.Context, collection, id string) error
}
