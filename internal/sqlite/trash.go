// Trash metadata persistence. Each transition pairs the entity status flip
// with the trash record change in a single transaction, so the two can never
// disagree after a crash.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/arborsense/leafvault/pkg/types"
)

// TrashTransition saves the entity (flipped to temporarily-deleted by the
// caller) and inserts its trash record atomically. The unique index on
// (item_id, item_type) rejects a second live record for the same item.
func (b *Backend) TrashTransition(e *types.Entity, rec *types.TrashRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkAttached(); err != nil {
		return err
	}
	if rec.TrashID == "" {
		rec.TrashID = newUUID()
	}

	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning trash transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO trash (trash_id, user_id, item_id, item_type, deleted_at)
         VALUES (?, ?, ?, ?, ?)`,
		rec.TrashID, rec.UserID, rec.ItemID, int(rec.ItemType),
		rec.DeletedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.ErrAlreadyTrashed
		}
		return fmt.Errorf("inserting trash record: %w", err)
	}

	if err := b.saveEntityTx(tx, e); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing trash transition: %w", err)
	}
	return nil
}

// RestoreTransition saves the entity (flipped back to active) and deletes the
// trash record atomically.
func (b *Backend) RestoreTransition(e *types.Entity, trashID string) error {
	return b.removeTransition(e, trashID, "restore")
}

// PurgeTransition saves the entity (flipped to permanently-deleted) and
// deletes the trash record atomically.
func (b *Backend) PurgeTransition(e *types.Entity, trashID string) error {
	return b.removeTransition(e, trashID, "purge")
}

// removeTransition deletes the trash record and saves the entity in one
// transaction. Restore and purge differ only in the status the caller set.
func (b *Backend) removeTransition(e *types.Entity, trashID, op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkAttached(); err != nil {
		return err
	}

	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning %s transaction: %w", op, err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM trash WHERE trash_id = ?", trashID)
	if err != nil {
		return fmt.Errorf("deleting trash record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking trash delete: %w", err)
	}
	if n == 0 {
		return types.ErrNotTrashed
	}

	if err := b.saveEntityTx(tx, e); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s transition: %w", op, err)
	}
	return nil
}

// saveEntityTx writes the entity row inside a trash transaction. A degraded
// collection has no durable namespace; the trash record alone is persisted
// and the entity change stays memory-only.
func (b *Backend) saveEntityTx(tx *sql.Tx, e *types.Entity) error {
	if err := b.ensureCollectionLocked(e.Collection); err != nil {
		b.logger.Printf("WARNING: %s degraded, trash transition persisted without entity row: %v",
			e.Collection, err)
		return nil
	}
	return b.saveEntityLocked(tx, e.Collection, e)
}

// TrashRecordFor returns the live record for (itemID, itemType).
// Returns ErrNotTrashed if none exists.
func (b *Backend) TrashRecordFor(itemID string, itemType types.ItemType) (*types.TrashRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkAttached(); err != nil {
		return nil, err
	}

	row := b.db.QueryRow(
		`SELECT trash_id, user_id, item_id, item_type, deleted_at
         FROM trash WHERE item_id = ? AND item_type = ?`,
		itemID, int(itemType),
	)
	rec, err := hydrateTrashRecord(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.ErrNotTrashed
		}
		return nil, fmt.Errorf("getting trash record for %s: %w", itemID, err)
	}
	return rec, nil
}

// ListTrash returns all live trash records ordered by deletion time.
func (b *Backend) ListTrash() ([]*types.TrashRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkAttached(); err != nil {
		return nil, err
	}

	rows, err := b.db.Query(
		`SELECT trash_id, user_id, item_id, item_type, deleted_at
         FROM trash ORDER BY deleted_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing trash: %w", err)
	}
	defer rows.Close()

	var recs []*types.TrashRecord
	for rows.Next() {
		rec, err := hydrateTrashRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("hydrating trash record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trash: %w", err)
	}
	return recs, nil
}

// hydrateTrashRecord scans a trash row via the given scan function, shared
// between QueryRow and Rows iteration.
func hydrateTrashRecord(scan func(...any) error) (*types.TrashRecord, error) {
	var (
		rec       types.TrashRecord
		itemType  int
		deletedAt string
	)
	if err := scan(&rec.TrashID, &rec.UserID, &rec.ItemID, &itemType, &deletedAt); err != nil {
		return nil, err
	}
	rec.ItemType = types.ItemType(itemType)

	var err error
	rec.DeletedAt, err = time.Parse(timeLayout, deletedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing deleted_at: %w", err)
	}
	return &rec, nil
}

// isUniqueViolation reports whether the error is a SQLite unique constraint
// failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
