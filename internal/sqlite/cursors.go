// Sync cursor persistence. One watermark per collection; a restart resumes
// incrementally instead of re-fetching whole collections.
package sqlite

import (
	"fmt"
	"time"

	"github.com/arborsense/leafvault/pkg/types"
)

// SaveCursor persists the watermark for a collection.
func (b *Backend) SaveCursor(collection string, lastSyncedAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkAttached(); err != nil {
		return err
	}
	if !types.KnownCollection(collection) {
		return types.ErrUnknownCollection
	}

	_, err := b.db.Exec(
		`INSERT INTO sync_cursors (collection, last_synced_at) VALUES (?, ?)
         ON CONFLICT(collection) DO UPDATE SET last_synced_at = excluded.last_synced_at`,
		collection, lastSyncedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("saving cursor for %s: %w", collection, err)
	}
	return nil
}

// LoadCursors returns the persisted watermark per collection. Collections
// without a stored cursor are absent from the map and resume from zero.
func (b *Backend) LoadCursors() (map[string]time.Time, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkAttached(); err != nil {
		return nil, err
	}

	rows, err := b.db.Query("SELECT collection, last_synced_at FROM sync_cursors")
	if err != nil {
		return nil, fmt.Errorf("loading cursors: %w", err)
	}
	defer rows.Close()

	cursors := make(map[string]time.Time)
	for rows.Next() {
		var collection, lastSyncedAt string
		if err := rows.Scan(&collection, &lastSyncedAt); err != nil {
			return nil, fmt.Errorf("scanning cursor: %w", err)
		}
		ts, err := time.Parse(timeLayout, lastSyncedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing cursor for %s: %w", collection, err)
		}
		cursors[collection] = ts
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cursors: %w", err)
	}
	return cursors, nil
}
