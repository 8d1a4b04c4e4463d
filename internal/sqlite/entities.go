// Entity namespace persistence: the durable mirror of the in-memory store.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/arborsense/leafvault/pkg/types"
)

// timeLayout is the timestamp encoding for all stored times. Nanosecond
// precision preserves the ordering the sync cursor depends on.
const timeLayout = time.RFC3339Nano

// Load returns the durable snapshot of a collection, ordered by created_at,
// for hydrating the in-memory store at startup.
func (b *Backend) Load(collection string) ([]*types.Entity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkAttached(); err != nil {
		return nil, err
	}
	if !types.KnownCollection(collection) {
		return nil, types.ErrUnknownCollection
	}
	if err := b.ensureCollectionLocked(collection); err != nil {
		return nil, err
	}

	rows, err := b.db.Query(fmt.Sprintf(
		"SELECT id, payload, status, deleted, created_at, updated_at FROM %s ORDER BY created_at ASC",
		entityTableName(collection),
	))
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", collection, err)
	}
	defer rows.Close()

	var entities []*types.Entity
	for rows.Next() {
		e, err := hydrateEntity(rows, collection)
		if err != nil {
			return nil, fmt.Errorf("hydrating %s entity: %w", collection, err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", collection, err)
	}
	return entities, nil
}

// Save mirrors an upsert to the collection namespace. Atomic per id.
func (b *Backend) Save(collection string, e *types.Entity) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkAttached(); err != nil {
		return err
	}
	if e.ID == "" {
		return types.ErrInvalidID
	}
	if !types.KnownCollection(collection) {
		return types.ErrUnknownCollection
	}
	if err := b.ensureCollectionLocked(collection); err != nil {
		return err
	}
	return b.saveEntityLocked(b.db, collection, e)
}

// execer covers both *sql.DB and *sql.Tx so entity writes can participate in
// the trash transition transactions.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// saveEntityLocked writes the entity row. The caller must hold b.mu and have
// verified the collection namespace.
func (b *Backend) saveEntityLocked(ex execer, collection string, e *types.Entity) error {
	deleted := 0
	if e.Deleted {
		deleted = 1
	}
	_, err := ex.Exec(fmt.Sprintf(
		`INSERT INTO %s (id, payload, status, deleted, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
           payload = excluded.payload,
           status = excluded.status,
           deleted = excluded.deleted,
           updated_at = excluded.updated_at`,
		entityTableName(collection),
	), e.ID, string(e.Payload), int(e.Status), deleted,
		e.CreatedAt.UTC().Format(timeLayout), e.UpdatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("saving %s/%s: %w", collection, e.ID, err)
	}
	return nil
}

// Delete mirrors a confirmed permanent removal from the collection namespace.
func (b *Backend) Delete(collection, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkAttached(); err != nil {
		return err
	}
	if id == "" {
		return types.ErrInvalidID
	}
	if !types.KnownCollection(collection) {
		return types.ErrUnknownCollection
	}
	if err := b.ensureCollectionLocked(collection); err != nil {
		return err
	}

	if _, err := b.db.Exec(fmt.Sprintf(
		"DELETE FROM %s WHERE id = ?", entityTableName(collection),
	), id); err != nil {
		return fmt.Errorf("deleting %s/%s: %w", collection, id, err)
	}
	return nil
}

// hydrateEntity converts a row from sql.Rows into a *types.Entity.
func hydrateEntity(rows *sql.Rows, collection string) (*types.Entity, error) {
	var (
		e                    types.Entity
		payload              string
		status, deleted      int
		createdAt, updatedAt string
	)
	if err := rows.Scan(&e.ID, &payload, &status, &deleted, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	e.Collection = collection
	e.Payload = []byte(payload)
	e.Status = types.Status(status)
	e.Deleted = deleted != 0

	var err error
	e.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	e.UpdatedAt, err = time.Parse(timeLayout, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &e, nil
}
