// Pending-operation queue persistence. Enqueued user actions are durable
// before the enqueue call returns, so process termination never loses one.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/arborsense/leafvault/pkg/types"
)

// AppendPending persists a new operation and assigns its PendingID from the
// AUTOINCREMENT rowid, which is monotonic per database.
func (b *Backend) AppendPending(op *types.PendingOp) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkAttached(); err != nil {
		return err
	}

	res, err := b.db.Exec(
		`INSERT INTO pending_ops (kind, payload, status, attempts, last_error, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.Kind, string(op.Payload), string(op.Status), op.Attempts, op.LastError,
		op.CreatedAt.UTC().Format(timeLayout), op.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("appending pending op: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading pending id: %w", err)
	}
	op.PendingID = id
	return nil
}

// UpdatePending persists status, attempts, and last-error changes.
func (b *Backend) UpdatePending(op *types.PendingOp) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkAttached(); err != nil {
		return err
	}

	res, err := b.db.Exec(
		`UPDATE pending_ops SET status = ?, attempts = ?, last_error = ?, updated_at = ?
         WHERE pending_id = ?`,
		string(op.Status), op.Attempts, op.LastError,
		op.UpdatedAt.UTC().Format(timeLayout), op.PendingID,
	)
	if err != nil {
		return fmt.Errorf("updating pending op %d: %w", op.PendingID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking pending update: %w", err)
	}
	if n == 0 {
		return types.ErrOpNotFound
	}
	return nil
}

// DeletePending removes an operation permanently.
func (b *Backend) DeletePending(pendingID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkAttached(); err != nil {
		return err
	}

	res, err := b.db.Exec("DELETE FROM pending_ops WHERE pending_id = ?", pendingID)
	if err != nil {
		return fmt.Errorf("deleting pending op %d: %w", pendingID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking pending delete: %w", err)
	}
	if n == 0 {
		return types.ErrOpNotFound
	}
	return nil
}

// LoadPending returns all stored operations ordered by PendingID, which is
// enqueue order.
func (b *Backend) LoadPending() ([]*types.PendingOp, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkAttached(); err != nil {
		return nil, err
	}

	rows, err := b.db.Query(
		`SELECT pending_id, kind, payload, status, attempts, last_error, created_at, updated_at
         FROM pending_ops ORDER BY pending_id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("loading pending ops: %w", err)
	}
	defer rows.Close()

	var ops []*types.PendingOp
	for rows.Next() {
		op, err := hydratePendingOp(rows)
		if err != nil {
			return nil, fmt.Errorf("hydrating pending op: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending ops: %w", err)
	}
	return ops, nil
}

// PruneSucceeded keeps only the newest keep succeeded operations of the kind
// and deletes the rest. Returns the number pruned.
func (b *Backend) PruneSucceeded(kind string, keep int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkAttached(); err != nil {
		return 0, err
	}

	res, err := b.db.Exec(
		`DELETE FROM pending_ops WHERE kind = ? AND status = ? AND pending_id NOT IN (
            SELECT pending_id FROM pending_ops WHERE kind = ? AND status = ?
            ORDER BY pending_id DESC LIMIT ?
         )`,
		kind, string(types.OpSucceeded), kind, string(types.OpSucceeded), keep,
	)
	if err != nil {
		return 0, fmt.Errorf("pruning succeeded ops: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking prune count: %w", err)
	}
	return int(n), nil
}

// hydratePendingOp converts a row from sql.Rows into a *types.PendingOp.
func hydratePendingOp(rows *sql.Rows) (*types.PendingOp, error) {
	var (
		op                   types.PendingOp
		payload, status      string
		createdAt, updatedAt string
	)
	if err := rows.Scan(&op.PendingID, &op.Kind, &payload, &status,
		&op.Attempts, &op.LastError, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	op.Payload = []byte(payload)
	op.Status = types.OpStatus(status)

	var err error
	op.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	op.UpdatedAt, err = time.Parse(timeLayout, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &op, nil
}
