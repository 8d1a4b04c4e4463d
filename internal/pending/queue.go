// Package pending implements the durable pending-operation queue: work the
// device accepted while offline (or mid-failure) that must eventually run
// against the remote services.
//
// Operations drain in FIFO order per kind. A transient failure parks the
// whole kind for that pass and never gives up; a contract rejection marks the
// single operation failed and lets the rest of its kind proceed.
package pending

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/arborsense/leafvault/pkg/types"
)

// succeededKeep is how many completed operations are retained per kind for
// the history view before pruning.
const succeededKeep = 50

// Handler executes one pending operation. Returning nil completes the
// operation. An error wrapping types.ErrRejected marks it failed for good;
// any other error requeues it for the next drain.
type Handler func(ctx context.Context, op *types.PendingOp) error

var knownKinds = map[string]bool{
	types.OpKindNewScan:  true,
	types.OpKindFeedback: true,
}

// Queue is the pending-operation queue. Enqueue persists before returning,
// so an accepted operation survives a crash. Drains coalesce: a drain
// requested while one is running schedules exactly one follow-up pass.
type Queue struct {
	mu     sync.Mutex
	store  types.PendingStore
	logger *log.Logger

	handlers map[string]Handler
	ops      []*types.PendingOp

	draining bool
	rerun    bool
}

// NewQueue creates a queue over the given store. If logger is nil, a default
// logger writing to stderr is used.
func NewQueue(store types.PendingStore, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.New(os.Stderr, "[pending] ", log.LstdFlags)
	}
	return &Queue{
		store:    store,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// RegisterHandler installs the executor for a kind. Must be called before
// Drain sees operations of that kind.
func (q *Queue) RegisterHandler(kind string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

// Load restores the queue from durable storage. Operations that were
// in-flight when the process died go back to queued; their work may or may
// not have reached the server, and handlers are idempotent for that reason.
func (q *Queue) Load() error {
	ops, err := q.store.LoadPending()
	if err != nil {
		return err
	}
	for _, op := range ops {
		if op.Status == types.OpInFlight {
			op.Status = types.OpQueued
			if err := q.store.UpdatePending(op); err != nil {
				return err
			}
			q.logger.Printf("recovered in-flight op %d (%s) back to queued", op.PendingID, op.Kind)
		}
	}
	q.mu.Lock()
	q.ops = ops
	q.mu.Unlock()
	return nil
}

// Enqueue accepts a new operation. The operation is durable before Enqueue
// returns.
func (q *Queue) Enqueue(kind string, payload json.RawMessage) (*types.PendingOp, error) {
	if !knownKinds[kind] {
		return nil, types.ErrUnknownKind
	}
	now := time.Now().UTC()
	op := &types.PendingOp{
		Kind:      kind,
		Payload:   payload,
		Status:    types.OpQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.store.AppendPending(op); err != nil {
		return nil, err
	}

	q.mu.Lock()
	q.ops = append(q.ops, op)
	q.mu.Unlock()

	q.logger.Printf("queued op %d (%s)", op.PendingID, op.Kind)
	return op.Clone(), nil
}

// List returns copies of operations in queue order, optionally filtered by
// status.
func (q *Queue) List(statuses ...types.OpStatus) []*types.PendingOp {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*types.PendingOp
	for _, op := range q.ops {
		if len(statuses) == 0 || containsStatus(statuses, op.Status) {
			out = append(out, op.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PendingID < out[j].PendingID })
	return out
}

func containsStatus(statuses []types.OpStatus, s types.OpStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// Retry moves a failed operation back to queued. The caller triggers the
// next drain.
func (q *Queue) Retry(pendingID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op := q.findLocked(pendingID)
	if op == nil {
		return types.ErrOpNotFound
	}
	if op.Status != types.OpFailed {
		return types.ErrOpNotFailed
	}
	op.Status = types.OpQueued
	op.LastError = ""
	op.UpdatedAt = time.Now().UTC()
	return q.store.UpdatePending(op)
}

// Discard permanently removes a failed operation.
func (q *Queue) Discard(pendingID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op := q.findLocked(pendingID)
	if op == nil {
		return types.ErrOpNotFound
	}
	if op.Status != types.OpFailed {
		return types.ErrOpNotFailed
	}
	if err := q.store.DeletePending(pendingID); err != nil {
		return err
	}
	q.removeLocked(pendingID)
	return nil
}

// Drain runs every queued operation once, FIFO per kind. Only one drain runs
// at a time; concurrent requests coalesce into a single follow-up pass.
// Returns once this call's passes are complete (or immediately when a drain
// is already running).
func (q *Queue) Drain(ctx context.Context) {
	q.mu.Lock()
	if q.draining {
		q.rerun = true
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()

	for {
		q.drainPass(ctx)

		q.mu.Lock()
		if !q.rerun || ctx.Err() != nil {
			q.draining = false
			q.mu.Unlock()
			return
		}
		q.rerun = false
		q.mu.Unlock()
	}
}

func (q *Queue) drainPass(ctx context.Context) {
	// Kinds that hit a transient failure this pass. Later operations of the
	// same kind stay parked so they cannot run ahead of the failed one.
	parked := make(map[string]bool)

	for {
		if ctx.Err() != nil {
			return
		}
		op, handler := q.nextQueued(parked)
		if op == nil {
			return
		}
		if handler == nil {
			// No handler registered yet; leave it queued quietly.
			parked[op.Kind] = true
			q.logger.Printf("WARNING: no handler for op kind %s, leaving queued", op.Kind)
			continue
		}

		q.setStatus(op.PendingID, types.OpInFlight, "")
		err := handler(ctx, op)
		switch {
		case err == nil:
			q.setStatus(op.PendingID, types.OpSucceeded, "")
			q.pruneSucceeded(op.Kind)
			q.logger.Printf("op %d (%s) succeeded", op.PendingID, op.Kind)
		case errors.Is(err, types.ErrRejected):
			q.setStatus(op.PendingID, types.OpFailed, err.Error())
			q.logger.Printf("op %d (%s) rejected: %v", op.PendingID, op.Kind, err)
		default:
			q.setStatus(op.PendingID, types.OpQueued, err.Error())
			q.bumpAttempts(op.PendingID)
			parked[op.Kind] = true
			q.logger.Printf("op %d (%s) failed transiently: %v", op.PendingID, op.Kind, err)
		}
	}
}

// nextQueued returns a copy of the oldest queued operation whose kind is not
// parked, along with its handler.
func (q *Queue) nextQueued(parked map[string]bool) (*types.PendingOp, Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *types.PendingOp
	for _, op := range q.ops {
		if op.Status != types.OpQueued || parked[op.Kind] {
			continue
		}
		if best == nil || op.PendingID < best.PendingID {
			best = op
		}
	}
	if best == nil {
		return nil, nil
	}
	return best.Clone(), q.handlers[best.Kind]
}

func (q *Queue) setStatus(pendingID int64, status types.OpStatus, lastError string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	op := q.findLocked(pendingID)
	if op == nil {
		return
	}
	op.Status = status
	op.LastError = lastError
	op.UpdatedAt = time.Now().UTC()
	if err := q.store.UpdatePending(op); err != nil {
		q.logger.Printf("WARNING: persisting op %d status: %v", pendingID, err)
	}
}

func (q *Queue) bumpAttempts(pendingID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	op := q.findLocked(pendingID)
	if op == nil {
		return
	}
	op.Attempts++
	if err := q.store.UpdatePending(op); err != nil {
		q.logger.Printf("WARNING: persisting op %d attempts: %v", pendingID, err)
	}
}

func (q *Queue) pruneSucceeded(kind string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.store.PruneSucceeded(kind, succeededKeep); err != nil {
		q.logger.Printf("WARNING: pruning succeeded ops for %s: %v", kind, err)
		return
	}

	// Mirror the prune in memory: keep the newest succeededKeep per kind.
	var succeeded []*types.PendingOp
	for _, op := range q.ops {
		if op.Kind == kind && op.Status == types.OpSucceeded {
			succeeded = append(succeeded, op)
		}
	}
	if len(succeeded) <= succeededKeep {
		return
	}
	sort.Slice(succeeded, func(i, j int) bool { return succeeded[i].PendingID < succeeded[j].PendingID })
	for _, op := range succeeded[:len(succeeded)-succeededKeep] {
		q.removeLocked(op.PendingID)
	}
}

func (q *Queue) findLocked(pendingID int64) *types.PendingOp {
	for _, op := range q.ops {
		if op.PendingID == pendingID {
			return op
		}
	}
	return nil
}

func (q *Queue) removeLocked(pendingID int64) {
	for i, op := range q.ops {
		if op.PendingID == pendingID {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			return
		}
	}
}
