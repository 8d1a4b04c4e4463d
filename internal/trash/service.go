// Package trash implements the soft-delete state machine for trees and
// images: trash, restore, and the irreversible purge. Each transition pairs
// the entity status flip with its trash record in one durable transaction,
// so the two can never disagree.
package trash

import (
	"errors"
	"log"
	"os"
	"time"

	"github.com/arborsense/leafvault/internal/cache"
	"github.com/arborsense/leafvault/pkg/types"
)

// Item names one trashable entity.
type Item struct {
	ID   string
	Type types.ItemType
}

// ItemError reports a failed item within a batch operation.
type ItemError struct {
	Item Item
	Err  error
}

func (e ItemError) Error() string {
	return e.Item.Type.String() + " " + e.Item.ID + ": " + e.Err.Error()
}

// Service executes trash transitions. The durable transition happens first;
// the cache upsert afterwards publishes the status change and schedules the
// outbound sync.
type Service struct {
	store  *cache.Store
	trash  types.TrashStore
	userID int64
	logger *log.Logger

	// now is swappable in tests.
	now func() time.Time
}

// NewService creates a trash service for one user's session. If logger is
// nil, a default logger writing to stderr is used.
func NewService(store *cache.Store, trash types.TrashStore, userID int64, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(os.Stderr, "[trash] ", log.LstdFlags)
	}
	return &Service{
		store:  store,
		trash:  trash,
		userID: userID,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Trash soft-deletes an item: the entity becomes temporarily-deleted and a
// trash record is created. Trashing an already-trashed item returns
// ErrAlreadyTrashed; a permanently deleted item returns
// ErrPermanentlyDeleted.
func (s *Service) Trash(item Item) (*types.TrashRecord, error) {
	entity, err := s.lookup(item)
	if err != nil {
		return nil, err
	}
	switch entity.Status {
	case types.StatusTemporarilyDeleted:
		return nil, types.ErrAlreadyTrashed
	case types.StatusPermanentlyDeleted:
		return nil, types.ErrPermanentlyDeleted
	}
	if !entity.Status.CanTransition(types.StatusTemporarilyDeleted) {
		return nil, types.ErrInvalidTransition
	}

	now := s.now()
	entity.Status = types.StatusTemporarilyDeleted
	entity.Deleted = true
	entity.UpdatedAt = now
	rec := &types.TrashRecord{
		UserID:    s.userID,
		ItemID:    item.ID,
		ItemType:  item.Type,
		DeletedAt: now,
	}
	if err := s.trash.TrashTransition(entity, rec); err != nil {
		return nil, err
	}
	if err := s.store.Upsert(entity.Collection, entity); err != nil {
		return nil, err
	}
	s.logger.Printf("trashed %s %s (record %s)", item.Type, item.ID, rec.TrashID)
	return rec, nil
}

// Restore brings a trashed item back to active and removes its trash record.
// Restoring an item with no live record returns ErrNotTrashed.
func (s *Service) Restore(item Item) error {
	rec, err := s.trash.TrashRecordFor(item.ID, item.Type)
	if err != nil {
		return err
	}
	entity, err := s.lookup(item)
	if err != nil {
		return err
	}
	if !entity.Status.CanTransition(types.StatusActive) {
		return types.ErrInvalidTransition
	}

	entity.Status = types.StatusActive
	entity.Deleted = false
	entity.UpdatedAt = s.now()
	if err := s.trash.RestoreTransition(entity, rec.TrashID); err != nil {
		return err
	}
	if err := s.store.Upsert(entity.Collection, entity); err != nil {
		return err
	}
	s.logger.Printf("restored %s %s", item.Type, item.ID)
	return nil
}

// Purge permanently deletes a trashed item. The entity row is retained with
// permanently-deleted status so replication sees the terminal state; it
// never surfaces to read paths again.
func (s *Service) Purge(item Item) error {
	rec, err := s.trash.TrashRecordFor(item.ID, item.Type)
	if err != nil {
		return err
	}
	entity, err := s.lookup(item)
	if err != nil {
		return err
	}
	if !entity.Status.CanTransition(types.StatusPermanentlyDeleted) {
		return types.ErrInvalidTransition
	}

	entity.Status = types.StatusPermanentlyDeleted
	entity.UpdatedAt = s.now()
	if err := s.trash.PurgeTransition(entity, rec.TrashID); err != nil {
		return err
	}
	if err := s.store.Upsert(entity.Collection, entity); err != nil {
		return err
	}
	s.logger.Printf("purged %s %s", item.Type, item.ID)
	return nil
}

// RestoreMany restores a batch, continuing past failures. The returned slice
// holds one entry per failed item; a nil-length result means every item
// restored.
func (s *Service) RestoreMany(items []Item) []ItemError {
	var failed []ItemError
	for _, item := range items {
		if err := s.Restore(item); err != nil {
			failed = append(failed, ItemError{Item: item, Err: err})
		}
	}
	return failed
}

// PurgeMany purges a batch, continuing past failures.
func (s *Service) PurgeMany(items []Item) []ItemError {
	var failed []ItemError
	for _, item := range items {
		if err := s.Purge(item); err != nil {
			failed = append(failed, ItemError{Item: item, Err: err})
		}
	}
	return failed
}

// List returns all live trash records, oldest deletion first.
func (s *Service) List() ([]*types.TrashRecord, error) {
	return s.trash.ListTrash()
}

func (s *Service) lookup(item Item) (*types.Entity, error) {
	collection := item.Type.Collection()
	if collection == "" {
		return nil, types.ErrUnknownCollection
	}
	entity, err := s.store.Get(collection, item.ID)
	if err != nil {
		return nil, err
	}
	if entity.Collection == "" {
		entity.Collection = collection
	}
	return entity, nil
}

// Errors batch callers may want to branch on.
var (
	// ErrNothingSelected is returned by CLI layers when a batch call has no
	// items; kept here so both CLI and future UI share it.
	ErrNothingSelected = errors.New("no items selected")
)
