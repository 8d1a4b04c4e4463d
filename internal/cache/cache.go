// Package cache implements the local entity store: the in-memory
// authoritative view of every collection, mirrored to durable storage on each
// write and hydrated from it at startup.
//
// Writes are serialized; change events are delivered synchronously to
// subscribers in the order the writes were applied. A write is mirrored
// durably before the outbound-change hook fires, so a change can never be
// reported to the sync engine without being locally recoverable.
package cache

import (
	"errors"
	"log"
	"os"
	"sort"
	"sync"

	"github.com/arborsense/leafvault/pkg/types"
)

// EventType distinguishes change events delivered to subscribers.
type EventType int

// Change event types.
const (
	EventUpsert EventType = iota
	EventRemove
)

// Event is a single change notification. Entity is a copy; mutating it does
// not affect the store. For EventRemove, Entity is the last known value.
type Event struct {
	Type       EventType
	Collection string
	Entity     *types.Entity
}

// Handler receives change events synchronously. Handlers must not write back
// into the store; reads are safe.
type Handler func(Event)

// Subscription is a registered change listener. Cancel stops delivery.
type Subscription struct {
	id         int
	collection string
	predicate  func(*types.Entity) bool
	handler    Handler
	store      *Store
}

// Cancel removes the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.store.unsubscribe(s)
}

// Store is the local entity store. One instance owns all collections for a
// session; there are no ambient singletons.
type Store struct {
	mu       sync.RWMutex
	notifyMu sync.Mutex

	persister types.Persister
	logger    *log.Logger

	collections map[string]map[string]*types.Entity
	subs        map[string][]*Subscription
	nextSubID   int

	// degradedWarned suppresses repeated memory-only warnings per collection.
	degradedWarned map[string]bool

	// onLocalChange and onLocalRemove fire for locally-originated mutations
	// only, after the durable mirror write. The sync engine registers these.
	onLocalChange func(collection string, e *types.Entity)
	onLocalRemove func(collection, id string)
}

// New creates a store over the given persister. If logger is nil, a default
// logger writing to stderr is used.
func New(persister types.Persister, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}
	s := &Store{
		persister:      persister,
		logger:         logger,
		collections:    make(map[string]map[string]*types.Entity),
		subs:           make(map[string][]*Subscription),
		degradedWarned: make(map[string]bool),
	}
	for _, c := range types.Collections {
		s.collections[c] = make(map[string]*types.Entity)
	}
	return s
}

// SetOnLocalChange registers the outbound hook for local upserts.
func (s *Store) SetOnLocalChange(fn func(collection string, e *types.Entity)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLocalChange = fn
}

// SetOnLocalRemove registers the outbound hook for local permanent removals.
func (s *Store) SetOnLocalRemove(fn func(collection, id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLocalRemove = fn
}

// Hydrate loads every collection's durable snapshot into memory. Called once
// at startup before any read is served. Degraded collections hydrate empty
// and stay memory-only for the session.
func (s *Store) Hydrate() error {
	for _, c := range types.Collections {
		entities, err := s.persister.Load(c)
		if err != nil {
			if errors.Is(err, types.ErrCollectionDegraded) {
				s.warnDegraded(c)
				continue
			}
			return err
		}
		s.mu.Lock()
		for _, e := range entities {
			s.collections[c][e.ID] = e
		}
		s.mu.Unlock()
	}
	return nil
}

// Get returns a copy of the entity, or ErrNotFound.
func (s *Store) Get(collection, id string) (*types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[collection]
	if !ok {
		return nil, types.ErrUnknownCollection
	}
	e, ok := col[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return e.Clone(), nil
}

// List returns copies of all entities in the collection matching the
// predicate (nil matches all), ordered by CreatedAt then ID for stable
// output.
func (s *Store) List(collection string, predicate func(*types.Entity) bool) ([]*types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[collection]
	if !ok {
		return nil, types.ErrUnknownCollection
	}
	result := make([]*types.Entity, 0, len(col))
	for _, e := range col {
		if predicate == nil || predicate(e) {
			result = append(result, e.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Upsert applies a locally-originated write: mirror durably, apply in memory,
// notify subscribers, then report the change to the sync engine.
func (s *Store) Upsert(collection string, e *types.Entity) error {
	return s.upsert(collection, e, true)
}

// ApplyRemote applies an inbound sync write. Identical to Upsert except the
// change is not reported back to the sync engine. Idempotent by id.
func (s *Store) ApplyRemote(collection string, e *types.Entity) error {
	return s.upsert(collection, e, false)
}

func (s *Store) upsert(collection string, e *types.Entity, local bool) error {
	if e.ID == "" {
		return types.ErrInvalidID
	}

	// notifyMu serializes writes end to end so events are delivered in the
	// order the writes were applied.
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	col, ok := s.collections[collection]
	if !ok {
		s.mu.Unlock()
		return types.ErrUnknownCollection
	}

	// Durable mirror first. A degraded collection keeps working in memory.
	if err := s.persister.Save(collection, e); err != nil {
		if !errors.Is(err, types.ErrCollectionDegraded) {
			s.mu.Unlock()
			return err
		}
		s.warnDegradedLocked(collection)
	}

	stored := e.Clone()
	stored.Collection = collection
	col[e.ID] = stored

	changeHook := s.onLocalChange
	subs := s.matchingSubsLocked(collection, stored)
	s.mu.Unlock()

	event := Event{Type: EventUpsert, Collection: collection, Entity: stored.Clone()}
	for _, sub := range subs {
		sub.handler(event)
	}

	if local && changeHook != nil {
		changeHook(collection, stored.Clone())
	}
	return nil
}

// Remove deletes an entity from memory and the durable mirror. Used only for
// confirmed permanent deletions; soft deletes go through the trash machine.
// Removing an absent id returns ErrNotFound.
func (s *Store) Remove(collection, id string) error {
	return s.remove(collection, id, true)
}

// ApplyRemoteRemove applies an inbound permanent deletion without reporting
// it back to the sync engine. Removing an absent id is a no-op.
func (s *Store) ApplyRemoteRemove(collection, id string) error {
	err := s.remove(collection, id, false)
	if errors.Is(err, types.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Store) remove(collection, id string, local bool) error {
	if id == "" {
		return types.ErrInvalidID
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	col, ok := s.collections[collection]
	if !ok {
		s.mu.Unlock()
		return types.ErrUnknownCollection
	}
	last, ok := col[id]
	if !ok {
		s.mu.Unlock()
		return types.ErrNotFound
	}

	if err := s.persister.Delete(collection, id); err != nil {
		if !errors.Is(err, types.ErrCollectionDegraded) {
			s.mu.Unlock()
			return err
		}
		s.warnDegradedLocked(collection)
	}

	delete(col, id)
	removeHook := s.onLocalRemove
	subs := s.matchingSubsLocked(collection, last)
	s.mu.Unlock()

	event := Event{Type: EventRemove, Collection: collection, Entity: last.Clone()}
	for _, sub := range subs {
		sub.handler(event)
	}

	if local && removeHook != nil {
		removeHook(collection, id)
	}
	return nil
}

// Subscribe registers a handler for change events on the collection.
// Events for entities not matching the predicate (nil matches all) are
// filtered out. Delivery is synchronous and ordered.
func (s *Store) Subscribe(collection string, predicate func(*types.Entity) bool, handler Handler) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[collection]; !ok {
		return nil, types.ErrUnknownCollection
	}
	s.nextSubID++
	sub := &Subscription{
		id:         s.nextSubID,
		collection: collection,
		predicate:  predicate,
		handler:    handler,
		store:      s,
	}
	s.subs[collection] = append(s.subs[collection], sub)
	return sub, nil
}

func (s *Store) unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.subs[sub.collection]
	for i, candidate := range list {
		if candidate.id == sub.id {
			s.subs[sub.collection] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// matchingSubsLocked returns the subscribers whose predicate accepts the
// entity, in registration order. The caller must hold s.mu.
func (s *Store) matchingSubsLocked(collection string, e *types.Entity) []*Subscription {
	var matched []*Subscription
	for _, sub := range s.subs[collection] {
		if sub.predicate == nil || sub.predicate(e) {
			matched = append(matched, sub)
		}
	}
	return matched
}

func (s *Store) warnDegraded(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnDegradedLocked(collection)
}

// warnDegradedLocked logs the memory-only degradation once per collection.
// The caller must hold s.mu.
func (s *Store) warnDegradedLocked(collection string) {
	if s.degradedWarned[collection] {
		return
	}
	s.degradedWarned[collection] = true
	s.logger.Printf("WARNING: collection %s is memory-only for this session", collection)
}
