package types

import (
	"encoding/json"
	"time"
)

// Collection names. Each collection is a homogeneous set of entities with its
// own durable namespace and sync cursor.
const (
	CollectionTrees             = "trees"
	CollectionImages            = "images"
	CollectionAnalyses          = "analyses"
	CollectionDiseases          = "diseases"
	CollectionDiseaseIdentified = "disease_identified"
	CollectionFeedback          = "feedback"
)

// Collections lists every synced collection in hydration order.
var Collections = []string{
	CollectionTrees,
	CollectionImages,
	CollectionAnalyses,
	CollectionDiseases,
	CollectionDiseaseIdentified,
	CollectionFeedback,
}

// knownCollections is the set of recognized collection names.
var knownCollections = func() map[string]bool {
	m := make(map[string]bool, len(Collections))
	for _, c := range Collections {
		m[c] = true
	}
	return m
}()

// KnownCollection reports whether name is a recognized collection.
func KnownCollection(name string) bool {
	return knownCollections[name]
}

// Status is the lifecycle status carried by every entity row.
type Status int

// Entity statuses. TemporarilyDeleted pairs with a live TrashRecord;
// PermanentlyDeleted is terminal and never surfaces to read paths.
const (
	StatusActive             Status = 1
	StatusInactive           Status = 2
	StatusTemporarilyDeleted Status = 3
	StatusPermanentlyDeleted Status = 4
)

// validTransitions enumerates the allowed status transitions.
// PermanentlyDeleted has no outgoing edges.
var validTransitions = map[Status][]Status{
	StatusActive:             {StatusInactive, StatusTemporarilyDeleted},
	StatusInactive:           {StatusActive},
	StatusTemporarilyDeleted: {StatusActive, StatusPermanentlyDeleted},
}

// CanTransition reports whether the status may move to the target status.
// Setting the current status again is not a transition and returns false.
func (s Status) CanTransition(to Status) bool {
	for _, t := range validTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// String returns the status name used in logs and CLI output.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusInactive:
		return "inactive"
	case StatusTemporarilyDeleted:
		return "temporarily-deleted"
	case StatusPermanentlyDeleted:
		return "permanently-deleted"
	default:
		return "unknown"
	}
}

// Entity is a uniquely identified record in a collection. The payload is an
// opaque JSON document; callers decode it into the typed payload structs.
// ID is globally unique within the collection and never changes after
// creation.
type Entity struct {
	ID         string          `json:"id"`
	Collection string          `json:"collection"`
	Payload    json.RawMessage `json:"payload"`
	Status     Status          `json:"status"`
	Deleted    bool            `json:"deleted"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Clone returns a deep copy of the entity. The payload bytes are copied so
// callers cannot mutate a stored entity through the returned value.
func (e *Entity) Clone() *Entity {
	cp := *e
	if e.Payload != nil {
		cp.Payload = make(json.RawMessage, len(e.Payload))
		copy(cp.Payload, e.Payload)
	}
	return &cp
}

// Visible reports whether the entity may surface to read paths. Tombstoned
// and permanently deleted entities are retained for replication correctness
// but never shown.
func (e *Entity) Visible() bool {
	return !e.Deleted && e.Status != StatusPermanentlyDeleted
}

// DecodePayload unmarshals the entity payload into dst.
// Returns ErrMalformedPayload when the payload is not valid JSON for dst.
func (e *Entity) DecodePayload(dst any) error {
	if len(e.Payload) == 0 {
		return ErrMalformedPayload
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return ErrMalformedPayload
	}
	return nil
}

// EncodePayload marshals src and stores it as the entity payload.
func (e *Entity) EncodePayload(src any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return ErrMalformedPayload
	}
	e.Payload = data
	return nil
}
