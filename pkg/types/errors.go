package types

import "errors"

// Backend lifecycle errors.
var (
	ErrDetached        = errors.New("backend is detached")
	ErrAlreadyAttached = errors.New("backend is already attached")
)

// Entity operation errors.
var (
	ErrNotFound          = errors.New("entity not found")
	ErrInvalidID         = errors.New("invalid entity ID")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrMalformedPayload  = errors.New("malformed payload")
)

// ErrCollectionDegraded marks a collection whose durable namespace could not
// be created. The collection keeps working memory-only for the session.
var ErrCollectionDegraded = errors.New("collection degraded to memory-only")

// Pending queue errors.
var (
	ErrOpNotFound   = errors.New("pending operation not found")
	ErrUnknownKind  = errors.New("unknown operation kind")
	ErrOpNotFailed  = errors.New("operation is not in failed status")
)

// Trash state machine errors.
var (
	ErrAlreadyTrashed     = errors.New("item already has a live trash record")
	ErrNotTrashed         = errors.New("item has no live trash record")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrPermanentlyDeleted = errors.New("item is permanently deleted")
)

// ErrRejected marks a write the remote store refused (constraint violation,
// duplicate key). Rejected writes surface to the caller and are not retried.
var ErrRejected = errors.New("write rejected by remote store")

// ErrOffline marks an operation that needs connectivity while none is
// available. The caller defers the operation instead of failing it.
var ErrOffline = errors.New("network unavailable")
