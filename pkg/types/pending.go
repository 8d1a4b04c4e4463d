package types

import (
	"encoding/json"
	"time"
)

// Pending operation kinds. Operations of the same kind are processed in
// strict enqueue order; different kinds are independent.
const (
	OpKindNewScan  = "new-scan"
	OpKindFeedback = "feedback"
)

// OpStatus is the lifecycle status of a pending operation.
type OpStatus string

// Pending operation statuses. A queued operation is eligible for the next
// drain pass. Failed is reserved for contract violations and rejected writes;
// transient failures revert to queued.
const (
	OpQueued    OpStatus = "queued"
	OpInFlight  OpStatus = "in-flight"
	OpSucceeded OpStatus = "succeeded"
	OpFailed    OpStatus = "failed"
)

// PendingOp is a deferred user action held until its preconditions (network,
// inference endpoint) become satisfiable. PendingID is assigned durably on
// enqueue and is monotonic per database.
type PendingOp struct {
	PendingID int64           `json:"pending_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Status    OpStatus        `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone returns a deep copy of the operation.
func (op *PendingOp) Clone() *PendingOp {
	cp := *op
	if op.Payload != nil {
		cp.Payload = make(json.RawMessage, len(op.Payload))
		copy(cp.Payload, op.Payload)
	}
	return &cp
}

// ScanRequest is the payload of a new-scan pending operation. ImageData is
// the captured image encoded as a transportable string.
type ScanRequest struct {
	UserID    int64  `json:"user_id"`
	TreeCode  string `json:"tree_code"`
	ImageData string `json:"image_data"`
	MimeType  string `json:"mime_type,omitempty"`
}
