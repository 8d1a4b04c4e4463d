package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arborsense/leafvault/pkg/types"
)

// SubmitFeedback queues a feedback message. Feedback always goes through the
// queue: it is durable the moment Submit returns and materializes as a
// feedback entity once the device is online.
func (s *Service) SubmitFeedback(fb *types.Feedback) (*types.PendingOp, error) {
	payload, err := json.Marshal(fb)
	if err != nil {
		return nil, err
	}
	return s.queue.Enqueue(types.OpKindFeedback, payload)
}

// handleFeedback executes one queued feedback operation. Offline is a
// transient condition; the operation stays queued until connectivity
// returns.
func (s *Service) handleFeedback(ctx context.Context, op *types.PendingOp) error {
	if !s.monitor.Online() {
		return types.ErrOffline
	}
	var fb types.Feedback
	if err := json.Unmarshal(op.Payload, &fb); err != nil {
		return fmt.Errorf("malformed feedback payload: %w", types.ErrRejected)
	}

	now := time.Now().UTC()
	entity := &types.Entity{
		ID:         uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "feedback|%d", op.PendingID)).String(),
		Collection: types.CollectionFeedback,
		Status:     types.StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := entity.EncodePayload(fb); err != nil {
		return err
	}
	return s.store.Upsert(types.CollectionFeedback, entity)
}
