package types

import "time"

// SyncCursor is the per-collection watermark marking the last applied remote
// change time. It only ever moves forward and is persisted alongside the
// collection so a restart resumes incrementally.
type SyncCursor struct {
	Collection   string    `json:"collection"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}

// Advance moves the watermark forward to ts. Advancing to an earlier or equal
// time is a no-op, preserving monotonicity.
func (c *SyncCursor) Advance(ts time.Time) {
	if ts.After(c.LastSyncedAt) {
		c.LastSyncedAt = ts
	}
}
