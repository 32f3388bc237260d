package store

import (
	"context"

	"fieldcal/internal/model"
)

// SyncResult is what the durable side reports for one submitted entry.
type SyncResult struct {
	Success   bool
	DurableID int64
	Err       error
}

// Syncer persists concrete entries. Implementations must be safe to call
// again with the same entry; the store never retries on its own.
type Syncer interface {
	Submit(ctx context.Context, entry *model.Entry, scheduleID int64, isNew bool) SyncResult
	Delete(ctx context.Context, ids []int64) error
}
