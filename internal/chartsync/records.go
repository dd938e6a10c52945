package chartsync

import (
	"context"
	"time"
)

// Approval is one durable decision about a detected diff. Approvals are
// append-only; the latest record per chart (by creation order) is the
// current status. Each approval is keyed to the (SourceUpdatedAt,
// TargetUpdatedAt) pair it was issued against, so a later edit on either
// side is detectable by callers re-deriving the checksum state.
type Approval struct {
	ID              int64
	ChartID         int64
	Status          ApprovalStatus
	SourceUpdatedAt time.Time
	TargetUpdatedAt *time.Time // nil for charts not yet in target
	CreatedAt       time.Time
}

// Conflict acknowledges a target-side edit. Append-only; the latest record
// per chart wins, and it only counts as resolved against the exact target
// UpdatedAt it was recorded for.
type Conflict struct {
	ID              int64
	ChartID         int64
	TargetUpdatedAt time.Time
	Resolution      ConflictResolution
	CreatedAt       time.Time
}

// SyncRun records one mutating invocation of the tool. It is an advisory
// marker only; nothing serializes concurrent runs against the same target.
type SyncRun struct {
	ID         string
	Operation  string
	Parameters string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string // "running", "completed" or "failed"
}

// RecordStore is the durable, append-only store for approvals, conflicts
// and sync-run history.
//
// Latest-per-chart lookups return maps keyed by chart id; a missing key
// means "no record yet", which is itself a valid result. On equal creation
// timestamps the record with the highest id wins.
type RecordStore interface {
	// InsertApproval appends an approval record, filling ID and CreatedAt.
	InsertApproval(ctx context.Context, approval *Approval) error

	// InsertConflict appends a conflict record, filling ID and CreatedAt.
	InsertConflict(ctx context.Context, conflict *Conflict) error

	// LatestApprovals returns the newest approval per requested chart id.
	LatestApprovals(ctx context.Context, chartIDs []int64) (map[int64]*Approval, error)

	// LatestConflicts returns the newest conflict record per requested chart id.
	LatestConflicts(ctx context.Context, chartIDs []int64) (map[int64]*Conflict, error)

	// StartRun records the start of a mutating invocation, filling StartedAt.
	StartRun(ctx context.Context, run *SyncRun) error

	// FinishRun stamps a run's finish time and final status.
	FinishRun(ctx context.Context, id string, status string) error

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]*SyncRun, error)

	// Close closes the underlying connection.
	Close() error
}
