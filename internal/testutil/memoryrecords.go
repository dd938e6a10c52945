package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/owid/chart-sync/internal/chartsync"
)

// MemoryRecordStore is an in-memory RecordStore for tests. Latest-per-chart
// selection matches the SQL store: newest CreatedAt wins, ties broken by the
// highest id.
type MemoryRecordStore struct {
	Approvals []*chartsync.Approval
	Conflicts []*chartsync.Conflict
	Runs      []*chartsync.SyncRun

	// Err, when set, is returned by every method.
	Err error

	clock  chartsync.Clock
	nextID int64
}

// NewMemoryRecordStore creates an empty record store stamping records with
// the given clock.
func NewMemoryRecordStore(clock chartsync.Clock) *MemoryRecordStore {
	return &MemoryRecordStore{clock: clock}
}

func (s *MemoryRecordStore) InsertApproval(_ context.Context, approval *chartsync.Approval) error {
	if s.Err != nil {
		return s.Err
	}
	s.nextID++
	approval.ID = s.nextID
	approval.CreatedAt = s.clock.Now().UTC()
	s.Approvals = append(s.Approvals, approval)
	return nil
}

func (s *MemoryRecordStore) InsertConflict(_ context.Context, conflict *chartsync.Conflict) error {
	if s.Err != nil {
		return s.Err
	}
	s.nextID++
	conflict.ID = s.nextID
	conflict.CreatedAt = s.clock.Now().UTC()
	s.Conflicts = append(s.Conflicts, conflict)
	return nil
}

func (s *MemoryRecordStore) LatestApprovals(_ context.Context, chartIDs []int64) (map[int64]*chartsync.Approval, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	keep := idSet(chartIDs)
	latest := make(map[int64]*chartsync.Approval)
	for _, a := range s.Approvals {
		if keep != nil {
			if _, ok := keep[a.ChartID]; !ok {
				continue
			}
		}
		cur, ok := latest[a.ChartID]
		if !ok || newerRecord(a.CreatedAt, a.ID, cur.CreatedAt, cur.ID) {
			latest[a.ChartID] = a
		}
	}
	return latest, nil
}

func (s *MemoryRecordStore) LatestConflicts(_ context.Context, chartIDs []int64) (map[int64]*chartsync.Conflict, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	keep := idSet(chartIDs)
	latest := make(map[int64]*chartsync.Conflict)
	for _, c := range s.Conflicts {
		if keep != nil {
			if _, ok := keep[c.ChartID]; !ok {
				continue
			}
		}
		cur, ok := latest[c.ChartID]
		if !ok || newerRecord(c.CreatedAt, c.ID, cur.CreatedAt, cur.ID) {
			latest[c.ChartID] = c
		}
	}
	return latest, nil
}

func (s *MemoryRecordStore) StartRun(_ context.Context, run *chartsync.SyncRun) error {
	if s.Err != nil {
		return s.Err
	}
	run.StartedAt = s.clock.Now().UTC()
	run.Status = "running"
	s.Runs = append(s.Runs, run)
	return nil
}

func (s *MemoryRecordStore) FinishRun(_ context.Context, id string, status string) error {
	if s.Err != nil {
		return s.Err
	}
	for _, run := range s.Runs {
		if run.ID == id {
			finishedAt := s.clock.Now().UTC()
			run.FinishedAt = &finishedAt
			run.Status = status
			return nil
		}
	}
	return fmt.Errorf("run %s not found", id)
}

func (s *MemoryRecordStore) ListRuns(_ context.Context, limit int) ([]*chartsync.SyncRun, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	runs := make([]*chartsync.SyncRun, len(s.Runs))
	copy(runs, s.Runs)
	// newest first
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *MemoryRecordStore) Close() error { return nil }

// newerRecord applies the record store's ordering: creation time first,
// record id as the tie-break.
func newerRecord(createdAt time.Time, id int64, curCreatedAt time.Time, curID int64) bool {
	if createdAt.After(curCreatedAt) {
		return true
	}
	return createdAt.Equal(curCreatedAt) && id > curID
}

// Compile-time check that MemoryRecordStore implements the RecordStore interface
var _ chartsync.RecordStore = (*MemoryRecordStore)(nil)
