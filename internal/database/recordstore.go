package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/owid/chart-sync/internal/chartsync"
	"github.com/owid/chart-sync/internal/database/migrations"
)

// SQLiteRecordStore implements the RecordStore interface using SQLite.
// Approvals and conflicts are append-only; "latest per chart" is derived
// at query time by creation order with id as the tie-break.
type SQLiteRecordStore struct {
	db    *sql.DB
	clock chartsync.Clock
	path  string
}

// NewRecordStore opens (creating if needed) the record database at path and
// migrates it to the latest schema. path can be ":memory:" for tests.
func NewRecordStore(path string, clock chartsync.Clock) (*SQLiteRecordStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating record database: %w", err)
	}
	return &SQLiteRecordStore{db: db, clock: clock, path: path}, nil
}

// NewRecordStoreFromDB wraps an existing connection. The caller is
// responsible for running migrations and closing the connection.
func NewRecordStoreFromDB(db *sql.DB, clock chartsync.Clock) *SQLiteRecordStore {
	return &SQLiteRecordStore{db: db, clock: clock}
}

func (s *SQLiteRecordStore) InsertApproval(ctx context.Context, approval *chartsync.Approval) error {
	approval.CreatedAt = s.clock.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chart_approvals (chart_id, status, source_updated_at, target_updated_at, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		approval.ChartID, approval.Status.String(), approval.SourceUpdatedAt,
		nullableTimeArg(approval.TargetUpdatedAt), approval.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting approval for chart %d: %w", approval.ChartID, err)
	}
	approval.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading approval id: %w", err)
	}
	return nil
}

func (s *SQLiteRecordStore) InsertConflict(ctx context.Context, conflict *chartsync.Conflict) error {
	conflict.CreatedAt = s.clock.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chart_conflicts (chart_id, target_updated_at, resolution, created_at)
		VALUES (?, ?, ?, ?)`,
		conflict.ChartID, conflict.TargetUpdatedAt, conflict.Resolution.String(), conflict.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting conflict for chart %d: %w", conflict.ChartID, err)
	}
	conflict.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading conflict id: %w", err)
	}
	return nil
}

func (s *SQLiteRecordStore) LatestApprovals(ctx context.Context, chartIDs []int64) (map[int64]*chartsync.Approval, error) {
	latest := make(map[int64]*chartsync.Approval)
	if len(chartIDs) == 0 {
		return latest, nil
	}
	query := `SELECT id, chart_id, status, source_updated_at, target_updated_at, created_at
		FROM chart_approvals
		WHERE chart_id IN (` + placeholders(len(chartIDs)) + `)
		ORDER BY chart_id, created_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, query, int64Args(chartIDs)...)
	if err != nil {
		return nil, fmt.Errorf("fetching latest approvals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a         chartsync.Approval
			status    string
			targetUpd sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.ChartID, &status, &a.SourceUpdatedAt, &targetUpd, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning approval: %w", err)
		}
		if _, seen := latest[a.ChartID]; seen {
			continue // rows are newest-first per chart
		}
		if a.Status, err = chartsync.ParseApprovalStatus(status); err != nil {
			return nil, fmt.Errorf("approval %d: %w", a.ID, err)
		}
		if targetUpd.Valid {
			t := targetUpd.Time
			a.TargetUpdatedAt = &t
		}
		latest[a.ChartID] = &a
	}
	return latest, rows.Err()
}

func (s *SQLiteRecordStore) LatestConflicts(ctx context.Context, chartIDs []int64) (map[int64]*chartsync.Conflict, error) {
	latest := make(map[int64]*chartsync.Conflict)
	if len(chartIDs) == 0 {
		return latest, nil
	}
	query := `SELECT id, chart_id, target_updated_at, resolution, created_at
		FROM chart_conflicts
		WHERE chart_id IN (` + placeholders(len(chartIDs)) + `)
		ORDER BY chart_id, created_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, query, int64Args(chartIDs)...)
	if err != nil {
		return nil, fmt.Errorf("fetching latest conflicts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c          chartsync.Conflict
			resolution string
		)
		if err := rows.Scan(&c.ID, &c.ChartID, &c.TargetUpdatedAt, &resolution, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning conflict: %w", err)
		}
		if _, seen := latest[c.ChartID]; seen {
			continue
		}
		if c.Resolution, err = chartsync.ParseConflictResolution(resolution); err != nil {
			return nil, fmt.Errorf("conflict %d: %w", c.ID, err)
		}
		latest[c.ChartID] = &c
	}
	return latest, rows.Err()
}

func (s *SQLiteRecordStore) StartRun(ctx context.Context, run *chartsync.SyncRun) error {
	run.StartedAt = s.clock.Now().UTC()
	run.Status = "running"
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, operation, parameters, started_at, status)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Operation, run.Parameters, run.StartedAt, run.Status)
	if err != nil {
		return fmt.Errorf("recording run start: %w", err)
	}
	return nil
}

func (s *SQLiteRecordStore) FinishRun(ctx context.Context, id string, status string) error {
	finishedAt := s.clock.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET finished_at = ?, status = ? WHERE id = ?`,
		finishedAt, status, id)
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

func (s *SQLiteRecordStore) ListRuns(ctx context.Context, limit int) ([]*chartsync.SyncRun, error) {
	query := `SELECT id, operation, parameters, started_at, finished_at, status
		FROM sync_runs ORDER BY started_at DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*chartsync.SyncRun
	for rows.Next() {
		var (
			r          chartsync.SyncRun
			finishedAt sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Operation, &r.Parameters, &r.StartedAt, &finishedAt, &r.Status); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			r.FinishedAt = &t
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// Path returns the database file path ("" for wrapped connections).
func (s *SQLiteRecordStore) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteRecordStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullableTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// Compile-time check that SQLiteRecordStore implements the RecordStore interface
var _ chartsync.RecordStore = (*SQLiteRecordStore)(nil)
