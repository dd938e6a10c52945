package chartsync

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// DiffBuilder materializes one ChartDiff per changed chart id, batch-loading
// charts, approvals, conflicts and per-variable checksums.
type DiffBuilder struct {
	source           Store
	target           Store
	records          RecordStore
	stagingCreatedAt time.Time
	logger           Logger
}

// NewDiffBuilder creates a builder over one source/target pair.
func NewDiffBuilder(source, target Store, records RecordStore, stagingCreatedAt time.Time, logger Logger) *DiffBuilder {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &DiffBuilder{
		source:           source,
		target:           target,
		records:          records,
		stagingCreatedAt: stagingCreatedAt,
		logger:           logger,
	}
}

// Build turns a change table into diffs, ordered by chart id.
//
// Every changed id must exist in the source store (the table was derived
// from it) — a missing row is a data-integrity error and aborts the build.
// A target row whose CreatedAt does not match the source row's is an
// unrelated chart that happens to share the id and is treated as absent.
func (b *DiffBuilder) Build(ctx context.Context, table ChangeTable) ([]*ChartDiff, error) {
	ids := make([]int64, 0, len(table))
	for id, flags := range table {
		if flags.Changed() {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	sourceCharts, err := b.source.FetchCharts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("batch-loading charts from source: %w", err)
	}
	for _, id := range ids {
		if sourceCharts[id] == nil {
			return nil, fmt.Errorf("%w: chart %d", ErrChartMissingInSource, id)
		}
	}

	targetCharts, err := b.target.FetchCharts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("batch-loading charts from target: %w", err)
	}
	pairedIDs := make([]int64, 0, len(ids))
	for _, id := range ids {
		tgt := targetCharts[id]
		if tgt == nil {
			continue
		}
		if !sourceCharts[id].SamePairAs(tgt) {
			b.logger.Warn("chart id shared by unrelated charts, treating as unpaired",
				"chart_id", id,
				"source_created_at", sourceCharts[id].CreatedAt,
				"target_created_at", tgt.CreatedAt)
			delete(targetCharts, id)
			continue
		}
		pairedIDs = append(pairedIDs, id)
	}

	approvals, err := b.records.LatestApprovals(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading latest approvals: %w", err)
	}
	conflicts, err := b.records.LatestConflicts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading latest conflicts: %w", err)
	}

	variableDiffs, err := b.loadVariableDiffs(ctx, pairedIDs)
	if err != nil {
		return nil, err
	}

	var targetSlugs map[string]struct{}
	diffs := make([]*ChartDiff, 0, len(ids))
	for _, id := range ids {
		diff := NewChartDiff(DiffParams{
			Source:           sourceCharts[id],
			Target:           targetCharts[id],
			Approval:         approvals[id],
			Conflict:         conflicts[id],
			Flags:            table[id],
			VariableDiffs:    variableDiffs[id],
			StagingCreatedAt: b.stagingCreatedAt,
			Logger:           b.logger,
		})

		// A new chart whose slug is already taken in target is a data
		// problem for the operator, not a builder bug: record it on the
		// diff instead of failing the run.
		if diff.Target == nil {
			if targetSlugs == nil {
				targetSlugs, err = b.target.FetchSlugs(ctx)
				if err != nil {
					return nil, fmt.Errorf("fetching slugs from target: %w", err)
				}
			}
			if _, taken := targetSlugs[diff.Source.Slug]; taken {
				diff.Error = fmt.Sprintf("slug %q already exists in target for a different chart", diff.Source.Slug)
			}
		}

		diffs = append(diffs, diff)
	}
	return diffs, nil
}

// loadVariableDiffs aligns the two environments' per-variable checksum
// tables for all paired charts and groups the comparison rows by chart id.
func (b *DiffBuilder) loadVariableDiffs(ctx context.Context, pairedIDs []int64) (map[int64][]VariableDiff, error) {
	if len(pairedIDs) == 0 {
		return nil, nil
	}
	sourceRows, err := b.source.FetchVariableChecksums(ctx, pairedIDs)
	if err != nil {
		return nil, fmt.Errorf("fetching variable checksums from source: %w", err)
	}
	targetRows, err := b.target.FetchVariableChecksums(ctx, pairedIDs)
	if err != nil {
		return nil, fmt.Errorf("fetching variable checksums from target: %w", err)
	}

	byChart := make(map[int64][]VariableDiff)
	for _, vd := range CompareVariableChecksums(sourceRows, targetRows) {
		byChart[vd.ChartID] = append(byChart[vd.ChartID], vd)
	}
	return byChart, nil
}
