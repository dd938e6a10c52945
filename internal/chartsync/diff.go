package chartsync

import (
	"context"
	"fmt"
	"time"
)

// ChartDiff is one chart's reconciliation state between the two
// environments. It is rebuilt from scratch on every run; derived state is
// computed eagerly from the immutable snapshots at construction and
// recomputed after each transition, so there is no cached state to
// invalidate.
type ChartDiff struct {
	// Source is the chart's row in the staging environment. Never nil.
	Source *Chart

	// Target is the paired production row, nil when the chart does not
	// exist in target (or shares an id with an unrelated chart there).
	Target *Chart

	// Approval is the latest durable decision, nil when none exists yet.
	Approval *Approval

	// Conflict is the latest conflict record, nil when none exists.
	Conflict *Conflict

	// Flags are the detector's boolean change signals for this chart.
	Flags ChecksumFlags

	// VariableDiffs are the aligned per-variable checksum comparisons.
	VariableDiffs []VariableDiff

	// Error carries an operator-facing data problem (e.g. a slug collision)
	// that should be surfaced rather than synced. Empty when none.
	Error string

	stagingCreatedAt time.Time

	// derived
	status            ApprovalStatus
	isNew             bool
	isDeletedInTarget bool
	inConflict        bool
	changeTypes       []ChangeType
}

// DiffParams are the inputs NewChartDiff derives a diff from.
type DiffParams struct {
	Source           *Chart
	Target           *Chart
	Approval         *Approval
	Conflict         *Conflict
	Flags            ChecksumFlags
	VariableDiffs    []VariableDiff
	StagingCreatedAt time.Time
	Logger           Logger
}

// NewChartDiff constructs a diff and computes its derived state.
func NewChartDiff(p DiffParams) *ChartDiff {
	d := &ChartDiff{
		Source:           p.Source,
		Target:           p.Target,
		Approval:         p.Approval,
		Conflict:         p.Conflict,
		Flags:            p.Flags,
		VariableDiffs:    p.VariableDiffs,
		stagingCreatedAt: p.StagingCreatedAt,
	}
	if d.Target == nil && d.Flags.ChartEditedInStaging == nil {
		logger := p.Logger
		if logger == nil {
			logger = NewNopLogger()
		}
		// Without the staging-edit flag we cannot distinguish "new on
		// staging" from "deleted on production"; degrade to treating the
		// missing pairing as new.
		logger.Warn("staging-edit flag unknown for unpaired chart, assuming new",
			"chart_id", d.Source.ID)
	}
	d.refresh()
	return d
}

// ChartID returns the chart's id in the source environment.
func (d *ChartDiff) ChartID() int64 { return d.Source.ID }

// ApprovalStatus returns the current decision, defaulting to pending when
// no approval record exists.
func (d *ChartDiff) ApprovalStatus() ApprovalStatus { return d.status }

// IsNew reports whether the chart exists only on staging.
func (d *ChartDiff) IsNew() bool { return d.isNew }

// IsDeletedInTarget reports whether the chart was removed from production
// after the staging environment was created.
func (d *ChartDiff) IsDeletedInTarget() bool { return d.isDeletedInTarget }

// InConflict reports whether production was edited after the staging
// environment was created and that edit has not been acknowledged against
// the chart's current target UpdatedAt.
func (d *ChartDiff) InConflict() bool { return d.inConflict }

// ChangeTypes returns the classification of this diff, in the fixed order
// config, data, metadata.
func (d *ChartDiff) ChangeTypes() []ChangeType { return d.changeTypes }

// ConfigChanged reports whether the two stripped configs differ.
func (d *ChartDiff) ConfigChanged() bool { return d.hasChangeType(ChangeTypeConfig) }

// DataChanged reports whether any variable's data checksum differs.
func (d *ChartDiff) DataChanged() bool { return d.hasChangeType(ChangeTypeData) }

// MetadataChanged reports whether any variable's metadata checksum differs.
func (d *ChartDiff) MetadataChanged() bool { return d.hasChangeType(ChangeTypeMetadata) }

func (d *ChartDiff) hasChangeType(t ChangeType) bool {
	for _, ct := range d.changeTypes {
		if ct == t {
			return true
		}
	}
	return false
}

// Approve records an approved decision for the currently observed
// (source, target) edit timestamps. No-op when already approved.
func (d *ChartDiff) Approve(ctx context.Context, records RecordStore) error {
	return d.setStatus(ctx, records, StatusApproved)
}

// Reject records a rejected decision. No-op when already rejected.
func (d *ChartDiff) Reject(ctx context.Context, records RecordStore) error {
	return d.setStatus(ctx, records, StatusRejected)
}

// Unreview reverts the chart to pending. No-op when already pending.
func (d *ChartDiff) Unreview(ctx context.Context, records RecordStore) error {
	return d.setStatus(ctx, records, StatusPending)
}

// setStatus appends a new approval row keyed to the current edit timestamps
// and refreshes derived state. Matching the current status is checked first
// to avoid writing redundant history.
func (d *ChartDiff) setStatus(ctx context.Context, records RecordStore, want ApprovalStatus) error {
	if d.status == want {
		return nil
	}
	approval := &Approval{
		ChartID:         d.Source.ID,
		Status:          want,
		SourceUpdatedAt: d.Source.UpdatedAt,
	}
	if d.Target != nil {
		t := d.Target.UpdatedAt
		approval.TargetUpdatedAt = &t
	}
	if err := records.InsertApproval(ctx, approval); err != nil {
		return fmt.Errorf("recording %s decision for chart %d: %w", want, d.Source.ID, err)
	}
	d.Approval = approval
	d.refresh()
	return nil
}

// ResolveConflict acknowledges the target-side edit at the chart's current
// target UpdatedAt. No-op when the chart is not in conflict.
func (d *ChartDiff) ResolveConflict(ctx context.Context, records RecordStore) error {
	if d.Target == nil {
		return fmt.Errorf("chart %d has no target pairing, nothing to resolve", d.Source.ID)
	}
	if !d.inConflict {
		return nil
	}
	conflict := &Conflict{
		ChartID:         d.Source.ID,
		TargetUpdatedAt: d.Target.UpdatedAt,
		Resolution:      ConflictResolved,
	}
	if err := records.InsertConflict(ctx, conflict); err != nil {
		return fmt.Errorf("resolving conflict for chart %d: %w", d.Source.ID, err)
	}
	d.Conflict = conflict
	d.refresh()
	return nil
}

// refresh recomputes all derived state from the current snapshots.
func (d *ChartDiff) refresh() {
	d.status = StatusPending
	if d.Approval != nil {
		d.status = d.Approval.Status
	}

	d.isNew = false
	d.isDeletedInTarget = false
	if d.Target == nil {
		switch {
		case d.Flags.ChartEditedInStaging == nil:
			d.isNew = true
		case *d.Flags.ChartEditedInStaging:
			d.isNew = true
		default:
			d.isDeletedInTarget = true
		}
	}

	d.inConflict = d.Target != nil &&
		d.Target.UpdatedAt.After(d.stagingCreatedAt) &&
		!d.conflictResolvedForCurrentTarget()

	d.changeTypes = d.changeTypes[:0]
	if d.configChangeDetected() {
		d.changeTypes = append(d.changeTypes, ChangeTypeConfig)
	}
	data, metadata := false, false
	for _, vd := range d.VariableDiffs {
		data = data || vd.DataChanged
		metadata = metadata || vd.MetadataChanged
	}
	if data {
		d.changeTypes = append(d.changeTypes, ChangeTypeData)
	}
	if metadata {
		d.changeTypes = append(d.changeTypes, ChangeTypeMetadata)
	}
}

// conflictResolvedForCurrentTarget reports whether the latest conflict
// record resolves the target edit the diff currently observes. A record
// against an older target UpdatedAt does not count.
func (d *ChartDiff) conflictResolvedForCurrentTarget() bool {
	return d.Conflict != nil &&
		d.Conflict.Resolution == ConflictResolved &&
		d.Conflict.TargetUpdatedAt.Equal(d.Target.UpdatedAt)
}

// configChangeDetected applies the config classification rule: the chart
// was edited on staging and the stripped configs are not structurally
// equal. A missing target counts as unequal.
func (d *ChartDiff) configChangeDetected() bool {
	if d.Flags.ChartEditedInStaging != nil && !*d.Flags.ChartEditedInStaging {
		return false
	}
	if d.Flags.ChartEditedInStaging == nil && !d.Flags.ConfigEdited {
		return false
	}
	if d.Target == nil {
		return true
	}
	return !ConfigsEqual(d.Source.Config, d.Target.Config)
}
