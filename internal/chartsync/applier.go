package chartsync

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrVariableNotMapped marks a config that references a source variable
// with no counterpart in target. A chart cannot be synced before its data
// has landed in target, so the run aborts rather than silently skipping an
// approved chart.
var ErrVariableNotMapped = errors.New("variable has no counterpart in target")

// ApplierOptions configure a SyncApplier.
type ApplierOptions struct {
	// Include, when set, skips any diff none of whose variable catalog
	// paths match it.
	Include *regexp.Regexp

	// Exclude skips any diff with at least one matching catalog path.
	// Exclusion wins over inclusion.
	Exclude *regexp.Regexp

	// DryRun performs all detection, classification and remapping but
	// suppresses publisher calls and notifications.
	DryRun bool

	// SourceAdminURL and TargetAdminURL are base URLs used to build the
	// chart links embedded in pending notices.
	SourceAdminURL string
	TargetAdminURL string

	Logger Logger
}

// SyncApplier walks a diff list and executes the create/update/skip/notify
// decision per chart against the Publisher.
//
// Publisher errors are not caught per chart: sync order does not matter and
// a re-run is safe, so the first fatal error aborts the remaining batch.
type SyncApplier struct {
	publisher Publisher
	notifier  Notifier
	mapper    VariableMapper
	opts      ApplierOptions
	logger    Logger
}

// NewSyncApplier creates an applier. publisher may be nil in dry runs.
func NewSyncApplier(publisher Publisher, notifier Notifier, mapper VariableMapper, opts ApplierOptions) *SyncApplier {
	logger := opts.Logger
	if logger == nil {
		logger = NewNopLogger()
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &SyncApplier{
		publisher: publisher,
		notifier:  notifier,
		mapper:    mapper,
		opts:      opts,
		logger:    logger,
	}
}

// Apply processes diffs in input order and returns the number of charts
// synced (or, in a dry run, that would have been synced).
func (a *SyncApplier) Apply(ctx context.Context, diffs []*ChartDiff) (int, error) {
	synced := 0
	for _, diff := range diffs {
		did, err := a.applyOne(ctx, diff)
		if err != nil {
			return synced, err
		}
		if did {
			synced++
		}
	}
	return synced, nil
}

func (a *SyncApplier) applyOne(ctx context.Context, diff *ChartDiff) (bool, error) {
	if a.filteredOut(diff) {
		a.logger.Debug("chart filtered out", "chart_id", diff.ChartID())
		return false, nil
	}

	status := diff.ApprovalStatus()
	switch status {
	case StatusRejected:
		a.logger.Debug("chart rejected, skipping", "chart_id", diff.ChartID())
		return false, nil
	case StatusApproved, StatusPending:
		// handled below
	default:
		return false, fmt.Errorf("unexpected approval status %v for chart %d", status, diff.ChartID())
	}

	if diff.Error != "" {
		a.logger.Warn("chart has a data problem, skipping",
			"chart_id", diff.ChartID(), "error", diff.Error)
		return false, nil
	}

	if diff.Target != nil {
		return a.applyUpdate(ctx, diff, status)
	}
	return a.applyCreate(ctx, diff, status)
}

// applyUpdate handles a chart that exists in both environments.
func (a *SyncApplier) applyUpdate(ctx context.Context, diff *ChartDiff, status ApprovalStatus) (bool, error) {
	if ConfigsEqual(diff.Source.Config, diff.Target.Config) {
		// Already in sync; this is what makes a re-run idempotent.
		a.logger.Debug("configs equal, skipping", "chart_id", diff.ChartID())
		return false, nil
	}

	if status == StatusPending {
		a.notifyPending(ctx, diff)
		return false, nil
	}

	config, err := a.remapConfig(ctx, diff)
	if err != nil {
		return false, err
	}
	if !a.opts.DryRun {
		if err := a.publisher.UpdateChart(ctx, diff.Target.ID, config); err != nil {
			return false, fmt.Errorf("updating chart %d in target: %w", diff.Target.ID, err)
		}
	}
	a.logger.Info("chart updated", "chart_id", diff.ChartID(), "dry_run", a.opts.DryRun)
	return true, nil
}

// applyCreate handles a chart with no target pairing.
func (a *SyncApplier) applyCreate(ctx context.Context, diff *ChartDiff, status ApprovalStatus) (bool, error) {
	if status == StatusPending {
		a.notifyPending(ctx, diff)
		return false, nil
	}

	config, err := a.remapConfig(ctx, diff)
	if err != nil {
		return false, err
	}
	if !a.opts.DryRun {
		newID, err := a.publisher.CreateChart(ctx, config)
		if err != nil {
			return false, fmt.Errorf("creating chart (source id %d) in target: %w", diff.ChartID(), err)
		}
		if err := a.publisher.SetTags(ctx, newID, diff.Source.Tags); err != nil {
			return false, fmt.Errorf("setting tags on chart %d in target: %w", newID, err)
		}
	}
	a.logger.Info("chart created", "chart_id", diff.ChartID(), "dry_run", a.opts.DryRun)
	return true, nil
}

// filteredOut applies the include/exclude patterns to the chart's variable
// catalog paths.
func (a *SyncApplier) filteredOut(diff *ChartDiff) bool {
	if a.opts.Exclude != nil {
		for _, dim := range diff.Source.Dimensions {
			if a.opts.Exclude.MatchString(dim.CatalogPath) {
				return true
			}
		}
	}
	if a.opts.Include != nil {
		for _, dim := range diff.Source.Dimensions {
			if a.opts.Include.MatchString(dim.CatalogPath) {
				return false
			}
		}
		return true
	}
	return false
}

// remapConfig rewrites every source variable id referenced by the config to
// its target counterpart. Fails when a referenced variable is unmapped.
func (a *SyncApplier) remapConfig(ctx context.Context, diff *ChartDiff) (map[string]any, error) {
	config := CloneConfig(diff.Source.Config)
	ids := collectVariableIDs(config)
	if len(ids) == 0 {
		return config, nil
	}

	mapping, err := a.mapper.TargetVariableIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("mapping variables for chart %d: %w", diff.ChartID(), err)
	}
	for _, id := range ids {
		if _, ok := mapping[id]; !ok {
			return nil, fmt.Errorf("%w: chart %d references variable %d", ErrVariableNotMapped, diff.ChartID(), id)
		}
	}

	rewriteVariableIDs(config, mapping)
	return config, nil
}

func (a *SyncApplier) notifyPending(ctx context.Context, diff *ChartDiff) {
	if a.opts.DryRun {
		return
	}
	notice := PendingNotice{
		ChartID:         diff.ChartID(),
		Slug:            diff.Source.Slug,
		IsNew:           diff.IsNew(),
		InConflict:      diff.InConflict(),
		ChangeTypes:     diff.ChangeTypes(),
		SourceUpdatedAt: diff.Source.UpdatedAt,
		SourceAdminURL:  chartAdminURL(a.opts.SourceAdminURL, diff.Source.ID),
	}
	if diff.Target != nil {
		t := diff.Target.UpdatedAt
		notice.TargetUpdatedAt = &t
		notice.TargetAdminURL = chartAdminURL(a.opts.TargetAdminURL, diff.Target.ID)
	}
	// Notification failures must not abort the sync: the diff is
	// re-detected and re-notified on the next run.
	if err := a.notifier.NotifyPendingChart(ctx, notice); err != nil {
		a.logger.Warn("failed to deliver pending notice",
			"chart_id", diff.ChartID(), "error", err)
	}
}

func chartAdminURL(base string, id int64) string {
	if base == "" {
		return ""
	}
	return fmt.Sprintf("%s/charts/%d/edit", base, id)
}

// collectVariableIDs gathers every variable id referenced by a config:
// the dimensions array and the map tab's variable binding.
func collectVariableIDs(config map[string]any) []int64 {
	var ids []int64
	seen := make(map[int64]struct{})
	add := func(v any) {
		f, ok := v.(float64)
		if !ok {
			return
		}
		id := int64(f)
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	if dims, ok := config["dimensions"].([]any); ok {
		for _, d := range dims {
			if dim, ok := d.(map[string]any); ok {
				add(dim["variableId"])
			}
		}
	}
	if mapTab, ok := config["map"].(map[string]any); ok {
		add(mapTab["variableId"])
	}
	return ids
}

// rewriteVariableIDs rewrites variable references in place. Every id is
// guaranteed mapped by the caller.
func rewriteVariableIDs(config map[string]any, mapping map[int64]int64) {
	rewrite := func(m map[string]any, key string) {
		if f, ok := m[key].(float64); ok {
			if mapped, ok := mapping[int64(f)]; ok {
				m[key] = float64(mapped)
			}
		}
	}

	if dims, ok := config["dimensions"].([]any); ok {
		for _, d := range dims {
			if dim, ok := d.(map[string]any); ok {
				rewrite(dim, "variableId")
			}
		}
	}
	if mapTab, ok := config["map"].(map[string]any); ok {
		rewrite(mapTab, "variableId")
	}
}

// nopNotifier discards all notices.
type nopNotifier struct{}

func (nopNotifier) NotifyPendingChart(context.Context, PendingNotice) error { return nil }
