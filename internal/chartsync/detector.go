package chartsync

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"golang.org/x/sync/errgroup"
)

// ChangeTable maps chart id to its boolean change signals.
type ChangeTable map[int64]ChecksumFlags

// DetectorOptions are the optional knobs for a ChangeDetector.
type DetectorOptions struct {
	// ChartIDs restricts detection to the given charts when non-empty.
	ChartIDs []int64

	// DatasetPaths restricts the data/metadata signal to variables whose
	// catalog path starts with one of these prefixes (the set of dataset
	// paths touched by the change under review). Empty means no restriction.
	DatasetPaths []string

	// MetadataExclude drops the metadata signal for variables whose catalog
	// path matches any of these patterns. Used for datasets whose metadata
	// is time-of-build-dependent and would always appear changed.
	MetadataExclude []*regexp.Regexp

	Logger Logger
}

// ChangeDetector builds the per-chart change signals by issuing paired
// queries against the source and target stores. It performs no writes and
// is idempotent: repeated calls against unchanged stores return identical
// output.
type ChangeDetector struct {
	source           Store
	target           Store
	stagingCreatedAt time.Time
	opts             DetectorOptions
	logger           Logger
}

// NewChangeDetector creates a detector for one source/target pair.
// stagingCreatedAt is the instant the staging environment was created;
// only edits at or after it count as staging-side changes.
func NewChangeDetector(source, target Store, stagingCreatedAt time.Time, opts DetectorOptions) *ChangeDetector {
	logger := opts.Logger
	if logger == nil {
		logger = NewNopLogger()
	}
	return &ChangeDetector{
		source:           source,
		target:           target,
		stagingCreatedAt: stagingCreatedAt,
		opts:             opts,
		logger:           logger,
	}
}

// Detect returns the change table. The config signal and the data/metadata
// signal are independent pipelines and run concurrently; their results are
// outer-joined on chart id afterwards, filling missing change flags with
// false. An empty result at any stage short-circuits to an empty table.
func (d *ChangeDetector) Detect(ctx context.Context) (ChangeTable, error) {
	var (
		configFlags ChangeTable
		varFlags    ChangeTable
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		configFlags, err = d.configSignal(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		varFlags, err = d.variableSignal(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	table := make(ChangeTable, len(configFlags)+len(varFlags))
	for id, flags := range configFlags {
		table[id] = flags
	}
	for id, flags := range varFlags {
		merged := table[id]
		merged.DataEdited = flags.DataEdited
		merged.MetadataEdited = flags.MetadataEdited
		table[id] = merged
	}

	d.logger.Debug("change detection complete",
		"charts", len(table), "config_signal", len(configFlags), "variable_signal", len(varFlags))
	return table, nil
}

// configSignal flags charts whose persisted config hash differs between the
// environments, or which do not exist in target at all. Every chart the
// query returns was by definition edited on staging after branch creation,
// so ChartEditedInStaging is set unconditionally.
func (d *ChangeDetector) configSignal(ctx context.Context) (ChangeTable, error) {
	edited, err := d.source.FetchEditedCharts(ctx, d.stagingCreatedAt, d.opts.ChartIDs)
	if err != nil {
		return nil, fmt.Errorf("fetching edited charts from source: %w", err)
	}
	if len(edited) == 0 {
		return ChangeTable{}, nil
	}

	ids := make([]int64, len(edited))
	for i, e := range edited {
		ids[i] = e.ID
	}
	targetHashes, err := d.target.FetchConfigHashes(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetching config hashes from target: %w", err)
	}

	table := make(ChangeTable, len(edited))
	for _, e := range edited {
		targetHash, exists := targetHashes[e.ID]
		editedInStaging := true
		table[e.ID] = ChecksumFlags{
			ConfigEdited:         !exists || targetHash != e.ConfigHash,
			ChartEditedInStaging: &editedInStaging,
		}
	}
	return table, nil
}

// variableSignal flags charts bound to variables whose data or metadata
// changed on staging. Variables absent from target are skipped (that case
// is classified purely as a config change), and rows where target's edit
// timestamp is newer than or equal to source's are dropped as noise.
func (d *ChangeDetector) variableSignal(ctx context.Context) (ChangeTable, error) {
	edited, err := d.source.FetchEditedVariables(ctx, d.stagingCreatedAt, d.opts.DatasetPaths)
	if err != nil {
		return nil, fmt.Errorf("fetching edited variables from source: %w", err)
	}
	edited = d.filterChartIDs(edited)
	if len(edited) == 0 {
		return ChangeTable{}, nil
	}

	paths := make([]string, 0, len(edited))
	seen := make(map[string]struct{}, len(edited))
	for _, v := range edited {
		if _, ok := seen[v.CatalogPath]; ok {
			continue
		}
		seen[v.CatalogPath] = struct{}{}
		paths = append(paths, v.CatalogPath)
	}
	targetVars, err := d.target.FetchVariablesByCatalogPath(ctx, paths)
	if err != nil {
		return nil, fmt.Errorf("fetching variables from target: %w", err)
	}

	table := make(ChangeTable)
	for _, src := range edited {
		tgt, ok := targetVars[src.CatalogPath]
		if !ok {
			continue
		}
		data, metadata := VariableSignals(src, tgt)
		if metadata && d.metadataExcluded(src.CatalogPath) {
			metadata = false
		}
		if !data && !metadata {
			continue
		}
		flags := table[src.ChartID]
		flags.DataEdited = flags.DataEdited || data
		flags.MetadataEdited = flags.MetadataEdited || metadata
		table[src.ChartID] = flags
	}
	return table, nil
}

func (d *ChangeDetector) filterChartIDs(rows []EditedVariable) []EditedVariable {
	if len(d.opts.ChartIDs) == 0 {
		return rows
	}
	keep := make(map[int64]struct{}, len(d.opts.ChartIDs))
	for _, id := range d.opts.ChartIDs {
		keep[id] = struct{}{}
	}
	filtered := rows[:0]
	for _, row := range rows {
		if _, ok := keep[row.ChartID]; ok {
			filtered = append(filtered, row)
		}
	}
	return filtered
}

func (d *ChangeDetector) metadataExcluded(catalogPath string) bool {
	for _, re := range d.opts.MetadataExclude {
		if re.MatchString(catalogPath) {
			return true
		}
	}
	return false
}
