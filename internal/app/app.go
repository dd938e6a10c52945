package app

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"github.com/google/uuid"

	"github.com/owid/chart-sync/internal/chartsync"
	"github.com/owid/chart-sync/internal/config"
	"github.com/owid/chart-sync/internal/database"
	"github.com/owid/chart-sync/internal/notify"
	"github.com/owid/chart-sync/internal/publisher"
)

// Options select the environments and scope for one invocation.
type Options struct {
	// Operation identifies the CLI command being run (e.g. "Diff", "Sync").
	Operation string

	// Parameters is a free-form summary of the command arguments, recorded
	// in run history.
	Parameters string

	// Source and Target are environment names from the config.
	Source string
	Target string

	// ChartIDs restricts all operations to the given charts when non-empty.
	ChartIDs []int64
}

// SyncApp is the application layer between the CLI and the diff engine.
// It constructs all dependencies from config, exposes high-level operations,
// and manages resource lifecycles on Close.
type SyncApp struct {
	cfg       *config.Config
	sourceCfg config.EnvironmentConfig
	targetCfg config.EnvironmentConfig

	source  *database.EnvironmentStore
	target  *database.EnvironmentStore
	records chartsync.RecordStore
	loader  *chartsync.ChartDiffsLoader

	publisher chartsync.Publisher
	notifier  chartsync.Notifier
	logger    chartsync.Logger
	op        *SyncOperation
	runID     string
	logFile   *os.File
}

// NewSyncApp creates a fully wired SyncApp from the given config.
// The caller must call Close when done.
func NewSyncApp(cfg *config.Config, opts Options) (*SyncApp, error) {
	sourceCfg, ok := cfg.Environments[opts.Source]
	if !ok {
		return nil, fmt.Errorf("unknown source environment %q", opts.Source)
	}
	targetCfg, ok := cfg.Environments[opts.Target]
	if !ok {
		return nil, fmt.Errorf("unknown target environment %q", opts.Target)
	}

	// Detection is anchored to the source environment's creation time; a
	// source without one cannot be diffed.
	stagingCreatedAt, err := sourceCfg.ParsedCreatedAt()
	if err != nil {
		return nil, fmt.Errorf("source environment %q: %w", opts.Source, err)
	}

	runID := uuid.New().String()
	slogger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	source, err := database.NewEnvironmentStore(sourceCfg.DBPath)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening source environment: %w", err)
	}
	target, err := database.NewEnvironmentStore(targetCfg.DBPath)
	if err != nil {
		source.Close()
		logFile.Close()
		return nil, fmt.Errorf("opening target environment: %w", err)
	}

	records, err := database.NewRecordStore(cfg.RecordsDB, chartsync.RealClock{})
	if err != nil {
		source.Close()
		target.Close()
		logFile.Close()
		return nil, fmt.Errorf("opening record store: %w", err)
	}

	metadataExclude, err := compilePatterns(cfg.Detection.MetadataExclude)
	if err != nil {
		source.Close()
		target.Close()
		records.Close()
		logFile.Close()
		return nil, fmt.Errorf("detection.metadata_exclude: %w", err)
	}

	detector := chartsync.NewChangeDetector(source, target, stagingCreatedAt, chartsync.DetectorOptions{
		ChartIDs:        opts.ChartIDs,
		DatasetPaths:    cfg.Detection.DatasetPaths,
		MetadataExclude: metadataExclude,
		Logger:          logger,
	})
	builder := chartsync.NewDiffBuilder(source, target, records, stagingCreatedAt, logger)

	app := &SyncApp{
		cfg:       cfg,
		sourceCfg: sourceCfg,
		targetCfg: targetCfg,
		source:    source,
		target:    target,
		records:   records,
		loader:    chartsync.NewChartDiffsLoader(detector, builder),
		logger:    logger,
		op:        NewSyncOperation(opts.Operation, opts.Parameters),
		logFile:   logFile,
	}
	app.runID = runID

	if cfg.Publisher.BaseURL != "" {
		app.publisher = publisher.NewClient(publisher.Options{
			BaseURL:           cfg.Publisher.BaseURL,
			APIKey:            cfg.Publisher.APIKey,
			MaxAttempts:       cfg.Publisher.MaxAttempts,
			RequestsPerSecond: cfg.Publisher.RequestsPerSecond,
			Logger:            logger,
		})
	}
	if cfg.Notify.WebhookURL != "" {
		app.notifier = notify.NewWebhook(cfg.Notify.WebhookURL)
	}
	return app, nil
}

// persistRun saves the sync run to the record store, assigning its run id.
// This should only be called for record-mutating commands.
func (a *SyncApp) persistRun(ctx context.Context) error {
	if a.op.Persisted() {
		return nil // already persisted
	}
	run := &chartsync.SyncRun{
		ID:         a.runID,
		Operation:  a.op.Operation,
		Parameters: a.op.Parameters,
	}
	if err := a.records.StartRun(ctx, run); err != nil {
		return fmt.Errorf("persisting sync run: %w", err)
	}
	a.op.ID = run.ID
	return nil
}

// Diffs detects changes and returns all diffs, cached across calls.
func (a *SyncApp) Diffs(ctx context.Context) ([]*chartsync.ChartDiff, error) {
	diffs, err := a.loader.Load(ctx)
	if err != nil {
		a.op.Status = "failed"
		return nil, err
	}
	return diffs, nil
}

// SyncOptions configure one Sync invocation.
type SyncOptions struct {
	Include string
	Exclude string
	DryRun  bool
}

// Sync applies every actionable diff to the target and returns the number of
// charts synced. Dry runs perform detection and classification only and are
// not recorded in run history.
func (a *SyncApp) Sync(ctx context.Context, opts SyncOptions) (int, error) {
	include, err := compilePattern(opts.Include)
	if err != nil {
		return 0, fmt.Errorf("include pattern: %w", err)
	}
	exclude, err := compilePattern(opts.Exclude)
	if err != nil {
		return 0, fmt.Errorf("exclude pattern: %w", err)
	}
	if !opts.DryRun {
		if a.publisher == nil {
			return 0, fmt.Errorf("publisher.base_url not configured, cannot sync (use a dry run to preview)")
		}
		if err := a.persistRun(ctx); err != nil {
			return 0, err
		}
	}

	diffs, err := a.Diffs(ctx)
	if err != nil {
		return 0, err
	}

	applier := chartsync.NewSyncApplier(
		a.publisher,
		a.notifier,
		chartsync.NewStoreVariableMapper(a.source, a.target),
		chartsync.ApplierOptions{
			Include:        include,
			Exclude:        exclude,
			DryRun:         opts.DryRun,
			SourceAdminURL: a.sourceCfg.AdminURL,
			TargetAdminURL: a.targetCfg.AdminURL,
			Logger:         a.logger,
		},
	)
	synced, err := applier.Apply(ctx, diffs)
	if err != nil {
		a.op.Status = "failed"
		return synced, err
	}
	return synced, nil
}

// Approve records an approved decision for the given chart's current diff.
func (a *SyncApp) Approve(ctx context.Context, chartID int64) error {
	return a.decide(ctx, chartID, (*chartsync.ChartDiff).Approve)
}

// Reject records a rejected decision for the given chart's current diff.
func (a *SyncApp) Reject(ctx context.Context, chartID int64) error {
	return a.decide(ctx, chartID, (*chartsync.ChartDiff).Reject)
}

// Unreview reverts the given chart's current diff to pending.
func (a *SyncApp) Unreview(ctx context.Context, chartID int64) error {
	return a.decide(ctx, chartID, (*chartsync.ChartDiff).Unreview)
}

// ResolveConflict acknowledges the target-side edit on the given chart.
func (a *SyncApp) ResolveConflict(ctx context.Context, chartID int64) error {
	return a.decide(ctx, chartID, (*chartsync.ChartDiff).ResolveConflict)
}

func (a *SyncApp) decide(ctx context.Context, chartID int64, transition func(*chartsync.ChartDiff, context.Context, chartsync.RecordStore) error) error {
	if err := a.persistRun(ctx); err != nil {
		return err
	}
	diff, err := a.findDiff(ctx, chartID)
	if err != nil {
		a.op.Status = "failed"
		return err
	}
	if err := transition(diff, ctx, a.records); err != nil {
		a.op.Status = "failed"
		return err
	}
	return nil
}

// findDiff locates the chart's diff among the detected changes.
func (a *SyncApp) findDiff(ctx context.Context, chartID int64) (*chartsync.ChartDiff, error) {
	diffs, err := a.loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range diffs {
		if d.ChartID() == chartID {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no detected change for chart %d", chartID)
}

// History returns the most recent sync runs, newest first.
func (a *SyncApp) History(ctx context.Context, limit int) ([]*chartsync.SyncRun, error) {
	return a.records.ListRuns(ctx, limit)
}

// Close finalizes the run record and closes all resources.
func (a *SyncApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.records.FinishRun(context.Background(), a.op.ID, a.op.Status); err != nil {
			firstErr = fmt.Errorf("finishing sync run: %w", err)
		}
	}

	if err := a.records.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing record store: %w", err)
	}
	if err := a.target.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing target environment: %w", err)
	}
	if err := a.source.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing source environment: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	return regexp.Compile(pattern)
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
