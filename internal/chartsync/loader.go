package chartsync

import "context"

// ChartDiffsLoader runs the detector and builder once and caches the
// resulting diff list for repeated read-only queries within a run.
type ChartDiffsLoader struct {
	detector *ChangeDetector
	builder  *DiffBuilder

	loaded bool
	diffs  []*ChartDiff
}

// NewChartDiffsLoader creates a loader over a detector/builder pair.
func NewChartDiffsLoader(detector *ChangeDetector, builder *DiffBuilder) *ChartDiffsLoader {
	return &ChartDiffsLoader{detector: detector, builder: builder}
}

// Load returns all diffs, running detection and building on first call and
// serving the cached list afterwards.
func (l *ChartDiffsLoader) Load(ctx context.Context) ([]*ChartDiff, error) {
	if l.loaded {
		return l.diffs, nil
	}
	table, err := l.detector.Detect(ctx)
	if err != nil {
		return nil, err
	}
	diffs, err := l.builder.Build(ctx, table)
	if err != nil {
		return nil, err
	}
	l.diffs = diffs
	l.loaded = true
	return l.diffs, nil
}

// Reload discards the cache and re-runs detection.
func (l *ChartDiffsLoader) Reload(ctx context.Context) ([]*ChartDiff, error) {
	l.loaded = false
	l.diffs = nil
	return l.Load(ctx)
}

// ConfigChanges returns the cached diffs classified as config changes.
func (l *ChartDiffsLoader) ConfigChanges() []*ChartDiff {
	return l.withChangeType(ChangeTypeConfig)
}

// DataChanges returns the cached diffs classified as data changes.
func (l *ChartDiffsLoader) DataChanges() []*ChartDiff {
	return l.withChangeType(ChangeTypeData)
}

// MetadataChanges returns the cached diffs classified as metadata changes.
func (l *ChartDiffsLoader) MetadataChanges() []*ChartDiff {
	return l.withChangeType(ChangeTypeMetadata)
}

func (l *ChartDiffsLoader) withChangeType(t ChangeType) []*ChartDiff {
	var out []*ChartDiff
	for _, d := range l.diffs {
		if d.hasChangeType(t) {
			out = append(out, d)
		}
	}
	return out
}
