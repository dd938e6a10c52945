package chartsync

import (
	"context"
	"errors"
	"time"
)

// ErrChartMissingInSource marks a data-integrity violation: a chart id that
// appeared in the change table (which is derived from the source store) has
// no row in the source store.
var ErrChartMissingInSource = errors.New("chart in change table missing from source store")

// Store is the read-only query façade over one environment's relational
// store. The engine never writes through it; all target mutations flow
// through the Publisher.
//
// Lookup methods return nil (or omit the map key) when a row does not
// exist; errors are reserved for query failures.
type Store interface {
	// FetchEditedCharts returns charts whose edit timestamp is >= since,
	// optionally restricted to the given ids.
	FetchEditedCharts(ctx context.Context, since time.Time, ids []int64) ([]EditedChart, error)

	// FetchConfigHashes returns the config hash per existing chart id.
	FetchConfigHashes(ctx context.Context, ids []int64) (map[int64]string, error)

	// FetchChart returns one chart, or nil if it does not exist.
	FetchChart(ctx context.Context, id int64) (*Chart, error)

	// FetchCharts batch-loads charts; absent ids are omitted from the map.
	FetchCharts(ctx context.Context, ids []int64) (map[int64]*Chart, error)

	// FetchEditedVariables returns (chart, variable) rows where the
	// variable's data or metadata edit timestamp is >= since, restricted to
	// variables whose catalog path starts with one of datasetPaths (no
	// restriction when datasetPaths is empty).
	FetchEditedVariables(ctx context.Context, since time.Time, datasetPaths []string) ([]EditedVariable, error)

	// FetchVariablesByCatalogPath returns variables keyed by catalog path.
	FetchVariablesByCatalogPath(ctx context.Context, paths []string) (map[string]Variable, error)

	// FetchVariablesByID returns variables keyed by id.
	FetchVariablesByID(ctx context.Context, ids []int64) (map[int64]Variable, error)

	// FetchVariableChecksums returns per-variable checksum rows for all
	// variables bound to the given charts.
	FetchVariableChecksums(ctx context.Context, chartIDs []int64) ([]VariableChecksum, error)

	// FetchSlugs returns every slug in use, including historical redirects.
	FetchSlugs(ctx context.Context) (map[string]struct{}, error)

	// FetchChartTags returns the tag names attached to a chart.
	FetchChartTags(ctx context.Context, id int64) ([]string, error)

	// Close closes the underlying connection.
	Close() error
}
