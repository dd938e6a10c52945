package chartsync_test

import (
	"context"
	"testing"
	"time"

	"github.com/owid/chart-sync/internal/chartsync"
	"github.com/owid/chart-sync/internal/testutil"
)

func newLoader(source, target *testutil.MemoryStore) *chartsync.ChartDiffsLoader {
	records := testutil.NewMemoryRecordStore(testutil.FixedClock())
	detector := chartsync.NewChangeDetector(source, target, branchTime, chartsync.DetectorOptions{})
	builder := chartsync.NewDiffBuilder(source, target, records, branchTime, nil)
	return chartsync.NewChartDiffsLoader(detector, builder)
}

func TestChartDiffsLoader(t *testing.T) {
	ctx := context.Background()
	created := branchTime.Add(-30 * 24 * time.Hour)

	t.Run("caches across calls until reloaded", func(t *testing.T) {
		source := testutil.NewMemoryStore()
		target := testutil.NewMemoryStore()
		source.AddChart(testChart(1, "a", created, branchTime.Add(time.Hour), map[string]any{"title": "x"}))
		target.AddChart(testChart(1, "a", created, created, map[string]any{"title": "y"}))

		loader := newLoader(source, target)
		diffs, err := loader.Load(ctx)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if len(diffs) != 1 {
			t.Fatalf("Load() returned %d diffs, want 1", len(diffs))
		}

		// a chart added after the first load is invisible until Reload
		source.AddChart(testChart(2, "b", branchTime.Add(time.Hour), branchTime.Add(time.Hour), nil))

		diffs, err = loader.Load(ctx)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if len(diffs) != 1 {
			t.Errorf("Load() returned %d diffs from cache, want 1", len(diffs))
		}

		diffs, err = loader.Reload(ctx)
		if err != nil {
			t.Fatalf("Reload() error = %v", err)
		}
		if len(diffs) != 2 {
			t.Errorf("Reload() returned %d diffs, want 2", len(diffs))
		}
	})

	t.Run("filters by change type", func(t *testing.T) {
		source := testutil.NewMemoryStore()
		target := testutil.NewMemoryStore()

		configOnly := testChart(1, "config-only", created, branchTime.Add(time.Hour), map[string]any{"title": "x"})
		source.AddChart(configOnly)
		target.AddChart(testChart(1, "config-only", created, created, map[string]any{"title": "y"}))

		dataChart := testChart(2, "data-only", created, created, nil)
		dataChart.Dimensions = []chartsync.Dimension{{Property: "y", VariableID: 11, CatalogPath: "grapher/a"}}
		source.AddChart(dataChart)
		source.AddVariable(chartsync.Variable{
			ID: 11, CatalogPath: "grapher/a",
			DataChecksum: strPtr("new"), DataEditedAt: branchTime.Add(time.Hour),
		})
		tgtData := testChart(2, "data-only", created, created, nil)
		tgtData.Dimensions = []chartsync.Dimension{{Property: "y", VariableID: 911, CatalogPath: "grapher/a"}}
		target.AddChart(tgtData)
		target.AddVariable(chartsync.Variable{
			ID: 911, CatalogPath: "grapher/a",
			DataChecksum: strPtr("old"), DataEditedAt: created,
		})

		loader := newLoader(source, target)
		if _, err := loader.Load(ctx); err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if got := loader.ConfigChanges(); len(got) != 1 || got[0].ChartID() != 1 {
			t.Errorf("ConfigChanges() = %d diffs, want chart 1 only", len(got))
		}
		if got := loader.DataChanges(); len(got) != 1 || got[0].ChartID() != 2 {
			t.Errorf("DataChanges() = %d diffs, want chart 2 only", len(got))
		}
		if got := loader.MetadataChanges(); len(got) != 0 {
			t.Errorf("MetadataChanges() = %d diffs, want 0", len(got))
		}
	})
}
