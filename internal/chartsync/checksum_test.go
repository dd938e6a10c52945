package chartsync_test

import (
	"testing"
	"time"

	"github.com/owid/chart-sync/internal/chartsync"
)

func strPtr(s string) *string { return &s }

func TestCompareVariableChecksums(t *testing.T) {
	t.Run("returns only changed rows", func(t *testing.T) {
		source := []chartsync.VariableChecksum{
			{ChartID: 1, CatalogPath: "grapher/a", DataChecksum: strPtr("d1"), MetadataChecksum: strPtr("m1")},
			{ChartID: 1, CatalogPath: "grapher/b", DataChecksum: strPtr("d2"), MetadataChecksum: strPtr("m2")},
		}
		target := []chartsync.VariableChecksum{
			{ChartID: 1, CatalogPath: "grapher/a", DataChecksum: strPtr("d1"), MetadataChecksum: strPtr("m1")},
			{ChartID: 1, CatalogPath: "grapher/b", DataChecksum: strPtr("d2-old"), MetadataChecksum: strPtr("m2")},
		}

		diffs := chartsync.CompareVariableChecksums(source, target)
		if len(diffs) != 1 {
			t.Fatalf("CompareVariableChecksums() returned %d rows, want 1", len(diffs))
		}
		if diffs[0].CatalogPath != "grapher/b" || !diffs[0].DataChanged || diffs[0].MetadataChanged {
			t.Errorf("CompareVariableChecksums()[0] = %+v, want data change on grapher/b", diffs[0])
		}
	})

	t.Run("ignores variables present on one side only", func(t *testing.T) {
		source := []chartsync.VariableChecksum{
			{ChartID: 1, CatalogPath: "grapher/new", DataChecksum: strPtr("d1")},
		}
		diffs := chartsync.CompareVariableChecksums(source, nil)
		if len(diffs) != 0 {
			t.Errorf("CompareVariableChecksums() returned %d rows, want 0", len(diffs))
		}
	})

	t.Run("nil checksum compares as unchanged", func(t *testing.T) {
		source := []chartsync.VariableChecksum{
			{ChartID: 1, CatalogPath: "grapher/a", DataChecksum: nil, MetadataChecksum: strPtr("m1")},
		}
		target := []chartsync.VariableChecksum{
			{ChartID: 1, CatalogPath: "grapher/a", DataChecksum: strPtr("d1"), MetadataChecksum: nil},
		}
		diffs := chartsync.CompareVariableChecksums(source, target)
		if len(diffs) != 0 {
			t.Errorf("CompareVariableChecksums() returned %d rows, want 0", len(diffs))
		}
	})
}

func TestVariableSignals(t *testing.T) {
	older := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)

	t.Run("checksum difference with newer source edit signals change", func(t *testing.T) {
		src := chartsync.EditedVariable{
			DataChecksum: strPtr("d-new"), MetadataChecksum: strPtr("m"),
			DataEditedAt: newer, MetadataEditedAt: older,
		}
		tgt := chartsync.Variable{
			DataChecksum: strPtr("d-old"), MetadataChecksum: strPtr("m"),
			DataEditedAt: older, MetadataEditedAt: older,
		}
		data, metadata := chartsync.VariableSignals(src, tgt)
		if !data || metadata {
			t.Errorf("VariableSignals() = (%v, %v), want (true, false)", data, metadata)
		}
	})

	t.Run("checksum difference with older source edit is noise", func(t *testing.T) {
		src := chartsync.EditedVariable{
			DataChecksum: strPtr("d-stale"),
			DataEditedAt: older,
		}
		tgt := chartsync.Variable{
			DataChecksum: strPtr("d-current"),
			DataEditedAt: newer,
		}
		data, _ := chartsync.VariableSignals(src, tgt)
		if data {
			t.Error("VariableSignals() data = true for a lagging source, want false")
		}
	})

	t.Run("equal edit timestamps are noise", func(t *testing.T) {
		src := chartsync.EditedVariable{DataChecksum: strPtr("a"), DataEditedAt: older}
		tgt := chartsync.Variable{DataChecksum: strPtr("b"), DataEditedAt: older}
		data, _ := chartsync.VariableSignals(src, tgt)
		if data {
			t.Error("VariableSignals() data = true for equal timestamps, want false")
		}
	})

	t.Run("missing checksums never signal", func(t *testing.T) {
		src := chartsync.EditedVariable{DataEditedAt: newer, MetadataEditedAt: newer}
		tgt := chartsync.Variable{DataChecksum: strPtr("d"), MetadataChecksum: strPtr("m")}
		data, metadata := chartsync.VariableSignals(src, tgt)
		if data || metadata {
			t.Errorf("VariableSignals() = (%v, %v), want (false, false)", data, metadata)
		}
	})
}
