package chartsync_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/owid/chart-sync/internal/chartsync"
	"github.com/owid/chart-sync/internal/testutil"
)

// applierFixture wires a SyncApplier over memory stores with one mapped
// variable: source id 11 and target id 911 share the catalog path
// "grapher/energy/gdp".
type applierFixture struct {
	publisher *testutil.RecordingPublisher
	notifier  *testutil.RecordingNotifier
	source    *testutil.MemoryStore
	target    *testutil.MemoryStore
}

func newApplierFixture() *applierFixture {
	f := &applierFixture{
		publisher: testutil.NewRecordingPublisher(),
		notifier:  &testutil.RecordingNotifier{},
		source:    testutil.NewMemoryStore(),
		target:    testutil.NewMemoryStore(),
	}
	f.source.AddVariable(chartsync.Variable{ID: 11, CatalogPath: "grapher/energy/gdp"})
	f.target.AddVariable(chartsync.Variable{ID: 911, CatalogPath: "grapher/energy/gdp"})
	return f
}

func (f *applierFixture) applier(opts chartsync.ApplierOptions) *chartsync.SyncApplier {
	mapper := chartsync.NewStoreVariableMapper(f.source, f.target)
	return chartsync.NewSyncApplier(f.publisher, f.notifier, mapper, opts)
}

// sourceChart builds a staging chart bound to variable 11.
func sourceChart(id int64, slug string, created time.Time) *chartsync.Chart {
	c := testChart(id, slug, created, branchTime.Add(time.Hour), map[string]any{
		"title": slug,
		"dimensions": []any{
			map[string]any{"property": "y", "variableId": float64(11)},
		},
	})
	c.Dimensions = []chartsync.Dimension{{Property: "y", VariableID: 11, CatalogPath: "grapher/energy/gdp"}}
	c.Tags = []string{"Energy"}
	return c
}

func approvedDiff(source, target *chartsync.Chart) *chartsync.ChartDiff {
	var targetUpd *time.Time
	if target != nil {
		targetUpd = &target.UpdatedAt
	}
	return chartsync.NewChartDiff(chartsync.DiffParams{
		Source: source,
		Target: target,
		Approval: &chartsync.Approval{
			ChartID:         source.ID,
			Status:          chartsync.StatusApproved,
			SourceUpdatedAt: source.UpdatedAt,
			TargetUpdatedAt: targetUpd,
		},
		Flags:            chartsync.ChecksumFlags{ConfigEdited: true, ChartEditedInStaging: boolPtr(true)},
		StagingCreatedAt: branchTime,
	})
}

func TestSyncApplier_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("approved new chart is created with remapped variables and tags", func(t *testing.T) {
		f := newApplierFixture()
		diff := approvedDiff(sourceChart(1, "gdp-per-capita", branchTime.Add(time.Hour)), nil)

		synced, err := f.applier(chartsync.ApplierOptions{}).Apply(ctx, []*chartsync.ChartDiff{diff})
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if synced != 1 {
			t.Errorf("Apply() synced = %d, want 1", synced)
		}
		if len(f.publisher.CreateCalls) != 1 {
			t.Fatalf("CreateChart calls = %d, want 1", len(f.publisher.CreateCalls))
		}

		dims := f.publisher.CreateCalls[0].Config["dimensions"].([]any)
		if got := dims[0].(map[string]any)["variableId"]; got != float64(911) {
			t.Errorf("created config variableId = %v, want 911 (target id)", got)
		}

		if len(f.publisher.TagCalls) != 1 {
			t.Fatalf("SetTags calls = %d, want 1", len(f.publisher.TagCalls))
		}
		if f.publisher.TagCalls[0].ID != 1000 {
			t.Errorf("SetTags chart id = %d, want the created id 1000", f.publisher.TagCalls[0].ID)
		}
	})

	t.Run("pending new chart notifies instead of creating", func(t *testing.T) {
		f := newApplierFixture()
		diff := chartsync.NewChartDiff(chartsync.DiffParams{
			Source:           sourceChart(1, "gdp-per-capita", branchTime.Add(time.Hour)),
			Flags:            chartsync.ChecksumFlags{ConfigEdited: true, ChartEditedInStaging: boolPtr(true)},
			StagingCreatedAt: branchTime,
		})

		synced, err := f.applier(chartsync.ApplierOptions{}).Apply(ctx, []*chartsync.ChartDiff{diff})
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if synced != 0 {
			t.Errorf("Apply() synced = %d, want 0", synced)
		}
		if len(f.publisher.CreateCalls) != 0 {
			t.Error("CreateChart called for a pending chart")
		}
		if len(f.notifier.Notices) != 1 {
			t.Fatalf("notices = %d, want 1", len(f.notifier.Notices))
		}
		if !f.notifier.Notices[0].IsNew {
			t.Error("notice IsNew = false, want true")
		}
	})

	t.Run("unmapped variable aborts the run", func(t *testing.T) {
		f := newApplierFixture()
		src := sourceChart(1, "gdp-per-capita", branchTime.Add(time.Hour))
		src.Config["dimensions"] = []any{
			map[string]any{"property": "y", "variableId": float64(12345)},
		}
		diff := approvedDiff(src, nil)

		_, err := f.applier(chartsync.ApplierOptions{}).Apply(ctx, []*chartsync.ChartDiff{diff})
		if !errors.Is(err, chartsync.ErrVariableNotMapped) {
			t.Errorf("Apply() error = %v, want ErrVariableNotMapped", err)
		}
		if len(f.publisher.CreateCalls) != 0 {
			t.Error("CreateChart called despite unmapped variable")
		}
	})
}

func TestSyncApplier_Update(t *testing.T) {
	ctx := context.Background()
	created := branchTime.Add(-30 * 24 * time.Hour)

	t.Run("approved modified chart is updated", func(t *testing.T) {
		f := newApplierFixture()
		src := sourceChart(1, "gdp-per-capita", created)
		tgt := testChart(1, "gdp-per-capita", created, created, map[string]any{"title": "old title"})
		diff := approvedDiff(src, tgt)

		synced, err := f.applier(chartsync.ApplierOptions{}).Apply(ctx, []*chartsync.ChartDiff{diff})
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if synced != 1 || len(f.publisher.UpdateCalls) != 1 {
			t.Fatalf("synced = %d, updates = %d, want 1 and 1", synced, len(f.publisher.UpdateCalls))
		}
		if f.publisher.UpdateCalls[0].ID != 1 {
			t.Errorf("UpdateChart id = %d, want target id 1", f.publisher.UpdateCalls[0].ID)
		}
	})

	t.Run("equal configs are skipped", func(t *testing.T) {
		f := newApplierFixture()
		src := sourceChart(1, "gdp-per-capita", created)
		// same config modulo a remapped variable id and environment keys
		tgt := testChart(1, "gdp-per-capita", created, created, map[string]any{
			"title": "gdp-per-capita",
			"id":    float64(1),
			"dimensions": []any{
				map[string]any{"property": "y", "variableId": float64(911)},
			},
		})
		diff := approvedDiff(src, tgt)

		synced, err := f.applier(chartsync.ApplierOptions{}).Apply(ctx, []*chartsync.ChartDiff{diff})
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if synced != 0 || len(f.publisher.UpdateCalls) != 0 {
			t.Errorf("synced = %d, updates = %d, want 0 and 0 (already in sync)", synced, len(f.publisher.UpdateCalls))
		}
	})

	t.Run("rejected chart is skipped", func(t *testing.T) {
		f := newApplierFixture()
		src := sourceChart(1, "gdp-per-capita", created)
		tgt := testChart(1, "gdp-per-capita", created, created, map[string]any{"title": "old"})
		diff := chartsync.NewChartDiff(chartsync.DiffParams{
			Source: src,
			Target: tgt,
			Approval: &chartsync.Approval{
				ChartID: 1, Status: chartsync.StatusRejected,
				SourceUpdatedAt: created, // decision taken against an older source edit
			},
			Flags:            chartsync.ChecksumFlags{ConfigEdited: true, ChartEditedInStaging: boolPtr(true)},
			StagingCreatedAt: branchTime,
		})

		synced, err := f.applier(chartsync.ApplierOptions{}).Apply(ctx, []*chartsync.ChartDiff{diff})
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if synced != 0 || len(f.publisher.UpdateCalls) != 0 || len(f.notifier.Notices) != 0 {
			t.Error("rejected chart triggered publisher or notifier calls")
		}
	})

	t.Run("pending modified chart notifies with both admin links", func(t *testing.T) {
		f := newApplierFixture()
		src := sourceChart(1, "gdp-per-capita", created)
		tgt := testChart(1, "gdp-per-capita", created, created, map[string]any{"title": "old"})
		diff := chartsync.NewChartDiff(chartsync.DiffParams{
			Source:           src,
			Target:           tgt,
			Flags:            chartsync.ChecksumFlags{ConfigEdited: true, ChartEditedInStaging: boolPtr(true)},
			StagingCreatedAt: branchTime,
		})

		applier := f.applier(chartsync.ApplierOptions{
			SourceAdminURL: "https://staging.example.org/admin",
			TargetAdminURL: "https://example.org/admin",
		})
		if _, err := applier.Apply(ctx, []*chartsync.ChartDiff{diff}); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if len(f.notifier.Notices) != 1 {
			t.Fatalf("notices = %d, want 1", len(f.notifier.Notices))
		}
		n := f.notifier.Notices[0]
		if n.SourceAdminURL != "https://staging.example.org/admin/charts/1/edit" {
			t.Errorf("notice SourceAdminURL = %q", n.SourceAdminURL)
		}
		if n.TargetAdminURL != "https://example.org/admin/charts/1/edit" {
			t.Errorf("notice TargetAdminURL = %q", n.TargetAdminURL)
		}
	})

	t.Run("diff with a data problem is skipped", func(t *testing.T) {
		f := newApplierFixture()
		diff := approvedDiff(sourceChart(1, "gdp-per-capita", branchTime.Add(time.Hour)), nil)
		diff.Error = `slug "gdp-per-capita" already exists in target for a different chart`

		synced, err := f.applier(chartsync.ApplierOptions{}).Apply(ctx, []*chartsync.ChartDiff{diff})
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if synced != 0 || len(f.publisher.CreateCalls) != 0 {
			t.Error("chart with a data problem was synced")
		}
	})
}

func TestSyncApplier_DryRun(t *testing.T) {
	ctx := context.Background()

	f := newApplierFixture()
	approved := approvedDiff(sourceChart(1, "approved-new", branchTime.Add(time.Hour)), nil)
	pending := chartsync.NewChartDiff(chartsync.DiffParams{
		Source:           sourceChart(2, "pending-new", branchTime.Add(time.Hour)),
		Flags:            chartsync.ChecksumFlags{ConfigEdited: true, ChartEditedInStaging: boolPtr(true)},
		StagingCreatedAt: branchTime,
	})

	synced, err := f.applier(chartsync.ApplierOptions{DryRun: true}).Apply(ctx, []*chartsync.ChartDiff{approved, pending})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if synced != 1 {
		t.Errorf("Apply() synced = %d, want 1 (would-sync count)", synced)
	}
	if len(f.publisher.CreateCalls)+len(f.publisher.UpdateCalls)+len(f.publisher.TagCalls) != 0 {
		t.Error("dry run made publisher calls")
	}
	if len(f.notifier.Notices) != 0 {
		t.Error("dry run delivered notices")
	}
}

func TestSyncApplier_Filters(t *testing.T) {
	ctx := context.Background()

	t.Run("exclude wins over include", func(t *testing.T) {
		f := newApplierFixture()
		diff := approvedDiff(sourceChart(1, "gdp-per-capita", branchTime.Add(time.Hour)), nil)

		applier := f.applier(chartsync.ApplierOptions{
			Include: regexp.MustCompile(`^grapher/energy/`),
			Exclude: regexp.MustCompile(`gdp`),
		})
		synced, err := applier.Apply(ctx, []*chartsync.ChartDiff{diff})
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if synced != 0 || len(f.publisher.CreateCalls) != 0 {
			t.Error("excluded chart was synced")
		}
	})

	t.Run("include requires a matching catalog path", func(t *testing.T) {
		f := newApplierFixture()
		diff := approvedDiff(sourceChart(1, "gdp-per-capita", branchTime.Add(time.Hour)), nil)

		applier := f.applier(chartsync.ApplierOptions{
			Include: regexp.MustCompile(`^grapher/health/`),
		})
		synced, err := applier.Apply(ctx, []*chartsync.ChartDiff{diff})
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if synced != 0 {
			t.Error("chart outside the include pattern was synced")
		}
	})

	t.Run("notifier failures do not abort the run", func(t *testing.T) {
		f := newApplierFixture()
		f.notifier.Err = errors.New("webhook down")
		pending := chartsync.NewChartDiff(chartsync.DiffParams{
			Source:           sourceChart(1, "pending-new", branchTime.Add(time.Hour)),
			Flags:            chartsync.ChecksumFlags{ConfigEdited: true, ChartEditedInStaging: boolPtr(true)},
			StagingCreatedAt: branchTime,
		})
		approved := approvedDiff(sourceChart(2, "approved-new", branchTime.Add(time.Hour)), nil)

		synced, err := f.applier(chartsync.ApplierOptions{}).Apply(ctx, []*chartsync.ChartDiff{pending, approved})
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if synced != 1 {
			t.Errorf("Apply() synced = %d, want 1", synced)
		}
	})

	t.Run("publisher errors abort the remaining batch", func(t *testing.T) {
		f := newApplierFixture()
		f.publisher.Err = errors.New("api down")
		first := approvedDiff(sourceChart(1, "first", branchTime.Add(time.Hour)), nil)
		second := approvedDiff(sourceChart(2, "second", branchTime.Add(time.Hour)), nil)

		synced, err := f.applier(chartsync.ApplierOptions{}).Apply(ctx, []*chartsync.ChartDiff{first, second})
		if err == nil {
			t.Fatal("Apply() expected error, got nil")
		}
		if synced != 0 {
			t.Errorf("Apply() synced = %d, want 0", synced)
		}
	})
}
