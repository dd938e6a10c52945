package chartsync

import (
	"context"
	"time"
)

// Publisher is the remote write API through which all target-environment
// chart mutations flow. It performs side-effecting bookkeeping beyond the
// chart row itself, which is why direct database writes cannot substitute
// for it.
type Publisher interface {
	// CreateChart creates a new chart from config and returns its id in
	// the target environment.
	CreateChart(ctx context.Context, config map[string]any) (int64, error)

	// UpdateChart replaces the config of an existing chart.
	UpdateChart(ctx context.Context, id int64, config map[string]any) error

	// SetTags replaces the tags attached to a chart.
	SetTags(ctx context.Context, id int64, tags []string) error
}

// PendingNotice is the structured message emitted to the operator channel
// when a detected diff is still awaiting a decision.
type PendingNotice struct {
	ChartID         int64
	Slug            string
	IsNew           bool
	InConflict      bool
	ChangeTypes     []ChangeType
	SourceUpdatedAt time.Time
	TargetUpdatedAt *time.Time
	SourceAdminURL  string
	TargetAdminURL  string
}

// Notifier delivers pending-diff notices to an operator channel.
type Notifier interface {
	NotifyPendingChart(ctx context.Context, notice PendingNotice) error
}
