package testutil

import (
	"context"

	"github.com/owid/chart-sync/internal/chartsync"
)

// CreateCall records one CreateChart invocation.
type CreateCall struct {
	Config map[string]any
}

// UpdateCall records one UpdateChart invocation.
type UpdateCall struct {
	ID     int64
	Config map[string]any
}

// TagCall records one SetTags invocation.
type TagCall struct {
	ID   int64
	Tags []string
}

// RecordingPublisher records all publisher calls. Created charts receive
// sequential ids starting at NextID.
type RecordingPublisher struct {
	NextID      int64
	CreateCalls []CreateCall
	UpdateCalls []UpdateCall
	TagCalls    []TagCall

	// Err, when set, is returned by every call.
	Err error
}

// NewRecordingPublisher creates a publisher assigning ids from 1000 up.
func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{NextID: 1000}
}

func (p *RecordingPublisher) CreateChart(_ context.Context, config map[string]any) (int64, error) {
	if p.Err != nil {
		return 0, p.Err
	}
	p.CreateCalls = append(p.CreateCalls, CreateCall{Config: config})
	id := p.NextID
	p.NextID++
	return id, nil
}

func (p *RecordingPublisher) UpdateChart(_ context.Context, id int64, config map[string]any) error {
	if p.Err != nil {
		return p.Err
	}
	p.UpdateCalls = append(p.UpdateCalls, UpdateCall{ID: id, Config: config})
	return nil
}

func (p *RecordingPublisher) SetTags(_ context.Context, id int64, tags []string) error {
	if p.Err != nil {
		return p.Err
	}
	p.TagCalls = append(p.TagCalls, TagCall{ID: id, Tags: tags})
	return nil
}

// Compile-time check that RecordingPublisher implements the Publisher interface
var _ chartsync.Publisher = (*RecordingPublisher)(nil)

// RecordingNotifier records all delivered notices.
type RecordingNotifier struct {
	Notices []chartsync.PendingNotice

	// Err, when set, is returned by every call.
	Err error
}

func (n *RecordingNotifier) NotifyPendingChart(_ context.Context, notice chartsync.PendingNotice) error {
	if n.Err != nil {
		return n.Err
	}
	n.Notices = append(n.Notices, notice)
	return nil
}

// Compile-time check that RecordingNotifier implements the Notifier interface
var _ chartsync.Notifier = (*RecordingNotifier)(nil)
