// Package notify delivers pending-diff notices to an operator channel.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/owid/chart-sync/internal/chartsync"
)

// Webhook posts pending-diff notices as simple text messages to an
// incoming-webhook URL (Slack-compatible payload shape).
type Webhook struct {
	url        string
	httpClient *http.Client
}

// NewWebhook creates a webhook notifier for url.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) NotifyPendingChart(ctx context.Context, notice chartsync.PendingNotice) error {
	payload, err := json.Marshal(map[string]string{"text": formatNotice(notice)})
	if err != nil {
		return fmt.Errorf("encoding notice: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building notice request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delivering notice: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return fmt.Errorf("delivering notice: status %d: %s", resp.StatusCode, raw)
	}
	return nil
}

// formatNotice renders a one-message summary of a chart awaiting review.
func formatNotice(n chartsync.PendingNotice) string {
	var b strings.Builder
	if n.IsNew {
		fmt.Fprintf(&b, "New chart %q (id %d) is awaiting review before first sync.", n.Slug, n.ChartID)
	} else {
		fmt.Fprintf(&b, "Chart %q (id %d) has unreviewed changes.", n.Slug, n.ChartID)
	}
	if len(n.ChangeTypes) > 0 {
		types := make([]string, len(n.ChangeTypes))
		for i, t := range n.ChangeTypes {
			types[i] = string(t)
		}
		fmt.Fprintf(&b, " Changed: %s.", strings.Join(types, ", "))
	}
	if n.InConflict {
		b.WriteString(" Warning: the chart was also edited in the target environment.")
	}
	if n.SourceAdminURL != "" {
		fmt.Fprintf(&b, "\nSource: %s", n.SourceAdminURL)
	}
	if n.TargetAdminURL != "" {
		fmt.Fprintf(&b, "\nTarget: %s", n.TargetAdminURL)
	}
	return b.String()
}

// Compile-time check that Webhook implements the Notifier interface
var _ chartsync.Notifier = (*Webhook)(nil)
