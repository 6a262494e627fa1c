package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"velo/internal/campaign"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	b, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestObserveEvents(t *testing.T) {
	m := New()
	snap := campaign.Snapshot{Status: campaign.StatusRunning, Total: 5, Cursor: 2}
	m.Observe(campaign.Event{Kind: campaign.EventSent, Snapshot: snap})
	m.Observe(campaign.Event{
		Kind:     campaign.EventFailed,
		Snapshot: snap,
		Failure:  &campaign.FailureRecord{Reason: campaign.ReasonTimeout},
	})
	m.Observe(campaign.Event{Kind: campaign.EventWaiting, Snapshot: snap, Delay: 75 * time.Second})
	m.Observe(campaign.Event{Kind: campaign.EventPersistError, Snapshot: snap})

	body := scrape(t, m)
	for _, want := range []string{
		`velo_messages_total{result="sent"} 1`,
		`velo_messages_total{result="failed"} 1`,
		`velo_failures_total{reason="timeout"} 1`,
		`velo_progress_persist_errors_total 1`,
		`velo_campaign_status{status="running"} 1`,
		`velo_campaign_status{status="paused"} 0`,
		`velo_campaign_remaining 3`,
		`velo_pacing_delay_seconds_count 1`,
		`go_goroutines`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q", want)
		}
	}
}

func TestRunStopsOnClose(t *testing.T) {
	m := New()
	ch := make(chan campaign.Event, 2)
	ch <- campaign.Event{
		Kind:     campaign.EventFinished,
		Snapshot: campaign.Snapshot{Status: campaign.StatusCompleted, Total: 1, Cursor: 1},
		Summary:  &campaign.Summary{Status: campaign.StatusCompleted},
	}
	close(ch)

	done := make(chan struct{})
	go func() {
		m.Run(context.Background(), ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after close")
	}
	if body := scrape(t, m); !strings.Contains(body, `velo_campaigns_finished_total{status="completed"} 1`) {
		t.Fatal("finished counter not exported")
	}
}
