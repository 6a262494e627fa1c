package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"velo/internal/campaign"
	"velo/internal/config"
	"velo/internal/contact"
	logx "velo/pkg/logx"
)

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := `{
  "logging": {"level": "debug", "console": false, "file": {"enabled": true, "path": "` + filepath.Join(dir, "velo.log") + `"}},
  "campaign": {"poll_interval": "5ms", "send_timeout": "1s", "max_recipients": 10},
  "pacing": {"mode": "fixed", "base_delay": "0s", "jitter_min": "0s", "jitter_max": "0s", "warm_up_count": 0},
  "storage": {"driver": "file", "path": "` + filepath.Join(dir, "progress.json") + `"},
  "transport": {"driver": "dryrun", "dryrun": {"reject": ["6281200000002"]}}
}`
	p := filepath.Join(dir, "velo.json")
	if err := os.WriteFile(p, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func writeContacts(t *testing.T, dir string) string {
	t.Helper()
	csv := "Nama;No HP;Pesan\n" +
		"Budi;081200000001;Halo Budi\n" +
		"Sari;081200000002;\n" +
		"Broken;12;x\n"
	p := filepath.Join(dir, "contacts.csv")
	if err := os.WriteFile(p, []byte(csv), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRunDryRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	a, err := New(Options{ConfigPath: writeTestConfig(t, dir)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()

	prep, err := a.Prepare(Input{Path: writeContacts(t, dir), DefaultMessage: "Promo minggu ini"})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if diff := cmp.Diff(contact.Mapping{RecipientField: "No HP", NameField: "Nama", MessageField: "Pesan"}, prep.Mapping); diff != "" {
		t.Fatalf("mapping (-want +got):\n%s", diff)
	}
	if prep.Result.Valid() != 2 || len(prep.Result.Skipped) != 1 || prep.Result.Skipped[0].SourceRow != 3 {
		t.Fatalf("build result = %+v", prep.Result)
	}
	if got := prep.Plan.Contacts[1].MessageBody; got != "Promo minggu ini" {
		t.Fatalf("fallback message = %q", got)
	}

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sum, err := a.Run(ctx, prep.Plan)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Status != campaign.StatusCompleted || sum.Success != 1 || sum.Failed != 1 || sum.Cursor != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	fl := a.Engine().Failures()
	if len(fl) != 1 || fl[0].RecipientID != "6281200000002" || fl[0].Reason != campaign.ReasonInvalidRecipient {
		t.Fatalf("failures = %+v", fl)
	}
	if cp, err := a.Store().Load(ctx); err != nil || cp != nil {
		t.Fatalf("progress after completion = %+v, %v", cp, err)
	}
}

func TestResolveMapping(t *testing.T) {
	headers := []string{"Customer", "Phone", "Notes", "Message"}
	tests := []struct {
		name    string
		in      Input
		want    contact.Mapping
		wantErr bool
	}{
		{
			name: "detected",
			want: contact.Mapping{RecipientField: "Phone", NameField: "Customer", MessageField: "Message"},
		},
		{
			name: "override message",
			in:   Input{MessageColumn: "Notes"},
			want: contact.Mapping{RecipientField: "Phone", NameField: "Customer", MessageField: "Notes"},
		},
		{
			name:    "unknown column",
			in:      Input{PhoneColumn: "Mobile"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveMapping(headers, tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Fatalf("mapping = %+v, want %+v", got, tt.want)
			}
		})
	}

	_, err := resolveMapping([]string{"a", "b"}, Input{})
	if !errors.Is(err, contact.ErrNoRecipientField) {
		t.Fatalf("err = %v", err)
	}
}

func TestSupervisorRestartsFailingLoop(t *testing.T) {
	sup := NewSupervisor(context.Background(), logx.Nop())
	var (
		mu   sync.Mutex
		runs int
	)
	done := make(chan struct{})
	sup.GoRestart("flaky", func(ctx context.Context) error {
		mu.Lock()
		runs++
		n := runs
		mu.Unlock()
		switch n {
		case 1:
			return errors.New("boom")
		case 2:
			panic("kaboom")
		default:
			close(done)
			<-ctx.Done()
			return ctx.Err()
		}
	}, time.Millisecond, 5*time.Millisecond)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop was not restarted")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sup.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sup.Active() != 0 {
		t.Fatalf("active = %d", sup.Active())
	}
}

func TestSDNotifierThrottles(t *testing.T) {
	n := newSDNotifier(logx.Nop())
	var states []string
	n.notify = func(s string) (bool, error) {
		states = append(states, s)
		return false, nil
	}
	snap := campaign.Snapshot{Status: campaign.StatusRunning, Total: 4, Cursor: 1, Success: 1}
	n.Ready()
	n.Observe(campaign.Event{Kind: campaign.EventSent, Snapshot: snap})
	n.Observe(campaign.Event{Kind: campaign.EventSent, Snapshot: snap})
	snap.Status = campaign.StatusPaused
	n.Observe(campaign.Event{Kind: campaign.EventStatus, Snapshot: snap})

	want := []string{"READY=1", "STATUS=running 1/4 sent=1 failed=0", "STATUS=paused 1/4 sent=1 failed=0"}
	if diff := cmp.Diff(want, states); diff != "" {
		t.Fatalf("states (-want +got):\n%s", diff)
	}
}

func TestWaitScheduleUnset(t *testing.T) {
	a, err := New(Options{ConfigPath: writeTestConfig(t, t.TempDir())})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := a.WaitSchedule(ctx); err != nil {
		t.Fatalf("WaitSchedule: %v", err)
	}
	if !strings.Contains(a.Transport().Name(), "dryrun") {
		t.Fatalf("transport = %s", a.Transport().Name())
	}
}

func TestNotifyChangeWaitsForNextStart(t *testing.T) {
	dir := t.TempDir()
	a, err := New(Options{ConfigPath: writeTestConfig(t, dir)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close(context.Background())

	var buf bytes.Buffer
	a.log = logx.New(&buf, "debug")

	next := *a.cfgm.Get()
	next.Notify.Telegram.ProgressEvery = 5
	ch := make(chan *config.Config, 1)
	ch <- &next
	close(ch)
	a.applyLoop(context.Background(), ch)

	out := buf.String()
	if !strings.Contains(out, "takes effect on next start") || !strings.Contains(out, `"section":"notify"`) {
		t.Fatalf("notify change should be reported as deferred:\n%s", out)
	}
}
