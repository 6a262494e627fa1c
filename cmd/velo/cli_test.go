package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"velo/internal/app"
	"velo/internal/campaign"
	"velo/internal/progress"
	logx "velo/pkg/logx"
)

// setupWorkspace writes a config using the simulated transport and a small
// contact list, and points the global flags at them.
func setupWorkspace(t *testing.T) (dir, contacts string) {
	t.Helper()
	dir = t.TempDir()
	cfg := `{
  "logging": {"level": "info", "console": false, "file": {"enabled": true, "path": "` + filepath.Join(dir, "velo.log") + `"}},
  "campaign": {"poll_interval": "5ms", "send_timeout": "1s", "max_recipients": 1},
  "pacing": {"mode": "fixed", "base_delay": "0s", "jitter_min": "0s", "jitter_max": "0s", "warm_up_count": 0},
  "storage": {"driver": "file", "path": "` + filepath.Join(dir, "progress.json") + `"},
  "transport": {"driver": "dryrun", "dryrun": {"reject": ["6281200000002"]}}
}`
	cfgPath = filepath.Join(dir, "velo.json")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	contacts = filepath.Join(dir, "contacts.csv")
	csv := "Nama,No HP,Pesan\n" +
		"Budi,081200000001,Halo Budi\n" +
		"Sari,081200000002,\n" +
		"Broken,12,x\n"
	if err := os.WriteFile(contacts, []byte(csv), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		cfgPath = ""
		runInput, previewInput = app.Input{}, app.Input{}
		runFresh, runYes, runDryRun, runScheduled, runReport = false, false, false, false, ""
		statusJSON, resetYes, previewRows = false, false, 5
		exportFormat, exportOut = "text", ""
	})
	return dir, contacts
}

func testCmd(t *testing.T, stdin string) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	cmd := &cobra.Command{}
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetIn(strings.NewReader(stdin))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	cmd.SetContext(ctx)
	return cmd, out
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{" ya ", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"yep\n", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got, err := confirm(strings.NewReader(tt.in), &out, "Go?")
		if err != nil {
			t.Fatalf("confirm(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if out.String() != "Go? [y/N]: " {
			t.Errorf("prompt = %q", out.String())
		}
	}
}

func TestRunCampaignConfirmed(t *testing.T) {
	dir, contacts := setupWorkspace(t)
	runInput = app.Input{Path: contacts, DefaultMessage: "Promo"}
	runReport = filepath.Join(dir, "failed.csv")

	cmd, out := testCmd(t, "y\n")
	if err := runCampaign(cmd, nil); err != nil {
		t.Fatalf("run: %v\n%s", err, out.String())
	}
	for _, want := range []string{
		"Contacts: 2 valid of 3 rows, 1 skipped",
		"Send to 2 contacts? [y/N]",
		"Campaign completed: 2/2 processed, 1 sent, 1 failed",
		"invalid_recipient",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
	report, err := os.ReadFile(runReport)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(report), "row,name,phone,reason,timestamp,detail\n") || !strings.Contains(string(report), "6281200000002") {
		t.Fatalf("report = %q", report)
	}

	// completed campaigns leave no saved progress behind
	cmd, out = testCmd(t, "")
	if err := runStatus(cmd, nil); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out.String()); got != "No saved progress." {
		t.Fatalf("status = %q", got)
	}
}

func TestRunCampaignDeclined(t *testing.T) {
	_, contacts := setupWorkspace(t)
	runInput = app.Input{Path: contacts}

	cmd, _ := testCmd(t, "n\n")
	if err := runCampaign(cmd, nil); !errors.Is(err, errAborted) {
		t.Fatalf("err = %v, want %v", err, errAborted)
	}
}

func TestInterruptWhileWaitingForSchedule(t *testing.T) {
	dir, contacts := setupWorkspace(t)
	b, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	scheduled := strings.Replace(string(b), `"max_recipients": 1}`, `"max_recipients": 1, "schedule": "0 0 1 1 *"}`, 1)
	if err := os.WriteFile(cfgPath, []byte(scheduled), 0o600); err != nil {
		t.Fatal(err)
	}
	runInput = app.Input{Path: contacts}
	runScheduled = true

	orig := notifySignals
	notifySignals = func(c chan<- os.Signal) { c <- os.Interrupt }
	t.Cleanup(func() { notifySignals = orig })

	cmd, out := testCmd(t, "y\n")
	if err := runCampaign(cmd, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want %v\n%s", err, context.Canceled, out.String())
	}
	if strings.Contains(out.String(), "stopping after the current message") {
		t.Fatalf("nothing was running to stop:\n%s", out.String())
	}
	logs, err := os.ReadFile(filepath.Join(dir, "velo.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(logs), "waiting for scheduled start") {
		t.Fatalf("log = %s", logs)
	}
}

func TestPreview(t *testing.T) {
	_, contacts := setupWorkspace(t)
	previewInput = app.Input{Path: contacts, DefaultMessage: "Promo"}
	previewRows = 2

	cmd, out := testCmd(t, "")
	if err := runPreview(cmd, nil); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"(3 rows, 3 columns)",
		`Columns: phone="No HP" name="Nama" message="Pesan"`,
		`row 3: "12"`,
		`First message to 6281200000001 (Budi): "Halo Budi"`,
		"run will ask for confirmation",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestSavedProgressCommands(t *testing.T) {
	dir, _ := setupWorkspace(t)
	store, err := progress.Open(progress.Config{Driver: "file", Path: filepath.Join(dir, "progress.json")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	cp := campaign.Checkpoint{
		Identity:    campaign.Identity{Source: "contacts.csv", Hash: "abc", Count: 3},
		RunID:       "run-1",
		Total:       3,
		Cursor:      1,
		FailedCount: 1,
		FailedLog: []campaign.FailureRecord{{
			RecipientID: "6281200000009",
			DisplayName: "Dewi",
			Reason:      campaign.ReasonTimeout,
			SourceRow:   1,
			At:          now,
		}},
		Status:    campaign.StatusStopped,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := store.Save(context.Background(), cp); err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	cmd, out := testCmd(t, "")
	if err := runStatus(cmd, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Progress:  1/3 (0 sent, 1 failed, 2 remaining)") {
		t.Fatalf("status:\n%s", out.String())
	}

	exportFormat = "csv"
	exportOut = filepath.Join(dir, "failures.csv")
	cmd, _ = testCmd(t, "")
	if err := runExportFailures(cmd, nil); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(exportOut)
	if err != nil {
		t.Fatal(err)
	}
	if want := "1,Dewi,6281200000009,timeout,2026-03-02T10:00:00Z,\n"; !strings.Contains(string(b), want) {
		t.Fatalf("export = %q, want line %q", b, want)
	}

	exportFormat = "xml"
	if err := runExportFailures(cmd, nil); err == nil {
		t.Fatal("expected unknown format error")
	}

	cmd, _ = testCmd(t, "no\n")
	if err := runReset(cmd, nil); !errors.Is(err, errAborted) {
		t.Fatalf("reset declined: %v", err)
	}
	resetYes = true
	cmd, out = testCmd(t, "")
	if err := runReset(cmd, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Saved progress discarded.") {
		t.Fatalf("reset:\n%s", out.String())
	}
	cmd, out = testCmd(t, "")
	if err := runStatus(cmd, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "No saved progress.") {
		t.Fatalf("status after reset:\n%s", out.String())
	}
}
