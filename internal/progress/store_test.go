package progress

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"velo/internal/campaign"
	logx "velo/pkg/logx"
)

func sampleCheckpoint(runID string) campaign.Checkpoint {
	at := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	return campaign.Checkpoint{
		Identity:     campaign.Identity{Source: "contacts.csv", Hash: "abc123", Count: 5},
		RunID:        runID,
		Total:        5,
		Cursor:       3,
		SuccessCount: 1,
		FailedCount:  2,
		FailedLog: []campaign.FailureRecord{
			{RecipientID: "6281111111111", DisplayName: "A", Reason: campaign.ReasonInvalidRecipient, SourceRow: 2, At: at},
			{RecipientID: "6282222222222", DisplayName: "B", Reason: campaign.ReasonTimeout, Detail: "no acknowledgement within 20s", SourceRow: 3, At: at.Add(time.Minute)},
		},
		Status:    campaign.StatusStopped,
		StartedAt: at.Add(-time.Hour),
		UpdatedAt: at.Add(2 * time.Minute),
	}
}

func openAll(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	stores := map[string]Store{}
	for driver, path := range map[string]string{
		"file":   filepath.Join(dir, "state", "progress.json"),
		"sqlite": filepath.Join(dir, "velo.db"),
		"memory": "",
	} {
		st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%s): %v", driver, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		stores[driver] = st
	}
	return stores
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, st := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			got, err := st.Load(ctx)
			if err != nil || got != nil {
				t.Fatalf("empty Load = %+v, %v", got, err)
			}

			want := sampleCheckpoint("run-1")
			if err := st.Save(ctx, want); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err = st.Load(ctx)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if diff := cmp.Diff(&want, got); diff != "" {
				t.Fatalf("checkpoint mismatch (-want +got):\n%s", diff)
			}

			// Append one more failure and advance the cursor.
			want.Cursor = 4
			want.FailedCount = 3
			want.FailedLog = append(want.FailedLog, campaign.FailureRecord{
				RecipientID: "6283333333333", DisplayName: "C", Reason: campaign.ReasonTransportError,
				SourceRow: 4, At: want.UpdatedAt,
			})
			if err := st.Save(ctx, want); err != nil {
				t.Fatalf("second Save: %v", err)
			}
			got, err = st.Load(ctx)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if diff := cmp.Diff(&want, got); diff != "" {
				t.Fatalf("after append (-want +got):\n%s", diff)
			}

			if err := st.Clear(ctx); err != nil {
				t.Fatalf("Clear: %v", err)
			}
			if got, err := st.Load(ctx); err != nil || got != nil {
				t.Fatalf("Load after Clear = %+v, %v", got, err)
			}
		})
	}
}

func TestSQLiteNewRunReplacesFailures(t *testing.T) {
	ctx := context.Background()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "velo.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	if err := st.Save(ctx, sampleCheckpoint("run-1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	next := campaign.Checkpoint{
		Identity:  campaign.Identity{Source: "other.csv", Hash: "def456", Count: 2},
		RunID:     "run-2",
		Total:     2,
		FailedLog: []campaign.FailureRecord{},
		Status:    campaign.StatusRunning,
	}
	if err := st.Save(ctx, next); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.RunID != "run-2" || len(got.FailedLog) != 0 {
		t.Fatalf("stale failures leaked into new run: %+v", got)
	}
}

func TestFileStoreCorruptAndEmpty(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "progress.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := os.WriteFile(path, []byte("   \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if cp, err := st.Load(ctx); err != nil || cp != nil {
		t.Fatalf("blank file Load = %+v, %v", cp, err)
	}

	if err := os.WriteFile(path, []byte(`{"cursor": 3,`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Load(ctx); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("corrupt Load err = %v, want ErrCorrupt", err)
	}

	if err := st.Save(ctx, sampleCheckpoint("run-1")); err != nil {
		t.Fatalf("Save over corrupt file: %v", err)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestOpenDrivers(t *testing.T) {
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("err = %v, want ErrUnknownDriver", err)
	}
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(none): %v", err)
	}
	if err := st.Save(context.Background(), sampleCheckpoint("x")); err != nil {
		t.Fatalf("disabled Save: %v", err)
	}
	if cp, _ := st.Load(context.Background()); cp != nil {
		t.Fatal("disabled store must not return checkpoints")
	}
}
