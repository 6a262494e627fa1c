package logx

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type captureSender struct {
	mu   sync.Mutex
	msgs []string
}

func (c *captureSender) SendAlert(ctx context.Context, text string) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, text)
	c.mu.Unlock()
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestFormatAlertOrdersFields(t *testing.T) {
	t.Parallel()
	got := formatAlert([]byte(`{"level":"error","message":"send failed","zeta":1,"alpha":"x","time":"t"}`))
	want := "[ERROR] send failed\n- alpha=x\n- zeta=1"
	if got != want {
		t.Fatalf("formatAlert = %q, want %q", got, want)
	}
}

func TestFormatAlertNonJSON(t *testing.T) {
	t.Parallel()
	if got := formatAlert([]byte("  plain text \n")); got != "plain text" {
		t.Fatalf("formatAlert = %q", got)
	}
}

func TestAlertSinkRespectsMinLevel(t *testing.T) {
	svc, log := NewService(Config{Level: "debug", Alert: AlertConfig{Enabled: true, MinLevel: "error", RatePerSec: 100}})
	defer svc.Close()

	sender := &captureSender{}
	svc.SetAlertSender(sender)

	log.Warn("below threshold")
	log.Error("campaign aborted", String("reason", "transport"))

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sender.count() != 1 {
		t.Fatalf("expected exactly one alert, got %d", sender.count())
	}
	sender.mu.Lock()
	msg := sender.msgs[0]
	sender.mu.Unlock()
	if !strings.HasPrefix(msg, "[ERROR] campaign aborted") || !strings.Contains(msg, "reason=transport") {
		t.Fatalf("unexpected alert text: %q", msg)
	}
}

func TestLoggerWithFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := New(&buf, "info").With(String("campaign", "c1"))
	log.Debug("hidden")
	log.Info("sent", Int("cursor", 3))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug record should be filtered: %s", out)
	}
	if !strings.Contains(out, `"campaign":"c1"`) || !strings.Contains(out, `"cursor":3`) {
		t.Fatalf("missing fields: %s", out)
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("nothing happens")
}

func TestLoggerCallerAndNilErr(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	New(&buf, "debug").Debug("checked", Err(nil))

	out := buf.String()
	if !strings.Contains(out, `"caller":"service_test.go:`) {
		t.Fatalf("caller should point at the call site: %s", out)
	}
	if strings.Contains(out, `"error"`) {
		t.Fatalf("nil error should add nothing: %s", out)
	}
}
