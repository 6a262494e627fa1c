package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"velo/internal/pacing"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestParseYAMLOverlaysDefaults(t *testing.T) {
	p := filepath.Join(t.TempDir(), "velo.yaml")
	writeFile(t, p, `
logging:
  level: debug
campaign:
  max_recipients: 250
  max_per_hour: 40
pacing:
  preset: fast
  jitter_max: 12s
storage:
  driver: sqlite
  path: ./data/velo.db
transport:
  driver: dryrun
  dryrun:
    reject: ["6281111111111"]
`)
	cfg, err := NewManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Campaign.CountryCode != "62" || cfg.Campaign.MaxRecipients != 250 {
		t.Fatalf("campaign = %+v", cfg.Campaign)
	}

	params, err := cfg.PacingParams()
	if err != nil {
		t.Fatalf("PacingParams: %v", err)
	}
	fast, _ := pacing.Preset("fast")
	fast.JitterMax = 12 * time.Second
	if params != fast {
		t.Fatalf("pacing = %+v, want %+v", params, fast)
	}

	ec, err := cfg.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig: %v", err)
	}
	if ec.SendTimeout != 20*time.Second || ec.MaxPerHour != 40 || ec.MaxRecipients != 250 || ec.RetryMax != 0 {
		t.Fatalf("engine config = %+v", ec)
	}
	pc, err := cfg.ProgressConfig()
	if err != nil || pc.Driver != "sqlite" || pc.Path != "./data/velo.db" {
		t.Fatalf("progress config = %+v, %v", pc, err)
	}
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	writeFile(t, bad, `{"campaign": {"max_recipient": 5}}`)
	if _, err := NewManager(bad).Parse(); err == nil || !strings.Contains(err.Error(), "max_recipient") {
		t.Fatalf("unknown field err = %v", err)
	}
	trailing := filepath.Join(dir, "trailing.json")
	writeFile(t, trailing, `{} {}`)
	if _, err := NewManager(trailing).Parse(); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad preset", func(c *Config) { c.Pacing.Preset = "turbo" }},
		{"inverted jitter", func(c *Config) { c.Pacing.JitterMin = "30s"; c.Pacing.JitterMax = "5s" }},
		{"bad duration", func(c *Config) { c.Campaign.SendTimeout = "soon" }},
		{"negative ceiling", func(c *Config) { c.Campaign.MaxPerHour = -1 }},
		{"unknown storage", func(c *Config) { c.Storage.Driver = "redis" }},
		{"unknown transport", func(c *Config) { c.Transport.Driver = "sms" }},
		{"bad schedule", func(c *Config) { c.Campaign.Schedule = "every day" }},
		{"bad timezone", func(c *Config) { c.Campaign.Schedule = "0 9 * * *"; c.Campaign.Timezone = "Mars/Olympus" }},
		{"telegram without token", func(c *Config) { c.Notify.Telegram.Enabled = true }},
		{"page timeout outlives send", func(c *Config) { c.Transport.WhatsWeb.PageTimeout = "20s" }},
		{"page timeout default outlives send", func(c *Config) { c.Campaign.SendTimeout = "10s" }},
	}
	if err := Validate(Default()); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCronSchedule(t *testing.T) {
	cfg := Default()
	cfg.Campaign.Schedule = "30 9 * * 1-5"
	cfg.Campaign.Timezone = "Asia/Jakarta"
	s, err := cfg.CronSchedule()
	if err != nil {
		t.Fatalf("CronSchedule: %v", err)
	}
	loc, _ := time.LoadLocation("Asia/Jakarta")
	// Saturday 2024-06-01 10:00 WIB -> Monday 09:30 WIB
	next := s.Next(time.Date(2024, 6, 1, 10, 0, 0, 0, loc))
	if want := time.Date(2024, 6, 3, 9, 30, 0, 0, loc); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvTelegramToken, "123:abc")
	t.Setenv(EnvTelegramChatID, "-100200300")
	cfg, err := NewManager("").Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Notify.Telegram.Token != "123:abc" || cfg.Notify.Telegram.ChatID != -100200300 {
		t.Fatalf("telegram = %+v", cfg.Notify.Telegram)
	}
	t.Setenv(EnvTelegramChatID, "not-a-number")
	if _, err := NewManager("").Parse(); err == nil {
		t.Fatal("expected chat id parse error")
	}
}

func TestSummarizeChangeHidesSecrets(t *testing.T) {
	a := Default()
	b := Default()
	b.Logging.Level = "debug"
	b.Notify.Telegram.Token = "secret-token"
	b.Control.Token = "other-secret"
	changed, _ := SummarizeChange(a, b)
	if strings.Join(changed, ",") != "logging,control,notify" {
		t.Fatalf("changed = %v", changed)
	}
}

func TestWatchPublishesReload(t *testing.T) {
	p := filepath.Join(t.TempDir(), "velo.json")
	writeFile(t, p, `{"logging": {"level": "info"}}`)
	m := NewManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			if cfg.Logging.Level != "debug" {
				t.Fatalf("reloaded level = %q", cfg.Logging.Level)
			}
			if m.Get().Logging.Level != "debug" {
				t.Fatal("reload not committed")
			}
			return
		case <-tick.C:
			// rewrite until the watcher is up and picks it up
			writeFile(t, p, `{"logging": {"level": "debug"}}`)
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}
