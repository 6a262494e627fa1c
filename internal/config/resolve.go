package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"velo/internal/campaign"
	"velo/internal/pacing"
	"velo/internal/progress"
	logx "velo/pkg/logx"
)

// Validate resolves every section once and reports the first problem.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, err := cfg.PacingParams(); err != nil {
		return err
	}
	ec, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	if _, err := cfg.ProgressConfig(); err != nil {
		return err
	}
	if _, err := cfg.CronSchedule(); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Transport.Driver)) {
	case "whatsweb", "dryrun":
	default:
		return fmt.Errorf("transport.driver: unknown driver %q", cfg.Transport.Driver)
	}
	for _, f := range []struct{ path, raw string }{
		{"transport.whatsweb.login_timeout", cfg.Transport.WhatsWeb.LoginTimeout},
		{"transport.whatsweb.page_timeout", cfg.Transport.WhatsWeb.PageTimeout},
		{"transport.dryrun.latency", cfg.Transport.DryRun.Latency},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if strings.EqualFold(strings.TrimSpace(cfg.Transport.Driver), "whatsweb") {
		// the page must give up before the engine abandons the send
		page, _ := ParseDurationOrDefault("transport.whatsweb.page_timeout", cfg.Transport.WhatsWeb.PageTimeout, 15*time.Second)
		if page >= ec.SendTimeout {
			return fmt.Errorf("transport.whatsweb.page_timeout (%s) must be shorter than campaign.send_timeout (%s)", page, ec.SendTimeout)
		}
	}
	if cfg.Control.Enabled && strings.TrimSpace(cfg.Control.Addr) == "" {
		return errors.New("control.addr is required when control is enabled")
	}
	if t := cfg.Notify.Telegram; t.Enabled && (strings.TrimSpace(t.Token) == "" || t.ChatID == 0) {
		return errors.New("notify.telegram: token and chat_id are required when enabled")
	}
	return nil
}

// PacingParams starts from the preset (or built-in defaults) and applies
// every explicitly set field.
func (c *Config) PacingParams() (pacing.Params, error) {
	pc := c.Pacing
	p := pacing.Defaults()
	if strings.TrimSpace(pc.Preset) != "" {
		var err error
		if p, err = pacing.Preset(pc.Preset); err != nil {
			return pacing.Params{}, fmt.Errorf("pacing.preset: %w", err)
		}
	}
	if strings.TrimSpace(pc.Mode) != "" {
		m, err := pacing.ParseMode(pc.Mode)
		if err != nil {
			return pacing.Params{}, fmt.Errorf("pacing.mode: %w", err)
		}
		p.Mode = m
	}
	for _, f := range []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"pacing.base_delay", pc.BaseDelay, &p.BaseDelay},
		{"pacing.jitter_min", pc.JitterMin, &p.JitterMin},
		{"pacing.jitter_max", pc.JitterMax, &p.JitterMax},
		{"pacing.warm_up_extra", pc.WarmUpExtra, &p.WarmUpExtra},
	} {
		if strings.TrimSpace(f.raw) == "" {
			continue
		}
		d, err := ParseDurationField(f.path, f.raw)
		if err != nil {
			return pacing.Params{}, err
		}
		*f.dst = d
	}
	if pc.WarmUpCount != nil {
		p.WarmUpCount = *pc.WarmUpCount
	}
	if err := p.Validate(); err != nil {
		return pacing.Params{}, err
	}
	return p, nil
}

func (c *Config) EngineConfig() (campaign.Config, error) {
	cc := c.Campaign
	var (
		out campaign.Config
		err error
	)
	if out.SendTimeout, err = ParseDurationOrDefault("campaign.send_timeout", cc.SendTimeout, 20*time.Second); err != nil {
		return out, err
	}
	if out.PollInterval, err = ParseDurationOrDefault("campaign.poll_interval", cc.PollInterval, time.Second); err != nil {
		return out, err
	}
	if out.RetryDelay, err = ParseDurationOrDefault("campaign.retry_delay", cc.RetryDelay, 5*time.Second); err != nil {
		return out, err
	}
	if cc.MaxRecipients < 0 || cc.MaxPerHour < 0 || cc.RetryMax < 0 {
		return out, errors.New("campaign: max_recipients, max_per_hour and retry_max must be >= 0")
	}
	out.MaxRecipients = cc.MaxRecipients
	out.MaxPerHour = cc.MaxPerHour
	out.RetryMax = cc.RetryMax
	return out, nil
}

func (c *Config) ProgressConfig() (progress.Config, error) {
	busy, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	if err != nil {
		return progress.Config{}, err
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "file", "json", "sqlite", "sqlite3", "memory", "mem", "none", "off":
	default:
		return progress.Config{}, fmt.Errorf("storage.driver: %w: %s", progress.ErrUnknownDriver, c.Storage.Driver)
	}
	return progress.Config{Driver: c.Storage.Driver, Path: c.Storage.Path, BusyTimeout: busy}, nil
}

func (c *Config) LogConfig() logx.Config {
	l := c.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alert:   logx.AlertConfig{Enabled: l.Alert.Enabled, MinLevel: l.Alert.MinLevel, RatePerSec: l.Alert.RatePerSec},
	}
}

// CronSchedule parses campaign.schedule. It returns (nil, nil) when unset.
func (c *Config) CronSchedule() (cron.Schedule, error) {
	expr := strings.TrimSpace(c.Campaign.Schedule)
	if expr == "" {
		return nil, nil
	}
	if tz := strings.TrimSpace(c.Campaign.Timezone); tz != "" && !strings.HasPrefix(expr, "CRON_TZ=") && !strings.HasPrefix(expr, "TZ=") {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("campaign.timezone: %w", err)
		}
		expr = "CRON_TZ=" + tz + " " + expr
	}
	s, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("campaign.schedule: %w", err)
	}
	return s, nil
}

// ParseDurationField parses a Go duration string. Empty means 0; negative
// values are rejected. path names the field in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
