package config

import (
	"reflect"
	"strings"

	logx "velo/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and safe log fields
// describing them. Tokens are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	fields := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert", newCfg.Logging.Alert.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Campaign, newCfg.Campaign) {
		changed = append(changed, "campaign")
		fields = append(fields,
			logx.Int("campaign.max_recipients", newCfg.Campaign.MaxRecipients),
			logx.Int("campaign.max_per_hour", newCfg.Campaign.MaxPerHour),
			logx.String("campaign.schedule", strings.TrimSpace(newCfg.Campaign.Schedule)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Pacing, newCfg.Pacing) {
		changed = append(changed, "pacing")
		fields = append(fields,
			logx.String("pacing.preset", newCfg.Pacing.Preset),
			logx.String("pacing.mode", newCfg.Pacing.Mode),
			logx.String("pacing.base_delay", newCfg.Pacing.BaseDelay),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		fields = append(fields, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Transport, newCfg.Transport) {
		changed = append(changed, "transport")
		fields = append(fields, logx.String("transport.driver", newCfg.Transport.Driver))
	}
	if oldCfg.Control.Enabled != newCfg.Control.Enabled ||
		strings.TrimSpace(oldCfg.Control.Addr) != strings.TrimSpace(newCfg.Control.Addr) ||
		oldCfg.Control.Token != newCfg.Control.Token {
		changed = append(changed, "control")
		fields = append(fields,
			logx.Bool("control.enabled", newCfg.Control.Enabled),
			logx.String("control.addr", newCfg.Control.Addr),
			logx.Bool("control.token_set", newCfg.Control.Token != ""),
		)
	}
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		fields = append(fields, logx.Bool("metrics.enabled", newCfg.Metrics.Enabled))
	}
	if oldCfg.Notify != newCfg.Notify {
		changed = append(changed, "notify")
		t := newCfg.Notify.Telegram
		fields = append(fields,
			logx.Bool("notify.telegram.enabled", t.Enabled),
			logx.Bool("notify.telegram.token_set", t.Token != ""),
			logx.Bool("notify.telegram.summary", t.Summary),
		)
	}
	return changed, fields
}

// LiveSections are applied without restarting; other sections take effect
// on the next campaign or process start.
var LiveSections = map[string]bool{"logging": true}
