package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "60s", "1m30s").
// Omitted fields keep the values from Default().
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Campaign  CampaignConfig  `json:"campaign"`
	Pacing    PacingConfig    `json:"pacing"`
	Storage   StorageConfig   `json:"storage"`
	Transport TransportConfig `json:"transport"`
	Control   ControlConfig   `json:"control"`
	Metrics   MetricsConfig   `json:"metrics"`
	Notify    NotifyConfig    `json:"notify"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards records at or above MinLevel to the Telegram notifier.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// CampaignConfig holds engine settings. They are captured when a campaign
// starts; a reload only affects the next campaign.
type CampaignConfig struct {
	CountryCode    string `json:"country_code"`
	DefaultMessage string `json:"default_message"`
	// MaxRecipients is the safety threshold above which a start needs confirmation. 0 disables it.
	MaxRecipients int    `json:"max_recipients"`
	SendTimeout   string `json:"send_timeout"`
	PollInterval  string `json:"poll_interval"`
	// MaxPerHour is a hard hourly ceiling under the pacing delay. 0 disables it.
	MaxPerHour int    `json:"max_per_hour"`
	RetryMax   int    `json:"retry_max"`
	RetryDelay string `json:"retry_delay"`
	// Schedule is an optional 5-field cron expression; `velo run --scheduled`
	// waits for its next activation before starting.
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// PacingConfig selects a preset and/or explicit values. Explicit values win.
type PacingConfig struct {
	Preset      string `json:"preset,omitempty"`
	Mode        string `json:"mode,omitempty"`
	BaseDelay   string `json:"base_delay,omitempty"`
	JitterMin   string `json:"jitter_min,omitempty"`
	JitterMax   string `json:"jitter_max,omitempty"`
	WarmUpCount *int   `json:"warm_up_count,omitempty"`
	WarmUpExtra string `json:"warm_up_extra,omitempty"`
}

// StorageConfig selects the progress store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/velo.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type TransportConfig struct {
	// Driver is "whatsweb" (browser automation) or "dryrun".
	Driver   string         `json:"driver"`
	WhatsWeb WhatsWebConfig `json:"whatsweb"`
	DryRun   DryRunConfig   `json:"dryrun"`
}

type WhatsWebConfig struct {
	// ProfileDir keeps the browser session so the QR login survives restarts.
	ProfileDir   string `json:"profile_dir"`
	Headless     bool   `json:"headless"`
	BrowserBin   string `json:"browser_bin,omitempty"`
	BaseURL      string `json:"base_url,omitempty"`
	LoginTimeout string `json:"login_timeout"`
	PageTimeout  string `json:"page_timeout"`
}

type DryRunConfig struct {
	Latency string `json:"latency,omitempty"`
	// Reject lists recipient ids the simulated service reports as unknown.
	Reject []string `json:"reject,omitempty"`
	// FailEvery makes every n-th send fail with a transport error. 0 disables.
	FailEvery int `json:"fail_every,omitempty"`
}

// ControlConfig enables the HTTP control surface.
//
// Security note: bind to loopback or set a token; the surface can stop a campaign.
type ControlConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:8089"
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)
	// Pprof mounts /debug/pprof behind the token.
	Pprof bool `json:"pprof,omitempty"`
}

// MetricsConfig exposes Prometheus metrics on the control server.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"` // default: "/metrics"
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token,omitempty"`
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
	// Summary sends a message when a campaign finishes or stops.
	Summary bool `json:"summary"`
	// Progress sends a message every N processed contacts. 0 disables.
	ProgressEvery int `json:"progress_every,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			File:    LoggingFile{Enabled: true, Path: "./velo.log"},
			Alert:   LoggingAlert{MinLevel: "error", RatePerSec: 1},
		},
		Campaign: CampaignConfig{
			CountryCode:   "62",
			MaxRecipients: 100,
			SendTimeout:   "20s",
			PollInterval:  "1s",
			RetryDelay:    "5s",
		},
		Storage: StorageConfig{Driver: "file", Path: "./progress.json"},
		Transport: TransportConfig{
			Driver: "whatsweb",
			WhatsWeb: WhatsWebConfig{
				ProfileDir:   "./whatsapp_session",
				LoginTimeout: "2m",
				PageTimeout:  "15s",
			},
		},
		Control: ControlConfig{Addr: "127.0.0.1:8089"},
		Metrics: MetricsConfig{Path: "/metrics"},
		Notify:  NotifyConfig{Telegram: TelegramConfig{Summary: true}},
	}
}
