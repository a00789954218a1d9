package config

// Config is the daemon configuration. JSON and YAML are both accepted;
// unknown keys are rejected.
type Config struct {
	// Timezone is the IANA zone used to interpret alarm dates and times.
	// Empty means the host's local zone.
	Timezone string `json:"timezone,omitempty"`

	HTTP     HTTPConfig     `json:"http"`
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Notifier NotifierConfig `json:"notifier"`
	Storage  StorageConfig  `json:"storage"`
	Metrics  MetricsConfig  `json:"metrics"`
}

// HTTPConfig controls the web form and JSON API.
//
// Durations are Go duration strings (e.g. "5s").
type HTTPConfig struct {
	Enabled      bool      `json:"enabled"`
	Addr         string    `json:"addr,omitempty"` // default ":8080"
	ReadTimeout  string    `json:"read_timeout,omitempty"`
	WriteTimeout string    `json:"write_timeout,omitempty"`
	BasicAuth    BasicAuth `json:"basic_auth,omitempty"`
	// Pprof mounts net/http/pprof under /debug/pprof/ (behind basic auth if set).
	Pprof bool `json:"pprof,omitempty"`
}

type BasicAuth struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

func (b BasicAuth) Enabled() bool { return b.Username != "" || b.Password != "" }

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// ChatID receives alarm notifications (and forwarded logs).
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// Commands enables /remind, /daily, /cancel and /alarms for owners.
	Commands bool `json:"commands"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// NotifierConfig controls notification presentation. Changes apply live.
type NotifierConfig struct {
	Icon        string        `json:"icon,omitempty"`
	Color       string        `json:"color,omitempty"` // #RRGGBB, default #7B1FA2
	Sound       string        `json:"sound,omitempty"`
	HistorySize int           `json:"history_size,omitempty"`
	SendTimeout string        `json:"send_timeout,omitempty"`
	Channel     ChannelConfig `json:"channel,omitempty"`
}

type ChannelConfig struct {
	ID              string `json:"id,omitempty"`
	Name            string `json:"name,omitempty"`
	VibrationPulses int    `json:"vibration_pulses,omitempty"`
	VibrationPulse  string `json:"vibration_pulse,omitempty"`
}

// StorageConfig controls registration persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/alarmd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite, bolt)
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"` // default "/metrics"
}
