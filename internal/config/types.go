package config

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`
	Gateway GatewayConfig `json:"gateway"`
	Engine  EngineConfig  `json:"engine"`
	Bulk    BulkConfig    `json:"bulk"`
	Server  ServerConfig  `json:"server"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the SQLite persistence layer.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// GatewayConfig holds the provider credentials and HTTP settings.
//
// SendTextURL, when set, overrides the URL derived from BaseURL and the
// instance credentials.
type GatewayConfig struct {
	Provider      string `json:"provider,omitempty"` // default: "z-api"
	BaseURL       string `json:"base_url,omitempty"`
	InstanceID    string `json:"instance_id"`
	InstanceToken string `json:"instance_token"`
	ClientToken   string `json:"client_token,omitempty"`
	SendTextURL   string `json:"send_text_url,omitempty"`
	// Timeout is a Go duration string (e.g. "10s").
	Timeout  string `json:"timeout,omitempty"`
	RetryMax int    `json:"retry_max,omitempty"`
}

// EngineConfig controls the trigger engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - grace_window: "60s"
//   - group_send_delay: "3s"
type EngineConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`
	// GraceWindow bounds how late a one-time fire may still execute.
	GraceWindow string `json:"grace_window,omitempty"`
	// GroupSendDelay paces member sends of a group schedule.
	GroupSendDelay string `json:"group_send_delay,omitempty"`
	// Timezone for cron evaluation, e.g. "America/Sao_Paulo".
	Timezone string `json:"timezone,omitempty"`
}

// BulkConfig controls the bulk dispatcher.
type BulkConfig struct {
	Workers    int `json:"workers,omitempty"`
	QueueSize  int `json:"queue_size,omitempty"`
	RatePerSec int `json:"rate_per_sec,omitempty"`
	StatusMax  int `json:"status_max,omitempty"`
	// StatusTTL is a Go duration string; terminal jobs older than this are
	// evicted from the in-memory registry.
	StatusTTL string `json:"status_ttl,omitempty"`
	// DefaultDelay is the pacing between member sends when a dispatch
	// request does not set one.
	DefaultDelay string `json:"default_delay,omitempty"`
}

type ServerConfig struct {
	Addr string `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	// Server timeouts (Go duration strings).
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	IdleTimeout     string `json:"idle_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}
