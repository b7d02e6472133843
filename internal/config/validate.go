package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks a parsed config for field-level problems: unparseable
// durations, missing gateway credentials, an unknown timezone. It is used
// both at boot and as the reload gate.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	durations := []struct {
		path string
		raw  string
	}{
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"gateway.timeout", cfg.Gateway.Timeout},
		{"engine.grace_window", cfg.Engine.GraceWindow},
		{"engine.group_send_delay", cfg.Engine.GroupSendDelay},
		{"bulk.status_ttl", cfg.Bulk.StatusTTL},
		{"bulk.default_delay", cfg.Bulk.DefaultDelay},
		{"server.read_timeout", cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeout},
		{"server.idle_timeout", cfg.Server.IdleTimeout},
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if strings.TrimSpace(cfg.Gateway.SendTextURL) == "" {
		if strings.TrimSpace(cfg.Gateway.InstanceID) == "" {
			return fmt.Errorf("gateway.instance_id: required")
		}
		if strings.TrimSpace(cfg.Gateway.InstanceToken) == "" {
			return fmt.Errorf("gateway.instance_token: required")
		}
	}

	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("storage.path: required")
	}

	if tz := strings.TrimSpace(cfg.Engine.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("engine.timezone: unknown timezone %q", tz)
		}
	}

	return nil
}

// ParseDurationField parses one duration-string config value. Empty means
// unset and yields zero; anything negative or unparseable is an error
// carrying the field path.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for unset
// values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
