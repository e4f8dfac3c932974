package config

import (
	"strings"
	"time"
)

// Bounds the settings layer clamps to. Out-of-range values are a
// settings concern, not a pipeline one; the pipeline always sees a
// normalized snapshot.
const (
	DefaultCooldownSeconds  = 10
	MinCooldownSeconds      = 1
	MaxCooldownSeconds      = 300
	DefaultExportIntervalMs = 10000
	MinExportIntervalMs     = 1000
	MaxExportIntervalMs     = 60000
)

// Settings is the runtime-tunable telemetry configuration. It is
// treated as an immutable snapshot: the server swaps the whole value on
// a settings change, and a running pipeline reads exactly one snapshot
// per session.
type Settings struct {
	Enabled          bool   `yaml:"enabled" env:"TELEMETRY_ENABLED" json:"enabled"`
	Endpoint         string `yaml:"endpoint" env:"TELEMETRY_ENDPOINT" json:"endpoint"`
	EventFilter      string `yaml:"event_filter" env:"TELEMETRY_EVENT_FILTER" json:"event_filter"`
	ExportIntervalMs int    `yaml:"export_interval_ms" env:"TELEMETRY_EXPORT_INTERVAL_MS" json:"export_interval_ms"`
	CooldownSeconds  int    `yaml:"device_cooldown_s" env:"TELEMETRY_DEVICE_COOLDOWN_S" json:"device_cooldown_s"`
}

func DefaultSettings() Settings {
	return Settings{
		Enabled:          true,
		ExportIntervalMs: DefaultExportIntervalMs,
		CooldownSeconds:  DefaultCooldownSeconds,
	}
}

// Normalize clamps interval and cooldown into their documented ranges.
// Zero values fall back to defaults so a partial settings payload keeps
// working.
func (s Settings) Normalize() Settings {
	if s.ExportIntervalMs == 0 {
		s.ExportIntervalMs = DefaultExportIntervalMs
	}
	if s.ExportIntervalMs < MinExportIntervalMs {
		s.ExportIntervalMs = MinExportIntervalMs
	}
	if s.ExportIntervalMs > MaxExportIntervalMs {
		s.ExportIntervalMs = MaxExportIntervalMs
	}
	if s.CooldownSeconds == 0 {
		s.CooldownSeconds = DefaultCooldownSeconds
	}
	if s.CooldownSeconds < MinCooldownSeconds {
		s.CooldownSeconds = MinCooldownSeconds
	}
	if s.CooldownSeconds > MaxCooldownSeconds {
		s.CooldownSeconds = MaxCooldownSeconds
	}
	return s
}

// Cooldown returns the device cooldown as a duration.
func (s Settings) Cooldown() time.Duration {
	return time.Duration(s.CooldownSeconds) * time.Second
}

// ExportInterval returns the export cadence as a duration.
func (s Settings) ExportInterval() time.Duration {
	return time.Duration(s.ExportIntervalMs) * time.Millisecond
}

// Denylist parses the comma-separated event filter into lowercase
// substrings. Entries are trimmed; empty entries are dropped. An empty
// filter means nothing is suppressed.
func (s Settings) Denylist() []string {
	if strings.TrimSpace(s.EventFilter) == "" {
		return nil
	}
	parts := strings.Split(s.EventFilter, ",")
	entries := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		entries = append(entries, p)
	}
	return entries
}
