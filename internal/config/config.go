// Package config loads and watches insider runtime configuration.
package config

import (
	"fmt"
	"time"
)

// ServerSettings configures the HTTP API listener.
type ServerSettings struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// StorageSettings configures the SQLite store.
type StorageSettings struct {
	DataDir string `yaml:"dataDir" json:"dataDir"`
}

// IngestSettings configures the ingestion queue.
type IngestSettings struct {
	// Workers selects the queue implementation: 0 runs ingestion inline on
	// the caller's goroutine, >0 runs a channel-backed worker pool.
	Workers   int `yaml:"workers" json:"workers"`
	QueueSize int `yaml:"queueSize" json:"queueSize"`
}

// NotifySettings tunes the notification gate and fan-out.
type NotifySettings struct {
	CooldownMinutes       int `yaml:"cooldownMinutes" json:"cooldownMinutes"`
	BackendTimeoutSeconds int `yaml:"backendTimeoutSeconds" json:"backendTimeoutSeconds"`
}

// Cooldown returns the minimum interval between repeat notifications.
func (n NotifySettings) Cooldown() time.Duration {
	return time.Duration(n.CooldownMinutes) * time.Minute
}

// BackendTimeout returns the per-backend run deadline.
func (n NotifySettings) BackendTimeout() time.Duration {
	return time.Duration(n.BackendTimeoutSeconds) * time.Second
}

// RetentionSettings configures the footprint retention sweep.
type RetentionSettings struct {
	Days int `yaml:"days" json:"days"`
	// DeleteOrphanedIncidences controls whether incidences left with zero
	// footprints after a sweep are removed as well.
	DeleteOrphanedIncidences bool `yaml:"deleteOrphanedIncidences" json:"deleteOrphanedIncidences"`
}

// ReportSettings configures the daily stability report.
type ReportSettings struct {
	Enabled    bool     `yaml:"enabled" json:"enabled"`
	Recipients []string `yaml:"recipients" json:"recipients"`
	Format     string   `yaml:"format" json:"format"` // "pdf" or "csv"
}

// LoggingSettings configures zerolog output.
type LoggingSettings struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Settings is the full runtime configuration.
type Settings struct {
	Server    ServerSettings    `yaml:"server" json:"server"`
	Storage   StorageSettings   `yaml:"storage" json:"storage"`
	Ingest    IngestSettings    `yaml:"ingest" json:"ingest"`
	Notify    NotifySettings    `yaml:"notify" json:"notify"`
	Retention RetentionSettings `yaml:"retention" json:"retention"`
	Report    ReportSettings    `yaml:"report" json:"report"`
	Logging   LoggingSettings   `yaml:"logging" json:"logging"`
}

// DefaultSettings returns the baseline configuration.
func DefaultSettings() *Settings {
	return &Settings{
		Server: ServerSettings{
			Host: "0.0.0.0",
			Port: 7690,
		},
		Storage: StorageSettings{
			DataDir: "/var/lib/insider",
		},
		Ingest: IngestSettings{
			Workers:   4,
			QueueSize: 1024,
		},
		Notify: NotifySettings{
			CooldownMinutes:       60,
			BackendTimeoutSeconds: 10,
		},
		Retention: RetentionSettings{
			Days: 30,
		},
		Report: ReportSettings{
			Format: "pdf",
		},
		Logging: LoggingSettings{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Validate checks the final configuration for impossible values.
func (s *Settings) Validate() error {
	if s.Server.Port < 1 || s.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", s.Server.Port)
	}
	if s.Storage.DataDir == "" {
		return fmt.Errorf("storage data directory is required")
	}
	if s.Ingest.Workers < 0 {
		return fmt.Errorf("ingest workers cannot be negative: %d", s.Ingest.Workers)
	}
	if s.Ingest.Workers > 0 && s.Ingest.QueueSize < 1 {
		return fmt.Errorf("ingest queue size must be positive when workers are enabled: %d", s.Ingest.QueueSize)
	}
	if s.Notify.CooldownMinutes < 0 {
		return fmt.Errorf("notify cooldown cannot be negative: %d", s.Notify.CooldownMinutes)
	}
	if s.Notify.BackendTimeoutSeconds < 1 {
		return fmt.Errorf("backend timeout must be at least 1s: %d", s.Notify.BackendTimeoutSeconds)
	}
	switch s.Report.Format {
	case "", "pdf", "csv":
	default:
		return fmt.Errorf("invalid report format: %q", s.Report.Format)
	}
	return nil
}
