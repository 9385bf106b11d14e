package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Loader handles loading configuration from multiple sources.
type Loader struct {
	settings    *Settings
	configPaths []string
	envPrefix   string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		settings:  DefaultSettings(),
		envPrefix: "INSIDER_",
		configPaths: []string{
			"/etc/insider/insider.yml",
			"/etc/insider/insider.yaml",
			"./insider.yml",
			"./insider.yaml",
		},
	}
}

// SetConfigPath prepends a custom config path to search.
func (l *Loader) SetConfigPath(path string) {
	l.configPaths = append([]string{path}, l.configPaths...)
}

// Load resolves configuration in order of precedence:
// defaults, then config file, then environment variables.
func (l *Loader) Load() (*Settings, error) {
	if err := l.loadFromFile(); err != nil {
		log.Debug().Err(err).Msg("No config file loaded, using defaults")
	}

	l.loadFromEnv()

	if err := l.settings.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return l.settings, nil
}

func (l *Loader) loadFromFile() error {
	var configPath string
	for _, path := range l.configPaths {
		if _, err := os.Stat(path); err == nil {
			configPath = path
			break
		}
	}
	if configPath == "" {
		return fmt.Errorf("no config file found")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, l.settings); err != nil {
		return fmt.Errorf("parse config file %s: %w", configPath, err)
	}

	log.Info().Str("path", configPath).Msg("Loaded configuration file")
	return nil
}

func (l *Loader) loadFromEnv() {
	s := l.settings

	if val := os.Getenv(l.envPrefix + "SERVER_HOST"); val != "" {
		s.Server.Host = val
	}
	if val := os.Getenv(l.envPrefix + "SERVER_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			s.Server.Port = port
		}
	}
	if val := os.Getenv(l.envPrefix + "DATA_DIR"); val != "" {
		s.Storage.DataDir = val
	}
	if val := os.Getenv(l.envPrefix + "INGEST_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil {
			s.Ingest.Workers = workers
		}
	}
	if val := os.Getenv(l.envPrefix + "INGEST_QUEUE_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			s.Ingest.QueueSize = size
		}
	}
	if val := os.Getenv(l.envPrefix + "COOLDOWN_MINUTES"); val != "" {
		if minutes, err := strconv.Atoi(val); err == nil {
			s.Notify.CooldownMinutes = minutes
		}
	}
	if val := os.Getenv(l.envPrefix + "BACKEND_TIMEOUT_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			s.Notify.BackendTimeoutSeconds = seconds
		}
	}
	if val := os.Getenv(l.envPrefix + "RETENTION_DAYS"); val != "" {
		if days, err := strconv.Atoi(val); err == nil {
			s.Retention.Days = days
		}
	}
	if val := os.Getenv(l.envPrefix + "DELETE_ORPHANED_INCIDENCES"); val != "" {
		s.Retention.DeleteOrphanedIncidences = isTruthy(val)
	}
	if val := os.Getenv(l.envPrefix + "REPORT_ENABLED"); val != "" {
		s.Report.Enabled = isTruthy(val)
	}
	if val := os.Getenv(l.envPrefix + "REPORT_RECIPIENTS"); val != "" {
		s.Report.Recipients = splitList(val)
	}
	if val := os.Getenv(l.envPrefix + "LOG_LEVEL"); val != "" {
		s.Logging.Level = val
	}
	if val := os.Getenv(l.envPrefix + "LOG_FORMAT"); val != "" {
		s.Logging.Format = val
	}
}

func isTruthy(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
