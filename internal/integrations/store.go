package integrations

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/insiderhq/insider/internal/crypto"
)

// PersistedIntegration is one stored backend configuration row with its
// resolved (decrypted) config values.
type PersistedIntegration struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	LogoURL    string `json:"logoUrl,omitempty"`
	Active     bool   `json:"active"`
	Order      int    `json:"order"`
	Config     Config `json:"-"`
}

// KeyView is the API-facing shape of one config entry. PASSWORD values are
// masked; the raw value never leaves the process through this path.
type KeyView struct {
	Key      string    `json:"key"`
	Label    string    `json:"label"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	Value    string    `json:"value"`
	HelpText string    `json:"helpText,omitempty"`
}

const passwordMask = "********"

// ConfigStore persists backend configuration in SQLite. PASSWORD-typed
// values are encrypted at rest.
type ConfigStore struct {
	db      *sql.DB
	secrets *crypto.Manager
}

// NewConfigStore opens (or creates) the integrations database under dataDir.
func NewConfigStore(dataDir string, secrets *crypto.Manager) (*ConfigStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "integrations.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(5000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open integrations database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &ConfigStore{db: db, secrets: secrets}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("Integration config store initialized")
	return store, nil
}

func (s *ConfigStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS integrations (
			identifier TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			logo_url TEXT,
			active INTEGER NOT NULL DEFAULT 0,
			sort_order INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS integration_keys (
			integration TEXT NOT NULL REFERENCES integrations(identifier) ON DELETE CASCADE,
			key TEXT NOT NULL,
			label TEXT NOT NULL,
			field_type TEXT NOT NULL DEFAULT 'STRING',
			required INTEGER NOT NULL DEFAULT 0,
			value TEXT NOT NULL DEFAULT '',
			help_text TEXT,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (integration, key)
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *ConfigStore) Close() error {
	return s.db.Close()
}

// Sync reconciles the declared backend definitions into persisted rows.
// New identifiers and keys are inserted, declared metadata (labels, types,
// help text) is refreshed, and existing values, active flags and ordering
// are preserved. Rows for keys no longer declared are left alone so a
// rollback never loses operator data.
func (s *ConfigStore) Sync(definitions []Definition) error {
	now := time.Now().UTC()

	for _, def := range definitions {
		_, err := s.db.Exec(`
			INSERT INTO integrations (identifier, name, logo_url, active, sort_order, updated_at)
			VALUES (?, ?, ?, 0, 0, ?)
			ON CONFLICT(identifier) DO UPDATE SET
				name = excluded.name,
				logo_url = excluded.logo_url,
				updated_at = excluded.updated_at`,
			def.Identifier, def.Name, def.LogoURL, now,
		)
		if err != nil {
			return fmt.Errorf("sync integration %s: %w", def.Identifier, err)
		}

		for _, field := range def.Schema {
			_, err := s.db.Exec(`
				INSERT INTO integration_keys (integration, key, label, field_type, required, value, help_text, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(integration, key) DO UPDATE SET
					label = excluded.label,
					field_type = excluded.field_type,
					required = excluded.required,
					help_text = excluded.help_text,
					updated_at = excluded.updated_at`,
				def.Identifier, field.Key, field.Label, string(field.Type),
				field.Required, field.Default, field.HelpText, now,
			)
			if err != nil {
				return fmt.Errorf("sync key %s.%s: %w", def.Identifier, field.Key, err)
			}
		}

		log.Debug().Str("identifier", def.Identifier).Int("keys", len(def.Schema)).Msg("Synced integration definition")
	}
	return nil
}

// SetActive toggles one integration.
func (s *ConfigStore) SetActive(identifier string, active bool) error {
	result, err := s.db.Exec(
		`UPDATE integrations SET active = ?, updated_at = ? WHERE identifier = ?`,
		active, time.Now().UTC(), identifier,
	)
	if err != nil {
		return fmt.Errorf("set active %s: %w", identifier, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("unknown integration %q", identifier)
	}
	return nil
}

// SetOrder updates the fan-out position of one integration.
func (s *ConfigStore) SetOrder(identifier string, order int) error {
	result, err := s.db.Exec(
		`UPDATE integrations SET sort_order = ?, updated_at = ? WHERE identifier = ?`,
		order, time.Now().UTC(), identifier,
	)
	if err != nil {
		return fmt.Errorf("set order %s: %w", identifier, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("unknown integration %q", identifier)
	}
	return nil
}

// SetValue stores one config value. PASSWORD-typed entries are encrypted
// before they touch disk; writing the mask back to a PASSWORD entry is a
// no-op, so clients that round-trip the Keys view never clobber a secret.
func (s *ConfigStore) SetValue(identifier, key, value string) error {
	var fieldType string
	err := s.db.QueryRow(
		`SELECT field_type FROM integration_keys WHERE integration = ? AND key = ?`,
		identifier, key,
	).Scan(&fieldType)
	if err == sql.ErrNoRows {
		return fmt.Errorf("unknown config key %s.%s", identifier, key)
	}
	if err != nil {
		return fmt.Errorf("look up config key %s.%s: %w", identifier, key, err)
	}

	stored := value
	if FieldType(fieldType) == FieldPassword && value != "" {
		if value == passwordMask {
			return nil
		}
		stored, err = s.secrets.EncryptString(value)
		if err != nil {
			return fmt.Errorf("encrypt value for %s.%s: %w", identifier, key, err)
		}
	}

	_, err = s.db.Exec(
		`UPDATE integration_keys SET value = ?, updated_at = ? WHERE integration = ? AND key = ?`,
		stored, time.Now().UTC(), identifier, key,
	)
	if err != nil {
		return fmt.Errorf("store value for %s.%s: %w", identifier, key, err)
	}
	return nil
}

// Active returns the active integrations ordered by (sort_order,
// identifier), with fully resolved config values.
func (s *ConfigStore) Active() ([]PersistedIntegration, error) {
	return s.list(true)
}

// All returns every persisted integration regardless of active flag.
func (s *ConfigStore) All() ([]PersistedIntegration, error) {
	return s.list(false)
}

func (s *ConfigStore) list(activeOnly bool) ([]PersistedIntegration, error) {
	query := `SELECT identifier, name, COALESCE(logo_url, ''), active, sort_order FROM integrations`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY sort_order ASC, identifier ASC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	defer rows.Close()

	var out []PersistedIntegration
	for rows.Next() {
		var pi PersistedIntegration
		if err := rows.Scan(&pi.Identifier, &pi.Name, &pi.LogoURL, &pi.Active, &pi.Order); err != nil {
			return nil, err
		}
		out = append(out, pi)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		cfg, err := s.resolveConfig(out[i].Identifier)
		if err != nil {
			return nil, err
		}
		out[i].Config = cfg
	}
	return out, nil
}

func (s *ConfigStore) resolveConfig(identifier string) (Config, error) {
	rows, err := s.db.Query(
		`SELECT key, field_type, value FROM integration_keys WHERE integration = ?`,
		identifier,
	)
	if err != nil {
		return nil, fmt.Errorf("load config for %s: %w", identifier, err)
	}
	defer rows.Close()

	cfg := Config{}
	for rows.Next() {
		var key, fieldType, value string
		if err := rows.Scan(&key, &fieldType, &value); err != nil {
			return nil, err
		}
		if FieldType(fieldType) == FieldPassword && value != "" {
			decrypted, err := s.secrets.DecryptString(value)
			if err != nil {
				log.Warn().Str("integration", identifier).Str("key", key).Err(err).
					Msg("Failed to decrypt stored value, treating as unset")
				continue
			}
			value = decrypted
		}
		cfg[key] = value
	}
	return cfg, rows.Err()
}

// Keys returns the API-facing view of one integration's config entries,
// with PASSWORD values masked.
func (s *ConfigStore) Keys(identifier string) ([]KeyView, error) {
	rows, err := s.db.Query(`
		SELECT key, label, field_type, required, value, COALESCE(help_text, '')
		FROM integration_keys WHERE integration = ? ORDER BY key ASC`,
		identifier,
	)
	if err != nil {
		return nil, fmt.Errorf("list keys for %s: %w", identifier, err)
	}
	defer rows.Close()

	var out []KeyView
	for rows.Next() {
		var kv KeyView
		var fieldType string
		if err := rows.Scan(&kv.Key, &kv.Label, &fieldType, &kv.Required, &kv.Value, &kv.HelpText); err != nil {
			return nil, err
		}
		kv.Type = FieldType(fieldType)
		if kv.Type == FieldPassword && kv.Value != "" {
			kv.Value = passwordMask
		}
		out = append(out, kv)
	}
	return out, rows.Err()
}
