package incidence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/insiderhq/insider/internal/footprint"
)

// Store provides persistent storage for footprints and incidences.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the insider database under dataDir.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "insider.db")

	// Pragmas in the DSN so every pool connection is configured
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
		return nil, fmt.Errorf("failed to open insider database: %w", err)
	}

	// SQLite works best with a single writer connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("Incidence store initialized")
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS incidences (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			fingerprint TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'OPEN',
			occurrence_count INTEGER NOT NULL DEFAULT 1,
			first_seen TIMESTAMP NOT NULL,
			last_seen TIMESTAMP NOT NULL,
			last_notified TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_incidences_status ON incidences(status);
		CREATE INDEX IF NOT EXISTS idx_incidences_last_seen ON incidences(last_seen);

		CREATE TABLE IF NOT EXISTS footprints (
			id TEXT PRIMARY KEY,
			request_id TEXT,
			request_user TEXT NOT NULL DEFAULT 'anonymous',
			request_path TEXT NOT NULL,
			request_method TEXT NOT NULL,
			request_body TEXT,
			response_body TEXT,
			response_time REAL NOT NULL DEFAULT 0,
			status_code INTEGER NOT NULL DEFAULT 200,
			exception_name TEXT,
			stack_trace TEXT,
			system_logs TEXT,
			ip_address TEXT,
			user_agent TEXT,
			db_query_count INTEGER NOT NULL DEFAULT 0,
			incidence_id INTEGER REFERENCES incidences(id) ON DELETE SET NULL,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_footprints_created_at ON footprints(created_at);
		CREATE INDEX IF NOT EXISTS idx_footprints_incidence ON footprints(incidence_id);
		CREATE INDEX IF NOT EXISTS idx_footprints_status_code ON footprints(status_code);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// dbtx is the subset of *sql.DB and *sql.Tx the statement helpers run on.
type dbtx interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

// InsertFootprint persists one captured footprint row.
func (s *Store) InsertFootprint(fp *footprint.Footprint) error {
	return insertFootprint(s.db, fp)
}

func insertFootprint(q dbtx, fp *footprint.Footprint) error {
	stackTrace, err := marshalJSON(fp.StackTrace)
	if err != nil {
		return fmt.Errorf("encode stack trace: %w", err)
	}
	systemLogs, err := marshalJSON(fp.SystemLogs)
	if err != nil {
		return fmt.Errorf("encode system logs: %w", err)
	}

	_, err = q.Exec(`
		INSERT INTO footprints (
			id, request_id, request_user, request_path, request_method,
			request_body, response_body, response_time, status_code,
			exception_name, stack_trace, system_logs, ip_address, user_agent,
			db_query_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fp.ID, fp.RequestID, fp.RequestUser, fp.RequestPath, fp.RequestMethod,
		nullableText(fp.RequestBody), nullableText(fp.ResponseBody),
		fp.ResponseTime, fp.StatusCode,
		nullString(fp.ExceptionName), stackTrace, systemLogs,
		nullString(fp.IPAddress), nullString(fp.UserAgent),
		fp.DBQueryCount, fp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert footprint %s: %w", fp.ID, err)
	}
	return nil
}

// LinkFootprint attaches a persisted footprint to its incidence.
func (s *Store) LinkFootprint(footprintID string, incidenceID int64) error {
	return linkFootprint(s.db, footprintID, incidenceID)
}

func linkFootprint(q dbtx, footprintID string, incidenceID int64) error {
	_, err := q.Exec(`UPDATE footprints SET incidence_id = ? WHERE id = ?`, incidenceID, footprintID)
	if err != nil {
		return fmt.Errorf("link footprint %s to incidence %d: %w", footprintID, incidenceID, err)
	}
	return nil
}

// Upsert inserts a new incidence for the fingerprint or atomically bumps the
// occurrence count of the existing one. The increment happens inside the
// statement, not on a read copy, so concurrent callers never lose updates.
// The second return value reports whether the incidence was created.
func (s *Store) Upsert(fingerprint, title string, now time.Time) (Incidence, bool, error) {
	return upsertIncidence(s.db, fingerprint, title, now)
}

func upsertIncidence(q dbtx, fingerprint, title string, now time.Time) (Incidence, bool, error) {
	now = now.UTC()
	row := q.QueryRow(`
		INSERT INTO incidences (fingerprint, title, status, occurrence_count, first_seen, last_seen, last_notified, created_at, updated_at)
		VALUES (?, ?, 'OPEN', 1, ?, ?, NULL, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			occurrence_count = occurrence_count + 1,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at
		RETURNING id, fingerprint, title, status, occurrence_count, first_seen, last_seen, last_notified, created_at, updated_at`,
		fingerprint, title, now, now, now, now,
	)

	inc, err := scanIncidence(row)
	if err != nil {
		return Incidence{}, false, fmt.Errorf("upsert incidence %s: %w", fingerprint, err)
	}
	return inc, inc.OccurrenceCount == 1, nil
}

// MarkNotified records that a notification fired for the incidence, and
// reopens it when the recurrence arrived on a RESOLVED incidence. Done before
// the fan-out so near-simultaneous recurrences do not double-fire.
func (s *Store) MarkNotified(id int64, now time.Time, reopen bool) error {
	return markNotified(s.db, id, now, reopen)
}

func markNotified(q dbtx, id int64, now time.Time, reopen bool) error {
	now = now.UTC()
	var err error
	if reopen {
		_, err = q.Exec(`UPDATE incidences SET last_notified = ?, status = 'OPEN', updated_at = ? WHERE id = ?`, now, now, id)
	} else {
		_, err = q.Exec(`UPDATE incidences SET last_notified = ?, updated_at = ? WHERE id = ?`, now, now, id)
	}
	if err != nil {
		return fmt.Errorf("mark incidence %d notified: %w", id, err)
	}
	return nil
}

// RecordResult is the outcome of persisting one error footprint.
type RecordResult struct {
	Incidence Incidence
	Created   bool
	Decision  Decision
}

// RecordError persists an error footprint and folds it into its incidence
// inside a single transaction: insert the footprint, upsert the incidence,
// link the two and, when the gate fires, record the notification. A failure
// at any step rolls the whole sequence back, so a retried payload never
// leaves an orphan footprint or a half-applied status change.
func (s *Store) RecordError(fp *footprint.Footprint, fingerprint string, now time.Time, cooldown time.Duration) (RecordResult, error) {
	now = now.UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return RecordResult{}, fmt.Errorf("begin record: %w", err)
	}
	defer tx.Rollback()

	if err := insertFootprint(tx, fp); err != nil {
		return RecordResult{}, err
	}
	inc, created, err := upsertIncidence(tx, fingerprint, fp.Title(), now)
	if err != nil {
		return RecordResult{}, err
	}
	if err := linkFootprint(tx, fp.ID, inc.ID); err != nil {
		return RecordResult{}, err
	}

	decision := Evaluate(created, inc, now, cooldown)
	if decision.Notify {
		if err := markNotified(tx, inc.ID, now, decision.Reopen); err != nil {
			return RecordResult{}, err
		}
		inc.LastNotified = &now
		if decision.Reopen {
			inc.Status = StatusOpen
		}
	}

	if err := tx.Commit(); err != nil {
		return RecordResult{}, fmt.Errorf("commit record: %w", err)
	}
	return RecordResult{Incidence: inc, Created: created, Decision: decision}, nil
}

// BulkSetStatus transitions the given incidences to status. Idempotent: rows
// already in the target status are not counted again.
func (s *Store) BulkSetStatus(ids []int64, status Status) (int64, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("invalid status %q", status)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+3)
	args = append(args, string(status), time.Now().UTC())
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, string(status))

	result, err := s.db.Exec(
		`UPDATE incidences SET status = ?, updated_at = ? WHERE id IN (`+placeholders+`) AND status != ?`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("bulk set status: %w", err)
	}
	return result.RowsAffected()
}

// Get returns one incidence by id.
func (s *Store) Get(id int64) (Incidence, error) {
	row := s.db.QueryRow(`
		SELECT id, fingerprint, title, status, occurrence_count, first_seen, last_seen, last_notified, created_at, updated_at
		FROM incidences WHERE id = ?`, id)
	return scanIncidence(row)
}

// GetByFingerprint returns one incidence by fingerprint.
func (s *Store) GetByFingerprint(fingerprint string) (Incidence, error) {
	row := s.db.QueryRow(`
		SELECT id, fingerprint, title, status, occurrence_count, first_seen, last_seen, last_notified, created_at, updated_at
		FROM incidences WHERE fingerprint = ?`, fingerprint)
	return scanIncidence(row)
}

// List returns incidences ordered by most recently seen, optionally filtered
// by status. limit <= 0 means no limit.
func (s *Store) List(status Status, limit int) ([]Incidence, error) {
	query := `
		SELECT id, fingerprint, title, status, occurrence_count, first_seen, last_seen, last_notified, created_at, updated_at
		FROM incidences`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY last_seen DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidences: %w", err)
	}
	defer rows.Close()

	var out []Incidence
	for rows.Next() {
		inc, err := scanIncidence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// SweepFootprints deletes footprints older than retentionDays. A
// non-positive retention disables the sweep. When deleteOrphans is set,
// incidences left without any footprints are removed as well.
func (s *Store) SweepFootprints(retentionDays int, deleteOrphans bool, now time.Time) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	cutoff := now.UTC().AddDate(0, 0, -retentionDays)
	result, err := s.db.Exec(`DELETE FROM footprints WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep footprints: %w", err)
	}
	deleted, _ := result.RowsAffected()

	if deleteOrphans && deleted > 0 {
		orphanResult, err := s.db.Exec(`
			DELETE FROM incidences
			WHERE id NOT IN (SELECT DISTINCT incidence_id FROM footprints WHERE incidence_id IS NOT NULL)`)
		if err != nil {
			return deleted, fmt.Errorf("sweep orphaned incidences: %w", err)
		}
		if orphans, _ := orphanResult.RowsAffected(); orphans > 0 {
			log.Info().Int64("count", orphans).Msg("Removed orphaned incidences")
		}
	}

	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncidence(row rowScanner) (Incidence, error) {
	var inc Incidence
	var status string
	var lastNotified sql.NullTime

	err := row.Scan(
		&inc.ID, &inc.Fingerprint, &inc.Title, &status, &inc.OccurrenceCount,
		&inc.FirstSeen, &inc.LastSeen, &lastNotified, &inc.CreatedAt, &inc.UpdatedAt,
	)
	if err != nil {
		return Incidence{}, err
	}

	inc.Status = Status(status)
	if lastNotified.Valid {
		t := lastNotified.Time
		inc.LastNotified = &t
	}
	return inc, nil
}

func marshalJSON(v any) (any, error) {
	switch val := v.(type) {
	case []footprint.Frame:
		if len(val) == 0 {
			return nil, nil
		}
	case []string:
		if len(val) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullableText(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
