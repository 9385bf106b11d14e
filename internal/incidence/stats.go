package incidence

import (
	"fmt"
	"time"
)

// Offender is one incidence ranked by footprint volume inside a window.
type Offender struct {
	Title string `json:"title"`
	Count int64  `json:"count"`
}

// Stats summarizes pipeline activity over a time window.
type Stats struct {
	WindowStart        time.Time  `json:"windowStart"`
	WindowEnd          time.Time  `json:"windowEnd"`
	NewIncidences      int64      `json:"newIncidences"`
	ResolvedIncidences int64      `json:"resolvedIncidences"`
	ServerErrors       int64      `json:"serverErrors"`
	TotalFootprints    int64      `json:"totalFootprints"`
	TopOffenders       []Offender `json:"topOffenders"`
}

// ReportStats gathers activity statistics for the window ending at end.
func (s *Store) ReportStats(window time.Duration, end time.Time) (Stats, error) {
	end = end.UTC()
	start := end.Add(-window)
	stats := Stats{WindowStart: start, WindowEnd: end}

	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM incidences WHERE created_at >= ? AND created_at < ?`,
		start, end,
	).Scan(&stats.NewIncidences); err != nil {
		return Stats{}, fmt.Errorf("count new incidences: %w", err)
	}

	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM incidences WHERE status = 'RESOLVED' AND updated_at >= ? AND updated_at < ?`,
		start, end,
	).Scan(&stats.ResolvedIncidences); err != nil {
		return Stats{}, fmt.Errorf("count resolved incidences: %w", err)
	}

	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM footprints WHERE created_at >= ? AND created_at < ?`,
		start, end,
	).Scan(&stats.TotalFootprints); err != nil {
		return Stats{}, fmt.Errorf("count footprints: %w", err)
	}

	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM footprints WHERE status_code >= 500 AND created_at >= ? AND created_at < ?`,
		start, end,
	).Scan(&stats.ServerErrors); err != nil {
		return Stats{}, fmt.Errorf("count server errors: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT i.title, COUNT(f.id) AS daily_count
		FROM footprints f
		JOIN incidences i ON f.incidence_id = i.id
		WHERE f.created_at >= ? AND f.created_at < ?
		GROUP BY i.id
		ORDER BY daily_count DESC, i.title ASC
		LIMIT 5`, start, end)
	if err != nil {
		return Stats{}, fmt.Errorf("rank top offenders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var offender Offender
		if err := rows.Scan(&offender.Title, &offender.Count); err != nil {
			return Stats{}, err
		}
		stats.TopOffenders = append(stats.TopOffenders, offender)
	}
	return stats, rows.Err()
}
