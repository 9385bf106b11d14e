// Package incidence aggregates error footprints into deduplicated
// incidences and decides when recurrences warrant a notification.
package incidence

import "time"

// Status is the lifecycle state of an incidence.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusResolved Status = "RESOLVED"
	StatusIgnored  Status = "IGNORED"
)

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusResolved, StatusIgnored:
		return true
	}
	return false
}

// Incidence is the persistent aggregate for one error class.
type Incidence struct {
	ID              int64      `json:"id"`
	Fingerprint     string     `json:"fingerprint"`
	Title           string     `json:"title"`
	Status          Status     `json:"status"`
	OccurrenceCount int64      `json:"occurrenceCount"`
	FirstSeen       time.Time  `json:"firstSeen"`
	LastSeen        time.Time  `json:"lastSeen"`
	LastNotified    *time.Time `json:"lastNotified,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}
