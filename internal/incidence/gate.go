package incidence

import "time"

// Decision is the outcome of evaluating the notification gate for one
// ingested footprint.
type Decision struct {
	Notify bool
	// Reopen is set when a recurrence arrived on a RESOLVED incidence; the
	// store transitions it back to OPEN before the fan-out fires.
	Reopen bool
	Reason string
}

// Evaluate runs the notify/suppress state machine for one matched footprint.
//
//   - first occurrence: always notify
//   - recurrence on RESOLVED: reopen and notify
//   - recurrence on OPEN or IGNORED: notify only once the cooldown elapsed
//
// IGNORED incidences deliberately stay eligible for cooldown-based
// re-notification; ignoring an incidence mutes it, it does not silence it
// forever.
func Evaluate(created bool, inc Incidence, now time.Time, cooldown time.Duration) Decision {
	if created {
		return Decision{Notify: true, Reason: "first occurrence"}
	}

	if inc.Status == StatusResolved {
		return Decision{Notify: true, Reopen: true, Reason: "regression on resolved incidence"}
	}

	if inc.LastNotified == nil {
		return Decision{Notify: true, Reason: "never notified"}
	}

	if now.Sub(*inc.LastNotified) > cooldown {
		return Decision{Notify: true, Reason: "cooldown elapsed"}
	}

	return Decision{Notify: false, Reason: "cooldown active"}
}
