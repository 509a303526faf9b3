package model

// Status represents the lifecycle state of a job. These values must match
// the text values stored in the job tables (status column).
type Status string

const (
	StatusStarting   Status = "starting"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"

	// StatusStale parks a job whose status could not be polled for several
	// consecutive ticks. It is not terminal; the recovery pass picks it up.
	StatusStale Status = "stale"
)

// IsTerminal reports whether no further transitions are expected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is part of the internal vocabulary.
func (s Status) Valid() bool {
	switch s {
	case StatusStarting, StatusQueued, StatusProcessing, StatusSucceeded,
		StatusFailed, StatusCancelled, StatusStale:
		return true
	}
	return false
}

// ReconcilableStatuses lists the statuses the recovery pass re-checks
// against the vendor.
func ReconcilableStatuses() []Status {
	return []Status{StatusStarting, StatusQueued, StatusProcessing, StatusStale}
}

// Predecessors returns the statuses from which a write of s may be applied.
// Terminal statuses have no successors, so they never appear here, and a
// later status never moves back to an earlier one.
func Predecessors(s Status) []Status {
	switch s {
	case StatusStarting:
		return []Status{StatusStale}
	case StatusQueued:
		return []Status{StatusStarting, StatusQueued, StatusStale}
	case StatusProcessing:
		return []Status{StatusStarting, StatusQueued, StatusProcessing, StatusStale}
	case StatusStale:
		return []Status{StatusStarting, StatusQueued, StatusProcessing}
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return []Status{StatusStarting, StatusQueued, StatusProcessing, StatusStale}
	}
	return nil
}

// CanTransition reports whether a job currently in from may be written as to.
func CanTransition(from, to Status) bool {
	for _, p := range Predecessors(to) {
		if p == from {
			return true
		}
	}
	return false
}

// Progress is a coarse estimate derived purely from status; vendors do not
// report a real percentage.
func Progress(s Status) int {
	switch s {
	case StatusStarting:
		return 25
	case StatusQueued:
		return 40
	case StatusProcessing, StatusStale:
		return 65
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return 100
	}
	return 0
}

// StatusStrings converts statuses for use as a text[] query argument.
func StatusStrings(statuses []Status) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
