// Package status defines the local issue status enum and its mapping to
// GitHub's open/closed(+reason) representation.
package status

import "fmt"

// Status is a local board status.
type Status string

const (
	PreWork    Status = "pre_work"
	Ready      Status = "ready"
	InProgress Status = "in_progress"
	Blocked    Status = "blocked"
	InReview   Status = "in_review"
	Done       Status = "done"
	Cancelled  Status = "cancelled"
)

// GitHub issue states and state reasons.
const (
	StateOpen   = "open"
	StateClosed = "closed"

	ReasonCompleted  = "completed"
	ReasonNotPlanned = "not_planned"
)

// All lists every valid status in board order.
var All = []Status{PreWork, Ready, InProgress, Blocked, InReview, Done, Cancelled}

// Valid reports whether s is a known status.
func Valid(s Status) bool {
	for _, v := range All {
		if s == v {
			return true
		}
	}
	return false
}

// Parse converts a stored string to a Status.
func Parse(s string) (Status, error) {
	if !Valid(Status(s)) {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return Status(s), nil
}

// Terminal reports whether s is a terminal column (done or cancelled).
func Terminal(s Status) bool {
	return s == Done || s == Cancelled
}

// ToGitHub maps a local status to a GitHub state and state reason.
// The reason is empty for open issues. The mapping is lossy: every
// non-terminal status collapses to "open", which is why inbound sync never
// derives a local status from an open remote issue that is already linked.
func ToGitHub(s Status) (state, reason string) {
	switch s {
	case Cancelled:
		return StateClosed, ReasonNotPlanned
	case Done:
		return StateClosed, ReasonCompleted
	default:
		return StateOpen, ""
	}
}

// FromGitHub maps a GitHub state and state reason to a local status for a
// freshly pulled issue. Linked issues only take this mapping when the remote
// state is closed; see the sync engine.
func FromGitHub(state, reason string) Status {
	if state == StateClosed {
		if reason == ReasonNotPlanned {
			return Cancelled
		}
		return Done
	}
	return Ready
}
