package chartsync

import "fmt"

// ApprovalStatus is the closed set of decision states for a detected diff.
type ApprovalStatus int

const (
	StatusPending ApprovalStatus = iota
	StatusApproved
	StatusRejected
)

func (s ApprovalStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusApproved:
		return "approved"
	case StatusRejected:
		return "rejected"
	default:
		return fmt.Sprintf("ApprovalStatus(%d)", int(s))
	}
}

// ParseApprovalStatus converts a persisted status string back to its typed
// value. Unknown strings are a data-integrity error.
func ParseApprovalStatus(s string) (ApprovalStatus, error) {
	switch s {
	case "pending":
		return StatusPending, nil
	case "approved":
		return StatusApproved, nil
	case "rejected":
		return StatusRejected, nil
	default:
		return StatusPending, fmt.Errorf("invalid approval status %q", s)
	}
}

// ConflictResolution is the closed set of states for a target-side edit.
// Absence of any conflict record means unresolved.
type ConflictResolution int

const (
	ConflictUnresolved ConflictResolution = iota
	ConflictResolved
)

func (r ConflictResolution) String() string {
	switch r {
	case ConflictUnresolved:
		return "unresolved"
	case ConflictResolved:
		return "resolved"
	default:
		return fmt.Sprintf("ConflictResolution(%d)", int(r))
	}
}

// ParseConflictResolution converts a persisted resolution string back to its
// typed value.
func ParseConflictResolution(s string) (ConflictResolution, error) {
	switch s {
	case "unresolved":
		return ConflictUnresolved, nil
	case "resolved":
		return ConflictResolved, nil
	default:
		return ConflictUnresolved, fmt.Errorf("invalid conflict resolution %q", s)
	}
}

// ChangeType classifies what kind of difference a diff carries.
type ChangeType string

const (
	ChangeTypeConfig   ChangeType = "config"
	ChangeTypeData     ChangeType = "data"
	ChangeTypeMetadata ChangeType = "metadata"
)
