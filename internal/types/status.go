package types

import "fmt"

// Status is the normalized workflow status. Jira workflows name their
// columns freely ("Em andamento", "Code Review", "Ready for QA"); metrics only
// ever see these values.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusInReview   Status = "in_review"
	StatusTesting    Status = "testing"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
	StatusUnknown    Status = "unknown"
)

// AllStatuses lists every normalized status in board order.
var AllStatuses = []Status{
	StatusTodo,
	StatusInProgress,
	StatusInReview,
	StatusTesting,
	StatusBlocked,
	StatusDone,
	StatusUnknown,
}

// IsValid checks if the status value is one of the normalized statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusInReview, StatusTesting, StatusBlocked, StatusDone, StatusUnknown:
		return true
	}
	return false
}

// IsDone reports whether work in this status counts as delivered.
func (s Status) IsDone() bool {
	return s == StatusDone
}

// IsActive reports whether work in this status has started but not finished.
// Cycle time begins at the first transition into an active status.
func (s Status) IsActive() bool {
	switch s {
	case StatusInProgress, StatusInReview, StatusTesting, StatusBlocked:
		return true
	}
	return false
}

// ParseStatus validates a normalized status name.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", fmt.Errorf("invalid status %q (valid: todo, in_progress, in_review, testing, blocked, done, unknown)", s)
	}
	return st, nil
}

// SyncMode distinguishes a full re-read of a project from a watermark based pull.
type SyncMode string

const (
	SyncFull        SyncMode = "full"
	SyncIncremental SyncMode = "incremental"
)

// SyncRunStatus is the lifecycle of a recorded sync run.
type SyncRunStatus string

const (
	SyncRunning   SyncRunStatus = "running"
	SyncSucceeded SyncRunStatus = "succeeded"
	SyncFailed    SyncRunStatus = "failed"
)
