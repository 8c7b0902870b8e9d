package syncer

import (
	"time"

	"github.com/sprintpulse/sprintsync/internal/metrics"
	"github.com/sprintpulse/sprintsync/internal/storage"
	"github.com/sprintpulse/sprintsync/internal/types"
)

// Options tunes the engine. Zero values fall back to DefaultOptions.
type Options struct {
	// Overlap is subtracted from the watermark so that issues updated while
	// the previous run was paging are fetched again.
	Overlap time.Duration
	// Concurrency bounds concurrent sprint fetches, one per board.
	Concurrency int
	// PageSize is the search page size (max 100).
	PageSize int
	// Location is the zone JQL timestamps are written in. Jira interprets
	// them in the API user's profile zone.
	Location *time.Location
	// SkipMetrics disables the metrics recompute at the end of a run.
	SkipMetrics bool
}

// DefaultOptions returns the defaults used by NewEngine.
func DefaultOptions() Options {
	return Options{
		Overlap:     5 * time.Minute,
		Concurrency: 4,
		PageSize:    100,
		Location:    time.UTC,
	}
}

// SyncOptions selects how a single Sync call runs.
type SyncOptions struct {
	// Full re-reads every issue and detects removed issues.
	Full bool
	// Since overrides the stored watermark for an incremental run.
	Since *time.Time
	// DryRun fetches and converts but writes nothing.
	DryRun bool
}

// ProcessStats counts what ProcessIssues did with a batch of issues.
type ProcessStats struct {
	Fetched       int                  `json:"fetched"`
	Skipped       int                  `json:"skipped"`
	Issues        storage.UpsertResult `json:"issues"`
	Developers    storage.UpsertResult `json:"developers"`
	Sprints       storage.UpsertResult `json:"sprints"`
	StatusChanges int                  `json:"status_changes"`
}

// Add accumulates another batch.
func (s *ProcessStats) Add(o ProcessStats) {
	s.Fetched += o.Fetched
	s.Skipped += o.Skipped
	s.Issues.Add(o.Issues)
	s.Developers.Add(o.Developers)
	s.Sprints.Add(o.Sprints)
	s.StatusChanges += o.StatusChanges
}

// Result is the outcome of one project sync.
type Result struct {
	ProjectKey    string           `json:"project_key"`
	RunID         int64            `json:"run_id,omitempty"`
	Mode          types.SyncMode   `json:"mode"`
	Since         *time.Time       `json:"since,omitempty"`
	DryRun        bool             `json:"dry_run,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	Duration      time.Duration    `json:"duration"`
	Boards        int              `json:"boards"`
	Sprints       int              `json:"sprints"`
	Stats         ProcessStats     `json:"stats"`
	IssuesRemoved int              `json:"issues_removed"`
	Metrics       *metrics.Summary `json:"metrics,omitempty"`
	Warnings      []string         `json:"warnings,omitempty"`
}

// ProjectResult pairs a project with its sync outcome in SyncAll.
type ProjectResult struct {
	ProjectKey string  `json:"project_key"`
	Result     *Result `json:"result,omitempty"`
	Err        error   `json:"-"`
	Error      string  `json:"error,omitempty"`
}
