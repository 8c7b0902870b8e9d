// Package storage defines the sink that synchronized Jira data and derived
// metrics are written to.
//
// The production implementation lives in the postgres sub-package (Supabase
// Postgres); the memory sub-package backs tests and dry runs.
package storage

import (
	"context"
	"errors"

	"github.com/sprintpulse/sprintsync/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// UpsertResult counts what an idempotent upsert did. Rows whose content hash
// did not change are left untouched and counted as Unchanged.
type UpsertResult struct {
	Inserted  int
	Updated   int
	Unchanged int
}

// Changed is Inserted + Updated.
func (r UpsertResult) Changed() int {
	return r.Inserted + r.Updated
}

// Add accumulates another result.
func (r *UpsertResult) Add(o UpsertResult) {
	r.Inserted += o.Inserted
	r.Updated += o.Updated
	r.Unchanged += o.Unchanged
}

// NormalizeFunc maps a raw Jira status name (and category key, when known)
// to a normalized status.
type NormalizeFunc func(rawName, categoryKey string) types.Status

// Store is the interface satisfied by *postgres.Store and *memory.Store.
// Every write is idempotent on the entity's natural key.
type Store interface {
	// Projects
	UpsertProject(ctx context.Context, p *types.Project) error
	GetProject(ctx context.Context, key string) (*types.Project, error)
	ListProjects(ctx context.Context) ([]*types.Project, error)

	// Sprints, keyed by (project key, Jira sprint id)
	UpsertSprints(ctx context.Context, sprints []*types.Sprint) (UpsertResult, error)
	ListSprints(ctx context.Context, projectKey string) ([]*types.Sprint, error)

	// Developers, keyed by account id
	UpsertDevelopers(ctx context.Context, devs []*types.Developer) (UpsertResult, error)
	ListDevelopers(ctx context.Context) ([]*types.Developer, error)

	// Issues, keyed by issue key
	UpsertIssues(ctx context.Context, issues []*types.Issue) (UpsertResult, error)
	ListIssues(ctx context.Context, filter types.IssueFilter) ([]*types.Issue, error)
	IssueKeys(ctx context.Context, projectKey string) ([]string, error)
	MarkIssuesRemoved(ctx context.Context, projectKey string, keys []string) (int, error)

	// Status history, keyed by (issue key, change id); re-recording is a no-op
	RecordStatusChanges(ctx context.Context, changes []*types.StatusChange) (int, error)
	ListStatusChanges(ctx context.Context, projectKey string) ([]*types.StatusChange, error)
	UpdateNormalizedStatuses(ctx context.Context, projectKey string, fn NormalizeFunc) (issues, changes int, err error)

	// Sync runs
	StartSyncRun(ctx context.Context, run *types.SyncRun) error
	FinishSyncRun(ctx context.Context, run *types.SyncRun) error
	LastSuccessfulSync(ctx context.Context, projectKey string) (*types.SyncRun, error)
	ListSyncRuns(ctx context.Context, projectKey string, limit int) ([]*types.SyncRun, error)

	// Metrics; Replace* swap a project's rows atomically
	ReplaceSprintMetrics(ctx context.Context, projectKey string, rows []*types.SprintMetrics) error
	ReplaceDeveloperMetrics(ctx context.Context, projectKey string, rows []*types.DeveloperMetrics) error
	ReplaceDeliveryMetrics(ctx context.Context, projectKey string, rows []*types.DeliveryMetrics) error
	SprintMetrics(ctx context.Context, projectKey string) ([]*types.SprintMetrics, error)
	DeveloperMetrics(ctx context.Context, projectKey string, sprintID int64) ([]*types.DeveloperMetrics, error)
	DeliveryMetrics(ctx context.Context, projectKey string) ([]*types.DeliveryMetrics, error)

	// Lifecycle
	Close() error
}

// MetricSet is every metric row computed for one project.
type MetricSet struct {
	Sprints    []*types.SprintMetrics
	Developers []*types.DeveloperMetrics
	Delivery   []*types.DeliveryMetrics
}

// MetricsReplacer is implemented by stores that can swap all three metric
// tables for a project in a single transaction.
type MetricsReplacer interface {
	ReplaceMetrics(ctx context.Context, projectKey string, set *MetricSet) error
}
