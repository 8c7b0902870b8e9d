package types

import "time"

// SyncRun records one execution of the sync pipeline for a project. The
// StartedAt of the latest succeeded run is the incremental watermark.
type SyncRun struct {
	ID              int64         `json:"id"`
	ProjectKey      string        `json:"project_key"`
	Mode            SyncMode      `json:"mode"`
	Status          SyncRunStatus `json:"status"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      *time.Time    `json:"finished_at,omitempty"`
	Since           *time.Time    `json:"since,omitempty"`
	IssuesFetched   int           `json:"issues_fetched"`
	IssuesUpserted  int           `json:"issues_upserted"`
	SprintsUpserted int           `json:"sprints_upserted"`
	StatusChanges   int           `json:"status_changes"`
	IssuesRemoved   int           `json:"issues_removed"`
	Error           string        `json:"error,omitempty"`
}

// Duration returns how long the run took, or zero while it is still running.
func (r *SyncRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// SprintMetrics is the per-sprint aggregate shown on the sprint dashboard.
type SprintMetrics struct {
	ProjectKey        string             `json:"project_key"`
	SprintID          int64              `json:"sprint_id"`
	SprintName        string             `json:"sprint_name"`
	SprintState       SprintState        `json:"sprint_state"`
	StartDate         *time.Time         `json:"start_date,omitempty"`
	EndDate           *time.Time         `json:"end_date,omitempty"`
	TotalIssues       int                `json:"total_issues"`
	CompletedIssues   int                `json:"completed_issues"`
	CommittedIssues   int                `json:"committed_issues"`
	AddedIssues       int                `json:"added_issues"`
	CommittedPoints   float64            `json:"committed_points"`
	AddedPoints       float64            `json:"added_points"`
	CompletedPoints   float64            `json:"completed_points"`
	RemainingPoints   float64            `json:"remaining_points"`
	CompletionRate    float64            `json:"completion_rate"`
	CarryOverIssues   int                `json:"carry_over_issues"`
	UnestimatedIssues int                `json:"unestimated_issues"`
	PointsByStatus    map[Status]float64 `json:"points_by_status"`
	IssuesByStatus    map[Status]int     `json:"issues_by_status"`
	CalculatedAt      time.Time          `json:"calculated_at"`
}

// TotalPoints is committed plus added scope.
func (m *SprintMetrics) TotalPoints() float64 {
	return m.CommittedPoints + m.AddedPoints
}

// DeveloperMetrics is the per (sprint, developer) aggregate. DeveloperID is
// empty for unassigned work.
type DeveloperMetrics struct {
	ProjectKey        string    `json:"project_key"`
	SprintID          int64     `json:"sprint_id"`
	DeveloperID       string    `json:"developer_id"`
	DeveloperName     string    `json:"developer_name"`
	AssignedIssues    int       `json:"assigned_issues"`
	CompletedIssues   int       `json:"completed_issues"`
	AssignedPoints    float64   `json:"assigned_points"`
	CompletedPoints   float64   `json:"completed_points"`
	AvgCycleTimeHours float64   `json:"avg_cycle_time_hours"`
	CalculatedAt      time.Time `json:"calculated_at"`
}

// DeliveryMetrics is the per ISO week flow aggregate for a project.
type DeliveryMetrics struct {
	ProjectKey           string         `json:"project_key"`
	WeekStart            time.Time      `json:"week_start"`
	Throughput           int            `json:"throughput"`
	PointsDelivered      float64        `json:"points_delivered"`
	AvgCycleTimeHours    float64        `json:"avg_cycle_time_hours"`
	MedianCycleTimeHours float64        `json:"median_cycle_time_hours"`
	P85CycleTimeHours    float64        `json:"p85_cycle_time_hours"`
	AvgLeadTimeHours     float64        `json:"avg_lead_time_hours"`
	MedianLeadTimeHours  float64        `json:"median_lead_time_hours"`
	P85LeadTimeHours     float64        `json:"p85_lead_time_hours"`
	BugRatio             float64        `json:"bug_ratio"`
	DoneByType           map[string]int `json:"done_by_type"`
	CalculatedAt         time.Time      `json:"calculated_at"`
}
