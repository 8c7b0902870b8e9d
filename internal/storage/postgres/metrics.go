package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sprintpulse/sprintsync/internal/storage"
	"github.com/sprintpulse/sprintsync/internal/types"
)

// replaceRows deletes a project's rows from table and bulk loads the new set
// with COPY inside tx.
func replaceRows(ctx context.Context, tx pgx.Tx, table, projectKey string, columns []string, rows [][]any) error {
	// #nosec G202 -- table is one of the metric tables, never user input
	if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE project_key = $1`, projectKey); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy %s: %w", table, err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("copy %s: wrote %d of %d rows", table, n, len(rows))
	}
	return nil
}

// ReplaceMetrics implements storage.MetricsReplacer: all three tables are
// swapped in one transaction.
func (s *Store) ReplaceMetrics(ctx context.Context, projectKey string, set *storage.MetricSet) error {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if err := replaceRows(ctx, tx, "sprint_metrics", projectKey, sprintMetricColumns, sprintMetricRows(projectKey, set.Sprints)); err != nil {
			return err
		}
		if err := replaceRows(ctx, tx, "developer_metrics", projectKey, developerMetricColumns, developerMetricRows(projectKey, set.Developers)); err != nil {
			return err
		}
		return replaceRows(ctx, tx, "delivery_metrics", projectKey, deliveryMetricColumns, deliveryMetricRows(projectKey, set.Delivery))
	})
	if err != nil {
		return fmt.Errorf("replace metrics %s: %w", projectKey, err)
	}
	return nil
}

var sprintMetricColumns = []string{
	"project_key", "sprint_id", "sprint_name", "sprint_state", "start_date", "end_date",
	"total_issues", "completed_issues", "committed_issues", "added_issues",
	"committed_points", "added_points", "completed_points",
	"remaining_points", "completion_rate", "carry_over_issues", "unestimated_issues",
	"points_by_status", "issues_by_status", "calculated_at",
}

func sprintMetricRows(projectKey string, metrics []*types.SprintMetrics) [][]any {
	rows := make([][]any, 0, len(metrics))
	for _, m := range metrics {
		byPoints := m.PointsByStatus
		if byPoints == nil {
			byPoints = map[types.Status]float64{}
		}
		byIssues := m.IssuesByStatus
		if byIssues == nil {
			byIssues = map[types.Status]int{}
		}
		rows = append(rows, []any{
			projectKey, m.SprintID, m.SprintName, string(m.SprintState), m.StartDate, m.EndDate,
			m.TotalIssues, m.CompletedIssues, m.CommittedIssues, m.AddedIssues,
			m.CommittedPoints, m.AddedPoints, m.CompletedPoints,
			m.RemainingPoints, m.CompletionRate, m.CarryOverIssues, m.UnestimatedIssues,
			byPoints, byIssues, m.CalculatedAt,
		})
	}
	return rows
}

// ReplaceSprintMetrics implements storage.Store.
func (s *Store) ReplaceSprintMetrics(ctx context.Context, projectKey string, metrics []*types.SprintMetrics) error {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		return replaceRows(ctx, tx, "sprint_metrics", projectKey, sprintMetricColumns, sprintMetricRows(projectKey, metrics))
	})
	if err != nil {
		return fmt.Errorf("replace sprint metrics %s: %w", projectKey, err)
	}
	return nil
}

// SprintMetrics implements storage.Store.
func (s *Store) SprintMetrics(ctx context.Context, projectKey string) ([]*types.SprintMetrics, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT sprint_id, sprint_name, sprint_state, start_date, end_date, total_issues, completed_issues,
		        committed_issues, added_issues, committed_points, added_points, completed_points, remaining_points, completion_rate,
		        carry_over_issues, unestimated_issues, points_by_status, issues_by_status, calculated_at
		 FROM sprint_metrics WHERE project_key = $1
		 ORDER BY start_date ASC NULLS LAST, sprint_id ASC`, projectKey)
	if err != nil {
		return nil, fmt.Errorf("sprint metrics %s: %w", projectKey, err)
	}
	defer rows.Close()

	out := []*types.SprintMetrics{}
	for rows.Next() {
		m := types.SprintMetrics{ProjectKey: projectKey}
		var state string
		if err := rows.Scan(&m.SprintID, &m.SprintName, &state, &m.StartDate, &m.EndDate,
			&m.TotalIssues, &m.CompletedIssues, &m.CommittedIssues, &m.AddedIssues, &m.CommittedPoints, &m.AddedPoints, &m.CompletedPoints,
			&m.RemainingPoints, &m.CompletionRate, &m.CarryOverIssues, &m.UnestimatedIssues,
			&m.PointsByStatus, &m.IssuesByStatus, &m.CalculatedAt); err != nil {
			return nil, fmt.Errorf("scan sprint metrics: %w", err)
		}
		m.SprintState = types.SprintState(state)
		m.StartDate = utcPtr(m.StartDate)
		m.EndDate = utcPtr(m.EndDate)
		m.CalculatedAt = m.CalculatedAt.UTC()
		out = append(out, &m)
	}
	return out, rows.Err()
}

var developerMetricColumns = []string{
	"project_key", "sprint_id", "developer_id", "developer_name", "assigned_issues",
	"completed_issues", "assigned_points", "completed_points", "avg_cycle_time_hours", "calculated_at",
}

func developerMetricRows(projectKey string, metrics []*types.DeveloperMetrics) [][]any {
	rows := make([][]any, 0, len(metrics))
	for _, m := range metrics {
		rows = append(rows, []any{
			projectKey, m.SprintID, m.DeveloperID, m.DeveloperName, m.AssignedIssues,
			m.CompletedIssues, m.AssignedPoints, m.CompletedPoints, m.AvgCycleTimeHours, m.CalculatedAt,
		})
	}
	return rows
}

// ReplaceDeveloperMetrics implements storage.Store.
func (s *Store) ReplaceDeveloperMetrics(ctx context.Context, projectKey string, metrics []*types.DeveloperMetrics) error {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		return replaceRows(ctx, tx, "developer_metrics", projectKey, developerMetricColumns, developerMetricRows(projectKey, metrics))
	})
	if err != nil {
		return fmt.Errorf("replace developer metrics %s: %w", projectKey, err)
	}
	return nil
}

// DeveloperMetrics implements storage.Store. sprintID 0 returns every sprint.
func (s *Store) DeveloperMetrics(ctx context.Context, projectKey string, sprintID int64) ([]*types.DeveloperMetrics, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT sprint_id, developer_id, developer_name, assigned_issues, completed_issues,
		        assigned_points, completed_points, avg_cycle_time_hours, calculated_at
		 FROM developer_metrics
		 WHERE project_key = $1 AND ($2::bigint = 0 OR sprint_id = $2::bigint)
		 ORDER BY sprint_id, developer_name, developer_id`, projectKey, sprintID)
	if err != nil {
		return nil, fmt.Errorf("developer metrics %s: %w", projectKey, err)
	}
	defer rows.Close()

	var out []*types.DeveloperMetrics
	for rows.Next() {
		m := types.DeveloperMetrics{ProjectKey: projectKey}
		if err := rows.Scan(&m.SprintID, &m.DeveloperID, &m.DeveloperName, &m.AssignedIssues, &m.CompletedIssues,
			&m.AssignedPoints, &m.CompletedPoints, &m.AvgCycleTimeHours, &m.CalculatedAt); err != nil {
			return nil, fmt.Errorf("scan developer metrics: %w", err)
		}
		m.CalculatedAt = m.CalculatedAt.UTC()
		out = append(out, &m)
	}
	return out, rows.Err()
}

var deliveryMetricColumns = []string{
	"project_key", "week_start", "throughput", "points_delivered", "avg_cycle_time_hours",
	"median_cycle_time_hours", "p85_cycle_time_hours", "avg_lead_time_hours",
	"median_lead_time_hours", "p85_lead_time_hours", "bug_ratio", "done_by_type", "calculated_at",
}

func deliveryMetricRows(projectKey string, metrics []*types.DeliveryMetrics) [][]any {
	rows := make([][]any, 0, len(metrics))
	for _, m := range metrics {
		byType := m.DoneByType
		if byType == nil {
			byType = map[string]int{}
		}
		rows = append(rows, []any{
			projectKey, m.WeekStart, m.Throughput, m.PointsDelivered, m.AvgCycleTimeHours,
			m.MedianCycleTimeHours, m.P85CycleTimeHours, m.AvgLeadTimeHours,
			m.MedianLeadTimeHours, m.P85LeadTimeHours, m.BugRatio, byType, m.CalculatedAt,
		})
	}
	return rows
}

// ReplaceDeliveryMetrics implements storage.Store.
func (s *Store) ReplaceDeliveryMetrics(ctx context.Context, projectKey string, metrics []*types.DeliveryMetrics) error {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		return replaceRows(ctx, tx, "delivery_metrics", projectKey, deliveryMetricColumns, deliveryMetricRows(projectKey, metrics))
	})
	if err != nil {
		return fmt.Errorf("replace delivery metrics %s: %w", projectKey, err)
	}
	return nil
}

// DeliveryMetrics implements storage.Store.
func (s *Store) DeliveryMetrics(ctx context.Context, projectKey string) ([]*types.DeliveryMetrics, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT week_start, throughput, points_delivered, avg_cycle_time_hours, median_cycle_time_hours,
		        p85_cycle_time_hours, avg_lead_time_hours, median_lead_time_hours, p85_lead_time_hours,
		        bug_ratio, done_by_type, calculated_at
		 FROM delivery_metrics WHERE project_key = $1 ORDER BY week_start`, projectKey)
	if err != nil {
		return nil, fmt.Errorf("delivery metrics %s: %w", projectKey, err)
	}
	defer rows.Close()

	out := []*types.DeliveryMetrics{}
	for rows.Next() {
		m := types.DeliveryMetrics{ProjectKey: projectKey}
		if err := rows.Scan(&m.WeekStart, &m.Throughput, &m.PointsDelivered, &m.AvgCycleTimeHours,
			&m.MedianCycleTimeHours, &m.P85CycleTimeHours, &m.AvgLeadTimeHours,
			&m.MedianLeadTimeHours, &m.P85LeadTimeHours, &m.BugRatio,
			&m.DoneByType, &m.CalculatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery metrics: %w", err)
		}
		m.CalculatedAt = m.CalculatedAt.UTC()
		out = append(out, &m)
	}
	return out, rows.Err()
}
