package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/sprintpulse/sprintsync/internal/statusmap"
	"github.com/sprintpulse/sprintsync/internal/storage"
	"github.com/sprintpulse/sprintsync/internal/types"
)

const issueColumns = `key, jira_id, project_key, summary, description, issue_type, priority,
	raw_status, status_category, status, assignee_id, assignee_name, reporter_id,
	story_points, sprint_ids, current_sprint_id, epic_key, parent_key, labels,
	created_at, updated_at, resolved_at, removed, content_hash`

// The content hash covers every column a sync can change, so comparing it is
// enough to skip identical rows.
const upsertIssueSQL = `INSERT INTO issues (` + issueColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	ON CONFLICT (key) DO UPDATE SET
	  jira_id = EXCLUDED.jira_id,
	  project_key = EXCLUDED.project_key,
	  summary = EXCLUDED.summary,
	  description = EXCLUDED.description,
	  issue_type = EXCLUDED.issue_type,
	  priority = EXCLUDED.priority,
	  raw_status = EXCLUDED.raw_status,
	  status_category = EXCLUDED.status_category,
	  status = EXCLUDED.status,
	  assignee_id = EXCLUDED.assignee_id,
	  assignee_name = EXCLUDED.assignee_name,
	  reporter_id = EXCLUDED.reporter_id,
	  story_points = EXCLUDED.story_points,
	  sprint_ids = EXCLUDED.sprint_ids,
	  current_sprint_id = EXCLUDED.current_sprint_id,
	  epic_key = EXCLUDED.epic_key,
	  parent_key = EXCLUDED.parent_key,
	  labels = EXCLUDED.labels,
	  created_at = EXCLUDED.created_at,
	  updated_at = EXCLUDED.updated_at,
	  resolved_at = EXCLUDED.resolved_at,
	  removed = EXCLUDED.removed,
	  content_hash = EXCLUDED.content_hash,
	  synced_at = now()
	WHERE issues.content_hash IS DISTINCT FROM EXCLUDED.content_hash
	RETURNING (xmax = 0)`

func issueArgs(is *types.Issue, hash string) []any {
	sprints := is.SprintIDs
	if sprints == nil {
		sprints = []int64{}
	}
	labels := is.Labels
	if labels == nil {
		labels = []string{}
	}
	return []any{
		is.Key, is.JiraID, is.ProjectKey, is.Summary, is.Description, is.IssueType, is.Priority,
		is.RawStatus, is.StatusCategory, string(is.Status), is.AssigneeID, is.AssigneeName, is.ReporterID,
		is.StoryPoints, sprints, is.CurrentSprintID, is.EpicKey, is.ParentKey, labels,
		is.CreatedAt, is.UpdatedAt, is.ResolvedAt, is.Removed, hash,
	}
}

func scanIssue(row pgx.Row) (*types.Issue, error) {
	var is types.Issue
	var status string
	if err := row.Scan(
		&is.Key, &is.JiraID, &is.ProjectKey, &is.Summary, &is.Description, &is.IssueType, &is.Priority,
		&is.RawStatus, &is.StatusCategory, &status, &is.AssigneeID, &is.AssigneeName, &is.ReporterID,
		&is.StoryPoints, &is.SprintIDs, &is.CurrentSprintID, &is.EpicKey, &is.ParentKey, &is.Labels,
		&is.CreatedAt, &is.UpdatedAt, &is.ResolvedAt, &is.Removed, &is.ContentHash,
	); err != nil {
		return nil, err
	}
	is.Status = types.Status(status)
	is.CreatedAt = is.CreatedAt.UTC()
	is.UpdatedAt = is.UpdatedAt.UTC()
	is.ResolvedAt = utcPtr(is.ResolvedAt)
	if len(is.SprintIDs) == 0 {
		is.SprintIDs = nil
	}
	if len(is.Labels) == 0 {
		is.Labels = nil
	}
	return &is, nil
}

// UpsertIssues implements storage.Store. Issues whose content hash matches
// the stored row are not rewritten.
func (s *Store) UpsertIssues(ctx context.Context, issues []*types.Issue) (storage.UpsertResult, error) {
	batch := &pgx.Batch{}
	for _, is := range issues {
		batch.Queue(upsertIssueSQL, issueArgs(is, is.ComputeContentHash())...)
	}
	res, err := s.upsertBatch(ctx, batch)
	if err != nil {
		return res, fmt.Errorf("upsert issues: %w", err)
	}
	return res, nil
}

// ListIssues implements storage.Store.
func (s *Store) ListIssues(ctx context.Context, filter types.IssueFilter) ([]*types.Issue, error) {
	var where []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.ProjectKey != "" {
		add("project_key = $%d", filter.ProjectKey)
	}
	if !filter.IncludeRemoved {
		where = append(where, "NOT removed")
	}
	if filter.SprintID != nil {
		add("$%d = ANY(sprint_ids)", *filter.SprintID)
	}
	if filter.AssigneeID != "" {
		add("assignee_id = $%d", filter.AssigneeID)
	}
	if filter.Status != nil {
		add("status = $%d", string(*filter.Status))
	}
	if filter.UpdatedSince != nil {
		add("updated_at >= $%d", *filter.UpdatedSince)
	}

	query := `SELECT ` + issueColumns + ` FROM issues`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, key"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	var out []*types.Issue
	for rows.Next() {
		is, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		out = append(out, is)
	}
	return out, rows.Err()
}

// IssueKeys implements storage.Store.
func (s *Store) IssueKeys(ctx context.Context, projectKey string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key FROM issues WHERE project_key = $1 AND NOT removed ORDER BY key`, projectKey)
	if err != nil {
		return nil, fmt.Errorf("issue keys %s: %w", projectKey, err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("issue keys %s: %w", projectKey, err)
	}
	return keys, nil
}

// MarkIssuesRemoved implements storage.Store. Clearing the hash makes the
// next upsert of a returning issue count as an update.
func (s *Store) MarkIssuesRemoved(ctx context.Context, projectKey string, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE issues SET removed = true, content_hash = '', synced_at = now()
		 WHERE project_key = $1 AND key = ANY($2) AND NOT removed`, projectKey, keys)
	if err != nil {
		return 0, fmt.Errorf("mark removed %s: %w", projectKey, err)
	}
	return int(tag.RowsAffected()), nil
}

// --- Status changes ---

// RecordStatusChanges implements storage.Store.
func (s *Store) RecordStatusChanges(ctx context.Context, changes []*types.StatusChange) (int, error) {
	if len(changes) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, c := range changes {
		batch.Queue(`INSERT INTO status_changes
			(issue_key, change_id, project_key, from_status, to_status, from_normalized, to_normalized, author_id, changed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (issue_key, change_id) DO NOTHING`,
			c.IssueKey, c.ChangeID, c.ProjectKey, c.FromStatus, c.ToStatus,
			string(c.FromNormalized), string(c.ToNormalized), c.AuthorID, c.ChangedAt)
	}

	n := 0
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		defer br.Close()
		for i := 0; i < batch.Len(); i++ {
			tag, err := br.Exec()
			if err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			n += int(tag.RowsAffected())
		}
		return br.Close()
	})
	if err != nil {
		return 0, fmt.Errorf("record status changes: %w", err)
	}
	return n, nil
}

// ListStatusChanges implements storage.Store.
func (s *Store) ListStatusChanges(ctx context.Context, projectKey string) ([]*types.StatusChange, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT issue_key, project_key, change_id, from_status, to_status,
		        from_normalized, to_normalized, author_id, changed_at
		 FROM status_changes WHERE project_key = $1
		 ORDER BY changed_at, issue_key, change_id`, projectKey)
	if err != nil {
		return nil, fmt.Errorf("list status changes %s: %w", projectKey, err)
	}
	defer rows.Close()

	var out []*types.StatusChange
	for rows.Next() {
		var c types.StatusChange
		var from, to string
		if err := rows.Scan(&c.IssueKey, &c.ProjectKey, &c.ChangeID, &c.FromStatus, &c.ToStatus,
			&from, &to, &c.AuthorID, &c.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan status change: %w", err)
		}
		c.FromNormalized = types.Status(from)
		c.ToNormalized = types.Status(to)
		c.ChangedAt = c.ChangedAt.UTC()
		out = append(out, &c)
	}
	return out, rows.Err()
}

// UpdateNormalizedStatuses implements storage.Store. The mapping runs in Go,
// so rows are read and rewritten inside one transaction.
func (s *Store) UpdateNormalizedStatuses(ctx context.Context, projectKey string, fn storage.NormalizeFunc) (int, int, error) {
	issues, changes := 0, 0
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT `+issueColumns+` FROM issues WHERE project_key = $1 FOR UPDATE`, projectKey)
		if err != nil {
			return fmt.Errorf("load issues: %w", err)
		}
		var stale []*types.Issue
		cats := make(statusmap.Categories)
		for rows.Next() {
			is, err := scanIssue(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan issue: %w", err)
			}
			cats.Learn(is.RawStatus, is.StatusCategory)
			if st := fn(is.RawStatus, is.StatusCategory); st != is.Status {
				is.Status = st
				if !is.Removed {
					is.ContentHash = is.ComputeContentHash()
				}
				stale = append(stale, is)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		type changeRow struct {
			issueKey, changeID string
			from, to           types.Status
		}
		rows, err = tx.Query(ctx,
			`SELECT issue_key, change_id, from_status, to_status, from_normalized, to_normalized
			 FROM status_changes WHERE project_key = $1 FOR UPDATE`, projectKey)
		if err != nil {
			return fmt.Errorf("load status changes: %w", err)
		}
		var staleChanges []changeRow
		for rows.Next() {
			var key, id, fromRaw, toRaw, fromNorm, toNorm string
			if err := rows.Scan(&key, &id, &fromRaw, &toRaw, &fromNorm, &toNorm); err != nil {
				rows.Close()
				return fmt.Errorf("scan status change: %w", err)
			}
			from, to := fn(fromRaw, cats.Of(fromRaw)), fn(toRaw, cats.Of(toRaw))
			if string(from) != fromNorm || string(to) != toNorm {
				staleChanges = append(staleChanges, changeRow{key, id, from, to})
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, is := range stale {
			batch.Queue(`UPDATE issues SET status = $2, content_hash = $3, synced_at = now() WHERE key = $1`,
				is.Key, string(is.Status), is.ContentHash)
		}
		for _, c := range staleChanges {
			batch.Queue(`UPDATE status_changes SET from_normalized = $3, to_normalized = $4
				WHERE issue_key = $1 AND change_id = $2`,
				c.issueKey, c.changeID, string(c.from), string(c.to))
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("update statuses: %w", err)
			}
		}
		issues, changes = len(stale), len(staleChanges)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("normalize %s: %w", projectKey, err)
	}
	return issues, changes, nil
}
