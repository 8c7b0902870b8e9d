package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sprintpulse/sprintsync/internal/storage"
	"github.com/sprintpulse/sprintsync/internal/types"
)

const syncRunColumns = `id, project_key, mode, status, started_at, finished_at, since,
	issues_fetched, issues_upserted, sprints_upserted, status_changes, issues_removed, error`

// StartSyncRun implements storage.Store. It assigns run.ID and marks the run
// running.
func (s *Store) StartSyncRun(ctx context.Context, run *types.SyncRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	run.Status = types.SyncRunning
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sync_runs (project_key, mode, status, started_at, since)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		run.ProjectKey, string(run.Mode), string(run.Status), run.StartedAt, run.Since).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("start sync run %s: %w", run.ProjectKey, err)
	}
	return nil
}

// FinishSyncRun implements storage.Store.
func (s *Store) FinishSyncRun(ctx context.Context, run *types.SyncRun) error {
	finished := run.FinishedAt
	if finished == nil {
		now := time.Now().UTC()
		finished = &now
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET status = $2, finished_at = $3, issues_fetched = $4, issues_upserted = $5,
		   sprints_upserted = $6, status_changes = $7, issues_removed = $8, error = $9
		 WHERE id = $1`,
		run.ID, string(run.Status), finished, run.IssuesFetched, run.IssuesUpserted,
		run.SprintsUpserted, run.StatusChanges, run.IssuesRemoved, run.Error)
	if err != nil {
		return fmt.Errorf("finish sync run %d: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish sync run %d: %w", run.ID, storage.ErrNotFound)
	}
	run.FinishedAt = finished
	return nil
}

// LastSuccessfulSync implements storage.Store.
func (s *Store) LastSuccessfulSync(ctx context.Context, projectKey string) (*types.SyncRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+syncRunColumns+` FROM sync_runs
		 WHERE project_key = $1 AND status = 'succeeded'
		 ORDER BY started_at DESC, id DESC LIMIT 1`, projectKey)
	run, err := scanSyncRun(row)
	if err != nil {
		return nil, wrapNotFound("last successful sync "+projectKey, err)
	}
	return run, nil
}

// ListSyncRuns implements storage.Store. An empty projectKey lists every
// project; limit <= 0 means no limit.
func (s *Store) ListSyncRuns(ctx context.Context, projectKey string, limit int) ([]*types.SyncRun, error) {
	query := `SELECT ` + syncRunColumns + ` FROM sync_runs WHERE ($1 = '' OR project_key = $1)
		ORDER BY started_at DESC, id DESC`
	args := []any{projectKey}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	var out []*types.SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanSyncRun(row pgx.Row) (*types.SyncRun, error) {
	var r types.SyncRun
	var mode, status string
	if err := row.Scan(&r.ID, &r.ProjectKey, &mode, &status, &r.StartedAt, &r.FinishedAt, &r.Since,
		&r.IssuesFetched, &r.IssuesUpserted, &r.SprintsUpserted, &r.StatusChanges, &r.IssuesRemoved, &r.Error); err != nil {
		return nil, err
	}
	r.Mode = types.SyncMode(mode)
	r.Status = types.SyncRunStatus(status)
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = utcPtr(r.FinishedAt)
	r.Since = utcPtr(r.Since)
	return &r, nil
}
