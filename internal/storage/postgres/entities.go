package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sprintpulse/sprintsync/internal/storage"
	"github.com/sprintpulse/sprintsync/internal/types"
)

// --- Projects ---

func (s *Store) UpsertProject(ctx context.Context, p *types.Project) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO projects (key, name, jira_id, last_synced_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET
		   name = EXCLUDED.name,
		   jira_id = EXCLUDED.jira_id,
		   last_synced_at = COALESCE(EXCLUDED.last_synced_at, projects.last_synced_at),
		   updated_at = now()`,
		p.Key, p.Name, p.JiraID, p.LastSyncedAt)
	if err != nil {
		return fmt.Errorf("upsert project %s: %w", p.Key, err)
	}
	return nil
}

func (s *Store) GetProject(ctx context.Context, key string) (*types.Project, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT key, name, jira_id, last_synced_at FROM projects WHERE key = $1`, key)
	p, err := scanProject(row)
	if err != nil {
		return nil, wrapNotFound("get project "+key, err)
	}
	return p, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]*types.Project, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, name, jira_id, last_synced_at FROM projects ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []*types.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("list projects: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProject(row pgx.Row) (*types.Project, error) {
	var p types.Project
	if err := row.Scan(&p.Key, &p.Name, &p.JiraID, &p.LastSyncedAt); err != nil {
		return nil, err
	}
	p.LastSyncedAt = utcPtr(p.LastSyncedAt)
	return &p, nil
}

// --- Sprints ---

const upsertSprintSQL = `INSERT INTO sprints (id, board_id, project_key, name, state, goal, start_date, end_date, complete_date)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (project_key, id) DO UPDATE SET
	  board_id = EXCLUDED.board_id,
	  name = EXCLUDED.name,
	  state = EXCLUDED.state,
	  goal = EXCLUDED.goal,
	  start_date = EXCLUDED.start_date,
	  end_date = EXCLUDED.end_date,
	  complete_date = EXCLUDED.complete_date,
	  updated_at = now()
	WHERE (sprints.board_id, sprints.name, sprints.state, sprints.goal,
	       sprints.start_date, sprints.end_date, sprints.complete_date)
	  IS DISTINCT FROM
	      (EXCLUDED.board_id, EXCLUDED.name, EXCLUDED.state, EXCLUDED.goal,
	       EXCLUDED.start_date, EXCLUDED.end_date, EXCLUDED.complete_date)
	RETURNING (xmax = 0)`

func (s *Store) UpsertSprints(ctx context.Context, sprints []*types.Sprint) (storage.UpsertResult, error) {
	batch := &pgx.Batch{}
	for _, sp := range sprints {
		batch.Queue(upsertSprintSQL,
			sp.ID, sp.BoardID, sp.ProjectKey, sp.Name, string(sp.State), sp.Goal,
			sp.StartDate, sp.EndDate, sp.CompleteDate)
	}
	res, err := s.upsertBatch(ctx, batch)
	if err != nil {
		return res, fmt.Errorf("upsert sprints: %w", err)
	}
	return res, nil
}

func (s *Store) ListSprints(ctx context.Context, projectKey string) ([]*types.Sprint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, board_id, project_key, name, state, goal, start_date, end_date, complete_date
		 FROM sprints WHERE project_key = $1
		 ORDER BY start_date ASC NULLS LAST, id ASC`, projectKey)
	if err != nil {
		return nil, fmt.Errorf("list sprints %s: %w", projectKey, err)
	}
	defer rows.Close()

	var out []*types.Sprint
	for rows.Next() {
		var sp types.Sprint
		var state string
		if err := rows.Scan(&sp.ID, &sp.BoardID, &sp.ProjectKey, &sp.Name, &state, &sp.Goal,
			&sp.StartDate, &sp.EndDate, &sp.CompleteDate); err != nil {
			return nil, fmt.Errorf("scan sprint: %w", err)
		}
		sp.State = types.SprintState(state)
		sp.StartDate = utcPtr(sp.StartDate)
		sp.EndDate = utcPtr(sp.EndDate)
		sp.CompleteDate = utcPtr(sp.CompleteDate)
		out = append(out, &sp)
	}
	return out, rows.Err()
}

// --- Developers ---

const upsertDeveloperSQL = `INSERT INTO developers (account_id, display_name, email, active)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (account_id) DO UPDATE SET
	  display_name = EXCLUDED.display_name,
	  email = EXCLUDED.email,
	  active = EXCLUDED.active,
	  updated_at = now()
	WHERE (developers.display_name, developers.email, developers.active)
	  IS DISTINCT FROM (EXCLUDED.display_name, EXCLUDED.email, EXCLUDED.active)
	RETURNING (xmax = 0)`

func (s *Store) UpsertDevelopers(ctx context.Context, devs []*types.Developer) (storage.UpsertResult, error) {
	batch := &pgx.Batch{}
	for _, d := range devs {
		batch.Queue(upsertDeveloperSQL, d.AccountID, d.DisplayName, d.Email, d.Active)
	}
	res, err := s.upsertBatch(ctx, batch)
	if err != nil {
		return res, fmt.Errorf("upsert developers: %w", err)
	}
	return res, nil
}

func (s *Store) ListDevelopers(ctx context.Context) ([]*types.Developer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, display_name, email, active FROM developers ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("list developers: %w", err)
	}
	defer rows.Close()

	var out []*types.Developer
	for rows.Next() {
		var d types.Developer
		if err := rows.Scan(&d.AccountID, &d.DisplayName, &d.Email, &d.Active); err != nil {
			return nil, fmt.Errorf("scan developer: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// upsertBatch sends a batch of "INSERT ... ON CONFLICT DO UPDATE ... WHERE
// changed RETURNING (xmax = 0)" statements in one transaction. A row comes
// back true for an insert and false for an update; no row means the stored
// copy was already identical.
func (s *Store) upsertBatch(ctx context.Context, batch *pgx.Batch) (storage.UpsertResult, error) {
	var res storage.UpsertResult
	if batch.Len() == 0 {
		return res, nil
	}
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		defer br.Close()
		for i := 0; i < batch.Len(); i++ {
			var inserted bool
			err := br.QueryRow().Scan(&inserted)
			switch {
			case errors.Is(err, pgx.ErrNoRows):
				res.Unchanged++
			case err != nil:
				return fmt.Errorf("row %d: %w", i, err)
			case inserted:
				res.Inserted++
			default:
				res.Updated++
			}
		}
		return br.Close()
	})
	if err != nil {
		return storage.UpsertResult{}, err
	}
	return res, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
