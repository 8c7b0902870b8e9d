// Package memory implements storage.Store in process memory. It backs the
// engine tests and --dry-run, and mirrors the postgres store's semantics.
package memory

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/sprintpulse/sprintsync/internal/statusmap"
	"github.com/sprintpulse/sprintsync/internal/storage"
	"github.com/sprintpulse/sprintsync/internal/types"
)

type changeKey struct {
	issue, change string
}

type sprintKey struct {
	project string
	id      int64
}

// Store is a mutex-guarded in-memory storage.Store.
type Store struct {
	mu sync.RWMutex

	projects   map[string]*types.Project
	sprints    map[sprintKey]*types.Sprint
	developers map[string]*types.Developer
	issues     map[string]*types.Issue
	changes    map[changeKey]*types.StatusChange
	runs       []*types.SyncRun
	nextRunID  int64

	sprintMetrics    map[string][]*types.SprintMetrics
	developerMetrics map[string][]*types.DeveloperMetrics
	deliveryMetrics  map[string][]*types.DeliveryMetrics

	closed bool
}

var _ storage.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		projects:         make(map[string]*types.Project),
		sprints:          make(map[sprintKey]*types.Sprint),
		developers:       make(map[string]*types.Developer),
		issues:           make(map[string]*types.Issue),
		changes:          make(map[changeKey]*types.StatusChange),
		nextRunID:        1,
		sprintMetrics:    make(map[string][]*types.SprintMetrics),
		developerMetrics: make(map[string][]*types.DeveloperMetrics),
		deliveryMetrics:  make(map[string][]*types.DeliveryMetrics),
	}
}

func (s *Store) check(ctx context.Context) error {
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	return ctx.Err()
}

// UpsertProject implements storage.Store.
func (s *Store) UpsertProject(ctx context.Context, p *types.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	cp := *p
	if existing, ok := s.projects[p.Key]; ok && cp.LastSyncedAt == nil {
		cp.LastSyncedAt = existing.LastSyncedAt
	}
	s.projects[p.Key] = &cp
	return nil
}

// GetProject implements storage.Store.
func (s *Store) GetProject(ctx context.Context, key string) (*types.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	p, ok := s.projects[key]
	if !ok {
		return nil, fmt.Errorf("get project %s: %w", key, storage.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// ListProjects implements storage.Store.
func (s *Store) ListProjects(ctx context.Context) ([]*types.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := make([]*types.Project, 0, len(s.projects))
	for _, p := range s.projects {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// UpsertSprints implements storage.Store.
func (s *Store) UpsertSprints(ctx context.Context, sprints []*types.Sprint) (storage.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res storage.UpsertResult
	if err := s.check(ctx); err != nil {
		return res, err
	}
	for _, sp := range sprints {
		cp := *sp
		key := sprintKey{sp.ProjectKey, sp.ID}
		existing, ok := s.sprints[key]
		switch {
		case !ok:
			res.Inserted++
		case reflect.DeepEqual(*existing, cp):
			res.Unchanged++
			continue
		default:
			res.Updated++
		}
		s.sprints[key] = &cp
	}
	return res, nil
}

// ListSprints implements storage.Store. Sprints are ordered by start date,
// unstarted sprints last.
func (s *Store) ListSprints(ctx context.Context, projectKey string) ([]*types.Sprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out []*types.Sprint
	for _, sp := range s.sprints {
		if sp.ProjectKey == projectKey {
			cp := *sp
			out = append(out, &cp)
		}
	}
	sortSprints(out)
	return out, nil
}

// UpsertDevelopers implements storage.Store.
func (s *Store) UpsertDevelopers(ctx context.Context, devs []*types.Developer) (storage.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res storage.UpsertResult
	if err := s.check(ctx); err != nil {
		return res, err
	}
	for _, d := range devs {
		cp := *d
		existing, ok := s.developers[d.AccountID]
		switch {
		case !ok:
			res.Inserted++
		case *existing == cp:
			res.Unchanged++
			continue
		default:
			res.Updated++
		}
		s.developers[d.AccountID] = &cp
	}
	return res, nil
}

// ListDevelopers implements storage.Store.
func (s *Store) ListDevelopers(ctx context.Context) ([]*types.Developer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := make([]*types.Developer, 0, len(s.developers))
	for _, d := range s.developers {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

// UpsertIssues implements storage.Store. Issues whose content hash matches
// the stored row are not rewritten.
func (s *Store) UpsertIssues(ctx context.Context, issues []*types.Issue) (storage.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res storage.UpsertResult
	if err := s.check(ctx); err != nil {
		return res, err
	}
	for _, is := range issues {
		cp := cloneIssue(is)
		cp.ContentHash = cp.ComputeContentHash()
		existing, ok := s.issues[is.Key]
		switch {
		case !ok:
			res.Inserted++
		case existing.ContentHash == cp.ContentHash:
			res.Unchanged++
			continue
		default:
			res.Updated++
		}
		s.issues[is.Key] = cp
	}
	return res, nil
}

// ListIssues implements storage.Store.
func (s *Store) ListIssues(ctx context.Context, filter types.IssueFilter) ([]*types.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out []*types.Issue
	for _, is := range s.issues {
		if filter.Matches(is) {
			out = append(out, cloneIssue(is))
		}
	}
	sortIssues(out)
	return out, nil
}

// IssueKeys implements storage.Store.
func (s *Store) IssueKeys(ctx context.Context, projectKey string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var keys []string
	for k, is := range s.issues {
		if is.ProjectKey == projectKey && !is.Removed {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// MarkIssuesRemoved implements storage.Store.
func (s *Store) MarkIssuesRemoved(ctx context.Context, projectKey string, keys []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	n := 0
	for _, k := range keys {
		is, ok := s.issues[k]
		if !ok || is.ProjectKey != projectKey || is.Removed {
			continue
		}
		is.Removed = true
		is.ContentHash = ""
		n++
	}
	return n, nil
}

// RecordStatusChanges implements storage.Store.
func (s *Store) RecordStatusChanges(ctx context.Context, changes []*types.StatusChange) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	n := 0
	for _, c := range changes {
		k := changeKey{c.IssueKey, c.ChangeID}
		if _, ok := s.changes[k]; ok {
			continue
		}
		cp := *c
		s.changes[k] = &cp
		n++
	}
	return n, nil
}

// ListStatusChanges implements storage.Store.
func (s *Store) ListStatusChanges(ctx context.Context, projectKey string) ([]*types.StatusChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out []*types.StatusChange
	for _, c := range s.changes {
		if c.ProjectKey == projectKey {
			cp := *c
			out = append(out, &cp)
		}
	}
	sortStatusChanges(out)
	return out, nil
}

// UpdateNormalizedStatuses implements storage.Store.
func (s *Store) UpdateNormalizedStatuses(ctx context.Context, projectKey string, fn storage.NormalizeFunc) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return 0, 0, err
	}
	issues, changes := 0, 0
	cats := make(statusmap.Categories)
	for _, is := range s.issues {
		if is.ProjectKey != projectKey {
			continue
		}
		cats.Learn(is.RawStatus, is.StatusCategory)
		if st := fn(is.RawStatus, is.StatusCategory); st != is.Status {
			is.Status = st
			if !is.Removed {
				is.ContentHash = is.ComputeContentHash()
			}
			issues++
		}
	}
	for _, c := range s.changes {
		if c.ProjectKey != projectKey {
			continue
		}
		from, to := fn(c.FromStatus, cats.Of(c.FromStatus)), fn(c.ToStatus, cats.Of(c.ToStatus))
		if from != c.FromNormalized || to != c.ToNormalized {
			c.FromNormalized, c.ToNormalized = from, to
			changes++
		}
	}
	return issues, changes, nil
}

// StartSyncRun implements storage.Store.
func (s *Store) StartSyncRun(ctx context.Context, run *types.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	run.ID = s.nextRunID
	run.Status = types.SyncRunning
	s.nextRunID++
	cp := *run
	s.runs = append(s.runs, &cp)
	return nil
}

// FinishSyncRun implements storage.Store.
func (s *Store) FinishSyncRun(ctx context.Context, run *types.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	for i, r := range s.runs {
		if r.ID == run.ID {
			if run.FinishedAt == nil {
				now := time.Now().UTC()
				run.FinishedAt = &now
			}
			cp := *run
			s.runs[i] = &cp
			return nil
		}
	}
	return fmt.Errorf("finish sync run %d: %w", run.ID, storage.ErrNotFound)
}

// LastSuccessfulSync implements storage.Store.
func (s *Store) LastSuccessfulSync(ctx context.Context, projectKey string) (*types.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var last *types.SyncRun
	for _, r := range s.runs {
		if r.ProjectKey != projectKey || r.Status != types.SyncSucceeded {
			continue
		}
		if last == nil || r.StartedAt.After(last.StartedAt) {
			last = r
		}
	}
	if last == nil {
		return nil, fmt.Errorf("last successful sync for %s: %w", projectKey, storage.ErrNotFound)
	}
	cp := *last
	return &cp, nil
}

// ListSyncRuns implements storage.Store. Newest first; an empty projectKey
// lists every project.
func (s *Store) ListSyncRuns(ctx context.Context, projectKey string, limit int) ([]*types.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out []*types.SyncRun
	for i := len(s.runs) - 1; i >= 0; i-- {
		r := s.runs[i]
		if projectKey != "" && r.ProjectKey != projectKey {
			continue
		}
		cp := *r
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ReplaceSprintMetrics implements storage.Store.
func (s *Store) ReplaceSprintMetrics(ctx context.Context, projectKey string, rows []*types.SprintMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.sprintMetrics[projectKey] = copySprintMetrics(rows)
	return nil
}

// ReplaceDeveloperMetrics implements storage.Store.
func (s *Store) ReplaceDeveloperMetrics(ctx context.Context, projectKey string, rows []*types.DeveloperMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.developerMetrics[projectKey] = copyDeveloperMetrics(rows)
	return nil
}

// ReplaceDeliveryMetrics implements storage.Store.
func (s *Store) ReplaceDeliveryMetrics(ctx context.Context, projectKey string, rows []*types.DeliveryMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.deliveryMetrics[projectKey] = copyDeliveryMetrics(rows)
	return nil
}

// ReplaceMetrics implements storage.MetricsReplacer.
func (s *Store) ReplaceMetrics(ctx context.Context, projectKey string, set *storage.MetricSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.sprintMetrics[projectKey] = copySprintMetrics(set.Sprints)
	s.developerMetrics[projectKey] = copyDeveloperMetrics(set.Developers)
	s.deliveryMetrics[projectKey] = copyDeliveryMetrics(set.Delivery)
	return nil
}

func copySprintMetrics(rows []*types.SprintMetrics) []*types.SprintMetrics {
	cp := make([]*types.SprintMetrics, len(rows))
	for i, r := range rows {
		c := *r
		c.PointsByStatus = cloneMap(r.PointsByStatus)
		c.IssuesByStatus = cloneMap(r.IssuesByStatus)
		cp[i] = &c
	}
	return cp
}

func copyDeveloperMetrics(rows []*types.DeveloperMetrics) []*types.DeveloperMetrics {
	cp := make([]*types.DeveloperMetrics, len(rows))
	for i, r := range rows {
		c := *r
		cp[i] = &c
	}
	return cp
}

func copyDeliveryMetrics(rows []*types.DeliveryMetrics) []*types.DeliveryMetrics {
	cp := make([]*types.DeliveryMetrics, len(rows))
	for i, r := range rows {
		c := *r
		c.DoneByType = cloneMap(r.DoneByType)
		cp[i] = &c
	}
	return cp
}

// SprintMetrics implements storage.Store.
func (s *Store) SprintMetrics(ctx context.Context, projectKey string) ([]*types.SprintMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := make([]*types.SprintMetrics, 0, len(s.sprintMetrics[projectKey]))
	for _, r := range s.sprintMetrics[projectKey] {
		c := *r
		c.PointsByStatus = cloneMap(r.PointsByStatus)
		c.IssuesByStatus = cloneMap(r.IssuesByStatus)
		out = append(out, &c)
	}
	sortSprintMetrics(out)
	return out, nil
}

// DeveloperMetrics implements storage.Store. sprintID 0 returns every sprint.
func (s *Store) DeveloperMetrics(ctx context.Context, projectKey string, sprintID int64) ([]*types.DeveloperMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out []*types.DeveloperMetrics
	for _, r := range s.developerMetrics[projectKey] {
		if sprintID != 0 && r.SprintID != sprintID {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	sortDeveloperMetrics(out)
	return out, nil
}

// DeliveryMetrics implements storage.Store.
func (s *Store) DeliveryMetrics(ctx context.Context, projectKey string) ([]*types.DeliveryMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := make([]*types.DeliveryMetrics, 0, len(s.deliveryMetrics[projectKey]))
	for _, r := range s.deliveryMetrics[projectKey] {
		c := *r
		c.DoneByType = cloneMap(r.DoneByType)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WeekStart.Before(out[j].WeekStart) })
	return out, nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cloneIssue(is *types.Issue) *types.Issue {
	cp := *is
	cp.SprintIDs = append([]int64(nil), is.SprintIDs...)
	cp.Labels = append([]string(nil), is.Labels...)
	cp.StoryPoints = clonePtr(is.StoryPoints)
	cp.CurrentSprintID = clonePtr(is.CurrentSprintID)
	cp.ResolvedAt = clonePtr(is.ResolvedAt)
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
