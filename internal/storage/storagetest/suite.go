// Package storagetest is a behavioural test suite run against every
// storage.Store implementation.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprintpulse/sprintsync/internal/storage"
	"github.com/sprintpulse/sprintsync/internal/types"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) storage.Store

// Run executes the suite. Each subtest gets a fresh store.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"Projects", testProjects},
		{"SprintsIdempotent", testSprintsIdempotent},
		{"DevelopersIdempotent", testDevelopersIdempotent},
		{"IssuesIdempotent", testIssuesIdempotent},
		{"IssueFilters", testIssueFilters},
		{"RemovedIssues", testRemovedIssues},
		{"StatusChangesNeverDuplicated", testStatusChanges},
		{"UpdateNormalizedStatuses", testUpdateNormalizedStatuses},
		{"NormalizeHistoryByIssueCategory", testNormalizeHistoryByIssueCategory},
		{"SyncRunWatermark", testSyncRunWatermark},
		{"MetricsReplace", testMetricsReplace},
		{"ReplaceMetricSet", testReplaceMetricSet},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

// T0 is the reference instant of the fixtures.
var T0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := T0.Add(d)
	return &t
}

func pts(f float64) *float64 { return &f }

func sprintFixtures() []*types.Sprint {
	return []*types.Sprint{
		{ID: 12, BoardID: 1, ProjectKey: "WEB", Name: "Sprint 2", State: types.SprintActive, StartDate: at(14 * 24 * time.Hour), EndDate: at(28 * 24 * time.Hour)},
		{ID: 11, BoardID: 1, ProjectKey: "WEB", Name: "Sprint 1", State: types.SprintClosed, StartDate: at(0), EndDate: at(14 * 24 * time.Hour), CompleteDate: at(14 * 24 * time.Hour)},
		{ID: 13, BoardID: 1, ProjectKey: "WEB", Name: "Sprint 3", State: types.SprintFuture},
		{ID: 21, BoardID: 2, ProjectKey: "API", Name: "API 1", State: types.SprintActive, StartDate: at(0)},
	}
}

func issueFixture(key string, status types.Status, sprints ...int64) *types.Issue {
	is := &types.Issue{
		Key:            key,
		JiraID:         "1" + key[len(key)-1:],
		ProjectKey:     "WEB",
		Summary:        key + " summary",
		IssueType:      "Story",
		Priority:       "Medium",
		RawStatus:      string(status),
		StatusCategory: "indeterminate",
		Status:         status,
		AssigneeID:     "acc-1",
		AssigneeName:   "Ana",
		StoryPoints:    pts(3),
		SprintIDs:      sprints,
		Labels:         []string{"backend"},
		CreatedAt:      T0,
		UpdatedAt:      T0.Add(time.Hour),
	}
	if len(sprints) > 0 {
		cur := sprints[len(sprints)-1]
		is.CurrentSprintID = &cur
	}
	return is
}

func testProjects(t *testing.T, s storage.Store) {
	ctx := context.Background()

	_, err := s.GetProject(ctx, "WEB")
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)

	require.NoError(t, s.UpsertProject(ctx, &types.Project{Key: "WEB", Name: "Web", JiraID: "10000", LastSyncedAt: at(0)}))
	require.NoError(t, s.UpsertProject(ctx, &types.Project{Key: "API", Name: "Api"}))
	// A nil LastSyncedAt does not erase the stored one.
	require.NoError(t, s.UpsertProject(ctx, &types.Project{Key: "WEB", Name: "Web App", JiraID: "10000"}))

	p, err := s.GetProject(ctx, "WEB")
	require.NoError(t, err)
	assert.Equal(t, "Web App", p.Name)
	require.NotNil(t, p.LastSyncedAt)
	assert.True(t, p.LastSyncedAt.Equal(T0))

	all, err := s.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "API", all[0].Key)
}

func testSprintsIdempotent(t *testing.T, s storage.Store) {
	ctx := context.Background()

	res, err := s.UpsertSprints(ctx, sprintFixtures())
	require.NoError(t, err)
	assert.Equal(t, storage.UpsertResult{Inserted: 4}, res)

	res, err = s.UpsertSprints(ctx, sprintFixtures())
	require.NoError(t, err)
	assert.Equal(t, storage.UpsertResult{Unchanged: 4}, res)

	changed := sprintFixtures()
	changed[0].State = types.SprintClosed
	changed[0].CompleteDate = at(28 * 24 * time.Hour)
	res, err = s.UpsertSprints(ctx, changed)
	require.NoError(t, err)
	assert.Equal(t, storage.UpsertResult{Updated: 1, Unchanged: 3}, res)

	web, err := s.ListSprints(ctx, "WEB")
	require.NoError(t, err)
	require.Len(t, web, 3)
	assert.Equal(t, []int64{11, 12, 13}, []int64{web[0].ID, web[1].ID, web[2].ID}, "ordered by start date, unstarted last")
	assert.Equal(t, types.SprintClosed, web[1].State)

	// A sprint on a board shared by two projects is stored once per project.
	shared := *sprintFixtures()[0]
	shared.ProjectKey = "API"
	res, err = s.UpsertSprints(ctx, []*types.Sprint{&shared})
	require.NoError(t, err)
	assert.Equal(t, storage.UpsertResult{Inserted: 1}, res)

	web, err = s.ListSprints(ctx, "WEB")
	require.NoError(t, err)
	assert.Len(t, web, 3)
	api, err := s.ListSprints(ctx, "API")
	require.NoError(t, err)
	require.Len(t, api, 2)
	assert.Equal(t, []int64{21, 12}, []int64{api[0].ID, api[1].ID})
}

func testDevelopersIdempotent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	devs := []*types.Developer{
		{AccountID: "acc-1", DisplayName: "Ana", Active: true},
		{AccountID: "acc-2", DisplayName: "Bruno", Email: "b@example.com", Active: true},
	}
	res, err := s.UpsertDevelopers(ctx, devs)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)

	devs[1].Active = false
	res, err = s.UpsertDevelopers(ctx, devs)
	require.NoError(t, err)
	assert.Equal(t, storage.UpsertResult{Updated: 1, Unchanged: 1}, res)

	all, err := s.ListDevelopers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.False(t, all[1].Active)
}

func testIssuesIdempotent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	issues := []*types.Issue{
		issueFixture("WEB-1", types.StatusInProgress, 11, 12),
		issueFixture("WEB-2", types.StatusDone, 11),
	}

	res, err := s.UpsertIssues(ctx, issues)
	require.NoError(t, err)
	assert.Equal(t, storage.UpsertResult{Inserted: 2}, res)

	res, err = s.UpsertIssues(ctx, issues)
	require.NoError(t, err)
	assert.Equal(t, storage.UpsertResult{Unchanged: 2}, res)

	issues[0].Summary = "renamed"
	res, err = s.UpsertIssues(ctx, issues)
	require.NoError(t, err)
	assert.Equal(t, storage.UpsertResult{Updated: 1, Unchanged: 1}, res)

	got, err := s.ListIssues(ctx, types.IssueFilter{ProjectKey: "WEB"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "WEB-1", got[0].Key)
	assert.Equal(t, "renamed", got[0].Summary)
	assert.Equal(t, []int64{11, 12}, got[0].SprintIDs)
	assert.Equal(t, []string{"backend"}, got[0].Labels)
	require.NotNil(t, got[0].StoryPoints)
	assert.Equal(t, 3.0, *got[0].StoryPoints)
	require.NotNil(t, got[0].CurrentSprintID)
	assert.Equal(t, int64(12), *got[0].CurrentSprintID)
	assert.True(t, got[0].CreatedAt.Equal(T0))
}

func testIssueFilters(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := issueFixture("WEB-1", types.StatusInProgress, 11)
	b := issueFixture("WEB-2", types.StatusDone, 12)
	b.AssigneeID = "acc-2"
	b.UpdatedAt = T0.Add(48 * time.Hour)
	c := issueFixture("API-1", types.StatusDone)
	c.ProjectKey = "API"
	_, err := s.UpsertIssues(ctx, []*types.Issue{a, b, c})
	require.NoError(t, err)

	sprint := int64(12)
	done := types.StatusDone
	since := T0.Add(24 * time.Hour)

	cases := []struct {
		name   string
		filter types.IssueFilter
		want   []string
	}{
		{"project", types.IssueFilter{ProjectKey: "WEB"}, []string{"WEB-1", "WEB-2"}},
		{"sprint", types.IssueFilter{ProjectKey: "WEB", SprintID: &sprint}, []string{"WEB-2"}},
		{"status", types.IssueFilter{Status: &done}, []string{"API-1", "WEB-2"}},
		{"assignee", types.IssueFilter{AssigneeID: "acc-1"}, []string{"API-1", "WEB-1"}},
		{"updated since", types.IssueFilter{UpdatedSince: &since}, []string{"WEB-2"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.ListIssues(ctx, tc.filter)
			require.NoError(t, err)
			keys := make([]string, 0, len(got))
			for _, is := range got {
				keys = append(keys, is.Key)
			}
			assert.ElementsMatch(t, tc.want, keys)
		})
	}
}

func testRemovedIssues(t *testing.T, s storage.Store) {
	ctx := context.Background()
	issues := []*types.Issue{
		issueFixture("WEB-1", types.StatusTodo),
		issueFixture("WEB-2", types.StatusTodo),
	}
	_, err := s.UpsertIssues(ctx, issues)
	require.NoError(t, err)

	n, err := s.MarkIssuesRemoved(ctx, "WEB", []string{"WEB-2", "WEB-404"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.MarkIssuesRemoved(ctx, "WEB", []string{"WEB-2"})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "already removed")

	keys, err := s.IssueKeys(ctx, "WEB")
	require.NoError(t, err)
	assert.Equal(t, []string{"WEB-1"}, keys)

	visible, err := s.ListIssues(ctx, types.IssueFilter{ProjectKey: "WEB"})
	require.NoError(t, err)
	assert.Len(t, visible, 1)
	all, err := s.ListIssues(ctx, types.IssueFilter{ProjectKey: "WEB", IncludeRemoved: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// An issue that shows up in Jira again is restored by the next upsert.
	res, err := s.UpsertIssues(ctx, []*types.Issue{issueFixture("WEB-2", types.StatusTodo)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	keys, err = s.IssueKeys(ctx, "WEB")
	require.NoError(t, err)
	assert.Equal(t, []string{"WEB-1", "WEB-2"}, keys)
}

func statusChangeFixtures() []*types.StatusChange {
	return []*types.StatusChange{
		{IssueKey: "WEB-1", ProjectKey: "WEB", ChangeID: "100", FromStatus: "To Do", ToStatus: "In Progress", FromNormalized: types.StatusTodo, ToNormalized: types.StatusInProgress, AuthorID: "acc-1", ChangedAt: T0.Add(time.Hour)},
		{IssueKey: "WEB-1", ProjectKey: "WEB", ChangeID: "101", FromStatus: "In Progress", ToStatus: "Done", FromNormalized: types.StatusInProgress, ToNormalized: types.StatusDone, AuthorID: "acc-1", ChangedAt: T0.Add(5 * time.Hour)},
		{IssueKey: "WEB-2", ProjectKey: "WEB", ChangeID: "200", FromStatus: "To Do", ToStatus: "Aguardando", FromNormalized: types.StatusTodo, ToNormalized: types.StatusUnknown, ChangedAt: T0.Add(2 * time.Hour)},
	}
}

func testStatusChanges(t *testing.T, s storage.Store) {
	ctx := context.Background()

	n, err := s.RecordStatusChanges(ctx, statusChangeFixtures())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.RecordStatusChanges(ctx, statusChangeFixtures())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := s.ListStatusChanges(ctx, "WEB")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"100", "200", "101"}, []string{got[0].ChangeID, got[1].ChangeID, got[2].ChangeID})

	other, err := s.ListStatusChanges(ctx, "API")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func testUpdateNormalizedStatuses(t *testing.T, s storage.Store) {
	ctx := context.Background()
	is := issueFixture("WEB-2", types.StatusUnknown)
	is.RawStatus = "Aguardando"
	_, err := s.UpsertIssues(ctx, []*types.Issue{is, issueFixture("WEB-1", types.StatusDone)})
	require.NoError(t, err)
	_, err = s.RecordStatusChanges(ctx, statusChangeFixtures())
	require.NoError(t, err)

	fn := func(raw, _ string) types.Status {
		switch raw {
		case "Aguardando":
			return types.StatusTesting
		case "To Do":
			return types.StatusTodo
		case "In Progress":
			return types.StatusInProgress
		}
		return types.StatusDone
	}
	issues, changes, err := s.UpdateNormalizedStatuses(ctx, "WEB", fn)
	require.NoError(t, err)
	assert.Equal(t, 1, issues)
	assert.Equal(t, 1, changes)

	st := types.StatusTesting
	got, err := s.ListIssues(ctx, types.IssueFilter{ProjectKey: "WEB", Status: &st})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "WEB-2", got[0].Key)

	// Re-running with the same map changes nothing.
	issues, changes, err = s.UpdateNormalizedStatuses(ctx, "WEB", fn)
	require.NoError(t, err)
	assert.Zero(t, issues)
	assert.Zero(t, changes)

	// The stored hash follows the new status, so an identical upsert is a no-op.
	is.Status = types.StatusTesting
	res, err := s.UpsertIssues(ctx, []*types.Issue{is})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unchanged)
}

// testNormalizeHistoryByIssueCategory checks that a history name the map does
// not know takes the category of an issue currently in that status.
func testNormalizeHistoryByIssueCategory(t *testing.T, s storage.Store) {
	ctx := context.Background()
	is := issueFixture("WEB-7", types.StatusUnknown)
	is.RawStatus = "Aguardando Deploy"
	is.StatusCategory = "done"
	_, err := s.UpsertIssues(ctx, []*types.Issue{is})
	require.NoError(t, err)
	_, err = s.RecordStatusChanges(ctx, []*types.StatusChange{
		{IssueKey: "WEB-7", ProjectKey: "WEB", ChangeID: "700", FromStatus: "In Progress", ToStatus: "aguardando deploy",
			FromNormalized: types.StatusInProgress, ToNormalized: types.StatusUnknown, ChangedAt: T0.Add(time.Hour)},
	})
	require.NoError(t, err)

	fn := func(raw, category string) types.Status {
		switch {
		case raw == "In Progress":
			return types.StatusInProgress
		case category == "done":
			return types.StatusDone
		}
		return types.StatusUnknown
	}
	issues, changes, err := s.UpdateNormalizedStatuses(ctx, "WEB", fn)
	require.NoError(t, err)
	assert.Equal(t, 1, issues)
	assert.Equal(t, 1, changes)

	got, err := s.ListStatusChanges(ctx, "WEB")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.StatusDone, got[0].ToNormalized)
}

func testSyncRunWatermark(t *testing.T, s storage.Store) {
	ctx := context.Background()

	_, err := s.LastSuccessfulSync(ctx, "WEB")
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)

	ok := &types.SyncRun{ProjectKey: "WEB", Mode: types.SyncFull, StartedAt: T0}
	require.NoError(t, s.StartSyncRun(ctx, ok))
	assert.NotZero(t, ok.ID)
	assert.Equal(t, types.SyncRunning, ok.Status)
	ok.Status = types.SyncSucceeded
	ok.IssuesFetched = 10
	ok.FinishedAt = at(time.Minute)
	require.NoError(t, s.FinishSyncRun(ctx, ok))

	failed := &types.SyncRun{ProjectKey: "WEB", Mode: types.SyncIncremental, StartedAt: T0.Add(time.Hour), Since: at(0)}
	require.NoError(t, s.StartSyncRun(ctx, failed))
	failed.Status = types.SyncFailed
	failed.Error = "jira API GET /rest/api/3/search returned 502"
	failed.FinishedAt = at(time.Hour + time.Minute)
	require.NoError(t, s.FinishSyncRun(ctx, failed))

	running := &types.SyncRun{ProjectKey: "WEB", Mode: types.SyncIncremental, StartedAt: T0.Add(2 * time.Hour)}
	require.NoError(t, s.StartSyncRun(ctx, running))

	last, err := s.LastSuccessfulSync(ctx, "WEB")
	require.NoError(t, err)
	assert.Equal(t, ok.ID, last.ID)
	assert.True(t, last.StartedAt.Equal(T0))
	assert.Equal(t, 10, last.IssuesFetched)

	runs, err := s.ListSyncRuns(ctx, "WEB", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, running.ID, runs[0].ID)
	assert.Equal(t, failed.ID, runs[1].ID)
	assert.Equal(t, types.SyncFailed, runs[1].Status)
	assert.Contains(t, runs[1].Error, "502")
	require.NotNil(t, runs[1].Since)

	err = s.FinishSyncRun(ctx, &types.SyncRun{ID: 999999, Status: types.SyncSucceeded})
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
}

func testMetricsReplace(t *testing.T, s storage.Store) {
	ctx := context.Background()

	first := []*types.SprintMetrics{
		{ProjectKey: "WEB", SprintID: 12, SprintName: "Sprint 2", SprintState: types.SprintActive, StartDate: at(14 * 24 * time.Hour), CommittedPoints: 10, CalculatedAt: T0},
		{ProjectKey: "WEB", SprintID: 11, SprintName: "Sprint 1", SprintState: types.SprintClosed, StartDate: at(0), CommittedIssues: 2, AddedIssues: 1, CommittedPoints: 8, CompletedPoints: 8, CompletionRate: 1,
			PointsByStatus: map[types.Status]float64{types.StatusDone: 8}, IssuesByStatus: map[types.Status]int{types.StatusDone: 3}, CalculatedAt: T0},
	}
	require.NoError(t, s.ReplaceSprintMetrics(ctx, "WEB", first))
	got, err := s.SprintMetrics(ctx, "WEB")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(11), got[0].SprintID)
	assert.Equal(t, 8.0, got[0].PointsByStatus[types.StatusDone])
	assert.Equal(t, 3, got[0].IssuesByStatus[types.StatusDone])
	assert.Equal(t, 2, got[0].CommittedIssues)
	assert.Equal(t, 1, got[0].AddedIssues)

	require.NoError(t, s.ReplaceSprintMetrics(ctx, "WEB", first[:1]))
	got, err = s.SprintMetrics(ctx, "WEB")
	require.NoError(t, err)
	require.Len(t, got, 1, "replace drops rows absent from the new set")

	dev := []*types.DeveloperMetrics{
		{ProjectKey: "WEB", SprintID: 11, DeveloperID: "acc-1", DeveloperName: "Ana", AssignedPoints: 5, CompletedPoints: 5, CalculatedAt: T0},
		{ProjectKey: "WEB", SprintID: 11, DeveloperID: "", DeveloperName: "Unassigned", AssignedPoints: 3, CalculatedAt: T0},
		{ProjectKey: "WEB", SprintID: 12, DeveloperID: "acc-1", DeveloperName: "Ana", AssignedPoints: 2, CalculatedAt: T0},
	}
	require.NoError(t, s.ReplaceDeveloperMetrics(ctx, "WEB", dev))
	d11, err := s.DeveloperMetrics(ctx, "WEB", 11)
	require.NoError(t, err)
	assert.Len(t, d11, 2)
	all, err := s.DeveloperMetrics(ctx, "WEB", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	week := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	del := []*types.DeliveryMetrics{
		{ProjectKey: "WEB", WeekStart: week.AddDate(0, 0, 7), Throughput: 2, CalculatedAt: T0},
		{ProjectKey: "WEB", WeekStart: week, Throughput: 4, PointsDelivered: 9, AvgLeadTimeHours: 60, MedianLeadTimeHours: 48, P85LeadTimeHours: 110.5, BugRatio: 0.25, DoneByType: map[string]int{"Story": 3, "Bug": 1}, CalculatedAt: T0},
	}
	require.NoError(t, s.ReplaceDeliveryMetrics(ctx, "WEB", del))
	gotDel, err := s.DeliveryMetrics(ctx, "WEB")
	require.NoError(t, err)
	require.Len(t, gotDel, 2)
	assert.True(t, gotDel[0].WeekStart.Equal(week))
	assert.Equal(t, 1, gotDel[0].DoneByType["Bug"])
	assert.Equal(t, 48.0, gotDel[0].MedianLeadTimeHours)
	assert.Equal(t, 110.5, gotDel[0].P85LeadTimeHours)

	other, err := s.DeliveryMetrics(ctx, "API")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func testReplaceMetricSet(t *testing.T, s storage.Store) {
	r, ok := s.(storage.MetricsReplacer)
	if !ok {
		t.Skip("store does not implement storage.MetricsReplacer")
	}
	ctx := context.Background()
	require.NoError(t, s.ReplaceDeveloperMetrics(ctx, "WEB", []*types.DeveloperMetrics{
		{ProjectKey: "WEB", SprintID: 11, DeveloperID: "stale", DeveloperName: "Stale", CalculatedAt: T0},
	}))

	set := &storage.MetricSet{
		Sprints: []*types.SprintMetrics{
			{ProjectKey: "WEB", SprintID: 11, SprintName: "Sprint 1", SprintState: types.SprintClosed, CompletedPoints: 5, CalculatedAt: T0},
		},
		Developers: []*types.DeveloperMetrics{
			{ProjectKey: "WEB", SprintID: 11, DeveloperID: "acc-1", DeveloperName: "Ana", CompletedPoints: 5, CalculatedAt: T0},
		},
	}
	require.NoError(t, r.ReplaceMetrics(ctx, "WEB", set))

	sm, err := s.SprintMetrics(ctx, "WEB")
	require.NoError(t, err)
	require.Len(t, sm, 1)
	dm, err := s.DeveloperMetrics(ctx, "WEB", 0)
	require.NoError(t, err)
	require.Len(t, dm, 1)
	assert.Equal(t, "acc-1", dm[0].DeveloperID)
	del, err := s.DeliveryMetrics(ctx, "WEB")
	require.NoError(t, err)
	assert.Empty(t, del)
}
