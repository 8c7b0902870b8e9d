package syncer

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprintpulse/sprintsync/internal/jira"
	"github.com/sprintpulse/sprintsync/internal/jira/jiratest"
	"github.com/sprintpulse/sprintsync/internal/storage/memory"
	"github.com/sprintpulse/sprintsync/internal/types"
)

// t0 is the start of Sprint 1, Monday 2024-03-04 09:00 UTC.
var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

type harness struct {
	srv    *jiratest.Server
	store  *memory.Store
	engine *Engine

	mu       sync.Mutex
	now      time.Time
	messages []string
	warnings []string
}

func ts(t time.Time) string { return t.Format(jiratest.TimeLayout) }

var (
	sprint1 = jira.SprintRef{ID: 11, Name: "Sprint 1", State: "closed", BoardID: 1,
		StartDate: ts(t0), EndDate: ts(t0.Add(14 * day)), CompleteDate: ts(t0.Add(14 * day))}
	sprint2 = jira.SprintRef{ID: 12, Name: "Sprint 2", State: "active", BoardID: 1,
		StartDate: ts(t0.Add(14 * day)), EndDate: ts(t0.Add(28 * day))}
)

func webIssues() []jira.Issue {
	return []jira.Issue{
		jiratest.NewIssue("WEB-1").
			Status("Done", "done").
			Assignee("acc-ana", "Ana").
			Reporter("acc-pm", "Paula").
			Points(3).
			Sprints(sprint1).
			Created(t0.Add(-day)).
			Transition(t0.Add(day), "To Do", "In Progress").
			Transition(t0.Add(3*day), "In Progress", "Done").
			Resolved(t0.Add(3 * day)).
			Updated(t0.Add(3 * day)).
			Build(),
		jiratest.NewIssue("WEB-2").
			Status("Em andamento", "indeterminate").
			Assignee("acc-bob", "Bob").
			Points(5).
			Sprints(sprint2).
			Created(t0.Add(-day)).
			Transition(t0.Add(15*day), "A fazer", "Em andamento").
			Updated(t0.Add(15 * day)).
			Build(),
		jiratest.NewIssue("WEB-3").
			Type("Bug").
			Reporter("acc-pm", "Paula").
			Created(t0.Add(2 * day)).
			Updated(t0.Add(2 * day)).
			Build(),
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithBoard(t, jira.Board{ID: 1, Name: "WEB board", Type: "scrum"})
}

// newHarnessWithBoard is newHarness with board standing in for WEB's scrum
// board. The board keeps id 1 so the fixture sprints stay on it.
func newHarnessWithBoard(t *testing.T, board jira.Board) *harness {
	t.Helper()
	srv := jiratest.NewServer()
	t.Cleanup(srv.Close)

	srv.AddProject("WEB", "Web Store")
	srv.AddBoard("WEB", board)
	srv.SetSprints(1, []jira.Sprint{
		{ID: 11, Name: "Sprint 1", State: "closed", OriginBoardID: 1,
			StartDate: sprint1.StartDate, EndDate: sprint1.EndDate, CompleteDate: sprint1.CompleteDate},
		{ID: 12, Name: "Sprint 2", State: "active", OriginBoardID: 1,
			StartDate: sprint2.StartDate, EndDate: sprint2.EndDate},
	})
	srv.SetIssues(webIssues())

	h := &harness{srv: srv, store: memory.New(), now: t0.Add(20 * day)}
	h.engine = NewEngine(srv.Client(), h.store, nil)
	h.engine.now = h.clock
	h.engine.Metrics.Now = h.clock
	h.engine.OnMessage = func(msg string) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.messages = append(h.messages, msg)
	}
	h.engine.OnWarning = func(msg string) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.warnings = append(h.warnings, msg)
	}
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

func (h *harness) sawMessage(substr string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

// lastJQL returns the jql parameter of the most recent search request.
func (h *harness) lastJQL(t *testing.T) string {
	t.Helper()
	reqs := h.srv.Requests()
	for i := len(reqs) - 1; i >= 0; i-- {
		if strings.Contains(reqs[i].Path, "/search") {
			if v := reqs[i].Query["jql"]; len(v) > 0 {
				return v[0]
			}
		}
	}
	t.Fatal("no search request recorded")
	return ""
}

func TestFullSync(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.engine.FullSyncForProject(ctx, "WEB")
	require.NoError(t, err)
	assert.Equal(t, types.SyncFull, res.Mode)
	assert.Nil(t, res.Since)
	assert.Equal(t, 1, res.Boards)
	assert.Equal(t, 2, res.Sprints)
	assert.Equal(t, 3, res.Stats.Fetched)
	assert.Equal(t, 3, res.Stats.Issues.Inserted)
	assert.Equal(t, 2, res.Stats.Sprints.Inserted)
	assert.Equal(t, 3, res.Stats.Developers.Inserted, "Ana, Bob and Paula")
	assert.Equal(t, 3, res.Stats.StatusChanges)
	assert.NotZero(t, res.RunID)

	issues, err := h.store.ListIssues(ctx, types.IssueFilter{ProjectKey: "WEB"})
	require.NoError(t, err)
	require.Len(t, issues, 3)
	web1 := issues[0]
	assert.Equal(t, "WEB-1", web1.Key)
	assert.Equal(t, types.StatusDone, web1.Status)
	assert.Equal(t, []int64{11}, web1.SprintIDs)
	assert.Equal(t, 3.0, web1.Points())
	assert.Equal(t, types.StatusInProgress, issues[1].Status, "Portuguese workflow names are normalized")

	sprints, err := h.store.ListSprints(ctx, "WEB")
	require.NoError(t, err)
	require.Len(t, sprints, 2)
	assert.Equal(t, types.SprintClosed, sprints[0].State)

	runs, err := h.store.ListSyncRuns(ctx, "WEB", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, types.SyncSucceeded, runs[0].Status)
	assert.Equal(t, 3, runs[0].IssuesFetched)
	assert.Equal(t, 3, runs[0].IssuesUpserted)

	require.NotNil(t, res.Metrics)
	assert.Equal(t, 2, res.Metrics.Sprints)
	assert.Equal(t, 3.0, res.Metrics.Velocity)
	sm, err := h.store.SprintMetrics(ctx, "WEB")
	require.NoError(t, err)
	assert.Len(t, sm, 2)

	project, err := h.store.GetProject(ctx, "WEB")
	require.NoError(t, err)
	assert.Equal(t, "Web Store", project.Name)
	require.NotNil(t, project.LastSyncedAt)
	assert.True(t, project.LastSyncedAt.Equal(t0.Add(20*day)))
}

func TestResyncIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.FullSyncForProject(ctx, "WEB")
	require.NoError(t, err)
	before, err := h.store.ListIssues(ctx, types.IssueFilter{ProjectKey: "WEB"})
	require.NoError(t, err)

	h.advance(time.Hour)
	res, err := h.engine.FullSyncForProject(ctx, "WEB")
	require.NoError(t, err)
	assert.Zero(t, res.Stats.Issues.Changed())
	assert.Equal(t, 3, res.Stats.Issues.Unchanged)
	assert.Zero(t, res.Stats.Sprints.Changed())
	assert.Zero(t, res.Stats.Developers.Changed())
	assert.Zero(t, res.Stats.StatusChanges, "history rows are never duplicated")
	assert.Zero(t, res.IssuesRemoved)

	after, err := h.store.ListIssues(ctx, types.IssueFilter{ProjectKey: "WEB"})
	require.NoError(t, err)
	assert.Equal(t, before, after)

	changes, err := h.store.ListStatusChanges(ctx, "WEB")
	require.NoError(t, err)
	assert.Len(t, changes, 3)

	runs, err := h.store.ListSyncRuns(ctx, "WEB", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2, "only a new sync_runs row is added")
}

func TestIncrementalSyncUsesWatermark(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.clock()
	_, err := h.engine.FullSyncForProject(ctx, "WEB")
	require.NoError(t, err)

	h.advance(time.Hour)
	res, err := h.engine.IncrementalSync(ctx, "WEB")
	require.NoError(t, err)
	assert.Equal(t, types.SyncIncremental, res.Mode)
	require.NotNil(t, res.Since)
	assert.True(t, res.Since.Equal(first.Add(-5*time.Minute)), "watermark minus overlap")
	assert.Contains(t, h.lastJQL(t), `updated >= "2024-03-24 08:55"`)
	assert.Zero(t, res.Stats.Fetched)

	// WEB-2 moves to review after the second run started.
	h.srv.UpsertIssue(jiratest.NewIssue("WEB-2").
		Status("Code Review", "indeterminate").
		Assignee("acc-bob", "Bob").
		Points(5).
		Sprints(sprint2).
		Created(t0.Add(-day)).
		Transition(t0.Add(15*day), "A fazer", "Em andamento").
		Transition(first.Add(90*time.Minute), "Em andamento", "Code Review").
		Updated(first.Add(90 * time.Minute)).
		Build())

	h.advance(time.Hour)
	res, err = h.engine.IncrementalSync(ctx, "WEB")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.Fetched)
	assert.Equal(t, 1, res.Stats.Issues.Updated)
	assert.Equal(t, 1, res.Stats.StatusChanges)

	issues, err := h.store.ListIssues(ctx, types.IssueFilter{ProjectKey: "WEB", AssigneeID: "acc-bob"})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, types.StatusInReview, issues[0].Status)
}

func TestIncrementalSyncWithoutHistoryRunsFull(t *testing.T) {
	h := newHarness(t)

	res, err := h.engine.IncrementalSync(context.Background(), "WEB")
	require.NoError(t, err)
	assert.Equal(t, types.SyncFull, res.Mode)
	assert.Equal(t, 3, res.Stats.Fetched)
	assert.True(t, h.sawMessage("running a full sync"))
	assert.NotContains(t, h.lastJQL(t), "updated >=")
}

func TestExplicitSinceOverridesWatermark(t *testing.T) {
	h := newHarness(t)
	since := t0.Add(10 * day)

	res, err := h.engine.Sync(context.Background(), "WEB", SyncOptions{Since: &since})
	require.NoError(t, err)
	assert.Equal(t, types.SyncIncremental, res.Mode)
	assert.Equal(t, 1, res.Stats.Fetched, "only WEB-2 was updated after day 10")
	assert.Contains(t, h.lastJQL(t), `updated >= "2024-03-14 09:00"`)
}

func TestFailedRunDoesNotAdvanceWatermark(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.clock()
	_, err := h.engine.FullSyncForProject(ctx, "WEB")
	require.NoError(t, err)

	h.advance(time.Hour)
	h.srv.FailPath("/search", 500)
	_, err = h.engine.IncrementalSync(ctx, "WEB")
	require.Error(t, err)

	last, err := h.store.LastSuccessfulSync(ctx, "WEB")
	require.NoError(t, err)
	assert.True(t, last.StartedAt.Equal(first))

	runs, err := h.store.ListSyncRuns(ctx, "WEB", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, types.SyncFailed, runs[0].Status)
	assert.NotEmpty(t, runs[0].Error)
	assert.NotNil(t, runs[0].FinishedAt)
}

func TestRemovedIssuesDetectedOnFullSyncOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.FullSyncForProject(ctx, "WEB")
	require.NoError(t, err)
	h.srv.DeleteIssue("WEB-3")

	h.advance(time.Hour)
	res, err := h.engine.IncrementalSync(ctx, "WEB")
	require.NoError(t, err)
	assert.Zero(t, res.IssuesRemoved)
	live, err := h.store.ListIssues(ctx, types.IssueFilter{ProjectKey: "WEB"})
	require.NoError(t, err)
	assert.Len(t, live, 3)

	h.advance(time.Hour)
	res, err = h.engine.FullSyncForProject(ctx, "WEB")
	require.NoError(t, err)
	assert.Equal(t, 1, res.IssuesRemoved)

	live, err = h.store.ListIssues(ctx, types.IssueFilter{ProjectKey: "WEB"})
	require.NoError(t, err)
	assert.Len(t, live, 2)
	all, err := h.store.ListIssues(ctx, types.IssueFilter{ProjectKey: "WEB", IncludeRemoved: true})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[2].Removed)
}

func TestDryRunWritesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.engine.Sync(ctx, "WEB", SyncOptions{Full: true, DryRun: true})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Zero(t, res.RunID)
	assert.Equal(t, 3, res.Stats.Fetched)
	assert.Equal(t, 3, res.Stats.StatusChanges)
	assert.Nil(t, res.Metrics)
	assert.True(t, h.sawMessage("[dry-run] Would upsert WEB-1"))

	issues, err := h.store.ListIssues(ctx, types.IssueFilter{IncludeRemoved: true})
	require.NoError(t, err)
	assert.Empty(t, issues)
	sprints, err := h.store.ListSprints(ctx, "WEB")
	require.NoError(t, err)
	assert.Empty(t, sprints)
	runs, err := h.store.ListSyncRuns(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
	_, err = h.store.GetProject(ctx, "WEB")
	assert.Error(t, err)
}

func TestTruncatedChangelogIsFetched(t *testing.T) {
	h := newHarness(t)
	h.srv.EmbeddedChangelogLimit = 1

	res, err := h.engine.FullSyncForProject(context.Background(), "WEB")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stats.StatusChanges)
	assert.Equal(t, 1, h.srv.RequestCount("/changelog"), "only WEB-1 has more than one history")
}

func TestBoardLocatedInOtherProject(t *testing.T) {
	board := jira.Board{ID: 1, Name: "Platform board", Type: "scrum",
		Location: &jira.BoardLocation{ProjectKey: "PLAT"}}
	h := newHarnessWithBoard(t, board)
	ctx := context.Background()

	res, err := h.engine.FullSyncForProject(ctx, "WEB")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sprints)

	web, err := h.store.ListSprints(ctx, "WEB")
	require.NoError(t, err)
	require.Len(t, web, 2, "sprints belong to the project being synced")
	plat, err := h.store.ListSprints(ctx, "PLAT")
	require.NoError(t, err)
	assert.Empty(t, plat)

	sm, err := h.store.SprintMetrics(ctx, "WEB")
	require.NoError(t, err)
	require.Len(t, sm, 2)
	require.NotNil(t, res.Metrics)
	assert.Equal(t, 3.0, res.Metrics.Velocity)

	// PLAT syncing the same board keeps its own copy and leaves WEB's alone.
	h.srv.AddProject("PLAT", "Platform")
	h.srv.AddBoard("PLAT", board)
	_, err = h.engine.FullSyncForProject(ctx, "PLAT")
	require.NoError(t, err)

	plat, err = h.store.ListSprints(ctx, "PLAT")
	require.NoError(t, err)
	assert.Len(t, plat, 2)
	web, err = h.store.ListSprints(ctx, "WEB")
	require.NoError(t, err)
	require.Len(t, web, 2)
	assert.Equal(t, "WEB", web[0].ProjectKey)

	sm, err = h.store.SprintMetrics(ctx, "WEB")
	require.NoError(t, err)
	assert.Len(t, sm, 2)
}

func TestKanbanBoardHasNoSprints(t *testing.T) {
	h := newHarness(t)
	h.srv.AddBoard("WEB", jira.Board{ID: 2, Name: "WEB flow", Type: "kanban"})

	res, err := h.engine.FullSyncForProject(context.Background(), "WEB")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Boards)
	assert.Equal(t, 2, res.Sprints)
}

func TestSprintKnownOnlyFromIssue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	other := jira.SprintRef{ID: 99, Name: "Platform 7", State: "future", BoardID: 40}
	h.srv.UpsertIssue(jiratest.NewIssue("WEB-4").
		Sprints(other).
		Created(t0).
		Updated(t0).
		Build())

	res, err := h.engine.FullSyncForProject(ctx, "WEB")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stats.Sprints.Inserted)

	sprints, err := h.store.ListSprints(ctx, "WEB")
	require.NoError(t, err)
	var found *types.Sprint
	for _, sp := range sprints {
		if sp.ID == 99 {
			found = sp
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, int64(40), found.BoardID)
	assert.Equal(t, types.SprintFuture, found.State)
}

func TestBadIssueIsSkipped(t *testing.T) {
	h := newHarness(t)
	bad := jiratest.NewIssue("WEB-9").Build()
	bad.Fields.Created = "yesterday"
	h.srv.UpsertIssue(bad)

	res, err := h.engine.FullSyncForProject(context.Background(), "WEB")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Stats.Fetched)
	assert.Equal(t, 1, res.Stats.Skipped)
	assert.Equal(t, 3, res.Stats.Issues.Inserted)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "WEB-9")
}

func TestSyncAllContinuesPastFailure(t *testing.T) {
	h := newHarness(t)

	results := h.engine.SyncAll(context.Background(), []string{"NOPE", "WEB"}, SyncOptions{Full: true})
	require.Len(t, results, 2)
	assert.Equal(t, "NOPE", results[0].ProjectKey)
	require.Error(t, results[0].Err)
	assert.NotEmpty(t, results[0].Error)
	assert.NoError(t, results[1].Err)
	require.NotNil(t, results[1].Result)
	assert.Equal(t, 3, results[1].Result.Stats.Fetched)
	assert.NotEmpty(t, h.warnings)
}

func TestSyncAllStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := h.engine.SyncAll(ctx, []string{"WEB"}, SyncOptions{})
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
	assert.Zero(t, h.srv.RequestCount("/rest"))
}

func TestProcessIssues(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stats, err := h.engine.ProcessIssues(ctx, "WEB", webIssues()[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Fetched)
	assert.Equal(t, 1, stats.Issues.Inserted)
	assert.Equal(t, 2, stats.Developers.Inserted)
	assert.Equal(t, 2, stats.StatusChanges)
	assert.Zero(t, stats.Sprints.Inserted, "ProcessIssues does not store sprints")

	stats, err = h.engine.ProcessIssues(ctx, "WEB", webIssues()[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Issues.Unchanged)
	assert.Zero(t, stats.StatusChanges)
}

func TestSkipMetrics(t *testing.T) {
	h := newHarness(t)
	h.engine.Options.SkipMetrics = true

	res, err := h.engine.FullSyncForProject(context.Background(), "WEB")
	require.NoError(t, err)
	assert.Nil(t, res.Metrics)
	sm, err := h.store.SprintMetrics(context.Background(), "WEB")
	require.NoError(t, err)
	assert.Empty(t, sm)
}
