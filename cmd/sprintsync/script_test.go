package main

import (
	"context"
	"os"
	"testing"
	"time"

	"rsc.io/script"
	"rsc.io/script/scripttest"

	"github.com/sprintpulse/sprintsync/internal/jira"
	"github.com/sprintpulse/sprintsync/internal/jira/jiratest"
)

// TestMain lets the test binary stand in for sprintsync: scripts run it with
// SPRINTSYNC_TEST_MAIN=1 and it executes the CLI instead of the tests.
func TestMain(m *testing.M) {
	if os.Getenv("SPRINTSYNC_TEST_MAIN") == "1" {
		main()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func TestScripts(t *testing.T) {
	if testing.Short() {
		t.Skip("script tests start subprocesses")
	}
	srv := scriptJira(t)

	engine := &script.Engine{
		Cmds:  script.DefaultCmds(),
		Conds: script.DefaultConds(),
	}
	engine.Cmds["sprintsync"] = script.Program(os.Args[0], nil, 100*time.Millisecond)

	env := []string{
		"SPRINTSYNC_TEST_MAIN=1",
		"PATH=" + os.Getenv("PATH"),
		"NO_COLOR=1",
		"SPRINTSYNC_NO_PAGER=1",
		"JIRA_URL=" + srv.URL(),
		"JIRA_USERNAME=user@example.com",
		"JIRA_API_TOKEN=test-token",
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)
	scripttest.Test(t, ctx, engine, env, "testdata/*.txt")
}

// scriptJira serves a small WEB project: one closed and one active sprint.
func scriptJira(t *testing.T) *jiratest.Server {
	t.Helper()
	srv := jiratest.NewServer()
	t.Cleanup(srv.Close)

	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	day := 24 * time.Hour
	ts := func(t time.Time) string { return t.Format(jiratest.TimeLayout) }
	closed := jira.SprintRef{ID: 11, Name: "Sprint 1", State: "closed", BoardID: 1,
		StartDate: ts(start), EndDate: ts(start.Add(14 * day)), CompleteDate: ts(start.Add(14 * day))}
	active := jira.SprintRef{ID: 12, Name: "Sprint 2", State: "active", BoardID: 1,
		StartDate: ts(start.Add(14 * day)), EndDate: ts(start.Add(28 * day))}

	srv.AddProject("WEB", "Web Store")
	srv.AddBoard("WEB", jira.Board{ID: 1, Name: "WEB board", Type: "scrum"})
	srv.SetSprints(1, []jira.Sprint{
		{ID: 11, Name: "Sprint 1", State: "closed", OriginBoardID: 1,
			StartDate: closed.StartDate, EndDate: closed.EndDate, CompleteDate: closed.CompleteDate},
		{ID: 12, Name: "Sprint 2", State: "active", OriginBoardID: 1,
			StartDate: active.StartDate, EndDate: active.EndDate},
	})
	srv.SetIssues([]jira.Issue{
		jiratest.NewIssue("WEB-1").
			Status("Done", "done").
			Assignee("acc-ana", "Ana").
			Points(3).
			Sprints(closed).
			Created(start.Add(-day)).
			Transition(start.Add(day), "To Do", "In Progress").
			Transition(start.Add(3*day), "In Progress", "Done").
			Resolved(start.Add(3 * day)).
			Updated(start.Add(3 * day)).
			Build(),
		jiratest.NewIssue("WEB-2").
			Status("In Progress", "indeterminate").
			Assignee("acc-bob", "Bob").
			Points(5).
			Sprints(active).
			Created(start.Add(-day)).
			Transition(start.Add(15*day), "To Do", "In Progress").
			Updated(start.Add(15 * day)).
			Build(),
	})
	return srv
}
