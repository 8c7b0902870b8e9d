package jira_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprintpulse/sprintsync/internal/jira"
	"github.com/sprintpulse/sprintsync/internal/jira/jiratest"
)

func makeIssues(n int) []jira.Issue {
	issues := make([]jira.Issue, 0, n)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		issues = append(issues, jiratest.NewIssue(fmt.Sprintf("WEB-%03d", i)).
			Updated(base.Add(time.Duration(i)*time.Minute)).
			Build())
	}
	return issues
}

func TestSearchIssues_Empty(t *testing.T) {
	srv := jiratest.NewServer()
	defer srv.Close()

	issues, err := srv.Client().SearchIssues(context.Background(), jira.BuildJQL("WEB", nil, nil), jira.SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestSearchIssues_PaginatesLegacy(t *testing.T) {
	srv := jiratest.NewServer()
	defer srv.Close()
	srv.SetIssues(makeIssues(25))

	c := srv.Client()
	c.PageSize = 10
	var pages int
	var total int
	err := c.SearchIssuesPaged(context.Background(), jira.BuildJQL("WEB", nil, nil), jira.SearchOptions{}, func(issues []jira.Issue) error {
		pages++
		total += len(issues)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, pages)
	assert.Equal(t, 25, total)
	assert.Equal(t, 3, srv.RequestCount("/rest/api/3/search"))

	q := srv.Requests()[0].Query
	assert.Equal(t, "changelog", q["expand"][0])
	assert.Contains(t, q["fields"][0], "customfield_10016")
	assert.Contains(t, q["fields"][0], "customfield_10020")
}

func TestSearchIssues_PaginatesJQL(t *testing.T) {
	srv := jiratest.NewServer()
	defer srv.Close()
	srv.SetIssues(makeIssues(25))

	c := srv.Client()
	c.SearchAPI = jira.SearchJQL
	c.PageSize = 10
	issues, err := c.SearchIssues(context.Background(), jira.BuildJQL("WEB", nil, nil), jira.SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, issues, 25)
	assert.Equal(t, 3, srv.RequestCount("/rest/api/3/search/jql"))
}

func TestSearchIssues_SinceFilter(t *testing.T) {
	srv := jiratest.NewServer()
	defer srv.Close()
	srv.SetIssues(makeIssues(10))

	since := time.Date(2024, 3, 1, 12, 6, 0, 0, time.UTC)
	issues, err := srv.Client().SearchIssues(context.Background(), jira.BuildJQL("WEB", &since, nil), jira.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, issues, 5)
	assert.Equal(t, "WEB-006", issues[0].Key)
}

func TestSearchIssues_StopsOnCallbackError(t *testing.T) {
	srv := jiratest.NewServer()
	defer srv.Close()
	srv.SetIssues(makeIssues(30))

	c := srv.Client()
	c.PageSize = 10
	stop := errors.New("stop")
	err := c.SearchIssuesPaged(context.Background(), "project = \"WEB\"", jira.SearchOptions{}, func([]jira.Issue) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, srv.RequestCount("/search"))
}

func TestRequestHeaders(t *testing.T) {
	srv := jiratest.NewServer()
	defer srv.Close()

	_, err := srv.Client().SearchIssues(context.Background(), "project = \"WEB\"", jira.SearchOptions{})
	require.NoError(t, err)

	h := srv.Requests()[0].Header
	assert.True(t, strings.HasPrefix(h.Get("Authorization"), "Basic "))
	assert.Equal(t, "application/json", h.Get("Accept"))
	assert.Equal(t, "sprintsync/1.0", h.Get("User-Agent"))

	bearer := jira.NewClient(srv.URL(), "", "pat-token")
	_, err = bearer.SearchIssues(context.Background(), "project = \"WEB\"", jira.SearchOptions{})
	require.NoError(t, err)
	reqs := srv.Requests()
	assert.Equal(t, "Bearer pat-token", reqs[len(reqs)-1].Header.Get("Authorization"))
}

func TestRetriesRateLimit(t *testing.T) {
	srv := jiratest.NewServer()
	defer srv.Close()
	srv.SetIssues(makeIssues(2))
	srv.FailNext(2, http.StatusTooManyRequests, "")

	issues, err := srv.Client().SearchIssues(context.Background(), "project = \"WEB\"", jira.SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, issues, 2)
	assert.Equal(t, 3, srv.RequestCount("/search"))
}

func TestRetriesServerErrorThenGivesUp(t *testing.T) {
	srv := jiratest.NewServer()
	defer srv.Close()
	srv.FailPath("/search", http.StatusBadGateway)

	_, err := srv.Client().SearchIssues(context.Background(), "project = \"WEB\"", jira.SearchOptions{})
	require.Error(t, err)

	var apiErr *jira.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	// one attempt plus MaxRetries
	assert.Equal(t, 4, srv.RequestCount("/search"))
}

func TestUnauthorizedIsPermanent(t *testing.T) {
	srv := jiratest.NewServer()
	defer srv.Close()
	srv.FailPath("/search", http.StatusUnauthorized)

	_, err := srv.Client().SearchIssues(context.Background(), "project = \"WEB\"", jira.SearchOptions{})
	assert.ErrorIs(t, err, jira.ErrUnauthorized)
	assert.Equal(t, 1, srv.RequestCount("/search"))
}

func TestProjectNotFound(t *testing.T) {
	srv := jiratest.NewServer()
	defer srv.Close()
	srv.AddProject("WEB", "Web App")

	p, err := srv.Client().Project(context.Background(), "WEB")
	require.NoError(t, err)
	assert.Equal(t, "Web App", p.Name)

	_, err = srv.Client().Project(context.Background(), "NOPE")
	assert.ErrorIs(t, err, jira.ErrNotFound)
}

func TestIssueChangelogPages(t *testing.T) {
	srv := jiratest.NewServer()
	defer srv.Close()

	b := jiratest.NewIssue("WEB-1")
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 150; i++ {
		from, to := "To Do", "In Progress"
		if i%2 == 1 {
			from, to = to, from
		}
		b.Transition(at.Add(time.Duration(i)*time.Hour), from, to)
	}
	srv.SetIssues([]jira.Issue{b.Build()})
	srv.EmbeddedChangelogLimit = 100

	issues, err := srv.Client().SearchIssues(context.Background(), "project = \"WEB\"", jira.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	require.True(t, issues[0].Changelog.Truncated())

	histories, err := srv.Client().IssueChangelog(context.Background(), "WEB-1")
	require.NoError(t, err)
	assert.Len(t, histories, 150)
	assert.Equal(t, 2, srv.RequestCount("/changelog"))
}

func TestBoardsAndSprints(t *testing.T) {
	srv := jiratest.NewServer()
	defer srv.Close()
	srv.AddBoard("WEB", jira.Board{ID: 1, Name: "WEB scrum", Type: "scrum"})
	srv.AddBoard("WEB", jira.Board{ID: 2, Name: "WEB kanban", Type: "kanban"})
	srv.SetSprints(1, []jira.Sprint{
		{ID: 11, Name: "Sprint 1", State: "closed"},
		{ID: 12, Name: "Sprint 2", State: "active"},
	})

	c := srv.Client()
	boards, err := c.Boards(context.Background(), "WEB")
	require.NoError(t, err)
	require.Len(t, boards, 2)

	sprints, err := c.Sprints(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, sprints, 2)

	sprints, err = c.Sprints(context.Background(), 2)
	require.NoError(t, err, "kanban boards yield no sprints")
	assert.Empty(t, sprints)
}

func TestContextCancelStopsSearch(t *testing.T) {
	srv := jiratest.NewServer()
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := srv.Client().SearchIssues(ctx, "project = \"WEB\"", jira.SearchOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewClientOptions(t *testing.T) {
	d := jira.NewClient("https://acme.atlassian.net/", "me", "tok")
	assert.Equal(t, "https://acme.atlassian.net", d.URL)
	assert.Equal(t, jira.DefaultFieldConfig(), d.Fields)
	assert.Equal(t, jira.DefaultRetryPolicy(), d.Retry)
	assert.Equal(t, jira.SearchLegacy, d.SearchAPI)
	assert.Equal(t, 30*time.Second, d.HTTPClient.Timeout)

	hc := &http.Client{}
	c := jira.NewClient("https://acme.atlassian.net", "me", "tok",
		jira.WithHTTPClient(hc),
		jira.WithTimeout(5*time.Second),
		jira.WithFields(jira.FieldConfig{StoryPoints: "customfield_10028"}),
		jira.WithPageSize(25),
		jira.WithRetry(jira.RetryPolicy{MaxRetries: 1}),
		jira.WithSearchAPI(jira.SearchJQL),
		jira.WithUserAgent("sprintsync/test"),
	)
	assert.Same(t, hc, c.HTTPClient)
	assert.Equal(t, 5*time.Second, c.HTTPClient.Timeout)
	assert.Equal(t, "customfield_10028", c.Fields.StoryPoints)
	assert.Equal(t, jira.DefaultFieldConfig().Sprint, c.Fields.Sprint, "empty ids keep defaults")
	assert.Equal(t, 25, c.PageSize)
	assert.Equal(t, uint64(1), c.Retry.MaxRetries)
	assert.Equal(t, jira.SearchJQL, c.SearchAPI)
	assert.Equal(t, "sprintsync/test", c.UserAgent)

	z := jira.NewClient("https://acme.atlassian.net", "me", "tok", jira.WithTimeout(0), jira.WithSearchAPI(""))
	assert.Equal(t, 30*time.Second, z.HTTPClient.Timeout)
	assert.Equal(t, jira.SearchLegacy, z.SearchAPI)
}

func TestUserAgentOptionIsSent(t *testing.T) {
	srv := jiratest.NewServer()
	defer srv.Close()
	srv.AddProject("WEB", "Web Store")

	c := jira.NewClient(srv.URL(), "user@example.com", "test-token", jira.WithUserAgent("sprintsync/9.9"))
	_, err := c.Project(context.Background(), "WEB")
	require.NoError(t, err)

	reqs := srv.Requests()
	require.NotEmpty(t, reqs)
	assert.Equal(t, "sprintsync/9.9", reqs[len(reqs)-1].Header.Get("User-Agent"))
}

func TestMissingCredentials(t *testing.T) {
	c := jira.NewClient("https://acme.atlassian.net", "me", "")
	_, err := c.SearchIssues(context.Background(), "project = \"WEB\"", jira.SearchOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API token not configured")
}
