// Package jiratest provides an in-process fake of the Jira REST and agile
// APIs for tests.
package jiratest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sprintpulse/sprintsync/internal/jira"
)

// RecordedRequest stores information about a request made to the server.
type RecordedRequest struct {
	Method string
	Path   string
	Query  map[string][]string
	Header http.Header
}

type failure struct {
	status     int
	retryAfter string
}

// Server is a fake Jira. Zero configuration serves an empty site.
type Server struct {
	Server *httptest.Server

	mu         sync.Mutex
	requests   []RecordedRequest
	projects   map[string]jira.Project
	issues     []jira.Issue
	changelogs map[string][]jira.History
	boards     map[string][]jira.Board
	sprints    map[int64][]jira.Sprint
	kanban     map[int64]bool
	failures   []failure
	failPaths  map[string]int

	// EmbeddedChangelogLimit caps the histories embedded in search results,
	// like Jira's 100. Tests lower it to exercise changelog paging.
	EmbeddedChangelogLimit int
}

// NewServer starts a fake Jira.
func NewServer() *Server {
	s := &Server{
		projects:               make(map[string]jira.Project),
		changelogs:             make(map[string][]jira.History),
		boards:                 make(map[string][]jira.Board),
		sprints:                make(map[int64][]jira.Sprint),
		kanban:                 make(map[int64]bool),
		failPaths:              make(map[string]int),
		EmbeddedChangelogLimit: 100,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the server base URL.
func (s *Server) URL() string { return s.Server.URL }

// Close shuts the server down.
func (s *Server) Close() { s.Server.Close() }

// Client returns a client pointed at the server with fast retries.
func (s *Server) Client() *jira.Client {
	return jira.NewClient(s.URL(), "user@example.com", "test-token",
		jira.WithRetry(jira.RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxElapsed: time.Second}))
}

// AddProject registers a project.
func (s *Server) AddProject(key, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[key] = jira.Project{ID: strconv.Itoa(10000 + len(s.projects)), Key: key, Name: name}
}

// SetIssues replaces the issue set. Embedded changelogs are treated as the
// full history of each issue.
func (s *Server) SetIssues(issues []jira.Issue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues = append([]jira.Issue(nil), issues...)
	s.changelogs = make(map[string][]jira.History)
	for _, is := range issues {
		if is.Changelog != nil {
			s.changelogs[is.Key] = is.Changelog.Histories
		}
	}
}

// UpsertIssue replaces the issue with the same key or appends it.
func (s *Server) UpsertIssue(issue jira.Issue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if issue.Changelog != nil {
		s.changelogs[issue.Key] = issue.Changelog.Histories
	}
	for i := range s.issues {
		if s.issues[i].Key == issue.Key {
			s.issues[i] = issue
			return
		}
	}
	s.issues = append(s.issues, issue)
}

// DeleteIssue removes an issue, as when it is deleted or moved in Jira.
func (s *Server) DeleteIssue(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.issues {
		if s.issues[i].Key == key {
			s.issues = append(s.issues[:i], s.issues[i+1:]...)
			return
		}
	}
}

// AddBoard registers a board for a project. Kanban boards answer 400 to
// sprint listing, like Jira.
func (s *Server) AddBoard(projectKey string, board jira.Board) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if board.Location == nil {
		board.Location = &jira.BoardLocation{ProjectKey: projectKey}
	}
	s.boards[projectKey] = append(s.boards[projectKey], board)
	if board.Type == "kanban" {
		s.kanban[board.ID] = true
	}
}

// SetSprints sets the sprints of a board.
func (s *Server) SetSprints(boardID int64, sprints []jira.Sprint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sprints[boardID] = append([]jira.Sprint(nil), sprints...)
}

// FailNext makes the next n requests answer status. A non-empty retryAfter
// is sent as the Retry-After header.
func (s *Server) FailNext(n, status int, retryAfter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.failures = append(s.failures, failure{status: status, retryAfter: retryAfter})
	}
}

// FailPath makes every request whose path contains substr answer status.
func (s *Server) FailPath(substr string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPaths[substr] = status
}

// Requests returns a copy of the recorded requests.
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// RequestCount counts recorded requests whose path contains substr.
func (s *Server) RequestCount(substr string) int {
	n := 0
	for _, r := range s.Requests() {
		if strings.Contains(r.Path, substr) {
			n++
		}
	}
	return n
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
	})
	if len(s.failures) > 0 {
		f := s.failures[0]
		s.failures = s.failures[1:]
		s.mu.Unlock()
		if f.retryAfter != "" {
			w.Header().Set("Retry-After", f.retryAfter)
		}
		writeError(w, f.status, "injected failure")
		return
	}
	for substr, status := range s.failPaths {
		if strings.Contains(r.URL.Path, substr) {
			s.mu.Unlock()
			writeError(w, status, "injected failure")
			return
		}
	}
	s.mu.Unlock()

	if r.Header.Get("Authorization") == "" {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	path := r.URL.Path
	switch {
	case path == "/rest/api/3/search":
		s.handleLegacySearch(w, r)
	case path == "/rest/api/3/search/jql":
		s.handleJQLSearch(w, r)
	case strings.HasPrefix(path, "/rest/api/3/issue/") && strings.HasSuffix(path, "/changelog"):
		s.handleChangelog(w, r)
	case strings.HasPrefix(path, "/rest/api/3/project/"):
		s.handleProject(w, r)
	case path == "/rest/agile/1.0/board":
		s.handleBoards(w, r)
	case strings.HasPrefix(path, "/rest/agile/1.0/board/") && strings.HasSuffix(path, "/sprint"):
		s.handleSprints(w, r)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

var (
	projectClause = regexp.MustCompile(`project = "((?:[^"\\]|\\.)*)"`)
	updatedClause = regexp.MustCompile(`updated >= "([0-9]{4}-[0-9]{2}-[0-9]{2} [0-9]{2}:[0-9]{2})"`)
)

// match evaluates the subset of JQL that BuildJQL produces.
func (s *Server) match(jql string) ([]jira.Issue, error) {
	var project string
	if m := projectClause.FindStringSubmatch(jql); m != nil {
		project = m[1]
	}
	var since *time.Time
	if m := updatedClause.FindStringSubmatch(jql); m != nil {
		t, err := time.Parse("2006-01-02 15:04", m[1])
		if err != nil {
			return nil, err
		}
		since = &t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []jira.Issue
	for _, is := range s.issues {
		if project != "" && is.Fields.Project != nil && is.Fields.Project.Key != project {
			continue
		}
		if project != "" && is.Fields.Project == nil && !strings.HasPrefix(is.Key, project+"-") {
			continue
		}
		if since != nil {
			updated, err := jira.ParseTimestamp(is.Fields.Updated)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", is.Key, err)
			}
			if updated.Before(*since) {
				continue
			}
		}
		out = append(out, s.withEmbeddedChangelog(is, true))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Fields.Updated < out[j].Fields.Updated })
	return out, nil
}

func (s *Server) withEmbeddedChangelog(is jira.Issue, expand bool) jira.Issue {
	if !expand {
		is.Changelog = nil
		return is
	}
	full := s.changelogs[is.Key]
	embedded := full
	if s.EmbeddedChangelogLimit >= 0 && len(embedded) > s.EmbeddedChangelogLimit {
		embedded = embedded[:s.EmbeddedChangelogLimit]
	}
	is.Changelog = &jira.Changelog{
		StartAt:    0,
		MaxResults: len(embedded),
		Total:      len(full),
		Histories:  embedded,
	}
	return is
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) ([]jira.Issue, int, bool) {
	q := r.URL.Query()
	matched, err := s.match(q.Get("jql"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, 0, false
	}
	if !strings.Contains(q.Get("expand"), "changelog") {
		for i := range matched {
			matched[i].Changelog = nil
		}
	}
	size, _ := strconv.Atoi(q.Get("maxResults"))
	if size <= 0 || size > jira.MaxPageSize {
		size = jira.DefaultPageSize
	}
	return matched, size, true
}

func (s *Server) handleLegacySearch(w http.ResponseWriter, r *http.Request) {
	matched, size, ok := s.search(w, r)
	if !ok {
		return
	}
	start, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
	writeJSON(w, jira.SearchResult{
		StartAt:    start,
		MaxResults: size,
		Total:      len(matched),
		Issues:     window(matched, start, size),
	})
}

func (s *Server) handleJQLSearch(w http.ResponseWriter, r *http.Request) {
	matched, size, ok := s.search(w, r)
	if !ok {
		return
	}
	start := 0
	if tok := r.URL.Query().Get("nextPageToken"); tok != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(tok, "page-"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad nextPageToken")
			return
		}
		start = n
	}
	res := jira.JQLSearchResult{Issues: window(matched, start, size)}
	if next := start + size; next < len(matched) {
		res.NextPageToken = "page-" + strconv.Itoa(next)
	} else {
		res.IsLast = true
	}
	writeJSON(w, res)
}

func (s *Server) handleChangelog(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/rest/api/3/issue/"), "/changelog")
	s.mu.Lock()
	full, ok := s.changelogs[key]
	if !ok {
		for _, is := range s.issues {
			if is.Key == key {
				ok = true
				break
			}
		}
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Issue does not exist or you do not have permission to see it.")
		return
	}

	q := r.URL.Query()
	start, _ := strconv.Atoi(q.Get("startAt"))
	size, _ := strconv.Atoi(q.Get("maxResults"))
	if size <= 0 {
		size = jira.MaxPageSize
	}
	values := window(full, start, size)
	writeJSON(w, jira.ChangelogPage{
		StartAt:    start,
		MaxResults: size,
		Total:      len(full),
		IsLast:     start+len(values) >= len(full),
		Values:     values,
	})
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/rest/api/3/project/")
	s.mu.Lock()
	p, ok := s.projects[key]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "No project could be found with key '"+key+"'.")
		return
	}
	writeJSON(w, p)
}

func (s *Server) handleBoards(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.mu.Lock()
	boards := append([]jira.Board(nil), s.boards[q.Get("projectKeyOrId")]...)
	s.mu.Unlock()
	writePage(w, q, boards)
}

func (s *Server) handleSprints(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/rest/agile/1.0/board/"), "/sprint")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad board id")
		return
	}
	s.mu.Lock()
	kanban := s.kanban[id]
	sprints := append([]jira.Sprint(nil), s.sprints[id]...)
	s.mu.Unlock()
	if kanban {
		writeError(w, http.StatusBadRequest, "The board does not support sprints")
		return
	}
	writePage(w, r.URL.Query(), sprints)
}

func writePage[T any](w http.ResponseWriter, q map[string][]string, all []T) {
	get := func(k string) string {
		if v := q[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	start, _ := strconv.Atoi(get("startAt"))
	size, _ := strconv.Atoi(get("maxResults"))
	if size <= 0 {
		size = 50
	}
	values := window(all, start, size)
	writeJSON(w, map[string]interface{}{
		"startAt":    start,
		"maxResults": size,
		"total":      len(all),
		"isLast":     start+len(values) >= len(all),
		"values":     values,
	})
}

func window[T any](all []T, start, size int) []T {
	if start >= len(all) {
		return []T{}
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string][]string{"errorMessages": {msg}})
}
