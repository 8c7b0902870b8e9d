// Package types defines the data structures synchronized from Jira and the
// metric rows derived from them.
package types

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Project is a Jira project tracked by the pipeline.
type Project struct {
	Key          string     `json:"key"`
	Name         string     `json:"name"`
	JiraID       string     `json:"jira_id,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

// SprintState mirrors the Jira agile sprint lifecycle.
type SprintState string

const (
	SprintFuture SprintState = "future"
	SprintActive SprintState = "active"
	SprintClosed SprintState = "closed"
)

// IsValid reports whether the state is one Jira emits.
func (s SprintState) IsValid() bool {
	switch s {
	case SprintFuture, SprintActive, SprintClosed:
		return true
	}
	return false
}

// Sprint is a Jira agile sprint. ID is the Jira sprint id and is the natural key.
type Sprint struct {
	ID           int64       `json:"id"`
	BoardID      int64       `json:"board_id"`
	ProjectKey   string      `json:"project_key"`
	Name         string      `json:"name"`
	State        SprintState `json:"state"`
	Goal         string      `json:"goal,omitempty"`
	StartDate    *time.Time  `json:"start_date,omitempty"`
	EndDate      *time.Time  `json:"end_date,omitempty"`
	CompleteDate *time.Time  `json:"complete_date,omitempty"`
}

// ClosedAt returns the moment the sprint stopped accepting work: the
// completion date when Jira recorded one, otherwise the planned end date.
func (s *Sprint) ClosedAt() *time.Time {
	if s.CompleteDate != nil {
		return s.CompleteDate
	}
	return s.EndDate
}

// Developer is a Jira user that appears as assignee or reporter.
type Developer struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Active      bool   `json:"active"`
}

// Issue is a Jira issue flattened for storage. Key ("PROJ-123") is the
// natural key.
type Issue struct {
	Key             string     `json:"key"`
	JiraID          string     `json:"jira_id"`
	ProjectKey      string     `json:"project_key"`
	Summary         string     `json:"summary"`
	Description     string     `json:"description,omitempty"`
	IssueType       string     `json:"issue_type"`
	Priority        string     `json:"priority,omitempty"`
	RawStatus       string     `json:"raw_status"`
	StatusCategory  string     `json:"status_category,omitempty"`
	Status          Status     `json:"status"`
	AssigneeID      string     `json:"assignee_id,omitempty"`
	AssigneeName    string     `json:"assignee_name,omitempty"`
	ReporterID      string     `json:"reporter_id,omitempty"`
	StoryPoints     *float64   `json:"story_points,omitempty"`
	SprintIDs       []int64    `json:"sprint_ids,omitempty"`
	CurrentSprintID *int64     `json:"current_sprint_id,omitempty"`
	EpicKey         string     `json:"epic_key,omitempty"`
	ParentKey       string     `json:"parent_key,omitempty"`
	Labels          []string   `json:"labels,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	Removed         bool       `json:"removed,omitempty"`
	ContentHash     string     `json:"-"`
}

// Points returns the story point estimate, or zero when the issue is unestimated.
func (i *Issue) Points() float64 {
	if i.StoryPoints == nil {
		return 0
	}
	return *i.StoryPoints
}

// InSprint reports whether the issue was ever part of the given sprint.
func (i *Issue) InSprint(id int64) bool {
	for _, s := range i.SprintIDs {
		if s == id {
			return true
		}
	}
	return false
}

// ComputeContentHash hashes every synchronized field except timestamps that
// Jira bumps without a content change. Upserts compare hashes to avoid
// rewriting identical rows.
func (i *Issue) ComputeContentHash() string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}

	write(i.Key)
	write(i.ProjectKey)
	write(i.Summary)
	write(i.Description)
	write(i.IssueType)
	write(i.Priority)
	write(i.RawStatus)
	write(i.StatusCategory)
	write(string(i.Status))
	write(i.AssigneeID)
	write(i.ReporterID)
	if i.StoryPoints != nil {
		write(strconv.FormatFloat(*i.StoryPoints, 'f', -1, 64))
	} else {
		write("")
	}
	sprints := append([]int64(nil), i.SprintIDs...)
	sort.Slice(sprints, func(a, b int) bool { return sprints[a] < sprints[b] })
	for _, id := range sprints {
		write(strconv.FormatInt(id, 10))
	}
	write("|")
	if i.CurrentSprintID != nil {
		write(strconv.FormatInt(*i.CurrentSprintID, 10))
	} else {
		write("")
	}
	write(i.EpicKey)
	write(i.ParentKey)
	labels := append([]string(nil), i.Labels...)
	sort.Strings(labels)
	write(strings.Join(labels, ","))
	if i.ResolvedAt != nil {
		write(i.ResolvedAt.UTC().Format(time.RFC3339))
	} else {
		write("")
	}
	if i.Removed {
		write("removed")
	} else {
		write("")
	}

	return fmt.Sprintf("%x", h.Sum(nil))
}

// StatusChange is one status transition taken from an issue changelog.
// (IssueKey, ChangeID) is the natural key; re-recording is a no-op.
type StatusChange struct {
	IssueKey       string    `json:"issue_key"`
	ProjectKey     string    `json:"project_key"`
	ChangeID       string    `json:"change_id"`
	FromStatus     string    `json:"from_status"`
	ToStatus       string    `json:"to_status"`
	FromNormalized Status    `json:"from_normalized"`
	ToNormalized   Status    `json:"to_normalized"`
	AuthorID       string    `json:"author_id,omitempty"`
	ChangedAt      time.Time `json:"changed_at"`
}

// IssueFilter narrows ListIssues. Zero values mean "no filter".
type IssueFilter struct {
	ProjectKey     string
	SprintID       *int64
	AssigneeID     string
	Status         *Status
	IncludeRemoved bool
	UpdatedSince   *time.Time
}

// Matches applies the filter to a single issue.
func (f IssueFilter) Matches(i *Issue) bool {
	if f.ProjectKey != "" && i.ProjectKey != f.ProjectKey {
		return false
	}
	if !f.IncludeRemoved && i.Removed {
		return false
	}
	if f.SprintID != nil && !i.InSprint(*f.SprintID) {
		return false
	}
	if f.AssigneeID != "" && i.AssigneeID != f.AssigneeID {
		return false
	}
	if f.Status != nil && i.Status != *f.Status {
		return false
	}
	if f.UpdatedSince != nil && i.UpdatedAt.Before(*f.UpdatedSince) {
		return false
	}
	return true
}
