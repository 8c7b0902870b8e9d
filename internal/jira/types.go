// Package jira is a REST client for the Jira Cloud/Server issue search,
// changelog and agile (board/sprint) APIs.
package jira

import (
	"encoding/json"
	"strings"
)

// API constants
const (
	DefaultPageSize = 100
	MaxPageSize     = 100
)

// Issue represents a Jira issue from the REST API.
type Issue struct {
	ID        string      `json:"id"`
	Key       string      `json:"key"` // e.g., "PROJ-123"
	Self      string      `json:"self,omitempty"`
	Fields    IssueFields `json:"fields"`
	Changelog *Changelog  `json:"changelog,omitempty"`
}

// IssueFields contains the issue field values. Custom fields
// (customfield_NNNNN) are kept raw in Custom because their shape depends on
// the site's configuration.
type IssueFields struct {
	Summary        string          `json:"summary"`
	Description    json.RawMessage `json:"description,omitempty"` // ADF document (v3) or plain string
	Status         *Status         `json:"status,omitempty"`
	Priority       *Priority       `json:"priority,omitempty"`
	IssueType      *IssueType      `json:"issuetype,omitempty"`
	Project        *ProjectRef     `json:"project,omitempty"`
	Assignee       *User           `json:"assignee,omitempty"`
	Reporter       *User           `json:"reporter,omitempty"`
	Labels         []string        `json:"labels,omitempty"`
	Created        string          `json:"created,omitempty"`
	Updated        string          `json:"updated,omitempty"`
	ResolutionDate string          `json:"resolutiondate,omitempty"`
	Parent         *ParentRef      `json:"parent,omitempty"`

	Custom map[string]json.RawMessage `json:"-"`
}

// issueFieldsAlias breaks the (Un)MarshalJSON recursion.
type issueFieldsAlias IssueFields

// UnmarshalJSON decodes the modelled fields and captures every customfield_*.
func (f *IssueFields) UnmarshalJSON(data []byte) error {
	var a issueFieldsAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	*f = IssueFields(a)
	for k, v := range all {
		if !strings.HasPrefix(k, "customfield_") {
			continue
		}
		if f.Custom == nil {
			f.Custom = make(map[string]json.RawMessage)
		}
		f.Custom[k] = v
	}
	return nil
}

// MarshalJSON emits the modelled fields with custom fields inlined, matching
// the wire format.
func (f IssueFields) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(issueFieldsAlias(f))
	if err != nil {
		return nil, err
	}
	if len(f.Custom) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range f.Custom {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Status represents a Jira workflow status.
type Status struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	StatusCategory *StatusCategory `json:"statusCategory,omitempty"`
}

// CategoryKey returns the status category key ("new", "indeterminate", "done").
func (s *Status) CategoryKey() string {
	if s == nil || s.StatusCategory == nil {
		return ""
	}
	return s.StatusCategory.Key
}

// StatusCategory represents a Jira status category.
type StatusCategory struct {
	ID   int    `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Priority represents a Jira priority.
type Priority struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IssueType represents a Jira issue type.
type IssueType struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subtask bool   `json:"subtask"`
}

// ProjectRef is the project stub embedded in issues.
type ProjectRef struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// Project is the full project resource.
type Project struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// User represents a Jira user.
type User struct {
	AccountID    string `json:"accountId,omitempty"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress,omitempty"`
	Active       bool   `json:"active"`
	Name         string `json:"name,omitempty"` // Server/DC only
}

// ID returns the stable user identifier: accountId on Cloud, name on Server/DC.
func (u *User) ID() string {
	if u == nil {
		return ""
	}
	if u.AccountID != "" {
		return u.AccountID
	}
	return u.Name
}

// ParentRef is a reference to a parent issue (subtask parent or epic on
// team-managed projects).
type ParentRef struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Fields *ParentStub `json:"fields,omitempty"`
}

// ParentStub carries the parent's issue type, used to tell epics from
// subtask parents.
type ParentStub struct {
	IssueType *IssueType `json:"issuetype,omitempty"`
}

// IsEpic reports whether the parent is an epic.
func (p *ParentRef) IsEpic() bool {
	return p != nil && p.Fields != nil && p.Fields.IssueType != nil &&
		strings.EqualFold(p.Fields.IssueType.Name, "Epic")
}

// Changelog is the changelog embedded by expand=changelog. It holds at most
// 100 histories; Total tells whether it was truncated.
type Changelog struct {
	StartAt    int       `json:"startAt"`
	MaxResults int       `json:"maxResults"`
	Total      int       `json:"total"`
	Histories  []History `json:"histories"`
}

// Truncated reports whether more histories exist than were embedded.
func (c *Changelog) Truncated() bool {
	return c != nil && c.Total > len(c.Histories)
}

// History is one changelog entry: a set of field changes made at once.
type History struct {
	ID      string       `json:"id"`
	Author  *User        `json:"author,omitempty"`
	Created string       `json:"created"`
	Items   []ChangeItem `json:"items"`
}

// ChangeItem is a single field change inside a history.
type ChangeItem struct {
	Field      string `json:"field"`
	FieldType  string `json:"fieldtype,omitempty"`
	FieldID    string `json:"fieldId,omitempty"`
	From       string `json:"from,omitempty"`
	FromString string `json:"fromString,omitempty"`
	To         string `json:"to,omitempty"`
	ToString   string `json:"toString,omitempty"`
}

// IsStatus reports whether the item records a workflow status change.
func (c ChangeItem) IsStatus() bool {
	return c.FieldID == "status" || (c.FieldID == "" && strings.EqualFold(c.Field, "status"))
}

// SearchResult is the legacy /search response (startAt pagination).
type SearchResult struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}

// JQLSearchResult is the /search/jql response (token pagination).
type JQLSearchResult struct {
	Issues        []Issue `json:"issues"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
	IsLast        bool    `json:"isLast"`
}

// ChangelogPage is the /issue/{key}/changelog response.
type ChangelogPage struct {
	StartAt    int       `json:"startAt"`
	MaxResults int       `json:"maxResults"`
	Total      int       `json:"total"`
	IsLast     bool      `json:"isLast"`
	Values     []History `json:"values"`
}

// Board is an agile board.
type Board struct {
	ID       int64          `json:"id"`
	Name     string         `json:"name"`
	Type     string         `json:"type"` // scrum, kanban, simple
	Location *BoardLocation `json:"location,omitempty"`
}

// BoardLocation ties a board to its project.
type BoardLocation struct {
	ProjectID  int64  `json:"projectId,omitempty"`
	ProjectKey string `json:"projectKey,omitempty"`
}

// Sprint is an agile sprint resource.
type Sprint struct {
	ID            int64  `json:"id"`
	Self          string `json:"self,omitempty"`
	State         string `json:"state"`
	Name          string `json:"name"`
	StartDate     string `json:"startDate,omitempty"`
	EndDate       string `json:"endDate,omitempty"`
	CompleteDate  string `json:"completeDate,omitempty"`
	OriginBoardID int64  `json:"originBoardId,omitempty"`
	Goal          string `json:"goal,omitempty"`
}

// page is the common shape of agile list responses.
type page[T any] struct {
	MaxResults int  `json:"maxResults"`
	StartAt    int  `json:"startAt"`
	Total      int  `json:"total"`
	IsLast     bool `json:"isLast"`
	Values     []T  `json:"values"`
}
