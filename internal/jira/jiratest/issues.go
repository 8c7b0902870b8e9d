package jiratest

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/sprintpulse/sprintsync/internal/jira"
)

// TimeLayout is the layout Jira uses for issue timestamps.
const TimeLayout = "2006-01-02T15:04:05.000-0700"

// IssueBuilder assembles jira.Issue values with the default custom field ids.
type IssueBuilder struct {
	issue  jira.Issue
	fields jira.FieldConfig
	nextID int
}

// NewIssue starts an issue in "To Do" with type Story, created and updated
// at 2024-01-01 09:00 UTC.
func NewIssue(key string) *IssueBuilder {
	project, id := key, 10000
	if i := strings.LastIndex(key, "-"); i > 0 {
		project = key[:i]
		if n, err := strconv.Atoi(key[i+1:]); err == nil {
			id += n
		}
	}
	ts := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC).Format(TimeLayout)
	b := &IssueBuilder{
		fields: jira.DefaultFieldConfig(),
		nextID: 1,
	}
	b.issue = jira.Issue{
		ID:  strconv.Itoa(id),
		Key: key,
		Fields: jira.IssueFields{
			Summary:   key + " summary",
			Status:    &jira.Status{ID: "1", Name: "To Do", StatusCategory: &jira.StatusCategory{Key: "new"}},
			IssueType: &jira.IssueType{ID: "10001", Name: "Story"},
			Project:   &jira.ProjectRef{ID: "10000", Key: project},
			Created:   ts,
			Updated:   ts,
			Custom:    map[string]json.RawMessage{},
		},
	}
	return b
}

// Summary sets the summary.
func (b *IssueBuilder) Summary(s string) *IssueBuilder {
	b.issue.Fields.Summary = s
	return b
}

// Description sets a one paragraph ADF description.
func (b *IssueBuilder) Description(text string) *IssueBuilder {
	doc := map[string]interface{}{
		"type":    "doc",
		"version": 1,
		"content": []interface{}{
			map[string]interface{}{
				"type":    "paragraph",
				"content": []interface{}{map[string]interface{}{"type": "text", "text": text}},
			},
		},
	}
	raw, _ := json.Marshal(doc)
	b.issue.Fields.Description = raw
	return b
}

// Status sets the workflow status and its category key.
func (b *IssueBuilder) Status(name, category string) *IssueBuilder {
	b.issue.Fields.Status = &jira.Status{ID: "1", Name: name, StatusCategory: &jira.StatusCategory{Key: category}}
	return b
}

// Type sets the issue type name.
func (b *IssueBuilder) Type(name string) *IssueBuilder {
	b.issue.Fields.IssueType = &jira.IssueType{ID: "10001", Name: name}
	return b
}

// Priority sets the priority name.
func (b *IssueBuilder) Priority(name string) *IssueBuilder {
	b.issue.Fields.Priority = &jira.Priority{ID: "3", Name: name}
	return b
}

// Labels sets the labels.
func (b *IssueBuilder) Labels(labels ...string) *IssueBuilder {
	b.issue.Fields.Labels = labels
	return b
}

// Assignee sets the assignee.
func (b *IssueBuilder) Assignee(accountID, name string) *IssueBuilder {
	b.issue.Fields.Assignee = &jira.User{AccountID: accountID, DisplayName: name, Active: true}
	return b
}

// Reporter sets the reporter.
func (b *IssueBuilder) Reporter(accountID, name string) *IssueBuilder {
	b.issue.Fields.Reporter = &jira.User{AccountID: accountID, DisplayName: name, Active: true}
	return b
}

// Points sets the story points field.
func (b *IssueBuilder) Points(p float64) *IssueBuilder {
	raw, _ := json.Marshal(p)
	b.issue.Fields.Custom[b.fields.StoryPoints] = raw
	return b
}

// Sprints sets the sprint field in the Cloud object format.
func (b *IssueBuilder) Sprints(refs ...jira.SprintRef) *IssueBuilder {
	raw, _ := json.Marshal(refs)
	b.issue.Fields.Custom[b.fields.Sprint] = raw
	return b
}

// Epic sets an epic parent.
func (b *IssueBuilder) Epic(key string) *IssueBuilder {
	b.issue.Fields.Parent = &jira.ParentRef{
		ID:     "20000",
		Key:    key,
		Fields: &jira.ParentStub{IssueType: &jira.IssueType{Name: "Epic"}},
	}
	return b
}

// Created sets the creation time.
func (b *IssueBuilder) Created(t time.Time) *IssueBuilder {
	b.issue.Fields.Created = t.Format(TimeLayout)
	return b
}

// Updated sets the last update time.
func (b *IssueBuilder) Updated(t time.Time) *IssueBuilder {
	b.issue.Fields.Updated = t.Format(TimeLayout)
	return b
}

// Resolved sets the resolution date.
func (b *IssueBuilder) Resolved(t time.Time) *IssueBuilder {
	b.issue.Fields.ResolutionDate = t.Format(TimeLayout)
	return b
}

// Transition appends a status change to the changelog.
func (b *IssueBuilder) Transition(at time.Time, from, to string) *IssueBuilder {
	if b.issue.Changelog == nil {
		b.issue.Changelog = &jira.Changelog{}
	}
	h := jira.History{
		ID:      b.issue.Key + "-h" + strconv.Itoa(b.nextID),
		Author:  &jira.User{AccountID: "acc-bot", DisplayName: "Automation"},
		Created: at.Format(TimeLayout),
		Items: []jira.ChangeItem{{
			Field:      "status",
			FieldType:  "jira",
			FieldID:    "status",
			FromString: from,
			ToString:   to,
		}},
	}
	b.nextID++
	b.issue.Changelog.Histories = append(b.issue.Changelog.Histories, h)
	b.issue.Changelog.Total = len(b.issue.Changelog.Histories)
	b.issue.Changelog.MaxResults = len(b.issue.Changelog.Histories)
	return b
}

// Build returns the issue.
func (b *IssueBuilder) Build() jira.Issue {
	return b.issue
}
