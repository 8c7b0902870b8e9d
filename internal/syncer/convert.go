package syncer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sprintpulse/sprintsync/internal/jira"
	"github.com/sprintpulse/sprintsync/internal/statusmap"
	"github.com/sprintpulse/sprintsync/internal/types"
)

// converted is one Jira issue flattened for storage.
type converted struct {
	Issue      *types.Issue
	Developers []*types.Developer
	// SprintRefs are the sprints named by the issue's sprint field.
	SprintRefs []jira.SprintRef
	Warnings   []string
}

// convertIssue maps a Jira issue onto types.Issue. Unreadable custom fields
// degrade to warnings; unreadable timestamps are errors because metrics
// depend on them.
func convertIssue(c *jira.Client, ji *jira.Issue, projectKey string, m *statusmap.Map) (*converted, error) {
	f := &ji.Fields
	out := &converted{}

	created, err := jira.ParseTimestamp(f.Created)
	if err != nil {
		return nil, fmt.Errorf("%s: created: %w", ji.Key, err)
	}
	updated, err := jira.ParseTimestamp(f.Updated)
	if err != nil {
		return nil, fmt.Errorf("%s: updated: %w", ji.Key, err)
	}
	resolved, err := jira.ParseOptionalTimestamp(f.ResolutionDate)
	if err != nil {
		return nil, fmt.Errorf("%s: resolutiondate: %w", ji.Key, err)
	}

	is := &types.Issue{
		Key:         ji.Key,
		JiraID:      ji.ID,
		ProjectKey:  projectKey,
		Summary:     f.Summary,
		Description: jira.DescriptionToPlainText(f.Description),
		Labels:      append([]string(nil), f.Labels...),
		CreatedAt:   created,
		UpdatedAt:   updated,
		ResolvedAt:  resolved,
		EpicKey:     c.EpicKey(ji),
	}
	if f.Project != nil && f.Project.Key != "" {
		is.ProjectKey = f.Project.Key
	}
	if f.IssueType != nil {
		is.IssueType = f.IssueType.Name
	}
	if f.Priority != nil {
		is.Priority = f.Priority.Name
	}
	if f.Status != nil {
		is.RawStatus = f.Status.Name
		is.StatusCategory = f.Status.CategoryKey()
	}
	is.Status = m.Normalize(is.RawStatus, is.StatusCategory)
	if f.Parent != nil && !f.Parent.IsEpic() {
		is.ParentKey = f.Parent.Key
	}

	if f.Assignee != nil && f.Assignee.ID() != "" {
		is.AssigneeID = f.Assignee.ID()
		is.AssigneeName = f.Assignee.DisplayName
		out.Developers = append(out.Developers, developer(f.Assignee))
	}
	if f.Reporter != nil && f.Reporter.ID() != "" {
		is.ReporterID = f.Reporter.ID()
		if is.ReporterID != is.AssigneeID {
			out.Developers = append(out.Developers, developer(f.Reporter))
		}
	}

	points, err := c.StoryPoints(ji)
	if err != nil {
		out.Warnings = append(out.Warnings, err.Error())
	}
	is.StoryPoints = points

	refs, err := c.SprintRefs(ji)
	if err != nil {
		out.Warnings = append(out.Warnings, err.Error())
	}
	out.SprintRefs = refs
	is.SprintIDs, is.CurrentSprintID = sprintMembership(refs)

	out.Issue = is
	return out, nil
}

func developer(u *jira.User) *types.Developer {
	return &types.Developer{
		AccountID:   u.ID(),
		DisplayName: u.DisplayName,
		Email:       u.EmailAddress,
		Active:      u.Active,
	}
}

// sprintMembership returns the sprint ids in field order and the current
// sprint: the active one if any, otherwise the last listed.
func sprintMembership(refs []jira.SprintRef) ([]int64, *int64) {
	if len(refs) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(refs))
	seen := make(map[int64]bool, len(refs))
	var current *int64
	for _, r := range refs {
		if r.ID == 0 || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		ids = append(ids, r.ID)
		if strings.EqualFold(r.State, string(types.SprintActive)) {
			id := r.ID
			current = &id
		}
	}
	if current == nil && len(ids) > 0 {
		id := ids[len(ids)-1]
		current = &id
	}
	return ids, current
}

// convertSprint maps an agile sprint. boardID and projectKey identify where
// it was listed.
func convertSprint(sp jira.Sprint, boardID int64, projectKey string) (*types.Sprint, error) {
	state := types.SprintState(strings.ToLower(sp.State))
	if !state.IsValid() {
		return nil, fmt.Errorf("sprint %d: unknown state %q", sp.ID, sp.State)
	}
	start, err := jira.ParseOptionalTimestamp(sp.StartDate)
	if err != nil {
		return nil, fmt.Errorf("sprint %d: start date: %w", sp.ID, err)
	}
	end, err := jira.ParseOptionalTimestamp(sp.EndDate)
	if err != nil {
		return nil, fmt.Errorf("sprint %d: end date: %w", sp.ID, err)
	}
	complete, err := jira.ParseOptionalTimestamp(sp.CompleteDate)
	if err != nil {
		return nil, fmt.Errorf("sprint %d: complete date: %w", sp.ID, err)
	}
	if sp.OriginBoardID != 0 {
		boardID = sp.OriginBoardID
	}
	return &types.Sprint{
		ID:           sp.ID,
		BoardID:      boardID,
		ProjectKey:   projectKey,
		Name:         sp.Name,
		State:        state,
		Goal:         sp.Goal,
		StartDate:    start,
		EndDate:      end,
		CompleteDate: complete,
	}, nil
}

// sprintFromRef builds a sprint from the copy embedded in an issue's sprint
// field, for sprints whose board is not visible to the project.
func sprintFromRef(r jira.SprintRef, projectKey string) (*types.Sprint, error) {
	return convertSprint(jira.Sprint{
		ID:           r.ID,
		Name:         r.Name,
		State:        r.State,
		Goal:         r.Goal,
		StartDate:    r.StartDate,
		EndDate:      r.EndDate,
		CompleteDate: r.CompleteDate,
	}, r.BoardID, projectKey)
}

// statusChanges extracts status transitions from changelog histories. A
// history with several status items (rare, bulk moves) yields ids
// "<history>", "<history>.1", ... Names the map does not know fall back on
// the category in cats.
func statusChanges(issueKey, projectKey string, histories []jira.History, m *statusmap.Map, cats statusmap.Categories) ([]*types.StatusChange, error) {
	var out []*types.StatusChange
	for _, h := range histories {
		n := 0
		for _, item := range h.Items {
			if !item.IsStatus() {
				continue
			}
			at, err := jira.ParseTimestamp(h.Created)
			if err != nil {
				return nil, fmt.Errorf("%s: history %s: %w", issueKey, h.ID, err)
			}
			id := h.ID
			if n > 0 {
				id += "." + strconv.Itoa(n)
			}
			n++
			out = append(out, &types.StatusChange{
				IssueKey:       issueKey,
				ProjectKey:     projectKey,
				ChangeID:       id,
				FromStatus:     item.FromString,
				ToStatus:       item.ToString,
				FromNormalized: m.Normalize(item.FromString, cats.Of(item.FromString)),
				ToNormalized:   m.Normalize(item.ToString, cats.Of(item.ToString)),
				AuthorID:       h.Author.ID(),
				ChangedAt:      at,
			})
		}
	}
	return out, nil
}
