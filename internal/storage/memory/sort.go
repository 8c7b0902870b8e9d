package memory

import (
	"sort"

	"github.com/sprintpulse/sprintsync/internal/types"
)

// The orderings below match the ORDER BY clauses of the postgres store.

func sortSprints(s []*types.Sprint) {
	sort.Slice(s, func(i, j int) bool {
		a, b := s[i].StartDate, s[j].StartDate
		switch {
		case a == nil && b == nil:
			return s[i].ID < s[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return s[i].ID < s[j].ID
	})
}

func sortIssues(s []*types.Issue) {
	sort.Slice(s, func(i, j int) bool {
		if !s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].CreatedAt.Before(s[j].CreatedAt)
		}
		return s[i].Key < s[j].Key
	})
}

func sortStatusChanges(s []*types.StatusChange) {
	sort.Slice(s, func(i, j int) bool {
		if !s[i].ChangedAt.Equal(s[j].ChangedAt) {
			return s[i].ChangedAt.Before(s[j].ChangedAt)
		}
		if s[i].IssueKey != s[j].IssueKey {
			return s[i].IssueKey < s[j].IssueKey
		}
		return s[i].ChangeID < s[j].ChangeID
	})
}

func sortSprintMetrics(s []*types.SprintMetrics) {
	sort.Slice(s, func(i, j int) bool {
		a, b := s[i].StartDate, s[j].StartDate
		switch {
		case a == nil && b == nil:
			return s[i].SprintID < s[j].SprintID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return s[i].SprintID < s[j].SprintID
	})
}

func sortDeveloperMetrics(s []*types.DeveloperMetrics) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].SprintID != s[j].SprintID {
			return s[i].SprintID < s[j].SprintID
		}
		if s[i].DeveloperName != s[j].DeveloperName {
			return s[i].DeveloperName < s[j].DeveloperName
		}
		return s[i].DeveloperID < s[j].DeveloperID
	})
}
