// Package metrics aggregates synchronized issues into the sprint, developer
// and delivery tables read by the dashboard.
package metrics

import (
	"sort"
	"time"

	"github.com/sprintpulse/sprintsync/internal/types"
)

// completedIn reports whether the issue counts as delivered within the
// sprint: done, and for closed sprints done no later than the close.
func completedIn(sp *types.Sprint, is *types.Issue, tl timeline) bool {
	if !is.Status.IsDone() {
		return false
	}
	if sp.State != types.SprintClosed {
		return true
	}
	closed := sp.ClosedAt()
	done := doneAt(is, tl)
	if closed == nil || done == nil {
		return true
	}
	return !done.After(*closed)
}

// committed reports whether the issue was in scope when the sprint started.
// Unstarted sprints treat everything as committed.
func committed(sp *types.Sprint, is *types.Issue) bool {
	return sp.StartDate == nil || !is.CreatedAt.After(*sp.StartDate)
}

// carriedOver reports whether an unfinished issue also belongs to a sprint
// that starts after this one.
func carriedOver(sp *types.Sprint, is *types.Issue, byID map[int64]*types.Sprint) bool {
	if sp.StartDate == nil {
		return false
	}
	for _, id := range is.SprintIDs {
		if id == sp.ID {
			continue
		}
		other, ok := byID[id]
		if !ok {
			continue
		}
		if other.StartDate == nil || other.StartDate.After(*sp.StartDate) {
			return true
		}
	}
	return false
}

// CalculateSprintMetrics computes one row per sprint. Issues are the
// project's non-removed issues; changes its status history.
func CalculateSprintMetrics(sprints []*types.Sprint, issues []*types.Issue, changes []*types.StatusChange, now time.Time) []*types.SprintMetrics {
	byID := make(map[int64]*types.Sprint, len(sprints))
	for _, sp := range sprints {
		byID[sp.ID] = sp
	}
	members := membersBySprint(issues)
	tls := timelines(changes)

	out := make([]*types.SprintMetrics, 0, len(sprints))
	for _, sp := range sprints {
		m := &types.SprintMetrics{
			ProjectKey:     sp.ProjectKey,
			SprintID:       sp.ID,
			SprintName:     sp.Name,
			SprintState:    sp.State,
			StartDate:      sp.StartDate,
			EndDate:        sp.EndDate,
			PointsByStatus: make(map[types.Status]float64),
			IssuesByStatus: make(map[types.Status]int),
			CalculatedAt:   now,
		}
		for _, is := range members[sp.ID] {
			pts := is.Points()
			m.TotalIssues++
			if is.StoryPoints == nil {
				m.UnestimatedIssues++
			}
			if committed(sp, is) {
				m.CommittedIssues++
				m.CommittedPoints += pts
			} else {
				m.AddedIssues++
				m.AddedPoints += pts
			}
			m.PointsByStatus[is.Status] += pts
			m.IssuesByStatus[is.Status]++

			if completedIn(sp, is, tls[is.Key]) {
				m.CompletedIssues++
				m.CompletedPoints += pts
			} else if carriedOver(sp, is, byID) {
				m.CarryOverIssues++
			}
		}
		m.RemainingPoints = m.TotalPoints() - m.CompletedPoints
		if total := m.TotalPoints(); total > 0 {
			m.CompletionRate = round2(m.CompletedPoints / total)
		}
		out = append(out, m)
	}
	sortSprintRows(out)
	return out
}

func membersBySprint(issues []*types.Issue) map[int64][]*types.Issue {
	out := make(map[int64][]*types.Issue)
	for _, is := range issues {
		if is.Removed {
			continue
		}
		for _, id := range is.SprintIDs {
			out[id] = append(out[id], is)
		}
	}
	return out
}

func sortSprintRows(rows []*types.SprintMetrics) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].StartDate, rows[j].StartDate
		switch {
		case a == nil && b == nil:
			return rows[i].SprintID < rows[j].SprintID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return rows[i].SprintID < rows[j].SprintID
	})
}

// Velocity is the mean completed points of the last n closed sprints, by
// end date. Zero when no sprint has closed.
func Velocity(rows []*types.SprintMetrics, n int) float64 {
	var closed []*types.SprintMetrics
	for _, r := range rows {
		if r.SprintState == types.SprintClosed {
			closed = append(closed, r)
		}
	}
	if len(closed) == 0 || n <= 0 {
		return 0
	}
	sort.SliceStable(closed, func(i, j int) bool {
		a, b := closed[i].EndDate, closed[j].EndDate
		switch {
		case a == nil || b == nil:
			return b != nil
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return closed[i].SprintID < closed[j].SprintID
	})
	if len(closed) > n {
		closed = closed[len(closed)-n:]
	}
	pts := make([]float64, len(closed))
	for i, r := range closed {
		pts[i] = r.CompletedPoints
	}
	return round2(mean(pts))
}
