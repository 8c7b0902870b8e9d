package metrics

import (
	"sort"
	"time"

	"github.com/sprintpulse/sprintsync/internal/types"
)

// UnassignedName labels the developer row of unassigned work.
const UnassignedName = "Unassigned"

// CalculateDeveloperMetrics computes one row per (sprint, assignee).
// Unassigned issues are grouped under DeveloperID "".
func CalculateDeveloperMetrics(sprints []*types.Sprint, issues []*types.Issue, changes []*types.StatusChange, now time.Time) []*types.DeveloperMetrics {
	members := membersBySprint(issues)
	tls := timelines(changes)

	var out []*types.DeveloperMetrics
	for _, sp := range sprints {
		rows := make(map[string]*types.DeveloperMetrics)
		cycles := make(map[string][]float64)
		for _, is := range members[sp.ID] {
			row, ok := rows[is.AssigneeID]
			if !ok {
				name := is.AssigneeName
				if is.AssigneeID == "" {
					name = UnassignedName
				}
				row = &types.DeveloperMetrics{
					ProjectKey:    sp.ProjectKey,
					SprintID:      sp.ID,
					DeveloperID:   is.AssigneeID,
					DeveloperName: name,
					CalculatedAt:  now,
				}
				rows[is.AssigneeID] = row
			}
			row.AssignedIssues++
			row.AssignedPoints += is.Points()
			if !completedIn(sp, is, tls[is.Key]) {
				continue
			}
			row.CompletedIssues++
			row.CompletedPoints += is.Points()
			if d, ok := cycleTime(tls[is.Key]); ok {
				cycles[is.AssigneeID] = append(cycles[is.AssigneeID], d.Hours())
			}
		}
		for id, row := range rows {
			row.AvgCycleTimeHours = round2(mean(cycles[id]))
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SprintID != out[j].SprintID {
			return out[i].SprintID < out[j].SprintID
		}
		if out[i].DeveloperName != out[j].DeveloperName {
			return out[i].DeveloperName < out[j].DeveloperName
		}
		return out[i].DeveloperID < out[j].DeveloperID
	})
	return out
}
