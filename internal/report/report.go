// Package report renders sprint metrics as Markdown and, optionally, asks
// Claude for a short narrative of the sprint.
package report

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sprintpulse/sprintsync/internal/metrics"
	"github.com/sprintpulse/sprintsync/internal/types"
)

const dateLayout = "2006-01-02"

// SprintReport renders one sprint as Markdown: a summary table, points and
// issues per normalized status, and one row per developer. Developer rows
// for other sprints are ignored.
func SprintReport(projectKey string, sprint *types.SprintMetrics, developers []*types.DeveloperMetrics, velocity float64) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s: %s\n\n", projectKey, sprint.SprintName)
	fmt.Fprintf(&b, "_%s", sprint.SprintState)
	if span := dateSpan(sprint.StartDate, sprint.EndDate); span != "" {
		fmt.Fprintf(&b, ", %s", span)
	}
	b.WriteString("_\n\n")

	b.WriteString("## Summary\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	row := func(name, value string) { fmt.Fprintf(&b, "| %s | %s |\n", name, value) }
	row("Committed", fmt.Sprintf("%d issues, %s points", sprint.CommittedIssues, num(sprint.CommittedPoints)))
	row("Added after start", fmt.Sprintf("%d issues, %s points", sprint.AddedIssues, num(sprint.AddedPoints)))
	row("Completed points", fmt.Sprintf("%s of %s (%.0f%%)", num(sprint.CompletedPoints), num(sprint.TotalPoints()), sprint.CompletionRate*100))
	row("Remaining points", num(sprint.RemainingPoints))
	row("Issues completed", fmt.Sprintf("%d of %d", sprint.CompletedIssues, sprint.TotalIssues))
	row("Carry-over issues", strconv.Itoa(sprint.CarryOverIssues))
	row("Unestimated issues", strconv.Itoa(sprint.UnestimatedIssues))
	row("Velocity", num(velocity))

	b.WriteString("\n## Status\n\n")
	b.WriteString("| Status | Issues | Points |\n|---|---:|---:|\n")
	for _, st := range types.AllStatuses {
		n := sprint.IssuesByStatus[st]
		if n == 0 && sprint.PointsByStatus[st] == 0 {
			continue
		}
		fmt.Fprintf(&b, "| %s | %d | %s |\n", st, n, num(sprint.PointsByStatus[st]))
	}

	devs := forSprint(developers, sprint.SprintID)
	if len(devs) > 0 {
		b.WriteString("\n## Developers\n\n")
		b.WriteString("| Developer | Issues | Points | Avg cycle time (h) |\n|---|---:|---:|---:|\n")
		for _, d := range devs {
			name := d.DeveloperName
			if d.DeveloperID == "" {
				name = metrics.UnassignedName
			}
			fmt.Fprintf(&b, "| %s | %d/%d | %s/%s | %s |\n",
				escape(name),
				d.CompletedIssues, d.AssignedIssues,
				num(d.CompletedPoints), num(d.AssignedPoints),
				num(d.AvgCycleTimeHours))
		}
	}

	return b.String()
}

// forSprint keeps one sprint's rows, most completed points first.
func forSprint(rows []*types.DeveloperMetrics, sprintID int64) []*types.DeveloperMetrics {
	var out []*types.DeveloperMetrics
	for _, r := range rows {
		if r.SprintID == sprintID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CompletedPoints != out[j].CompletedPoints {
			return out[i].CompletedPoints > out[j].CompletedPoints
		}
		return out[i].DeveloperName < out[j].DeveloperName
	})
	return out
}

func dateSpan(start, end *time.Time) string {
	switch {
	case start != nil && end != nil:
		return start.UTC().Format(dateLayout) + " to " + end.UTC().Format(dateLayout)
	case start != nil:
		return "from " + start.UTC().Format(dateLayout)
	case end != nil:
		return "until " + end.UTC().Format(dateLayout)
	}
	return ""
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// escape keeps a developer name from breaking the table.
func escape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
