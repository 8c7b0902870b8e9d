package metrics

import (
	"strings"
	"time"

	"github.com/sprintpulse/sprintsync/internal/types"
)

// bugTypes are the issue type names counted in BugRatio, compared
// case-insensitively.
var bugTypes = []string{"bug", "defect"}

func isBug(issueType string) bool {
	for _, b := range bugTypes {
		if strings.EqualFold(strings.TrimSpace(issueType), b) {
			return true
		}
	}
	return false
}

type weekAcc struct {
	row    *types.DeliveryMetrics
	cycles []float64
	leads  []float64
	bugs   int
}

// CalculateDeliveryMetrics computes one row per ISO week (Monday, UTC) from
// the first week anything was delivered through the week containing now.
// Weeks without deliveries get zero rows so the dashboard series has no gaps.
func CalculateDeliveryMetrics(projectKey string, issues []*types.Issue, changes []*types.StatusChange, now time.Time) []*types.DeliveryMetrics {
	tls := timelines(changes)
	weeks := make(map[time.Time]*weekAcc)
	var first, last time.Time

	for _, is := range issues {
		if is.Removed {
			continue
		}
		tl := tls[is.Key]
		done := doneAt(is, tl)
		if done == nil {
			continue
		}
		ws := WeekStart(*done)
		acc, ok := weeks[ws]
		if !ok {
			acc = &weekAcc{row: newWeek(projectKey, ws, now)}
			weeks[ws] = acc
		}
		if first.IsZero() || ws.Before(first) {
			first = ws
		}
		if ws.After(last) {
			last = ws
		}

		acc.row.Throughput++
		acc.row.PointsDelivered += is.Points()
		acc.row.DoneByType[is.IssueType]++
		if isBug(is.IssueType) {
			acc.bugs++
		}
		if d, ok := cycleTime(tl); ok {
			acc.cycles = append(acc.cycles, d.Hours())
		}
		if d, ok := leadTime(is, done); ok {
			acc.leads = append(acc.leads, d.Hours())
		}
	}
	if first.IsZero() {
		return []*types.DeliveryMetrics{}
	}
	if !now.IsZero() {
		if cur := WeekStart(now); cur.After(last) {
			last = cur
		}
	}

	var out []*types.DeliveryMetrics
	for ws := first; !ws.After(last); ws = ws.AddDate(0, 0, 7) {
		acc, ok := weeks[ws]
		if !ok {
			out = append(out, newWeek(projectKey, ws, now))
			continue
		}
		r := acc.row
		r.AvgCycleTimeHours = round2(mean(acc.cycles))
		r.MedianCycleTimeHours = round2(percentile(acc.cycles, 50))
		r.P85CycleTimeHours = round2(percentile(acc.cycles, 85))
		r.AvgLeadTimeHours = round2(mean(acc.leads))
		r.MedianLeadTimeHours = round2(percentile(acc.leads, 50))
		r.P85LeadTimeHours = round2(percentile(acc.leads, 85))
		r.BugRatio = round2(float64(acc.bugs) / float64(r.Throughput))
		out = append(out, r)
	}
	return out
}

func newWeek(projectKey string, ws, now time.Time) *types.DeliveryMetrics {
	return &types.DeliveryMetrics{
		ProjectKey:   projectKey,
		WeekStart:    ws,
		DoneByType:   make(map[string]int),
		CalculatedAt: now,
	}
}
