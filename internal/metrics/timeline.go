package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/sprintpulse/sprintsync/internal/types"
)

// timeline is the status history of one issue, oldest first.
type timeline []*types.StatusChange

// timelines groups changes by issue key and sorts each group by time.
func timelines(changes []*types.StatusChange) map[string]timeline {
	out := make(map[string]timeline)
	for _, c := range changes {
		out[c.IssueKey] = append(out[c.IssueKey], c)
	}
	for _, tl := range out {
		sort.SliceStable(tl, func(i, j int) bool { return tl[i].ChangedAt.Before(tl[j].ChangedAt) })
	}
	return out
}

// doneAt is when the issue was delivered: the resolution date, else the
// last transition into done. Nil for issues that are not done.
func doneAt(is *types.Issue, tl timeline) *time.Time {
	if !is.Status.IsDone() {
		return nil
	}
	if is.ResolvedAt != nil {
		return is.ResolvedAt
	}
	for i := len(tl) - 1; i >= 0; i-- {
		if tl[i].ToNormalized.IsDone() {
			t := tl[i].ChangedAt
			return &t
		}
	}
	return nil
}

// cycleTime runs from the first transition into an active status to the
// first transition into done after it. ok is false when the issue never
// went through both.
func cycleTime(tl timeline) (time.Duration, bool) {
	var start *time.Time
	for _, c := range tl {
		if start == nil {
			if c.ToNormalized.IsActive() {
				t := c.ChangedAt
				start = &t
			}
			continue
		}
		if c.ToNormalized.IsDone() {
			return c.ChangedAt.Sub(*start), true
		}
	}
	return 0, false
}

// leadTime runs from creation to delivery.
func leadTime(is *types.Issue, done *time.Time) (time.Duration, bool) {
	if done == nil || done.Before(is.CreatedAt) {
		return 0, false
	}
	return done.Sub(is.CreatedAt), true
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// percentile uses linear interpolation between closest ranks. xs need not
// be sorted.
func percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	if len(s) == 1 {
		return s[0]
	}
	rank := p / 100 * float64(len(s)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	return s[lo] + (s[hi]-s[lo])*(rank-float64(lo))
}

// WeekStart returns Monday 00:00 UTC of t's ISO week.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.AddDate(0, 0, -offset).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
