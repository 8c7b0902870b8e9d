package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprintpulse/sprintsync/internal/storage/memory"
	"github.com/sprintpulse/sprintsync/internal/types"
)

// t0 is Monday 2024-03-04 09:00 UTC.
var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

func at(d time.Duration) *time.Time {
	t := t0.Add(d)
	return &t
}

func pts(f float64) *float64 { return &f }

func change(key, id string, from, to types.Status, d time.Duration) *types.StatusChange {
	return &types.StatusChange{
		IssueKey: key, ProjectKey: "WEB", ChangeID: id,
		FromStatus: string(from), ToStatus: string(to),
		FromNormalized: from, ToNormalized: to,
		ChangedAt: t0.Add(d),
	}
}

// fixture is two sprints: Sprint 1 closed after two weeks, Sprint 2 active.
//
//	WEB-1  story, Ana, 3 pts, done in sprint 1 (cycle 48h)
//	WEB-2  bug, Ana, 2 pts, added to sprint 1 late, carried to sprint 2, done there
//	WEB-3  unassigned, unestimated, in progress in sprint 1
//	WEB-4  Bob, 5 pts, todo in sprint 2
func fixture() ([]*types.Sprint, []*types.Issue, []*types.StatusChange) {
	sprints := []*types.Sprint{
		{ID: 12, ProjectKey: "WEB", Name: "Sprint 2", State: types.SprintActive, StartDate: at(14 * day), EndDate: at(28 * day)},
		{ID: 11, ProjectKey: "WEB", Name: "Sprint 1", State: types.SprintClosed, StartDate: at(0), EndDate: at(14 * day), CompleteDate: at(14 * day)},
	}
	issues := []*types.Issue{
		{Key: "WEB-1", ProjectKey: "WEB", IssueType: "Story", Status: types.StatusDone, AssigneeID: "acc-ana", AssigneeName: "Ana",
			StoryPoints: pts(3), SprintIDs: []int64{11}, CreatedAt: t0.Add(-day), ResolvedAt: at(3 * day)},
		{Key: "WEB-2", ProjectKey: "WEB", IssueType: "Bug", Status: types.StatusDone, AssigneeID: "acc-ana", AssigneeName: "Ana",
			StoryPoints: pts(2), SprintIDs: []int64{11, 12}, CreatedAt: t0.Add(2 * day), ResolvedAt: at(20 * day)},
		{Key: "WEB-3", ProjectKey: "WEB", IssueType: "Task", Status: types.StatusInProgress,
			SprintIDs: []int64{11}, CreatedAt: t0.Add(-2 * day)},
		{Key: "WEB-4", ProjectKey: "WEB", IssueType: "Story", Status: types.StatusTodo, AssigneeID: "acc-bob", AssigneeName: "Bob",
			StoryPoints: pts(5), SprintIDs: []int64{12}, CreatedAt: t0.Add(-day)},
	}
	changes := []*types.StatusChange{
		change("WEB-1", "100", types.StatusInProgress, types.StatusDone, 3*day),
		change("WEB-1", "99", types.StatusTodo, types.StatusInProgress, day),
		change("WEB-2", "200", types.StatusTodo, types.StatusInProgress, 15*day),
		change("WEB-2", "201", types.StatusInProgress, types.StatusDone, 20*day),
		change("WEB-3", "300", types.StatusTodo, types.StatusInProgress, day),
	}
	return sprints, issues, changes
}

func TestCalculateSprintMetrics(t *testing.T) {
	sprints, issues, changes := fixture()
	now := t0.Add(22 * day)
	rows := CalculateSprintMetrics(sprints, issues, changes, now)
	require.Len(t, rows, 2)

	s1 := rows[0]
	assert.Equal(t, int64(11), s1.SprintID, "rows are ordered by start date")
	assert.Equal(t, 3, s1.TotalIssues)
	assert.Equal(t, 2, s1.CommittedIssues)
	assert.Equal(t, 1, s1.AddedIssues, "WEB-2 was created after the sprint started")
	assert.Equal(t, s1.TotalIssues, s1.CommittedIssues+s1.AddedIssues)
	assert.Equal(t, 3.0, s1.CommittedPoints)
	assert.Equal(t, 2.0, s1.AddedPoints)
	assert.Equal(t, 1, s1.CompletedIssues, "WEB-2 was resolved after the sprint closed")
	assert.Equal(t, 3.0, s1.CompletedPoints)
	assert.Equal(t, 2.0, s1.RemainingPoints)
	assert.Equal(t, 0.6, s1.CompletionRate)
	assert.Equal(t, 1, s1.CarryOverIssues, "only WEB-2 moved to a later sprint")
	assert.Equal(t, 1, s1.UnestimatedIssues)
	assert.Equal(t, 5.0, s1.PointsByStatus[types.StatusDone])
	assert.Equal(t, 2, s1.IssuesByStatus[types.StatusDone])
	assert.Equal(t, 1, s1.IssuesByStatus[types.StatusInProgress])
	assert.True(t, s1.CalculatedAt.Equal(now))

	s2 := rows[1]
	assert.Equal(t, int64(12), s2.SprintID)
	assert.Equal(t, 2, s2.CommittedIssues)
	assert.Zero(t, s2.AddedIssues)
	assert.Equal(t, 7.0, s2.CommittedPoints)
	assert.Equal(t, 0.0, s2.AddedPoints)
	assert.Equal(t, 2.0, s2.CompletedPoints, "done counts for active sprints")
	assert.Equal(t, 0.29, s2.CompletionRate)
	assert.Equal(t, 0, s2.CarryOverIssues)
}

func TestCalculateSprintMetricsEdgeCases(t *testing.T) {
	t.Run("empty sprint", func(t *testing.T) {
		rows := CalculateSprintMetrics([]*types.Sprint{{ID: 1, State: types.SprintFuture}}, nil, nil, t0)
		require.Len(t, rows, 1)
		assert.Zero(t, rows[0].CompletionRate)
		assert.NotNil(t, rows[0].PointsByStatus)
	})

	t.Run("removed issues are ignored", func(t *testing.T) {
		sprints := []*types.Sprint{{ID: 1, State: types.SprintActive, StartDate: at(0)}}
		issues := []*types.Issue{{Key: "X-1", Status: types.StatusDone, StoryPoints: pts(8), SprintIDs: []int64{1}, Removed: true}}
		rows := CalculateSprintMetrics(sprints, issues, nil, t0)
		assert.Zero(t, rows[0].TotalIssues)
	})

	t.Run("done without resolution uses the last done transition", func(t *testing.T) {
		sprints := []*types.Sprint{{ID: 1, State: types.SprintClosed, StartDate: at(0), EndDate: at(7 * day)}}
		issues := []*types.Issue{{Key: "X-1", Status: types.StatusDone, StoryPoints: pts(1), SprintIDs: []int64{1}, CreatedAt: t0}}
		late := []*types.StatusChange{change("X-1", "1", types.StatusInProgress, types.StatusDone, 9*day)}
		rows := CalculateSprintMetrics(sprints, issues, late, t0)
		assert.Zero(t, rows[0].CompletedPoints)

		onTime := []*types.StatusChange{change("X-1", "1", types.StatusInProgress, types.StatusDone, 6*day)}
		rows = CalculateSprintMetrics(sprints, issues, onTime, t0)
		assert.Equal(t, 1.0, rows[0].CompletedPoints)
	})
}

func TestCalculateDeveloperMetrics(t *testing.T) {
	sprints, issues, changes := fixture()
	rows := CalculateDeveloperMetrics(sprints, issues, changes, t0)
	require.Len(t, rows, 4)

	ana1, un1, ana2, bob2 := rows[0], rows[1], rows[2], rows[3]

	assert.Equal(t, "acc-ana", ana1.DeveloperID)
	assert.Equal(t, int64(11), ana1.SprintID)
	assert.Equal(t, 2, ana1.AssignedIssues)
	assert.Equal(t, 5.0, ana1.AssignedPoints)
	assert.Equal(t, 1, ana1.CompletedIssues)
	assert.Equal(t, 3.0, ana1.CompletedPoints)
	assert.Equal(t, 48.0, ana1.AvgCycleTimeHours)

	assert.Equal(t, "", un1.DeveloperID)
	assert.Equal(t, UnassignedName, un1.DeveloperName)
	assert.Equal(t, 1, un1.AssignedIssues)
	assert.Zero(t, un1.AvgCycleTimeHours)

	assert.Equal(t, int64(12), ana2.SprintID)
	assert.Equal(t, 120.0, ana2.AvgCycleTimeHours)
	assert.Equal(t, "Bob", bob2.DeveloperName)
	assert.Equal(t, 5.0, bob2.AssignedPoints)
	assert.Zero(t, bob2.CompletedPoints)
}

func TestCalculateDeliveryMetrics(t *testing.T) {
	_, issues, changes := fixture()
	now := t0.Add(22 * day) // Tuesday 2024-03-26
	rows := CalculateDeliveryMetrics("WEB", issues, changes, now)
	require.Len(t, rows, 4, "weeks of Mar 4, 11, 18 and 25")

	w1 := rows[0]
	assert.True(t, w1.WeekStart.Equal(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, w1.Throughput)
	assert.Equal(t, 3.0, w1.PointsDelivered)
	assert.Equal(t, 48.0, w1.AvgCycleTimeHours)
	assert.Equal(t, 48.0, w1.MedianCycleTimeHours)
	assert.Equal(t, 96.0, w1.AvgLeadTimeHours)
	assert.Equal(t, 96.0, w1.MedianLeadTimeHours)
	assert.Equal(t, 96.0, w1.P85LeadTimeHours)
	assert.Zero(t, w1.BugRatio)
	assert.Equal(t, map[string]int{"Story": 1}, w1.DoneByType)

	gap := rows[1]
	assert.Zero(t, gap.Throughput)
	assert.NotNil(t, gap.DoneByType)

	w3 := rows[2]
	assert.True(t, w3.WeekStart.Equal(time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1.0, w3.BugRatio)
	assert.Equal(t, 120.0, w3.P85CycleTimeHours)
	assert.Equal(t, 432.0, w3.AvgLeadTimeHours)

	assert.Zero(t, rows[3].Throughput)
}

func TestCalculateDeliveryMetricsLeadTimeSpread(t *testing.T) {
	done := at(4 * day)
	issues := []*types.Issue{
		{Key: "X-1", IssueType: "Story", Status: types.StatusDone, CreatedAt: t0.Add(3 * day), ResolvedAt: done},
		{Key: "X-2", IssueType: "Story", Status: types.StatusDone, CreatedAt: t0.Add(2 * day), ResolvedAt: done},
		{Key: "X-3", IssueType: "Story", Status: types.StatusDone, CreatedAt: t0.Add(-2 * day), ResolvedAt: done},
	}
	rows := CalculateDeliveryMetrics("WEB", issues, nil, t0.Add(4*day))
	require.Len(t, rows, 1)

	w := rows[0]
	assert.Equal(t, 3, w.Throughput)
	assert.Equal(t, 72.0, w.AvgLeadTimeHours)
	assert.Equal(t, 48.0, w.MedianLeadTimeHours)
	assert.Equal(t, 115.2, w.P85LeadTimeHours)
}

func TestCalculateDeliveryMetricsNothingDone(t *testing.T) {
	rows := CalculateDeliveryMetrics("WEB", []*types.Issue{{Key: "X-1", Status: types.StatusTodo}}, nil, t0)
	assert.Empty(t, rows)
	assert.NotNil(t, rows)
}

func TestCycleTime(t *testing.T) {
	tests := []struct {
		name    string
		changes []*types.StatusChange
		want    time.Duration
		ok      bool
	}{
		{"never started", []*types.StatusChange{change("X", "1", types.StatusTodo, types.StatusDone, day)}, 0, false},
		{"not finished", []*types.StatusChange{change("X", "1", types.StatusTodo, types.StatusInProgress, day)}, 0, false},
		{"review counts as started", []*types.StatusChange{
			change("X", "1", types.StatusTodo, types.StatusInReview, day),
			change("X", "2", types.StatusInReview, types.StatusDone, 2*day),
		}, day, true},
		{"reopened uses first completion", []*types.StatusChange{
			change("X", "1", types.StatusTodo, types.StatusInProgress, 0),
			change("X", "2", types.StatusInProgress, types.StatusDone, day),
			change("X", "3", types.StatusDone, types.StatusInProgress, 2*day),
			change("X", "4", types.StatusInProgress, types.StatusDone, 5*day),
		}, day, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := cycleTime(timelines(tt.changes)["X"])
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPercentile(t *testing.T) {
	xs := []float64{4, 1, 3, 2}
	assert.Equal(t, 2.5, percentile(xs, 50))
	assert.InDelta(t, 3.55, percentile(xs, 85), 1e-9)
	assert.Equal(t, 7.0, percentile([]float64{7}, 85))
	assert.Zero(t, percentile(nil, 50))
	assert.Equal(t, []float64{4, 1, 3, 2}, xs, "input is not reordered")
}

func TestWeekStart(t *testing.T) {
	monday := time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC)
	assert.True(t, WeekStart(time.Date(2024, 3, 24, 23, 59, 0, 0, time.UTC)).Equal(monday), "Sunday belongs to the preceding Monday")
	assert.True(t, WeekStart(monday).Equal(monday))

	brt := time.FixedZone("BRT", -3*60*60)
	// Sunday 22:00 in Sao Paulo is Monday 01:00 UTC.
	assert.True(t, WeekStart(time.Date(2024, 3, 24, 22, 0, 0, 0, brt)).Equal(time.Date(2024, 3, 25, 0, 0, 0, 0, time.UTC)))
}

func TestVelocity(t *testing.T) {
	rows := []*types.SprintMetrics{
		{SprintID: 1, SprintState: types.SprintClosed, EndDate: at(14 * day), CompletedPoints: 10},
		{SprintID: 2, SprintState: types.SprintClosed, EndDate: at(28 * day), CompletedPoints: 20},
		{SprintID: 3, SprintState: types.SprintClosed, EndDate: at(42 * day), CompletedPoints: 30},
		{SprintID: 4, SprintState: types.SprintActive, EndDate: at(56 * day), CompletedPoints: 100},
	}
	assert.Equal(t, 25.0, Velocity(rows, 2))
	assert.Equal(t, 20.0, Velocity(rows, 10))
	assert.Zero(t, Velocity(rows[3:], 3))
	assert.Zero(t, Velocity(rows, 0))
}

func TestCalculateAllMetrics(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	sprints, issues, changes := fixture()
	_, err := store.UpsertSprints(ctx, sprints)
	require.NoError(t, err)
	_, err = store.UpsertIssues(ctx, issues)
	require.NoError(t, err)
	_, err = store.RecordStatusChanges(ctx, changes)
	require.NoError(t, err)

	now := t0.Add(22 * day)
	calc := NewCalculator()
	calc.Now = func() time.Time { return now }

	sum, err := calc.CalculateAllMetrics(ctx, store, "WEB")
	require.NoError(t, err)
	assert.Equal(t, "WEB", sum.ProjectKey)
	assert.Equal(t, 2, sum.Sprints)
	assert.Equal(t, 4, sum.DeveloperRows)
	assert.Equal(t, 4, sum.Weeks)
	assert.Equal(t, 3.0, sum.Velocity)
	assert.True(t, sum.CalculatedAt.Equal(now))

	stored, err := store.SprintMetrics(ctx, "WEB")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, 0.6, stored[0].CompletionRate)

	// Removing an issue and recomputing replaces rather than appends.
	_, err = store.MarkIssuesRemoved(ctx, "WEB", []string{"WEB-4"})
	require.NoError(t, err)
	_, err = calc.CalculateAllMetrics(ctx, store, "WEB")
	require.NoError(t, err)
	devs, err := store.DeveloperMetrics(ctx, "WEB", 12)
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, "acc-ana", devs[0].DeveloperID)
}
