package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprintpulse/sprintsync/internal/types"
)

func sprintFixture() *types.SprintMetrics {
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 14)
	return &types.SprintMetrics{
		ProjectKey:      "WEB",
		SprintID:        11,
		SprintName:      "Sprint 1",
		SprintState:     types.SprintClosed,
		StartDate:       &start,
		EndDate:         &end,
		TotalIssues:     4,
		CompletedIssues: 2,
		CommittedIssues: 3,
		AddedIssues:     1,
		CommittedPoints: 8,
		AddedPoints:     2,
		CompletedPoints: 6,
		RemainingPoints: 4,
		CompletionRate:  0.6,
		CarryOverIssues: 1,
		PointsByStatus:  map[types.Status]float64{types.StatusDone: 6, types.StatusInProgress: 4},
		IssuesByStatus:  map[types.Status]int{types.StatusDone: 2, types.StatusInProgress: 1, types.StatusTodo: 1},
	}
}

func TestSprintReport(t *testing.T) {
	devs := []*types.DeveloperMetrics{
		{SprintID: 11, DeveloperID: "acc-bob", DeveloperName: "Bob", AssignedIssues: 1, AssignedPoints: 1},
		{SprintID: 11, DeveloperID: "acc-ana", DeveloperName: "Ana | Lead", AssignedIssues: 2, CompletedIssues: 2, AssignedPoints: 6, CompletedPoints: 6, AvgCycleTimeHours: 48},
		{SprintID: 11, DeveloperID: "", DeveloperName: "", AssignedIssues: 1, AssignedPoints: 3},
		{SprintID: 12, DeveloperID: "acc-ana", DeveloperName: "Ana", AssignedIssues: 9},
	}

	md := SprintReport("WEB", sprintFixture(), devs, 7.5)

	assert.True(t, strings.HasPrefix(md, "# WEB: Sprint 1\n"))
	assert.Contains(t, md, "_closed, 2024-03-04 to 2024-03-18_")
	assert.Contains(t, md, "| Committed | 3 issues, 8 points |")
	assert.Contains(t, md, "| Added after start | 1 issues, 2 points |")
	assert.Contains(t, md, "| Completed points | 6 of 10 (60%) |")
	assert.Contains(t, md, "| Issues completed | 2 of 4 |")
	assert.Contains(t, md, "| Velocity | 7.5 |")
	assert.Contains(t, md, "| todo | 1 | 0 |")
	assert.Contains(t, md, "| in_progress | 1 | 4 |")
	assert.NotContains(t, md, "| blocked |")
	assert.Contains(t, md, `| Ana \| Lead | 2/2 | 6/6 | 48 |`)
	assert.Contains(t, md, "| Unassigned | 0/1 | 0/3 | 0 |")
	assert.NotContains(t, md, "0/9", "rows for another sprint are ignored")

	ana := strings.Index(md, "Ana")
	bob := strings.Index(md, "| Bob")
	assert.Less(t, ana, bob, "most completed points first")
}

func TestSprintReportFutureSprint(t *testing.T) {
	md := SprintReport("WEB", &types.SprintMetrics{SprintID: 13, SprintName: "Sprint 3", SprintState: types.SprintFuture}, nil, 0)
	assert.Contains(t, md, "_future_")
	assert.NotContains(t, md, "## Developers")
}

func TestNewSummarizerRequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewSummarizer("", "")
	assert.ErrorIs(t, err, ErrAPIKeyRequired)
}

func messageHandler(t *testing.T, text string, failFirst int, calls *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if int(n) <= failFirst {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`))
			return
		}
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, DefaultModel, body["model"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "msg_test",
			"type":  "message",
			"role":  "assistant",
			"model": DefaultModel,
			"content": []map[string]any{
				{"type": "text", "text": text},
			},
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 120, "output_tokens": 40},
		})
	}
}

func testSummarizer(t *testing.T, h http.Handler) *Summarizer {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	t.Setenv("ANTHROPIC_API_KEY", "")
	s, err := NewSummarizer("test-key", "", option.WithBaseURL(server.URL), option.WithMaxRetries(0))
	require.NoError(t, err)
	s.initialBackoff = time.Millisecond
	return s
}

func TestSummarize(t *testing.T) {
	var calls atomic.Int32
	s := testSummarizer(t, messageHandler(t, "  The team delivered 60% of scope.\n", 0, &calls))

	out, err := s.Summarize(context.Background(), "WEB", SprintReport("WEB", sprintFixture(), nil, 0))
	require.NoError(t, err)
	assert.Equal(t, "The team delivered 60% of scope.", out)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSummarizeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	s := testSummarizer(t, messageHandler(t, "ok", 2, &calls))

	out, err := s.Summarize(context.Background(), "WEB", "# report")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSummarizeGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	s := testSummarizer(t, messageHandler(t, "ok", 100, &calls))

	_, err := s.Summarize(context.Background(), "WEB", "# report")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 4 attempts")
	assert.Equal(t, int32(maxRetries+1), calls.Load())
}

func TestSummarizeStopsWhenCanceled(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	s := testSummarizer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		cancel()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`))
	}))
	s.initialBackoff = time.Hour

	_, err := s.Summarize(ctx, "WEB", "# report")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSummarizeDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	s := testSummarizer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`))
	}))

	_, err := s.Summarize(context.Background(), "WEB", "# report")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-retryable")
	assert.Equal(t, int32(1), calls.Load())
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, isRetryable(nil))
	assert.False(t, isRetryable(context.Canceled))
	assert.False(t, isRetryable(errors.New("boom")))
}
