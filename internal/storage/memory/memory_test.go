package memory

import (
	"context"
	"testing"

	"github.com/sprintpulse/sprintsync/internal/storage"
	"github.com/sprintpulse/sprintsync/internal/storage/storagetest"
	"github.com/sprintpulse/sprintsync/internal/types"
)

func TestStoreSuite(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return New() })
}

func TestReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	pts := 3.0
	in := &types.Issue{Key: "WEB-1", ProjectKey: "WEB", StoryPoints: &pts, Labels: []string{"a"}}
	if _, err := s.UpsertIssues(ctx, []*types.Issue{in}); err != nil {
		t.Fatal(err)
	}
	pts = 8
	in.Labels[0] = "mutated"

	got, err := s.ListIssues(ctx, types.IssueFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if *got[0].StoryPoints != 3 || got[0].Labels[0] != "a" {
		t.Errorf("store aliased caller memory: %+v", got[0])
	}
	got[0].Summary = "changed"
	again, _ := s.ListIssues(ctx, types.IssueFilter{})
	if again[0].Summary != "" {
		t.Error("store aliased returned value")
	}
}

func TestClosedStoreErrors(t *testing.T) {
	s := New()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ListProjects(context.Background()); err == nil {
		t.Error("expected error after Close")
	}
}
