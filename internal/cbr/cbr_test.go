package cbr

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/lewisai/lewis/internal/llm"
	"github.com/lewisai/lewis/internal/models"
	"github.com/lewisai/lewis/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, llm.NewOfflineClient()), s
}

func TestAddAndRetrieve(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	plan := []models.Step{
		{Agent: "Weather", Description: "fetch forecast"},
		{Agent: "Writer", Description: "compose summary"},
	}
	if err := svc.AddCase(ctx, "task-1", "Weather brief", "weather brief for Berlin", plan, 0.9); err != nil {
		t.Fatalf("AddCase failed: %v", err)
	}

	// The exact goal must retrieve its own case with high similarity
	matches, err := svc.FindSimilar(ctx, "weather brief for Berlin", 0.5, 3)
	if err != nil {
		t.Fatalf("FindSimilar failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(matches))
	}
	if matches[0].Case.ReferenceID != "task-1" {
		t.Errorf("Unexpected reference: %s", matches[0].Case.ReferenceID)
	}
	if len(matches[0].Case.Plan) != 2 {
		t.Errorf("Plan did not round-trip: %v", matches[0].Case.Plan)
	}
}

func TestThresholdFiltersWeakMatches(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	plan := []models.Step{{Agent: "Researcher", Description: "gather sources"}}
	if err := svc.AddCase(ctx, "task-1", "Research", "quantum computing survey", plan, 0.8); err != nil {
		t.Fatalf("AddCase failed: %v", err)
	}

	// Hash-based fingerprints of unrelated texts are near-orthogonal apart
	// from the shared mean component; a strict threshold excludes them.
	matches, err := svc.FindSimilar(ctx, "bake a chocolate cake", 0.99, 3)
	if err != nil {
		t.Fatalf("FindSimilar failed: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("Expected no matches above threshold, got %d", len(matches))
	}
}

func TestAddCaseIdempotent(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	plan := []models.Step{{Agent: "Writer", Description: "draft"}}
	for i := 0; i < 3; i++ {
		if err := svc.AddCase(ctx, "task-1", "Draft", "write a draft", plan, 0.7); err != nil {
			t.Fatalf("AddCase failed: %v", err)
		}
	}

	cases, err := s.ListCases()
	if err != nil {
		t.Fatalf("ListCases failed: %v", err)
	}
	if len(cases) != 1 {
		t.Errorf("Expected 1 case after repeated write-back, got %d", len(cases))
	}
}

func TestPlanHashStable(t *testing.T) {
	plan := []models.Step{{Agent: "Writer", Description: "draft"}}
	if PlanHash(plan) != PlanHash([]models.Step{{Agent: "Writer", Description: "draft"}}) {
		t.Error("Equal plans must hash equally")
	}
	if PlanHash(plan) == PlanHash([]models.Step{{Agent: "Writer", Description: "edit"}}) {
		t.Error("Different plans must hash differently")
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := cosineSimilarity([]float32{1, 0}, []float32{1, 0}); got < 0.999 {
		t.Errorf("Identical vectors should score 1, got %f", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("Orthogonal vectors should score 0, got %f", got)
	}
	if got := cosineSimilarity([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Errorf("Zero vector should score 0, got %f", got)
	}
}
