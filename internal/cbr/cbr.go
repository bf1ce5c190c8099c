// Package cbr implements case-based reasoning: successful plans are stored
// with a fingerprint of their goal, and new goals retrieve similar cases so
// the planner can adapt a proven plan instead of starting cold.
package cbr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/lewisai/lewis/internal/llm"
	"github.com/lewisai/lewis/internal/models"
	"github.com/lewisai/lewis/internal/store"
)

// RetrievedCase is a stored case paired with its similarity to the query.
type RetrievedCase struct {
	Case       models.Case
	Similarity float64
}

// Service provides case retrieval and write-back on top of the store.
type Service struct {
	store  *store.Store
	client llm.Client
}

// New creates a CBR service.
func New(s *store.Store, client llm.Client) *Service {
	return &Service{store: s, client: client}
}

// Fingerprint embeds the canonical goal+plan text. The same goal and plan
// always produce the same text, so offline embeddings make write-back
// idempotent end to end.
func (s *Service) Fingerprint(ctx context.Context, goal string, plan []models.Step) ([]float32, error) {
	vec, err := s.client.Embed(ctx, fingerprintText(goal, plan))
	if err != nil {
		return nil, fmt.Errorf("embed fingerprint: %w", err)
	}
	return vec, nil
}

// FindSimilar returns up to limit cases whose fingerprint similarity to the
// goal meets threshold, best first.
func (s *Service) FindSimilar(ctx context.Context, goal string, threshold float64, limit int) ([]RetrievedCase, error) {
	query, err := s.client.Embed(ctx, fingerprintText(goal, nil))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	cases, err := s.store.ListCases()
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}

	var scored []RetrievedCase
	for _, c := range cases {
		if len(c.Fingerprint) == 0 {
			continue
		}
		sim := cosineSimilarity(query, c.Fingerprint)
		if sim < threshold {
			continue
		}
		scored = append(scored, RetrievedCase{Case: c, Similarity: sim})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Similarity > scored[j].Similarity })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// AddCase writes back a successful plan. Duplicate (fingerprint, plan)
// pairs are absorbed by the store, so retried finalizations are no-ops.
func (s *Service) AddCase(ctx context.Context, referenceID, title, goal string, plan []models.Step, score float64) error {
	fp, err := s.Fingerprint(ctx, goal, plan)
	if err != nil {
		return err
	}
	return s.store.InsertCase(&models.Case{
		ReferenceID: referenceID,
		Title:       title,
		Fingerprint: fp,
		PlanHash:    PlanHash(plan),
		Plan:        plan,
		Score:       score,
	})
}

// PlanHash returns a stable hex digest of a plan's JSON encoding.
func PlanHash(plan []models.Step) string {
	data, err := json.Marshal(plan)
	if err != nil {
		return ""
	}
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}

func fingerprintText(goal string, plan []models.Step) string {
	var b strings.Builder
	b.WriteString("Goal: ")
	b.WriteString(goal)
	if len(plan) > 0 {
		b.WriteString("\nPlan:")
		for _, step := range plan {
			b.WriteString("\n- ")
			b.WriteString(step.Agent)
			b.WriteString(": ")
			b.WriteString(step.Description)
		}
	}
	return b.String()
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
