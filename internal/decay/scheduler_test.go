package decay

import (
	"context"
	"testing"
	"time"

	"github.com/evermem/evermem/internal/ledger"
)

func seed(t *testing.T, store *ledger.Store, c ledger.Candidate) *ledger.Memory {
	t.Helper()

	applied, err := store.Apply(context.Background(), ledger.Action{Type: ledger.ActionCreate, Candidate: c})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return applied.Memory
}

func TestPassArchivesExpired(t *testing.T) {
	store, err := ledger.Open(":memory:")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer store.Close()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return base })

	goal := seed(t, store, ledger.Candidate{
		Content:    "User wants to finish the garage cleanup this month",
		Level:      ledger.LevelSemantic,
		Category:   ledger.CategoryGoal, // volatile, 14 days
		Importance: 0.5,
		Confidence: 0.8,
	})
	identity := seed(t, store, ledger.Candidate{
		Content:    "User's name is Priya",
		Level:      ledger.LevelSemantic,
		Category:   ledger.CategoryIdentity, // permanent
		Importance: 0.9,
		Confidence: 1.0,
	})

	s := New(store)

	// 30 days on: the volatile goal is past its 14-day lifetime
	result, err := s.Pass(context.Background(), base.Add(30*24*time.Hour))
	if err != nil {
		t.Fatalf("pass failed: %v", err)
	}
	if result.Evaluated != 2 {
		t.Errorf("expected 2 evaluated, got %d", result.Evaluated)
	}
	if result.Archived != 1 {
		t.Errorf("expected 1 archived, got %d", result.Archived)
	}

	m, err := store.Get(goal.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if m.Status != ledger.StatusArchived {
		t.Errorf("expected goal archived, got %s", m.Status)
	}

	m, err = store.Get(identity.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if m.Status != ledger.StatusActive {
		t.Errorf("permanent memory must stay active, got %s", m.Status)
	}
}

func TestPassIsIdempotent(t *testing.T) {
	store, err := ledger.Open(":memory:")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer store.Close()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return base })

	seed(t, store, ledger.Candidate{
		Content:    "User plans to repaint the kitchen",
		Level:      ledger.LevelSemantic,
		Category:   ledger.CategoryGoal,
		Importance: 0.4,
		Confidence: 0.7,
	})

	s := New(store)
	at := base.Add(30 * 24 * time.Hour)

	first, err := s.Pass(context.Background(), at)
	if err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	if first.Archived != 1 {
		t.Errorf("expected 1 archived on first pass, got %d", first.Archived)
	}

	second, err := s.Pass(context.Background(), at)
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	if second.Archived != 0 || second.MarkedForReview != 0 {
		t.Errorf("second pass must be a no-op, got %+v", second)
	}
}

func TestPassRoutesContradictedLowConfidenceToReview(t *testing.T) {
	store, err := ledger.Open(":memory:")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer store.Close()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return base })

	existing := seed(t, store, ledger.Candidate{
		Content:    "User works at Initech",
		Level:      ledger.LevelSemantic,
		Category:   ledger.CategoryKnowledge,
		Importance: 0.6,
		Confidence: 0.45, // flag penalty drops this under the 0.4 review threshold
	})

	_, err = store.Apply(context.Background(), ledger.Action{
		Type:     ledger.ActionFlag,
		TargetID: existing.ID,
		Candidate: ledger.Candidate{
			Content:    "User no longer works at Initech",
			Level:      ledger.LevelSemantic,
			Category:   ledger.CategoryKnowledge,
			Importance: 0.6,
			Confidence: 0.9,
			Negation:   true,
		},
		Similarity: 0.8,
	})
	if err != nil {
		t.Fatalf("flag failed: %v", err)
	}

	s := New(store)
	at := base.Add(24 * time.Hour)

	result, err := s.Pass(context.Background(), at)
	if err != nil {
		t.Fatalf("pass failed: %v", err)
	}
	if result.MarkedForReview != 1 {
		t.Errorf("expected 1 marked for review, got %d", result.MarkedForReview)
	}

	m, err := store.Get(existing.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if m.Status != ledger.StatusPendingReview {
		t.Errorf("expected pending_review, got %s", m.Status)
	}
	if m.ReviewDueAt == nil {
		t.Fatal("expected a review deadline")
	}
	if want := at.Add(ledger.DefaultDecayPolicy.ReviewWindow); !m.ReviewDueAt.Equal(want) {
		t.Errorf("expected deadline %v, got %v", want, m.ReviewDueAt)
	}
}
