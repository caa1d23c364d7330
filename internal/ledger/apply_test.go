package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func testCandidate() Candidate {
	return Candidate{
		Content:    "User prefers dark mode in all editors",
		Level:      LevelSemantic,
		Category:   CategoryPreference,
		Importance: 0.6,
		Confidence: 0.9,
	}
}

func TestApplyCreate(t *testing.T) {
	store := testStore(t)

	applied, err := store.Apply(context.Background(), Action{Type: ActionCreate, Candidate: testCandidate()})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if applied.Outcome != AppliedCreated {
		t.Errorf("expected created, got %s", applied.Outcome)
	}
	if applied.Memory.Version != 1 {
		t.Errorf("expected version 1, got %d", applied.Memory.Version)
	}
	if applied.Memory.Status != StatusActive {
		t.Errorf("expected active, got %s", applied.Memory.Status)
	}
	if applied.Memory.DecayProfile != ProfileStable {
		t.Errorf("expected stable profile for preference, got %s", applied.Memory.DecayProfile)
	}
	if applied.Memory.ExpiresAt == nil {
		t.Error("expected expiry for stable profile")
	}
}

func TestApplyCreatePermanentHasNoExpiry(t *testing.T) {
	store := testStore(t)

	c := testCandidate()
	c.Category = CategoryIdentity
	c.Content = "User's name is Priya"

	applied, err := store.Apply(context.Background(), Action{Type: ActionCreate, Candidate: c})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if applied.Memory.DecayProfile != ProfilePermanent {
		t.Errorf("expected permanent profile for identity, got %s", applied.Memory.DecayProfile)
	}
	if applied.Memory.ExpiresAt != nil {
		t.Error("permanent memory must not expire")
	}
}

func TestApplyCreatePastEventIsNotBornExpired(t *testing.T) {
	store := testStore(t)

	past := time.Now().UTC().AddDate(-1, 0, 0)
	c := testCandidate()
	c.Category = CategoryEvent
	c.Level = LevelEpisodic
	c.Content = "User attended GopherCon last year"
	c.EventDate = &past

	applied, err := store.Apply(context.Background(), Action{Type: ActionCreate, Candidate: c})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if applied.Memory.ExpiresAt == nil {
		t.Fatal("expected an expiry for an event-based memory")
	}
	if applied.Memory.ExpiresAt.Before(applied.Memory.CreatedAt) {
		t.Errorf("expiry %v precedes creation %v", applied.Memory.ExpiresAt, applied.Memory.CreatedAt)
	}
}

func TestApplyMergePersistsReinforcements(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	target, err := store.Apply(ctx, Action{Type: ActionCreate, Candidate: testCandidate()})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	update := testCandidate()
	update.Content = "User prefers dark mode everywhere"
	_, err = store.Apply(ctx, Action{
		Type:      ActionMerge,
		TargetID:  target.Memory.ID,
		Candidate: update,
		Reinforces: []Reinforcement{
			{TargetID: "other-memory", Similarity: 0.88},
			{TargetID: target.Memory.ID, Similarity: 0.99}, // self, dropped
		},
	})
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	facts, err := store.Reinforcements(target.Memory.ID)
	if err != nil {
		t.Fatalf("reinforcements failed: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("expected 1 reinforcement, got %d: %+v", len(facts), facts)
	}
	if facts[0].TargetID != "other-memory" || facts[0].Similarity != 0.88 {
		t.Errorf("unexpected reinforcement %+v", facts[0])
	}
	if facts[0].MemoryID != target.Memory.ID {
		t.Errorf("reinforcement must record its memory, got %s", facts[0].MemoryID)
	}
}

func TestApplyMergeSnapshotsPriorVersion(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	created, err := store.Apply(ctx, Action{Type: ActionCreate, Candidate: testCandidate()})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	update := testCandidate()
	update.Content = "User prefers dark mode everywhere, including terminals"
	update.Importance = 0.4
	update.Confidence = 0.95
	update.Tags = []string{"project:editor"}

	merged, err := store.Apply(ctx, Action{Type: ActionMerge, TargetID: created.Memory.ID, Candidate: update})
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	if merged.Outcome != AppliedMerged {
		t.Errorf("expected merged, got %s", merged.Outcome)
	}
	if merged.Memory.Version != 2 {
		t.Errorf("expected version 2, got %d", merged.Memory.Version)
	}
	if merged.Memory.Content != update.Content {
		t.Errorf("content not updated: %s", merged.Memory.Content)
	}

	// scores take the max of both sides
	if merged.Memory.Importance != 0.6 {
		t.Errorf("expected importance 0.6, got %.2f", merged.Memory.Importance)
	}
	if merged.Memory.Confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %.2f", merged.Memory.Confidence)
	}

	versions, err := store.Versions(created.Memory.ID)
	if err != nil {
		t.Fatalf("versions failed: %v", err)
	}
	if len(versions) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(versions))
	}
	if versions[0].Content != testCandidate().Content {
		t.Errorf("snapshot holds wrong content: %s", versions[0].Content)
	}
	if versions[0].Version != 1 {
		t.Errorf("snapshot holds wrong version: %d", versions[0].Version)
	}
}

func TestApplySkipLeavesRecordUntouched(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	created, err := store.Apply(ctx, Action{Type: ActionCreate, Candidate: testCandidate()})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	skipped, err := store.Apply(ctx, Action{Type: ActionSkip, TargetID: created.Memory.ID, Candidate: testCandidate()})
	if err != nil {
		t.Fatalf("skip failed: %v", err)
	}

	if skipped.Outcome != AppliedSkipped {
		t.Errorf("expected skipped, got %s", skipped.Outcome)
	}
	if skipped.Memory.Version != 1 {
		t.Errorf("skip must not bump the version, got %d", skipped.Memory.Version)
	}

	versions, err := store.Versions(created.Memory.ID)
	if err != nil {
		t.Fatalf("versions failed: %v", err)
	}
	if len(versions) != 0 {
		t.Errorf("skip must not snapshot, got %d versions", len(versions))
	}
}

func TestApplyFlagCreatesConflictAndPenalizesExisting(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	created, err := store.Apply(ctx, Action{Type: ActionCreate, Candidate: testCandidate()})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	contra := testCandidate()
	contra.Content = "User does not like dark mode anymore"
	contra.Negation = true

	flagged, err := store.Apply(ctx, Action{
		Type:       ActionFlag,
		TargetID:   created.Memory.ID,
		Candidate:  contra,
		Similarity: 0.7,
	})
	if err != nil {
		t.Fatalf("flag failed: %v", err)
	}

	if flagged.Outcome != AppliedConflict {
		t.Errorf("expected created_with_conflict, got %s", flagged.Outcome)
	}
	if flagged.Conflict == nil {
		t.Fatal("expected a conflict record")
	}
	if flagged.Conflict.MemoryID != created.Memory.ID {
		t.Errorf("conflict points at wrong memory: %s", flagged.Conflict.MemoryID)
	}
	if flagged.Conflict.IncomingID != flagged.Memory.ID {
		t.Errorf("conflict incoming id mismatch: %s", flagged.Conflict.IncomingID)
	}
	if flagged.Conflict.Status != ConflictPending {
		t.Errorf("expected pending conflict, got %s", flagged.Conflict.Status)
	}

	// existing record keeps content but loses confidence
	existing, err := store.Get(created.Memory.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if existing.Content != testCandidate().Content {
		t.Error("flag must not rewrite existing content")
	}
	want := 0.9 - 0.15
	if existing.Confidence < want-0.001 || existing.Confidence > want+0.001 {
		t.Errorf("expected penalized confidence %.2f, got %.2f", want, existing.Confidence)
	}

	pending, err := store.PendingConflicts()
	if err != nil {
		t.Fatalf("pending conflicts failed: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("expected 1 pending conflict, got %d", len(pending))
	}
}

func TestApplyRejectsInvalidCandidates(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	cases := map[string]Candidate{
		"empty content": {Level: LevelSemantic, Category: CategoryPreference, Confidence: 0.5},
		"bad category": {
			Content: "x", Level: LevelSemantic, Category: "mood", Confidence: 0.5,
		},
		"confidence out of range": {
			Content: "x", Level: LevelSemantic, Category: CategoryPreference, Confidence: 1.5,
		},
		"bad level": {
			Content: "x", Level: "subliminal", Category: CategoryPreference, Confidence: 0.5,
		},
	}

	for name, c := range cases {
		applied, err := store.Apply(ctx, Action{Type: ActionCreate, Candidate: c})
		if !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
		if applied == nil || applied.Outcome != AppliedRejected {
			t.Errorf("%s: expected rejected outcome", name)
		}
	}
}

func TestTouchBumpsReferenceTracking(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	created, err := store.Apply(ctx, Action{Type: ActionCreate, Candidate: testCandidate()})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := store.Touch(ctx, []string{created.Memory.ID}); err != nil {
		t.Fatalf("touch failed: %v", err)
	}
	if err := store.Touch(ctx, []string{created.Memory.ID}); err != nil {
		t.Fatalf("touch failed: %v", err)
	}

	m, err := store.Get(created.Memory.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if m.ReferenceCount != 2 {
		t.Errorf("expected reference count 2, got %d", m.ReferenceCount)
	}
	if m.LastReferencedAt == nil {
		t.Error("expected last_referenced_at to be set")
	}
}

func TestTransitionArchivedResetsReferences(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	created, err := store.Apply(ctx, Action{Type: ActionCreate, Candidate: testCandidate()})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := store.Touch(ctx, []string{created.Memory.ID}); err != nil {
		t.Fatalf("touch failed: %v", err)
	}

	if err := store.Transition(created.Memory.ID, StatusArchived); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	m, err := store.Get(created.Memory.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if m.Status != StatusArchived {
		t.Errorf("expected archived, got %s", m.Status)
	}
	if m.ReferenceCount != 0 {
		t.Errorf("archival must reset reference count, got %d", m.ReferenceCount)
	}
}

func TestMarkForReviewKeepsExistingDeadline(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	created, err := store.Apply(ctx, Action{Type: ActionCreate, Candidate: testCandidate()})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	first := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	if err := store.MarkForReview(created.Memory.ID, first); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	later := first.Add(72 * time.Hour)
	if err := store.MarkForReview(created.Memory.ID, later); err != nil {
		t.Fatalf("second mark failed: %v", err)
	}

	m, err := store.Get(created.Memory.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if m.Status != StatusPendingReview {
		t.Errorf("expected pending_review, got %s", m.Status)
	}
	if m.ReviewDueAt == nil || !m.ReviewDueAt.Equal(first) {
		t.Errorf("expected original deadline %v, got %v", first, m.ReviewDueAt)
	}
}

func TestGetUnknownMemory(t *testing.T) {
	store := testStore(t)

	if _, err := store.Get("no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
