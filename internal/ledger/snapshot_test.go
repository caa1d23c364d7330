package ledger

import (
	"context"
	"testing"
)

func TestExportCarriesFullState(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	created, err := store.Apply(ctx, Action{Type: ActionCreate, Candidate: testCandidate()})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	update := testCandidate()
	update.Content = "User prefers dark mode everywhere"
	if _, err := store.Apply(ctx, Action{Type: ActionMerge, TargetID: created.Memory.ID, Candidate: update}); err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	contra := testCandidate()
	contra.Content = "User does not like dark mode"
	if _, err := store.Apply(ctx, Action{
		Type: ActionFlag, TargetID: created.Memory.ID, Candidate: contra, Similarity: 0.7,
	}); err != nil {
		t.Fatalf("flag failed: %v", err)
	}

	snap, err := store.Export("desktop")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	if snap.DeviceID != "desktop" {
		t.Errorf("expected device id desktop, got %s", snap.DeviceID)
	}
	if len(snap.Memories) != 2 {
		t.Fatalf("expected 2 memories, got %d", len(snap.Memories))
	}
	if len(snap.Conflicts) != 1 {
		t.Errorf("expected 1 conflict, got %d", len(snap.Conflicts))
	}

	var merged *SnapshotMemory
	for i := range snap.Memories {
		if snap.Memories[i].Memory.ID == created.Memory.ID {
			merged = &snap.Memories[i]
		}
	}
	if merged == nil {
		t.Fatal("merged memory missing from snapshot")
	}
	if merged.Memory.Version != 2 {
		t.Errorf("expected head version 2, got %d", merged.Memory.Version)
	}
	if len(merged.Versions) != 1 {
		t.Errorf("expected 1 history entry, got %d", len(merged.Versions))
	}
}

func TestImportRemoteMemoryPreservesIdentity(t *testing.T) {
	source := testStore(t)
	ctx := context.Background()

	created, err := source.Apply(ctx, Action{Type: ActionCreate, Candidate: testCandidate()})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	dest := testStore(t)
	if err := dest.ImportRemoteMemory(created.Memory, nil); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	got, err := dest.Get(created.Memory.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.ID != created.Memory.ID {
		t.Errorf("id changed on import: %s", got.ID)
	}
	if !got.CreatedAt.Equal(created.Memory.CreatedAt) {
		t.Errorf("created_at changed on import: %v vs %v", got.CreatedAt, created.Memory.CreatedAt)
	}
	if got.Version != created.Memory.Version {
		t.Errorf("version changed on import: %d", got.Version)
	}
}
