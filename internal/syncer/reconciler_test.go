package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/evermem/evermem/internal/conflict"
	"github.com/evermem/evermem/internal/ledger"
)

// memObjects is an in-memory ObjectStore for tests.
type memObjects struct {
	mu          sync.Mutex
	objects     map[string][]byte
	downloadErr error
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (o *memObjects) Upload(ctx context.Context, key string, data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = append([]byte(nil), data...)
	return nil
}

func (o *memObjects) Download(ctx context.Context, key string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.downloadErr != nil {
		return nil, o.downloadErr
	}
	data, ok := o.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (o *memObjects) List(ctx context.Context, prefix string) ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var keys []string
	for k := range o.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func testLedger(t *testing.T) *ledger.Store {
	t.Helper()
	store, err := ledger.Open(":memory:")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

var (
	t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	t2 = time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)
	t3 = time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC)
)

func fixedMemory(id, content string, version int, updatedAt time.Time) *ledger.Memory {
	return &ledger.Memory{
		ID:           id,
		Content:      content,
		Level:        ledger.LevelSemantic,
		Category:     ledger.CategoryKnowledge,
		Importance:   0.6,
		Confidence:   0.8,
		Privacy:      ledger.PrivacyPersonal,
		Version:      version,
		Status:       ledger.StatusActive,
		DecayProfile: ledger.ProfileSemiStable,
		CreatedAt:    t0,
		UpdatedAt:    updatedAt,
	}
}

func publish(t *testing.T, objects *memObjects, store *ledger.Store, deviceID string) {
	t.Helper()

	snap, err := store.Export(deviceID)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := objects.Upload(context.Background(), "devices/"+deviceID+"/snapshot.json", data); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
}

func TestReconcileImportsAbsentMemories(t *testing.T) {
	objects := newMemObjects()

	remote := testLedger(t)
	m := fixedMemory("mem-1", "User works at Initech", 1, t1)
	if err := remote.ImportRemoteMemory(m, nil); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	publish(t, objects, remote, "laptop")

	local := testLedger(t)
	r, err := New(local, objects, "desktop", conflict.DefaultThresholds)
	if err != nil {
		t.Fatalf("reconciler failed: %v", err)
	}

	report, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	if report.Added != 1 {
		t.Errorf("expected 1 added, got %d", report.Added)
	}

	got, err := local.Get("mem-1")
	if err != nil {
		t.Fatalf("imported memory missing: %v", err)
	}
	if got.Content != m.Content || got.Version != 1 {
		t.Errorf("import mangled the record: %+v", got)
	}

	// the merged state was published under this device's key
	if _, err := objects.Download(context.Background(), "devices/desktop/snapshot.json"); err != nil {
		t.Error("expected a published snapshot for desktop")
	}
}

func TestReconcileFastForwards(t *testing.T) {
	objects := newMemObjects()

	ancestor := ledger.MemoryVersion{
		MemoryID: "mem-1", Version: 1, Content: "User works at Initech",
		Importance: 0.6, Confidence: 0.8, CreatedAt: t1,
	}

	remote := testLedger(t)
	head := fixedMemory("mem-1", "User works at Initech in Austin", 2, t2)
	if err := remote.ImportRemoteMemory(head, []ledger.MemoryVersion{ancestor}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	publish(t, objects, remote, "laptop")

	local := testLedger(t)
	stale := fixedMemory("mem-1", "User works at Initech", 1, t1)
	if err := local.ImportRemoteMemory(stale, nil); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	r, err := New(local, objects, "desktop", conflict.DefaultThresholds)
	if err != nil {
		t.Fatalf("reconciler failed: %v", err)
	}

	report, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	if report.FastForwarded != 1 {
		t.Errorf("expected 1 fast-forward, got %d", report.FastForwarded)
	}
	if report.Conflicted != 0 {
		t.Errorf("fast-forward must not conflict, got %d", report.Conflicted)
	}

	got, err := local.Get("mem-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Content != head.Content || got.Version != 2 {
		t.Errorf("expected remote head, got v%d %q", got.Version, got.Content)
	}

	versions, err := local.Versions("mem-1")
	if err != nil {
		t.Fatalf("versions failed: %v", err)
	}
	if len(versions) != 1 || versions[0].Content != ancestor.Content {
		t.Errorf("expected absorbed history, got %+v", versions)
	}
}

func TestReconcileSkipsWhenLocalIsAhead(t *testing.T) {
	objects := newMemObjects()

	ancestor := ledger.MemoryVersion{
		MemoryID: "mem-1", Version: 1, Content: "User works at Initech",
		Importance: 0.6, Confidence: 0.8, CreatedAt: t1,
	}

	remote := testLedger(t)
	stale := fixedMemory("mem-1", "User works at Initech", 1, t1)
	if err := remote.ImportRemoteMemory(stale, nil); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	publish(t, objects, remote, "laptop")

	local := testLedger(t)
	head := fixedMemory("mem-1", "User works at Initech in Austin", 2, t2)
	if err := local.ImportRemoteMemory(head, []ledger.MemoryVersion{ancestor}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	r, err := New(local, objects, "desktop", conflict.DefaultThresholds)
	if err != nil {
		t.Fatalf("reconciler failed: %v", err)
	}

	report, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	if report.Skipped != 1 {
		t.Errorf("expected 1 skipped, got %d", report.Skipped)
	}

	got, err := local.Get("mem-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Content != head.Content || got.Version != 2 {
		t.Errorf("local head must be untouched, got v%d %q", got.Version, got.Content)
	}
}

// divergedStores builds two ledgers that both moved past a shared
// ancestor of mem-1 in different directions.
func divergedStores(t *testing.T) (a, b *ledger.Store) {
	t.Helper()

	ancestor := ledger.MemoryVersion{
		MemoryID: "mem-1", Version: 1, Content: "User works at Initech",
		Importance: 0.6, Confidence: 0.8, CreatedAt: t1,
	}

	a = testLedger(t)
	headA := fixedMemory("mem-1", "User works at Initech in Austin", 2, t2)
	if err := a.ImportRemoteMemory(headA, []ledger.MemoryVersion{ancestor}); err != nil {
		t.Fatalf("seed A failed: %v", err)
	}

	b = testLedger(t)
	headB := fixedMemory("mem-1", "User no longer works at Initech", 2, t3)
	if err := b.ImportRemoteMemory(headB, []ledger.MemoryVersion{ancestor}); err != nil {
		t.Fatalf("seed B failed: %v", err)
	}

	return a, b
}

func TestReconcileDivergenceIsCommutative(t *testing.T) {
	ctx := context.Background()

	// direction 1: A absorbs B
	storeA, storeB := divergedStores(t)
	objects1 := newMemObjects()
	publish(t, objects1, storeB, "laptop")
	recA, err := New(storeA, objects1, "desktop", conflict.DefaultThresholds)
	if err != nil {
		t.Fatalf("reconciler failed: %v", err)
	}
	reportA, err := recA.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile A failed: %v", err)
	}

	// direction 2: B absorbs A
	storeA2, storeB2 := divergedStores(t)
	objects2 := newMemObjects()
	publish(t, objects2, storeA2, "desktop")
	recB, err := New(storeB2, objects2, "laptop", conflict.DefaultThresholds)
	if err != nil {
		t.Fatalf("reconciler failed: %v", err)
	}
	reportB, err := recB.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile B failed: %v", err)
	}

	if reportA.Conflicted != 1 || reportB.Conflicted != 1 {
		t.Errorf("expected 1 conflict on both sides, got %d and %d", reportA.Conflicted, reportB.Conflicted)
	}

	fromA, err := storeA.Get("mem-1")
	if err != nil {
		t.Fatalf("get A failed: %v", err)
	}
	fromB, err := storeB2.Get("mem-1")
	if err != nil {
		t.Fatalf("get B failed: %v", err)
	}

	// later update wins on both devices
	if fromA.Content != "User no longer works at Initech" {
		t.Errorf("A converged to wrong head: %q", fromA.Content)
	}
	if fromA.Content != fromB.Content {
		t.Errorf("heads diverge: %q vs %q", fromA.Content, fromB.Content)
	}
	if fromA.Version != fromB.Version {
		t.Errorf("versions diverge: %d vs %d", fromA.Version, fromB.Version)
	}

	// absorbed histories are identical and contiguous
	versionsA, err := storeA.Versions("mem-1")
	if err != nil {
		t.Fatalf("versions A failed: %v", err)
	}
	versionsB, err := storeB2.Versions("mem-1")
	if err != nil {
		t.Fatalf("versions B failed: %v", err)
	}
	if len(versionsA) != len(versionsB) {
		t.Fatalf("history lengths diverge: %d vs %d", len(versionsA), len(versionsB))
	}
	for i := range versionsA {
		if versionsA[i].Content != versionsB[i].Content || versionsA[i].Version != versionsB[i].Version {
			t.Errorf("history entry %d diverges: %+v vs %+v", i, versionsA[i], versionsB[i])
		}
		if versionsA[i].Version != i+1 {
			t.Errorf("history not contiguous at %d: version %d", i, versionsA[i].Version)
		}
	}
	if fromA.Version != len(versionsA)+1 {
		t.Errorf("head version %d does not extend history of %d", fromA.Version, len(versionsA))
	}

	// the divergence conflict dedupes to the same id on both devices
	conflictsA, err := storeA.ListConflicts()
	if err != nil {
		t.Fatalf("conflicts A failed: %v", err)
	}
	conflictsB, err := storeB2.ListConflicts()
	if err != nil {
		t.Fatalf("conflicts B failed: %v", err)
	}
	if len(conflictsA) != 1 || len(conflictsB) != 1 {
		t.Fatalf("expected exactly 1 conflict each, got %d and %d", len(conflictsA), len(conflictsB))
	}
	if conflictsA[0].ID != conflictsB[0].ID {
		t.Errorf("conflict ids diverge: %s vs %s", conflictsA[0].ID, conflictsB[0].ID)
	}
	if conflictsA[0].Status != ledger.ConflictPending {
		t.Errorf("expected pending conflict, got %s", conflictsA[0].Status)
	}
}

func TestReconcileUnavailableAbortsWithoutMutation(t *testing.T) {
	objects := newMemObjects()

	remote := testLedger(t)
	if err := remote.ImportRemoteMemory(fixedMemory("mem-9", "User plays chess", 1, t1), nil); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	publish(t, objects, remote, "laptop")
	objects.downloadErr = errors.New("connection refused")

	local := testLedger(t)
	r, err := New(local, objects, "desktop", conflict.DefaultThresholds)
	if err != nil {
		t.Fatalf("reconciler failed: %v", err)
	}

	_, err = r.Reconcile(context.Background())
	if !errors.Is(err, ErrSyncUnavailable) {
		t.Fatalf("expected ErrSyncUnavailable, got %v", err)
	}

	if _, err := local.Get("mem-9"); !errors.Is(err, ledger.ErrNotFound) {
		t.Error("failed fetch must not mutate the local store")
	}

	status, err := r.Status()
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.LastSyncedAt != nil {
		t.Error("failed run must not count as a successful sync")
	}
}

func TestReconcileRejectsConcurrentRuns(t *testing.T) {
	local := testLedger(t)
	r, err := New(local, newMemObjects(), "desktop", conflict.DefaultThresholds)
	if err != nil {
		t.Fatalf("reconciler failed: %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.Reconcile(context.Background()); !errors.Is(err, ErrSyncBusy) {
		t.Errorf("expected ErrSyncBusy, got %v", err)
	}
}

func TestReconcileRecordsSuccessfulRun(t *testing.T) {
	objects := newMemObjects()

	remote := testLedger(t)
	if err := remote.ImportRemoteMemory(fixedMemory("mem-1", "User plays chess", 1, t1), nil); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	publish(t, objects, remote, "laptop")

	local := testLedger(t)
	r, err := New(local, objects, "desktop", conflict.DefaultThresholds)
	if err != nil {
		t.Fatalf("reconciler failed: %v", err)
	}

	if _, err := r.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	status, err := r.Status()
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.LastSyncedAt == nil {
		t.Fatal("expected a recorded sync time")
	}
	if status.Outcome != "ok" {
		t.Errorf("expected ok outcome, got %s", status.Outcome)
	}
	if len(status.PeerDevices) != 1 || status.PeerDevices[0] != "laptop" {
		t.Errorf("expected laptop peer, got %v", status.PeerDevices)
	}
}
