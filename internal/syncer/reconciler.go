// Package syncer merges the local ledger with remote device snapshots
// fetched from object storage. Merges are commutative: reconcile(A, B)
// and reconcile(B, A) land on the same memory contents and the same
// conflict set, because divergent records are routed through the same
// deterministic conflict classification used for live writes.
package syncer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evermem/evermem/internal/conflict"
	"github.com/evermem/evermem/internal/ledger"
	"github.com/evermem/evermem/internal/logger"
	"github.com/evermem/evermem/internal/simindex"
)

var (
	// ErrSyncUnavailable: the remote snapshot could not be fetched or
	// parsed. The pass aborts with no local mutation.
	ErrSyncUnavailable = errors.New("sync unavailable")

	// ErrSyncBusy: a reconciliation is already in flight for this store.
	ErrSyncBusy = errors.New("sync already in progress")
)

const snapshotPrefix = "devices/"

type Reconciler struct {
	store      *ledger.Store
	db         *sql.DB
	objects    ObjectStore
	deviceID   string
	thresholds conflict.Thresholds
	mu         sync.Mutex

	// reindex, when set, refreshes embeddings for absorbed records
	// after a successful pass.
	reindex func(ctx context.Context) error
}

func New(store *ledger.Store, objects ObjectStore, deviceID string, thresholds conflict.Thresholds) (*Reconciler, error) {
	r := &Reconciler{
		store:      store,
		db:         store.DB(),
		objects:    objects,
		deviceID:   deviceID,
		thresholds: thresholds,
	}
	if _, err := r.db.Exec(statusSchema); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reconciler) SetReindex(fn func(ctx context.Context) error) {
	r.reindex = fn
}

// SyncReport summarizes one reconciliation pass.
type SyncReport struct {
	PeerDevices   []string
	PayloadBytes  int64
	Added         int
	FastForwarded int
	Merged        int
	Conflicted    int
	Skipped       int
}

func (r *Reconciler) snapshotKey(deviceID string) string {
	return snapshotPrefix + deviceID + "/snapshot.json"
}

// Reconcile fetches every peer snapshot, merges it into the local
// ledger, and publishes the merged state under this device's key.
// Only one pass may run at a time per store; a concurrent request is
// rejected with ErrSyncBusy rather than interleaved.
func (r *Reconciler) Reconcile(ctx context.Context) (*SyncReport, error) {
	if !r.mu.TryLock() {
		return nil, ErrSyncBusy
	}
	defer r.mu.Unlock()

	startedAt := time.Now().UTC()

	report, err := r.reconcile(ctx)
	if err != nil {
		outcome := "failed"
		if errors.Is(err, ErrSyncUnavailable) {
			outcome = "unavailable"
		}
		r.recordRun(startedAt, report, outcome)
		return nil, err
	}

	r.recordRun(startedAt, report, "ok")
	return report, nil
}

func (r *Reconciler) reconcile(ctx context.Context) (*SyncReport, error) {
	report := &SyncReport{}

	keys, err := r.objects.List(ctx, snapshotPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list snapshots: %v", ErrSyncUnavailable, err)
	}

	// fetch and parse everything up front: a bad remote snapshot must
	// abort before any local mutation
	var remotes []*ledger.Snapshot
	for _, key := range keys {
		if key == r.snapshotKey(r.deviceID) {
			continue
		}
		data, err := r.objects.Download(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("%w: fetch %s: %v", ErrSyncUnavailable, key, err)
		}
		var snap ledger.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrSyncUnavailable, key, err)
		}
		report.PayloadBytes += int64(len(data))
		remotes = append(remotes, &snap)
	}

	for _, snap := range remotes {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.PeerDevices = append(report.PeerDevices, snap.DeviceID)
		if err := r.mergeSnapshot(ctx, snap, report); err != nil {
			return report, err
		}
	}

	if r.reindex != nil {
		if err := r.reindex(ctx); err != nil {
			logger.Warn("post-sync reindex failed", "error", err)
		}
	}

	merged, err := r.store.Export(r.deviceID)
	if err != nil {
		return report, err
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return report, err
	}
	if err := r.objects.Upload(ctx, r.snapshotKey(r.deviceID), data); err != nil {
		return report, fmt.Errorf("publish snapshot: %w", err)
	}

	return report, nil
}

func (r *Reconciler) mergeSnapshot(ctx context.Context, remote *ledger.Snapshot, report *SyncReport) error {
	for _, rm := range remote.Memories {
		if err := ctx.Err(); err != nil {
			return err
		}

		local, err := r.store.Get(rm.Memory.ID)
		if errors.Is(err, ledger.ErrNotFound) {
			if err := r.store.ImportRemoteMemory(&rm.Memory, rm.Versions); err != nil {
				logger.Error("sync import failed", "memory", rm.Memory.ID, "error", err)
				continue
			}
			report.Added++
			continue
		}
		if err != nil {
			return err
		}

		localVersions, err := r.store.Versions(local.ID)
		if err != nil {
			return err
		}

		if err := r.mergeMemory(local, localVersions, rm, report); err != nil {
			// fault isolation: one bad record must not sink the pass
			logger.Error("sync merge failed", "memory", local.ID, "error", err)
		}
	}

	for _, sc := range remote.Conflicts {
		c := sc.Conflict
		if err := r.store.UpsertConflict(&c); err != nil {
			logger.Error("sync conflict import failed", "conflict", c.ID, "error", err)
		}
	}

	return nil
}

// mergeMemory applies the per-memory merge rule for a shared id. The
// higher version wins as base; when both sides mutated past the common
// ancestor, the two heads are routed through the conflict detector as
// candidate vs existing.
func (r *Reconciler) mergeMemory(local *ledger.Memory, localVersions []*ledger.MemoryVersion, rm ledger.SnapshotMemory, report *SyncReport) error {
	remote := rm.Memory

	if local.Version == remote.Version && normalize(local.Content) == normalize(remote.Content) {
		report.Skipped++
		return nil
	}

	// remote is a strict descendant of local: fast-forward, absorbing
	// the intermediate history in original order
	if remote.Version > local.Version && ancestorOf(local, rm.Versions) {
		head := remote
		if err := r.store.ReplaceHistory(&head, rm.Versions); err != nil {
			return err
		}
		report.FastForwarded++
		return nil
	}

	// local is a strict descendant of remote: nothing to absorb
	if local.Version > remote.Version && ancestorOf(&remote, deref(localVersions)) {
		report.Skipped++
		return nil
	}

	// both sides moved past the common ancestor
	winner, loser := orderHeads(local, &remote)

	similarity := contentSimilarity(winner.Content, loser.Content)
	candidate := ledger.Candidate{
		Content:    winner.Content,
		Level:      winner.Level,
		Category:   winner.Category,
		Importance: winner.Importance,
		Confidence: winner.Confidence,
	}
	matches := conflict.MarkContradictions(candidate, []simindex.Match{{
		MemoryID:   loser.ID,
		Content:    loser.Content,
		Category:   loser.Category,
		Level:      loser.Level,
		Importance: loser.Importance,
		Confidence: loser.Confidence,
		Similarity: similarity,
	}})
	decision := conflict.Classify(candidate, matches, r.thresholds)

	history := unionHistory(localVersions, rm.Versions, loser)

	head := *winner
	head.Version = len(history) + 1
	if remote.UpdatedAt.After(local.UpdatedAt) {
		head.UpdatedAt = remote.UpdatedAt
	} else {
		head.UpdatedAt = local.UpdatedAt
	}

	if err := r.store.ReplaceHistory(&head, history); err != nil {
		return err
	}

	switch decision.Outcome {
	case ledger.AppliedSkipped, ledger.AppliedMerged:
		report.Merged++
	default:
		// contradictory or unrelated contents under one id: keep the
		// winner as head and surface a pending conflict
		c := divergenceConflict(head.ID, winner.Content, loser.Content, similarity)
		if err := r.store.UpsertConflict(c); err != nil {
			return err
		}
		report.Conflicted++
	}

	return nil
}

// orderHeads picks the deterministic winner of a divergence: later
// update first, then higher version, then lexicographic content. The
// rule is symmetric, so both devices agree regardless of which one
// reconciles first.
func orderHeads(a, b *ledger.Memory) (winner, loser *ledger.Memory) {
	switch {
	case a.UpdatedAt.After(b.UpdatedAt):
		return a, b
	case b.UpdatedAt.After(a.UpdatedAt):
		return b, a
	case a.Version != b.Version:
		if a.Version > b.Version {
			return a, b
		}
		return b, a
	case a.Content > b.Content:
		return a, b
	default:
		return b, a
	}
}

// ancestorOf reports whether head's content is recorded at head's
// version in the other side's history, i.e. the other side built on it.
func ancestorOf(head *ledger.Memory, versions []ledger.MemoryVersion) bool {
	for _, v := range versions {
		if v.Version == head.Version && normalize(v.Content) == normalize(head.Content) {
			return true
		}
	}
	return false
}

// unionHistory merges both version histories plus the losing head into
// one contiguous sequence in chronological order.
func unionHistory(local []*ledger.MemoryVersion, remote []ledger.MemoryVersion, loser *ledger.Memory) []ledger.MemoryVersion {
	type key struct {
		content string
		at      int64
	}
	seen := make(map[key]bool)

	var entries []ledger.MemoryVersion
	add := func(v ledger.MemoryVersion) {
		k := key{normalize(v.Content), v.CreatedAt.Unix()}
		if seen[k] {
			return
		}
		seen[k] = true
		entries = append(entries, v)
	}

	for _, v := range local {
		add(*v)
	}
	for _, v := range remote {
		add(v)
	}
	add(ledger.MemoryVersion{
		MemoryID:   loser.ID,
		Content:    loser.Content,
		Importance: loser.Importance,
		Confidence: loser.Confidence,
		CreatedAt:  loser.UpdatedAt,
	})

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].Content < entries[j].Content
	})

	for i := range entries {
		entries[i].Version = i + 1
	}

	return entries
}

// divergenceConflict builds a deterministic conflict id from the
// memory id and both contents, so the same divergence detected on two
// devices dedupes to one row.
func divergenceConflict(memoryID, a, b string, similarity float64) *ledger.Conflict {
	lo, hi := normalize(a), normalize(b)
	if lo > hi {
		lo, hi = hi, lo
	}
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(memoryID+"|"+lo+"|"+hi)).String()

	return &ledger.Conflict{
		ID:         id,
		MemoryID:   memoryID,
		IncomingID: memoryID,
		Similarity: similarity,
		Status:     ledger.ConflictPending,
		DetectedAt: time.Now().UTC(),
	}
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// contentSimilarity is a deterministic, symmetric token Jaccard score.
// Snapshots carry no embeddings, so divergence classification cannot
// depend on a model being present on the reconciling device.
func contentSimilarity(a, b string) float64 {
	if normalize(a) == normalize(b) {
		return 1.0
	}

	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	intersection := 0
	for t := range ta {
		if tb[t] {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection

	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range strings.Fields(normalize(s)) {
		set[t] = true
	}
	return set
}

func deref(versions []*ledger.MemoryVersion) []ledger.MemoryVersion {
	out := make([]ledger.MemoryVersion, 0, len(versions))
	for _, v := range versions {
		out = append(out, *v)
	}
	return out
}
