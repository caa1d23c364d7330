// Package service is the facade over the memory engine: it wires the
// ledger, similarity index, conflict detector, graph, miner, and sync
// into the operations callers actually invoke. Every write funnels
// through the same ingestion pipeline regardless of origin.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evermem/evermem/internal/conflict"
	"github.com/evermem/evermem/internal/decay"
	"github.com/evermem/evermem/internal/embedder"
	"github.com/evermem/evermem/internal/graph"
	"github.com/evermem/evermem/internal/ledger"
	"github.com/evermem/evermem/internal/logger"
	"github.com/evermem/evermem/internal/miner"
	"github.com/evermem/evermem/internal/simindex"
	"github.com/evermem/evermem/internal/syncer"
)

// ErrNoEmbedder: an operation needing vectors was called with no
// embedding provider configured.
var ErrNoEmbedder = errors.New("no embedder configured")

// ErrSyncDisabled: sync operations were called with no object store
// configured.
var ErrSyncDisabled = errors.New("sync not configured")

const (
	defaultOpTimeout = 30 * time.Second

	// nearestK bounds how many similarity hits the detector classifies
	// against per write.
	nearestK = 8
)

type Service struct {
	store      *ledger.Store
	index      *simindex.Index
	embed      embedder.Embedder
	graph      *graph.Builder
	decay      *decay.Scheduler
	miner      *miner.Miner
	transcript *miner.Store
	sync       *syncer.Reconciler
	thresholds conflict.Thresholds
	opTimeout  time.Duration

	previewMu sync.Mutex
	previews  map[string]*preview
}

type preview struct {
	Candidates      []ledger.Candidate
	ConversationIDs []string
	CreatedAt       time.Time
}

type Options struct {
	Store      *ledger.Store
	Index      *simindex.Index
	Embedder   embedder.Embedder
	Extractor  miner.Extractor
	Sync       *syncer.Reconciler
	Thresholds conflict.Thresholds
	OpTimeout  time.Duration
}

func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Index == nil {
		return nil, errors.New("index is required")
	}
	th := opts.Thresholds
	if th.Duplicate == 0 && th.Merge == 0 {
		th = conflict.DefaultThresholds
	}
	timeout := opts.OpTimeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	g, err := graph.New(opts.Store)
	if err != nil {
		return nil, err
	}

	transcript, err := miner.NewStore(opts.Store.DB())
	if err != nil {
		return nil, err
	}

	s := &Service{
		store:      opts.Store,
		index:      opts.Index,
		embed:      opts.Embedder,
		graph:      g,
		decay:      decay.New(opts.Store),
		transcript: transcript,
		sync:       opts.Sync,
		thresholds: th,
		opTimeout:  timeout,
		previews:   make(map[string]*preview),
	}

	extractor := opts.Extractor
	if extractor == nil {
		extractor = miner.NewHeuristicExtractor()
	}
	s.miner = miner.New(transcript, extractor, s.ingest)

	if s.sync != nil && s.embed != nil {
		s.sync.SetReindex(func(ctx context.Context) error {
			return s.index.Rebuild(ctx, s.embed.Embed)
		})
	}

	return s, nil
}

// Write ingests one candidate through the full governance pipeline:
// embed, match, classify, apply, index, derive edges.
func (s *Service) Write(ctx context.Context, candidate ledger.Candidate) (*ledger.Applied, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.ingest(ctx, candidate)
}

func (s *Service) ingest(ctx context.Context, candidate ledger.Candidate) (*ledger.Applied, error) {
	if s.embed == nil {
		return nil, ErrNoEmbedder
	}

	vector, err := s.embed.Embed(ctx, candidate.Content)
	if err != nil {
		return nil, fmt.Errorf("embed candidate: %w", err)
	}

	matches, err := s.index.Nearest(ctx, vector, nearestK)
	if err != nil {
		return nil, fmt.Errorf("similarity lookup: %w", err)
	}

	matches = conflict.MarkContradictions(candidate, matches)
	decision := conflict.Classify(candidate, matches, s.thresholds)

	action := ledger.Action{
		Candidate:  candidate,
		TargetID:   decision.TargetID,
		Similarity: decision.Similarity,
		Reinforces: decision.Reinforces,
	}
	switch decision.Outcome {
	case ledger.AppliedSkipped:
		action.Type = ledger.ActionSkip
	case ledger.AppliedMerged:
		action.Type = ledger.ActionMerge
	case ledger.AppliedConflict:
		action.Type = ledger.ActionFlag
	default:
		action.Type = ledger.ActionCreate
	}

	applied, err := s.store.Apply(ctx, action)
	if err != nil {
		return applied, err
	}

	if applied.Outcome != ledger.AppliedSkipped && applied.Memory != nil {
		if err := s.index.Upsert(ctx, applied.Memory.ID, vector); err != nil {
			return applied, fmt.Errorf("index memory %s: %w", applied.Memory.ID, err)
		}
	}

	if err := s.graph.RecordWrite(ctx, applied); err != nil {
		// edges are derived data; the write itself stands
		logger.Warn("edge derivation failed", "memory", applied.Memory.ID, "error", err)
	}

	logger.Debug("candidate applied", "outcome", applied.Outcome, "memory", applied.Memory.ID)
	return applied, nil
}

// ReadResult pairs a recalled memory with its query similarity.
type ReadResult struct {
	Memory     *ledger.Memory
	Similarity float64
}

// Read recalls the memories most similar to the query and records the
// recall as a reference touch on each.
func (s *Service) Read(ctx context.Context, query string, limit int) ([]ReadResult, error) {
	if s.embed == nil {
		return nil, ErrNoEmbedder
	}
	if limit <= 0 {
		limit = 10
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	vector, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	matches, err := s.index.Nearest(ctx, vector, limit)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(matches))
	results := make([]ReadResult, 0, len(matches))
	for _, match := range matches {
		m, err := s.store.Get(match.MemoryID)
		if err != nil {
			continue
		}
		ids = append(ids, m.ID)
		results = append(results, ReadResult{Memory: m, Similarity: match.Similarity})
	}

	if err := s.store.Touch(ctx, ids); err != nil {
		logger.Warn("reference touch failed", "error", err)
	}

	return results, nil
}

// Feedback records that the given memories proved useful, bumping
// their reference counters outside a read.
func (s *Service) Feedback(ctx context.Context, ids []string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.store.Touch(ctx, ids)
}

// RecordMessage appends one conversation turn for later mining.
func (s *Service) RecordMessage(conversationID, role, content string) error {
	return s.transcript.Append(conversationID, role, content)
}

// PreviewImport mines the given conversations (or all unanalyzed ones)
// without writing anything, and parks the candidates under a preview id
// for ConfirmImport.
func (s *Service) PreviewImport(ctx context.Context, conversationIDs []string) (string, []ledger.Candidate, error) {
	result, err := s.miner.Scan(ctx, conversationIDs, miner.ModeDryRun)
	if err != nil {
		return "", nil, err
	}

	id := uuid.New().String()

	s.previewMu.Lock()
	s.previews[id] = &preview{
		Candidates:      result.Candidates,
		ConversationIDs: result.ConversationIDs,
		CreatedAt:       time.Now().UTC(),
	}
	s.previewMu.Unlock()

	return id, result.Candidates, nil
}

// ConfirmImport ingests exactly the candidates a prior preview showed;
// it never re-extracts, so the confirmed import matches what the caller
// approved even if transcripts changed in between. Unknown or
// already-consumed preview ids fail cleanly.
func (s *Service) ConfirmImport(ctx context.Context, previewID string) (*miner.MiningResult, error) {
	s.previewMu.Lock()
	p, ok := s.previews[previewID]
	if ok {
		delete(s.previews, previewID)
	}
	s.previewMu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: preview %s", ledger.ErrNotFound, previewID)
	}

	result := &miner.MiningResult{
		Scanned:         len(p.ConversationIDs),
		ConversationIDs: p.ConversationIDs,
	}
	for _, candidate := range p.Candidates {
		applied, err := s.ingest(ctx, candidate)
		if err != nil {
			if errors.Is(err, ledger.ErrValidation) {
				result.Rejected++
				continue
			}
			return result, err
		}
		result.Tally(applied.Outcome)
	}

	for _, id := range p.ConversationIDs {
		if err := s.transcript.MarkAnalyzed(id); err != nil {
			return result, err
		}
	}

	return result, nil
}

// MineConversations runs a direct import scan, bypassing preview.
func (s *Service) MineConversations(ctx context.Context, conversationIDs []string) (*miner.MiningResult, error) {
	return s.miner.Scan(ctx, conversationIDs, miner.ModeImport)
}

// GetGraph returns the edge neighborhood around a memory.
func (s *Service) GetGraph(id string, depth int) (*graph.Neighborhood, error) {
	return s.graph.Neighborhood(id, depth)
}

// RebuildGraph recomputes every edge from the ledger.
func (s *Service) RebuildGraph(ctx context.Context) error {
	return s.graph.Rebuild(ctx)
}

// RunDecay executes one decay pass as of now.
func (s *Service) RunDecay(ctx context.Context) (decay.PassResult, error) {
	return s.decay.Pass(ctx, time.Now().UTC())
}

// PendingConflicts lists unresolved contradictions for review.
func (s *Service) PendingConflicts() ([]*ledger.Conflict, error) {
	return s.store.PendingConflicts()
}

// Review resolutions.
const (
	KeepExisting = "keep_existing"
	KeepIncoming = "keep_incoming"
	KeepBoth     = "keep_both"
)

// ReviewConflict settles a pending conflict. The losing side, if any,
// is archived; the conflict row records the resolution.
func (s *Service) ReviewConflict(conflictID, resolution string) error {
	c, err := s.store.GetConflict(conflictID)
	if err != nil {
		return err
	}

	switch resolution {
	case KeepExisting:
		if err := s.store.Transition(c.IncomingID, ledger.StatusArchived); err != nil {
			return err
		}
	case KeepIncoming:
		if err := s.store.Transition(c.MemoryID, ledger.StatusArchived); err != nil {
			return err
		}
	case KeepBoth:
		// both stay active; the contradiction is accepted as context
	default:
		return fmt.Errorf("%w: unknown resolution %q", ledger.ErrValidation, resolution)
	}

	return s.store.ResolveConflict(conflictID, resolution)
}

// ReturnToActive reactivates a memory held in pending_review.
func (s *Service) ReturnToActive(id string) error {
	return s.store.Transition(id, ledger.StatusActive)
}

// TriggerSync runs one reconciliation pass against the object store.
func (s *Service) TriggerSync(ctx context.Context) (*syncer.SyncReport, error) {
	if s.sync == nil {
		return nil, ErrSyncDisabled
	}
	return s.sync.Reconcile(ctx)
}

// SyncStatus reports the last successful reconciliation.
func (s *Service) SyncStatus() (*syncer.SyncStatus, error) {
	if s.sync == nil {
		return nil, ErrSyncDisabled
	}
	return s.sync.Status()
}

// Export produces the portable snapshot of this device's ledger.
func (s *Service) Export(deviceID string) (*ledger.Snapshot, error) {
	return s.store.Export(deviceID)
}

// Get returns a single memory by id.
func (s *Service) Get(id string) (*ledger.Memory, error) {
	return s.store.Get(id)
}

// History returns a memory's immutable version snapshots.
func (s *Service) History(id string) ([]*ledger.MemoryVersion, error) {
	return s.store.Versions(id)
}
