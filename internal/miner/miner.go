// Package miner extracts memory candidates from stored conversation
// transcripts and routes them through the same ingestion path as
// direct writes. Conversations already marked analyzed are skipped, so
// a scan never double-ingests.
package miner

import (
	"context"
	"errors"
	"fmt"

	"github.com/evermem/evermem/internal/ledger"
	"github.com/evermem/evermem/internal/logger"
)

type Mode string

const (
	ModeDryRun Mode = "dry_run"
	ModeImport Mode = "import"
)

// IngestFunc is the write pipeline candidates are routed through in
// import mode, the same one direct writes use.
type IngestFunc func(ctx context.Context, candidate ledger.Candidate) (*ledger.Applied, error)

type Miner struct {
	store     *Store
	extractor Extractor
	ingest    IngestFunc
}

func New(store *Store, extractor Extractor, ingest IngestFunc) *Miner {
	return &Miner{store: store, extractor: extractor, ingest: ingest}
}

// MiningResult aggregates a scan's outcome counts.
type MiningResult struct {
	Scanned         int
	AlreadyAnalyzed int
	ConversationIDs []string           // conversations this run actually covered
	Candidates      []ledger.Candidate // populated in dry_run mode
	Created         int
	Merged          int
	Skipped         int
	ConflictPending int
	Rejected        int
}

// Tally folds one write outcome into the result counts.
func (r *MiningResult) Tally(outcome ledger.AppliedAction) {
	switch outcome {
	case ledger.AppliedCreated:
		r.Created++
	case ledger.AppliedMerged:
		r.Merged++
	case ledger.AppliedSkipped:
		r.Skipped++
	case ledger.AppliedConflict:
		r.ConflictPending++
	case ledger.AppliedRejected:
		r.Rejected++
	}
}

// Scan mines the given conversations, or every unanalyzed one when
// conversationIDs is empty. Import runs are cancellable between
// conversations but never mid-conversation: a conversation is marked
// analyzed only once every candidate went through, so a cancelled or
// failed scan leaves it unmarked and a re-scan picks it up whole.
func (m *Miner) Scan(ctx context.Context, conversationIDs []string, mode Mode) (*MiningResult, error) {
	if mode != ModeDryRun && mode != ModeImport {
		return nil, fmt.Errorf("unknown mining mode %q", mode)
	}

	result := &MiningResult{}

	ids := conversationIDs
	if len(ids) == 0 {
		var err error
		ids, err = m.store.Unanalyzed()
		if err != nil {
			return nil, err
		}
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		analyzed, err := m.store.IsAnalyzed(id)
		if err != nil {
			return result, err
		}
		if analyzed {
			result.AlreadyAnalyzed++
			continue
		}

		conv, err := m.store.Transcript(id)
		if err != nil {
			return result, err
		}

		candidates, err := m.extractor.Extract(ctx, conv)
		if err != nil {
			// one bad conversation must not sink the scan
			logger.Error("extraction failed", "conversation", id, "error", err)
			continue
		}

		result.Scanned++
		result.ConversationIDs = append(result.ConversationIDs, id)

		if mode == ModeDryRun {
			result.Candidates = append(result.Candidates, candidates...)
			continue
		}

		for _, candidate := range candidates {
			applied, err := m.ingest(ctx, candidate)
			if err != nil {
				if errors.Is(err, ledger.ErrValidation) {
					result.Rejected++
					logger.Warn("candidate rejected", "conversation", id, "error", err)
					continue
				}
				// A transient failure (cancellation, embedder outage) must
				// leave the conversation unmarked so the next scan retries
				// every candidate; dedup absorbs the ones already written.
				return result, fmt.Errorf("conversation %s: %w", id, err)
			}
			result.Tally(applied.Outcome)
		}

		if err := m.store.MarkAnalyzed(id); err != nil {
			return result, err
		}
	}

	return result, nil
}
