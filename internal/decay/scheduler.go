// Package decay ages memories out by their decay profile. A pass walks
// every active memory, archives the expired, and routes contradicted
// low-confidence records to review. Passes are idempotent and a failed
// pass is retried on the next interval, never fatal.
package decay

import (
	"context"
	"time"

	"github.com/evermem/evermem/internal/ledger"
	"github.com/evermem/evermem/internal/logger"
)

type Scheduler struct {
	store  *ledger.Store
	policy ledger.DecayPolicy
}

func New(store *ledger.Store) *Scheduler {
	return &Scheduler{store: store, policy: store.Policy()}
}

// PassResult summarizes one scheduler pass.
type PassResult struct {
	Evaluated       int
	Archived        int
	MarkedForReview int
	Failed          int
}

// Pass evaluates every active memory against its decay profile as of
// now. Re-running against an unchanged store is a no-op: expired
// records are already archived and review marking keeps existing
// deadlines. Failures are isolated per record.
func (s *Scheduler) Pass(ctx context.Context, now time.Time) (PassResult, error) {
	var result PassResult

	active, err := s.store.ListByStatus(ledger.StatusActive)
	if err != nil {
		return result, err
	}

	pending, err := s.store.PendingConflicts()
	if err != nil {
		return result, err
	}
	contradicted := make(map[string]bool, len(pending))
	for _, c := range pending {
		contradicted[c.MemoryID] = true
	}

	for _, m := range active {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Evaluated++

		switch {
		case expired(m, now):
			if err := s.store.Transition(m.ID, ledger.StatusArchived); err != nil {
				logger.Error("decay transition failed", "memory", m.ID, "error", err)
				result.Failed++
				continue
			}
			result.Archived++

		case contradicted[m.ID] && m.Confidence < s.policy.LowConfidence:
			// contradicted and shaky: hold for human/LLM confirmation
			// instead of auto-archiving
			if err := s.store.MarkForReview(m.ID, now.Add(s.policy.ReviewWindow)); err != nil {
				logger.Error("review marking failed", "memory", m.ID, "error", err)
				result.Failed++
				continue
			}
			result.MarkedForReview++
		}
	}

	return result, nil
}

func expired(m *ledger.Memory, now time.Time) bool {
	if m.DecayProfile == ledger.ProfilePermanent {
		return false
	}
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}
