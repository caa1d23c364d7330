package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// contradictionPenalty is subtracted from a memory's confidence when an
// incoming candidate contradicts it. The decay scheduler routes
// low-confidence contradicted memories to pending_review.
const contradictionPenalty = 0.15

// Apply is the single choke point for write-path mutations. Everything
// the conflict detector decides (create, merge, skip, flag) lands
// here, so invariants (version bumps, snapshots, expiry) are enforced
// in one place. Mutations are atomic with respect to concurrent
// readers.
func (s *Store) Apply(ctx context.Context, action Action) (*Applied, error) {
	if err := validateCandidate(action.Candidate); err != nil {
		return &Applied{Outcome: AppliedRejected}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch action.Type {
	case ActionCreate:
		return s.create(action.Candidate)
	case ActionMerge:
		return s.merge(action)
	case ActionSkip:
		return s.skip(action.TargetID)
	case ActionFlag:
		return s.flag(action)
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrValidation, action.Type)
	}
}

func (s *Store) create(c Candidate) (*Applied, error) {
	m, err := s.insertMemory(c)
	if err != nil {
		return nil, err
	}
	return &Applied{Memory: m, Version: m.Version, Outcome: AppliedCreated}, nil
}

func (s *Store) insertMemory(c Candidate) (*Memory, error) {
	now := s.now()

	profile := c.DecayProfile
	if profile == "" {
		profile = DefaultProfile(c.Category)
	}

	privacy := c.Privacy
	if privacy == "" {
		privacy = PrivacyPersonal
	}

	m := &Memory{
		ID:             uuid.New().String(),
		Content:        c.Content,
		Level:          c.Level,
		Category:       c.Category,
		Importance:     c.Importance,
		Confidence:     c.Confidence,
		Privacy:        privacy,
		Tags:           c.Tags,
		SourceLLM:      c.SourceLLM,
		ConversationID: c.ConversationID,
		Version:        1,
		Status:         StatusActive,
		DecayProfile:   profile,
		EventDate:      c.EventDate,
		Metadata:       c.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.ExpiresAt = s.policy.ComputeExpiry(profile, c.Level, c.Category, c.EventDate, now)

	_, err := s.db.Exec(queryInsertMemory,
		m.ID, m.Content, m.Level, m.Category, m.Importance, m.Confidence,
		m.Privacy, marshalTags(m.Tags), nullable(m.SourceLLM), nullable(m.ConversationID),
		m.Version, m.Status, m.DecayProfile,
		m.ExpiresAt, m.ReviewDueAt, m.EventDate, nullable(m.Notes),
		marshalMetadata(m.Metadata), m.ReferenceCount, m.LastReferencedAt,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// merge folds a candidate into an existing memory: the pre-merge
// content is snapshotted as a MemoryVersion, then content and scores
// are updated and the version increments by exactly one. Reinforcement
// facts from the classification ride along in the same transaction.
func (s *Store) merge(action Action) (*Applied, error) {
	c := action.Candidate

	existing, err := s.Get(action.TargetID)
	if err != nil {
		return nil, err
	}

	now := s.now()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.Exec(queryInsertVersion,
		existing.ID, existing.Version, existing.Content,
		existing.Importance, existing.Confidence, now)
	if err != nil {
		return nil, err
	}

	importance := max(existing.Importance, c.Importance)
	confidence := max(existing.Confidence, c.Confidence)
	tags := mergeTags(existing.Tags, c.Tags)

	expiresAt := s.policy.ComputeExpiry(existing.DecayProfile, existing.Level, existing.Category, existing.EventDate, now)

	_, err = tx.Exec(queryUpdateMerge,
		c.Content, importance, confidence, marshalTags(tags),
		expiresAt, now, existing.ID)
	if err != nil {
		return nil, err
	}

	for _, r := range action.Reinforces {
		if r.TargetID == existing.ID {
			continue
		}
		if _, err := tx.Exec(queryInsertReinforcement, existing.ID, r.TargetID, r.Similarity, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	merged, err := s.Get(action.TargetID)
	if err != nil {
		return nil, err
	}

	return &Applied{Memory: merged, Version: merged.Version, Outcome: AppliedMerged}, nil
}

// skip reports an exact duplicate without mutating anything.
func (s *Store) skip(targetID string) (*Applied, error) {
	existing, err := s.Get(targetID)
	if err != nil {
		return nil, err
	}
	return &Applied{Memory: existing, Version: existing.Version, Outcome: AppliedSkipped}, nil
}

// flag creates a new memory for a contradicting candidate and records a
// pending Conflict against the existing one. The contradicted memory
// takes a confidence penalty but keeps its content and version.
func (s *Store) flag(action Action) (*Applied, error) {
	existing, err := s.Get(action.TargetID)
	if err != nil {
		return nil, err
	}

	created, err := s.insertMemory(action.Candidate)
	if err != nil {
		return nil, err
	}

	now := s.now()
	conflict := &Conflict{
		ID:         uuid.New().String(),
		MemoryID:   existing.ID,
		IncomingID: created.ID,
		Similarity: action.Similarity,
		Status:     ConflictPending,
		DetectedAt: now,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.Exec(queryInsertConflict,
		conflict.ID, conflict.MemoryID, conflict.IncomingID,
		conflict.Similarity, conflict.Status, nullable(conflict.Resolution),
		conflict.DetectedAt, conflict.ResolvedAt)
	if err != nil {
		return nil, err
	}

	penalized := existing.Confidence - contradictionPenalty
	if penalized < 0 {
		penalized = 0
	}
	if _, err := tx.Exec(queryAdjustConfidence, penalized, now, existing.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &Applied{Memory: created, Version: created.Version, Outcome: AppliedConflict, Conflict: conflict}, nil
}

func mergeTags(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, t := range append(append([]string{}, a...), b...) {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
