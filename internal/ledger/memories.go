package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*Memory, error) {
	var m Memory
	var tags, sourceLLM, conversationID, notes, metadata sql.NullString
	var expiresAt, reviewDueAt, eventDate, lastReferenced sql.NullTime

	err := row.Scan(
		&m.ID, &m.Content, &m.Level, &m.Category, &m.Importance, &m.Confidence,
		&m.Privacy, &tags, &sourceLLM, &conversationID, &m.Version, &m.Status,
		&m.DecayProfile, &expiresAt, &reviewDueAt, &eventDate, &notes, &metadata,
		&m.ReferenceCount, &lastReferenced, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Tags = unmarshalTags(tags.String)
	m.SourceLLM = sourceLLM.String
	m.ConversationID = conversationID.String
	m.Notes = notes.String
	m.Metadata = unmarshalMetadata(metadata.String)

	if expiresAt.Valid {
		t := expiresAt.Time
		m.ExpiresAt = &t
	}
	if reviewDueAt.Valid {
		t := reviewDueAt.Time
		m.ReviewDueAt = &t
	}
	if eventDate.Valid {
		t := eventDate.Time
		m.EventDate = &t
	}
	if lastReferenced.Valid {
		t := lastReferenced.Time
		m.LastReferencedAt = &t
	}

	return &m, nil
}

func (s *Store) Get(id string) (*Memory, error) {
	m, err := scanMemory(s.db.QueryRow(queryGetMemory, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m, err
}

func (s *Store) scanMemories(query string, args ...any) ([]*Memory, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memories []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}

	return memories, rows.Err()
}

func (s *Store) ListByStatus(status Status) ([]*Memory, error) {
	return s.scanMemories(queryListByStatus, status)
}

func (s *Store) ListAll() ([]*Memory, error) {
	return s.scanMemories(queryListAll)
}

func (s *Store) ListByConversation(conversationID string) ([]*Memory, error) {
	return s.scanMemories(queryListByConversation, conversationID)
}

// Touch bumps reference_count and last_referenced_at for the given ids.
// Called on read and on explicit feedback from the retrieval layer.
func (s *Store) Touch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, s.now())
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := fmt.Sprintf(queryTouchMemories, strings.Join(placeholders, ","))
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// Transition moves a memory to a new status. Archival resets the
// reference count; reactivation clears the review deadline.
func (s *Store) Transition(id string, to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(id, to)
}

func (s *Store) transitionLocked(id string, to Status) error {
	m, err := s.Get(id)
	if err != nil {
		return err
	}

	now := s.now()
	switch to {
	case StatusArchived:
		_, err = s.db.Exec(
			`UPDATE memories SET status = 'archived', reference_count = 0, updated_at = ? WHERE id = ?`,
			now, m.ID)
	case StatusActive:
		_, err = s.db.Exec(
			`UPDATE memories SET status = 'active', review_due_at = NULL, updated_at = ? WHERE id = ?`,
			now, m.ID)
	default:
		_, err = s.db.Exec(querySetStatus, to, now, m.ID)
	}
	return err
}

// MarkForReview moves a memory to pending_review with a review deadline.
// Idempotent: a memory already pending keeps its original deadline.
func (s *Store) MarkForReview(id string, due time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.Get(id)
	if err != nil {
		return err
	}
	if m.Status == StatusPendingReview {
		return nil
	}

	_, err = s.db.Exec(querySetReview, due, s.now(), id)
	return err
}

func (s *Store) Versions(memoryID string) ([]*MemoryVersion, error) {
	rows, err := s.db.Query(queryGetVersions, memoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*MemoryVersion
	for rows.Next() {
		var v MemoryVersion
		if err := rows.Scan(&v.ID, &v.MemoryID, &v.Version, &v.Content, &v.Importance, &v.Confidence, &v.CreatedAt); err != nil {
			return nil, err
		}
		versions = append(versions, &v)
	}

	return versions, rows.Err()
}

func (s *Store) scanReinforcements(query string, args ...any) ([]Reinforcement, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reinforcement
	for rows.Next() {
		var r Reinforcement
		if err := rows.Scan(&r.MemoryID, &r.TargetID, &r.Similarity); err != nil {
			return nil, err
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

// Reinforcements returns the write-time reinforcement facts recorded
// for one memory's merges.
func (s *Store) Reinforcements(memoryID string) ([]Reinforcement, error) {
	return s.scanReinforcements(queryReinforcementsFor, memoryID)
}

func (s *Store) ListReinforcements() ([]Reinforcement, error) {
	return s.scanReinforcements(queryListReinforcements)
}

func scanConflict(row rowScanner) (*Conflict, error) {
	var c Conflict
	var resolution sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(&c.ID, &c.MemoryID, &c.IncomingID, &c.Similarity, &c.Status, &resolution, &c.DetectedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}

	c.Resolution = resolution.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		c.ResolvedAt = &t
	}

	return &c, nil
}

func (s *Store) GetConflict(id string) (*Conflict, error) {
	c, err := scanConflict(s.db.QueryRow(queryGetConflict, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: conflict %s", ErrNotFound, id)
	}
	return c, err
}

func (s *Store) scanConflicts(query string, args ...any) ([]*Conflict, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conflicts []*Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}

	return conflicts, rows.Err()
}

func (s *Store) ListConflicts() ([]*Conflict, error) {
	return s.scanConflicts(queryListConflicts)
}

func (s *Store) PendingConflicts() ([]*Conflict, error) {
	return s.scanConflicts(queryListConflictsByStatus, ConflictPending)
}

// ResolveConflict closes a pending conflict with a resolution note.
func (s *Store) ResolveConflict(id, resolution string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.GetConflict(id); err != nil {
		return err
	}

	_, err := s.db.Exec(queryResolveConflict, resolution, s.now(), id)
	return err
}
