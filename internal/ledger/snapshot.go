package ledger

import (
	"time"
)

// Snapshot is the portable form of the ledger: records, their version
// history, and the conflict table. Any two devices round-trip through
// it via object storage without sharing a process. Embeddings are
// deliberately absent; each device re-embeds what it imports.
type Snapshot struct {
	DeviceID   string             `json:"device_id"`
	ExportedAt time.Time          `json:"exported_at"`
	Memories   []SnapshotMemory   `json:"memories"`
	Conflicts  []SnapshotConflict `json:"conflicts"`
}

type SnapshotMemory struct {
	Memory   Memory          `json:"memory"`
	Versions []MemoryVersion `json:"versions,omitempty"`
}

type SnapshotConflict struct {
	Conflict Conflict `json:"conflict"`
}

// Export serializes the whole ledger, terminal states included.
func (s *Store) Export(deviceID string) (*Snapshot, error) {
	memories, err := s.ListAll()
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		DeviceID:   deviceID,
		ExportedAt: s.now(),
	}

	for _, m := range memories {
		versions, err := s.Versions(m.ID)
		if err != nil {
			return nil, err
		}
		sm := SnapshotMemory{Memory: *m}
		for _, v := range versions {
			sm.Versions = append(sm.Versions, *v)
		}
		snap.Memories = append(snap.Memories, sm)
	}

	conflicts, err := s.ListConflicts()
	if err != nil {
		return nil, err
	}
	for _, c := range conflicts {
		snap.Conflicts = append(snap.Conflicts, SnapshotConflict{Conflict: *c})
	}

	return snap, nil
}

// ImportRemoteMemory inserts a memory exactly as it appears on another
// device, preserving id, version, and timestamps. Sync-only path.
func (s *Store) ImportRemoteMemory(m *Memory, versions []MemoryVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(queryInsertMemory,
		m.ID, m.Content, m.Level, m.Category, m.Importance, m.Confidence,
		m.Privacy, marshalTags(m.Tags), nullable(m.SourceLLM), nullable(m.ConversationID),
		m.Version, m.Status, m.DecayProfile,
		m.ExpiresAt, m.ReviewDueAt, m.EventDate, nullable(m.Notes),
		marshalMetadata(m.Metadata), m.ReferenceCount, m.LastReferencedAt,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return err
	}

	for _, v := range versions {
		_, err = tx.Exec(queryInsertVersion,
			m.ID, v.Version, v.Content, v.Importance, v.Confidence, v.CreatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ReplaceHistory rewrites a memory's head and full version history in
// one transaction. This is the sync reconciler's absorption path and
// the only way the version counter moves forward by more than one;
// the supplied versions must already be contiguous from 1.
func (s *Store) ReplaceHistory(m *Memory, versions []MemoryVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM memory_versions WHERE memory_id = ?`, m.ID); err != nil {
		return err
	}

	res, err := tx.Exec(`
		UPDATE memories
		SET content = ?, level = ?, category = ?, importance = ?, confidence = ?,
		    privacy = ?, tags = ?, version = ?, status = ?, decay_profile = ?,
		    expires_at = ?, review_due_at = ?, event_date = ?, notes = ?,
		    metadata = ?, updated_at = ?
		WHERE id = ?`,
		m.Content, m.Level, m.Category, m.Importance, m.Confidence,
		m.Privacy, marshalTags(m.Tags), m.Version, m.Status, m.DecayProfile,
		m.ExpiresAt, m.ReviewDueAt, m.EventDate, nullable(m.Notes),
		marshalMetadata(m.Metadata), m.UpdatedAt, m.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	for _, v := range versions {
		_, err = tx.Exec(queryInsertVersion,
			m.ID, v.Version, v.Content, v.Importance, v.Confidence, v.CreatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// UpsertConflict inserts a conflict if it is not already present.
// Sync merges produce deterministic conflict ids, so the same conflict
// arriving from two devices lands exactly once.
func (s *Store) UpsertConflict(c *Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO conflicts (id, memory_id, incoming_id, similarity, status, resolution, detected_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		c.ID, c.MemoryID, c.IncomingID, c.Similarity, c.Status,
		nullable(c.Resolution), c.DetectedAt, c.ResolvedAt)
	return err
}
