// Package simindex is the vector similarity index: given an embedding
// it returns the nearest existing memories. Pure lookup; all mutation
// decisions live elsewhere.
package simindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/ncruces"

	"github.com/evermem/evermem/internal/ledger"
)

const VectorDimensions = 768

const vecSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS vec_memories USING vec0(
    memory_rowid INTEGER PRIMARY KEY,
    embedding FLOAT[768] distance_metric=cosine
);
`

// Match is one similarity hit, carrying enough of the memory for the
// conflict detector to classify without a second lookup.
type Match struct {
	MemoryID         string
	Content          string
	Category         ledger.Category
	Level            ledger.Level
	Importance       float64
	Confidence       float64
	Similarity       float64
	LastReferencedAt *time.Time
	Subject          string
	Contradictory    bool // set by the caller's polarity check, not by the index
}

// Searcher is the narrow interface the core depends on. Any exact or
// approximate index can stand in.
type Searcher interface {
	Nearest(ctx context.Context, vector []float32, k int) ([]Match, error)
}

// Index implements Searcher on a sqlite-vec virtual table sharing the
// ledger's database file.
type Index struct {
	db *sql.DB
}

func New(db *sql.DB) (*Index, error) {
	if _, err := db.Exec(vecSchema); err != nil {
		return nil, fmt.Errorf("vec schema: %w", err)
	}
	return &Index{db: db}, nil
}

func serialize(vector []float32) ([]byte, error) {
	return sqlite_vec.SerializeFloat32(vector)
}

// Upsert stores the embedding for a memory, replacing any previous one.
func (ix *Index) Upsert(ctx context.Context, memoryID string, vector []float32) error {
	var rowid int64
	err := ix.db.QueryRowContext(ctx, `SELECT rowid FROM memories WHERE id = ?`, memoryID).Scan(&rowid)
	if err != nil {
		return fmt.Errorf("resolve memory %s: %w", memoryID, err)
	}

	blob, err := serialize(vector)
	if err != nil {
		return err
	}

	if _, err := ix.db.ExecContext(ctx, `DELETE FROM vec_memories WHERE memory_rowid = ?`, rowid); err != nil {
		return err
	}

	_, err = ix.db.ExecContext(ctx, `INSERT INTO vec_memories (memory_rowid, embedding) VALUES (?, ?)`, rowid, blob)
	return err
}

func (ix *Index) Delete(ctx context.Context, memoryID string) error {
	var rowid int64
	err := ix.db.QueryRowContext(ctx, `SELECT rowid FROM memories WHERE id = ?`, memoryID).Scan(&rowid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = ix.db.ExecContext(ctx, `DELETE FROM vec_memories WHERE memory_rowid = ?`, rowid)
	return err
}

// Nearest returns up to k active memories ranked by similarity
// (1 - cosine distance), highest first.
func (ix *Index) Nearest(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}

	blob, err := serialize(vector)
	if err != nil {
		return nil, err
	}

	rows, err := ix.db.QueryContext(ctx, `
		SELECT m.id, m.content, m.category, m.level, m.importance, m.confidence,
		       m.last_referenced_at, v.distance
		FROM vec_memories v
		JOIN memories m ON m.rowid = v.memory_rowid
		WHERE m.status = 'active'
		  AND v.embedding MATCH ?
		  AND k = ?
		ORDER BY v.distance`,
		blob, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var lastReferenced sql.NullTime
		var distance float64
		if err := rows.Scan(&m.MemoryID, &m.Content, &m.Category, &m.Level,
			&m.Importance, &m.Confidence, &lastReferenced, &distance); err != nil {
			return nil, err
		}
		if lastReferenced.Valid {
			t := lastReferenced.Time
			m.LastReferencedAt = &t
		}
		m.Similarity = 1 - distance
		matches = append(matches, m)
	}

	return matches, rows.Err()
}

// Rebuild re-embeds every active memory. Recovery path when the index
// and the ledger drift apart, or after changing embedding models.
func (ix *Index) Rebuild(ctx context.Context, embed func(ctx context.Context, text string) ([]float32, error)) error {
	rows, err := ix.db.QueryContext(ctx, `SELECT id, content FROM memories WHERE status = 'active'`)
	if err != nil {
		return err
	}
	defer rows.Close()

	type entry struct{ id, content string }
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.id, &e.content); err != nil {
			return err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, e := range entries {
		vector, err := embed(ctx, e.content)
		if err != nil {
			return fmt.Errorf("embed %s: %w", e.id, err)
		}
		if err := ix.Upsert(ctx, e.id, vector); err != nil {
			return err
		}
	}

	return nil
}
