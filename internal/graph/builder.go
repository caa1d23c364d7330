// Package graph derives typed edges between memories from conflict
// results, co-occurrence, and temporal ordering. The graph holds no
// independent truth: every edge is a function of ledger state alone,
// so Rebuild always reproduces the incrementally-maintained set and is
// the recovery path after any divergence. Status transitions do not
// change the edge set; consumers filter on node status.
package graph

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/evermem/evermem/internal/ledger"
)

type Relation string

const (
	RelationContradicts    Relation = "CONTRADICTS"
	RelationReinforces     Relation = "REINFORCES"
	RelationPrecedes       Relation = "PRECEDES"
	RelationDependsOn      Relation = "DEPENDS_ON"
	RelationInvolvesPerson Relation = "INVOLVES_PERSON"
	RelationBelongsTo      Relation = "BELONGS_TO"
)

type Edge struct {
	ID         int64
	SourceID   string
	TargetID   string
	Relation   Relation
	Confidence float64
	CreatedAt  time.Time
}

const edgeSchema = `
CREATE TABLE IF NOT EXISTS memory_edges (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    relation TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 1.0,
    created_at DATETIME NOT NULL,
    UNIQUE(source_id, target_id, relation)
);

CREATE INDEX IF NOT EXISTS idx_edges_source ON memory_edges(source_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON memory_edges(target_id);
`

type Builder struct {
	db    *sql.DB
	store *ledger.Store
	now   func() time.Time
}

func New(store *ledger.Store) (*Builder, error) {
	b := &Builder{
		db:    store.DB(),
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	if _, err := b.db.Exec(edgeSchema); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Builder) addEdge(sourceID, targetID string, relation Relation, confidence float64) error {
	_, err := b.db.Exec(`
		INSERT INTO memory_edges (source_id, target_id, relation, confidence, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, relation) DO NOTHING`,
		sourceID, targetID, relation, confidence, b.now())
	return err
}

// RecordWrite derives edges for one accepted write.
func (b *Builder) RecordWrite(ctx context.Context, applied *ledger.Applied) error {
	if applied == nil || applied.Memory == nil || applied.Outcome == ledger.AppliedSkipped {
		return nil
	}
	m := applied.Memory

	if applied.Conflict != nil {
		if err := b.addEdge(applied.Conflict.IncomingID, applied.Conflict.MemoryID,
			RelationContradicts, applied.Conflict.Similarity); err != nil {
			return err
		}
	}

	if applied.Outcome == ledger.AppliedMerged {
		if err := b.reinforcementEdges(m.ID); err != nil {
			return err
		}
	}

	if err := b.conversationEdges(m); err != nil {
		return err
	}

	return b.tagEdges(m)
}

// reinforcementEdges reads the write-time reinforcement facts the
// ledger persisted with a merge. Because the facts live in the ledger,
// Rebuild derives the identical edges.
func (b *Builder) reinforcementEdges(memoryID string) error {
	facts, err := b.store.Reinforcements(memoryID)
	if err != nil {
		return err
	}
	for _, r := range facts {
		if err := b.addEdge(r.MemoryID, r.TargetID, RelationReinforces, r.Similarity); err != nil {
			return err
		}
	}
	return nil
}

// conversationEdges links a memory to its source conversation and
// re-derives the PRECEDES chain across its siblings. The whole chain
// is recomputed on every write so a sibling landing with an equal
// timestamp cannot leave the incremental chain different from a
// rebuild.
func (b *Builder) conversationEdges(m *ledger.Memory) error {
	if m.ConversationID == "" {
		return nil
	}

	if err := b.addEdge(m.ID, m.ConversationID, RelationBelongsTo, 1.0); err != nil {
		return err
	}

	siblings, err := b.store.ListByConversation(m.ConversationID)
	if err != nil {
		return err
	}

	_, err = b.db.Exec(`
		DELETE FROM memory_edges
		WHERE relation = ?
		  AND source_id IN (SELECT id FROM memories WHERE conversation_id = ?)`,
		RelationPrecedes, m.ConversationID)
	if err != nil {
		return err
	}

	for i := 1; i < len(siblings); i++ {
		if err := b.addEdge(siblings[i-1].ID, siblings[i].ID, RelationPrecedes, 1.0); err != nil {
			return err
		}
	}

	return nil
}

// tagEdges derives DEPENDS_ON and INVOLVES_PERSON from explicit entity
// tags shared with other memories. Edges always point from the newer
// record to the older one, so incremental derivation and Rebuild
// produce the same set.
func (b *Builder) tagEdges(m *ledger.Memory) error {
	persons, projects := entityTags(m.Tags)
	if len(persons) == 0 && len(projects) == 0 {
		return nil
	}

	others, err := b.store.ListAll()
	if err != nil {
		return err
	}

	for _, other := range others {
		if other.ID == m.ID {
			continue
		}
		src, dst := m, other
		if olderThan(m, other) {
			src, dst = other, m
		}
		op, oj := entityTags(other.Tags)
		if sharesAny(persons, op) {
			if err := b.addEdge(src.ID, dst.ID, RelationInvolvesPerson, 1.0); err != nil {
				return err
			}
		}
		if sharesAny(projects, oj) {
			if err := b.addEdge(src.ID, dst.ID, RelationDependsOn, 1.0); err != nil {
				return err
			}
		}
	}

	return nil
}

func entityTags(tags []string) (persons, projects []string) {
	for _, t := range tags {
		switch {
		case strings.HasPrefix(t, "person:"):
			persons = append(persons, t)
		case strings.HasPrefix(t, "project:"):
			projects = append(projects, t)
		}
	}
	return persons, projects
}

func olderThan(a, b *ledger.Memory) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func sharesAny(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// Rebuild drops every edge and re-derives the graph from the ledger.
func (b *Builder) Rebuild(ctx context.Context) error {
	if _, err := b.db.Exec(`DELETE FROM memory_edges`); err != nil {
		return err
	}

	conflicts, err := b.store.ListConflicts()
	if err != nil {
		return err
	}
	for _, c := range conflicts {
		if err := b.addEdge(c.IncomingID, c.MemoryID, RelationContradicts, c.Similarity); err != nil {
			return err
		}
	}

	facts, err := b.store.ListReinforcements()
	if err != nil {
		return err
	}
	for _, r := range facts {
		if err := b.addEdge(r.MemoryID, r.TargetID, RelationReinforces, r.Similarity); err != nil {
			return err
		}
	}

	memories, err := b.store.ListAll()
	if err != nil {
		return err
	}

	for _, m := range memories {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := b.conversationEdges(m); err != nil {
			return err
		}
		if err := b.tagEdges(m); err != nil {
			return err
		}
	}

	return nil
}

// Neighborhood walks the edge set from a starting memory out to the
// given depth, in both directions.
type Neighborhood struct {
	Nodes []*ledger.Memory
	Edges []Edge
}

func (b *Builder) Neighborhood(startID string, depth int) (*Neighborhood, error) {
	if depth < 1 {
		depth = 1
	}
	if depth > 3 {
		depth = 3
	}

	start, err := b.store.Get(startID)
	if err != nil {
		return nil, err
	}

	result := &Neighborhood{Nodes: []*ledger.Memory{start}}
	seenNode := map[string]bool{startID: true}
	seenEdge := map[int64]bool{}

	frontier := []string{startID}
	for d := 0; d < depth; d++ {
		var next []string
		for _, id := range frontier {
			edges, err := b.edgesTouching(id)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				if !seenEdge[e.ID] {
					seenEdge[e.ID] = true
					result.Edges = append(result.Edges, e)
				}
				for _, neighbor := range []string{e.SourceID, e.TargetID} {
					if seenNode[neighbor] {
						continue
					}
					seenNode[neighbor] = true
					m, err := b.store.Get(neighbor)
					if err != nil {
						// conversation targets are not memories; keep the edge
						continue
					}
					result.Nodes = append(result.Nodes, m)
					next = append(next, neighbor)
				}
			}
		}
		frontier = next
	}

	return result, nil
}

func (b *Builder) edgesTouching(id string) ([]Edge, error) {
	rows, err := b.db.Query(`
		SELECT id, source_id, target_id, relation, confidence, created_at
		FROM memory_edges
		WHERE source_id = ? OR target_id = ?
		ORDER BY id`, id, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Relation, &e.Confidence, &e.CreatedAt); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}

	return edges, rows.Err()
}

// Edges returns the full edge set, used by rebuild-equality checks.
func (b *Builder) Edges() ([]Edge, error) {
	rows, err := b.db.Query(`
		SELECT id, source_id, target_id, relation, confidence, created_at
		FROM memory_edges ORDER BY source_id, target_id, relation`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Relation, &e.Confidence, &e.CreatedAt); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}

	return edges, rows.Err()
}
