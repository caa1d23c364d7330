package ledger

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
)

// Store is the authoritative memory ledger. It is the single writer:
// every mutation goes through Apply or one of the explicit transition
// methods, all serialized on mu. Readers go straight to the database
// and observe either the pre- or post-write state of a record.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	policy DecayPolicy
	now    func() time.Time
}

func Open(path string) (*Store, error) {
	return OpenWithPolicy(path, DefaultDecayPolicy)
}

func OpenWithPolicy(path string, policy DecayPolicy) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, policy: policy, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

// SetClock overrides the store's clock. Used by tests and by the decay
// scheduler's idempotency checks.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) Policy() DecayPolicy {
	return s.policy
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}

	return nil
}

// DB exposes the underlying handle so sibling stores (miner transcript
// tables, graph edges, sync cursors) can share one database file.
func (s *Store) DB() *sql.DB {
	return s.db
}

func marshalTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

func marshalMetadata(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalMetadata(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
