package miner

import (
	"database/sql"
	"time"
)

// Message is one turn of a stored conversation transcript.
type Message struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// Conversation is a transcript eligible for mining.
type Conversation struct {
	ID       string
	Messages []Message
}

// Store persists conversation transcripts and the analyzed-marker set.
// The marker set is a real table, not in-memory state, so a scan is
// safely re-runnable across process restarts.
type Store struct {
	db *sql.DB
}

const transcriptSchema = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id TEXT NOT NULL REFERENCES conversations(id),
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON conversation_messages(conversation_id, created_at);

CREATE TABLE IF NOT EXISTS analyzed_conversations (
    conversation_id TEXT PRIMARY KEY,
    analyzed_at DATETIME NOT NULL
);
`

func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if _, err := s.db.Exec(transcriptSchema); err != nil {
		return nil, err
	}
	return s, nil
}

// Append records a message, creating the conversation row on first use.
func (s *Store) Append(conversationID, role, content string) error {
	now := time.Now().UTC()

	_, err := s.db.Exec(`
		INSERT INTO conversations (id, created_at) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING`, conversationID, now)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO conversation_messages (conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?)`, conversationID, role, content, now)
	return err
}

func (s *Store) Transcript(conversationID string) (*Conversation, error) {
	rows, err := s.db.Query(`
		SELECT role, content, created_at
		FROM conversation_messages
		WHERE conversation_id = ?
		ORDER BY created_at, id`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conv := &Conversation{ID: conversationID}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		conv.Messages = append(conv.Messages, m)
	}

	return conv, rows.Err()
}

// Unanalyzed returns ids of conversations not yet mined, oldest first.
func (s *Store) Unanalyzed() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT c.id FROM conversations c
		LEFT JOIN analyzed_conversations a ON a.conversation_id = c.id
		WHERE a.conversation_id IS NULL
		ORDER BY c.created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (s *Store) IsAnalyzed(conversationID string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM analyzed_conversations WHERE conversation_id = ?`, conversationID).Scan(&count)
	return count > 0, err
}

func (s *Store) MarkAnalyzed(conversationID string) error {
	_, err := s.db.Exec(`
		INSERT INTO analyzed_conversations (conversation_id, analyzed_at) VALUES (?, ?)
		ON CONFLICT(conversation_id) DO NOTHING`, conversationID, time.Now().UTC())
	return err
}
