package ledger

const schema = `
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    level TEXT NOT NULL,
    category TEXT NOT NULL,
    importance REAL NOT NULL DEFAULT 0.5,
    confidence REAL NOT NULL DEFAULT 0.8,
    privacy TEXT NOT NULL DEFAULT 'personal',
    tags TEXT,
    source_llm TEXT,
    conversation_id TEXT,
    version INTEGER NOT NULL DEFAULT 1,
    status TEXT NOT NULL DEFAULT 'active',
    decay_profile TEXT NOT NULL,
    expires_at DATETIME,
    review_due_at DATETIME,
    event_date DATETIME,
    notes TEXT,
    metadata TEXT,
    reference_count INTEGER NOT NULL DEFAULT 0,
    last_referenced_at DATETIME,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_status ON memories(status);
CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category, status);
CREATE INDEX IF NOT EXISTS idx_memories_conversation ON memories(conversation_id);
CREATE INDEX IF NOT EXISTS idx_memories_expires ON memories(expires_at);

CREATE TABLE IF NOT EXISTS memory_versions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    memory_id TEXT NOT NULL REFERENCES memories(id),
    version INTEGER NOT NULL,
    content TEXT NOT NULL,
    importance REAL NOT NULL,
    confidence REAL NOT NULL,
    created_at DATETIME NOT NULL,
    UNIQUE(memory_id, version)
);

CREATE INDEX IF NOT EXISTS idx_versions_memory ON memory_versions(memory_id, version);

CREATE TABLE IF NOT EXISTS reinforcements (
    memory_id TEXT NOT NULL REFERENCES memories(id),
    target_id TEXT NOT NULL,
    similarity REAL NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    UNIQUE(memory_id, target_id)
);

CREATE TABLE IF NOT EXISTS conflicts (
    id TEXT PRIMARY KEY,
    memory_id TEXT NOT NULL REFERENCES memories(id),
    incoming_id TEXT NOT NULL,
    similarity REAL NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'pending',
    resolution TEXT,
    detected_at DATETIME NOT NULL,
    resolved_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_conflicts_memory ON conflicts(memory_id, status);
`
