package ledger

import (
	"time"
)

// Level classifies how a memory is held: long-term knowledge, a dated
// experience, or short-lived working context.
type Level string

const (
	LevelSemantic Level = "semantic"
	LevelEpisodic Level = "episodic"
	LevelWorking  Level = "working"
)

// Category is the closed taxonomy every memory is filed under.
type Category string

const (
	CategoryIdentity     Category = "identity"
	CategoryPreference   Category = "preference"
	CategoryRelationship Category = "relationship"
	CategoryKnowledge    Category = "knowledge"
	CategoryEvent        Category = "event"
	CategoryRoutine      Category = "routine"
	CategoryGoal         Category = "goal"
)

// Categories lists all valid categories.
var Categories = []Category{
	CategoryIdentity,
	CategoryPreference,
	CategoryRelationship,
	CategoryKnowledge,
	CategoryEvent,
	CategoryRoutine,
	CategoryGoal,
}

type Status string

const (
	StatusActive        Status = "active"
	StatusArchived      Status = "archived"
	StatusPendingReview Status = "pending_review"
	StatusRejected      Status = "rejected"
)

type Privacy string

const (
	PrivacyPublic    Privacy = "public"
	PrivacyPersonal  Privacy = "personal"
	PrivacySensitive Privacy = "sensitive"
)

// Profile governs how a memory ages out.
type Profile string

const (
	ProfilePermanent  Profile = "permanent"
	ProfileStable     Profile = "stable"
	ProfileSemiStable Profile = "semi_stable"
	ProfileVolatile   Profile = "volatile"
	ProfileEventBased Profile = "event_based"
)

// Memory is the central record. The embedding lives only in the vector
// index and is never part of this struct. JSON tags define the portable
// snapshot format devices exchange.
type Memory struct {
	ID               string            `json:"id"`
	Content          string            `json:"content"`
	Level            Level             `json:"level"`
	Category         Category          `json:"category"`
	Importance       float64           `json:"importance"`
	Confidence       float64           `json:"confidence"`
	Privacy          Privacy           `json:"privacy"`
	Tags             []string          `json:"tags,omitempty"`
	SourceLLM        string            `json:"source_llm,omitempty"`
	ConversationID   string            `json:"conversation_id,omitempty"`
	Version          int               `json:"version"`
	Status           Status            `json:"status"`
	DecayProfile     Profile           `json:"decay_profile"`
	ExpiresAt        *time.Time        `json:"expires_at,omitempty"`
	ReviewDueAt      *time.Time        `json:"review_due_at,omitempty"`
	EventDate        *time.Time        `json:"event_date,omitempty"`
	Notes            string            `json:"notes,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	ReferenceCount   int               `json:"reference_count"`
	LastReferencedAt *time.Time        `json:"last_referenced_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Version snapshot of a memory's content before a mutation. Immutable
// once written.
type MemoryVersion struct {
	ID         int64     `json:"-"`
	MemoryID   string    `json:"memory_id"`
	Version    int       `json:"version"`
	Content    string    `json:"content"`
	Importance float64   `json:"importance"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "pending"
	ConflictResolved ConflictStatus = "resolved"
	ConflictArchived ConflictStatus = "archived"
)

// Conflict records a detected contradiction between an existing memory
// and an incoming one.
type Conflict struct {
	ID         string         `json:"id"`
	MemoryID   string         `json:"memory_id"`    // the existing memory being contradicted
	IncomingID string         `json:"incoming_id"`  // the memory created for the contradicting candidate
	Similarity float64        `json:"similarity"`
	Status     ConflictStatus `json:"status"`
	Resolution string         `json:"resolution,omitempty"`
	DetectedAt time.Time      `json:"detected_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

// Candidate is an incoming memory before governance: a fixed core
// schema plus an open metadata map, validated at the ingestion boundary.
type Candidate struct {
	Content        string
	Level          Level
	Category       Category
	Importance     float64
	Confidence     float64
	Privacy        Privacy
	Tags           []string
	SourceLLM      string
	ConversationID string
	EventDate      *time.Time
	DecayProfile   Profile // optional override of the category default
	Subject        string  // extractor's subject key, used for polarity checks
	Negation       bool    // extractor flagged this as a negated statement
	Metadata       map[string]string
}

type ActionType string

const (
	ActionCreate ActionType = "create"
	ActionMerge  ActionType = "merge"
	ActionSkip   ActionType = "skip"
	ActionFlag   ActionType = "flag" // create with an attached conflict
)

// AppliedAction is the reported outcome of an Apply call.
type AppliedAction string

const (
	AppliedCreated  AppliedAction = "created"
	AppliedMerged   AppliedAction = "merged"
	AppliedSkipped  AppliedAction = "skipped"
	AppliedConflict AppliedAction = "created_with_conflict"
	AppliedRejected AppliedAction = "rejected"
)

// Action is a request against the apply contract. TargetID names the
// existing memory for merge/skip/flag.
type Action struct {
	Type       ActionType
	TargetID   string
	Candidate  Candidate
	Similarity float64 // candidate-to-target similarity, recorded on flag

	// Reinforces lists further matches the candidate also cleared the
	// merge threshold against. Persisted on merge so the graph can
	// re-derive REINFORCES edges from the ledger alone.
	Reinforces []Reinforcement
}

// Reinforcement records that a merged memory was, at write time, also
// similar to another existing memory it did not merge into.
type Reinforcement struct {
	MemoryID   string  `json:"memory_id"`
	TargetID   string  `json:"target_id"`
	Similarity float64 `json:"similarity"`
}

// Applied is the result of a successful Apply.
type Applied struct {
	Memory   *Memory
	Version  int
	Outcome  AppliedAction
	Conflict *Conflict // non-nil when Outcome is created_with_conflict
}
