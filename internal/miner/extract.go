package miner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/evermem/evermem/internal/ledger"
	"github.com/evermem/evermem/internal/llm"
	"github.com/evermem/evermem/internal/logger"
)

const (
	MethodLLM       = "llm"
	MethodHeuristic = "heuristic"
)

// Extractor produces memory candidates from a transcript.
type Extractor interface {
	Extract(ctx context.Context, conv *Conversation) ([]ledger.Candidate, error)
	Method() string
}

const extractPrompt = `You are a memory extractor. Analyze the conversation and extract discrete facts, preferences, and events worth remembering about the user.

Return a JSON array. Each item must have:
- "content": the fact as one standalone sentence
- "subject": a short subject key (e.g. "editor_theme", "sister_name")
- "category": one of: identity, preference, relationship, knowledge, event, routine, goal
- "level": one of: semantic, episodic, working
- "importance": 0.0-1.0
- "confidence": 0.0-1.0 based on how explicitly it was stated
- "negation": true if the statement negates or retracts something
- "tags": optional array, use "person:<name>" and "project:<name>" for entities

Only extract what is explicitly stated or strongly implied. Do not invent facts.
If nothing is worth remembering, return an empty array: []

Conversation:
%s

Extract memories (JSON only, no explanation):`

type extractedCandidate struct {
	Content    string   `json:"content"`
	Subject    string   `json:"subject"`
	Category   string   `json:"category"`
	Level      string   `json:"level"`
	Importance float64  `json:"importance"`
	Confidence float64  `json:"confidence"`
	Negation   bool     `json:"negation"`
	Tags       []string `json:"tags"`
}

// LLMExtractor asks a chat model for candidates.
type LLMExtractor struct {
	model llm.LLM
}

func NewLLMExtractor(model llm.LLM) *LLMExtractor {
	return &LLMExtractor{model: model}
}

func (e *LLMExtractor) Method() string { return MethodLLM }

func (e *LLMExtractor) Extract(ctx context.Context, conv *Conversation) ([]ledger.Candidate, error) {
	var transcript strings.Builder
	for _, m := range conv.Messages {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}

	prompt := fmt.Sprintf(extractPrompt, transcript.String())
	response, err := e.model.Chat(ctx, "", []llm.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, fmt.Errorf("extraction chat: %w", err)
	}

	extracted, err := parseExtracted(response)
	if err != nil {
		return nil, fmt.Errorf("extraction parse: %w", err)
	}

	var candidates []ledger.Candidate
	for _, x := range extracted {
		c := toCandidate(x, conv.ID, MethodLLM)
		c.SourceLLM = e.model.Provider() + "/" + e.model.Model()
		candidates = append(candidates, c)
	}

	logger.Debug("candidates extracted", "conversation", conv.ID, "count", len(candidates), "method", MethodLLM)
	return candidates, nil
}

func toCandidate(x extractedCandidate, conversationID, method string) ledger.Candidate {
	level := ledger.Level(x.Level)
	if level == "" {
		level = ledger.LevelSemantic
	}
	category := ledger.Category(x.Category)
	if category == "" {
		category = ledger.CategoryKnowledge
	}

	return ledger.Candidate{
		Content:        x.Content,
		Level:          level,
		Category:       category,
		Importance:     x.Importance,
		Confidence:     x.Confidence,
		Tags:           x.Tags,
		ConversationID: conversationID,
		Subject:        x.Subject,
		Negation:       x.Negation,
		Metadata:       map[string]string{"method": method},
	}
}

func parseExtracted(response string) ([]extractedCandidate, error) {
	response = strings.TrimSpace(response)

	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON array found")
	}

	var out []extractedCandidate
	if err := json.Unmarshal([]byte(response[start:end+1]), &out); err != nil {
		return nil, err
	}

	return out, nil
}
