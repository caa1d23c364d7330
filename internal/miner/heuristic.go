package miner

import (
	"context"
	"regexp"
	"strings"

	"github.com/evermem/evermem/internal/ledger"
)

// HeuristicExtractor mines candidates with surface patterns when no
// LLM is configured. Confidence is capped low; downstream governance
// treats these the same as any other candidate.
type HeuristicExtractor struct{}

func NewHeuristicExtractor() *HeuristicExtractor {
	return &HeuristicExtractor{}
}

func (e *HeuristicExtractor) Method() string { return MethodHeuristic }

const heuristicConfidence = 0.5

var heuristicPatterns = []struct {
	re       *regexp.Regexp
	category ledger.Category
	level    ledger.Level
}{
	{regexp.MustCompile(`(?i)\bI (?:prefer|like|love|enjoy)\b(.{3,120})`), ledger.CategoryPreference, ledger.LevelSemantic},
	{regexp.MustCompile(`(?i)\b(?:I don't like|I hate|I dislike)\b(.{3,120})`), ledger.CategoryPreference, ledger.LevelSemantic},
	{regexp.MustCompile(`(?i)\bmy (\w[\w ]{1,40}) is (.{2,80})`), ledger.CategoryIdentity, ledger.LevelSemantic},
	{regexp.MustCompile(`(?i)\bremember that\b(.{3,160})`), ledger.CategoryKnowledge, ledger.LevelSemantic},
	{regexp.MustCompile(`(?i)\bevery (?:day|week|morning|evening) I\b(.{3,120})`), ledger.CategoryRoutine, ledger.LevelSemantic},
	{regexp.MustCompile(`(?i)\bI(?:'m| am) (?:planning|going) to\b(.{3,120})`), ledger.CategoryGoal, ledger.LevelEpisodic},
}

func (e *HeuristicExtractor) Extract(ctx context.Context, conv *Conversation) ([]ledger.Candidate, error) {
	var candidates []ledger.Candidate
	seen := make(map[string]bool)

	for _, msg := range conv.Messages {
		if msg.Role != "user" {
			continue
		}

		for _, p := range heuristicPatterns {
			for _, match := range p.re.FindAllString(msg.Content, -1) {
				content := strings.TrimRight(strings.TrimSpace(match), ".!?")
				if content == "" || seen[content] {
					continue
				}
				seen[content] = true

				candidates = append(candidates, ledger.Candidate{
					Content:        content,
					Level:          p.level,
					Category:       p.category,
					Importance:     0.4,
					Confidence:     heuristicConfidence,
					ConversationID: conv.ID,
					Negation:       hasNegationPrefix(content),
					Metadata:       map[string]string{"method": MethodHeuristic},
				})
			}
		}
	}

	return candidates, nil
}

func hasNegationPrefix(content string) bool {
	lower := strings.ToLower(content)
	return strings.Contains(lower, "don't") ||
		strings.Contains(lower, "hate") ||
		strings.Contains(lower, "dislike")
}
