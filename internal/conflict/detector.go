// Package conflict classifies an incoming candidate against its
// nearest existing memories: exact duplicate, merge candidate,
// contradiction, or novel. Classification is pure and deterministic:
// the same candidate and match list always produce the same decision,
// which the sync reconciler relies on for commutative merges.
package conflict

import (
	"sort"
	"strings"
	"time"

	"github.com/evermem/evermem/internal/ledger"
	"github.com/evermem/evermem/internal/simindex"
)

type Thresholds struct {
	// Duplicate: at or above this similarity with matching category and
	// level, the candidate is an exact duplicate and is skipped.
	Duplicate float64
	// Merge: at or above this similarity with no contradiction signal,
	// the candidate folds into the match.
	Merge float64
}

var DefaultThresholds = Thresholds{
	Duplicate: 0.97,
	Merge:     0.85,
}

// Decision is the detector's verdict, consumed by the ledger's apply
// contract.
type Decision struct {
	Outcome    ledger.AppliedAction
	TargetID   string  // match to skip against, merge into, or conflict with
	Similarity float64 // similarity to TargetID

	// Reinforces lists the further matches a merged candidate also
	// cleared the merge threshold against while outranking them on
	// confidence. The ledger persists these with the merge.
	Reinforces []ledger.Reinforcement
}

// Classify evaluates the policy rules in order against matches sorted
// by similarity descending; the first rule that fires wins.
func Classify(candidate ledger.Candidate, matches []simindex.Match, th Thresholds) Decision {
	ordered := orderMatches(matches)

	if len(ordered) > 0 {
		top := ordered[0]

		if top.Similarity >= th.Duplicate &&
			top.Category == candidate.Category &&
			top.Level == candidate.Level &&
			!top.Contradictory {
			return Decision{Outcome: ledger.AppliedSkipped, TargetID: top.MemoryID, Similarity: top.Similarity}
		}

		if top.Similarity >= th.Merge && !top.Contradictory {
			d := Decision{Outcome: ledger.AppliedMerged, TargetID: top.MemoryID, Similarity: top.Similarity}
			for _, m := range ordered[1:] {
				if m.Similarity < th.Merge || m.Contradictory {
					continue
				}
				if candidate.Confidence > m.Confidence {
					d.Reinforces = append(d.Reinforces, ledger.Reinforcement{
						TargetID: m.MemoryID, Similarity: m.Similarity,
					})
				}
			}
			return d
		}

		for _, m := range ordered {
			if m.Contradictory {
				return Decision{Outcome: ledger.AppliedConflict, TargetID: m.MemoryID, Similarity: m.Similarity}
			}
		}
	}

	return Decision{Outcome: ledger.AppliedCreated}
}

// orderMatches sorts by similarity descending. Ties go to the most
// recently referenced match, then to the lower importance score: merge
// into the record that has earned authority, not the stale one.
func orderMatches(matches []simindex.Match) []simindex.Match {
	ordered := make([]simindex.Match, len(matches))
	copy(ordered, matches)

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		ar, br := refTime(a), refTime(b)
		if !ar.Equal(br) {
			return ar.After(br)
		}
		if a.Importance != b.Importance {
			return a.Importance < b.Importance
		}
		return a.MemoryID < b.MemoryID
	})

	return ordered
}

func refTime(m simindex.Match) time.Time {
	if m.LastReferencedAt != nil {
		return *m.LastReferencedAt
	}
	return time.Time{}
}

// negationMarkers is the polarity word list used by the contradiction
// heuristic. The extractor can always override via explicit flags.
var negationMarkers = []string{
	"not ", "no longer", "never ", "stopped ", "doesn't", "does not",
	"don't", "do not", "isn't", "is not", "quit ", "hates ", "dislikes ",
}

// MarkContradictions applies the extractor's polarity signal to the
// match list: a match opposes the candidate when they share category
// and subject but differ in polarity. Candidates without a subject key
// only oppose on an explicit negation flag.
func MarkContradictions(candidate ledger.Candidate, matches []simindex.Match) []simindex.Match {
	out := make([]simindex.Match, len(matches))
	copy(out, matches)

	for i := range out {
		if out[i].Category != candidate.Category {
			continue
		}
		if candidate.Subject != "" && !mentions(out[i].Content, candidate.Subject) {
			continue
		}
		candNeg := candidate.Negation || hasNegation(candidate.Content)
		matchNeg := hasNegation(out[i].Content)
		if candNeg != matchNeg && (candidate.Subject != "" || candidate.Negation) {
			out[i].Contradictory = true
		}
	}

	return out
}

func hasNegation(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range negationMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func mentions(content, subject string) bool {
	return strings.Contains(strings.ToLower(content), strings.ToLower(subject))
}
