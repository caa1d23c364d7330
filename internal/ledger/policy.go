package ledger

import (
	"time"
)

// DecayPolicy controls how expiry and review windows are computed. The
// zero value is not usable; start from DefaultDecayPolicy.
type DecayPolicy struct {
	// Base lifetime per profile. Permanent has none.
	StableAge     time.Duration
	SemiStableAge time.Duration
	VolatileAge   time.Duration
	EventAge      time.Duration // lifetime past event_date for event_based

	// Per-level multiplier applied to the base lifetime.
	LevelFactors map[Level]float64

	// Category overrides for the base lifetime, keyed by category.
	CategoryOverrides map[Category]time.Duration

	// LowConfidence is the threshold below which a contradicted memory
	// goes to pending_review instead of staying active.
	LowConfidence float64

	// ReviewWindow sets review_due_at when a memory enters pending_review.
	ReviewWindow time.Duration
}

var DefaultDecayPolicy = DecayPolicy{
	StableAge:     180 * 24 * time.Hour,
	SemiStableAge: 60 * 24 * time.Hour,
	VolatileAge:   14 * 24 * time.Hour,
	EventAge:      30 * 24 * time.Hour,
	LevelFactors: map[Level]float64{
		LevelSemantic: 1.0,
		LevelEpisodic: 0.5,
		LevelWorking:  0.25,
	},
	LowConfidence: 0.4,
	ReviewWindow:  7 * 24 * time.Hour,
}

// categoryProfiles maps each category to its default decay profile.
var categoryProfiles = map[Category]Profile{
	CategoryIdentity:     ProfilePermanent,
	CategoryPreference:   ProfileStable,
	CategoryRelationship: ProfileStable,
	CategoryKnowledge:    ProfileSemiStable,
	CategoryEvent:        ProfileEventBased,
	CategoryRoutine:      ProfileSemiStable,
	CategoryGoal:         ProfileVolatile,
}

// DefaultProfile returns the decay profile a category gets when the
// candidate carries no explicit override.
func DefaultProfile(c Category) Profile {
	if p, ok := categoryProfiles[c]; ok {
		return p
	}
	return ProfileSemiStable
}

// ComputeExpiry returns the expiry for a memory created or merged at
// now. Permanent memories never expire. Event-based memories age
// relative to their event date; without one they fall back to the
// semi-stable lifetime.
func (p DecayPolicy) ComputeExpiry(profile Profile, level Level, category Category, eventDate *time.Time, now time.Time) *time.Time {
	factor := 1.0
	if f, ok := p.LevelFactors[level]; ok && f > 0 {
		factor = f
	}

	base := func(d time.Duration) time.Duration {
		if override, ok := p.CategoryOverrides[category]; ok {
			d = override
		}
		return time.Duration(float64(d) * factor)
	}

	switch profile {
	case ProfilePermanent:
		return nil
	case ProfileStable:
		t := now.Add(base(p.StableAge))
		return &t
	case ProfileVolatile:
		t := now.Add(base(p.VolatileAge))
		return &t
	case ProfileEventBased:
		if eventDate != nil {
			t := eventDate.Add(base(p.EventAge))
			// a past event must not produce an expiry before the write
			if t.Before(now) {
				t = now
			}
			return &t
		}
		// no event date: semi-stable fallback
		t := now.Add(base(p.SemiStableAge))
		return &t
	default: // semi_stable
		t := now.Add(base(p.SemiStableAge))
		return &t
	}
}
