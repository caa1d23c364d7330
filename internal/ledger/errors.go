package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for operations on an unknown memory id.
	ErrNotFound = errors.New("memory not found")

	// ErrValidation marks a malformed candidate. It is rejected before
	// any mutation reaches the store.
	ErrValidation = errors.New("validation failed")
)

const maxContentLength = 8192

func validateCandidate(c Candidate) error {
	if c.Content == "" {
		return fmt.Errorf("%w: empty content", ErrValidation)
	}
	if len(c.Content) > maxContentLength {
		return fmt.Errorf("%w: content exceeds %d bytes", ErrValidation, maxContentLength)
	}
	if c.Importance < 0 || c.Importance > 1 {
		return fmt.Errorf("%w: importance %.2f out of range", ErrValidation, c.Importance)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.2f out of range", ErrValidation, c.Confidence)
	}
	if !validCategory(c.Category) {
		return fmt.Errorf("%w: unknown category %q", ErrValidation, c.Category)
	}
	if !validLevel(c.Level) {
		return fmt.Errorf("%w: unknown level %q", ErrValidation, c.Level)
	}
	if c.DecayProfile != "" && !validProfile(c.DecayProfile) {
		return fmt.Errorf("%w: unknown decay profile %q", ErrValidation, c.DecayProfile)
	}
	return nil
}

func validCategory(c Category) bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

func validLevel(l Level) bool {
	return l == LevelSemantic || l == LevelEpisodic || l == LevelWorking
}

func validProfile(p Profile) bool {
	switch p {
	case ProfilePermanent, ProfileStable, ProfileSemiStable, ProfileVolatile, ProfileEventBased:
		return true
	}
	return false
}
