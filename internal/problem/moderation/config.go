// Package moderation holds the pure rules behind community moderation:
// vote momentum, trust transitions, rank scoring and difficulty estimation.
package moderation

import (
	"fmt"
	"math"

	"ojtrust/internal/problem/model"
)

// Thresholds drive the trust state machine.
type Thresholds struct {
	// MaxVotesBeforeTrigger forces a decision on a pending problem once its
	// total vote count exceeds it.
	MaxVotesBeforeTrigger int64
	InvalidToDelete       int64
	InvalidToValid        int64
	ValidToDelete         int64
}

// DifficultyRate maps an acceptance-rate ceiling to a label.
type DifficultyRate struct {
	Label     model.Difficulty
	Threshold float64
}

// Config is the complete moderation configuration. Every field is required.
type Config struct {
	Thresholds
	RankZScore                float64
	DifficultyBaseSubmissions int64
	DifficultyRates           []DifficultyRate
}

// Validate rejects configurations the rules cannot run with.
func (c Config) Validate() error {
	if c.MaxVotesBeforeTrigger < 0 {
		return fmt.Errorf("max votes before trigger must not be negative, got %d", c.MaxVotesBeforeTrigger)
	}
	if c.InvalidToDelete >= c.InvalidToValid {
		return fmt.Errorf("invalid-to-delete score %d must be below invalid-to-valid score %d", c.InvalidToDelete, c.InvalidToValid)
	}
	if !(c.RankZScore > 0) || math.IsInf(c.RankZScore, 0) {
		return fmt.Errorf("rank z-score must be a positive number, got %v", c.RankZScore)
	}
	if c.DifficultyBaseSubmissions < 1 {
		return fmt.Errorf("difficulty base submissions must be at least 1, got %d", c.DifficultyBaseSubmissions)
	}
	if len(c.DifficultyRates) == 0 {
		return fmt.Errorf("difficulty rate table is empty")
	}
	seen := make(map[model.Difficulty]bool, len(c.DifficultyRates))
	for i, rate := range c.DifficultyRates {
		if _, err := model.ParseDifficulty(string(rate.Label)); err != nil || rate.Label == "" {
			return fmt.Errorf("difficulty rate %d: unknown label %q", i, rate.Label)
		}
		if seen[rate.Label] {
			return fmt.Errorf("difficulty rate %d: duplicate label %q", i, rate.Label)
		}
		seen[rate.Label] = true
		if rate.Threshold < 0 || rate.Threshold > 1 || math.IsNaN(rate.Threshold) {
			return fmt.Errorf("difficulty rate %q: threshold %v outside [0,1]", rate.Label, rate.Threshold)
		}
	}
	return nil
}
