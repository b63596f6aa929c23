// Package srs implements the SM-2 variant scheduler: a pure function from
// (card state, grade, review time) to the updated card state, with no
// store or I/O dependency of its own.
package srs

import (
	"time"

	"bettertactics/internal/store"
)

// Config holds the SRS tunables exposed as env vars.
type Config struct {
	DefaultEase float64
	MinimumEase float64
	EasyBonus   float64
}

// DefaultConfig matches the documented defaults.
func DefaultConfig() Config {
	return Config{
		DefaultEase: 2.5,
		MinimumEase: 1.3,
		EasyBonus:   1.3,
	}
}

const (
	learningStep1 = time.Minute      // first relearning/learning step
	learningStep2 = 10 * time.Minute // second learning step before graduating
	firstReview   = 24 * time.Hour
	easyGraduate  = 4 * 24 * time.Hour

	easePenaltyAgain = 0.2
	easePenaltyHard  = 0.15
	easeBonusGood    = 0.0
	easeBonusEasy    = 0.15

	hardMultiplier = 1.2
)

// Outcome is the result of applying one grade to one card.
type Outcome struct {
	Card store.Card
	// Lookahead holds, for each of the four grades, the interval that
	// grade would produce from the pre-review state — a "see again
	// in…" preview without a second round-trip.
	Lookahead [4]time.Duration
}

// Apply computes the updated card for a single graded review. now is an
// injectable clock so tests can drive it deterministically.
func Apply(card store.Card, grade store.Difficulty, now time.Time, cfg Config) Outcome {
	next := card
	next.ReviewCount = card.ReviewCount + 1

	switch card.Stage {
	case store.StageNew, store.StageLearning:
		applyLearning(&next, card, grade, cfg)
	default: // StageReview, StageRelearning
		applyReview(&next, card, grade, cfg)
	}
	next.Due = now.Add(next.Interval())

	return Outcome{
		Card:      next,
		Lookahead: lookahead(card, cfg),
	}
}

func applyLearning(next *store.Card, card store.Card, grade store.Difficulty, cfg Config) {
	switch grade {
	case store.Again:
		next.Ease = clampEase(card.Ease-easePenaltyAgain, cfg)
		next.IntervalSecs = int64(learningStep1.Seconds())
		next.Stage = store.StageRelearning
	case store.Hard:
		next.Ease = clampEase(card.Ease-easePenaltyHard, cfg)
		next.IntervalSecs = int64(learningStep1.Seconds())
		next.Stage = store.StageLearning
	case store.Good:
		next.Ease = card.Ease
		if card.Stage == store.StageNew {
			next.IntervalSecs = int64(learningStep2.Seconds())
			next.Stage = store.StageLearning
		} else {
			// Second consecutive Good in Learning graduates to Review.
			next.IntervalSecs = int64(firstReview.Seconds())
			next.Stage = store.StageReview
		}
	case store.Easy:
		next.Ease = card.Ease + easeBonusEasy
		next.IntervalSecs = int64(easyGraduate.Seconds())
		next.Stage = store.StageReview
	}
}

func applyReview(next *store.Card, card store.Card, grade store.Difficulty, cfg Config) {
	switch grade {
	case store.Again:
		next.Ease = clampEase(card.Ease-easePenaltyAgain, cfg)
		next.IntervalSecs = int64(learningStep1.Seconds())
		next.Stage = store.StageRelearning
	case store.Hard:
		next.Ease = clampEase(card.Ease-easePenaltyHard, cfg)
		next.IntervalSecs = scaleInterval(card.IntervalSecs, hardMultiplier)
		next.Stage = store.StageReview
	case store.Good:
		next.Ease = card.Ease
		next.IntervalSecs = scaleInterval(card.IntervalSecs, card.Ease)
		next.Stage = store.StageReview
	case store.Easy:
		next.Ease = card.Ease + easeBonusEasy
		next.IntervalSecs = scaleInterval(card.IntervalSecs, card.Ease*cfg.EasyBonus)
		next.Stage = store.StageReview
	}
}

func scaleInterval(intervalSecs int64, factor float64) int64 {
	scaled := int64(float64(intervalSecs) * factor)
	if scaled < int64(learningStep1.Seconds()) {
		scaled = int64(learningStep1.Seconds())
	}
	return scaled
}

func clampEase(ease float64, cfg Config) float64 {
	if ease < cfg.MinimumEase {
		return cfg.MinimumEase
	}
	return ease
}

// lookahead computes, for each grade in order [Again, Hard, Good, Easy],
// the hypothetical interval Apply would produce from card's current
// state, without mutating anything.
func lookahead(card store.Card, cfg Config) [4]time.Duration {
	var out [4]time.Duration
	for _, g := range []store.Difficulty{store.Again, store.Hard, store.Good, store.Easy} {
		preview := card
		if card.Stage == store.StageNew || card.Stage == store.StageLearning {
			applyLearning(&preview, card, g, cfg)
		} else {
			applyReview(&preview, card, g, cfg)
		}
		out[g] = preview.Interval()
	}
	return out
}

// NewCard returns the zero-state card for a puzzle the user has never
// reviewed. Cards are created lazily, on first successful review.
func NewCard(userID, puzzleID int64, cfg Config) store.Card {
	return store.Card{
		UserID:   userID,
		PuzzleID: puzzleID,
		Ease:     cfg.DefaultEase,
		Stage:    store.StageNew,
	}
}
