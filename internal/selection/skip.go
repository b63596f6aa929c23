package selection

import (
	"context"
	"fmt"
	"time"

	"bettertactics/internal/rating"
	"bettertactics/internal/store"
)

// SkipMode is the caller's choice of how a skip should affect rating:
// plain skip (no rating change), "too hard" (rating update with Again),
// "too easy" (with Easy), or "don't repeat" (with Good).
type SkipMode int

const (
	SkipPlain SkipMode = iota
	SkipTooHard
	SkipTooEasy
	SkipDontRepeat
)

func (m SkipMode) String() string {
	switch m {
	case SkipTooHard:
		return "too_hard"
	case SkipTooEasy:
		return "too_easy"
	case SkipDontRepeat:
		return "dont_repeat"
	default:
		return "plain"
	}
}

func (m SkipMode) reason() store.SkipReason {
	switch m {
	case SkipTooHard:
		return store.SkipTooHard
	case SkipTooEasy:
		return store.SkipTooEasy
	case SkipDontRepeat:
		return store.SkipDontRepeat
	default:
		return store.SkipPlain
	}
}

func (m SkipMode) gradeForRating() (store.Difficulty, bool) {
	switch m {
	case SkipTooHard:
		return store.Again, true
	case SkipTooEasy:
		return store.Easy, true
	case SkipDontRepeat:
		return store.Good, true
	default:
		return 0, false
	}
}

// SkipStore is the subset of *store.Storage Skip needs.
type SkipStore interface {
	InsertSkip(ctx context.Context, userID, puzzleID int64, reason store.SkipReason, now time.Time) error
	SkipWithReview(ctx context.Context, p store.SkipWithReviewParams) error
	GetUser(ctx context.Context, userID int64) (*store.User, error)
}

// Skip records that a puzzle should never be enqueued again for this
// user and, for SkipTooHard/SkipTooEasy/SkipDontRepeat, runs the rating
// update as if the grade had been submitted directly — without creating
// or touching a Card.
func Skip(ctx context.Context, st SkipStore, userID, puzzleID, puzzleRating, puzzleRatingDeviation int64, mode SkipMode, now time.Time) error {
	grade, ratesPuzzle := mode.gradeForRating()
	if !ratesPuzzle {
		if err := st.InsertSkip(ctx, userID, puzzleID, mode.reason(), now); err != nil {
			return fmt.Errorf("selection.Skip: %w", err)
		}
		return nil
	}

	user, err := st.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("selection.Skip: %w", err)
	}

	newRating := rating.Update(
		rating.Rating{Value: user.Rating, Deviation: user.RatingDeviation, Volatility: user.RatingVolatility},
		int(puzzleRating), int(puzzleRatingDeviation),
		rating.OutcomeWeight(int(grade)),
	)

	err = st.SkipWithReview(ctx, store.SkipWithReviewParams{
		UserID:           userID,
		PuzzleID:         puzzleID,
		Reason:           mode.reason(),
		Difficulty:       grade,
		Now:              now,
		NewUserRating:    newRating.Value,
		NewUserRatingDev: newRating.Deviation,
		NewUserRatingVol: newRating.Volatility,
	})
	if err != nil {
		return fmt.Errorf("selection.Skip: %w", err)
	}
	return nil
}
