// Package selection chooses what puzzle the user sees next, across
// Review, New, and Specific modes, plus the day-boundary and skip
// semantics those modes share.
package selection

import (
	"context"
	"fmt"
	"math"
	"time"

	"bettertactics/internal/store"
)

// Config holds the selection tunables.
type Config struct {
	DayEndHour int
	ReviewOrder store.ReviewOrder
	DownFrac    float64
	UpFrac      float64
}

// DefaultConfig matches the documented defaults.
func DefaultConfig() Config {
	return Config{
		DayEndHour:  4,
		ReviewOrder: store.OrderDueTime,
		DownFrac:    0.05,
		UpFrac:      0.05,
	}
}

// DueCardsStore is the subset of *store.Storage the selection package
// depends on, narrowed for testability.
type DueCardsStore interface {
	DueCards(ctx context.Context, p store.DueCardsParams) ([]store.Card, error)
	NextDueAfter(ctx context.Context, userID int64, now, dayEnd time.Time) (time.Time, bool, error)
	RandomPuzzleInRange(ctx context.Context, userID int64, lo, hi int) (*store.Puzzle, error)
	GetUser(ctx context.Context, userID int64) (*store.User, error)
	SetNextPuzzle(ctx context.Context, userID int64, puzzleID *int64) error
	GetPuzzleByID(ctx context.Context, id int64) (*store.Puzzle, error)
	GetPuzzleBySourceID(ctx context.Context, source, sourceID string) (*store.Puzzle, error)
	GetCard(ctx context.Context, userID, puzzleID int64) (*store.Card, error)
	HasSkip(ctx context.Context, userID, puzzleID int64) (bool, error)
}

// DayBoundary computes the next occurrence of the configured day-end
// hour, in local time, strictly after now. "Today" ends at the next
// occurrence of SRS_DAY_END_HOUR; the window is always [previous
// boundary, next boundary] — computed fresh each call rather than as a
// fixed 24h offset, to avoid drifting across the boundary a day late.
func DayBoundary(now time.Time, dayEndHour int) time.Time {
	loc := now.Location()
	candidate := time.Date(now.Year(), now.Month(), now.Day(), dayEndHour, 0, 0, 0, loc)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// ReviewResult carries either the next due card (with its puzzle) or the
// "exhausted" signal plus a wait time.
type ReviewResult struct {
	Card       *store.Card
	Puzzle     *store.Puzzle
	Exhausted  bool
	MsUntilDue *int64
}

// NextReviewPuzzle picks the next due card for Review mode. Empty
// results carry ms-until-next-due, computed as the
// earliest future due time within today's window.
func NextReviewPuzzle(ctx context.Context, st DueCardsStore, userID int64, now time.Time, cfg Config) (ReviewResult, error) {
	dayEnd := DayBoundary(now, cfg.DayEndHour)
	cards, err := st.DueCards(ctx, store.DueCardsParams{
		UserID: userID,
		Now:    now,
		DayEnd: dayEnd,
		Order:  cfg.ReviewOrder,
		Limit:  1,
	})
	if err != nil {
		return ReviewResult{}, fmt.Errorf("selection.NextReviewPuzzle: %w", err)
	}
	if len(cards) == 0 {
		due, ok, err := st.NextDueAfter(ctx, userID, now, dayEnd)
		if err != nil {
			return ReviewResult{}, fmt.Errorf("selection.NextReviewPuzzle: %w", err)
		}
		result := ReviewResult{Exhausted: true}
		if ok {
			ms := due.Sub(now).Milliseconds()
			result.MsUntilDue = &ms
		}
		return result, nil
	}

	card := cards[0]
	puzzle, err := st.GetPuzzleByID(ctx, card.PuzzleID)
	if err != nil {
		return ReviewResult{}, fmt.Errorf("selection.NextReviewPuzzle: %w", err)
	}
	return ReviewResult{Card: &card, Puzzle: puzzle}, nil
}

// NewResult carries either a freshly selected puzzle or the "no puzzles
// in range" signal.
type NewResult struct {
	Puzzle      *store.Puzzle
	OutOfRange  bool
}

// NextNewPuzzle picks a puzzle the user has never seen whose rating lies
// within [r - r*down, r + r*up] of the user's current rating. The result
// is cached on the User row as next_puzzle so a repeated call (e.g. page
// refresh) returns the same puzzle until it's started or skipped.
func NextNewPuzzle(ctx context.Context, st DueCardsStore, userID int64, cfg Config) (NewResult, error) {
	user, err := st.GetUser(ctx, userID)
	if err != nil {
		return NewResult{}, fmt.Errorf("selection.NextNewPuzzle: %w", err)
	}

	if user.NextPuzzle != nil {
		stillNew, err := isStillNew(ctx, st, userID, *user.NextPuzzle)
		if err != nil {
			return NewResult{}, fmt.Errorf("selection.NextNewPuzzle: %w", err)
		}
		if stillNew {
			puzzle, err := st.GetPuzzleByID(ctx, *user.NextPuzzle)
			if err == nil {
				return NewResult{Puzzle: puzzle}, nil
			}
			if !store.NotFound(err) {
				return NewResult{}, fmt.Errorf("selection.NextNewPuzzle: %w", err)
			}
			// The cached puzzle id no longer resolves (shouldn't normally
			// happen since puzzles are immutable); fall through and pick a
			// fresh one.
		}
		// The cache is stale — a Card or Skip now exists for it (started
		// or skipped elsewhere); clear it and pick a fresh puzzle instead
		// of serving a "new" puzzle the user has already seen.
		if err := st.SetNextPuzzle(ctx, userID, nil); err != nil {
			return NewResult{}, fmt.Errorf("selection.NextNewPuzzle: %w", err)
		}
	}

	lo := int(math.Round(float64(user.Rating) * (1 - cfg.DownFrac)))
	hi := int(math.Round(float64(user.Rating) * (1 + cfg.UpFrac)))

	puzzle, err := st.RandomPuzzleInRange(ctx, userID, lo, hi)
	if err != nil {
		if store.NotFound(err) {
			return NewResult{OutOfRange: true}, nil
		}
		return NewResult{}, fmt.Errorf("selection.NextNewPuzzle: %w", err)
	}

	if err := st.SetNextPuzzle(ctx, userID, &puzzle.ID); err != nil {
		return NewResult{}, fmt.Errorf("selection.NextNewPuzzle: %w", err)
	}
	return NewResult{Puzzle: puzzle}, nil
}

// isStillNew reports whether puzzleID still qualifies as "never seen" for
// userID — no Card and no Skip — the same guarantee NextNewPuzzle's first
// selection relied on. A cached next_puzzle can go stale if the puzzle
// was started or skipped through some other path since it was cached.
func isStillNew(ctx context.Context, st DueCardsStore, userID, puzzleID int64) (bool, error) {
	_, err := st.GetCard(ctx, userID, puzzleID)
	switch {
	case err == nil:
		return false, nil
	case !store.NotFound(err):
		return false, err
	}
	skipped, err := st.HasSkip(ctx, userID, puzzleID)
	if err != nil {
		return false, err
	}
	return !skipped, nil
}

// BySourceID and ByID implement Specific mode.
func BySourceID(ctx context.Context, st DueCardsStore, source, sourceID string) (*store.Puzzle, error) {
	return st.GetPuzzleBySourceID(ctx, source, sourceID)
}

func ByID(ctx context.Context, st DueCardsStore, id int64) (*store.Puzzle, error) {
	return st.GetPuzzleByID(ctx, id)
}
