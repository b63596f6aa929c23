package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertSkip records a plain skip decision. SkipTooHard, SkipTooEasy and
// SkipDontRepeat go through SkipWithReview instead, which also threads a
// Review row through the same transaction (spec's Open Question: a rated
// skip still contributes to rating history even though the Card itself
// is untouched).
func (s *Storage) InsertSkip(ctx context.Context, userID, puzzleID int64, reason SkipReason, now time.Time) error {
	return s.withTx(ctx, "store.InsertSkip", func(tx *sql.Tx) error {
		return insertSkip(ctx, tx, userID, puzzleID, reason, now)
	})
}

func insertSkip(ctx context.Context, tx *sql.Tx, userID, puzzleID int64, reason SkipReason, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO skips (user_id, puzzle_id, date, reason) VALUES (?, ?, ?, ?)
	`, userID, puzzleID, now, int(reason))
	if err != nil {
		return fmt.Errorf("inserting skip: %w", err)
	}
	// A skipped puzzle must never be re-served as "new" again (spec §4.4);
	// if it was the cached next_puzzle, the cache is now stale.
	_, err = tx.ExecContext(ctx, `UPDATE users SET next_puzzle = NULL WHERE id = ? AND next_puzzle = ?`, userID, puzzleID)
	if err != nil {
		return fmt.Errorf("clearing cached next_puzzle: %w", err)
	}
	return nil
}

// SkipWithReviewParams bundles the new rating triple alongside the Skip's
// identifying fields, mirroring SubmitReviewParams's shape.
type SkipWithReviewParams struct {
	UserID            int64
	PuzzleID          int64
	Reason            SkipReason
	Difficulty        Difficulty
	Now               time.Time
	NewUserRating     int
	NewUserRatingDev  int
	NewUserRatingVol  float64
}

// SkipWithReview records a Skip, a Review row tagged with the new rating,
// and the User rating update, all in one transaction — the chosen
// resolution for the "does a too-hard/too-easy skip touch rating history"
// Open Question: it does, but it never touches the Card, since the
// puzzle is being retired from the user's queue rather than scheduled.
func (s *Storage) SkipWithReview(ctx context.Context, p SkipWithReviewParams) error {
	return s.withTx(ctx, "store.SkipWithReview", func(tx *sql.Tx) error {
		if err := insertSkip(ctx, tx, p.UserID, p.PuzzleID, p.Reason, p.Now); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reviews (user_id, puzzle_id, difficulty, date, user_rating_at_time)
			VALUES (?, ?, ?, ?, ?)
		`, p.UserID, p.PuzzleID, int(p.Difficulty), p.Now, p.NewUserRating)
		if err != nil {
			return fmt.Errorf("inserting skip review: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE users SET rating = ?, rating_deviation = ?, rating_volatility = ? WHERE id = ?
		`, p.NewUserRating, p.NewUserRatingDev, p.NewUserRatingVol, p.UserID)
		if err != nil {
			return fmt.Errorf("updating user rating: %w", err)
		}
		return nil
	})
}

// HasSkip reports whether the user has ever skipped this puzzle — New mode
// must never re-offer it (spec §4.4).
func (s *Storage) HasSkip(ctx context.Context, userID, puzzleID int64) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM skips WHERE user_id = ? AND puzzle_id = ?)
	`, userID, puzzleID).Scan(&exists)
	if err != nil {
		return false, newErr(KindInternal, "store.HasSkip", err)
	}
	return exists == 1, nil
}
