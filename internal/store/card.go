package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const cardColumns = `user_id, puzzle_id, due, interval_secs, review_count, ease, learning_stage`

func scanCard(row interface{ Scan(dest ...any) error }) (*Card, error) {
	var c Card
	var stage int
	if err := row.Scan(&c.UserID, &c.PuzzleID, &c.Due, &c.IntervalSecs, &c.ReviewCount, &c.Ease, &stage); err != nil {
		return nil, scanErr("store.GetCard", err)
	}
	c.Stage = LearningStage(stage)
	return &c, nil
}

// GetCard fetches the (user, puzzle) card, or KindNotFound if the puzzle
// has never been reviewed by this user (spec §4.1).
func (s *Storage) GetCard(ctx context.Context, userID, puzzleID int64) (*Card, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE user_id = ? AND puzzle_id = ?`, userID, puzzleID)
	return scanCard(row)
}

// upsertCard creates or updates a card within an existing transaction.
// Used by submit_review's atomic (Review insert, Card upsert, rating
// update) transaction (spec §5).
func upsertCard(ctx context.Context, tx *sql.Tx, c Card) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cards (user_id, puzzle_id, due, interval_secs, review_count, ease, learning_stage)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, puzzle_id) DO UPDATE SET
			due = excluded.due,
			interval_secs = excluded.interval_secs,
			review_count = excluded.review_count,
			ease = excluded.ease,
			learning_stage = excluded.learning_stage
	`, c.UserID, c.PuzzleID, c.Due, c.IntervalSecs, c.ReviewCount, c.Ease, int(c.Stage))
	if err != nil {
		return fmt.Errorf("upserting card (%d, %d): %w", c.UserID, c.PuzzleID, err)
	}
	return nil
}

// DueCardsParams narrows spec §4.4's Review-mode query.
type DueCardsParams struct {
	UserID   int64
	Now      time.Time
	DayEnd   time.Time // next day-boundary occurrence (spec §4.3/§6)
	Order    ReviewOrder
	Limit    int
}

// DueCards returns cards due for review as of Now, within today's window
// (due <= DayEnd), excluding Learning/Relearning cards whose due time is
// still in the future relative to Now (spec §4.4: "never served ahead of
// schedule, to preserve short relearning intervals").
func (s *Storage) DueCards(ctx context.Context, p DueCardsParams) ([]Card, error) {
	orderClause := "due ASC, puzzle_id ASC"
	switch p.Order {
	case OrderPuzzleRating:
		orderClause = "(SELECT rating FROM puzzles WHERE puzzles.id = cards.puzzle_id) ASC, puzzle_id ASC"
	case OrderRandom:
		orderClause = "RANDOM()"
	}

	query := fmt.Sprintf(`
		SELECT %s FROM cards
		WHERE user_id = ?
		AND due <= ?
		AND (
			learning_stage IN (%d, %d)
			AND due <= ?
			OR learning_stage NOT IN (%d, %d)
		)
		ORDER BY %s
	`, cardColumns, int(StageLearning), int(StageRelearning), int(StageLearning), int(StageRelearning), orderClause)
	args := []any{p.UserID, p.DayEnd, p.Now}
	if p.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, p.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, newErr(KindInternal, "store.DueCards", err)
	}
	defer rows.Close()

	var cards []Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, *c)
	}
	return cards, rows.Err()
}

// CountDueNow counts cards due at or before now, excluding
// Learning/Relearning cards scheduled ahead of now — the same
// ahead-of-schedule rule DueCards applies (spec §4.4).
func (s *Storage) CountDueNow(ctx context.Context, userID int64, now time.Time) (int, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM cards
		WHERE user_id = ?
		AND due <= ?
		AND (
			learning_stage IN (%d, %d) AND due <= ?
			OR learning_stage NOT IN (%d, %d)
		)
	`, int(StageLearning), int(StageRelearning), int(StageLearning), int(StageRelearning))
	var count int
	err := s.db.QueryRowContext(ctx, query, userID, now, now).Scan(&count)
	if err != nil {
		return 0, newErr(KindInternal, "store.CountDueNow", err)
	}
	return count, nil
}

// CountDueToday counts cards due at or before the next day boundary. It
// does not apply the Learning/Relearning ahead-of-schedule exclusion —
// that rule governs what's servable right now, not what's due today —
// so a card due later this afternoon still counts, and reviewing cards
// that are already counted can only shrink the count (never grow it)
// during the day; a first review of a new puzzle adds a card and can
// raise it (spec §4.4, §8).
func (s *Storage) CountDueToday(ctx context.Context, userID int64, now, dayEnd time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM cards WHERE user_id = ? AND due <= ?
	`, userID, dayEnd).Scan(&count)
	if err != nil {
		return 0, newErr(KindInternal, "store.CountDueToday", err)
	}
	return count, nil
}

// CardCount returns the total number of cards (of any stage) the user
// has created (spec §4.7 get_stats).
func (s *Storage) CardCount(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, newErr(KindInternal, "store.CardCount", err)
	}
	return count, nil
}

// NextDueAfter returns the earliest due time among cards due after now,
// capped at dayEnd, or (zero, false) if none exist within the window —
// the basis for "ms until next due" (spec §4.4, §8 scenario 2).
func (s *Storage) NextDueAfter(ctx context.Context, userID int64, now, dayEnd time.Time) (time.Time, bool, error) {
	// MIN() over zero matching rows yields a NULL result row (not
	// sql.ErrNoRows), so the destination must tolerate NULL.
	var due sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(due) FROM cards
		WHERE user_id = ? AND due > ? AND due <= ?
	`, userID, now, dayEnd).Scan(&due)
	if err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, newErr(KindInternal, "store.NextDueAfter", err)
	}
	if !due.Valid {
		return time.Time{}, false, nil
	}
	return due.Time, true, nil
}
