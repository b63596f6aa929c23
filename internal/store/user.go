package store

import (
	"context"
	"database/sql"
)

const userColumns = `id, username, rating, rating_deviation, rating_volatility, next_puzzle`

func scanUser(row interface{ Scan(dest ...any) error }) (*User, error) {
	var u User
	var nextPuzzle sql.NullInt64
	if err := row.Scan(&u.ID, &u.Username, &u.Rating, &u.RatingDeviation, &u.RatingVolatility, &nextPuzzle); err != nil {
		return nil, scanErr("store.GetUser", err)
	}
	if nextPuzzle.Valid {
		u.NextPuzzle = &nextPuzzle.Int64
	}
	return &u, nil
}

// GetUser fetches the single local user (spec §4.1, §4.7).
func (s *Storage) GetUser(ctx context.Context, userID int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID)
	return scanUser(row)
}

// SetNextPuzzle caches the puzzle Selection has already chosen for the
// user's next session, so a repeated get_next_puzzle call before any
// submit_review or skip returns the same puzzle (spec §4.4).
func (s *Storage) SetNextPuzzle(ctx context.Context, userID int64, puzzleID *int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET next_puzzle = ? WHERE id = ?`, puzzleID, userID)
	if err != nil {
		return newErr(KindInternal, "store.SetNextPuzzle", err)
	}
	return nil
}

// SetRating is the debug/admin set_rating operation (spec §4.7): it pins
// the rating to an operator-chosen value and resets deviation and
// volatility to their fresh-user defaults, since a manually-set rating
// carries none of Glicko-2's accumulated confidence.
func (s *Storage) SetRating(ctx context.Context, userID int64, rating int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET rating = ?, rating_deviation = 250, rating_volatility = 0.06 WHERE id = ?
	`, rating, userID)
	if err != nil {
		return newErr(KindInternal, "store.SetRating", err)
	}
	return nil
}
