package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SubmitReviewParams is the atomic unit spec §5 describes: "A submit_review
// is atomic: (Review insert, Card upsert, User rating update) are one
// transaction." ExpectedReviewCount pins the call to the Card state the
// caller computed its NextCard/NewRating from, making a replay with a stale
// count a no-op rather than a double-apply (spec §7, §8).
type SubmitReviewParams struct {
	UserID               int64
	PuzzleID             int64
	Difficulty           Difficulty
	Now                  time.Time
	ExpectedReviewCount  int
	NextCard             Card
	NewUserRating        int
	NewUserRatingDev     int
	NewUserRatingVol     float64
}

// SubmitReview applies a graded review as one transaction: it inserts the
// Review row, upserts the Card to NextCard, and updates the User's rating
// triple. If the existing Card's review_count no longer matches
// ExpectedReviewCount, the call is a no-op and reports applied=false — the
// idempotence guarantee spec §7/§8 requires for at-least-once callers.
func (s *Storage) SubmitReview(ctx context.Context, p SubmitReviewParams) (applied bool, err error) {
	if !p.Difficulty.Valid() {
		return false, newErr(KindInvalidInput, "store.SubmitReview", fmt.Errorf("invalid difficulty %d", p.Difficulty))
	}
	err = s.withTx(ctx, "store.SubmitReview", func(tx *sql.Tx) error {
		var currentCount int
		err := tx.QueryRowContext(ctx, `SELECT review_count FROM cards WHERE user_id = ? AND puzzle_id = ?`, p.UserID, p.PuzzleID).Scan(&currentCount)
		switch {
		case err == sql.ErrNoRows:
			currentCount = 0
		case err != nil:
			return fmt.Errorf("reading current card: %w", err)
		}

		if currentCount != p.ExpectedReviewCount {
			// Already applied by a previous attempt at this exact call;
			// leave everything untouched.
			applied = false
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO reviews (user_id, puzzle_id, difficulty, date, user_rating_at_time)
			VALUES (?, ?, ?, ?, ?)
		`, p.UserID, p.PuzzleID, int(p.Difficulty), p.Now, p.NewUserRating)
		if err != nil {
			return fmt.Errorf("inserting review: %w", err)
		}

		if err := upsertCard(ctx, tx, p.NextCard); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE users SET
				rating = ?, rating_deviation = ?, rating_volatility = ?,
				next_puzzle = CASE WHEN next_puzzle = ? THEN NULL ELSE next_puzzle END
			WHERE id = ?
		`, p.NewUserRating, p.NewUserRatingDev, p.NewUserRatingVol, p.PuzzleID, p.UserID)
		if err != nil {
			return fmt.Errorf("updating user rating: %w", err)
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// ReviewHistoryParams narrows the time-series queries spec §4.7 needs for
// get_rating_history and get_review_score_histogram.
type ReviewHistoryParams struct {
	UserID int64
	Since  time.Time
	Until  time.Time
}

// RatingHistory returns (date, rating_at_time) pairs ordered by date, the
// raw series get_rating_history plots (spec §4.7).
func (s *Storage) RatingHistory(ctx context.Context, p ReviewHistoryParams) ([]RatingPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, user_rating_at_time FROM reviews
		WHERE user_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, p.UserID, p.Since, p.Until)
	if err != nil {
		return nil, newErr(KindInternal, "store.RatingHistory", err)
	}
	defer rows.Close()

	var points []RatingPoint
	for rows.Next() {
		var pt RatingPoint
		if err := rows.Scan(&pt.Date, &pt.Rating); err != nil {
			return nil, newErr(KindInternal, "store.RatingHistory", err)
		}
		points = append(points, pt)
	}
	return points, rows.Err()
}

// RatingPoint is one sample of the rating-over-time series.
type RatingPoint struct {
	Date   time.Time
	Rating int
}

// ReviewScoreHistogram buckets reviews by puzzle rating (in buckets of
// width bucketSize) crossed with difficulty, the input get_review_score
// _histogram needs to render a heatmap (spec §4.7).
func (s *Storage) ReviewScoreHistogram(ctx context.Context, userID int64, bucketSize int) ([]HistogramCell, error) {
	if bucketSize <= 0 {
		bucketSize = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT (p.rating / ?) * ? AS bucket, r.difficulty, COUNT(*)
		FROM reviews r
		JOIN puzzles p ON p.id = r.puzzle_id
		WHERE r.user_id = ?
		GROUP BY bucket, r.difficulty
		ORDER BY bucket ASC, r.difficulty ASC
	`, bucketSize, bucketSize, userID)
	if err != nil {
		return nil, newErr(KindInternal, "store.ReviewScoreHistogram", err)
	}
	defer rows.Close()

	var cells []HistogramCell
	for rows.Next() {
		var cell HistogramCell
		var difficulty int
		if err := rows.Scan(&cell.RatingBucket, &difficulty, &cell.Count); err != nil {
			return nil, newErr(KindInternal, "store.ReviewScoreHistogram", err)
		}
		cell.Difficulty = Difficulty(difficulty)
		cells = append(cells, cell)
	}
	return cells, rows.Err()
}

// HistogramCell is one (rating bucket, difficulty) count.
type HistogramCell struct {
	RatingBucket int
	Difficulty   Difficulty
	Count        int
}

// TotalReviewCount returns the all-time review count for get_stats (spec
// §4.7).
func (s *Storage) TotalReviewCount(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reviews WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, newErr(KindInternal, "store.TotalReviewCount", err)
	}
	return count, nil
}

// ReviewForecast counts, for each of the next days days (0-indexed from
// today), how many cards become due — get_review_forecast's input (spec
// §4.7).
func (s *Storage) ReviewForecast(ctx context.Context, userID int64, dayBoundaries []time.Time) ([]int, error) {
	counts := make([]int, len(dayBoundaries))
	prev := dayBoundaries[0]
	for i, end := range dayBoundaries {
		start := prev
		if i == 0 {
			start = time.Time{}
		}
		var n int
		err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM cards WHERE user_id = ? AND due > ? AND due <= ?
		`, userID, start, end).Scan(&n)
		if err != nil {
			return nil, newErr(KindInternal, "store.ReviewForecast", err)
		}
		counts[i] = n
		prev = end
	}
	return counts, nil
}

// PuzzleHistoryEntry is one page row of get_puzzle_history: a puzzle
// joined with its most recent event — either a graded review or a skip
// (spec §4.7: "paginated (puzzle, review?, skipped?)"). Skipped is true
// when the most recent event was a skip, in which case Difficulty is
// meaningless and HasDifficulty is false.
type PuzzleHistoryEntry struct {
	Puzzle        Puzzle
	LastEventAt   time.Time
	Skipped       bool
	Difficulty    Difficulty
	HasDifficulty bool
}

// PuzzleHistory returns a page of the user's encountered puzzles (ever
// reviewed or skipped), most recently touched first (spec §4.7
// get_puzzle_history). Theme/opening relations are not loaded per row;
// callers needing them fetch the puzzle via GetPuzzleByID.
func (s *Storage) PuzzleHistory(ctx context.Context, userID int64, limit, offset int) ([]PuzzleHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		WITH events AS (
			SELECT puzzle_id, date, 0 AS is_skip, difficulty FROM reviews WHERE user_id = ?
			UNION ALL
			SELECT puzzle_id, date, 1 AS is_skip, NULL FROM skips WHERE user_id = ?
		),
		latest AS (
			SELECT puzzle_id, MAX(date) AS date FROM events GROUP BY puzzle_id
		)
		SELECT %s, e.date, e.is_skip, e.difficulty
		FROM latest l
		JOIN events e ON e.puzzle_id = l.puzzle_id AND e.date = l.date
		JOIN puzzles p ON p.id = l.puzzle_id
		ORDER BY e.date DESC, p.id DESC
		LIMIT ? OFFSET ?
	`, puzzleColumnsPrefixed("p")), userID, userID, limit, offset)
	if err != nil {
		return nil, newErr(KindInternal, "store.PuzzleHistory", err)
	}
	defer rows.Close()

	var entries []PuzzleHistoryEntry
	for rows.Next() {
		var e PuzzleHistoryEntry
		var movesStr string
		var isSkip int
		var difficulty sql.NullInt64
		err := rows.Scan(
			&e.Puzzle.ID, &e.Puzzle.Source, &e.Puzzle.SourceID, &e.Puzzle.FEN, &movesStr,
			&e.Puzzle.Rating, &e.Puzzle.RatingDeviation, &e.Puzzle.Popularity, &e.Puzzle.Plays,
			&e.Puzzle.GameURL, &e.Puzzle.CreatedAt, &e.LastEventAt, &isSkip, &difficulty,
		)
		if err != nil {
			return nil, newErr(KindInternal, "store.PuzzleHistory", err)
		}
		e.Puzzle.Moves = strings.Fields(movesStr)
		e.Skipped = isSkip == 1
		if difficulty.Valid {
			e.Difficulty = Difficulty(difficulty.Int64)
			e.HasDifficulty = true
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func puzzleColumnsPrefixed(alias string) string {
	cols := []string{"id", "source", "source_id", "fen", "moves", "rating", "rating_deviation", "popularity", "plays", "game_url", "created_at"}
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + c
	}
	return out
}
