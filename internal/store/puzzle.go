package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"strings"
)

// NewPuzzle is the import pipeline's input shape: everything about a
// puzzle except its assigned id (spec §3, §4.5).
type NewPuzzle struct {
	Source          string
	SourceID        string
	FEN             string
	Moves           []string
	Rating          int
	RatingDeviation int
	Popularity      int
	Plays           int
	GameURL         string
	Themes          []string
	Openings        []string
}

// InsertPuzzleBatch upserts a batch of puzzles (and their theme/opening
// relations) in a single transaction, the way spec §4.1 requires batched
// import inserts (target N=1000 rows per transaction) to bound lock
// duration. Re-importing a (source, source_id) pair updates it in place
// rather than duplicating it (spec §8: "importing a puzzle row twice
// yields a single row ... with the latest field values").
func (s *Storage) InsertPuzzleBatch(ctx context.Context, batch []NewPuzzle) error {
	if len(batch) == 0 {
		return nil
	}
	return s.withTx(ctx, "store.InsertPuzzleBatch", func(tx *sql.Tx) error {
		for _, p := range batch {
			if len(p.Moves) == 0 {
				return newErr(KindInvalidInput, "store.InsertPuzzleBatch", fmt.Errorf("puzzle %s/%s has no moves", p.Source, p.SourceID))
			}
			var id int64
			err := tx.QueryRowContext(ctx, `
				INSERT INTO puzzles (source, source_id, fen, moves, rating, rating_deviation, popularity, plays, game_url)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (source, source_id) DO UPDATE SET
					fen = excluded.fen,
					moves = excluded.moves,
					rating = excluded.rating,
					rating_deviation = excluded.rating_deviation,
					popularity = excluded.popularity,
					plays = excluded.plays,
					game_url = excluded.game_url
				RETURNING id
			`, p.Source, p.SourceID, p.FEN, strings.Join(p.Moves, " "), p.Rating, p.RatingDeviation, p.Popularity, p.Plays, p.GameURL).Scan(&id)
			if err != nil {
				return fmt.Errorf("upserting puzzle %s/%s: %w", p.Source, p.SourceID, err)
			}

			if _, err := tx.ExecContext(ctx, `DELETE FROM puzzle_themes WHERE puzzle_id = ?`, id); err != nil {
				return fmt.Errorf("clearing themes for puzzle %d: %w", id, err)
			}
			for _, theme := range p.Themes {
				themeID, err := internName(ctx, tx, "themes", theme)
				if err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO puzzle_themes (puzzle_id, theme_id) VALUES (?, ?)`, id, themeID); err != nil {
					return fmt.Errorf("linking theme %q to puzzle %d: %w", theme, id, err)
				}
			}

			if _, err := tx.ExecContext(ctx, `DELETE FROM puzzle_openings WHERE puzzle_id = ?`, id); err != nil {
				return fmt.Errorf("clearing openings for puzzle %d: %w", id, err)
			}
			for _, opening := range p.Openings {
				openingID, err := internName(ctx, tx, "openings", opening)
				if err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO puzzle_openings (puzzle_id, opening_id) VALUES (?, ?)`, id, openingID); err != nil {
					return fmt.Errorf("linking opening %q to puzzle %d: %w", opening, id, err)
				}
			}
		}
		return nil
	})
}

// internName looks up (or creates) the integer id for a theme/opening
// name, the set-valued-relation pattern spec §9 calls for: "never hold
// reference cycles in memory" — themes/openings are interned rows, not
// pointers.
func internName(ctx context.Context, tx *sql.Tx, table, name string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT id FROM %s WHERE name = ?`, table), name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("looking up %s %q: %w", table, name, err)
	}
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT OR IGNORE INTO %s (name) VALUES (?)`, table), name)
	if err != nil {
		return 0, fmt.Errorf("interning %s %q: %w", table, name, err)
	}
	id, err = res.LastInsertId()
	if err == nil && id != 0 {
		return id, nil
	}
	// Lost the race to another writer (can't happen under the single-
	// writer discipline, but stays correct if that ever changes).
	if err := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT id FROM %s WHERE name = ?`, table), name).Scan(&id); err != nil {
		return 0, fmt.Errorf("re-looking up %s %q: %w", table, name, err)
	}
	return id, nil
}

func (s *Storage) scanPuzzle(ctx context.Context, row interface {
	Scan(dest ...any) error
}, id int64) (*Puzzle, error) {
	var p Puzzle
	var movesStr string
	err := row.Scan(&p.ID, &p.Source, &p.SourceID, &p.FEN, &movesStr, &p.Rating, &p.RatingDeviation, &p.Popularity, &p.Plays, &p.GameURL, &p.CreatedAt)
	if err != nil {
		return nil, scanErr("store.GetPuzzle", err)
	}
	p.Moves = strings.Fields(movesStr)

	themes, err := s.namesFor(ctx, "puzzle_themes", "themes", "theme_id", p.ID)
	if err != nil {
		return nil, err
	}
	p.Themes = themes

	openings, err := s.namesFor(ctx, "puzzle_openings", "openings", "opening_id", p.ID)
	if err != nil {
		return nil, err
	}
	p.Openings = openings

	return &p, nil
}

func (s *Storage) namesFor(ctx context.Context, joinTable, nameTable, joinCol string, puzzleID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT n.name FROM %s n
		JOIN %s j ON j.%s = n.id
		WHERE j.puzzle_id = ?
		ORDER BY n.name
	`, nameTable, joinTable, joinCol), puzzleID)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", nameTable, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", nameTable, err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

const puzzleColumns = `id, source, source_id, fen, moves, rating, rating_deviation, popularity, plays, game_url, created_at`

// GetPuzzleByID fetches a puzzle by its internal id (spec §4.7
// puzzle_by_id).
func (s *Storage) GetPuzzleByID(ctx context.Context, id int64) (*Puzzle, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+puzzleColumns+` FROM puzzles WHERE id = ?`, id)
	return s.scanPuzzle(ctx, row, id)
}

// GetPuzzleBySourceID fetches a puzzle by (source, source_id) (spec §4.4
// Specific mode).
func (s *Storage) GetPuzzleBySourceID(ctx context.Context, source, sourceID string) (*Puzzle, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+puzzleColumns+` FROM puzzles WHERE source = ? AND source_id = ?`, source, sourceID)
	return s.scanPuzzle(ctx, row, 0)
}

// RandomPuzzleInRange picks a uniformly random puzzle whose rating lies
// in [lo, hi], excluding any puzzle the user already has a Card or Skip
// for (spec §4.4 New mode).
func (s *Storage) RandomPuzzleInRange(ctx context.Context, userID int64, lo, hi int) (*Puzzle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM puzzles p
		WHERE p.rating BETWEEN ? AND ?
		AND NOT EXISTS (SELECT 1 FROM cards c WHERE c.user_id = ? AND c.puzzle_id = p.id)
		AND NOT EXISTS (SELECT 1 FROM skips sk WHERE sk.user_id = ? AND sk.puzzle_id = p.id)
	`, lo, hi, userID, userID)
	if err != nil {
		return nil, newErr(KindInternal, "store.RandomPuzzleInRange", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, newErr(KindInternal, "store.RandomPuzzleInRange", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, newErr(KindInternal, "store.RandomPuzzleInRange", err)
	}
	if len(ids) == 0 {
		return nil, newErr(KindNotFound, "store.RandomPuzzleInRange", fmt.Errorf("no puzzles in range [%d, %d]", lo, hi))
	}

	id := ids[rand.Intn(len(ids))]
	return s.GetPuzzleByID(ctx, id)
}
