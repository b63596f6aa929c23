package store

import (
	"fmt"
)

// migrations is the ordered, idempotent schema history. Each entry is
// applied inside its own transaction, tracked against PRAGMA user_version
// so a migration never re-runs — the ordered-[]string-of-statements shape
// follows NikeGunn-tutu's internal/infra/sqlite PhaseNMigrations()
// convention, adapted here to a single numbered sequence instead of one
// slice per phase.
var migrations = []struct {
	version int
	name    string
	stmts   []string
}{
	{
		version: 1,
		name:    "initial schema",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY,
				username TEXT NOT NULL UNIQUE,
				rating INTEGER NOT NULL,
				rating_deviation INTEGER NOT NULL,
				rating_volatility REAL NOT NULL,
				next_puzzle INTEGER,
				FOREIGN KEY (next_puzzle) REFERENCES puzzles(id)
			)`,
			`CREATE TABLE IF NOT EXISTS puzzles (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				source TEXT NOT NULL,
				source_id TEXT NOT NULL,
				fen TEXT NOT NULL,
				moves TEXT NOT NULL,
				rating INTEGER NOT NULL,
				rating_deviation INTEGER NOT NULL,
				popularity INTEGER NOT NULL DEFAULT 0,
				plays INTEGER NOT NULL DEFAULT 0,
				game_url TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				UNIQUE (source, source_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_puzzles_rating ON puzzles(rating)`,
			`CREATE TABLE IF NOT EXISTS themes (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL UNIQUE
			)`,
			`CREATE TABLE IF NOT EXISTS puzzle_themes (
				puzzle_id INTEGER NOT NULL,
				theme_id INTEGER NOT NULL,
				PRIMARY KEY (puzzle_id, theme_id),
				FOREIGN KEY (puzzle_id) REFERENCES puzzles(id),
				FOREIGN KEY (theme_id) REFERENCES themes(id)
			)`,
			`CREATE TABLE IF NOT EXISTS openings (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL UNIQUE
			)`,
			`CREATE TABLE IF NOT EXISTS puzzle_openings (
				puzzle_id INTEGER NOT NULL,
				opening_id INTEGER NOT NULL,
				PRIMARY KEY (puzzle_id, opening_id),
				FOREIGN KEY (puzzle_id) REFERENCES puzzles(id),
				FOREIGN KEY (opening_id) REFERENCES openings(id)
			)`,
			`CREATE TABLE IF NOT EXISTS cards (
				user_id INTEGER NOT NULL,
				puzzle_id INTEGER NOT NULL,
				due TIMESTAMP NOT NULL,
				interval_secs INTEGER NOT NULL DEFAULT 0,
				review_count INTEGER NOT NULL DEFAULT 0,
				ease REAL NOT NULL,
				learning_stage INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (user_id, puzzle_id),
				FOREIGN KEY (user_id) REFERENCES users(id),
				FOREIGN KEY (puzzle_id) REFERENCES puzzles(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_cards_due ON cards(user_id, due)`,
			`CREATE TABLE IF NOT EXISTS reviews (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id INTEGER NOT NULL,
				puzzle_id INTEGER NOT NULL,
				difficulty INTEGER NOT NULL,
				date TIMESTAMP NOT NULL,
				user_rating_at_time INTEGER NOT NULL,
				FOREIGN KEY (user_id) REFERENCES users(id),
				FOREIGN KEY (puzzle_id) REFERENCES puzzles(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_reviews_user_date ON reviews(user_id, date)`,
			`CREATE TABLE IF NOT EXISTS skips (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id INTEGER NOT NULL,
				puzzle_id INTEGER NOT NULL,
				date TIMESTAMP NOT NULL,
				reason INTEGER NOT NULL DEFAULT 0,
				FOREIGN KEY (user_id) REFERENCES users(id),
				FOREIGN KEY (puzzle_id) REFERENCES puzzles(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_skips_user_puzzle ON skips(user_id, puzzle_id)`,
			`CREATE TABLE IF NOT EXISTS app_data (
				id INTEGER PRIMARY KEY CHECK (id = 1),
				lichess_db_imported INTEGER NOT NULL DEFAULT 0
			)`,
			`INSERT OR IGNORE INTO app_data (id, lichess_db_imported) VALUES (1, 0)`,
		},
	},
}

// migrate applies every migration whose version exceeds PRAGMA
// user_version, in order, inside its own transaction — failure aborts
// startup (spec §4.1).
func (s *Storage) migrate() error {
	if _, err := s.db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("enabling foreign keys: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("migration %d (%s): begin: %w", m.version, m.name, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
			}
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): recording version: %w", m.version, m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d (%s): commit: %w", m.version, m.name, err)
		}
		s.log.Info("applied migration", "version", m.version, "name", m.name)
	}
	return nil
}

// ensureLocalUser creates the single "local" user on first startup with
// rating=500, deviation=250, volatility=0.06 (spec §4.1).
func (s *Storage) ensureLocalUser() error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO users (id, username, rating, rating_deviation, rating_volatility)
		 VALUES (?, 'local', 500, 250, 0.06)`,
		LocalUserID,
	)
	if err != nil {
		return fmt.Errorf("ensuring local user: %w", err)
	}
	return nil
}
