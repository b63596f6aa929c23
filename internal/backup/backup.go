// Package backup runs a daily user-data snapshot task: once per day, at
// a configured local hour, it writes a user-data-only copy of the store
// to a configured directory. Grounded on the teacher's
// internal/job.TaskGenerator ticker/stop-channel shape.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"bettertactics/internal/metrics"
)

// corpusTables lists the import-pipeline-owned tables a snapshot must
// drop, since they're regeneratable from the corpus and dropping them
// keeps the user-data-only snapshot's file size bounded.
var corpusTables = []string{"puzzle_themes", "puzzle_openings", "themes", "openings", "puzzles"}

// Config holds the backup tunables.
type Config struct {
	Enabled bool
	Path    string
	Hour    int
}

// DB is the subset of *sql.DB backup needs: the raw handle for VACUUM
// INTO, which isn't part of the store's typed contract since it's a
// whole-file admin operation rather than a query the typed store API
// would ever issue.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Task is the long-lived backup daemon, cancellable at its sleep
// boundaries.
type Task struct {
	db     DB
	cfg    Config
	log    *slog.Logger
	stopCh chan struct{}
	now    func() time.Time
}

// NewTask builds a backup task. now defaults to time.Now; tests can
// override it via WithClock before calling Run.
func NewTask(db DB, cfg Config, log *slog.Logger) *Task {
	return &Task{db: db, cfg: cfg, log: log, stopCh: make(chan struct{}), now: time.Now}
}

// WithClock overrides the time source (tests).
func (t *Task) WithClock(now func() time.Time) *Task {
	t.now = now
	return t
}

// Stop signals the task to exit at its next sleep boundary.
func (t *Task) Stop() { close(t.stopCh) }

// Run computes the next scheduled moment and loops: if today's moment is
// already past and no backup exists for today, it backs up immediately,
// then sleeps until tomorrow's moment; otherwise it sleeps until today's.
// A write failure logs a warning and waits for the next scheduled
// moment rather than retrying immediately.
func (t *Task) Run(ctx context.Context) {
	if !t.cfg.Enabled {
		t.log.Info("backup: disabled")
		return
	}
	t.log.Info("backup: starting", "hour", t.cfg.Hour, "path", t.cfg.Path)

	next := t.nextMoment()
	if t.now().After(t.todayMoment()) && !t.existsForToday() {
		if err := t.runOnce(ctx); err != nil {
			metrics.BackupRuns.WithLabelValues("failed").Inc()
			t.log.Warn("backup: failed", "error", err)
		} else {
			metrics.BackupRuns.WithLabelValues("ok").Inc()
		}
	}

	for {
		wait := next.Sub(t.now())
		select {
		case <-time.After(wait):
			if err := t.runOnce(ctx); err != nil {
				metrics.BackupRuns.WithLabelValues("failed").Inc()
				t.log.Warn("backup: failed", "error", err)
			} else {
				metrics.BackupRuns.WithLabelValues("ok").Inc()
			}
			next = next.AddDate(0, 0, 1)
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		}
	}
}

func (t *Task) nextMoment() time.Time {
	moment := t.todayMoment()
	if !moment.After(t.now()) {
		moment = moment.AddDate(0, 0, 1)
	}
	return moment
}

// todayMoment returns today's configured backup hour, regardless of
// whether it has already passed.
func (t *Task) todayMoment() time.Time {
	now := t.now()
	loc := now.Location()
	return time.Date(now.Year(), now.Month(), now.Day(), t.cfg.Hour, 0, 0, 0, loc)
}

func (t *Task) existsForToday() bool {
	_, err := os.Stat(t.pathForDate(t.now()))
	return err == nil
}

func (t *Task) pathForDate(date time.Time) string {
	return filepath.Join(t.cfg.Path, date.Format("20060102")+".sqlite")
}

// runOnce writes one snapshot: a full VACUUM INTO copy, then drops the
// Puzzle corpus tables from that copy and vacuums it again so the
// on-disk snapshot is user-data-only and bounded in size — a fresh
// deployment restoring from it re-populates the corpus via the import
// pipeline.
func (t *Task) runOnce(ctx context.Context) error {
	if err := os.MkdirAll(t.cfg.Path, 0o755); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}
	dest := t.pathForDate(t.now())
	if _, err := t.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", dest)); err != nil {
		return fmt.Errorf("writing snapshot to %s: %w", dest, err)
	}

	if err := stripCorpus(ctx, dest); err != nil {
		return fmt.Errorf("stripping corpus from snapshot %s: %w", dest, err)
	}

	t.log.Info("backup: snapshot written", "path", dest)
	return nil
}

// stripCorpus opens the freshly-written snapshot on its own connection
// and drops the corpus tables, then vacuums to reclaim the freed pages.
func stripCorpus(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer db.Close()

	for _, table := range corpusTables {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
			return fmt.Errorf("dropping %s: %w", table, err)
		}
	}
	// Rewind user_version so a restore from this snapshot re-runs the
	// corpus-creating migration instead of skipping it as already applied.
	if _, err := db.ExecContext(ctx, "PRAGMA user_version = 0"); err != nil {
		return fmt.Errorf("resetting user_version: %w", err)
	}
	if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuuming snapshot: %w", err)
	}
	return nil
}
