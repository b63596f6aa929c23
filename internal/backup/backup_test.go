package backup

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"bettertactics/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNextMoment_TodayWhenStillAhead(t *testing.T) {
	now := time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)
	task := NewTask(nil, Config{Hour: 4}, discardLogger()).WithClock(func() time.Time { return now })

	require.Equal(t, time.Date(2026, 1, 1, 4, 0, 0, 0, time.UTC), task.nextMoment())
}

func TestNextMoment_TomorrowWhenAlreadyPast(t *testing.T) {
	now := time.Date(2026, 1, 1, 5, 0, 0, 0, time.UTC)
	task := NewTask(nil, Config{Hour: 4}, discardLogger()).WithClock(func() time.Time { return now })

	require.Equal(t, time.Date(2026, 1, 2, 4, 0, 0, 0, time.UTC), task.nextMoment())
}

func TestRunOnce_SnapshotExcludesPuzzleCorpus(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "puzzles.sqlite")
	st, err := store.OpenPath(dbPath, discardLogger())
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.InsertPuzzleBatch(context.Background(), []store.NewPuzzle{{
		Source: "lichess", SourceID: "1", FEN: "x", Moves: []string{"e2e4"}, Rating: 1500, RatingDeviation: 80,
	}}))

	backupDir := filepath.Join(dir, "backups")
	now := time.Date(2026, 1, 1, 4, 0, 0, 0, time.UTC)
	task := NewTask(st.DB(), Config{Enabled: true, Path: backupDir, Hour: 4}, discardLogger()).WithClock(func() time.Time { return now })

	require.NoError(t, task.runOnce(context.Background()))

	snapshotPath := task.pathForDate(now)
	snap, err := sql.Open("sqlite3", snapshotPath)
	require.NoError(t, err)
	defer snap.Close()

	var count int
	err = snap.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='puzzles'`).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 0, count, "the snapshot must not carry the puzzle corpus")

	err = snap.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count, "the snapshot must still carry user data")

	var userVersion int
	err = snap.QueryRow(`PRAGMA user_version`).Scan(&userVersion)
	require.NoError(t, err)
	require.Equal(t, 0, userVersion, "stripping the corpus must rewind user_version so a restore re-runs the corpus migration")
}

func TestRun_NoImmediateBackupWhenTodaysMomentIsStillAhead(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "puzzles.sqlite")
	st, err := store.OpenPath(dbPath, discardLogger())
	require.NoError(t, err)
	defer st.Close()

	backupDir := filepath.Join(dir, "backups")
	now := time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)
	task := NewTask(st.DB(), Config{Enabled: true, Path: backupDir, Hour: 4}, discardLogger()).WithClock(func() time.Time { return now })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	task.Run(ctx)

	require.NoFileExists(t, task.pathForDate(now), "a run at 02:00 with hour=4 must not back up immediately")
}

func TestRun_ImmediateBackupWhenTodaysMomentHasPassedAndNoneExistsYet(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "puzzles.sqlite")
	st, err := store.OpenPath(dbPath, discardLogger())
	require.NoError(t, err)
	defer st.Close()

	backupDir := filepath.Join(dir, "backups")
	now := time.Date(2026, 1, 1, 5, 0, 0, 0, time.UTC)
	task := NewTask(st.DB(), Config{Enabled: true, Path: backupDir, Hour: 4}, discardLogger()).WithClock(func() time.Time { return now })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		task.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, statErr := os.Stat(task.pathForDate(now))
		return statErr == nil
	}, time.Second, 10*time.Millisecond, "a run at 05:00 with hour=4 must back up immediately")

	cancel()
	<-done
}
