// Package importpipeline populates the puzzle corpus from an external
// compressed CSV, staged as Fetch -> Decompress -> Parse -> Normalize ->
// Persist. Parse, Normalize and Persist are connected by bounded
// channels so a slow stage never blocks the one before it from
// buffering a little ahead; Fetch and Decompress are not separate
// stages with their own buffer: they are chained streaming readers that
// the Parse goroutine pulls from directly. No stage materializes the
// full decompressed file or the full parsed set in memory.
//
// The corpus export is treated as gzip-compressed CSV: no zstd/bzip2 or
// dedicated CSV library is imported anywhere in the retrieval pack, so
// this stays on stdlib compress/gzip and encoding/csv rather than
// inventing a dependency the rest of the codebase never reaches for.
package importpipeline

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bettertactics/internal/metrics"
	"bettertactics/internal/store"
)

// Config holds the import tunables.
type Config struct {
	SourceURL string
	BatchSize int
}

const (
	defaultBatchSize = 1000
	stageBufferSize  = 4096

	fetchMaxRetries = 5
	fetchBaseWait   = 500 * time.Millisecond
)

// PuzzleStore is the subset of *store.Storage the pipeline writes
// through.
type PuzzleStore interface {
	InsertPuzzleBatch(ctx context.Context, batch []store.NewPuzzle) error
}

// AppDataStore gates import resumption on the singleton flag.
type AppDataStore interface {
	GetAppData(ctx context.Context) (*store.AppData, error)
	SetImported(ctx context.Context, imported bool) error
}

// rawRecord is one parsed-but-not-yet-normalized CSV row.
type rawRecord struct {
	fields []string
}

// Result summarizes a completed (or aborted) run.
type Result struct {
	RowsParsed   int
	RowsDropped  int
	RowsInserted int
	Completed    bool
}

// Run executes the full pipeline if AppData.LichessDBImported is false;
// otherwise it's a no-op, run on first startup or whenever
// lichess_db_imported is false. On a cancelled or failed run, the flag
// is left false so the next startup restarts the stream from scratch —
// safe because InsertPuzzleBatch upserts on (source, source_id).
func Run(ctx context.Context, appData AppDataStore, puzzles PuzzleStore, cfg Config, log *slog.Logger) (Result, error) {
	data, err := appData.GetAppData(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("importpipeline.Run: %w", err)
	}
	if data.LichessDBImported {
		log.Info("import: corpus already imported, skipping")
		return Result{Completed: true}, nil
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}

	log.Info("import: starting", "source", cfg.SourceURL)

	body, err := fetch(ctx, cfg.SourceURL)
	if err != nil {
		return Result{}, fmt.Errorf("importpipeline.Run: fetch: %w", err)
	}
	defer body.Close()

	gz, err := gzip.NewReader(body)
	if err != nil {
		return Result{}, fmt.Errorf("importpipeline.Run: decompress: %w", err)
	}
	defer gz.Close()

	records := parse(ctx, gz, log)
	newPuzzles := normalize(ctx, records, log)
	result, err := persist(ctx, puzzles, newPuzzles, cfg.BatchSize, log)
	if err != nil {
		return result, fmt.Errorf("importpipeline.Run: %w", err)
	}

	if err := appData.SetImported(ctx, true); err != nil {
		return result, fmt.Errorf("importpipeline.Run: marking imported: %w", err)
	}
	result.Completed = true
	metrics.ImportCompleted.Set(1)
	log.Info("import: completed", "inserted", result.RowsInserted, "dropped", result.RowsDropped)
	return result, nil
}

// fetch streams the compressed file from cfg.SourceURL, retrying with
// bounded exponential backoff on transport errors.
func fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	var lastErr error
	wait := fetchBaseWait
	for attempt := 0; attempt < fetchMaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil && resp.StatusCode == http.StatusOK {
			return resp.Body, nil
		}
		if err == nil {
			resp.Body.Close()
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return nil, fmt.Errorf("fetch: exceeded retry budget: %w", lastErr)
}

// parse streams CSV rows off r, dropping malformed rows without aborting
// the stream.
func parse(ctx context.Context, r io.Reader, log *slog.Logger) <-chan rawRecord {
	out := make(chan rawRecord, stageBufferSize)
	go func() {
		defer close(out)
		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1
		// Header row: source_id,fen,moves,rating,rating_deviation,
		// popularity,plays,themes,game_url,opening_tags (Lichess export
		// shape).
		if _, err := reader.Read(); err != nil {
			log.Error("import: reading header", "error", err)
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			fields, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				metrics.ImportRowsDropped.Inc()
				log.Warn("import: dropping malformed row", "error", err)
				continue
			}
			select {
			case out <- rawRecord{fields: fields}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// normalize converts raw CSV fields to typed NewPuzzle records, splitting
// themes/openings into their set-valued form. Rows with fewer than
// expectedColumns columns or unparseable numeric fields are dropped;
// columns beyond expectedColumns are ignored.
func normalize(ctx context.Context, in <-chan rawRecord, log *slog.Logger) <-chan store.NewPuzzle {
	out := make(chan store.NewPuzzle, stageBufferSize)
	go func() {
		defer close(out)
		for rec := range in {
			p, err := normalizeRecord(rec)
			if err != nil {
				metrics.ImportRowsDropped.Inc()
				log.Warn("import: dropping row", "error", err)
				continue
			}
			select {
			case out <- p:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

const expectedColumns = 10

func normalizeRecord(rec rawRecord) (store.NewPuzzle, error) {
	f := rec.fields
	if len(f) < expectedColumns {
		return store.NewPuzzle{}, fmt.Errorf("expected %d columns, got %d", expectedColumns, len(f))
	}

	rating, err := strconv.Atoi(f[3])
	if err != nil {
		return store.NewPuzzle{}, fmt.Errorf("parsing rating: %w", err)
	}
	deviation, err := strconv.Atoi(f[4])
	if err != nil {
		return store.NewPuzzle{}, fmt.Errorf("parsing rating_deviation: %w", err)
	}
	popularity, err := strconv.Atoi(f[5])
	if err != nil {
		return store.NewPuzzle{}, fmt.Errorf("parsing popularity: %w", err)
	}
	plays, err := strconv.Atoi(f[6])
	if err != nil {
		return store.NewPuzzle{}, fmt.Errorf("parsing plays: %w", err)
	}

	moves := strings.Fields(f[2])
	if len(moves) == 0 {
		return store.NewPuzzle{}, fmt.Errorf("empty moves")
	}

	return store.NewPuzzle{
		Source:          "lichess",
		SourceID:        f[0],
		FEN:             f[1],
		Moves:           moves,
		Rating:          rating,
		RatingDeviation: deviation,
		Popularity:      popularity,
		Plays:           plays,
		GameURL:         f[8],
		Themes:          splitSet(f[7]),
		Openings:        splitSet(f[9]),
	}, nil
}

func splitSet(field string) []string {
	parts := strings.Fields(field)
	if len(parts) == 0 {
		return nil
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// persist batches normalized puzzles into transactions of size
// batchSize, yielding between batches so online readers see frequent
// commit points.
func persist(ctx context.Context, puzzles PuzzleStore, in <-chan store.NewPuzzle, batchSize int, log *slog.Logger) (Result, error) {
	var result Result
	batch := make([]store.NewPuzzle, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := puzzles.InsertPuzzleBatch(ctx, batch); err != nil {
			return err
		}
		metrics.ImportRowsInserted.Add(float64(len(batch)))
		result.RowsInserted += len(batch)
		batch = batch[:0]
		log.Info("import: batch committed", "total_inserted", result.RowsInserted)
		return nil
	}

	for p := range in {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}
		result.RowsParsed++
		batch = append(batch, p)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}
	return result, nil
}
