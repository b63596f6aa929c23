package importpipeline

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"bettertactics/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNormalizeRecord_ParsesAllColumns(t *testing.T) {
	rec := rawRecord{fields: []string{
		"00008", "r1bqkb1r/...", "e2e4 e7e5", "1500", "80", "50", "1000", "fork pin", "https://lichess.org/abc", "Italian_Game",
	}}
	p, err := normalizeRecord(rec)
	require.NoError(t, err)
	require.Equal(t, "lichess", p.Source)
	require.Equal(t, "00008", p.SourceID)
	require.Equal(t, []string{"e2e4", "e7e5"}, p.Moves)
	require.Equal(t, 1500, p.Rating)
	require.Equal(t, 80, p.RatingDeviation)
	require.Equal(t, []string{"fork", "pin"}, p.Themes)
	require.Equal(t, []string{"Italian_Game"}, p.Openings)
}

func TestNormalizeRecord_RejectsWrongColumnCount(t *testing.T) {
	_, err := normalizeRecord(rawRecord{fields: []string{"only", "two"}})
	require.Error(t, err)
}

func TestNormalizeRecord_RejectsUnparseableRating(t *testing.T) {
	rec := rawRecord{fields: []string{"1", "fen", "e2e4", "not-a-number", "80", "50", "1000", "", "", ""}}
	_, err := normalizeRecord(rec)
	require.Error(t, err)
}

func TestSplitSet_TrimsAndDropsEmpty(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, splitSet(" a  b "))
	require.Nil(t, splitSet(""))
}

type fakePuzzleStore struct {
	batches [][]store.NewPuzzle
}

func (f *fakePuzzleStore) InsertPuzzleBatch(ctx context.Context, batch []store.NewPuzzle) error {
	cp := make([]store.NewPuzzle, len(batch))
	copy(cp, batch)
	f.batches = append(f.batches, cp)
	return nil
}

func TestPersist_BatchesAtConfiguredSize(t *testing.T) {
	in := make(chan store.NewPuzzle, 10)
	for i := 0; i < 5; i++ {
		in <- store.NewPuzzle{SourceID: "x"}
	}
	close(in)

	fake := &fakePuzzleStore{}
	result, err := persist(context.Background(), fake, in, 2, discardLogger())
	require.NoError(t, err)
	require.Equal(t, 5, result.RowsInserted)
	require.Len(t, fake.batches, 3) // 2, 2, 1
}

type fakeAppData struct {
	imported bool
	setCalls int
}

func (f *fakeAppData) GetAppData(ctx context.Context) (*store.AppData, error) {
	return &store.AppData{LichessDBImported: f.imported}, nil
}

func (f *fakeAppData) SetImported(ctx context.Context, imported bool) error {
	f.setCalls++
	f.imported = imported
	return nil
}

func TestRun_NoOpsWhenAlreadyImported(t *testing.T) {
	appData := &fakeAppData{imported: true}
	fake := &fakePuzzleStore{}

	result, err := Run(context.Background(), appData, fake, Config{}, discardLogger())
	require.NoError(t, err)
	require.True(t, result.Completed)
	require.Empty(t, fake.batches)
	require.Equal(t, 0, appData.setCalls)
}

func gzipCSV(t *testing.T, rows [][]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	w := csv.NewWriter(gz)
	for _, row := range rows {
		require.NoError(t, w.Write(row))
	}
	w.Flush()
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestRun_FetchesDecompressesParsesAndPersists(t *testing.T) {
	body := gzipCSV(t, [][]string{
		{"source_id", "fen", "moves", "rating", "rating_deviation", "popularity", "plays", "themes", "game_url", "opening_tags"},
		{"1", "fen1", "e2e4 e7e5", "1500", "80", "50", "100", "fork", "url1", "opening1"},
		{"2", "fen2", "d2d4 d7d5", "1600", "75", "60", "200", "pin", "url2", "opening2"},
		{"bad", "fen3", "", "not-a-number", "80", "1", "1", "", "", ""},
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	appData := &fakeAppData{}
	fake := &fakePuzzleStore{}

	result, err := Run(context.Background(), appData, fake, Config{SourceURL: srv.URL, BatchSize: 10}, discardLogger())
	require.NoError(t, err)
	require.True(t, result.Completed)
	require.Equal(t, 2, result.RowsInserted)
	require.True(t, appData.imported)
	require.Equal(t, 1, appData.setCalls)
}
