package store

import "context"

// AppData is the singleton settings/flags row (spec §4.1, §4.5).
type AppData struct {
	LichessDBImported bool
}

// GetAppData reads the singleton app_data row.
func (s *Storage) GetAppData(ctx context.Context) (*AppData, error) {
	var imported int
	err := s.db.QueryRowContext(ctx, `SELECT lichess_db_imported FROM app_data WHERE id = 1`).Scan(&imported)
	if err != nil {
		return nil, scanErr("store.GetAppData", err)
	}
	return &AppData{LichessDBImported: imported == 1}, nil
}

// SetImported marks the Lichess puzzle database as imported. While false,
// a restart re-streams the source from the beginning; that's safe because
// InsertPuzzleBatch upserts on (source, source_id) (spec §4.5, §8).
func (s *Storage) SetImported(ctx context.Context, imported bool) error {
	val := 0
	if imported {
		val = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE app_data SET lichess_db_imported = ? WHERE id = 1`, val)
	if err != nil {
		return newErr(KindInternal, "store.SetImported", err)
	}
	return nil
}
