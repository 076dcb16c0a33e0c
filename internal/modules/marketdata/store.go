package marketdata

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tkomnos/stealthtrader/internal/database"
)

// VolumeStore persists end-of-day session volumes so the 20-day average
// can be rebuilt when the broker quote omits it.
type VolumeStore struct {
	db  *database.DB
	log zerolog.Logger
}

// NewVolumeStore creates the store on the ledger database.
func NewVolumeStore(db *database.DB) *VolumeStore {
	return &VolumeStore{
		db:  db,
		log: log.With().Str("repo", "daily_volumes").Logger(),
	}
}

// InitSchema creates the daily_volumes table when missing.
func (s *VolumeStore) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS daily_volumes (
		symbol TEXT NOT NULL,
		date   TEXT NOT NULL,
		volume INTEGER NOT NULL,
		PRIMARY KEY (symbol, date)
	);
	CREATE INDEX IF NOT EXISTS idx_daily_volumes_date ON daily_volumes(date);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize daily volumes schema: %w", err)
	}
	return nil
}

// Save upserts one symbol's session volume for a date (YYYY-MM-DD).
func (s *VolumeStore) Save(symbol, date string, volume int64) error {
	query := `
		INSERT INTO daily_volumes (symbol, date, volume)
		VALUES (?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET volume = excluded.volume
	`
	if _, err := s.db.Exec(query, symbol, date, volume); err != nil {
		return fmt.Errorf("failed to save volume for %s on %s: %w", symbol, date, err)
	}
	return nil
}

// AverageVolume returns the mean session volume over the most recent
// days on record, 0 when the symbol has no rows.
func (s *VolumeStore) AverageVolume(symbol string, days int) (int64, error) {
	query := `
		SELECT CAST(AVG(volume) AS INTEGER)
		FROM (
			SELECT volume FROM daily_volumes
			WHERE symbol = ?
			ORDER BY date DESC
			LIMIT ?
		)
	`
	var avg sql.NullInt64
	err := s.db.QueryRow(query, symbol, days).Scan(&avg)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !avg.Valid) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to average volume for %s: %w", symbol, err)
	}
	return avg.Int64, nil
}

// Prune deletes rows older than the cutoff date (YYYY-MM-DD).
func (s *VolumeStore) Prune(cutoffDate string) error {
	result, err := s.db.Exec(`DELETE FROM daily_volumes WHERE date < ?`, cutoffDate)
	if err != nil {
		return fmt.Errorf("failed to prune daily volumes: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		s.log.Debug().Int64("rows", rows).Msg("Pruned old daily volumes")
	}
	return nil
}
