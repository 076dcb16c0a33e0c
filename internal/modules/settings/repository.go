// Package settings persists small pieces of engine state that must
// survive restarts: peak equity, the safe-mode latch, recovery
// bookkeeping. Values are stored as strings in one key-value table.
package settings

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tkomnos/stealthtrader/internal/database"
)

// Store handles engine state database operations.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// NewStore creates an engine state store on the ledger database.
func NewStore(db *database.DB) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("repo", "engine_state").Logger(),
	}
}

// InitSchema creates the engine_state table if needed.
func (s *Store) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS engine_state (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create engine_state schema: %w", err)
	}
	return nil
}

// Get retrieves a value by key. A missing key is not an error; the
// second return reports presence.
func (s *Store) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM engine_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get engine state %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores a value under key, replacing any previous one.
func (s *Store) Set(key, value string) error {
	query := `
	INSERT INTO engine_state (key, value, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value      = excluded.value,
		updated_at = excluded.updated_at`
	if _, err := s.db.Exec(query, key, value, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to set engine state %s: %w", key, err)
	}
	return nil
}

// Delete removes a key. Deleting a missing key is a no-op.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM engine_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete engine state %s: %w", key, err)
	}
	return nil
}

// GetDecimal reads a decimal value. Unparseable stored values are
// treated as absent, with a warning.
func (s *Store) GetDecimal(key string) (decimal.Decimal, bool, error) {
	raw, ok, err := s.Get(key)
	if err != nil || !ok {
		return decimal.Zero, false, err
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		s.log.Warn().Str("key", key).Str("value", raw).Msg("Discarding malformed decimal state")
		return decimal.Zero, false, nil
	}
	return value, true, nil
}

// SetDecimal stores a decimal value.
func (s *Store) SetDecimal(key string, value decimal.Decimal) error {
	return s.Set(key, value.String())
}

// GetBool reads a boolean value; anything but "true" reads as false.
func (s *Store) GetBool(key string) (bool, bool, error) {
	raw, ok, err := s.Get(key)
	if err != nil || !ok {
		return false, false, err
	}
	return raw == "true", true, nil
}

// SetBool stores a boolean value.
func (s *Store) SetBool(key string, value bool) error {
	if value {
		return s.Set(key, "true")
	}
	return s.Set(key, "false")
}

// GetTime reads an RFC3339 timestamp value.
func (s *Store) GetTime(key string) (time.Time, bool, error) {
	raw, ok, err := s.Get(key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	value, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		s.log.Warn().Str("key", key).Str("value", raw).Msg("Discarding malformed time state")
		return time.Time{}, false, nil
	}
	return value, true, nil
}

// SetTime stores a timestamp value.
func (s *Store) SetTime(key string, value time.Time) error {
	return s.Set(key, value.Format(time.RFC3339))
}
