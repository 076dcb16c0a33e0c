package tokens

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tkomnos/stealthtrader/internal/database"
	"github.com/tkomnos/stealthtrader/internal/domain"
)

// Store persists access tokens in the ledger database so a restart in
// the middle of a trading day does not force a fresh authorization.
// Consumer key and secret never touch the store; they live in the
// environment only.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// NewStore creates a token store on the ledger database.
func NewStore(db *database.DB) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("repo", "tokens").Logger(),
	}
}

// InitSchema creates the broker_tokens table when missing.
func (s *Store) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS broker_tokens (
		env           TEXT PRIMARY KEY,
		access_token  TEXT NOT NULL,
		access_secret TEXT NOT NULL,
		issued_at     INTEGER NOT NULL,
		last_used_at  INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize token schema: %w", err)
	}
	return nil
}

// Save upserts the token set for its environment.
func (s *Store) Save(set domain.TokenSet) error {
	query := `
		INSERT INTO broker_tokens (env, access_token, access_secret, issued_at, last_used_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(env) DO UPDATE SET
			access_token = excluded.access_token,
			access_secret = excluded.access_secret,
			issued_at = excluded.issued_at,
			last_used_at = excluded.last_used_at
	`
	_, err := s.db.Exec(query, set.Env, set.AccessToken, set.AccessTokenSecret,
		set.IssuedAt.Unix(), set.LastUsedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save tokens for %s: %w", set.Env, err)
	}
	s.log.Debug().Str("env", set.Env).Msg("Tokens persisted")
	return nil
}

// Load returns the persisted token set for env, or nil when absent.
func (s *Store) Load(env string) (*domain.TokenSet, error) {
	query := `
		SELECT access_token, access_secret, issued_at, last_used_at
		FROM broker_tokens WHERE env = ?
	`
	var set domain.TokenSet
	var issuedAt, lastUsedAt int64
	err := s.db.QueryRow(query, env).Scan(&set.AccessToken, &set.AccessTokenSecret, &issuedAt, &lastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens for %s: %w", env, err)
	}

	set.Env = env
	set.IssuedAt = time.Unix(issuedAt, 0)
	set.LastUsedAt = time.Unix(lastUsedAt, 0)
	return &set, nil
}

// UpdateLastUsed stamps the most recent authenticated call.
func (s *Store) UpdateLastUsed(env string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE broker_tokens SET last_used_at = ? WHERE env = ?`, at.Unix(), env)
	if err != nil {
		return fmt.Errorf("failed to update token usage for %s: %w", env, err)
	}
	return nil
}

// Delete removes the persisted token set for env.
func (s *Store) Delete(env string) error {
	if _, err := s.db.Exec(`DELETE FROM broker_tokens WHERE env = ?`, env); err != nil {
		return fmt.Errorf("failed to delete tokens for %s: %w", env, err)
	}
	return nil
}
