// Package journal records finished trades. Every close-out lands in
// three places: the sqlite ledger (durable), an append-only ndjson file
// (operator-greppable), and an in-memory ring for cheap recent-history
// reads. The ledger is also where realized P&L for the risk gates comes
// from.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tkomnos/stealthtrader/internal/database"
	"github.com/tkomnos/stealthtrader/internal/domain"
)

// tradesColumns is the list of columns for the trades table.
// Column order must match scanTrade and scanTradeFromRows.
const tradesColumns = `id, symbol, entry_price, exit_price, quantity, pnl, pnl_pct, entry_time, exit_time, hold_minutes, exit_reason, strategy, simulated, client_tag`

// Repository handles trade ledger database operations.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a new trade ledger repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "trades").Logger(),
	}
}

// InitSchema creates the trades table if it does not exist.
func (r *Repository) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol       TEXT NOT NULL,
		entry_price  TEXT NOT NULL,
		exit_price   TEXT NOT NULL,
		quantity     TEXT NOT NULL,
		pnl          TEXT NOT NULL,
		pnl_pct      REAL NOT NULL,
		entry_time   INTEGER NOT NULL,
		exit_time    INTEGER NOT NULL,
		hold_minutes INTEGER NOT NULL,
		exit_reason  TEXT NOT NULL,
		strategy     TEXT NOT NULL DEFAULT '',
		simulated    INTEGER NOT NULL DEFAULT 0,
		client_tag   TEXT NOT NULL DEFAULT '',
		created_at   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON trades(exit_time);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_client_tag ON trades(client_tag) WHERE client_tag != '';
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize trades schema: %w", err)
	}
	return nil
}

// Insert stores a close-out record. A record whose client tag was
// already stored is skipped, the first close of a tag wins.
func (r *Repository) Insert(rec domain.TradeRecord) error {
	if rec.ClientTag != "" {
		exists, err := r.existsByTag(rec.ClientTag)
		if err != nil {
			return fmt.Errorf("failed to check for existing trade: %w", err)
		}
		if exists {
			r.log.Debug().
				Str("client_tag", rec.ClientTag).
				Msg("Trade with client_tag already recorded, skipping duplicate")
			return nil
		}
	}

	pnlPct, _ := rec.PnLPct.Float64()
	query := `
		INSERT INTO trades
		(symbol, entry_price, exit_price, quantity, pnl, pnl_pct,
		 entry_time, exit_time, hold_minutes, exit_reason, strategy,
		 simulated, client_tag, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query,
		strings.ToUpper(strings.TrimSpace(rec.Symbol)),
		rec.EntryPrice.String(),
		rec.ExitPrice.String(),
		rec.Quantity.String(),
		rec.PnL.String(),
		pnlPct,
		rec.EntryTime.Unix(),
		rec.ExitTime.Unix(),
		rec.HoldMinutes,
		string(rec.ExitReason),
		rec.Strategy,
		boolToInt(rec.Simulated),
		rec.ClientTag,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}

	r.log.Info().
		Str("symbol", rec.Symbol).
		Str("pnl", rec.PnL.StringFixed(2)).
		Str("exit_reason", string(rec.ExitReason)).
		Msg("Trade recorded")
	return nil
}

// History retrieves finished trades, most recent first.
func (r *Repository) History(limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT " + tradesColumns + " FROM trades ORDER BY exit_time DESC, id DESC LIMIT ?"

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get trade history: %w", err)
	}
	defer rows.Close()

	return r.scanTrades(rows)
}

// BySymbol retrieves finished trades for one symbol, most recent first.
func (r *Repository) BySymbol(symbol string, limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT " + tradesColumns + " FROM trades WHERE symbol = ? ORDER BY exit_time DESC, id DESC LIMIT ?"

	rows, err := r.db.Query(query, strings.ToUpper(strings.TrimSpace(symbol)), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get trades by symbol: %w", err)
	}
	defer rows.Close()

	return r.scanTrades(rows)
}

// RealizedBetween sums realized P&L for trades that closed in
// [start, end). The sum stays decimal end to end.
func (r *Repository) RealizedBetween(start, end time.Time) (decimal.Decimal, error) {
	query := "SELECT pnl FROM trades WHERE exit_time >= ? AND exit_time < ?"

	rows, err := r.db.Query(query, start.Unix(), end.Unix())
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum realized pnl: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan pnl: %w", err)
		}
		pnl, err := decimal.NewFromString(raw)
		if err != nil {
			r.log.Warn().Str("pnl", raw).Msg("Malformed pnl in trades table, skipping row")
			continue
		}
		total = total.Add(pnl)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("failed to iterate pnl rows: %w", err)
	}
	return total, nil
}

// LifetimePnLPctSum returns the cumulative sum of per-trade return
// percentages across the whole ledger.
func (r *Repository) LifetimePnLPctSum() (float64, error) {
	var sum float64
	err := r.db.QueryRow("SELECT COALESCE(SUM(pnl_pct), 0) FROM trades").Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum lifetime pnl pct: %w", err)
	}
	return sum, nil
}

// RecentPnLs returns the dollar P&L of the most recent trades, newest
// first.
func (r *Repository) RecentPnLs(limit int) ([]decimal.Decimal, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT pnl FROM trades ORDER BY exit_time DESC, id DESC LIMIT ?"

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent pnls: %w", err)
	}
	defer rows.Close()

	var pnls []decimal.Decimal
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan pnl: %w", err)
		}
		pnl, err := decimal.NewFromString(raw)
		if err != nil {
			r.log.Warn().Str("pnl", raw).Msg("Malformed pnl in trades table, skipping row")
			continue
		}
		pnls = append(pnls, pnl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pnl rows: %w", err)
	}
	return pnls, nil
}

// Count returns the number of finished trades in the ledger.
func (r *Repository) Count() (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM trades").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return count, nil
}

func (r *Repository) existsByTag(tag string) (bool, error) {
	var exists int
	err := r.db.QueryRow("SELECT 1 FROM trades WHERE client_tag = ? LIMIT 1", tag).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repository) scanTrades(rows *sql.Rows) ([]domain.TradeRecord, error) {
	var records []domain.TradeRecord
	for rows.Next() {
		rec, err := scanTradeFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trades: %w", err)
	}
	return records, nil
}

func scanTradeFromRows(rows *sql.Rows) (domain.TradeRecord, error) {
	var (
		rec        domain.TradeRecord
		entryPrice string
		exitPrice  string
		quantity   string
		pnl        string
		pnlPct     float64
		entryTime  int64
		exitTime   int64
		exitReason string
		simulated  int
	)
	err := rows.Scan(&rec.ID, &rec.Symbol, &entryPrice, &exitPrice, &quantity, &pnl, &pnlPct,
		&entryTime, &exitTime, &rec.HoldMinutes, &exitReason, &rec.Strategy, &simulated, &rec.ClientTag)
	if err != nil {
		return domain.TradeRecord{}, err
	}

	if rec.EntryPrice, err = decimal.NewFromString(entryPrice); err != nil {
		return domain.TradeRecord{}, fmt.Errorf("malformed entry_price %q: %w", entryPrice, err)
	}
	if rec.ExitPrice, err = decimal.NewFromString(exitPrice); err != nil {
		return domain.TradeRecord{}, fmt.Errorf("malformed exit_price %q: %w", exitPrice, err)
	}
	if rec.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return domain.TradeRecord{}, fmt.Errorf("malformed quantity %q: %w", quantity, err)
	}
	if rec.PnL, err = decimal.NewFromString(pnl); err != nil {
		return domain.TradeRecord{}, fmt.Errorf("malformed pnl %q: %w", pnl, err)
	}
	rec.PnLPct = decimal.NewFromFloat(pnlPct)
	rec.EntryTime = time.Unix(entryTime, 0).UTC()
	rec.ExitTime = time.Unix(exitTime, 0).UTC()
	rec.ExitReason = domain.ExitReason(exitReason)
	rec.Simulated = simulated != 0
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
