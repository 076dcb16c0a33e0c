package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tkomnos/stealthtrader/internal/domain"
)

const (
	defaultRingSize = 1000
	journalFileName = "trade_journal.ndjson"

	// winStreakLookback bounds the walk for the consecutive-wins hook.
	winStreakLookback = 50
)

// line is one ndjson journal entry. Opens carry the position as it was
// registered, closes carry the full close-out record.
type line struct {
	Event    string              `json:"event"`
	At       time.Time           `json:"at"`
	Position *domain.Position    `json:"position,omitempty"`
	Trade    *domain.TradeRecord `json:"trade,omitempty"`
}

// Journal is the trade ledger facade: sqlite for durability, ndjson for
// the operator, a ring for recent-history reads. It also answers the
// realized-P&L questions the risk manager asks.
type Journal struct {
	repo  *Repository
	path  string
	clock domain.Clock
	loc   *time.Location
	size  int
	log   zerolog.Logger

	mu   sync.Mutex
	ring []domain.TradeRecord

	fileMu sync.Mutex
}

// NewJournal creates the journal. ringSize <= 0 selects the default of
// 1000. The data directory is created if missing.
func NewJournal(repo *Repository, dataDir string, ringSize int, clock domain.Clock) (*Journal, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("failed to load eastern timezone: %w", err)
	}
	if ringSize <= 0 {
		ringSize = defaultRingSize
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Journal{
		repo:  repo,
		path:  filepath.Join(dataDir, journalFileName),
		clock: clock,
		loc:   loc,
		size:  ringSize,
		log:   log.With().Str("module", "journal").Logger(),
	}, nil
}

// Load warms the ring from the ledger so recent history survives a
// restart.
func (j *Journal) Load() error {
	records, err := j.repo.History(j.size)
	if err != nil {
		return fmt.Errorf("failed to warm trade ring: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.ring = j.ring[:0]
	// History is newest first, the ring is kept oldest first.
	for i := len(records) - 1; i >= 0; i-- {
		j.ring = append(j.ring, records[i])
	}
	return nil
}

// RecordOpen appends an open event to the ndjson journal. Best-effort,
// a write failure never blocks the trade.
func (j *Journal) RecordOpen(p *domain.Position) {
	j.writeLine(line{Event: "open", At: j.clock.Now().UTC(), Position: p})
}

// Append records a finished trade in the ledger, the ndjson journal and
// the ring. The ledger insert is the authoritative one; its failure is
// returned after the journal line has been written so the trade is not
// lost entirely.
func (j *Journal) Append(rec domain.TradeRecord) error {
	j.writeLine(line{Event: "close", At: j.clock.Now().UTC(), Trade: &rec})

	j.mu.Lock()
	j.ring = append(j.ring, rec)
	if len(j.ring) > j.size {
		j.ring = j.ring[len(j.ring)-j.size:]
	}
	j.mu.Unlock()

	if err := j.repo.Insert(rec); err != nil {
		return fmt.Errorf("failed to record trade in ledger: %w", err)
	}
	return nil
}

// Recent returns up to limit finished trades from the ring, newest
// first.
func (j *Journal) Recent(limit int) []domain.TradeRecord {
	j.mu.Lock()
	defer j.mu.Unlock()

	n := len(j.ring)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.TradeRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, j.ring[i])
	}
	return out
}

// History reads from the ledger for limits beyond the ring.
func (j *Journal) History(limit int) ([]domain.TradeRecord, error) {
	return j.repo.History(limit)
}

// BySymbol reads one symbol's closed trades from the ledger.
func (j *Journal) BySymbol(symbol string, limit int) ([]domain.TradeRecord, error) {
	return j.repo.BySymbol(symbol, limit)
}

// RealizedToday sums realized P&L for the current Eastern day.
func (j *Journal) RealizedToday() decimal.Decimal {
	now := j.clock.Now().In(j.loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, j.loc)

	total, err := j.repo.RealizedBetween(start, start.Add(24*time.Hour))
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to read today's realized pnl, treating as flat")
		return decimal.Zero
	}
	return total
}

// LifetimeRealizedPct is the cumulative per-trade return percentage,
// the input to the profit-scaling tier.
func (j *Journal) LifetimeRealizedPct() float64 {
	sum, err := j.repo.LifetimePnLPctSum()
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to read lifetime realized pct")
		return 0
	}
	return sum
}

// ConsecutiveWins counts profitable trades from the most recent one
// backwards until the first loss.
func (j *Journal) ConsecutiveWins() int {
	pnls, err := j.repo.RecentPnLs(winStreakLookback)
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to read recent pnls")
		return 0
	}
	wins := 0
	for _, pnl := range pnls {
		if !pnl.IsPositive() {
			break
		}
		wins++
	}
	return wins
}

func (j *Journal) writeLine(entry line) {
	payload, err := json.Marshal(entry)
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to marshal journal line")
		return
	}

	j.fileMu.Lock()
	defer j.fileMu.Unlock()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		j.log.Warn().Err(err).Str("path", j.path).Msg("Failed to open trade journal file")
		return
	}
	defer f.Close()

	if _, err := f.Write(append(payload, '\n')); err != nil {
		j.log.Warn().Err(err).Str("path", j.path).Msg("Failed to append trade journal line")
	}
}
