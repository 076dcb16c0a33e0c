package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkomnos/stealthtrader/internal/database"
	"github.com/tkomnos/stealthtrader/internal/domain"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewRepository(db)
	require.NoError(t, repo.InitSchema())
	return repo
}

func newTestJournal(t *testing.T) (*Journal, *Repository, string) {
	t.Helper()

	repo := newTestRepo(t)
	dataDir := filepath.Join(t.TempDir(), "data")
	clock := &domain.FixedClock{T: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)}

	j, err := NewJournal(repo, dataDir, 3, clock)
	require.NoError(t, err)
	return j, repo, filepath.Join(dataDir, journalFileName)
}

func closedTrade(symbol string, pnl, pnlPct float64, exitTime time.Time, tag string) domain.TradeRecord {
	return domain.TradeRecord{
		Symbol:      symbol,
		EntryPrice:  decimal.NewFromInt(100),
		ExitPrice:   decimal.NewFromInt(100).Add(decimal.NewFromFloat(pnl / 10)),
		Quantity:    decimal.NewFromInt(10),
		PnL:         decimal.NewFromFloat(pnl),
		PnLPct:      decimal.NewFromFloat(pnlPct),
		EntryTime:   exitTime.Add(-30 * time.Minute),
		ExitTime:    exitTime,
		HoldMinutes: 30,
		ExitReason:  domain.ExitTakeProfit,
		Strategy:    "trend_following",
		Simulated:   true,
		ClientTag:   tag,
	}
}

func TestAppendPersistsEverywhere(t *testing.T) {
	j, repo, path := newTestJournal(t)
	exit := time.Date(2026, 3, 10, 13, 30, 0, 0, time.UTC)

	require.NoError(t, j.Append(closedTrade("AAPL", 42.50, 1.7, exit, "tag-aapl-1")))

	history, err := repo.History(10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "AAPL", history[0].Symbol)
	assert.Equal(t, "42.5", history[0].PnL.String())
	assert.Equal(t, domain.ExitTakeProfit, history[0].ExitReason)
	assert.True(t, history[0].Simulated)

	recent := j.Recent(10)
	require.Len(t, recent, 1)
	assert.Equal(t, "AAPL", recent[0].Symbol)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"event":"close"`)
	assert.Contains(t, string(raw), "AAPL")
}

func TestRecordOpenWritesJournalLineOnly(t *testing.T) {
	j, repo, path := newTestJournal(t)

	j.RecordOpen(&domain.Position{
		Symbol:     "MSFT",
		EntryPrice: decimal.NewFromFloat(401.25),
		Quantity:   decimal.NewFromInt(5),
		EntryTime:  time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
		Simulated:  true,
		ClientTag:  "tag-msft-1",
	})

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Zero(t, count)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"event":"open"`)
	assert.Contains(t, string(raw), "MSFT")
}

func TestRingEvictsOldest(t *testing.T) {
	j, _, _ := newTestJournal(t)
	base := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)

	for i, symbol := range []string{"AAA", "BBB", "CCC", "DDD"} {
		exit := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, j.Append(closedTrade(symbol, 10, 1, exit, symbol+"-tag")))
	}

	recent := j.Recent(10)
	require.Len(t, recent, 3)
	assert.Equal(t, "DDD", recent[0].Symbol)
	assert.Equal(t, "CCC", recent[1].Symbol)
	assert.Equal(t, "BBB", recent[2].Symbol)
}

func TestLoadWarmsRingFromLedger(t *testing.T) {
	j, repo, _ := newTestJournal(t)
	base := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Insert(closedTrade("AAPL", 10, 1, base, "t1")))
	require.NoError(t, repo.Insert(closedTrade("MSFT", -5, -0.5, base.Add(time.Minute), "t2")))

	require.NoError(t, j.Load())

	recent := j.Recent(10)
	require.Len(t, recent, 2)
	assert.Equal(t, "MSFT", recent[0].Symbol)
	assert.Equal(t, "AAPL", recent[1].Symbol)
}

func TestInsertDeduplicatesByClientTag(t *testing.T) {
	repo := newTestRepo(t)
	exit := time.Date(2026, 3, 10, 13, 30, 0, 0, time.UTC)

	require.NoError(t, repo.Insert(closedTrade("AAPL", 42.50, 1.7, exit, "same-tag")))
	require.NoError(t, repo.Insert(closedTrade("AAPL", 42.50, 1.7, exit, "same-tag")))

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRealizedTodayUsesEasternDay(t *testing.T) {
	j, _, _ := newTestJournal(t)

	// 09:00 ET today.
	require.NoError(t, j.Append(closedTrade("AAPL", -550, -5.5, time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC), "today")))
	// Yesterday afternoon ET.
	require.NoError(t, j.Append(closedTrade("MSFT", 100, 1.0, time.Date(2026, 3, 9, 20, 0, 0, 0, time.UTC), "yesterday")))
	// 23:00 ET yesterday even though the UTC date already rolled over.
	require.NoError(t, j.Append(closedTrade("NVDA", 25, 0.3, time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC), "late-night")))

	assert.Equal(t, "-550", j.RealizedToday().String())
}

func TestLifetimeRealizedPctSumsLedger(t *testing.T) {
	j, _, _ := newTestJournal(t)
	base := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)

	require.NoError(t, j.Append(closedTrade("AAPL", 300, 30, base, "w1")))
	require.NoError(t, j.Append(closedTrade("MSFT", -50, -5, base.Add(time.Minute), "l1")))

	assert.InDelta(t, 25.0, j.LifetimeRealizedPct(), 0.0001)
}

func TestConsecutiveWinsStopsAtFirstLoss(t *testing.T) {
	j, _, _ := newTestJournal(t)
	base := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)

	require.NoError(t, j.Append(closedTrade("AAA", 8, 0.8, base, "c1")))
	require.NoError(t, j.Append(closedTrade("BBB", -3, -0.3, base.Add(time.Minute), "c2")))
	require.NoError(t, j.Append(closedTrade("CCC", 5, 0.5, base.Add(2*time.Minute), "c3")))
	require.NoError(t, j.Append(closedTrade("DDD", 10, 1.0, base.Add(3*time.Minute), "c4")))

	assert.Equal(t, 2, j.ConsecutiveWins())
}

func TestHistoryBySymbol(t *testing.T) {
	repo := newTestRepo(t)
	base := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Insert(closedTrade("AAPL", 10, 1, base, "s1")))
	require.NoError(t, repo.Insert(closedTrade("MSFT", 20, 2, base.Add(time.Minute), "s2")))
	require.NoError(t, repo.Insert(closedTrade("AAPL", 30, 3, base.Add(2*time.Minute), "s3")))

	records, err := repo.BySymbol("aapl", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "30", records[0].PnL.String())
	assert.Equal(t, "10", records[1].PnL.String())
}
