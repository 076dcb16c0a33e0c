// Package marketdata serves quotes to the rest of the engine while
// spending as few broker API calls as possible. Every read goes through
// a freshness-checked cache, misses are fetched in batches, and all
// fetching is metered by the daily budget.
package marketdata

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tkomnos/stealthtrader/internal/domain"
)

// QuoteFetcher is the slice of the broker client quote reads need.
type QuoteFetcher interface {
	Quotes(ctx context.Context, symbols []string) ([]domain.Quote, error)
}

// AccountFetcher is the slice of the broker client account reads need.
type AccountFetcher interface {
	Balance(ctx context.Context) (*domain.AccountSnapshot, error)
	Positions(ctx context.Context) ([]domain.BrokerPosition, error)
}

// PhaseSource supplies the session phase, which decides how long a
// cached quote stays fresh, and the exchange timezone for rollups.
type PhaseSource interface {
	CurrentPhase() domain.MarketPhase
	Location() *time.Location
}

// Options tunes the service. Zero values fall back to safe defaults.
type Options struct {
	BatchSize  int           // symbols per broker call, capped at 25
	QuoteTTL   time.Duration // freshness window during the regular session
	IdleTTL    time.Duration // freshness window outside it
	RetryDelay time.Duration // pause before the single transient retry
}

// Service is the quote and account access layer.
type Service struct {
	fetcher  QuoteFetcher
	accounts AccountFetcher
	phases   PhaseSource
	budget   *Budget
	history  *History
	volumes  *VolumeStore
	quotes   *cache.Cache
	clock    domain.Clock
	log      zerolog.Logger

	batchSize  int
	quoteTTL   time.Duration
	idleTTL    time.Duration
	retryDelay time.Duration

	acctMu    sync.Mutex
	snapshot  *domain.AccountSnapshot
	snapAt    time.Time
	brokerPos []domain.BrokerPosition
	posAt     time.Time
}

// NewService wires the data access layer.
func NewService(fetcher QuoteFetcher, accounts AccountFetcher, phases PhaseSource,
	budget *Budget, history *History, volumes *VolumeStore, clock domain.Clock, opts Options) *Service {

	batchSize := opts.BatchSize
	if batchSize <= 0 || batchSize > 25 {
		batchSize = 25
	}
	quoteTTL := opts.QuoteTTL
	if quoteTTL <= 0 {
		quoteTTL = 90 * time.Second
	}
	idleTTL := opts.IdleTTL
	if idleTTL <= 0 {
		idleTTL = 15 * time.Minute
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}

	// Entries outlive their freshness window so a failed refresh can
	// still serve a stale-marked quote.
	retention := 4 * idleTTL

	return &Service{
		fetcher:    fetcher,
		accounts:   accounts,
		phases:     phases,
		budget:     budget,
		history:    history,
		volumes:    volumes,
		quotes:     cache.New(retention, 10*time.Minute),
		clock:      clock,
		log:        log.With().Str("module", "marketdata").Logger(),
		batchSize:  batchSize,
		quoteTTL:   quoteTTL,
		idleTTL:    idleTTL,
		retryDelay: retryDelay,
	}
}

// History exposes the intraday observation ring.
func (s *Service) History() *History {
	return s.history
}

// Closes returns the recorded intraday closes for a symbol, oldest first.
func (s *Service) Closes(symbol string) []float64 {
	return s.history.Closes(symbol)
}

// FiveMinuteVolume returns the volume traded over the trailing five
// minutes, when the intraday ring reaches back that far.
func (s *Service) FiveMinuteVolume(symbol string) (int64, bool) {
	return s.history.VolumeOver(symbol, 5*time.Minute)
}

// BudgetStats exposes the budget snapshot for the status endpoint.
func (s *Service) BudgetStats() BudgetStats {
	return s.budget.Stats()
}

// AvailableCallsToday returns how many broker calls remain in the
// current budget cycle.
func (s *Service) AvailableCallsToday() int {
	return s.budget.Available()
}

// CachedCount returns how many quotes the cache currently holds.
func (s *Service) CachedCount() int {
	return s.quotes.ItemCount()
}

// GetQuote returns one symbol's quote, from cache when fresh.
func (s *Service) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	result, err := s.GetQuotes(ctx, []string{symbol})
	if err != nil {
		return nil, err
	}
	quote, ok := result[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("no quote for %s: %w", symbol, domain.ErrDataUnavailable)
	}
	return &quote, nil
}

// GetQuotes returns quotes for the given symbols. Fresh cache entries
// are served directly; the rest are fetched in batches. When fetching
// fails or the budget runs out, older cache entries are served with the
// Stale flag set so callers can decide how much they trust them. The
// result may be partial; an error is returned only when nothing could
// be served at all.
func (s *Service) GetQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	return s.collect(ctx, symbols, false)
}

// RefreshQuotes bypasses the freshness check so every requested symbol
// is fetched anew. The working-set rebuild uses it to score on current
// data. Stale fallback still applies when a fetch fails.
func (s *Service) RefreshQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	return s.collect(ctx, symbols, true)
}

func (s *Service) collect(ctx context.Context, symbols []string, bypass bool) (map[string]domain.Quote, error) {
	unique := normalizeSymbols(symbols)
	if len(unique) == 0 {
		return map[string]domain.Quote{}, nil
	}

	ttl := s.freshnessWindow()
	now := s.clock.Now()
	result := make(map[string]domain.Quote, len(unique))
	var misses []string

	for _, symbol := range unique {
		if quote, ok := s.cachedQuote(symbol); ok && !bypass && now.Sub(quote.CapturedAt) <= ttl {
			result[symbol] = quote
			continue
		}
		misses = append(misses, symbol)
	}
	if len(misses) == 0 {
		return result, nil
	}

	var fetchErr error
	for _, chunk := range chunkSymbols(misses, s.batchSize) {
		if err := s.budget.Take(); err != nil {
			fetchErr = err
			break
		}

		quotes, err := s.fetchChunk(ctx, chunk)
		if err != nil {
			s.log.Warn().Err(err).Int("symbols", len(chunk)).Msg("Quote fetch failed")
			fetchErr = err
			continue
		}

		for _, quote := range quotes {
			s.quotes.Set(quote.Symbol, quote, cache.DefaultExpiration)
			s.history.Record(quote)
			result[quote.Symbol] = quote
		}
	}

	// Serve what we still have for anything the fetch did not cover.
	for _, symbol := range misses {
		if _, ok := result[symbol]; ok {
			continue
		}
		if quote, ok := s.cachedQuote(symbol); ok {
			quote.Stale = true
			result[symbol] = quote
		}
	}

	if len(result) == 0 && fetchErr != nil {
		return nil, fetchErr
	}
	return result, nil
}

// fetchChunk performs one broker call with a single delayed retry on
// transient failures. The retry consumes budget like any other call.
func (s *Service) fetchChunk(ctx context.Context, symbols []string) ([]domain.Quote, error) {
	quotes, err := s.fetcher.Quotes(ctx, symbols)
	if err == nil {
		return quotes, nil
	}
	if !domain.IsTransientBrokerError(err) {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.retryDelay):
	}

	if budgetErr := s.budget.Take(); budgetErr != nil {
		return nil, err
	}
	return s.fetcher.Quotes(ctx, symbols)
}

// AverageVolumeFor returns the 20-day average volume, preferring the
// broker's figure and falling back to the local rollup table.
func (s *Service) AverageVolumeFor(quote domain.Quote) int64 {
	if quote.AverageVolume > 0 {
		return quote.AverageVolume
	}
	avg, err := s.volumes.AverageVolume(quote.Symbol, 20)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", quote.Symbol).Msg("Failed to read average volume")
		return 0
	}
	return avg
}

// RollupDailyVolumes writes each tracked symbol's final session volume
// to the daily table and resets the intraday ring for the next day.
func (s *Service) RollupDailyVolumes() error {
	loc := s.phases.Location()
	saved := 0
	for _, symbol := range s.history.Symbols() {
		obs, ok := s.history.Last(symbol)
		if !ok || obs.Volume <= 0 {
			continue
		}
		date := obs.At.In(loc).Format("2006-01-02")
		if err := s.volumes.Save(symbol, date, obs.Volume); err != nil {
			s.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to save daily volume")
			continue
		}
		saved++
	}

	s.history.Reset()

	cutoff := s.clock.Now().In(loc).AddDate(0, 0, -60).Format("2006-01-02")
	if err := s.volumes.Prune(cutoff); err != nil {
		s.log.Warn().Err(err).Msg("Failed to prune daily volumes")
	}

	s.log.Info().Int("symbols", saved).Msg("Daily volume rollup complete")
	return nil
}

func (s *Service) freshnessWindow() time.Duration {
	if s.phases.CurrentPhase() == domain.PhaseRegular {
		return s.quoteTTL
	}
	return s.idleTTL
}

func (s *Service) cachedQuote(symbol string) (domain.Quote, bool) {
	raw, ok := s.quotes.Get(symbol)
	if !ok {
		return domain.Quote{}, false
	}
	quote, ok := raw.(domain.Quote)
	return quote, ok
}

func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		upper := strings.ToUpper(strings.TrimSpace(symbol))
		if upper == "" || seen[upper] {
			continue
		}
		seen[upper] = true
		out = append(out, upper)
	}
	return out
}

func chunkSymbols(symbols []string, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(symbols); start += size {
		end := start + size
		if end > len(symbols) {
			end = len(symbols)
		}
		chunks = append(chunks, symbols[start:end])
	}
	return chunks
}
