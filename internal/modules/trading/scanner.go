package trading

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tkomnos/stealthtrader/internal/domain"
	"github.com/tkomnos/stealthtrader/internal/modules/risk"
)

// WorkingSetSource supplies the ranked symbols to scan.
type WorkingSetSource interface {
	WorkingSet() domain.WorkingSet
}

// MarketData supplies batched quotes and the account snapshot for a pass.
type MarketData interface {
	GetQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error)
	AccountSnapshot(ctx context.Context) (*domain.AccountSnapshot, error)
}

// SignalSource turns one round of quotes into buy signals.
type SignalSource interface {
	Evaluate(symbols []string, quotes map[string]domain.Quote) []domain.Signal
}

// Approver gates and sizes a signal.
type Approver interface {
	Evaluate(signal domain.Signal, snapshot *domain.AccountSnapshot) risk.Decision
}

// OpenBook reports which symbols already have an open position.
type OpenBook interface {
	OpenSymbols() []string
}

// Opener is the executor surface the scanner drives.
type Opener interface {
	Open(ctx context.Context, signal domain.Signal, decision risk.Decision, quote domain.Quote) (*domain.Position, error)
	InCooldown(symbol string) bool
}

// Scanner runs one signal pass: candidates from the working set, one
// batched quote call, signal evaluation, risk gating, then entries.
type Scanner struct {
	workingSet WorkingSetSource
	data       MarketData
	signals    SignalSource
	approver   Approver
	book       OpenBook
	opener     Opener
	log        zerolog.Logger
}

// NewScanner creates the signal pass orchestrator.
func NewScanner(workingSet WorkingSetSource, data MarketData, signals SignalSource,
	approver Approver, book OpenBook, opener Opener) *Scanner {
	return &Scanner{
		workingSet: workingSet,
		data:       data,
		signals:    signals,
		approver:   approver,
		book:       book,
		opener:     opener,
		log:        log.With().Str("module", "trading").Str("component", "scanner").Logger(),
	}
}

// Run executes one pass. Symbols already held or cooling down after a
// broker rejection never reach the signal generator. The account
// snapshot is fetched once per pass and shared by every risk
// evaluation, so one pass cannot burn the account-call budget.
func (s *Scanner) Run(ctx context.Context) error {
	ws := s.workingSet.WorkingSet()
	candidates := s.filterCandidates(ws.Members())
	if len(candidates) == 0 {
		s.log.Debug().Msg("No candidates to scan")
		return nil
	}

	quotes, err := s.data.GetQuotes(ctx, candidates)
	if err != nil {
		return fmt.Errorf("failed to fetch quotes for signal pass: %w", err)
	}

	sigs := s.signals.Evaluate(candidates, quotes)
	if len(sigs) == 0 {
		s.log.Debug().Int("candidates", len(candidates)).Msg("Signal pass produced no signals")
		return nil
	}

	snapshot, err := s.data.AccountSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch account snapshot for signal pass: %w", err)
	}

	opened := 0
	for _, sig := range sigs {
		decision := s.approver.Evaluate(sig, snapshot)
		if !decision.Approved {
			continue
		}
		if _, err := s.opener.Open(ctx, sig, decision, quotes[sig.Symbol]); err != nil {
			s.log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("Failed to open position")
			continue
		}
		opened++
	}

	s.log.Info().
		Int("candidates", len(candidates)).
		Int("signals", len(sigs)).
		Int("opened", opened).
		Msg("Signal pass complete")
	return nil
}

func (s *Scanner) filterCandidates(members []string) []string {
	held := make(map[string]struct{})
	for _, sym := range s.book.OpenSymbols() {
		held[sym] = struct{}{}
	}

	out := make([]string, 0, len(members))
	for _, sym := range members {
		if _, ok := held[sym]; ok {
			continue
		}
		if s.opener.InCooldown(sym) {
			continue
		}
		out = append(out, sym)
	}
	return out
}
