package marketdata

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tkomnos/stealthtrader/internal/domain"
)

// accountTTL is how long balance and broker position reads stay cached.
const accountTTL = 60 * time.Second

// AccountSnapshot returns the broker account balances, cached for 60
// seconds. On a failed refresh the previous snapshot is served if one
// exists.
func (s *Service) AccountSnapshot(ctx context.Context) (*domain.AccountSnapshot, error) {
	s.acctMu.Lock()
	defer s.acctMu.Unlock()

	now := s.clock.Now()
	if s.snapshot != nil && now.Sub(s.snapAt) < accountTTL {
		return s.snapshot, nil
	}

	if err := s.budget.Take(); err != nil {
		if s.snapshot != nil {
			return s.snapshot, nil
		}
		return nil, err
	}

	snap, err := s.accounts.Balance(ctx)
	if err != nil {
		if s.snapshot != nil {
			s.log.Warn().Err(err).Msg("Balance refresh failed, serving cached snapshot")
			return s.snapshot, nil
		}
		return nil, err
	}

	s.snapshot = snap
	s.snapAt = now
	return snap, nil
}

// PositionsAtBroker returns the broker's view of the account positions,
// cached for 60 seconds. The engine never modifies positions it did not
// open; this read exists to value managed exposure.
func (s *Service) PositionsAtBroker(ctx context.Context) ([]domain.BrokerPosition, error) {
	s.acctMu.Lock()
	defer s.acctMu.Unlock()

	now := s.clock.Now()
	if s.brokerPos != nil && now.Sub(s.posAt) < accountTTL {
		return s.brokerPos, nil
	}

	if err := s.budget.Take(); err != nil {
		if s.brokerPos != nil {
			return s.brokerPos, nil
		}
		return nil, err
	}

	positions, err := s.accounts.Positions(ctx)
	if err != nil {
		if s.brokerPos != nil {
			s.log.Warn().Err(err).Msg("Position refresh failed, serving cached list")
			return s.brokerPos, nil
		}
		return nil, err
	}
	if positions == nil {
		positions = []domain.BrokerPosition{}
	}

	s.brokerPos = positions
	s.posAt = now
	return positions, nil
}

// ManagedPositionValue sums the market value of broker positions whose
// symbol is in the engine's open set.
func (s *Service) ManagedPositionValue(ctx context.Context, openSymbols []string) (decimal.Decimal, error) {
	total := decimal.Zero
	if len(openSymbols) == 0 {
		return total, nil
	}

	positions, err := s.PositionsAtBroker(ctx)
	if err != nil {
		return total, err
	}

	managed := make(map[string]bool, len(openSymbols))
	for _, symbol := range openSymbols {
		managed[symbol] = true
	}
	for _, pos := range positions {
		if managed[pos.Symbol] {
			total = total.Add(pos.MarketValue)
		}
	}
	return total, nil
}
