package positions

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tkomnos/stealthtrader/internal/domain"
)

// snapshotState is the msgpack document persisted across restarts.
// Decimals travel as strings so precision survives the codec.
type snapshotState struct {
	SavedAt   time.Time          `msgpack:"saved_at"`
	Positions []snapshotPosition `msgpack:"positions"`
}

type snapshotPosition struct {
	Symbol          string    `msgpack:"symbol"`
	EntryPrice      string    `msgpack:"entry_price"`
	Quantity        string    `msgpack:"quantity"`
	EntryTime       time.Time `msgpack:"entry_time"`
	StopPrice       string    `msgpack:"stop_price"`
	TakeProfitPrice string    `msgpack:"take_profit_price"`
	HighWater       string    `msgpack:"high_water"`
	State           string    `msgpack:"state"`
	StopKind        string    `msgpack:"stop_kind"`
	Simulated       bool      `msgpack:"simulated"`
	ClientTag       string    `msgpack:"client_tag"`
	OrderID         string    `msgpack:"order_id"`
	LastKnownPrice  string    `msgpack:"last_known_price"`
}

// SaveSnapshot writes the open book to path so positions survive a
// restart. An empty book removes any leftover snapshot instead.
func (m *Monitor) SaveSnapshot(path string) error {
	open := m.OpenPositions()
	if len(open) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale position snapshot: %w", err)
		}
		return nil
	}

	state := snapshotState{SavedAt: m.clock.Now().UTC()}
	for i := range open {
		state.Positions = append(state.Positions, toSnapshot(&open[i]))
	}

	b, err := msgpack.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode position snapshot: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("failed to write position snapshot: %w", err)
	}
	m.log.Info().Int("positions", len(open)).Str("path", path).Msg("Position snapshot saved")
	return nil
}

// RestoreSnapshot re-tracks positions from a previous run. The file is
// consumed on success so a crash loop cannot resurrect trades that
// closed in the meantime. Miss counters start fresh.
func (m *Monitor) RestoreSnapshot(path string) (int, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read position snapshot: %w", err)
	}

	var state snapshotState
	if err := msgpack.Unmarshal(b, &state); err != nil {
		return 0, fmt.Errorf("failed to decode position snapshot: %w", err)
	}

	restored := 0
	for i := range state.Positions {
		p, err := fromSnapshot(state.Positions[i])
		if err != nil {
			m.log.Warn().Err(err).Str("symbol", state.Positions[i].Symbol).Msg("Skipping unreadable snapshot position")
			continue
		}
		if err := m.Track(p); err != nil {
			m.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("Skipping snapshot position already tracked")
			continue
		}
		restored++
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.log.Warn().Err(err).Str("path", path).Msg("Could not remove consumed snapshot")
	}
	if restored > 0 {
		m.log.Info().Int("positions", restored).Time("saved_at", state.SavedAt).Msg("Position snapshot restored")
	}
	return restored, nil
}

func toSnapshot(p *domain.Position) snapshotPosition {
	return snapshotPosition{
		Symbol:          p.Symbol,
		EntryPrice:      p.EntryPrice.String(),
		Quantity:        p.Quantity.String(),
		EntryTime:       p.EntryTime,
		StopPrice:       p.StopPrice.String(),
		TakeProfitPrice: p.TakeProfitPrice.String(),
		HighWater:       p.HighWater.String(),
		State:           string(p.State),
		StopKind:        string(p.StopKind),
		Simulated:       p.Simulated,
		ClientTag:       p.ClientTag,
		OrderID:         p.OrderID,
		LastKnownPrice:  p.LastKnownPrice.String(),
	}
}

func fromSnapshot(s snapshotPosition) (*domain.Position, error) {
	var perr error
	num := func(field, v string) decimal.Decimal {
		if perr != nil {
			return decimal.Zero
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			perr = fmt.Errorf("bad %s %q: %w", field, v, err)
		}
		return d
	}

	p := &domain.Position{
		Symbol:          s.Symbol,
		EntryPrice:      num("entry price", s.EntryPrice),
		Quantity:        num("quantity", s.Quantity),
		EntryTime:       s.EntryTime,
		StopPrice:       num("stop price", s.StopPrice),
		TakeProfitPrice: num("take profit", s.TakeProfitPrice),
		HighWater:       num("high water", s.HighWater),
		State:           domain.PositionState(s.State),
		StopKind:        domain.StopKind(s.StopKind),
		Simulated:       s.Simulated,
		ClientTag:       s.ClientTag,
		OrderID:         s.OrderID,
		LastKnownPrice:  num("last known price", s.LastKnownPrice),
	}
	if perr != nil {
		return nil, perr
	}
	return p, nil
}
