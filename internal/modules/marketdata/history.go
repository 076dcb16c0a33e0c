package marketdata

import (
	"sync"
	"time"

	"github.com/tkomnos/stealthtrader/internal/domain"
)

// Observation is one intraday sample of a symbol.
type Observation struct {
	At     time.Time
	Price  float64
	Volume int64 // cumulative session volume
}

// History keeps a bounded ring of intraday observations per symbol.
// Strategies read closes out of it for indicators, and the volume
// reversal check reads cumulative volume deltas.
type History struct {
	mu       sync.RWMutex
	capacity int
	series   map[string][]Observation
}

// NewHistory creates a history ring. A capacity of 240 covers a full
// session sampled every two minutes with headroom.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 240
	}
	return &History{
		capacity: capacity,
		series:   make(map[string][]Observation),
	}
}

// Record appends a fresh quote. Quotes without a last trade or repeated
// captures are ignored.
func (h *History) Record(q domain.Quote) {
	if !q.HasLast() {
		return
	}
	price, _ := q.Last.Float64()

	h.mu.Lock()
	defer h.mu.Unlock()

	series := h.series[q.Symbol]
	if n := len(series); n > 0 && !q.CapturedAt.After(series[n-1].At) {
		return
	}

	series = append(series, Observation{At: q.CapturedAt, Price: price, Volume: q.Volume})
	if len(series) > h.capacity {
		series = series[len(series)-h.capacity:]
	}
	h.series[q.Symbol] = series
}

// Closes returns the close series for a symbol, oldest first.
func (h *History) Closes(symbol string) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	series := h.series[symbol]
	closes := make([]float64, len(series))
	for i, obs := range series {
		closes[i] = obs.Price
	}
	return closes
}

// Observations returns a copy of a symbol's samples, oldest first.
func (h *History) Observations(symbol string) []Observation {
	h.mu.RLock()
	defer h.mu.RUnlock()

	series := h.series[symbol]
	out := make([]Observation, len(series))
	copy(out, series)
	return out
}

// Last returns the most recent observation for a symbol.
func (h *History) Last(symbol string) (Observation, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	series := h.series[symbol]
	if len(series) == 0 {
		return Observation{}, false
	}
	return series[len(series)-1], true
}

// Len returns how many samples a symbol has accumulated.
func (h *History) Len(symbol string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.series[symbol])
}

// VolumeOver returns the traded volume across the trailing window ending
// at the newest observation. It reports false until the series reaches
// back far enough to cover the window.
func (h *History) VolumeOver(symbol string, window time.Duration) (int64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	series := h.series[symbol]
	if len(series) < 2 {
		return 0, false
	}

	newest := series[len(series)-1]
	cutoff := newest.At.Add(-window)
	for i := len(series) - 2; i >= 0; i-- {
		if !series[i].At.After(cutoff) {
			delta := newest.Volume - series[i].Volume
			if delta < 0 {
				// Cumulative volume reset mid-series, a new session began.
				return 0, false
			}
			return delta, true
		}
	}
	return 0, false
}

// Symbols lists every symbol with at least one sample.
func (h *History) Symbols() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	symbols := make([]string, 0, len(h.series))
	for symbol := range h.series {
		symbols = append(symbols, symbol)
	}
	return symbols
}

// Reset drops all series at the day boundary.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.series = make(map[string][]Observation)
}
