// Package universe manages which symbols the engine looks at: the broad
// watchlist persisted on disk and the small ranked working set that
// actually gets scanned.
package universe

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tkomnos/stealthtrader/internal/domain"
)

// Watchlist is the candidate symbol list, persisted as a single-column
// CSV so it survives restarts and can be hand-edited.
type Watchlist struct {
	path       string
	maxSymbols int
	log        zerolog.Logger

	mu      sync.RWMutex
	symbols []string
}

// NewWatchlist creates a watchlist backed by the given CSV path.
func NewWatchlist(path string, maxSymbols int) *Watchlist {
	if maxSymbols <= 0 {
		maxSymbols = 200
	}
	return &Watchlist{
		path:       path,
		maxSymbols: maxSymbols,
		log:        log.With().Str("module", "universe").Str("component", "watchlist").Logger(),
	}
}

// Load reads the CSV from disk. A missing file is not an error, the
// watchlist just starts empty until the builder runs.
func (w *Watchlist) Load() error {
	file, err := os.Open(w.path)
	if os.IsNotExist(err) {
		w.log.Info().Str("path", w.path).Msg("No watchlist file yet")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open watchlist: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to parse watchlist csv: %w", err)
	}

	var raw []string
	for _, record := range records {
		if len(record) == 0 {
			continue
		}
		raw = append(raw, record[0])
	}

	symbols := sanitizeSymbols(raw, w.maxSymbols)

	w.mu.Lock()
	w.symbols = symbols
	w.mu.Unlock()

	w.log.Info().Int("symbols", len(symbols)).Str("path", w.path).Msg("Watchlist loaded")
	return nil
}

// Replace validates and persists a new symbol list atomically, then
// swaps it in memory.
func (w *Watchlist) Replace(symbols []string) error {
	clean := sanitizeSymbols(symbols, w.maxSymbols)
	if len(clean) == 0 {
		return fmt.Errorf("refusing to replace watchlist with an empty list")
	}

	if err := w.writeAtomic(clean); err != nil {
		return err
	}

	w.mu.Lock()
	w.symbols = clean
	w.mu.Unlock()

	w.log.Info().Int("symbols", len(clean)).Msg("Watchlist replaced")
	return nil
}

// writeAtomic writes to a temp file in the same directory and renames
// over the target so a crash never leaves a half-written list.
func (w *Watchlist) writeAtomic(symbols []string) error {
	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, "watchlist-*.csv")
	if err != nil {
		return fmt.Errorf("failed to create temp watchlist: %w", err)
	}
	tmpName := tmp.Name()

	writer := csv.NewWriter(tmp)
	writer.Write([]string{"symbol"})
	for _, symbol := range symbols {
		writer.Write([]string{symbol})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write watchlist: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp watchlist: %w", err)
	}

	if err := os.Rename(tmpName, w.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace watchlist file: %w", err)
	}
	return nil
}

// Symbols returns a copy of the current list.
func (w *Watchlist) Symbols() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]string, len(w.symbols))
	copy(out, w.symbols)
	return out
}

// Len returns the current list size.
func (w *Watchlist) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.symbols)
}

// sanitizeSymbols uppercases, validates, dedupes and caps, preserving
// order. Header rows and junk fail the ticker pattern and drop out.
func sanitizeSymbols(symbols []string, max int) []string {
	seen := make(map[string]bool, len(symbols))
	var out []string
	for _, symbol := range symbols {
		upper := strings.ToUpper(strings.TrimSpace(symbol))
		if !domain.ValidSymbol(upper) || seen[upper] {
			continue
		}
		seen[upper] = true
		out = append(out, upper)
		if len(out) >= max {
			break
		}
	}
	return out
}
