package universe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tkomnos/stealthtrader/internal/events"
)

// Builder refreshes the watchlist from an external screener service.
// The service returns {"symbols": ["AAPL", ...]}; anything that fails
// validation is dropped on our side.
type Builder struct {
	url        string
	httpClient *http.Client
	watchlist  *Watchlist
	bus        *events.Bus
	log        zerolog.Logger
}

// NewBuilder creates a builder. An empty URL disables rebuilds; the
// watchlist then only changes by hand-editing the CSV.
func NewBuilder(url string, watchlist *Watchlist, bus *events.Bus) *Builder {
	return &Builder{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		watchlist:  watchlist,
		bus:        bus,
		log:        log.With().Str("module", "universe").Str("component", "builder").Logger(),
	}
}

// Configured reports whether a screener URL is set.
func (b *Builder) Configured() bool {
	return b.url != ""
}

// Rebuild fetches a fresh candidate list and replaces the watchlist.
// On any failure the existing watchlist stays untouched.
func (b *Builder) Rebuild(ctx context.Context) (int, error) {
	if b.url == "" {
		return 0, fmt.Errorf("watchlist builder not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build screener request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to reach screener: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("screener returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("failed to read screener response: %w", err)
	}

	var payload struct {
		Symbols []string `json:"symbols"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("failed to parse screener response: %w", err)
	}
	if len(payload.Symbols) == 0 {
		return 0, fmt.Errorf("screener returned no symbols")
	}

	if err := b.watchlist.Replace(payload.Symbols); err != nil {
		return 0, err
	}

	count := b.watchlist.Len()
	b.log.Info().Int("symbols", count).Msg("Watchlist rebuilt from screener")
	b.bus.Emit(events.WatchlistRebuilt, "universe", map[string]interface{}{
		"symbols": count,
	})
	return count, nil
}
