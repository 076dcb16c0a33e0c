package server

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/tkomnos/stealthtrader/internal/config"
	"github.com/tkomnos/stealthtrader/internal/di"
	"github.com/tkomnos/stealthtrader/internal/domain"
)

// statusHandler assembles the operator-facing engine snapshot.
type statusHandler struct {
	cfg       *config.Config
	container *di.Container
	proc      *process.Process
	startedAt time.Time
}

func newStatusHandler(cfg *config.Config, c *di.Container, startedAt time.Time) *statusHandler {
	// A failed process handle only disables the resource block.
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &statusHandler{
		cfg:       cfg,
		container: c,
		proc:      proc,
		startedAt: startedAt,
	}
}

// handleStatus handles GET /status.
func (h *statusHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	c := h.container

	tokenStatus := c.TokenManager.Status()
	inactiveStatus := c.TokenManager.InactiveStatus()
	safeModeActive, safeModeReason, _ := c.SafeMode.Status()
	phase := c.MarketHours.CurrentPhase()

	ordersSimulated := h.cfg.SystemMode != config.SystemFullTrading ||
		tokenStatus.State == domain.TokenExpired ||
		tokenStatus.State == domain.TokenAbsent

	status := map[string]interface{}{
		"trading_thread_active": c.Scheduler.Running(),
		"phase":                 phase,
		"strategy_mode":         h.cfg.StrategyMode,
		"system_mode":           h.cfg.SystemMode,
		"orders_simulated":      ordersSimulated,
		"safe_mode":             safeModeActive,
		"open_positions":        c.Monitor.OpenCount(),
		"open_position_value":   c.Monitor.OpenValue(),
		"signals_today":         c.SignalGen.TodayCount(),
		"watchlist_symbols":     c.Watchlist.Len(),
		"working_set":           len(c.Selector.WorkingSet().Symbols),
		"alerts_dropped":        c.Notifier.Dropped(),
		"api_budget":            c.MarketData.BudgetStats(),
		"etrade_env":            tokenStatus.Env,
		"etrade_token":          tokenStatus.State,
		"etrade_inactive_env":   inactiveStatus.Env,
		"etrade_inactive_token": inactiveStatus.State,
		"uptime":                time.Since(h.startedAt).Round(time.Second).String(),
		"timestamp":             time.Now().Format(time.RFC3339),
	}
	if safeModeActive {
		status["safe_mode_reason"] = safeModeReason
	}
	if c.TokenFeed != nil {
		status["token_feed_connected"] = c.TokenFeed.Connected()
	}
	if res := h.resources(); res != nil {
		status["process"] = res
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

// resources reports process memory and CPU via gopsutil. Best-effort;
// any failure just omits the block.
func (h *statusHandler) resources() map[string]interface{} {
	if h.proc == nil {
		return nil
	}
	mem, err := h.proc.MemoryInfo()
	if err != nil || mem == nil {
		return nil
	}
	out := map[string]interface{}{
		"rss_mb": float64(mem.RSS) / (1024 * 1024),
	}
	if cpu, err := h.proc.CPUPercent(); err == nil {
		out["cpu_pct"] = cpu
	}
	return out
}
