package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across modules. Callers match with errors.Is.
var (
	// ErrTokenExpired means the active OAuth token can no longer sign requests.
	// Real order placement is disabled until a fresh token arrives.
	ErrTokenExpired = errors.New("access token expired")

	// ErrTokenAbsent means no token has ever been stored for the environment.
	ErrTokenAbsent = errors.New("access token absent")

	// ErrSafeMode means the risk manager latched safe mode and rejects new entries.
	ErrSafeMode = errors.New("safe mode active")

	// ErrDataUnavailable means a quote could not be produced from broker or cache.
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrBudgetExhausted means the daily API call budget (or its hourly
	// smoothing slice) has been consumed.
	ErrBudgetExhausted = errors.New("api call budget exhausted")

	// ErrMarketClosed means the operation requires the REGULAR session.
	ErrMarketClosed = errors.New("market not in regular session")
)

// BrokerError carries the classification of a failed broker call.
// Transient errors (timeouts, 5xx, 429) may be retried; permanent
// errors (4xx other than 429) must not be.
type BrokerError struct {
	Op         string
	StatusCode int
	Message    string
	Transient  bool
}

func (e *BrokerError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("broker %s failed: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("broker %s failed: %s", e.Op, e.Message)
}

// IsTransientBrokerError reports whether err is a retryable broker failure.
func IsTransientBrokerError(err error) bool {
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Transient
	}
	return false
}
