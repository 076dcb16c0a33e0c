// Package tokenfeed listens to an optional companion service that pushes
// freshly authorized broker tokens over a websocket, sparing the operator
// the manual token POST after each re-authorization.
package tokenfeed

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10
)

// TokenUpdate is one pushed credential set. The feed protocol is a JSON
// array of ["tokens", payload].
type TokenUpdate struct {
	Env          string `json:"env"`
	AccessToken  string `json:"access_token"`
	AccessSecret string `json:"access_token_secret"`
	IssuedAt     string `json:"issued_at"`
}

// Sink receives pushed token updates.
type Sink interface {
	ApplyPushedTokens(update TokenUpdate) error
}

// Listener maintains a websocket subscription to the token feed and
// forwards updates to the sink. A failed connection retries forever with
// exponential backoff; the engine works without the feed, it just falls
// back to manual token entry.
type Listener struct {
	url        string
	httpClient *http.Client
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	mu         sync.RWMutex

	sink Sink
	log  zerolog.Logger

	connected    bool
	reconnecting bool
	stopChan     chan struct{}
	stopped      bool

	lastUpdate   time.Time
	lastUpdateMu sync.RWMutex
}

// newHTTP1Client forces HTTP/1.1 in the TLS ALPN so proxies that would
// otherwise negotiate HTTP/2 still allow the websocket upgrade.
func newHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

// NewListener builds a listener for the given feed URL.
func NewListener(url string, sink Sink) *Listener {
	return &Listener{
		url:        url,
		httpClient: newHTTP1Client(),
		sink:       sink,
		log:        log.With().Str("client", "tokenfeed").Logger(),
		stopChan:   make(chan struct{}),
	}
}

// Start connects and begins the read loop. When the first dial fails the
// listener keeps retrying in the background and Start still returns the
// dial error so the caller can log it.
func (l *Listener) Start() error {
	l.log.Info().Str("url", l.url).Msg("Starting token feed listener")

	if err := l.connect(); err != nil {
		l.log.Warn().Err(err).Msg("Initial token feed connection failed, retrying in background")
		go l.reconnectLoop()
		return err
	}

	l.mu.RLock()
	ctx := l.connCtx
	l.mu.RUnlock()
	go l.readMessages(ctx)

	return nil
}

// Stop shuts the listener down for good.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	l.mu.Unlock()

	close(l.stopChan)
	return l.disconnect()
}

func (l *Listener) connect() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, l.url, &websocket.DialOptions{
		HTTPClient: l.httpClient,
	})
	if err != nil {
		return fmt.Errorf("failed to dial token feed: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	l.conn = conn
	l.connCtx = connCtx
	l.cancelFunc = connCancel
	l.connected = true

	if err := l.subscribe(connCtx); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		l.conn = nil
		l.connCtx = nil
		l.cancelFunc = nil
		l.connected = false
		return fmt.Errorf("failed to subscribe to token feed: %w", err)
	}

	l.log.Info().Msg("Connected to token feed")
	return nil
}

func (l *Listener) disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}

	if l.cancelFunc != nil {
		l.cancelFunc()
		l.cancelFunc = nil
	}

	err := l.conn.Close(websocket.StatusNormalClosure, "")
	l.conn = nil
	l.connCtx = nil
	l.connected = false

	if err != nil {
		return fmt.Errorf("error closing token feed connection: %w", err)
	}
	return nil
}

func (l *Listener) subscribe(ctx context.Context) error {
	data, err := json.Marshal([]string{"tokens"})
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	if err := l.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send subscription: %w", err)
	}
	return nil
}

func (l *Listener) readMessages(ctx context.Context) {
	defer func() {
		l.mu.RLock()
		stopped := l.stopped
		l.mu.RUnlock()
		if !stopped {
			go l.reconnectLoop()
		}
	}()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		l.mu.RLock()
		conn := l.conn
		l.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			switch {
			case closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway:
				l.log.Info().Int("status", int(closeStatus)).Msg("Token feed closed normally")
			case ctx.Err() != nil:
				l.log.Debug().Msg("Token feed read cancelled")
			default:
				l.log.Error().Err(err).Msg("Token feed read error")
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		if err := l.handleMessage(message); err != nil {
			l.log.Error().Err(err).Msg("Failed to handle token feed message")
		}
	}
}

func (l *Listener) handleMessage(message []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(message, &raw); err != nil {
		return fmt.Errorf("failed to parse message array: %w", err)
	}
	if len(raw) < 2 {
		return fmt.Errorf("message array too short: got %d elements", len(raw))
	}

	var channel string
	if err := json.Unmarshal(raw[0], &channel); err != nil {
		return fmt.Errorf("failed to parse channel: %w", err)
	}
	if channel != "tokens" {
		l.log.Debug().Str("channel", channel).Msg("Ignoring message on unknown channel")
		return nil
	}

	var update TokenUpdate
	if err := json.Unmarshal(raw[1], &update); err != nil {
		return fmt.Errorf("failed to parse token update: %w", err)
	}
	if update.AccessToken == "" || update.AccessSecret == "" {
		return fmt.Errorf("token update missing credentials")
	}

	if err := l.sink.ApplyPushedTokens(update); err != nil {
		return fmt.Errorf("failed to apply pushed tokens: %w", err)
	}

	l.lastUpdateMu.Lock()
	l.lastUpdate = time.Now()
	l.lastUpdateMu.Unlock()

	l.log.Info().Str("env", update.Env).Msg("Applied pushed broker tokens")
	return nil
}

func (l *Listener) reconnectLoop() {
	l.mu.Lock()
	if l.reconnecting || l.stopped {
		l.mu.Unlock()
		return
	}
	l.reconnecting = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.reconnecting = false
		l.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-l.stopChan:
			return
		default:
		}

		l.mu.RLock()
		stopped := l.stopped
		l.mu.RUnlock()
		if stopped {
			return
		}

		attempt++
		delay := backoffDelay(attempt)

		if attempt <= maxReconnectAttempts {
			l.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnecting to token feed")
		} else {
			l.log.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("Still trying to reach token feed")
		}

		select {
		case <-time.After(delay):
		case <-l.stopChan:
			return
		}

		if err := l.connect(); err != nil {
			l.log.Error().Err(err).Int("attempt", attempt).Msg("Token feed reconnection failed")
			continue
		}

		l.mu.RLock()
		ctx := l.connCtx
		l.mu.RUnlock()
		go l.readMessages(ctx)
		return
	}
}

func backoffDelay(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}

// Connected reports whether the feed connection is currently up.
func (l *Listener) Connected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}

// LastUpdate returns when the feed last delivered tokens, zero if never.
func (l *Listener) LastUpdate() time.Time {
	l.lastUpdateMu.RLock()
	defer l.lastUpdateMu.RUnlock()
	return l.lastUpdate
}
