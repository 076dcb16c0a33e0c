package etrade

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dghubble/oauth1"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/tkomnos/stealthtrader/internal/domain"
)

const (
	liveBaseURL    = "https://api.etrade.com"
	sandboxBaseURL = "https://apisb.etrade.com"

	requestTimeout = 10 * time.Second
	maxQuoteBatch  = 25
)

// CredentialsProvider yields the OAuth 1.0a credential set used to sign
// each request, and hears back about how the broker received it.
type CredentialsProvider interface {
	// Credentials returns the signing material for the next request. It
	// returns domain.ErrTokenAbsent or domain.ErrTokenExpired when no
	// usable token is loaded.
	Credentials() (consumerKey, consumerSecret, accessToken, accessSecret string, err error)

	// MarkUsed records a successfully authenticated call.
	MarkUsed()

	// MarkRejected records that the broker refused the token signature.
	MarkRejected()
}

// Config carries the client wiring.
type Config struct {
	Env          string // "live" or "sandbox"
	AccountIDKey string // optional; resolved from the account list when empty
	Credentials  CredentialsProvider

	// BaseURL overrides the environment URL. Tests only.
	BaseURL string
}

// Client is a thin, signed HTTP client for the E*TRADE REST API. All
// money fields are converted from wire floats to decimals here, at the
// edge, so the rest of the engine never touches binary floats for prices.
type Client struct {
	baseURL    string
	env        string
	creds      CredentialsProvider
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	clock      domain.Clock
	log        zerolog.Logger

	mu           sync.Mutex
	accountIDKey string
}

// NewClient builds a client for the configured environment.
func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.Env == "live" {
			baseURL = liveBaseURL
		} else {
			baseURL = sandboxBaseURL
		}
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "etrade",
		MaxRequests: 2,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		baseURL:      baseURL,
		env:          cfg.Env,
		creds:        cfg.Credentials,
		httpClient:   &http.Client{Timeout: requestTimeout},
		breaker:      breaker,
		clock:        domain.NewClock(),
		accountIDKey: cfg.AccountIDKey,
		log:          log.With().Str("client", "etrade").Str("env", cfg.Env).Logger(),
	}
}

// SetClock replaces the quote capture clock. Tests only.
func (c *Client) SetClock(clock domain.Clock) {
	c.clock = clock
}

// transportResult carries the raw outcome of one HTTP exchange through
// the breaker boundary.
type transportResult struct {
	status int
	body   []byte
}

// do signs and executes one request and decodes a 2xx JSON body into out.
// Transport failures, 429 and 5xx statuses count against the breaker;
// other client errors do not.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	consumerKey, consumerSecret, accessToken, accessSecret, err := c.creds.Credentials()
	if err != nil {
		return fmt.Errorf("failed to load broker credentials: %w", err)
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, payload)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	oauthConfig := oauth1.NewConfig(consumerKey, consumerSecret)
	token := oauth1.NewToken(accessToken, accessSecret)
	signingCtx := context.WithValue(ctx, oauth1.HTTPClient, c.httpClient)
	signedClient := oauthConfig.Client(signingCtx, token)
	// Config.Client carries over the base transport but not the timeout.
	signedClient.Timeout = requestTimeout

	start := time.Now()
	raw, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := signedClient.Do(req)
		if err != nil {
			return nil, &domain.BrokerError{Op: method + " " + path, Message: err.Error(), Transient: true}
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, &domain.BrokerError{Op: method + " " + path, StatusCode: resp.StatusCode, Message: err.Error(), Transient: true}
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, &domain.BrokerError{
				Op:         method + " " + path,
				StatusCode: resp.StatusCode,
				Message:    apiErrorMessage(respBody),
				Transient:  true,
			}
		}
		return transportResult{status: resp.StatusCode, body: respBody}, nil
	})
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &domain.BrokerError{Op: method + " " + path, Message: "circuit breaker open", Transient: true}
		}
		c.log.Warn().Err(err).Str("path", path).Dur("elapsed", elapsed).Msg("Broker request failed")
		return err
	}

	result := raw.(transportResult)
	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", result.status).
		Dur("elapsed", elapsed).
		Msg("Broker request completed")

	switch {
	case result.status == http.StatusUnauthorized:
		c.creds.MarkRejected()
		return fmt.Errorf("broker rejected token on %s: %w", path, domain.ErrTokenExpired)
	case result.status >= 400:
		return &domain.BrokerError{
			Op:         method + " " + path,
			StatusCode: result.status,
			Message:    apiErrorMessage(result.body),
			Transient:  false,
		}
	}

	c.creds.MarkUsed()
	if out == nil || len(result.body) == 0 {
		return nil
	}
	if err := json.Unmarshal(result.body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// apiErrorMessage extracts the broker's error description, falling back
// to a body snippet when the envelope does not parse.
func apiErrorMessage(body []byte) string {
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	return snippet
}

// ListAccounts returns the brokerage accounts visible to the token. It
// doubles as the cheapest authenticated call, so the keepalive job uses
// it to exercise the token.
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	var resp accountListResponse
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/list", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return resp.AccountListResponse.Accounts.Account, nil
}

// accountKey returns the configured or resolved accountIdKey, caching
// the first successful resolution.
func (c *Client) accountKey(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.accountIDKey
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	accounts, err := c.ListAccounts(ctx)
	if err != nil {
		return "", err
	}
	for _, account := range accounts {
		if account.AccountStatus == "ACTIVE" {
			c.mu.Lock()
			c.accountIDKey = account.AccountIDKey
			c.mu.Unlock()
			c.log.Info().Str("account_id", account.AccountID).Msg("Resolved brokerage account")
			return account.AccountIDKey, nil
		}
	}
	return "", fmt.Errorf("no active brokerage account found")
}

// Balance returns available cash and total account value.
func (c *Client) Balance(ctx context.Context) (*domain.AccountSnapshot, error) {
	key, err := c.accountKey(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("instType", "BROKERAGE")
	query.Set("realTimeNAV", "true")

	var resp balanceResponse
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+key+"/balance", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch balance: %w", err)
	}

	computed := resp.BalanceResponse.Computed
	return &domain.AccountSnapshot{
		AvailableCash:     decimal.NewFromFloat(computed.CashAvailableForInvestment),
		TotalAccountValue: decimal.NewFromFloat(computed.RealTimeValues.TotalAccountValue),
		CapturedAt:        c.clock.Now(),
	}, nil
}

// Positions returns the broker-held equity positions for the account.
func (c *Client) Positions(ctx context.Context) ([]domain.BrokerPosition, error) {
	key, err := c.accountKey(ctx)
	if err != nil {
		return nil, err
	}

	var resp portfolioResponse
	err = c.do(ctx, http.MethodGet, "/v1/accounts/"+key+"/portfolio", nil, nil, &resp)
	if err != nil {
		var brokerErr *domain.BrokerError
		// An empty portfolio is reported as 204 by some gateways and 404
		// by others; both mean no positions.
		if errors.As(err, &brokerErr) && brokerErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch portfolio: %w", err)
	}

	var positions []domain.BrokerPosition
	for _, page := range resp.PortfolioResponse.AccountPortfolio {
		for _, pos := range page.Position {
			positions = append(positions, domain.BrokerPosition{
				Symbol:      pos.Product.Symbol,
				Quantity:    decimal.NewFromFloat(pos.Quantity),
				MarketValue: decimal.NewFromFloat(pos.MarketValue),
			})
		}
	}
	return positions, nil
}

// Quotes fetches detailed quotes for up to 25 symbols in one call.
// Symbols the broker does not recognize are simply absent from the
// result; the caller decides whether that matters.
func (c *Client) Quotes(ctx context.Context, symbols []string) ([]domain.Quote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	if len(symbols) > maxQuoteBatch {
		return nil, fmt.Errorf("quote batch of %d exceeds the %d symbol limit", len(symbols), maxQuoteBatch)
	}

	query := url.Values{}
	query.Set("detailFlag", "ALL")

	var resp quoteResponse
	path := "/v1/market/quote/" + strings.Join(symbols, ",")
	if err := c.do(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch quotes: %w", err)
	}

	for _, msg := range resp.QuoteResponse.Messages.Message {
		if msg.Type == "ERROR" {
			c.log.Warn().Int("code", msg.Code).Str("detail", msg.Description).Msg("Quote message from broker")
		}
	}

	capturedAt := c.clock.Now()
	quotes := make([]domain.Quote, 0, len(resp.QuoteResponse.QuoteData))
	for _, data := range resp.QuoteResponse.QuoteData {
		if data.Product.Symbol == "" {
			continue
		}
		quotes = append(quotes, domain.Quote{
			Symbol:        data.Product.Symbol,
			Last:          decimal.NewFromFloat(data.All.LastTrade),
			Bid:           decimal.NewFromFloat(data.All.Bid),
			Ask:           decimal.NewFromFloat(data.All.Ask),
			DayHigh:       decimal.NewFromFloat(data.All.High),
			DayLow:        decimal.NewFromFloat(data.All.Low),
			PrevClose:     decimal.NewFromFloat(data.All.PreviousClose),
			Volume:        data.All.TotalVolume,
			AverageVolume: data.All.AverageVolume,
			CapturedAt:    capturedAt,
		})
	}
	return quotes, nil
}

// PlaceMarketOrder previews and places a market order, reusing the
// caller's client tag for both steps so a retried submission lands on
// the broker's duplicate check instead of creating a second order.
func (c *Client) PlaceMarketOrder(ctx context.Context, order domain.OrderRequest) (*domain.OrderResult, error) {
	key, err := c.accountKey(ctx)
	if err != nil {
		return nil, err
	}

	detail := buildOrderDetail(order)

	var preview previewOrderRequest
	preview.PreviewOrderRequest.OrderType = "EQ"
	preview.PreviewOrderRequest.ClientOrderID = order.ClientTag
	preview.PreviewOrderRequest.Order = []orderDetail{detail}

	var previewResp previewOrderResponse
	err = c.do(ctx, http.MethodPost, "/v1/accounts/"+key+"/orders/preview", nil, &preview, &previewResp)
	if err != nil {
		return nil, fmt.Errorf("failed to preview %s %s: %w", order.Side, order.Symbol, err)
	}
	if len(previewResp.PreviewOrderResponse.PreviewIDs) == 0 {
		return nil, fmt.Errorf("preview for %s returned no preview id", order.Symbol)
	}

	var place placeOrderRequest
	place.PlaceOrderRequest.OrderType = "EQ"
	place.PlaceOrderRequest.ClientOrderID = order.ClientTag
	place.PlaceOrderRequest.PreviewIDs = previewResp.PreviewOrderResponse.PreviewIDs
	place.PlaceOrderRequest.Order = []orderDetail{detail}

	var placeResp placeOrderResponse
	err = c.do(ctx, http.MethodPost, "/v1/accounts/"+key+"/orders/place", nil, &place, &placeResp)
	if err != nil {
		var brokerErr *domain.BrokerError
		if errors.As(err, &brokerErr) && !brokerErr.Transient {
			return &domain.OrderResult{
				Status:        domain.OrderStatusRejected,
				Rejected:      true,
				RejectMessage: brokerErr.Message,
			}, nil
		}
		return nil, fmt.Errorf("failed to place %s %s: %w", order.Side, order.Symbol, err)
	}

	if len(placeResp.PlaceOrderResponse.OrderIDs) == 0 {
		return nil, fmt.Errorf("place for %s returned no order id", order.Symbol)
	}

	result := &domain.OrderResult{
		OrderID: strconv.FormatInt(placeResp.PlaceOrderResponse.OrderIDs[0].OrderID, 10),
		Status:  domain.OrderStatusOpen,
	}
	for _, ord := range placeResp.PlaceOrderResponse.Order {
		for _, d := range ord.OrderDetail {
			if d.Status != "" {
				result.Status = d.Status
			}
		}
	}

	c.log.Info().
		Str("symbol", order.Symbol).
		Str("side", order.Side).
		Str("quantity", order.Quantity.String()).
		Str("order_id", result.OrderID).
		Str("status", result.Status).
		Msg("Order placed")
	return result, nil
}

func buildOrderDetail(order domain.OrderRequest) orderDetail {
	var instrument orderInstrument
	instrument.Product.SecurityType = "EQ"
	instrument.Product.Symbol = order.Symbol
	instrument.OrderAction = order.Side
	instrument.QuantityType = "QUANTITY"
	instrument.Quantity = order.Quantity.String()

	return orderDetail{
		AllOrNone:     "false",
		PriceType:     "MARKET",
		OrderTerm:     "GOOD_FOR_DAY",
		MarketSession: "REGULAR",
		Instrument:    []orderInstrument{instrument},
	}
}

// OrderStatus looks up a previously placed order by id.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (*domain.OrderResult, error) {
	key, err := c.accountKey(ctx)
	if err != nil {
		return nil, err
	}

	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed order id %q: %w", orderID, err)
	}

	var resp ordersResponse
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+key+"/orders", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	for _, ord := range resp.OrdersResponse.Order {
		if ord.OrderID == id {
			return ord.result(), nil
		}
	}
	return nil, fmt.Errorf("order %s not found", orderID)
}

// OrderByClientTag finds the listed order placed with the given client
// order id, if any. A nil result with a nil error means no order on the
// account carries the tag.
func (c *Client) OrderByClientTag(ctx context.Context, clientTag string) (*domain.OrderResult, error) {
	key, err := c.accountKey(ctx)
	if err != nil {
		return nil, err
	}

	var resp ordersResponse
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+key+"/orders", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	for _, ord := range resp.OrdersResponse.Order {
		for _, d := range ord.OrderDetail {
			if d.ClientOrderID == clientTag {
				return ord.result(), nil
			}
		}
	}
	return nil, nil
}

func (o listedOrder) result() *domain.OrderResult {
	result := &domain.OrderResult{OrderID: strconv.FormatInt(o.OrderID, 10)}
	filled := 0.0
	price := 0.0
	for _, d := range o.OrderDetail {
		result.Status = d.Status
		for _, inst := range d.Instrument {
			filled += inst.FilledQuantity
			if inst.AverageExecutionPrice > 0 {
				price = inst.AverageExecutionPrice
			}
		}
	}
	result.FilledQuantity = decimal.NewFromFloat(filled)
	result.AvgFillPrice = decimal.NewFromFloat(price)
	result.Rejected = result.Status == domain.OrderStatusRejected
	return result
}

// RenewAccessToken extends the current access token's idle window. The
// broker returns a plain text acknowledgement, so only the status matters.
func (c *Client) RenewAccessToken(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/oauth/renew_access_token", nil, nil, nil); err != nil {
		return fmt.Errorf("failed to renew access token: %w", err)
	}
	c.log.Info().Msg("Access token renewed")
	return nil
}
