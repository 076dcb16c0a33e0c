package etrade

// Wire types for the E*TRADE REST API (JSON via Accept header).
// Money legs arrive as JSON numbers; conversion to decimal happens once,
// at the edge, in client.go.

// errorEnvelope is the standard error body returned with non-2xx statuses.
type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"Error"`
}

// Account is one entry from the account list.
type Account struct {
	AccountID     string `json:"accountId"`
	AccountIDKey  string `json:"accountIdKey"`
	AccountMode   string `json:"accountMode"`
	AccountDesc   string `json:"accountDesc"`
	AccountName   string `json:"accountName"`
	AccountStatus string `json:"accountStatus"`
	InstType      string `json:"institutionType"`
}

type accountListResponse struct {
	AccountListResponse struct {
		Accounts struct {
			Account []Account `json:"Account"`
		} `json:"Accounts"`
	} `json:"AccountListResponse"`
}

type balanceResponse struct {
	BalanceResponse struct {
		AccountID   string `json:"accountId"`
		AccountType string `json:"accountType"`
		Computed    struct {
			CashAvailableForInvestment float64 `json:"cashAvailableForInvestment"`
			CashBuyingPower            float64 `json:"cashBuyingPower"`
			RealTimeValues             struct {
				TotalAccountValue float64 `json:"totalAccountValue"`
			} `json:"RealTimeValues"`
		} `json:"Computed"`
	} `json:"BalanceResponse"`
}

type portfolioResponse struct {
	PortfolioResponse struct {
		AccountPortfolio []struct {
			AccountID string `json:"accountId"`
			Position  []struct {
				SymbolDescription string  `json:"symbolDescription"`
				Quantity          float64 `json:"quantity"`
				MarketValue       float64 `json:"marketValue"`
				Product           struct {
					Symbol       string `json:"symbol"`
					SecurityType string `json:"securityType"`
				} `json:"Product"`
			} `json:"Position"`
		} `json:"AccountPortfolio"`
	} `json:"PortfolioResponse"`
}

type quoteResponse struct {
	QuoteResponse struct {
		QuoteData []struct {
			DateTime    string `json:"dateTime"`
			QuoteStatus string `json:"quoteStatus"`
			All         struct {
				LastTrade     float64 `json:"lastTrade"`
				Bid           float64 `json:"bid"`
				Ask           float64 `json:"ask"`
				High          float64 `json:"high"`
				Low           float64 `json:"low"`
				PreviousClose float64 `json:"previousClose"`
				TotalVolume   int64   `json:"totalVolume"`
				AverageVolume int64   `json:"averageVolume"`
			} `json:"All"`
			Product struct {
				Symbol       string `json:"symbol"`
				SecurityType string `json:"securityType"`
			} `json:"Product"`
		} `json:"QuoteData"`
		Messages struct {
			Message []struct {
				Description string `json:"description"`
				Code        int    `json:"code"`
				Type        string `json:"type"`
			} `json:"Message"`
		} `json:"Messages"`
	} `json:"QuoteResponse"`
}

// orderInstrument describes one leg of an order request.
type orderInstrument struct {
	Product struct {
		SecurityType string `json:"securityType"`
		Symbol       string `json:"symbol"`
	} `json:"Product"`
	OrderAction  string `json:"orderAction"` // BUY or SELL
	QuantityType string `json:"quantityType"`
	Quantity     string `json:"quantity"`
}

// orderDetail is the shared order body for preview and place requests.
type orderDetail struct {
	AllOrNone     string            `json:"allOrNone"`
	PriceType     string            `json:"priceType"`
	OrderTerm     string            `json:"orderTerm"`
	MarketSession string            `json:"marketSession"`
	Instrument    []orderInstrument `json:"Instrument"`
}

type previewOrderRequest struct {
	PreviewOrderRequest struct {
		OrderType     string        `json:"orderType"`
		ClientOrderID string        `json:"clientOrderId"`
		Order         []orderDetail `json:"Order"`
	} `json:"PreviewOrderRequest"`
}

type previewID struct {
	PreviewID int64 `json:"previewId"`
}

type previewOrderResponse struct {
	PreviewOrderResponse struct {
		PreviewIDs []previewID   `json:"PreviewIds"`
		Order      []orderDetail `json:"Order"`
	} `json:"PreviewOrderResponse"`
}

type placeOrderRequest struct {
	PlaceOrderRequest struct {
		OrderType     string        `json:"orderType"`
		ClientOrderID string        `json:"clientOrderId"`
		PreviewIDs    []previewID   `json:"PreviewIds"`
		Order         []orderDetail `json:"Order"`
	} `json:"PlaceOrderRequest"`
}

type placeOrderResponse struct {
	PlaceOrderResponse struct {
		OrderIDs []struct {
			OrderID int64 `json:"orderId"`
		} `json:"OrderIds"`
		Order []struct {
			OrderDetail []struct {
				Status string `json:"status"`
			} `json:"OrderDetail"`
		} `json:"Order"`
	} `json:"PlaceOrderResponse"`
}

type listedOrder struct {
	OrderID     int64 `json:"orderId"`
	OrderDetail []struct {
		Status        string `json:"status"` // OPEN, EXECUTED, CANCELLED, REJECTED, PARTIAL
		ClientOrderID string `json:"clientOrderId"`
		Instrument    []struct {
			FilledQuantity        float64 `json:"filledQuantity"`
			AverageExecutionPrice float64 `json:"averageExecutionPrice"`
			OrderedQuantity       float64 `json:"orderedQuantity"`
			Product               struct {
				Symbol string `json:"symbol"`
			} `json:"Product"`
		} `json:"Instrument"`
	} `json:"OrderDetail"`
}

type ordersResponse struct {
	OrdersResponse struct {
		Order []listedOrder `json:"Order"`
	} `json:"OrdersResponse"`
}
