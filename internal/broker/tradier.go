package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"optionsagent/internal/contract"
)

var (
	// ErrDataUnavailable covers transport failures, timeouts, an open
	// circuit and malformed payloads. Recoverable: skip for this cycle.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrOrderRejected covers order placement failures. The position
	// state is left unchanged so the next cycle can retry.
	ErrOrderRejected = errors.New("order rejected")
)

const (
	sandboxBaseURL = "https://sandbox.tradier.com/v1"
	liveBaseURL    = "https://api.tradier.com/v1"

	requestTimeout = 10 * time.Second
)

type Side string

const (
	BuyToOpen   Side = "buy_to_open"
	SellToClose Side = "sell_to_close"
)

type OrderRequest struct {
	Underlying   string
	OptionSymbol string
	Side         Side
	Quantity     int
	OrderType    string  // market or limit
	LimitPrice   float64 // required for limit
	Tag          string  // client-side idempotency tag
}

type OrderRef struct {
	ID     string
	Status string
}

// Position is a brokerage-side open position.
type Position struct {
	Symbol    string
	Quantity  int
	CostBasis float64
}

type Balances struct {
	TotalEquity   float64
	CashAvailable float64
}

// Client is a Tradier brokerage REST client. Every call is rate limited
// and runs behind a circuit breaker; a tripped breaker surfaces as
// ErrDataUnavailable until the cooldown passes.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	accountID  string
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
}

func New(token, accountID string, sandbox bool) *Client {
	base := liveBaseURL
	if sandbox {
		base = sandboxBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    base,
		token:      token,
		accountID:  accountID,
		// Tradier allows 120 req/min on market data endpoints.
		limiter: rate.NewLimiter(rate.Limit(2), 4),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "tradier",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, params, out)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	body, err := c.breaker.Execute(func() (interface{}, error) {
		var req *http.Request
		var err error
		endpoint := c.baseURL + path
		if method == http.MethodGet {
			if len(params) > 0 {
				endpoint += "?" + params.Encode()
			}
			req, err = http.NewRequestWithContext(ctx, method, endpoint, nil)
		} else {
			req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
			if req != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
		}
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return data, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrDataUnavailable, method, path, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body.([]byte), out); err != nil {
		return fmt.Errorf("%w: parsing %s: %v", ErrDataUnavailable, path, err)
	}
	return nil
}

type quotePayload struct {
	Quotes struct {
		Quote oneOrMany[struct {
			Symbol string  `json:"symbol"`
			Last   float64 `json:"last"`
			Bid    float64 `json:"bid"`
			Ask    float64 `json:"ask"`
		}] `json:"quote"`
	} `json:"quotes"`
}

// Quote returns last/bid/ask for any symbol, equities and OCC option
// symbols alike.
func (c *Client) Quote(ctx context.Context, symbol string) (last, bid, ask float64, err error) {
	var payload quotePayload
	params := url.Values{"symbols": {symbol}, "greeks": {"false"}}
	if err := c.get(ctx, "/markets/quotes", params, &payload); err != nil {
		return 0, 0, 0, err
	}
	for _, q := range payload.Quotes.Quote {
		if q.Symbol == symbol {
			return q.Last, q.Bid, q.Ask, nil
		}
	}
	return 0, 0, 0, fmt.Errorf("%w: no quote for %s", ErrDataUnavailable, symbol)
}

// OptionBid satisfies the position monitor's quote source.
func (c *Client) OptionBid(ctx context.Context, optionSymbol string) (float64, error) {
	_, bid, _, err := c.Quote(ctx, optionSymbol)
	return bid, err
}

type expirationsPayload struct {
	Expirations struct {
		Date oneOrMany[string] `json:"date"`
	} `json:"expirations"`
}

func (c *Client) Expirations(ctx context.Context, symbol string) ([]time.Time, error) {
	var payload expirationsPayload
	if err := c.get(ctx, "/markets/options/expirations", url.Values{"symbol": {symbol}}, &payload); err != nil {
		return nil, err
	}
	dates := make([]time.Time, 0, len(payload.Expirations.Date))
	for _, d := range payload.Expirations.Date {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			continue
		}
		dates = append(dates, t)
	}
	if len(dates) == 0 {
		return nil, fmt.Errorf("%w: no expirations for %s", ErrDataUnavailable, symbol)
	}
	return dates, nil
}

type chainPayload struct {
	Options struct {
		Option oneOrMany[struct {
			Symbol     string  `json:"symbol"`
			Underlying string  `json:"underlying"`
			Strike     float64 `json:"strike"`
			OptionType string  `json:"option_type"`
			Bid        float64 `json:"bid"`
			Ask        float64 `json:"ask"`
		}] `json:"option"`
	} `json:"options"`
}

func (c *Client) Chain(ctx context.Context, symbol string, expiry time.Time) ([]contract.Contract, error) {
	params := url.Values{
		"symbol":     {symbol},
		"expiration": {expiry.Format("2006-01-02")},
		"greeks":     {"false"},
	}
	var payload chainPayload
	if err := c.get(ctx, "/markets/options/chains", params, &payload); err != nil {
		return nil, err
	}
	chain := make([]contract.Contract, 0, len(payload.Options.Option))
	for _, o := range payload.Options.Option {
		ctype := contract.Call
		if strings.EqualFold(o.OptionType, "put") {
			ctype = contract.Put
		}
		chain = append(chain, contract.Contract{
			Underlying:   symbol,
			OptionSymbol: o.Symbol,
			Strike:       o.Strike,
			Expiry:       expiry,
			Type:         ctype,
			Bid:          o.Bid,
			Ask:          o.Ask,
		})
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: empty chain for %s %s", ErrDataUnavailable, symbol, expiry.Format("2006-01-02"))
	}
	return chain, nil
}

type orderPayload struct {
	Order struct {
		ID     json.Number `json:"id"`
		Status string      `json:"status"`
	} `json:"order"`
	Errors struct {
		Error oneOrMany[string] `json:"error"`
	} `json:"errors"`
}

// PlaceOrder submits an option order. Tradier rejections come back as
// ErrOrderRejected; the caller leaves position state unchanged.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderRef, error) {
	params := url.Values{
		"class":         {"option"},
		"symbol":        {req.Underlying},
		"option_symbol": {req.OptionSymbol},
		"side":          {string(req.Side)},
		"quantity":      {strconv.Itoa(req.Quantity)},
		"type":          {req.OrderType},
		"duration":      {"day"},
		"tag":           {req.Tag},
	}
	if req.OrderType == "limit" {
		params.Set("price", decimal.NewFromFloat(req.LimitPrice).Round(2).String())
	}

	var payload orderPayload
	if err := c.do(ctx, http.MethodPost, "/accounts/"+c.accountID+"/orders", params, &payload); err != nil {
		return OrderRef{}, fmt.Errorf("%w: %v", ErrOrderRejected, err)
	}
	if len(payload.Errors.Error) > 0 {
		return OrderRef{}, fmt.Errorf("%w: %s", ErrOrderRejected, strings.Join(payload.Errors.Error, "; "))
	}
	ref := OrderRef{ID: payload.Order.ID.String(), Status: payload.Order.Status}
	log.Info().Str("order_id", ref.ID).Str("option", req.OptionSymbol).
		Str("side", string(req.Side)).Int("qty", req.Quantity).Str("status", ref.Status).
		Msg("order placed")
	return ref, nil
}

type positionsPayload struct {
	Positions json.RawMessage `json:"positions"`
}

type positionEntry struct {
	Symbol    string  `json:"symbol"`
	Quantity  float64 `json:"quantity"`
	CostBasis float64 `json:"cost_basis"`
}

// Positions lists brokerage-side open positions. Tradier returns the
// string "null" when the account is flat.
func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	var payload positionsPayload
	if err := c.get(ctx, "/accounts/"+c.accountID+"/positions", nil, &payload); err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(payload.Positions))
	if trimmed == "" || trimmed == `"null"` || trimmed == "null" {
		return nil, nil
	}
	var inner struct {
		Position oneOrMany[positionEntry] `json:"position"`
	}
	if err := json.Unmarshal(payload.Positions, &inner); err != nil {
		return nil, fmt.Errorf("%w: parsing positions: %v", ErrDataUnavailable, err)
	}
	out := make([]Position, 0, len(inner.Position))
	for _, p := range inner.Position {
		out = append(out, Position{
			Symbol:    p.Symbol,
			Quantity:  int(p.Quantity),
			CostBasis: p.CostBasis,
		})
	}
	return out, nil
}

type balancesPayload struct {
	Balances struct {
		TotalEquity float64 `json:"total_equity"`
		TotalCash   float64 `json:"total_cash"`
		Cash        struct {
			CashAvailable float64 `json:"cash_available"`
		} `json:"cash"`
	} `json:"balances"`
}

func (c *Client) Balances(ctx context.Context) (Balances, error) {
	var payload balancesPayload
	if err := c.get(ctx, "/accounts/"+c.accountID+"/balances", nil, &payload); err != nil {
		return Balances{}, err
	}
	cash := payload.Balances.Cash.CashAvailable
	if cash == 0 {
		cash = payload.Balances.TotalCash
	}
	return Balances{
		TotalEquity:   payload.Balances.TotalEquity,
		CashAvailable: cash,
	}, nil
}

// oneOrMany decodes Tradier fields that are a single object when one
// result exists and an array otherwise.
type oneOrMany[T any] []T

func (o *oneOrMany[T]) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*o = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var many []T
		if err := json.Unmarshal(data, &many); err != nil {
			return err
		}
		*o = many
		return nil
	}
	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*o = []T{one}
	return nil
}
