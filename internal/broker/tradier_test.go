package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"optionsagent/internal/contract"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New("test-token", "ACC123", true)
	c.baseURL = srv.URL
	c.httpClient = srv.Client()
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	return c
}

func TestQuoteSingleObjectPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets/quotes", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		// One symbol comes back as a bare object, not an array.
		w.Write([]byte(`{"quotes":{"quote":{"symbol":"TSLA","last":242.5,"bid":242.4,"ask":242.6}}}`))
	})

	last, bid, ask, err := c.Quote(context.Background(), "TSLA")
	require.NoError(t, err)
	assert.Equal(t, 242.5, last)
	assert.Equal(t, 242.4, bid)
	assert.Equal(t, 242.6, ask)
}

func TestQuoteMissingSymbol(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"quotes":{"quote":null}}`))
	})

	_, _, _, err := c.Quote(context.Background(), "TSLA")
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestExpirationsParsesAndSkipsBadDates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SPY", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"expirations":{"date":["2026-01-09","not-a-date","2026-01-16"]}}`))
	})

	dates, err := c.Expirations(context.Background(), "SPY")
	require.NoError(t, err)
	require.Len(t, dates, 2)
	assert.Equal(t, time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC), dates[0])
}

func TestExpirationsEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"expirations":{"date":null}}`))
	})

	_, err := c.Expirations(context.Background(), "SPY")
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestChainMapsOptionTypes(t *testing.T) {
	expiry := time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2026-01-09", r.URL.Query().Get("expiration"))
		w.Write([]byte(`{"options":{"option":[
			{"symbol":"SPY260109C00480000","strike":480,"option_type":"call","bid":1.20,"ask":1.25},
			{"symbol":"SPY260109P00470000","strike":470,"option_type":"put","bid":0.90,"ask":0.95}
		]}}`))
	})

	chain, err := c.Chain(context.Background(), "SPY", expiry)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, contract.Call, chain[0].Type)
	assert.Equal(t, contract.Put, chain[1].Type)
	assert.Equal(t, "SPY", chain[0].Underlying)
	assert.Equal(t, expiry, chain[0].Expiry)
	assert.Equal(t, 480.0, chain[0].Strike)
}

func TestPlaceOrderSubmitsForm(t *testing.T) {
	var form map[string][]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/accounts/ACC123/orders", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		form = r.PostForm
		w.Write([]byte(`{"order":{"id":12345,"status":"ok"}}`))
	})

	ref, err := c.PlaceOrder(context.Background(), OrderRequest{
		Underlying:   "TSLA",
		OptionSymbol: "TSLA260109C00250000",
		Side:         SellToClose,
		Quantity:     2,
		OrderType:    "limit",
		LimitPrice:   1.8326,
		Tag:          "tok-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "12345", ref.ID)
	assert.Equal(t, "ok", ref.Status)

	assert.Equal(t, "option", form["class"][0])
	assert.Equal(t, "sell_to_close", form["side"][0])
	assert.Equal(t, "2", form["quantity"][0])
	assert.Equal(t, "day", form["duration"][0])
	assert.Equal(t, "tok-1", form["tag"][0])
	assert.Equal(t, "1.83", form["price"][0], "limit price rounds to cents")
}

func TestPlaceOrderRejection(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":{"error":"account has insufficient funds"}}`))
	})

	_, err := c.PlaceOrder(context.Background(), OrderRequest{
		Underlying: "TSLA", OptionSymbol: "X", Side: BuyToOpen, Quantity: 1, OrderType: "market",
	})
	require.ErrorIs(t, err, ErrOrderRejected)
	assert.Contains(t, err.Error(), "insufficient funds")
}

func TestPositionsFlatAccount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Tradier quirk: flat accounts return the string "null".
		w.Write([]byte(`{"positions":"null"}`))
	})

	positions, err := c.Positions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestPositionsSingleObject(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"positions":{"position":{"symbol":"TSLA260109C00250000","quantity":2,"cost_basis":240}}}`))
	})

	positions, err := c.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 2, positions[0].Quantity)
	assert.Equal(t, 240.0, positions[0].CostBasis)
}

func TestServerErrorIsDataUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	_, _, _, err := c.Quote(context.Background(), "TSLA")
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	for i := 0; i < 8; i++ {
		_, _, _, err := c.Quote(context.Background(), "TSLA")
		assert.ErrorIs(t, err, ErrDataUnavailable)
	}
	assert.Equal(t, 5, calls, "open breaker fails fast without hitting the server")
}
