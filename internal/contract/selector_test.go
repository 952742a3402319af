package contract

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsagent/internal/signal"
)

type fakeChain struct {
	expirations []time.Time
	contracts   []Contract
	err         error
}

func (f *fakeChain) Expirations(ctx context.Context, symbol string) ([]time.Time, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.expirations, nil
}

func (f *fakeChain) Chain(ctx context.Context, symbol string, expiry time.Time) ([]Contract, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.contracts, nil
}

func testPolicy() Policy {
	return Policy{
		MinDaysToExpiry: 1,
		OTMMinPct:       0.01,
		OTMMaxPct:       0.05,
		MaxSpreadPct:    0.20,
		MaxTradeSize:    125,
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSelectPicksSmallestOTMCallInBand(t *testing.T) {
	now := day(2026, 1, 6)
	expiry := day(2026, 1, 9)
	chain := &fakeChain{
		expirations: []time.Time{expiry},
		contracts: []Contract{
			{OptionSymbol: "SPY260109C00100500", Strike: 100.5, Type: Call, Bid: 1.40, Ask: 1.50}, // 0.5% OTM, inside min
			{OptionSymbol: "SPY260109C00102000", Strike: 102, Type: Call, Bid: 0.95, Ask: 1.00},
			{OptionSymbol: "SPY260109C00104000", Strike: 104, Type: Call, Bid: 0.45, Ask: 0.50},
			{OptionSymbol: "SPY260109P00098000", Strike: 98, Type: Put, Bid: 0.90, Ask: 0.95},
		},
	}
	selector := NewSelector(chain, testPolicy())

	order, err := selector.Select(context.Background(), signal.Signal{
		Symbol: "SPY", Direction: signal.Bullish, Price: 100,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, "SPY260109C00102000", order.Contract.OptionSymbol)
	assert.Equal(t, 1, order.Quantity)
	assert.InDelta(t, 100.0, order.Cost, 0.001)
}

func TestSelectPicksPutBelowSpotForBearish(t *testing.T) {
	now := day(2026, 1, 6)
	expiry := day(2026, 1, 9)
	chain := &fakeChain{
		expirations: []time.Time{expiry},
		contracts: []Contract{
			{OptionSymbol: "QQQ260109C00102000", Strike: 102, Type: Call, Bid: 0.95, Ask: 1.00},
			{OptionSymbol: "QQQ260109P00098000", Strike: 98, Type: Put, Bid: 0.90, Ask: 0.95},
			{OptionSymbol: "QQQ260109P00096000", Strike: 96, Type: Put, Bid: 0.45, Ask: 0.50},
		},
	}
	selector := NewSelector(chain, testPolicy())

	order, err := selector.Select(context.Background(), signal.Signal{
		Symbol: "QQQ", Direction: signal.Bearish, Price: 100,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, "QQQ260109P00098000", order.Contract.OptionSymbol)
}

func TestSelectNearestExpiryWithEnoughDays(t *testing.T) {
	now := day(2026, 1, 6)
	chain := &fakeChain{
		expirations: []time.Time{
			day(2026, 1, 6),  // same day, below the minimum
			day(2026, 1, 16), // further weekly
			day(2026, 1, 9),  // nearest qualifying
		},
		contracts: []Contract{
			{OptionSymbol: "X", Strike: 102, Type: Call, Bid: 0.95, Ask: 1.00},
		},
	}
	selector := NewSelector(chain, testPolicy())

	order, err := selector.Select(context.Background(), signal.Signal{
		Symbol: "X", Direction: signal.Bullish, Price: 100,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, day(2026, 1, 9), order.Contract.Expiry)
}

func TestSelectNoStrikeInBand(t *testing.T) {
	chain := &fakeChain{
		expirations: []time.Time{day(2026, 1, 9)},
		contracts: []Contract{
			{OptionSymbol: "A", Strike: 100.5, Type: Call, Bid: 1.40, Ask: 1.50}, // 0.5%, too close
			{OptionSymbol: "B", Strike: 110, Type: Call, Bid: 0.05, Ask: 0.10},   // 10%, too far
		},
	}
	selector := NewSelector(chain, testPolicy())

	_, err := selector.Select(context.Background(), signal.Signal{
		Symbol: "A", Direction: signal.Bullish, Price: 100,
	}, day(2026, 1, 6))
	assert.ErrorIs(t, err, ErrNoSuitableContract)
}

func TestSelectNoQualifyingExpiry(t *testing.T) {
	chain := &fakeChain{expirations: []time.Time{day(2026, 1, 6)}}
	selector := NewSelector(chain, testPolicy())

	_, err := selector.Select(context.Background(), signal.Signal{
		Symbol: "A", Direction: signal.Bullish, Price: 100,
	}, day(2026, 1, 6))
	assert.ErrorIs(t, err, ErrNoSuitableContract)
}

func TestSelectSkipsWideSpreads(t *testing.T) {
	chain := &fakeChain{
		expirations: []time.Time{day(2026, 1, 9)},
		contracts: []Contract{
			{OptionSymbol: "WIDE", Strike: 102, Type: Call, Bid: 0.40, Ask: 1.00},  // 85% spread
			{OptionSymbol: "TIGHT", Strike: 103, Type: Call, Bid: 0.70, Ask: 0.75}, // ~7% spread
		},
	}
	selector := NewSelector(chain, testPolicy())

	order, err := selector.Select(context.Background(), signal.Signal{
		Symbol: "A", Direction: signal.Bullish, Price: 100,
	}, day(2026, 1, 6))
	require.NoError(t, err)
	assert.Equal(t, "TIGHT", order.Contract.OptionSymbol)
}

func TestSizeOrderFitsBudget(t *testing.T) {
	assert.Equal(t, 2, sizeOrder(0.60, 125)) // 2 * 60 = 120 <= 125
	assert.Equal(t, 1, sizeOrder(3.00, 125)) // floor below one clamps to one
}
