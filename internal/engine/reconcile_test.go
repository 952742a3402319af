package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"optionsagent/internal/broker"
	"optionsagent/internal/state"
)

type fakeAccounts struct {
	positions []broker.Position
	posErr    error
	balances  broker.Balances
	balErr    error
}

func (f *fakeAccounts) Positions(ctx context.Context) ([]broker.Position, error) {
	return f.positions, f.posErr
}

func (f *fakeAccounts) Balances(ctx context.Context) (broker.Balances, error) {
	return f.balances, f.balErr
}

func TestReconcileDropsPositionsMissingAtBrokerage(t *testing.T) {
	book := state.NewBook()
	book.Add(state.Position{OptionSymbol: "A1", Underlying: "AAPL", EntryPrice: 1.00, Quantity: 1})
	book.Add(state.Position{OptionSymbol: "B1", Underlying: "SPY", EntryPrice: 0.50, Quantity: 2})

	accounts := &fakeAccounts{
		positions: []broker.Position{{Symbol: "A1", Quantity: 1, CostBasis: 100}},
		balances:  broker.Balances{TotalEquity: 1000, CashAvailable: 800},
	}
	Reconcile(context.Background(), accounts, book, 500)

	assert.Equal(t, 1, book.OpenCount())
	assert.True(t, book.HasUnderlying("AAPL"))
	assert.False(t, book.HasUnderlying("SPY"), "contract gone at the brokerage leaves the book")
}

func TestReconcileNeverAdoptsUntrackedPositions(t *testing.T) {
	book := state.NewBook()
	book.Add(state.Position{OptionSymbol: "A1", Underlying: "AAPL", EntryPrice: 1.00, Quantity: 1})

	accounts := &fakeAccounts{
		positions: []broker.Position{
			{Symbol: "A1", Quantity: 1, CostBasis: 100},
			{Symbol: "Z9", Quantity: 3, CostBasis: 90},
		},
		balances: broker.Balances{TotalEquity: 1000, CashAvailable: 800},
	}
	Reconcile(context.Background(), accounts, book, 500)

	assert.Equal(t, 1, book.OpenCount(), "unknown brokerage positions are logged, not tracked")
}

func TestReconcileKeepsBookOnLookupFailure(t *testing.T) {
	book := state.NewBook()
	book.Add(state.Position{OptionSymbol: "A1", Underlying: "AAPL", EntryPrice: 1.00, Quantity: 1})

	accounts := &fakeAccounts{
		posErr: errors.New("brokerage unreachable"),
		balErr: errors.New("brokerage unreachable"),
	}
	Reconcile(context.Background(), accounts, book, 500)

	assert.Equal(t, 1, book.OpenCount(), "lookup failures must not wipe local state")
}
