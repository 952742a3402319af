package contract

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"optionsagent/internal/signal"
)

// ErrNoSuitableContract is returned when no expiry/strike combination
// satisfies the selection policy. Callers skip the signal this cycle.
var ErrNoSuitableContract = errors.New("no suitable contract")

type Type string

const (
	Call Type = "call"
	Put  Type = "put"
)

// Contract is one option from the chain snapshot. Immutable once
// selected for a trade.
type Contract struct {
	Underlying   string
	OptionSymbol string
	Strike       float64
	Expiry       time.Time
	Type         Type
	Bid          float64
	Ask          float64
}

// Moneyness is the signed fractional distance of the strike from spot,
// positive above spot.
func (c Contract) Moneyness(spot float64) float64 {
	return (c.Strike - spot) / spot
}

// Order is a sized entry candidate.
type Order struct {
	Contract Contract
	Quantity int
	Cost     float64 // quantity * ask * 100
}

// ChainSource is the option-chain collaborator.
type ChainSource interface {
	Expirations(ctx context.Context, symbol string) ([]time.Time, error)
	Chain(ctx context.Context, symbol string, expiry time.Time) ([]Contract, error)
}

// Policy holds the tunable selection constants.
type Policy struct {
	MinDaysToExpiry  int
	OTMMinPct        float64 // e.g. 0.01
	OTMMaxPct        float64 // e.g. 0.05
	MaxContractPrice float64 // skip asks above this, 0 disables
	MaxSpreadPct     float64 // skip bid/ask spreads wider than this fraction of mid
	MaxTradeSize     float64 // sizing budget per trade
}

type Selector struct {
	chain  ChainSource
	policy Policy
}

func NewSelector(chain ChainSource, policy Policy) *Selector {
	return &Selector{chain: chain, policy: policy}
}

// Select picks the nearest weekly expiry with enough days remaining,
// then the smallest strike strictly out of the money in the signal's
// direction within the configured OTM band, and sizes the order.
func (s *Selector) Select(ctx context.Context, sig signal.Signal, now time.Time) (Order, error) {
	expiry, err := s.nearestExpiry(ctx, sig.Symbol, now)
	if err != nil {
		return Order{}, err
	}

	chain, err := s.chain.Chain(ctx, sig.Symbol, expiry)
	if err != nil {
		return Order{}, err
	}

	want := Call
	if sig.Direction == signal.Bearish {
		want = Put
	}

	spot := sig.Price
	var best *Contract
	for i := range chain {
		c := chain[i]
		if c.Type != want {
			continue
		}
		money := c.Moneyness(spot)
		if want == Put {
			money = -money
		}
		// Strictly OTM within the band.
		if money < s.policy.OTMMinPct || money > s.policy.OTMMaxPct {
			continue
		}
		if c.Ask <= 0 {
			continue
		}
		if s.policy.MaxContractPrice > 0 && c.Ask > s.policy.MaxContractPrice {
			continue
		}
		if mid := (c.Ask + c.Bid) / 2; mid > 0 && s.policy.MaxSpreadPct > 0 {
			if (c.Ask-c.Bid)/mid > s.policy.MaxSpreadPct {
				log.Debug().Str("option", c.OptionSymbol).Msg("skipping wide spread")
				continue
			}
		}
		if best == nil || closerToSpot(c, *best, spot) {
			best = &chain[i]
		}
	}
	if best == nil {
		return Order{}, fmt.Errorf("%w: %s %s expiry %s", ErrNoSuitableContract, sig.Symbol, want, expiry.Format("2006-01-02"))
	}

	qty := sizeOrder(best.Ask, s.policy.MaxTradeSize)
	return Order{
		Contract: *best,
		Quantity: qty,
		Cost:     float64(qty) * best.Ask * 100,
	}, nil
}

func (s *Selector) nearestExpiry(ctx context.Context, symbol string, now time.Time) (time.Time, error) {
	expirations, err := s.chain.Expirations(ctx, symbol)
	if err != nil {
		return time.Time{}, err
	}
	today := now.Truncate(24 * time.Hour)
	var nearest time.Time
	for _, exp := range expirations {
		days := int(exp.Sub(today).Hours() / 24)
		if days < s.policy.MinDaysToExpiry {
			continue
		}
		if nearest.IsZero() || exp.Before(nearest) {
			nearest = exp
		}
	}
	if nearest.IsZero() {
		return time.Time{}, fmt.Errorf("%w: no expiry for %s with >=%d days remaining", ErrNoSuitableContract, symbol, s.policy.MinDaysToExpiry)
	}
	return nearest, nil
}

// closerToSpot prefers the smallest strike distance from spot, which
// inside the OTM band means the least out-of-the-money contract.
func closerToSpot(a, b Contract, spot float64) bool {
	return math.Abs(a.Strike-spot) < math.Abs(b.Strike-spot)
}

// sizeOrder fits as many contracts as the per-trade budget allows, with
// a floor of one. The risk gate still has the final say on cost.
func sizeOrder(ask, maxTradeSize float64) int {
	if ask <= 0 {
		return 1
	}
	qty := int(maxTradeSize / (ask * 100))
	if qty < 1 {
		qty = 1
	}
	return qty
}
