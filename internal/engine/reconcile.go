package engine

import (
	"context"

	"github.com/rs/zerolog/log"

	"optionsagent/internal/broker"
	"optionsagent/internal/state"
)

// AccountSource is the brokerage-side view of the account used for
// reconciliation.
type AccountSource interface {
	Positions(ctx context.Context) ([]broker.Position, error)
	Balances(ctx context.Context) (broker.Balances, error)
}

// Reconcile aligns the local book with the brokerage account. Book
// positions the brokerage no longer holds were closed or expired out of
// band and are dropped; brokerage positions unknown to the book are
// logged but never adopted, since their entry context is gone and the
// monitor could not price an exit for them. Account balances are
// checked against the configured capital limit.
func Reconcile(ctx context.Context, accounts AccountSource, book *state.Book, capitalLimit float64) {
	held, err := accounts.Positions(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("position reconcile failed, keeping local book")
	} else {
		atBroker := make(map[string]bool, len(held))
		for _, p := range held {
			atBroker[p.Symbol] = true
		}
		tracked := make(map[string]bool)
		for _, p := range book.Open() {
			tracked[p.OptionSymbol] = true
			if !atBroker[p.OptionSymbol] {
				book.Drop(p.OptionSymbol)
				log.Warn().Str("option", p.OptionSymbol).Msg("position missing at brokerage, dropped from book")
			}
		}
		for _, p := range held {
			if !tracked[p.Symbol] {
				log.Warn().Str("option", p.Symbol).Int("qty", p.Quantity).
					Msg("untracked position at brokerage, not monitored")
			}
		}
	}

	balances, err := accounts.Balances(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("balance reconcile failed")
		return
	}
	if balances.CashAvailable < capitalLimit {
		log.Warn().Float64("cash", balances.CashAvailable).Float64("capital_limit", capitalLimit).
			Msg("available cash below capital limit")
	}
	log.Info().Float64("equity", balances.TotalEquity).Float64("cash", balances.CashAvailable).
		Msg("account reconciled")
}
