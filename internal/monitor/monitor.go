package monitor

import (
	"context"

	"github.com/rs/zerolog/log"

	"optionsagent/internal/state"
)

type ExitReason string

const (
	TakeProfit ExitReason = "take_profit"
	StopLoss   ExitReason = "stop_loss"
)

// ExitDecision marks one open position for closing this cycle.
type ExitDecision struct {
	Position state.Position
	Reason   ExitReason
	Bid      float64
	Return   float64
}

// QuoteSource fetches the current bid for an option symbol.
type QuoteSource interface {
	OptionBid(ctx context.Context, optionSymbol string) (float64, error)
}

// Thresholds are fractional returns: TakeProfitPct 0.80 exits at +80%,
// StopLossPct 0.50 exits at -50%.
type Thresholds struct {
	TakeProfitPct float64
	StopLossPct   float64
}

type Monitor struct {
	quotes QuoteSource
	t      Thresholds
}

func New(quotes QuoteSource, t Thresholds) *Monitor {
	return &Monitor{quotes: quotes, t: t}
}

// Check evaluates every open position against the exit thresholds. A
// quote failure skips that position only; it stays open for the next
// cycle. Positions already in Closing are skipped, keeping at most one
// close order in flight per position. The second return value maps each
// quoted position to its unrealized P&L in dollars, feeding the
// daily-loss check.
func (m *Monitor) Check(ctx context.Context, book *state.Book) ([]ExitDecision, map[string]float64) {
	var exits []ExitDecision
	marks := make(map[string]float64)
	for _, pos := range book.Open() {
		if pos.Status != state.Open {
			continue
		}
		bid, err := m.quotes.OptionBid(ctx, pos.OptionSymbol)
		if err != nil {
			log.Warn().Err(err).Str("option", pos.OptionSymbol).Msg("quote fetch failed, position held")
			continue
		}
		if bid <= 0 || pos.EntryPrice <= 0 {
			continue
		}
		ret := pos.Return(bid)
		marks[pos.OptionSymbol] = ret * pos.CostBasis()
		if reason, exit := m.Evaluate(ret); exit {
			exits = append(exits, ExitDecision{Position: pos, Reason: reason, Bid: bid, Return: ret})
			log.Info().Str("option", pos.OptionSymbol).Float64("return", ret).
				Str("reason", string(reason)).Msg("exit flagged")
		} else {
			log.Info().Str("option", pos.OptionSymbol).Float64("return", ret).Msg("position held")
		}
	}
	return exits, marks
}

// Evaluate applies the thresholds to an unrealized return. Returns
// strictly between -StopLossPct and +TakeProfitPct stay open.
func (m *Monitor) Evaluate(ret float64) (ExitReason, bool) {
	switch {
	case ret >= m.t.TakeProfitPct:
		return TakeProfit, true
	case ret <= -m.t.StopLossPct:
		return StopLoss, true
	default:
		return "", false
	}
}
