package risk

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrCapitalExceeded  = errors.New("capital_exceeded")
	ErrTradeTooLarge    = errors.New("trade_too_large")
	ErrTooManyPositions = errors.New("too_many_positions")
	ErrKillSwitch       = errors.New("daily_loss_kill_switch")
)

// Limits are the hard caps the gate enforces. Validated at startup.
type Limits struct {
	CapitalLimit   float64
	MaxTradeSize   float64
	MaxPositions   int
	DailyLossLimit float64 // 0 disables the kill switch
}

// Context is the read-only view of the book the gate evaluates against.
// Deployed capital and open count are derived from the position set by
// the caller, never tracked here.
type Context struct {
	Now       time.Time
	Deployed  float64
	OpenCount int
	DayPnL    float64 // realized+unrealized since the day's first cycle
}

// Authorization is a one-shot pass for a single order submission. The
// token may be handed to a retried network call, but Consume reports
// true exactly once, so a retry can never double-submit.
type Authorization struct {
	Token    string
	Cost     float64
	consumed *atomic.Bool
}

func (a Authorization) Consume() bool {
	if a.consumed == nil {
		return false
	}
	return a.consumed.CompareAndSwap(false, true)
}

type Gate struct {
	limits    Limits
	killedDay string
}

func NewGate(limits Limits) *Gate {
	return &Gate{limits: limits}
}

// Evaluate validates a prospective trade cost against the limits, in
// order, failing fast with a distinct reason. It has no side effects on
// the book; on pass it mints a single-use authorization.
func (g *Gate) Evaluate(cost float64, ctx Context) (Authorization, error) {
	day := ctx.Now.Format("2006-01-02")
	if g.killedDay == day {
		return Authorization{}, fmt.Errorf("%w: no more trades today", ErrKillSwitch)
	}
	if g.limits.DailyLossLimit > 0 && ctx.DayPnL <= -g.limits.DailyLossLimit {
		g.killedDay = day
		log.Warn().Float64("day_pnl", ctx.DayPnL).Float64("limit", g.limits.DailyLossLimit).
			Msg("daily loss limit hit, refusing trades for the rest of the day")
		return Authorization{}, fmt.Errorf("%w: day pnl %.2f", ErrKillSwitch, ctx.DayPnL)
	}

	if ctx.Deployed+cost > g.limits.CapitalLimit {
		return Authorization{}, fmt.Errorf("%w: deployed %.2f + cost %.2f > limit %.2f",
			ErrCapitalExceeded, ctx.Deployed, cost, g.limits.CapitalLimit)
	}
	if cost > g.limits.MaxTradeSize {
		return Authorization{}, fmt.Errorf("%w: cost %.2f > max %.2f",
			ErrTradeTooLarge, cost, g.limits.MaxTradeSize)
	}
	if ctx.OpenCount >= g.limits.MaxPositions {
		return Authorization{}, fmt.Errorf("%w: %d open >= max %d",
			ErrTooManyPositions, ctx.OpenCount, g.limits.MaxPositions)
	}

	auth := Authorization{
		Token:    uuid.NewString(),
		Cost:     cost,
		consumed: new(atomic.Bool),
	}
	log.Info().Str("token", auth.Token).Float64("cost", cost).
		Float64("deployed", ctx.Deployed).Int("open", ctx.OpenCount).
		Msg("risk approved")
	return auth, nil
}
