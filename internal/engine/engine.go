package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"optionsagent/internal/broker"
	"optionsagent/internal/config"
	"optionsagent/internal/contract"
	"optionsagent/internal/indicator"
	"optionsagent/internal/monitor"
	"optionsagent/internal/risk"
	"optionsagent/internal/signal"
	"optionsagent/internal/state"
	"optionsagent/internal/tradelog"
)

// History supplies fresh bar windows each cycle.
type History interface {
	Bars(ctx context.Context, symbol string, limit int) ([]indicator.Bar, error)
}

// Broker is the order-placement collaborator.
type Broker interface {
	PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderRef, error)
}

// TradeRecorder persists the append-only trade history.
type TradeRecorder interface {
	Append(ctx context.Context, t tradelog.Trade) error
	RealizedSince(ctx context.Context, cutoff time.Time) (float64, error)
}

// Engine owns the cycle state machine. The position book and risk view
// are owned exclusively by the loop; no other goroutine mutates them.
type Engine struct {
	cfg      config.Config
	scorer   signal.Scorer
	selector *contract.Selector
	gate     *risk.Gate
	monitor  *monitor.Monitor
	book     *state.Book
	history  History
	broker   Broker
	trades   TradeRecorder
	reports  *ReportLogger
	clock    Clock
	calendar *Calendar
}

func New(
	cfg config.Config,
	scorer signal.Scorer,
	selector *contract.Selector,
	gate *risk.Gate,
	mon *monitor.Monitor,
	book *state.Book,
	history History,
	brokerClient Broker,
	trades TradeRecorder,
	reports *ReportLogger,
	clock Clock,
	calendar *Calendar,
) *Engine {
	return &Engine{
		cfg:      cfg,
		scorer:   scorer,
		selector: selector,
		gate:     gate,
		monitor:  mon,
		book:     book,
		history:  history,
		broker:   brokerClient,
		trades:   trades,
		reports:  reports,
		clock:    clock,
		calendar: calendar,
	}
}

// RunCycle executes one full pass: market-hours check, position
// monitoring, watchlist scan, signal evaluation, contract selection,
// risk check, execution. A stage failure aborts the remaining stages
// and is recorded; it never propagates past this method.
func (e *Engine) RunCycle(ctx context.Context) Report {
	now := e.clock.Now()
	report := Report{
		RunID:     e.reports.RunID(),
		CycleTime: now,
		Stage:     StageMarketHours,
	}
	defer func() { e.reports.Append(report) }()

	if !e.calendar.IsOpen(now) {
		report.MarketOpen = false
		log.Debug().Time("now", now).Msg("outside trading window, idle")
		return report
	}
	report.MarketOpen = true

	report.Stage = StageMonitoring
	unrealized := e.runExits(ctx, now, &report)

	report.Stage = StageScanning
	signals := e.scanWatchlist(ctx, now, &report)

	report.Stage = StageSignalEval
	best, ok := signal.Best(signals)
	if !ok {
		log.Info().Msg("no actionable signal this cycle")
		return report
	}
	report.Best = &SignalEntry{Symbol: best.Symbol, Score: best.Score, Direction: best.Direction}

	report.Stage = StageContractSelect
	order, err := e.selector.Select(ctx, best, now)
	if err != nil {
		e.recordStageError(&report, err)
		return report
	}

	report.Stage = StageRiskCheck
	auth, err := e.gate.Evaluate(order.Cost, risk.Context{
		Now:       now,
		Deployed:  e.book.Deployed(),
		OpenCount: e.book.OpenCount(),
		DayPnL:    e.realizedToday(ctx, now) + unrealized,
	})
	if err != nil {
		report.RiskReject = err.Error()
		log.Info().Err(err).Msg("risk gate rejected trade")
		return report
	}

	report.Stage = StageExecution
	e.execute(ctx, now, best, order, auth, &report)
	return report
}

// runExits walks every open position through the monitor and submits
// close orders for flagged exits. Open -> Closing -> Closed, reverting
// to Open if the close order fails so the next cycle retries. Returns
// the unrealized P&L of the positions still on the book afterwards;
// closed positions realize into the trade history instead.
func (e *Engine) runExits(ctx context.Context, now time.Time, report *Report) float64 {
	exits, marks := e.monitor.Check(ctx, e.book)
	for _, exit := range exits {
		entry := ExitEntry{
			OptionSymbol: exit.Position.OptionSymbol,
			Reason:       exit.Reason,
			Return:       exit.Return,
		}
		if !e.book.Transition(exit.Position.OptionSymbol, state.Closing) {
			continue
		}
		if e.cfg.Mode == config.ModeScan {
			e.book.Transition(exit.Position.OptionSymbol, state.Open)
			entry.Error = "scan mode, close not submitted"
			report.Exits = append(report.Exits, entry)
			continue
		}

		// Limit just under the bid to fill fast.
		_, err := e.broker.PlaceOrder(ctx, broker.OrderRequest{
			Underlying:   exit.Position.Underlying,
			OptionSymbol: exit.Position.OptionSymbol,
			Side:         broker.SellToClose,
			Quantity:     exit.Position.Quantity,
			OrderType:    "limit",
			LimitPrice:   exit.Bid * 0.98,
		})
		if err != nil {
			e.book.Transition(exit.Position.OptionSymbol, state.Open)
			entry.Error = err.Error()
			report.Exits = append(report.Exits, entry)
			log.Warn().Err(err).Str("option", exit.Position.OptionSymbol).Msg("close order failed, will retry next cycle")
			continue
		}

		e.book.Transition(exit.Position.OptionSymbol, state.Closed)
		e.book.SetCooldown(exit.Position.Underlying, now.Add(e.cfg.CooldownAfterExit))
		entry.Closed = true
		report.Exits = append(report.Exits, entry)
		e.recordTrade(ctx, tradelog.Trade{
			Time:         now,
			Symbol:       exit.Position.Underlying,
			OptionSymbol: exit.Position.OptionSymbol,
			Side:         string(broker.SellToClose),
			Quantity:     exit.Position.Quantity,
			Price:        exit.Bid,
			Reason:       string(exit.Reason),
		})
	}

	var unrealized float64
	for _, p := range e.book.Open() {
		unrealized += marks[p.OptionSymbol]
	}
	return unrealized
}

// scanWatchlist scores each instrument from a fresh window. Data and
// indicator failures skip the instrument only.
func (e *Engine) scanWatchlist(ctx context.Context, now time.Time, report *Report) []signal.Signal {
	var signals []signal.Signal
	for _, symbol := range e.cfg.Watchlist {
		if e.book.HasUnderlying(symbol) {
			report.Signals = append(report.Signals, SignalEntry{Symbol: symbol, Skipped: "position_open"})
			continue
		}
		if e.book.InCooldown(symbol, now) {
			report.Signals = append(report.Signals, SignalEntry{Symbol: symbol, Skipped: "cooldown"})
			continue
		}

		bars, err := e.history.Bars(ctx, symbol, e.cfg.BarLookback)
		if err != nil {
			report.Signals = append(report.Signals, SignalEntry{Symbol: symbol, Skipped: stageErrorLabel(err)})
			log.Warn().Err(err).Str("symbol", symbol).Msg("history fetch failed, instrument skipped")
			continue
		}
		snap, err := indicator.Compute(bars)
		if err != nil {
			report.Signals = append(report.Signals, SignalEntry{Symbol: symbol, Skipped: stageErrorLabel(err)})
			continue
		}

		sig, actionable := e.scorer.Score(symbol, snap)
		report.Signals = append(report.Signals, SignalEntry{
			Symbol:    symbol,
			Score:     sig.Score,
			Direction: sig.Direction,
		})
		if actionable {
			signals = append(signals, sig)
		}
	}
	return signals
}

func (e *Engine) execute(ctx context.Context, now time.Time, best signal.Signal, order contract.Order, auth risk.Authorization, report *Report) {
	if e.cfg.Mode == config.ModeScan {
		log.Info().Str("option", order.Contract.OptionSymbol).Int("qty", order.Quantity).
			Float64("cost", order.Cost).Msg("scan mode, entry not submitted")
		return
	}
	if !auth.Consume() {
		// Token already spent; a duplicate submission within the cycle
		// is a bug upstream, never a second order.
		log.Error().Str("token", auth.Token).Msg("authorization already consumed, order not submitted")
		return
	}

	ref, err := e.broker.PlaceOrder(ctx, broker.OrderRequest{
		Underlying:   best.Symbol,
		OptionSymbol: order.Contract.OptionSymbol,
		Side:         broker.BuyToOpen,
		Quantity:     order.Quantity,
		OrderType:    "market",
		Tag:          auth.Token,
	})
	if err != nil {
		e.recordStageError(report, err)
		log.Warn().Err(err).Str("option", order.Contract.OptionSymbol).Msg("entry order failed")
		return
	}

	e.book.Add(state.Position{
		OptionSymbol: order.Contract.OptionSymbol,
		Underlying:   best.Symbol,
		Type:         order.Contract.Type,
		Strike:       order.Contract.Strike,
		Expiry:       order.Contract.Expiry,
		EntryPrice:   order.Contract.Ask,
		Quantity:     order.Quantity,
		EntryTime:    now,
		Score:        best.Score,
	})
	report.Trade = &TradeEntry{
		Symbol:       best.Symbol,
		OptionSymbol: order.Contract.OptionSymbol,
		Direction:    string(best.Direction),
		Quantity:     order.Quantity,
		Price:        order.Contract.Ask,
		Cost:         order.Cost,
		OrderID:      ref.ID,
	}
	e.recordTrade(ctx, tradelog.Trade{
		Time:         now,
		Symbol:       best.Symbol,
		OptionSymbol: order.Contract.OptionSymbol,
		Side:         string(broker.BuyToOpen),
		Quantity:     order.Quantity,
		Price:        order.Contract.Ask,
		Reason:       "entry",
	})
	log.Info().Str("order_id", ref.ID).Str("option", order.Contract.OptionSymbol).
		Int("qty", order.Quantity).Float64("cost", order.Cost).Msg("entry executed")
}

func (e *Engine) recordTrade(ctx context.Context, t tradelog.Trade) {
	if e.trades == nil {
		return
	}
	if err := e.trades.Append(ctx, t); err != nil {
		log.Warn().Err(err).Str("option", t.OptionSymbol).Msg("trade history append failed")
	}
}

// realizedToday is the P&L of round trips closed since the start of
// the trading day. Added to the book's unrealized marks it feeds the
// daily-loss kill switch. Unavailable history counts as zero so a
// persistence hiccup never blocks monitoring.
func (e *Engine) realizedToday(ctx context.Context, now time.Time) float64 {
	if e.trades == nil {
		return 0
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	pnl, err := e.trades.RealizedSince(ctx, midnight)
	if err != nil {
		log.Warn().Err(err).Msg("realized pnl lookup failed")
		return 0
	}
	return pnl
}

func (e *Engine) recordStageError(report *Report, err error) {
	report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", report.Stage, err))
	log.Warn().Err(err).Str("stage", string(report.Stage)).Msg("stage failed, cycle aborted")
}

func stageErrorLabel(err error) string {
	switch {
	case errors.Is(err, indicator.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, broker.ErrDataUnavailable):
		return "data_unavailable"
	default:
		return err.Error()
	}
}
