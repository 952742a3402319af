package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Loop drives RunCycle on a fixed interval. One cycle runs to
// completion before the next begins; a mid-cycle shutdown request lets
// the cycle finish and exits at the next tick boundary. A cycle's
// failure never skips the following tick.
func (e *Engine) Loop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", e.cfg.ScanInterval).Strs("watchlist", e.cfg.Watchlist).
		Str("mode", string(e.cfg.Mode)).Msg("cycle loop starting")
	e.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("cycle loop stopped")
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("cycle panicked, loop continues")
		}
	}()
	report := e.RunCycle(ctx)
	if !report.MarketOpen {
		return
	}
	log.Info().Str("stage", string(report.Stage)).Int("signals", len(report.Signals)).
		Int("exits", len(report.Exits)).Bool("trade", report.Trade != nil).
		Msg("cycle complete")
}
