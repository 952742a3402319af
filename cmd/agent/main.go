package main

import (
	"context"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"optionsagent/internal/broker"
	"optionsagent/internal/config"
	"optionsagent/internal/contract"
	"optionsagent/internal/engine"
	"optionsagent/internal/marketdata"
	"optionsagent/internal/monitor"
	"optionsagent/internal/risk"
	"optionsagent/internal/signal"
	"optionsagent/internal/state"
	"optionsagent/internal/tradelog"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	runID := time.Now().UTC().Format("20060102T150405") + "-" + uuid.NewString()[:8]
	reports, err := engine.NewReportLogger(cfg.ReportsPath, runID)
	if err != nil {
		log.Fatal().Err(err).Msg("report logger init failed")
	}
	defer func() {
		if err := reports.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close report logger")
		}
	}()

	trades, err := tradelog.Open(cfg.TradeLogPath)
	if err != nil {
		log.Fatal().Err(err).Msg("trade log init failed")
	}
	defer trades.Close()

	book := state.NewBook()
	if err := book.Load(cfg.CheckpointPath); err == nil {
		log.Info().Str("path", cfg.CheckpointPath).Int("open", book.OpenCount()).Msg("loaded position checkpoint")
	}

	calendar, err := engine.NewCalendar("America/New_York", 9, 30, 15, 45)
	if err != nil {
		log.Fatal().Err(err).Msg("calendar init failed")
	}

	clock := engine.SystemClock{}
	brokerClient := broker.New(cfg.TradierToken, cfg.AccountID, cfg.Sandbox)
	history := marketdata.New(cfg.AlpacaKey, cfg.AlpacaSecret, cfg.DataFeed, cfg.BarMinutes, clock.Now)

	scorer := signal.NewScorer(signal.Thresholds{
		RSIOverbought:          cfg.RSIOverbought,
		RSIOversold:            cfg.RSIOversold,
		RSISecondaryOverbought: cfg.RSISecondaryOverbought,
		RSISecondaryOversold:   cfg.RSISecondaryOversold,
		VWAPDevPct:             cfg.VWAPDevPct,
		VolumeSurgeRatio:       cfg.VolumeSurgeRatio,
		MomentumPct:            cfg.MomentumPct,
		ATRElevatedRatio:       cfg.ATRElevatedRatio,
		MinScore:               cfg.MinScore,
	})
	selector := contract.NewSelector(brokerClient, contract.Policy{
		MinDaysToExpiry:  cfg.MinDaysToExpiry,
		OTMMinPct:        cfg.OTMMinPct,
		OTMMaxPct:        cfg.OTMMaxPct,
		MaxContractPrice: cfg.MaxContractPrice,
		MaxSpreadPct:     cfg.MaxSpreadPct,
		MaxTradeSize:     cfg.MaxTradeSize,
	})
	gate := risk.NewGate(risk.Limits{
		CapitalLimit:   cfg.CapitalLimit,
		MaxTradeSize:   cfg.MaxTradeSize,
		MaxPositions:   cfg.MaxPositions,
		DailyLossLimit: cfg.DailyLossLimit,
	})
	mon := monitor.New(brokerClient, monitor.Thresholds{
		TakeProfitPct: cfg.TakeProfitPct,
		StopLossPct:   cfg.StopLossPct,
	})

	agent := engine.New(cfg, scorer, selector, gate, mon, book,
		history, brokerClient, trades, reports, clock, calendar)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	ossignal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalChan
		log.Info().Msg("shutdown signal received, finishing current cycle")
		cancel()
	}()

	if cfg.Mode == config.ModeTrade {
		engine.Reconcile(ctx, brokerClient, book, cfg.CapitalLimit)
	}

	agent.Loop(ctx)

	if err := book.Save(cfg.CheckpointPath); err != nil {
		log.Warn().Err(err).Msg("failed to save position checkpoint")
	}
	log.Info().Msg("agent shutdown complete")
}
