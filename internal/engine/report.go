package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"optionsagent/internal/monitor"
	"optionsagent/internal/signal"
)

// Stage names the last stage a cycle reached.
type Stage string

const (
	StageIdle           Stage = "idle"
	StageMarketHours    Stage = "market_hours_check"
	StageMonitoring     Stage = "monitoring"
	StageScanning       Stage = "scanning"
	StageSignalEval     Stage = "signal_eval"
	StageContractSelect Stage = "contract_selection"
	StageRiskCheck      Stage = "risk_check"
	StageExecution      Stage = "execution"
)

// SignalEntry is one scored instrument in the cycle report.
type SignalEntry struct {
	Symbol    string           `json:"symbol"`
	Score     int              `json:"score"`
	Direction signal.Direction `json:"direction"`
	Skipped   string           `json:"skipped,omitempty"` // reason the symbol produced no candidate
}

// ExitEntry records one close decision and its outcome.
type ExitEntry struct {
	OptionSymbol string             `json:"option_symbol"`
	Reason       monitor.ExitReason `json:"reason"`
	Return       float64            `json:"return"`
	Closed       bool               `json:"closed"` // false means the close order failed, retry next cycle
	Error        string             `json:"error,omitempty"`
}

// TradeEntry records the cycle's executed entry, if any.
type TradeEntry struct {
	Symbol       string  `json:"symbol"`
	OptionSymbol string  `json:"option_symbol"`
	Direction    string  `json:"direction"`
	Quantity     int     `json:"quantity"`
	Price        float64 `json:"price"`
	Cost         float64 `json:"cost"`
	OrderID      string  `json:"order_id"`
}

// Report is the structured result of one cycle, consumed by logging
// and persistence. One line per cycle in the report log.
type Report struct {
	RunID      string        `json:"run_id"`
	CycleTime  time.Time     `json:"cycle_time"`
	MarketOpen bool          `json:"market_open"`
	Stage      Stage         `json:"stage"`
	Exits      []ExitEntry   `json:"exits,omitempty"`
	Signals    []SignalEntry `json:"signals,omitempty"`
	Best       *SignalEntry  `json:"best,omitempty"`
	Trade      *TradeEntry   `json:"trade,omitempty"`
	RiskReject string        `json:"risk_reject,omitempty"`
	Errors     []string      `json:"errors,omitempty"`
}

// ReportLogger appends one JSON line per cycle to a log file.
type ReportLogger struct {
	runID  string
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
}

func NewReportLogger(path, runID string) (*ReportLogger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &ReportLogger{
		runID:  runID,
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

func (r *ReportLogger) RunID() string {
	return r.runID
}

func (r *ReportLogger) Append(report Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	payload, err := json.Marshal(report)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal report: %v\n", err)
		return
	}
	if _, err := r.writer.Write(append(payload, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
		return
	}
	if err := r.writer.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to flush report log: %v\n", err)
	}
}

func (r *ReportLogger) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.writer.Flush(); err != nil {
		_ = r.file.Close()
		return err
	}
	return r.file.Close()
}
