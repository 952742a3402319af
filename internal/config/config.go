package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Mode string

const (
	// ModeScan runs the full loop but never submits orders.
	ModeScan Mode = "scan"
	// ModeTrade submits orders to the brokerage (sandbox or live per
	// the Sandbox flag).
	ModeTrade Mode = "trade"
)

type Config struct {
	Mode    Mode     `yaml:"mode"`
	Sandbox bool     `yaml:"sandbox"`

	TradierToken string `yaml:"tradierToken"`
	AccountID    string `yaml:"accountId"`
	AlpacaKey    string `yaml:"alpacaKey"`
	AlpacaSecret string `yaml:"alpacaSecret"`
	DataFeed     string `yaml:"dataFeed"` // iex or sip

	Watchlist []string `yaml:"watchlist"`

	// Capital and position limits.
	CapitalLimit   float64 `yaml:"capitalLimit"`
	MaxTradeSize   float64 `yaml:"maxTradeSize"`
	MaxPositions   int     `yaml:"maxPositions"`
	DailyLossLimit float64 `yaml:"dailyLossLimit"`

	// Exit thresholds as fractional returns.
	TakeProfitPct float64 `yaml:"takeProfitPct"`
	StopLossPct   float64 `yaml:"stopLossPct"`

	// Scoring thresholds.
	MinScore               int     `yaml:"minScore"`
	RSIOverbought          float64 `yaml:"rsiOverbought"`
	RSIOversold            float64 `yaml:"rsiOversold"`
	RSISecondaryOverbought float64 `yaml:"rsiSecondaryOverbought"`
	RSISecondaryOversold   float64 `yaml:"rsiSecondaryOversold"`
	VWAPDevPct             float64 `yaml:"vwapDevPct"`
	VolumeSurgeRatio       float64 `yaml:"volumeSurgeRatio"`
	MomentumPct            float64 `yaml:"momentumPct"`
	ATRElevatedRatio       float64 `yaml:"atrElevatedRatio"`

	// Contract selection.
	MinDaysToExpiry  int     `yaml:"minDaysToExpiry"`
	OTMMinPct        float64 `yaml:"otmMinPct"`
	OTMMaxPct        float64 `yaml:"otmMaxPct"`
	MaxContractPrice float64 `yaml:"maxContractPrice"`
	MaxSpreadPct     float64 `yaml:"maxSpreadPct"`

	// Loop timing.
	ScanInterval      time.Duration `yaml:"scanInterval"`
	CooldownAfterExit time.Duration `yaml:"cooldownAfterExit"`
	BarMinutes        int           `yaml:"barMinutes"`
	BarLookback       int           `yaml:"barLookback"`

	// Persistence.
	ReportsPath    string `yaml:"reportsPath"`
	CheckpointPath string `yaml:"checkpointPath"`
	TradeLogPath   string `yaml:"tradeLogPath"`
}

// Load resolves configuration with precedence flag > env > file >
// default. Validation failures are fatal at startup only.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	var (
		configPath string
		mode       string
		watchlist  string
	)
	flags := Config{}
	flag.StringVar(&configPath, "config", "", "path to YAML config file")
	flag.StringVar(&mode, "mode", "", "run mode: scan or trade")
	flag.StringVar(&watchlist, "watchlist", "", "comma-separated symbols, overrides config file")
	flag.BoolVar(&flags.Sandbox, "sandbox", cfg.Sandbox, "use the brokerage sandbox")
	flag.Float64Var(&flags.CapitalLimit, "capital-limit", cfg.CapitalLimit, "max total deployed capital")
	flag.Float64Var(&flags.MaxTradeSize, "max-trade-size", cfg.MaxTradeSize, "max cost per trade")
	flag.IntVar(&flags.MaxPositions, "max-positions", cfg.MaxPositions, "max concurrent positions")
	flag.DurationVar(&flags.ScanInterval, "scan-interval", cfg.ScanInterval, "time between cycles")
	flag.StringVar(&flags.ReportsPath, "reports-path", cfg.ReportsPath, "path to cycle report log")
	flag.StringVar(&flags.CheckpointPath, "checkpoint-path", cfg.CheckpointPath, "path to position checkpoint")
	flag.StringVar(&flags.TradeLogPath, "trade-log-path", cfg.TradeLogPath, "path to trade history db")
	flag.Parse()

	if configPath != "" {
		if err := loadFile(&cfg, configPath); err != nil {
			return cfg, err
		}
	}

	cfg.TradierToken = firstNonEmpty(os.Getenv("TRADIER_TOKEN"), cfg.TradierToken)
	cfg.AccountID = firstNonEmpty(os.Getenv("TRADIER_ACCOUNT_ID"), cfg.AccountID)
	cfg.AlpacaKey = firstNonEmpty(os.Getenv("APCA_API_KEY_ID"), cfg.AlpacaKey)
	cfg.AlpacaSecret = firstNonEmpty(os.Getenv("APCA_API_SECRET_KEY"), cfg.AlpacaSecret)

	// Flags set on the command line win over env and file values.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "sandbox":
			cfg.Sandbox = flags.Sandbox
		case "capital-limit":
			cfg.CapitalLimit = flags.CapitalLimit
		case "max-trade-size":
			cfg.MaxTradeSize = flags.MaxTradeSize
		case "max-positions":
			cfg.MaxPositions = flags.MaxPositions
		case "scan-interval":
			cfg.ScanInterval = flags.ScanInterval
		case "reports-path":
			cfg.ReportsPath = flags.ReportsPath
		case "checkpoint-path":
			cfg.CheckpointPath = flags.CheckpointPath
		case "trade-log-path":
			cfg.TradeLogPath = flags.TradeLogPath
		}
	})
	if mode != "" {
		cfg.Mode = Mode(mode)
	}
	if watchlist != "" {
		cfg.Watchlist = splitList(watchlist)
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Mode:     ModeScan,
		Sandbox:  true,
		DataFeed: "iex",
		Watchlist: []string{
			"TSLA", "NVDA", "COIN", "MSTR", "AMD",
			"PLTR", "HOOD", "RBLX", "SPY", "QQQ",
		},
		CapitalLimit:   500,
		MaxTradeSize:   125,
		MaxPositions:   2,
		DailyLossLimit: 75,

		TakeProfitPct: 0.80,
		StopLossPct:   0.50,

		MinScore:               4,
		RSIOverbought:          70,
		RSIOversold:            30,
		RSISecondaryOverbought: 80,
		RSISecondaryOversold:   20,
		VWAPDevPct:             0.01,
		VolumeSurgeRatio:       1.5,
		MomentumPct:            0.01,
		ATRElevatedRatio:       1.2,

		MinDaysToExpiry:  1,
		OTMMinPct:        0.01,
		OTMMaxPct:        0.05,
		MaxContractPrice: 3.00,
		MaxSpreadPct:     0.20,

		ScanInterval:      5 * time.Minute,
		CooldownAfterExit: 400 * time.Second,
		BarMinutes:        5,
		BarLookback:       120,

		ReportsPath:    "reports.ndjson",
		CheckpointPath: "positions.json",
		TradeLogPath:   "trades.db",
	}
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

func validate(cfg Config) error {
	if cfg.Mode != ModeScan && cfg.Mode != ModeTrade {
		return fmt.Errorf("invalid mode: %s", cfg.Mode)
	}
	if cfg.Mode == ModeTrade && (cfg.TradierToken == "" || cfg.AccountID == "") {
		return fmt.Errorf("TRADIER_TOKEN and TRADIER_ACCOUNT_ID are required in trade mode")
	}
	if len(cfg.Watchlist) == 0 {
		return fmt.Errorf("watchlist must not be empty")
	}
	if cfg.CapitalLimit <= 0 {
		return fmt.Errorf("capital-limit must be > 0")
	}
	if cfg.MaxTradeSize <= 0 || cfg.MaxTradeSize > cfg.CapitalLimit {
		return fmt.Errorf("max-trade-size must be > 0 and <= capital-limit")
	}
	if cfg.MaxPositions <= 0 {
		return fmt.Errorf("max-positions must be > 0")
	}
	if cfg.TakeProfitPct <= 0 || cfg.StopLossPct <= 0 || cfg.StopLossPct >= 1 {
		return fmt.Errorf("take-profit and stop-loss must be positive fractions, stop-loss < 1")
	}
	if cfg.MinScore <= 0 {
		return fmt.Errorf("min-score must be > 0")
	}
	if cfg.OTMMinPct < 0 || cfg.OTMMaxPct <= cfg.OTMMinPct {
		return fmt.Errorf("otm band must satisfy 0 <= min < max")
	}
	if cfg.ScanInterval <= 0 {
		return fmt.Errorf("scan-interval must be > 0")
	}
	if cfg.BarLookback < 40 {
		return fmt.Errorf("bar-lookback must be >= 40 to cover indicator lookbacks")
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, strings.ToUpper(trimmed))
		}
	}
	return out
}
