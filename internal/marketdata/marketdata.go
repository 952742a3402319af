package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"optionsagent/internal/broker"
	"optionsagent/internal/indicator"
)

// Client fetches historical OHLCV windows from Alpaca market data. A
// fresh window is pulled every cycle; nothing is cached between cycles.
type Client struct {
	md        *marketdata.Client
	feed      marketdata.Feed
	barWidth  time.Duration
	timeframe marketdata.TimeFrame
	now       func() time.Time
}

// New builds a client around the given clock so the lookback window
// follows the cycle time. A nil clock falls back to wall time.
func New(apiKey, apiSecret, feed string, barMinutes int, now func() time.Time) *Client {
	if now == nil {
		now = time.Now
	}
	return &Client{
		md: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
		}),
		feed:      parseFeed(feed),
		barWidth:  time.Duration(barMinutes) * time.Minute,
		timeframe: marketdata.NewTimeFrame(barMinutes, marketdata.Min),
		now:       now,
	}
}

// Bars returns the most recent limit bars for symbol, time-ascending.
// Failures surface as broker.ErrDataUnavailable so the loop skips the
// instrument for the cycle.
func (c *Client) Bars(ctx context.Context, symbol string, limit int) ([]indicator.Bar, error) {
	start := lookbackStart(c.now(), limit, c.barWidth)
	raw, err := c.md.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame:  c.timeframe,
		Start:      start,
		TotalLimit: limit * 6,
		Feed:       c.feed,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: bars for %s: %v", broker.ErrDataUnavailable, symbol, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no bars for %s", broker.ErrDataUnavailable, symbol)
	}
	if len(raw) > limit {
		raw = raw[len(raw)-limit:]
	}
	bars := make([]indicator.Bar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, indicator.Bar{
			Time:   b.Timestamp,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: float64(b.Volume),
		})
	}
	return bars, nil
}

// lookbackStart reaches back far enough from the cycle time to cover
// overnight and weekend gaps in intraday history.
func lookbackStart(now time.Time, limit int, barWidth time.Duration) time.Time {
	return now.Add(-time.Duration(limit) * barWidth * 6)
}

func parseFeed(feed string) marketdata.Feed {
	switch feed {
	case "sip":
		return marketdata.SIP
	default:
		return marketdata.IEX
	}
}
