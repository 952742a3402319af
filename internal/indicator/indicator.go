package indicator

import (
	"errors"
	"fmt"
	"time"
)

// ErrInsufficientData is returned when a window is shorter than the
// largest lookback an indicator needs. Callers skip the instrument for
// the cycle.
var ErrInsufficientData = errors.New("insufficient data")

const (
	RSIPeriod      = 14
	ATRPeriod      = 14
	MomentumBars   = 5
	VolumeAvgBars  = 20
	ATRTrailingAvg = 20
)

// MinBars is the smallest window every indicator can be computed from.
// RSI and ATR need one extra bar for the first delta / previous close.
const MinBars = ATRPeriod + ATRTrailingAvg + 1

// Bar is one OHLCV bar. Windows are time-ascending and immutable for
// the duration of a cycle.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Snapshot holds every indicator value for one instrument window.
// All values are recomputed from fresh history each cycle; nothing is
// carried between cycles.
type Snapshot struct {
	Close       float64
	RSI         float64
	VWAP        float64
	VWAPDev     float64 // (close-vwap)/vwap
	Momentum    float64 // 5-bar return
	VolumeRatio float64 // current volume / trailing average
	ATR         float64
	ATRRatio    float64 // current ATR / trailing ATR average
}

// Compute evaluates the full indicator set over bars.
func Compute(bars []Bar) (Snapshot, error) {
	if len(bars) < MinBars {
		return Snapshot{}, fmt.Errorf("%w: have %d bars, need %d", ErrInsufficientData, len(bars), MinBars)
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	last := bars[len(bars)-1]

	rsi, err := RSI(closes, RSIPeriod)
	if err != nil {
		return Snapshot{}, err
	}
	vwap, err := VWAP(bars)
	if err != nil {
		return Snapshot{}, err
	}
	mom, err := Momentum(closes, MomentumBars)
	if err != nil {
		return Snapshot{}, err
	}
	volRatio, err := VolumeRatio(bars, VolumeAvgBars)
	if err != nil {
		return Snapshot{}, err
	}
	atr, atrRatio, err := ATRWithTrailing(bars, ATRPeriod, ATRTrailingAvg)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Close:       last.Close,
		RSI:         rsi,
		VWAP:        vwap,
		VWAPDev:     (last.Close - vwap) / vwap,
		Momentum:    mom,
		VolumeRatio: volRatio,
		ATR:         atr,
		ATRRatio:    atrRatio,
	}, nil
}

// RSI computes a Wilder-smoothed relative strength index over the last
// value of the series.
func RSI(closes []float64, period int) (float64, error) {
	if len(closes) < period+1 {
		return 0, fmt.Errorf("%w: rsi needs %d closes", ErrInsufficientData, period+1)
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}
	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

// VWAP is the volume-weighted average price of the window, using the
// typical price (H+L+C)/3 per bar.
func VWAP(bars []Bar) (float64, error) {
	if len(bars) == 0 {
		return 0, fmt.Errorf("%w: vwap needs at least one bar", ErrInsufficientData)
	}
	var pv, vol float64
	for _, b := range bars {
		typical := (b.High + b.Low + b.Close) / 3
		pv += typical * b.Volume
		vol += b.Volume
	}
	if vol == 0 {
		return 0, fmt.Errorf("%w: vwap window has zero volume", ErrInsufficientData)
	}
	return pv / vol, nil
}

// Momentum is the fractional return between the last close and the
// close lookback bars earlier.
func Momentum(closes []float64, lookback int) (float64, error) {
	if len(closes) < lookback+1 {
		return 0, fmt.Errorf("%w: momentum needs %d closes", ErrInsufficientData, lookback+1)
	}
	ref := closes[len(closes)-1-lookback]
	if ref == 0 {
		return 0, fmt.Errorf("%w: zero reference close", ErrInsufficientData)
	}
	return (closes[len(closes)-1] - ref) / ref, nil
}

// VolumeRatio compares the last bar's volume to the trailing average of
// the avgBars bars before it.
func VolumeRatio(bars []Bar, avgBars int) (float64, error) {
	if len(bars) < avgBars+1 {
		return 0, fmt.Errorf("%w: volume ratio needs %d bars", ErrInsufficientData, avgBars+1)
	}
	var sum float64
	for _, b := range bars[len(bars)-1-avgBars : len(bars)-1] {
		sum += b.Volume
	}
	avg := sum / float64(avgBars)
	if avg == 0 {
		return 0, fmt.Errorf("%w: zero trailing volume", ErrInsufficientData)
	}
	return bars[len(bars)-1].Volume / avg, nil
}

// ATRWithTrailing returns the current Wilder-smoothed ATR and its ratio
// to the mean ATR over the previous trailing bars.
func ATRWithTrailing(bars []Bar, period, trailing int) (atr float64, ratio float64, err error) {
	series, err := atrSeries(bars, period)
	if err != nil {
		return 0, 0, err
	}
	if len(series) < trailing+1 {
		return 0, 0, fmt.Errorf("%w: atr trailing average needs %d values", ErrInsufficientData, trailing+1)
	}
	atr = series[len(series)-1]
	var sum float64
	for _, v := range series[len(series)-1-trailing : len(series)-1] {
		sum += v
	}
	avg := sum / float64(trailing)
	if avg == 0 {
		return atr, 0, fmt.Errorf("%w: zero trailing atr", ErrInsufficientData)
	}
	return atr, atr / avg, nil
}

func atrSeries(bars []Bar, period int) ([]float64, error) {
	if len(bars) < period+1 {
		return nil, fmt.Errorf("%w: atr needs %d bars", ErrInsufficientData, period+1)
	}
	trs := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		b, prev := bars[i], bars[i-1]
		tr := b.High - b.Low
		if d := abs(b.High - prev.Close); d > tr {
			tr = d
		}
		if d := abs(b.Low - prev.Close); d > tr {
			tr = d
		}
		trs = append(trs, tr)
	}
	series := make([]float64, 0, len(trs)-period+1)
	var atr float64
	for _, tr := range trs[:period] {
		atr += tr
	}
	atr /= float64(period)
	series = append(series, atr)
	for _, tr := range trs[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
		series = append(series, atr)
	}
	return series, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
