package signal

import (
	"sort"

	"optionsagent/internal/indicator"
)

type Direction string

const (
	Bullish Direction = "CALL"
	Bearish Direction = "PUT"
	Neutral Direction = "NEUTRAL"
)

// Thresholds are the tunable scoring constants. The illustrative
// defaults live in config; nothing here is hardcoded business logic.
type Thresholds struct {
	RSIOverbought          float64 // e.g. 70
	RSIOversold            float64 // e.g. 30
	RSISecondaryOverbought float64 // e.g. 80, worth an extra point
	RSISecondaryOversold   float64 // e.g. 20
	VWAPDevPct             float64 // e.g. 0.01
	VolumeSurgeRatio       float64 // e.g. 1.5
	MomentumPct            float64 // e.g. 0.01
	ATRElevatedRatio       float64 // e.g. 1.2
	MinScore               int     // e.g. 4, below this no signal
}

// Signal is one cycle's verdict for one instrument. It is consumed
// immediately and never persisted.
type Signal struct {
	Symbol    string
	Score     int
	Direction Direction
	Breakdown map[string]int
	Momentum  float64
	Price     float64
}

type Scorer struct {
	t Thresholds
}

func NewScorer(t Thresholds) Scorer {
	return Scorer{t: t}
}

// Score aggregates the indicator snapshot into a bounded score with a
// direction. ok is false when the score is below the minimum or the
// directional indicators cancel out; callers treat that as no trade.
func (s Scorer) Score(symbol string, snap indicator.Snapshot) (Signal, bool) {
	breakdown := map[string]int{}
	score := 0
	votes := 0 // +1 bullish, -1 bearish per directional indicator

	switch {
	case snap.RSI > s.t.RSISecondaryOverbought:
		breakdown["rsi"] = 2
		score += 2
		votes++
	case snap.RSI > s.t.RSIOverbought:
		breakdown["rsi"] = 1
		score++
		votes++
	case snap.RSI < s.t.RSISecondaryOversold:
		breakdown["rsi"] = 2
		score += 2
		votes--
	case snap.RSI < s.t.RSIOversold:
		breakdown["rsi"] = 1
		score++
		votes--
	}

	if snap.VWAPDev > s.t.VWAPDevPct {
		breakdown["vwap"] = 1
		score++
		votes++
	} else if snap.VWAPDev < -s.t.VWAPDevPct {
		breakdown["vwap"] = 1
		score++
		votes--
	}

	if snap.VolumeRatio > s.t.VolumeSurgeRatio {
		breakdown["volume"] = 2
		score += 2
	}

	if snap.Momentum > s.t.MomentumPct {
		breakdown["momentum"] = 1
		score++
		votes++
	} else if snap.Momentum < -s.t.MomentumPct {
		breakdown["momentum"] = 1
		score++
		votes--
	}

	if snap.ATRRatio > s.t.ATRElevatedRatio {
		breakdown["atr"] = 1
		score++
	}

	direction := Neutral
	if votes > 0 {
		direction = Bullish
	} else if votes < 0 {
		direction = Bearish
	}

	sig := Signal{
		Symbol:    symbol,
		Score:     score,
		Direction: direction,
		Breakdown: breakdown,
		Momentum:  snap.Momentum,
		Price:     snap.Close,
	}
	if score < s.t.MinScore || direction == Neutral {
		return sig, false
	}
	return sig, true
}

// Best picks the single actionable signal for the cycle: highest score,
// ties broken by largest absolute momentum, then by symbol. Neutral
// signals never qualify. Deterministic for a given input set.
func Best(signals []Signal) (Signal, bool) {
	candidates := make([]Signal, 0, len(signals))
	for _, sig := range signals {
		if sig.Direction != Neutral {
			candidates = append(candidates, sig)
		}
	}
	if len(candidates) == 0 {
		return Signal{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		am, bm := abs(a.Momentum), abs(b.Momentum)
		if am != bm {
			return am > bm
		}
		return a.Symbol < b.Symbol
	})
	return candidates[0], true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
