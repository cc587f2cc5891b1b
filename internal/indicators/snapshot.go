package indicators

import (
	"fmt"
	"math"
)

// Default periods used by the market-state snapshot
const (
	DefaultEMAFast    = 9
	DefaultEMASlow    = 21
	DefaultRSIPeriod  = 14
	DefaultMACDFast   = 12
	DefaultMACDSlow   = 26
	DefaultMACDSignal = 9
	DefaultBBPeriod   = 20
	DefaultBBMult     = 2.0
	DefaultATRPeriod  = 14
	DefaultADXPeriod  = 14
	DefaultVolWindow  = 20

	// MinSnapshotBars is what the slowest chain (MACD 26+9) needs
	MinSnapshotBars = DefaultMACDSlow + DefaultMACDSignal
)

// Snapshot bundles every indicator the decision pipeline reads for
// one symbol and timeframe. All values refer to the latest bar.
type Snapshot struct {
	EMAFast       float64 `json:"ema_fast"`
	EMASlow       float64 `json:"ema_slow"`
	RSI           float64 `json:"rsi"`
	MACD          float64 `json:"macd"`
	MACDSignal    float64 `json:"macd_signal"`
	MACDHistogram float64 `json:"macd_histogram"`
	BBUpper       float64 `json:"bb_upper"`
	BBMiddle      float64 `json:"bb_middle"`
	BBLower       float64 `json:"bb_lower"`
	BBWidth       float64 `json:"bb_width"`
	ATR           float64 `json:"atr"`
	ATRPct        float64 `json:"atr_pct"`
	ADX           float64 `json:"adx"`
	Volatility    float64 `json:"volatility"`
}

// ComputeSnapshot runs the full indicator set over aligned OHLC
// arrays. Every formula is deterministic, so identical candles give
// identical snapshots in backtest and live.
func ComputeSnapshot(high, low, closes []float64) (*Snapshot, error) {
	if len(high) != len(low) || len(high) != len(closes) {
		return nil, fmt.Errorf("high, low, and close arrays must have the same length")
	}
	if len(closes) < MinSnapshotBars {
		return nil, fmt.Errorf("insufficient data: need at least %d bars, got %d", MinSnapshotBars, len(closes))
	}

	emaFast, err := EMA(closes, DefaultEMAFast)
	if err != nil {
		return nil, err
	}
	emaSlow, err := EMA(closes, DefaultEMASlow)
	if err != nil {
		return nil, err
	}
	rsi, err := RSI(closes, DefaultRSIPeriod)
	if err != nil {
		return nil, err
	}
	macd, err := MACD(closes, DefaultMACDFast, DefaultMACDSlow, DefaultMACDSignal)
	if err != nil {
		return nil, err
	}
	bb, err := LatestBollinger(closes, DefaultBBPeriod, DefaultBBMult)
	if err != nil {
		return nil, err
	}
	atr, err := LatestATR(high, low, closes, DefaultATRPeriod)
	if err != nil {
		return nil, err
	}
	adx, err := ADX(high, low, closes, DefaultADXPeriod)
	if err != nil {
		return nil, err
	}

	n := len(closes)
	return &Snapshot{
		EMAFast:       emaFast[n-1],
		EMASlow:       emaSlow[n-1],
		RSI:           rsi[n-1],
		MACD:          macd.MACD[n-1],
		MACDSignal:    macd.Signal[n-1],
		MACDHistogram: macd.Histogram[n-1],
		BBUpper:       bb.Upper,
		BBMiddle:      bb.Middle,
		BBLower:       bb.Lower,
		BBWidth:       bb.Width,
		ATR:           atr.Value,
		ATRPct:        atr.Pct,
		ADX:           adx,
		Volatility:    Volatility(closes, DefaultVolWindow),
	}, nil
}

// Map flattens the snapshot into the indicator map carried by the
// market state.
func (s *Snapshot) Map() map[string]float64 {
	return map[string]float64{
		"ema_fast":       s.EMAFast,
		"ema_slow":       s.EMASlow,
		"rsi":            s.RSI,
		"macd":           s.MACD,
		"macd_signal":    s.MACDSignal,
		"macd_histogram": s.MACDHistogram,
		"bb_upper":       s.BBUpper,
		"bb_middle":      s.BBMiddle,
		"bb_lower":       s.BBLower,
		"bb_width":       s.BBWidth,
		"atr":            s.ATR,
		"atr_pct":        s.ATRPct,
		"adx":            s.ADX,
		"volatility":     s.Volatility,
	}
}

// Volatility is the population standard deviation of simple per-bar
// returns over the trailing window. Used by the system breaker tier.
func Volatility(closes []float64, window int) float64 {
	if window < 2 || len(closes) < 2 {
		return 0
	}
	start := len(closes) - window - 1
	if start < 0 {
		start = 0
	}

	var returns []float64
	for i := start + 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(returns)))
}
