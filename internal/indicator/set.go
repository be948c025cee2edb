package indicator

import (
	"math"

	"github.com/rs/zerolog/log"

	"github.com/tickdrive/tickdrive/internal/domain"
)

const (
	// PreheatBars is how much history a node requests to warm a fresh set.
	PreheatBars = 200
	// MinWarmupBars is the minimum history needed before a set emits; the
	// longest window (MA120) dictates it.
	MinWarmupBars = 120
)

// Set bundles the full calculator complement for one bar series. Update
// advances every calculator by one bar and returns the validated vector.
type Set struct {
	ma5, ma10, ma20, ma60, ma120 *SMA
	ema12, ema26                 *EMA
	rsi14                        *RSI
	macd                         *MACD
	bb                           *Bollinger
	atr14                        *ATR
	volumeMA5                    *SMA
}

// NewSet builds the standard complement: MA 5/10/20/60/120, EMA 12/26,
// RSI 14, MACD 12/26/9, Bollinger 20/2, ATR 14 and a volume MA 5.
func NewSet() *Set {
	return &Set{
		ma5: NewSMA(5), ma10: NewSMA(10), ma20: NewSMA(20),
		ma60: NewSMA(60), ma120: NewSMA(120),
		ema12: NewEMA(12), ema26: NewEMA(26),
		rsi14:     NewRSI(14),
		macd:      NewMACD(12, 26, 9),
		bb:        NewBollinger(20, 2),
		atr14:     NewATR(14),
		volumeMA5: NewSMA(5),
	}
}

// Update advances every calculator with the bar and returns the vector at
// the bar's timestamp. Fields stay nil until their calculator is ready.
func (s *Set) Update(b domain.Bar) domain.IndicatorVector {
	price := b.Close

	s.ma5.Update(price)
	s.ma10.Update(price)
	s.ma20.Update(price)
	s.ma60.Update(price)
	s.ma120.Update(price)
	s.ema12.Update(price)
	s.ema26.Update(price)
	s.rsi14.Update(price)
	s.macd.Update(price)
	s.bb.Update(price)
	s.atr14.Update(b.High, b.Low, b.Close)
	s.volumeMA5.Update(b.Volume)

	vec := domain.IndicatorVector{
		Symbol:    b.Symbol,
		Timeframe: b.Timeframe,
		Timestamp: b.Timestamp,
		Market:    b.Market,
	}
	vec.MA5 = ready(s.ma5.Value())
	vec.MA10 = ready(s.ma10.Value())
	vec.MA20 = ready(s.ma20.Value())
	vec.MA60 = ready(s.ma60.Value())
	vec.MA120 = ready(s.ma120.Value())
	vec.EMA12 = ready(s.ema12.Value())
	vec.EMA26 = ready(s.ema26.Value())
	vec.RSI14 = ready(s.rsi14.Value())
	if line, sig, hist, ok := s.macd.Value(); ok {
		vec.MACDLine, vec.MACDSignal, vec.MACDHistogram = &line, &sig, &hist
	}
	if upper, middle, lower, ok := s.bb.Value(); ok {
		vec.BBUpper, vec.BBMiddle, vec.BBLower = &upper, &middle, &lower
	}
	vec.ATR14 = ready(s.atr14.Value())
	vec.VolumeMA5 = ready(s.volumeMA5.Value())

	sanitize(&vec)
	return vec
}

func ready(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}

// sanitize nulls any field that fails its range check so downstream
// consumers never see an impossible value.
func sanitize(vec *domain.IndicatorVector) {
	drop := func(name string, f **float64, valid func(float64) bool) {
		if *f == nil {
			return
		}
		v := **f
		if math.IsNaN(v) || math.IsInf(v, 0) || !valid(v) {
			log.Warn().Str("symbol", vec.Symbol).Str("field", name).
				Float64("value", v).Int64("ts", vec.Timestamp).
				Msg("indicator value out of range, dropping")
			*f = nil
		}
	}

	positive := func(v float64) bool { return v > 0 }
	finite := func(float64) bool { return true }

	drop("ma5", &vec.MA5, positive)
	drop("ma10", &vec.MA10, positive)
	drop("ma20", &vec.MA20, positive)
	drop("ma60", &vec.MA60, positive)
	drop("ma120", &vec.MA120, positive)
	drop("ema12", &vec.EMA12, positive)
	drop("ema26", &vec.EMA26, positive)
	drop("rsi14", &vec.RSI14, func(v float64) bool { return v >= 0 && v <= 100 })
	drop("macd_line", &vec.MACDLine, finite)
	drop("macd_signal", &vec.MACDSignal, finite)
	drop("macd_histogram", &vec.MACDHistogram, finite)
	drop("bb_upper", &vec.BBUpper, positive)
	drop("bb_middle", &vec.BBMiddle, positive)
	drop("bb_lower", &vec.BBLower, finite)
	drop("atr14", &vec.ATR14, func(v float64) bool { return v >= 0 })
	drop("volume_ma5", &vec.VolumeMA5, func(v float64) bool { return v >= 0 })
}
