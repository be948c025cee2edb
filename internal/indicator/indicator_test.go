package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickdrive/tickdrive/internal/domain"
)

func TestSMAWarmupAndValues(t *testing.T) {
	closes := []float64{100, 102, 101, 103, 105, 104, 106}
	want := []*float64{nil, nil, nil, nil,
		domain.Float(102.2), domain.Float(103.0), domain.Float(103.8)}

	sma := NewSMA(5)
	for i, c := range closes {
		sma.Update(c)
		v, ok := sma.Value()
		if want[i] == nil {
			assert.False(t, ok, "index %d should not be ready", i)
			continue
		}
		require.True(t, ok, "index %d should be ready", i)
		assert.InDelta(t, *want[i], v, 1e-9, "index %d", i)
	}
}

func TestEMASeedsWithFirstValue(t *testing.T) {
	ema := NewEMA(12)
	_, ok := ema.Value()
	assert.False(t, ok)

	ema.Update(100)
	v, ok := ema.Value()
	require.True(t, ok)
	assert.Equal(t, 100.0, v)

	ema.Update(113)
	v, _ = ema.Value()
	alpha := 2.0 / 13.0
	assert.InDelta(t, alpha*113+(1-alpha)*100, v, 1e-9)
}

func TestRSIMonotonicGainsSaturate(t *testing.T) {
	rsi := NewRSI(14)
	rsi.Update(100)
	_, ok := rsi.Value()
	assert.False(t, ok, "single price has no delta yet")

	for p := 101.0; p <= 110; p++ {
		rsi.Update(p)
	}
	v, ok := rsi.Value()
	require.True(t, ok)
	assert.Equal(t, 100.0, v)
}

func TestRSIBounded(t *testing.T) {
	rsi := NewRSI(14)
	prices := []float64{50, 52, 49, 53, 48, 55, 47, 56}
	for _, p := range prices {
		rsi.Update(p)
	}
	v, ok := rsi.Value()
	require.True(t, ok)
	assert.GreaterOrEqual(t, v, 0.0)
	assert.LessOrEqual(t, v, 100.0)
}

func TestMACDHistogramIsLineMinusSignal(t *testing.T) {
	m := NewMACD(12, 26, 9)
	for p := 100.0; p < 140; p++ {
		m.Update(p)
	}
	line, sig, hist, ok := m.Value()
	require.True(t, ok)
	assert.InDelta(t, line-sig, hist, 1e-12)
	assert.Greater(t, line, 0.0, "rising prices give positive macd")
}

func TestBollingerConstantPrices(t *testing.T) {
	bb := NewBollinger(20, 2)
	for i := 0; i < 19; i++ {
		bb.Update(100)
		_, _, _, ok := bb.Value()
		assert.False(t, ok)
	}
	bb.Update(100)
	upper, middle, lower, ok := bb.Value()
	require.True(t, ok)
	assert.Equal(t, 100.0, middle)
	assert.Equal(t, 100.0, upper)
	assert.Equal(t, 100.0, lower)
}

func TestBollingerBandWidth(t *testing.T) {
	bb := NewBollinger(20, 2)
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			bb.Update(90)
		} else {
			bb.Update(110)
		}
	}
	upper, middle, lower, ok := bb.Value()
	require.True(t, ok)
	assert.Equal(t, 100.0, middle)
	// Population std of an even 90/110 split is 10.
	assert.InDelta(t, 120.0, upper, 1e-9)
	assert.InDelta(t, 80.0, lower, 1e-9)
}

func TestATRFirstBarUsesHighLowRange(t *testing.T) {
	atr := NewATR(14)
	atr.Update(110, 90, 100)
	v, ok := atr.Value()
	require.True(t, ok)
	assert.Equal(t, 20.0, v)

	// Gap up: true range spans from the previous close.
	atr.Update(130, 125, 128)
	v, _ = atr.Value()
	alpha := 2.0 / 15.0
	assert.InDelta(t, alpha*30+(1-alpha)*20, v, 1e-9)
}

func testBar(i int, close float64) domain.Bar {
	return domain.Bar{
		Symbol: "BTCUSDT", Timeframe: "1h",
		Timestamp: int64(i) * 3600, Market: domain.MarketSpot,
		Open: close, High: close * 1.01, Low: close * 0.99,
		Close: close, Volume: 1000 + float64(i),
	}
}

func TestSetWarmupGate(t *testing.T) {
	s := NewSet()
	var last domain.IndicatorVector
	for i := 0; i < MinWarmupBars; i++ {
		last = s.Update(testBar(i, 100+math.Sin(float64(i)/10)*5))
		if i < MinWarmupBars-1 {
			assert.Nil(t, last.MA120, "ma120 not ready at bar %d", i)
		}
	}
	require.NotNil(t, last.MA120)
	require.NotNil(t, last.MA5)
	require.NotNil(t, last.RSI14)
	require.NotNil(t, last.MACDHistogram)
	require.NotNil(t, last.BBMiddle)
	require.NotNil(t, last.ATR14)
	require.NotNil(t, last.VolumeMA5)
}

func TestSetStreamingMatchesRecompute(t *testing.T) {
	closes := make([]float64, 150)
	for i := range closes {
		closes[i] = 100 + math.Sin(float64(i)/7)*8 + float64(i)*0.1
	}

	streaming := NewSet()
	var streamed domain.IndicatorVector
	for i, c := range closes {
		streamed = streaming.Update(testBar(i, c))
	}

	fresh := NewSet()
	var recomputed domain.IndicatorVector
	for i, c := range closes {
		recomputed = fresh.Update(testBar(i, c))
	}

	fields := map[string][2]*float64{
		"ma5":    {streamed.MA5, recomputed.MA5},
		"ma120":  {streamed.MA120, recomputed.MA120},
		"ema26":  {streamed.EMA26, recomputed.EMA26},
		"rsi14":  {streamed.RSI14, recomputed.RSI14},
		"macd":   {streamed.MACDHistogram, recomputed.MACDHistogram},
		"bb_up":  {streamed.BBUpper, recomputed.BBUpper},
		"atr14":  {streamed.ATR14, recomputed.ATR14},
		"volma5": {streamed.VolumeMA5, recomputed.VolumeMA5},
	}
	for name, pair := range fields {
		require.NotNil(t, pair[0], name)
		require.NotNil(t, pair[1], name)
		assert.InDelta(t, *pair[1], *pair[0], 1e-6, name)
	}
}

func TestSanitizeDropsOutOfRange(t *testing.T) {
	vec := domain.IndicatorVector{
		Symbol: "BTCUSDT", Timeframe: "1h",
		MA5:   domain.Float(-1),
		RSI14: domain.Float(120),
		ATR14: domain.Float(-0.5),
		EMA12: domain.Float(math.NaN()),
		MA20:  domain.Float(101.5),
	}
	sanitize(&vec)
	assert.Nil(t, vec.MA5)
	assert.Nil(t, vec.RSI14)
	assert.Nil(t, vec.ATR14)
	assert.Nil(t, vec.EMA12)
	require.NotNil(t, vec.MA20)
	assert.Equal(t, 101.5, *vec.MA20)
}
