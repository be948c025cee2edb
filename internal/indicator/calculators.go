// Package indicator implements streaming technical-analysis calculators.
// Each calculator advances in O(1) per bar and reports readiness once its
// warm-up window is satisfied.
package indicator

import "math"

// SMA is a simple moving average over a fixed window.
type SMA struct {
	period int
	window []float64
	sum    float64
}

func NewSMA(period int) *SMA {
	return &SMA{period: period, window: make([]float64, 0, period)}
}

func (s *SMA) Update(v float64) {
	s.window = append(s.window, v)
	s.sum += v
	if len(s.window) > s.period {
		s.sum -= s.window[0]
		s.window = s.window[1:]
	}
}

// Value is defined only once the window is full.
func (s *SMA) Value() (float64, bool) {
	if len(s.window) < s.period {
		return 0, false
	}
	return s.sum / float64(s.period), true
}

// EMA is an exponential moving average with alpha = 2/(period+1). The
// first sample seeds the average.
type EMA struct {
	alpha  float64
	value  float64
	primed bool
}

func NewEMA(period int) *EMA {
	return &EMA{alpha: 2.0 / (float64(period) + 1)}
}

func (e *EMA) Update(v float64) {
	if !e.primed {
		e.value = v
		e.primed = true
		return
	}
	e.value = e.alpha*v + (1-e.alpha)*e.value
}

func (e *EMA) Value() (float64, bool) {
	return e.value, e.primed
}

// RSI is the relative strength index with exponential smoothing of gains
// and losses. It becomes ready after the first price-to-price delta.
type RSI struct {
	avgGain *EMA
	avgLoss *EMA
	prev    float64
	seen    bool
	ready   bool
}

func NewRSI(period int) *RSI {
	return &RSI{avgGain: NewEMA(period), avgLoss: NewEMA(period)}
}

func (r *RSI) Update(price float64) {
	if !r.seen {
		r.prev = price
		r.seen = true
		return
	}
	delta := price - r.prev
	r.prev = price
	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}
	r.avgGain.Update(gain)
	r.avgLoss.Update(loss)
	r.ready = true
}

func (r *RSI) Value() (float64, bool) {
	if !r.ready {
		return 0, false
	}
	gain, _ := r.avgGain.Value()
	loss, _ := r.avgLoss.Value()
	if loss == 0 {
		return 100, true
	}
	rs := gain / loss
	return 100 - 100/(1+rs), true
}

// MACD is the fast/slow EMA difference with a signal EMA over it.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA
}

func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{fast: NewEMA(fast), slow: NewEMA(slow), signal: NewEMA(signal)}
}

func (m *MACD) Update(price float64) {
	m.fast.Update(price)
	m.slow.Update(price)
	f, _ := m.fast.Value()
	s, _ := m.slow.Value()
	m.signal.Update(f - s)
}

// Value returns (macd line, signal line, histogram).
func (m *MACD) Value() (float64, float64, float64, bool) {
	f, okF := m.fast.Value()
	s, okS := m.slow.Value()
	sig, okSig := m.signal.Value()
	if !okF || !okS || !okSig {
		return 0, 0, 0, false
	}
	line := f - s
	return line, sig, line - sig, true
}

// Bollinger computes bands at k population standard deviations around an
// SMA middle band.
type Bollinger struct {
	period int
	k      float64
	window []float64
	sum    float64
}

func NewBollinger(period int, k float64) *Bollinger {
	return &Bollinger{period: period, k: k, window: make([]float64, 0, period)}
}

func (b *Bollinger) Update(price float64) {
	b.window = append(b.window, price)
	b.sum += price
	if len(b.window) > b.period {
		b.sum -= b.window[0]
		b.window = b.window[1:]
	}
}

// Value returns (upper, middle, lower).
func (b *Bollinger) Value() (float64, float64, float64, bool) {
	if len(b.window) < b.period {
		return 0, 0, 0, false
	}
	mean := b.sum / float64(b.period)
	var variance float64
	for _, v := range b.window {
		d := v - mean
		variance += d * d
	}
	variance /= float64(b.period)
	std := math.Sqrt(variance)
	return mean + b.k*std, mean, mean - b.k*std, true
}

// ATR is the average true range with exponential smoothing. The first
// bar's range seeds the average.
type ATR struct {
	smooth    *EMA
	prevClose float64
	seen      bool
}

func NewATR(period int) *ATR {
	return &ATR{smooth: NewEMA(period)}
}

func (a *ATR) Update(high, low, close float64) {
	tr := high - low
	if a.seen {
		tr = math.Max(tr, math.Max(
			math.Abs(high-a.prevClose),
			math.Abs(low-a.prevClose)))
	}
	a.prevClose = close
	a.seen = true
	a.smooth.Update(tr)
}

func (a *ATR) Value() (float64, bool) {
	return a.smooth.Value()
}
