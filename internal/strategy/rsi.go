package strategy

import (
	"fmt"
	"math"

	"github.com/tickdrive/tickdrive/internal/domain"
)

// RSIParams tunes the oscillator thresholds.
type RSIParams struct {
	Oversold    float64 `json:"oversold"`
	Overbought  float64 `json:"overbought"`
	ExitLong    float64 `json:"exit_long"`    // close longs when RSI runs this hot
	ExitShort   float64 `json:"exit_short"`   // close shorts when RSI runs this cold
	MomentumMin float64 `json:"momentum_min"` // RSI delta that earns a confidence boost
}

func DefaultRSIParams() RSIParams {
	return RSIParams{
		Oversold: 30, Overbought: 70,
		ExitLong: 80, ExitShort: 20,
		MomentumMin: 5,
	}
}

func (p RSIParams) Validate() error {
	if p.Oversold <= 0 || p.Overbought >= 100 || p.Oversold >= p.Overbought {
		return fmt.Errorf("oversold %v and overbought %v must satisfy 0 < oversold < overbought < 100",
			p.Oversold, p.Overbought)
	}
	if p.ExitLong < p.Overbought {
		return fmt.Errorf("exit_long %v must not be below overbought %v", p.ExitLong, p.Overbought)
	}
	if p.ExitShort > p.Oversold {
		return fmt.Errorf("exit_short %v must not be above oversold %v", p.ExitShort, p.Oversold)
	}
	if p.MomentumMin < 0 {
		return fmt.Errorf("momentum_min %v must not be negative", p.MomentumMin)
	}
	return nil
}

// RSIReversal enters when the oscillator crosses back out of an extreme
// zone, a mean-reversion rule set.
type RSIReversal struct {
	params RSIParams
}

func NewRSIReversal(params RSIParams) *RSIReversal { return &RSIReversal{params: params} }

func (r *RSIReversal) Name() string { return "rsi" }

func (r *RSIReversal) CheckEntry(s Snapshot) *domain.Signal {
	if s.Indicator.RSI14 == nil || s.PrevIndicator == nil || s.PrevIndicator.RSI14 == nil {
		return nil
	}
	prev, cur := *s.PrevIndicator.RSI14, *s.Indicator.RSI14

	exitOversold := prev < r.params.Oversold && cur >= r.params.Oversold
	exitOverbought := prev > r.params.Overbought && cur <= r.params.Overbought
	if !exitOversold && !exitOverbought {
		return nil
	}

	conf := baseConfidence(s.Indicator)
	if math.Abs(cur-prev) > r.params.MomentumMin {
		conf = math.Min(conf+0.15, 1.0)
	}

	if exitOversold {
		return openSignal(r.Name(), s, domain.SideLong, "RSI recovered from oversold", conf)
	}
	return openSignal(r.Name(), s, domain.SideShort, "RSI retreated from overbought", conf)
}

func (r *RSIReversal) CheckExit(s Snapshot) *domain.Signal {
	if s.Indicator.RSI14 == nil {
		return nil
	}
	cur := *s.Indicator.RSI14
	if s.Position.Side == domain.SideLong && cur > r.params.ExitLong {
		return closeSignal(r.Name(), s, "RSI extremely overbought")
	}
	if s.Position.Side == domain.SideShort && cur < r.params.ExitShort {
		return closeSignal(r.Name(), s, "RSI extremely oversold")
	}
	return nil
}

func (r *RSIReversal) Confirm(s Snapshot, sig *domain.Signal) (bool, string) {
	return true, ""
}
