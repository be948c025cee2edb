package strategy

import (
	"fmt"
	"math"

	"github.com/tickdrive/tickdrive/internal/domain"
)

// DualMAParams tunes the moving-average crossover rule set.
type DualMAParams struct {
	StrongCrossPct float64 `json:"strong_cross_pct"` // cross strength that earns a confidence boost
	MaxATRPct      float64 `json:"max_atr_pct"`      // volatility ceiling for confirmation
}

func DefaultDualMAParams() DualMAParams {
	return DualMAParams{StrongCrossPct: 0.01, MaxATRPct: 0.08}
}

func (p DualMAParams) Validate() error {
	if p.StrongCrossPct < 0 {
		return fmt.Errorf("strong_cross_pct %v must not be negative", p.StrongCrossPct)
	}
	if p.MaxATRPct <= 0 {
		return fmt.Errorf("max_atr_pct %v must be positive", p.MaxATRPct)
	}
	return nil
}

// DualMA trades golden and death crosses of the 5-bar over the 20-bar
// moving average.
type DualMA struct {
	params DualMAParams
}

func NewDualMA(params DualMAParams) *DualMA { return &DualMA{params: params} }

func (d *DualMA) Name() string { return "dual_ma" }

func (d *DualMA) mas(v *domain.IndicatorVector) (fast, slow float64, ok bool) {
	if v == nil || v.MA5 == nil || v.MA20 == nil {
		return 0, 0, false
	}
	return *v.MA5, *v.MA20, true
}

func (d *DualMA) CheckEntry(s Snapshot) *domain.Signal {
	prevFast, prevSlow, ok := d.mas(s.PrevIndicator)
	if !ok {
		return nil
	}
	fast, slow, ok := d.mas(s.Indicator)
	if !ok {
		return nil
	}

	golden := prevFast <= prevSlow && fast > slow
	death := prevFast >= prevSlow && fast < slow
	if !golden && !death {
		return nil
	}

	conf := baseConfidence(s.Indicator)
	if slow > 0 && math.Abs(fast-slow)/slow > d.params.StrongCrossPct {
		conf = math.Min(conf+0.1, 1.0)
	}

	if golden {
		return openSignal(d.Name(), s, domain.SideLong, "Golden cross: MA5 crossed above MA20", conf)
	}
	return openSignal(d.Name(), s, domain.SideShort, "Death cross: MA5 crossed below MA20", conf)
}

func (d *DualMA) CheckExit(s Snapshot) *domain.Signal {
	prevFast, prevSlow, ok := d.mas(s.PrevIndicator)
	if !ok {
		return nil
	}
	fast, slow, ok := d.mas(s.Indicator)
	if !ok {
		return nil
	}

	if s.Position.Side == domain.SideLong && prevFast >= prevSlow && fast < slow {
		return closeSignal(d.Name(), s, "Death cross against long position")
	}
	if s.Position.Side == domain.SideShort && prevFast <= prevSlow && fast > slow {
		return closeSignal(d.Name(), s, "Golden cross against short position")
	}
	return nil
}

func (d *DualMA) Confirm(s Snapshot, sig *domain.Signal) (bool, string) {
	if s.Indicator.ATR14 != nil && s.Indicator.MA20 != nil && *s.Indicator.MA20 > 0 {
		if *s.Indicator.ATR14 / *s.Indicator.MA20 > d.params.MaxATRPct {
			return false, "atr_pct"
		}
	}
	return true, ""
}
