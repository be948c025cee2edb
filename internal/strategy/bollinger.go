package strategy

import (
	"fmt"
	"math"

	"github.com/tickdrive/tickdrive/internal/domain"
)

// BollingerParams tunes the band-touch rule set.
type BollingerParams struct {
	TouchPct      float64 `json:"touch_pct"`       // how close to a band counts as a touch
	MiddleExitPct float64 `json:"middle_exit_pct"` // how close to the middle band closes the trade
	MinWidthPct   float64 `json:"min_width_pct"`   // squeeze floor for confirmation
	MaxWidthPct   float64 `json:"max_width_pct"`   // blowout ceiling for confirmation
	RSILongMax    float64 `json:"rsi_long_max"`    // RSI under this strengthens a lower-band bounce
	RSIShortMin   float64 `json:"rsi_short_min"`   // RSI over this strengthens an upper-band fade
}

func DefaultBollingerParams() BollingerParams {
	return BollingerParams{
		TouchPct:      0.005,
		MiddleExitPct: 0.002,
		MinWidthPct:   0.02,
		MaxWidthPct:   0.15,
		RSILongMax:    35,
		RSIShortMin:   65,
	}
}

func (p BollingerParams) Validate() error {
	if p.TouchPct < 0 || p.MiddleExitPct < 0 {
		return fmt.Errorf("touch_pct %v and middle_exit_pct %v must not be negative",
			p.TouchPct, p.MiddleExitPct)
	}
	if p.MinWidthPct < 0 || p.MinWidthPct >= p.MaxWidthPct {
		return fmt.Errorf("width window [%v, %v] must satisfy 0 <= min < max",
			p.MinWidthPct, p.MaxWidthPct)
	}
	if p.RSILongMax < 0 || p.RSILongMax >= p.RSIShortMin || p.RSIShortMin > 100 {
		return fmt.Errorf("rsi window [%v, %v] must satisfy 0 <= long_max < short_min <= 100",
			p.RSILongMax, p.RSIShortMin)
	}
	return nil
}

// BollingerBounce fades band touches back toward the middle band.
type BollingerBounce struct {
	params BollingerParams
}

func NewBollingerBounce(params BollingerParams) *BollingerBounce {
	return &BollingerBounce{params: params}
}

func (b *BollingerBounce) Name() string { return "bollinger" }

func bands(v *domain.IndicatorVector) (upper, middle, lower float64, ok bool) {
	if v == nil || v.BBUpper == nil || v.BBMiddle == nil || v.BBLower == nil {
		return 0, 0, 0, false
	}
	return *v.BBUpper, *v.BBMiddle, *v.BBLower, true
}

func (b *BollingerBounce) CheckEntry(s Snapshot) *domain.Signal {
	upper, middle, lower, ok := bands(s.Indicator)
	if !ok || middle <= 0 {
		return nil
	}
	price := s.Bar.Close

	touchLower := price <= lower*(1+b.params.TouchPct)
	touchUpper := price >= upper*(1-b.params.TouchPct)
	if !touchLower && !touchUpper {
		return nil
	}

	// Band trades carry their own conviction model: start neutral and let
	// the oscillator and band position speak.
	conf := 0.5
	if s.Indicator.RSI14 != nil {
		rsi := *s.Indicator.RSI14
		if touchLower && rsi < b.params.RSILongMax {
			conf += 0.2
		}
		if touchUpper && rsi > b.params.RSIShortMin {
			conf += 0.2
		}
	}
	if s.Indicator.VolumeMA5 != nil {
		conf += 0.1
	}
	conf = math.Min(conf, 1.0)

	if touchLower {
		return openSignal(b.Name(), s, domain.SideLong, "Price touched lower band", conf)
	}
	return openSignal(b.Name(), s, domain.SideShort, "Price touched upper band", conf)
}

func (b *BollingerBounce) CheckExit(s Snapshot) *domain.Signal {
	upper, middle, lower, ok := bands(s.Indicator)
	if !ok || middle <= 0 {
		return nil
	}
	price := s.Bar.Close

	if math.Abs(price-middle)/middle <= b.params.MiddleExitPct {
		return closeSignal(b.Name(), s, "Price reached middle band")
	}
	if s.Position.Side == domain.SideLong && price >= upper*(1-b.params.TouchPct) {
		return closeSignal(b.Name(), s, "Price reached upper band")
	}
	if s.Position.Side == domain.SideShort && price <= lower*(1+b.params.TouchPct) {
		return closeSignal(b.Name(), s, "Price reached lower band")
	}
	return nil
}

func (b *BollingerBounce) Confirm(s Snapshot, sig *domain.Signal) (bool, string) {
	upper, middle, lower, ok := bands(s.Indicator)
	if !ok || middle <= 0 {
		return false, "bands"
	}
	width := (upper - lower) / middle
	if width < b.params.MinWidthPct || width > b.params.MaxWidthPct {
		return false, "band_width"
	}
	return true, ""
}
