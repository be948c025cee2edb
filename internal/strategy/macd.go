package strategy

import (
	"fmt"
	"math"

	"github.com/tickdrive/tickdrive/internal/domain"
)

// MACDParams tunes the crossover rule set.
type MACDParams struct {
	MinHistogram float64 `json:"min_histogram"` // reject crosses with a flat histogram
}

func DefaultMACDParams() MACDParams {
	return MACDParams{MinHistogram: 0.001}
}

func (p MACDParams) Validate() error {
	if p.MinHistogram < 0 {
		return fmt.Errorf("min_histogram %v must not be negative", p.MinHistogram)
	}
	return nil
}

// MACDCross trades the MACD line crossing its signal line, with the zero
// line deciding how much conviction the cross carries.
type MACDCross struct {
	params MACDParams
}

func NewMACDCross(params MACDParams) *MACDCross { return &MACDCross{params: params} }

func (m *MACDCross) Name() string { return "macd" }

func lines(v *domain.IndicatorVector) (line, sig float64, ok bool) {
	if v == nil || v.MACDLine == nil || v.MACDSignal == nil {
		return 0, 0, false
	}
	return *v.MACDLine, *v.MACDSignal, true
}

func (m *MACDCross) CheckEntry(s Snapshot) *domain.Signal {
	prevLine, prevSig, ok := lines(s.PrevIndicator)
	if !ok {
		return nil
	}
	line, sig, ok := lines(s.Indicator)
	if !ok {
		return nil
	}

	bullish := prevLine <= prevSig && line > sig
	bearish := prevLine >= prevSig && line < sig
	if !bullish && !bearish {
		return nil
	}

	conf := baseConfidence(s.Indicator)
	if bullish && line > 0 {
		conf = math.Min(conf+0.1, 1.0)
	}
	if bearish && line < 0 {
		conf = math.Min(conf+0.1, 1.0)
	}

	if bullish {
		return openSignal(m.Name(), s, domain.SideLong, "MACD crossed above signal line", conf)
	}
	return openSignal(m.Name(), s, domain.SideShort, "MACD crossed below signal line", conf)
}

func (m *MACDCross) CheckExit(s Snapshot) *domain.Signal {
	prevLine, prevSig, ok := lines(s.PrevIndicator)
	if !ok {
		return nil
	}
	line, sig, ok := lines(s.Indicator)
	if !ok {
		return nil
	}

	if s.Position.Side == domain.SideLong && prevLine >= prevSig && line < sig {
		return closeSignal(m.Name(), s, "MACD crossed below signal line")
	}
	if s.Position.Side == domain.SideShort && prevLine <= prevSig && line > sig {
		return closeSignal(m.Name(), s, "MACD crossed above signal line")
	}
	return nil
}

func (m *MACDCross) Confirm(s Snapshot, sig *domain.Signal) (bool, string) {
	if s.Indicator.MACDHistogram == nil ||
		math.Abs(*s.Indicator.MACDHistogram) < m.params.MinHistogram {
		return false, "histogram"
	}
	return true, ""
}
