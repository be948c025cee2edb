// Package strategy holds the signal-generation runtime: per-symbol state
// assembly, the entry/exit decision pipeline and the built-in strategies.
package strategy

import (
	"math"

	"github.com/tickdrive/tickdrive/internal/domain"
)

// Snapshot is the aligned view a strategy evaluates: the bar, the vector
// computed from that bar, the previous vector and any open position.
type Snapshot struct {
	Bar           domain.Bar
	Indicator     *domain.IndicatorVector
	PrevIndicator *domain.IndicatorVector
	Position      *domain.Position
}

// Strategy is one trading rule set. CheckExit runs only while a position
// is open and after the runner's own protective exits; CheckEntry runs
// only while flat; Confirm vetoes an entry the rule set distrusts.
type Strategy interface {
	Name() string
	CheckEntry(s Snapshot) *domain.Signal
	CheckExit(s Snapshot) *domain.Signal
	Confirm(s Snapshot, sig *domain.Signal) (bool, string)
}

// baseConfidence scores how supportive the indicator backdrop is,
// starting from a neutral 0.5.
func baseConfidence(v *domain.IndicatorVector) float64 {
	c := 0.5
	if v.RSI14 != nil {
		switch r := *v.RSI14; {
		case r >= 40 && r <= 60:
			c += 0.2
		case r >= 30 && r <= 70:
			c += 0.1
		}
	}
	if v.MACDHistogram != nil && math.Abs(*v.MACDHistogram) > 0 {
		c += 0.1
	}
	if v.VolumeMA5 != nil {
		c += 0.1
	}
	return math.Min(c, 1.0)
}

func openSignal(name string, s Snapshot, side domain.Side, reason string, confidence float64) *domain.Signal {
	sigType := domain.SignalOpenLong
	if side == domain.SideShort {
		sigType = domain.SignalOpenShort
	}
	return &domain.Signal{
		Strategy:   name,
		Symbol:     s.Bar.Symbol,
		Timestamp:  s.Bar.Timestamp,
		Type:       sigType,
		Side:       side,
		Action:     domain.ActionOpen,
		Price:      s.Bar.Close,
		Reason:     reason,
		Confidence: confidence,
	}
}

func closeSignal(name string, s Snapshot, reason string) *domain.Signal {
	sigType := domain.SignalCloseLong
	if s.Position.Side == domain.SideShort {
		sigType = domain.SignalCloseShort
	}
	return &domain.Signal{
		Strategy:   name,
		Symbol:     s.Bar.Symbol,
		Timestamp:  s.Bar.Timestamp,
		Type:       sigType,
		Side:       s.Position.Side,
		Action:     domain.ActionClose,
		Price:      s.Bar.Close,
		Reason:     reason,
		Confidence: 1.0,
	}
}
