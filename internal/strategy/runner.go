package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tickdrive/tickdrive/internal/ai"
	"github.com/tickdrive/tickdrive/internal/domain"
	"github.com/tickdrive/tickdrive/internal/metrics"
)

// RunnerConfig tunes the protective exits and confirmation filters.
type RunnerConfig struct {
	MinConfidence  float64 // entry floor
	MinVolumeRatio float64 // bar volume over volume MA floor
	MaxVolatility  float64 // ATR over MA20 ceiling
	TrailingPct    float64 // giveback from the high/low water mark

	StopATRMult float64 // stop distance in ATRs
	TPATRMult   float64 // take-profit distance in ATRs
	FallbackSL  float64 // stop distance when ATR is unavailable
	FallbackTP  float64

	AITimeout time.Duration
}

// DefaultRunnerConfig mirrors the production filter thresholds.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		MinConfidence:  0.5,
		MinVolumeRatio: 0.5,
		MaxVolatility:  0.05,
		TrailingPct:    0.05,
		StopATRMult:    2,
		TPATRMult:      3,
		FallbackSL:     0.03,
		FallbackTP:     0.06,
		AITimeout:      5 * time.Second,
	}
}

type symbolState struct {
	bar      *domain.Bar
	ind      *domain.IndicatorVector
	prevInd  *domain.IndicatorVector
	position *domain.Position
}

// Runner drives one strategy across many symbols. Bars and indicator
// vectors arrive independently; evaluation fires only when both sides of
// a timestamp have landed and a previous vector exists for crossover
// detection.
type Runner struct {
	strat Strategy
	cfg   RunnerConfig
	adj   ai.Adjudicator // optional
	met   *metrics.Registry

	mu     sync.Mutex
	states map[string]*symbolState
}

func NewRunner(strat Strategy, cfg RunnerConfig, adj ai.Adjudicator, met *metrics.Registry) *Runner {
	return &Runner{
		strat: strat, cfg: cfg, adj: adj, met: met,
		states: make(map[string]*symbolState),
	}
}

// Position returns the runner's view of the open position, if any.
func (r *Runner) Position(symbol string) *domain.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[symbol]; ok {
		return st.position
	}
	return nil
}

// OnBar records a bar, advances water marks and evaluates if the vector
// for the same timestamp already arrived. Marks track closes, not wicks:
// an intrabar spike that closes flat never arms the trailing stop.
func (r *Runner) OnBar(ctx context.Context, b domain.Bar) *domain.Signal {
	r.mu.Lock()
	st := r.state(b.Symbol)
	st.bar = &b
	if st.position != nil {
		if b.Close > st.position.HighWater {
			st.position.HighWater = b.Close
		}
		if b.Close < st.position.LowWater {
			st.position.LowWater = b.Close
		}
	}
	r.mu.Unlock()
	return r.evaluate(ctx, b.Symbol)
}

// OnIndicator rotates the previous vector and evaluates if aligned.
func (r *Runner) OnIndicator(ctx context.Context, vec domain.IndicatorVector) *domain.Signal {
	r.mu.Lock()
	st := r.state(vec.Symbol)
	st.prevInd = st.ind
	st.ind = &vec
	r.mu.Unlock()
	return r.evaluate(ctx, vec.Symbol)
}

func (r *Runner) state(symbol string) *symbolState {
	st, ok := r.states[symbol]
	if !ok {
		st = &symbolState{}
		r.states[symbol] = st
	}
	return st
}

// evaluate runs the decision pipeline once per aligned (bar, vector) pair.
func (r *Runner) evaluate(ctx context.Context, symbol string) *domain.Signal {
	r.mu.Lock()
	st := r.state(symbol)
	if st.bar == nil || st.ind == nil || st.prevInd == nil ||
		st.bar.Timestamp != st.ind.Timestamp {
		r.mu.Unlock()
		return nil
	}
	snap := Snapshot{
		Bar:           *st.bar,
		Indicator:     st.ind,
		PrevIndicator: st.prevInd,
		Position:      st.position,
	}
	r.mu.Unlock()

	if snap.Position != nil {
		sig := r.checkExits(snap)
		if sig != nil {
			r.applySignal(symbol, sig)
		}
		return sig
	}

	sig := r.strat.CheckEntry(snap)
	if sig == nil {
		return nil
	}
	if reject, filter := r.filterEntry(ctx, snap, sig); reject {
		log.Debug().Str("strategy", r.strat.Name()).Str("symbol", symbol).
			Str("filter", filter).Msg("entry rejected")
		if r.met != nil {
			r.met.SignalsFiltered.WithLabelValues(r.strat.Name(), filter).Inc()
		}
		return nil
	}
	r.attachStops(snap, sig)
	r.applySignal(symbol, sig)
	if r.met != nil {
		r.met.SignalsEmitted.WithLabelValues(r.strat.Name(), string(sig.Action)).Inc()
	}
	return sig
}

// checkExits applies the protective exits first, then the strategy's own.
func (r *Runner) checkExits(snap Snapshot) *domain.Signal {
	pos := snap.Position
	price := snap.Bar.Close

	if pos.StopLoss != nil {
		sl := *pos.StopLoss
		if (pos.Side == domain.SideLong && price <= sl) ||
			(pos.Side == domain.SideShort && price >= sl) {
			return closeSignal(r.strat.Name(), snap, "Stop loss triggered")
		}
	}
	if pos.TakeProfit != nil {
		tp := *pos.TakeProfit
		if (pos.Side == domain.SideLong && price >= tp) ||
			(pos.Side == domain.SideShort && price <= tp) {
			return closeSignal(r.strat.Name(), snap, "Take profit triggered")
		}
	}
	if pos.Side == domain.SideLong && price <= pos.HighWater*(1-r.cfg.TrailingPct) {
		return closeSignal(r.strat.Name(), snap, "Trailing stop triggered")
	}
	if pos.Side == domain.SideShort && price >= pos.LowWater*(1+r.cfg.TrailingPct) {
		return closeSignal(r.strat.Name(), snap, "Trailing stop triggered")
	}
	return r.strat.CheckExit(snap)
}

// filterEntry returns (true, filterName) when the entry must be dropped.
func (r *Runner) filterEntry(ctx context.Context, snap Snapshot, sig *domain.Signal) (bool, string) {
	if sig.Confidence < r.cfg.MinConfidence {
		return true, "confidence"
	}
	if snap.Indicator.VolumeMA5 != nil && *snap.Indicator.VolumeMA5 > 0 {
		if snap.Bar.Volume / *snap.Indicator.VolumeMA5 < r.cfg.MinVolumeRatio {
			return true, "volume"
		}
	}
	if snap.Indicator.ATR14 != nil && snap.Indicator.MA20 != nil && *snap.Indicator.MA20 > 0 {
		if *snap.Indicator.ATR14 / *snap.Indicator.MA20 > r.cfg.MaxVolatility {
			return true, "volatility"
		}
	}
	if ok, why := r.strat.Confirm(snap, sig); !ok {
		return true, why
	}
	if r.adj != nil {
		adjCtx, cancel := context.WithTimeout(ctx, r.cfg.AITimeout)
		defer cancel()
		approved, err := r.adj.Approve(adjCtx, *sig, snap.Indicator)
		if err != nil {
			// The adjudicator is advisory: on failure the pipeline
			// proceeds without it.
			log.Warn().Err(err).Str("strategy", r.strat.Name()).
				Msg("adjudicator unavailable, skipping filter")
		} else if !approved {
			return true, "ai"
		}
	}
	return false, ""
}

// attachStops derives protective levels from ATR when available.
func (r *Runner) attachStops(snap Snapshot, sig *domain.Signal) {
	entry := sig.Price
	var slDist, tpDist float64
	if snap.Indicator.ATR14 != nil && *snap.Indicator.ATR14 > 0 {
		slDist = r.cfg.StopATRMult * *snap.Indicator.ATR14
		tpDist = r.cfg.TPATRMult * *snap.Indicator.ATR14
	} else {
		slDist = entry * r.cfg.FallbackSL
		tpDist = entry * r.cfg.FallbackTP
	}
	if sig.Side == domain.SideLong {
		sig.StopLoss = domain.Float(entry - slDist)
		sig.TakeProfit = domain.Float(entry + tpDist)
	} else {
		sig.StopLoss = domain.Float(entry + slDist)
		sig.TakeProfit = domain.Float(entry - tpDist)
	}
}

// applySignal updates the runner's position view to match the emitted
// signal.
func (r *Runner) applySignal(symbol string, sig *domain.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state(symbol)
	switch sig.Action {
	case domain.ActionOpen:
		st.position = &domain.Position{
			Symbol:     symbol,
			Side:       sig.Side,
			EntryPrice: sig.Price,
			EntryTime:  sig.Timestamp,
			HighWater:  sig.Price,
			LowWater:   sig.Price,
			StopLoss:   sig.StopLoss,
			TakeProfit: sig.TakeProfit,
		}
	case domain.ActionClose:
		st.position = nil
	}
}
