// Package backtest runs strategies against stored history: a single run
// wires store, data source and engine together; the optimizer sweeps a
// parameter grid over repeated runs.
package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/tickdrive/tickdrive/internal/datasource"
	"github.com/tickdrive/tickdrive/internal/domain"
	"github.com/tickdrive/tickdrive/internal/engine"
	"github.com/tickdrive/tickdrive/internal/store"
	"github.com/tickdrive/tickdrive/internal/strategy"
	"github.com/tickdrive/tickdrive/internal/task"
)

// Params describes one backtest run.
type Params struct {
	Strategy  string            `json:"strategy"`
	Symbol    string            `json:"symbol"`
	Timeframe string            `json:"timeframe"`
	Market    domain.MarketType `json:"market_type"`
	Start     int64             `json:"start"`
	End       int64             `json:"end"`

	InitialBalance float64 `json:"initial_balance"`
	MaxPositions   int     `json:"max_positions"`
	MaxExposurePct float64 `json:"max_exposure_pct"`
	SingleMaxPct   float64 `json:"single_position_max_pct"`
	PositionPct    float64 `json:"position_pct"`

	// Strategy-specific overrides, validated into the strategy's params
	// struct; empty keeps the defaults.
	StrategyParams json.RawMessage `json:"strategy_params,omitempty"`

	// Runner overrides; zero means DefaultRunnerConfig.
	MinConfidence float64 `json:"min_confidence,omitempty"`
	TrailingPct   float64 `json:"trailing_pct,omitempty"`
}

func (p *Params) normalize() {
	if p.Market == "" {
		p.Market = domain.MarketSpot
	}
	if p.End <= 0 {
		p.End = math.MaxInt64
	}
	if p.InitialBalance <= 0 {
		p.InitialBalance = 10000
	}
	if p.MaxPositions <= 0 {
		p.MaxPositions = 1
	}
	if p.MaxExposurePct <= 0 {
		p.MaxExposurePct = 0.8
	}
	if p.SingleMaxPct <= 0 {
		p.SingleMaxPct = 0.5
	}
	if p.PositionPct <= 0 {
		p.PositionPct = 0.2
	}
}

// Runner executes backtests against one store.
type Runner struct {
	db store.Store
}

func NewRunner(db store.Store) *Runner { return &Runner{db: db} }

// Run replays the window through the strategy and returns the report.
// Progress lands on report as stage-mapped percentages.
func (r *Runner) Run(ctx context.Context, p Params, report func(pct float64, msg string)) (engine.Results, error) {
	p.normalize()
	if report == nil {
		report = func(float64, string) {}
	}
	stages := task.NewStageTracker(task.BacktestStages, report)
	key := domain.Key{Symbol: p.Symbol, Timeframe: p.Timeframe}

	stages.Enter("data_load")
	total, err := r.db.CountBars(ctx, p.Symbol, p.Timeframe, p.Market)
	if err != nil {
		return engine.Results{}, fmt.Errorf("count bars: %w", err)
	}
	if total == 0 {
		return engine.Results{}, fmt.Errorf("no bars stored for %s", key)
	}
	src := datasource.NewBacktest(r.db, p.Market, key, p.Start, p.End)
	stages.Update(1)

	stages.Enter("init")
	strat, err := strategy.NewWithParams(p.Strategy, p.StrategyParams)
	if err != nil {
		return engine.Results{}, err
	}
	cfg := strategy.DefaultRunnerConfig()
	if p.MinConfidence > 0 {
		cfg.MinConfidence = p.MinConfidence
	}
	if p.TrailingPct > 0 {
		cfg.TrailingPct = p.TrailingPct
	}
	runner := strategy.NewRunner(strat, cfg, nil, nil)
	pm := engine.NewPositionManager(p.InitialBalance, p.MaxPositions,
		p.MaxExposurePct, p.SingleMaxPct, engine.FixedPct{Pct: p.PositionPct})
	eng := engine.New(pm, runner)
	stages.Update(1)

	stages.Enter("execute")
	// Bars plus vectors, capped so the fraction never overshoots.
	progress := task.NewProgressTracker(2*total, task.DefaultProgressInterval,
		func(pct float64, _ string) {
			stages.Update(pct / 100)
		})
	counted := &countingSource{src: src, onEvent: func() { progress.Add(1) }}
	if err := eng.Run(ctx, counted); err != nil {
		return engine.Results{}, err
	}

	stages.Enter("finalize")
	res := eng.Results()
	stages.Done()

	log.Info().Str("strategy", p.Strategy).Str("key", key.String()).
		Int("trades", res.TotalTrades).Float64("return", res.TotalReturn).
		Msg("backtest finished")
	return res, nil
}

// countingSource passes events through and ticks a counter.
type countingSource struct {
	src     datasource.Source
	onEvent func()
}

func (c *countingSource) Events(ctx context.Context) (<-chan datasource.Event, error) {
	in, err := c.src.Events(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan datasource.Event)
	go func() {
		defer close(out)
		for ev := range in {
			c.onEvent()
			select {
			case <-ctx.Done():
				return
			case out <- ev:
			}
		}
	}()
	return out, nil
}
