package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/tickdrive/tickdrive/internal/datasource"
	"github.com/tickdrive/tickdrive/internal/domain"
	"github.com/tickdrive/tickdrive/internal/strategy"
)

// EquityPoint is one mark of total account value.
type EquityPoint struct {
	Timestamp int64   `json:"timestamp"`
	Equity    float64 `json:"equity"`
}

// Results is the full performance report of one engine run.
type Results struct {
	InitialBalance float64 `json:"initial_balance"`
	FinalBalance   float64 `json:"final_balance"`
	TotalReturn    float64 `json:"total_return"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	MaxDrawdown    float64 `json:"max_drawdown"`

	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	ProfitFactor  float64 `json:"profit_factor"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`

	Trades []Trade       `json:"trades"`
	Equity []EquityPoint `json:"equity_curve"`
}

// Engine replays a data source through strategy runners and settles their
// signals against the position manager, recording the equity curve.
type Engine struct {
	pm      *PositionManager
	runners []*strategy.Runner

	trades []Trade
	equity []EquityPoint
	marks  map[string]float64
}

func New(pm *PositionManager, runners ...*strategy.Runner) *Engine {
	return &Engine{
		pm:      pm,
		runners: runners,
		marks:   make(map[string]float64),
	}
}

// Run consumes the source until it is exhausted or ctx ends.
func (e *Engine) Run(ctx context.Context, src datasource.Source) error {
	events, err := src.Events(ctx)
	if err != nil {
		return fmt.Errorf("open data source: %w", err)
	}
	for ev := range events {
		switch {
		case ev.Bar != nil:
			e.onBar(ctx, *ev.Bar)
		case ev.Indicator != nil:
			e.onIndicator(ctx, *ev.Indicator)
		}
	}
	return nil
}

func (e *Engine) onBar(ctx context.Context, b domain.Bar) {
	e.marks[b.Symbol] = b.Close
	for _, r := range e.runners {
		if sig := r.OnBar(ctx, b); sig != nil {
			e.handleSignal(*sig)
		}
	}
	e.equity = append(e.equity, EquityPoint{
		Timestamp: b.Timestamp,
		Equity:    e.pm.Equity(e.marks),
	})
}

func (e *Engine) onIndicator(ctx context.Context, vec domain.IndicatorVector) {
	for _, r := range e.runners {
		if sig := r.OnIndicator(ctx, vec); sig != nil {
			e.handleSignal(*sig)
		}
	}
}

// handleSignal fills at the signal price. Rejections only log: the
// runner's position view stays open and will close on a later signal.
func (e *Engine) handleSignal(sig domain.Signal) {
	switch sig.Action {
	case domain.ActionOpen:
		pos, err := e.pm.Open(sig)
		if err != nil {
			log.Debug().Err(err).Str("symbol", sig.Symbol).
				Str("strategy", sig.Strategy).Msg("entry not filled")
			return
		}
		log.Info().Str("symbol", pos.Symbol).Str("side", string(pos.Side)).
			Float64("price", pos.EntryPrice).Float64("amount", pos.Amount).
			Msg("position opened")
	case domain.ActionClose:
		trade, err := e.pm.Close(sig)
		if err != nil {
			log.Debug().Err(err).Str("symbol", sig.Symbol).Msg("close not filled")
			return
		}
		e.trades = append(e.trades, trade)
		log.Info().Str("symbol", trade.Symbol).Float64("pnl", trade.PnL).
			Str("reason", trade.Reason).Msg("position closed")
	}
}

// Results computes the performance report over everything recorded so
// far.
func (e *Engine) Results() Results {
	acct := e.pm.Account()
	res := Results{
		InitialBalance: acct.InitialBalance,
		FinalBalance:   acct.Balance + acct.Exposure,
		Trades:         e.trades,
		Equity:         e.equity,
	}
	if res.InitialBalance > 0 {
		res.TotalReturn = (res.FinalBalance - res.InitialBalance) / res.InitialBalance
	}

	var grossWin, grossLoss float64
	for _, t := range e.trades {
		if t.PnL > 0 {
			res.WinningTrades++
			grossWin += t.PnL
		} else if t.PnL < 0 {
			res.LosingTrades++
			grossLoss += -t.PnL
		}
	}
	res.TotalTrades = len(e.trades)
	if res.TotalTrades > 0 {
		res.WinRate = float64(res.WinningTrades) / float64(res.TotalTrades)
	}
	if grossLoss > 0 {
		res.ProfitFactor = grossWin / grossLoss
	} else if grossWin > 0 {
		res.ProfitFactor = math.Inf(1)
	}
	if res.WinningTrades > 0 {
		res.AvgWin = grossWin / float64(res.WinningTrades)
	}
	if res.LosingTrades > 0 {
		res.AvgLoss = grossLoss / float64(res.LosingTrades)
	}

	res.SharpeRatio = sharpe(e.equity)
	res.MaxDrawdown = maxDrawdown(e.equity)
	return res
}

// sharpe annualizes the mean-over-std of per-mark returns with a daily
// convention.
func sharpe(equity []EquityPoint) float64 {
	if len(equity) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev == 0 {
			continue
		}
		returns = append(returns, (equity[i].Equity-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(252)
}

// maxDrawdown is the largest peak-to-trough equity loss, as a fraction of
// the peak.
func maxDrawdown(equity []EquityPoint) float64 {
	var peak, worst float64
	for _, p := range equity {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}
