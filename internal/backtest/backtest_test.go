package backtest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickdrive/tickdrive/internal/domain"
	"github.com/tickdrive/tickdrive/internal/store/memstore"
)

const hour = int64(3600)

func seedCrossover(t *testing.T, db *memstore.Store) {
	t.Helper()
	ctx := context.Background()

	bar := func(ts int64, close float64) domain.Bar {
		return domain.Bar{
			Symbol: "BTCUSDT", Timeframe: "1h", Timestamp: ts,
			Market: domain.MarketSpot,
			Open:   close, High: close + 1, Low: close - 1,
			Close: close, Volume: 200,
		}
	}
	vec := func(ts int64, ma5 float64) domain.IndicatorVector {
		return domain.IndicatorVector{
			Symbol: "BTCUSDT", Timeframe: "1h", Timestamp: ts,
			Market:    domain.MarketSpot,
			MA5:       domain.Float(ma5),
			MA20:      domain.Float(100),
			RSI14:     domain.Float(50),
			ATR14:     domain.Float(1),
			VolumeMA5: domain.Float(100),
		}
	}

	// MA5 crosses above MA20 at the second bar; the third bar trades
	// through the three-ATR target.
	_, err := db.BulkUpsertBars(ctx, []domain.Bar{
		bar(1*hour, 100), bar(2*hour, 105), bar(3*hour, 109),
	})
	require.NoError(t, err)
	for _, v := range []domain.IndicatorVector{
		vec(1*hour, 99), vec(2*hour, 101), vec(3*hour, 102),
	} {
		require.NoError(t, db.InsertIndicator(ctx, v))
	}
}

func testParams() Params {
	return Params{
		Strategy: "dual_ma", Symbol: "BTCUSDT", Timeframe: "1h",
		Market: domain.MarketSpot, Start: 0, End: 10 * hour,
		InitialBalance: 10000, MaxPositions: 1,
		SingleMaxPct: 0.5, PositionPct: 0.2,
	}
}

func TestRunProducesRoundTrip(t *testing.T) {
	db := memstore.New()
	seedCrossover(t, db)
	r := NewRunner(db)

	var pcts []float64
	res, err := r.Run(context.Background(), testParams(), func(pct float64, _ string) {
		pcts = append(pcts, pct)
	})
	require.NoError(t, err)

	require.Equal(t, 1, res.TotalTrades)
	assert.Equal(t, 1, res.WinningTrades)
	require.Len(t, res.Trades, 1)
	trade := res.Trades[0]
	assert.Equal(t, domain.SideLong, trade.Side)
	assert.Equal(t, 105.0, trade.EntryPrice)
	assert.Equal(t, 109.0, trade.ExitPrice)
	assert.Equal(t, "Take profit triggered", trade.Reason)

	// 2000 deployed at 105, exit at 109.
	wantPnL := (109.0 - 105.0) * (2000.0 / 105.0)
	assert.InDelta(t, wantPnL, trade.PnL, 1e-9)
	assert.InDelta(t, 10000+wantPnL, res.FinalBalance, 1e-9)
	assert.Greater(t, res.TotalReturn, 0.0)
	assert.NotEmpty(t, res.Equity)

	require.NotEmpty(t, pcts)
	for i := 1; i < len(pcts); i++ {
		assert.GreaterOrEqual(t, pcts[i], pcts[i-1], "progress never regresses")
	}
	assert.Equal(t, 100.0, pcts[len(pcts)-1])
}

func TestRunDeterministic(t *testing.T) {
	db := memstore.New()
	seedCrossover(t, db)
	r := NewRunner(db)

	first, err := r.Run(context.Background(), testParams(), nil)
	require.NoError(t, err)
	second, err := r.Run(context.Background(), testParams(), nil)
	require.NoError(t, err)

	assert.Equal(t, first.FinalBalance, second.FinalBalance)
	assert.Equal(t, first.Trades, second.Trades)
	assert.Equal(t, first.Equity, second.Equity)
}

func TestRunUnknownStrategy(t *testing.T) {
	db := memstore.New()
	seedCrossover(t, db)
	p := testParams()
	p.Strategy = "hodl"
	_, err := NewRunner(db).Run(context.Background(), p, nil)
	require.Error(t, err)
}

func TestRunEmptyStore(t *testing.T) {
	_, err := NewRunner(memstore.New()).Run(context.Background(), testParams(), nil)
	require.Error(t, err)
}

func TestOptimizePicksLargerPositionOnWinner(t *testing.T) {
	db := memstore.New()
	seedCrossover(t, db)
	r := NewRunner(db)

	res, err := r.Optimize(context.Background(), testParams(), Grid{
		PositionPct: []float64{0.1, 0.2},
	}, ObjectiveReturn, nil)
	require.NoError(t, err)

	require.Len(t, res.Runs, 2)
	assert.Equal(t, 0.2, res.Best.Params.PositionPct,
		"the winning strategy earns more with the bigger size")
	assert.Greater(t, res.Best.Score, res.Runs[0].Score)
}

func TestRunStrategyParamsRejectEntry(t *testing.T) {
	db := memstore.New()
	seedCrossover(t, db)
	p := testParams()
	// The seed trades at ATR/MA20 = 1%; a 0.5% ceiling filters the cross.
	p.StrategyParams = json.RawMessage(`{"max_atr_pct": 0.005}`)

	res, err := NewRunner(db).Run(context.Background(), p, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalTrades)

	p.StrategyParams = json.RawMessage(`{"max_atr_pct": "loose"}`)
	_, err = NewRunner(db).Run(context.Background(), p, nil)
	require.Error(t, err)
}

func TestOptimizeSweepsStrategyParams(t *testing.T) {
	db := memstore.New()
	seedCrossover(t, db)
	r := NewRunner(db)

	res, err := r.Optimize(context.Background(), testParams(), Grid{
		StrategyParams: map[string][]float64{"max_atr_pct": {0.005, 0.08}},
	}, ObjectiveReturn, nil)
	require.NoError(t, err)

	require.Len(t, res.Runs, 2)
	var best struct {
		MaxATRPct float64 `json:"max_atr_pct"`
	}
	require.NoError(t, json.Unmarshal(res.Best.Params.StrategyParams, &best))
	assert.Equal(t, 0.08, best.MaxATRPct, "only the loose ceiling lets the cross trade")
	assert.Greater(t, res.Best.Score, 0.0)
}
