package nodes

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickdrive/tickdrive/internal/bus"
	"github.com/tickdrive/tickdrive/internal/domain"
	"github.com/tickdrive/tickdrive/internal/indicator"
	"github.com/tickdrive/tickdrive/internal/store/memstore"
	"github.com/tickdrive/tickdrive/internal/strategy"
)

func seriesBar(i int, close float64) domain.Bar {
	return domain.Bar{
		Symbol: "BTCUSDT", Timeframe: "1h",
		Timestamp: int64(i) * 3600, Market: domain.MarketSpot,
		Open: close, High: close + 1, Low: close - 1,
		Close: close, Volume: 500,
	}
}

func TestIndicatorNodePreheatsOnceAndPublishes(t *testing.T) {
	db := memstore.New()
	memBus := bus.NewMemoryBus()
	ctx := context.Background()

	// Enough stored history that the long windows are warm immediately.
	history := make([]domain.Bar, indicator.PreheatBars)
	for i := range history {
		history[i] = seriesBar(i, 100+float64(i%7))
	}
	_, err := db.BulkUpsertBars(ctx, history)
	require.NoError(t, err)

	var mu sync.Mutex
	var published []domain.IndicatorVector
	require.NoError(t, memBus.Subscribe(ctx, "ind.*", func(_ context.Context, _ string, payload []byte) error {
		var v domain.IndicatorVector
		if err := json.Unmarshal(payload, &v); err != nil {
			return err
		}
		mu.Lock()
		published = append(published, v)
		mu.Unlock()
		return nil
	}))

	node := NewIndicatorNode(db, memBus, nil, domain.MarketSpot,
		[]domain.Key{{Symbol: "BTCUSDT", Timeframe: "1h"}})
	live := seriesBar(indicator.PreheatBars, 104)
	payload, _ := json.Marshal(live)
	require.NoError(t, node.HandleBar(ctx, "bar.BTCUSDT.1h.spot", payload))

	mu.Lock()
	require.Len(t, published, 1)
	vec := published[0]
	mu.Unlock()

	assert.Equal(t, live.Timestamp, vec.Timestamp)
	require.NotNil(t, vec.MA120, "preheated set is warm past the longest window")
	require.NotNil(t, vec.RSI14)

	stored, err := db.IndicatorAt(ctx, "BTCUSDT", "1h", live.Timestamp, domain.MarketSpot)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.InDelta(t, *vec.MA120, *stored.MA120, 1e-9)
}

func TestIndicatorNodeIgnoresOtherMarkets(t *testing.T) {
	db := memstore.New()
	memBus := bus.NewMemoryBus()
	ctx := context.Background()

	var published int
	require.NoError(t, memBus.Subscribe(ctx, "ind.*", func(context.Context, string, []byte) error {
		published++
		return nil
	}))

	node := NewIndicatorNode(db, memBus, nil, domain.MarketSpot,
		[]domain.Key{{Symbol: "BTCUSDT", Timeframe: "1h"}})

	futures := seriesBar(1, 100)
	futures.Market = domain.MarketFuture
	payload, _ := json.Marshal(futures)
	require.NoError(t, node.HandleBar(ctx, "bar.BTCUSDT.1h.future", payload))

	assert.Equal(t, 0, published, "futures bars never reach a spot node's calculators")
	assert.Empty(t, node.sets)
	stored, err := db.IndicatorAt(ctx, "BTCUSDT", "1h", futures.Timestamp, domain.MarketFuture)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestStrategyNodeIgnoresOtherMarkets(t *testing.T) {
	db := memstore.New()
	runner := strategy.NewRunner(strategy.NewDualMA(strategy.DefaultDualMAParams()),
		strategy.DefaultRunnerConfig(), nil, nil)
	node := NewStrategyNode(db, bus.NewMemoryBus(), domain.MarketSpot,
		[]domain.Key{{Symbol: "BTCUSDT", Timeframe: "1h"}}, runner)
	ctx := context.Background()

	mkVec := func(ts int64, ma5 float64, market domain.MarketType) []byte {
		v := domain.IndicatorVector{
			Symbol: "BTCUSDT", Timeframe: "1h", Timestamp: ts, Market: market,
			MA5: domain.Float(ma5), MA20: domain.Float(100),
			RSI14: domain.Float(50), ATR14: domain.Float(1),
			VolumeMA5: domain.Float(100),
		}
		out, _ := json.Marshal(v)
		return out
	}
	mkBar := func(ts int64, market domain.MarketType) []byte {
		b := seriesBar(int(ts/3600), 105)
		b.Timestamp = ts
		b.Market = market
		out, _ := json.Marshal(b)
		return out
	}

	// The same crossover sequence on the futures market must be invisible
	// to a spot node: no position, no persisted signal.
	require.NoError(t, node.HandleIndicator(ctx, "ind.BTCUSDT.1h", mkVec(1000, 99, domain.MarketFuture)))
	require.NoError(t, node.HandleBar(ctx, "bar.BTCUSDT.1h.future", mkBar(2000, domain.MarketFuture)))
	require.NoError(t, node.HandleIndicator(ctx, "ind.BTCUSDT.1h", mkVec(2000, 101, domain.MarketFuture)))
	assert.Nil(t, runner.Position("BTCUSDT"))

	sigs, err := db.RecentSignals(ctx, "dual_ma", "BTCUSDT", 10)
	require.NoError(t, err)
	assert.Empty(t, sigs)

	// The spot sequence still trades.
	require.NoError(t, node.HandleIndicator(ctx, "ind.BTCUSDT.1h", mkVec(3000, 99, domain.MarketSpot)))
	require.NoError(t, node.HandleBar(ctx, "bar.BTCUSDT.1h.spot", mkBar(4000, domain.MarketSpot)))
	require.NoError(t, node.HandleIndicator(ctx, "ind.BTCUSDT.1h", mkVec(4000, 101, domain.MarketSpot)))
	assert.NotNil(t, runner.Position("BTCUSDT"))
}

func TestStrategyNodeRejectsMalformedPayload(t *testing.T) {
	node := NewStrategyNode(memstore.New(), bus.NewMemoryBus(), domain.MarketSpot, nil)
	err := node.HandleBar(context.Background(), "bar.BTCUSDT.1h.spot", []byte("{not json"))
	assert.Error(t, err)
	err = node.HandleIndicator(context.Background(), "ind.BTCUSDT.1h", []byte("{not json"))
	assert.Error(t, err)
}
