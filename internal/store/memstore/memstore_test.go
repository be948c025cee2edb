package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickdrive/tickdrive/internal/domain"
)

func bar(ts int64, close float64) domain.Bar {
	return domain.Bar{
		Symbol: "BTCUSDT", Timeframe: "1h", Timestamp: ts,
		Market: domain.MarketSpot,
		Open:   close, High: close, Low: close, Close: close, Volume: 1,
	}
}

func TestUpsertIdempotence(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.BulkUpsertBars(ctx, []domain.Bar{bar(100, 1), bar(200, 2)})
	require.NoError(t, err)
	// Duplicate timestamps: the later write must win.
	_, err = s.BulkUpsertBars(ctx, []domain.Bar{bar(100, 9), bar(300, 3)})
	require.NoError(t, err)

	bars, err := s.RecentBars(ctx, "BTCUSDT", "1h", 10, 0, domain.MarketSpot)
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, int64(100), bars[0].Timestamp)
	assert.Equal(t, 9.0, bars[0].Close)
	assert.Equal(t, int64(300), bars[2].Timestamp)

	n, err := s.CountBars(ctx, "BTCUSDT", "1h", domain.MarketSpot)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestLastBarTimeEmptySeries(t *testing.T) {
	s := New()
	ts, err := s.LastBarTime(context.Background(), "ETHUSDT", "1h", domain.MarketSpot)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ts)
}

func TestRecentBarsBeforeAndLimit(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		_, err := s.BulkUpsertBars(ctx, []domain.Bar{bar(i*100, float64(i))})
		require.NoError(t, err)
	}

	bars, err := s.RecentBars(ctx, "BTCUSDT", "1h", 2, 400, domain.MarketSpot)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, int64(200), bars[0].Timestamp)
	assert.Equal(t, int64(300), bars[1].Timestamp)
}

func TestIndicatorRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	vec := domain.IndicatorVector{
		Symbol: "BTCUSDT", Timeframe: "1h", Timestamp: 100,
		Market: domain.MarketSpot, MA5: domain.Float(42),
	}
	require.NoError(t, s.InsertIndicator(ctx, vec))

	got, err := s.IndicatorAt(ctx, "BTCUSDT", "1h", 100, domain.MarketSpot)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 42.0, *got.MA5)

	missing, err := s.IndicatorAt(ctx, "BTCUSDT", "1h", 200, domain.MarketSpot)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRecentSignalsFilterAndOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, s.InsertSignal(ctx, domain.Signal{
			Strategy: "rsi", Symbol: "BTCUSDT", Timestamp: i,
		}))
	}
	require.NoError(t, s.InsertSignal(ctx, domain.Signal{
		Strategy: "dual_ma", Symbol: "BTCUSDT", Timestamp: 4,
	}))

	sigs, err := s.RecentSignals(ctx, "rsi", "BTCUSDT", 2)
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	assert.Equal(t, int64(3), sigs[0].Timestamp)
	assert.Equal(t, int64(2), sigs[1].Timestamp)
}
