package integrity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickdrive/tickdrive/internal/domain"
	"github.com/tickdrive/tickdrive/internal/exchange/fake"
	"github.com/tickdrive/tickdrive/internal/indicator"
	"github.com/tickdrive/tickdrive/internal/store/memstore"
)

const hour = int64(3600)

var key = domain.Key{Symbol: "BTCUSDT", Timeframe: "1h"}

func hourBar(ts int64, close float64) domain.Bar {
	return domain.Bar{
		Symbol: "BTCUSDT", Timeframe: "1h", Timestamp: ts,
		Market: domain.MarketSpot,
		Open:   close, High: close + 1, Low: close - 1, Close: close, Volume: 10,
	}
}

func newChecker(db *memstore.Store, ex *fake.Exchange, now int64) *Checker {
	c := NewChecker(Config{DaysBack: 1, KlinesCount: 100}, db, ex, nil)
	c.now = func() time.Time { return time.Unix(now, 0) }
	c.sleep = func(time.Duration) {}
	return c
}

func TestDetectBarGapsMergesNeighbors(t *testing.T) {
	ctx := context.Background()
	db := memstore.New()
	now := int64(1_000_000) / hour * hour

	// One day window, hourly grid: store everything except two holes, one
	// of three consecutive bars and one single bar.
	from := now - 86400
	for ts := from; ts <= now; ts += hour {
		if ts == from+5*hour || ts == from+6*hour || ts == from+7*hour || ts == from+15*hour {
			continue
		}
		_, err := db.BulkUpsertBars(ctx, []domain.Bar{hourBar(ts, 100)})
		require.NoError(t, err)
	}

	c := newChecker(db, fake.New(), now)
	ranges, err := c.DetectBarGaps(ctx, key)
	require.NoError(t, err)
	require.Len(t, ranges, 2)
	assert.Equal(t, Range{Start: from + 5*hour, End: from + 7*hour}, ranges[0])
	assert.Equal(t, Range{Start: from + 15*hour, End: from + 15*hour}, ranges[1])
}

func TestFillBarGapsIndependentFailures(t *testing.T) {
	ctx := context.Background()
	db := memstore.New()
	ex := fake.New()
	now := int64(1_000_000) / hour * hour
	from := now - 86400

	// The venue only has bars for the second range.
	ex.Seed(hourBar(from+15*hour, 99))

	c := newChecker(db, ex, now)
	ranges := []Range{
		{Start: from + 5*hour, End: from + 7*hour},
		{Start: from + 15*hour, End: from + 15*hour},
	}
	inserted, filled, errs := c.FillBarGaps(ctx, key, ranges)

	assert.Equal(t, 1, inserted)
	assert.Equal(t, 1, filled)
	require.Len(t, errs, 1, "the empty range fails without stopping the other")

	stored, _ := db.RecentBars(ctx, "BTCUSDT", "1h", 10, 0, domain.MarketSpot)
	require.Len(t, stored, 1)
	assert.Equal(t, from+15*hour, stored[0].Timestamp)
}

func TestIndicatorGapDetectAndFill(t *testing.T) {
	ctx := context.Background()
	db := memstore.New()
	now := int64(2_000_000) / hour * hour

	// Continuous bar history with vectors for every bar except one.
	n := indicator.MinWarmupBars + 10
	set := indicator.NewSet()
	gapTS := now - 3*hour
	for i := 0; i < n; i++ {
		ts := now - int64(n-1-i)*hour
		b := hourBar(ts, 100+float64(i%9))
		_, err := db.BulkUpsertBars(ctx, []domain.Bar{b})
		require.NoError(t, err)
		vec := set.Update(b)
		if ts == gapTS {
			continue
		}
		require.NoError(t, db.InsertIndicator(ctx, vec))
	}

	c := newChecker(db, fake.New(), now)
	missing, err := c.DetectIndicatorGaps(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []int64{gapTS}, missing)

	require.NoError(t, c.FillIndicatorGap(ctx, key, gapTS))

	got, err := db.IndicatorAt(ctx, "BTCUSDT", "1h", gapTS, domain.MarketSpot)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.MA120, "replayed history warms the long windows")

	after, err := c.DetectIndicatorGaps(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, after)
}

func TestFillIndicatorGapNeedsHistory(t *testing.T) {
	ctx := context.Background()
	db := memstore.New()
	now := int64(2_000_000) / hour * hour

	// Far too little history to warm a set.
	for i := int64(0); i < 10; i++ {
		_, err := db.BulkUpsertBars(ctx, []domain.Bar{hourBar(now-i*hour, 100)})
		require.NoError(t, err)
	}

	c := newChecker(db, fake.New(), now)
	err := c.FillIndicatorGap(ctx, key, now)
	require.Error(t, err)
}

func TestCheckAndRepairAllSummaries(t *testing.T) {
	ctx := context.Background()
	db := memstore.New()
	ex := fake.New()
	now := int64(1_000_000) / hour * hour
	from := now - 86400

	for ts := from; ts <= now; ts += hour {
		if ts == from+10*hour {
			ex.Seed(hourBar(ts, 100)) // only the venue has it
			continue
		}
		_, err := db.BulkUpsertBars(ctx, []domain.Bar{hourBar(ts, 100)})
		require.NoError(t, err)
	}

	c := newChecker(db, ex, now)
	reports := c.CheckAndRepairAll(ctx, []domain.Key{key})
	require.Len(t, reports, 1)
	rep := reports[0]
	assert.Equal(t, 1, rep.BarRangesFound)
	assert.Equal(t, 1, rep.BarRangesFilled)
	assert.Equal(t, 1, rep.BarsInserted)
}
