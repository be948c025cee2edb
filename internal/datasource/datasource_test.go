package datasource

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickdrive/tickdrive/internal/bus"
	"github.com/tickdrive/tickdrive/internal/domain"
	"github.com/tickdrive/tickdrive/internal/store/memstore"
)

const hour = int64(3600)

var key = domain.Key{Symbol: "BTCUSDT", Timeframe: "1h"}

func hourBar(ts int64) domain.Bar {
	return domain.Bar{
		Symbol: "BTCUSDT", Timeframe: "1h", Timestamp: ts,
		Market: domain.MarketSpot,
		Open:   100, High: 101, Low: 99, Close: 100, Volume: 10,
	}
}

func hourVec(ts int64) domain.IndicatorVector {
	return domain.IndicatorVector{
		Symbol: "BTCUSDT", Timeframe: "1h", Timestamp: ts,
		Market: domain.MarketSpot, MA5: domain.Float(100),
	}
}

func TestBacktestOrderingAndWindow(t *testing.T) {
	ctx := context.Background()
	db := memstore.New()
	timestamps := []int64{0, hour, 2 * hour, 3 * hour, 4 * hour}
	for _, ts := range timestamps {
		_, err := db.BulkUpsertBars(ctx, []domain.Bar{hourBar(ts)})
		require.NoError(t, err)
		require.NoError(t, db.InsertIndicator(ctx, hourVec(ts)))
	}

	src := NewBacktest(db, domain.MarketSpot, key, hour, 3*hour)
	ch, err := src.Events(ctx)
	require.NoError(t, err)

	var got []Event
	for ev := range ch {
		got = append(got, ev)
	}
	// Three timestamps inside the window, each a bar followed by its vector.
	require.Len(t, got, 6)
	for i := 0; i < 6; i += 2 {
		require.NotNil(t, got[i].Bar, "event %d", i)
		require.NotNil(t, got[i+1].Indicator, "event %d", i+1)
		assert.Equal(t, got[i].Bar.Timestamp, got[i+1].Indicator.Timestamp)
	}
	assert.Equal(t, hour, got[0].Bar.Timestamp)
	assert.Equal(t, 3*hour, got[4].Bar.Timestamp)
}

func TestBacktestDeterministic(t *testing.T) {
	ctx := context.Background()
	db := memstore.New()
	for i := int64(0); i < 50; i++ {
		_, err := db.BulkUpsertBars(ctx, []domain.Bar{hourBar(i * hour)})
		require.NoError(t, err)
		require.NoError(t, db.InsertIndicator(ctx, hourVec(i*hour)))
	}

	collect := func() []int64 {
		src := NewBacktest(db, domain.MarketSpot, key, 0, 100*hour)
		ch, err := src.Events(ctx)
		require.NoError(t, err)
		var out []int64
		for ev := range ch {
			out = append(out, eventTS(ev))
		}
		return out
	}

	first := collect()
	second := collect()
	require.Len(t, first, 100)
	assert.Equal(t, first, second)
}

func TestLiveDeliversBusEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	memBus := bus.NewMemoryBus()

	src := NewLive(memBus, domain.MarketSpot, []domain.Key{key})
	ch, err := src.Events(ctx)
	require.NoError(t, err)

	barPayload, _ := json.Marshal(hourBar(hour))
	vecPayload, _ := json.Marshal(hourVec(hour))
	require.NoError(t, memBus.Publish(ctx, "bar.BTCUSDT.1h.spot", barPayload))
	require.NoError(t, memBus.Publish(ctx, "ind.BTCUSDT.1h", vecPayload))
	// A different series must not leak into this source.
	require.NoError(t, memBus.Publish(ctx, "bar.ETHUSDT.1h.spot", barPayload))

	first := <-ch
	require.NotNil(t, first.Bar)
	assert.Equal(t, hour, first.Bar.Timestamp)
	second := <-ch
	require.NotNil(t, second.Indicator)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected extra event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	_, open := <-ch
	assert.False(t, open, "queue closes when the context ends")
}
