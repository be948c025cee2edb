package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickdrive/tickdrive/internal/domain"
)

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern, subject string
		want             bool
	}{
		{"bar.BTCUSDT.1h.spot", "bar.BTCUSDT.1h.spot", true},
		{"bar.BTCUSDT.*", "bar.BTCUSDT.1h.spot", true},
		{"bar.*", "bar.ETHUSDT.1d.future", true},
		{"ind.BTCUSDT.1h", "ind.BTCUSDT.4h", false},
		{"bar.BTCUSDT.*", "ind.BTCUSDT.1h", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Match(tc.pattern, tc.subject),
			"pattern=%s subject=%s", tc.pattern, tc.subject)
	}
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "bar.BTCUSDT.1h.spot", BarSubject("BTCUSDT", "1h", domain.MarketSpot))
	assert.Equal(t, "ind.BTCUSDT.1h", IndicatorSubject("BTCUSDT", "1h"))
	assert.Equal(t, "sig.dual_ma.BTCUSDT", SignalSubject("dual_ma", "BTCUSDT"))
}

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	var mu sync.Mutex
	var got []string
	err := b.Subscribe(ctx, "bar.BTCUSDT.*", func(ctx context.Context, subject string, payload []byte) error {
		mu.Lock()
		got = append(got, subject+"|"+string(payload))
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "bar.BTCUSDT.1h.spot", []byte("a")))
	require.NoError(t, b.Publish(ctx, "bar.ETHUSDT.1h.spot", []byte("b")))
	require.NoError(t, b.Publish(ctx, "bar.BTCUSDT.1h.spot", []byte("c")))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, "bar.BTCUSDT.1h.spot|a", got[0])
	assert.Equal(t, "bar.BTCUSDT.1h.spot|c", got[1])
}

func TestMemoryBus_HandlerFailureIsolation(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	delivered := 0
	require.NoError(t, b.Subscribe(ctx, "sig.*", func(context.Context, string, []byte) error {
		return errors.New("boom")
	}))
	require.NoError(t, b.Subscribe(ctx, "sig.*", func(context.Context, string, []byte) error {
		panic("handler panic")
	}))
	require.NoError(t, b.Subscribe(ctx, "sig.*", func(context.Context, string, []byte) error {
		delivered++
		return nil
	}))

	require.NoError(t, b.Publish(ctx, "sig.rsi.BTCUSDT", []byte("{}")))
	assert.Equal(t, 1, delivered)
}

func TestMemoryBus_HistoryTrimAndOrder(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()
	subject := "bar.BTCUSDT.1m.spot"

	for i := 0; i < ReplayLogMax+50; i++ {
		require.NoError(t, b.Publish(ctx, subject, []byte(fmt.Sprintf("%d", i))))
	}

	all, err := b.History(ctx, subject, 0, false)
	require.NoError(t, err)
	require.Len(t, all, ReplayLogMax)
	assert.Equal(t, "50", string(all[0]))
	assert.Equal(t, fmt.Sprintf("%d", ReplayLogMax+49), string(all[len(all)-1]))

	last3, err := b.History(ctx, subject, 3, true)
	require.NoError(t, err)
	require.Len(t, last3, 3)
	assert.Equal(t, fmt.Sprintf("%d", ReplayLogMax+49), string(last3[0]))

	require.NoError(t, b.Clear(ctx, subject))
	cleared, err := b.History(ctx, subject, 0, false)
	require.NoError(t, err)
	assert.Empty(t, cleared)
}

func TestMemoryBus_CancelledSubscriberDropped(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	subCtx, cancel := context.WithCancel(context.Background())
	count := 0
	require.NoError(t, b.Subscribe(subCtx, "bar.*", func(context.Context, string, []byte) error {
		count++
		return nil
	}))

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "bar.BTCUSDT.1h.spot", []byte("x")))
	cancel()
	require.NoError(t, b.Publish(ctx, "bar.BTCUSDT.1h.spot", []byte("y")))
	assert.Equal(t, 1, count)
}
