package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tickdrive/tickdrive/internal/bus"
	"github.com/tickdrive/tickdrive/internal/domain"
)

// liveQueueCap bounds the live event queue. When a consumer falls behind,
// the oldest event is dropped so fresh data keeps flowing.
const liveQueueCap = 1024

// Live subscribes to the bar and indicator subjects of its keys and
// funnels them into one bounded queue.
type Live struct {
	bus    bus.Bus
	market domain.MarketType
	keys   []domain.Key
}

func NewLive(b bus.Bus, market domain.MarketType, keys []domain.Key) *Live {
	return &Live{bus: b, market: market, keys: keys}
}

func (l *Live) Events(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, liveQueueCap)

	// The mutex serializes pushes against the close on shutdown, so a
	// late bus delivery can never hit a closed channel.
	var mu sync.Mutex
	closed := false

	push := func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		for {
			select {
			case ch <- ev:
				return
			default:
			}
			select {
			case dropped := <-ch:
				ts := int64(0)
				if dropped.Bar != nil {
					ts = dropped.Bar.Timestamp
				} else if dropped.Indicator != nil {
					ts = dropped.Indicator.Timestamp
				}
				log.Warn().Int64("ts", ts).Msg("live queue full, dropped oldest event")
			default:
			}
		}
	}

	onBar := func(_ context.Context, subject string, payload []byte) error {
		var b domain.Bar
		if err := json.Unmarshal(payload, &b); err != nil {
			return fmt.Errorf("decode bar from %s: %w", subject, err)
		}
		push(Event{Bar: &b})
		return nil
	}
	onIndicator := func(_ context.Context, subject string, payload []byte) error {
		var v domain.IndicatorVector
		if err := json.Unmarshal(payload, &v); err != nil {
			return fmt.Errorf("decode indicator from %s: %w", subject, err)
		}
		push(Event{Indicator: &v})
		return nil
	}

	for _, key := range l.keys {
		if err := l.bus.Subscribe(ctx, bus.BarSubject(key.Symbol, key.Timeframe, l.market), onBar); err != nil {
			return nil, fmt.Errorf("subscribe bars %s: %w", key, err)
		}
		if err := l.bus.Subscribe(ctx, bus.IndicatorSubject(key.Symbol, key.Timeframe), onIndicator); err != nil {
			return nil, fmt.Errorf("subscribe indicators %s: %w", key, err)
		}
	}

	go func() {
		<-ctx.Done()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()
	return ch, nil
}
