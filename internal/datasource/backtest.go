package datasource

import (
	"context"
	"fmt"
	"sort"

	"github.com/tickdrive/tickdrive/internal/domain"
	"github.com/tickdrive/tickdrive/internal/store"
)

// Backtest replays stored bars and indicator vectors for one series over
// [Start, End], merged by timestamp with the bar ahead of its vector. The
// stream is finite and identical on every run.
type Backtest struct {
	db     store.Store
	market domain.MarketType
	key    domain.Key
	start  int64
	end    int64
	limit  int
}

func NewBacktest(db store.Store, market domain.MarketType, key domain.Key, start, end int64) *Backtest {
	return &Backtest{
		db: db, market: market, key: key,
		start: start, end: end,
		limit: 500_000,
	}
}

func (b *Backtest) Events(ctx context.Context) (<-chan Event, error) {
	bars, err := b.db.RecentBars(ctx, b.key.Symbol, b.key.Timeframe, b.limit, 0, b.market)
	if err != nil {
		return nil, fmt.Errorf("load bars %s: %w", b.key, err)
	}
	vecs, err := b.db.RecentIndicators(ctx, b.key.Symbol, b.key.Timeframe, b.limit, b.market)
	if err != nil {
		return nil, fmt.Errorf("load indicators %s: %w", b.key, err)
	}

	events := make([]Event, 0, len(bars)+len(vecs))
	for i := range bars {
		if bars[i].Timestamp < b.start || bars[i].Timestamp > b.end {
			continue
		}
		events = append(events, Event{Bar: &bars[i]})
	}
	for i := range vecs {
		if vecs[i].Timestamp < b.start || vecs[i].Timestamp > b.end {
			continue
		}
		events = append(events, Event{Indicator: &vecs[i]})
	}
	sort.SliceStable(events, func(i, j int) bool {
		ti, tj := eventTS(events[i]), eventTS(events[j])
		if ti != tj {
			return ti < tj
		}
		// The bar leads its vector so consumers see aligned pairs.
		return events[i].Bar != nil && events[j].Bar == nil
	})

	ch := make(chan Event)
	go func() {
		defer close(ch)
		for _, ev := range events {
			select {
			case <-ctx.Done():
				return
			case ch <- ev:
			}
		}
	}()
	return ch, nil
}

func eventTS(ev Event) int64 {
	if ev.Bar != nil {
		return ev.Bar.Timestamp
	}
	return ev.Indicator.Timestamp
}
