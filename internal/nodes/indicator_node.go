// Package nodes wires the bus-driven processes: the indicator node turns
// bar events into indicator vectors, the strategy node turns bars and
// vectors into signals. Each node serves one market and one configured
// set of series; events from other markets never touch its state.
package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tickdrive/tickdrive/internal/bus"
	"github.com/tickdrive/tickdrive/internal/domain"
	"github.com/tickdrive/tickdrive/internal/indicator"
	"github.com/tickdrive/tickdrive/internal/metrics"
	"github.com/tickdrive/tickdrive/internal/store"
)

// slowUpdateThreshold flags steady-state updates that stopped being O(1).
const slowUpdateThreshold = 10 * time.Millisecond

// seriesKey identifies one calculator set. Market is part of the key:
// spot and futures history for the same symbol are different series.
type seriesKey struct {
	Symbol    string
	Timeframe string
	Market    domain.MarketType
}

// IndicatorNode consumes bar events for one market and maintains one
// streaming calculator set per series. History is read once per series,
// at first sight; after that every update is pure in-memory work.
type IndicatorNode struct {
	db     store.Store
	bus    bus.Bus
	met    *metrics.Registry
	market domain.MarketType
	keys   []domain.Key

	mu   sync.Mutex
	sets map[seriesKey]*indicator.Set
}

func NewIndicatorNode(db store.Store, b bus.Bus, met *metrics.Registry,
	market domain.MarketType, keys []domain.Key) *IndicatorNode {
	return &IndicatorNode{
		db: db, bus: b, met: met,
		market: market, keys: keys,
		sets: make(map[seriesKey]*indicator.Set),
	}
}

// Run subscribes to the configured bar subjects and blocks until ctx is
// cancelled.
func (n *IndicatorNode) Run(ctx context.Context) error {
	for _, k := range n.keys {
		subject := bus.BarSubject(k.Symbol, k.Timeframe, n.market)
		if err := n.bus.Subscribe(ctx, subject, n.HandleBar); err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
	}
	log.Info().Str("market", string(n.market)).Int("series", len(n.keys)).
		Msg("indicator node running")
	<-ctx.Done()
	return nil
}

// HandleBar advances the series' calculator set and publishes the vector.
// Bars from another market are dropped.
func (n *IndicatorNode) HandleBar(ctx context.Context, subject string, payload []byte) error {
	var b domain.Bar
	if err := json.Unmarshal(payload, &b); err != nil {
		return fmt.Errorf("decode bar from %s: %w", subject, err)
	}
	if b.Market != n.market {
		return nil
	}

	set, err := n.setFor(ctx, b)
	if err != nil {
		return err
	}

	start := time.Now()
	vec := set.Update(b)
	elapsed := time.Since(start)
	if elapsed > slowUpdateThreshold {
		log.Warn().Str("symbol", b.Symbol).Str("timeframe", b.Timeframe).
			Dur("elapsed", elapsed).Msg("slow indicator update")
	}
	if n.met != nil {
		n.met.IndicatorUpdateSeconds.WithLabelValues(b.Symbol, b.Timeframe).
			Observe(elapsed.Seconds())
	}

	if err := n.db.InsertIndicator(ctx, vec); err != nil {
		return fmt.Errorf("persist indicator %s %s @%d: %w", b.Symbol, b.Timeframe, b.Timestamp, err)
	}

	out, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("marshal indicator: %w", err)
	}
	if err := n.bus.Publish(ctx, bus.IndicatorSubject(b.Symbol, b.Timeframe), out); err != nil {
		return fmt.Errorf("publish indicator: %w", err)
	}
	if n.met != nil {
		n.met.IndicatorsPublished.WithLabelValues(b.Symbol, b.Timeframe).Inc()
	}
	return nil
}

// setFor returns the series' calculator set, preheating a fresh one from
// stored history on first sight.
func (n *IndicatorNode) setFor(ctx context.Context, b domain.Bar) (*indicator.Set, error) {
	key := seriesKey{Symbol: b.Symbol, Timeframe: b.Timeframe, Market: b.Market}

	n.mu.Lock()
	defer n.mu.Unlock()
	if set, ok := n.sets[key]; ok {
		return set, nil
	}

	history, err := n.db.RecentBars(ctx, b.Symbol, b.Timeframe,
		indicator.PreheatBars, b.Timestamp, b.Market)
	if err != nil {
		return nil, fmt.Errorf("preheat %s %s %s: %w", b.Symbol, b.Timeframe, b.Market, err)
	}

	set := indicator.NewSet()
	for _, h := range history {
		set.Update(h)
	}
	if len(history) < indicator.MinWarmupBars {
		log.Warn().Str("symbol", b.Symbol).Str("timeframe", b.Timeframe).
			Str("market", string(b.Market)).Int("bars", len(history)).
			Int("needed", indicator.MinWarmupBars).
			Msg("preheat history short, long indicators will lag")
	} else {
		log.Info().Str("symbol", b.Symbol).Str("timeframe", b.Timeframe).
			Str("market", string(b.Market)).Int("bars", len(history)).
			Msg("calculator set preheated")
	}
	n.sets[key] = set
	return set, nil
}
