package nodes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tickdrive/tickdrive/internal/bus"
	"github.com/tickdrive/tickdrive/internal/domain"
	"github.com/tickdrive/tickdrive/internal/store"
	"github.com/tickdrive/tickdrive/internal/strategy"
)

// StrategyNode fans bar and indicator events for one market into one
// runner per strategy, then persists and publishes whatever signals come
// out.
type StrategyNode struct {
	db      store.Store
	bus     bus.Bus
	market  domain.MarketType
	keys    []domain.Key
	runners []*strategy.Runner
}

func NewStrategyNode(db store.Store, b bus.Bus, market domain.MarketType,
	keys []domain.Key, runners ...*strategy.Runner) *StrategyNode {
	return &StrategyNode{db: db, bus: b, market: market, keys: keys, runners: runners}
}

// Run subscribes to the configured bar and indicator subjects and blocks
// until ctx is cancelled.
func (n *StrategyNode) Run(ctx context.Context) error {
	for _, k := range n.keys {
		subject := bus.BarSubject(k.Symbol, k.Timeframe, n.market)
		if err := n.bus.Subscribe(ctx, subject, n.HandleBar); err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		subject = bus.IndicatorSubject(k.Symbol, k.Timeframe)
		if err := n.bus.Subscribe(ctx, subject, n.HandleIndicator); err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
	}
	log.Info().Str("market", string(n.market)).Int("series", len(n.keys)).
		Int("runners", len(n.runners)).Msg("strategy node running")
	<-ctx.Done()
	return nil
}

func (n *StrategyNode) HandleBar(ctx context.Context, subject string, payload []byte) error {
	var b domain.Bar
	if err := json.Unmarshal(payload, &b); err != nil {
		return fmt.Errorf("decode bar from %s: %w", subject, err)
	}
	if b.Market != n.market {
		return nil
	}
	for _, r := range n.runners {
		if sig := r.OnBar(ctx, b); sig != nil {
			n.emit(ctx, sig)
		}
	}
	return nil
}

func (n *StrategyNode) HandleIndicator(ctx context.Context, subject string, payload []byte) error {
	var vec domain.IndicatorVector
	if err := json.Unmarshal(payload, &vec); err != nil {
		return fmt.Errorf("decode indicator from %s: %w", subject, err)
	}
	if vec.Market != n.market {
		return nil
	}
	for _, r := range n.runners {
		if sig := r.OnIndicator(ctx, vec); sig != nil {
			n.emit(ctx, sig)
		}
	}
	return nil
}

// emit persists the signal and publishes it. Neither failure blocks the
// other runners, so errors are logged rather than returned.
func (n *StrategyNode) emit(ctx context.Context, sig *domain.Signal) {
	if err := n.db.InsertSignal(ctx, *sig); err != nil {
		log.Error().Err(err).Str("strategy", sig.Strategy).
			Str("symbol", sig.Symbol).Msg("persist signal failed")
	}
	payload, err := json.Marshal(sig)
	if err != nil {
		log.Error().Err(err).Msg("marshal signal")
		return
	}
	subject := bus.SignalSubject(sig.Strategy, sig.Symbol)
	if err := n.bus.Publish(ctx, subject, payload); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("publish signal failed")
		return
	}
	log.Info().Str("strategy", sig.Strategy).Str("symbol", sig.Symbol).
		Str("type", string(sig.Type)).Float64("price", sig.Price).
		Str("reason", sig.Reason).Msg("signal emitted")
}
