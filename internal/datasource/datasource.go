// Package datasource feeds the trading engine. The live source drains
// the bus into a bounded queue; the backtest source replays stored
// history deterministically. The engine cannot tell them apart.
package datasource

import (
	"context"

	"github.com/tickdrive/tickdrive/internal/domain"
)

// Event is one element of the engine's input stream: exactly one of Bar
// or Indicator is set.
type Event struct {
	Bar       *domain.Bar
	Indicator *domain.IndicatorVector
}

// Source delivers events in timestamp order. The channel closes when the
// source is exhausted (backtest) or the context ends (live).
type Source interface {
	Events(ctx context.Context) (<-chan Event, error)
}
