// Package fake is a scripted exchange for tests. Bars are seeded up front
// and FetchBars serves them the way a venue would: ascending, at or after
// the requested start, capped at the limit.
package fake

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/tickdrive/tickdrive/internal/domain"
	"github.com/tickdrive/tickdrive/internal/exchange"
)

// Exchange serves scripted bars. Safe for concurrent use.
type Exchange struct {
	mu     sync.Mutex
	bars   map[string][]domain.Bar // keyed by symbol:timeframe, ascending
	calls  int
	FailFn func(call int) error // optional per-call fault injection
}

var _ exchange.Exchange = (*Exchange)(nil)

func New() *Exchange {
	return &Exchange{bars: make(map[string][]domain.Bar)}
}

func key(symbol, timeframe string) string {
	return strings.ReplaceAll(symbol, "/", "") + ":" + timeframe
}

// Seed adds bars to the script; they are kept sorted by timestamp.
func (e *Exchange) Seed(bars ...domain.Bar) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range bars {
		k := key(b.Symbol, b.Timeframe)
		e.bars[k] = append(e.bars[k], b)
	}
	for k := range e.bars {
		sort.Slice(e.bars[k], func(i, j int) bool {
			return e.bars[k][i].Timestamp < e.bars[k][j].Timestamp
		})
	}
}

// Calls reports how many FetchBars requests have been made.
func (e *Exchange) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *Exchange) FetchBars(ctx context.Context, symbol, timeframe string, sinceTS int64, limit int) ([]domain.Bar, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.FailFn != nil {
		if err := e.FailFn(e.calls); err != nil {
			return nil, err
		}
	}

	var out []domain.Bar
	for _, b := range e.bars[key(symbol, timeframe)] {
		if sinceTS > 0 && b.Timestamp < sinceTS {
			continue
		}
		out = append(out, b)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (e *Exchange) FetchTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	return nil, exchange.ErrNotSupported
}

func (e *Exchange) FetchOrderBook(ctx context.Context, symbol string, depth int) (*exchange.OrderBook, error) {
	return nil, exchange.ErrNotSupported
}

func (e *Exchange) CreateOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	return nil, exchange.ErrNotSupported
}

func (e *Exchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return exchange.ErrNotSupported
}

func (e *Exchange) FetchOrder(ctx context.Context, symbol, orderID string) (*exchange.Order, error) {
	return nil, exchange.ErrNotSupported
}

func (e *Exchange) FetchBalance(ctx context.Context) ([]exchange.Balance, error) {
	return nil, exchange.ErrNotSupported
}
