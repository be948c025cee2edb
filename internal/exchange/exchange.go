// Package exchange abstracts market-data and trading venues. Adapters take
// symbols in slash form (BTC/USDT); domain.ExchangeSymbol converts from the
// compact form used on the bus and in the store.
package exchange

import (
	"context"
	"errors"

	"github.com/tickdrive/tickdrive/internal/domain"
)

// ErrNotSupported is returned by adapters that only serve market data.
var ErrNotSupported = errors.New("operation not supported by this exchange")

// Ticker is a point-in-time price snapshot.
type Ticker struct {
	Symbol    string  `json:"symbol"`
	Last      float64 `json:"last"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Timestamp int64   `json:"timestamp"`
}

// OrderBookLevel is one price level of an order book side.
type OrderBookLevel struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

// OrderBook is a depth snapshot, best levels first.
type OrderBook struct {
	Symbol    string           `json:"symbol"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
	Timestamp int64            `json:"timestamp"`
}

// OrderRequest describes an order to place.
type OrderRequest struct {
	Symbol string  `json:"symbol"`
	Side   string  `json:"side"` // BUY or SELL
	Type   string  `json:"type"` // MARKET or LIMIT
	Qty    float64 `json:"qty"`
	Price  float64 `json:"price,omitempty"`
}

// Order is the venue's view of a placed order.
type Order struct {
	ID        string  `json:"id"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Type      string  `json:"type"`
	Status    string  `json:"status"`
	Qty       float64 `json:"qty"`
	FilledQty float64 `json:"filled_qty"`
	AvgPrice  float64 `json:"avg_price"`
	Timestamp int64   `json:"timestamp"`
}

// Balance is one asset's free and locked amounts.
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// Exchange is the venue boundary. FetchBars is the only call the data plane
// depends on; the trading calls exist for live execution.
type Exchange interface {
	// FetchBars returns up to limit bars at or after sinceTS (Unix seconds,
	// 0 means venue default), ordered ascending.
	FetchBars(ctx context.Context, symbol, timeframe string, sinceTS int64, limit int) ([]domain.Bar, error)

	FetchTicker(ctx context.Context, symbol string) (*Ticker, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error)

	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	FetchOrder(ctx context.Context, symbol, orderID string) (*Order, error)
	FetchBalance(ctx context.Context) ([]Balance, error)
}
