package store

import (
	"context"

	"github.com/tickdrive/tickdrive/internal/domain"
)

// Store is the persistence boundary for bars, indicator vectors and
// signals. All writes keyed by (symbol, timeframe, timestamp, market) are
// idempotent upserts; duplicate inserts are benign and the most recent
// write wins.
type Store interface {
	// BulkUpsertBars inserts or replaces bars by primary key and returns
	// the number of rows affected.
	BulkUpsertBars(ctx context.Context, bars []domain.Bar) (int, error)

	// LastBarTime returns the newest bar timestamp for a series, or
	// (0, nil) when the series is empty.
	LastBarTime(ctx context.Context, symbol, timeframe string, market domain.MarketType) (int64, error)

	// CountBars returns the number of bars stored for a series.
	CountBars(ctx context.Context, symbol, timeframe string, market domain.MarketType) (int, error)

	// RecentBars returns up to limit bars ordered ascending by timestamp.
	// A non-zero beforeTS restricts results to bars strictly older.
	RecentBars(ctx context.Context, symbol, timeframe string, limit int, beforeTS int64, market domain.MarketType) ([]domain.Bar, error)

	// InsertIndicator upserts one indicator vector by primary key.
	InsertIndicator(ctx context.Context, vec domain.IndicatorVector) error

	// IndicatorAt returns the vector at an exact timestamp, or nil.
	IndicatorAt(ctx context.Context, symbol, timeframe string, ts int64, market domain.MarketType) (*domain.IndicatorVector, error)

	// RecentIndicators returns up to limit vectors ascending by timestamp.
	RecentIndicators(ctx context.Context, symbol, timeframe string, limit int, market domain.MarketType) ([]domain.IndicatorVector, error)

	// InsertSignal appends a signal.
	InsertSignal(ctx context.Context, sig domain.Signal) error

	// RecentSignals returns up to limit signals for a strategy, newest
	// first; symbol narrows the query when non-empty.
	RecentSignals(ctx context.Context, strategy, symbol string, limit int) ([]domain.Signal, error)
}
