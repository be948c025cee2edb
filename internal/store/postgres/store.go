package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/tickdrive/tickdrive/internal/domain"
	"github.com/tickdrive/tickdrive/internal/store"
)

// Store implements store.Store on PostgreSQL via sqlx. Bars and indicator
// vectors use ON CONFLICT upserts on (symbol, timeframe, ts, market_type)
// so duplicate writes are absorbed.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects and pings the database.
func Open(url string, timeout time.Duration) (*Store, error) {
	db, err := sqlx.Connect("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{db: db, timeout: timeout}, nil
}

// New wraps an existing connection, mainly for tests.
func New(db *sqlx.DB, timeout time.Duration) *Store {
	return &Store{db: db, timeout: timeout}
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

var _ store.Store = (*Store)(nil)

const upsertBar = `
	INSERT INTO bars (symbol, timeframe, ts, market_type, open, high, low, close, volume)
	VALUES (:symbol, :timeframe, :ts, :market_type, :open, :high, :low, :close, :volume)
	ON CONFLICT (symbol, timeframe, ts, market_type) DO UPDATE SET
		open = EXCLUDED.open,
		high = EXCLUDED.high,
		low = EXCLUDED.low,
		close = EXCLUDED.close,
		volume = EXCLUDED.volume`

func (s *Store) BulkUpsertBars(ctx context.Context, bars []domain.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, upsertBar)
	if err != nil {
		return 0, fmt.Errorf("prepare bar upsert: %w", err)
	}
	defer stmt.Close()

	affected := 0
	for _, b := range bars {
		res, err := stmt.ExecContext(ctx, b)
		if err != nil {
			return 0, fmt.Errorf("upsert bar %s %s @%d: %w", b.Symbol, b.Timeframe, b.Timestamp, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			affected += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit bar upsert: %w", err)
	}
	return affected, nil
}

func (s *Store) LastBarTime(ctx context.Context, symbol, timeframe string, market domain.MarketType) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var ts int64
	err := s.db.GetContext(ctx, &ts, `
		SELECT ts FROM bars
		WHERE symbol = $1 AND timeframe = $2 AND market_type = $3
		ORDER BY ts DESC LIMIT 1`, symbol, timeframe, market)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("last bar time: %w", err)
	}
	return ts, nil
}

func (s *Store) CountBars(ctx context.Context, symbol, timeframe string, market domain.MarketType) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM bars
		WHERE symbol = $1 AND timeframe = $2 AND market_type = $3`,
		symbol, timeframe, market)
	if err != nil {
		return 0, fmt.Errorf("count bars: %w", err)
	}
	return n, nil
}

func (s *Store) RecentBars(ctx context.Context, symbol, timeframe string, limit int, beforeTS int64, market domain.MarketType) ([]domain.Bar, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT symbol, timeframe, ts, market_type, open, high, low, close, volume
		FROM bars
		WHERE symbol = $1 AND timeframe = $2 AND market_type = $3`
	args := []interface{}{symbol, timeframe, market}
	if beforeTS > 0 {
		query += ` AND ts < $4`
		args = append(args, beforeTS)
	}
	query += fmt.Sprintf(` ORDER BY ts DESC LIMIT %d`, limit)

	var bars []domain.Bar
	if err := s.db.SelectContext(ctx, &bars, query, args...); err != nil {
		return nil, fmt.Errorf("recent bars: %w", err)
	}
	// Stored newest-first for the LIMIT; callers get ascending order.
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

const upsertIndicator = `
	INSERT INTO indicators (symbol, timeframe, ts, market_type,
		ma5, ma10, ma20, ma60, ma120, ema12, ema26, rsi14,
		macd_line, macd_signal, macd_histogram,
		bb_upper, bb_middle, bb_lower, atr14, volume_ma5)
	VALUES (:symbol, :timeframe, :ts, :market_type,
		:ma5, :ma10, :ma20, :ma60, :ma120, :ema12, :ema26, :rsi14,
		:macd_line, :macd_signal, :macd_histogram,
		:bb_upper, :bb_middle, :bb_lower, :atr14, :volume_ma5)
	ON CONFLICT (symbol, timeframe, ts, market_type) DO UPDATE SET
		ma5 = EXCLUDED.ma5, ma10 = EXCLUDED.ma10, ma20 = EXCLUDED.ma20,
		ma60 = EXCLUDED.ma60, ma120 = EXCLUDED.ma120,
		ema12 = EXCLUDED.ema12, ema26 = EXCLUDED.ema26,
		rsi14 = EXCLUDED.rsi14,
		macd_line = EXCLUDED.macd_line, macd_signal = EXCLUDED.macd_signal,
		macd_histogram = EXCLUDED.macd_histogram,
		bb_upper = EXCLUDED.bb_upper, bb_middle = EXCLUDED.bb_middle,
		bb_lower = EXCLUDED.bb_lower,
		atr14 = EXCLUDED.atr14, volume_ma5 = EXCLUDED.volume_ma5`

func (s *Store) InsertIndicator(ctx context.Context, vec domain.IndicatorVector) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.db.NamedExecContext(ctx, upsertIndicator, vec); err != nil {
		return fmt.Errorf("insert indicator %s %s @%d: %w", vec.Symbol, vec.Timeframe, vec.Timestamp, err)
	}
	return nil
}

func (s *Store) IndicatorAt(ctx context.Context, symbol, timeframe string, ts int64, market domain.MarketType) (*domain.IndicatorVector, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var vec domain.IndicatorVector
	err := s.db.GetContext(ctx, &vec, `
		SELECT symbol, timeframe, ts, market_type,
			ma5, ma10, ma20, ma60, ma120, ema12, ema26, rsi14,
			macd_line, macd_signal, macd_histogram,
			bb_upper, bb_middle, bb_lower, atr14, volume_ma5
		FROM indicators
		WHERE symbol = $1 AND timeframe = $2 AND ts = $3 AND market_type = $4`,
		symbol, timeframe, ts, market)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("indicator at %d: %w", ts, err)
	}
	return &vec, nil
}

func (s *Store) RecentIndicators(ctx context.Context, symbol, timeframe string, limit int, market domain.MarketType) ([]domain.IndicatorVector, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var vecs []domain.IndicatorVector
	err := s.db.SelectContext(ctx, &vecs, fmt.Sprintf(`
		SELECT symbol, timeframe, ts, market_type,
			ma5, ma10, ma20, ma60, ma120, ema12, ema26, rsi14,
			macd_line, macd_signal, macd_histogram,
			bb_upper, bb_middle, bb_lower, atr14, volume_ma5
		FROM indicators
		WHERE symbol = $1 AND timeframe = $2 AND market_type = $3
		ORDER BY ts DESC LIMIT %d`, limit),
		symbol, timeframe, market)
	if err != nil {
		return nil, fmt.Errorf("recent indicators: %w", err)
	}
	for i, j := 0, len(vecs)-1; i < j; i, j = i+1, j-1 {
		vecs[i], vecs[j] = vecs[j], vecs[i]
	}
	return vecs, nil
}

func (s *Store) InsertSignal(ctx context.Context, sig domain.Signal) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO signals (strategy_name, symbol, ts, signal_type, side,
			action, price, reason, confidence, stop_loss, take_profit, position_size)
		VALUES (:strategy_name, :symbol, :ts, :signal_type, :side,
			:action, :price, :reason, :confidence, :stop_loss, :take_profit, :position_size)`,
		sig)
	if err != nil {
		return fmt.Errorf("insert signal %s %s: %w", sig.Strategy, sig.Symbol, err)
	}
	return nil
}

func (s *Store) RecentSignals(ctx context.Context, strategy, symbol string, limit int) ([]domain.Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT strategy_name, symbol, ts, signal_type, side, action,
			price, reason, confidence, stop_loss, take_profit, position_size
		FROM signals
		WHERE strategy_name = $1`
	args := []interface{}{strategy}
	if symbol != "" {
		query += ` AND symbol = $2`
		args = append(args, symbol)
	}
	query += fmt.Sprintf(` ORDER BY ts DESC LIMIT %d`, limit)

	var sigs []domain.Signal
	if err := s.db.SelectContext(ctx, &sigs, query, args...); err != nil {
		return nil, fmt.Errorf("recent signals: %w", err)
	}
	return sigs, nil
}
