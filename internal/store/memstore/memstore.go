// Package memstore is an in-memory store.Store used by tests and
// development tooling. It mirrors the idempotent-upsert semantics of the
// PostgreSQL implementation.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/tickdrive/tickdrive/internal/domain"
	"github.com/tickdrive/tickdrive/internal/store"
)

type seriesKey struct {
	symbol    string
	timeframe string
	market    domain.MarketType
}

// Store keeps everything in maps guarded by one RWMutex. An optional
// WriteDelay simulates slow persistence for latency-independence tests.
type Store struct {
	mu         sync.RWMutex
	bars       map[seriesKey]map[int64]domain.Bar
	indicators map[seriesKey]map[int64]domain.IndicatorVector
	signals    []domain.Signal

	WriteDelay func() // called before each bar bulk write when set

	barWrites int
}

var _ store.Store = (*Store)(nil)

// New constructs an empty store.
func New() *Store {
	return &Store{
		bars:       make(map[seriesKey]map[int64]domain.Bar),
		indicators: make(map[seriesKey]map[int64]domain.IndicatorVector),
	}
}

func (s *Store) BulkUpsertBars(ctx context.Context, bars []domain.Bar) (int, error) {
	if delay := s.WriteDelay; delay != nil {
		delay()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range bars {
		k := seriesKey{b.Symbol, b.Timeframe, b.Market}
		if s.bars[k] == nil {
			s.bars[k] = make(map[int64]domain.Bar)
		}
		s.bars[k][b.Timestamp] = b
	}
	s.barWrites++
	return len(bars), nil
}

// BarWrites reports how many bulk writes have happened; test hook.
func (s *Store) BarWrites() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.barWrites
}

func (s *Store) LastBarTime(ctx context.Context, symbol, timeframe string, market domain.MarketType) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last int64
	for ts := range s.bars[seriesKey{symbol, timeframe, market}] {
		if ts > last {
			last = ts
		}
	}
	return last, nil
}

func (s *Store) CountBars(ctx context.Context, symbol, timeframe string, market domain.MarketType) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bars[seriesKey{symbol, timeframe, market}]), nil
}

func (s *Store) RecentBars(ctx context.Context, symbol, timeframe string, limit int, beforeTS int64, market domain.MarketType) ([]domain.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]domain.Bar, 0, len(s.bars[seriesKey{symbol, timeframe, market}]))
	for ts, b := range s.bars[seriesKey{symbol, timeframe, market}] {
		if beforeTS > 0 && ts >= beforeTS {
			continue
		}
		all = append(all, b)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (s *Store) InsertIndicator(ctx context.Context, vec domain.IndicatorVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := seriesKey{vec.Symbol, vec.Timeframe, vec.Market}
	if s.indicators[k] == nil {
		s.indicators[k] = make(map[int64]domain.IndicatorVector)
	}
	s.indicators[k][vec.Timestamp] = vec
	return nil
}

func (s *Store) IndicatorAt(ctx context.Context, symbol, timeframe string, ts int64, market domain.MarketType) (*domain.IndicatorVector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vec, ok := s.indicators[seriesKey{symbol, timeframe, market}][ts]
	if !ok {
		return nil, nil
	}
	return &vec, nil
}

func (s *Store) RecentIndicators(ctx context.Context, symbol, timeframe string, limit int, market domain.MarketType) ([]domain.IndicatorVector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]domain.IndicatorVector, 0, len(s.indicators[seriesKey{symbol, timeframe, market}]))
	for _, v := range s.indicators[seriesKey{symbol, timeframe, market}] {
		all = append(all, v)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (s *Store) InsertSignal(ctx context.Context, sig domain.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, sig)
	return nil
}

func (s *Store) RecentSignals(ctx context.Context, strategy, symbol string, limit int) ([]domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Signal, 0, limit)
	for i := len(s.signals) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		sig := s.signals[i]
		if sig.Strategy != strategy {
			continue
		}
		if symbol != "" && sig.Symbol != symbol {
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}
