// Package producer polls the exchange for fresh bars, publishes them to
// the bus immediately and persists them through a write-behind buffer. The
// fetch cursor lives in memory only; startup rebuilds it from the store
// and backfills whatever the process missed while down.
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tickdrive/tickdrive/internal/bus"
	"github.com/tickdrive/tickdrive/internal/domain"
	"github.com/tickdrive/tickdrive/internal/exchange"
	"github.com/tickdrive/tickdrive/internal/metrics"
	"github.com/tickdrive/tickdrive/internal/store"
)

// Config tunes the polling and persistence cadence.
type Config struct {
	Market domain.MarketType
	Keys   []domain.Key

	FetchInterval time.Duration // steady-state poll cadence
	FlushInterval time.Duration // periodic buffer drain cadence
	BufferSize    int           // bars buffered before an inline flush

	InitialFetch     int // bars requested for an empty series
	GapBatchLimit    int // bars per backfill batch
	MaxGapBatches    int // backfill batches per startup
	SteadyFetchLimit int // bars per steady-state poll

	FlushRetries int
	RetryBackoff time.Duration
}

func (c *Config) normalize() {
	if c.Market == "" {
		c.Market = domain.MarketSpot
	}
	if c.FetchInterval <= 0 {
		c.FetchInterval = 5 * time.Second
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 10 * time.Second
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 100
	}
	if c.InitialFetch <= 0 {
		c.InitialFetch = 500
	}
	if c.GapBatchLimit <= 0 {
		c.GapBatchLimit = 1000
	}
	if c.MaxGapBatches <= 0 {
		c.MaxGapBatches = 10
	}
	if c.SteadyFetchLimit <= 0 {
		c.SteadyFetchLimit = 100
	}
	if c.FlushRetries <= 0 {
		c.FlushRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
}

// Stats are cumulative counters since process start.
type Stats struct {
	TotalFetched   int64 `json:"total_fetched"`
	TotalPublished int64 `json:"total_published"`
	TotalBuffered  int64 `json:"total_buffered"`
	TotalFlushed   int64 `json:"total_flushed"`
	FlushFailures  int64 `json:"flush_failures"`
}

type keyState struct {
	key domain.Key

	mu     sync.Mutex
	cursor int64
	buffer []domain.Bar
}

// Producer runs one polling loop per key plus a shared periodic flusher.
type Producer struct {
	cfg Config
	ex  exchange.Exchange
	db  store.Store
	bus bus.Bus
	met *metrics.Registry

	states []*keyState
	now    func() time.Time

	fetched   atomic.Int64
	published atomic.Int64
	buffered  atomic.Int64
	flushed   atomic.Int64
	failures  atomic.Int64
}

func New(cfg Config, ex exchange.Exchange, db store.Store, b bus.Bus, met *metrics.Registry) *Producer {
	cfg.normalize()
	p := &Producer{
		cfg: cfg, ex: ex, db: db, bus: b, met: met,
		now: time.Now,
	}
	for _, k := range cfg.Keys {
		p.states = append(p.states, &keyState{key: k})
	}
	return p
}

// Stats snapshots the cumulative counters.
func (p *Producer) Stats() Stats {
	return Stats{
		TotalFetched:   p.fetched.Load(),
		TotalPublished: p.published.Load(),
		TotalBuffered:  p.buffered.Load(),
		TotalFlushed:   p.flushed.Load(),
		FlushFailures:  p.failures.Load(),
	}
}

// Run initializes every cursor, then polls until ctx is cancelled. On the
// way out it drains all buffers so a clean shutdown loses nothing.
func (p *Producer) Run(ctx context.Context) error {
	for _, st := range p.states {
		if err := p.initCursor(ctx, st); err != nil {
			return fmt.Errorf("init cursor %s: %w", st.key, err)
		}
	}

	var wg sync.WaitGroup
	for _, st := range p.states {
		wg.Add(1)
		go func(st *keyState) {
			defer wg.Done()
			ticker := time.NewTicker(p.cfg.FetchInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					p.poll(ctx, st)
				}
			}
		}(st)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(p.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.flushAll(ctx)
			}
		}
	}()

	wg.Wait()

	// Shutdown drain uses a fresh context; the run context is already done.
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	p.flushAll(drainCtx)
	log.Info().Interface("stats", p.Stats()).Msg("producer stopped")
	return nil
}

// initCursor rebuilds the in-memory cursor from the store and backfills
// the downtime gap before steady polling starts.
func (p *Producer) initCursor(ctx context.Context, st *keyState) error {
	interval := domain.TimeframeSeconds(st.key.Timeframe)
	now := p.now().Unix()

	last, err := p.db.LastBarTime(ctx, st.key.Symbol, st.key.Timeframe, p.cfg.Market)
	if err != nil {
		return err
	}
	count, err := p.db.CountBars(ctx, st.key.Symbol, st.key.Timeframe, p.cfg.Market)
	if err != nil {
		return err
	}

	if last == 0 {
		// Empty series: seed it with one direct fetch.
		bars, err := p.fetchBars(ctx, st.key, 0, p.cfg.InitialFetch)
		if err != nil {
			return err
		}
		if len(bars) > 0 {
			if _, err := p.db.BulkUpsertBars(ctx, bars); err != nil {
				return err
			}
			st.cursor = bars[len(bars)-1].Timestamp
		} else {
			st.cursor = now
		}
		log.Info().Str("key", st.key.String()).Int("bars", len(bars)).
			Int64("cursor", st.cursor).Msg("seeded empty series")
		return nil
	}

	st.cursor = last
	if count >= p.cfg.InitialFetch && now-last <= interval {
		return nil
	}

	// Backfill the gap batch by batch, persisting directly.
	since := last + interval
	filled := 0
	for batch := 0; batch < p.cfg.MaxGapBatches; batch++ {
		bars, err := p.fetchBars(ctx, st.key, since, p.cfg.GapBatchLimit)
		if err != nil {
			return err
		}
		if len(bars) == 0 {
			break
		}
		if _, err := p.db.BulkUpsertBars(ctx, bars); err != nil {
			return err
		}
		filled += len(bars)
		lastTS := bars[len(bars)-1].Timestamp
		st.cursor = lastTS
		since = lastTS + interval
		if lastTS >= now-2*interval {
			break
		}
	}
	log.Info().Str("key", st.key.String()).Int("bars", filled).
		Int64("cursor", st.cursor).Msg("backfilled gap")
	return nil
}

// poll fetches from the cursor, publishes every bar at once and queues it
// for the write-behind flush. Publishing never waits on the store.
func (p *Producer) poll(ctx context.Context, st *keyState) {
	st.mu.Lock()
	cursor := st.cursor
	st.mu.Unlock()

	bars, err := p.fetchBars(ctx, st.key, cursor, p.cfg.SteadyFetchLimit)
	if err != nil {
		log.Warn().Err(err).Str("key", st.key.String()).Msg("poll fetch failed")
		return
	}

	var fresh []domain.Bar
	maxTS := cursor
	for _, b := range bars {
		if b.Timestamp < cursor {
			continue
		}
		fresh = append(fresh, b)
		if b.Timestamp > maxTS {
			maxTS = b.Timestamp
		}
	}
	if len(fresh) == 0 {
		return
	}

	for _, b := range fresh {
		payload, err := json.Marshal(b)
		if err != nil {
			log.Error().Err(err).Str("key", st.key.String()).Msg("marshal bar")
			continue
		}
		subject := bus.BarSubject(b.Symbol, b.Timeframe, b.Market)
		if err := p.bus.Publish(ctx, subject, payload); err != nil {
			log.Warn().Err(err).Str("subject", subject).Msg("publish bar failed")
			continue
		}
		p.published.Add(1)
	}
	if p.met != nil {
		p.met.BarsPublished.WithLabelValues(st.key.Symbol, st.key.Timeframe).
			Add(float64(len(fresh)))
	}

	var toFlush []domain.Bar
	st.mu.Lock()
	st.buffer = append(st.buffer, fresh...)
	st.cursor = maxTS
	p.buffered.Add(int64(len(fresh)))
	if len(st.buffer) >= p.cfg.BufferSize {
		toFlush = st.buffer
		st.buffer = nil
	}
	depth := len(st.buffer)
	st.mu.Unlock()

	if p.met != nil {
		p.met.BufferDepth.WithLabelValues(st.key.Symbol, st.key.Timeframe).
			Set(float64(depth))
	}
	if toFlush != nil {
		p.flush(ctx, st, toFlush)
	}
}

func (p *Producer) fetchBars(ctx context.Context, key domain.Key, since int64, limit int) ([]domain.Bar, error) {
	bars, err := p.ex.FetchBars(ctx, domain.ExchangeSymbol(key.Symbol), key.Timeframe, since, limit)
	if err != nil {
		return nil, err
	}
	for i := range bars {
		bars[i].Symbol = key.Symbol
		bars[i].Timeframe = key.Timeframe
		bars[i].Market = p.cfg.Market
	}
	p.fetched.Add(int64(len(bars)))
	if p.met != nil {
		p.met.BarsFetched.WithLabelValues(key.Symbol, key.Timeframe).
			Add(float64(len(bars)))
	}
	return bars, nil
}

// flushAll drains every non-empty buffer concurrently.
func (p *Producer) flushAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, st := range p.states {
		st.mu.Lock()
		pending := st.buffer
		st.buffer = nil
		st.mu.Unlock()
		if len(pending) == 0 {
			continue
		}
		wg.Add(1)
		go func(st *keyState, pending []domain.Bar) {
			defer wg.Done()
			p.flush(ctx, st, pending)
		}(st, pending)
	}
	wg.Wait()
}

// flush persists a batch with bounded retries. On exhaustion the batch is
// re-queued at the front of the buffer so ordering survives the failure.
func (p *Producer) flush(ctx context.Context, st *keyState, batch []domain.Bar) {
	var err error
	for attempt := 1; attempt <= p.cfg.FlushRetries; attempt++ {
		if _, err = p.db.BulkUpsertBars(ctx, batch); err == nil {
			p.flushed.Add(int64(len(batch)))
			if p.met != nil {
				p.met.BarsFlushed.WithLabelValues(st.key.Symbol, st.key.Timeframe).
					Add(float64(len(batch)))
			}
			return
		}
		log.Warn().Err(err).Str("key", st.key.String()).
			Int("attempt", attempt).Int("bars", len(batch)).
			Msg("flush attempt failed")
		if attempt < p.cfg.FlushRetries {
			select {
			case <-ctx.Done():
				attempt = p.cfg.FlushRetries
			case <-time.After(time.Duration(attempt) * p.cfg.RetryBackoff):
			}
		}
	}

	p.failures.Add(1)
	if p.met != nil {
		p.met.FlushFailures.WithLabelValues(st.key.Symbol, st.key.Timeframe).Inc()
	}
	st.mu.Lock()
	st.buffer = append(batch, st.buffer...)
	st.mu.Unlock()
	log.Error().Err(err).Str("key", st.key.String()).
		Int("bars", len(batch)).Msg("flush retries exhausted, batch requeued")
}
