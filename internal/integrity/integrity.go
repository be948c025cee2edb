// Package integrity audits stored bar and indicator series for holes and
// repairs them: bar gaps are refetched from the exchange, indicator gaps
// are recomputed from stored history.
package integrity

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tickdrive/tickdrive/internal/domain"
	"github.com/tickdrive/tickdrive/internal/exchange"
	"github.com/tickdrive/tickdrive/internal/indicator"
	"github.com/tickdrive/tickdrive/internal/metrics"
	"github.com/tickdrive/tickdrive/internal/store"
)

// Config tunes the audit windows.
type Config struct {
	Market      domain.MarketType
	DaysBack    int           // bar audit lookback
	KlinesCount int           // indicator audit lookback in bars
	FetchLimit  int           // bars requested per repair window
	Pause       time.Duration // delay between repair windows
}

func (c *Config) normalize() {
	if c.Market == "" {
		c.Market = domain.MarketSpot
	}
	if c.DaysBack <= 0 {
		c.DaysBack = 30
	}
	if c.KlinesCount <= 0 {
		c.KlinesCount = 2000
	}
	if c.FetchLimit <= 0 {
		c.FetchLimit = 1500
	}
	if c.Pause < 0 {
		c.Pause = 0
	}
}

// Range is a contiguous run of missing bar timestamps, inclusive.
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Report summarizes one series' audit and repair.
type Report struct {
	Key                 domain.Key `json:"-"`
	Symbol              string     `json:"symbol"`
	Timeframe           string     `json:"timeframe"`
	BarRangesFound      int        `json:"bar_ranges_found"`
	BarRangesFilled     int        `json:"bar_ranges_filled"`
	BarsInserted        int        `json:"bars_inserted"`
	IndicatorGapsFound  int        `json:"indicator_gaps_found"`
	IndicatorGapsFilled int        `json:"indicator_gaps_filled"`
	Errors              []string   `json:"errors,omitempty"`
}

// Checker runs the audits. Safe to use from a one-shot command or a
// startup hook.
type Checker struct {
	db  store.Store
	ex  exchange.Exchange
	met *metrics.Registry
	cfg Config

	now   func() time.Time
	sleep func(time.Duration)
}

func NewChecker(cfg Config, db store.Store, ex exchange.Exchange, met *metrics.Registry) *Checker {
	cfg.normalize()
	return &Checker{
		db: db, ex: ex, met: met, cfg: cfg,
		now: time.Now, sleep: time.Sleep,
	}
}

// DetectBarGaps compares the stored series against the ideal interval
// grid over the audit window and merges the missing timestamps into
// ranges. Neighbors closer than 1.5 intervals join the same range.
func (c *Checker) DetectBarGaps(ctx context.Context, key domain.Key) ([]Range, error) {
	interval := domain.TimeframeSeconds(key.Timeframe)
	now := c.now().Unix()
	from := (now - int64(c.cfg.DaysBack)*86400) / interval * interval
	to := now / interval * interval

	expected := int((to-from)/interval) + 1
	bars, err := c.db.RecentBars(ctx, key.Symbol, key.Timeframe, expected+1, 0, c.cfg.Market)
	if err != nil {
		return nil, fmt.Errorf("load bars %s: %w", key, err)
	}
	observed := make(map[int64]struct{}, len(bars))
	for _, b := range bars {
		observed[b.Timestamp] = struct{}{}
	}

	var missing []int64
	for ts := from; ts <= to; ts += interval {
		if _, ok := observed[ts]; !ok {
			missing = append(missing, ts)
		}
	}

	tolerance := interval + interval/2
	var ranges []Range
	for _, ts := range missing {
		if n := len(ranges); n > 0 && ts-ranges[n-1].End <= tolerance {
			ranges[n-1].End = ts
			continue
		}
		ranges = append(ranges, Range{Start: ts, End: ts})
	}
	if c.met != nil {
		c.met.GapsDetected.Add(float64(len(ranges)))
	}
	return ranges, nil
}

// FillBarGaps refetches each missing range from the exchange. Ranges fail
// independently; one bad window does not stop the rest.
func (c *Checker) FillBarGaps(ctx context.Context, key domain.Key, ranges []Range) (inserted, filled int, errs []string) {
	interval := domain.TimeframeSeconds(key.Timeframe)
	for i, r := range ranges {
		if i > 0 && c.cfg.Pause > 0 {
			c.sleep(c.cfg.Pause)
		}
		want := int((r.End-r.Start)/interval) + 1
		if want > c.cfg.FetchLimit {
			want = c.cfg.FetchLimit
		}
		bars, err := c.ex.FetchBars(ctx, domain.ExchangeSymbol(key.Symbol), key.Timeframe, r.Start, want)
		if err != nil {
			errs = append(errs, fmt.Sprintf("fetch %d-%d: %v", r.Start, r.End, err))
			continue
		}
		var keep []domain.Bar
		for _, b := range bars {
			if b.Timestamp < r.Start || b.Timestamp > r.End {
				continue
			}
			b.Symbol = key.Symbol
			b.Timeframe = key.Timeframe
			b.Market = c.cfg.Market
			keep = append(keep, b)
		}
		if len(keep) == 0 {
			errs = append(errs, fmt.Sprintf("fetch %d-%d: venue returned nothing", r.Start, r.End))
			continue
		}
		if _, err := c.db.BulkUpsertBars(ctx, keep); err != nil {
			errs = append(errs, fmt.Sprintf("persist %d-%d: %v", r.Start, r.End, err))
			continue
		}
		inserted += len(keep)
		filled++
		if c.met != nil {
			c.met.GapsFilled.Inc()
		}
		log.Info().Str("key", key.String()).Int64("start", r.Start).
			Int64("end", r.End).Int("bars", len(keep)).Msg("bar gap filled")
	}
	return inserted, filled, errs
}

// DetectIndicatorGaps finds bar timestamps with no indicator vector over
// the last KlinesCount bars.
func (c *Checker) DetectIndicatorGaps(ctx context.Context, key domain.Key) ([]int64, error) {
	bars, err := c.db.RecentBars(ctx, key.Symbol, key.Timeframe, c.cfg.KlinesCount, 0, c.cfg.Market)
	if err != nil {
		return nil, fmt.Errorf("load bars %s: %w", key, err)
	}
	vecs, err := c.db.RecentIndicators(ctx, key.Symbol, key.Timeframe, c.cfg.KlinesCount, c.cfg.Market)
	if err != nil {
		return nil, fmt.Errorf("load indicators %s: %w", key, err)
	}
	have := make(map[int64]struct{}, len(vecs))
	for _, v := range vecs {
		have[v.Timestamp] = struct{}{}
	}

	var missing []int64
	for _, b := range bars {
		if _, ok := have[b.Timestamp]; !ok {
			missing = append(missing, b.Timestamp)
		}
	}
	return missing, nil
}

// FillIndicatorGap recomputes the vector at ts by replaying the preceding
// bars through a fresh calculator set.
func (c *Checker) FillIndicatorGap(ctx context.Context, key domain.Key, ts int64) error {
	history, err := c.db.RecentBars(ctx, key.Symbol, key.Timeframe,
		indicator.PreheatBars+1, ts+1, c.cfg.Market)
	if err != nil {
		return fmt.Errorf("load history for %s @%d: %w", key, ts, err)
	}
	if len(history) < indicator.MinWarmupBars {
		return fmt.Errorf("only %d bars before %d, need %d", len(history), ts, indicator.MinWarmupBars)
	}
	if history[len(history)-1].Timestamp != ts {
		return fmt.Errorf("bar at %d missing, fill bars first", ts)
	}

	set := indicator.NewSet()
	var vec domain.IndicatorVector
	for _, b := range history {
		vec = set.Update(b)
	}
	if err := c.db.InsertIndicator(ctx, vec); err != nil {
		return fmt.Errorf("persist vector @%d: %w", ts, err)
	}
	return nil
}

// CheckAndRepair audits one series end to end.
func (c *Checker) CheckAndRepair(ctx context.Context, key domain.Key) Report {
	rep := Report{Key: key, Symbol: key.Symbol, Timeframe: key.Timeframe}

	ranges, err := c.DetectBarGaps(ctx, key)
	if err != nil {
		rep.Errors = append(rep.Errors, err.Error())
	} else {
		rep.BarRangesFound = len(ranges)
		inserted, filled, errs := c.FillBarGaps(ctx, key, ranges)
		rep.BarsInserted = inserted
		rep.BarRangesFilled = filled
		rep.Errors = append(rep.Errors, errs...)
	}

	missing, err := c.DetectIndicatorGaps(ctx, key)
	if err != nil {
		rep.Errors = append(rep.Errors, err.Error())
		return rep
	}
	rep.IndicatorGapsFound = len(missing)
	for _, ts := range missing {
		if err := c.FillIndicatorGap(ctx, key, ts); err != nil {
			rep.Errors = append(rep.Errors, err.Error())
			continue
		}
		rep.IndicatorGapsFilled++
	}
	return rep
}

// CheckAndRepairAll audits every series and logs a summary per key.
func (c *Checker) CheckAndRepairAll(ctx context.Context, keys []domain.Key) []Report {
	reports := make([]Report, 0, len(keys))
	for _, key := range keys {
		rep := c.CheckAndRepair(ctx, key)
		log.Info().Str("key", key.String()).
			Int("bar_ranges", rep.BarRangesFound).
			Int("bars_inserted", rep.BarsInserted).
			Int("indicator_gaps", rep.IndicatorGapsFound).
			Int("indicator_filled", rep.IndicatorGapsFilled).
			Int("errors", len(rep.Errors)).
			Msg("integrity audit finished")
		reports = append(reports, rep)
	}
	return reports
}
