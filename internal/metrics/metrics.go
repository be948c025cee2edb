// Package metrics holds the Prometheus instruments shared by the data
// plane nodes. One Registry is built per process and exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all instruments for one process.
type Registry struct {
	// Producer path
	BarsFetched   *prometheus.CounterVec
	BarsPublished *prometheus.CounterVec
	BarsFlushed   *prometheus.CounterVec
	FlushFailures *prometheus.CounterVec
	BufferDepth   *prometheus.GaugeVec

	// Indicator path
	IndicatorUpdateSeconds *prometheus.HistogramVec
	IndicatorsPublished    *prometheus.CounterVec

	// Strategy path
	SignalsEmitted  *prometheus.CounterVec
	SignalsFiltered *prometheus.CounterVec

	// Integrity
	GapsDetected prometheus.Counter
	GapsFilled   prometheus.Counter
}

// NewRegistry builds the instrument set.
func NewRegistry() *Registry {
	return &Registry{
		BarsFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickdrive_bars_fetched_total",
				Help: "Bars fetched from the exchange by series",
			},
			[]string{"symbol", "timeframe"},
		),
		BarsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickdrive_bars_published_total",
				Help: "Bars published to the bus by series",
			},
			[]string{"symbol", "timeframe"},
		),
		BarsFlushed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickdrive_bars_flushed_total",
				Help: "Bars flushed to the store by series",
			},
			[]string{"symbol", "timeframe"},
		),
		FlushFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickdrive_flush_failures_total",
				Help: "Flush attempts that exhausted retries",
			},
			[]string{"symbol", "timeframe"},
		),
		BufferDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tickdrive_buffer_depth",
				Help: "Bars currently buffered awaiting flush",
			},
			[]string{"symbol", "timeframe"},
		),
		IndicatorUpdateSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tickdrive_indicator_update_seconds",
				Help:    "Time to advance all calculators by one bar",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
			[]string{"symbol", "timeframe"},
		),
		IndicatorsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickdrive_indicators_published_total",
				Help: "Indicator vectors published to the bus",
			},
			[]string{"symbol", "timeframe"},
		),
		SignalsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickdrive_signals_emitted_total",
				Help: "Signals emitted after confirmation",
			},
			[]string{"strategy", "action"},
		),
		SignalsFiltered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickdrive_signals_filtered_total",
				Help: "Entry signals rejected by a confirmation filter",
			},
			[]string{"strategy", "filter"},
		),
		GapsDetected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tickdrive_gaps_detected_total",
				Help: "Missing-data ranges detected by the integrity checker",
			},
		),
		GapsFilled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tickdrive_gaps_filled_total",
				Help: "Missing-data ranges successfully repaired",
			},
		),
	}
}

// Register attaches every instrument to a Prometheus registerer.
func (r *Registry) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		r.BarsFetched, r.BarsPublished, r.BarsFlushed, r.FlushFailures,
		r.BufferDepth,
		r.IndicatorUpdateSeconds, r.IndicatorsPublished,
		r.SignalsEmitted, r.SignalsFiltered,
		r.GapsDetected, r.GapsFilled,
	)
}
