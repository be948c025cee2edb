package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tickdrive/tickdrive/internal/bus"
	"github.com/tickdrive/tickdrive/internal/config"
	"github.com/tickdrive/tickdrive/internal/exchange"
	"github.com/tickdrive/tickdrive/internal/exchange/binance"
	"github.com/tickdrive/tickdrive/internal/integrity"
	"github.com/tickdrive/tickdrive/internal/metrics"
	"github.com/tickdrive/tickdrive/internal/producer"
	"github.com/tickdrive/tickdrive/internal/store"
	"github.com/tickdrive/tickdrive/internal/store/memstore"
	"github.com/tickdrive/tickdrive/internal/store/postgres"
)

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// openStore connects to Postgres when a URL is configured, otherwise
// falls back to the in-memory store for local runs.
func openStore(cfg config.Config) (store.Store, func() error, error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("no database_url configured, using in-memory store")
		return memstore.New(), func() error { return nil }, nil
	}
	db, err := postgres.Open(cfg.DatabaseURL, 10*time.Second)
	if err != nil {
		return nil, nil, err
	}
	return db, db.Close, nil
}

func openBus(cfg config.Config, inMemory bool) (bus.Bus, error) {
	if inMemory {
		return bus.NewMemoryBus(), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr(),
		DB:   cfg.Redis.DB,
	})
	return bus.NewRedisBus(rdb), nil
}

func newExchange(cfg config.Config) (exchange.Exchange, error) {
	return binance.New(binance.Config{
		APIKey:    cfg.Binance.APIKey,
		APISecret: cfg.Binance.APISecret,
		Market:    cfg.Market(),
		ProxyURL:  cfg.ProxyURL(),
	})
}

func producerConfig(cfg config.Config) producer.Config {
	return producer.Config{
		Market:        cfg.Market(),
		Keys:          cfg.Keys(),
		FetchInterval: time.Duration(cfg.FetchIntervalSec) * time.Second,
		FlushInterval: time.Duration(cfg.FlushIntervalSec) * time.Second,
		BufferSize:    cfg.BufferSize,
	}
}

// startupRepair audits the recent window before the producer starts so
// the series it appends to has no holes left over from downtime.
func startupRepair(ctx context.Context, cfg config.Config, db store.Store, ex exchange.Exchange, met *metrics.Registry) {
	if !cfg.AutoRepairOnStart {
		return
	}
	daysBack := (cfg.RepairHoursBackOnStartup + 23) / 24
	checker := integrity.NewChecker(integrity.Config{
		Market:      cfg.Market(),
		DaysBack:    daysBack,
		KlinesCount: cfg.RepairKlinesCount,
	}, db, ex, met)
	for _, rep := range checker.CheckAndRepairAll(ctx, cfg.Keys()) {
		log.Info().Str("key", rep.Key.String()).
			Int("bar_ranges_filled", rep.BarRangesFilled).
			Int("indicator_gaps_filled", rep.IndicatorGapsFilled).
			Int("errors", len(rep.Errors)).
			Msg("startup repair")
	}
}

func newMetrics() (*metrics.Registry, *prometheus.Registry) {
	promReg := prometheus.NewRegistry()
	met := metrics.NewRegistry()
	met.Register(promReg)
	return met, promReg
}
