package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tickdrive/tickdrive/internal/producer"
)

func newProducerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "producer",
		Short: "Poll the exchange for bars, publish and persist them",
		RunE:  runProducer,
	}
}

func runProducer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	db, closeDB, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	b, err := openBus(cfg, false)
	if err != nil {
		return err
	}
	defer b.Close()

	ex, err := newExchange(cfg)
	if err != nil {
		return err
	}
	met, _ := newMetrics()

	startupRepair(ctx, cfg, db, ex, met)

	p := producer.New(producerConfig(cfg), ex, db, b, met)
	log.Info().Int("keys", len(cfg.Keys())).Str("market", cfg.MarketType).Msg("producer starting")
	return p.Run(ctx)
}
