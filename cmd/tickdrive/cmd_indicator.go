package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tickdrive/tickdrive/internal/nodes"
)

func newIndicatorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "indicator",
		Short: "Consume bars from the bus and publish indicator vectors",
		RunE:  runIndicator,
	}
}

func runIndicator(cmd *cobra.Command, _ []string) error {
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

	met, _ := newMetrics()
	node := nodes.NewIndicatorNode(db, b, met, cfg.Market(), cfg.Keys())
	log.Info().Msg("indicator node starting")
	return node.Run(ctx)
}
