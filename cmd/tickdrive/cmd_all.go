package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tickdrive/tickdrive/internal/backtest"
	"github.com/tickdrive/tickdrive/internal/nodes"
	"github.com/tickdrive/tickdrive/internal/ops"
	"github.com/tickdrive/tickdrive/internal/producer"
	"github.com/tickdrive/tickdrive/internal/task"
)

func newAllCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "all",
		Short: "Run producer, indicator, strategies and the ops server in one process",
		RunE:  runAll,
	}
	cmd.Flags().Bool("memory-bus", false, "Use the in-process bus instead of Redis")
	cmd.Flags().StringSlice("strategies", nil, "Strategies to run (default: all registered)")
	return cmd
}

func runAll(cmd *cobra.Command, _ []string) error {
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

	memBus, _ := cmd.Flags().GetBool("memory-bus")
	b, err := openBus(cfg, memBus)
	if err != nil {
		return err
	}
	defer b.Close()

	ex, err := newExchange(cfg)
	if err != nil {
		return err
	}
	met, promReg := newMetrics()

	startupRepair(ctx, cfg, db, ex, met)

	names, _ := cmd.Flags().GetStringSlice("strategies")
	runners, err := buildRunners(cfg, names, 0, met)
	if err != nil {
		return err
	}

	p := producer.New(producerConfig(cfg), ex, db, b, met)
	indNode := nodes.NewIndicatorNode(db, b, met, cfg.Market(), cfg.Keys())
	stratNode := nodes.NewStrategyNode(db, b, cfg.Market(), cfg.Keys(), runners...)

	btTasks := task.NewBacktestManager()
	optTasks := task.NewOptimizationManager()
	go btTasks.Janitor(ctx, 10*time.Minute)
	go optTasks.Janitor(ctx, 10*time.Minute)

	srv := ops.NewServer(cfg.Ops.Addr, promReg, btTasks, optTasks,
		func() interface{} { return p.Stats() },
		backtest.NewRunner(db))

	errCh := make(chan error, 4)
	start := func(name string, run func(context.Context) error) {
		go func() {
			if err := run(ctx); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			} else {
				errCh <- nil
			}
		}()
	}
	start("producer", p.Run)
	start("indicator", indNode.Run)
	start("strategy", stratNode.Run)
	start("ops", srv.Run)
	log.Info().Str("addr", cfg.Ops.Addr).Int("strategies", len(runners)).Msg("all services started")

	var firstErr error
	for i := 0; i < 4; i++ {
		if err := <-errCh; err != nil {
			if firstErr == nil {
				firstErr = err
			}
			cancel()
		}
	}
	return firstErr
}
