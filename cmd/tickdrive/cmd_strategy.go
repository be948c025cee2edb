package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tickdrive/tickdrive/internal/ai"
	"github.com/tickdrive/tickdrive/internal/config"
	"github.com/tickdrive/tickdrive/internal/metrics"
	"github.com/tickdrive/tickdrive/internal/nodes"
	"github.com/tickdrive/tickdrive/internal/strategy"
)

func newStrategyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strategy [names...]",
		Short: "Run strategies against the live bar and indicator streams",
		Long: "Runs the named strategies (default: all registered) against the\n" +
			"bus streams and publishes their signals.",
		RunE: runStrategy,
	}
	cmd.Flags().Float64("min-confidence", 0, "Override the entry confidence floor")
	return cmd
}

func buildRunners(cfg config.Config, names []string, minConf float64, met *metrics.Registry) ([]*strategy.Runner, error) {
	if len(names) == 0 {
		names = strategy.Names()
	}
	var adj ai.Adjudicator
	if cfg.AI.Endpoint != "" {
		adj = ai.NewHTTPAdjudicator(cfg.AI.Endpoint, 5*time.Second)
	}

	runners := make([]*strategy.Runner, 0, len(names))
	for _, name := range names {
		strat, err := strategy.New(name)
		if err != nil {
			return nil, fmt.Errorf("strategy %q: %w", name, err)
		}
		rc := strategy.DefaultRunnerConfig()
		if minConf > 0 {
			rc.MinConfidence = minConf
		}
		runners = append(runners, strategy.NewRunner(strat, rc, adj, met))
	}
	return runners, nil
}

func runStrategy(cmd *cobra.Command, args []string) error {
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
	minConf, _ := cmd.Flags().GetFloat64("min-confidence")
	runners, err := buildRunners(cfg, args, minConf, met)
	if err != nil {
		return err
	}

	node := nodes.NewStrategyNode(db, b, cfg.Market(), cfg.Keys(), runners...)
	log.Info().Int("strategies", len(runners)).Msg("strategy node starting")
	return node.Run(ctx)
}
