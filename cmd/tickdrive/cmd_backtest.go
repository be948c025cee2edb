package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tickdrive/tickdrive/internal/backtest"
)

func newBacktestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay stored history through a strategy and report results",
		RunE:  runBacktest,
	}
	cmd.Flags().String("strategy", "dual_ma", "Strategy name")
	cmd.Flags().String("strategy-params", "", "JSON overrides for the strategy's own parameters")
	cmd.Flags().String("symbol", "BTCUSDT", "Symbol")
	cmd.Flags().String("timeframe", "1h", "Timeframe")
	cmd.Flags().String("start", "", "Window start (RFC3339), empty for all history")
	cmd.Flags().String("end", "", "Window end (RFC3339), empty for all history")
	cmd.Flags().Float64("balance", 10000, "Initial balance")
	cmd.Flags().Float64("position-pct", 0.2, "Position size as a balance fraction")
	cmd.Flags().Float64("min-confidence", 0, "Entry confidence floor override")
	cmd.Flags().Float64("trailing-pct", 0, "Trailing stop fraction override")
	cmd.Flags().Bool("optimize", false, "Sweep a parameter grid instead of a single run")
	cmd.Flags().String("objective", "sharpe", "Optimization objective (sharpe|return|win_rate)")
	cmd.Flags().Float64Slice("grid-min-confidence", nil, "Grid values for min confidence")
	cmd.Flags().Float64Slice("grid-trailing-pct", nil, "Grid values for trailing stop")
	cmd.Flags().Float64Slice("grid-position-pct", nil, "Grid values for position size")
	cmd.Flags().String("grid-strategy-params", "", `JSON axes for strategy params, e.g. {"max_atr_pct":[0.02,0.08]}`)
	return cmd
}

func parseWindow(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.Unix(), nil
}

func runBacktest(cmd *cobra.Command, _ []string) error {
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

	start, err := parseWindow(mustString(cmd, "start"))
	if err != nil {
		return err
	}
	end, err := parseWindow(mustString(cmd, "end"))
	if err != nil {
		return err
	}

	p := backtest.Params{
		Strategy:       mustString(cmd, "strategy"),
		Symbol:         mustString(cmd, "symbol"),
		Timeframe:      mustString(cmd, "timeframe"),
		Market:         cfg.Market(),
		Start:          start,
		End:            end,
		InitialBalance: cfg.Trading.InitialBalance,
		MaxPositions:   cfg.Trading.MaxPositions,
		MaxExposurePct: cfg.Trading.MaxExposurePct,
		SingleMaxPct:   cfg.Trading.SingleMaxPct,
		PositionPct:    cfg.Trading.PositionPct,
		MinConfidence:  mustFloat(cmd, "min-confidence"),
		TrailingPct:    mustFloat(cmd, "trailing-pct"),
	}
	if cmd.Flags().Changed("balance") {
		p.InitialBalance = mustFloat(cmd, "balance")
	}
	if cmd.Flags().Changed("position-pct") {
		p.PositionPct = mustFloat(cmd, "position-pct")
	}
	if s := mustString(cmd, "strategy-params"); s != "" {
		p.StrategyParams = json.RawMessage(s)
	}

	r := backtest.NewRunner(db)
	report := func(pct float64, msg string) {
		log.Info().Float64("pct", pct).Msg(msg)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if opt, _ := cmd.Flags().GetBool("optimize"); opt {
		grid := backtest.Grid{
			MinConfidence: mustFloats(cmd, "grid-min-confidence"),
			TrailingPct:   mustFloats(cmd, "grid-trailing-pct"),
			PositionPct:   mustFloats(cmd, "grid-position-pct"),
		}
		if s := mustString(cmd, "grid-strategy-params"); s != "" {
			if err := json.Unmarshal([]byte(s), &grid.StrategyParams); err != nil {
				return fmt.Errorf("parse grid strategy params: %w", err)
			}
		}
		obj := backtest.Objective(mustString(cmd, "objective"))
		res, err := r.Optimize(ctx, p, grid, obj, report)
		if err != nil {
			return err
		}
		return enc.Encode(res)
	}

	res, err := r.Run(ctx, p, report)
	if err != nil {
		return err
	}
	return enc.Encode(res)
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

func mustFloat(cmd *cobra.Command, name string) float64 {
	v, _ := cmd.Flags().GetFloat64(name)
	return v
}

func mustFloats(cmd *cobra.Command, name string) []float64 {
	v, _ := cmd.Flags().GetFloat64Slice(name)
	return v
}
