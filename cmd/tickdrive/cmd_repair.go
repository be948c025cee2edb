package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tickdrive/tickdrive/internal/integrity"
)

func newRepairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Audit stored series for gaps and repair them, then exit",
		RunE:  runRepair,
	}
	cmd.Flags().Int("days-back", 0, "Bar audit lookback in days (default from config)")
	cmd.Flags().Bool("dry-run", false, "Detect gaps without filling them")
	return cmd
}

func runRepair(cmd *cobra.Command, _ []string) error {
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

	ex, err := newExchange(cfg)
	if err != nil {
		return err
	}
	met, _ := newMetrics()

	daysBack := cfg.RepairDaysBack
	if v, _ := cmd.Flags().GetInt("days-back"); v > 0 {
		daysBack = v
	}
	checker := integrity.NewChecker(integrity.Config{
		Market:      cfg.Market(),
		DaysBack:    daysBack,
		KlinesCount: cfg.RepairKlinesCount,
	}, db, ex, met)

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	failed := false
	if dryRun {
		for _, key := range cfg.Keys() {
			ranges, err := checker.DetectBarGaps(ctx, key)
			if err != nil {
				return err
			}
			gaps, err := checker.DetectIndicatorGaps(ctx, key)
			if err != nil {
				return err
			}
			if err := enc.Encode(map[string]interface{}{
				"key":            key.String(),
				"bar_ranges":     ranges,
				"indicator_gaps": len(gaps),
			}); err != nil {
				return err
			}
		}
		return nil
	}

	for _, rep := range checker.CheckAndRepairAll(ctx, cfg.Keys()) {
		if err := enc.Encode(rep); err != nil {
			return err
		}
		if len(rep.Errors) > 0 {
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("repair finished with errors")
	}
	return nil
}
