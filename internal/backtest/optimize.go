package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/tickdrive/tickdrive/internal/engine"
)

// Objective picks the score an optimization maximizes.
type Objective string

const (
	ObjectiveSharpe  Objective = "sharpe"
	ObjectiveReturn  Objective = "return"
	ObjectiveWinRate Objective = "win_rate"
)

func score(obj Objective, res engine.Results) float64 {
	switch obj {
	case ObjectiveReturn:
		return res.TotalReturn
	case ObjectiveWinRate:
		return res.WinRate
	default:
		return res.SharpeRatio
	}
}

// Grid is the swept parameter space; empty axes keep the base value.
// StrategyParams sweeps fields of the strategy's own parameter struct,
// keyed by their JSON names.
type Grid struct {
	MinConfidence  []float64            `json:"min_confidence,omitempty"`
	TrailingPct    []float64            `json:"trailing_pct,omitempty"`
	PositionPct    []float64            `json:"position_pct,omitempty"`
	StrategyParams map[string][]float64 `json:"strategy_params,omitempty"`
}

func axis(vals []float64, base float64) []float64 {
	if len(vals) == 0 {
		return []float64{base}
	}
	return vals
}

// strategyOverlays expands the strategy axes into one raw JSON document
// per combination, each merged over the base document. No axes yields
// the base unchanged.
func strategyOverlays(base json.RawMessage, axes map[string][]float64) ([]json.RawMessage, error) {
	if len(axes) == 0 {
		return []json.RawMessage{base}, nil
	}

	keys := make([]string, 0, len(axes))
	for k := range axes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc := map[string]interface{}{}
	if len(base) > 0 {
		if err := json.Unmarshal(base, &doc); err != nil {
			return nil, fmt.Errorf("base strategy params: %w", err)
		}
	}

	var out []json.RawMessage
	idx := make([]int, len(keys))
	for {
		for i, k := range keys {
			doc[k] = axes[k][idx[i]]
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)

		i := len(idx) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(axes[keys[i]]) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return out, nil
		}
	}
}

// CandidateResult is one grid point's outcome.
type CandidateResult struct {
	Params  Params         `json:"params"`
	Score   float64        `json:"score"`
	Results engine.Results `json:"results"`
}

// OptimizeResult reports the sweep.
type OptimizeResult struct {
	Objective Objective         `json:"objective"`
	Best      CandidateResult   `json:"best"`
	Runs      []CandidateResult `json:"runs"`
}

// Optimize runs every grid combination sequentially and deterministically
// and returns the best by the objective.
func (r *Runner) Optimize(ctx context.Context, base Params, grid Grid, obj Objective, report func(pct float64, msg string)) (OptimizeResult, error) {
	base.normalize()
	if report == nil {
		report = func(float64, string) {}
	}

	confs := axis(grid.MinConfidence, base.MinConfidence)
	trails := axis(grid.TrailingPct, base.TrailingPct)
	pcts := axis(grid.PositionPct, base.PositionPct)
	overlays, err := strategyOverlays(base.StrategyParams, grid.StrategyParams)
	if err != nil {
		return OptimizeResult{Objective: obj}, err
	}
	total := len(confs) * len(trails) * len(pcts) * len(overlays)

	out := OptimizeResult{Objective: obj}
	done := 0
	for _, conf := range confs {
		for _, trail := range trails {
			for _, pct := range pcts {
				for _, overlay := range overlays {
					if err := ctx.Err(); err != nil {
						return out, err
					}
					p := base
					p.MinConfidence = conf
					p.TrailingPct = trail
					p.PositionPct = pct
					p.StrategyParams = overlay

					res, err := r.Run(ctx, p, nil)
					if err != nil {
						return out, fmt.Errorf("grid point %d/%d: %w", done+1, total, err)
					}
					cand := CandidateResult{Params: p, Score: score(obj, res), Results: res}
					out.Runs = append(out.Runs, cand)
					if len(out.Runs) == 1 || cand.Score > out.Best.Score {
						out.Best = cand
					}
					done++
					report(float64(done)/float64(total)*100,
						fmt.Sprintf("grid %d/%d", done, total))
				}
			}
		}
	}

	log.Info().Str("objective", string(obj)).Int("runs", len(out.Runs)).
		Float64("best_score", out.Best.Score).Msg("optimization finished")
	return out, nil
}
