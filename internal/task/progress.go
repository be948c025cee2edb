package task

import (
	"fmt"
	"time"
)

// ProgressTracker throttles per-item progress reporting: at most
// MaxUpdates interior notifications for a run, no closer together than
// MinInterval, plus one final notification on completion.
type ProgressTracker struct {
	total       int
	minInterval time.Duration
	threshold   int

	processed int
	lastEmit  int
	lastTime  time.Time
	emit      func(pct float64, msg string)
	now       func() time.Time
}

// MaxUpdates caps the interior notifications of one tracked run.
const MaxUpdates = 100

// DefaultProgressInterval spaces interior notifications of long runs.
const DefaultProgressInterval = 500 * time.Millisecond

func NewProgressTracker(total int, minInterval time.Duration, emit func(pct float64, msg string)) *ProgressTracker {
	threshold := total / MaxUpdates
	if threshold < 1 {
		threshold = 1
	}
	return &ProgressTracker{
		total:       total,
		minInterval: minInterval,
		threshold:   threshold,
		emit:        emit,
		now:         time.Now,
	}
}

// Add records n processed items and emits if the throttle allows.
func (p *ProgressTracker) Add(n int) {
	p.processed += n
	if p.processed-p.lastEmit < p.threshold {
		return
	}
	if now := p.now(); now.Sub(p.lastTime) >= p.minInterval {
		p.lastTime = now
		p.lastEmit = p.processed
		p.emit(p.pct(), fmt.Sprintf("%d/%d", p.processed, p.total))
	}
}

// Complete always emits the terminal notification.
func (p *ProgressTracker) Complete() {
	p.processed = p.total
	p.lastEmit = p.processed
	p.emit(100, fmt.Sprintf("%d/%d", p.total, p.total))
}

func (p *ProgressTracker) pct() float64 {
	if p.total <= 0 {
		return 100
	}
	return float64(p.processed) / float64(p.total) * 100
}

// Stage is one named span of the overall progress range.
type Stage struct {
	Name string
	From float64
	To   float64
}

// BacktestStages is the standard split for a backtest run.
var BacktestStages = []Stage{
	{Name: "data_load", From: 0, To: 20},
	{Name: "init", From: 20, To: 25},
	{Name: "execute", From: 25, To: 95},
	{Name: "finalize", From: 95, To: 100},
}

// StageTracker maps per-stage fractions onto the overall 0..100 scale.
type StageTracker struct {
	stages  []Stage
	current int
	report  func(pct float64, msg string)
}

func NewStageTracker(stages []Stage, report func(pct float64, msg string)) *StageTracker {
	return &StageTracker{stages: stages, current: -1, report: report}
}

// Enter moves to the named stage and reports its starting bound.
func (s *StageTracker) Enter(name string) {
	for i, st := range s.stages {
		if st.Name == name {
			s.current = i
			s.report(st.From, name)
			return
		}
	}
}

// Update reports frac (0..1) of the current stage as overall progress.
func (s *StageTracker) Update(frac float64) {
	if s.current < 0 {
		return
	}
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	st := s.stages[s.current]
	s.report(st.From+(st.To-st.From)*frac, st.Name)
}

// Done reports the final bound of the last stage.
func (s *StageTracker) Done() {
	if len(s.stages) == 0 {
		return
	}
	last := s.stages[len(s.stages)-1]
	s.report(last.To, last.Name)
}
