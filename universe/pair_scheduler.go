package universe

import "time"

// LogicalStep is one fixed-timestep gameplay update.
type LogicalStep func(dt time.Duration)

// VisualStep is one variable-rate rendering update.
type VisualStep func(alpha float64, dt time.Duration)

// PairScheduler runs a fixed-step logical pipeline alongside a
// variable-rate visual one, per spec.md §4.8: an accumulator
// advancing in LogicalDT increments, clamped so a long stall (e.g. a
// debugger pause) cannot queue an unbounded backlog of logical steps —
// the "avoid a death spiral" requirement.
type PairScheduler struct {
	LogicalDT          time.Duration
	MaxAccumulatedTime time.Duration // clamps accumulator growth after a stall

	accumulator time.Duration
	lastTick    time.Time
	started     bool

	Logical LogicalStep
	Visual  VisualStep
}

// NewPairScheduler constructs a scheduler ticking logical at a fixed
// logicalDT, clamping the accumulator to maxAccumulated (the
// equivalent of spec.md §5's max_logical_advance_time_ns).
func NewPairScheduler(logicalDT, maxAccumulated time.Duration, logical LogicalStep, visual VisualStep) *PairScheduler {
	return &PairScheduler{
		LogicalDT:          logicalDT,
		MaxAccumulatedTime: maxAccumulated,
		Logical:            logical,
		Visual:             visual,
	}
}

// Start resets the scheduler's clock; call once before the first Tick.
func (s *PairScheduler) Start(now time.Time) {
	s.lastTick = now
	s.accumulator = 0
	s.started = true
}

// Stop marks the scheduler idle; a subsequent Start resumes cleanly
// without a burst of queued logical steps from the idle gap.
func (s *PairScheduler) Stop() {
	s.started = false
}

// Tick advances the accumulator by the elapsed time since the last
// Tick (or Start), runs as many fixed logical steps as have
// accumulated, then runs one visual step with the interpolation
// fraction alpha = remaining accumulator / LogicalDT.
func (s *PairScheduler) Tick(now time.Time) {
	if !s.started {
		s.Start(now)
		return
	}
	frameTime := now.Sub(s.lastTick)
	s.lastTick = now

	if s.MaxAccumulatedTime > 0 && frameTime > s.MaxAccumulatedTime {
		frameTime = s.MaxAccumulatedTime
	}
	s.accumulator += frameTime

	for s.accumulator >= s.LogicalDT {
		if s.Logical != nil {
			s.Logical(s.LogicalDT)
		}
		s.accumulator -= s.LogicalDT
	}

	alpha := 0.0
	if s.LogicalDT > 0 {
		alpha = float64(s.accumulator) / float64(s.LogicalDT)
	}
	if s.Visual != nil {
		s.Visual(alpha, frameTime)
	}
}
