// Package hotreload implements the hot-reload coordinator: a small
// state machine arbitrating when a reload batch may begin, suspend for
// a scheduled hot-swap, and resume. Grounded on the teacher's
// kernel/lifecycle.go Kernel (an atomic.Int32 state register advanced
// only through CompareAndSwap transitions, a stateNames lookup table,
// and a recoverPanic guard), generalized here from boot-lifecycle
// states to reload states.
package hotreload

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is one of the five observable coordinator states, per
// spec.md §4.6.
type State int32

const (
	Dormant State = iota
	Requested
	Scheduled
	Delayed
	Executing
)

var stateNames = map[State]string{
	Dormant:   "DORMANT",
	Requested: "REQUESTED",
	Scheduled: "SCHEDULED",
	Delayed:   "DELAYED",
	Executing: "EXECUTING",
}

func (s State) String() string { return stateNames[s] }

// Coordinator is the observable interface both dialects satisfy.
type Coordinator interface {
	Schedule() bool
	Tick(now time.Time)
	Delay()
	Finish()
	IsReloadAllowed() bool
	IsScheduled() bool
	IsExecuting() bool
	SetPaused(paused bool)
	Paused() bool
}

// Full is the functional dialect described in spec.md §4.6: a state
// machine that coalesces bursts of filesystem-change notifications
// behind change_wait_time_ns before committing to a reload.
type Full struct {
	state atomic.Int32
	paused atomic.Bool

	mu             sync.Mutex
	requestedAt    time.Time
	changeWaitTime time.Duration
	notifier       Notifier
	logger         *zap.Logger
	batchID        string
}

// NewFull constructs a Full coordinator. changeWaitTime coalesces
// REQUESTED -> SCHEDULED; notifier may be nil to disable cross-process
// observation.
func NewFull(changeWaitTime time.Duration, notifier Notifier, logger *zap.Logger) *Full {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Full{changeWaitTime: changeWaitTime, notifier: notifier, logger: logger}
}

func (c *Full) get() State  { return State(c.state.Load()) }
func (c *Full) set(s State) { c.state.Store(int32(s)) }
func (c *Full) cas(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// Schedule requests a reload; requires DORMANT per spec.md §4.6. Mints
// a fresh batch id (a globally unique, never-interned token per
// SPEC_FULL.md §2) correlating this batch's started/finished
// announcements.
func (c *Full) Schedule() bool {
	defer c.recoverPanic()
	if !c.cas(Dormant, Requested) {
		return false
	}
	id := uuid.New().String()
	c.mu.Lock()
	c.requestedAt = time.Now()
	c.batchID = id
	c.mu.Unlock()
	if c.notifier != nil {
		c.notifier.Announce(BatchStarted, id)
	}
	return true
}

// BatchID returns the current (or most recent) reload batch's id.
// Empty before the first Schedule call.
func (c *Full) BatchID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batchID
}

// Tick advances REQUESTED -> SCHEDULED (once change_wait_time_ns has
// elapsed) or SCHEDULED -> EXECUTING, cancelling back to DORMANT in
// either state if paused is set.
func (c *Full) Tick(now time.Time) {
	defer c.recoverPanic()
	switch c.get() {
	case Requested:
		if c.paused.Load() {
			c.cas(Requested, Dormant)
			return
		}
		c.mu.Lock()
		elapsed := now.Sub(c.requestedAt)
		c.mu.Unlock()
		if elapsed >= c.changeWaitTime {
			c.cas(Requested, Scheduled)
		}
	case Scheduled, Delayed:
		if c.paused.Load() {
			c.cas(c.get(), Dormant)
			return
		}
		c.cas(c.get(), Executing)
	}
}

// Delay retries the current reload next tick instead of executing it
// now; only valid from SCHEDULED per spec.md §4.6.
func (c *Full) Delay() {
	c.cas(Scheduled, Delayed)
}

// Finish completes an in-progress reload; only valid from EXECUTING —
// calling it otherwise is a programming error per spec.md §7/§8.9, but
// this package only exposes the observable state transition.
func (c *Full) Finish() {
	defer c.recoverPanic()
	if c.cas(Executing, Dormant) && c.notifier != nil {
		c.notifier.Announce(BatchFinished, c.BatchID())
	}
}

func (c *Full) IsReloadAllowed() bool { return c.get() == Dormant && !c.paused.Load() }
func (c *Full) IsScheduled() bool {
	switch c.get() {
	case Requested, Scheduled, Delayed:
		return true
	default:
		return false
	}
}
func (c *Full) IsExecuting() bool { return c.get() == Executing }

func (c *Full) SetPaused(paused bool) { c.paused.Store(paused) }
func (c *Full) Paused() bool          { return c.paused.Load() }

func (c *Full) recoverPanic() {
	if r := recover(); r != nil {
		c.logger.Error("hot-reload coordinator panic",
			zap.Any("reason", r), zap.String("stack", string(debug.Stack())))
	}
}

// None is the stub dialect: reload is permanently disabled, satisfying
// the same Coordinator interface with constant answers.
type None struct{}

func (None) Schedule() bool         { return false }
func (None) Tick(time.Time)         {}
func (None) Delay()                 {}
func (None) Finish()                {}
func (None) IsReloadAllowed() bool  { return false }
func (None) IsScheduled() bool      { return false }
func (None) IsExecuting() bool      { return false }
func (None) SetPaused(bool)         {}
func (None) Paused() bool           { return false }

var _ Coordinator = (*Full)(nil)
var _ Coordinator = None{}
