package dispatch

import "sync/atomic"

// Task is a single unit of work submitted to a Pool. Callers never
// construct a Task directly; Pool.Dispatch and Job.Dispatch return a
// *TaskHandle instead.
type Task struct {
	fn       func()
	priority int
	seq      uint64
	job      *Job
	finished atomic.Bool
}

// TaskHandle observes a dispatched task without owning it: the
// dispatcher always runs the task to completion regardless of whether
// the handle is detached or even held at all.
type TaskHandle struct {
	task *Task
}

// IsFinished reports whether the task has completed execution.
func (h *TaskHandle) IsFinished() bool {
	if h == nil || h.task == nil {
		return true
	}
	return h.task.finished.Load()
}

// Detach relinquishes observation of the task. The task keeps running
// to completion either way; Detach only lets the caller stop polling.
func (h *TaskHandle) Detach() {
	h.task = nil
}

// Priority sets the task's scheduling priority. Higher values run
// first; tasks of equal priority run in dispatch order. The default
// priority is 0, which yields plain FIFO behavior when every dispatched
// task leaves it unset.
func Priority(p int) TaskOption {
	return func(t *Task) { t.priority = p }
}

// TaskOption configures a dispatched task at submission time.
type TaskOption func(*Task)
