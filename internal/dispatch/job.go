package dispatch

import (
	"sync"
	"sync/atomic"
)

// Job groups tasks dispatched through it as dependencies of a single
// completion point. Tasks dispatched from inside another running task
// must be grouped into a job — ungrouped, they are simply lost once
// their parent task returns, since nothing else references them.
//
// A job carries an atomic outstanding-task counter and a small state
// bit set (released, completion-dispatched, done). When the counter
// reaches zero and the job has been released, its completion task (if
// any) runs exactly once, after which the job transitions to done.
type Job struct {
	pool                 *Pool
	outstanding          atomic.Int64
	released             atomic.Bool
	completionDispatched atomic.Bool
	done                 atomic.Bool
	detached             atomic.Bool
	completionFn         func()

	mu   sync.Mutex
	cond *sync.Cond
}

// Dispatch submits fn as a task belonging to this job, incrementing the
// job's outstanding count. Dispatching into a job after it has been
// released is a caller error; the dispatcher does not guard against it.
func (j *Job) Dispatch(fn func()) *TaskHandle {
	return j.pool.enqueueJobTask(j, fn)
}

// SetCompletionTask installs the task to run once every grouped task
// has completed and the job has been released. It must be set before
// Release; installing it after is a caller error.
func (j *Job) SetCompletionTask(fn func()) {
	j.completionFn = fn
}

// Release seals the job's assembly: no ordering guarantee exists
// beyond "every grouped task runs before the completion task, and no
// other task groups rerun." Once every outstanding task has completed,
// the completion task (if any) is dispatched exactly once.
func (j *Job) Release() {
	j.released.Store(true)
	if j.outstanding.Load() == 0 {
		j.maybeComplete()
	}
}

// Wait blocks the caller until the job reaches its done state.
func (j *Job) Wait() {
	j.mu.Lock()
	for !j.done.Load() {
		j.cond.Wait()
	}
	j.mu.Unlock()
}

// Detach lets the dispatcher reclaim the job's resources asynchronously
// once it completes, without the caller needing to Wait on it.
func (j *Job) Detach() {
	j.detached.Store(true)
}

// IsDone reports whether the job's completion task (if any) has run.
func (j *Job) IsDone() bool { return j.done.Load() }

func (j *Job) onTaskDone() {
	remaining := j.outstanding.Add(-1)
	if remaining == 0 && j.released.Load() {
		j.maybeComplete()
	}
}

// maybeComplete dispatches the completion task exactly once, guarded by
// a compare-and-swap so a racing Release and a racing final task
// completion can never both trigger it.
func (j *Job) maybeComplete() {
	if !j.completionDispatched.CompareAndSwap(false, true) {
		return
	}
	if j.completionFn == nil {
		j.markDone()
		return
	}
	fn := j.completionFn
	j.pool.enqueue(&Task{fn: func() {
		fn()
		j.markDone()
	}})
}

func (j *Job) markDone() {
	j.mu.Lock()
	j.done.Store(true)
	j.cond.Broadcast()
	j.mu.Unlock()
}
