// Package dispatch implements the engine's CPU task/job dispatcher: a
// fixed worker pool draining a single FIFO (with an optional priority
// key) and a job abstraction for grouping tasks with a completion
// callback. Grounded on the teacher's
// kernel/threads/intelligence/scheduling/engine.go DeadlineScheduler
// (container/heap-backed priority queue, reused here for the
// dispatcher's optional priority ordering extension) and on
// kernel/threads/supervisor/unified.go's atomic job-counter bookkeeping
// (jobsSubmitted/jobsCompleted/jobsFailed).
package dispatch

import (
	"container/heap"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TaskReporter optionally observes pool activity, publishing it as a
// metric. Accepted as an interface so this package never imports a
// metrics library directly; a *metrics.Registry satisfies this via
// SetDispatcherQueueDepth/IncDispatcherTasksRun.
type TaskReporter interface {
	SetDispatcherQueueDepth(depth int)
	IncDispatcherTasksRun()
}

// Pool is a fixed-size worker pool with a single mutex/condition-guarded
// task queue. Workers loop: acquire the queue, take one task, release
// the queue, execute — suspension only ever happens at the queue mutex,
// a job's condition variable, or inside user task code.
type Pool struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     taskHeap
	seq       uint64
	closed    bool
	wg        sync.WaitGroup
	workers   int
	workerIDs []string
	logger    *zap.Logger
	reporter  TaskReporter
}

// SetReporter installs (or, passed nil, removes) the pool's task
// reporter. Purely additive: correctness never depends on a reporter
// being set.
func (p *Pool) SetReporter(r TaskReporter) {
	p.mu.Lock()
	p.reporter = r
	p.mu.Unlock()
}

// SetLogger installs the structured logger used to tag task completions
// with their executing worker's id. Defaults to a no-op logger.
func (p *Pool) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p.mu.Lock()
	p.logger = logger
	p.mu.Unlock()
}

// NewPool creates a pool with the given worker count. A count <= 0
// defaults to the host's logical CPU count, matching the dispatcher's
// process-start sizing contract. Each worker goroutine is assigned a
// globally unique id (uuid.New, never interned, per SPEC_FULL.md §2)
// used to correlate logged task completions back to the worker that
// ran them.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	p := &Pool{workers: workers, logger: zap.NewNop(), workerIDs: make([]string, workers)}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < workers; i++ {
		p.workerIDs[i] = uuid.New().String()
		p.wg.Add(1)
		go p.worker(p.workerIDs[i])
	}
	return p
}

// Workers returns the number of worker goroutines backing the pool.
func (p *Pool) Workers() int { return p.workers }

// WorkerIDs returns the globally unique id assigned to each worker
// goroutine, in no particular correspondence to which worker is
// currently idle or busy.
func (p *Pool) WorkerIDs() []string {
	return append([]string(nil), p.workerIDs...)
}

func (p *Pool) worker(workerID string) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.closed {
			p.mu.Unlock()
			return
		}
		t := heap.Pop(&p.queue).(*Task)
		r := p.reporter
		logger := p.logger
		depth := len(p.queue)
		p.mu.Unlock()
		if r != nil {
			r.SetDispatcherQueueDepth(depth)
		}

		t.fn()
		t.finished.Store(true)
		if t.job != nil {
			t.job.onTaskDone()
		}
		if r != nil {
			r.IncDispatcherTasksRun()
		}
		logger.Debug("dispatch: task completed", zap.String("worker_id", workerID), zap.Uint64("task_seq", t.seq))
	}
}

// Dispatch submits a single task for execution and returns a handle the
// caller may poll or detach.
func (p *Pool) Dispatch(fn func(), opts ...TaskOption) *TaskHandle {
	t := p.newTask(fn, opts)
	p.enqueue(t)
	return &TaskHandle{task: t}
}

// DispatchList submits every function in fns as a batch, locking the
// queue exactly once — the preferred path when dispatching more than
// one task at a time.
func (p *Pool) DispatchList(fns []func(), opts ...TaskOption) []*TaskHandle {
	handles := make([]*TaskHandle, len(fns))
	tasks := make([]*Task, len(fns))
	for i, fn := range fns {
		tasks[i] = p.newTask(fn, opts)
		handles[i] = &TaskHandle{task: tasks[i]}
	}

	p.mu.Lock()
	for _, t := range tasks {
		t.seq = p.nextSeqLocked()
		heap.Push(&p.queue, t)
	}
	r := p.reporter
	depth := len(p.queue)
	p.cond.Broadcast()
	p.mu.Unlock()
	if r != nil {
		r.SetDispatcherQueueDepth(depth)
	}

	return handles
}

func (p *Pool) newTask(fn func(), opts []TaskOption) *Task {
	t := &Task{fn: fn}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (p *Pool) nextSeqLocked() uint64 {
	p.seq++
	return p.seq
}

func (p *Pool) enqueue(t *Task) {
	p.mu.Lock()
	t.seq = p.nextSeqLocked()
	heap.Push(&p.queue, t)
	r := p.reporter
	depth := len(p.queue)
	p.cond.Signal()
	p.mu.Unlock()
	if r != nil {
		r.SetDispatcherQueueDepth(depth)
	}
}

// enqueueJobTask dispatches a task that belongs to a job, incrementing
// the job's outstanding-task count before it becomes visible to
// workers so a racing completion check never sees a false zero.
func (p *Pool) enqueueJobTask(j *Job, fn func()) *TaskHandle {
	j.outstanding.Add(1)
	t := &Task{fn: fn, job: j}
	p.enqueue(t)
	return &TaskHandle{task: t}
}

// CreateJob returns a new, unreleased job bound to this pool.
func (p *Pool) CreateJob() *Job {
	j := &Job{pool: p}
	j.cond = sync.NewCond(&j.mu)
	return j
}

// Close stops accepting new work and blocks until every worker has
// drained the queue and exited. Already-queued tasks still run to
// completion; panics inside a task abort the process, matching the
// dispatcher's failure contract.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

// taskHeap orders tasks by descending priority, then by ascending
// dispatch sequence — plain FIFO whenever every task shares the
// default priority of 0.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*Task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
