// Package universe bridges gameplay pipelines to the dispatcher: a
// named DAG-of-mutators pipeline run to completion, recursive child
// world ticking, and a reference pair-pipeline scheduler pairing a
// fixed-step logical update with a variable-rate visual one. The
// render backend wrapper and the ECS-like repository this package
// drives are external collaborators per spec.md §1; only the
// interfaces the core consumes are specified here.
//
// Grounded on the teacher's kernel/threads/supervisor/coordinator.go
// Coordinator (a registered-peer dispatch loop selecting among
// capable targets), generalized from peer-to-peer message routing to
// mutator DAG dispatch over internal/dispatch, and on
// kernel/lifecycle.go's Kernel.Boot phased startup for the pair
// scheduler's own start/stop lifecycle.
package universe

import (
	"fmt"
	"sync"

	"github.com/forge-engine/core/internal/dispatch"
)

// Mutator is one node in a pipeline's DAG: a unit of gameplay work run
// on the dispatcher.
type Mutator func()

// MutatorNode is one named, dependency-declaring entry in a Pipeline.
type MutatorNode struct {
	Name      string
	Run       Mutator
	DependsOn []string
}

// Pipeline is a named DAG of mutators, registered once and run to
// completion as many times as needed (e.g. once per gameplay tick).
type Pipeline struct {
	Name  string
	Nodes []MutatorNode
}

// Registry holds every pipeline a gameplay layer has declared, plus
// the dispatcher pool pipelines run on.
type Registry struct {
	pool *dispatch.Pool

	mu        sync.RWMutex
	pipelines map[string]*Pipeline
}

// NewRegistry constructs a Registry driving work on pool.
func NewRegistry(pool *dispatch.Pool) *Registry {
	return &Registry{pool: pool, pipelines: make(map[string]*Pipeline)}
}

// Register adds p, replacing any previously registered pipeline of the
// same name.
func (r *Registry) Register(p *Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines[p.Name] = p
}

// RunPipeline synchronously executes the named pipeline's DAG to
// completion: nodes with no unmet dependency run concurrently on the
// dispatcher pool; a node runs only once every node it depends on has
// finished. Returns an error if name is not registered or its DAG
// contains a cycle.
func (r *Registry) RunPipeline(name string) error {
	r.mu.RLock()
	p, ok := r.pipelines[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("universe: pipeline %q not registered", name)
	}
	return runDAG(r.pool, p.Nodes)
}

// runDAG dispatches every node level-by-level: nodes whose
// dependencies have all completed are grouped into one dispatcher job
// per level and awaited before the next level starts. This matches
// spec.md §4.8's "synchronously execute a named workflow graph... to
// completion" while still parallelizing mutators with no edge between
// them, per spec.md §5's "by default parallel... synchronization...
// expressed as explicit workflow-graph edges".
func runDAG(pool *dispatch.Pool, nodes []MutatorNode) error {
	done := make(map[string]bool, len(nodes))
	remaining := len(nodes)

	for remaining > 0 {
		var ready []MutatorNode
		for _, n := range nodes {
			if done[n.Name] {
				continue
			}
			if allDone(n.DependsOn, done) {
				ready = append(ready, n)
			}
		}
		if len(ready) == 0 {
			return fmt.Errorf("universe: pipeline DAG has an unresolvable dependency (cycle or missing node)")
		}

		job := pool.CreateJob()
		for _, n := range ready {
			n := n
			job.Dispatch(n.Run)
		}
		job.Release()
		job.Wait()

		for _, n := range ready {
			done[n.Name] = true
			remaining--
		}
	}
	return nil
}

func allDone(deps []string, done map[string]bool) bool {
	for _, d := range deps {
		if !done[d] {
			return false
		}
	}
	return true
}

// World is the minimal child-tick interface universe drives; the
// actual world/entity repository is an external collaborator.
type World interface {
	Update()
	Children() []World
}

// UpdateChild ticks w, then recursively ticks every child of w.
func UpdateChild(w World) {
	w.Update()
	for _, child := range w.Children() {
		UpdateChild(child)
	}
}

// UpdateAllChildren ticks every child of w without ticking w itself —
// the entry point a root world calls once per frame.
func UpdateAllChildren(w World) {
	for _, child := range w.Children() {
		UpdateChild(child)
	}
}
