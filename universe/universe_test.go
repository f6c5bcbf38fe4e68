package universe

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-engine/core/internal/dispatch"
)

func TestRunPipelineRunsEveryNode(t *testing.T) {
	pool := dispatch.NewPool(4)
	defer pool.Close()
	reg := NewRegistry(pool)

	var mu sync.Mutex
	var ran []string
	record := func(name string) Mutator {
		return func() {
			mu.Lock()
			ran = append(ran, name)
			mu.Unlock()
		}
	}

	reg.Register(&Pipeline{Name: "tick", Nodes: []MutatorNode{
		{Name: "physics", Run: record("physics")},
		{Name: "ai", Run: record("ai")},
	}})

	require.NoError(t, reg.RunPipeline("tick"))
	assert.ElementsMatch(t, []string{"physics", "ai"}, ran)
}

func TestRunPipelineRespectsDependencyOrder(t *testing.T) {
	pool := dispatch.NewPool(4)
	defer pool.Close()
	reg := NewRegistry(pool)

	var mu sync.Mutex
	var ran []string
	record := func(name string) Mutator {
		return func() {
			mu.Lock()
			ran = append(ran, name)
			mu.Unlock()
		}
	}

	reg.Register(&Pipeline{Name: "tick", Nodes: []MutatorNode{
		{Name: "render", Run: record("render"), DependsOn: []string{"physics"}},
		{Name: "physics", Run: record("physics")},
	}})

	require.NoError(t, reg.RunPipeline("tick"))
	require.Equal(t, []string{"physics", "render"}, ran)
}

func TestRunPipelineDetectsCycle(t *testing.T) {
	pool := dispatch.NewPool(2)
	defer pool.Close()
	reg := NewRegistry(pool)

	reg.Register(&Pipeline{Name: "broken", Nodes: []MutatorNode{
		{Name: "a", Run: func() {}, DependsOn: []string{"b"}},
		{Name: "b", Run: func() {}, DependsOn: []string{"a"}},
	}})

	err := reg.RunPipeline("broken")
	assert.Error(t, err)
}

func TestRunPipelineUnknownName(t *testing.T) {
	pool := dispatch.NewPool(1)
	defer pool.Close()
	reg := NewRegistry(pool)
	assert.Error(t, reg.RunPipeline("nope"))
}

type fakeWorld struct {
	updated  bool
	children []World
}

func (w *fakeWorld) Update()           { w.updated = true }
func (w *fakeWorld) Children() []World { return w.children }

func TestUpdateAllChildrenRecurses(t *testing.T) {
	grandchild := &fakeWorld{}
	child := &fakeWorld{children: []World{grandchild}}
	root := &fakeWorld{children: []World{child}}

	UpdateAllChildren(root)
	assert.False(t, root.updated, "UpdateAllChildren does not tick the root itself")
	assert.True(t, child.updated)
	assert.True(t, grandchild.updated)
}

func TestUpdateChildTicksSelfAndDescendants(t *testing.T) {
	grandchild := &fakeWorld{}
	child := &fakeWorld{children: []World{grandchild}}

	UpdateChild(child)
	assert.True(t, child.updated)
	assert.True(t, grandchild.updated)
}

func TestPairSchedulerRunsFixedLogicalSteps(t *testing.T) {
	var logicalCalls int
	var visualCalls int
	s := NewPairScheduler(10*time.Millisecond, 0,
		func(dt time.Duration) { logicalCalls++ },
		func(alpha float64, dt time.Duration) { visualCalls++ })

	base := time.Now()
	s.Start(base)
	s.Tick(base.Add(35 * time.Millisecond))

	assert.Equal(t, 3, logicalCalls)
	assert.Equal(t, 1, visualCalls)
}

func TestPairSchedulerClampsAccumulatorAfterStall(t *testing.T) {
	var logicalCalls int
	s := NewPairScheduler(10*time.Millisecond, 50*time.Millisecond,
		func(dt time.Duration) { logicalCalls++ },
		nil)

	base := time.Now()
	s.Start(base)
	s.Tick(base.Add(5 * time.Second)) // a huge stall

	assert.Equal(t, 5, logicalCalls, "clamped to MaxAccumulatedTime / LogicalDT steps, not 500")
}

func TestPairSchedulerAlphaReflectsRemainder(t *testing.T) {
	var alpha float64
	s := NewPairScheduler(10*time.Millisecond, 0,
		func(time.Duration) {},
		func(a float64, dt time.Duration) { alpha = a })

	base := time.Now()
	s.Start(base)
	s.Tick(base.Add(25 * time.Millisecond))
	assert.InDelta(t, 0.5, alpha, 0.01)
}
