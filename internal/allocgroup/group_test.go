package allocgroup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildReturnsExistingNode(t *testing.T) {
	root := Root()
	a := root.Child("scene_a")
	again := root.Child("scene_a")
	assert.Same(t, a, again)
	assert.Equal(t, "root/scene_a", a.Path())
}

func TestAllocateFreeSymmetry(t *testing.T) {
	g := Root().Child("textures")
	Allocate(g, 100)
	Allocate(g, 50)
	assert.Equal(t, int64(150), g.AllocatedHere())

	Free(g, 150)
	assert.Equal(t, int64(0), g.AllocatedHere())
}

func TestFreeUnderflowClampsInRelease(t *testing.T) {
	Debug = false
	g := Root().Child("meshes")
	Allocate(g, 10)
	Free(g, 100)
	assert.Equal(t, int64(0), g.AllocatedHere())
}

func TestFreeUnderflowPanicsInDebug(t *testing.T) {
	Debug = true
	defer func() { Debug = false }()
	g := Root().Child("debug_underflow")
	Allocate(g, 10)
	assert.Panics(t, func() { Free(g, 100) })
}

func TestTotalIncludesDescendants(t *testing.T) {
	base := Root().Child("subsystem_total_test")
	child := base.Child("child")
	grandchild := child.Child("grandchild")

	Allocate(base, 10)
	Allocate(child, 20)
	Allocate(grandchild, 30)

	assert.Equal(t, int64(60), base.Total())
	assert.Equal(t, int64(50), child.Total())
	assert.Equal(t, int64(30), grandchild.Total())
}

func TestSubmitDeniedWithoutCapture(t *testing.T) {
	g := Root().Child("no_capture_test")
	// No capture active: Submit should be denied internally, but the
	// accounting mutation must still happen regardless of whether the
	// event was observed.
	before := g.AllocatedHere()
	Allocate(g, 5)
	assert.Equal(t, before+5, g.AllocatedHere())
}

func TestCaptureSnapshotPlusEventsReconcilesTotal(t *testing.T) {
	root := Root()
	g := root.Child("capture_subsystem")
	Allocate(g, 40)

	capture := BeginCapture()
	defer capture.Close()

	Allocate(g, 10)
	child := g.Child("capture_child")
	Allocate(child, 5)

	events := capture.Drain()
	require.NotEmpty(t, events)

	baseline := capture.Snapshot()[g.Path()]
	var delta int64
	for _, e := range events {
		if e.Group == g.Path() && e.Kind == EventAllocate {
			delta += e.Delta
		}
	}
	assert.Equal(t, g.AllocatedHere(), baseline+delta)
}

type recordingReporter struct {
	path  string
	bytes int64
}

func (r *recordingReporter) SetAllocGroupBytes(path string, bytes int64) {
	r.path, r.bytes = path, bytes
}

func TestByteReporterObservesAllocateAndFree(t *testing.T) {
	r := &recordingReporter{}
	SetByteReporter(r)
	defer SetByteReporter(nil)

	g := Root().Child("reported_group")
	Allocate(g, 30)
	assert.Equal(t, g.Path(), r.path)
	assert.Equal(t, int64(30), r.bytes)

	Free(g, 10)
	assert.Equal(t, int64(20), r.bytes)
}

func TestRootTotalEqualsSumOfDirectAllocations(t *testing.T) {
	root := Root()
	capture := BeginCapture()
	defer capture.Close()

	a := root.Child("sum_check_a")
	b := root.Child("sum_check_b")
	Allocate(a, 7)
	Allocate(b, 13)

	var sum int64
	var walk func(*Group)
	walk = func(g *Group) {
		sum += g.AllocatedHere()
		for _, c := range g.children {
			walk(c)
		}
	}
	walk(a)
	walk(b)
	assert.Equal(t, int64(20), sum)

	// Summing direct allocations over the whole tree gives the root total.
	sum = 0
	walk(root)
	assert.Equal(t, root.Total(), sum)
}
