// Package allocgroup tracks where process memory is attributed: a tree
// of named groups, each accruing bytes allocated directly to it, with
// totals rolling up through ancestors. Grounded on the teacher's
// HybridAllocator (kernel/threads/arena/allocator.go), whose atomic
// AllocationRequest/Stats bookkeeping this package generalizes into a
// caller-addressable tree instead of a single flat allocator.
package allocgroup

import (
	"fmt"
	"sync"

	"github.com/forge-engine/core/internal/container"
)

// Debug enables fatal assertions on free underflow. Release builds
// should leave this false, in which case underflow silently clamps to
// zero, matching the contract in spec.md §4.1.
var Debug = false

// ByteReporter optionally observes a group's allocatedHere total after
// every Allocate/Free, publishing it as a metric (e.g. the
// forge_alloc_group_bytes gauge). Accepted as an interface so this
// package never imports a metrics library directly; a
// *metrics.Registry satisfies this by its SetAllocGroupBytes method.
type ByteReporter interface {
	SetAllocGroupBytes(path string, bytes int64)
}

var reporter ByteReporter

// SetByteReporter installs (or, passed nil, removes) the process-wide
// byte reporter. Purely additive: correctness never depends on a
// reporter being set.
func SetByteReporter(r ByteReporter) {
	mu.Lock()
	reporter = r
	mu.Unlock()
}

// EventKind identifies the kind of allocation-group event.
type EventKind int

const (
	EventAllocate EventKind = iota
	EventFree
	EventNewChild
)

func (k EventKind) String() string {
	switch k {
	case EventAllocate:
		return "allocate"
	case EventFree:
		return "free"
	case EventNewChild:
		return "new_child"
	default:
		return "unknown"
	}
}

// Event describes a single mutation observed by a Capture.
type Event struct {
	Kind  EventKind
	Group string // full slash-joined path of the affected group
	Delta int64  // bytes allocated or freed; zero for EventNewChild
	Total int64  // allocatedHere after the operation
}

// events is the process-wide event queue backing Capture. Submission is
// denied whenever no capture is active, so untraced allocate/free calls
// pay no bookkeeping cost beyond the lock already required for the
// tree's accounting.
var events = container.NewEventQueue[Event]()

// Group is one node in the allocation-group tree. The zero value is not
// usable; obtain groups via Root or Group.Child.
type Group struct {
	name          string
	parent        *Group
	children      map[string]*Group
	allocatedHere int64
}

var (
	mu        sync.Mutex
	rootGroup *Group
	rootOnce  sync.Once
)

// Root returns the immortal, process-wide root group.
func Root() *Group {
	rootOnce.Do(func() {
		rootGroup = &Group{name: "root", children: make(map[string]*Group)}
	})
	return rootGroup
}

// Name returns the group's own name, not its full path.
func (g *Group) Name() string { return g.name }

// Parent returns the owning group, or nil for the root.
func (g *Group) Parent() *Group { return g.parent }

// Path returns the slash-joined path from the root to this group.
func (g *Group) Path() string {
	if g.parent == nil {
		return g.name
	}
	return g.parent.Path() + "/" + g.name
}

// Child returns the child group named name, creating it if it does not
// already exist. A single global lock serializes tree growth.
func (g *Group) Child(name string) *Group {
	mu.Lock()
	defer mu.Unlock()
	if c, ok := g.children[name]; ok {
		return c
	}
	c := &Group{name: name, parent: g, children: make(map[string]*Group)}
	g.children[name] = c
	events.Submit(Event{Kind: EventNewChild, Group: c.Path()})
	return c
}

// AllocatedHere returns bytes accounted directly to this group,
// excluding descendants.
func (g *Group) AllocatedHere() int64 {
	mu.Lock()
	defer mu.Unlock()
	return g.allocatedHere
}

// Total returns bytes accounted to this group plus all of its
// descendants.
func (g *Group) Total() int64 {
	mu.Lock()
	defer mu.Unlock()
	return g.totalLocked()
}

func (g *Group) totalLocked() int64 {
	total := g.allocatedHere
	for _, c := range g.children {
		total += c.totalLocked()
	}
	return total
}

// Allocate records size bytes attributed directly to g.
func Allocate(g *Group, size int64) {
	mu.Lock()
	g.allocatedHere += size
	total := g.allocatedHere
	r := reporter
	path := g.Path()
	events.Submit(Event{Kind: EventAllocate, Group: path, Delta: size, Total: total})
	mu.Unlock()
	if r != nil {
		r.SetAllocGroupBytes(path, total)
	}
}

// Free releases size bytes previously allocated to g. allocate and free
// must be symmetrical; underflow is a fatal assertion when Debug is
// set, and silently clamped to zero otherwise.
func Free(g *Group, size int64) {
	mu.Lock()
	next := g.allocatedHere - size
	if next < 0 {
		if Debug {
			mu.Unlock()
			panic(fmt.Sprintf("allocgroup: free underflow in %q: freeing %d, have %d", g.Path(), size, g.allocatedHere))
		}
		next = 0
	}
	g.allocatedHere = next
	r := reporter
	path := g.Path()
	events.Submit(Event{Kind: EventFree, Group: path, Delta: size, Total: next})
	mu.Unlock()
	if r != nil {
		r.SetAllocGroupBytes(path, next)
	}
}

// Capture observes allocation-group events from the moment it was
// started, paired with a snapshot of totals taken at that same
// instant so a caller can reconcile baseline plus delta.
type Capture struct {
	iter     *container.Iterator[Event]
	snapshot map[string]int64
}

// BeginCapture takes an atomic snapshot of every group's
// directly-allocated bytes and registers an event iterator in the same
// critical section, so no event is lost or double-counted relative to
// the snapshot.
func BeginCapture() *Capture {
	mu.Lock()
	defer mu.Unlock()
	it := events.NewIterator()
	snap := make(map[string]int64)
	var walk func(*Group)
	walk = func(g *Group) {
		snap[g.Path()] = g.allocatedHere
		for _, c := range g.children {
			walk(c)
		}
	}
	walk(Root())
	return &Capture{iter: it, snapshot: snap}
}

// Snapshot returns the directly-allocated bytes recorded per group path
// at capture start.
func (c *Capture) Snapshot() map[string]int64 { return c.snapshot }

// Drain returns every event observed since the capture began (or since
// the last Drain call).
func (c *Capture) Drain() []Event { return c.iter.Drain() }

// Close stops the capture, allowing the event queue to reclaim events
// this iterator was holding back for other readers.
func (c *Capture) Close() { c.iter.Close() }
