// Package provider implements the runtime resource provider: the
// hardest piece of the pipeline per spec.md §4.5.4. It turns requests
// into containers inside a universe repository, tracking pending loads
// by (type, name) with a priority-and-insertion-order queue, and
// reconciles state on every tick and on hot reload.
//
// Grounded directly on the teacher's kernel/threads/registry/loader.go
// ModuleRegistry (a map + RWMutex + per-id lookup table — exactly this
// package's container table shape) and on
// kernel/threads/intelligence/scheduling/engine.go's SchedulingEngine
// (a container/heap-backed priority queue), reused in spirit for the
// pending-load queue ordered by (priority desc, insertion order).
package provider

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/forge-engine/core/internal/container"
	"github.com/forge-engine/core/internal/engerr"
	"github.com/forge-engine/core/internal/identity"
	"github.com/forge-engine/core/resource/index"
	"github.com/forge-engine/core/resource/reference"
)

// LoadReporter optionally observes queue depth, publishing it as a
// metric. Accepted as an interface so this package never imports a
// metrics library directly; a *metrics.Registry satisfies this via
// SetProviderPendingLoads/SetProviderContainersLive.
type LoadReporter interface {
	SetProviderPendingLoads(n int)
	SetProviderContainersLive(n int)
}

type requestMarker struct{}
type containerMarker struct{}

// RequestID identifies a live request record.
type RequestID = identity.ID[requestMarker]

// ContainerID identifies a loaded container slot.
type ContainerID = identity.ID[containerMarker]

// Request is one live request: lifetime spans from Provider.Request to
// Provider.Release.
type Request struct {
	ID                  RequestID
	Type                string
	Name                string
	Priority            int
	Optional            bool // set when this request stems from a platform-optional reference
	ProvidedContainerID ContainerID
}

// Container holds one loaded instance of a given type.
type Container struct {
	ID       ContainerID
	Type     string
	Name     string
	Instance any
	RefCount int
}

// EventKind classifies a provider event.
type EventKind int

const (
	// EventRequestUpdated fires when a request's ProvidedContainerID
	// changes, including the first time it is fulfilled and whenever a
	// hot reload invalidates it.
	EventRequestUpdated EventKind = iota
)

// Event is one change a caller can observe via NewEventIterator.
type Event struct {
	Kind      EventKind
	RequestID RequestID
}

type key struct{ Type, Name string }

// LoadFunc deserializes the resource at path, returning the live
// instance and the number of bytes read (for the per-tick byte
// budget). Implementations of the concrete deserialization codec are
// an external collaborator per spec.md §1.
type LoadFunc func(typ, name, path string) (instance any, bytesRead int64, err error)

// InitFunc optionally runs a type's init functor immediately after
// load, before the container is published to waiting requests.
type InitFunc func(instance any) error

type pendingLoad struct {
	key      key
	priority int
	seq      uint64
	refCount int
	heapIdx  int
}

// Provider is the runtime resource provider described above. The zero
// value is not usable; construct with New.
type Provider struct {
	mu sync.Mutex

	load      LoadFunc
	initFuncs map[string]InitFunc

	requestGen    identity.Generator[requestMarker]
	containerGens map[string]*identity.Generator[containerMarker]

	scanDone bool
	idx      *index.Index
	diskPath map[key]string

	requests       map[RequestID]*Request
	newRequestIDs  []RequestID
	containers     map[ContainerID]*Container
	containerByKey map[key]ContainerID
	pending        map[key]*pendingLoad
	pendingQueue   pendingHeap

	limiter  *rate.Limiter
	events   *container.EventQueue[Event]
	logger   *zap.Logger
	reporter LoadReporter
}

// New constructs a Provider. bytesPerSecond and burst configure the
// byte-budget limiter that ProcessLoads charges with the bytes each
// load reads (see ProcessLoads); pass 0 for an unbounded budget.
func New(load LoadFunc, bytesPerSecond float64, burst int) *Provider {
	p := &Provider{
		load:           load,
		initFuncs:      make(map[string]InitFunc),
		containerGens:  make(map[string]*identity.Generator[containerMarker]),
		diskPath:       make(map[key]string),
		requests:       make(map[RequestID]*Request),
		containers:     make(map[ContainerID]*Container),
		containerByKey: make(map[key]ContainerID),
		pending:        make(map[key]*pendingLoad),
		events:         container.NewEventQueue[Event](),
		logger:         zap.NewNop(),
	}
	if bytesPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
	}
	return p
}

// SetLogger installs the structured logger used for load failures.
// Defaults to a no-op logger.
func (p *Provider) SetLogger(logger *zap.Logger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger = logger
}

// SetReporter installs (or, passed nil, removes) the provider's load
// reporter. Purely additive: correctness never depends on a reporter
// being set.
func (p *Provider) SetReporter(r LoadReporter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reporter = r
}

// reportLocked publishes current pending/live-container counts to the
// installed reporter, if any. Must be called with mu held.
func (p *Provider) reportLocked() {
	if p.reporter == nil {
		return
	}
	pending, live := len(p.pendingQueue), len(p.containers)
	p.reporter.SetProviderPendingLoads(pending)
	p.reporter.SetProviderContainersLive(live)
}

// RegisterInit installs typ's init functor, run once per load right
// after deserialization.
func (p *Provider) RegisterInit(typ string, fn InitFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initFuncs[typ] = fn
}

// NewEventIterator registers a reader of request-updated events.
func (p *Provider) NewEventIterator() *container.Iterator[Event] {
	return p.events.NewIterator()
}

// Scan reads idx into the provider's {type,name} -> path map. Sets
// scan-done exactly once, or again after a hot reload.
func (p *Provider) Scan(idx *index.Index) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scanLocked(idx)
}

func (p *Provider) scanLocked(idx *index.Index) {
	p.idx = idx
	p.diskPath = make(map[key]string)
	for _, t := range idx.Types {
		for _, e := range t.Entries {
			p.diskPath[key{t.Type, e.Name}] = e.RelativePath
		}
	}
	for _, e := range idx.ThirdParty {
		p.diskPath[key{"__third_party__", e.Name}] = e.RelativePath
	}
	p.scanDone = true
}

// ScanDone reports whether Scan has run at least once.
func (p *Provider) ScanDone() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scanDone
}

// Request records a new request for (typ, name) and returns its id.
// The caller must eventually call Release with the same id.
func (p *Provider) Request(typ, name string, priority int) RequestID {
	return p.newRequest(typ, name, priority, false)
}

// RequestOptional records a new request for (typ, name) that stems from
// a platform-optional reference: if the resource turns out to be
// unsupported on this platform, the request simply resolves with no
// container rather than escalating to a build failure (spec.md §8
// scenario S5).
func (p *Provider) RequestOptional(typ, name string, priority int) RequestID {
	return p.newRequest(typ, name, priority, true)
}

// RequestReference issues a request for one reference detected by
// reference.DetectReferences, forwarding its platform-optional flag so
// an unresolvable optional target never escalates at request time.
func (p *Provider) RequestReference(ref reference.DetectedRef, priority int) RequestID {
	return p.newRequest(ref.Type, ref.Name, priority, ref.Optional)
}

func (p *Provider) newRequest(typ, name string, priority int, optional bool) RequestID {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.requestGen.Next()
	p.requests[id] = &Request{ID: id, Type: typ, Name: name, Priority: priority, Optional: optional}
	p.newRequestIDs = append(p.newRequestIDs, id)
	return id
}

// Lookup returns a snapshot of the request record, if it still exists.
func (p *Provider) Lookup(id RequestID) (Request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.requests[id]
	if !ok {
		return Request{}, false
	}
	return *r, true
}

// Release ends the request's lifetime, decrementing its container's
// refcount (unloading it once the count reaches zero) or its pending
// load's referrer count.
func (p *Provider) Release(id RequestID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.requests[id]
	if !ok {
		return
	}
	delete(p.requests, id)

	k := key{req.Type, req.Name}
	if req.ProvidedContainerID.IsValid() {
		c, ok := p.containers[req.ProvidedContainerID]
		if ok {
			c.RefCount--
			if c.RefCount <= 0 {
				delete(p.containers, c.ID)
				delete(p.containerByKey, k)
			}
		}
		p.reportLocked()
		return
	}
	if pl, ok := p.pending[k]; ok {
		pl.refCount--
	}
	p.reportLocked()
}

// Dispatch runs once per tick: every new request since the last
// Dispatch call either reuses an already-loaded container (bumping its
// refcount and emitting request_updated immediately) or ensures a
// pending load exists; pending loads with no outstanding referrers are
// cancelled.
func (p *Provider) Dispatch() {
	p.mu.Lock()
	defer p.mu.Unlock()

	newIDs := p.newRequestIDs
	p.newRequestIDs = nil

	for _, id := range newIDs {
		req, ok := p.requests[id]
		if !ok {
			continue
		}
		k := key{req.Type, req.Name}
		if cid, ok := p.containerByKey[k]; ok {
			req.ProvidedContainerID = cid
			p.containers[cid].RefCount++
			p.events.Submit(Event{Kind: EventRequestUpdated, RequestID: id})
			continue
		}
		pl, exists := p.pending[k]
		if !exists {
			pl = &pendingLoad{key: k, priority: req.Priority, seq: p.nextSeqLocked()}
			p.pending[k] = pl
			heap.Push(&p.pendingQueue, pl)
		} else if req.Priority > pl.priority {
			pl.priority = req.Priority
			heap.Fix(&p.pendingQueue, pl.heapIdx)
		}
		pl.refCount++
	}

	for k, pl := range p.pending {
		if pl.refCount <= 0 {
			delete(p.pending, k)
			if pl.heapIdx >= 0 && pl.heapIdx < len(p.pendingQueue) {
				heap.Remove(&p.pendingQueue, pl.heapIdx)
			}
		}
	}
	p.reportLocked()
}

var seqCounter uint64

func (p *Provider) nextSeqLocked() uint64 {
	seqCounter++
	return seqCounter
}

// ProcessLoads pops pending loads in priority order and loads each
// until the queue is empty. Each successful load charges the bytes it
// read to the byte-budget limiter (if configured); the limiter does not
// stop the loop, so one call drains the whole queue. It returns the number of loads it attempted, and a non-nil error
// aggregating every escalated failure — a failure whose kind is not
// engerr.PlatformUnsupported, or a PlatformUnsupported failure with at
// least one non-optional request still targeting it, per spec.md §7/§8.
func (p *Provider) ProcessLoads() (int, error) {
	attempted := 0
	var result *multierror.Error
	for {
		p.mu.Lock()
		if len(p.pendingQueue) == 0 {
			p.mu.Unlock()
			return attempted, result.ErrorOrNil()
		}
		pl := heap.Pop(&p.pendingQueue).(*pendingLoad)
		delete(p.pending, pl.key)
		path, onDisk := p.diskPath[pl.key]
		p.mu.Unlock()

		attempted++
		if !onDisk {
			if err := p.failLoad(pl, engerr.New(engerr.IOError, "provider.ProcessLoads",
				fmt.Errorf("no indexed path for %s:%s", pl.key.Type, pl.key.Name))); err != nil {
				result = multierror.Append(result, err)
			}
			continue
		}

		instance, bytesRead, err := p.load(pl.key.Type, pl.key.Name, path)
		if err != nil {
			if ferr := p.failLoad(pl, classifyLoadErr("provider.ProcessLoads", err)); ferr != nil {
				result = multierror.Append(result, ferr)
			}
			continue
		}
		if p.limiter != nil {
			_ = p.limiter.AllowN(time.Now(), int(bytesRead))
		}

		p.mu.Lock()
		if initFn, ok := p.initFuncs[pl.key.Type]; ok {
			if err := initFn(instance); err != nil {
				p.mu.Unlock()
				if ferr := p.failLoad(pl, engerr.New(engerr.ParseError, "provider.ProcessLoads", err)); ferr != nil {
					result = multierror.Append(result, ferr)
				}
				continue
			}
		}
		p.completeLoadLocked(pl, instance)
		p.mu.Unlock()
	}
}

// classifyLoadErr preserves a LoadFunc's own engerr.Kind (e.g. a
// PlatformUnsupported load) instead of collapsing every failure into
// IOError.
func classifyLoadErr(op string, err error) error {
	if e, ok := err.(*engerr.Error); ok {
		return e
	}
	return engerr.New(engerr.IOError, op, err)
}

// failLoad leaves every request targeting pl's key without a container
// id; a subsequent HotReload that supplies the file heals the state. A
// PlatformUnsupported failure logs at INFO and returns nil (no
// escalation) as long as every request currently targeting pl.key is
// platform-optional; otherwise it returns err for ProcessLoads to
// aggregate as an escalated build failure, per spec.md §8 scenario S5
// and the platform-unsupported-resource row of §7's failure table.
func (p *Provider) failLoad(pl *pendingLoad, err error) error {
	p.mu.Lock()
	logger := p.logger
	optional := p.allRequestsOptionalLocked(pl.key)
	p.mu.Unlock()
	if logger == nil {
		logger = zap.NewNop()
	}

	if engerr.Is(err, engerr.PlatformUnsupported) && optional {
		engerr.Log(logger, err)
		logger.Info("resource unsupported on this platform, request resolves with no container",
			zap.String("type", pl.key.Type), zap.String("name", pl.key.Name))
		return nil
	}

	engerr.Log(logger, err)
	logger.Warn("resource load failed, request left unfulfilled",
		zap.String("type", pl.key.Type), zap.String("name", pl.key.Name))
	return err
}

// allRequestsOptionalLocked reports whether every live request
// targeting k is platform-optional; true (non-escalating) if no
// request targets k at all. Must be called with mu held.
func (p *Provider) allRequestsOptionalLocked(k key) bool {
	for _, req := range p.requests {
		if req.Type == k.Type && req.Name == k.Name && !req.Optional {
			return false
		}
	}
	return true
}

func (p *Provider) completeLoadLocked(pl *pendingLoad, instance any) {
	gen, ok := p.containerGens[pl.key.Type]
	if !ok {
		gen = &identity.Generator[containerMarker]{}
		p.containerGens[pl.key.Type] = gen
	}
	cid := gen.Next()
	p.containers[cid] = &Container{ID: cid, Type: pl.key.Type, Name: pl.key.Name, Instance: instance, RefCount: pl.refCount}
	p.containerByKey[pl.key] = cid

	for _, req := range p.requests {
		if req.Type == pl.key.Type && req.Name == pl.key.Name && !req.ProvidedContainerID.IsValid() {
			req.ProvidedContainerID = cid
			p.events.Submit(Event{Kind: EventRequestUpdated, RequestID: req.ID})
		}
	}
	p.reportLocked()
}

// HotReload rescans idx, diffs it against live containers, invalidates
// stale ones (re-queuing a reload for any still-referenced name), and
// heals requests whose file was previously missing.
func (p *Provider) HotReload(idx *index.Index) {
	p.mu.Lock()
	oldPaths := p.diskPath
	p.scanLocked(idx)
	newPaths := p.diskPath

	var affected []RequestID
	for k, oldPath := range oldPaths {
		newPath, stillPresent := newPaths[k]
		if stillPresent && newPath == oldPath {
			continue
		}
		cid, loaded := p.containerByKey[k]
		if !loaded {
			continue
		}
		c := p.containers[cid]
		delete(p.containers, cid)
		delete(p.containerByKey, k)
		if c.RefCount > 0 && stillPresent {
			pl := &pendingLoad{key: k, priority: 0, seq: p.nextSeqLocked(), refCount: c.RefCount}
			p.pending[k] = pl
			heap.Push(&p.pendingQueue, pl)
		}
		for _, req := range p.requests {
			if req.Type == k.Type && req.Name == k.Name {
				req.ProvidedContainerID = identity.Invalid
				affected = append(affected, req.ID)
			}
		}
	}

	for k, req := range requestsByKeyLocked(p) {
		if req.ProvidedContainerID.IsValid() {
			continue
		}
		if _, exists := p.pending[k]; exists {
			continue
		}
		if _, onDisk := newPaths[k]; !onDisk {
			continue
		}
		pl := &pendingLoad{key: k, priority: req.Priority, seq: p.nextSeqLocked(), refCount: 1}
		p.pending[k] = pl
		heap.Push(&p.pendingQueue, pl)
	}
	p.reportLocked()
	p.mu.Unlock()

	for _, id := range affected {
		p.events.Submit(Event{Kind: EventRequestUpdated, RequestID: id})
	}
}

func requestsByKeyLocked(p *Provider) map[key]*Request {
	out := make(map[key]*Request, len(p.requests))
	for _, req := range p.requests {
		if !req.ProvidedContainerID.IsValid() {
			out[key{req.Type, req.Name}] = req
		}
	}
	return out
}

// pendingHeap orders pending loads by priority (descending), then by
// insertion order — the EDF-style shape the dispatcher's own priority
// queue uses.
type pendingHeap []*pendingLoad

func (h pendingHeap) Len() int { return len(h) }
func (h pendingHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h pendingHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}
func (h *pendingHeap) Push(x any) {
	pl := x.(*pendingLoad)
	pl.heapIdx = len(*h)
	*h = append(*h, pl)
}
func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.heapIdx = -1
	*h = old[:n-1]
	return item
}
