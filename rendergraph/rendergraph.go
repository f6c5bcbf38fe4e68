// Package rendergraph implements the render graph frontend: declarative
// passes and per-frame pass instances, attachment binding against a
// transient image/framebuffer cache, and a per-frame temporary
// allocator. Grounded on the teacher's
// kernel/threads/pattern/storage.go TieredPatternStorage tier4
// EphemeralPatternCache (a capacity-bounded map plus an intrusive LRU
// list, RWMutex-guarded), generalized here from cached pattern objects
// to cached render images and framebuffers.
package rendergraph

import (
	"sync"

	"github.com/forge-engine/core/internal/identity"
)

type passMarker struct{}
type passInstanceMarker struct{}
type imageMarker struct{}
type framebufferMarker struct{}

// PassHandle identifies a declared pass.
type PassHandle = identity.ID[passMarker]

// PassInstanceHandle identifies one frame's instantiation of a pass.
type PassInstanceHandle = identity.ID[passInstanceMarker]

// ImageHandle identifies a cached render image.
type ImageHandle = identity.ID[imageMarker]

// FramebufferHandle identifies a cached framebuffer.
type FramebufferHandle = identity.ID[framebufferMarker]

// Format is a placeholder for the backend's pixel format enum; the
// render backend itself is an external collaborator per spec.md §1.
type Format int

// AttachmentDecl is one attachment slot declared on a Pass.
type AttachmentDecl struct {
	Name   string
	Format Format
}

// Pass is the declarative description creating a PassHandle.
type Pass struct {
	Handle      PassHandle
	Name        string
	Type        string
	Attachments []AttachmentDecl
}

// AttachmentRequest is one per-frame attachment slot on a pass
// instance request.
type AttachmentRequest struct {
	Name            string
	UseSurface      bool
	UsedByDependant bool
	Width, Height   uint32
	Format          Format
}

// InstanceRequest is a per-frame pass-instance descriptor, per
// spec.md §4.7.
type InstanceRequest struct {
	Pass        PassHandle
	Attachments []AttachmentRequest
	Viewport    [4]float32
	Scissor     [4]int32
	Clears      []float32
	Dependants  []PassInstanceHandle
}

// PassInstance is the allocated, resolved result of an InstanceRequest.
type PassInstance struct {
	Handle      PassInstanceHandle
	Pass        PassHandle
	Framebuffer FramebufferHandle
	Attachments []ImageHandle
	Viewport    [4]float32
	Scissor     [4]int32
	Clears      []float32
	Dependants  []PassInstanceHandle
}

type imageKey struct {
	width, height uint32
	format        Format
	persistent    bool
}

type cachedImage struct {
	handle       ImageHandle
	key          imageKey
	framesStale  int
}

type framebufferKey struct {
	pass   PassHandle
	w, h   uint32
	images string // stable join of attachment image handles in order
}

type cachedFramebuffer struct {
	handle      FramebufferHandle
	key         framebufferKey
	framesStale int
}

// EvictAfterFrames is the default number of frames an untouched cache
// entry survives before eviction, per spec.md §4.7 ("default small,
// e.g. 2").
const EvictAfterFrames = 2

// CacheReporter optionally observes cache hit/miss/eviction activity,
// publishing it as a metric. Accepted as an interface so this package
// never imports a metrics library directly; a *metrics.Registry
// satisfies this via IncRenderGraphCacheHit/Miss/Eviction.
type CacheReporter interface {
	IncRenderGraphCacheHit()
	IncRenderGraphCacheMiss()
	IncRenderGraphEviction()
}

// Frontend is the render graph frontend described above: one instance
// per render context. Its caches are spinlock-guarded for short
// critical sections per spec.md §5; requests may arrive concurrently
// from multiple mutator tasks.
type Frontend struct {
	passMu  sync.Mutex
	passes  map[PassHandle]*Pass
	passGen identity.Generator[passMarker]

	cacheMu      sync.Mutex
	images       map[imageKey]*cachedImage
	framebuffers map[framebufferKey]*cachedFramebuffer
	imageGen     identity.Generator[imageMarker]
	fbGen        identity.Generator[framebufferMarker]
	evictAfter   int
	bloom        *imageBloom
	reporter     CacheReporter

	frame *frameState
}

// SetReporter installs (or, passed nil, removes) the frontend's cache
// reporter. Purely additive: correctness never depends on a reporter
// being set.
func (f *Frontend) SetReporter(r CacheReporter) {
	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()
	f.reporter = r
}

// NewFrontend constructs an empty Frontend. evictAfterFrames <= 0
// falls back to EvictAfterFrames.
func NewFrontend(evictAfterFrames int) *Frontend {
	if evictAfterFrames <= 0 {
		evictAfterFrames = EvictAfterFrames
	}
	return &Frontend{
		passes:       make(map[PassHandle]*Pass),
		images:       make(map[imageKey]*cachedImage),
		framebuffers: make(map[framebufferKey]*cachedFramebuffer),
		evictAfter:   evictAfterFrames,
		bloom:        newImageBloom(256),
	}
}

// DeclarePass registers a new pass and returns its handle.
func (f *Frontend) DeclarePass(name, typ string, attachments []AttachmentDecl) PassHandle {
	f.passMu.Lock()
	defer f.passMu.Unlock()
	h := f.passGen.Next()
	f.passes[h] = &Pass{Handle: h, Name: name, Type: typ, Attachments: attachments}
	return h
}

// frameState is the per-frame temporary allocator and "live this
// frame" bookkeeping, thread-local by convention: callers must not
// share one frameState across goroutines.
type frameState struct {
	instances     []PassInstance
	liveImages    map[ImageHandle]bool
	liveFramebufs map[FramebufferHandle]bool
	declared      map[PassInstanceHandle]bool
	instanceGen   identity.Generator[passInstanceMarker]
}

// NextFrame resets the temporary allocator and "live this frame"
// tracking, beginning a new frame. Pass instances from the previous
// frame are not retained — callers must have consumed them already.
func (f *Frontend) NextFrame() {
	f.frame = &frameState{
		liveImages:    make(map[ImageHandle]bool),
		liveFramebufs: make(map[FramebufferHandle]bool),
		declared:      make(map[PassInstanceHandle]bool),
	}
}

// RequestInstance resolves req into a committed PassInstance: binds
// surface attachments, looks up or allocates cache entries for
// non-surface attachments and the framebuffer, and allocates the
// instance from the frame's temporary allocator. Dependants named in
// req must already have been requested this frame (spec.md §4.7
// ordering guarantee); violating this is a caller error the backend
// relies on for barrier scheduling, so it is only asserted here, not
// recovered from.
func (f *Frontend) RequestInstance(req InstanceRequest) PassInstance {
	if f.frame == nil {
		f.NextFrame()
	}
	for _, dep := range req.Dependants {
		if !f.frame.declared[dep] {
			panic("rendergraph: dependant pass instance requested before its dependency")
		}
	}

	images := make([]ImageHandle, len(req.Attachments))
	for i, a := range req.Attachments {
		if a.UseSurface {
			images[i] = identity.Invalid // bound to the swapchain surface by the backend, not cached here
			continue
		}
		images[i] = f.lookupOrAllocImage(imageKey{width: a.Width, height: a.Height, format: a.Format, persistent: a.UsedByDependant})
	}

	w, h := firstNonZeroDims(req.Attachments)
	fbKey := framebufferKey{pass: req.Pass, w: w, h: h, images: joinHandles(images)}
	fb := f.lookupOrAllocFramebuffer(fbKey)

	inst := PassInstance{
		Handle:      f.frame.instanceGen.Next(),
		Pass:        req.Pass,
		Framebuffer: fb,
		Attachments: images,
		Viewport:    req.Viewport,
		Scissor:     req.Scissor,
		Clears:      req.Clears,
		Dependants:  req.Dependants,
	}
	f.frame.instances = append(f.frame.instances, inst)
	f.frame.declared[inst.Handle] = true
	return inst
}

// firstNonZeroDims returns the first non-zero width and, independently,
// the first non-zero height found among attachments — per spec.md
// §4.7 point 3, the framebuffer cache key is {pass, w, h, attachment
// image handles in order}, and both dimensions must flow into it or
// two same-pass instances differing only in height alias the same
// cached framebuffer.
func firstNonZeroDims(attachments []AttachmentRequest) (w, h uint32) {
	for _, a := range attachments {
		if w == 0 && a.Width != 0 {
			w = a.Width
		}
		if h == 0 && a.Height != 0 {
			h = a.Height
		}
		if w != 0 && h != 0 {
			break
		}
	}
	return w, h
}

func joinHandles(images []ImageHandle) string {
	b := make([]byte, 0, len(images)*8)
	for _, h := range images {
		b = append(b, byte(h), byte(h>>8), byte(h>>16), byte(h>>24))
	}
	return string(b)
}

func (f *Frontend) lookupOrAllocImage(key imageKey) ImageHandle {
	h := imageKeyHash(key)
	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()

	var entry *cachedImage
	if f.bloom.mightContain(h) {
		entry = f.images[key] // bloom hit: may still be a real miss (false positive)
	}
	if entry == nil {
		entry = &cachedImage{handle: f.imageGen.Next(), key: key}
		f.images[key] = entry
		f.bloom.add(h)
		if f.reporter != nil {
			f.reporter.IncRenderGraphCacheMiss()
		}
	} else if f.reporter != nil {
		f.reporter.IncRenderGraphCacheHit()
	}
	entry.framesStale = 0
	f.frame.liveImages[entry.handle] = true
	return entry.handle
}

func (f *Frontend) lookupOrAllocFramebuffer(key framebufferKey) FramebufferHandle {
	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()
	entry, ok := f.framebuffers[key]
	if !ok {
		entry = &cachedFramebuffer{handle: f.fbGen.Next(), key: key}
		f.framebuffers[key] = entry
		if f.reporter != nil {
			f.reporter.IncRenderGraphCacheMiss()
		}
	} else if f.reporter != nil {
		f.reporter.IncRenderGraphCacheHit()
	}
	entry.framesStale = 0
	f.frame.liveFramebufs[entry.handle] = true
	return entry.handle
}

// EndFrame ages every cache entry not touched this frame, evicting
// entries stale for more than evictAfter frames, per spec.md §4.7's
// eviction rule.
func (f *Frontend) EndFrame() {
	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()

	for key, entry := range f.images {
		if f.frame != nil && f.frame.liveImages[entry.handle] {
			continue
		}
		entry.framesStale++
		if entry.framesStale > f.evictAfter {
			delete(f.images, key)
			if f.reporter != nil {
				f.reporter.IncRenderGraphEviction()
			}
		}
	}
	for key, entry := range f.framebuffers {
		if f.frame != nil && f.frame.liveFramebufs[entry.handle] {
			continue
		}
		entry.framesStale++
		if entry.framesStale > f.evictAfter {
			delete(f.framebuffers, key)
			if f.reporter != nil {
				f.reporter.IncRenderGraphEviction()
			}
		}
	}
}

// Instances returns every pass instance committed so far this frame.
func (f *Frontend) Instances() []PassInstance {
	if f.frame == nil {
		return nil
	}
	return append([]PassInstance(nil), f.frame.instances...)
}
