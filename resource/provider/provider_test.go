package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-engine/core/internal/engerr"
	"github.com/forge-engine/core/resource/index"
	"github.com/forge-engine/core/resource/reference"
)

func unsupportedLoad(typ, name, path string) (any, int64, error) {
	return nil, 0, engerr.New(engerr.PlatformUnsupported, "test.load", errors.New("not supported on this platform"))
}

func testIndex(entries ...index.Entry) *index.Index {
	return &index.Index{Types: []index.TypeEntries{{Type: "Texture", Entries: entries}}}
}

func constLoad(instance any) LoadFunc {
	return func(typ, name, path string) (any, int64, error) {
		return instance, 1024, nil
	}
}

func TestRequestNotFulfilledBeforeDispatch(t *testing.T) {
	p := New(constLoad("brick-pixels"), 0, 0)
	p.Scan(testIndex(index.Entry{Name: "brick", RelativePath: "brick.bin"}))

	id := p.Request("Texture", "brick", 0)
	req, ok := p.Lookup(id)
	require.True(t, ok)
	assert.False(t, req.ProvidedContainerID.IsValid())
}

func TestRequestUpdatedEventNoEarlierThanNextTick(t *testing.T) {
	p := New(constLoad("brick-pixels"), 0, 0)
	p.Scan(testIndex(index.Entry{Name: "brick", RelativePath: "brick.bin"}))
	it := p.NewEventIterator()

	id := p.Request("Texture", "brick", 0)
	assert.Empty(t, it.Drain(), "no event should appear before the first Dispatch (tick t)")

	p.Dispatch() // tick t: pending load created
	assert.Empty(t, it.Drain(), "still pending; event comes once the load completes")

	p.ProcessLoads() // completes the load, emits request_updated
	events := it.Drain()
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].RequestID)

	req, _ := p.Lookup(id)
	assert.True(t, req.ProvidedContainerID.IsValid())
}

func TestSecondRequestForSameResourceReusesContainer(t *testing.T) {
	p := New(constLoad("brick-pixels"), 0, 0)
	p.Scan(testIndex(index.Entry{Name: "brick", RelativePath: "brick.bin"}))

	id1 := p.Request("Texture", "brick", 0)
	p.Dispatch()
	p.ProcessLoads()
	req1, _ := p.Lookup(id1)

	id2 := p.Request("Texture", "brick", 0)
	p.Dispatch()
	req2, _ := p.Lookup(id2)
	assert.True(t, req2.ProvidedContainerID.IsValid())
	assert.Equal(t, req1.ProvidedContainerID, req2.ProvidedContainerID)
}

func TestReleaseUnloadsContainerAtZeroRefcount(t *testing.T) {
	p := New(constLoad("brick-pixels"), 0, 0)
	p.Scan(testIndex(index.Entry{Name: "brick", RelativePath: "brick.bin"}))

	id1 := p.Request("Texture", "brick", 0)
	p.Dispatch()
	p.ProcessLoads()
	req1, _ := p.Lookup(id1)
	cid := req1.ProvidedContainerID

	p.Release(id1)
	_, stillLoaded := p.containers[cid]
	assert.False(t, stillLoaded)
}

func TestPendingLoadCancelledWhenLastReferrerReleases(t *testing.T) {
	p := New(constLoad("brick-pixels"), 0, 0)
	p.Scan(testIndex(index.Entry{Name: "brick", RelativePath: "brick.bin"}))

	id := p.Request("Texture", "brick", 0)
	p.Dispatch()
	require.Len(t, p.pendingQueue, 1)

	p.Release(id)
	p.Dispatch() // reconciles the now-zero-referrer pending load
	assert.Empty(t, p.pendingQueue)
}

func TestMissingFileLeavesRequestUnfulfilledButAlive(t *testing.T) {
	p := New(constLoad("unused"), 0, 0)
	p.Scan(testIndex()) // "brick" not indexed

	id := p.Request("Texture", "brick", 0)
	p.Dispatch()
	p.ProcessLoads()

	req, ok := p.Lookup(id)
	require.True(t, ok)
	assert.False(t, req.ProvidedContainerID.IsValid())
}

func TestHotReloadHealsPreviouslyMissingRequest(t *testing.T) {
	p := New(constLoad("brick-pixels"), 0, 0)
	p.Scan(testIndex())
	it := p.NewEventIterator()

	id := p.Request("Texture", "brick", 0)
	p.Dispatch()
	p.ProcessLoads()
	req, _ := p.Lookup(id)
	require.False(t, req.ProvidedContainerID.IsValid())
	it.Drain()

	p.HotReload(testIndex(index.Entry{Name: "brick", RelativePath: "brick.bin"}))
	p.ProcessLoads()

	req, _ = p.Lookup(id)
	assert.True(t, req.ProvidedContainerID.IsValid())
}

func TestHotReloadBatchDeliversWithinOneTick(t *testing.T) {
	p := New(constLoad("v1"), 0, 0)
	idx1 := testIndex(index.Entry{Name: "brick", RelativePath: "brick.bin"}, index.Entry{Name: "stone", RelativePath: "stone.bin"})
	p.Scan(idx1)

	id1 := p.Request("Texture", "brick", 0)
	id2 := p.Request("Texture", "stone", 0)
	p.Dispatch()
	p.ProcessLoads()
	p.ProcessLoads()

	it := p.NewEventIterator()
	idx2 := testIndex(index.Entry{Name: "brick", RelativePath: "brick_v2.bin"}, index.Entry{Name: "stone", RelativePath: "stone_v2.bin"})
	p.HotReload(idx2)

	events := it.Drain()
	require.Len(t, events, 2, "both invalidations land in the same batch, before any further Dispatch")
	ids := map[RequestID]bool{events[0].RequestID: true, events[1].RequestID: true}
	assert.True(t, ids[id1])
	assert.True(t, ids[id2])
}

func TestHotReloadLeavesUnaffectedResourceAlone(t *testing.T) {
	p := New(constLoad("v1"), 0, 0)
	p.Scan(testIndex(index.Entry{Name: "brick", RelativePath: "brick.bin"}))

	id := p.Request("Texture", "brick", 0)
	p.Dispatch()
	p.ProcessLoads()
	req1, _ := p.Lookup(id)

	p.HotReload(testIndex(index.Entry{Name: "brick", RelativePath: "brick.bin"})) // unchanged path
	req2, _ := p.Lookup(id)
	assert.Equal(t, req1.ProvidedContainerID, req2.ProvidedContainerID)
}

func TestPriorityOrdersPendingLoads(t *testing.T) {
	p := New(constLoad("v1"), 0, 0)
	p.Scan(testIndex(
		index.Entry{Name: "low", RelativePath: "low.bin"},
		index.Entry{Name: "high", RelativePath: "high.bin"},
	))

	p.Request("Texture", "low", 0)
	p.Request("Texture", "high", 10)
	p.Dispatch()

	require.Len(t, p.pendingQueue, 2)
	assert.Equal(t, key{"Texture", "high"}, p.pendingQueue[0].key)
}

type recordingLoadReporter struct {
	pending, live int
}

func (r *recordingLoadReporter) SetProviderPendingLoads(n int)   { r.pending = n }
func (r *recordingLoadReporter) SetProviderContainersLive(n int) { r.live = n }

func TestPlatformUnsupportedOptionalReferenceDoesNotEscalate(t *testing.T) {
	p := New(unsupportedLoad, 0, 0)
	p.Scan(testIndex(index.Entry{Name: "shadow_fallback", RelativePath: "shadow_fallback.bin"}))

	id := p.RequestOptional("Texture", "shadow_fallback", 0)
	p.Dispatch()
	_, err := p.ProcessLoads()
	assert.NoError(t, err, "a platform-optional reference to an unsupported resource must not escalate")

	req, ok := p.Lookup(id)
	require.True(t, ok)
	assert.False(t, req.ProvidedContainerID.IsValid())
}

func TestPlatformUnsupportedRequiredReferenceEscalates(t *testing.T) {
	p := New(unsupportedLoad, 0, 0)
	p.Scan(testIndex(index.Entry{Name: "core_shader", RelativePath: "core_shader.bin"}))

	id := p.Request("Texture", "core_shader", 0)
	p.Dispatch()
	_, err := p.ProcessLoads()
	assert.Error(t, err, "a required reference to an unsupported resource must escalate to a build failure")

	req, ok := p.Lookup(id)
	require.True(t, ok)
	assert.False(t, req.ProvidedContainerID.IsValid())
}

func TestMissingFileStillEscalatesRegardlessOfOptional(t *testing.T) {
	p := New(constLoad("unused"), 0, 0)
	p.Scan(testIndex()) // "brick" not indexed

	p.RequestOptional("Texture", "brick", 0)
	p.Dispatch()
	_, err := p.ProcessLoads()
	assert.Error(t, err, "a missing file is an IOError, not PlatformUnsupported, so it always escalates")
}

func TestRequestReferenceForwardsOptionalFlag(t *testing.T) {
	p := New(constLoad("v1"), 0, 0)

	required := p.RequestReference(reference.DetectedRef{Type: "Texture", Name: "brick", Optional: false}, 0)
	optional := p.RequestReference(reference.DetectedRef{Type: "Texture", Name: "shadow_fallback", Optional: true}, 0)

	req1, _ := p.Lookup(required)
	req2, _ := p.Lookup(optional)
	assert.False(t, req1.Optional)
	assert.True(t, req2.Optional)
}

func TestReporterTracksPendingAndLiveCounts(t *testing.T) {
	p := New(constLoad("v1"), 0, 0)
	p.Scan(testIndex(index.Entry{Name: "brick", RelativePath: "brick.bin"}))

	r := &recordingLoadReporter{}
	p.SetReporter(r)

	p.Request("Texture", "brick", 0)
	p.Dispatch()
	assert.Equal(t, 1, r.pending)

	p.ProcessLoads()
	assert.Equal(t, 0, r.pending)
	assert.Equal(t, 1, r.live)
}
