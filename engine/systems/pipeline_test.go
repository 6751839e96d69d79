package systems

import (
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rt/engine/assets"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer"
	"github.com/spaghettifunk/anima-rt/engine/renderer/headless"
)

func init() {
	core.SetLogOutput(io.Discard)
}

type testDevice struct {
	rd      *renderer.RenderDevice
	backend *headless.Backend
	queue   *renderer.DestructionQueue
}

func newTestDevice(t *testing.T) testDevice {
	t.Helper()
	backend := headless.New()
	rd, err := renderer.NewRenderDevice(backend)
	require.NoError(t, err)
	q := renderer.NewDestructionQueue(rd, 2)
	t.Cleanup(q.Shutdown)
	return testDevice{rd: rd, backend: backend, queue: q}
}

func newTestServer(t *testing.T) *assets.Server {
	t.Helper()
	s, err := assets.NewServer(core.AssetsConfig{Root: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type fakePrepared struct {
	value     string
	destroyed atomic.Int32
}

// fakeAsset prepares strings. "fatal" fails with an assertion, "bad" with a
// plain error. Prepare blocks on gate when it is set.
type fakeAsset struct {
	kind  assets.Kind
	gate  chan struct{}
	deps  []assets.Handle
	ready atomic.Bool

	mu       sync.Mutex
	prepared []*fakePrepared
}

func newFakeAsset(kind assets.Kind) *fakeAsset {
	f := &fakeAsset{kind: kind}
	f.ready.Store(true)
	return f
}

func (f *fakeAsset) Kind() assets.Kind {
	return f.kind
}

func (f *fakeAsset) Dependencies(v string) []assets.Handle {
	return f.deps
}

func (f *fakeAsset) Extract(h assets.Handle, v string) (string, bool) {
	return v, f.ready.Load()
}

func (f *fakeAsset) Prepare(rd *renderer.RenderDevice, cmds *renderer.CommandContext, v string) (*fakePrepared, error) {
	if f.gate != nil {
		<-f.gate
	}
	switch v {
	case "fatal":
		return nil, core.Assertf("cannot prepare %s", v)
	case "bad":
		return nil, core.Newf("cannot prepare %s", v)
	}
	p := &fakePrepared{value: v}
	f.mu.Lock()
	f.prepared = append(f.prepared, p)
	f.mu.Unlock()
	return p, nil
}

func (f *fakeAsset) Destroy(p *fakePrepared, q *renderer.DestructionQueue) {
	p.destroyed.Add(1)
}

func (f *fakeAsset) all() []*fakePrepared {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePrepared(nil), f.prepared...)
}

func newFakePipeline(t *testing.T, dev testDevice, server *assets.Server, f *fakeAsset) *AssetPipeline[string, string, *fakePrepared] {
	t.Helper()
	p, err := NewAssetPipeline[string, string, *fakePrepared](f, server, dev.rd, dev.queue)
	require.NoError(t, err)
	return p
}

func TestPublishInstallsEveryPreparedAsset(t *testing.T) {
	dev := newTestDevice(t)
	server := newTestServer(t)
	f := newFakeAsset(assets.KindTexture)
	p := newFakePipeline(t, dev, server, f)

	a := server.Add(assets.KindTexture, "a")
	b := server.Add(assets.KindTexture, "b")
	// other kinds are not ours
	server.Add(assets.KindMesh, "c")

	assert.Equal(t, 2, p.Extract())
	p.WaitIdle()
	var published []assets.Handle
	p.OnPublish(func(h assets.Handle) { published = append(published, h) })
	assert.Equal(t, 2, p.Publish())
	assert.ElementsMatch(t, []assets.Handle{a, b}, published)

	got, ok := p.Prepared().Get(a)
	require.True(t, ok)
	assert.Equal(t, "a", got.value)
	assert.Equal(t, 2, p.Prepared().Len())
	assert.Len(t, p.Prepared().Handles(), 2)

	require.NoError(t, p.Shutdown())
	for _, prepared := range f.all() {
		assert.Equal(t, int32(1), prepared.destroyed.Load(), prepared.value)
	}
	assert.Zero(t, p.Prepared().Len())
}

func TestEditsBetweenExtractionsAreCoalesced(t *testing.T) {
	dev := newTestDevice(t)
	server := newTestServer(t)
	f := newFakeAsset(assets.KindTexture)
	p := newFakePipeline(t, dev, server, f)

	h := assets.NewHandle()
	server.Set(h, assets.KindTexture, "v1")
	server.Set(h, assets.KindTexture, "v2")
	assert.Equal(t, 1, p.Extract())
	p.WaitIdle()
	p.Publish()

	got, ok := p.Prepared().Get(h)
	require.True(t, ok)
	assert.Equal(t, "v2", got.value)
	require.NoError(t, p.Shutdown())
}

func TestSupersededValueIsDestroyedExactlyOnce(t *testing.T) {
	dev := newTestDevice(t)
	server := newTestServer(t)
	f := newFakeAsset(assets.KindTexture)
	f.gate = make(chan struct{})
	p := newFakePipeline(t, dev, server, f)

	h := assets.NewHandle()
	server.Set(h, assets.KindTexture, "v1")
	require.Equal(t, 1, p.Extract())
	// v1 is still being prepared when v2 arrives
	server.Set(h, assets.KindTexture, "v2")
	require.Equal(t, 1, p.Extract())
	assert.Zero(t, p.Publish())

	close(f.gate)
	p.WaitIdle()
	gen := p.Prepared().Generation()
	assert.Equal(t, 2, p.Publish())
	assert.Equal(t, gen+2, p.Prepared().Generation())

	all := f.all()
	require.Len(t, all, 2)
	assert.Equal(t, "v1", all[0].value)
	assert.Equal(t, int32(1), all[0].destroyed.Load())
	assert.Zero(t, all[1].destroyed.Load())

	got, ok := p.Prepared().Get(h)
	require.True(t, ok)
	assert.Same(t, all[1], got)

	require.NoError(t, p.Shutdown())
	assert.Equal(t, int32(1), all[0].destroyed.Load())
	assert.Equal(t, int32(1), all[1].destroyed.Load())
}

func TestRemovedAssetsKeepTheirPreparedValue(t *testing.T) {
	dev := newTestDevice(t)
	server := newTestServer(t)
	p := newFakePipeline(t, dev, server, newFakeAsset(assets.KindTexture))

	h := server.Add(assets.KindTexture, "a")
	p.Extract()
	p.WaitIdle()
	p.Publish()

	require.True(t, server.Remove(h))
	assert.Zero(t, p.Extract())
	_, ok := p.Prepared().Get(h)
	assert.True(t, ok)
	require.NoError(t, p.Shutdown())
}

func TestSkippedExtractionRetriesWhenADependencyChanges(t *testing.T) {
	dev := newTestDevice(t)
	server := newTestServer(t)
	dep := assets.NewHandle()
	f := newFakeAsset(assets.KindMesh)
	f.deps = []assets.Handle{dep}
	f.ready.Store(false)
	p := newFakePipeline(t, dev, server, f)

	skipped := core.MetricsCounters().ExtractionsSkipped.Load()
	h := server.Add(assets.KindMesh, "mesh")
	assert.Zero(t, p.Extract())
	assert.Equal(t, skipped+1, core.MetricsCounters().ExtractionsSkipped.Load())
	assert.Equal(t, []assets.Handle{h}, p.Dependencies().Dependents(dep))

	// nothing changed, nothing to retry
	f.ready.Store(true)
	assert.Zero(t, p.Extract())

	p.Invalidate(dep)
	assert.Equal(t, 1, p.Extract())
	p.WaitIdle()
	assert.Equal(t, 1, p.Publish())
	require.NoError(t, p.Shutdown())
}

func TestDependencyEventsReExtractDependents(t *testing.T) {
	dev := newTestDevice(t)
	server := newTestServer(t)
	shader := server.Add(assets.KindShader, "raygen")
	f := newFakeAsset(assets.KindRayTracingPipeline)
	f.deps = []assets.Handle{shader}
	p := newFakePipeline(t, dev, server, f)
	p.DependsOn(assets.KindShader)

	h := server.Add(assets.KindRayTracingPipeline, "pipeline")
	assert.Equal(t, 1, p.Extract())

	server.Set(shader, assets.KindShader, "raygen v2")
	assert.Equal(t, 1, p.Extract())
	// unrelated shaders do not touch it
	server.Add(assets.KindShader, "miss")
	assert.Zero(t, p.Extract())

	p.WaitIdle()
	assert.Equal(t, 2, p.Publish())
	_, ok := p.Prepared().Get(h)
	assert.True(t, ok)
	require.NoError(t, p.Shutdown())
}

func TestFatalPrepareStopsOnlyItsPipeline(t *testing.T) {
	dev := newTestDevice(t)
	server := newTestServer(t)
	textures := newFakePipeline(t, dev, server, newFakeAsset(assets.KindTexture))
	meshes := newFakePipeline(t, dev, server, newFakeAsset(assets.KindMesh))

	server.Add(assets.KindTexture, "fatal")
	require.Equal(t, 1, textures.Extract())
	textures.WaitIdle()
	assert.True(t, textures.Stopped())

	server.Add(assets.KindTexture, "after")
	assert.Zero(t, textures.Extract())
	assert.Zero(t, textures.Publish())

	m := server.Add(assets.KindMesh, "mesh")
	require.Equal(t, 1, meshes.Extract())
	meshes.WaitIdle()
	assert.Equal(t, 1, meshes.Publish())
	assert.False(t, meshes.Stopped())
	_, ok := meshes.Prepared().Get(m)
	assert.True(t, ok)

	require.NoError(t, textures.Shutdown())
	require.NoError(t, meshes.Shutdown())
}

func TestNonFatalPrepareErrorKeepsTheWorker(t *testing.T) {
	dev := newTestDevice(t)
	server := newTestServer(t)
	p := newFakePipeline(t, dev, server, newFakeAsset(assets.KindTexture))

	server.Add(assets.KindTexture, "bad")
	ok := server.Add(assets.KindTexture, "ok")
	assert.Equal(t, 2, p.Extract())
	p.WaitIdle()
	assert.False(t, p.Stopped())
	assert.Equal(t, 1, p.Publish())
	_, found := p.Prepared().Get(ok)
	assert.True(t, found)
	require.NoError(t, p.Shutdown())
}

func TestShutdownReleasesCommandContext(t *testing.T) {
	dev := newTestDevice(t)
	server := newTestServer(t)
	pools := dev.backend.Stats().CommandPools
	p := newFakePipeline(t, dev, server, newFakeAsset(assets.KindTexture))
	assert.Equal(t, pools+1, dev.backend.Stats().CommandPools)
	require.NoError(t, p.Shutdown())
	assert.Equal(t, pools, dev.backend.Stats().CommandPools)
}
