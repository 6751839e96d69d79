package systems

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rt/engine/assets"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/headless"
)

const testScene = `
[pipeline]
raygen = "shaders/raygen.rgen.spv"
miss = "shaders/miss.rmiss.spv"
closest_hit = "shaders/triangle.rchit.spv"
sphere_closest_hit = "shaders/sphere.rchit.spv"
sphere_intersection = "shaders/sphere.rint.spv"

[camera]
position = [0.0, 1.0, 4.0]

[[mesh]]
path = "models/tri.obj"
translation = [1.0, 0.0, 0.0]

[[sphere]]
center = [-1.0, 0.0, 0.0]
radius = 0.5
`

const testOBJ = `
v 0 0 0
v 1 0 0
v 0 1 0
vt 0 0
vt 1 0
vt 0 1
usemtl red
f 1/1 2/2 3/3
`

const testMaterials = `
[materials.red]
diffuse_texture = "textures/red.png"
roughness = 0.4
`

func writeAsset(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, data, 0o644))
}

func writeTestAssets(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeAsset(t, root, "scenes/test.scene.toml", []byte(testScene))
	writeAsset(t, root, "models/tri.obj", []byte(testOBJ))
	writeAsset(t, root, "models/tri.materials.toml", []byte(testMaterials))

	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < 16; i++ {
		img.Set(i%4, i/4, color.NRGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	writeAsset(t, root, "textures/red.png", buf.Bytes())

	for _, name := range []string{"raygen.rgen.spv", "miss.rmiss.spv", "triangle.rchit.spv", "sphere.rchit.spv", "sphere.rint.spv"} {
		writeAsset(t, root, "shaders/"+name, spirv(0x00010500))
	}
	return root
}

func newTestManager(t *testing.T) (*SystemManager, *headless.Backend, *OffscreenTarget) {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.Engine.Width, cfg.Engine.Height = 64, 32
	cfg.Engine.FramesInFlight = 2
	cfg.Renderer.Backend = core.BackendHeadless
	cfg.Renderer.MaxBindlessImages = 16
	cfg.Assets.Root = writeTestAssets(t)
	cfg.Assets.Scene = "scenes/test.scene.toml"
	cfg.Assets.Watch = false
	require.NoError(t, cfg.Validate())

	backend := headless.New()
	target := NewOffscreenTarget(cfg.Engine.Width, cfg.Engine.Height)
	sm, err := NewSystemManager(cfg, backend, target)
	require.NoError(t, err)
	require.NoError(t, sm.Load(context.Background()))
	return sm, backend, target
}

// runFrames runs frames until done holds.
func runFrames(t *testing.T, sm *SystemManager, done func() bool) {
	t.Helper()
	for i := 0; i < 50; i++ {
		_, err := sm.Frame()
		require.NoError(t, err)
		sm.WaitIdle()
		if done() {
			return
		}
	}
	t.Fatal("frames never reached the expected state")
}

func TestFramesTraceTheLoadedScene(t *testing.T) {
	sm, backend, target := newTestManager(t)

	runFrames(t, sm, func() bool { return len(sm.Scene.Instances()) == 2 && len(backend.TraceRays()) > 0 })
	_, err := sm.Frame()
	require.NoError(t, err)

	traces := backend.TraceRays()
	last := traces[len(traces)-1]
	assert.Equal(t, uint32(64), last.Width)
	assert.Equal(t, uint32(32), last.Height)
	assert.Len(t, last.PushConstants, PushConstantSize)
	assert.Empty(t, backend.Violations())
	assert.NotZero(t, target.Presented)

	pipeline, ok := sm.Pipeline()
	require.True(t, ok)
	assert.Equal(t, pipeline.Pipeline, last.Pipeline)
	tlas, ok := backend.DescriptorAccelerationStructure(pipeline.Descriptors.Set, TLASBinding)
	require.True(t, ok)
	assert.Equal(t, sm.Scene.TLAS().Handle(), tlas)
	view, ok := backend.DescriptorImage(pipeline.Descriptors.Set, OutputImageBinding, 0)
	require.True(t, ok)
	assert.Equal(t, sm.Render.Output().View, view)

	// the sphere comes first and uses the first hit record
	instances := sm.Scene.Instances()
	assert.Equal(t, uint32(0), instances[0].CustomIndex())
	assert.Equal(t, uint32(1), instances[1].CustomIndex())
	assert.Equal(t, uint32(0), instances[0].SBTRecordOffset())
	offset, ok := sm.SBT.HitOffset(assets.HandleForPath("models/tri.obj"))
	require.True(t, ok)
	assert.Equal(t, uint32(1), offset)

	require.NoError(t, sm.Shutdown())
	require.NoError(t, sm.Shutdown())
	assert.Zero(t, backend.LiveObjects())
	assert.Empty(t, backend.Violations())
}

func TestResizedTargetGetsANewOutput(t *testing.T) {
	sm, backend, target := newTestManager(t)
	runFrames(t, sm, func() bool { return len(backend.TraceRays()) > 0 })
	before := sm.Render.Output()

	target.Resize(32, 16)
	runFrames(t, sm, func() bool {
		traces := backend.TraceRays()
		return traces[len(traces)-1].Width == 32
	})

	after := sm.Render.Output()
	assert.NotEqual(t, before.Handle, after.Handle)
	assert.Equal(t, uint64(2), sm.Render.Resizes)
	w, h := sm.Render.Extent()
	assert.Equal(t, [2]uint32{32, 16}, [2]uint32{w, h})

	pipeline, _ := sm.Pipeline()
	view, ok := backend.DescriptorImage(pipeline.Descriptors.Set, OutputImageBinding, 0)
	require.True(t, ok)
	assert.Equal(t, after.View, view)

	require.NoError(t, sm.Shutdown())
	assert.Zero(t, backend.LiveObjects())
	assert.Empty(t, backend.Violations())
}

func TestEditedShaderRebuildsThePipeline(t *testing.T) {
	sm, backend, _ := newTestManager(t)
	runFrames(t, sm, func() bool { return len(backend.TraceRays()) > 0 })
	first, _ := sm.Pipeline()
	firstPipeline := first.Pipeline

	writeAsset(t, sm.Assets.Root(), "shaders/miss.rmiss.spv", spirv(0x00010600))
	sm.Assets.Notify("shaders/miss.rmiss.spv")
	runFrames(t, sm, func() bool {
		p, ok := sm.Pipeline()
		if !ok || p.Pipeline == firstPipeline {
			return false
		}
		traces := backend.TraceRays()
		return traces[len(traces)-1].Pipeline == p.Pipeline
	})

	// the superseded pipeline leaves once the frames in flight are done
	for i := 0; i < 3; i++ {
		_, err := sm.Frame()
		require.NoError(t, err)
	}
	sm.Queue.Sync()
	assert.Equal(t, 1, backend.Stats().Pipelines)
	assert.Empty(t, backend.Violations())

	require.NoError(t, sm.Shutdown())
	assert.Zero(t, backend.LiveObjects())
}

func TestLoadFailsWithoutTheScene(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Renderer.Backend = core.BackendHeadless
	cfg.Renderer.MaxBindlessImages = 4
	cfg.Assets.Root = t.TempDir()
	cfg.Assets.Scene = "scenes/missing.scene.toml"
	cfg.Assets.Watch = false

	backend := headless.New()
	sm, err := NewSystemManager(cfg, backend, NewOffscreenTarget(8, 8))
	require.NoError(t, err)
	assert.ErrorIs(t, sm.Load(context.Background()), core.ErrAssetNotFound)

	traced, err := sm.Frame()
	require.NoError(t, err)
	assert.False(t, traced)

	require.NoError(t, sm.Shutdown())
	assert.Zero(t, backend.LiveObjects())
}
