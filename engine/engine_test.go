package engine

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rt/engine/assets/loaders"
	"github.com/spaghettifunk/anima-rt/engine/core"
)

const sphereScene = `
[pipeline]
raygen = "shaders/raygen.rgen.spv"
miss = "shaders/miss.rmiss.spv"
closest_hit = "shaders/triangle.rchit.spv"
sphere_closest_hit = "shaders/sphere.rchit.spv"
sphere_intersection = "shaders/sphere.rint.spv"

[camera]
position = [0.0, 0.0, 3.0]

[[sphere]]
center = [0.0, 0.0, 0.0]
radius = 0.5
`

func writeAssets(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	write := func(rel string, data []byte) {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, data, 0o644))
	}
	write("scenes/sphere.scene.toml", []byte(sphereScene))

	words := []uint32{loaders.SPIRVMagic, 0x00010500, 0, 8, 0}
	module := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(module[i*4:], w)
	}
	for _, name := range []string{"raygen.rgen.spv", "miss.rmiss.spv", "triangle.rchit.spv", "sphere.rchit.spv", "sphere.rint.spv"} {
		write("shaders/"+name, module)
	}
	return root
}

func headlessGame(t *testing.T, frames uint64) (*Game, *[3]int) {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.Engine.Width, cfg.Engine.Height = 32, 16
	cfg.Engine.FrameLimit = frames
	cfg.Renderer.Backend = core.BackendHeadless
	cfg.Renderer.MaxBindlessImages = 8
	cfg.Assets.Root = writeAssets(t)
	cfg.Assets.Scene = "scenes/sphere.scene.toml"
	cfg.Assets.Watch = false

	calls := &[3]int{}
	g := &Game{ApplicationConfig: &ApplicationConfig{Config: cfg}}
	g.FnInitialize = func() error {
		calls[0]++
		return nil
	}
	g.FnUpdate = func(float64) error {
		// keep the asset workers in step with the frames
		g.SystemManager.WaitIdle()
		return nil
	}
	g.FnRender = func(traced bool, _ float64) error {
		if traced {
			calls[1]++
		}
		return nil
	}
	g.FnOnResize = func(w, h uint32) error {
		calls[2]++
		return nil
	}
	return g, calls
}

func TestHeadlessRunStopsAtFrameLimit(t *testing.T) {
	g, calls := headlessGame(t, 12)
	e, err := New(g)
	require.NoError(t, err)
	require.NoError(t, e.Initialize(context.Background()))
	assert.Equal(t, EngineStageInitialized, e.Stage())

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 1, calls[0])
	assert.Positive(t, calls[1])
	assert.Equal(t, uint64(calls[1]), e.FramesTraced)
	// only the initial extent, an offscreen target never resizes
	assert.Equal(t, 1, calls[2])

	w, h := e.GetFramebufferSize()
	assert.Equal(t, [2]uint32{32, 16}, [2]uint32{w, h})

	require.NoError(t, e.Shutdown())
	assert.Equal(t, EngineStageUninitialized, e.Stage())
}

func TestCancelledRunReturnsImmediately(t *testing.T) {
	g, calls := headlessGame(t, 0)
	e, err := New(g)
	require.NoError(t, err)
	require.NoError(t, e.Initialize(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Run(ctx))
	assert.Zero(t, calls[1])
	require.NoError(t, e.Shutdown())
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Renderer.Backend = "metal"
	_, err := New(&Game{ApplicationConfig: &ApplicationConfig{Config: cfg}})
	assert.ErrorIs(t, err, core.ErrUnknownBackend)
}
