package systems

import (
	"context"

	"github.com/spaghettifunk/anima-rt/engine/assets"
	"github.com/spaghettifunk/anima-rt/engine/assets/loaders"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
)

type (
	TexturePipeline    = AssetPipeline[*loaders.Texture, extractedTexture, *PreparedTexture]
	MeshPipeline       = AssetPipeline[*loaders.Mesh, extractedMesh, *PreparedMesh]
	RayTracingPipeline = AssetPipeline[*loaders.Pipeline, extractedPipeline, *PreparedPipeline]
)

/**
 * @brief Owns the device and every system built on it, and runs the frame
 * schedule. Everything here is driven from the main goroutine.
 */
type SystemManager struct {
	config *core.Config

	Device   *renderer.RenderDevice
	Queue    *renderer.DestructionQueue
	Bindless *renderer.BindlessTable
	Assets   *assets.Server
	Builder  *raytracing.Builder

	Textures  *TexturePipeline
	Meshes    *MeshPipeline
	Pipelines *RayTracingPipeline

	SBT    *SBTSystem
	Scene  *SceneSystem
	Camera *CameraSystem
	Render *RenderSystem

	pipelineHandle assets.Handle
	shutdown       bool
}

// NewSystemManager initializes backend and builds every system on top of it.
func NewSystemManager(cfg *core.Config, backend renderer.RendererBackend, target PresentTarget) (*SystemManager, error) {
	if err := backend.Initialize(cfg.Engine.Name, cfg.Engine.Width, cfg.Engine.Height); err != nil {
		return nil, core.Wrapf(err, "initializing %s backend", backend.Name())
	}
	sm := &SystemManager{
		config:         cfg,
		pipelineHandle: loaders.PipelineHandle(cfg.Assets.Scene),
	}
	if err := sm.initialize(backend, target); err != nil {
		if sm.Device != nil {
			_ = sm.Shutdown()
		} else {
			_ = backend.Shutdown()
		}
		return nil, err
	}
	return sm, nil
}

func (sm *SystemManager) initialize(backend renderer.RendererBackend, target PresentTarget) error {
	cfg := sm.config
	var err error
	if sm.Device, err = renderer.NewRenderDevice(backend); err != nil {
		return err
	}
	sm.Queue = renderer.NewDestructionQueue(sm.Device, int(cfg.Engine.FramesInFlight))
	if sm.Bindless, err = renderer.NewBindlessTable(sm.Device, cfg.Renderer.BindlessBinding, cfg.Renderer.MaxBindlessImages); err != nil {
		return err
	}
	if sm.Assets, err = assets.NewServer(cfg.Assets); err != nil {
		return err
	}
	if err := loaders.Register(sm.Assets, cfg.Assets); err != nil {
		return err
	}
	sm.Builder = raytracing.NewBuilder(sm.Device)

	if sm.Textures, err = NewAssetPipeline(NewTextureAsset(sm.Bindless), sm.Assets, sm.Device, sm.Queue); err != nil {
		return err
	}
	if sm.Meshes, err = NewAssetPipeline(NewMeshAsset(sm.Builder, sm.Textures.Prepared()), sm.Assets, sm.Device, sm.Queue); err != nil {
		return err
	}
	if sm.Pipelines, err = NewAssetPipeline(NewRayTracingPipelineAsset(sm.Assets, sm.Bindless), sm.Assets, sm.Device, sm.Queue); err != nil {
		return err
	}
	// a texture only gets its slot once prepared; meshes waiting on it retry then
	sm.Textures.OnPublish(sm.Meshes.Invalidate)
	sm.Pipelines.DependsOn(assets.KindShader)

	sm.SBT = NewSBTSystem(sm.Device, sm.Queue, sm.Meshes.Prepared())
	if sm.Scene, err = NewSceneSystem(sm.Device, sm.Queue, sm.Assets, sm.Builder, sm.Meshes.Prepared(), sm.SBT, cfg.Assets.Scene); err != nil {
		return err
	}
	if sm.Camera, err = NewCameraSystem(sm.Device); err != nil {
		return err
	}
	if sm.Render, err = NewRenderSystem(sm.Device, sm.Queue, target); err != nil {
		return err
	}
	return nil
}

// Load reads every asset under the asset root and starts watching it when
// hot reload is enabled.
func (sm *SystemManager) Load(ctx context.Context) error {
	n, err := sm.Assets.LoadAll(ctx)
	if err != nil {
		return err
	}
	core.LogInfo("loaded %d assets from %s", n, sm.Assets.Root())
	if _, ok := sm.Scene.Scene(); !ok {
		return core.Wrapf(core.ErrAssetNotFound, "scene %s", sm.config.Assets.Scene)
	}
	if sm.config.Assets.Watch {
		return sm.Assets.Watch()
	}
	return nil
}

// Pipeline is the prepared pipeline of the active scene.
func (sm *SystemManager) Pipeline() (*PreparedPipeline, bool) {
	return sm.Pipelines.Prepared().Get(sm.pipelineHandle)
}

/**
 * @brief Runs one frame. Reports whether a trace was submitted: nothing is
 * traced until the pipeline and at least one instance are ready.
 */
func (sm *SystemManager) Frame() (bool, error) {
	if err := sm.Render.BeginFrame(); err != nil {
		return false, err
	}
	sm.Queue.NextFrame()

	sm.Assets.Pump()
	sm.Textures.Update()
	sm.Meshes.Update()
	sm.Pipelines.Update()

	pipeline, ok := sm.Pipeline()
	if !ok {
		return false, nil
	}
	if _, err := sm.SBT.Update(pipeline); err != nil {
		return false, err
	}
	ready, err := sm.Scene.Update(pipeline.Descriptors.Set)
	if err != nil || !ready {
		return false, err
	}

	if scene, ok := sm.Scene.Scene(); ok {
		sm.Camera.SetCamera(scene.Camera)
	}
	if err := sm.Camera.Update(sm.Render.Extent()); err != nil {
		return false, err
	}

	table := sm.SBT.Table()
	if err := sm.Render.Trace(pipeline, table.Raygen, table.Miss, table.Hit, sm.Camera.PushConstants()); err != nil {
		return false, err
	}
	if err := sm.Render.Present(); err != nil {
		return true, err
	}
	return true, nil
}

// WaitIdle blocks until every asset worker finished what was extracted.
func (sm *SystemManager) WaitIdle() {
	sm.Textures.WaitIdle()
	sm.Meshes.WaitIdle()
	sm.Pipelines.WaitIdle()
}

/**
 * @brief Waits for the device, routes every GPU object through the
 * destruction queue, flushes it and shuts the device down.
 */
func (sm *SystemManager) Shutdown() error {
	if sm.shutdown {
		return nil
	}
	sm.shutdown = true
	if err := sm.Device.WaitIdle(); err != nil {
		core.LogError(err.Error())
	}

	if sm.Render != nil {
		sm.Render.Shutdown()
	}
	if sm.Pipelines != nil {
		logShutdown(sm.Pipelines.Shutdown())
	}
	if sm.Meshes != nil {
		logShutdown(sm.Meshes.Shutdown())
	}
	if sm.Textures != nil {
		logShutdown(sm.Textures.Shutdown())
	}
	if sm.Scene != nil {
		sm.Scene.Shutdown()
	}
	if sm.SBT != nil {
		sm.SBT.Shutdown()
	}
	if sm.Camera != nil {
		sm.Camera.Shutdown(sm.Queue)
	}
	if sm.Bindless != nil {
		sm.Bindless.Destroy(sm.Queue)
	}
	if sm.Queue != nil {
		sm.Queue.Shutdown()
	}
	if sm.Assets != nil {
		logShutdown(sm.Assets.Close())
	}
	core.LogCounters()
	return sm.Device.Shutdown()
}

func logShutdown(err error) {
	if err != nil {
		core.LogError(err.Error())
	}
}
