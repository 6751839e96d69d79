package engine

import (
	"context"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/platform"
	"github.com/spaghettifunk/anima-rt/engine/renderer"
	"github.com/spaghettifunk/anima-rt/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

type Engine struct {
	currentStage  Stage
	gameInstance  *Game
	config        *core.Config
	platform      *platform.Platform
	backend       renderer.RendererBackend
	target        systems.PresentTarget
	systemManager *systems.SystemManager
	clock         *core.Clock
	lastTime      float64

	// FramesTraced counts frames that reached the GPU.
	FramesTraced uint64
	// Resizes of the render output the game was told about.
	resizes uint64
}

func New(g *Game) (*Engine, error) {
	cfg := g.ApplicationConfig.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p, err := platform.New(cfg.Renderer.Loader)
	if err != nil {
		return nil, err
	}

	backend, err := renderer.NewBackend(cfg.Renderer, p)
	if err != nil {
		return nil, err
	}

	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       cfg,
		platform:     p,
		backend:      backend,
		clock:        core.NewClock(),
	}, nil
}

// Stage reports how far the engine got in its lifecycle.
func (e *Engine) Stage() Stage {
	return e.currentStage
}

// Initialize starts the platform and every system, then loads the assets.
func (e *Engine) Initialize(ctx context.Context) error {
	e.currentStage = EngineStageInitializing
	if err := core.MetricsInitialize(); err != nil {
		return err
	}

	app := e.gameInstance.ApplicationConfig
	withWindow := app.Window && e.config.Renderer.Backend == core.BackendVulkan
	if err := e.platform.Startup(app.Name(), e.config.Engine.Width, e.config.Engine.Height, withWindow); err != nil {
		return err
	}

	if withWindow {
		e.target = NewWindowTarget(e.platform)
	} else {
		e.target = systems.NewOffscreenTarget(e.config.Engine.Width, e.config.Engine.Height)
	}

	sm, err := systems.NewSystemManager(e.config, e.backend, e.target)
	if err != nil {
		return err
	}
	e.systemManager = sm
	e.gameInstance.SystemManager = sm
	e.resizes = sm.Render.Resizes

	if err := sm.Load(ctx); err != nil {
		return err
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(); err != nil {
			return err
		}
	}
	if e.gameInstance.FnOnResize != nil {
		w, h := sm.Render.Extent()
		if err := e.gameInstance.FnOnResize(w, h); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

/**
 * @brief Runs frames until ctx is cancelled, the window closes or the
 * configured frame limit is reached. Presentation faults are absorbed by the
 * render system; anything else stops the loop.
 */
func (e *Engine) Run(ctx context.Context) error {
	e.currentStage = EngineStageRunning
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	limit := e.config.Engine.FrameLimit
	var frames uint64
	for {
		select {
		case <-ctx.Done():
			core.LogInfo("run cancelled after %d frames", frames)
			return nil
		default:
		}

		e.platform.PumpMessages()
		if e.platform.ShouldClose() {
			core.LogInfo("window closed, shutting down.")
			return nil
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				core.LogError("Game update failed, shutting down.")
				return err
			}
		}

		traced, err := e.systemManager.Frame()
		if err != nil {
			core.LogError("frame %d failed: %s", frames, err)
			return err
		}
		if traced {
			e.FramesTraced++
		}
		if err := e.notifyResize(); err != nil {
			return err
		}

		if e.gameInstance.FnRender != nil {
			if err := e.gameInstance.FnRender(traced, delta); err != nil {
				core.LogError("Game render failed, shutting down.")
				return err
			}
		}

		e.clock.Update()
		core.MetricsUpdate(e.clock.Elapsed() - currentTime)
		e.lastTime = currentTime

		frames++
		if limit > 0 && frames >= limit {
			core.LogInfo("frame limit of %d reached", limit)
			return nil
		}
	}
}

func (e *Engine) notifyResize() error {
	rs := e.systemManager.Render
	if rs.Resizes == e.resizes {
		return nil
	}
	e.resizes = rs.Resizes
	if e.gameInstance.FnOnResize == nil {
		return nil
	}
	w, h := rs.Extent()
	return e.gameInstance.FnOnResize(w, h)
}

// Shutdown releases the systems, then the platform. It is safe to call after
// a failed Initialize.
func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	var firstErr error
	if e.gameInstance.FnShutdown != nil {
		firstErr = e.gameInstance.FnShutdown()
	}
	if e.systemManager != nil {
		if err := e.systemManager.Shutdown(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.systemManager = nil
	}
	if err := e.platform.Shutdown(); err != nil && firstErr == nil {
		firstErr = err
	}
	core.LogInfo("engine stopped after %d traced frames (%.1f fps, %.2f ms avg)",
		e.FramesTraced, core.MetricsFPS(), core.MetricsFrameTime())
	e.currentStage = EngineStageUninitialized
	return firstErr
}

// GetFramebufferSize returns the width and height of the render output.
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	if e.systemManager == nil {
		return e.config.Engine.Width, e.config.Engine.Height
	}
	return e.systemManager.Render.Extent()
}
