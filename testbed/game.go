package testbed

import (
	"github.com/spaghettifunk/anima-rt/engine"
	"github.com/spaghettifunk/anima-rt/engine/core"
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	width  uint32
	height uint32

	traced        uint64
	waiting       uint64
	sinceFPSPrint float64
}

// NewTestGame wraps the demo scene named in cfg. With window set the output
// follows the window's framebuffer size.
func NewTestGame(cfg *core.Config, window bool) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: &engine.ApplicationConfig{
				Config: cfg,
				Window: window,
			},
			State: &gameState{},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize() error {
	core.LogInfo("testbed initialized, scene %s", g.ApplicationConfig.Config.Assets.Scene)
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	s := g.state()
	s.sinceFPSPrint += deltaTime
	if s.sinceFPSPrint >= 1.0 {
		s.sinceFPSPrint = 0
		core.LogInfo("%.1f fps, %.2f ms per frame, %d traced, %d waiting on assets",
			core.MetricsFPS(), core.MetricsFrameTime(), s.traced, s.waiting)
	}
	return nil
}

func (g *TestGame) Render(traced bool, deltaTime float64) error {
	s := g.state()
	if traced {
		s.traced++
	} else {
		s.waiting++
	}
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	s := g.state()
	s.width, s.height = width, height
	core.LogDebug("testbed output is %dx%d", width, height)
	return nil
}

func (g *TestGame) Shutdown() error {
	s := g.state()
	core.LogInfo("testbed traced %d frames, %d frames waited on assets", s.traced, s.waiting)
	return nil
}
