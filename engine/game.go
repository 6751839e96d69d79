package engine

import (
	"github.com/spaghettifunk/anima-rt/engine/systems"
)

type Game struct {
	ApplicationConfig *ApplicationConfig
	// Set by the engine once the systems are up.
	SystemManager *systems.SystemManager
	State         interface{}
	FnInitialize  Initialize
	FnUpdate      Update
	FnRender      Render
	FnOnResize    OnResize
	FnShutdown    Shutdown
}

type Initialize func() error
type Update func(deltaTime float64) error

// Render runs after the frame was scheduled. traced is false while the scene
// is still being prepared.
type Render func(traced bool, deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
