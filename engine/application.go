package engine

import (
	"github.com/spaghettifunk/anima-rt/engine/core"
)

type ApplicationConfig struct {
	// Engine, renderer and asset settings, usually read from a TOML file.
	Config *core.Config
	// Open a window and size the render output after its framebuffer.
	// Without one frames are traced into an offscreen target.
	Window bool
}

// Name is the application name used for the window and the Vulkan instance.
func (ac *ApplicationConfig) Name() string {
	return ac.Config.Engine.Name
}
