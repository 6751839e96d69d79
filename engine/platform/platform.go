package platform

import (
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/spaghettifunk/anima-rt/engine/core"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

/**
 * @brief Owns the process wide pieces the Vulkan backend needs before it can
 * create an instance: which loader resolves vkGetInstanceProcAddr, and the
 * optional window frames are sized against. The window never presents; it
 * only reports its framebuffer size and close requests.
 */
type Platform struct {
	loader    string
	glfwReady bool

	Window *glfw.Window
	// Set by the framebuffer size callback, cleared by TakeResized.
	resized bool
	closing bool
}

func New(loader string) (*Platform, error) {
	switch loader {
	case core.LoaderLinked, core.LoaderSystem, core.LoaderGLFW:
	default:
		return nil, core.Wrapf(core.ErrUnknownVulkanLoader, "%q", loader)
	}
	return &Platform{loader: loader}, nil
}

// Loader names where vkGetInstanceProcAddr comes from.
func (p *Platform) Loader() string {
	return p.loader
}

// Startup initializes GLFW when the loader or a window needs it, and opens
// the window when withWindow is set.
func (p *Platform) Startup(applicationName string, width, height uint32, withWindow bool) error {
	if p.loader != core.LoaderGLFW && !withWindow {
		return nil
	}
	if err := glfw.Init(); err != nil {
		core.LogError("failed to initialize glfw: %s", err)
		return core.Wrap(err, "initializing glfw")
	}
	p.glfwReady = true

	if !glfw.VulkanSupported() {
		return core.Wrap(core.ErrMissingCapability, "glfw found no vulkan loader")
	}
	if !withWindow {
		return nil
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		core.LogError("failed to create window: %s", err)
		return core.Wrap(err, "creating window")
	}
	p.Window = window

	p.Window.SetFramebufferSizeCallback(p.framebufferSizeCallback)
	p.Window.SetCloseCallback(p.closeCallback)
	p.Window.Show()
	return nil
}

// InstanceProcAddr returns GLFW's vkGetInstanceProcAddr, or nil when GLFW is
// not the loader.
func (p *Platform) InstanceProcAddr() unsafe.Pointer {
	if p.loader != core.LoaderGLFW || !p.glfwReady {
		return nil
	}
	return glfw.GetVulkanGetInstanceProcAddress()
}

// FramebufferSize reports the window's framebuffer size in pixels.
func (p *Platform) FramebufferSize() (uint32, uint32) {
	if p.Window == nil {
		return 0, 0
	}
	w, h := p.Window.GetFramebufferSize()
	return uint32(w), uint32(h)
}

// TakeResized reports whether the framebuffer changed size since the last call.
func (p *Platform) TakeResized() bool {
	r := p.resized
	p.resized = false
	return r
}

func (p *Platform) ShouldClose() bool {
	if p.Window == nil {
		return p.closing
	}
	return p.closing || p.Window.ShouldClose()
}

func (p *Platform) PumpMessages() {
	if p.Window != nil {
		glfw.PollEvents()
	}
}

func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
	}
	if p.glfwReady {
		glfw.Terminate()
		p.glfwReady = false
	}
	return nil
}

func (p *Platform) framebufferSizeCallback(w *glfw.Window, width, height int) {
	core.LogDebug("framebuffer resized to %dx%d", width, height)
	p.resized = true
}

func (p *Platform) closeCallback(w *glfw.Window) {
	p.closing = true
}
