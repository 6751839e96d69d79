package renderer

import (
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/platform"
	"github.com/spaghettifunk/anima-rt/engine/renderer/headless"
	"github.com/spaghettifunk/anima-rt/engine/renderer/vulkan"
)

var (
	_ RendererBackend = (*headless.Backend)(nil)
	_ RendererBackend = (*vulkan.VulkanRenderer)(nil)
)

// NewBackend picks the backend named in the configuration. The backend is
// not initialized yet.
func NewBackend(cfg core.RendererConfig, p *platform.Platform) (RendererBackend, error) {
	switch cfg.Backend {
	case core.BackendHeadless:
		return headless.New(), nil
	case core.BackendVulkan:
		return vulkan.New(p, cfg.Validation), nil
	}
	return nil, core.Wrapf(core.ErrUnknownBackend, "%q", cfg.Backend)
}
