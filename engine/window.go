package engine

import (
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/platform"
	"github.com/spaghettifunk/anima-rt/engine/renderer"
)

/**
 * @brief Sizes the render output after the platform window. The window
 * itself is never presented to; a resize makes the next Present report the
 * target as out of date so the output is recreated.
 */
type WindowTarget struct {
	platform  *platform.Platform
	Presented uint64
}

func NewWindowTarget(p *platform.Platform) *WindowTarget {
	return &WindowTarget{platform: p}
}

// Extent never reports a zero side, a minimized window keeps a 1x1 output.
func (t *WindowTarget) Extent() (uint32, uint32) {
	w, h := t.platform.FramebufferSize()
	return max(w, 1), max(h, 1)
}

func (t *WindowTarget) Present(output renderer.Image) error {
	if t.platform.TakeResized() {
		return core.ErrTargetOutOfDate
	}
	w, h := t.Extent()
	if output.Width != w || output.Height != h {
		return core.ErrTargetSuboptimal
	}
	t.Presented++
	return nil
}
