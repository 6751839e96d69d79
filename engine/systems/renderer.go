package systems

import (
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// OutputFormat is the format of the image the raygen shader writes.
const OutputFormat = metadata.FormatR8G8B8A8Unorm

/**
 * @brief Where finished frames go. Present reports core.ErrTargetOutOfDate
 * or core.ErrTargetSuboptimal when the target changed size; the renderer
 * then recreates its output at the new Extent.
 */
type PresentTarget interface {
	Extent() (width, height uint32)
	Present(output renderer.Image) error
}

/**
 * @brief A target that only keeps track of its extent. Resizing it makes
 * the next Present report the target as out of date.
 */
type OffscreenTarget struct {
	width     uint32
	height    uint32
	outOfDate bool
	Presented uint64
}

func NewOffscreenTarget(width, height uint32) *OffscreenTarget {
	return &OffscreenTarget{width: width, height: height}
}

func (t *OffscreenTarget) Extent() (uint32, uint32) {
	return t.width, t.height
}

func (t *OffscreenTarget) Resize(width, height uint32) {
	if width != t.width || height != t.height {
		t.width, t.height = width, height
		t.outOfDate = true
	}
}

func (t *OffscreenTarget) Present(output renderer.Image) error {
	if t.outOfDate || output.Width != t.width || output.Height != t.height {
		t.outOfDate = false
		return core.ErrTargetOutOfDate
	}
	t.Presented++
	return nil
}

/**
 * @brief Owns the output storage image and the frame command context, and
 * records one trace over the output per frame.
 */
type RenderSystem struct {
	rd     *renderer.RenderDevice
	queue  *renderer.DestructionQueue
	target PresentTarget
	cmds   *renderer.CommandContext
	output renderer.Image

	// the descriptor set the output was last written to
	boundSet    metadata.DescriptorSetHandle
	FrameNumber uint64
	Resizes     uint64
}

func NewRenderSystem(rd *renderer.RenderDevice, q *renderer.DestructionQueue, target PresentTarget) (*RenderSystem, error) {
	cmds, err := rd.NewCommandContext("frame")
	if err != nil {
		return nil, err
	}
	rs := &RenderSystem{rd: rd, queue: q, target: target, cmds: cmds}
	if err := rs.resize(target.Extent()); err != nil {
		cmds.Destroy()
		return nil, err
	}
	return rs, nil
}

func (rs *RenderSystem) Output() renderer.Image {
	return rs.output
}

func (rs *RenderSystem) Extent() (uint32, uint32) {
	return rs.output.Width, rs.output.Height
}

// resize replaces the output image. The old one may still be read by the
// frame in flight, so it goes through the destruction queue.
func (rs *RenderSystem) resize(width, height uint32) error {
	rs.output.Release(rs.queue)
	rs.boundSet = 0
	img, err := renderer.CreateImage(rs.rd, metadata.ImageCreateInfo{
		Width:  width,
		Height: height,
		Format: OutputFormat,
		Usage:  metadata.ImageUsageStorage | metadata.ImageUsageTransferSrc,
	})
	if err != nil {
		return core.Wrapf(err, "creating %dx%d output image", width, height)
	}
	rs.output = img
	rs.Resizes++
	core.LogInfo("render output is now %dx%d", width, height)
	return nil
}

// BeginFrame waits for the previous frame to leave the GPU.
func (rs *RenderSystem) BeginFrame() error {
	return rs.cmds.Wait()
}

/**
 * @brief Records and submits the trace of one frame. It does not wait; the
 * next BeginFrame does.
 */
func (rs *RenderSystem) Trace(p *PreparedPipeline, raygen, miss, hit metadata.StridedDeviceAddressRegion, pushConstants []byte) error {
	if rs.output.IsNull() {
		return nil
	}
	backend := rs.rd.Backend()
	if rs.boundSet != p.Descriptors.Set {
		backend.WriteDescriptorImage(p.Descriptors.Set, OutputImageBinding, 0, metadata.DescriptorTypeStorageImage,
			rs.output.View, 0, metadata.ImageLayoutGeneral)
		rs.boundSet = p.Descriptors.Set
	}

	cmd, err := rs.cmds.Begin()
	if err != nil {
		return err
	}
	if rs.output.Layout != metadata.ImageLayoutGeneral {
		rs.output.Transition(rs.rd, cmd, metadata.ImageLayoutGeneral)
	}
	backend.CmdTraceRays(cmd, metadata.TraceRaysInfo{
		Pipeline:      p.Pipeline,
		Layout:        p.Layout,
		DescriptorSet: p.Descriptors.Set,
		PushConstants: pushConstants,
		Raygen:        raygen,
		Miss:          miss,
		Hit:           hit,
		Width:         rs.output.Width,
		Height:        rs.output.Height,
		Depth:         1,
	})
	if err := rs.cmds.Submit(); err != nil {
		return err
	}
	rs.FrameNumber++
	core.MetricsCounters().FramesTraced.Add(1)
	return nil
}

// Present hands the output to the target and resizes on a transient fault.
func (rs *RenderSystem) Present() error {
	err := rs.target.Present(rs.output)
	if err == nil {
		return nil
	}
	if !core.IsTransient(err) {
		return err
	}
	core.LogDebug("present target changed: %s", err.Error())
	return rs.resize(rs.target.Extent())
}

func (rs *RenderSystem) Shutdown() {
	rs.cmds.Destroy()
	rs.output.Release(rs.queue)
}
