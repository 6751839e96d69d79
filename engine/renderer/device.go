package renderer

import (
	"slices"
	"sync"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

/**
 * @brief Owns the backend and everything that has to be shared between the
 * main thread, the asset workers and the destruction worker: the
 * buffer/image allocation maps and the queue.
 */
type RenderDevice struct {
	backend RendererBackend
	props   metadata.DeviceProperties

	// Guards the allocation maps. Mapping a known buffer only needs the
	// read side; inserts and removals take the write side.
	mu      sync.RWMutex
	buffers map[metadata.BufferHandle]metadata.Allocation
	images  map[metadata.ImageHandle]metadata.Allocation

	// Every submission goes through here.
	queueMu sync.Mutex

	main *CommandContext
}

func NewRenderDevice(backend RendererBackend) (*RenderDevice, error) {
	rd := &RenderDevice{
		backend: backend,
		props:   backend.Properties(),
		buffers: map[metadata.BufferHandle]metadata.Allocation{},
		images:  map[metadata.ImageHandle]metadata.Allocation{},
	}
	if err := rd.checkCapabilities(); err != nil {
		return nil, err
	}
	main, err := rd.NewCommandContext("main")
	if err != nil {
		return nil, err
	}
	rd.main = main
	core.LogInfo("render device ready on %s (%s)", rd.props.DeviceName, backend.Name())
	return rd, nil
}

func (rd *RenderDevice) checkCapabilities() error {
	rt := rd.props.RayTracing
	if rt.ShaderGroupHandleSize != metadata.GroupHandleSize {
		return core.Wrapf(core.ErrMissingCapability, "shader group handle size %d", rt.ShaderGroupHandleSize)
	}
	for name, v := range map[string]uint32{
		"shader group handle alignment": rt.ShaderGroupHandleAlignment,
		"shader group base alignment":   rt.ShaderGroupBaseAlignment,
		"scratch offset alignment":      rd.props.AccelerationStructure.MinAccelerationStructureScratchOffsetAlignment,
	} {
		if v == 0 || v&(v-1) != 0 {
			return core.Wrapf(core.ErrMissingCapability, "%s %d is not a power of two", name, v)
		}
	}
	return nil
}

func (rd *RenderDevice) Backend() RendererBackend {
	return rd.backend
}

func (rd *RenderDevice) Properties() metadata.DeviceProperties {
	return rd.props
}

// MainContext is the single-shot command context of the main thread.
func (rd *RenderDevice) MainContext() *CommandContext {
	return rd.main
}

// Submit hands a recorded command buffer to the queue.
func (rd *RenderDevice) Submit(cmd metadata.CommandBufferHandle, fence metadata.FenceHandle) error {
	rd.queueMu.Lock()
	defer rd.queueMu.Unlock()
	return rd.backend.QueueSubmit(cmd, fence)
}

// WaitIdle blocks until the device finished all submitted work.
func (rd *RenderDevice) WaitIdle() error {
	rd.queueMu.Lock()
	defer rd.queueMu.Unlock()
	return rd.backend.DeviceWaitIdle()
}

func (rd *RenderDevice) allocateBuffer(size uint64, usage metadata.BufferUsageFlags, location metadata.MemoryLocation) (metadata.BufferHandle, metadata.DeviceAddress, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()

	handle, reqs, err := rd.backend.CreateBuffer(size, usage)
	if err != nil {
		return metadata.NullBuffer, 0, core.Wrapf(err, "creating buffer of %d bytes", size)
	}
	deviceAddress := usage&metadata.BufferUsageShaderDeviceAddress != 0
	alloc, err := rd.backend.AllocateMemory(reqs, location, deviceAddress)
	if err != nil {
		rd.backend.DestroyBuffer(handle)
		return metadata.NullBuffer, 0, core.Wrapf(err, "allocating %d bytes of %s memory", reqs.Size, location)
	}
	if err := rd.backend.BindBufferMemory(handle, alloc); err != nil {
		rd.backend.DestroyBuffer(handle)
		rd.backend.FreeMemory(alloc)
		return metadata.NullBuffer, 0, core.Wrap(err, "binding buffer memory")
	}
	rd.buffers[handle] = alloc

	var address metadata.DeviceAddress
	if deviceAddress {
		address = rd.backend.BufferDeviceAddress(handle)
	}
	return handle, address, nil
}

// DestroyBuffer frees a buffer and its allocation together.
func (rd *RenderDevice) DestroyBuffer(handle metadata.BufferHandle) {
	if handle == metadata.NullBuffer {
		return
	}
	rd.mu.Lock()
	defer rd.mu.Unlock()
	alloc, ok := rd.buffers[handle]
	if !ok {
		core.LogWarn("destroying untracked buffer %d", handle)
	}
	rd.backend.DestroyBuffer(handle)
	rd.backend.FreeMemory(alloc)
	delete(rd.buffers, handle)
}

func (rd *RenderDevice) mapBuffer(handle metadata.BufferHandle) ([]byte, error) {
	rd.mu.RLock()
	defer rd.mu.RUnlock()
	alloc, ok := rd.buffers[handle]
	if !ok {
		return nil, core.Wrapf(core.ErrNullResource, "buffer %d", handle)
	}
	if alloc.Location != metadata.MemoryLocationHostVisible {
		return nil, core.Assertf("mapping buffer %d: %v", handle, core.ErrNotHostVisible)
	}
	return rd.backend.MappedMemory(alloc)
}

func (rd *RenderDevice) allocateImage(info metadata.ImageCreateInfo) (metadata.ImageHandle, metadata.ImageViewHandle, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()

	handle, reqs, err := rd.backend.CreateImage(info)
	if err != nil {
		return metadata.NullImage, metadata.NullImageView, core.Wrapf(err, "creating %dx%d %s image", info.Width, info.Height, info.Format)
	}
	alloc, err := rd.backend.AllocateMemory(reqs, metadata.MemoryLocationDeviceLocal, false)
	if err != nil {
		rd.backend.DestroyImage(handle)
		return metadata.NullImage, metadata.NullImageView, core.Wrap(err, "allocating image memory")
	}
	if err := rd.backend.BindImageMemory(handle, alloc); err != nil {
		rd.backend.DestroyImage(handle)
		rd.backend.FreeMemory(alloc)
		return metadata.NullImage, metadata.NullImageView, core.Wrap(err, "binding image memory")
	}
	view, err := rd.backend.CreateImageView(handle, info.Format)
	if err != nil {
		rd.backend.DestroyImage(handle)
		rd.backend.FreeMemory(alloc)
		return metadata.NullImage, metadata.NullImageView, core.Wrap(err, "creating image view")
	}
	rd.images[handle] = alloc
	return handle, view, nil
}

// DestroyImage frees an image and its allocation together. The view must
// already be gone.
func (rd *RenderDevice) DestroyImage(handle metadata.ImageHandle) {
	if handle == metadata.NullImage {
		return
	}
	rd.mu.Lock()
	defer rd.mu.Unlock()
	alloc, ok := rd.images[handle]
	if !ok {
		core.LogWarn("destroying untracked image %d", handle)
	}
	rd.backend.DestroyImage(handle)
	rd.backend.FreeMemory(alloc)
	delete(rd.images, handle)
}

func (rd *RenderDevice) DestroyImageView(view metadata.ImageViewHandle) {
	rd.backend.DestroyImageView(view)
}

// LiveAllocations reports how many buffers and images are still tracked.
func (rd *RenderDevice) LiveAllocations() (buffers, images int) {
	rd.mu.RLock()
	defer rd.mu.RUnlock()
	return len(rd.buffers), len(rd.images)
}

// Shutdown releases the main command context, reports leaked allocations and
// shuts the backend down. The device must be idle.
func (rd *RenderDevice) Shutdown() error {
	if rd.main != nil {
		rd.main.Destroy()
		rd.main = nil
	}

	rd.mu.Lock()
	leaked := make([]metadata.BufferHandle, 0, len(rd.buffers))
	for h := range rd.buffers {
		leaked = append(leaked, h)
	}
	slices.Sort(leaked)
	for _, h := range leaked {
		core.LogWarn("buffer %d (%d bytes) was never destroyed", h, rd.buffers[h].Size)
	}
	for h, alloc := range rd.images {
		core.LogWarn("image %d (%d bytes) was never destroyed", h, alloc.Size)
	}
	rd.mu.Unlock()

	return rd.backend.Shutdown()
}
