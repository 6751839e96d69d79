package headless

import (
	"sync"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

const (
	// Device addresses are handed out from this base, so zero stays the null address.
	addressBase = 0x10000
	// Buffers are placed at 64 byte granularity by default, on purpose smaller
	// than the scratch alignment so callers have to round scratch addresses
	// themselves.
	defaultAddressAlignment = 64
	memoryAlignment         = 256
)

type memoryBlock struct {
	data          []byte
	location      metadata.MemoryLocation
	deviceAddress bool
}

type buffer struct {
	size    uint64
	usage   metadata.BufferUsageFlags
	memory  metadata.MemoryHandle
	offset  uint64
	address metadata.DeviceAddress
}

type image struct {
	info   metadata.ImageCreateInfo
	memory metadata.MemoryHandle
	layout metadata.ImageLayout
}

/**
 * @brief A software device with the same surface as the Vulkan backend. It
 * keeps every object in maps, executes recorded commands at submit time and
 * records misuse as violations instead of crashing.
 */
type Backend struct {
	mu sync.Mutex

	props            metadata.DeviceProperties
	nextHandle       uint64
	nextAddress      uint64
	addressAlignment uint64

	memory          map[metadata.MemoryHandle]*memoryBlock
	buffers         map[metadata.BufferHandle]*buffer
	images          map[metadata.ImageHandle]*image
	views           map[metadata.ImageViewHandle]metadata.ImageHandle
	samplers        map[metadata.SamplerHandle]metadata.SamplerCreateInfo
	setLayouts      map[metadata.DescriptorSetLayoutHandle][]metadata.DescriptorBinding
	pools           map[metadata.DescriptorPoolHandle]metadata.DescriptorSetHandle
	sets            map[metadata.DescriptorSetHandle]*descriptorSet
	commandPools    map[metadata.CommandPoolHandle]map[metadata.CommandBufferHandle]struct{}
	commandBuffers  map[metadata.CommandBufferHandle]*commandBuffer
	fences          map[metadata.FenceHandle]bool
	queryPools      map[metadata.QueryPoolHandle]*queryPool
	accels          map[metadata.AccelerationStructureHandle]*accelerationStructure
	shaderModules   map[metadata.ShaderModuleHandle]int
	pipelineLayouts map[metadata.PipelineLayoutHandle]metadata.PipelineLayoutCreateInfo
	pipelines       map[metadata.PipelineHandle]*pipeline

	violations []string
	submits    uint64
	waitIdles  uint64
	traces     []metadata.TraceRaysInfo
}

type Option func(*Backend)

// WithRayTracingProperties overrides the reported shader group properties.
func WithRayTracingProperties(props metadata.RayTracingPipelineProperties) Option {
	return func(b *Backend) {
		b.props.RayTracing = props
	}
}

// WithScratchAlignment overrides minAccelerationStructureScratchOffsetAlignment.
func WithScratchAlignment(alignment uint32) Option {
	return func(b *Backend) {
		b.props.AccelerationStructure.MinAccelerationStructureScratchOffsetAlignment = alignment
	}
}

// WithBufferAddressAlignment places buffer device addresses at the given
// granularity, as a driver with a small buffer alignment would.
func WithBufferAddressAlignment(alignment uint64) Option {
	return func(b *Backend) {
		b.addressAlignment = alignment
	}
}

func New(opts ...Option) *Backend {
	b := &Backend{
		props: metadata.DeviceProperties{
			DeviceName: "anima-rt headless device",
			VendorID:   0x10005,
			APIVersion: 1<<22 | 3<<12,
			RayTracing: metadata.RayTracingPipelineProperties{
				ShaderGroupHandleSize:         metadata.GroupHandleSize,
				MaxRayRecursionDepth:          2,
				MaxShaderGroupStride:          4096,
				ShaderGroupBaseAlignment:      64,
				MaxRayDispatchInvocationCount: 1 << 30,
				ShaderGroupHandleAlignment:    32,
				MaxRayHitAttributeSize:        32,
			},
			AccelerationStructure: metadata.AccelerationStructureProperties{
				MaxGeometryCount:                               1 << 24,
				MaxInstanceCount:                               1 << 24,
				MaxPrimitiveCount:                              1 << 29,
				MaxDescriptorSetAccelerationStructures:         16,
				MinAccelerationStructureScratchOffsetAlignment: 128,
			},
		},
		nextAddress:      addressBase,
		addressAlignment: defaultAddressAlignment,
		memory:           map[metadata.MemoryHandle]*memoryBlock{},
		buffers:          map[metadata.BufferHandle]*buffer{},
		images:           map[metadata.ImageHandle]*image{},
		views:            map[metadata.ImageViewHandle]metadata.ImageHandle{},
		samplers:         map[metadata.SamplerHandle]metadata.SamplerCreateInfo{},
		setLayouts:       map[metadata.DescriptorSetLayoutHandle][]metadata.DescriptorBinding{},
		pools:            map[metadata.DescriptorPoolHandle]metadata.DescriptorSetHandle{},
		sets:             map[metadata.DescriptorSetHandle]*descriptorSet{},
		commandPools:     map[metadata.CommandPoolHandle]map[metadata.CommandBufferHandle]struct{}{},
		commandBuffers:   map[metadata.CommandBufferHandle]*commandBuffer{},
		fences:           map[metadata.FenceHandle]bool{},
		queryPools:       map[metadata.QueryPoolHandle]*queryPool{},
		accels:           map[metadata.AccelerationStructureHandle]*accelerationStructure{},
		shaderModules:    map[metadata.ShaderModuleHandle]int{},
		pipelineLayouts:  map[metadata.PipelineLayoutHandle]metadata.PipelineLayoutCreateInfo{},
		pipelines:        map[metadata.PipelineHandle]*pipeline{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Initialize(appName string, appWidth, appHeight uint32) error {
	core.LogInfo("headless device initialized for %s (%dx%d)", appName, appWidth, appHeight)
	return nil
}

func (b *Backend) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n := b.liveObjectsLocked(); n > 0 {
		core.LogWarn("headless device shut down with %d live objects", n)
	}
	return nil
}

func (b *Backend) Name() string {
	return "headless"
}

func (b *Backend) Properties() metadata.DeviceProperties {
	return b.props
}

func (b *Backend) handle() uint64 {
	b.nextHandle++
	return b.nextHandle
}

func (b *Backend) violation(format string, args ...interface{}) {
	err := core.Newf(format, args...)
	b.violations = append(b.violations, err.Error())
	core.LogWarn("headless: %s", err.Error())
}

func alignUp(v, a uint64) uint64 {
	return (v + a - 1) &^ (a - 1)
}

// -------------------------------------------------------------------------
// Memory
// -------------------------------------------------------------------------

func (b *Backend) AllocateMemory(reqs metadata.MemoryRequirements, location metadata.MemoryLocation, deviceAddress bool) (metadata.Allocation, error) {
	if reqs.Size == 0 {
		return metadata.Allocation{}, core.Assertf("zero sized allocation")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	h := metadata.MemoryHandle(b.handle())
	b.memory[h] = &memoryBlock{
		data:          make([]byte, reqs.Size),
		location:      location,
		deviceAddress: deviceAddress,
	}
	return metadata.Allocation{Memory: h, Size: reqs.Size, Location: location}, nil
}

func (b *Backend) FreeMemory(alloc metadata.Allocation) {
	if alloc.IsNull() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.memory[alloc.Memory]; !ok {
		b.violation("free of unknown memory %d", alloc.Memory)
		return
	}
	delete(b.memory, alloc.Memory)
}

func (b *Backend) MappedMemory(alloc metadata.Allocation) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	block, ok := b.memory[alloc.Memory]
	if !ok {
		return nil, core.Wrapf(core.ErrNullResource, "memory %d", alloc.Memory)
	}
	if block.location != metadata.MemoryLocationHostVisible {
		return nil, core.ErrNotHostVisible
	}
	return block.data[alloc.Offset : alloc.Offset+alloc.Size], nil
}

// -------------------------------------------------------------------------
// Buffers
// -------------------------------------------------------------------------

func (b *Backend) CreateBuffer(size uint64, usage metadata.BufferUsageFlags) (metadata.BufferHandle, metadata.MemoryRequirements, error) {
	if size == 0 {
		return metadata.NullBuffer, metadata.MemoryRequirements{}, core.Assertf("zero sized buffer")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	h := metadata.BufferHandle(b.handle())
	b.buffers[h] = &buffer{size: size, usage: usage}
	return h, metadata.MemoryRequirements{
		Size:           alignUp(size, memoryAlignment),
		Alignment:      memoryAlignment,
		MemoryTypeBits: 0x3,
	}, nil
}

func (b *Backend) BindBufferMemory(h metadata.BufferHandle, alloc metadata.Allocation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.buffers[h]
	if !ok {
		return core.Wrapf(core.ErrNullResource, "buffer %d", h)
	}
	block, ok := b.memory[alloc.Memory]
	if !ok {
		return core.Wrapf(core.ErrNullResource, "memory %d", alloc.Memory)
	}
	if uint64(len(block.data)) < alloc.Offset+buf.size {
		return core.Assertf("buffer %d does not fit in memory %d", h, alloc.Memory)
	}
	buf.memory = alloc.Memory
	buf.offset = alloc.Offset
	if buf.usage&metadata.BufferUsageShaderDeviceAddress != 0 {
		if !block.deviceAddress {
			b.violation("buffer %d uses device addresses but memory %d was allocated without them", h, alloc.Memory)
		}
		buf.address = metadata.DeviceAddress(b.nextAddress)
		b.nextAddress = alignUp(b.nextAddress+buf.size, b.addressAlignment)
	}
	return nil
}

func (b *Backend) BufferDeviceAddress(h metadata.BufferHandle) metadata.DeviceAddress {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.buffers[h]
	if !ok {
		b.violation("device address of unknown buffer %d", h)
		return 0
	}
	if buf.usage&metadata.BufferUsageShaderDeviceAddress == 0 {
		b.violation("device address of buffer %d without SHADER_DEVICE_ADDRESS usage", h)
		return 0
	}
	return buf.address
}

func (b *Backend) DestroyBuffer(h metadata.BufferHandle) {
	if h == metadata.NullBuffer {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.buffers[h]; !ok {
		b.violation("destroy of unknown buffer %d", h)
		return
	}
	for ah, as := range b.accels {
		if as.buffer == h {
			b.violation("buffer %d destroyed while acceleration structure %d still lives in it", h, ah)
		}
	}
	delete(b.buffers, h)
}

// resolveAddress finds the live buffer bytes backing [addr, addr+size).
func (b *Backend) resolveAddress(addr metadata.DeviceAddress, size uint64) ([]byte, bool) {
	for _, buf := range b.buffers {
		if buf.address == 0 || addr < buf.address || uint64(addr)+size > uint64(buf.address)+buf.size {
			continue
		}
		block, ok := b.memory[buf.memory]
		if !ok {
			return nil, false
		}
		start := buf.offset + uint64(addr-buf.address)
		return block.data[start : start+size], true
	}
	return nil, false
}

func (b *Backend) bufferBytes(h metadata.BufferHandle) ([]byte, bool) {
	buf, ok := b.buffers[h]
	if !ok {
		return nil, false
	}
	block, ok := b.memory[buf.memory]
	if !ok {
		return nil, false
	}
	return block.data[buf.offset : buf.offset+buf.size], true
}

// -------------------------------------------------------------------------
// Images
// -------------------------------------------------------------------------

func (b *Backend) CreateImage(info metadata.ImageCreateInfo) (metadata.ImageHandle, metadata.MemoryRequirements, error) {
	bpp := info.Format.BytesPerPixel()
	if bpp == 0 {
		return metadata.NullImage, metadata.MemoryRequirements{}, core.Wrapf(core.ErrUnsupportedFormat, "%d", info.Format)
	}
	if info.Width == 0 || info.Height == 0 {
		return metadata.NullImage, metadata.MemoryRequirements{}, core.Assertf("zero sized image")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	h := metadata.ImageHandle(b.handle())
	b.images[h] = &image{info: info, layout: metadata.ImageLayoutUndefined}
	size := uint64(info.Width) * uint64(info.Height) * uint64(bpp)
	return h, metadata.MemoryRequirements{
		Size:           alignUp(size, memoryAlignment),
		Alignment:      memoryAlignment,
		MemoryTypeBits: 0x1,
	}, nil
}

func (b *Backend) BindImageMemory(h metadata.ImageHandle, alloc metadata.Allocation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	img, ok := b.images[h]
	if !ok {
		return core.Wrapf(core.ErrNullResource, "image %d", h)
	}
	if _, ok := b.memory[alloc.Memory]; !ok {
		return core.Wrapf(core.ErrNullResource, "memory %d", alloc.Memory)
	}
	img.memory = alloc.Memory
	return nil
}

func (b *Backend) CreateImageView(h metadata.ImageHandle, format metadata.Format) (metadata.ImageViewHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	img, ok := b.images[h]
	if !ok {
		return metadata.NullImageView, core.Wrapf(core.ErrNullResource, "image %d", h)
	}
	if img.info.Format != format {
		return metadata.NullImageView, core.Assertf("view format %s differs from image format %s", format, img.info.Format)
	}
	v := metadata.ImageViewHandle(b.handle())
	b.views[v] = h
	return v, nil
}

func (b *Backend) DestroyImageView(v metadata.ImageViewHandle) {
	if v == metadata.NullImageView {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.views[v]; !ok {
		b.violation("destroy of unknown image view %d", v)
		return
	}
	delete(b.views, v)
}

func (b *Backend) DestroyImage(h metadata.ImageHandle) {
	if h == metadata.NullImage {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.images[h]; !ok {
		b.violation("destroy of unknown image %d", h)
		return
	}
	for v, owner := range b.views {
		if owner == h {
			b.violation("image %d destroyed before its view %d", h, v)
		}
	}
	delete(b.images, h)
}

func (b *Backend) CreateSampler(info metadata.SamplerCreateInfo) (metadata.SamplerHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := metadata.SamplerHandle(b.handle())
	b.samplers[h] = info
	return h, nil
}

func (b *Backend) DestroySampler(h metadata.SamplerHandle) {
	if h == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.samplers[h]; !ok {
		b.violation("destroy of unknown sampler %d", h)
		return
	}
	delete(b.samplers, h)
}

// -------------------------------------------------------------------------
// Descriptors
// -------------------------------------------------------------------------

type descriptorSet struct {
	layout metadata.DescriptorSetLayoutHandle
	images map[[2]uint32]metadata.ImageViewHandle
	accels map[uint32]metadata.AccelerationStructureHandle
}

func (b *Backend) CreateDescriptorSet(bindings []metadata.DescriptorBinding) (metadata.DescriptorSet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := map[uint32]bool{}
	for _, binding := range bindings {
		if seen[binding.Binding] {
			return metadata.DescriptorSet{}, core.Assertf("binding %d declared twice", binding.Binding)
		}
		seen[binding.Binding] = true
	}
	layout := metadata.DescriptorSetLayoutHandle(b.handle())
	b.setLayouts[layout] = append([]metadata.DescriptorBinding(nil), bindings...)
	pool := metadata.DescriptorPoolHandle(b.handle())
	set := metadata.DescriptorSetHandle(b.handle())
	b.pools[pool] = set
	b.sets[set] = &descriptorSet{
		layout: layout,
		images: map[[2]uint32]metadata.ImageViewHandle{},
		accels: map[uint32]metadata.AccelerationStructureHandle{},
	}
	return metadata.DescriptorSet{Layout: layout, Pool: pool, Set: set}, nil
}

func (b *Backend) binding(set metadata.DescriptorSetHandle, binding uint32) (*descriptorSet, metadata.DescriptorBinding, bool) {
	ds, ok := b.sets[set]
	if !ok {
		b.violation("write to unknown descriptor set %d", set)
		return nil, metadata.DescriptorBinding{}, false
	}
	for _, bd := range b.setLayouts[ds.layout] {
		if bd.Binding == binding {
			return ds, bd, true
		}
	}
	b.violation("descriptor set %d has no binding %d", set, binding)
	return nil, metadata.DescriptorBinding{}, false
}

func (b *Backend) WriteDescriptorImage(set metadata.DescriptorSetHandle, binding, element uint32, kind metadata.DescriptorType, view metadata.ImageViewHandle, sampler metadata.SamplerHandle, layout metadata.ImageLayout) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ds, bd, ok := b.binding(set, binding)
	if !ok {
		return
	}
	if bd.Type != kind {
		b.violation("binding %d is type %d, written as %d", binding, bd.Type, kind)
		return
	}
	if element >= bd.Count {
		b.violation("binding %d element %d out of range %d", binding, element, bd.Count)
		return
	}
	if _, ok := b.views[view]; !ok {
		b.violation("descriptor write of unknown image view %d", view)
		return
	}
	if kind == metadata.DescriptorTypeCombinedImageSampler {
		if _, ok := b.samplers[sampler]; !ok {
			b.violation("descriptor write of unknown sampler %d", sampler)
			return
		}
	}
	ds.images[[2]uint32{binding, element}] = view
}

func (b *Backend) WriteDescriptorAccelerationStructure(set metadata.DescriptorSetHandle, binding uint32, as metadata.AccelerationStructureHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ds, bd, ok := b.binding(set, binding)
	if !ok {
		return
	}
	if bd.Type != metadata.DescriptorTypeAccelerationStructure {
		b.violation("binding %d is not an acceleration structure binding", binding)
		return
	}
	if _, ok := b.accels[as]; !ok {
		b.violation("descriptor write of unknown acceleration structure %d", as)
		return
	}
	ds.accels[binding] = as
}

func (b *Backend) DestroyDescriptorPool(pool metadata.DescriptorPoolHandle) {
	if pool == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.pools[pool]
	if !ok {
		b.violation("destroy of unknown descriptor pool %d", pool)
		return
	}
	delete(b.sets, set)
	delete(b.pools, pool)
}

func (b *Backend) DestroyDescriptorSetLayout(layout metadata.DescriptorSetLayoutHandle) {
	if layout == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.setLayouts[layout]; !ok {
		b.violation("destroy of unknown descriptor set layout %d", layout)
		return
	}
	delete(b.setLayouts, layout)
}
