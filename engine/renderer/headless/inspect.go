package headless

import (
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// Stats counts live objects per kind.
type Stats struct {
	Memory                 int
	Buffers                int
	Images                 int
	ImageViews             int
	Samplers               int
	DescriptorSetLayouts   int
	DescriptorPools        int
	CommandPools           int
	CommandBuffers         int
	Fences                 int
	QueryPools             int
	AccelerationStructures int
	ShaderModules          int
	PipelineLayouts        int
	Pipelines              int

	Submits   uint64
	WaitIdles uint64
}

func (b *Backend) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statsLocked()
}

func (b *Backend) statsLocked() Stats {
	return Stats{
		Memory:                 len(b.memory),
		Buffers:                len(b.buffers),
		Images:                 len(b.images),
		ImageViews:             len(b.views),
		Samplers:               len(b.samplers),
		DescriptorSetLayouts:   len(b.setLayouts),
		DescriptorPools:        len(b.pools),
		CommandPools:           len(b.commandPools),
		CommandBuffers:         len(b.commandBuffers),
		Fences:                 len(b.fences),
		QueryPools:             len(b.queryPools),
		AccelerationStructures: len(b.accels),
		ShaderModules:          len(b.shaderModules),
		PipelineLayouts:        len(b.pipelineLayouts),
		Pipelines:              len(b.pipelines),
		Submits:                b.submits,
		WaitIdles:              b.waitIdles,
	}
}

// LiveObjects is the total number of objects not destroyed yet.
func (b *Backend) LiveObjects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.liveObjectsLocked()
}

func (b *Backend) liveObjectsLocked() int {
	s := b.statsLocked()
	return s.Memory + s.Buffers + s.Images + s.ImageViews + s.Samplers + s.DescriptorSetLayouts +
		s.DescriptorPools + s.CommandPools + s.CommandBuffers + s.Fences + s.QueryPools +
		s.AccelerationStructures + s.ShaderModules + s.PipelineLayouts + s.Pipelines
}

// Violations lists every misuse detected so far.
func (b *Backend) Violations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.violations...)
}

type AccelerationStructureInfo struct {
	Type               metadata.AccelerationStructureType
	Size               uint64
	Address            metadata.DeviceAddress
	Built              bool
	Compacted          bool
	Flags              metadata.BuildAccelerationStructureFlags
	PrimitiveCounts    []uint32
	InstanceReferences []metadata.DeviceAddress
}

func (b *Backend) AccelerationStructure(h metadata.AccelerationStructureHandle) (AccelerationStructureInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	as, ok := b.accels[h]
	if !ok {
		return AccelerationStructureInfo{}, false
	}
	return AccelerationStructureInfo{
		Type:               as.kind,
		Size:               as.size,
		Address:            as.address,
		Built:              as.built,
		Compacted:          as.compacted,
		Flags:              as.flags,
		PrimitiveCounts:    append([]uint32(nil), as.primitives...),
		InstanceReferences: append([]metadata.DeviceAddress(nil), as.instances...),
	}, true
}

// BufferContents copies the bytes currently stored in a buffer.
func (b *Backend) BufferContents(h metadata.BufferHandle) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.bufferBytes(h)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

func (b *Backend) BufferUsage(h metadata.BufferHandle) (metadata.BufferUsageFlags, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.buffers[h]
	if !ok {
		return 0, false
	}
	return buf.usage, true
}

// ImageContents copies the texels of an image along with its current layout.
func (b *Backend) ImageContents(h metadata.ImageHandle) ([]byte, metadata.ImageLayout, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	img, ok := b.images[h]
	if !ok {
		return nil, 0, false
	}
	block, ok := b.memory[img.memory]
	if !ok {
		return nil, img.layout, false
	}
	size := uint64(img.info.Width) * uint64(img.info.Height) * uint64(img.info.Format.BytesPerPixel())
	return append([]byte(nil), block.data[:size]...), img.layout, true
}

func (b *Backend) DescriptorImage(set metadata.DescriptorSetHandle, binding, element uint32) (metadata.ImageViewHandle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ds, ok := b.sets[set]
	if !ok {
		return 0, false
	}
	v, ok := ds.images[[2]uint32{binding, element}]
	return v, ok
}

func (b *Backend) DescriptorAccelerationStructure(set metadata.DescriptorSetHandle, binding uint32) (metadata.AccelerationStructureHandle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ds, ok := b.sets[set]
	if !ok {
		return 0, false
	}
	as, ok := ds.accels[binding]
	return as, ok
}

// TraceRays returns every dispatch executed so far.
func (b *Backend) TraceRays() []metadata.TraceRaysInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]metadata.TraceRaysInfo(nil), b.traces...)
}
