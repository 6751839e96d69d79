package raytracing

import (
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

type State uint8

const (
	StateEmpty State = iota
	StateBuilt
	StateCompacted
)

func (s State) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StateCompacted:
		return "compacted"
	}
	return "empty"
}

/**
 * @brief An acceleration structure and the buffer backing it. The structure
 * must be destroyed before its buffer; Release queues them in that order.
 */
type AccelerationStructure struct {
	State   State
	Type    metadata.AccelerationStructureType
	Handle  metadata.AccelerationStructureHandle
	Buffer  renderer.Buffer[byte]
	Address metadata.DeviceAddress
}

func (as AccelerationStructure) IsReady() bool {
	return as.State != StateEmpty
}

// Reference is the value an instance record stores to point at this structure.
func (as AccelerationStructure) Reference() metadata.DeviceAddress {
	return as.Address
}

func (as *AccelerationStructure) Release(q *renderer.DestructionQueue) {
	if as.Handle != metadata.NullAccelerationStructure {
		q.Push(renderer.DestroyAccelerationStructureEvent(as.Handle))
	}
	as.Buffer.Release(q)
	*as = AccelerationStructure{}
}

// destroyNow is for structures the GPU never saw in a submitted frame.
func (as *AccelerationStructure) destroyNow(rd *renderer.RenderDevice) {
	if as.Handle != metadata.NullAccelerationStructure {
		rd.Backend().DestroyAccelerationStructure(as.Handle)
	}
	if !as.Buffer.IsNull() {
		rd.DestroyBuffer(as.Buffer.Handle)
	}
	*as = AccelerationStructure{}
}

// AlignScratchAddress moves addr to the next multiple of align. The result
// always advances, even when addr is already aligned, which is why scratch
// buffers are allocated with align extra bytes.
func AlignScratchAddress(addr metadata.DeviceAddress, align uint64) metadata.DeviceAddress {
	if align == 0 {
		return addr
	}
	return addr + metadata.DeviceAddress(align) - addr%metadata.DeviceAddress(align)
}

/**
 * @brief Builds acceleration structures on a RenderDevice. Every build waits
 * on the fence of the command context it records into.
 */
type Builder struct {
	rd               *renderer.RenderDevice
	scratchAlignment uint64
}

func NewBuilder(rd *renderer.RenderDevice) *Builder {
	return &Builder{
		rd:               rd,
		scratchAlignment: uint64(rd.Properties().AccelerationStructure.MinAccelerationStructureScratchOffsetAlignment),
	}
}

func (b *Builder) Device() *renderer.RenderDevice {
	return b.rd
}

func (b *Builder) ScratchAlignment() uint64 {
	return b.scratchAlignment
}

// allocate creates the storage buffer and the structure living at its start.
func (b *Builder) allocate(kind metadata.AccelerationStructureType, size uint64) (AccelerationStructure, error) {
	buf, err := renderer.CreateDeviceBuffer[byte](b.rd, size, metadata.BufferUsageAccelerationStructureStorage)
	if err != nil {
		return AccelerationStructure{}, core.Wrap(err, "allocating acceleration structure storage")
	}
	handle, err := b.rd.Backend().CreateAccelerationStructure(metadata.AccelerationStructureCreateInfo{
		Buffer: buf.Handle,
		Size:   size,
		Type:   kind,
	})
	if err != nil {
		b.rd.DestroyBuffer(buf.Handle)
		return AccelerationStructure{}, core.Wrap(err, "creating acceleration structure")
	}
	return AccelerationStructure{
		Type:    kind,
		Handle:  handle,
		Buffer:  buf,
		Address: b.rd.Backend().AccelerationStructureDeviceAddress(handle),
	}, nil
}

// scratchBytes is the allocation size that leaves size usable bytes after
// AlignScratchAddress.
func (b *Builder) scratchBytes(size uint64) uint64 {
	return size + b.scratchAlignment
}

func (b *Builder) createScratch(size uint64) (renderer.Buffer[byte], error) {
	scratch, err := renderer.CreateDeviceBuffer[byte](b.rd, b.scratchBytes(size), metadata.BufferUsageStorageBuffer)
	if err != nil {
		return scratch, core.Wrap(err, "allocating scratch buffer")
	}
	return scratch, nil
}

// build records one build into dst and waits for it.
func (b *Builder) build(cmds *renderer.CommandContext, info metadata.AccelerationStructureBuildGeometryInfo, ranges []metadata.AccelerationStructureBuildRangeInfo) error {
	return cmds.Run(func(cmd metadata.CommandBufferHandle) error {
		b.rd.Backend().CmdBuildAccelerationStructure(cmd, info, ranges)
		b.rd.Backend().CmdAccelerationStructureBarrier(cmd)
		return nil
	})
}

func primitiveCounts(ranges []metadata.AccelerationStructureBuildRangeInfo) []uint32 {
	counts := make([]uint32, len(ranges))
	for i, r := range ranges {
		counts[i] = r.PrimitiveCount
	}
	return counts
}
