package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

func memoryPropertyFlags(location metadata.MemoryLocation) uint32 {
	if location == metadata.MemoryLocationHostVisible {
		return uint32(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	}
	return uint32(vk.MemoryPropertyDeviceLocalBit)
}

func (vr *VulkanRenderer) AllocateMemory(reqs metadata.MemoryRequirements, location metadata.MemoryLocation, deviceAddress bool) (metadata.Allocation, error) {
	if reqs.Size == 0 {
		return metadata.Allocation{}, core.Assertf("allocating zero bytes of %s memory", location)
	}
	index := vr.context.FindMemoryIndex(reqs.MemoryTypeBits, memoryPropertyFlags(location))
	if index < 0 {
		return metadata.Allocation{}, core.Wrapf(core.ErrOutOfMemory, "no %s memory type in %#x", location, reqs.MemoryTypeBits)
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(reqs.Size),
		MemoryTypeIndex: uint32(index),
	}
	if deviceAddress {
		flags := newAllocateFlags()
		defer flags.free()
		allocInfo.PNext = flags.ptr
	}

	device := vr.device()
	var memory vk.DeviceMemory
	err := vr.context.Locks.SafeCall(MemoryManagement, func() error {
		return VulkanResultError(vk.AllocateMemory(device, &allocInfo, vr.context.Allocator, &memory), "allocating device memory")
	})
	if err != nil {
		return metadata.Allocation{}, err
	}

	mem := &deviceMemory{memory: memory, size: reqs.Size}
	if location == metadata.MemoryLocationHostVisible {
		var ptr unsafe.Pointer
		if res := vk.MapMemory(device, memory, 0, vk.DeviceSize(reqs.Size), 0, &ptr); res != vk.Success {
			vk.FreeMemory(device, memory, vr.context.Allocator)
			return metadata.Allocation{}, VulkanResultError(res, "mapping host visible memory")
		}
		mem.mapped = unsafe.Slice((*byte)(ptr), reqs.Size)
	}

	return metadata.Allocation{
		Memory:   metadata.MemoryHandle(vr.memory.add(mem)),
		Offset:   0,
		Size:     reqs.Size,
		Location: location,
	}, nil
}

func (vr *VulkanRenderer) FreeMemory(alloc metadata.Allocation) {
	mem, ok := vr.memory.remove(uint64(alloc.Memory))
	if !ok {
		return
	}
	device := vr.device()
	if mem.mapped != nil {
		vk.UnmapMemory(device, mem.memory)
	}
	vr.context.Locks.SafeCall(MemoryManagement, func() error {
		vk.FreeMemory(device, mem.memory, vr.context.Allocator)
		return nil
	})
}

func (vr *VulkanRenderer) MappedMemory(alloc metadata.Allocation) ([]byte, error) {
	mem, ok := vr.memory.get(uint64(alloc.Memory))
	if !ok {
		return nil, core.Wrap(core.ErrNullResource, "mapping freed memory")
	}
	if mem.mapped == nil {
		return nil, core.ErrNotHostVisible
	}
	if alloc.Offset+alloc.Size > mem.size {
		return nil, core.Assertf("mapped range %d+%d exceeds allocation of %d bytes", alloc.Offset, alloc.Size, mem.size)
	}
	return mem.mapped[alloc.Offset : alloc.Offset+alloc.Size], nil
}

func (vr *VulkanRenderer) CreateBuffer(size uint64, usage metadata.BufferUsageFlags) (metadata.BufferHandle, metadata.MemoryRequirements, error) {
	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
	}

	device := vr.device()
	var buffer vk.Buffer
	if res := vk.CreateBuffer(device, &bufferInfo, vr.context.Allocator, &buffer); res != vk.Success {
		return 0, metadata.MemoryRequirements{}, VulkanResultError(res, "creating buffer")
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, buffer, &reqs)
	reqs.Deref()

	return metadata.BufferHandle(vr.buffers.add(buffer)), metadata.MemoryRequirements{
		Size:           uint64(reqs.Size),
		Alignment:      uint64(reqs.Alignment),
		MemoryTypeBits: reqs.MemoryTypeBits,
	}, nil
}

func (vr *VulkanRenderer) BindBufferMemory(buffer metadata.BufferHandle, alloc metadata.Allocation) error {
	buf, ok := vr.buffers.get(uint64(buffer))
	if !ok {
		return core.Wrap(core.ErrNullResource, "binding memory to an unknown buffer")
	}
	mem, ok := vr.memory.get(uint64(alloc.Memory))
	if !ok {
		return core.Wrap(core.ErrNullResource, "binding freed memory to a buffer")
	}
	return VulkanResultError(vk.BindBufferMemory(vr.device(), buf, mem.memory, vk.DeviceSize(alloc.Offset)), "binding buffer memory")
}

func (vr *VulkanRenderer) BufferDeviceAddress(buffer metadata.BufferHandle) metadata.DeviceAddress {
	buf, ok := vr.buffers.get(uint64(buffer))
	if !ok {
		return 0
	}
	return bufferDeviceAddress(vr.device(), buf)
}

func (vr *VulkanRenderer) DestroyBuffer(buffer metadata.BufferHandle) {
	if buf, ok := vr.buffers.remove(uint64(buffer)); ok {
		vk.DestroyBuffer(vr.device(), buf, vr.context.Allocator)
	}
}
