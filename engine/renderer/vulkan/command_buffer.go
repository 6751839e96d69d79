package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState
}

func NewVulkanCommandBuffer(context *VulkanContext, pool vk.CommandPool) (*VulkanCommandBuffer, error) {
	vCommandBuffer := &VulkanCommandBuffer{
		State: COMMAND_BUFFER_STATE_NOT_ALLOCATED,
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}

	handles := make([]vk.CommandBuffer, 1)
	err := context.Locks.SafeCall(CommandPoolManagement, func() error {
		return VulkanResultError(vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, handles), "allocating command buffer")
	})
	if err != nil {
		return nil, err
	}
	vCommandBuffer.Handle = handles[0]
	vCommandBuffer.State = COMMAND_BUFFER_STATE_READY
	return vCommandBuffer, nil
}

func (v *VulkanCommandBuffer) Free(context *VulkanContext, pool vk.CommandPool) {
	context.Locks.SafeCall(CommandPoolManagement, func() error {
		vk.FreeCommandBuffers(context.Device.LogicalDevice, pool, 1, []vk.CommandBuffer{v.Handle})
		return nil
	})
	v.Handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Begin(isSingleUse bool) error {
	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if isSingleUse {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}

	if res := vk.BeginCommandBuffer(v.Handle, beginInfo); res != vk.Success {
		return VulkanResultError(res, "beginning command buffer")
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if v.State != COMMAND_BUFFER_STATE_RECORDING {
		return core.Assertf("ending a command buffer that is not recording (state %d)", v.State)
	}
	if res := vk.EndCommandBuffer(v.Handle); res != vk.Success {
		return VulkanResultError(res, "ending command buffer")
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (vr *VulkanRenderer) CreateCommandPool() (metadata.CommandPoolHandle, error) {
	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: vr.context.Device.QueueIndex,
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(vr.device(), &poolInfo, vr.context.Allocator, &pool); res != vk.Success {
		return 0, VulkanResultError(res, "creating command pool")
	}
	return metadata.CommandPoolHandle(vr.commandPools.add(pool)), nil
}

func (vr *VulkanRenderer) DestroyCommandPool(pool metadata.CommandPoolHandle) {
	if p, ok := vr.commandPools.remove(uint64(pool)); ok {
		vr.context.Locks.SafeCall(CommandPoolManagement, func() error {
			vk.DestroyCommandPool(vr.device(), p, vr.context.Allocator)
			return nil
		})
	}
}

func (vr *VulkanRenderer) AllocateCommandBuffer(pool metadata.CommandPoolHandle) (metadata.CommandBufferHandle, error) {
	p, ok := vr.commandPools.get(uint64(pool))
	if !ok {
		return 0, core.Wrapf(core.ErrNullResource, "allocating from unknown command pool %d", pool)
	}
	cb, err := NewVulkanCommandBuffer(vr.context, p)
	if err != nil {
		return 0, err
	}
	return metadata.CommandBufferHandle(vr.commandBuffers.add(cb)), nil
}

func (vr *VulkanRenderer) FreeCommandBuffer(pool metadata.CommandPoolHandle, cmd metadata.CommandBufferHandle) {
	cb, ok := vr.commandBuffers.remove(uint64(cmd))
	if !ok {
		return
	}
	if p, ok := vr.commandPools.get(uint64(pool)); ok {
		cb.Free(vr.context, p)
	}
}

func (vr *VulkanRenderer) BeginCommandBuffer(cmd metadata.CommandBufferHandle, singleUse bool) error {
	cb, ok := vr.commandBuffers.get(uint64(cmd))
	if !ok {
		return core.Wrapf(core.ErrNullResource, "beginning unknown command buffer %d", cmd)
	}
	return cb.Begin(singleUse)
}

func (vr *VulkanRenderer) EndCommandBuffer(cmd metadata.CommandBufferHandle) error {
	cb, ok := vr.commandBuffers.get(uint64(cmd))
	if !ok {
		return core.Wrapf(core.ErrNullResource, "ending unknown command buffer %d", cmd)
	}
	return cb.End()
}

func (vr *VulkanRenderer) QueueSubmit(cmd metadata.CommandBufferHandle, fence metadata.FenceHandle) error {
	cb, ok := vr.commandBuffers.get(uint64(cmd))
	if !ok {
		return core.Wrapf(core.ErrNullResource, "submitting unknown command buffer %d", cmd)
	}
	if cb.State != COMMAND_BUFFER_STATE_RECORDING_ENDED {
		return core.Assertf("submitting command buffer %d in state %d", cmd, cb.State)
	}
	signal := vk.NullFence
	if fence != metadata.NullFence {
		f, ok := vr.fences.get(uint64(fence))
		if !ok {
			return core.Wrapf(core.ErrNullResource, "submitting with unknown fence %d", fence)
		}
		signal = f.Handle
	}

	submitInfo := []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.Handle},
	}}
	err := vr.context.Locks.SafeQueueCall(vr.context.Device.QueueIndex, func() error {
		return VulkanResultError(vk.QueueSubmit(vr.context.Device.Queue, 1, submitInfo, signal), "submitting to queue")
	})
	if err != nil {
		return err
	}
	cb.UpdateSubmitted()
	return nil
}

func (vr *VulkanRenderer) DeviceWaitIdle() error {
	return VulkanResultError(vk.DeviceWaitIdle(vr.device()), "waiting for device idle")
}

// recording returns the native command buffer, or nil when cmd is not a
// command buffer that is being recorded.
func (vr *VulkanRenderer) recording(cmd metadata.CommandBufferHandle) vk.CommandBuffer {
	cb, ok := vr.commandBuffers.get(uint64(cmd))
	if !ok || cb.State != COMMAND_BUFFER_STATE_RECORDING {
		core.LogError("recording into command buffer %d which is not recording", cmd)
		return nil
	}
	return cb.Handle
}

func (vr *VulkanRenderer) CmdCopyBuffer(cmd metadata.CommandBufferHandle, src, dst metadata.BufferHandle, size uint64) {
	handle := vr.recording(cmd)
	srcBuf, okSrc := vr.buffers.get(uint64(src))
	dstBuf, okDst := vr.buffers.get(uint64(dst))
	if handle == nil || !okSrc || !okDst {
		return
	}
	regions := []vk.BufferCopy{{Size: vk.DeviceSize(size)}}
	vk.CmdCopyBuffer(handle, srcBuf, dstBuf, uint32(len(regions)), regions)
}

func (vr *VulkanRenderer) CmdCopyBufferToImage(cmd metadata.CommandBufferHandle, src metadata.BufferHandle, dst metadata.ImageHandle, width, height uint32) {
	handle := vr.recording(cmd)
	srcBuf, okSrc := vr.buffers.get(uint64(src))
	dstImg, okDst := vr.images.get(uint64(dst))
	if handle == nil || !okSrc || !okDst {
		return
	}
	regions := []vk.BufferImageCopy{{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LayerCount: 1,
		},
		ImageExtent: vk.Extent3D{Width: width, Height: height, Depth: 1},
	}}
	vk.CmdCopyBufferToImage(handle, srcBuf, dstImg, vk.ImageLayoutTransferDstOptimal, uint32(len(regions)), regions)
}

func layoutAccess(layout metadata.ImageLayout) vk.AccessFlags {
	switch layout {
	case metadata.ImageLayoutGeneral:
		return vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit)
	case metadata.ImageLayoutShaderReadOnly:
		return vk.AccessFlags(vk.AccessShaderReadBit)
	case metadata.ImageLayoutTransferSrcOptimal:
		return vk.AccessFlags(vk.AccessTransferReadBit)
	case metadata.ImageLayoutTransferDstOptimal:
		return vk.AccessFlags(vk.AccessTransferWriteBit)
	}
	return 0
}

func (vr *VulkanRenderer) CmdTransitionImageLayout(cmd metadata.CommandBufferHandle, image metadata.ImageHandle, from, to metadata.ImageLayout) {
	handle := vr.recording(cmd)
	img, ok := vr.images.get(uint64(image))
	if handle == nil || !ok {
		return
	}
	barriers := []vk.ImageMemoryBarrier{{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       layoutAccess(from),
		DstAccessMask:       layoutAccess(to),
		OldLayout:           vk.ImageLayout(from),
		NewLayout:           vk.ImageLayout(to),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img,
		SubresourceRange:    colorSubresource,
	}}
	allCommands := vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	vk.CmdPipelineBarrier(handle, allCommands, allCommands, 0, 0, nil, 0, nil, uint32(len(barriers)), barriers)
}
