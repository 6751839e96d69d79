package vulkan

import (
	"sync/atomic"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

type VulkanFence struct {
	Handle vk.Fence
	// Cached so a signaled fence is not waited on again.
	IsSignaled atomic.Bool
}

func NewFence(context *VulkanContext, createSignaled bool) (*VulkanFence, error) {
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if createSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var pFence vk.Fence
	if res := vk.CreateFence(context.Device.LogicalDevice, &fenceCreateInfo, context.Allocator, &pFence); res != vk.Success {
		return nil, VulkanResultError(res, "creating fence")
	}
	fence := &VulkanFence{Handle: pFence}
	fence.IsSignaled.Store(createSignaled)
	return fence, nil
}

func (vf *VulkanFence) FenceDestroy(context *VulkanContext) {
	if vf.Handle != vk.NullFence {
		vk.DestroyFence(context.Device.LogicalDevice, vf.Handle, context.Allocator)
		vf.Handle = vk.NullFence
	}
	vf.IsSignaled.Store(false)
}

func (vf *VulkanFence) FenceWait(context *VulkanContext, timeoutNs uint64) error {
	if vf.IsSignaled.Load() {
		return nil
	}
	switch result := vk.WaitForFences(context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, timeoutNs); result {
	case vk.Success:
		vf.IsSignaled.Store(true)
		return nil
	case vk.Timeout:
		return core.Wrapf(core.ErrTimeout, "fence wait after %dns", timeoutNs)
	default:
		return VulkanResultError(result, "waiting for fence")
	}
}

func (vf *VulkanFence) FenceReset(context *VulkanContext) error {
	if res := vk.ResetFences(context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}); res != vk.Success {
		return VulkanResultError(res, "resetting fence")
	}
	vf.IsSignaled.Store(false)
	return nil
}

func (vr *VulkanRenderer) CreateFence(signaled bool) (metadata.FenceHandle, error) {
	fence, err := NewFence(vr.context, signaled)
	if err != nil {
		return metadata.NullFence, err
	}
	return metadata.FenceHandle(vr.fences.add(fence)), nil
}

func (vr *VulkanRenderer) WaitForFence(fence metadata.FenceHandle, timeoutNs uint64) error {
	f, ok := vr.fences.get(uint64(fence))
	if !ok {
		return core.Wrapf(core.ErrNullResource, "waiting on unknown fence %d", fence)
	}
	return f.FenceWait(vr.context, timeoutNs)
}

func (vr *VulkanRenderer) ResetFence(fence metadata.FenceHandle) error {
	f, ok := vr.fences.get(uint64(fence))
	if !ok {
		return core.Wrapf(core.ErrNullResource, "resetting unknown fence %d", fence)
	}
	return f.FenceReset(vr.context)
}

func (vr *VulkanRenderer) DestroyFence(fence metadata.FenceHandle) {
	if f, ok := vr.fences.remove(uint64(fence)); ok {
		f.FenceDestroy(vr.context)
	}
}
