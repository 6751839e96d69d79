package renderer

import (
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

/**
 * @brief The Vulkan shaped device every higher layer talks to. Recording
 * calls only append to a command buffer; nothing reaches the GPU before
 * QueueSubmit. Callers serialise QueueSubmit themselves.
 */
type RendererBackend interface {
	Initialize(appName string, appWidth, appHeight uint32) error
	Shutdown() error
	Name() string
	Properties() metadata.DeviceProperties

	AllocateMemory(reqs metadata.MemoryRequirements, location metadata.MemoryLocation, deviceAddress bool) (metadata.Allocation, error)
	FreeMemory(alloc metadata.Allocation)
	// MappedMemory returns the persistently mapped bytes of a host visible allocation.
	MappedMemory(alloc metadata.Allocation) ([]byte, error)

	CreateBuffer(size uint64, usage metadata.BufferUsageFlags) (metadata.BufferHandle, metadata.MemoryRequirements, error)
	BindBufferMemory(buffer metadata.BufferHandle, alloc metadata.Allocation) error
	BufferDeviceAddress(buffer metadata.BufferHandle) metadata.DeviceAddress
	DestroyBuffer(buffer metadata.BufferHandle)

	CreateImage(info metadata.ImageCreateInfo) (metadata.ImageHandle, metadata.MemoryRequirements, error)
	BindImageMemory(image metadata.ImageHandle, alloc metadata.Allocation) error
	CreateImageView(image metadata.ImageHandle, format metadata.Format) (metadata.ImageViewHandle, error)
	DestroyImageView(view metadata.ImageViewHandle)
	DestroyImage(image metadata.ImageHandle)
	CreateSampler(info metadata.SamplerCreateInfo) (metadata.SamplerHandle, error)
	DestroySampler(sampler metadata.SamplerHandle)

	CreateDescriptorSet(bindings []metadata.DescriptorBinding) (metadata.DescriptorSet, error)
	WriteDescriptorImage(set metadata.DescriptorSetHandle, binding, element uint32, kind metadata.DescriptorType, view metadata.ImageViewHandle, sampler metadata.SamplerHandle, layout metadata.ImageLayout)
	WriteDescriptorAccelerationStructure(set metadata.DescriptorSetHandle, binding uint32, as metadata.AccelerationStructureHandle)
	DestroyDescriptorPool(pool metadata.DescriptorPoolHandle)
	DestroyDescriptorSetLayout(layout metadata.DescriptorSetLayoutHandle)

	CreateCommandPool() (metadata.CommandPoolHandle, error)
	DestroyCommandPool(pool metadata.CommandPoolHandle)
	AllocateCommandBuffer(pool metadata.CommandPoolHandle) (metadata.CommandBufferHandle, error)
	FreeCommandBuffer(pool metadata.CommandPoolHandle, cmd metadata.CommandBufferHandle)
	BeginCommandBuffer(cmd metadata.CommandBufferHandle, singleUse bool) error
	EndCommandBuffer(cmd metadata.CommandBufferHandle) error
	QueueSubmit(cmd metadata.CommandBufferHandle, fence metadata.FenceHandle) error
	DeviceWaitIdle() error

	CreateFence(signaled bool) (metadata.FenceHandle, error)
	WaitForFence(fence metadata.FenceHandle, timeoutNs uint64) error
	ResetFence(fence metadata.FenceHandle) error
	DestroyFence(fence metadata.FenceHandle)

	CmdCopyBuffer(cmd metadata.CommandBufferHandle, src, dst metadata.BufferHandle, size uint64)
	CmdCopyBufferToImage(cmd metadata.CommandBufferHandle, src metadata.BufferHandle, dst metadata.ImageHandle, width, height uint32)
	CmdTransitionImageLayout(cmd metadata.CommandBufferHandle, image metadata.ImageHandle, from, to metadata.ImageLayout)
	CmdBuildAccelerationStructure(cmd metadata.CommandBufferHandle, info metadata.AccelerationStructureBuildGeometryInfo, ranges []metadata.AccelerationStructureBuildRangeInfo)
	// CmdAccelerationStructureBarrier orders a build before later reads of its result.
	CmdAccelerationStructureBarrier(cmd metadata.CommandBufferHandle)
	CmdResetQueryPool(cmd metadata.CommandBufferHandle, pool metadata.QueryPoolHandle, first, count uint32)
	CmdWriteCompactedSize(cmd metadata.CommandBufferHandle, as metadata.AccelerationStructureHandle, pool metadata.QueryPoolHandle, query uint32)
	CmdCopyAccelerationStructure(cmd metadata.CommandBufferHandle, info metadata.CopyAccelerationStructureInfo)
	CmdTraceRays(cmd metadata.CommandBufferHandle, info metadata.TraceRaysInfo)

	CreateQueryPool(kind metadata.QueryType, count uint32) (metadata.QueryPoolHandle, error)
	// GetQueryPoolResults waits for the results to become available.
	GetQueryPoolResults(pool metadata.QueryPoolHandle, first, count uint32) ([]uint64, error)
	DestroyQueryPool(pool metadata.QueryPoolHandle)

	GetAccelerationStructureBuildSizes(info metadata.AccelerationStructureBuildGeometryInfo, maxPrimitiveCounts []uint32) metadata.AccelerationStructureBuildSizes
	CreateAccelerationStructure(info metadata.AccelerationStructureCreateInfo) (metadata.AccelerationStructureHandle, error)
	AccelerationStructureDeviceAddress(as metadata.AccelerationStructureHandle) metadata.DeviceAddress
	DestroyAccelerationStructure(as metadata.AccelerationStructureHandle)

	CreateShaderModule(code []byte) (metadata.ShaderModuleHandle, error)
	DestroyShaderModule(module metadata.ShaderModuleHandle)
	CreatePipelineLayout(info metadata.PipelineLayoutCreateInfo) (metadata.PipelineLayoutHandle, error)
	DestroyPipelineLayout(layout metadata.PipelineLayoutHandle)
	CreateRayTracingPipeline(info metadata.RayTracingPipelineCreateInfo) (metadata.PipelineHandle, error)
	GetRayTracingShaderGroupHandles(pipeline metadata.PipelineHandle, first, count uint32) ([]metadata.GroupHandle, error)
	DestroyPipeline(pipeline metadata.PipelineHandle)
}
