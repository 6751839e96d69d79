package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

func (vr *VulkanRenderer) GetAccelerationStructureBuildSizes(info metadata.AccelerationStructureBuildGeometryInfo, maxPrimitiveCounts []uint32) metadata.AccelerationStructureBuildSizes {
	return buildSizes(vr.device(), info, maxPrimitiveCounts)
}

func (vr *VulkanRenderer) CreateAccelerationStructure(info metadata.AccelerationStructureCreateInfo) (metadata.AccelerationStructureHandle, error) {
	buf, ok := vr.buffers.get(uint64(info.Buffer))
	if !ok {
		return metadata.NullAccelerationStructure, core.Wrap(core.ErrNullResource, "acceleration structure without a backing buffer")
	}
	as, err := createAccelerationStructure(vr.device(), buf, info)
	if err != nil {
		return metadata.NullAccelerationStructure, err
	}
	return metadata.AccelerationStructureHandle(vr.accels.add(as)), nil
}

func (vr *VulkanRenderer) AccelerationStructureDeviceAddress(as metadata.AccelerationStructureHandle) metadata.DeviceAddress {
	accel, ok := vr.accels.get(uint64(as))
	if !ok {
		return 0
	}
	return accelerationStructureAddress(vr.device(), accel)
}

func (vr *VulkanRenderer) DestroyAccelerationStructure(as metadata.AccelerationStructureHandle) {
	if accel, ok := vr.accels.remove(uint64(as)); ok {
		destroyAccelerationStructure(vr.device(), accel)
	}
}

func (vr *VulkanRenderer) CmdBuildAccelerationStructure(cmd metadata.CommandBufferHandle, info metadata.AccelerationStructureBuildGeometryInfo, ranges []metadata.AccelerationStructureBuildRangeInfo) {
	handle := vr.recording(cmd)
	if handle == nil {
		return
	}
	dst, ok := vr.accels.get(uint64(info.Dst))
	if !ok {
		core.LogError("building into unknown acceleration structure %d", info.Dst)
		return
	}
	// A null source is the zero handle.
	src, _ := vr.accels.get(uint64(info.Src))
	cmdBuild(handle, info, src, dst, ranges)
}

func (vr *VulkanRenderer) CmdAccelerationStructureBarrier(cmd metadata.CommandBufferHandle) {
	handle := vr.recording(cmd)
	if handle == nil {
		return
	}
	barriers := []vk.MemoryBarrier{{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: accessAccelerationStructureWrite,
		DstAccessMask: accessAccelerationStructureRead | accessAccelerationStructureWrite,
	}}
	vk.CmdPipelineBarrier(handle,
		pipelineStageAccelerationStructureBuild,
		pipelineStageAccelerationStructureBuild|pipelineStageRayTracingShader,
		0, uint32(len(barriers)), barriers, 0, nil, 0, nil)
}

func (vr *VulkanRenderer) CmdResetQueryPool(cmd metadata.CommandBufferHandle, pool metadata.QueryPoolHandle, first, count uint32) {
	handle := vr.recording(cmd)
	q, ok := vr.queryPools.get(uint64(pool))
	if handle == nil || !ok {
		return
	}
	vk.CmdResetQueryPool(handle, q, first, count)
}

func (vr *VulkanRenderer) CmdWriteCompactedSize(cmd metadata.CommandBufferHandle, as metadata.AccelerationStructureHandle, pool metadata.QueryPoolHandle, query uint32) {
	handle := vr.recording(cmd)
	accel, okAS := vr.accels.get(uint64(as))
	q, okPool := vr.queryPools.get(uint64(pool))
	if handle == nil || !okAS || !okPool {
		return
	}
	cmdWriteCompactedSize(handle, accel, q, query)
}

func (vr *VulkanRenderer) CmdCopyAccelerationStructure(cmd metadata.CommandBufferHandle, info metadata.CopyAccelerationStructureInfo) {
	handle := vr.recording(cmd)
	src, okSrc := vr.accels.get(uint64(info.Src))
	dst, okDst := vr.accels.get(uint64(info.Dst))
	if handle == nil || !okSrc || !okDst {
		return
	}
	cmdCopyAccelerationStructure(handle, src, dst, info.Mode)
}

func (vr *VulkanRenderer) CreateQueryPool(kind metadata.QueryType, count uint32) (metadata.QueryPoolHandle, error) {
	poolInfo := vk.QueryPoolCreateInfo{
		SType:      vk.StructureTypeQueryPoolCreateInfo,
		QueryType:  vk.QueryType(kind),
		QueryCount: count,
	}
	var pool vk.QueryPool
	if res := vk.CreateQueryPool(vr.device(), &poolInfo, vr.context.Allocator, &pool); res != vk.Success {
		return 0, VulkanResultError(res, "creating query pool")
	}
	return metadata.QueryPoolHandle(vr.queryPools.add(pool)), nil
}

func (vr *VulkanRenderer) GetQueryPoolResults(pool metadata.QueryPoolHandle, first, count uint32) ([]uint64, error) {
	q, ok := vr.queryPools.get(uint64(pool))
	if !ok {
		return nil, core.Wrapf(core.ErrNullResource, "reading unknown query pool %d", pool)
	}
	if count == 0 {
		return nil, nil
	}
	results := make([]uint64, count)
	res := vk.GetQueryPoolResults(vr.device(), q, first, count,
		uint(count)*8, unsafe.Pointer(&results[0]), 8,
		vk.QueryResultFlags(vk.QueryResult64Bit|vk.QueryResultWaitBit))
	if res != vk.Success {
		return nil, VulkanResultError(res, "reading query results")
	}
	return results, nil
}

func (vr *VulkanRenderer) DestroyQueryPool(pool metadata.QueryPoolHandle) {
	if q, ok := vr.queryPools.remove(uint64(pool)); ok {
		vk.DestroyQueryPool(vr.device(), q, vr.context.Allocator)
	}
}
