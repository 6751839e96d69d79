package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

/**
 * @brief Holds a pipeline layout and the stages its push constant range is
 * visible to, which every push must repeat.
 */
type VulkanPipelineLayout struct {
	Handle             vk.PipelineLayout
	PushConstantSize   uint32
	PushConstantStages vk.ShaderStageFlags
}

func (vr *VulkanRenderer) CreatePipelineLayout(info metadata.PipelineLayoutCreateInfo) (metadata.PipelineLayoutHandle, error) {
	setLayouts := make([]vk.DescriptorSetLayout, len(info.SetLayouts))
	for i, h := range info.SetLayouts {
		l, ok := vr.setLayouts.get(uint64(h))
		if !ok {
			return 0, core.Wrapf(core.ErrNullResource, "pipeline layout references unknown set layout %d", h)
		}
		setLayouts[i] = l
	}

	layoutInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(setLayouts)),
		PSetLayouts:    setLayouts,
	}
	pushStages := vk.ShaderStageFlags(info.PushConstantStages)
	if info.PushConstantSize > 0 {
		ranges := []vk.PushConstantRange{{
			StageFlags: pushStages,
			Offset:     0,
			Size:       info.PushConstantSize,
		}}
		layoutInfo.PushConstantRangeCount = uint32(len(ranges))
		layoutInfo.PPushConstantRanges = ranges
	}

	var layout vk.PipelineLayout
	if res := vk.CreatePipelineLayout(vr.device(), &layoutInfo, vr.context.Allocator, &layout); res != vk.Success {
		return 0, VulkanResultError(res, "creating pipeline layout")
	}
	return metadata.PipelineLayoutHandle(vr.layouts.add(&VulkanPipelineLayout{
		Handle:             layout,
		PushConstantSize:   info.PushConstantSize,
		PushConstantStages: pushStages,
	})), nil
}

func (vr *VulkanRenderer) DestroyPipelineLayout(layout metadata.PipelineLayoutHandle) {
	if l, ok := vr.layouts.remove(uint64(layout)); ok {
		vk.DestroyPipelineLayout(vr.device(), l.Handle, vr.context.Allocator)
	}
}

func (vr *VulkanRenderer) CreateRayTracingPipeline(info metadata.RayTracingPipelineCreateInfo) (metadata.PipelineHandle, error) {
	layout, ok := vr.layouts.get(uint64(info.Layout))
	if !ok {
		return metadata.NullPipeline, core.Wrapf(core.ErrNullResource, "ray tracing pipeline with unknown layout %d", info.Layout)
	}
	maxDepth := vr.context.Device.Properties.RayTracing.MaxRayRecursionDepth
	if info.MaxRecursionDepth > maxDepth {
		return metadata.NullPipeline, core.Wrapf(core.ErrMissingCapability, "recursion depth %d exceeds device limit %d", info.MaxRecursionDepth, maxDepth)
	}

	modules := make([]vk.ShaderModule, len(info.Stages))
	for i, s := range info.Stages {
		m, ok := vr.shaderModules.get(uint64(s.Module))
		if !ok {
			return metadata.NullPipeline, core.Wrapf(core.ErrNullResource, "%s stage %d has no shader module", s.Stage, i)
		}
		modules[i] = m
	}

	pipeline, err := createRayTracingPipeline(vr.device(), layout.Handle, modules, info)
	if err != nil {
		return metadata.NullPipeline, err
	}
	core.LogDebug("Ray tracing pipeline created with %d stages and %d groups.", len(info.Stages), len(info.Groups))
	return metadata.PipelineHandle(vr.pipelines.add(pipeline)), nil
}

func (vr *VulkanRenderer) GetRayTracingShaderGroupHandles(pipeline metadata.PipelineHandle, first, count uint32) ([]metadata.GroupHandle, error) {
	p, ok := vr.pipelines.get(uint64(pipeline))
	if !ok {
		return nil, core.Wrapf(core.ErrNullResource, "reading group handles of unknown pipeline %d", pipeline)
	}
	return groupHandles(vr.device(), p, first, count)
}

func (vr *VulkanRenderer) DestroyPipeline(pipeline metadata.PipelineHandle) {
	if p, ok := vr.pipelines.remove(uint64(pipeline)); ok {
		vk.DestroyPipeline(vr.device(), p, vr.context.Allocator)
	}
}

func (vr *VulkanRenderer) CmdTraceRays(cmd metadata.CommandBufferHandle, info metadata.TraceRaysInfo) {
	handle := vr.recording(cmd)
	if handle == nil {
		return
	}
	pipeline, okPipeline := vr.pipelines.get(uint64(info.Pipeline))
	layout, okLayout := vr.layouts.get(uint64(info.Layout))
	set, okSet := vr.sets.get(uint64(info.DescriptorSet))
	if !okPipeline || !okLayout || !okSet {
		core.LogError("trace rays with pipeline %d, layout %d and set %d", info.Pipeline, info.Layout, info.DescriptorSet)
		return
	}

	vk.CmdBindPipeline(handle, pipelineBindPointRayTracing, pipeline)
	sets := []vk.DescriptorSet{set}
	vk.CmdBindDescriptorSets(handle, pipelineBindPointRayTracing, layout.Handle, 0, uint32(len(sets)), sets, 0, nil)

	if len(info.PushConstants) > 0 {
		if uint32(len(info.PushConstants)) > layout.PushConstantSize {
			core.LogError("%d bytes of push constants for a %d byte range", len(info.PushConstants), layout.PushConstantSize)
			return
		}
		vk.CmdPushConstants(handle, layout.Handle, layout.PushConstantStages, 0,
			uint32(len(info.PushConstants)), unsafe.Pointer(&info.PushConstants[0]))
	}

	cmdTraceRays(handle, info)
}
