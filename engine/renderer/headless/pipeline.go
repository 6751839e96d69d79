package headless

import (
	"encoding/binary"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

const spirvMagic = 0x07230203

type pipeline struct {
	layout metadata.PipelineLayoutHandle
	stages []metadata.ShaderStage
	groups []metadata.RayTracingShaderGroup
}

func (b *Backend) CreateShaderModule(code []byte) (metadata.ShaderModuleHandle, error) {
	if len(code) < 20 || len(code)%4 != 0 || binary.LittleEndian.Uint32(code) != spirvMagic {
		return 0, core.Wrapf(core.ErrUnsupportedFormat, "shader module of %d bytes is not SPIR-V", len(code))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	h := metadata.ShaderModuleHandle(b.handle())
	b.shaderModules[h] = len(code)
	return h, nil
}

func (b *Backend) DestroyShaderModule(h metadata.ShaderModuleHandle) {
	if h == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.shaderModules[h]; !ok {
		b.violation("destroy of unknown shader module %d", h)
		return
	}
	delete(b.shaderModules, h)
}

func (b *Backend) CreatePipelineLayout(info metadata.PipelineLayoutCreateInfo) (metadata.PipelineLayoutHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, l := range info.SetLayouts {
		if _, ok := b.setLayouts[l]; !ok {
			return 0, core.Wrapf(core.ErrNullResource, "descriptor set layout %d", l)
		}
	}
	h := metadata.PipelineLayoutHandle(b.handle())
	b.pipelineLayouts[h] = info
	return h, nil
}

func (b *Backend) DestroyPipelineLayout(h metadata.PipelineLayoutHandle) {
	if h == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pipelineLayouts[h]; !ok {
		b.violation("destroy of unknown pipeline layout %d", h)
		return
	}
	delete(b.pipelineLayouts, h)
}

func stageIs(stages []metadata.ShaderStage, index uint32, allowed metadata.ShaderStageFlags) bool {
	return int(index) < len(stages) && stages[index].Stage&allowed != 0
}

func validateGroup(stages []metadata.ShaderStage, g metadata.RayTracingShaderGroup) bool {
	optional := func(index uint32, allowed metadata.ShaderStageFlags) bool {
		return index == metadata.ShaderUnused || stageIs(stages, index, allowed)
	}
	switch g.Type {
	case metadata.RayTracingShaderGroupTypeGeneral:
		return stageIs(stages, g.General, metadata.ShaderStageRaygen|metadata.ShaderStageMiss|metadata.ShaderStageCallable) &&
			g.ClosestHit == metadata.ShaderUnused && g.AnyHit == metadata.ShaderUnused && g.Intersection == metadata.ShaderUnused
	case metadata.RayTracingShaderGroupTypeTrianglesHitGroup:
		return g.General == metadata.ShaderUnused && g.Intersection == metadata.ShaderUnused &&
			optional(g.ClosestHit, metadata.ShaderStageClosestHit) && optional(g.AnyHit, metadata.ShaderStageAnyHit)
	case metadata.RayTracingShaderGroupTypeProceduralHitGroup:
		return g.General == metadata.ShaderUnused && stageIs(stages, g.Intersection, metadata.ShaderStageIntersection) &&
			optional(g.ClosestHit, metadata.ShaderStageClosestHit) && optional(g.AnyHit, metadata.ShaderStageAnyHit)
	}
	return false
}

func (b *Backend) CreateRayTracingPipeline(info metadata.RayTracingPipelineCreateInfo) (metadata.PipelineHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pipelineLayouts[info.Layout]; !ok {
		return metadata.NullPipeline, core.Wrapf(core.ErrNullResource, "pipeline layout %d", info.Layout)
	}
	if info.MaxRecursionDepth > b.props.RayTracing.MaxRayRecursionDepth {
		return metadata.NullPipeline, core.Wrapf(core.ErrMissingCapability, "recursion depth %d", info.MaxRecursionDepth)
	}
	for i, s := range info.Stages {
		if _, ok := b.shaderModules[s.Module]; !ok {
			return metadata.NullPipeline, core.Wrapf(core.ErrNullResource, "stage %d shader module %d", i, s.Module)
		}
	}
	for i, g := range info.Groups {
		if !validateGroup(info.Stages, g) {
			return metadata.NullPipeline, core.Wrapf(core.ErrShaderGroupsIncomplete, "group %d", i)
		}
	}
	h := metadata.PipelineHandle(b.handle())
	b.pipelines[h] = &pipeline{
		layout: info.Layout,
		stages: append([]metadata.ShaderStage(nil), info.Stages...),
		groups: append([]metadata.RayTracingShaderGroup(nil), info.Groups...),
	}
	return h, nil
}

// GetRayTracingShaderGroupHandles returns handles derived from the pipeline
// and group index, so they are stable and distinct.
func (b *Backend) GetRayTracingShaderGroupHandles(h metadata.PipelineHandle, first, count uint32) ([]metadata.GroupHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pipelines[h]
	if !ok {
		return nil, core.Wrapf(core.ErrNullResource, "pipeline %d", h)
	}
	if int(first+count) > len(p.groups) {
		return nil, core.Assertf("groups [%d, %d) of a pipeline with %d groups", first, first+count, len(p.groups))
	}
	out := make([]metadata.GroupHandle, count)
	for i := range out {
		group := first + uint32(i)
		binary.LittleEndian.PutUint64(out[i][0:], uint64(h))
		binary.LittleEndian.PutUint32(out[i][8:], group)
		for j := 12; j < metadata.GroupHandleSize; j++ {
			out[i][j] = byte(0xA0 + group)
		}
	}
	return out, nil
}

func (b *Backend) DestroyPipeline(h metadata.PipelineHandle) {
	if h == metadata.NullPipeline {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pipelines[h]; !ok {
		b.violation("destroy of unknown pipeline %d", h)
		return
	}
	delete(b.pipelines, h)
}

func (b *Backend) CmdTraceRays(cmd metadata.CommandBufferHandle, info metadata.TraceRaysInfo) {
	b.record(cmd, "trace rays", func() {
		if _, ok := b.pipelines[info.Pipeline]; !ok {
			b.violation("trace rays with unknown pipeline %d", info.Pipeline)
			return
		}
		if _, ok := b.sets[info.DescriptorSet]; !ok {
			b.violation("trace rays with unknown descriptor set %d", info.DescriptorSet)
			return
		}
		if info.Width == 0 || info.Height == 0 || info.Depth == 0 {
			b.violation("trace rays with an empty extent")
			return
		}
		if info.Raygen.Size != info.Raygen.Stride {
			b.violation("raygen region size %d differs from its stride %d", info.Raygen.Size, info.Raygen.Stride)
		}
		regions := map[string]metadata.StridedDeviceAddressRegion{
			"raygen": info.Raygen,
			"miss":   info.Miss,
			"hit":    info.Hit,
		}
		base := uint64(b.props.RayTracing.ShaderGroupBaseAlignment)
		handle := uint64(b.props.RayTracing.ShaderGroupHandleAlignment)
		for name, r := range regions {
			if r.Size == 0 {
				continue
			}
			if uint64(r.DeviceAddress)%base != 0 {
				b.violation("%s region address %#x is not aligned to %d", name, uint64(r.DeviceAddress), base)
			}
			if r.Stride%handle != 0 || r.Stride > uint64(b.props.RayTracing.MaxShaderGroupStride) {
				b.violation("%s region stride %d is invalid", name, r.Stride)
			}
			if !b.inShaderBindingTable(r) {
				b.violation("%s region at %#x is not inside a shader binding table buffer", name, uint64(r.DeviceAddress))
			}
		}
		b.traces = append(b.traces, info)
	})
}

func (b *Backend) inShaderBindingTable(r metadata.StridedDeviceAddressRegion) bool {
	for _, buf := range b.buffers {
		if buf.address == 0 || buf.usage&metadata.BufferUsageShaderBindingTable == 0 {
			continue
		}
		if r.DeviceAddress >= buf.address && uint64(r.DeviceAddress)+r.Size <= uint64(buf.address)+buf.size {
			return true
		}
	}
	return false
}
