package systems

import (
	"github.com/spaghettifunk/anima-rt/engine/assets"
	"github.com/spaghettifunk/anima-rt/engine/assets/loaders"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
)

// Bindings of the scene descriptor set (set 0). The bindless table is set 1.
const (
	OutputImageBinding uint32 = 0
	TLASBinding        uint32 = 1
)

// PushConstantSize holds the device address of the camera uniform.
const PushConstantSize = 8

const shaderEntryPoint = "main"

// Stage order of the pipeline; the shader groups index into it.
const (
	stageRaygen = iota
	stageMiss
	stageClosestHit
	stageSphereClosestHit
	stageSphereIntersection
	stageCount
)

var pipelineStages = [stageCount]metadata.ShaderStageFlags{
	stageRaygen:             metadata.ShaderStageRaygen,
	stageMiss:               metadata.ShaderStageMiss,
	stageClosestHit:         metadata.ShaderStageClosestHit,
	stageSphereClosestHit:   metadata.ShaderStageClosestHit,
	stageSphereIntersection: metadata.ShaderStageIntersection,
}

// pipelineGroups: raygen, miss, triangle hit, sphere hit.
var pipelineGroups = []metadata.RayTracingShaderGroup{
	metadata.GeneralShaderGroup(stageRaygen),
	metadata.GeneralShaderGroup(stageMiss),
	metadata.TrianglesHitShaderGroup(stageClosestHit),
	metadata.ProceduralHitShaderGroup(stageSphereClosestHit, stageSphereIntersection),
}

/**
 * @brief A ray tracing pipeline with the scene descriptor set it is bound
 * with and the handles of its four shader groups.
 */
type PreparedPipeline struct {
	Modules     []metadata.ShaderModuleHandle
	Descriptors metadata.DescriptorSet
	Layout      metadata.PipelineLayoutHandle
	Pipeline    metadata.PipelineHandle
	Handles     raytracing.PipelineHandles
}

type extractedPipeline struct {
	code           [stageCount][]byte
	recursionDepth uint32
}

/**
 * @brief Builds the ray tracing pipeline a scene declares. Shaders are host
 * only assets: the pipeline reads their code during Extract and is rebuilt
 * when any of them changes.
 */
type RayTracingPipelineAsset struct {
	server *assets.Server
	table  *renderer.BindlessTable
}

func NewRayTracingPipelineAsset(server *assets.Server, table *renderer.BindlessTable) *RayTracingPipelineAsset {
	return &RayTracingPipelineAsset{server: server, table: table}
}

func (rp *RayTracingPipelineAsset) Kind() assets.Kind {
	return assets.KindRayTracingPipeline
}

func (rp *RayTracingPipelineAsset) Dependencies(p *loaders.Pipeline) []assets.Handle {
	return p.Shaders()
}

func (rp *RayTracingPipelineAsset) Extract(h assets.Handle, p *loaders.Pipeline) (extractedPipeline, bool) {
	e := extractedPipeline{recursionDepth: p.MaxRecursionDepth}
	for i, sh := range p.Shaders() {
		shader, ok := assets.Get[*loaders.Shader](rp.server, sh)
		if !ok {
			core.LogDebug("pipeline %s waits for shader %s", h, sh)
			return extractedPipeline{}, false
		}
		if shader.Stage != pipelineStages[i] {
			core.LogWarn("pipeline %s: shader %s is a %s shader, expected %s", h, sh, shader.Stage, pipelineStages[i])
			return extractedPipeline{}, false
		}
		e.code[i] = shader.Code
	}
	return e, true
}

func (rp *RayTracingPipelineAsset) Prepare(rd *renderer.RenderDevice, cmds *renderer.CommandContext, e extractedPipeline) (*PreparedPipeline, error) {
	backend := rd.Backend()
	p := &PreparedPipeline{}

	stages := make([]metadata.ShaderStage, stageCount)
	for i, code := range e.code {
		module, err := backend.CreateShaderModule(code)
		if err != nil {
			rp.destroyNow(backend, p)
			return nil, core.Wrapf(err, "creating %s shader module", pipelineStages[i])
		}
		p.Modules = append(p.Modules, module)
		stages[i] = metadata.ShaderStage{Stage: pipelineStages[i], Module: module, Entry: shaderEntryPoint}
	}

	set, err := backend.CreateDescriptorSet([]metadata.DescriptorBinding{
		{
			Binding: OutputImageBinding,
			Type:    metadata.DescriptorTypeStorageImage,
			Count:   1,
			Stages:  metadata.ShaderStageRaygen,
		},
		{
			Binding: TLASBinding,
			Type:    metadata.DescriptorTypeAccelerationStructure,
			Count:   1,
			Stages:  metadata.ShaderStageRaygen | metadata.ShaderStageClosestHit,
		},
	})
	if err != nil {
		rp.destroyNow(backend, p)
		return nil, core.Wrap(err, "creating scene descriptor set")
	}
	p.Descriptors = set

	p.Layout, err = backend.CreatePipelineLayout(metadata.PipelineLayoutCreateInfo{
		SetLayouts:         []metadata.DescriptorSetLayoutHandle{set.Layout, rp.table.DescriptorSet().Layout},
		PushConstantSize:   PushConstantSize,
		PushConstantStages: metadata.ShaderStageRaygen | metadata.ShaderStageClosestHit,
	})
	if err != nil {
		rp.destroyNow(backend, p)
		return nil, core.Wrap(err, "creating ray tracing pipeline layout")
	}

	p.Pipeline, err = backend.CreateRayTracingPipeline(metadata.RayTracingPipelineCreateInfo{
		Stages:            stages,
		Groups:            pipelineGroups,
		Layout:            p.Layout,
		MaxRecursionDepth: e.recursionDepth,
	})
	if err != nil {
		rp.destroyNow(backend, p)
		return nil, core.Wrap(err, "creating ray tracing pipeline")
	}

	handles, err := backend.GetRayTracingShaderGroupHandles(p.Pipeline, 0, uint32(len(pipelineGroups)))
	if err != nil {
		rp.destroyNow(backend, p)
		return nil, core.Wrap(err, "reading shader group handles")
	}
	if len(handles) != len(pipelineGroups) {
		rp.destroyNow(backend, p)
		return nil, core.Assertf("%d group handles for %d groups", len(handles), len(pipelineGroups))
	}
	p.Handles = raytracing.PipelineHandles{
		Raygen:      handles[0],
		Miss:        handles[1],
		TriangleHit: handles[2],
		SphereHit:   handles[3],
	}
	core.LogInfo("ray tracing pipeline %d created with %d groups", p.Pipeline, len(handles))
	return p, nil
}

// destroyNow frees the objects of a pipeline that never left its worker.
func (rp *RayTracingPipelineAsset) destroyNow(backend renderer.RendererBackend, p *PreparedPipeline) {
	backend.DestroyPipeline(p.Pipeline)
	backend.DestroyPipelineLayout(p.Layout)
	backend.DestroyDescriptorPool(p.Descriptors.Pool)
	backend.DestroyDescriptorSetLayout(p.Descriptors.Layout)
	for _, m := range p.Modules {
		backend.DestroyShaderModule(m)
	}
	*p = PreparedPipeline{}
}

func (rp *RayTracingPipelineAsset) Destroy(p *PreparedPipeline, q *renderer.DestructionQueue) {
	q.Push(renderer.DestroyPipelineEvent(p.Pipeline))
	q.Push(renderer.DestroyPipelineLayoutEvent(p.Layout))
	q.PushAll(renderer.DestroyDescriptorSetEvents(p.Descriptors)...)
	for _, m := range p.Modules {
		q.Push(renderer.DestroyShaderModuleEvent(m))
	}
}
