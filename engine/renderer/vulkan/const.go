package vulkan

import vk "github.com/goki/vulkan"

// Values from the descriptor indexing, acceleration structure and ray tracing
// pipeline headers that goki has no names for.

/**
 * @brief Descriptor binding flags, chained into the set layout.
 */
const (
	bindingUpdateAfterBind uint32 = 0x00000001
	bindingPartiallyBound  uint32 = 0x00000004
)

/**
 * @brief Layouts and pools holding update-after-bind bindings need these.
 */
const (
	layoutUpdateAfterBindPool uint32 = 0x00000002
	poolUpdateAfterBind       uint32 = 0x00000002
)

const (
	pipelineStageAccelerationStructureBuild vk.PipelineStageFlags = 0x02000000
	pipelineStageRayTracingShader           vk.PipelineStageFlags = 0x00200000
	accessAccelerationStructureRead         vk.AccessFlags        = 0x00200000
	accessAccelerationStructureWrite        vk.AccessFlags        = 0x00400000
)

const pipelineBindPointRayTracing vk.PipelineBindPoint = 1000165000
