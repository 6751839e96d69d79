package metadata

// GroupHandleSize is the only shader group handle size the engine supports.
const GroupHandleSize = 32

// GroupHandle is an opaque ray tracing shader group handle.
type GroupHandle [GroupHandleSize]byte

type ShaderStage struct {
	Stage  ShaderStageFlags
	Module ShaderModuleHandle
	Entry  string
}

// RayTracingShaderGroup references stages by their index in the pipeline's
// stage list, ShaderUnused where a slot is empty.
type RayTracingShaderGroup struct {
	Type         RayTracingShaderGroupType
	General      uint32
	ClosestHit   uint32
	AnyHit       uint32
	Intersection uint32
}

func GeneralShaderGroup(stage uint32) RayTracingShaderGroup {
	return RayTracingShaderGroup{
		Type:         RayTracingShaderGroupTypeGeneral,
		General:      stage,
		ClosestHit:   ShaderUnused,
		AnyHit:       ShaderUnused,
		Intersection: ShaderUnused,
	}
}

func TrianglesHitShaderGroup(closestHit uint32) RayTracingShaderGroup {
	return RayTracingShaderGroup{
		Type:         RayTracingShaderGroupTypeTrianglesHitGroup,
		General:      ShaderUnused,
		ClosestHit:   closestHit,
		AnyHit:       ShaderUnused,
		Intersection: ShaderUnused,
	}
}

func ProceduralHitShaderGroup(closestHit, intersection uint32) RayTracingShaderGroup {
	return RayTracingShaderGroup{
		Type:         RayTracingShaderGroupTypeProceduralHitGroup,
		General:      ShaderUnused,
		ClosestHit:   closestHit,
		AnyHit:       ShaderUnused,
		Intersection: intersection,
	}
}

type RayTracingPipelineCreateInfo struct {
	Stages            []ShaderStage
	Groups            []RayTracingShaderGroup
	Layout            PipelineLayoutHandle
	MaxRecursionDepth uint32
}

type DescriptorBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStageFlags
	// Slots may be left unwritten and written after the set is bound.
	PartiallyBound bool
}

// DescriptorSet bundles the layout, the pool it was allocated from and the set.
type DescriptorSet struct {
	Layout DescriptorSetLayoutHandle
	Pool   DescriptorPoolHandle
	Set    DescriptorSetHandle
}

type PipelineLayoutCreateInfo struct {
	SetLayouts         []DescriptorSetLayoutHandle
	PushConstantSize   uint32
	PushConstantStages ShaderStageFlags
}

// StridedDeviceAddressRegion mirrors VkStridedDeviceAddressRegionKHR.
type StridedDeviceAddressRegion struct {
	DeviceAddress DeviceAddress
	Stride        uint64
	Size          uint64
}

type TraceRaysInfo struct {
	Pipeline      PipelineHandle
	Layout        PipelineLayoutHandle
	DescriptorSet DescriptorSetHandle
	PushConstants []byte
	Raygen        StridedDeviceAddressRegion
	Miss          StridedDeviceAddressRegion
	Hit           StridedDeviceAddressRegion
	Callable      StridedDeviceAddressRegion
	Width         uint32
	Height        uint32
	Depth         uint32
}
