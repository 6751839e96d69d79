package metadata

// RayTracingPipelineProperties mirrors VkPhysicalDeviceRayTracingPipelinePropertiesKHR.
type RayTracingPipelineProperties struct {
	ShaderGroupHandleSize              uint32
	MaxRayRecursionDepth               uint32
	MaxShaderGroupStride               uint32
	ShaderGroupBaseAlignment           uint32
	ShaderGroupHandleCaptureReplaySize uint32
	MaxRayDispatchInvocationCount      uint32
	ShaderGroupHandleAlignment         uint32
	MaxRayHitAttributeSize             uint32
}

// AccelerationStructureProperties mirrors VkPhysicalDeviceAccelerationStructurePropertiesKHR.
type AccelerationStructureProperties struct {
	MaxGeometryCount                               uint64
	MaxInstanceCount                               uint64
	MaxPrimitiveCount                              uint64
	MaxDescriptorSetAccelerationStructures         uint32
	MinAccelerationStructureScratchOffsetAlignment uint32
}

type DeviceProperties struct {
	DeviceName            string
	VendorID              uint32
	DeviceID              uint32
	APIVersion            uint32
	RayTracing            RayTracingPipelineProperties
	AccelerationStructure AccelerationStructureProperties
}

// MemoryRequirements is what a backend reports for a freshly created buffer or image.
type MemoryRequirements struct {
	Size           uint64
	Alignment      uint64
	MemoryTypeBits uint32
}

// Allocation is one dedicated block of device memory bound to a single
// buffer or image.
type Allocation struct {
	Memory   MemoryHandle
	Offset   uint64
	Size     uint64
	Location MemoryLocation
}

// IsNull reports whether no memory backs the allocation.
func (a Allocation) IsNull() bool {
	return a.Memory == 0
}

type ImageCreateInfo struct {
	Width  uint32
	Height uint32
	Format Format
	Usage  ImageUsageFlags
}

type SamplerFilter uint32

const (
	SamplerFilterNearest SamplerFilter = 0
	SamplerFilterLinear  SamplerFilter = 1
)

type SamplerCreateInfo struct {
	Filter SamplerFilter
	// Repeat addressing when true, clamp to edge otherwise.
	Repeat bool
}
