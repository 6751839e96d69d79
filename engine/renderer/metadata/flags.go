package metadata

import "fmt"

// The values below mirror the Vulkan headers bit for bit so a backend can cast
// them straight into the native create infos.

type BufferUsageFlags uint32

const (
	BufferUsageTransferSrc                             BufferUsageFlags = 0x00000001
	BufferUsageTransferDst                             BufferUsageFlags = 0x00000002
	BufferUsageUniformBuffer                           BufferUsageFlags = 0x00000010
	BufferUsageStorageBuffer                           BufferUsageFlags = 0x00000020
	BufferUsageIndexBuffer                             BufferUsageFlags = 0x00000040
	BufferUsageVertexBuffer                            BufferUsageFlags = 0x00000080
	BufferUsageShaderBindingTable                      BufferUsageFlags = 0x00000400
	BufferUsageShaderDeviceAddress                     BufferUsageFlags = 0x00020000
	BufferUsageAccelerationStructureBuildInputReadOnly BufferUsageFlags = 0x00080000
	BufferUsageAccelerationStructureStorage            BufferUsageFlags = 0x00100000
)

type ImageUsageFlags uint32

const (
	ImageUsageTransferSrc ImageUsageFlags = 0x00000001
	ImageUsageTransferDst ImageUsageFlags = 0x00000002
	ImageUsageSampled     ImageUsageFlags = 0x00000004
	ImageUsageStorage     ImageUsageFlags = 0x00000008
)

type Format uint32

const (
	FormatUndefined          Format = 0
	FormatR8G8B8Unorm        Format = 23
	FormatR8G8B8A8Unorm      Format = 37
	FormatB8G8R8A8Unorm      Format = 44
	FormatR32G32B32Sfloat    Format = 106
	FormatR32G32B32A32Sfloat Format = 109
)

// BytesPerPixel returns the texel size of the formats images are created
// with, or zero for anything else.
func (f Format) BytesPerPixel() uint32 {
	switch f {
	case FormatR8G8B8Unorm:
		return 3
	case FormatR8G8B8A8Unorm, FormatB8G8R8A8Unorm:
		return 4
	case FormatR32G32B32Sfloat:
		return 12
	case FormatR32G32B32A32Sfloat:
		return 16
	}
	return 0
}

func (f Format) String() string {
	switch f {
	case FormatR8G8B8Unorm:
		return "R8G8B8_UNORM"
	case FormatR8G8B8A8Unorm:
		return "R8G8B8A8_UNORM"
	case FormatB8G8R8A8Unorm:
		return "B8G8R8A8_UNORM"
	case FormatR32G32B32Sfloat:
		return "R32G32B32_SFLOAT"
	case FormatR32G32B32A32Sfloat:
		return "R32G32B32A32_SFLOAT"
	}
	return "UNDEFINED"
}

type ImageLayout uint32

const (
	ImageLayoutUndefined          ImageLayout = 0
	ImageLayoutGeneral            ImageLayout = 1
	ImageLayoutShaderReadOnly     ImageLayout = 5
	ImageLayoutTransferSrcOptimal ImageLayout = 6
	ImageLayoutTransferDstOptimal ImageLayout = 7
)

type AccelerationStructureType uint32

const (
	AccelerationStructureTypeTopLevel    AccelerationStructureType = 0
	AccelerationStructureTypeBottomLevel AccelerationStructureType = 1
)

type BuildAccelerationStructureFlags uint32

const (
	BuildAccelerationStructureAllowUpdate     BuildAccelerationStructureFlags = 0x00000001
	BuildAccelerationStructureAllowCompaction BuildAccelerationStructureFlags = 0x00000002
	BuildAccelerationStructurePreferFastTrace BuildAccelerationStructureFlags = 0x00000004
	BuildAccelerationStructurePreferFastBuild BuildAccelerationStructureFlags = 0x00000008
	BuildAccelerationStructureLowMemory       BuildAccelerationStructureFlags = 0x00000010
)

type BuildAccelerationStructureMode uint32

const (
	BuildAccelerationStructureModeBuild  BuildAccelerationStructureMode = 0
	BuildAccelerationStructureModeUpdate BuildAccelerationStructureMode = 1
)

type CopyAccelerationStructureMode uint32

const (
	CopyAccelerationStructureModeClone   CopyAccelerationStructureMode = 0
	CopyAccelerationStructureModeCompact CopyAccelerationStructureMode = 1
)

type GeometryType uint32

const (
	GeometryTypeTriangles GeometryType = 0
	GeometryTypeAABBs     GeometryType = 1
	GeometryTypeInstances GeometryType = 2
)

type GeometryFlags uint32

const (
	GeometryOpaque                      GeometryFlags = 0x00000001
	GeometryNoDuplicateAnyHitInvocation GeometryFlags = 0x00000002
)

type GeometryInstanceFlags uint8

const (
	GeometryInstanceTriangleFacingCullDisable GeometryInstanceFlags = 0x01
	GeometryInstanceTriangleFlipFacing        GeometryInstanceFlags = 0x02
	GeometryInstanceForceOpaque               GeometryInstanceFlags = 0x04
	GeometryInstanceForceNoOpaque             GeometryInstanceFlags = 0x08
)

type IndexType uint32

const (
	IndexTypeUint16 IndexType = 0
	IndexTypeUint32 IndexType = 1
)

type QueryType uint32

const (
	QueryTypeAccelerationStructureCompactedSize QueryType = 1000150000
)

type ShaderStageFlags uint32

const (
	ShaderStageRaygen       ShaderStageFlags = 0x00000100
	ShaderStageAnyHit       ShaderStageFlags = 0x00000200
	ShaderStageClosestHit   ShaderStageFlags = 0x00000400
	ShaderStageMiss         ShaderStageFlags = 0x00000800
	ShaderStageIntersection ShaderStageFlags = 0x00001000
	ShaderStageCallable     ShaderStageFlags = 0x00002000

	ShaderStageAllRayTracing = ShaderStageRaygen | ShaderStageAnyHit | ShaderStageClosestHit |
		ShaderStageMiss | ShaderStageIntersection | ShaderStageCallable
)

func (s ShaderStageFlags) String() string {
	switch s {
	case ShaderStageRaygen:
		return "raygen"
	case ShaderStageAnyHit:
		return "any hit"
	case ShaderStageClosestHit:
		return "closest hit"
	case ShaderStageMiss:
		return "miss"
	case ShaderStageIntersection:
		return "intersection"
	case ShaderStageCallable:
		return "callable"
	}
	return fmt.Sprintf("stages(%#x)", uint32(s))
}

type RayTracingShaderGroupType uint32

const (
	RayTracingShaderGroupTypeGeneral            RayTracingShaderGroupType = 0
	RayTracingShaderGroupTypeTrianglesHitGroup  RayTracingShaderGroupType = 1
	RayTracingShaderGroupTypeProceduralHitGroup RayTracingShaderGroupType = 2
)

// ShaderUnused marks a stage slot of a shader group that has no shader.
const ShaderUnused uint32 = 0xFFFFFFFF

type DescriptorType uint32

const (
	DescriptorTypeCombinedImageSampler  DescriptorType = 1
	DescriptorTypeStorageImage          DescriptorType = 3
	DescriptorTypeUniformBuffer         DescriptorType = 6
	DescriptorTypeStorageBuffer         DescriptorType = 7
	DescriptorTypeAccelerationStructure DescriptorType = 1000150000
)

type MemoryLocation uint8

const (
	MemoryLocationDeviceLocal MemoryLocation = iota
	MemoryLocationHostVisible
)

func (m MemoryLocation) String() string {
	if m == MemoryLocationHostVisible {
		return "host-visible"
	}
	return "device-local"
}
