package metadata

type TrianglesData struct {
	VertexFormat Format
	VertexData   DeviceAddress
	VertexStride uint64
	MaxVertex    uint32
	IndexType    IndexType
	IndexData    DeviceAddress
}

type AABBsData struct {
	Data   DeviceAddress
	Stride uint64
}

type InstancesData struct {
	Data DeviceAddress
}

// AccelerationStructureGeometry holds one geometry of a build. Only the data
// member selected by Type is read.
type AccelerationStructureGeometry struct {
	Type      GeometryType
	Flags     GeometryFlags
	Triangles TrianglesData
	AABBs     AABBsData
	Instances InstancesData
}

type AccelerationStructureBuildGeometryInfo struct {
	Type       AccelerationStructureType
	Flags      BuildAccelerationStructureFlags
	Mode       BuildAccelerationStructureMode
	Src        AccelerationStructureHandle
	Dst        AccelerationStructureHandle
	Geometries []AccelerationStructureGeometry
	Scratch    DeviceAddress
}

// AccelerationStructureBuildRangeInfo mirrors VkAccelerationStructureBuildRangeInfoKHR.
// PrimitiveOffset is in bytes.
type AccelerationStructureBuildRangeInfo struct {
	PrimitiveCount  uint32
	PrimitiveOffset uint32
	FirstVertex     uint32
	TransformOffset uint32
}

type AccelerationStructureBuildSizes struct {
	AccelerationStructureSize uint64
	UpdateScratchSize         uint64
	BuildScratchSize          uint64
}

type AccelerationStructureCreateInfo struct {
	Buffer BufferHandle
	Offset uint64
	Size   uint64
	Type   AccelerationStructureType
}

type CopyAccelerationStructureInfo struct {
	Src  AccelerationStructureHandle
	Dst  AccelerationStructureHandle
	Mode CopyAccelerationStructureMode
}
