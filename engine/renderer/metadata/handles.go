package metadata

// Native object handles. Zero is always the null handle, and a backend never
// hands out zero for a live object.
type (
	BufferHandle                uint64
	ImageHandle                 uint64
	ImageViewHandle             uint64
	SamplerHandle               uint64
	MemoryHandle                uint64
	AccelerationStructureHandle uint64
	QueryPoolHandle             uint64
	FenceHandle                 uint64
	CommandPoolHandle           uint64
	CommandBufferHandle         uint64
	ShaderModuleHandle          uint64
	PipelineHandle              uint64
	PipelineLayoutHandle        uint64
	DescriptorSetLayoutHandle   uint64
	DescriptorPoolHandle        uint64
	DescriptorSetHandle         uint64
)

// DeviceAddress is a GPU visible pointer.
type DeviceAddress uint64

const (
	NullBuffer                BufferHandle                = 0
	NullImage                 ImageHandle                 = 0
	NullImageView             ImageViewHandle             = 0
	NullAccelerationStructure AccelerationStructureHandle = 0
	NullPipeline              PipelineHandle              = 0
	NullFence                 FenceHandle                 = 0
)
