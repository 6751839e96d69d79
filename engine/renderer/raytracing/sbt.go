package raytracing

import (
	"encoding/binary"

	"github.com/spaghettifunk/anima-rt/engine/core"
	emath "github.com/spaghettifunk/anima-rt/engine/math"
	"github.com/spaghettifunk/anima-rt/engine/renderer"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

const (
	// handle + vertex, index and geometry offset buffer addresses
	TriangleHitRecordSize = metadata.GroupHandleSize + 3*8
	SphereHitRecordSize   = metadata.GroupHandleSize
)

// SphereHitOffset is the hit record every sphere instance uses.
const SphereHitOffset uint32 = 0

/**
 * @brief Region sizes and strides of a shader binding table with one raygen
 * record, one miss record and hitCount hit records. Addresses are relative
 * to the start of the table.
 */
type Layout struct {
	Raygen metadata.StridedDeviceAddressRegion
	Miss   metadata.StridedDeviceAddressRegion
	Hit    metadata.StridedDeviceAddressRegion
}

func (l Layout) Size() uint64 {
	return l.Raygen.Size + l.Miss.Size + l.Hit.Size
}

func ComputeLayout(props metadata.RayTracingPipelineProperties, hitCount uint32) Layout {
	base := props.ShaderGroupBaseAlignment
	handleSize := emath.AlignUp(uint32(metadata.GroupHandleSize), props.ShaderGroupHandleAlignment)

	var l Layout
	l.Raygen.Stride = uint64(emath.AlignUp(handleSize, base))
	l.Raygen.Size = l.Raygen.Stride

	l.Miss.Stride = uint64(handleSize)
	l.Miss.Size = uint64(emath.AlignUp(handleSize, base))

	l.Hit.Stride = uint64(emath.AlignUp(uint32(max(TriangleHitRecordSize, SphereHitRecordSize)), base))
	l.Hit.Size = uint64(emath.AlignUp(hitCount*uint32(l.Hit.Stride), base))

	l.Miss.DeviceAddress = metadata.DeviceAddress(l.Raygen.Size)
	l.Hit.DeviceAddress = metadata.DeviceAddress(l.Raygen.Size + l.Miss.Size)
	return l
}

// PipelineHandles are the group handles of the ray tracing pipeline, one per
// group in pipeline order.
type PipelineHandles struct {
	Raygen      metadata.GroupHandle
	Miss        metadata.GroupHandle
	TriangleHit metadata.GroupHandle
	SphereHit   metadata.GroupHandle
}

// MeshHitRecord carries the buffers a triangle hit shader reads for one mesh.
type MeshHitRecord[K comparable] struct {
	Key                   K
	VertexAddress         metadata.DeviceAddress
	IndexAddress          metadata.DeviceAddress
	GeometryOffsetAddress metadata.DeviceAddress
}

/**
 * @brief A host visible shader binding table. The sphere record is always
 * first; TriangleOffsets maps each mesh to the index of its hit record. The
 * buffer is padded by the group base alignment and the table starts at the
 * first aligned address inside it.
 */
type ShaderBindingTable[K comparable] struct {
	Raygen metadata.StridedDeviceAddressRegion
	Miss   metadata.StridedDeviceAddressRegion
	Hit    metadata.StridedDeviceAddressRegion

	TriangleOffsets map[K]uint32

	data renderer.Buffer[byte]
	// bytes between the buffer start and the raygen record
	offset uint64
}

func NewShaderBindingTable[K comparable]() *ShaderBindingTable[K] {
	return &ShaderBindingTable[K]{TriangleOffsets: map[K]uint32{}}
}

func (s *ShaderBindingTable[K]) Buffer() renderer.Buffer[byte] {
	return s.data
}

func (s *ShaderBindingTable[K]) IsReady() bool {
	return !s.data.IsNull()
}

// Update rewrites the table for the given pipeline and meshes, in the order
// of meshes. The buffer is only reallocated when the total size changes.
func (s *ShaderBindingTable[K]) Update(rd *renderer.RenderDevice, q *renderer.DestructionQueue, handles PipelineHandles, meshes []MeshHitRecord[K]) error {
	props := rd.Properties().RayTracing
	layout := ComputeLayout(props, uint32(1+len(meshes)))
	baseAlignment := uint64(props.ShaderGroupBaseAlignment)

	if size := layout.Size() + baseAlignment; size != s.data.Count {
		s.data.Release(q)
		buf, err := renderer.CreateHostBuffer[byte](rd, size, metadata.BufferUsageShaderBindingTable)
		if err != nil {
			return core.Wrap(err, "allocating shader binding table")
		}
		s.data = buf
	}

	base := metadata.DeviceAddress(emath.AlignUp(uint64(s.data.Address), baseAlignment))
	s.offset = uint64(base - s.data.Address)
	s.Raygen = layout.Raygen
	s.Raygen.DeviceAddress = base
	s.Miss = layout.Miss
	s.Miss.DeviceAddress = base + layout.Miss.DeviceAddress
	s.Hit = layout.Hit
	s.Hit.DeviceAddress = base + layout.Hit.DeviceAddress

	mapped, err := s.data.Map(rd)
	if err != nil {
		return err
	}
	clear(mapped)
	view := mapped[s.offset:]
	copy(view, handles.Raygen[:])
	copy(view[layout.Miss.DeviceAddress:], handles.Miss[:])

	hits := view[layout.Hit.DeviceAddress:]
	copy(hits, handles.SphereHit[:])

	if s.TriangleOffsets == nil {
		s.TriangleOffsets = map[K]uint32{}
	}
	clear(s.TriangleOffsets)
	for i, mesh := range meshes {
		offset := uint32(i + 1)
		record := hits[uint64(offset)*layout.Hit.Stride:]
		copy(record, handles.TriangleHit[:])
		binary.LittleEndian.PutUint64(record[32:], uint64(mesh.VertexAddress))
		binary.LittleEndian.PutUint64(record[40:], uint64(mesh.IndexAddress))
		binary.LittleEndian.PutUint64(record[48:], uint64(mesh.GeometryOffsetAddress))
		s.TriangleOffsets[mesh.Key] = offset
	}
	core.LogDebug("shader binding table updated with %d hit records (%d bytes)", 1+len(meshes), layout.Size())
	return nil
}

func (s *ShaderBindingTable[K]) Release(q *renderer.DestructionQueue) {
	s.data.Release(q)
	s.offset = 0
	s.Raygen = metadata.StridedDeviceAddressRegion{}
	s.Miss = metadata.StridedDeviceAddressRegion{}
	s.Hit = metadata.StridedDeviceAddressRegion{}
	clear(s.TriangleOffsets)
}
