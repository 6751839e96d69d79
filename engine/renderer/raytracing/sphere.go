package raytracing

import (
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// ProceduralBLAS is a bottom level structure over AABBs. Hits inside a box
// are resolved by the intersection shader of the procedural hit group.
type ProceduralBLAS struct {
	AABBs                 renderer.Buffer[metadata.AABB]
	AccelerationStructure AccelerationStructure
}

func (p ProceduralBLAS) Reference() metadata.DeviceAddress {
	return p.AccelerationStructure.Reference()
}

func (p *ProceduralBLAS) Release(q *renderer.DestructionQueue) {
	p.AccelerationStructure.Release(q)
	p.AABBs.Release(q)
}

// BuildAABBBLAS builds one structure with a primitive per box. It is not
// compacted.
func (b *Builder) BuildAABBBLAS(cmds *renderer.CommandContext, aabbs []metadata.AABB) (ProceduralBLAS, error) {
	if len(aabbs) == 0 {
		return ProceduralBLAS{}, core.Assertf("aabb build without boxes")
	}
	data, err := renderer.CreateDeviceBufferFrom(b.rd, cmds, aabbs,
		metadata.BufferUsageStorageBuffer|metadata.BufferUsageAccelerationStructureBuildInputReadOnly)
	if err != nil {
		return ProceduralBLAS{}, core.Wrap(err, "uploading aabbs")
	}

	geometry := metadata.AccelerationStructureGeometry{
		Type:  metadata.GeometryTypeAABBs,
		Flags: metadata.GeometryOpaque,
		AABBs: metadata.AABBsData{
			Data:   data.Address,
			Stride: metadata.AABBSize,
		},
	}
	ranges := []metadata.AccelerationStructureBuildRangeInfo{{PrimitiveCount: uint32(len(aabbs))}}

	as, err := b.buildBottomLevel(cmds, []metadata.AccelerationStructureGeometry{geometry}, ranges,
		metadata.BuildAccelerationStructurePreferFastTrace)
	if err != nil {
		b.rd.DestroyBuffer(data.Handle)
		return ProceduralBLAS{}, err
	}
	return ProceduralBLAS{AABBs: data, AccelerationStructure: as}, nil
}

// BuildSphereBLAS builds the shared structure every sphere instance points at.
func (b *Builder) BuildSphereBLAS(cmds *renderer.CommandContext) (ProceduralBLAS, error) {
	return b.BuildAABBBLAS(cmds, []metadata.AABB{metadata.UnitSphereAABB()})
}
