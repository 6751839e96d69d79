package systems

import (
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
)

const (
	// Read by the BLAS build and, through their addresses, by hit shaders.
	geometryInputUsage = metadata.BufferUsageStorageBuffer | metadata.BufferUsageAccelerationStructureBuildInputReadOnly
	geometryTableUsage = metadata.BufferUsageStorageBuffer
)

/**
 * @brief The device buffers of one mesh. Records holds one entry per
 * geometry, in the order of the BLAS geometries.
 */
type GeometryBuffers struct {
	Vertices renderer.Buffer[metadata.Vertex]
	Indices  renderer.Buffer[uint32]
	Records  renderer.Buffer[metadata.GeometryRecord]
}

func geometryRecords(mesh raytracing.PackedMesh, materials []metadata.TriangleMaterial) ([]metadata.GeometryRecord, error) {
	if len(materials) != len(mesh.Geometries) {
		return nil, core.Assertf("%d materials for %d geometries", len(materials), len(mesh.Geometries))
	}
	offsets := mesh.GeometryIndexOffsets()
	records := make([]metadata.GeometryRecord, len(offsets))
	for i, first := range offsets {
		records[i] = metadata.GeometryRecord{FirstIndex: first, Material: materials[i]}
	}
	return records, nil
}

// uploadGeometry stages the packed mesh into device local buffers.
func uploadGeometry(rd *renderer.RenderDevice, cmds *renderer.CommandContext, mesh raytracing.PackedMesh, records []metadata.GeometryRecord) (GeometryBuffers, error) {
	var g GeometryBuffers
	var err error
	if g.Vertices, err = renderer.CreateDeviceBufferFrom(rd, cmds, mesh.Vertices, geometryInputUsage); err != nil {
		return GeometryBuffers{}, core.Wrap(err, "uploading vertices")
	}
	if g.Indices, err = renderer.CreateDeviceBufferFrom(rd, cmds, mesh.Indices, geometryInputUsage); err != nil {
		g.destroyNow(rd)
		return GeometryBuffers{}, core.Wrap(err, "uploading indices")
	}
	if g.Records, err = renderer.CreateDeviceBufferFrom(rd, cmds, records, geometryTableUsage); err != nil {
		g.destroyNow(rd)
		return GeometryBuffers{}, core.Wrap(err, "uploading geometry records")
	}
	return g, nil
}

func (g *GeometryBuffers) Release(q *renderer.DestructionQueue) {
	g.Vertices.Release(q)
	g.Indices.Release(q)
	g.Records.Release(q)
}

// destroyNow frees buffers that were never part of a submitted frame.
func (g *GeometryBuffers) destroyNow(rd *renderer.RenderDevice) {
	for _, h := range []metadata.BufferHandle{g.Vertices.Handle, g.Indices.Handle, g.Records.Handle} {
		if h != metadata.NullBuffer {
			rd.DestroyBuffer(h)
		}
	}
	*g = GeometryBuffers{}
}
