package raytracing

import (
	"github.com/chewxy/math32"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// Primitive is one sub-mesh as read from a model file. Indices are local to
// the primitive. UVs are optional.
type Primitive struct {
	Positions [][3]float32
	Normals   [][3]float32
	UVs       [][2]float32
	Indices   []uint32
}

/**
 * @brief Vertices and indices of every primitive of a mesh concatenated in
 * order. Indices are rebased on the primitive's first vertex, so they index
 * the whole vertex array.
 */
type PackedMesh struct {
	Vertices   []metadata.Vertex
	Indices    []uint32
	Geometries []metadata.GeometryDescriptor
}

// GeometryIndexOffsets lists the first index of each geometry, which is what
// hit shaders need to find a triangle from its geometry and primitive ids.
func (m PackedMesh) GeometryIndexOffsets() []uint32 {
	offsets := make([]uint32, len(m.Geometries))
	for i, g := range m.Geometries {
		offsets[i] = g.FirstIndex
	}
	return offsets
}

func PackPrimitives(primitives []Primitive) (PackedMesh, error) {
	if len(primitives) == 0 {
		return PackedMesh{}, core.Assertf("mesh has no primitives")
	}
	var vertexCount, indexCount int
	for _, p := range primitives {
		vertexCount += len(p.Positions)
		indexCount += len(p.Indices)
	}

	mesh := PackedMesh{
		Vertices:   make([]metadata.Vertex, 0, vertexCount),
		Indices:    make([]uint32, 0, indexCount),
		Geometries: make([]metadata.GeometryDescriptor, 0, len(primitives)),
	}
	for i, p := range primitives {
		g := metadata.GeometryDescriptor{
			FirstVertex: uint32(len(mesh.Vertices)),
			VertexCount: uint32(len(p.Positions)),
			FirstIndex:  uint32(len(mesh.Indices)),
			IndexCount:  uint32(len(p.Indices)),
		}
		if len(p.Normals) != len(p.Positions) {
			return PackedMesh{}, core.Assertf("primitive %d has %d normals for %d positions", i, len(p.Normals), len(p.Positions))
		}
		if len(p.UVs) != 0 && len(p.UVs) != len(p.Positions) {
			return PackedMesh{}, core.Assertf("primitive %d has %d uvs for %d positions", i, len(p.UVs), len(p.Positions))
		}
		if g.IndexCount == 0 || g.IndexCount%3 != 0 {
			return PackedMesh{}, core.Assertf("primitive %d has %d indices, not a whole number of triangles", i, g.IndexCount)
		}

		for v, pos := range p.Positions {
			vertex := metadata.Vertex{Position: pos, Normal: sanitizeNormal(p.Normals[v])}
			if len(p.UVs) != 0 {
				vertex.UV = p.UVs[v]
			}
			mesh.Vertices = append(mesh.Vertices, vertex)
		}
		for _, index := range p.Indices {
			if index >= g.VertexCount {
				return PackedMesh{}, core.Assertf("primitive %d index %d out of %d vertices", i, index, g.VertexCount)
			}
			mesh.Indices = append(mesh.Indices, index+g.FirstVertex)
		}
		mesh.Geometries = append(mesh.Geometries, g)
	}
	return mesh, nil
}

// sanitizeNormal zeroes NaN normals and replaces non unit ones with +X.
func sanitizeNormal(n [3]float32) [3]float32 {
	if math32.IsNaN(n[0]) || math32.IsNaN(n[1]) || math32.IsNaN(n[2]) {
		return [3]float32{}
	}
	if math32.Abs(1-math32.Sqrt(n[0]*n[0]+n[1]*n[1]+n[2]*n[2])) > 0.01 {
		return [3]float32{1, 0, 0}
	}
	return n
}
