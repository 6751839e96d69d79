package metadata

import "unsafe"

/**
 * @brief The vertex layout addressed by the hit shaders. Positions are read
 * by the acceleration structure build as R32G32B32_SFLOAT at offset 0.
 */
type Vertex struct {
	Position [3]float32
	Normal   [3]float32
	UV       [2]float32
}

const VertexSize = uint64(unsafe.Sizeof(Vertex{}))

/**
 * @brief One sub-mesh of a mesh. Vertex indices are relative to FirstVertex's
 * mesh, not to the sub-mesh, so several geometries can share one index buffer.
 */
type GeometryDescriptor struct {
	FirstVertex uint32
	VertexCount uint32
	FirstIndex  uint32
	IndexCount  uint32
}

// NoTexture is the bindless slot of a material channel without a texture.
const NoTexture uint32 = 0xFFFFFFFF

/**
 * @brief Per geometry material record uploaded next to the mesh. Texture
 * fields are bindless slots.
 */
type TriangleMaterial struct {
	DiffuseFactor            [4]float32
	DiffuseTexture           uint32
	NormalTexture            uint32
	MetallicFactor           float32
	RoughnessFactor          float32
	MetallicRoughnessTexture uint32
}

func DefaultTriangleMaterial() TriangleMaterial {
	return TriangleMaterial{
		DiffuseFactor:            [4]float32{1, 1, 1, 1},
		DiffuseTexture:           NoTexture,
		NormalTexture:            NoTexture,
		MetallicFactor:           0,
		RoughnessFactor:          1,
		MetallicRoughnessTexture: NoTexture,
	}
}

// AABB mirrors VkAabbPositionsKHR.
type AABB struct {
	Min [3]float32
	Max [3]float32
}

const AABBSize = uint64(unsafe.Sizeof(AABB{}))

// UnitSphereAABB bounds a sphere of radius 0.5 at the origin. Instances
// scale it through their transform.
func UnitSphereAABB() AABB {
	return AABB{
		Min: [3]float32{-0.5, -0.5, -0.5},
		Max: [3]float32{0.5, 0.5, 0.5},
	}
}

/**
 * @brief The per geometry entry of the table a triangle hit record points
 * at. FirstIndex locates the geometry's triangles in the shared index
 * buffer.
 */
type GeometryRecord struct {
	FirstIndex uint32
	Material   TriangleMaterial
}
