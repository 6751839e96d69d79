package systems

import (
	"github.com/spaghettifunk/anima-rt/engine/assets"
	"github.com/spaghettifunk/anima-rt/engine/assets/loaders"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
)

/**
 * @brief A mesh ready to be traced: its geometry buffers and a compacted
 * BLAS over them. TextureSlots are the bindless slots its materials sample;
 * the images belong to the texture assets.
 */
type PreparedMesh struct {
	Geometry     GeometryBuffers
	BLAS         raytracing.AccelerationStructure
	TextureSlots []uint32
}

// HitRecord is what the mesh's triangle hit record points at.
func (pm *PreparedMesh) HitRecord(h assets.Handle) raytracing.MeshHitRecord[assets.Handle] {
	return raytracing.MeshHitRecord[assets.Handle]{
		Key:                   h,
		VertexAddress:         pm.Geometry.Vertices.Address,
		IndexAddress:          pm.Geometry.Indices.Address,
		GeometryOffsetAddress: pm.Geometry.Records.Address,
	}
}

type extractedMesh struct {
	primitives   []raytracing.Primitive
	materials    []metadata.TriangleMaterial
	textureSlots []uint32
}

/**
 * @brief Prepares meshes once every texture their materials reference is
 * prepared. Meshes depend on their textures: publishing a texture
 * re-extracts the meshes that use it, picking up its new slot.
 */
type MeshAsset struct {
	builder  *raytracing.Builder
	textures *PreparedAssets[*PreparedTexture]
}

func NewMeshAsset(builder *raytracing.Builder, textures *PreparedAssets[*PreparedTexture]) *MeshAsset {
	return &MeshAsset{builder: builder, textures: textures}
}

func (ma *MeshAsset) Kind() assets.Kind {
	return assets.KindMesh
}

func (ma *MeshAsset) Dependencies(mesh *loaders.Mesh) []assets.Handle {
	return mesh.Textures()
}

func (ma *MeshAsset) Extract(h assets.Handle, mesh *loaders.Mesh) (extractedMesh, bool) {
	materials, slots, ok := materialRecords(mesh, ma.textures)
	if !ok {
		return extractedMesh{}, false
	}
	prims := make([]raytracing.Primitive, len(mesh.Primitives))
	for i, p := range mesh.Primitives {
		prims[i] = raytracing.Primitive(p)
	}
	return extractedMesh{primitives: prims, materials: materials, textureSlots: slots}, true
}

func (ma *MeshAsset) Prepare(rd *renderer.RenderDevice, cmds *renderer.CommandContext, e extractedMesh) (*PreparedMesh, error) {
	packed, err := raytracing.PackPrimitives(e.primitives)
	if err != nil {
		return nil, err
	}
	records, err := geometryRecords(packed, e.materials)
	if err != nil {
		return nil, err
	}
	geometry, err := uploadGeometry(rd, cmds, packed, records)
	if err != nil {
		return nil, err
	}

	blas, err := ma.builder.BuildBLAS(cmds, packed.Geometries, geometry.Vertices, geometry.Indices, raytracing.BLASOptions{})
	if err != nil {
		geometry.destroyNow(rd)
		return nil, err
	}
	if !blas.IsReady() {
		geometry.destroyNow(rd)
		return nil, core.Assertf("mesh without geometries")
	}
	if err := ma.builder.CompactBLAS(cmds, &blas); err != nil {
		if core.IsFatal(err) {
			rd.Backend().DestroyAccelerationStructure(blas.Handle)
			rd.DestroyBuffer(blas.Buffer.Handle)
			geometry.destroyNow(rd)
			return nil, err
		}
		// the uncompacted structure is still usable
		core.LogWarn("keeping uncompacted blas: %s", err.Error())
	}
	return &PreparedMesh{
		Geometry:     geometry,
		BLAS:         blas,
		TextureSlots: e.textureSlots,
	}, nil
}

// Destroy releases the BLAS before the buffers it was built from.
func (ma *MeshAsset) Destroy(pm *PreparedMesh, q *renderer.DestructionQueue) {
	pm.BLAS.Release(q)
	pm.Geometry.Release(q)
}
