package systems

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rt/engine/assets"
	"github.com/spaghettifunk/anima-rt/engine/assets/loaders"
	"github.com/spaghettifunk/anima-rt/engine/renderer"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
)

const testBindlessBinding = 16

func spirv(version uint32) []byte {
	words := []uint32{loaders.SPIRVMagic, version, 0, 8, 0}
	out := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

func rgbaTexture(w, h uint32) *loaders.Texture {
	return &loaders.Texture{Width: w, Height: h, Format: metadata.FormatR8G8B8A8Unorm, Pixels: make([]byte, w*h*4)}
}

func triangleMesh(material string, mat loaders.Material) *loaders.Mesh {
	return &loaders.Mesh{
		Primitives: []loaders.Primitive{{
			Positions: [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
			Normals:   [][3]float32{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}},
			UVs:       [][2]float32{{0, 0}, {1, 0}, {0, 1}},
			Indices:   []uint32{0, 1, 2},
		}},
		MaterialNames: []string{material},
		Materials:     map[string]loaders.Material{material: mat},
	}
}

type assetFixture struct {
	testDevice
	server   *assets.Server
	table    *renderer.BindlessTable
	textures *TexturePipeline
	meshes   *MeshPipeline
	baseline int
}

func newAssetFixture(t *testing.T) *assetFixture {
	t.Helper()
	f := &assetFixture{testDevice: newTestDevice(t), server: newTestServer(t)}
	f.baseline = f.backend.LiveObjects()
	var err error
	f.table, err = renderer.NewBindlessTable(f.rd, testBindlessBinding, 8)
	require.NoError(t, err)
	f.textures, err = NewAssetPipeline(NewTextureAsset(f.table), f.server, f.rd, f.queue)
	require.NoError(t, err)
	f.meshes, err = NewAssetPipeline(NewMeshAsset(raytracing.NewBuilder(f.rd), f.textures.Prepared()), f.server, f.rd, f.queue)
	require.NoError(t, err)
	f.textures.OnPublish(f.meshes.Invalidate)
	return f
}

// settle runs extract and publish on both pipelines, textures first, until
// nothing moves any more.
func (f *assetFixture) settle() {
	for i := 0; i < 4; i++ {
		f.textures.Extract()
		f.textures.WaitIdle()
		f.textures.Publish()
		f.meshes.Extract()
		f.meshes.WaitIdle()
		f.meshes.Publish()
	}
}

func (f *assetFixture) shutdown(t *testing.T) {
	t.Helper()
	require.NoError(t, f.meshes.Shutdown())
	require.NoError(t, f.textures.Shutdown())
	f.table.Destroy(f.queue)
	f.queue.Shutdown()
	assert.Equal(t, f.baseline, f.backend.LiveObjects())
	assert.Empty(t, f.backend.Violations())
}

func TestTextureIsUploadedToABindlessSlot(t *testing.T) {
	f := newAssetFixture(t)
	h := assets.HandleForPath("textures/red.png")
	f.server.Set(h, assets.KindTexture, rgbaTexture(2, 2))
	f.settle()

	tex, ok := f.textures.Prepared().Get(h)
	require.True(t, ok)
	assert.Equal(t, uint32(0), tex.Slot)
	view, ok := f.backend.DescriptorImage(f.table.DescriptorSet().Set, testBindlessBinding, tex.Slot)
	require.True(t, ok)
	assert.Equal(t, tex.Image.View, view)
	_, layout, ok := f.backend.ImageContents(tex.Image.Handle)
	require.True(t, ok)
	assert.Equal(t, metadata.ImageLayoutShaderReadOnly, layout)

	f.shutdown(t)
}

func TestReloadedRGBTextureIsPaddedIntoANewSlot(t *testing.T) {
	f := newAssetFixture(t)
	h := assets.HandleForPath("textures/red.png")
	f.server.Set(h, assets.KindTexture, rgbaTexture(2, 2))
	f.settle()
	first, _ := f.textures.Prepared().Get(h)

	f.server.Set(h, assets.KindTexture, &loaders.Texture{
		Width:  2,
		Height: 1,
		Format: metadata.FormatR8G8B8Unorm,
		Pixels: []byte{1, 2, 3, 4, 5, 6},
	})
	f.settle()

	second, ok := f.textures.Prepared().Get(h)
	require.True(t, ok)
	assert.NotEqual(t, first.Slot, second.Slot)
	assert.Equal(t, metadata.FormatR8G8B8A8Unorm, second.Image.Format)
	texels, _, ok := f.backend.ImageContents(second.Image.Handle)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 255, 4, 5, 6, 255}, texels)
	assert.Equal(t, 2, f.table.Len())

	f.shutdown(t)
}

func TestMeshWaitsForItsTextures(t *testing.T) {
	f := newAssetFixture(t)
	texture := assets.HandleForPath("textures/red.png")
	mesh := assets.HandleForPath("models/tri.obj")
	f.server.Set(mesh, assets.KindMesh, triangleMesh("red", loaders.Material{DiffuseTexture: "textures/red.png"}))
	f.settle()

	_, ok := f.meshes.Prepared().Get(mesh)
	assert.False(t, ok)
	assert.Equal(t, []assets.Handle{mesh}, f.meshes.Dependencies().Dependents(texture))

	f.server.Set(texture, assets.KindTexture, rgbaTexture(4, 4))
	f.settle()

	pm, ok := f.meshes.Prepared().Get(mesh)
	require.True(t, ok)
	tex, _ := f.textures.Prepared().Get(texture)
	assert.Equal(t, []uint32{tex.Slot}, pm.TextureSlots)
	assert.True(t, pm.BLAS.IsReady())
	info, ok := f.backend.AccelerationStructure(pm.BLAS.Handle)
	require.True(t, ok)
	assert.True(t, info.Built)
	assert.Equal(t, []uint32{1}, info.PrimitiveCounts)

	record := pm.HitRecord(mesh)
	assert.Equal(t, mesh, record.Key)
	assert.Equal(t, pm.Geometry.Vertices.Address, record.VertexAddress)
	assert.Equal(t, pm.Geometry.Indices.Address, record.IndexAddress)
	assert.Equal(t, uint64(1), pm.Geometry.Records.Count)

	f.shutdown(t)
}

func TestMeshPicksUpTheSlotOfAReloadedTexture(t *testing.T) {
	f := newAssetFixture(t)
	texture := assets.HandleForPath("textures/red.png")
	mesh := assets.HandleForPath("models/tri.obj")
	f.server.Set(texture, assets.KindTexture, rgbaTexture(2, 2))
	f.server.Set(mesh, assets.KindMesh, triangleMesh("red", loaders.Material{DiffuseTexture: "textures/red.png"}))
	f.settle()
	before, ok := f.meshes.Prepared().Get(mesh)
	require.True(t, ok)

	f.server.Set(texture, assets.KindTexture, rgbaTexture(8, 8))
	f.settle()
	after, ok := f.meshes.Prepared().Get(mesh)
	require.True(t, ok)
	assert.NotSame(t, before, after)
	assert.NotEqual(t, before.TextureSlots, after.TextureSlots)

	f.shutdown(t)
}

func TestMeshWithoutMaterialsUsesTheDefault(t *testing.T) {
	f := newAssetFixture(t)
	mesh := assets.NewHandle()
	m := triangleMesh("", loaders.Material{})
	m.Materials = map[string]loaders.Material{}
	f.server.Set(mesh, assets.KindMesh, m)
	f.settle()

	pm, ok := f.meshes.Prepared().Get(mesh)
	require.True(t, ok)
	assert.Empty(t, pm.TextureSlots)

	f.shutdown(t)
}

func setPipelineShaders(server *assets.Server, version uint32) *loaders.Pipeline {
	p := &loaders.Pipeline{
		Raygen:             assets.HandleForPath("shaders/raygen.rgen.spv"),
		Miss:               assets.HandleForPath("shaders/miss.rmiss.spv"),
		ClosestHit:         assets.HandleForPath("shaders/triangle.rchit.spv"),
		SphereClosestHit:   assets.HandleForPath("shaders/sphere.rchit.spv"),
		SphereIntersection: assets.HandleForPath("shaders/sphere.rint.spv"),
		MaxRecursionDepth:  1,
	}
	for i, h := range p.Shaders() {
		server.Set(h, assets.KindShader, &loaders.Shader{Stage: pipelineStages[i], Version: version, Code: spirv(version)})
	}
	return p
}

func TestRayTracingPipelineIsBuiltFromItsShaders(t *testing.T) {
	f := newAssetFixture(t)
	pipelines, err := NewAssetPipeline(NewRayTracingPipelineAsset(f.server, f.table), f.server, f.rd, f.queue)
	require.NoError(t, err)
	pipelines.DependsOn(assets.KindShader)

	h := loaders.PipelineHandle("scenes/test.scene.toml")
	f.server.Set(h, assets.KindRayTracingPipeline, setPipelineShaders(f.server, 0x00010500))
	require.Equal(t, 1, pipelines.Extract())
	pipelines.WaitIdle()
	require.Equal(t, 1, pipelines.Publish())

	p, ok := pipelines.Prepared().Get(h)
	require.True(t, ok)
	assert.Len(t, p.Modules, stageCount)
	assert.NotZero(t, p.Pipeline)
	handles := []metadata.GroupHandle{p.Handles.Raygen, p.Handles.Miss, p.Handles.TriangleHit, p.Handles.SphereHit}
	for i := range handles {
		for j := i + 1; j < len(handles); j++ {
			assert.NotEqual(t, handles[i], handles[j])
		}
	}
	stats := f.backend.Stats()
	assert.Equal(t, 1, stats.Pipelines)
	assert.Equal(t, stageCount, stats.ShaderModules)

	// a shader of the wrong stage keeps the current pipeline
	miss := assets.HandleForPath("shaders/miss.rmiss.spv")
	f.server.Set(miss, assets.KindShader, &loaders.Shader{Stage: metadata.ShaderStageRaygen, Code: spirv(1)})
	assert.Zero(t, pipelines.Extract())

	// fixing it rebuilds
	setPipelineShaders(f.server, 0x00010600)
	assert.Equal(t, 1, pipelines.Extract())
	pipelines.WaitIdle()
	require.Equal(t, 1, pipelines.Publish())
	rebuilt, _ := pipelines.Prepared().Get(h)
	assert.NotEqual(t, p.Pipeline, rebuilt.Pipeline)

	require.NoError(t, pipelines.Shutdown())
	f.shutdown(t)
}
