package raytracing

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/math"
	"github.com/spaghettifunk/anima-rt/engine/renderer"
	"github.com/spaghettifunk/anima-rt/engine/renderer/headless"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

type fixture struct {
	rd      *renderer.RenderDevice
	backend *headless.Backend
	queue   *renderer.DestructionQueue
	cmds    *renderer.CommandContext
	builder *Builder
}

func newFixture(t *testing.T, opts ...headless.Option) *fixture {
	t.Helper()
	core.SetLogOutput(io.Discard)
	backend := headless.New(opts...)
	rd, err := renderer.NewRenderDevice(backend)
	require.NoError(t, err)
	cmds, err := rd.NewCommandContext("raytracing-test")
	require.NoError(t, err)
	return &fixture{
		rd:      rd,
		backend: backend,
		queue:   renderer.NewDestructionQueue(rd, 3),
		cmds:    cmds,
		builder: NewBuilder(rd),
	}
}

// shutdown tears everything down and checks nothing leaked.
func (f *fixture) shutdown(t *testing.T) {
	t.Helper()
	f.cmds.Destroy()
	f.queue.Shutdown()
	require.NoError(t, f.rd.Shutdown())
	assert.Equal(t, 0, f.backend.LiveObjects())
	assert.Empty(t, f.backend.Violations())
}

// grid returns an n by n quad grid in the XY plane, two triangles per quad.
func grid(n int) Primitive {
	var p Primitive
	for y := 0; y <= n; y++ {
		for x := 0; x <= n; x++ {
			p.Positions = append(p.Positions, [3]float32{float32(x), float32(y), 0})
			p.Normals = append(p.Normals, [3]float32{0, 0, 1})
			p.UVs = append(p.UVs, [2]float32{float32(x) / float32(n), float32(y) / float32(n)})
		}
	}
	row := uint32(n + 1)
	for y := uint32(0); y < uint32(n); y++ {
		for x := uint32(0); x < uint32(n); x++ {
			i := y*row + x
			p.Indices = append(p.Indices, i, i+1, i+row, i+1, i+row+1, i+row)
		}
	}
	return p
}

type meshBuffers struct {
	vertices renderer.Buffer[metadata.Vertex]
	indices  renderer.Buffer[uint32]
}

func (m *meshBuffers) release(q *renderer.DestructionQueue) {
	m.vertices.Release(q)
	m.indices.Release(q)
}

func uploadMesh(t *testing.T, f *fixture, mesh PackedMesh) meshBuffers {
	t.Helper()
	usage := metadata.BufferUsageStorageBuffer | metadata.BufferUsageAccelerationStructureBuildInputReadOnly
	vertices, err := renderer.CreateDeviceBufferFrom(f.rd, f.cmds, mesh.Vertices, usage)
	require.NoError(t, err)
	indices, err := renderer.CreateDeviceBufferFrom(f.rd, f.cmds, mesh.Indices, usage)
	require.NoError(t, err)
	return meshBuffers{vertices: vertices, indices: indices}
}

func TestPackPrimitivesRebasesIndices(t *testing.T) {
	tri := Primitive{
		Positions: [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		Normals:   [][3]float32{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}},
		Indices:   []uint32{0, 1, 2},
	}
	mesh, err := PackPrimitives([]Primitive{tri, grid(1)})
	require.NoError(t, err)

	require.Len(t, mesh.Geometries, 2)
	assert.Equal(t, metadata.GeometryDescriptor{FirstVertex: 0, VertexCount: 3, FirstIndex: 0, IndexCount: 3}, mesh.Geometries[0])
	assert.Equal(t, metadata.GeometryDescriptor{FirstVertex: 3, VertexCount: 4, FirstIndex: 3, IndexCount: 6}, mesh.Geometries[1])
	assert.Len(t, mesh.Vertices, 7)
	assert.Equal(t, []uint32{0, 1, 2, 3, 4, 5, 4, 6, 5}, mesh.Indices)
	assert.Equal(t, []uint32{0, 3}, mesh.GeometryIndexOffsets())
	assert.Equal(t, [2]float32{1, 1}, mesh.Vertices[6].UV)
}

func TestPackPrimitivesRejectsBadInput(t *testing.T) {
	base := func() Primitive {
		return Primitive{
			Positions: [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
			Normals:   [][3]float32{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}},
			Indices:   []uint32{0, 1, 2},
		}
	}
	cases := map[string]func(p *Primitive){
		"partial triangle":   func(p *Primitive) { p.Indices = append(p.Indices, 0) },
		"no indices":         func(p *Primitive) { p.Indices = nil },
		"missing normals":    func(p *Primitive) { p.Normals = p.Normals[:2] },
		"short uvs":          func(p *Primitive) { p.UVs = [][2]float32{{0, 0}} },
		"index out of range": func(p *Primitive) { p.Indices[2] = 3 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := base()
			mutate(&p)
			_, err := PackPrimitives([]Primitive{p})
			require.Error(t, err)
			assert.True(t, core.IsFatal(err))
		})
	}

	_, err := PackPrimitives(nil)
	assert.True(t, core.IsFatal(err))
}

func TestSanitizeNormal(t *testing.T) {
	assert.Equal(t, [3]float32{}, sanitizeNormal([3]float32{math32.NaN(), 0, 1}))
	assert.Equal(t, [3]float32{1, 0, 0}, sanitizeNormal([3]float32{0, 0, 2}))
	assert.Equal(t, [3]float32{0, 1, 0}, sanitizeNormal([3]float32{0, 1, 0}))
}

func TestAlignScratchAddress(t *testing.T) {
	assert.Equal(t, metadata.DeviceAddress(256), AlignScratchAddress(128, 128))
	assert.Equal(t, metadata.DeviceAddress(256), AlignScratchAddress(192, 128))
	assert.Equal(t, metadata.DeviceAddress(128), AlignScratchAddress(64, 128))
	assert.Equal(t, metadata.DeviceAddress(64), AlignScratchAddress(64, 0))
}

func TestBuildAndCompactBLAS(t *testing.T) {
	f := newFixture(t)
	mesh, err := PackPrimitives([]Primitive{grid(8), grid(2)})
	require.NoError(t, err)
	bufs := uploadMesh(t, f, mesh)

	as, err := f.builder.BuildBLAS(f.cmds, mesh.Geometries, bufs.vertices, bufs.indices, BLASOptions{})
	require.NoError(t, err)
	assert.Equal(t, StateBuilt, as.State)

	built, ok := f.backend.AccelerationStructure(as.Handle)
	require.True(t, ok)
	assert.True(t, built.Built)
	assert.Equal(t, MeshBuildFlags, built.Flags)
	assert.Equal(t, []uint32{128, 8}, built.PrimitiveCounts)
	assert.Equal(t, as.Address, built.Address)
	// scratch is gone once the build returns
	assert.Equal(t, 3, f.backend.Stats().Buffers)

	original := as
	require.NoError(t, f.builder.CompactBLAS(f.cmds, &as))
	assert.Equal(t, StateCompacted, as.State)
	assert.LessOrEqual(t, as.Buffer.Count, original.Buffer.Count)
	assert.NotEqual(t, original.Handle, as.Handle)

	_, ok = f.backend.AccelerationStructure(original.Handle)
	assert.False(t, ok)
	compacted, ok := f.backend.AccelerationStructure(as.Handle)
	require.True(t, ok)
	assert.True(t, compacted.Compacted)
	assert.Equal(t, built.PrimitiveCounts, compacted.PrimitiveCounts)
	assert.Equal(t, compacted.Address, as.Address)
	assert.Zero(t, f.backend.Stats().QueryPools)

	require.Error(t, f.builder.CompactBLAS(f.cmds, &as))

	as.Release(f.queue)
	bufs.release(f.queue)
	f.shutdown(t)
}

func TestBuildBLASValidation(t *testing.T) {
	f := newFixture(t)
	mesh, err := PackPrimitives([]Primitive{grid(1)})
	require.NoError(t, err)
	bufs := uploadMesh(t, f, mesh)

	cases := map[string][]metadata.GeometryDescriptor{
		"partial triangle":  {{VertexCount: 4, IndexCount: 4}},
		"indices past end":  {{VertexCount: 4, FirstIndex: 3, IndexCount: 6}},
		"vertices past end": {{FirstVertex: 2, VertexCount: 4, IndexCount: 6}},
	}
	for name, geometries := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.builder.BuildBLAS(f.cmds, geometries, bufs.vertices, bufs.indices, BLASOptions{})
			require.Error(t, err)
			assert.True(t, core.IsFatal(err))
		})
	}

	plain, err := renderer.CreateDeviceBuffer[uint32](f.rd, 6, metadata.BufferUsageStorageBuffer)
	require.NoError(t, err)
	_, err = f.builder.BuildBLAS(f.cmds, mesh.Geometries, bufs.vertices, plain, BLASOptions{})
	assert.True(t, core.IsFatal(err))

	assert.Zero(t, f.backend.Stats().AccelerationStructures)
	plain.Release(f.queue)
	bufs.release(f.queue)
	f.shutdown(t)
}

func TestBuildBLASWithoutGeometriesIsANoOp(t *testing.T) {
	f := newFixture(t)
	mesh, err := PackPrimitives([]Primitive{grid(1)})
	require.NoError(t, err)
	bufs := uploadMesh(t, f, mesh)
	before := f.backend.Stats()

	for _, geometries := range [][]metadata.GeometryDescriptor{nil, {}} {
		as, err := f.builder.BuildBLAS(f.cmds, geometries, bufs.vertices, bufs.indices, BLASOptions{})
		require.NoError(t, err)
		assert.Equal(t, StateEmpty, as.State)
		assert.False(t, as.IsReady())
		assert.Zero(t, as.Reference())
	}

	after := f.backend.Stats()
	assert.Equal(t, before.Submits, after.Submits)
	assert.Equal(t, before.Buffers, after.Buffers)
	assert.Zero(t, after.AccelerationStructures)

	bufs.release(f.queue)
	f.shutdown(t)
}

func TestSphereBLAS(t *testing.T) {
	f := newFixture(t)
	sphere, err := f.builder.BuildSphereBLAS(f.cmds)
	require.NoError(t, err)

	info, ok := f.backend.AccelerationStructure(sphere.AccelerationStructure.Handle)
	require.True(t, ok)
	assert.Equal(t, metadata.AccelerationStructureTypeBottomLevel, info.Type)
	assert.Equal(t, []uint32{1}, info.PrimitiveCounts)
	assert.Equal(t, metadata.BuildAccelerationStructurePreferFastTrace, info.Flags)
	assert.Equal(t, uint64(1), sphere.AABBs.Count)

	sphere.Release(f.queue)
	f.shutdown(t)
}

func TestNewInstancePacksFields(t *testing.T) {
	transform := math.NewMat4Translation(math.NewVec3(1, 2, 3))
	inst := NewInstance(transform, 7, 3, 0xABCDEF)

	assert.Equal(t, uint32(7), inst.CustomIndex())
	assert.Equal(t, uint8(0xFF), inst.Mask())
	assert.Equal(t, uint32(3), inst.SBTRecordOffset())
	assert.Equal(t, metadata.GeometryInstanceTriangleFacingCullDisable, inst.Flags())
	assert.Equal(t, uint64(0xABCDEF), inst.AccelerationStructureReference)
	assert.Equal(t, float32(1), inst.Transform[3])
	assert.Equal(t, float32(2), inst.Transform[7])
	assert.Equal(t, float32(3), inst.Transform[11])
	assert.Equal(t, uint64(64), metadata.AccelerationStructureInstanceSize)
}

func sphereInstances(sphere ProceduralBLAS, n int) []metadata.AccelerationStructureInstance {
	out := make([]metadata.AccelerationStructureInstance, n)
	for i := range out {
		pos := math.NewVec3(float32(i), 0, 0)
		out[i] = NewInstance(math.NewMat4Translation(pos), uint32(i), SphereHitOffset, sphere.Reference())
	}
	return out
}

func sizes(f *fixture, instances uint32) uint64 {
	info := metadata.AccelerationStructureBuildGeometryInfo{
		Type:       metadata.AccelerationStructureTypeTopLevel,
		Geometries: []metadata.AccelerationStructureGeometry{{Type: metadata.GeometryTypeInstances}},
	}
	return f.backend.GetAccelerationStructureBuildSizes(info, []uint32{instances}).BuildScratchSize
}

func TestTLASBuildReusesBuffers(t *testing.T) {
	f := newFixture(t)
	sphere, err := f.builder.BuildSphereBLAS(f.cmds)
	require.NoError(t, err)
	tlas := NewTLAS(f.builder)

	before := f.backend.Stats()
	require.NoError(t, tlas.Build(f.cmds, nil, f.queue))
	assert.False(t, tlas.IsReady())
	assert.Equal(t, before, f.backend.Stats())

	require.NoError(t, tlas.Build(f.cmds, sphereInstances(sphere, 5), f.queue))
	require.True(t, tlas.IsReady())
	first := *tlas
	info, ok := f.backend.AccelerationStructure(tlas.Handle())
	require.True(t, ok)
	assert.Equal(t, metadata.AccelerationStructureTypeTopLevel, info.Type)
	assert.Len(t, info.InstanceReferences, 5)
	assert.Equal(t, uint64(5), tlas.InstanceBuffer().Count)
	assert.Equal(t, sizes(f, 5)+f.builder.ScratchAlignment(), tlas.ScratchBuffer().Count)

	require.NoError(t, tlas.Build(f.cmds, sphereInstances(sphere, 5), f.queue))
	assert.Equal(t, first.InstanceBuffer().Handle, tlas.InstanceBuffer().Handle)
	assert.Equal(t, first.AccelerationStructure.Buffer.Handle, tlas.AccelerationStructure.Buffer.Handle)
	assert.Equal(t, first.ScratchBuffer().Handle, tlas.ScratchBuffer().Handle)
	assert.NotEqual(t, first.Handle(), tlas.Handle())

	require.NoError(t, tlas.Build(f.cmds, sphereInstances(sphere, 3), f.queue))
	assert.NotEqual(t, first.InstanceBuffer().Handle, tlas.InstanceBuffer().Handle)
	assert.Equal(t, uint64(3), tlas.InstanceBuffer().Count)

	// the superseded structures are only gone after the frames in flight
	for i := 0; i < 3; i++ {
		f.queue.NextFrame()
	}
	f.queue.Sync()
	assert.Equal(t, 2, f.backend.Stats().AccelerationStructures)

	tlas.Release(f.queue)
	sphere.Release(f.queue)
	f.shutdown(t)
}

func TestComputeLayout(t *testing.T) {
	cases := []struct {
		name        string
		handleAlign uint32
		baseAlign   uint32
		hits        uint32
		want        Layout
	}{
		{
			name: "defaults", handleAlign: 32, baseAlign: 64, hits: 3,
			want: Layout{
				Raygen: metadata.StridedDeviceAddressRegion{Stride: 64, Size: 64},
				Miss:   metadata.StridedDeviceAddressRegion{DeviceAddress: 64, Stride: 32, Size: 64},
				Hit:    metadata.StridedDeviceAddressRegion{DeviceAddress: 128, Stride: 64, Size: 192},
			},
		},
		{
			name: "wide base alignment", handleAlign: 32, baseAlign: 128, hits: 3,
			want: Layout{
				Raygen: metadata.StridedDeviceAddressRegion{Stride: 128, Size: 128},
				Miss:   metadata.StridedDeviceAddressRegion{DeviceAddress: 128, Stride: 32, Size: 128},
				Hit:    metadata.StridedDeviceAddressRegion{DeviceAddress: 256, Stride: 128, Size: 384},
			},
		},
		{
			name: "sphere only", handleAlign: 64, baseAlign: 64, hits: 1,
			want: Layout{
				Raygen: metadata.StridedDeviceAddressRegion{Stride: 64, Size: 64},
				Miss:   metadata.StridedDeviceAddressRegion{DeviceAddress: 64, Stride: 64, Size: 64},
				Hit:    metadata.StridedDeviceAddressRegion{DeviceAddress: 128, Stride: 64, Size: 64},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			props := metadata.RayTracingPipelineProperties{
				ShaderGroupHandleSize:      32,
				ShaderGroupHandleAlignment: tc.handleAlign,
				ShaderGroupBaseAlignment:   tc.baseAlign,
			}
			l := ComputeLayout(props, tc.hits)
			assert.Equal(t, tc.want, l)
			for _, r := range []metadata.StridedDeviceAddressRegion{l.Raygen, l.Miss, l.Hit} {
				assert.Zero(t, uint64(r.DeviceAddress)%uint64(tc.baseAlign))
				assert.Zero(t, r.Size%uint64(tc.baseAlign))
				assert.Zero(t, r.Stride%uint64(tc.handleAlign))
			}
			assert.Equal(t, l.Raygen.Stride, l.Raygen.Size)
		})
	}
}

func handle(b byte) metadata.GroupHandle {
	var h metadata.GroupHandle
	for i := range h {
		h[i] = b
	}
	return h
}

func TestShaderBindingTableUpdate(t *testing.T) {
	f := newFixture(t)
	handles := PipelineHandles{Raygen: handle(1), Miss: handle(2), TriangleHit: handle(3), SphereHit: handle(4)}
	meshes := []MeshHitRecord[string]{
		{Key: "a", VertexAddress: 0x1000, IndexAddress: 0x2000, GeometryOffsetAddress: 0x3000},
		{Key: "b", VertexAddress: 0x4000, IndexAddress: 0x5000, GeometryOffsetAddress: 0x6000},
	}

	sbt := NewShaderBindingTable[string]()
	require.NoError(t, sbt.Update(f.rd, f.queue, handles, meshes))
	assert.Equal(t, map[string]uint32{"a": 1, "b": 2}, sbt.TriangleOffsets)

	usage, ok := f.backend.BufferUsage(sbt.Buffer().Handle)
	require.True(t, ok)
	assert.NotZero(t, usage&metadata.BufferUsageShaderBindingTable)

	base := sbt.Buffer().Address
	assert.Equal(t, base, sbt.Raygen.DeviceAddress)
	assert.Equal(t, base+64, sbt.Miss.DeviceAddress)
	assert.Equal(t, base+128, sbt.Hit.DeviceAddress)

	raw, ok := f.backend.BufferContents(sbt.Buffer().Handle)
	require.True(t, ok)
	assert.Equal(t, handles.Raygen[:], raw[0:32])
	assert.Equal(t, handles.Miss[:], raw[64:96])
	assert.Equal(t, handles.SphereHit[:], raw[128:160])
	second := raw[128+2*64:]
	assert.Equal(t, handles.TriangleHit[:], second[:32])
	assert.Equal(t, uint64(0x4000), binary.LittleEndian.Uint64(second[32:]))
	assert.Equal(t, uint64(0x5000), binary.LittleEndian.Uint64(second[40:]))
	assert.Equal(t, uint64(0x6000), binary.LittleEndian.Uint64(second[48:]))

	// same input, same buffer and bytes
	buffer := sbt.Buffer().Handle
	require.NoError(t, sbt.Update(f.rd, f.queue, handles, meshes))
	assert.Equal(t, buffer, sbt.Buffer().Handle)
	again, _ := f.backend.BufferContents(sbt.Buffer().Handle)
	assert.Equal(t, raw, again)

	meshes = append(meshes, MeshHitRecord[string]{Key: "c", VertexAddress: 0x7000, IndexAddress: 0x8000, GeometryOffsetAddress: 0x9000})
	require.NoError(t, sbt.Update(f.rd, f.queue, handles, meshes))
	assert.NotEqual(t, buffer, sbt.Buffer().Handle)
	assert.Equal(t, uint32(3), sbt.TriangleOffsets["c"])
	assert.Equal(t, uint64(256), sbt.Hit.Size)

	sbt.Release(f.queue)
	f.shutdown(t)
}

func TestShaderBindingTableAlignsRegionsOnAMisalignedBuffer(t *testing.T) {
	f := newFixture(t, headless.WithBufferAddressAlignment(16))
	handles := PipelineHandles{Raygen: handle(1), Miss: handle(2), TriangleHit: handle(3), SphereHit: handle(4)}
	meshes := []MeshHitRecord[string]{{Key: "a", VertexAddress: 0x1000, IndexAddress: 0x2000, GeometryOffsetAddress: 0x3000}}

	// pushes the next buffer address off the group base alignment
	filler, err := renderer.CreateHostBuffer[byte](f.rd, 16, metadata.BufferUsageStorageBuffer)
	require.NoError(t, err)

	sbt := NewShaderBindingTable[string]()
	require.NoError(t, sbt.Update(f.rd, f.queue, handles, meshes))
	start := sbt.Buffer().Address
	require.NotZero(t, uint64(start)%64)

	end := start + metadata.DeviceAddress(sbt.Buffer().Count)
	for name, region := range map[string]metadata.StridedDeviceAddressRegion{"raygen": sbt.Raygen, "miss": sbt.Miss, "hit": sbt.Hit} {
		assert.Zero(t, uint64(region.DeviceAddress)%64, name)
		assert.GreaterOrEqual(t, region.DeviceAddress, start, name)
		assert.LessOrEqual(t, region.DeviceAddress+metadata.DeviceAddress(region.Size), end, name)
	}
	assert.Equal(t, sbt.Raygen.DeviceAddress+64, sbt.Miss.DeviceAddress)
	assert.Equal(t, sbt.Raygen.DeviceAddress+128, sbt.Hit.DeviceAddress)

	raw, ok := f.backend.BufferContents(sbt.Buffer().Handle)
	require.True(t, ok)
	offset := uint64(sbt.Raygen.DeviceAddress - start)
	assert.Equal(t, handles.Raygen[:], raw[offset:offset+32])
	assert.Equal(t, handles.Miss[:], raw[offset+64:offset+96])
	assert.Equal(t, handles.SphereHit[:], raw[offset+128:offset+160])
	first := raw[offset+192:]
	assert.Equal(t, handles.TriangleHit[:], first[:32])
	assert.Equal(t, uint64(0x1000), binary.LittleEndian.Uint64(first[32:]))

	sbt.Release(f.queue)
	filler.Release(f.queue)
	f.shutdown(t)
}
