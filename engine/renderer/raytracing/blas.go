package raytracing

import (
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// MeshBuildFlags are used for triangle structures, which are compacted after
// the build.
const MeshBuildFlags = metadata.BuildAccelerationStructurePreferFastTrace | metadata.BuildAccelerationStructureAllowCompaction

// BLASOptions tune a triangle build. The zero value builds with MeshBuildFlags.
type BLASOptions struct {
	Flags metadata.BuildAccelerationStructureFlags
}

func (o BLASOptions) flags() metadata.BuildAccelerationStructureFlags {
	if o.Flags == 0 {
		return MeshBuildFlags
	}
	return o.Flags
}

/**
 * @brief Builds a bottom level structure over the triangles of every
 * geometry. vertices and indices must be device buffers readable as build
 * input, with indices already rebased onto the whole vertex buffer. No
 * geometries is a no-op that returns an empty structure.
 */
func (b *Builder) BuildBLAS(
	cmds *renderer.CommandContext,
	geometries []metadata.GeometryDescriptor,
	vertices renderer.Buffer[metadata.Vertex],
	indices renderer.Buffer[uint32],
	opts BLASOptions,
) (AccelerationStructure, error) {
	if len(geometries) == 0 {
		return AccelerationStructure{}, nil
	}
	if err := validateTriangleInput(geometries, vertices, indices); err != nil {
		return AccelerationStructure{}, err
	}

	triangles := metadata.TrianglesData{
		VertexFormat: metadata.FormatR32G32B32Sfloat,
		VertexData:   vertices.Address,
		VertexStride: metadata.VertexSize,
		MaxVertex:    uint32(vertices.Count - 1),
		IndexType:    metadata.IndexTypeUint32,
		IndexData:    indices.Address,
	}
	infos := make([]metadata.AccelerationStructureGeometry, len(geometries))
	ranges := make([]metadata.AccelerationStructureBuildRangeInfo, len(geometries))
	for i, g := range geometries {
		infos[i] = metadata.AccelerationStructureGeometry{
			Type:      metadata.GeometryTypeTriangles,
			Flags:     metadata.GeometryOpaque,
			Triangles: triangles,
		}
		ranges[i] = metadata.AccelerationStructureBuildRangeInfo{
			PrimitiveCount: g.IndexCount / 3,
			// byte offset of the first index
			PrimitiveOffset: g.FirstIndex * 4,
		}
	}

	as, err := b.buildBottomLevel(cmds, infos, ranges, opts.flags())
	if err != nil {
		return as, err
	}
	core.LogDebug("built blas with %d vertices and %d indices over %d geometries (%d bytes)",
		vertices.Count, indices.Count, len(geometries), as.Buffer.Count)
	return as, nil
}

func validateTriangleInput(geometries []metadata.GeometryDescriptor, vertices renderer.Buffer[metadata.Vertex], indices renderer.Buffer[uint32]) error {
	if vertices.IsNull() || indices.IsNull() {
		return core.Assertf("triangle build without vertex or index data")
	}
	const input = metadata.BufferUsageAccelerationStructureBuildInputReadOnly
	if vertices.Usage&input == 0 || indices.Usage&input == 0 {
		return core.Assertf("vertex buffer %d or index buffer %d is not usable as build input", vertices.Handle, indices.Handle)
	}
	for i, g := range geometries {
		if g.IndexCount == 0 || g.IndexCount%3 != 0 {
			return core.Assertf("geometry %d has %d indices, not a whole number of triangles", i, g.IndexCount)
		}
		if uint64(g.FirstIndex)+uint64(g.IndexCount) > indices.Count {
			return core.Assertf("geometry %d indices [%d, %d) exceed the index buffer of %d",
				i, g.FirstIndex, g.FirstIndex+g.IndexCount, indices.Count)
		}
		if uint64(g.FirstVertex)+uint64(g.VertexCount) > vertices.Count {
			return core.Assertf("geometry %d vertices [%d, %d) exceed the vertex buffer of %d",
				i, g.FirstVertex, g.FirstVertex+g.VertexCount, vertices.Count)
		}
	}
	return nil
}

// buildBottomLevel runs the size query, allocation and build shared by the
// triangle and AABB paths. Scratch memory is freed before returning.
func (b *Builder) buildBottomLevel(
	cmds *renderer.CommandContext,
	geometries []metadata.AccelerationStructureGeometry,
	ranges []metadata.AccelerationStructureBuildRangeInfo,
	flags metadata.BuildAccelerationStructureFlags,
) (AccelerationStructure, error) {
	info := metadata.AccelerationStructureBuildGeometryInfo{
		Type:       metadata.AccelerationStructureTypeBottomLevel,
		Flags:      flags,
		Mode:       metadata.BuildAccelerationStructureModeBuild,
		Geometries: geometries,
	}
	sizes := b.rd.Backend().GetAccelerationStructureBuildSizes(info, primitiveCounts(ranges))

	as, err := b.allocate(metadata.AccelerationStructureTypeBottomLevel, sizes.AccelerationStructureSize)
	if err != nil {
		return as, err
	}
	scratch, err := b.createScratch(sizes.BuildScratchSize)
	if err != nil {
		as.destroyNow(b.rd)
		return AccelerationStructure{}, err
	}
	defer b.rd.DestroyBuffer(scratch.Handle)

	info.Dst = as.Handle
	info.Scratch = AlignScratchAddress(scratch.Address, b.scratchAlignment)
	if err := b.build(cmds, info, ranges); err != nil {
		as.destroyNow(b.rd)
		return AccelerationStructure{}, core.Wrap(err, "building bottom level acceleration structure")
	}
	as.State = StateBuilt
	core.MetricsCounters().BLASBuilt.Add(1)
	return as, nil
}

/**
 * @brief Replaces a built structure with a compacted copy. The original
 * structure, its buffer and the query pool are destroyed once the copy has
 * completed, and the device address is fetched again.
 */
func (b *Builder) CompactBLAS(cmds *renderer.CommandContext, as *AccelerationStructure) error {
	if as.State != StateBuilt {
		return core.Assertf("compacting acceleration structure %d in state %s", as.Handle, as.State)
	}
	backend := b.rd.Backend()

	pool, err := backend.CreateQueryPool(metadata.QueryTypeAccelerationStructureCompactedSize, 1)
	if err != nil {
		return core.Wrap(err, "creating compaction query pool")
	}
	defer backend.DestroyQueryPool(pool)

	if err := cmds.Run(func(cmd metadata.CommandBufferHandle) error {
		backend.CmdResetQueryPool(cmd, pool, 0, 1)
		backend.CmdWriteCompactedSize(cmd, as.Handle, pool, 0)
		return nil
	}); err != nil {
		return core.Wrap(err, "querying compacted size")
	}
	results, err := backend.GetQueryPoolResults(pool, 0, 1)
	if err != nil {
		return core.Wrap(err, "reading compacted size")
	}
	compactedSize := results[0]
	if compactedSize == 0 || compactedSize > as.Buffer.Count {
		return core.Assertf("compacted size %d of a %d byte structure", compactedSize, as.Buffer.Count)
	}

	compacted, err := b.allocate(metadata.AccelerationStructureTypeBottomLevel, compactedSize)
	if err != nil {
		return err
	}
	if err := cmds.Run(func(cmd metadata.CommandBufferHandle) error {
		backend.CmdCopyAccelerationStructure(cmd, metadata.CopyAccelerationStructureInfo{
			Src:  as.Handle,
			Dst:  compacted.Handle,
			Mode: metadata.CopyAccelerationStructureModeCompact,
		})
		backend.CmdAccelerationStructureBarrier(cmd)
		return nil
	}); err != nil {
		compacted.destroyNow(b.rd)
		return core.Wrap(err, "copying compacted acceleration structure")
	}

	original := as.Buffer.Count
	as.destroyNow(b.rd)
	compacted.State = StateCompacted
	compacted.Address = backend.AccelerationStructureDeviceAddress(compacted.Handle)
	*as = compacted

	core.LogDebug("blas compaction: %d -> %d (%.1f%%)", original, compactedSize, float64(compactedSize)/float64(original)*100)
	counters := core.MetricsCounters()
	counters.BLASCompacted.Add(1)
	counters.CompactionBytesSaved.Add(original - compactedSize)
	return nil
}
