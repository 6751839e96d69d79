package headless

import (
	"encoding/binary"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

type accelerationStructure struct {
	kind      metadata.AccelerationStructureType
	buffer    metadata.BufferHandle
	size      uint64
	address   metadata.DeviceAddress
	built     bool
	compacted bool
	flags     metadata.BuildAccelerationStructureFlags
	// One entry per geometry of the last build.
	primitives []uint32
	instances  []metadata.DeviceAddress
}

type queryPool struct {
	kind      metadata.QueryType
	results   []uint64
	reset     []bool
	available []bool
}

func structureSize(primitives uint64) uint64 {
	return alignUp(256+64*primitives, 256)
}

func compactedSize(size uint64) uint64 {
	c := alignUp(size*6/10, 256)
	if c < 256 {
		c = 256
	}
	return c
}

func (b *Backend) GetAccelerationStructureBuildSizes(info metadata.AccelerationStructureBuildGeometryInfo, maxPrimitiveCounts []uint32) metadata.AccelerationStructureBuildSizes {
	if len(maxPrimitiveCounts) != len(info.Geometries) {
		b.mu.Lock()
		b.violation("size query with %d geometries and %d primitive counts", len(info.Geometries), len(maxPrimitiveCounts))
		b.mu.Unlock()
	}
	var total uint64
	for _, c := range maxPrimitiveCounts {
		total += uint64(c)
	}
	scratch := 128 + 32*total
	return metadata.AccelerationStructureBuildSizes{
		AccelerationStructureSize: structureSize(total),
		UpdateScratchSize:         scratch / 2,
		BuildScratchSize:          scratch,
	}
}

func (b *Backend) CreateAccelerationStructure(info metadata.AccelerationStructureCreateInfo) (metadata.AccelerationStructureHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.buffers[info.Buffer]
	if !ok {
		return metadata.NullAccelerationStructure, core.Wrapf(core.ErrNullResource, "buffer %d", info.Buffer)
	}
	if buf.usage&metadata.BufferUsageAccelerationStructureStorage == 0 {
		return metadata.NullAccelerationStructure, core.Assertf("buffer %d lacks ACCELERATION_STRUCTURE_STORAGE usage", info.Buffer)
	}
	if info.Offset%256 != 0 || info.Offset+info.Size > buf.size {
		return metadata.NullAccelerationStructure, core.Assertf("acceleration structure range [%d, %d) does not fit buffer %d of %d bytes",
			info.Offset, info.Offset+info.Size, info.Buffer, buf.size)
	}
	h := metadata.AccelerationStructureHandle(b.handle())
	address := buf.address + metadata.DeviceAddress(info.Offset)
	if buf.address == 0 {
		address = metadata.DeviceAddress(b.nextAddress)
		b.nextAddress = alignUp(b.nextAddress+info.Size, defaultAddressAlignment)
	}
	b.accels[h] = &accelerationStructure{
		kind:    info.Type,
		buffer:  info.Buffer,
		size:    info.Size,
		address: address,
	}
	return h, nil
}

func (b *Backend) AccelerationStructureDeviceAddress(h metadata.AccelerationStructureHandle) metadata.DeviceAddress {
	b.mu.Lock()
	defer b.mu.Unlock()
	as, ok := b.accels[h]
	if !ok {
		b.violation("device address of unknown acceleration structure %d", h)
		return 0
	}
	return as.address
}

func (b *Backend) DestroyAccelerationStructure(h metadata.AccelerationStructureHandle) {
	if h == metadata.NullAccelerationStructure {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.accels[h]; !ok {
		b.violation("destroy of unknown acceleration structure %d", h)
		return
	}
	delete(b.accels, h)
}

func (b *Backend) CmdBuildAccelerationStructure(cmd metadata.CommandBufferHandle, info metadata.AccelerationStructureBuildGeometryInfo, ranges []metadata.AccelerationStructureBuildRangeInfo) {
	geometries := append([]metadata.AccelerationStructureGeometry(nil), info.Geometries...)
	ranges = append([]metadata.AccelerationStructureBuildRangeInfo(nil), ranges...)
	b.record(cmd, "build acceleration structure", func() {
		dst, ok := b.accels[info.Dst]
		if !ok {
			b.violation("build into unknown acceleration structure %d", info.Dst)
			return
		}
		if dst.kind != info.Type {
			b.violation("build of type %d into acceleration structure %d of type %d", info.Type, info.Dst, dst.kind)
			return
		}
		if len(geometries) == 0 || len(geometries) != len(ranges) {
			b.violation("build with %d geometries and %d ranges", len(geometries), len(ranges))
			return
		}
		counts := make([]uint32, len(ranges))
		var total uint64
		for i, r := range ranges {
			counts[i] = r.PrimitiveCount
			total += uint64(r.PrimitiveCount)
		}
		if total == 0 {
			b.violation("degenerate build of acceleration structure %d with no primitives", info.Dst)
			return
		}
		if need := structureSize(total); dst.size < need {
			b.violation("acceleration structure %d holds %d bytes, build needs %d", info.Dst, dst.size, need)
			return
		}
		align := uint64(b.props.AccelerationStructure.MinAccelerationStructureScratchOffsetAlignment)
		if info.Scratch == 0 || uint64(info.Scratch)%align != 0 {
			b.violation("scratch address %#x is not aligned to %d", uint64(info.Scratch), align)
			return
		}
		if _, ok := b.resolveAddress(info.Scratch, 128+32*total); !ok {
			b.violation("scratch range at %#x is not backed by a live buffer", uint64(info.Scratch))
			return
		}

		var instances []metadata.DeviceAddress
		for i, g := range geometries {
			r := ranges[i]
			switch g.Type {
			case metadata.GeometryTypeTriangles:
				if !b.validateTriangles(g.Triangles, r) {
					return
				}
			case metadata.GeometryTypeAABBs:
				if g.AABBs.Stride%8 != 0 {
					b.violation("aabb stride %d is not a multiple of 8", g.AABBs.Stride)
					return
				}
				if _, ok := b.resolveAddress(g.AABBs.Data+metadata.DeviceAddress(r.PrimitiveOffset), uint64(r.PrimitiveCount)*g.AABBs.Stride); !ok {
					b.violation("aabb data at %#x is not backed by a live buffer", uint64(g.AABBs.Data))
					return
				}
			case metadata.GeometryTypeInstances:
				refs, ok := b.readInstances(g.Instances.Data+metadata.DeviceAddress(r.PrimitiveOffset), r.PrimitiveCount)
				if !ok {
					return
				}
				instances = append(instances, refs...)
			}
			if (g.Type == metadata.GeometryTypeInstances) != (info.Type == metadata.AccelerationStructureTypeTopLevel) {
				b.violation("geometry type %d in acceleration structure of type %d", g.Type, info.Type)
				return
			}
		}

		dst.built = true
		dst.compacted = false
		dst.flags = info.Flags
		dst.primitives = counts
		dst.instances = instances
	})
}

func (b *Backend) validateTriangles(t metadata.TrianglesData, r metadata.AccelerationStructureBuildRangeInfo) bool {
	if t.VertexFormat != metadata.FormatR32G32B32Sfloat {
		b.violation("unsupported vertex format %s", t.VertexFormat)
		return false
	}
	if t.IndexType != metadata.IndexTypeUint32 {
		b.violation("unsupported index type %d", t.IndexType)
		return false
	}
	vertexCount := uint64(t.MaxVertex) + 1
	if _, ok := b.resolveAddress(t.VertexData, vertexCount*t.VertexStride); !ok {
		b.violation("vertex data at %#x for %d vertices is not backed by a live buffer", uint64(t.VertexData), vertexCount)
		return false
	}
	if r.PrimitiveOffset%4 != 0 {
		b.violation("index offset %d is not aligned to the index size", r.PrimitiveOffset)
		return false
	}
	raw, ok := b.resolveAddress(t.IndexData+metadata.DeviceAddress(r.PrimitiveOffset), uint64(r.PrimitiveCount)*12)
	if !ok {
		b.violation("index range at %#x+%d is not backed by a live buffer", uint64(t.IndexData), r.PrimitiveOffset)
		return false
	}
	for i := 0; i < len(raw); i += 4 {
		index := uint64(binary.LittleEndian.Uint32(raw[i:])) + uint64(r.FirstVertex)
		if index > uint64(t.MaxVertex) {
			b.violation("index %d exceeds max vertex %d", index, t.MaxVertex)
			return false
		}
	}
	return true
}

func (b *Backend) readInstances(addr metadata.DeviceAddress, count uint32) ([]metadata.DeviceAddress, bool) {
	size := uint64(count) * metadata.AccelerationStructureInstanceSize
	raw, ok := b.resolveAddress(addr, size)
	if !ok {
		b.violation("instance data at %#x is not backed by a live buffer", uint64(addr))
		return nil, false
	}
	refs := make([]metadata.DeviceAddress, count)
	for i := range refs {
		rec := raw[uint64(i)*metadata.AccelerationStructureInstanceSize:]
		refs[i] = metadata.DeviceAddress(binary.LittleEndian.Uint64(rec[56:]))
		if !b.isBuiltBottomLevel(refs[i]) {
			b.violation("instance %d references %#x, not a built bottom level structure", i, uint64(refs[i]))
			return nil, false
		}
	}
	return refs, true
}

func (b *Backend) isBuiltBottomLevel(addr metadata.DeviceAddress) bool {
	for _, as := range b.accels {
		if as.address == addr && as.built && as.kind == metadata.AccelerationStructureTypeBottomLevel {
			return true
		}
	}
	return false
}

func (b *Backend) CmdAccelerationStructureBarrier(cmd metadata.CommandBufferHandle) {
	b.record(cmd, "acceleration structure barrier", func() {})
}

func (b *Backend) CmdCopyAccelerationStructure(cmd metadata.CommandBufferHandle, info metadata.CopyAccelerationStructureInfo) {
	b.record(cmd, "copy acceleration structure", func() {
		src, sok := b.accels[info.Src]
		dst, dok := b.accels[info.Dst]
		if !sok || !dok {
			b.violation("copy between unknown acceleration structures %d -> %d", info.Src, info.Dst)
			return
		}
		if !src.built {
			b.violation("copy from unbuilt acceleration structure %d", info.Src)
			return
		}
		need := src.size
		if info.Mode == metadata.CopyAccelerationStructureModeCompact {
			if src.flags&metadata.BuildAccelerationStructureAllowCompaction == 0 {
				b.violation("compaction of %d built without ALLOW_COMPACTION", info.Src)
				return
			}
			need = compactedSize(src.size)
		}
		if dst.size < need {
			b.violation("copy needs %d bytes, acceleration structure %d holds %d", need, info.Dst, dst.size)
			return
		}
		dst.built = true
		dst.compacted = info.Mode == metadata.CopyAccelerationStructureModeCompact
		dst.flags = src.flags
		dst.primitives = append([]uint32(nil), src.primitives...)
		dst.instances = append([]metadata.DeviceAddress(nil), src.instances...)
	})
}

// -------------------------------------------------------------------------
// Queries
// -------------------------------------------------------------------------

func (b *Backend) CreateQueryPool(kind metadata.QueryType, count uint32) (metadata.QueryPoolHandle, error) {
	if kind != metadata.QueryTypeAccelerationStructureCompactedSize {
		return 0, core.Wrapf(core.ErrMissingCapability, "query type %d", kind)
	}
	if count == 0 {
		return 0, core.Assertf("empty query pool")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	h := metadata.QueryPoolHandle(b.handle())
	b.queryPools[h] = &queryPool{
		kind:      kind,
		results:   make([]uint64, count),
		reset:     make([]bool, count),
		available: make([]bool, count),
	}
	return h, nil
}

func (b *Backend) CmdResetQueryPool(cmd metadata.CommandBufferHandle, pool metadata.QueryPoolHandle, first, count uint32) {
	b.record(cmd, "reset query pool", func() {
		qp, ok := b.queryPools[pool]
		if !ok || int(first+count) > len(qp.results) {
			b.violation("reset of queries [%d, %d) in pool %d", first, first+count, pool)
			return
		}
		for i := first; i < first+count; i++ {
			qp.reset[i] = true
			qp.available[i] = false
		}
	})
}

func (b *Backend) CmdWriteCompactedSize(cmd metadata.CommandBufferHandle, h metadata.AccelerationStructureHandle, pool metadata.QueryPoolHandle, query uint32) {
	b.record(cmd, "write acceleration structure properties", func() {
		qp, ok := b.queryPools[pool]
		if !ok || int(query) >= len(qp.results) {
			b.violation("write to query %d of pool %d", query, pool)
			return
		}
		if !qp.reset[query] {
			b.violation("query %d of pool %d written before being reset", query, pool)
			return
		}
		as, ok := b.accels[h]
		if !ok || !as.built {
			b.violation("compacted size of unbuilt acceleration structure %d", h)
			return
		}
		if as.flags&metadata.BuildAccelerationStructureAllowCompaction == 0 {
			b.violation("compacted size of %d built without ALLOW_COMPACTION", h)
			return
		}
		qp.results[query] = compactedSize(as.size)
		qp.reset[query] = false
		qp.available[query] = true
	})
}

func (b *Backend) GetQueryPoolResults(pool metadata.QueryPoolHandle, first, count uint32) ([]uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	qp, ok := b.queryPools[pool]
	if !ok {
		return nil, core.Wrapf(core.ErrNullResource, "query pool %d", pool)
	}
	if int(first+count) > len(qp.results) {
		return nil, core.Assertf("queries [%d, %d) out of range", first, first+count)
	}
	out := make([]uint64, count)
	for i := range out {
		q := first + uint32(i)
		if !qp.available[q] {
			return nil, core.Wrapf(core.ErrTimeout, "query %d of pool %d never became available", q, pool)
		}
		out[i] = qp.results[q]
	}
	return out, nil
}

func (b *Backend) DestroyQueryPool(pool metadata.QueryPoolHandle) {
	if pool == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queryPools[pool]; !ok {
		b.violation("destroy of unknown query pool %d", pool)
		return
	}
	delete(b.queryPools, pool)
}
