package raytracing

import (
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/math"
	"github.com/spaghettifunk/anima-rt/engine/renderer"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// InstanceMask makes an instance visible to every ray.
const InstanceMask uint8 = 0xFF

// NewInstance packs one instance record. Triangle faces are never culled.
func NewInstance(transform math.Mat4, customIndex, hitGroupOffset uint32, blas metadata.DeviceAddress) metadata.AccelerationStructureInstance {
	return metadata.NewAccelerationStructureInstance(
		transform.Affine(),
		customIndex,
		InstanceMask,
		hitGroupOffset,
		metadata.GeometryInstanceTriangleFacingCullDisable,
		blas,
	)
}

/**
 * @brief The top level structure of the scene. It is rebuilt from scratch on
 * every Build; the instance, storage and scratch buffers are kept across
 * builds and only reallocated when their size changes.
 */
type TLAS struct {
	builder *Builder

	AccelerationStructure AccelerationStructure
	instances             renderer.Buffer[metadata.AccelerationStructureInstance]
	scratch               renderer.Buffer[byte]
}

func NewTLAS(builder *Builder) *TLAS {
	return &TLAS{builder: builder}
}

func (t *TLAS) IsReady() bool {
	return t.AccelerationStructure.IsReady()
}

func (t *TLAS) Handle() metadata.AccelerationStructureHandle {
	return t.AccelerationStructure.Handle
}

func (t *TLAS) InstanceBuffer() renderer.Buffer[metadata.AccelerationStructureInstance] {
	return t.instances
}

func (t *TLAS) ScratchBuffer() renderer.Buffer[byte] {
	return t.scratch
}

// Build replaces the structure with one over instances. Superseded objects go
// to q. An empty instance list leaves everything untouched.
func (t *TLAS) Build(cmds *renderer.CommandContext, instances []metadata.AccelerationStructureInstance, q *renderer.DestructionQueue) error {
	if len(instances) == 0 {
		return nil
	}
	rd := t.builder.rd
	backend := rd.Backend()

	if uint64(len(instances)) != t.instances.Count {
		t.instances.Release(q)
		buf, err := renderer.CreateHostBuffer[metadata.AccelerationStructureInstance](rd, uint64(len(instances)),
			metadata.BufferUsageAccelerationStructureBuildInputReadOnly)
		if err != nil {
			return core.Wrap(err, "allocating instance buffer")
		}
		t.instances = buf
	}
	if err := t.instances.Write(rd, instances); err != nil {
		return err
	}

	// The structure is rebuilt every time; it must go before its buffer.
	if t.AccelerationStructure.Handle != metadata.NullAccelerationStructure {
		q.Push(renderer.DestroyAccelerationStructureEvent(t.AccelerationStructure.Handle))
		t.AccelerationStructure.Handle = metadata.NullAccelerationStructure
		t.AccelerationStructure.State = StateEmpty
	}

	info := metadata.AccelerationStructureBuildGeometryInfo{
		Type:  metadata.AccelerationStructureTypeTopLevel,
		Flags: metadata.BuildAccelerationStructurePreferFastTrace,
		Mode:  metadata.BuildAccelerationStructureModeBuild,
		Geometries: []metadata.AccelerationStructureGeometry{{
			Type:      metadata.GeometryTypeInstances,
			Flags:     metadata.GeometryOpaque,
			Instances: metadata.InstancesData{Data: t.instances.Address},
		}},
	}
	ranges := []metadata.AccelerationStructureBuildRangeInfo{{PrimitiveCount: uint32(len(instances))}}
	sizes := backend.GetAccelerationStructureBuildSizes(info, primitiveCounts(ranges))

	if sizes.AccelerationStructureSize != t.AccelerationStructure.Buffer.Count {
		t.AccelerationStructure.Buffer.Release(q)
		buf, err := renderer.CreateDeviceBuffer[byte](rd, sizes.AccelerationStructureSize, metadata.BufferUsageAccelerationStructureStorage)
		if err != nil {
			return core.Wrap(err, "allocating top level storage")
		}
		t.AccelerationStructure.Buffer = buf
	}
	handle, err := backend.CreateAccelerationStructure(metadata.AccelerationStructureCreateInfo{
		Buffer: t.AccelerationStructure.Buffer.Handle,
		Size:   sizes.AccelerationStructureSize,
		Type:   metadata.AccelerationStructureTypeTopLevel,
	})
	if err != nil {
		return core.Wrap(err, "creating top level acceleration structure")
	}
	t.AccelerationStructure.Type = metadata.AccelerationStructureTypeTopLevel
	t.AccelerationStructure.Handle = handle

	if need := t.builder.scratchBytes(sizes.BuildScratchSize); need != t.scratch.Count {
		t.scratch.Release(q)
		scratch, err := t.builder.createScratch(sizes.BuildScratchSize)
		if err != nil {
			return err
		}
		t.scratch = scratch
	}

	info.Dst = handle
	info.Scratch = AlignScratchAddress(t.scratch.Address, t.builder.scratchAlignment)
	if err := t.builder.build(cmds, info, ranges); err != nil {
		return core.Wrap(err, "building top level acceleration structure")
	}

	t.AccelerationStructure.Address = backend.AccelerationStructureDeviceAddress(handle)
	t.AccelerationStructure.State = StateBuilt
	core.MetricsCounters().TLASBuilt.Add(1)
	return nil
}

func (t *TLAS) Release(q *renderer.DestructionQueue) {
	t.AccelerationStructure.Release(q)
	t.instances.Release(q)
	t.scratch.Release(q)
}
