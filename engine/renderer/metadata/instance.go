package metadata

import (
	"unsafe"

	"github.com/spaghettifunk/anima-rt/engine/math"
)

/**
 * @brief Bit exact VkAccelerationStructureInstanceKHR. The C bitfields pack
 * the first member into the low bits, so the custom index sits in bits 0-23
 * and the mask in bits 24-31 (same for record offset and flags).
 */
type AccelerationStructureInstance struct {
	Transform                              math.Affine3x4
	InstanceCustomIndexAndMask             uint32
	InstanceShaderBindingTableRecordOffset uint32
	AccelerationStructureReference         uint64
}

const AccelerationStructureInstanceSize = uint64(unsafe.Sizeof(AccelerationStructureInstance{}))

func NewAccelerationStructureInstance(
	transform math.Affine3x4,
	customIndex uint32,
	mask uint8,
	sbtRecordOffset uint32,
	flags GeometryInstanceFlags,
	reference DeviceAddress,
) AccelerationStructureInstance {
	return AccelerationStructureInstance{
		Transform:                              transform,
		InstanceCustomIndexAndMask:             customIndex&0x00FFFFFF | uint32(mask)<<24,
		InstanceShaderBindingTableRecordOffset: sbtRecordOffset&0x00FFFFFF | uint32(flags)<<24,
		AccelerationStructureReference:         uint64(reference),
	}
}

func (i AccelerationStructureInstance) CustomIndex() uint32 {
	return i.InstanceCustomIndexAndMask & 0x00FFFFFF
}

func (i AccelerationStructureInstance) Mask() uint8 {
	return uint8(i.InstanceCustomIndexAndMask >> 24)
}

func (i AccelerationStructureInstance) SBTRecordOffset() uint32 {
	return i.InstanceShaderBindingTableRecordOffset & 0x00FFFFFF
}

func (i AccelerationStructureInstance) Flags() GeometryInstanceFlags {
	return GeometryInstanceFlags(i.InstanceShaderBindingTableRecordOffset >> 24)
}
