package renderer

import (
	"unsafe"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

/**
 * @brief A GPU buffer holding Count elements of T. A zero count buffer has a
 * null handle and no memory; consumers treat it as absent. The value is
 * owned by exactly one holder until Release hands it to the destruction queue.
 */
type Buffer[T any] struct {
	Count    uint64
	Usage    metadata.BufferUsageFlags
	Handle   metadata.BufferHandle
	Address  metadata.DeviceAddress
	Location metadata.MemoryLocation
}

// ElementSize is the size of T in bytes.
func ElementSize[T any]() uint64 {
	var zero T
	return uint64(unsafe.Sizeof(zero))
}

func CreateHostBuffer[T any](rd *RenderDevice, count uint64, usage metadata.BufferUsageFlags) (Buffer[T], error) {
	return createBuffer[T](rd, count, usage, metadata.MemoryLocationHostVisible)
}

func CreateDeviceBuffer[T any](rd *RenderDevice, count uint64, usage metadata.BufferUsageFlags) (Buffer[T], error) {
	return createBuffer[T](rd, count, usage, metadata.MemoryLocationDeviceLocal)
}

func createBuffer[T any](rd *RenderDevice, count uint64, usage metadata.BufferUsageFlags, location metadata.MemoryLocation) (Buffer[T], error) {
	usage |= metadata.BufferUsageShaderDeviceAddress
	buf := Buffer[T]{Count: count, Usage: usage, Location: location}
	if count == 0 {
		return buf, nil
	}
	handle, address, err := rd.allocateBuffer(count*ElementSize[T](), usage, location)
	if err != nil {
		return Buffer[T]{}, err
	}
	buf.Handle = handle
	buf.Address = address
	return buf, nil
}

// CreateHostBufferFrom creates a host visible buffer holding a copy of data.
func CreateHostBufferFrom[T any](rd *RenderDevice, data []T, usage metadata.BufferUsageFlags) (Buffer[T], error) {
	buf, err := CreateHostBuffer[T](rd, uint64(len(data)), usage)
	if err != nil {
		return buf, err
	}
	if err := buf.Write(rd, data); err != nil {
		rd.DestroyBuffer(buf.Handle)
		return Buffer[T]{}, err
	}
	return buf, nil
}

func (b Buffer[T]) IsNull() bool {
	return b.Handle == metadata.NullBuffer
}

func (b Buffer[T]) SizeBytes() uint64 {
	return b.Count * ElementSize[T]()
}

// Map returns a typed view of a host visible buffer. The view stays valid
// until the buffer is destroyed. Mapping device local memory is a
// programming error.
func (b Buffer[T]) Map(rd *RenderDevice) ([]T, error) {
	if b.IsNull() {
		return nil, nil
	}
	if b.Location != metadata.MemoryLocationHostVisible {
		return nil, core.Assertf("mapping buffer %d: %v", b.Handle, core.ErrNotHostVisible)
	}
	raw, err := rd.mapBuffer(b.Handle)
	if err != nil {
		return nil, err
	}
	if uint64(len(raw)) < b.SizeBytes() {
		return nil, core.Assertf("mapped %d bytes of a %d byte buffer", len(raw), b.SizeBytes())
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&raw[0])), b.Count), nil
}

// Write copies data to the start of a host visible buffer.
func (b Buffer[T]) Write(rd *RenderDevice, data []T) error {
	if uint64(len(data)) > b.Count {
		return core.Assertf("writing %d elements into a buffer of %d", len(data), b.Count)
	}
	view, err := b.Map(rd)
	if err != nil {
		return err
	}
	copy(view, data)
	return nil
}

// Bytes reinterprets the buffer as raw bytes, sharing the same handle.
func (b Buffer[T]) Bytes() Buffer[byte] {
	return Buffer[byte]{
		Count:    b.SizeBytes(),
		Usage:    b.Usage,
		Handle:   b.Handle,
		Address:  b.Address,
		Location: b.Location,
	}
}

// Release hands the buffer to the destruction queue and clears the caller's copy.
func (b *Buffer[T]) Release(q *DestructionQueue) {
	if !b.IsNull() {
		q.Push(DestroyBufferEvent(b.Handle))
	}
	*b = Buffer[T]{}
}

// Upload records a copy of the whole of src into dst. Nothing is submitted.
func Upload[T any](rd *RenderDevice, cmd metadata.CommandBufferHandle, src, dst Buffer[T]) error {
	if src.IsNull() || dst.IsNull() {
		return nil
	}
	if src.Count > dst.Count {
		return core.Assertf("uploading %d elements into a buffer of %d", src.Count, dst.Count)
	}
	if src.Usage&metadata.BufferUsageTransferSrc == 0 || dst.Usage&metadata.BufferUsageTransferDst == 0 {
		return core.Assertf("upload %d -> %d without transfer usage", src.Handle, dst.Handle)
	}
	rd.backend.CmdCopyBuffer(cmd, src.Handle, dst.Handle, src.SizeBytes())
	return nil
}

// CreateDeviceBufferFrom stages data through a host buffer into a new device
// local buffer using cmds, and waits for the copy to finish.
func CreateDeviceBufferFrom[T any](rd *RenderDevice, cmds *CommandContext, data []T, usage metadata.BufferUsageFlags) (Buffer[T], error) {
	dst, err := CreateDeviceBuffer[T](rd, uint64(len(data)), usage|metadata.BufferUsageTransferDst)
	if err != nil || dst.IsNull() {
		return dst, err
	}
	staging, err := CreateHostBufferFrom(rd, data, metadata.BufferUsageTransferSrc)
	if err != nil {
		rd.DestroyBuffer(dst.Handle)
		return Buffer[T]{}, err
	}
	// The copy has completed once Run returns, so staging can go right away.
	defer rd.DestroyBuffer(staging.Handle)

	if err := cmds.Run(func(cmd metadata.CommandBufferHandle) error {
		return Upload(rd, cmd, staging, dst)
	}); err != nil {
		rd.DestroyBuffer(dst.Handle)
		return Buffer[T]{}, err
	}
	return dst, nil
}
