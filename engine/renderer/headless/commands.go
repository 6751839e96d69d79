package headless

import (
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

type commandBufferState int

const (
	commandBufferInitial commandBufferState = iota
	commandBufferRecording
	commandBufferExecutable
)

type commandBuffer struct {
	pool      metadata.CommandPoolHandle
	state     commandBufferState
	singleUse bool
	// Executed in order at submit, with the backend lock held.
	ops []func()
}

func (b *Backend) CreateCommandPool() (metadata.CommandPoolHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := metadata.CommandPoolHandle(b.handle())
	b.commandPools[h] = map[metadata.CommandBufferHandle]struct{}{}
	return h, nil
}

func (b *Backend) DestroyCommandPool(pool metadata.CommandPoolHandle) {
	if pool == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cmds, ok := b.commandPools[pool]
	if !ok {
		b.violation("destroy of unknown command pool %d", pool)
		return
	}
	// Destroying a pool frees every command buffer allocated from it.
	for cmd := range cmds {
		delete(b.commandBuffers, cmd)
	}
	delete(b.commandPools, pool)
}

func (b *Backend) AllocateCommandBuffer(pool metadata.CommandPoolHandle) (metadata.CommandBufferHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cmds, ok := b.commandPools[pool]
	if !ok {
		return 0, core.Wrapf(core.ErrNullResource, "command pool %d", pool)
	}
	h := metadata.CommandBufferHandle(b.handle())
	cmds[h] = struct{}{}
	b.commandBuffers[h] = &commandBuffer{pool: pool}
	return h, nil
}

func (b *Backend) FreeCommandBuffer(pool metadata.CommandPoolHandle, cmd metadata.CommandBufferHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.commandBuffers[cmd]
	if !ok || cb.pool != pool {
		b.violation("free of command buffer %d not allocated from pool %d", cmd, pool)
		return
	}
	delete(b.commandPools[pool], cmd)
	delete(b.commandBuffers, cmd)
}

func (b *Backend) BeginCommandBuffer(cmd metadata.CommandBufferHandle, singleUse bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.commandBuffers[cmd]
	if !ok {
		return core.Wrapf(core.ErrNullResource, "command buffer %d", cmd)
	}
	if cb.state == commandBufferRecording {
		return core.Assertf("command buffer %d is already recording", cmd)
	}
	cb.state = commandBufferRecording
	cb.singleUse = singleUse
	cb.ops = cb.ops[:0]
	return nil
}

func (b *Backend) EndCommandBuffer(cmd metadata.CommandBufferHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.commandBuffers[cmd]
	if !ok {
		return core.Wrapf(core.ErrNullResource, "command buffer %d", cmd)
	}
	if cb.state != commandBufferRecording {
		return core.Assertf("command buffer %d is not recording", cmd)
	}
	cb.state = commandBufferExecutable
	return nil
}

func (b *Backend) QueueSubmit(cmd metadata.CommandBufferHandle, fence metadata.FenceHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.commandBuffers[cmd]
	if !ok {
		return core.Wrapf(core.ErrNullResource, "command buffer %d", cmd)
	}
	if cb.state != commandBufferExecutable {
		return core.Assertf("command buffer %d submitted without being ended", cmd)
	}
	if fence != metadata.NullFence {
		signaled, ok := b.fences[fence]
		if !ok {
			return core.Wrapf(core.ErrNullResource, "fence %d", fence)
		}
		if signaled {
			b.violation("submit with fence %d still signaled", fence)
		}
	}
	for _, op := range cb.ops {
		op()
	}
	b.submits++
	if cb.singleUse {
		cb.state = commandBufferInitial
		cb.ops = cb.ops[:0]
	}
	if fence != metadata.NullFence {
		b.fences[fence] = true
	}
	return nil
}

func (b *Backend) DeviceWaitIdle() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.waitIdles++
	return nil
}

// record appends op to a recording command buffer.
func (b *Backend) record(cmd metadata.CommandBufferHandle, name string, op func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.commandBuffers[cmd]
	if !ok {
		b.violation("%s recorded into unknown command buffer %d", name, cmd)
		return
	}
	if cb.state != commandBufferRecording {
		b.violation("%s recorded into command buffer %d outside of a recording", name, cmd)
		return
	}
	cb.ops = append(cb.ops, op)
}

// -------------------------------------------------------------------------
// Fences
// -------------------------------------------------------------------------

func (b *Backend) CreateFence(signaled bool) (metadata.FenceHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := metadata.FenceHandle(b.handle())
	b.fences[h] = signaled
	return h, nil
}

// WaitForFence never blocks: work is done at submit, so an unsignaled fence
// has nothing pending that could ever signal it.
func (b *Backend) WaitForFence(fence metadata.FenceHandle, timeoutNs uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	signaled, ok := b.fences[fence]
	if !ok {
		return core.Wrapf(core.ErrNullResource, "fence %d", fence)
	}
	if !signaled {
		return core.Wrapf(core.ErrTimeout, "fence %d after %dns", fence, timeoutNs)
	}
	return nil
}

func (b *Backend) ResetFence(fence metadata.FenceHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.fences[fence]; !ok {
		return core.Wrapf(core.ErrNullResource, "fence %d", fence)
	}
	b.fences[fence] = false
	return nil
}

func (b *Backend) DestroyFence(fence metadata.FenceHandle) {
	if fence == metadata.NullFence {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.fences[fence]; !ok {
		b.violation("destroy of unknown fence %d", fence)
		return
	}
	delete(b.fences, fence)
}

// -------------------------------------------------------------------------
// Transfer commands
// -------------------------------------------------------------------------

func (b *Backend) CmdCopyBuffer(cmd metadata.CommandBufferHandle, src, dst metadata.BufferHandle, size uint64) {
	b.record(cmd, "copy buffer", func() {
		sb, sok := b.buffers[src]
		db, dok := b.buffers[dst]
		if !sok || !dok {
			b.violation("copy between unknown buffers %d -> %d", src, dst)
			return
		}
		if sb.usage&metadata.BufferUsageTransferSrc == 0 || db.usage&metadata.BufferUsageTransferDst == 0 {
			b.violation("copy %d -> %d without transfer usage", src, dst)
		}
		if size > sb.size || size > db.size {
			b.violation("copy of %d bytes overflows %d -> %d", size, src, dst)
			return
		}
		from, _ := b.bufferBytes(src)
		to, _ := b.bufferBytes(dst)
		copy(to[:size], from[:size])
	})
}

func (b *Backend) CmdCopyBufferToImage(cmd metadata.CommandBufferHandle, src metadata.BufferHandle, dst metadata.ImageHandle, width, height uint32) {
	b.record(cmd, "copy buffer to image", func() {
		img, ok := b.images[dst]
		if !ok {
			b.violation("copy to unknown image %d", dst)
			return
		}
		if img.layout != metadata.ImageLayoutTransferDstOptimal {
			b.violation("copy to image %d in layout %d", dst, img.layout)
		}
		if width != img.info.Width || height != img.info.Height {
			b.violation("copy extent %dx%d differs from image %d", width, height, dst)
			return
		}
		size := uint64(width) * uint64(height) * uint64(img.info.Format.BytesPerPixel())
		from, ok := b.bufferBytes(src)
		if !ok || uint64(len(from)) < size {
			b.violation("copy from buffer %d smaller than image %d", src, dst)
			return
		}
		block, ok := b.memory[img.memory]
		if !ok {
			b.violation("copy to image %d without memory", dst)
			return
		}
		copy(block.data[:size], from[:size])
	})
}

func (b *Backend) CmdTransitionImageLayout(cmd metadata.CommandBufferHandle, h metadata.ImageHandle, from, to metadata.ImageLayout) {
	b.record(cmd, "image barrier", func() {
		img, ok := b.images[h]
		if !ok {
			b.violation("transition of unknown image %d", h)
			return
		}
		// UNDEFINED discards the contents and matches any layout.
		if from != metadata.ImageLayoutUndefined && img.layout != from {
			b.violation("image %d transitioned from %d but is in %d", h, from, img.layout)
		}
		img.layout = to
	})
}
