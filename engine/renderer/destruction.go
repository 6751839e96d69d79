package renderer

import (
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/anima-rt/engine/containers"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

type DestroyKind uint8

const (
	DestroyKindBuffer DestroyKind = iota
	DestroyKindImage
	DestroyKindImageView
	DestroyKindSampler
	DestroyKindAccelerationStructure
	DestroyKindPipeline
	DestroyKindPipelineLayout
	DestroyKindDescriptorSetLayout
	DestroyKindDescriptorPool
	DestroyKindShaderModule
	DestroyKindFence
	DestroyKindQueryPool
	DestroyKindCommandPool
)

var destroyKindNames = [...]string{
	"buffer", "image", "image view", "sampler", "acceleration structure", "pipeline",
	"pipeline layout", "descriptor set layout", "descriptor pool", "shader module",
	"fence", "query pool", "command pool",
}

func (k DestroyKind) String() string {
	if int(k) < len(destroyKindNames) {
		return destroyKindNames[k]
	}
	return "unknown"
}

// DestroyEvent names one GPU object to destroy. Buffers and images also
// free their allocation.
type DestroyEvent struct {
	Kind   DestroyKind
	Handle uint64
}

func DestroyBufferEvent(h metadata.BufferHandle) DestroyEvent {
	return DestroyEvent{Kind: DestroyKindBuffer, Handle: uint64(h)}
}

func DestroyImageEvent(h metadata.ImageHandle) DestroyEvent {
	return DestroyEvent{Kind: DestroyKindImage, Handle: uint64(h)}
}

func DestroyImageViewEvent(h metadata.ImageViewHandle) DestroyEvent {
	return DestroyEvent{Kind: DestroyKindImageView, Handle: uint64(h)}
}

func DestroySamplerEvent(h metadata.SamplerHandle) DestroyEvent {
	return DestroyEvent{Kind: DestroyKindSampler, Handle: uint64(h)}
}

func DestroyAccelerationStructureEvent(h metadata.AccelerationStructureHandle) DestroyEvent {
	return DestroyEvent{Kind: DestroyKindAccelerationStructure, Handle: uint64(h)}
}

func DestroyPipelineEvent(h metadata.PipelineHandle) DestroyEvent {
	return DestroyEvent{Kind: DestroyKindPipeline, Handle: uint64(h)}
}

func DestroyPipelineLayoutEvent(h metadata.PipelineLayoutHandle) DestroyEvent {
	return DestroyEvent{Kind: DestroyKindPipelineLayout, Handle: uint64(h)}
}

func DestroyDescriptorSetLayoutEvent(h metadata.DescriptorSetLayoutHandle) DestroyEvent {
	return DestroyEvent{Kind: DestroyKindDescriptorSetLayout, Handle: uint64(h)}
}

func DestroyDescriptorPoolEvent(h metadata.DescriptorPoolHandle) DestroyEvent {
	return DestroyEvent{Kind: DestroyKindDescriptorPool, Handle: uint64(h)}
}

func DestroyShaderModuleEvent(h metadata.ShaderModuleHandle) DestroyEvent {
	return DestroyEvent{Kind: DestroyKindShaderModule, Handle: uint64(h)}
}

func DestroyFenceEvent(h metadata.FenceHandle) DestroyEvent {
	return DestroyEvent{Kind: DestroyKindFence, Handle: uint64(h)}
}

func DestroyQueryPoolEvent(h metadata.QueryPoolHandle) DestroyEvent {
	return DestroyEvent{Kind: DestroyKindQueryPool, Handle: uint64(h)}
}

func DestroyCommandPoolEvent(h metadata.CommandPoolHandle) DestroyEvent {
	return DestroyEvent{Kind: DestroyKindCommandPool, Handle: uint64(h)}
}

// DestroyDescriptorSetEvents releases a set allocated by CreateDescriptorSet, pool first.
func DestroyDescriptorSetEvents(set metadata.DescriptorSet) []DestroyEvent {
	return []DestroyEvent{
		DestroyDescriptorPoolEvent(set.Pool),
		DestroyDescriptorSetLayoutEvent(set.Layout),
	}
}

type destructionMessageKind uint8

const (
	destructionMessageDestroy destructionMessageKind = iota
	destructionMessageNextFrame
	destructionMessageSync
	destructionMessageShutdown
)

type destructionMessage struct {
	kind  destructionMessageKind
	event DestroyEvent
	done  chan struct{}
}

/**
 * @brief Delays destruction of GPU objects until no frame in flight can
 * still reference them. Events pushed during frame K run when the N-th
 * frame boundary after K is signalled, N being the ring length. A single
 * worker goroutine owns the ring.
 */
type DestructionQueue struct {
	rd     *RenderDevice
	frames int
	inbox  *containers.UnboundedQueue[destructionMessage]

	shutdownOnce sync.Once
	stopped      atomic.Bool
	wg           sync.WaitGroup

	executed atomic.Uint64
	pending  atomic.Int64
}

func NewDestructionQueue(rd *RenderDevice, framesInFlight int) *DestructionQueue {
	if framesInFlight < 1 {
		framesInFlight = 1
	}
	q := &DestructionQueue{
		rd:     rd,
		frames: framesInFlight,
		inbox:  containers.NewUnboundedQueue[destructionMessage](),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Push schedules an event for the current frame. After shutdown the device
// is idle, so the event runs immediately on the calling goroutine.
func (q *DestructionQueue) Push(event DestroyEvent) {
	if q.stopped.Load() {
		q.execute(event)
		return
	}
	q.pending.Add(1)
	if err := q.inbox.Push(destructionMessage{kind: destructionMessageDestroy, event: event}); err != nil {
		q.pending.Add(-1)
		q.execute(event)
	}
}

func (q *DestructionQueue) PushAll(events ...DestroyEvent) {
	for _, e := range events {
		q.Push(e)
	}
}

// NextFrame signals a frame boundary: the oldest list is executed and
// becomes the list of the new frame.
func (q *DestructionQueue) NextFrame() {
	_ = q.inbox.Push(destructionMessage{kind: destructionMessageNextFrame})
}

// Sync waits until the worker processed every message sent before it.
func (q *DestructionQueue) Sync() {
	done := make(chan struct{})
	if err := q.inbox.Push(destructionMessage{kind: destructionMessageSync, done: done}); err != nil {
		return
	}
	<-done
}

// Shutdown waits for the device to go idle, executes every pending event in
// FIFO order and stops the worker. Safe to call more than once.
func (q *DestructionQueue) Shutdown() {
	q.shutdownOnce.Do(func() {
		done := make(chan struct{})
		_ = q.inbox.Push(destructionMessage{kind: destructionMessageShutdown, done: done})
		<-done
		q.wg.Wait()
		q.inbox.Close()
		q.stopped.Store(true)
		// Messages that raced the shutdown are still in the inbox.
		for {
			msg, ok := q.inbox.TryPop()
			if !ok {
				break
			}
			switch msg.kind {
			case destructionMessageDestroy:
				q.execute(msg.event)
				q.pending.Add(-1)
			case destructionMessageSync:
				close(msg.done)
			}
		}
	})
}

// Executed is the number of events run so far.
func (q *DestructionQueue) Executed() uint64 {
	return q.executed.Load()
}

// Pending is the number of events pushed but not executed yet.
func (q *DestructionQueue) Pending() int {
	return int(q.pending.Load())
}

func (q *DestructionQueue) run() {
	defer q.wg.Done()

	ring := make([][]DestroyEvent, q.frames)
	current := q.frames - 1

	for {
		msg, ok := q.inbox.Pop()
		if !ok {
			return
		}
		switch msg.kind {
		case destructionMessageDestroy:
			ring[current] = append(ring[current], msg.event)
		case destructionMessageNextFrame:
			oldest := (current + 1) % q.frames
			q.executeList(ring[oldest])
			ring[oldest] = ring[oldest][:0]
			current = oldest
		case destructionMessageSync:
			close(msg.done)
		case destructionMessageShutdown:
			if err := q.rd.WaitIdle(); err != nil {
				core.LogError("waiting for device idle before final destruction: %s", err.Error())
			}
			for i := 1; i <= q.frames; i++ {
				idx := (current + i) % q.frames
				q.executeList(ring[idx])
				ring[idx] = nil
			}
			close(msg.done)
			return
		}
	}
}

func (q *DestructionQueue) executeList(events []DestroyEvent) {
	for _, e := range events {
		q.execute(e)
		q.pending.Add(-1)
	}
}

func (q *DestructionQueue) execute(e DestroyEvent) {
	b := q.rd.backend
	switch e.Kind {
	case DestroyKindBuffer:
		q.rd.DestroyBuffer(metadata.BufferHandle(e.Handle))
	case DestroyKindImage:
		q.rd.DestroyImage(metadata.ImageHandle(e.Handle))
	case DestroyKindImageView:
		b.DestroyImageView(metadata.ImageViewHandle(e.Handle))
	case DestroyKindSampler:
		b.DestroySampler(metadata.SamplerHandle(e.Handle))
	case DestroyKindAccelerationStructure:
		b.DestroyAccelerationStructure(metadata.AccelerationStructureHandle(e.Handle))
	case DestroyKindPipeline:
		b.DestroyPipeline(metadata.PipelineHandle(e.Handle))
	case DestroyKindPipelineLayout:
		b.DestroyPipelineLayout(metadata.PipelineLayoutHandle(e.Handle))
	case DestroyKindDescriptorSetLayout:
		b.DestroyDescriptorSetLayout(metadata.DescriptorSetLayoutHandle(e.Handle))
	case DestroyKindDescriptorPool:
		b.DestroyDescriptorPool(metadata.DescriptorPoolHandle(e.Handle))
	case DestroyKindShaderModule:
		b.DestroyShaderModule(metadata.ShaderModuleHandle(e.Handle))
	case DestroyKindFence:
		b.DestroyFence(metadata.FenceHandle(e.Handle))
	case DestroyKindQueryPool:
		b.DestroyQueryPool(metadata.QueryPoolHandle(e.Handle))
	case DestroyKindCommandPool:
		b.DestroyCommandPool(metadata.CommandPoolHandle(e.Handle))
	default:
		core.LogError("unknown destroy event kind %d", e.Kind)
		return
	}
	q.executed.Add(1)
	core.MetricsCounters().ResourcesDestroyed.Add(1)
}
