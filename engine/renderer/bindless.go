package renderer

import (
	"sync"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

const (
	DefaultBindlessBinding  uint32 = 16
	DefaultBindlessCapacity uint32 = 16536
)

/**
 * @brief A descriptor array of combined image samplers indexed by slot.
 * Every distinct image view gets one slot the first time it is pushed and
 * keeps it for the rest of the run; slots are never reused.
 */
type BindlessTable struct {
	rd       *RenderDevice
	binding  uint32
	capacity uint32
	set      metadata.DescriptorSet
	sampler  metadata.SamplerHandle

	mu    sync.RWMutex
	slots map[metadata.ImageViewHandle]uint32
	next  uint32
}

func NewBindlessTable(rd *RenderDevice, binding, capacity uint32) (*BindlessTable, error) {
	if capacity == 0 {
		return nil, core.Assertf("bindless table without capacity")
	}
	set, err := rd.backend.CreateDescriptorSet([]metadata.DescriptorBinding{{
		Binding:        binding,
		Type:           metadata.DescriptorTypeCombinedImageSampler,
		Count:          capacity,
		Stages:         metadata.ShaderStageAllRayTracing,
		PartiallyBound: true,
	}})
	if err != nil {
		return nil, core.Wrap(err, "creating bindless descriptor set")
	}
	sampler, err := rd.backend.CreateSampler(metadata.SamplerCreateInfo{
		Filter: metadata.SamplerFilterLinear,
		Repeat: true,
	})
	if err != nil {
		rd.backend.DestroyDescriptorPool(set.Pool)
		rd.backend.DestroyDescriptorSetLayout(set.Layout)
		return nil, core.Wrap(err, "creating bindless sampler")
	}
	return &BindlessTable{
		rd:       rd,
		binding:  binding,
		capacity: capacity,
		set:      set,
		sampler:  sampler,
		slots:    map[metadata.ImageViewHandle]uint32{},
	}, nil
}

// Push returns the slot of view, writing a new descriptor the first time
// the view is seen.
func (t *BindlessTable) Push(view metadata.ImageViewHandle) (uint32, error) {
	if view == metadata.NullImageView {
		return metadata.NoTexture, core.Wrap(core.ErrNullResource, "bindless push of a null view")
	}
	if slot, ok := t.Slot(view); ok {
		return slot, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if slot, ok := t.slots[view]; ok {
		return slot, nil
	}
	if t.next >= t.capacity {
		return metadata.NoTexture, core.Wrapf(core.ErrBindlessTableFull, "%d slots", t.capacity)
	}
	slot := t.next
	t.rd.backend.WriteDescriptorImage(t.set.Set, t.binding, slot, metadata.DescriptorTypeCombinedImageSampler,
		view, t.sampler, metadata.ImageLayoutShaderReadOnly)
	t.slots[view] = slot
	t.next++
	return slot, nil
}

func (t *BindlessTable) Slot(view metadata.ImageViewHandle) (uint32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	slot, ok := t.slots[view]
	return slot, ok
}

func (t *BindlessTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return int(t.next)
}

func (t *BindlessTable) Capacity() uint32 {
	return t.capacity
}

func (t *BindlessTable) Binding() uint32 {
	return t.binding
}

func (t *BindlessTable) DescriptorSet() metadata.DescriptorSet {
	return t.set
}

// Destroy routes the sampler and the descriptor objects through q.
func (t *BindlessTable) Destroy(q *DestructionQueue) {
	q.Push(DestroySamplerEvent(t.sampler))
	q.PushAll(DestroyDescriptorSetEvents(t.set)...)
	t.sampler = 0
	t.set = metadata.DescriptorSet{}
}
