package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// Every pool backs exactly one set.
type descriptorPool struct {
	pool vk.DescriptorPool
	set  uint64
}

/**
 * @brief Creates a layout, a pool sized for exactly one set and the set
 * itself. Partially bound sampled image arrays are also update-after-bind so
 * texture slots can be written while a frame that uses the set is in flight.
 */
func (vr *VulkanRenderer) CreateDescriptorSet(bindings []metadata.DescriptorBinding) (metadata.DescriptorSet, error) {
	if len(bindings) == 0 {
		return metadata.DescriptorSet{}, core.Assertf("descriptor set without bindings")
	}

	layoutBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	bindingFlags := make([]uint32, len(bindings))
	poolSizes := make([]vk.DescriptorPoolSize, 0, len(bindings))
	updateAfterBind := false
	for i, b := range bindings {
		count := b.Count
		if count == 0 {
			count = 1
		}
		layoutBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  vk.DescriptorType(b.Type),
			DescriptorCount: count,
			StageFlags:      vk.ShaderStageFlags(b.Stages),
		}
		if b.PartiallyBound {
			bindingFlags[i] |= bindingPartiallyBound
			if b.Type == metadata.DescriptorTypeCombinedImageSampler {
				bindingFlags[i] |= bindingUpdateAfterBind
				updateAfterBind = true
			}
		}
		poolSizes = append(poolSizes, vk.DescriptorPoolSize{
			Type:            vk.DescriptorType(b.Type),
			DescriptorCount: count,
		})
	}

	flagsChain := newBindingFlags(bindingFlags)
	defer flagsChain.free()

	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		PNext:        flagsChain.ptr,
		BindingCount: uint32(len(layoutBindings)),
		PBindings:    layoutBindings,
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       1,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	if updateAfterBind {
		layoutInfo.Flags = vk.DescriptorSetLayoutCreateFlags(layoutUpdateAfterBindPool)
		poolInfo.Flags = vk.DescriptorPoolCreateFlags(poolUpdateAfterBind)
	}

	device := vr.device()
	var (
		layout vk.DescriptorSetLayout
		pool   vk.DescriptorPool
		set    vk.DescriptorSet
	)
	err := vr.context.Locks.SafeCall(DescriptorManagement, func() error {
		if res := vk.CreateDescriptorSetLayout(device, &layoutInfo, vr.context.Allocator, &layout); res != vk.Success {
			return VulkanResultError(res, "creating descriptor set layout")
		}
		if res := vk.CreateDescriptorPool(device, &poolInfo, vr.context.Allocator, &pool); res != vk.Success {
			vk.DestroyDescriptorSetLayout(device, layout, vr.context.Allocator)
			return VulkanResultError(res, "creating descriptor pool")
		}
		allocInfo := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     pool,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{layout},
		}
		if res := vk.AllocateDescriptorSets(device, &allocInfo, &set); res != vk.Success {
			vk.DestroyDescriptorPool(device, pool, vr.context.Allocator)
			vk.DestroyDescriptorSetLayout(device, layout, vr.context.Allocator)
			return VulkanResultError(res, "allocating descriptor set")
		}
		return nil
	})
	if err != nil {
		return metadata.DescriptorSet{}, err
	}

	setHandle := vr.sets.add(set)
	return metadata.DescriptorSet{
		Layout: metadata.DescriptorSetLayoutHandle(vr.setLayouts.add(layout)),
		Pool:   metadata.DescriptorPoolHandle(vr.descriptorPool.add(descriptorPool{pool: pool, set: setHandle})),
		Set:    metadata.DescriptorSetHandle(setHandle),
	}, nil
}

func (vr *VulkanRenderer) WriteDescriptorImage(set metadata.DescriptorSetHandle, binding, element uint32, kind metadata.DescriptorType, view metadata.ImageViewHandle, sampler metadata.SamplerHandle, layout metadata.ImageLayout) {
	dst, ok := vr.sets.get(uint64(set))
	if !ok {
		core.LogError("writing image descriptor into unknown set %d", set)
		return
	}
	v, ok := vr.views.get(uint64(view))
	if !ok {
		core.LogError("writing unknown image view %d into set %d", view, set)
		return
	}
	s := vk.NullSampler
	if kind == metadata.DescriptorTypeCombinedImageSampler {
		if s, ok = vr.samplers.get(uint64(sampler)); !ok {
			core.LogError("writing unknown sampler %d into set %d", sampler, set)
			return
		}
	}

	writes := []vk.WriteDescriptorSet{{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          dst,
		DstBinding:      binding,
		DstArrayElement: element,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorType(kind),
		PImageInfo: []vk.DescriptorImageInfo{{
			Sampler:     s,
			ImageView:   v,
			ImageLayout: vk.ImageLayout(layout),
		}},
	}}
	vk.UpdateDescriptorSets(vr.device(), uint32(len(writes)), writes, 0, nil)
}

func (vr *VulkanRenderer) WriteDescriptorAccelerationStructure(set metadata.DescriptorSetHandle, binding uint32, as metadata.AccelerationStructureHandle) {
	dst, ok := vr.sets.get(uint64(set))
	if !ok {
		core.LogError("writing acceleration structure into unknown set %d", set)
		return
	}
	accel, ok := vr.accels.get(uint64(as))
	if !ok {
		core.LogError("writing unknown acceleration structure %d into set %d", as, set)
		return
	}
	writeAccelerationStructure(vr.device(), dst, binding, accel)
}

// DestroyDescriptorPool frees the pool and with it the set allocated from it.
func (vr *VulkanRenderer) DestroyDescriptorPool(pool metadata.DescriptorPoolHandle) {
	p, ok := vr.descriptorPool.remove(uint64(pool))
	if !ok {
		return
	}
	vr.sets.remove(p.set)
	vr.context.Locks.SafeCall(DescriptorManagement, func() error {
		vk.DestroyDescriptorPool(vr.device(), p.pool, vr.context.Allocator)
		return nil
	})
}

func (vr *VulkanRenderer) DestroyDescriptorSetLayout(layout metadata.DescriptorSetLayoutHandle) {
	if l, ok := vr.setLayouts.remove(uint64(layout)); ok {
		vk.DestroyDescriptorSetLayout(vr.device(), l, vr.context.Allocator)
	}
}
