package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// Images are always 2D with a single mip level and layer.
var colorSubresource = vk.ImageSubresourceRange{
	AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
	LevelCount: 1,
	LayerCount: 1,
}

func (vr *VulkanRenderer) CreateImage(info metadata.ImageCreateInfo) (metadata.ImageHandle, metadata.MemoryRequirements, error) {
	if info.Width == 0 || info.Height == 0 {
		return 0, metadata.MemoryRequirements{}, core.Assertf("image extent %dx%d", info.Width, info.Height)
	}
	imageInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    vk.Format(info.Format),
		Extent: vk.Extent3D{
			Width:  info.Width,
			Height: info.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(info.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}

	device := vr.device()
	var image vk.Image
	if res := vk.CreateImage(device, &imageInfo, vr.context.Allocator, &image); res != vk.Success {
		return 0, metadata.MemoryRequirements{}, VulkanResultError(res, "creating image")
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(device, image, &reqs)
	reqs.Deref()

	return metadata.ImageHandle(vr.images.add(image)), metadata.MemoryRequirements{
		Size:           uint64(reqs.Size),
		Alignment:      uint64(reqs.Alignment),
		MemoryTypeBits: reqs.MemoryTypeBits,
	}, nil
}

func (vr *VulkanRenderer) BindImageMemory(image metadata.ImageHandle, alloc metadata.Allocation) error {
	img, ok := vr.images.get(uint64(image))
	if !ok {
		return core.Wrap(core.ErrNullResource, "binding memory to an unknown image")
	}
	mem, ok := vr.memory.get(uint64(alloc.Memory))
	if !ok {
		return core.Wrap(core.ErrNullResource, "binding freed memory to an image")
	}
	return VulkanResultError(vk.BindImageMemory(vr.device(), img, mem.memory, vk.DeviceSize(alloc.Offset)), "binding image memory")
}

func (vr *VulkanRenderer) CreateImageView(image metadata.ImageHandle, format metadata.Format) (metadata.ImageViewHandle, error) {
	img, ok := vr.images.get(uint64(image))
	if !ok {
		return 0, core.Wrap(core.ErrNullResource, "creating a view of an unknown image")
	}
	viewInfo := vk.ImageViewCreateInfo{
		SType:            vk.StructureTypeImageViewCreateInfo,
		Image:            img,
		ViewType:         vk.ImageViewType2d,
		Format:           vk.Format(format),
		SubresourceRange: colorSubresource,
	}
	var view vk.ImageView
	if res := vk.CreateImageView(vr.device(), &viewInfo, vr.context.Allocator, &view); res != vk.Success {
		return 0, VulkanResultError(res, "creating image view")
	}
	return metadata.ImageViewHandle(vr.views.add(view)), nil
}

func (vr *VulkanRenderer) DestroyImageView(view metadata.ImageViewHandle) {
	if v, ok := vr.views.remove(uint64(view)); ok {
		vk.DestroyImageView(vr.device(), v, vr.context.Allocator)
	}
}

func (vr *VulkanRenderer) DestroyImage(image metadata.ImageHandle) {
	if img, ok := vr.images.remove(uint64(image)); ok {
		vk.DestroyImage(vr.device(), img, vr.context.Allocator)
	}
}

func (vr *VulkanRenderer) CreateSampler(info metadata.SamplerCreateInfo) (metadata.SamplerHandle, error) {
	address := vk.SamplerAddressModeClampToEdge
	if info.Repeat {
		address = vk.SamplerAddressModeRepeat
	}
	samplerInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.Filter(info.Filter),
		MinFilter:               vk.Filter(info.Filter),
		MipmapMode:              vk.SamplerMipmapModeLinear,
		AddressModeU:            address,
		AddressModeV:            address,
		AddressModeW:            address,
		MaxAnisotropy:           1.0,
		CompareOp:               vk.CompareOpAlways,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
	}
	var sampler vk.Sampler
	if res := vk.CreateSampler(vr.device(), &samplerInfo, vr.context.Allocator, &sampler); res != vk.Success {
		return 0, VulkanResultError(res, "creating sampler")
	}
	return metadata.SamplerHandle(vr.samplers.add(sampler)), nil
}

func (vr *VulkanRenderer) DestroySampler(sampler metadata.SamplerHandle) {
	if s, ok := vr.samplers.remove(uint64(sampler)); ok {
		vk.DestroySampler(vr.device(), s, vr.context.Allocator)
	}
}
