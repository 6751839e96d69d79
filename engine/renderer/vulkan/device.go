package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

/**
 * @brief The physical device picked for ray tracing and the logical device
 * created on it. Everything runs on a single queue that supports graphics
 * and compute.
 */
type VulkanDevice struct {
	PhysicalDevice vk.PhysicalDevice
	LogicalDevice  vk.Device

	QueueIndex uint32
	Queue      vk.Queue

	Properties metadata.DeviceProperties
	Memory     vk.PhysicalDeviceMemoryProperties
}

func SelectPhysicalDevice(context *VulkanContext) error {
	var physicalDeviceCount uint32
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, nil); res != vk.Success {
		return VulkanResultError(res, "enumerating physical devices")
	}
	if physicalDeviceCount == 0 {
		return core.Wrap(core.ErrMissingCapability, "no devices which support Vulkan were found")
	}
	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, physicalDevices); res != vk.Success {
		return VulkanResultError(res, "enumerating physical devices")
	}

	// Discrete GPUs win over everything else that qualifies.
	var (
		chosen      vk.PhysicalDevice
		chosenQueue uint32
		discrete    bool
	)
	for _, gpu := range physicalDevices {
		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(gpu, &properties)
		properties.Deref()
		name := vk.ToString(properties.DeviceName[:])

		queueIndex, ok := physicalDeviceMeetsRequirements(gpu, name)
		if !ok {
			continue
		}
		isDiscrete := properties.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu
		if chosen == nil || (isDiscrete && !discrete) {
			chosen, chosenQueue, discrete = gpu, queueIndex, isDiscrete
		}
	}
	if chosen == nil {
		return core.Wrap(core.ErrMissingCapability, "no physical device supports hardware ray tracing")
	}

	var memory vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(chosen, &memory)
	memory.Deref()

	context.Device = &VulkanDevice{
		PhysicalDevice: chosen,
		QueueIndex:     chosenQueue,
		Properties:     queryProperties(chosen),
		Memory:         memory,
	}

	props := context.Device.Properties
	core.LogInfo("Selected device: '%s'.", props.DeviceName)
	core.LogInfo(
		"Vulkan API version: %d.%d.%d",
		vk.Version.Major(vk.Version(props.APIVersion)),
		vk.Version.Minor(vk.Version(props.APIVersion)),
		vk.Version.Patch(vk.Version(props.APIVersion)),
	)
	for j := 0; j < int(memory.MemoryHeapCount); j++ {
		memory.MemoryHeaps[j].Deref()
		memorySizeGib := float64(memory.MemoryHeaps[j].Size) / 1024.0 / 1024.0 / 1024.0
		if vk.MemoryHeapFlagBits(memory.MemoryHeaps[j].Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", memorySizeGib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", memorySizeGib)
		}
	}
	return nil
}

// physicalDeviceMeetsRequirements checks the ray tracing extensions and
// features and returns the index of a graphics and compute queue family.
func physicalDeviceMeetsRequirements(device vk.PhysicalDevice, name string) (uint32, bool) {
	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	required := vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueComputeBit)
	queueIndex, found := uint32(0), false
	for i := range queueFamilies {
		queueFamilies[i].Deref()
		if queueFamilies[i].QueueFlags&required == required {
			queueIndex, found = uint32(i), true
			break
		}
	}
	if !found {
		core.LogInfo("Device '%s' has no graphics and compute queue, skipping.", name)
		return 0, false
	}

	var availableExtensionCount uint32
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &availableExtensionCount, nil); res != vk.Success {
		return 0, false
	}
	availableExtensions := make([]vk.ExtensionProperties, availableExtensionCount)
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &availableExtensionCount, availableExtensions); res != vk.Success {
		return 0, false
	}
	available := make(map[string]bool, len(availableExtensions))
	for i := range availableExtensions {
		availableExtensions[i].Deref()
		available[vk.ToString(availableExtensions[i].ExtensionName[:])] = true
	}
	for _, ext := range requiredDeviceExtensions {
		if !available[ext] {
			core.LogInfo("Required extension not found: '%s', skipping device '%s'.", ext, name)
			return 0, false
		}
	}

	if !supportsRayTracing(device) {
		core.LogInfo("Device '%s' lacks a required ray tracing or descriptor indexing feature, skipping.", name)
		return 0, false
	}
	return queueIndex, true
}

func DeviceCreate(context *VulkanContext) error {
	if err := SelectPhysicalDevice(context); err != nil {
		return err
	}
	core.LogInfo("Creating logical device...")

	queueCreateInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: context.Device.QueueIndex,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}

	features := newFeatureChain()
	defer features.free()

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		PNext:                   features.ptr,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		EnabledExtensionCount:   uint32(len(requiredDeviceExtensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(requiredDeviceExtensions),
	}

	var device vk.Device
	if res := vk.CreateDevice(context.Device.PhysicalDevice, &deviceCreateInfo, context.Allocator, &device); res != vk.Success {
		return VulkanResultError(res, "creating logical device")
	}
	context.Device.LogicalDevice = device
	core.LogInfo("Logical device created.")

	if err := loadDeviceFunctions(device); err != nil {
		return err
	}

	var queue vk.Queue
	vk.GetDeviceQueue(device, context.Device.QueueIndex, 0, &queue)
	context.Device.Queue = queue
	context.Locks.SetQueueFamily(context.Device.QueueIndex)
	core.LogInfo("Queue obtained.")
	return nil
}

func DeviceDestroy(context *VulkanContext) {
	if context.Device == nil {
		return
	}
	context.Device.Queue = nil

	core.LogInfo("Destroying logical device...")
	if context.Device.LogicalDevice != nil {
		vk.DestroyDevice(context.Device.LogicalDevice, context.Allocator)
		context.Device.LogicalDevice = nil
	}

	// Physical devices are not destroyed.
	context.Device.PhysicalDevice = nil
}
