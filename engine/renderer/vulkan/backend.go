package vulkan

import (
	"runtime"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/platform"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

type deviceMemory struct {
	memory vk.DeviceMemory
	size   uint64
	// Set for host visible allocations, which stay mapped until freed.
	mapped []byte
}

/**
 * @brief Vulkan 1.2 backend with the KHR ray tracing extensions. Every native
 * object is kept in a registry and handed out as a plain uint64 handle.
 */
type VulkanRenderer struct {
	platform   *platform.Platform
	validation bool
	context    *VulkanContext

	memory         *registry[*deviceMemory]
	buffers        *registry[vk.Buffer]
	images         *registry[vk.Image]
	views          *registry[vk.ImageView]
	samplers       *registry[vk.Sampler]
	setLayouts     *registry[vk.DescriptorSetLayout]
	descriptorPool *registry[descriptorPool]
	sets           *registry[vk.DescriptorSet]
	commandPools   *registry[vk.CommandPool]
	commandBuffers *registry[*VulkanCommandBuffer]
	fences         *registry[*VulkanFence]
	queryPools     *registry[vk.QueryPool]
	accels         *registry[accelerationStructure]
	shaderModules  *registry[vk.ShaderModule]
	layouts        *registry[*VulkanPipelineLayout]
	pipelines      *registry[vk.Pipeline]
}

func New(p *platform.Platform, validation bool) *VulkanRenderer {
	return &VulkanRenderer{
		platform:   p,
		validation: validation,
		context: &VulkanContext{
			Allocator: nil,
			Locks:     NewVulkanLockPool(),
		},
		memory:         newRegistry[*deviceMemory](),
		buffers:        newRegistry[vk.Buffer](),
		images:         newRegistry[vk.Image](),
		views:          newRegistry[vk.ImageView](),
		samplers:       newRegistry[vk.Sampler](),
		setLayouts:     newRegistry[vk.DescriptorSetLayout](),
		descriptorPool: newRegistry[descriptorPool](),
		sets:           newRegistry[vk.DescriptorSet](),
		commandPools:   newRegistry[vk.CommandPool](),
		commandBuffers: newRegistry[*VulkanCommandBuffer](),
		fences:         newRegistry[*VulkanFence](),
		queryPools:     newRegistry[vk.QueryPool](),
		accels:         newRegistry[accelerationStructure](),
		shaderModules:  newRegistry[vk.ShaderModule](),
		layouts:        newRegistry[*VulkanPipelineLayout](),
		pipelines:      newRegistry[vk.Pipeline](),
	}
}

func (vr *VulkanRenderer) Name() string {
	return core.BackendVulkan
}

func (vr *VulkanRenderer) Properties() metadata.DeviceProperties {
	if vr.context.Device == nil {
		return metadata.DeviceProperties{}
	}
	return vr.context.Device.Properties
}

func (vr *VulkanRenderer) device() vk.Device {
	return vr.context.Device.LogicalDevice
}

func (vr *VulkanRenderer) loadVulkan() error {
	switch vr.platform.Loader() {
	case core.LoaderGLFW:
		procAddr := vr.platform.InstanceProcAddr()
		if procAddr == nil {
			return core.Wrap(core.ErrMissingCapability, "GetInstanceProcAddress is nil")
		}
		vk.SetGetInstanceProcAddr(procAddr)
	case core.LoaderSystem:
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			return core.Wrap(core.ErrMissingCapability, err.Error())
		}
	case core.LoaderLinked:
		vk.SetGetInstanceProcAddr(linkedInstanceProcAddr())
	default:
		return core.Wrapf(core.ErrUnknownVulkanLoader, "%q", vr.platform.Loader())
	}
	if err := vk.Init(); err != nil {
		return core.Wrap(core.ErrMissingCapability, err.Error())
	}
	return nil
}

func (vr *VulkanRenderer) Initialize(appName string, appWidth, appHeight uint32) error {
	if err := vr.loadVulkan(); err != nil {
		core.LogError("failed to initialize vk: %s", err)
		return err
	}

	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 2, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Anima RT"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	// No surface extensions: frames are copied out of the storage image.
	requiredExtensions := []string{}
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		createInfo.Flags |= 1
	}

	requiredLayers := []string{}
	if vr.validation {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
		requiredLayers = append(requiredLayers, "VK_LAYER_KHRONOS_validation")
		if err := checkValidationLayers(requiredLayers); err != nil {
			return err
		}
	}
	core.LogDebug("Required extensions: %v", requiredExtensions)

	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)
	createInfo.EnabledLayerCount = uint32(len(requiredLayers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(requiredLayers)

	if res := vk.CreateInstance(&createInfo, vr.context.Allocator, &vr.context.Instance); res != vk.Success {
		err := VulkanResultError(res, "creating the Vulkan instance")
		core.LogError(err.Error())
		return err
	}
	if err := vk.InitInstance(vr.context.Instance); err != nil {
		core.LogError(err.Error())
		return core.Wrap(core.ErrMissingCapability, err.Error())
	}
	core.LogInfo("Vulkan Instance created.")

	if vr.validation {
		core.LogDebug("Creating Vulkan debugger...")
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if res := vk.CreateDebugReportCallback(vr.context.Instance, &debugCreateInfo, nil, &dbg); res != vk.Success {
			err := VulkanResultError(res, "creating the debug report callback")
			core.LogError(err.Error())
			return err
		}
		vr.context.debugMessenger = dbg
		core.LogDebug("Vulkan debugger created.")
	}

	if err := DeviceCreate(vr.context); err != nil {
		core.LogError("Failed to create device: %s", err)
		return err
	}

	core.LogInfo("Vulkan renderer initialized successfully (%dx%d).", appWidth, appHeight)
	return nil
}

func checkValidationLayers(required []string) error {
	core.LogInfo("Validation layers enabled. Enumerating...")

	var availableLayerCount uint32
	if res := vk.EnumerateInstanceLayerProperties(&availableLayerCount, nil); res != vk.Success {
		return VulkanResultError(res, "enumerating instance layers")
	}
	availableLayers := make([]vk.LayerProperties, availableLayerCount)
	if res := vk.EnumerateInstanceLayerProperties(&availableLayerCount, availableLayers); res != vk.Success {
		return VulkanResultError(res, "enumerating instance layers")
	}

	for _, name := range required {
		found := false
		for j := range availableLayers {
			availableLayers[j].Deref()
			if name == vk.ToString(availableLayers[j].LayerName[:]) {
				found = true
				break
			}
		}
		if !found {
			return core.Wrapf(core.ErrMissingCapability, "required validation layer is missing: %s", name)
		}
	}
	core.LogInfo("All required validation layers are present.")
	return nil
}

// Shutdown destroys everything still registered, then the device and the
// instance. Objects are released in reverse dependency order.
func (vr *VulkanRenderer) Shutdown() error {
	if vr.context.Device != nil && vr.context.Device.LogicalDevice != nil {
		vk.DeviceWaitIdle(vr.device())
		device := vr.device()
		alloc := vr.context.Allocator

		drain(vr.pipelines, func(p vk.Pipeline) { vk.DestroyPipeline(device, p, alloc) })
		drain(vr.layouts, func(l *VulkanPipelineLayout) { vk.DestroyPipelineLayout(device, l.Handle, alloc) })
		drain(vr.shaderModules, func(m vk.ShaderModule) { vk.DestroyShaderModule(device, m, alloc) })
		drain(vr.accels, func(as accelerationStructure) { destroyAccelerationStructure(device, as) })
		drain(vr.queryPools, func(q vk.QueryPool) { vk.DestroyQueryPool(device, q, alloc) })
		drain(vr.fences, func(f *VulkanFence) { vk.DestroyFence(device, f.Handle, alloc) })
		// Command buffers go away with their pools.
		drain(vr.commandBuffers, func(*VulkanCommandBuffer) {})
		drain(vr.commandPools, func(p vk.CommandPool) { vk.DestroyCommandPool(device, p, alloc) })
		drain(vr.sets, func(vk.DescriptorSet) {})
		drain(vr.descriptorPool, func(p descriptorPool) { vk.DestroyDescriptorPool(device, p.pool, alloc) })
		drain(vr.setLayouts, func(l vk.DescriptorSetLayout) { vk.DestroyDescriptorSetLayout(device, l, alloc) })
		drain(vr.samplers, func(s vk.Sampler) { vk.DestroySampler(device, s, alloc) })
		drain(vr.views, func(v vk.ImageView) { vk.DestroyImageView(device, v, alloc) })
		drain(vr.images, func(i vk.Image) { vk.DestroyImage(device, i, alloc) })
		drain(vr.buffers, func(b vk.Buffer) { vk.DestroyBuffer(device, b, alloc) })
		drain(vr.memory, func(m *deviceMemory) {
			if m.mapped != nil {
				vk.UnmapMemory(device, m.memory)
			}
			vk.FreeMemory(device, m.memory, alloc)
		})
	}

	DeviceDestroy(vr.context)

	if vr.context.debugMessenger != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(vr.context.Instance, vr.context.debugMessenger, vr.context.Allocator)
		vr.context.debugMessenger = vk.NullDebugReportCallback
	}

	if vr.context.Instance != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(vr.context.Instance, vr.context.Allocator)
		vr.context.Instance = nil
	}
	return nil
}

func drain[T any](r *registry[T], destroy func(T)) {
	r.mu.Lock()
	items := r.items
	r.items = map[uint64]T{}
	r.mu.Unlock()
	if len(items) > 0 {
		core.LogDebug("Releasing %d leftover objects.", len(items))
	}
	for _, v := range items {
		destroy(v)
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
