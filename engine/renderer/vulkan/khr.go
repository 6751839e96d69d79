package vulkan

/*
#cgo linux LDFLAGS: -lvulkan
#cgo windows LDFLAGS: -lvulkan-1
#cgo darwin LDFLAGS: -lvulkan

#include <vulkan/vulkan.h>
#include <stdlib.h>
#include <string.h>

static PFN_vkGetBufferDeviceAddress pfn_vkGetBufferDeviceAddress = NULL;
static PFN_vkGetAccelerationStructureBuildSizesKHR pfn_vkGetAccelerationStructureBuildSizesKHR = NULL;
static PFN_vkCreateAccelerationStructureKHR pfn_vkCreateAccelerationStructureKHR = NULL;
static PFN_vkDestroyAccelerationStructureKHR pfn_vkDestroyAccelerationStructureKHR = NULL;
static PFN_vkGetAccelerationStructureDeviceAddressKHR pfn_vkGetAccelerationStructureDeviceAddressKHR = NULL;
static PFN_vkCmdBuildAccelerationStructuresKHR pfn_vkCmdBuildAccelerationStructuresKHR = NULL;
static PFN_vkCmdWriteAccelerationStructuresPropertiesKHR pfn_vkCmdWriteAccelerationStructuresPropertiesKHR = NULL;
static PFN_vkCmdCopyAccelerationStructureKHR pfn_vkCmdCopyAccelerationStructureKHR = NULL;
static PFN_vkCreateRayTracingPipelinesKHR pfn_vkCreateRayTracingPipelinesKHR = NULL;
static PFN_vkGetRayTracingShaderGroupHandlesKHR pfn_vkGetRayTracingShaderGroupHandlesKHR = NULL;
static PFN_vkCmdTraceRaysKHR pfn_vkCmdTraceRaysKHR = NULL;
static PFN_vkUpdateDescriptorSets pfn_vkUpdateDescriptorSets = NULL;

static void* anima_linked_instance_proc_addr(void) {
	return (void*)vkGetInstanceProcAddr;
}

static VkResult anima_load_device_functions(VkDevice device) {
	pfn_vkGetBufferDeviceAddress = (PFN_vkGetBufferDeviceAddress)
		vkGetDeviceProcAddr(device, "vkGetBufferDeviceAddress");
	pfn_vkGetAccelerationStructureBuildSizesKHR = (PFN_vkGetAccelerationStructureBuildSizesKHR)
		vkGetDeviceProcAddr(device, "vkGetAccelerationStructureBuildSizesKHR");
	pfn_vkCreateAccelerationStructureKHR = (PFN_vkCreateAccelerationStructureKHR)
		vkGetDeviceProcAddr(device, "vkCreateAccelerationStructureKHR");
	pfn_vkDestroyAccelerationStructureKHR = (PFN_vkDestroyAccelerationStructureKHR)
		vkGetDeviceProcAddr(device, "vkDestroyAccelerationStructureKHR");
	pfn_vkGetAccelerationStructureDeviceAddressKHR = (PFN_vkGetAccelerationStructureDeviceAddressKHR)
		vkGetDeviceProcAddr(device, "vkGetAccelerationStructureDeviceAddressKHR");
	pfn_vkCmdBuildAccelerationStructuresKHR = (PFN_vkCmdBuildAccelerationStructuresKHR)
		vkGetDeviceProcAddr(device, "vkCmdBuildAccelerationStructuresKHR");
	pfn_vkCmdWriteAccelerationStructuresPropertiesKHR = (PFN_vkCmdWriteAccelerationStructuresPropertiesKHR)
		vkGetDeviceProcAddr(device, "vkCmdWriteAccelerationStructuresPropertiesKHR");
	pfn_vkCmdCopyAccelerationStructureKHR = (PFN_vkCmdCopyAccelerationStructureKHR)
		vkGetDeviceProcAddr(device, "vkCmdCopyAccelerationStructureKHR");
	pfn_vkCreateRayTracingPipelinesKHR = (PFN_vkCreateRayTracingPipelinesKHR)
		vkGetDeviceProcAddr(device, "vkCreateRayTracingPipelinesKHR");
	pfn_vkGetRayTracingShaderGroupHandlesKHR = (PFN_vkGetRayTracingShaderGroupHandlesKHR)
		vkGetDeviceProcAddr(device, "vkGetRayTracingShaderGroupHandlesKHR");
	pfn_vkCmdTraceRaysKHR = (PFN_vkCmdTraceRaysKHR)
		vkGetDeviceProcAddr(device, "vkCmdTraceRaysKHR");
	pfn_vkUpdateDescriptorSets = (PFN_vkUpdateDescriptorSets)
		vkGetDeviceProcAddr(device, "vkUpdateDescriptorSets");

	if (pfn_vkGetBufferDeviceAddress == NULL ||
		pfn_vkGetAccelerationStructureBuildSizesKHR == NULL ||
		pfn_vkCreateAccelerationStructureKHR == NULL ||
		pfn_vkDestroyAccelerationStructureKHR == NULL ||
		pfn_vkGetAccelerationStructureDeviceAddressKHR == NULL ||
		pfn_vkCmdBuildAccelerationStructuresKHR == NULL ||
		pfn_vkCmdWriteAccelerationStructuresPropertiesKHR == NULL ||
		pfn_vkCmdCopyAccelerationStructureKHR == NULL ||
		pfn_vkCreateRayTracingPipelinesKHR == NULL ||
		pfn_vkGetRayTracingShaderGroupHandlesKHR == NULL ||
		pfn_vkCmdTraceRaysKHR == NULL ||
		pfn_vkUpdateDescriptorSets == NULL) {
		return VK_ERROR_EXTENSION_NOT_PRESENT;
	}
	return VK_SUCCESS;
}

typedef struct {
	char deviceName[VK_MAX_PHYSICAL_DEVICE_NAME_SIZE];
	uint32_t apiVersion;
	uint32_t vendorID;
	uint32_t deviceID;

	uint32_t shaderGroupHandleSize;
	uint32_t maxRayRecursionDepth;
	uint32_t maxShaderGroupStride;
	uint32_t shaderGroupBaseAlignment;
	uint32_t shaderGroupHandleCaptureReplaySize;
	uint32_t maxRayDispatchInvocationCount;
	uint32_t shaderGroupHandleAlignment;
	uint32_t maxRayHitAttributeSize;

	uint64_t maxGeometryCount;
	uint64_t maxInstanceCount;
	uint64_t maxPrimitiveCount;
	uint32_t maxDescriptorSetAccelerationStructures;
	uint32_t minAccelerationStructureScratchOffsetAlignment;
} anima_device_properties;

static void anima_query_properties(VkPhysicalDevice gpu, anima_device_properties* out) {
	VkPhysicalDeviceAccelerationStructurePropertiesKHR as;
	VkPhysicalDeviceRayTracingPipelinePropertiesKHR rt;
	VkPhysicalDeviceProperties2 props;
	memset(&as, 0, sizeof(as));
	memset(&rt, 0, sizeof(rt));
	memset(&props, 0, sizeof(props));
	as.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_ACCELERATION_STRUCTURE_PROPERTIES_KHR;
	rt.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_RAY_TRACING_PIPELINE_PROPERTIES_KHR;
	rt.pNext = &as;
	props.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_PROPERTIES_2;
	props.pNext = &rt;
	vkGetPhysicalDeviceProperties2(gpu, &props);

	memset(out, 0, sizeof(*out));
	strncpy(out->deviceName, props.properties.deviceName, VK_MAX_PHYSICAL_DEVICE_NAME_SIZE - 1);
	out->apiVersion = props.properties.apiVersion;
	out->vendorID = props.properties.vendorID;
	out->deviceID = props.properties.deviceID;

	out->shaderGroupHandleSize = rt.shaderGroupHandleSize;
	out->maxRayRecursionDepth = rt.maxRayRecursionDepth;
	out->maxShaderGroupStride = rt.maxShaderGroupStride;
	out->shaderGroupBaseAlignment = rt.shaderGroupBaseAlignment;
	out->shaderGroupHandleCaptureReplaySize = rt.shaderGroupHandleCaptureReplaySize;
	out->maxRayDispatchInvocationCount = rt.maxRayDispatchInvocationCount;
	out->shaderGroupHandleAlignment = rt.shaderGroupHandleAlignment;
	out->maxRayHitAttributeSize = rt.maxRayHitAttributeSize;

	out->maxGeometryCount = as.maxGeometryCount;
	out->maxInstanceCount = as.maxInstanceCount;
	out->maxPrimitiveCount = as.maxPrimitiveCount;
	out->maxDescriptorSetAccelerationStructures = as.maxDescriptorSetAccelerationStructures;
	out->minAccelerationStructureScratchOffsetAlignment = as.minAccelerationStructureScratchOffsetAlignment;
}

static int anima_supports_ray_tracing(VkPhysicalDevice gpu) {
	VkPhysicalDeviceRayTracingPipelineFeaturesKHR rt;
	VkPhysicalDeviceAccelerationStructureFeaturesKHR as;
	VkPhysicalDeviceVulkan12Features v12;
	VkPhysicalDeviceFeatures2 features;
	memset(&rt, 0, sizeof(rt));
	memset(&as, 0, sizeof(as));
	memset(&v12, 0, sizeof(v12));
	memset(&features, 0, sizeof(features));
	rt.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_RAY_TRACING_PIPELINE_FEATURES_KHR;
	as.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_ACCELERATION_STRUCTURE_FEATURES_KHR;
	as.pNext = &rt;
	v12.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_VULKAN_1_2_FEATURES;
	v12.pNext = &as;
	features.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_FEATURES_2;
	features.pNext = &v12;
	vkGetPhysicalDeviceFeatures2(gpu, &features);

	return rt.rayTracingPipeline && as.accelerationStructure &&
		v12.bufferDeviceAddress && v12.descriptorIndexing &&
		v12.runtimeDescriptorArray && v12.descriptorBindingPartiallyBound &&
		v12.descriptorBindingSampledImageUpdateAfterBind &&
		v12.shaderSampledImageArrayNonUniformIndexing && v12.scalarBlockLayout;
}

typedef struct {
	VkPhysicalDeviceVulkan12Features v12;
	VkPhysicalDeviceAccelerationStructureFeaturesKHR as;
	VkPhysicalDeviceRayTracingPipelineFeaturesKHR rt;
} anima_feature_chain;

// The returned chain is released with free.
static void* anima_new_feature_chain(void) {
	anima_feature_chain* c = calloc(1, sizeof(anima_feature_chain));
	c->v12.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_VULKAN_1_2_FEATURES;
	c->v12.pNext = &c->as;
	c->v12.bufferDeviceAddress = VK_TRUE;
	c->v12.descriptorIndexing = VK_TRUE;
	c->v12.runtimeDescriptorArray = VK_TRUE;
	c->v12.descriptorBindingPartiallyBound = VK_TRUE;
	c->v12.descriptorBindingSampledImageUpdateAfterBind = VK_TRUE;
	c->v12.shaderSampledImageArrayNonUniformIndexing = VK_TRUE;
	c->v12.scalarBlockLayout = VK_TRUE;
	c->as.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_ACCELERATION_STRUCTURE_FEATURES_KHR;
	c->as.pNext = &c->rt;
	c->as.accelerationStructure = VK_TRUE;
	c->rt.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_RAY_TRACING_PIPELINE_FEATURES_KHR;
	c->rt.rayTracingPipeline = VK_TRUE;
	return c;
}

static void* anima_new_allocate_flags(void) {
	VkMemoryAllocateFlagsInfo* info = calloc(1, sizeof(VkMemoryAllocateFlagsInfo));
	info->sType = VK_STRUCTURE_TYPE_MEMORY_ALLOCATE_FLAGS_INFO;
	info->flags = VK_MEMORY_ALLOCATE_DEVICE_ADDRESS_BIT;
	return info;
}

static void* anima_new_binding_flags(const uint32_t* flags, uint32_t count) {
	size_t head = sizeof(VkDescriptorSetLayoutBindingFlagsCreateInfo);
	char* mem = calloc(1, head + count * sizeof(VkDescriptorBindingFlags));
	VkDescriptorSetLayoutBindingFlagsCreateInfo* info = (VkDescriptorSetLayoutBindingFlagsCreateInfo*)mem;
	VkDescriptorBindingFlags* dst = (VkDescriptorBindingFlags*)(mem + head);
	for (uint32_t i = 0; i < count; i++) {
		dst[i] = flags[i];
	}
	info->sType = VK_STRUCTURE_TYPE_DESCRIPTOR_SET_LAYOUT_BINDING_FLAGS_CREATE_INFO;
	info->bindingCount = count;
	info->pBindingFlags = dst;
	return mem;
}

static VkDeviceAddress anima_buffer_device_address(VkDevice device, VkBuffer buffer) {
	if (pfn_vkGetBufferDeviceAddress == NULL) return 0;
	VkBufferDeviceAddressInfo info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_BUFFER_DEVICE_ADDRESS_INFO;
	info.buffer = buffer;
	return pfn_vkGetBufferDeviceAddress(device, &info);
}

static VkAccelerationStructureGeometryKHR* anima_new_geometries(uint32_t count) {
	return calloc(count == 0 ? 1 : count, sizeof(VkAccelerationStructureGeometryKHR));
}

static void anima_set_triangles(VkAccelerationStructureGeometryKHR* geometries, uint32_t i, uint32_t flags,
	uint32_t vertexFormat, VkDeviceAddress vertices, VkDeviceSize stride, uint32_t maxVertex,
	uint32_t indexType, VkDeviceAddress indices) {
	VkAccelerationStructureGeometryKHR* g = &geometries[i];
	g->sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_KHR;
	g->geometryType = VK_GEOMETRY_TYPE_TRIANGLES_KHR;
	g->flags = flags;
	g->geometry.triangles.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_TRIANGLES_DATA_KHR;
	g->geometry.triangles.vertexFormat = (VkFormat)vertexFormat;
	g->geometry.triangles.vertexData.deviceAddress = vertices;
	g->geometry.triangles.vertexStride = stride;
	g->geometry.triangles.maxVertex = maxVertex;
	g->geometry.triangles.indexType = (VkIndexType)indexType;
	g->geometry.triangles.indexData.deviceAddress = indices;
}

static void anima_set_aabbs(VkAccelerationStructureGeometryKHR* geometries, uint32_t i, uint32_t flags,
	VkDeviceAddress data, VkDeviceSize stride) {
	VkAccelerationStructureGeometryKHR* g = &geometries[i];
	g->sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_KHR;
	g->geometryType = VK_GEOMETRY_TYPE_AABBS_KHR;
	g->flags = flags;
	g->geometry.aabbs.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_AABBS_DATA_KHR;
	g->geometry.aabbs.data.deviceAddress = data;
	g->geometry.aabbs.stride = stride;
}

static void anima_set_instances(VkAccelerationStructureGeometryKHR* geometries, uint32_t i, uint32_t flags,
	VkDeviceAddress data) {
	VkAccelerationStructureGeometryKHR* g = &geometries[i];
	g->sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_KHR;
	g->geometryType = VK_GEOMETRY_TYPE_INSTANCES_KHR;
	g->flags = flags;
	g->geometry.instances.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_INSTANCES_DATA_KHR;
	g->geometry.instances.arrayOfPointers = VK_FALSE;
	g->geometry.instances.data.deviceAddress = data;
}

static VkAccelerationStructureBuildGeometryInfoKHR anima_build_info(uint32_t type, uint32_t flags, uint32_t mode,
	VkAccelerationStructureKHR src, VkAccelerationStructureKHR dst,
	uint32_t count, const VkAccelerationStructureGeometryKHR* geometries, VkDeviceAddress scratch) {
	VkAccelerationStructureBuildGeometryInfoKHR info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_BUILD_GEOMETRY_INFO_KHR;
	info.type = (VkAccelerationStructureTypeKHR)type;
	info.flags = flags;
	info.mode = (VkBuildAccelerationStructureModeKHR)mode;
	info.srcAccelerationStructure = src;
	info.dstAccelerationStructure = dst;
	info.geometryCount = count;
	info.pGeometries = geometries;
	info.scratchData.deviceAddress = scratch;
	return info;
}

static void anima_build_sizes(VkDevice device, uint32_t type, uint32_t flags, uint32_t mode,
	uint32_t count, const VkAccelerationStructureGeometryKHR* geometries, const uint32_t* maxPrimitives,
	VkDeviceSize* size, VkDeviceSize* updateScratch, VkDeviceSize* buildScratch) {
	*size = 0;
	*updateScratch = 0;
	*buildScratch = 0;
	if (pfn_vkGetAccelerationStructureBuildSizesKHR == NULL) return;
	VkAccelerationStructureBuildGeometryInfoKHR info =
		anima_build_info(type, flags, mode, VK_NULL_HANDLE, VK_NULL_HANDLE, count, geometries, 0);
	VkAccelerationStructureBuildSizesInfoKHR sizes;
	memset(&sizes, 0, sizeof(sizes));
	sizes.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_BUILD_SIZES_INFO_KHR;
	pfn_vkGetAccelerationStructureBuildSizesKHR(device, VK_ACCELERATION_STRUCTURE_BUILD_TYPE_DEVICE_KHR,
		&info, maxPrimitives, &sizes);
	*size = sizes.accelerationStructureSize;
	*updateScratch = sizes.updateScratchSize;
	*buildScratch = sizes.buildScratchSize;
}

static void anima_cmd_build(VkCommandBuffer cmd, uint32_t type, uint32_t flags, uint32_t mode,
	VkAccelerationStructureKHR src, VkAccelerationStructureKHR dst,
	uint32_t count, const VkAccelerationStructureGeometryKHR* geometries, VkDeviceAddress scratch,
	const VkAccelerationStructureBuildRangeInfoKHR* ranges) {
	if (pfn_vkCmdBuildAccelerationStructuresKHR == NULL) return;
	VkAccelerationStructureBuildGeometryInfoKHR info =
		anima_build_info(type, flags, mode, src, dst, count, geometries, scratch);
	const VkAccelerationStructureBuildRangeInfoKHR* pRanges = ranges;
	pfn_vkCmdBuildAccelerationStructuresKHR(cmd, 1, &info, &pRanges);
}

static VkResult anima_create_acceleration_structure(VkDevice device, VkBuffer buffer, VkDeviceSize offset,
	VkDeviceSize size, uint32_t type, VkAccelerationStructureKHR* out) {
	if (pfn_vkCreateAccelerationStructureKHR == NULL) return VK_ERROR_EXTENSION_NOT_PRESENT;
	VkAccelerationStructureCreateInfoKHR info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_CREATE_INFO_KHR;
	info.buffer = buffer;
	info.offset = offset;
	info.size = size;
	info.type = (VkAccelerationStructureTypeKHR)type;
	return pfn_vkCreateAccelerationStructureKHR(device, &info, NULL, out);
}

static void anima_destroy_acceleration_structure(VkDevice device, VkAccelerationStructureKHR as) {
	if (pfn_vkDestroyAccelerationStructureKHR == NULL) return;
	pfn_vkDestroyAccelerationStructureKHR(device, as, NULL);
}

static VkDeviceAddress anima_acceleration_structure_address(VkDevice device, VkAccelerationStructureKHR as) {
	if (pfn_vkGetAccelerationStructureDeviceAddressKHR == NULL) return 0;
	VkAccelerationStructureDeviceAddressInfoKHR info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_DEVICE_ADDRESS_INFO_KHR;
	info.accelerationStructure = as;
	return pfn_vkGetAccelerationStructureDeviceAddressKHR(device, &info);
}

static void anima_cmd_write_compacted_size(VkCommandBuffer cmd, VkAccelerationStructureKHR as,
	VkQueryPool pool, uint32_t query) {
	if (pfn_vkCmdWriteAccelerationStructuresPropertiesKHR == NULL) return;
	pfn_vkCmdWriteAccelerationStructuresPropertiesKHR(cmd, 1, &as,
		VK_QUERY_TYPE_ACCELERATION_STRUCTURE_COMPACTED_SIZE_KHR, pool, query);
}

static void anima_cmd_copy_acceleration_structure(VkCommandBuffer cmd, VkAccelerationStructureKHR src,
	VkAccelerationStructureKHR dst, uint32_t mode) {
	if (pfn_vkCmdCopyAccelerationStructureKHR == NULL) return;
	VkCopyAccelerationStructureInfoKHR info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_COPY_ACCELERATION_STRUCTURE_INFO_KHR;
	info.src = src;
	info.dst = dst;
	info.mode = (VkCopyAccelerationStructureModeKHR)mode;
	pfn_vkCmdCopyAccelerationStructureKHR(cmd, &info);
}

static void anima_write_acceleration_structure(VkDevice device, VkDescriptorSet set, uint32_t binding,
	VkAccelerationStructureKHR as) {
	if (pfn_vkUpdateDescriptorSets == NULL) return;
	VkWriteDescriptorSetAccelerationStructureKHR asInfo;
	memset(&asInfo, 0, sizeof(asInfo));
	asInfo.sType = VK_STRUCTURE_TYPE_WRITE_DESCRIPTOR_SET_ACCELERATION_STRUCTURE_KHR;
	asInfo.accelerationStructureCount = 1;
	asInfo.pAccelerationStructures = &as;

	VkWriteDescriptorSet write;
	memset(&write, 0, sizeof(write));
	write.sType = VK_STRUCTURE_TYPE_WRITE_DESCRIPTOR_SET;
	write.pNext = &asInfo;
	write.dstSet = set;
	write.dstBinding = binding;
	write.descriptorCount = 1;
	write.descriptorType = VK_DESCRIPTOR_TYPE_ACCELERATION_STRUCTURE_KHR;
	pfn_vkUpdateDescriptorSets(device, 1, &write, 0, NULL);
}

// groups holds four stage indices per group: general, closest hit, any hit, intersection.
static VkResult anima_create_ray_tracing_pipeline(VkDevice device, VkPipelineLayout layout,
	uint32_t stageCount, const uint32_t* stageFlags, const VkShaderModule* modules, char** entries,
	uint32_t groupCount, const uint32_t* groupTypes, const uint32_t* groups,
	uint32_t maxRecursion, VkPipeline* out) {
	if (pfn_vkCreateRayTracingPipelinesKHR == NULL) return VK_ERROR_EXTENSION_NOT_PRESENT;

	VkPipelineShaderStageCreateInfo* stages = calloc(stageCount, sizeof(VkPipelineShaderStageCreateInfo));
	VkRayTracingShaderGroupCreateInfoKHR* infos = calloc(groupCount, sizeof(VkRayTracingShaderGroupCreateInfoKHR));
	for (uint32_t i = 0; i < stageCount; i++) {
		stages[i].sType = VK_STRUCTURE_TYPE_PIPELINE_SHADER_STAGE_CREATE_INFO;
		stages[i].stage = (VkShaderStageFlagBits)stageFlags[i];
		stages[i].module = modules[i];
		stages[i].pName = entries[i];
	}
	for (uint32_t i = 0; i < groupCount; i++) {
		infos[i].sType = VK_STRUCTURE_TYPE_RAY_TRACING_SHADER_GROUP_CREATE_INFO_KHR;
		infos[i].type = (VkRayTracingShaderGroupTypeKHR)groupTypes[i];
		infos[i].generalShader = groups[4 * i + 0];
		infos[i].closestHitShader = groups[4 * i + 1];
		infos[i].anyHitShader = groups[4 * i + 2];
		infos[i].intersectionShader = groups[4 * i + 3];
	}

	VkRayTracingPipelineCreateInfoKHR info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_RAY_TRACING_PIPELINE_CREATE_INFO_KHR;
	info.stageCount = stageCount;
	info.pStages = stages;
	info.groupCount = groupCount;
	info.pGroups = infos;
	info.maxPipelineRayRecursionDepth = maxRecursion;
	info.layout = layout;

	VkResult res = pfn_vkCreateRayTracingPipelinesKHR(device, VK_NULL_HANDLE, VK_NULL_HANDLE, 1, &info, NULL, out);
	free(stages);
	free(infos);
	return res;
}

static VkResult anima_group_handles(VkDevice device, VkPipeline pipeline, uint32_t first, uint32_t count,
	size_t size, void* data) {
	if (pfn_vkGetRayTracingShaderGroupHandlesKHR == NULL) return VK_ERROR_EXTENSION_NOT_PRESENT;
	return pfn_vkGetRayTracingShaderGroupHandlesKHR(device, pipeline, first, count, size, data);
}

// regions holds raygen, miss, hit and callable in that order.
static void anima_cmd_trace_rays(VkCommandBuffer cmd, const VkStridedDeviceAddressRegionKHR* regions,
	uint32_t width, uint32_t height, uint32_t depth) {
	if (pfn_vkCmdTraceRaysKHR == NULL) return;
	pfn_vkCmdTraceRaysKHR(cmd, &regions[0], &regions[1], &regions[2], &regions[3], width, height, depth);
}
*/
import "C"

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// Device extensions a ray tracing device must expose.
var requiredDeviceExtensions = []string{
	"VK_KHR_acceleration_structure",
	"VK_KHR_ray_tracing_pipeline",
	"VK_KHR_deferred_host_operations",
}

// The goki handles and the ones declared above come from two different cgo
// packages; both are the same pointer sized Vulkan handles underneath.

func cDevice(d vk.Device) C.VkDevice {
	return C.VkDevice(unsafe.Pointer(d))
}

func cPhysicalDevice(d vk.PhysicalDevice) C.VkPhysicalDevice {
	return C.VkPhysicalDevice(unsafe.Pointer(d))
}

func cCommandBuffer(c vk.CommandBuffer) C.VkCommandBuffer {
	return C.VkCommandBuffer(unsafe.Pointer(c))
}

func cBuffer(b vk.Buffer) C.VkBuffer {
	return C.VkBuffer(unsafe.Pointer(b))
}

func cQueryPool(q vk.QueryPool) C.VkQueryPool {
	return C.VkQueryPool(unsafe.Pointer(q))
}

func cDescriptorSet(s vk.DescriptorSet) C.VkDescriptorSet {
	return C.VkDescriptorSet(unsafe.Pointer(s))
}

func cPipelineLayout(l vk.PipelineLayout) C.VkPipelineLayout {
	return C.VkPipelineLayout(unsafe.Pointer(l))
}

func cPipeline(p vk.Pipeline) C.VkPipeline {
	return C.VkPipeline(unsafe.Pointer(p))
}

func cShaderModule(m vk.ShaderModule) C.VkShaderModule {
	return C.VkShaderModule(unsafe.Pointer(m))
}

func linkedInstanceProcAddr() unsafe.Pointer {
	return C.anima_linked_instance_proc_addr()
}

func loadDeviceFunctions(device vk.Device) error {
	if res := vk.Result(C.anima_load_device_functions(cDevice(device))); res != vk.Success {
		return VulkanResultError(res, "loading ray tracing entry points")
	}
	return nil
}

func supportsRayTracing(gpu vk.PhysicalDevice) bool {
	return C.anima_supports_ray_tracing(cPhysicalDevice(gpu)) != 0
}

func queryProperties(gpu vk.PhysicalDevice) metadata.DeviceProperties {
	var p C.anima_device_properties
	C.anima_query_properties(cPhysicalDevice(gpu), &p)
	return metadata.DeviceProperties{
		DeviceName: C.GoString(&p.deviceName[0]),
		VendorID:   uint32(p.vendorID),
		DeviceID:   uint32(p.deviceID),
		APIVersion: uint32(p.apiVersion),
		RayTracing: metadata.RayTracingPipelineProperties{
			ShaderGroupHandleSize:              uint32(p.shaderGroupHandleSize),
			MaxRayRecursionDepth:               uint32(p.maxRayRecursionDepth),
			MaxShaderGroupStride:               uint32(p.maxShaderGroupStride),
			ShaderGroupBaseAlignment:           uint32(p.shaderGroupBaseAlignment),
			ShaderGroupHandleCaptureReplaySize: uint32(p.shaderGroupHandleCaptureReplaySize),
			MaxRayDispatchInvocationCount:      uint32(p.maxRayDispatchInvocationCount),
			ShaderGroupHandleAlignment:         uint32(p.shaderGroupHandleAlignment),
			MaxRayHitAttributeSize:             uint32(p.maxRayHitAttributeSize),
		},
		AccelerationStructure: metadata.AccelerationStructureProperties{
			MaxGeometryCount:                               uint64(p.maxGeometryCount),
			MaxInstanceCount:                               uint64(p.maxInstanceCount),
			MaxPrimitiveCount:                              uint64(p.maxPrimitiveCount),
			MaxDescriptorSetAccelerationStructures:         uint32(p.maxDescriptorSetAccelerationStructures),
			MinAccelerationStructureScratchOffsetAlignment: uint32(p.minAccelerationStructureScratchOffsetAlignment),
		},
	}
}

// cAlloc is C memory handed to goki structs as a pNext chain.
type cAlloc struct {
	ptr unsafe.Pointer
}

func newFeatureChain() cAlloc {
	return cAlloc{ptr: C.anima_new_feature_chain()}
}

func newAllocateFlags() cAlloc {
	return cAlloc{ptr: C.anima_new_allocate_flags()}
}

func newBindingFlags(flags []uint32) cAlloc {
	if len(flags) == 0 {
		return cAlloc{}
	}
	return cAlloc{ptr: C.anima_new_binding_flags((*C.uint32_t)(unsafe.Pointer(&flags[0])), C.uint32_t(len(flags)))}
}

func (a cAlloc) free() {
	if a.ptr != nil {
		C.free(a.ptr)
	}
}

func bufferDeviceAddress(device vk.Device, buffer vk.Buffer) metadata.DeviceAddress {
	return metadata.DeviceAddress(C.anima_buffer_device_address(cDevice(device), cBuffer(buffer)))
}

// geometries is a C array of VkAccelerationStructureGeometryKHR.
type geometries struct {
	ptr   *C.VkAccelerationStructureGeometryKHR
	count int
}

func newGeometries(src []metadata.AccelerationStructureGeometry) geometries {
	g := geometries{ptr: C.anima_new_geometries(C.uint32_t(len(src))), count: len(src)}
	for i, geo := range src {
		idx := C.uint32_t(i)
		flags := C.uint32_t(geo.Flags)
		switch geo.Type {
		case metadata.GeometryTypeTriangles:
			t := geo.Triangles
			C.anima_set_triangles(g.ptr, idx, flags,
				C.uint32_t(t.VertexFormat), C.VkDeviceAddress(t.VertexData), C.VkDeviceSize(t.VertexStride),
				C.uint32_t(t.MaxVertex), C.uint32_t(t.IndexType), C.VkDeviceAddress(t.IndexData))
		case metadata.GeometryTypeAABBs:
			C.anima_set_aabbs(g.ptr, idx, flags, C.VkDeviceAddress(geo.AABBs.Data), C.VkDeviceSize(geo.AABBs.Stride))
		case metadata.GeometryTypeInstances:
			C.anima_set_instances(g.ptr, idx, flags, C.VkDeviceAddress(geo.Instances.Data))
		}
	}
	return g
}

func (g geometries) free() {
	C.free(unsafe.Pointer(g.ptr))
}

func buildSizes(device vk.Device, info metadata.AccelerationStructureBuildGeometryInfo, maxPrimitives []uint32) metadata.AccelerationStructureBuildSizes {
	if len(maxPrimitives) != len(info.Geometries) || len(maxPrimitives) == 0 {
		return metadata.AccelerationStructureBuildSizes{}
	}
	g := newGeometries(info.Geometries)
	defer g.free()

	var size, update, build C.VkDeviceSize
	C.anima_build_sizes(cDevice(device), C.uint32_t(info.Type), C.uint32_t(info.Flags), C.uint32_t(info.Mode),
		C.uint32_t(g.count), g.ptr, (*C.uint32_t)(unsafe.Pointer(&maxPrimitives[0])),
		&size, &update, &build)
	return metadata.AccelerationStructureBuildSizes{
		AccelerationStructureSize: uint64(size),
		UpdateScratchSize:         uint64(update),
		BuildScratchSize:          uint64(build),
	}
}

func cmdBuild(cmd vk.CommandBuffer, info metadata.AccelerationStructureBuildGeometryInfo, src, dst accelerationStructure, ranges []metadata.AccelerationStructureBuildRangeInfo) {
	if len(ranges) != len(info.Geometries) || len(ranges) == 0 {
		core.LogError("acceleration structure build with %d ranges for %d geometries", len(ranges), len(info.Geometries))
		return
	}
	g := newGeometries(info.Geometries)
	defer g.free()

	cRanges := make([]C.VkAccelerationStructureBuildRangeInfoKHR, len(ranges))
	for i, r := range ranges {
		cRanges[i].primitiveCount = C.uint32_t(r.PrimitiveCount)
		cRanges[i].primitiveOffset = C.uint32_t(r.PrimitiveOffset)
		cRanges[i].firstVertex = C.uint32_t(r.FirstVertex)
		cRanges[i].transformOffset = C.uint32_t(r.TransformOffset)
	}
	C.anima_cmd_build(cCommandBuffer(cmd), C.uint32_t(info.Type), C.uint32_t(info.Flags), C.uint32_t(info.Mode),
		src.handle, dst.handle, C.uint32_t(g.count), g.ptr, C.VkDeviceAddress(info.Scratch), &cRanges[0])
}

// accelerationStructure wraps the native handle so the rest of the package
// never names a cgo type.
type accelerationStructure struct {
	handle C.VkAccelerationStructureKHR
}

func createAccelerationStructure(device vk.Device, buffer vk.Buffer, info metadata.AccelerationStructureCreateInfo) (accelerationStructure, error) {
	var out C.VkAccelerationStructureKHR
	res := vk.Result(C.anima_create_acceleration_structure(cDevice(device), cBuffer(buffer),
		C.VkDeviceSize(info.Offset), C.VkDeviceSize(info.Size), C.uint32_t(info.Type), &out))
	if res != vk.Success {
		return accelerationStructure{}, VulkanResultError(res, "creating acceleration structure")
	}
	return accelerationStructure{handle: out}, nil
}

func destroyAccelerationStructure(device vk.Device, as accelerationStructure) {
	C.anima_destroy_acceleration_structure(cDevice(device), as.handle)
}

func accelerationStructureAddress(device vk.Device, as accelerationStructure) metadata.DeviceAddress {
	return metadata.DeviceAddress(C.anima_acceleration_structure_address(cDevice(device), as.handle))
}

func cmdWriteCompactedSize(cmd vk.CommandBuffer, as accelerationStructure, pool vk.QueryPool, query uint32) {
	C.anima_cmd_write_compacted_size(cCommandBuffer(cmd), as.handle, cQueryPool(pool), C.uint32_t(query))
}

func cmdCopyAccelerationStructure(cmd vk.CommandBuffer, src, dst accelerationStructure, mode metadata.CopyAccelerationStructureMode) {
	C.anima_cmd_copy_acceleration_structure(cCommandBuffer(cmd), src.handle, dst.handle, C.uint32_t(mode))
}

func writeAccelerationStructure(device vk.Device, set vk.DescriptorSet, binding uint32, as accelerationStructure) {
	C.anima_write_acceleration_structure(cDevice(device), cDescriptorSet(set), C.uint32_t(binding), as.handle)
}

func createRayTracingPipeline(device vk.Device, layout vk.PipelineLayout, modules []vk.ShaderModule, info metadata.RayTracingPipelineCreateInfo) (vk.Pipeline, error) {
	n := len(info.Stages)
	if n == 0 || len(info.Groups) == 0 || len(modules) != n {
		return nil, core.Assertf("ray tracing pipeline with %d stages, %d modules and %d groups", n, len(modules), len(info.Groups))
	}

	stageFlags := make([]uint32, n)
	cModules := make([]C.VkShaderModule, n)
	entries := (*[1 << 16]*C.char)(C.calloc(C.size_t(n), C.size_t(unsafe.Sizeof((*C.char)(nil)))))[:n:n]
	defer func() {
		for _, e := range entries {
			C.free(unsafe.Pointer(e))
		}
		C.free(unsafe.Pointer(&entries[0]))
	}()
	for i, s := range info.Stages {
		stageFlags[i] = uint32(s.Stage)
		cModules[i] = cShaderModule(modules[i])
		entry := s.Entry
		if entry == "" {
			entry = "main"
		}
		entries[i] = C.CString(entry)
	}

	groupTypes := make([]uint32, len(info.Groups))
	groups := make([]uint32, 4*len(info.Groups))
	for i, g := range info.Groups {
		groupTypes[i] = uint32(g.Type)
		groups[4*i+0] = g.General
		groups[4*i+1] = g.ClosestHit
		groups[4*i+2] = g.AnyHit
		groups[4*i+3] = g.Intersection
	}

	var out C.VkPipeline
	res := vk.Result(C.anima_create_ray_tracing_pipeline(cDevice(device), cPipelineLayout(layout),
		C.uint32_t(n), (*C.uint32_t)(unsafe.Pointer(&stageFlags[0])), &cModules[0], &entries[0],
		C.uint32_t(len(info.Groups)), (*C.uint32_t)(unsafe.Pointer(&groupTypes[0])), (*C.uint32_t)(unsafe.Pointer(&groups[0])),
		C.uint32_t(info.MaxRecursionDepth), &out))
	if res != vk.Success {
		return nil, VulkanResultError(res, "creating ray tracing pipeline")
	}
	return vk.Pipeline(unsafe.Pointer(out)), nil
}

func groupHandles(device vk.Device, pipeline vk.Pipeline, first, count uint32) ([]metadata.GroupHandle, error) {
	if count == 0 {
		return nil, nil
	}
	out := make([]metadata.GroupHandle, count)
	size := C.size_t(int(count) * metadata.GroupHandleSize)
	res := vk.Result(C.anima_group_handles(cDevice(device), cPipeline(pipeline), C.uint32_t(first), C.uint32_t(count),
		size, unsafe.Pointer(&out[0])))
	if res != vk.Success {
		return nil, VulkanResultError(res, "reading shader group handles")
	}
	return out, nil
}

func cmdTraceRays(cmd vk.CommandBuffer, info metadata.TraceRaysInfo) {
	var regions [4]C.VkStridedDeviceAddressRegionKHR
	for i, r := range []metadata.StridedDeviceAddressRegion{info.Raygen, info.Miss, info.Hit, info.Callable} {
		regions[i].deviceAddress = C.VkDeviceAddress(r.DeviceAddress)
		regions[i].stride = C.VkDeviceSize(r.Stride)
		regions[i].size = C.VkDeviceSize(r.Size)
	}
	C.anima_cmd_trace_rays(cCommandBuffer(cmd), &regions[0], C.uint32_t(info.Width), C.uint32_t(info.Height), C.uint32_t(info.Depth))
}
