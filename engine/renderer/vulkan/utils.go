package vulkan

import (
	"encoding/binary"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rt/engine/core"
)

var resultNames = map[vk.Result]string{
	vk.Success:                    "VK_SUCCESS",
	vk.NotReady:                   "VK_NOT_READY",
	vk.Timeout:                    "VK_TIMEOUT",
	vk.EventSet:                   "VK_EVENT_SET",
	vk.EventReset:                 "VK_EVENT_RESET",
	vk.Incomplete:                 "VK_INCOMPLETE",
	vk.Suboptimal:                 "VK_SUBOPTIMAL_KHR",
	vk.ThreadIdle:                 "VK_THREAD_IDLE_KHR",
	vk.ThreadDone:                 "VK_THREAD_DONE_KHR",
	vk.OperationDeferred:          "VK_OPERATION_DEFERRED_KHR",
	vk.OperationNotDeferred:       "VK_OPERATION_NOT_DEFERRED_KHR",
	vk.PipelineCompileRequired:    "VK_PIPELINE_COMPILE_REQUIRED_EXT",
	vk.ErrorOutOfHostMemory:       "VK_ERROR_OUT_OF_HOST_MEMORY",
	vk.ErrorOutOfDeviceMemory:     "VK_ERROR_OUT_OF_DEVICE_MEMORY",
	vk.ErrorInitializationFailed:  "VK_ERROR_INITIALIZATION_FAILED",
	vk.ErrorDeviceLost:            "VK_ERROR_DEVICE_LOST",
	vk.ErrorMemoryMapFailed:       "VK_ERROR_MEMORY_MAP_FAILED",
	vk.ErrorLayerNotPresent:       "VK_ERROR_LAYER_NOT_PRESENT",
	vk.ErrorExtensionNotPresent:   "VK_ERROR_EXTENSION_NOT_PRESENT",
	vk.ErrorFeatureNotPresent:     "VK_ERROR_FEATURE_NOT_PRESENT",
	vk.ErrorIncompatibleDriver:    "VK_ERROR_INCOMPATIBLE_DRIVER",
	vk.ErrorTooManyObjects:        "VK_ERROR_TOO_MANY_OBJECTS",
	vk.ErrorFormatNotSupported:    "VK_ERROR_FORMAT_NOT_SUPPORTED",
	vk.ErrorFragmentedPool:        "VK_ERROR_FRAGMENTED_POOL",
	vk.ErrorOutOfPoolMemory:       "VK_ERROR_OUT_OF_POOL_MEMORY",
	vk.ErrorInvalidExternalHandle: "VK_ERROR_INVALID_EXTERNAL_HANDLE",
	vk.ErrorFragmentation:         "VK_ERROR_FRAGMENTATION",
	vk.ErrorInvalidDeviceAddress:  "VK_ERROR_INVALID_DEVICE_ADDRESS_EXT",
	vk.ErrorUnknown:               "VK_ERROR_UNKNOWN",
}

// Longer explanations for the results a ray tracing device actually returns.
var resultDetails = map[vk.Result]string{
	vk.ErrorOutOfHostMemory:      "A host memory allocation has failed.",
	vk.ErrorOutOfDeviceMemory:    "A device memory allocation has failed.",
	vk.ErrorDeviceLost:           "The logical or physical device has been lost.",
	vk.ErrorExtensionNotPresent:  "A requested extension is not supported.",
	vk.ErrorFeatureNotPresent:    "A requested feature is not supported.",
	vk.ErrorIncompatibleDriver:   "The requested version of Vulkan is not supported by the driver.",
	vk.ErrorOutOfPoolMemory:      "A pool memory allocation has failed.",
	vk.ErrorInvalidDeviceAddress: "The requested device address is not available.",
}

func VulkanResultString(result vk.Result, getExtended bool) string {
	name, ok := resultNames[result]
	if !ok {
		name = "VK_ERROR_UNKNOWN"
	}
	if getExtended {
		if detail, ok := resultDetails[result]; ok {
			return name + " " + detail
		}
	}
	return name
}

// VulkanResultIsSuccess reports whether result is one of the success codes.
// Success codes are non negative.
func VulkanResultIsSuccess(result vk.Result) bool {
	return result >= 0
}

// VulkanResultError turns a failed result into an error carrying the core
// sentinel that matches it, or nil for a success code.
func VulkanResultError(result vk.Result, op string) error {
	if VulkanResultIsSuccess(result) {
		return nil
	}
	var err error
	switch result {
	case vk.ErrorOutOfHostMemory, vk.ErrorOutOfDeviceMemory, vk.ErrorOutOfPoolMemory, vk.ErrorFragmentedPool:
		err = core.ErrOutOfMemory
	case vk.ErrorDeviceLost:
		err = core.ErrDeviceLost
	case vk.ErrorExtensionNotPresent, vk.ErrorFeatureNotPresent, vk.ErrorIncompatibleDriver, vk.ErrorLayerNotPresent:
		err = core.ErrMissingCapability
	case vk.ErrorFormatNotSupported:
		err = core.ErrUnsupportedFormat
	default:
		err = core.ErrUnknown
	}
	return core.Wrapf(err, "%s: %s", op, VulkanResultString(result, true))
}

// VulkanSafeString null terminates s for the goki string fields.
func VulkanSafeString(s string) string {
	if len(s) == 0 || s[len(s)-1] != 0 {
		return s + "\x00"
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = VulkanSafeString(list[i])
	}
	return out
}

// spirvWords copies SPIR-V bytes into the word slice goki expects.
func spirvWords(code []byte) []uint32 {
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return words
}
