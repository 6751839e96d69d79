package vulkan

import (
	"encoding/binary"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

const spirvMagic uint32 = 0x07230203

// NewShaderModule wraps SPIR-V bytes in a shader module.
func NewShaderModule(context *VulkanContext, code []byte) (vk.ShaderModule, error) {
	if len(code) < 4 || len(code)%4 != 0 {
		return vk.NullShaderModule, core.Wrapf(core.ErrUnsupportedFormat, "SPIR-V of %d bytes", len(code))
	}
	if binary.LittleEndian.Uint32(code) != spirvMagic {
		return vk.NullShaderModule, core.Wrap(core.ErrUnsupportedFormat, "missing SPIR-V magic number")
	}

	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    spirvWords(code),
	}
	var module vk.ShaderModule
	if res := vk.CreateShaderModule(context.Device.LogicalDevice, &createInfo, context.Allocator, &module); res != vk.Success {
		return vk.NullShaderModule, VulkanResultError(res, "creating shader module")
	}
	return module, nil
}

func (vr *VulkanRenderer) CreateShaderModule(code []byte) (metadata.ShaderModuleHandle, error) {
	module, err := NewShaderModule(vr.context, code)
	if err != nil {
		return 0, err
	}
	return metadata.ShaderModuleHandle(vr.shaderModules.add(module)), nil
}

func (vr *VulkanRenderer) DestroyShaderModule(module metadata.ShaderModuleHandle) {
	if m, ok := vr.shaderModules.remove(uint64(module)); ok {
		vk.DestroyShaderModule(vr.device(), m, vr.context.Allocator)
	}
}
