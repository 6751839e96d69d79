package loaders

import (
	"strings"

	"github.com/spaghettifunk/anima-rt/engine/assets"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// Shader is a compiled SPIR-V module and the ray tracing stage it was
// compiled for.
type Shader struct {
	Stage   metadata.ShaderStageFlags
	Version uint32
	Code    []byte
}

var shaderStages = map[string]metadata.ShaderStageFlags{
	".rgen.spv":  metadata.ShaderStageRaygen,
	".rmiss.spv": metadata.ShaderStageMiss,
	".rchit.spv": metadata.ShaderStageClosestHit,
	".rahit.spv": metadata.ShaderStageAnyHit,
	".rint.spv":  metadata.ShaderStageIntersection,
}

type ShaderLoader struct{}

func (sl *ShaderLoader) Kind() assets.Kind {
	return assets.KindShader
}

func (sl *ShaderLoader) Extensions() []string {
	exts := make([]string, 0, len(shaderStages))
	for ext := range shaderStages {
		exts = append(exts, ext)
	}
	return exts
}

func (sl *ShaderLoader) Load(ctx *assets.LoadContext, data []byte) (any, error) {
	stage, ok := ShaderStageForPath(ctx.Path)
	if !ok {
		return nil, core.Wrapf(core.ErrUnsupportedFormat, "no shader stage for %s", ctx.Path)
	}
	version, err := ValidateSPIRV(data)
	if err != nil {
		return nil, err
	}
	return &Shader{Stage: stage, Version: version, Code: data}, nil
}

// ShaderStageForPath derives the stage from the compiled file name, as
// produced by the shader build ("raygen.rgen.spv").
func ShaderStageForPath(path string) (metadata.ShaderStageFlags, bool) {
	lower := strings.ToLower(path)
	for ext, stage := range shaderStages {
		if strings.HasSuffix(lower, ext) {
			return stage, true
		}
	}
	return 0, false
}
