package loaders

import (
	"bytes"
	"slices"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/anima-rt/engine/assets"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// MaterialsSuffix names the material file read next to a model:
// "models/cube.obj" uses "models/cube.materials.toml".
const MaterialsSuffix = ".materials.toml"

/**
 * @brief A material as written in a materials file. Texture fields are
 * paths relative to the asset root; unset factors take the defaults of
 * metadata.DefaultTriangleMaterial.
 */
type Material struct {
	DiffuseFactor            *[4]float32 `toml:"diffuse_factor"`
	DiffuseTexture           string      `toml:"diffuse_texture"`
	NormalTexture            string      `toml:"normal_texture"`
	MetallicRoughnessTexture string      `toml:"metallic_roughness_texture"`
	Metallic                 *float32    `toml:"metallic"`
	Roughness                *float32    `toml:"roughness"`
}

type materialFile struct {
	Materials map[string]Material `toml:"materials"`
}

// ParseMaterials decodes a materials file.
func ParseMaterials(data []byte) (map[string]Material, error) {
	var file materialFile
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return nil, core.Wrap(err, "decoding materials")
	}

	names := make([]string, 0, len(file.Materials))
	for name := range file.Materials {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := validateMaterial(name, file.Materials[name]); err != nil {
			return nil, err
		}
	}
	return file.Materials, nil
}

func validateMaterial(name string, m Material) error {
	if name == "" {
		return core.Newf("material name is required")
	}
	// Check that DiffuseFactor values are within [0.0, 1.0] range
	if m.DiffuseFactor != nil {
		for _, v := range m.DiffuseFactor {
			if !inRange(v) {
				return core.Newf("material %s: diffuse_factor values must be between 0.0 and 1.0", name)
			}
		}
	}
	if m.Metallic != nil && !inRange(*m.Metallic) {
		return core.Newf("material %s: metallic must be between 0.0 and 1.0", name)
	}
	if m.Roughness != nil && !inRange(*m.Roughness) {
		return core.Newf("material %s: roughness must be between 0.0 and 1.0", name)
	}
	return nil
}

// Check if a float32 value is within [0.0, 1.0]
func inRange(value float32) bool {
	return value >= 0.0 && value <= 1.0
}

// Textures lists the handles of the textures the material samples.
func (m Material) Textures() []assets.Handle {
	var handles []assets.Handle
	for _, path := range []string{m.DiffuseTexture, m.NormalTexture, m.MetallicRoughnessTexture} {
		if path != "" {
			handles = append(handles, assets.HandleForPath(path))
		}
	}
	return handles
}

/**
 * @brief Builds the GPU record of the material. slot maps a texture path to
 * its bindless slot and reports false when the texture is not resident, in
 * which case the channel is left without a texture.
 */
func (m Material) Record(slot func(path string) (uint32, bool)) metadata.TriangleMaterial {
	rec := metadata.DefaultTriangleMaterial()
	if m.DiffuseFactor != nil {
		rec.DiffuseFactor = *m.DiffuseFactor
	}
	if m.Metallic != nil {
		rec.MetallicFactor = *m.Metallic
	}
	if m.Roughness != nil {
		rec.RoughnessFactor = *m.Roughness
	}
	lookup := func(path string) uint32 {
		if path == "" {
			return metadata.NoTexture
		}
		if s, ok := slot(path); ok {
			return s
		}
		return metadata.NoTexture
	}
	rec.DiffuseTexture = lookup(m.DiffuseTexture)
	rec.NormalTexture = lookup(m.NormalTexture)
	rec.MetallicRoughnessTexture = lookup(m.MetallicRoughnessTexture)
	return rec
}
