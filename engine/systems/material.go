package systems

import (
	"github.com/spaghettifunk/anima-rt/engine/assets"
	"github.com/spaghettifunk/anima-rt/engine/assets/loaders"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// materialRecords builds one record per primitive of mesh with the bindless
// slots of the prepared textures. It fails if a referenced texture is not
// prepared yet.
func materialRecords(mesh *loaders.Mesh, textures *PreparedAssets[*PreparedTexture]) ([]metadata.TriangleMaterial, []uint32, bool) {
	var slots []uint32
	for _, h := range mesh.Textures() {
		tex, ok := textures.Get(h)
		if !ok {
			return nil, nil, false
		}
		slots = append(slots, tex.Slot)
	}

	lookup := func(path string) (uint32, bool) {
		tex, ok := textures.Get(assets.HandleForPath(path))
		if !ok {
			return metadata.NoTexture, false
		}
		return tex.Slot, true
	}
	records := make([]metadata.TriangleMaterial, len(mesh.Primitives))
	for i := range mesh.Primitives {
		mat, ok := mesh.Material(i)
		if !ok {
			records[i] = metadata.DefaultTriangleMaterial()
			continue
		}
		records[i] = mat.Record(lookup)
	}
	return records, slots, true
}
