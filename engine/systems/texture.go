package systems

import (
	"github.com/spaghettifunk/anima-rt/engine/assets"
	"github.com/spaghettifunk/anima-rt/engine/assets/loaders"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// PreparedTexture is a sampled image and its slot in the bindless table.
type PreparedTexture struct {
	Image renderer.Image
	Slot  uint32
}

type extractedTexture struct {
	width  uint32
	height uint32
	format metadata.Format
	pixels []byte
}

/**
 * @brief Uploads decoded images and registers their views in the bindless
 * table. A reloaded texture gets a new slot; the old slot keeps pointing at
 * the superseded view until the meshes using it are prepared again.
 */
type TextureAsset struct {
	table *renderer.BindlessTable
}

func NewTextureAsset(table *renderer.BindlessTable) *TextureAsset {
	return &TextureAsset{table: table}
}

func (ta *TextureAsset) Kind() assets.Kind {
	return assets.KindTexture
}

func (ta *TextureAsset) Extract(h assets.Handle, tex *loaders.Texture) (extractedTexture, bool) {
	// Loaded values are replaced on reload, never modified, so the pixels
	// can be shared with the worker.
	return extractedTexture{
		width:  tex.Width,
		height: tex.Height,
		format: tex.Format,
		pixels: tex.Pixels,
	}, true
}

func (ta *TextureAsset) Prepare(rd *renderer.RenderDevice, cmds *renderer.CommandContext, e extractedTexture) (*PreparedTexture, error) {
	pixels := e.pixels
	format := e.format
	if format == metadata.FormatR8G8B8Unorm {
		var err error
		if pixels, err = renderer.PadRGBToRGBA(pixels, e.width, e.height); err != nil {
			return nil, err
		}
		format = metadata.FormatR8G8B8A8Unorm
	}
	img, err := renderer.LoadTexture(rd, cmds, format, pixels, e.width, e.height)
	if err != nil {
		return nil, core.Wrap(err, "uploading texture")
	}
	slot, err := ta.table.Push(img.View)
	if err != nil {
		rd.DestroyImageView(img.View)
		rd.DestroyImage(img.Handle)
		return nil, err
	}
	core.LogDebug("texture %dx%d uploaded to bindless slot %d", e.width, e.height, slot)
	return &PreparedTexture{Image: img, Slot: slot}, nil
}

func (ta *TextureAsset) Destroy(p *PreparedTexture, q *renderer.DestructionQueue) {
	p.Image.Release(q)
}
