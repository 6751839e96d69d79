package loaders

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/anthonynsimon/bild/clone"
	"github.com/anthonynsimon/bild/transform"
	"github.com/h2non/filetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/spaghettifunk/anima-rt/engine/assets"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// Texture is a decoded image, tightly packed, ready for upload.
type Texture struct {
	Width  uint32
	Height uint32
	Format metadata.Format
	Pixels []byte
}

type TextureLoader struct {
	// Images larger than this on either side are scaled down, keeping
	// their aspect ratio. 0 keeps every image as is.
	MaxSize uint32
}

func (tl *TextureLoader) Kind() assets.Kind {
	return assets.KindTexture
}

func (tl *TextureLoader) Extensions() []string {
	return []string{".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp"}
}

func (tl *TextureLoader) Load(ctx *assets.LoadContext, data []byte) (any, error) {
	return DecodeTexture(data, tl.MaxSize)
}

// DecodeTexture decodes any registered image format into RGBA8.
func DecodeTexture(data []byte, maxSize uint32) (*Texture, error) {
	if !filetype.IsImage(data) {
		return nil, core.Wrap(core.ErrUnsupportedFormat, "not an image")
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, core.Wrap(err, "decoding image")
	}

	var rgba *image.RGBA
	b := img.Bounds()
	if w, h := fitInside(b.Dx(), b.Dy(), int(maxSize)); w != b.Dx() || h != b.Dy() {
		core.LogDebug("scaling %s image from %dx%d to %dx%d", format, b.Dx(), b.Dy(), w, h)
		rgba = transform.Resize(img, w, h, transform.Linear)
	} else {
		rgba = clone.AsRGBA(img)
	}

	size := rgba.Bounds().Size()
	return &Texture{
		Width:  uint32(size.X),
		Height: uint32(size.Y),
		Format: metadata.FormatR8G8B8A8Unorm,
		Pixels: rgba.Pix,
	}, nil
}

// fitInside scales w x h down so that neither side exceeds limit.
func fitInside(w, h, limit int) (int, int) {
	if limit <= 0 || (w <= limit && h <= limit) {
		return w, h
	}
	if w >= h {
		return limit, max(1, h*limit/w)
	}
	return max(1, w*limit/h), limit
}
