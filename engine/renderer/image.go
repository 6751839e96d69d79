package renderer

import (
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

/**
 * @brief A device local image and its view. Layout is the layout the image
 * was left in by the last recorded transition. Same ownership rules as Buffer.
 */
type Image struct {
	Width  uint32
	Height uint32
	Format metadata.Format
	Usage  metadata.ImageUsageFlags
	Handle metadata.ImageHandle
	View   metadata.ImageViewHandle
	Layout metadata.ImageLayout
}

// CreateImage creates an image, its memory and a view. A zero extent yields
// a null image.
func CreateImage(rd *RenderDevice, info metadata.ImageCreateInfo) (Image, error) {
	img := Image{
		Width:  info.Width,
		Height: info.Height,
		Format: info.Format,
		Usage:  info.Usage,
		Layout: metadata.ImageLayoutUndefined,
	}
	if info.Width == 0 || info.Height == 0 {
		return img, nil
	}
	handle, view, err := rd.allocateImage(info)
	if err != nil {
		return Image{}, err
	}
	img.Handle = handle
	img.View = view
	return img, nil
}

func (img Image) IsNull() bool {
	return img.Handle == metadata.NullImage
}

func (img Image) SizeBytes() uint64 {
	return uint64(img.Width) * uint64(img.Height) * uint64(img.Format.BytesPerPixel())
}

// Transition records a layout change and remembers the new layout.
func (img *Image) Transition(rd *RenderDevice, cmd metadata.CommandBufferHandle, to metadata.ImageLayout) {
	rd.backend.CmdTransitionImageLayout(cmd, img.Handle, img.Layout, to)
	img.Layout = to
}

// Release hands the view and the image to the destruction queue, view first.
func (img *Image) Release(q *DestructionQueue) {
	if !img.IsNull() {
		q.Push(DestroyImageViewEvent(img.View))
		q.Push(DestroyImageEvent(img.Handle))
	}
	*img = Image{}
}

/**
 * @brief Uploads pixels into a new sampled image through a staging buffer
 * and leaves it in SHADER_READ_ONLY_OPTIMAL. Blocks until the upload finished.
 */
func LoadTexture(rd *RenderDevice, cmds *CommandContext, format metadata.Format, pixels []byte, width, height uint32) (Image, error) {
	bpp := format.BytesPerPixel()
	switch format {
	case metadata.FormatR8G8B8A8Unorm, metadata.FormatR32G32B32A32Sfloat:
	default:
		return Image{}, core.Wrapf(core.ErrUnsupportedFormat, "texture format %s", format)
	}
	if want := uint64(width) * uint64(height) * uint64(bpp); uint64(len(pixels)) != want {
		return Image{}, core.Assertf("texture of %dx%d %s needs %d bytes, got %d", width, height, format, want, len(pixels))
	}

	img, err := CreateImage(rd, metadata.ImageCreateInfo{
		Width:  width,
		Height: height,
		Format: format,
		Usage:  metadata.ImageUsageSampled | metadata.ImageUsageTransferDst,
	})
	if err != nil || img.IsNull() {
		return img, err
	}

	staging, err := CreateHostBufferFrom(rd, pixels, metadata.BufferUsageTransferSrc)
	if err != nil {
		destroyImageNow(rd, &img)
		return Image{}, err
	}
	defer rd.DestroyBuffer(staging.Handle)

	err = cmds.Run(func(cmd metadata.CommandBufferHandle) error {
		img.Transition(rd, cmd, metadata.ImageLayoutTransferDstOptimal)
		rd.backend.CmdCopyBufferToImage(cmd, staging.Handle, img.Handle, width, height)
		img.Transition(rd, cmd, metadata.ImageLayoutShaderReadOnly)
		return nil
	})
	if err != nil {
		destroyImageNow(rd, &img)
		return Image{}, err
	}
	return img, nil
}

// destroyImageNow is for images the GPU never saw.
func destroyImageNow(rd *RenderDevice, img *Image) {
	rd.DestroyImageView(img.View)
	rd.DestroyImage(img.Handle)
	*img = Image{}
}

// PadRGBToRGBA expands tightly packed RGB pixels to RGBA with an opaque alpha.
func PadRGBToRGBA(pixels []byte, width, height uint32) ([]byte, error) {
	n := int(width) * int(height)
	if len(pixels) != n*3 {
		return nil, core.Assertf("%dx%d RGB image needs %d bytes, got %d", width, height, n*3, len(pixels))
	}
	out := make([]byte, n*4)
	for i := 0; i < n; i++ {
		copy(out[i*4:i*4+3], pixels[i*3:i*3+3])
		out[i*4+3] = 255
	}
	return out, nil
}
