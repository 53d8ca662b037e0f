package gpuflow

import (
	"fmt"
	"math/bits"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// ImageUsage declares every way an image will be used.
type ImageUsage uint8

const (
	ImageTransferSrc ImageUsage = 1 << iota
	ImageTransferDst
	ImageStorage
	ImageSampled
	ImageColorAttachment
)

// String lists the set flags joined with "|".
func (u ImageUsage) String() string {
	return joinFlags(uint8(u), "TransferSrc", "TransferDst", "Storage", "Sampled", "ColorAttachment")
}

func (u ImageUsage) hal() gputypes.TextureUsage {
	var h gputypes.TextureUsage
	if u&ImageTransferSrc != 0 {
		h |= gputypes.TextureUsageCopySrc
	}
	if u&ImageTransferDst != 0 {
		// Clears are encoded as a render pass with a clear load op.
		h |= gputypes.TextureUsageCopyDst | gputypes.TextureUsageRenderAttachment
	}
	if u&ImageStorage != 0 {
		h |= gputypes.TextureUsageStorageBinding
	}
	if u&ImageSampled != 0 {
		h |= gputypes.TextureUsageTextureBinding
	}
	if u&ImageColorAttachment != 0 {
		h |= gputypes.TextureUsageRenderAttachment
	}
	return h
}

// Extent is a 2D size in pixels.
type Extent struct {
	Width  uint32
	Height uint32
}

// Pixels returns Width*Height.
func (e Extent) Pixels() uint64 { return uint64(e.Width) * uint64(e.Height) }

// BytesPerPixel returns the texel size of the image formats gpuflow
// supports, or 0 for any other format.
func BytesPerPixel(f gputypes.TextureFormat) uint32 {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatR32Float, gputypes.TextureFormatR32Uint:
		return 4
	case gputypes.TextureFormatRGBA16Float:
		return 8
	case gputypes.TextureFormatRGBA32Float:
		return 16
	default:
		return 0
	}
}

// ImageDesc describes a 2D image.
type ImageDesc struct {
	Label  string
	Format gputypes.TextureFormat
	Extent Extent
	Usage  ImageUsage
	Memory MemoryUsage
}

// Image is a 2D GPU image with a default view for shader binding and
// attachments. Images are created uninitialized; establish content with
// ClearColorImage or a shader write.
type Image struct {
	resource

	hal    hal.Texture
	view   hal.TextureView
	format gputypes.TextureFormat
	extent Extent
	usage  ImageUsage
	region *MemoryRegion
}

// NewImage creates an image and its default view.
func NewImage(d *Device, desc ImageDesc) (*Image, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	bpp := BytesPerPixel(desc.Format)
	if bpp == 0 {
		return nil, fmt.Errorf("%w: image %q: unsupported format %s", ErrResourceCreationFailed, desc.Label, desc.Format)
	}
	if desc.Extent.Width == 0 || desc.Extent.Height == 0 {
		return nil, fmt.Errorf("%w: image %q has empty extent %dx%d",
			ErrResourceCreationFailed, desc.Label, desc.Extent.Width, desc.Extent.Height)
	}

	hi, size := bits.Mul64(desc.Extent.Pixels(), uint64(bpp))
	if hi != 0 {
		return nil, fmt.Errorf("%w: image %q: %dx%d texels overflow", ErrResourceCreationFailed, desc.Label, desc.Extent.Width, desc.Extent.Height)
	}
	region, err := d.memory.Allocate(size, desc.Memory)
	if err != nil {
		return nil, fmt.Errorf("image %q: %w", desc.Label, err)
	}

	tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          hal.Extent3D{Width: desc.Extent.Width, Height: desc.Extent.Height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        desc.Format,
		Usage:         desc.Usage.hal(),
	})
	if err != nil {
		d.memory.Free(region)
		return nil, fmt.Errorf("%w: image %q: %v", ErrResourceCreationFailed, desc.Label, err)
	}
	view, err := d.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:           desc.Label + " view",
		Format:          desc.Format,
		Dimension:       gputypes.TextureViewDimension2D,
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   1,
		ArrayLayerCount: 1,
	})
	if err != nil {
		d.device.DestroyTexture(tex)
		d.memory.Free(region)
		return nil, fmt.Errorf("%w: image %q view: %v", ErrResourceCreationFailed, desc.Label, err)
	}

	img := &Image{
		hal:    tex,
		view:   view,
		format: desc.Format,
		extent: desc.Extent,
		usage:  desc.Usage,
		region: region,
	}
	if err := d.track(&img.resource, "image", desc.Label); err != nil {
		d.device.DestroyTextureView(view)
		d.device.DestroyTexture(tex)
		d.memory.Free(region)
		return nil, err
	}

	Logger().Debug("gpuflow: image created",
		"label", desc.Label, "format", desc.Format,
		"width", desc.Extent.Width, "height", desc.Extent.Height, "usage", desc.Usage)
	return img, nil
}

// Label returns the image's label.
func (i *Image) Label() string { return i.label }

// Format returns the pixel format.
func (i *Image) Format() gputypes.TextureFormat { return i.format }

// Extent returns the size in pixels.
func (i *Image) Extent() Extent { return i.extent }

// Usage returns the declared usage.
func (i *Image) Usage() ImageUsage { return i.usage }

// BytesPerRow returns the tightly packed row size.
func (i *Image) BytesPerRow() uint32 { return i.extent.Width * BytesPerPixel(i.format) }

// ByteSize returns the tightly packed size of the whole image.
func (i *Image) ByteSize() uint64 { return uint64(i.BytesPerRow()) * uint64(i.extent.Height) }

// Require returns a *UsageError unless the image declared every flag in need.
func (i *Image) Require(op string, need ImageUsage) error {
	if i.usage&need == need {
		return nil
	}
	return &UsageError{Resource: i.label, Op: op, Required: need.String(), Declared: i.usage.String()}
}

// Release destroys the image and its view. It fails with
// ErrResourceInUse while a descriptor set or command buffer references it.
func (i *Image) Release() error {
	return i.release(func() {
		i.dev.device.DestroyTextureView(i.view)
		i.dev.device.DestroyTexture(i.hal)
		i.dev.memory.Free(i.region)
	})
}
