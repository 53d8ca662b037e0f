package workload

import (
	"fmt"
	"math"

	"github.com/gogpu/gpuflow"
	"github.com/gogpu/gputypes"
)

// Clear fills a device-local image with color, copies it into a
// host-visible buffer and checks every pixel.
func (r *Runner) Clear(width, height int, color [4]float64) (img *Image, err error) {
	if err := checkExtent(width, height); err != nil {
		return nil, err
	}
	var rs releaser
	defer rs.finish(&err)

	target, err := gpuflow.NewImage(r.dev, gpuflow.ImageDesc{
		Label:  "clear target",
		Format: gputypes.TextureFormatRGBA8Unorm,
		Extent: gpuflow.Extent{Width: uint32(width), Height: uint32(height)}, //nolint:gosec // G115: extent checked above
		Usage:  gpuflow.ImageTransferDst | gpuflow.ImageTransferSrc,
		Memory: gpuflow.DeviceLocal,
	})
	if err != nil {
		return nil, err
	}
	rs.add(target)

	readback, err := newReadback(r.dev, "clear readback", width, height)
	if err != nil {
		return nil, err
	}
	rs.add(readback)

	cb, err := r.dev.Record(gpuflow.RecordOptions{Label: "clear"}).
		ClearColorImage(target, color).
		CopyImageToBuffer(target, readback).
		Build()
	if err != nil {
		return nil, err
	}
	done, err := r.run(cb)
	if err != nil {
		return nil, err
	}

	img, err = readImage(done, readback, width, height)
	if err != nil {
		return nil, err
	}
	want := ColorBytes(color)
	for i := 0; i < len(img.Pix); i += 4 {
		if got := [4]byte(img.Pix[i : i+4]); !near(got, want, 1) {
			p := i / 4
			return nil, fmt.Errorf("%w: pixel (%d,%d) = %v, want %v", ErrMismatch, p%width, p/width, got, want)
		}
	}
	gpuflow.Logger().Info("workload: clear verified", "width", width, "height", height, "color", want)
	return img, nil
}

// ColorBytes converts a normalized color to RGBA8, clamping each channel.
func ColorBytes(c [4]float64) [4]byte {
	var out [4]byte
	for i, v := range c {
		out[i] = byte(math.Round(math.Max(0, math.Min(1, v)) * 255))
	}
	return out
}

// newReadback creates a host-visible buffer holding one RGBA8 pixel per
// element, the copy destination of a width x height image.
func newReadback(dev *gpuflow.Device, label string, width, height int) (*gpuflow.Buffer[[4]byte], error) {
	return gpuflow.NewBuffer[[4]byte](dev, gpuflow.BufferDesc{
		Label:  label,
		Count:  width * height,
		Usage:  gpuflow.BufferTransferDst,
		Memory: gpuflow.HostVisible | gpuflow.HostRandomAccess,
	})
}

func readImage(done gpuflow.Completion, buf *gpuflow.Buffer[[4]byte], width, height int) (*Image, error) {
	view, err := gpuflow.ReadHostVisible(done, buf)
	if err != nil {
		return nil, err
	}
	return &Image{Width: width, Height: height, Pix: view.Bytes()}, nil
}
