package workload

import (
	"slices"

	"github.com/gogpu/gpuflow"
	"github.com/gogpu/gpuflow/internal/kernels"
	"github.com/gogpu/gpuflow/internal/parallel"
	"github.com/gogpu/gputypes"
)

// Fractal renders the escape-time fractal into a storage buffer of packed
// RGBA8 words, one invocation per pixel, and reads it back as an image.
func (r *Runner) Fractal(width, height int) (img *Image, err error) {
	if err := checkExtent(width, height); err != nil {
		return nil, err
	}
	var rs releaser
	defer rs.finish(&err)

	sm, err := r.dev.LoadShader(gpuflow.ShaderSource{Label: "fractal", Code: kernels.FractalBuffer, Stage: gpuflow.StageCompute})
	if err != nil {
		return nil, err
	}
	rs.add(sm)
	pipe, layout, err := r.dev.BuildComputePipeline(sm, "main")
	if err != nil {
		return nil, err
	}
	rs.add(pipe)

	//nolint:gosec // G115: extent checked above
	params := kernels.FractalParams{Width: uint32(width), Height: uint32(height), MaxIter: kernels.FractalIterations}
	uniform, err := gpuflow.NewBufferFromSeq(r.dev, gpuflow.BufferDesc{
		Label:  "fractal params",
		Count:  1,
		Usage:  gpuflow.BufferUniform,
		Memory: gpuflow.HostVisible | gpuflow.HostSequentialWrite,
	}, slices.Values([]kernels.FractalParams{params}))
	if err != nil {
		return nil, err
	}
	rs.add(uniform)

	pixels, err := gpuflow.NewBuffer[uint32](r.dev, gpuflow.BufferDesc{
		Label:  "fractal pixels",
		Count:  width * height,
		Usage:  gpuflow.BufferStorage | gpuflow.BufferTransferSrc,
		Memory: gpuflow.HostVisible | gpuflow.HostRandomAccess,
	})
	if err != nil {
		return nil, err
	}
	rs.add(pixels)

	set, err := r.dev.BindDescriptors(layout, 0, []gpuflow.SlotResource{
		gpuflow.Slot(0, uniform),
		gpuflow.Slot(1, pixels),
	})
	if err != nil {
		return nil, err
	}
	rs.add(set)

	groups := gpuflow.GroupCount([3]uint32{params.Width, params.Height, 1}, pipe.Workgroup())
	cb, err := r.dev.Record(gpuflow.RecordOptions{Label: "fractal"}).
		BindPipeline(pipe).
		BindDescriptorSet(gpuflow.BindPointCompute, layout, 0, set).
		Dispatch(groups).
		Build()
	if err != nil {
		return nil, err
	}
	done, err := r.run(cb)
	if err != nil {
		return nil, err
	}

	view, err := gpuflow.ReadHostVisible(done, pixels)
	if err != nil {
		return nil, err
	}
	gpuflow.Logger().Info("workload: fractal rendered", "width", width, "height", height, "groups", groups)
	return &Image{Width: width, Height: height, Pix: view.Bytes()}, nil
}

// FractalImage renders the fractal variant that writes an rgba8unorm
// storage image, then copies the image into a host-visible buffer. It
// needs a backend that executes storage image writes.
func (r *Runner) FractalImage(width, height int) (img *Image, err error) {
	if err := checkExtent(width, height); err != nil {
		return nil, err
	}
	var rs releaser
	defer rs.finish(&err)

	sm, err := r.dev.LoadShader(gpuflow.ShaderSource{Label: "fractal image", Code: kernels.FractalImage, Stage: gpuflow.StageCompute})
	if err != nil {
		return nil, err
	}
	rs.add(sm)
	pipe, layout, err := r.dev.BuildComputePipeline(sm, "")
	if err != nil {
		return nil, err
	}
	rs.add(pipe)

	extent := gpuflow.Extent{Width: uint32(width), Height: uint32(height)} //nolint:gosec // G115: extent checked above
	target, err := gpuflow.NewImage(r.dev, gpuflow.ImageDesc{
		Label:  "fractal image",
		Format: gputypes.TextureFormatRGBA8Unorm,
		Extent: extent,
		Usage:  gpuflow.ImageStorage | gpuflow.ImageTransferSrc,
		Memory: gpuflow.DeviceLocal,
	})
	if err != nil {
		return nil, err
	}
	rs.add(target)

	readback, err := newReadback(r.dev, "fractal image readback", width, height)
	if err != nil {
		return nil, err
	}
	rs.add(readback)

	set, err := r.dev.BindDescriptors(layout, 0, []gpuflow.SlotResource{gpuflow.Slot(0, target)})
	if err != nil {
		return nil, err
	}
	rs.add(set)

	groups := gpuflow.GroupCount([3]uint32{extent.Width, extent.Height, 1}, pipe.Workgroup())
	cb, err := r.dev.Record(gpuflow.RecordOptions{Label: "fractal image"}).
		BindPipeline(pipe).
		BindDescriptorSet(gpuflow.BindPointCompute, layout, 0, set).
		Dispatch(groups).
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
	gpuflow.Logger().Info("workload: fractal image rendered", "width", width, "height", height, "groups", groups)
	return img, nil
}

// FractalReference renders the CPU reference of Fractal.
func FractalReference(pool *parallel.WorkerPool, width, height int) *Image {
	return &Image{Width: width, Height: height, Pix: kernels.FractalRef(pool, width, height)}
}

// Diff returns the first pixel at which im and want differ by more than
// tolerance in any channel, or nil. Images of different size differ at
// pixel 0.
func (im *Image) Diff(pool *parallel.WorkerPool, want *Image, tolerance uint8) *parallel.Mismatch[[4]byte] {
	n := im.Width * im.Height
	if im.Width != want.Width || im.Height != want.Height || len(im.Pix) != n*4 || len(want.Pix) != n*4 {
		return &parallel.Mismatch[[4]byte]{Index: 0}
	}
	got := make([][4]byte, n)
	ref := make([][4]byte, n)
	pool.For(n, 0, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			g, w := [4]byte(im.Pix[i*4:i*4+4]), [4]byte(want.Pix[i*4:i*4+4])
			ref[i] = w
			if near(g, w, tolerance) {
				got[i] = w
			} else {
				got[i] = g
			}
		}
	})
	return parallel.Compare(pool, got, ref)
}

func near(a, b [4]byte, tolerance uint8) bool {
	for c := range a {
		d := int(a[c]) - int(b[c])
		if d < -int(tolerance) || d > int(tolerance) {
			return false
		}
	}
	return true
}
