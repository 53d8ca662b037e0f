package workload

import (
	"slices"

	"github.com/gogpu/gpuflow"
	"github.com/gogpu/gpuflow/internal/kernels"
	"github.com/gogpu/gputypes"
)

// vertex is the layout of one triangle vertex.
type vertex struct {
	Position [2]float32 `gpu:"location=0"`
}

// triangle is one triangle in clip space, apex up.
var triangle = []vertex{
	{Position: [2]float32{0, 0.5}},
	{Position: [2]float32{-0.5, -0.5}},
	{Position: [2]float32{0.5, -0.5}},
}

// Triangle clears a color image to opaque black, draws a red triangle into
// it with the vertex and fragment stages and reads the image back.
func (r *Runner) Triangle(width, height int) (img *Image, err error) {
	if err := checkExtent(width, height); err != nil {
		return nil, err
	}
	var rs releaser
	defer rs.finish(&err)

	vs, err := r.dev.LoadShader(gpuflow.ShaderSource{Label: "triangle vs", Code: kernels.Triangle, Stage: gpuflow.StageVertex})
	if err != nil {
		return nil, err
	}
	rs.add(vs)
	fs, err := r.dev.LoadShader(gpuflow.ShaderSource{Label: "triangle fs", Code: kernels.Triangle, Stage: gpuflow.StageFragment})
	if err != nil {
		return nil, err
	}
	rs.add(fs)

	input, err := gpuflow.VertexInputOf[vertex]()
	if err != nil {
		return nil, err
	}
	pipe, _, err := r.dev.BuildGraphicsPipeline(gpuflow.GraphicsPipelineDesc{
		Label:         "triangle",
		Vertex:        vs,
		VertexEntry:   "vs_main",
		Fragment:      fs,
		FragmentEntry: "fs_main",
		VertexInput:   input,
		TargetFormat:  gputypes.TextureFormatRGBA8Unorm,
	})
	if err != nil {
		return nil, err
	}
	rs.add(pipe)

	vertices, err := gpuflow.NewBufferFromSeq(r.dev, gpuflow.BufferDesc{
		Label:  "triangle vertices",
		Count:  len(triangle),
		Usage:  gpuflow.BufferVertex,
		Memory: gpuflow.HostVisible | gpuflow.HostSequentialWrite,
	}, slices.Values(triangle))
	if err != nil {
		return nil, err
	}
	rs.add(vertices)

	target, err := gpuflow.NewImage(r.dev, gpuflow.ImageDesc{
		Label:  "triangle target",
		Format: gputypes.TextureFormatRGBA8Unorm,
		Extent: gpuflow.Extent{Width: uint32(width), Height: uint32(height)}, //nolint:gosec // G115: extent checked above
		Usage:  gpuflow.ImageColorAttachment | gpuflow.ImageTransferDst | gpuflow.ImageTransferSrc,
		Memory: gpuflow.DeviceLocal,
	})
	if err != nil {
		return nil, err
	}
	rs.add(target)

	readback, err := newReadback(r.dev, "triangle readback", width, height)
	if err != nil {
		return nil, err
	}
	rs.add(readback)

	cb, err := r.dev.Record(gpuflow.RecordOptions{Label: "triangle"}).
		ClearColorImage(target, [4]float64{0, 0, 0, 1}).
		BindPipeline(pipe).
		Draw(target, vertices, uint32(len(triangle))).
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
	gpuflow.Logger().Info("workload: triangle drawn", "width", width, "height", height)
	return img, nil
}
