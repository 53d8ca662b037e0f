package gpuflow

import (
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/gpuflow/internal/kernels"
	"github.com/gogpu/gputypes"
)

func TestRecorderBuildOnce(t *testing.T) {
	d := openSoftware(t)
	src := mustBuffer[uint32](t, d, "src", 4, BufferTransferSrc)
	dst := mustBuffer[uint32](t, d, "dst", 4, BufferTransferDst)

	r := d.Record(RecordOptions{Label: "copy"}).CopyBufferToBuffer(src, dst)
	cb, err := r.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !cb.References(src) || !cb.References(dst) {
		t.Error("command buffer does not reference the copied buffers")
	}

	if _, err := r.Build(); !errors.Is(err, ErrRecorderAlreadyBuilt) {
		t.Errorf("second Build error = %v, want ErrRecorderAlreadyBuilt", err)
	}
	r.CopyBufferToBuffer(src, dst)
	if !errors.Is(r.Err(), ErrRecorderAlreadyBuilt) {
		t.Errorf("append after Build error = %v, want ErrRecorderAlreadyBuilt", r.Err())
	}

	if err := src.Release(); !errors.Is(err, ErrResourceInUse) {
		t.Errorf("releasing a recorded buffer error = %v, want ErrResourceInUse", err)
	}
	release(t, cb)
}

func TestRecorderErrors(t *testing.T) {
	d := openSoftware(t)
	multiply, layout := computePipeline(t, d, "multiply", kernels.Multiply)
	_, other := computePipeline(t, d, "fractal", kernels.FractalBuffer)

	data := mustBuffer[uint32](t, d, "data", 64, BufferStorage|BufferTransferSrc)
	dst := mustBuffer[uint32](t, d, "dst", 64, BufferTransferDst)
	short := mustBuffer[uint32](t, d, "short", 8, BufferTransferDst)
	noCopy := mustBuffer[uint32](t, d, "no copy", 64, BufferStorage)
	img := mustImage(t, d, "image", gputypes.TextureFormatRGBA8Unorm, ImageTransferSrc)

	set, err := d.BindDescriptors(layout, 0, []SlotResource{Slot(0, data)})
	if err != nil {
		t.Fatalf("BindDescriptors: %v", err)
	}
	t.Cleanup(func() { release(t, set) })

	var usage *UsageError
	isUsage := func(err error) bool { return errors.As(err, &usage) }
	is := func(target error) func(error) bool {
		return func(err error) bool { return errors.Is(err, target) }
	}

	tests := []struct {
		name   string
		record func(*Recorder)
		check  func(error) bool
	}{
		{"dispatch without pipeline", func(r *Recorder) { r.Dispatch([3]uint32{1, 1, 1}) }, is(ErrBindingSetMismatch)},
		{"dispatch before set bound", func(r *Recorder) { r.BindPipeline(multiply).Dispatch([3]uint32{1, 1, 1}) }, is(ErrBindingSetMismatch)},
		{"set from another layout", func(r *Recorder) { r.BindDescriptorSet(BindPointCompute, other, 0, set) }, is(ErrBindingSetMismatch)},
		{"set under another index", func(r *Recorder) { r.BindDescriptorSet(BindPointCompute, layout, 1, set) }, is(ErrBindingSetMismatch)},
		{"nil set", func(r *Recorder) { r.BindDescriptorSet(BindPointCompute, layout, 0, nil) }, is(ErrBindingSetMismatch)},
		{"unknown bind point", func(r *Recorder) { r.BindDescriptorSet(BindPoint(7), layout, 0, set) }, is(ErrBindingSetMismatch)},
		{"copy source without transfer src", func(r *Recorder) { r.CopyBufferToBuffer(noCopy, dst) }, isUsage},
		{"copy destination without transfer dst", func(r *Recorder) { r.CopyBufferToBuffer(data, noCopy) }, isUsage},
		{"copy into smaller buffer", func(r *Recorder) { r.CopyBufferToBuffer(data, short) }, is(ErrResourceCreationFailed)},
		{"image into smaller buffer", func(r *Recorder) { r.CopyImageToBuffer(img, short) }, is(ErrResourceCreationFailed)},
		{"clear without transfer dst", func(r *Recorder) { r.ClearColorImage(img, [4]float64{0, 0, 0, 1}) }, isUsage},
		{"draw without pipeline", func(r *Recorder) { r.Draw(img, nil, 3) }, is(ErrBindingSetMismatch)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := d.Record(RecordOptions{Label: tt.name})
			tt.record(r)
			cb, err := r.Build()
			if cb != nil {
				release(t, cb)
				t.Fatal("Build succeeded")
			}
			if !tt.check(err) {
				t.Errorf("Build error = %v", err)
			}
		})
	}

	t.Run("first error wins", func(t *testing.T) {
		r := d.Record(RecordOptions{Label: "chain"}).
			CopyBufferToBuffer(data, short).
			Dispatch([3]uint32{1, 1, 1}).
			CopyBufferToBuffer(noCopy, dst)
		if err := r.Err(); !errors.Is(err, ErrResourceCreationFailed) || !strings.Contains(err.Error(), "do not fit") {
			t.Errorf("Err = %v, want the undersized copy", err)
		}
	})

	t.Run("unsupported usage", func(t *testing.T) {
		if err := d.Record(RecordOptions{Label: "reusable", Usage: 1}).Err(); !errors.Is(err, ErrResourceCreationFailed) {
			t.Errorf("Err = %v, want ErrResourceCreationFailed", err)
		}
	})

	if live := d.LiveResources(); strings.Contains(strings.Join(live, ","), "command buffer") {
		t.Errorf("failed builds left %v", live)
	}
}

func TestRecorderDispatch(t *testing.T) {
	d := openSoftware(t)
	p, layout := computePipeline(t, d, "multiply", kernels.Multiply)
	data := mustBuffer[uint32](t, d, "data", 64, BufferStorage)
	set, err := d.BindDescriptors(layout, 0, []SlotResource{Slot(0, data)})
	if err != nil {
		t.Fatalf("BindDescriptors: %v", err)
	}
	defer release(t, set)

	cb, err := d.Record(RecordOptions{Label: "dispatch"}).
		BindPipeline(p).
		BindDescriptorSet(BindPointCompute, layout, 0, set).
		Dispatch(GroupCount([3]uint32{64, 1, 1}, p.Workgroup())).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !cb.References(data) {
		t.Error("command buffer does not reference the bound buffer")
	}
	if err := set.Release(); !errors.Is(err, ErrResourceInUse) {
		t.Errorf("releasing a recorded set error = %v, want ErrResourceInUse", err)
	}
	release(t, cb, cb)
}

func TestRecorderDraw(t *testing.T) {
	d := openSoftware(t)
	vs := loadShader(t, d, "triangle vs", kernels.Triangle, StageVertex)
	fs := loadShader(t, d, "triangle fs", kernels.Triangle, StageFragment)
	input, err := VertexInputOf[position]()
	if err != nil {
		t.Fatalf("VertexInputOf: %v", err)
	}
	p, _, err := d.BuildGraphicsPipeline(GraphicsPipelineDesc{
		Label:         "triangle",
		Vertex:        vs,
		VertexEntry:   "vs_main",
		Fragment:      fs,
		FragmentEntry: "fs_main",
		VertexInput:   input,
		TargetFormat:  gputypes.TextureFormatRGBA8Unorm,
	})
	if err != nil {
		t.Fatalf("BuildGraphicsPipeline: %v", err)
	}
	t.Cleanup(func() { release(t, p) })

	target := mustImage(t, d, "target", gputypes.TextureFormatRGBA8Unorm, ImageColorAttachment|ImageTransferDst)
	float := mustImage(t, d, "float", gputypes.TextureFormatRGBA32Float, ImageColorAttachment)
	noAttach := mustImage(t, d, "no attach", gputypes.TextureFormatRGBA8Unorm, ImageTransferDst)
	verts := mustBuffer[position](t, d, "vertices", 3, BufferVertex)
	notVertex := mustBuffer[position](t, d, "storage", 3, BufferStorage)

	tests := []struct {
		name    string
		target  *Image
		verts   AnyBuffer
		count   uint32
		wantErr error
	}{
		{"no vertex buffer", target, nil, 3, ErrVertexInputMismatch},
		{"too few vertices", target, verts, 4, ErrVertexInputMismatch},
		{"vertex usage", target, notVertex, 3, ErrResourceCreationFailed},
		{"target usage", noAttach, verts, 3, ErrResourceCreationFailed},
		{"target format", float, verts, 3, ErrResourceCreationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := d.Record(RecordOptions{Label: tt.name}).BindPipeline(p).Draw(tt.target, tt.verts, tt.count)
			if err := r.Err(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	cb, err := d.Record(RecordOptions{Label: "draw"}).
		ClearColorImage(target, [4]float64{0, 0, 0, 1}).
		BindPipeline(p).
		Draw(target, verts, 3).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	release(t, cb)
}
