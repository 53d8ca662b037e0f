package gpuflow

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// CommandBufferUsage declares how often a command buffer may be submitted.
type CommandBufferUsage uint8

// OneTimeSubmit command buffers are submitted at most once.
const OneTimeSubmit CommandBufferUsage = 0

// RecordOptions configures a Recorder.
type RecordOptions struct {
	Label string
	Usage CommandBufferUsage
}

type opKind uint8

const (
	opBindPipeline opKind = iota
	opBindSet
	opDispatch
	opCopyImageToBuffer
	opCopyBufferToBuffer
	opClear
	opDraw
)

// command is one recorded operation. Only the fields its kind uses are set.
type command struct {
	kind     opKind
	pipeline Pipeline
	point    BindPoint
	index    uint32
	set      *DescriptorSet
	groups   [3]uint32
	image    *Image
	src, dst *buffer
	color    [4]float64
	count    uint32
}

// Recorder appends operations to a command buffer. Appends are chainable;
// the first failing append is remembered and every later one is skipped,
// so a chain needs one check, at Build or Err.
//
// A Recorder is not safe for concurrent use.
type Recorder struct {
	dev   *Device
	label string
	cmds  []command
	err   error
	built bool

	compute  *ComputePipeline
	graphics *GraphicsPipeline
	bound    [2]map[uint32]*DescriptorSet

	refs    []*resource
	seen    map[*resource]bool
	buffers map[*buffer]bool
}

// Record starts a command buffer.
func (d *Device) Record(opts RecordOptions) *Recorder {
	r := &Recorder{
		dev:     d,
		label:   opts.Label,
		bound:   [2]map[uint32]*DescriptorSet{{}, {}},
		seen:    map[*resource]bool{},
		buffers: map[*buffer]bool{},
	}
	if err := d.checkOpen(); err != nil {
		r.err = err
	}
	if opts.Usage != OneTimeSubmit {
		r.fail(fmt.Errorf("%w: recorder %q: unsupported usage %d", ErrResourceCreationFailed, opts.Label, opts.Usage))
	}
	return r
}

// Err returns the first error recorded so far.
func (r *Recorder) Err() error { return r.err }

func (r *Recorder) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// begin reports whether op may be recorded.
func (r *Recorder) begin(op string) bool {
	if r.built {
		r.err = fmt.Errorf("%w: %s on %q", ErrRecorderAlreadyBuilt, op, r.label)
		return false
	}
	return r.err == nil
}

func (r *Recorder) use(res ...*resource) bool {
	for _, x := range res {
		if err := x.alive(); err != nil {
			r.fail(err)
			return false
		}
	}
	for _, x := range res {
		if !r.seen[x] {
			r.seen[x] = true
			r.refs = append(r.refs, x)
		}
	}
	return true
}

// BindPipeline makes p current for its bind point.
func (r *Recorder) BindPipeline(p Pipeline) *Recorder {
	if !r.begin("BindPipeline") {
		return r
	}
	if !r.use(p.res()) {
		return r
	}
	switch p := p.(type) {
	case *ComputePipeline:
		r.compute = p
	case *GraphicsPipeline:
		r.graphics = p
	}
	r.cmds = append(r.cmds, command{kind: opBindPipeline, pipeline: p})
	return r
}

// BindDescriptorSet binds set as set number index of layout for the
// pipelines of bindPoint.
func (r *Recorder) BindDescriptorSet(bindPoint BindPoint, layout *PipelineLayout, index uint32, set *DescriptorSet) *Recorder {
	if !r.begin("BindDescriptorSet") {
		return r
	}
	switch {
	case bindPoint > BindPointGraphics:
		r.fail(&BindingError{Set: index, Detail: "unknown " + bindPoint.String()})
		return r
	case set == nil:
		r.fail(&BindingError{Set: index, Detail: "nil descriptor set"})
		return r
	case set.layout != layout:
		r.fail(&BindingError{Set: index, Detail: "descriptor set was checked against a different layout"})
		return r
	case set.index != index:
		r.fail(&BindingError{Set: index, Detail: fmt.Sprintf("descriptor set was checked as set %d", set.index)})
		return r
	}
	if !r.use(&set.resource) {
		return r
	}
	for _, b := range set.buffers {
		r.buffers[b] = true
	}
	r.bound[bindPoint][index] = set
	r.cmds = append(r.cmds, command{kind: opBindSet, point: bindPoint, index: index, set: set})
	return r
}

// checkSets fails unless every non-empty set of layout is bound for bp.
func (r *Recorder) checkSets(bp BindPoint, layout *PipelineLayout, op string) bool {
	for i, slots := range layout.sets {
		if len(slots) == 0 {
			continue
		}
		s := r.bound[bp][uint32(i)] //nolint:gosec // G115: set count is small
		if s == nil || s.layout != layout {
			r.fail(&BindingError{Set: uint32(i), Detail: op + " before the set was bound"}) //nolint:gosec // G115: set count is small
			return false
		}
	}
	return true
}

// Dispatch runs the bound compute pipeline over groups workgroups. See
// GroupCount for sizing.
func (r *Recorder) Dispatch(groups [3]uint32) *Recorder {
	if !r.begin("Dispatch") {
		return r
	}
	if r.compute == nil {
		r.fail(fmt.Errorf("%w: dispatch without a compute pipeline", ErrBindingSetMismatch))
		return r
	}
	if !r.checkSets(BindPointCompute, r.compute.layout, "dispatch") {
		return r
	}
	r.cmds = append(r.cmds, command{kind: opDispatch, groups: groups})
	return r
}

// CopyImageToBuffer copies the whole image, tightly packed, to the start
// of dst.
func (r *Recorder) CopyImageToBuffer(src *Image, dst AnyBuffer) *Recorder {
	if !r.begin("CopyImageToBuffer") {
		return r
	}
	b := dst.raw()
	if !r.use(&src.resource, &b.resource) {
		return r
	}
	if err := src.Require("copy image to buffer", ImageTransferSrc); err != nil {
		r.fail(err)
		return r
	}
	if err := b.Require("copy image to buffer", BufferTransferDst); err != nil {
		r.fail(err)
		return r
	}
	if b.size < src.ByteSize() {
		r.fail(fmt.Errorf("%w: copy %q to %q: buffer has %d bytes, image needs %d",
			ErrResourceCreationFailed, src.label, b.label, b.size, src.ByteSize()))
		return r
	}
	r.buffers[b] = true
	r.cmds = append(r.cmds, command{kind: opCopyImageToBuffer, image: src, dst: b})
	return r
}

// CopyBufferToBuffer copies all of src to the start of dst.
func (r *Recorder) CopyBufferToBuffer(src, dst AnyBuffer) *Recorder {
	if !r.begin("CopyBufferToBuffer") {
		return r
	}
	s, t := src.raw(), dst.raw()
	if !r.use(&s.resource, &t.resource) {
		return r
	}
	if err := s.Require("copy buffer to buffer", BufferTransferSrc); err != nil {
		r.fail(err)
		return r
	}
	if err := t.Require("copy buffer to buffer", BufferTransferDst); err != nil {
		r.fail(err)
		return r
	}
	if t.size < s.size {
		r.fail(fmt.Errorf("%w: copy %q to %q: %d bytes do not fit in %d",
			ErrResourceCreationFailed, s.label, t.label, s.size, t.size))
		return r
	}
	r.buffers[s] = true
	r.buffers[t] = true
	r.cmds = append(r.cmds, command{kind: opCopyBufferToBuffer, src: s, dst: t})
	return r
}

// ClearColorImage fills img with color, given as normalized RGBA.
func (r *Recorder) ClearColorImage(img *Image, color [4]float64) *Recorder {
	if !r.begin("ClearColorImage") {
		return r
	}
	if !r.use(&img.resource) {
		return r
	}
	if err := img.Require("clear color image", ImageTransferDst); err != nil {
		r.fail(err)
		return r
	}
	r.cmds = append(r.cmds, command{kind: opClear, image: img, color: color})
	return r
}

// Draw renders vertexCount vertices from vertices with the bound graphics
// pipeline into target, keeping the target's existing content. vertices
// may be nil when the pipeline has no vertex input.
func (r *Recorder) Draw(target *Image, vertices AnyBuffer, vertexCount uint32) *Recorder {
	if !r.begin("Draw") {
		return r
	}
	p := r.graphics
	if p == nil {
		r.fail(fmt.Errorf("%w: draw without a graphics pipeline", ErrBindingSetMismatch))
		return r
	}
	if !r.use(&target.resource) {
		return r
	}
	if err := target.Require("draw", ImageColorAttachment); err != nil {
		r.fail(err)
		return r
	}
	if target.format != p.target {
		r.fail(fmt.Errorf("%w: draw into %q: image is %s, pipeline targets %s",
			ErrResourceCreationFailed, target.label, target.format, p.target))
		return r
	}

	var vb *buffer
	if len(p.input.Attributes) > 0 {
		if vertices == nil {
			r.fail(fmt.Errorf("%w: draw with %q needs a vertex buffer", ErrVertexInputMismatch, p.label))
			return r
		}
		vb = vertices.raw()
		if !r.use(&vb.resource) {
			return r
		}
		if err := vb.Require("draw", BufferVertex); err != nil {
			r.fail(err)
			return r
		}
		if need := uint64(vertexCount) * p.input.Stride; need > vb.size {
			r.fail(fmt.Errorf("%w: %d vertices need %d bytes, %q has %d",
				ErrVertexInputMismatch, vertexCount, need, vb.label, vb.size))
			return r
		}
	}
	if !r.checkSets(BindPointGraphics, p.layout, "draw") {
		return r
	}
	r.cmds = append(r.cmds, command{kind: opDraw, image: target, src: vb, count: vertexCount})
	return r
}

// Build encodes the recorded operations, in order, into a command buffer.
// It returns the first append error, if any. A Recorder builds once.
func (r *Recorder) Build() (*CommandBuffer, error) {
	if r.built {
		return nil, fmt.Errorf("%w: Build on %q", ErrRecorderAlreadyBuilt, r.label)
	}
	r.built = true
	if r.err != nil {
		return nil, r.err
	}
	d := r.dev
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: r.label})
	if err != nil {
		return nil, fmt.Errorf("%w: command encoder %q: %v", ErrResourceCreationFailed, r.label, err)
	}
	if err := enc.BeginEncoding(r.label); err != nil {
		return nil, fmt.Errorf("%w: begin %q: %v", ErrResourceCreationFailed, r.label, err)
	}
	e := newEncoder(enc, r.label)
	for _, c := range r.cmds {
		e.encode(c)
	}
	e.endCompute()
	hcb, err := enc.EndEncoding()
	if err != nil {
		enc.DiscardEncoding()
		return nil, fmt.Errorf("%w: end %q: %v", ErrResourceCreationFailed, r.label, err)
	}

	cb := &CommandBuffer{hal: hcb, refs: r.refs, buffers: r.buffers}
	if err := d.track(&cb.resource, "command buffer", r.label); err != nil {
		d.device.FreeCommandBuffer(hcb)
		return nil, err
	}
	for _, x := range r.refs {
		x.retain()
	}
	Logger().Debug("gpuflow: command buffer built", "label", r.label, "commands", len(r.cmds))
	return cb, nil
}

// encoder turns commands into HAL calls. Compute commands share one
// compute pass until a transfer or render command needs the encoder.
type encoder struct {
	enc   hal.CommandEncoder
	label string
	pass  hal.ComputePassEncoder

	pipeline *ComputePipeline
	sets     map[uint32]*DescriptorSet
	graphics *GraphicsPipeline
	gsets    map[uint32]*DescriptorSet
	images   map[*Image]gputypes.TextureUsage
}

func newEncoder(enc hal.CommandEncoder, label string) *encoder {
	return &encoder{
		enc:    enc,
		label:  label,
		sets:   map[uint32]*DescriptorSet{},
		gsets:  map[uint32]*DescriptorSet{},
		images: map[*Image]gputypes.TextureUsage{},
	}
}

// computePass returns the open compute pass, beginning one and restoring
// the current pipeline and sets if needed.
func (e *encoder) computePass() hal.ComputePassEncoder {
	if e.pass != nil {
		return e.pass
	}
	e.pass = e.enc.BeginComputePass(&hal.ComputePassDescriptor{Label: e.label})
	if e.pipeline != nil {
		e.pass.SetPipeline(e.pipeline.hal)
	}
	for i, s := range e.sets {
		e.pass.SetBindGroup(i, s.hal, nil)
	}
	return e.pass
}

func (e *encoder) endCompute() {
	if e.pass != nil {
		e.pass.End()
		e.pass = nil
	}
}

// transition moves img to usage, emitting a barrier on change.
func (e *encoder) transition(img *Image, usage gputypes.TextureUsage) {
	old := e.images[img]
	if old == usage {
		return
	}
	e.enc.TransitionTextures([]hal.TextureBarrier{{
		Texture: img.hal,
		Range:   hal.TextureRange{Aspect: gputypes.TextureAspectAll, MipLevelCount: 1, ArrayLayerCount: 1},
		Usage:   hal.TextureUsageTransition{OldUsage: old, NewUsage: usage},
	}})
	e.images[img] = usage
}

func (e *encoder) storageImages(sets map[uint32]*DescriptorSet) {
	for _, s := range sets {
		for _, m := range s.members {
			if img, ok := m.(*Image); ok {
				e.transition(img, gputypes.TextureUsageStorageBinding)
			}
		}
	}
}

func (e *encoder) encode(c command) {
	switch c.kind {
	case opBindPipeline:
		switch p := c.pipeline.(type) {
		case *ComputePipeline:
			e.pipeline = p
			if e.pass != nil {
				e.pass.SetPipeline(p.hal)
			}
		case *GraphicsPipeline:
			e.graphics = p
		}

	case opBindSet:
		if c.point == BindPointGraphics {
			e.gsets[c.index] = c.set
			return
		}
		e.sets[c.index] = c.set
		if e.pass != nil {
			e.pass.SetBindGroup(c.index, c.set.hal, nil)
		}

	case opDispatch:
		if e.pass == nil {
			e.storageImages(e.sets)
		}
		e.computePass().Dispatch(c.groups[0], c.groups[1], c.groups[2])

	case opCopyImageToBuffer:
		e.endCompute()
		img := c.image
		e.transition(img, gputypes.TextureUsageCopySrc)
		e.enc.TransitionBuffers([]hal.BufferBarrier{{
			Buffer: c.dst.hal,
			Usage:  hal.BufferUsageTransition{OldUsage: c.dst.halUsage, NewUsage: gputypes.BufferUsageCopyDst},
		}})
		e.enc.CopyTextureToBuffer(img.hal, c.dst.hal, []hal.BufferTextureCopy{{
			BufferLayout: hal.ImageDataLayout{BytesPerRow: img.BytesPerRow(), RowsPerImage: img.extent.Height},
			TextureBase:  hal.ImageCopyTexture{Texture: img.hal, Aspect: gputypes.TextureAspectAll},
			Size:         hal.Extent3D{Width: img.extent.Width, Height: img.extent.Height, DepthOrArrayLayers: 1},
		}})

	case opCopyBufferToBuffer:
		e.endCompute()
		e.enc.TransitionBuffers([]hal.BufferBarrier{
			{Buffer: c.src.hal, Usage: hal.BufferUsageTransition{OldUsage: c.src.halUsage, NewUsage: gputypes.BufferUsageCopySrc}},
			{Buffer: c.dst.hal, Usage: hal.BufferUsageTransition{OldUsage: c.dst.halUsage, NewUsage: gputypes.BufferUsageCopyDst}},
		})
		e.enc.CopyBufferToBuffer(c.src.hal, c.dst.hal, []hal.BufferCopy{{Size: c.src.size}})

	case opClear:
		e.endCompute()
		e.transition(c.image, gputypes.TextureUsageRenderAttachment)
		rp := e.enc.BeginRenderPass(&hal.RenderPassDescriptor{
			Label: e.label,
			ColorAttachments: []hal.RenderPassColorAttachment{{
				View:       c.image.view,
				LoadOp:     gputypes.LoadOpClear,
				StoreOp:    gputypes.StoreOpStore,
				ClearValue: gputypes.Color{R: c.color[0], G: c.color[1], B: c.color[2], A: c.color[3]},
			}},
		})
		rp.End()

	case opDraw:
		e.endCompute()
		e.transition(c.image, gputypes.TextureUsageRenderAttachment)
		rp := e.enc.BeginRenderPass(&hal.RenderPassDescriptor{
			Label: e.label,
			ColorAttachments: []hal.RenderPassColorAttachment{{
				View:    c.image.view,
				LoadOp:  gputypes.LoadOpLoad,
				StoreOp: gputypes.StoreOpStore,
			}},
		})
		rp.SetPipeline(e.graphics.hal)
		for i, s := range e.gsets {
			rp.SetBindGroup(i, s.hal, nil)
		}
		if c.src != nil {
			rp.SetVertexBuffer(0, c.src.hal, 0)
		}
		rp.Draw(c.count, 1, 0, 0)
		rp.End()
	}
}

// CommandBuffer is a built, not yet submitted command list. It references
// every resource its commands touch until it completes or is released.
type CommandBuffer struct {
	resource

	hal       hal.CommandBuffer
	refs      []*resource
	buffers   map[*buffer]bool
	submitted bool
}

// References reports whether the command buffer's commands touch b.
func (cb *CommandBuffer) References(b AnyBuffer) bool { return cb.buffers[b.raw()] }

// Release frees a command buffer that will not be submitted. Submitted
// command buffers are freed when their completion is observed.
func (cb *CommandBuffer) Release() error {
	d := cb.dev
	d.mu.Lock()
	pending := cb.submitted && !cb.released
	d.mu.Unlock()
	if pending {
		return fmt.Errorf("%w: %s is in flight", ErrResourceInUse, &cb.resource)
	}
	return cb.release(cb.free)
}

func (cb *CommandBuffer) free() {
	cb.dev.device.FreeCommandBuffer(cb.hal)
	for _, x := range cb.refs {
		x.drop()
	}
}
