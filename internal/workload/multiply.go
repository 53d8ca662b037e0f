package workload

import (
	"fmt"

	"github.com/gogpu/gpuflow"
	"github.com/gogpu/gpuflow/internal/kernels"
	"github.com/gogpu/gpuflow/internal/parallel"
)

// MultiplyResult is the outcome of a multiply run.
type MultiplyResult struct {
	Count  int
	Groups [3]uint32
	Values []uint32
}

// Multiply fills a storage buffer with 0..count-1, multiplies every
// element by kernels.MultiplyFactor on the device and checks the result
// against the CPU reference. count must be a multiple of the kernel's
// workgroup width.
func (r *Runner) Multiply(count int) (res *MultiplyResult, err error) {
	var rs releaser
	defer rs.finish(&err)

	sm, err := r.dev.LoadShader(gpuflow.ShaderSource{Label: "multiply", Code: kernels.Multiply, Stage: gpuflow.StageCompute})
	if err != nil {
		return nil, err
	}
	rs.add(sm)
	pipe, layout, err := r.dev.BuildComputePipeline(sm, "main")
	if err != nil {
		return nil, err
	}
	rs.add(pipe)

	local := pipe.Workgroup()
	if count <= 0 || count%int(local[0]) != 0 || count > 1<<28 {
		return nil, fmt.Errorf("%w: element count %d is not a positive multiple of %d", ErrInvalidSize, count, local[0])
	}

	data, err := gpuflow.NewBufferFromSeq(r.dev, gpuflow.BufferDesc{
		Label:  "multiply data",
		Count:  count,
		Usage:  gpuflow.BufferStorage | gpuflow.BufferTransferSrc,
		Memory: gpuflow.HostVisible | gpuflow.HostRandomAccess,
	}, gpuflow.Counting[uint32](count))
	if err != nil {
		return nil, err
	}
	rs.add(data)

	set, err := r.dev.BindDescriptors(layout, 0, []gpuflow.SlotResource{gpuflow.Slot(0, data)})
	if err != nil {
		return nil, err
	}
	rs.add(set)

	groups := gpuflow.GroupCount([3]uint32{uint32(count), 1, 1}, local) //nolint:gosec // G115: count bounded above
	cb, err := r.dev.Record(gpuflow.RecordOptions{Label: "multiply"}).
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

	view, err := gpuflow.ReadHostVisible(done, data)
	if err != nil {
		return nil, err
	}
	values, err := gpuflow.Decode[uint32](view)
	if err != nil {
		return nil, err
	}

	want := kernels.MultiplyRef(r.pool, sequence(r.pool, count))
	if m := parallel.Compare(r.pool, values, want); m != nil {
		return nil, fmt.Errorf("%w: multiply element %d = %d, want %d", ErrMismatch, m.Index, m.Got, m.Want)
	}
	gpuflow.Logger().Info("workload: multiply verified", "elements", count, "groups", groups)
	return &MultiplyResult{Count: count, Groups: groups, Values: values}, nil
}

// sequence returns 0..n-1.
func sequence(pool *parallel.WorkerPool, n int) []uint32 {
	out := make([]uint32, n)
	pool.For(n, 0, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] = uint32(i) //nolint:gosec // G115: i < n
		}
	})
	return out
}
