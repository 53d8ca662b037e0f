// Package workload composes the gpuflow core into the end-to-end flows
// the CLI runs: each one builds its resources, records a single command
// buffer, submits it, waits and reads the result back.
package workload

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/gogpu/gpuflow"
	"github.com/gogpu/gpuflow/internal/imageio"
	"github.com/gogpu/gpuflow/internal/parallel"
)

var (
	// ErrInvalidSize is returned for workload sizes a kernel cannot cover.
	ErrInvalidSize = errors.New("workload: invalid size")

	// ErrMismatch is returned when a result differs from its CPU reference.
	ErrMismatch = errors.New("workload: result does not match CPU reference")
)

// Runner runs workloads on one device. It does not own the device.
type Runner struct {
	dev     *gpuflow.Device
	pool    *parallel.WorkerPool
	timeout time.Duration
}

// New creates a runner. A timeout <= 0 waits without limit.
func New(dev *gpuflow.Device, pool *parallel.WorkerPool, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = gpuflow.WaitForever
	}
	return &Runner{dev: dev, pool: pool, timeout: timeout}
}

// Device returns the runner's device.
func (r *Runner) Device() *gpuflow.Device { return r.dev }

// releaser releases resources in reverse acquisition order.
type releaser []interface{ Release() error }

func (rs *releaser) add(r interface{ Release() error }) { *rs = append(*rs, r) }

// release releases everything and joins the errors.
func (rs releaser) release() error {
	var errs []error
	for _, r := range slices.Backward(rs) {
		if err := r.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// finish releases rs into *errp, keeping the first error. It takes a
// pointer so a deferred call sees everything added after the defer.
func (rs *releaser) finish(errp *error) {
	if err := rs.release(); err != nil {
		if *errp == nil {
			*errp = err
			return
		}
		gpuflow.Logger().Warn("workload: release after failure", "err", err)
	}
}

// run submits cb and waits for it.
func (r *Runner) run(cb *gpuflow.CommandBuffer) (gpuflow.Completion, error) {
	start := time.Now()
	tok, err := r.dev.Submit(cb)
	if err != nil {
		if rerr := cb.Release(); rerr != nil {
			gpuflow.Logger().Warn("workload: release unsubmitted command buffer", "err", rerr)
		}
		return gpuflow.Completion{}, err
	}
	done, err := tok.Wait(r.timeout)
	if err != nil {
		return gpuflow.Completion{}, err
	}
	gpuflow.Logger().Debug("workload: submission complete", "label", done.Label(), "elapsed", time.Since(start))
	return done, nil
}

// Image is an RGBA8 result.
type Image struct {
	Width  int
	Height int
	Pix    []byte
}

// At returns the pixel at (x, y).
func (im *Image) At(x, y int) [4]byte {
	i := (y*im.Width + x) * 4
	return [4]byte(im.Pix[i : i+4])
}

// Save encodes the image; the format follows the path's extension.
func (im *Image) Save(path string) error {
	return imageio.Encode(path, im.Width, im.Height, im.Pix)
}

func checkExtent(width, height int) error {
	if width <= 0 || height <= 0 || width > 8192 || height > 8192 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	return nil
}
