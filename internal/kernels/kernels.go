// Package kernels holds the WGSL programs gpuflow workloads run and the
// CPU references their results are checked against.
package kernels

import (
	_ "embed"

	"github.com/gogpu/gpuflow/internal/parallel"
)

// Multiply scales a storage buffer of u32 by MultiplyFactor in place.
// One invocation per element, workgroup size 64.
//
//go:embed multiply.wgsl
var Multiply string

// MultiplyFactor is the constant Multiply scales by.
const MultiplyFactor = 12

// FractalBuffer renders the escape-time fractal into a storage buffer of
// packed RGBA8 words. Binding 0 is FractalParams, binding 1 the pixels.
//
//go:embed fractal_buffer.wgsl
var FractalBuffer string

// FractalImage renders the escape-time fractal into an rgba8unorm storage
// image bound at slot 0.
//
//go:embed fractal_image.wgsl
var FractalImage string

// Triangle has a vertex entry point vs_main taking a vec2 position at
// location 0 and a fragment entry point fs_main writing opaque red.
//
//go:embed triangle.wgsl
var Triangle string

// FractalIterations is the iteration budget of both fractal kernels.
const FractalIterations = 200

// FractalParams is the uniform block of FractalBuffer.
type FractalParams struct {
	Width   uint32
	Height  uint32
	MaxIter uint32
	Pad     uint32
}

// MultiplyRef returns in[i]*MultiplyFactor for every element.
func MultiplyRef(pool *parallel.WorkerPool, in []uint32) []uint32 {
	out := make([]uint32, len(in))
	pool.For(len(in), 0, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] = in[i] * MultiplyFactor
		}
	})
	return out
}

// FractalGray returns the intensity FractalBuffer computes for pixel
// (x, y) of a width x height image. Arithmetic is in float32 like the
// kernel's.
func FractalGray(x, y, width, height, maxIter uint32) uint8 {
	nx := (float32(x) + 0.5) / float32(width)
	ny := (float32(y) + 0.5) / float32(height)
	cx := (nx-0.5)*2 - 1
	cy := (ny - 0.5) * 2

	var zx, zy float32
	n := uint32(0)
	for n < maxIter {
		zx, zy = float32(zx*zx)-float32(zy*zy)+cx, float32(zy*zx)+float32(zx*zy)+cy
		if float32(zx*zx)+float32(zy*zy) > 16 {
			break
		}
		n++
	}
	return uint8(uint32(float32(n)/float32(maxIter)*255 + 0.5))
}

// FractalPixel packs gray into the little-endian RGBA8 word the kernel
// writes: r, g and b equal to gray, alpha 255.
func FractalPixel(gray uint8) uint32 {
	g := uint32(gray)
	return g | g<<8 | g<<16 | 255<<24
}

// FractalRef renders the whole reference image as RGBA8 bytes.
func FractalRef(pool *parallel.WorkerPool, width, height int) []byte {
	return pool.RenderRGBA(width, height, func(x, y int) [4]byte {
		g := FractalGray(uint32(x), uint32(y), uint32(width), uint32(height), FractalIterations) //nolint:gosec // G115: image dimensions
		return [4]byte{g, g, g, 255}
	})
}
