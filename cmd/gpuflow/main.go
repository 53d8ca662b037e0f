// Command gpuflow runs the built-in GPU workloads: an element-wise
// multiply, an escape-time fractal, an image clear and a triangle draw.
// Each run is one dispatch-and-readback cycle on the configured backend.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gpuflow:", err)
		os.Exit(1)
	}
}
