package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gogpu/gpuflow/internal/workload"
)

func newMultiplyCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "multiply",
		Short: "Multiply a buffer of integers by 12 on the GPU and verify it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			s, err := openSession(cmd, *cfgFile)
			if err != nil {
				return err
			}
			defer s.close(&err)

			res, err := s.runner.Multiply(s.cfg.Workload.MultiplyCount)
			if err != nil {
				return err
			}
			s.printf("multiply: verified %d elements in %d workgroups\n", res.Count, res.Groups[0])
			return nil
		},
	}
	cmd.Flags().Int("count", 65536, "number of elements, a multiple of 64")
	return cmd
}

func addImageFlags(cmd *cobra.Command, file string) {
	cmd.Flags().Int("width", 256, "image width in pixels")
	cmd.Flags().Int("height", 256, "image height in pixels")
	cmd.Flags().String("file", file, "output file name; the extension selects png, bmp or tiff")
}

// save writes img into the configured output directory.
func (s *session) save(cmd *cobra.Command, img *workload.Image) (string, error) {
	name, err := cmd.Flags().GetString("file")
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.cfg.Run.OutputDir, name)
	if err := img.Save(path); err != nil {
		return "", err
	}
	return path, nil
}

func newFractalCmd(cfgFile *string) *cobra.Command {
	var storageImage, verify bool
	cmd := &cobra.Command{
		Use:   "fractal",
		Short: "Render an escape-time fractal with a compute kernel",
		Long: `Render an escape-time fractal with a compute kernel and save it.

By default the kernel writes packed pixels into a storage buffer. With
--storage-image it writes an rgba8unorm storage image instead, which needs
a backend that executes image stores.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			s, err := openSession(cmd, *cfgFile)
			if err != nil {
				return err
			}
			defer s.close(&err)

			w, h := s.cfg.Workload.Width, s.cfg.Workload.Height
			var img *workload.Image
			if storageImage {
				img, err = s.runner.FractalImage(w, h)
			} else {
				img, err = s.runner.Fractal(w, h)
			}
			if err != nil {
				return err
			}
			if verify && !storageImage {
				if m := img.Diff(s.pool, workload.FractalReference(s.pool, w, h), 1); m != nil {
					return fmt.Errorf("%w: pixel (%d,%d) = %v, want %v",
						workload.ErrMismatch, m.Index%w, m.Index/w, m.Got, m.Want)
				}
			}
			path, err := s.save(cmd, img)
			if err != nil {
				return err
			}
			s.printf("fractal: wrote %dx%d image to %s\n", w, h, path)
			return nil
		},
	}
	addImageFlags(cmd, "fractal.png")
	cmd.Flags().BoolVar(&storageImage, "storage-image", false, "write a storage image instead of a storage buffer")
	cmd.Flags().BoolVar(&verify, "verify", false, "compare every pixel with the CPU reference")
	return cmd
}

func newClearCmd(cfgFile *string) *cobra.Command {
	var color string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear an image on the GPU, read it back and verify every pixel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			s, err := openSession(cmd, *cfgFile)
			if err != nil {
				return err
			}
			defer s.close(&err)

			c := s.cfg.ClearColor()
			if color != "" {
				if c, err = parseColor(color); err != nil {
					return err
				}
			}
			w, h := s.cfg.Workload.Width, s.cfg.Workload.Height
			img, err := s.runner.Clear(w, h, c)
			if err != nil {
				return err
			}
			path, err := s.save(cmd, img)
			if err != nil {
				return err
			}
			s.printf("clear: verified %d pixels of %v, wrote %s\n", w*h, workload.ColorBytes(c), path)
			return nil
		},
	}
	addImageFlags(cmd, "clear.png")
	cmd.Flags().StringVar(&color, "color", "", "clear color as r,g,b,a in [0,1] (default from config, 0,0,1,1)")
	return cmd
}

func newTriangleCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "triangle",
		Short: "Draw a red triangle with a vertex and fragment pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			s, err := openSession(cmd, *cfgFile)
			if err != nil {
				return err
			}
			defer s.close(&err)

			w, h := s.cfg.Workload.Width, s.cfg.Workload.Height
			img, err := s.runner.Triangle(w, h)
			if err != nil {
				return err
			}
			path, err := s.save(cmd, img)
			if err != nil {
				return err
			}
			s.printf("triangle: wrote %dx%d image to %s\n", w, h, path)
			return nil
		},
	}
	addImageFlags(cmd, "triangle.png")
	return cmd
}

// parseColor parses "r,g,b,a" with components in [0, 1].
func parseColor(s string) ([4]float64, error) {
	var c [4]float64
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return c, fmt.Errorf("color %q: want 4 comma-separated components", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return c, fmt.Errorf("color %q: %w", s, err)
		}
		if v < 0 || v > 1 {
			return c, fmt.Errorf("color %q: component %d is outside [0, 1]", s, i)
		}
		c[i] = v
	}
	return c, nil
}
