// Package imageio writes RGBA8 pixel buffers read back from the GPU to
// image files. The format follows the file extension.
package imageio

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// ErrImageEncoding is returned when pixels cannot be encoded or written.
var ErrImageEncoding = errors.New("imageio: image encoding failed")

// Format is an output file format.
type Format uint8

const (
	PNG Format = iota
	BMP
	TIFF
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case PNG:
		return "png"
	case BMP:
		return "bmp"
	case TIFF:
		return "tiff"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// FormatFor picks the format from path's extension. Unknown extensions,
// and none, mean PNG.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bmp":
		return BMP
	case ".tif", ".tiff":
		return TIFF
	default:
		return PNG
	}
}

// NewImage wraps tightly packed RGBA8 pixels without copying them.
func NewImage(width, height int, pix []byte) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: invalid size %dx%d", ErrImageEncoding, width, height)
	}
	if want := width * height * 4; len(pix) != want {
		return nil, fmt.Errorf("%w: %dx%d RGBA8 needs %d bytes, got %d", ErrImageEncoding, width, height, want, len(pix))
	}
	return &image.NRGBA{Pix: pix, Stride: width * 4, Rect: image.Rect(0, 0, width, height)}, nil
}

// EncodeTo writes the pixels to w in format f.
func EncodeTo(w io.Writer, f Format, width, height int, pix []byte) error {
	img, err := NewImage(width, height, pix)
	if err != nil {
		return err
	}
	switch f {
	case BMP:
		err = bmp.Encode(w, img)
	case TIFF:
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		err = png.Encode(w, img)
	}
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrImageEncoding, f, err)
	}
	return nil
}

// Encode writes the pixels to path in the format its extension names.
func Encode(path string, width, height int, pix []byte) error {
	if _, err := NewImage(width, height, pix); err != nil {
		return err
	}
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("%w: create file: %w", ErrImageEncoding, err)
	}
	if err := EncodeTo(f, FormatFor(path), width, height, pix); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrImageEncoding, path, err)
	}
	return nil
}

// Decode reads an image written by Encode, in any of the supported
// formats, back into RGBA8 pixels.
func Decode(r io.Reader) (width, height int, pix []byte, err error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("imageio: decode: %w", err)
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := range b.Dy() {
		for x := range b.Dx() {
			out.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return b.Dx(), b.Dy(), out.Pix, nil
}
