package imageio

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func gradient(w, h int) []byte {
	pix := make([]byte, w*h*4)
	for y := range h {
		for x := range w {
			i := (y*w + x) * 4
			pix[i] = byte(x * 16)
			pix[i+1] = byte(y * 16)
			pix[i+2] = 200
			pix[i+3] = 255
		}
	}
	return pix
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"out.png", PNG},
		{"out.PNG", PNG},
		{"out.bmp", BMP},
		{"out.tif", TIFF},
		{"out.TIFF", TIFF},
		{"out", PNG},
		{"out.jpg", PNG},
	}
	for _, tt := range tests {
		if got := FormatFor(tt.path); got != tt.want {
			t.Errorf("FormatFor(%q) = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	const w, h = 8, 6
	pix := gradient(w, h)
	dir := t.TempDir()

	for _, name := range []string{"image.png", "image.bmp", "image.tiff"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := Encode(path, w, h, pix); err != nil {
				t.Fatalf("Encode: %v", err)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			gw, gh, got, err := Decode(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if gw != w || gh != h {
				t.Fatalf("size = %dx%d, want %dx%d", gw, gh, w, h)
			}
			if !bytes.Equal(got, pix) {
				t.Error("pixels changed in round trip")
			}
		})
	}
}

func TestEncodeErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
		w, h int
		pix  []byte
	}{
		{"short buffer", "x.png", 4, 4, make([]byte, 10)},
		{"zero size", "x.png", 0, 4, nil},
		{"unwritable path", filepath.Join("no", "such", "dir", "x.png"), 1, 1, make([]byte, 4)},
	}
	dir := t.TempDir()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Encode(filepath.Join(dir, tt.path), tt.w, tt.h, tt.pix)
			if !errors.Is(err, ErrImageEncoding) {
				t.Errorf("err = %v, want ErrImageEncoding", err)
			}
		})
	}
}

func TestEncodeToFormats(t *testing.T) {
	pix := gradient(4, 4)
	magic := map[Format][]byte{
		PNG:  []byte("\x89PNG"),
		BMP:  []byte("BM"),
		TIFF: []byte("II*\x00"),
	}
	for f, want := range magic {
		var buf bytes.Buffer
		if err := EncodeTo(&buf, f, 4, 4, pix); err != nil {
			t.Fatalf("EncodeTo(%s): %v", f, err)
		}
		if !bytes.HasPrefix(buf.Bytes(), want) {
			t.Errorf("%s output starts %q, want %q", f, buf.Bytes()[:4], want)
		}
	}
}
