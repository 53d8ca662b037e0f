// Package parallel fans CPU-side work out over a worker pool: reference
// images computed tile by tile and element-wise result verification.
//
// Images are split into tiles of at most TileSize x TileSize pixels, each
// filled independently into a shared RGBA buffer. Tiles never overlap, so
// workers write disjoint byte ranges without locking.
package parallel

// TileSize is the edge length of a full tile in pixels.
const TileSize = 64

// Tile is a rectangle of an image. Edge tiles may be smaller than
// TileSize.
type Tile struct {
	X, Y          int
	Width, Height int
}

// Tiles covers a width x height image in row-major order.
func Tiles(width, height int) []Tile {
	if width <= 0 || height <= 0 {
		return nil
	}
	var out []Tile
	for y := 0; y < height; y += TileSize {
		for x := 0; x < width; x += TileSize {
			out = append(out, Tile{
				X:      x,
				Y:      y,
				Width:  min(TileSize, width-x),
				Height: min(TileSize, height-y),
			})
		}
	}
	return out
}

// Contains reports whether pixel (x, y) lies in t.
func (t Tile) Contains(x, y int) bool {
	return x >= t.X && x < t.X+t.Width && y >= t.Y && y < t.Y+t.Height
}

// RenderRGBA fills a tightly packed width x height RGBA8 image with
// shade(x, y) evaluated per pixel, one work item per tile.
func (p *WorkerPool) RenderRGBA(width, height int, shade func(x, y int) [4]byte) []byte {
	if width <= 0 || height <= 0 {
		return nil
	}
	pix := make([]byte, width*height*4)
	tiles := Tiles(width, height)
	work := make([]func(), len(tiles))
	for i, t := range tiles {
		work[i] = func() {
			for y := t.Y; y < t.Y+t.Height; y++ {
				row := pix[(y*width+t.X)*4 : (y*width+t.X+t.Width)*4]
				for x := range t.Width {
					c := shade(t.X+x, y)
					copy(row[x*4:x*4+4], c[:])
				}
			}
		}
	}
	p.ExecuteAll(work)
	return pix
}

// Mismatch is the first index at which two sequences differ.
type Mismatch[T comparable] struct {
	Index     int
	Got, Want T
}

// Compare checks got against want element-wise in parallel and returns
// the lowest differing index, or nil if they are equal. Sequences of
// different length mismatch at the shorter length.
func Compare[T comparable](p *WorkerPool, got, want []T) *Mismatch[T] {
	n := min(len(got), len(want))
	chunk := max(n/(p.Workers()*4), 1024)

	firsts := make([]int, (n+chunk-1)/chunk)
	for i := range firsts {
		firsts[i] = -1
	}
	p.For(n, chunk, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if got[i] != want[i] {
				firsts[lo/chunk] = i
				return
			}
		}
	})
	for _, i := range firsts {
		if i >= 0 {
			return &Mismatch[T]{Index: i, Got: got[i], Want: want[i]}
		}
	}
	if len(got) != len(want) {
		m := &Mismatch[T]{Index: n}
		if n < len(got) {
			m.Got = got[n]
		}
		if n < len(want) {
			m.Want = want[n]
		}
		return m
	}
	return nil
}
