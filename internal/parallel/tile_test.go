package parallel

import "testing"

func TestTiles(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		count         int
		last          Tile
	}{
		{"exact", 128, 64, 2, Tile{X: 64, Y: 0, Width: 64, Height: 64}},
		{"ragged", 100, 70, 4, Tile{X: 64, Y: 64, Width: 36, Height: 6}},
		{"smaller than a tile", 10, 5, 1, Tile{Width: 10, Height: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tiles := Tiles(tt.width, tt.height)
			if len(tiles) != tt.count {
				t.Fatalf("len(Tiles) = %d, want %d", len(tiles), tt.count)
			}
			if got := tiles[len(tiles)-1]; got != tt.last {
				t.Errorf("last tile = %+v, want %+v", got, tt.last)
			}
			area := 0
			for _, tile := range tiles {
				area += tile.Width * tile.Height
			}
			if area != tt.width*tt.height {
				t.Errorf("tiles cover %d pixels, want %d", area, tt.width*tt.height)
			}
		})
	}

	if Tiles(0, 10) != nil {
		t.Error("Tiles(0, 10) should be nil")
	}
}

func TestTile_Contains(t *testing.T) {
	tile := Tile{X: 64, Y: 0, Width: 36, Height: 64}
	tests := []struct {
		x, y int
		want bool
	}{
		{64, 0, true},
		{99, 63, true},
		{100, 0, false},
		{63, 10, false},
		{70, 64, false},
	}
	for _, tt := range tests {
		if got := tile.Contains(tt.x, tt.y); got != tt.want {
			t.Errorf("Contains(%d, %d) = %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestRenderRGBA(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	const w, h = 130, 70
	pix := pool.RenderRGBA(w, h, func(x, y int) [4]byte {
		return [4]byte{byte(x), byte(y), 7, 255}
	})
	if len(pix) != w*h*4 {
		t.Fatalf("len = %d, want %d", len(pix), w*h*4)
	}
	for y := range h {
		for x := range w {
			i := (y*w + x) * 4
			if pix[i] != byte(x) || pix[i+1] != byte(y) || pix[i+2] != 7 || pix[i+3] != 255 {
				t.Fatalf("pixel (%d,%d) = %v", x, y, pix[i:i+4])
			}
		}
	}
}

func TestCompare(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	want := make([]uint32, 10000)
	for i := range want {
		want[i] = uint32(i) * 12
	}

	t.Run("equal", func(t *testing.T) {
		got := append([]uint32(nil), want...)
		if m := Compare(pool, got, want); m != nil {
			t.Errorf("unexpected mismatch %+v", m)
		}
	})

	t.Run("lowest index wins", func(t *testing.T) {
		got := append([]uint32(nil), want...)
		got[9000] = 1
		got[2500] = 2
		m := Compare(pool, got, want)
		if m == nil || m.Index != 2500 || m.Got != 2 || m.Want != 2500*12 {
			t.Errorf("mismatch = %+v, want index 2500", m)
		}
	})

	t.Run("length", func(t *testing.T) {
		m := Compare(pool, want[:5], want)
		if m == nil || m.Index != 5 || m.Want != 60 {
			t.Errorf("mismatch = %+v, want index 5", m)
		}
	})
}
