package parallel

import (
	"errors"
	"image/color"
	"sync"
	"testing"
)

// =============================================================================
// Canvas Tests
// =============================================================================

func solid(w, h int, c [4]byte) []byte {
	buf := make([]byte, w*h*4)
	for i := 0; i < len(buf); i += 4 {
		copy(buf[i:], c[:])
	}
	return buf
}

func TestCanvas_New(t *testing.T) {
	c := NewCanvas(17, 13)
	if r := c.Image().Rect; r.Dx() != 17 || r.Dy() != 13 {
		t.Errorf("size = %dx%d, want 17x13", r.Dx(), r.Dy())
	}

	empty := NewCanvas(-1, 5)
	if r := empty.Image().Rect; r.Dx() != 0 || r.Dy() != 5 {
		t.Errorf("clamped size = %dx%d, want 0x5", r.Dx(), r.Dy())
	}
}

func TestCanvas_DrawTile(t *testing.T) {
	c := NewCanvas(17, 13)
	red := [4]byte{255, 0, 0, 255}

	if err := c.DrawTile(9, 10, 8, 3, solid(8, 3, red)); err != nil {
		t.Fatalf("DrawTile() error = %v", err)
	}

	img := c.Image()
	for y := range 13 {
		for x := range 17 {
			got := img.RGBAAt(x, y)
			inTile := x >= 9 && y >= 10
			if inTile && got != (color.RGBA{255, 0, 0, 255}) {
				t.Fatalf("pixel (%d,%d) = %v, want red", x, y, got)
			}
			if !inTile && got.A != 0 {
				t.Fatalf("pixel (%d,%d) = %v, want untouched", x, y, got)
			}
		}
	}
}

func TestCanvas_DrawTileSizeMismatch(t *testing.T) {
	c := NewCanvas(10, 10)

	tests := []struct {
		name   string
		w, h   int
		pixels []byte
	}{
		{"short", 4, 4, make([]byte, 4*4*4-1)},
		{"long", 4, 4, make([]byte, 4*4*4+4)},
		{"empty tile", 0, 4, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.DrawTile(0, 0, tt.w, tt.h, tt.pixels)
			if !errors.Is(err, ErrTileSize) {
				t.Errorf("DrawTile() error = %v, want ErrTileSize", err)
			}
		})
	}
}

func TestCanvas_DrawTileClipped(t *testing.T) {
	c := NewCanvas(4, 4)
	blue := [4]byte{0, 0, 255, 255}

	// Overhangs the right and bottom edges.
	if err := c.DrawTile(2, 2, 4, 4, solid(4, 4, blue)); err != nil {
		t.Fatalf("DrawTile() error = %v", err)
	}
	// Overhangs the left and top edges.
	if err := c.DrawTile(-1, -1, 2, 2, solid(2, 2, blue)); err != nil {
		t.Fatalf("DrawTile() error = %v", err)
	}
	// Entirely outside.
	if err := c.DrawTile(10, 10, 1, 1, solid(1, 1, blue)); err != nil {
		t.Fatalf("DrawTile() error = %v", err)
	}

	img := c.Image()
	for _, p := range [][2]int{{0, 0}, {2, 2}, {3, 3}} {
		if img.RGBAAt(p[0], p[1]).B != 255 {
			t.Errorf("pixel %v not drawn", p)
		}
	}
	for _, p := range [][2]int{{1, 0}, {0, 1}, {1, 2}} {
		if img.RGBAAt(p[0], p[1]).A != 0 {
			t.Errorf("pixel %v drawn, want untouched", p)
		}
	}
}

func TestCanvas_Clear(t *testing.T) {
	c := NewCanvas(3, 3)
	c.Clear(color.RGBA{1, 2, 3, 255})

	if got := c.Image().RGBAAt(2, 2); got != (color.RGBA{1, 2, 3, 255}) {
		t.Errorf("pixel = %v, want {1 2 3 255}", got)
	}
}

func TestCanvas_Resize(t *testing.T) {
	c := NewCanvas(3, 3)
	c.Clear(color.White)

	c.Resize(3, 3)
	if r := c.Image().Rect; r.Dx() != 3 || r.Dy() != 3 {
		t.Errorf("size = %dx%d, want 3x3", r.Dx(), r.Dy())
	}
	if c.Image().RGBAAt(2, 2).A != 0 {
		t.Error("same-size Resize kept stale pixels")
	}

	c.Clear(color.White)
	c.Resize(5, 2)
	if r := c.Image().Rect; r.Dx() != 5 || r.Dy() != 2 {
		t.Errorf("size = %dx%d, want 5x2", r.Dx(), r.Dy())
	}
	if c.Image().RGBAAt(0, 0).A != 0 {
		t.Error("Resize kept stale pixels")
	}
}

func TestCanvas_ImageIsCopy(t *testing.T) {
	c := NewCanvas(2, 2)
	img := c.Image()
	img.Pix[0] = 99

	if c.Image().Pix[0] == 99 {
		t.Error("Image() shares the frame buffer")
	}
}

func TestCanvas_ConcurrentDraw(t *testing.T) {
	c := NewCanvas(100, 80)

	var wg sync.WaitGroup
	for tile := range Partition(100, 80, 8, 5) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shade := byte(tile.Row*5 + tile.Col)
			_ = c.DrawTile(tile.X, tile.Y, tile.Width, tile.Height,
				solid(tile.Width, tile.Height, [4]byte{shade, 0, 0, 255}))
		}()
	}
	wg.Wait()

	img := c.Image()
	for tile := range Partition(100, 80, 8, 5) {
		want := byte(tile.Row*5 + tile.Col)
		if got := img.RGBAAt(tile.X+tile.Width-1, tile.Y+tile.Height-1).R; got != want {
			t.Errorf("tile (%d,%d) corner = %d, want %d", tile.Row, tile.Col, got, want)
		}
	}
}
