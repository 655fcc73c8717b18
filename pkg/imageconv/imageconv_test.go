package imageconv

import (
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/Equbuxu/PixelPainter-sub000/pkg/canvas"
)

var (
	black = color.NRGBA{A: 0xff}
	white = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	red   = color.NRGBA{R: 0xff, A: 0xff}
	bw    = canvas.NewPalette([]color.NRGBA{black, white})
)

func fill(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestDitherFlatColourIsIdempotent(t *testing.T) {
	p := canvas.NewPalette([]color.NRGBA{black, white, red})
	src := fill(5, 4, red)
	out := Quantize(src, p, true)
	for y := 0; y < 4; y++ {
		for x := 0; x < 5; x++ {
			if got := out.NRGBAAt(x, y); got != red {
				t.Fatalf("(%d,%d): want %v, got %v", x, y, red, got)
			}
		}
	}
}

func TestQuantizeNearest(t *testing.T) {
	src := fill(1, 1, color.NRGBA{R: 10, G: 10, B: 10, A: 0xff})
	if got := Quantize(src, bw, false).NRGBAAt(0, 0); got != black {
		t.Fatalf("want black, got %v", got)
	}
}

func TestDitherDiffusesErrorRight(t *testing.T) {
	grey := color.NRGBA{R: 100, G: 100, B: 100, A: 0xff}
	src := fill(2, 1, grey)
	plain := Quantize(src, bw, false)
	if plain.NRGBAAt(0, 0) != black || plain.NRGBAAt(1, 0) != black {
		t.Fatalf("without dithering both pixels map to black")
	}
	// 100 -> black leaves +100, 7/16 of it lifts the right pixel to 143.75.
	d := Quantize(src, bw, true)
	if d.NRGBAAt(0, 0) != black || d.NRGBAAt(1, 0) != white {
		t.Fatalf("want black then white, got %v %v", d.NRGBAAt(0, 0), d.NRGBAAt(1, 0))
	}
}

func TestDitherMidGreyMixes(t *testing.T) {
	out := Quantize(fill(8, 8, color.NRGBA{R: 128, G: 128, B: 128, A: 0xff}), bw, true)
	blacks := Usage(out, bw)[0]
	if blacks < 20 || blacks > 44 {
		t.Fatalf("expected roughly half black pixels, got %d of 64", blacks)
	}
}

func TestTransparentPixelsPassThrough(t *testing.T) {
	src := fill(3, 1, color.NRGBA{R: 100, G: 100, B: 100, A: 0xff})
	src.SetNRGBA(1, 0, color.NRGBA{})
	out := Quantize(src, bw, true)
	if out.NRGBAAt(1, 0).A != 0 {
		t.Fatalf("transparent source must stay transparent")
	}
	// The error of (0,0) is not carried across the transparent gap.
	if out.NRGBAAt(2, 0) != black {
		t.Fatalf("want black after transparent gap, got %v", out.NRGBAAt(2, 0))
	}
}

func TestQuantizeRebasesBounds(t *testing.T) {
	src := image.NewNRGBA(image.Rect(10, 10, 12, 11))
	src.SetNRGBA(11, 10, white)
	out := Quantize(src, bw, false)
	if out.Bounds() != image.Rect(0, 0, 2, 1) {
		t.Fatalf("unexpected bounds %v", out.Bounds())
	}
	if out.NRGBAAt(1, 0) != white || out.NRGBAAt(0, 0).A != 0 {
		t.Fatalf("pixels not rebased")
	}
}

func TestConverterMemoizes(t *testing.T) {
	c := New(fill(4, 4, color.NRGBA{R: 90, G: 90, B: 90, A: 0xff}), bw)
	var wg sync.WaitGroup
	results := make([]*image.NRGBA, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Convert(true)
		}(i)
	}
	wg.Wait()
	for _, r := range results[1:] {
		if r != results[0] {
			t.Fatalf("concurrent converts must share one result")
		}
	}
	if c.Convert(true) != results[0] {
		t.Fatalf("result not memoized")
	}
	if c.Convert(false) == results[0] {
		t.Fatalf("dithered and plain forms must differ")
	}
}
