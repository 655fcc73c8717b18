// Package imageconv maps true-colour images onto a board palette, with
// optional Floyd-Steinberg error diffusion.
package imageconv

import (
	"image"
	"image/color"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/Equbuxu/PixelPainter-sub000/pkg/canvas"
)

// Quantize returns a copy of src, rebased to the origin, where every opaque
// pixel holds its nearest palette colour by squared RGB distance. Fully
// transparent pixels stay transparent and mark "no target". With dither set,
// the per-channel error (working value minus chosen colour) is diffused to
// the unprocessed neighbours: 7/16 right, 3/16 lower-left, 5/16 below and
// 1/16 lower-right. Transparent or out-of-bounds neighbours receive nothing.
func Quantize(src image.Image, p canvas.Palette, dither bool) *image.NRGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return out
	}
	work := make([]float64, w*h*3)
	opaque := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			if c.A == 0 {
				continue
			}
			i := y*w + x
			opaque[i] = true
			work[i*3], work[i*3+1], work[i*3+2] = float64(c.R), float64(c.G), float64(c.B)
		}
	}
	spread := func(x, y int, er, eg, eb, f float64) {
		if x < 0 || x >= w || y >= h {
			return
		}
		i := y*w + x
		if !opaque[i] {
			return
		}
		work[i*3] += er * f
		work[i*3+1] += eg * f
		work[i*3+2] += eb * f
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if !opaque[i] {
				continue
			}
			r, g, bl := work[i*3], work[i*3+1], work[i*3+2]
			pc, ok := p.Color(p.Nearest(r, g, bl))
			if !ok {
				continue
			}
			out.SetNRGBA(x, y, pc)
			if !dither {
				continue
			}
			er, eg, eb := r-float64(pc.R), g-float64(pc.G), bl-float64(pc.B)
			spread(x+1, y, er, eg, eb, 7.0/16)
			spread(x-1, y+1, er, eg, eb, 3.0/16)
			spread(x, y+1, er, eg, eb, 5.0/16)
			spread(x+1, y+1, er, eg, eb, 1.0/16)
		}
	}
	return out
}

// Usage counts how many pixels of img use each palette index. Pixels
// without a palette colour are not counted.
func Usage(img *image.NRGBA, p canvas.Palette) []int {
	counts := make([]int, p.Len())
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if i, ok := p.Index(img.NRGBAAt(x, y)); ok {
				counts[i]++
			}
		}
	}
	return counts
}

// Converter memoizes the quantized forms of one source image. Concurrent
// callers asking for the same form share a single computation. Returned
// images are shared and must not be modified.
type Converter struct {
	src     image.Image
	palette canvas.Palette
	group   singleflight.Group

	mu   sync.Mutex
	memo map[bool]*image.NRGBA
}

func New(src image.Image, p canvas.Palette) *Converter {
	return &Converter{src: src, palette: p, memo: make(map[bool]*image.NRGBA, 2)}
}

// Convert returns the quantized image, dithered or not.
func (c *Converter) Convert(dither bool) *image.NRGBA {
	c.mu.Lock()
	img, ok := c.memo[dither]
	c.mu.Unlock()
	if ok {
		return img
	}
	v, _, _ := c.group.Do(strconv.FormatBool(dither), func() (any, error) {
		c.mu.Lock()
		img, ok := c.memo[dither]
		c.mu.Unlock()
		if ok {
			return img, nil
		}
		img = Quantize(c.src, c.palette, dither)
		c.mu.Lock()
		c.memo[dither] = img
		c.mu.Unlock()
		return img, nil
	})
	return v.(*image.NRGBA)
}
