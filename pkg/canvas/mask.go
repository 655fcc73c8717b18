package canvas

import (
	"image"
	"image/color"
)

// Mask marks the cells the service refuses to edit.
type Mask struct {
	w, h  int
	cells []bool
}

// Unprotected returns a mask of the given size with nothing protected.
func Unprotected(w, h int) *Mask {
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return &Mask{w: w, h: h, cells: make([]bool, w*h)}
}

// MaskFromImage marks every cell whose RGB equals sentinel.
func MaskFromImage(img image.Image, sentinel color.NRGBA) *Mask {
	b := img.Bounds()
	m := Unprotected(b.Dx(), b.Dy())
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			if c.A != 0 && c.R == sentinel.R && c.G == sentinel.G && c.B == sentinel.B {
				m.cells[y*m.w+x] = true
			}
		}
	}
	return m
}

func (m *Mask) Width() int  { return m.w }
func (m *Mask) Height() int { return m.h }

// Protected reports whether (x,y) is locked. Out of bounds is not protected;
// callers bound-check against the mirror.
func (m *Mask) Protected(x, y int) bool {
	if m == nil || x < 0 || y < 0 || x >= m.w || y >= m.h {
		return false
	}
	return m.cells[y*m.w+x]
}

// Protect locks (x,y).
func (m *Mask) Protect(x, y int) {
	if x < 0 || y < 0 || x >= m.w || y >= m.h {
		return
	}
	m.cells[y*m.w+x] = true
}

// Matches reports whether the mask has the mirror's dimensions.
func (m *Mask) Matches(mr *Mirror) bool {
	return m != nil && mr != nil && m.w == mr.w && m.h == mr.h
}
