package canvas

import (
	"image"
)

// Mirror is the local copy of one board's placed colours, stored as palette
// indices. It is not safe for concurrent mutation; the manager owns it.
type Mirror struct {
	board int
	w, h  int
	cells []int
}

// NewMirror returns a board-sized mirror with every cell set to NoColor.
func NewMirror(board, w, h int) *Mirror {
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	m := &Mirror{board: board, w: w, h: h, cells: make([]int, w*h)}
	for i := range m.cells {
		m.cells[i] = NoColor
	}
	return m
}

// MirrorFromImage maps a downloaded raster onto the palette. Colours missing
// from the palette become NoColor.
func MirrorFromImage(board int, img image.Image, p Palette) *Mirror {
	b := img.Bounds()
	m := NewMirror(board, b.Dx(), b.Dy())
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			if i, ok := p.Index(img.At(b.Min.X+x, b.Min.Y+y)); ok {
				m.cells[y*m.w+x] = i
			}
		}
	}
	return m
}

func (m *Mirror) Board() int  { return m.board }
func (m *Mirror) Width() int  { return m.w }
func (m *Mirror) Height() int { return m.h }

// In reports whether (x,y) lies on the board.
func (m *Mirror) In(x, y int) bool { return x >= 0 && y >= 0 && x < m.w && y < m.h }

// At returns the palette index at (x,y), NoColor when out of bounds or unknown.
func (m *Mirror) At(x, y int) int {
	if !m.In(x, y) {
		return NoColor
	}
	return m.cells[y*m.w+x]
}

// Set stores c at (x,y). Out of bounds writes are ignored and return false.
func (m *Mirror) Set(x, y, c int) bool {
	if !m.In(x, y) {
		return false
	}
	m.cells[y*m.w+x] = c
	return true
}

// Clone returns an independent copy.
func (m *Mirror) Clone() *Mirror {
	out := &Mirror{board: m.board, w: m.w, h: m.h, cells: make([]int, len(m.cells))}
	copy(out.cells, m.cells)
	return out
}
