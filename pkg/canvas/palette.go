// Package canvas holds the local model of a remote board: its palette, a
// mirror of the placed colours, the protection mask and the fetcher that
// downloads both rasters.
package canvas

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// NoColor marks a cell (or target) without a palette colour.
const NoColor = -1

// IdPixel is one atomic placement: palette index at canvas coordinates.
type IdPixel struct {
	Color int `json:"color"`
	X     int `json:"x"`
	Y     int `json:"y"`
}

// Palette is the ordered colour table of a board. Colours are addressed by
// their position. The zero value is an empty palette.
type Palette struct {
	colors []color.NRGBA
	index  map[uint32]int
}

// NewPalette builds a palette from the ordered colours. Duplicate RGB values
// keep the first index.
func NewPalette(colors []color.NRGBA) Palette {
	p := Palette{colors: make([]color.NRGBA, len(colors)), index: make(map[uint32]int, len(colors))}
	copy(p.colors, colors)
	for i, c := range colors {
		k := rgbKey(c.R, c.G, c.B)
		if _, ok := p.index[k]; !ok {
			p.index[k] = i
		}
	}
	return p
}

// ParsePalette parses "#rrggbb" (or "rrggbb") entries.
func ParsePalette(hex []string) (Palette, error) {
	colors := make([]color.NRGBA, 0, len(hex))
	for _, h := range hex {
		c, err := ParseHex(h)
		if err != nil {
			return Palette{}, err
		}
		colors = append(colors, c)
	}
	return NewPalette(colors), nil
}

// ParseHex parses one opaque "#rrggbb" colour.
func ParseHex(h string) (color.NRGBA, error) {
	s := strings.TrimPrefix(strings.TrimSpace(h), "#")
	if len(s) != 6 {
		return color.NRGBA{}, fmt.Errorf("canvas: bad colour %q", h)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("canvas: bad colour %q: %w", h, err)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

func rgbKey(r, g, b uint8) uint32 { return uint32(r)<<16 | uint32(g)<<8 | uint32(b) }

// Len returns the number of colours.
func (p Palette) Len() int { return len(p.colors) }

// Color returns the colour at index i.
func (p Palette) Color(i int) (color.NRGBA, bool) {
	if i < 0 || i >= len(p.colors) {
		return color.NRGBA{}, false
	}
	return p.colors[i], true
}

// Colors returns a copy of the colour table.
func (p Palette) Colors() []color.NRGBA {
	out := make([]color.NRGBA, len(p.colors))
	copy(out, p.colors)
	return out
}

// Index is the reverse lookup colour -> index on exact RGB. Fully transparent
// colours never match.
func (p Palette) Index(c color.Color) (int, bool) {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	if n.A == 0 {
		return NoColor, false
	}
	i, ok := p.index[rgbKey(n.R, n.G, n.B)]
	if !ok {
		return NoColor, false
	}
	return i, true
}

// Nearest returns the index with the smallest squared RGB distance. Ties keep
// the lower index. It returns NoColor for an empty palette.
func (p Palette) Nearest(r, g, b float64) int {
	best, bestDist := NoColor, 0.0
	for i, c := range p.colors {
		dr := r - float64(c.R)
		dg := g - float64(c.G)
		db := b - float64(c.B)
		d := dr*dr + dg*dg + db*db
		if best == NoColor || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// DefaultPalette is the service's colour table in index order.
var DefaultPalette = mustPalette(
	"#ffffff", "#c4c4c4", "#888888", "#555555", "#222222", "#000000",
	"#006600", "#22b14c", "#02be01", "#51e119", "#94e044", "#fbff5b",
	"#e5d900", "#e6be0c", "#e59500", "#a06a42", "#99530d", "#633c1f",
	"#6b0000", "#9f0000", "#e50000", "#ff3904", "#bb4f00", "#ff755f",
	"#ffc49f", "#ffdfcc", "#ffa7d1", "#cf6ee4", "#ec08ec", "#820080",
	"#5100ff", "#020763", "#0000ea", "#044bff", "#6583cf", "#36baff",
	"#0083c7", "#00d3dd", "#45ffc8",
)

func mustPalette(hex ...string) Palette {
	p, err := ParsePalette(hex)
	if err != nil {
		panic(err)
	}
	return p
}
