// Package placement turns target images, the board mirror and the
// protection mask into an ordered, single-colour correction list.
//
// Two strategies exist. TopDown scans targets in raster order and shards
// the work across identities. Denoise keeps a per-task backlog and only
// fixes board pixels that disagree with the majority of their board
// neighbourhood, leaving areas other painters hold to them.
package placement

import (
	"fmt"
	"image"
	"math/rand/v2"
	"strings"

	"github.com/Equbuxu/PixelPainter-sub000/pkg/canvas"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/snapshot"
)

// Kind selects a strategy.
type Kind int

const (
	TopDown Kind = iota
	Denoise
)

func (k Kind) String() string {
	switch k {
	case TopDown:
		return "topdown"
	case Denoise:
		return "denoise"
	default:
		return "unknown"
	}
}

// ParseKind accepts "topdown" (the default when empty) and "denoise".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "topdown", "top-down", "top_down":
		return TopDown, nil
	case "denoise":
		return Denoise, nil
	default:
		return TopDown, fmt.Errorf("placement: unknown strategy %q", s)
	}
}

const (
	DefaultLimit        = 200
	DefaultTaskWindow   = 20
	DefaultManualWindow = 8
)

// Input is everything one build looks at. Tasks and Manual are snapshot
// copies; Mirror and Mask are only read.
type Input struct {
	Tasks   []snapshot.Task
	Manual  []snapshot.ManualPixel
	Mirror  *canvas.Mirror
	Mask    *canvas.Mask
	Palette canvas.Palette
	// Shard of Shards selects this identity's share of top-down work.
	Shard, Shards int
	Limit         int
	// TaskWindow and ManualWindow are the debounce windows in iterations (see State.Tick).
	TaskWindow   int
	ManualWindow int
}

func (in *Input) normalize() {
	if in.Limit <= 0 {
		in.Limit = DefaultLimit
	}
	if in.Shards <= 0 {
		in.Shards = 1
	}
	if in.Shard < 0 || in.Shard >= in.Shards {
		in.Shard = 0
	}
	if in.TaskWindow <= 0 {
		in.TaskWindow = DefaultTaskWindow
	}
	if in.ManualWindow <= 0 {
		in.ManualWindow = DefaultManualWindow
	}
}

// Result is one build's output. Queue holds at most Limit pixels, all of
// one colour.
type Result struct {
	Queue []canvas.IdPixel
	// Completed lists non-repeat tasks with nothing left to fix.
	Completed []string
	// Satisfied lists manual pixels the board already shows.
	Satisfied []snapshot.ManualPixel
}

type point struct{ x, y int }

type entry struct{ x, y, color int }

// State carries what strategies remember between builds. It belongs to the
// manager goroutine and is not safe for concurrent use.
type State struct {
	iter       int
	window     int
	lastTried  map[point]int
	lastManual map[point]int
	pending    map[string][]entry
	rng        *rand.Rand
}

func NewState(seed uint64) *State {
	st := &State{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
	st.Reset()
	return st
}

// Tick advances the iteration counter the debounce windows are measured in.
// Call it once per pass over all identities, before their builds.
func (st *State) Tick() {
	st.iter++
	if st.iter%64 == 0 {
		st.prune(st.window)
	}
}

// Reset forgets debounce history and pending lists, as after a board switch.
// The iteration counter keeps running.
func (st *State) Reset() {
	st.lastTried = make(map[point]int)
	st.lastManual = make(map[point]int)
	st.pending = make(map[string][]entry)
}

// Build runs strategy k once for one identity.
func Build(k Kind, in Input, st *State) Result {
	in.normalize()
	if in.Mirror == nil {
		return Result{}
	}
	st.window = max(st.window, in.TaskWindow, in.ManualWindow)
	var res Result
	b := batch{limit: in.Limit, color: canvas.NoColor}
	manual(&in, st, &b, &res)
	switch k {
	case Denoise:
		denoise(&in, st, &b, &res)
	default:
		topDown(&in, st, &b, &res)
	}
	res.Queue = b.px
	return res
}

// batch collects one colour class up to limit.
type batch struct {
	limit int
	color int
	px    []canvas.IdPixel
}

func (b *batch) full() bool { return len(b.px) >= b.limit }

// commit fixes the colour class unless one is already set.
func (b *batch) commit(c int) {
	if b.color == canvas.NoColor {
		b.color = c
	}
}

// offer adds the pixel if it fits the committed colour, committing the
// colour on the first offer.
func (b *batch) offer(x, y, c int) bool {
	if b.full() {
		return false
	}
	b.commit(c)
	if c != b.color {
		return false
	}
	b.px = append(b.px, canvas.IdPixel{Color: c, X: x, Y: y})
	return true
}

// debounce reports whether p was tried in an earlier iteration still inside
// window, and whether it was already taken in the current one.
func (st *State) debounce(m map[point]int, p point, window int) (recent, now bool) {
	last, ok := m[p]
	if !ok {
		return false, false
	}
	if last == st.iter {
		return false, true
	}
	return st.iter-last < window, false
}

func (st *State) prune(window int) {
	for p, last := range st.lastTried {
		if st.iter-last >= window {
			delete(st.lastTried, p)
		}
	}
	for p, last := range st.lastManual {
		if st.iter-last >= window {
			delete(st.lastManual, p)
		}
	}
}

// manual processes overrides ahead of any task pixel. Like task pixels,
// the first candidate commits the colour for every shard.
func manual(in *Input, st *State, b *batch, res *Result) {
	k := 0
	for _, mp := range in.Manual {
		if !in.Mirror.In(mp.X, mp.Y) || mp.Color < 0 || mp.Color >= in.Palette.Len() {
			continue
		}
		if in.Mirror.At(mp.X, mp.Y) == mp.Color {
			res.Satisfied = append(res.Satisfied, mp)
			continue
		}
		if in.Mask.Protected(mp.X, mp.Y) {
			continue
		}
		mine := k%in.Shards == in.Shard
		k++
		p := point{mp.X, mp.Y}
		recent, now := st.debounce(st.lastManual, p, in.ManualWindow)
		if recent {
			continue
		}
		b.commit(mp.Color)
		if !mine || now {
			continue
		}
		if b.offer(mp.X, mp.Y, mp.Color) {
			st.lastManual[p] = st.iter
		}
	}
}

// target resolves the palette index wanted at image pixel (x, y), or
// NoColor for transparent pixels and colours outside the palette.
func target(img *image.NRGBA, p canvas.Palette, x, y int) int {
	c := img.NRGBAAt(x, y)
	if c.A == 0 {
		return canvas.NoColor
	}
	if i, ok := p.Index(c); ok {
		return i
	}
	return canvas.NoColor
}

// topDown scans every task in raster order. Differing pixels are numbered
// across all tasks and pixel k belongs to shard k mod Shards, so identities
// never duplicate work. The first differing pixel not tried recently commits
// the colour, whichever shard owns it, so all shards of one iteration agree.
func topDown(in *Input, st *State, b *batch, res *Result) {
	k := 0
	for _, t := range in.Tasks {
		if t.Image == nil {
			continue
		}
		r := t.Image.Bounds()
		diff := 0
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				want := target(t.Image, in.Palette, x, y)
				if want == canvas.NoColor {
					continue
				}
				cx, cy := t.X+x-r.Min.X, t.Y+y-r.Min.Y
				if !in.Mirror.In(cx, cy) || in.Mirror.At(cx, cy) == want || in.Mask.Protected(cx, cy) {
					continue
				}
				diff++
				mine := k%in.Shards == in.Shard
				k++
				p := point{cx, cy}
				recent, now := st.debounce(st.lastTried, p, in.TaskWindow)
				if recent {
					continue
				}
				b.commit(want)
				if !mine || now || b.full() {
					continue
				}
				if b.offer(cx, cy, want) {
					st.lastTried[p] = st.iter
				}
			}
		}
		if diff == 0 && !t.Repeat {
			res.Completed = append(res.Completed, t.ID)
		}
	}
}

// denoise drains per-task backlogs in shuffled task order. A backlog is
// rebuilt when the task is new or its list ran dry; entries that the board
// already matches or that became protected are discarded.
func denoise(in *Input, st *State, b *batch, res *Result) {
	live := make(map[string]bool, len(in.Tasks))
	order := make([]int, 0, len(in.Tasks))
	for i, t := range in.Tasks {
		if t.Image == nil {
			continue
		}
		live[t.ID] = true
		order = append(order, i)
	}
	for id := range st.pending {
		if !live[id] {
			delete(st.pending, id)
		}
	}
	st.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	for _, i := range order {
		t := in.Tasks[i]
		list, seen := st.pending[t.ID]
		fresh := !seen || len(list) == 0
		done := false
		if fresh {
			list, done = noiseList(t, in)
		}
		kept := make([]entry, 0, len(list))
		for _, e := range list {
			if !in.Mirror.In(e.x, e.y) || in.Mirror.At(e.x, e.y) == e.color || in.Mask.Protected(e.x, e.y) {
				continue
			}
			if !b.offer(e.x, e.y, e.color) {
				kept = append(kept, e)
			}
		}
		st.pending[t.ID] = kept
		if done && !t.Repeat {
			res.Completed = append(res.Completed, t.ID)
		}
	}
}

// noiseList lists the board cells under t that disagree with the majority
// colour of their board neighbourhood while that majority is what t wants
// there. Contested areas, where the board majority differs from the target,
// are left alone. done reports that the board already matches t everywhere
// it can be painted.
func noiseList(t snapshot.Task, in *Input) (out []entry, done bool) {
	done = true
	r := t.Image.Bounds()
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			want := target(t.Image, in.Palette, x, y)
			if want == canvas.NoColor {
				continue
			}
			cx, cy := t.X+x-r.Min.X, t.Y+y-r.Min.Y
			if !in.Mirror.In(cx, cy) || in.Mask.Protected(cx, cy) {
				continue
			}
			if in.Mirror.At(cx, cy) == want {
				continue
			}
			done = false
			if majority(in.Mirror, in.Mask, in.Palette, cx, cy) == want {
				out = append(out, entry{cx, cy, want})
			}
		}
	}
	return out, done
}

// majority returns the colour holding a strict majority of the known,
// unprotected board cells in the 3x3 neighbourhood of (x, y), centre
// included, or NoColor when no colour has one.
func majority(m *canvas.Mirror, mask *canvas.Mask, p canvas.Palette, x, y int) int {
	var (
		colors [9]int
		counts [9]int
		kinds  int
		total  int
	)
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			nx, ny := x+dx, y+dy
			if !m.In(nx, ny) || mask.Protected(nx, ny) {
				continue
			}
			c := m.At(nx, ny)
			if c < 0 || c >= p.Len() {
				continue
			}
			total++
			j := 0
			for j < kinds && colors[j] != c {
				j++
			}
			if j == kinds {
				colors[j] = c
				kinds++
			}
			counts[j]++
		}
	}
	for j := 0; j < kinds; j++ {
		if counts[j]*2 > total {
			return colors[j]
		}
	}
	return canvas.NoColor
}
