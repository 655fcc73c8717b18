package placement

import (
	"image"
	"image/color"
	"math/rand/v2"
	"testing"

	"github.com/Equbuxu/PixelPainter-sub000/pkg/canvas"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/snapshot"
)

var testPalette = canvas.NewPalette([]color.NRGBA{
	{A: 0xff},
	{R: 0xff, A: 0xff},
	{G: 0xff, A: 0xff},
	{B: 0xff, A: 0xff},
	{R: 0xff, G: 0xff, B: 0xff, A: 0xff},
})

func paletteColor(i int) color.NRGBA {
	c, _ := testPalette.Color(i)
	return c
}

// imageOf builds a target from rows of palette indices; -1 is transparent.
func imageOf(rows ...[]int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, len(rows[0]), len(rows)))
	for y, row := range rows {
		for x, c := range row {
			if c >= 0 {
				img.SetNRGBA(x, y, paletteColor(c))
			}
		}
	}
	return img
}

func blankMirror(w, h, c int) *canvas.Mirror {
	m := canvas.NewMirror(7, w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m.Set(x, y, c)
		}
	}
	return m
}

// mirrorOf builds a board from rows of palette indices.
func mirrorOf(rows ...[]int) *canvas.Mirror {
	m := canvas.NewMirror(7, len(rows[0]), len(rows))
	for y, row := range rows {
		for x, c := range row {
			m.Set(x, y, c)
		}
	}
	return m
}

// fill returns an n x n grid of colour c.
func fill(n, c int) [][]int {
	rows := make([][]int, n)
	for y := range rows {
		rows[y] = make([]int, n)
		for x := range rows[y] {
			rows[y][x] = c
		}
	}
	return rows
}

func task(id string, img *image.NRGBA, x, y int) snapshot.Task {
	return snapshot.Task{ID: id, Image: img, X: x, Y: y, Enabled: true}
}

func assertSingleColour(t *testing.T, q []canvas.IdPixel) {
	t.Helper()
	for _, p := range q {
		if p.Color != q[0].Color {
			t.Fatalf("queue mixes colours %d and %d", q[0].Color, p.Color)
		}
	}
}

func TestTopDownCapsAndSingleColour(t *testing.T) {
	rows := make([][]int, 30)
	for y := range rows {
		rows[y] = make([]int, 30)
		for x := range rows[y] {
			rows[y][x] = 1 + (x+y)%2
		}
	}
	in := Input{Tasks: []snapshot.Task{task("big", imageOf(rows...), 0, 0)}, Mirror: blankMirror(40, 40, 0), Palette: testPalette}
	st := NewState(1)
	st.Tick()
	res := Build(TopDown, in, st)
	if len(res.Queue) == 0 || len(res.Queue) > DefaultLimit {
		t.Fatalf("queue size %d outside (0, %d]", len(res.Queue), DefaultLimit)
	}
	assertSingleColour(t, res.Queue)
	if res.Queue[0] != (canvas.IdPixel{Color: 1, X: 0, Y: 0}) {
		t.Fatalf("first differing pixel must lead, got %+v", res.Queue[0])
	}
	if len(res.Completed) != 0 {
		t.Fatalf("unfinished task reported complete")
	}
}

func TestTopDownShardsWithoutOverlap(t *testing.T) {
	img := imageOf([]int{2, 2, 2, 2, 2})
	st := NewState(1)
	mirror := blankMirror(5, 1, 0)
	seen := map[int]int{}
	st.Tick()
	for shard := 0; shard < 2; shard++ {
		res := Build(TopDown, Input{Tasks: []snapshot.Task{task("a", img, 0, 0)}, Mirror: mirror, Palette: testPalette, Shard: shard, Shards: 2}, st)
		for _, p := range res.Queue {
			seen[p.X]++
			if p.X%2 != shard {
				t.Fatalf("pixel %d landed on shard %d", p.X, shard)
			}
		}
	}
	if len(seen) != 5 {
		t.Fatalf("shards must cover every pixel, got %v", seen)
	}
	for x, n := range seen {
		if n != 1 {
			t.Fatalf("pixel %d queued %d times", x, n)
		}
	}
}

func TestTopDownDebounce(t *testing.T) {
	in := Input{Tasks: []snapshot.Task{task("a", imageOf([]int{1, 1}), 0, 0)}, Mirror: blankMirror(2, 1, 0), Palette: testPalette, TaskWindow: 2}
	st := NewState(1)
	build := func() int {
		st.Tick()
		return len(Build(TopDown, in, st).Queue)
	}
	if got := build(); got != 2 {
		t.Fatalf("first build: want 2, got %d", got)
	}
	if got := build(); got != 0 {
		t.Fatalf("debounced build: want 0, got %d", got)
	}
	if got := build(); got != 2 {
		t.Fatalf("after the window: want 2, got %d", got)
	}
	st.Reset()
	if got := build(); got != 2 {
		t.Fatalf("after reset: want 2, got %d", got)
	}
}

func TestTopDownDebounceCountsIterationsNotBuilds(t *testing.T) {
	img := imageOf([]int{1, 1, 1, 1})
	mirror := blankMirror(4, 1, 0)
	st := NewState(1)
	iteration := func() int {
		st.Tick()
		n := 0
		for shard := 0; shard < 4; shard++ {
			in := Input{Tasks: []snapshot.Task{task("a", img, 0, 0)}, Mirror: mirror, Palette: testPalette, Shard: shard, Shards: 4, TaskWindow: 4}
			n += len(Build(TopDown, in, st).Queue)
		}
		return n
	}
	if got := iteration(); got != 4 {
		t.Fatalf("iteration 1: want 4, got %d", got)
	}
	for i := 2; i <= 4; i++ {
		if got := iteration(); got != 0 {
			t.Fatalf("iteration %d: window of 4 iterations must hold with 4 identities, got %d", i, got)
		}
	}
	if got := iteration(); got != 4 {
		t.Fatalf("iteration 5: want 4 after the window, got %d", got)
	}
}

func TestTopDownShardsShareFirstColour(t *testing.T) {
	img := imageOf([]int{2, 1, 1, 1})
	mirror := blankMirror(4, 1, 0)
	st := NewState(1)
	st.Tick()
	var queues [2][]canvas.IdPixel
	for shard := range queues {
		in := Input{Tasks: []snapshot.Task{task("a", img, 0, 0)}, Mirror: mirror, Palette: testPalette, Shard: shard, Shards: 2}
		queues[shard] = Build(TopDown, in, st).Queue
	}
	if len(queues[0]) != 1 || queues[0][0] != (canvas.IdPixel{Color: 2, X: 0}) {
		t.Fatalf("shard 0: want the first differing pixel, got %v", queues[0])
	}
	if len(queues[1]) != 0 {
		t.Fatalf("shard 1 must keep to the first differing colour, got %v", queues[1])
	}
	// Once (0,0) was tried, the next iteration moves on to colour 1.
	st.Tick()
	in := Input{Tasks: []snapshot.Task{task("a", img, 0, 0)}, Mirror: mirror, Palette: testPalette, Shard: 1, Shards: 2}
	got := Build(TopDown, in, st).Queue
	if len(got) != 2 || got[0].Color != 1 || got[0].X != 1 || got[1].X != 3 {
		t.Fatalf("shard 1 next iteration: want (1,0) and (3,0) in colour 1, got %v", got)
	}
}

func TestTopDownSkipsProtectedOffBoardAndUnknownColours(t *testing.T) {
	img := imageOf([]int{1, 1, -1, 1})
	img.SetNRGBA(1, 0, color.NRGBA{R: 1, G: 2, B: 3, A: 0xff}) // not in the palette
	mask := canvas.Unprotected(3, 1)
	mask.Protect(0, 0)
	in := Input{Tasks: []snapshot.Task{task("a", img, 0, 0)}, Mirror: blankMirror(3, 1, 0), Mask: mask, Palette: testPalette}
	st := NewState(1)
	st.Tick()
	res := Build(TopDown, in, st)
	// (0,0) protected, (1,0) unknown colour, (2,0) transparent, (3,0) off board.
	if len(res.Queue) != 0 {
		t.Fatalf("want nothing queued, got %+v", res.Queue)
	}
	if len(res.Completed) != 1 {
		t.Fatalf("a task with nothing fixable left is complete")
	}
}

func TestTopDownCompletion(t *testing.T) {
	img := imageOf([]int{1, 1})
	mirror := blankMirror(4, 1, 1)
	once := task("once", img, 0, 0)
	again := task("again", img, 2, 0)
	again.Repeat = true
	res := Build(TopDown, Input{Tasks: []snapshot.Task{once, again}, Mirror: mirror, Palette: testPalette}, NewState(1))
	if len(res.Completed) != 1 || res.Completed[0] != "once" {
		t.Fatalf("want only the one-shot task completed, got %v", res.Completed)
	}
}

func TestManualComesFirst(t *testing.T) {
	in := Input{
		Tasks:   []snapshot.Task{task("a", imageOf([]int{1, 3, 3}), 0, 0)},
		Manual:  []snapshot.ManualPixel{{X: 4, Y: 0, Color: 3}, {X: 5, Y: 0, Color: 0}, {X: 3, Y: 0, Color: 99}},
		Mirror:  blankMirror(6, 1, 0),
		Palette: testPalette,
	}
	res := Build(TopDown, in, NewState(1))
	want := []canvas.IdPixel{{Color: 3, X: 4}, {Color: 3, X: 1}, {Color: 3, X: 2}}
	if len(res.Queue) != len(want) {
		t.Fatalf("want %v, got %v", want, res.Queue)
	}
	for i := range want {
		if res.Queue[i] != want[i] {
			t.Fatalf("want %v, got %v", want, res.Queue)
		}
	}
	if len(res.Satisfied) != 1 || res.Satisfied[0].X != 5 {
		t.Fatalf("want (5,0) satisfied, got %v", res.Satisfied)
	}
}

func TestMajorityStrictNeighbourhood(t *testing.T) {
	board := mirrorOf(
		[]int{1, 1, 1},
		[]int{1, 2, 1},
		[]int{1, 1, 3},
	)
	if got := majority(board, nil, testPalette, 1, 1); got != 1 {
		t.Fatalf("want majority 1, got %d", got)
	}
	if got := majority(mirrorOf([]int{1, 2}), nil, testPalette, 1, 0); got != canvas.NoColor {
		t.Fatalf("a tie has no majority, got %d", got)
	}
	mask := canvas.Unprotected(3, 1)
	mask.Protect(0, 0)
	mask.Protect(2, 0)
	if got := majority(mirrorOf([]int{1, 2, 1}), mask, testPalette, 1, 0); got != 2 {
		t.Fatalf("protected cells must not vote, got %d", got)
	}
	unknown := mirrorOf([]int{1, 2, 2})
	unknown.Set(1, 0, canvas.NoColor)
	unknown.Set(2, 0, canvas.NoColor)
	if got := majority(unknown, nil, testPalette, 1, 0); got != 1 {
		t.Fatalf("unknown cells must not vote, got %d", got)
	}
}

func TestMajorityNeverDiffersFromStrictMajority(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for round := 0; round < 500; round++ {
		rows := [][]int{make([]int, 3), make([]int, 3), make([]int, 3)}
		counts := map[int]int{}
		for y := range rows {
			for x := range rows[y] {
				c := rng.IntN(testPalette.Len())
				rows[y][x] = c
				counts[c]++
			}
		}
		winner := canvas.NoColor
		for c, n := range counts {
			if n >= 5 {
				winner = c
			}
		}
		if got := majority(mirrorOf(rows...), nil, testPalette, 1, 1); got != winner {
			t.Fatalf("round %d: strict majority %d, got %d (%v)", round, winner, got, rows)
		}
	}
}

func TestDenoiseFixesNoiseToMajority(t *testing.T) {
	target := imageOf(fill(3, 1)...)
	mirror := blankMirror(3, 3, 1)
	mirror.Set(1, 1, 2)
	res := Build(Denoise, Input{Tasks: []snapshot.Task{task("a", target, 0, 0)}, Mirror: mirror, Palette: testPalette}, NewState(1))
	if len(res.Queue) != 1 || res.Queue[0] != (canvas.IdPixel{Color: 1, X: 1, Y: 1}) {
		t.Fatalf("want the noisy centre fixed, got %+v", res.Queue)
	}
}

func TestDenoiseLeavesContestedAreas(t *testing.T) {
	target := imageOf(fill(7, 1)...)
	mirror := blankMirror(7, 7, 1)
	for y := 1; y <= 3; y++ {
		for x := 1; x <= 3; x++ {
			mirror.Set(x, y, 2)
		}
	}
	mirror.Set(5, 5, 2)
	res := Build(Denoise, Input{Tasks: []snapshot.Task{task("a", target, 0, 0)}, Mirror: mirror, Palette: testPalette}, NewState(1))
	got := map[canvas.IdPixel]bool{}
	for _, p := range res.Queue {
		got[p] = true
	}
	// The lone pixel and the block's corners sit in a red majority; the
	// block's centre and edge middles are held by green.
	want := []canvas.IdPixel{{Color: 1, X: 5, Y: 5}, {Color: 1, X: 1, Y: 1}, {Color: 1, X: 3, Y: 1}, {Color: 1, X: 1, Y: 3}, {Color: 1, X: 3, Y: 3}}
	if len(got) != len(want) {
		t.Fatalf("want %v, got %v", want, res.Queue)
	}
	for _, p := range want {
		if !got[p] {
			t.Fatalf("want %+v queued, got %v", p, res.Queue)
		}
	}
	if got[canvas.IdPixel{Color: 1, X: 2, Y: 2}] {
		t.Fatalf("contested block centre must not be re-fought")
	}
	if len(res.Completed) != 0 {
		t.Fatalf("task with differing cells reported complete")
	}

	taken := Build(Denoise, Input{Tasks: []snapshot.Task{task("b", target, 0, 0)}, Mirror: blankMirror(7, 7, 2), Palette: testPalette}, NewState(1))
	if len(taken.Queue) != 0 || len(taken.Completed) != 0 {
		t.Fatalf("board held entirely by another colour: want no work and no completion, got %+v", taken)
	}
}

func TestDenoiseDrainsPendingList(t *testing.T) {
	target := imageOf(fill(5, 1)...)
	mirror := blankMirror(5, 5, 1)
	for _, c := range [][2]int{{0, 0}, {2, 0}, {4, 0}, {0, 2}, {2, 2}, {4, 2}, {0, 4}, {2, 4}, {4, 4}} {
		mirror.Set(c[0], c[1], 0)
	}
	in := Input{Tasks: []snapshot.Task{task("a", target, 0, 0)}, Mirror: mirror, Palette: testPalette, Limit: 4}
	st := NewState(1)
	taken := map[canvas.IdPixel]bool{}
	for _, want := range []int{4, 4, 1} {
		res := Build(Denoise, in, st)
		if len(res.Queue) != want {
			t.Fatalf("want %d, got %d", want, len(res.Queue))
		}
		for _, p := range res.Queue {
			if taken[p] {
				t.Fatalf("pixel %+v handed out twice before the list ran dry", p)
			}
			taken[p] = true
		}
	}
	// The list is exhausted, so the next build regenerates it.
	if got := len(Build(Denoise, in, st).Queue); got != 4 {
		t.Fatalf("regenerated list: want 4, got %d", got)
	}
}

func TestDenoiseCompletionAndForgottenTasks(t *testing.T) {
	st := NewState(1)
	res := Build(Denoise, Input{Tasks: []snapshot.Task{task("a", imageOf([]int{1, 1}), 0, 0)}, Mirror: blankMirror(2, 1, 1), Palette: testPalette}, st)
	if len(res.Completed) != 1 || len(res.Queue) != 0 {
		t.Fatalf("matching task must complete, got %+v", res)
	}
	in := Input{Tasks: []snapshot.Task{task("b", imageOf([]int{1, 1, 1, 1, 1}), 0, 0)}, Mirror: mirrorOf([]int{1, 0, 1, 0, 1}), Palette: testPalette, Limit: 1}
	Build(Denoise, in, st)
	if _, ok := st.pending["a"]; ok {
		t.Fatalf("pending list of a vanished task must be dropped")
	}
	if len(st.pending["b"]) != 1 {
		t.Fatalf("want one pending entry left for b, got %d", len(st.pending["b"]))
	}
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"": TopDown, "TopDown": TopDown, "top-down": TopDown, "denoise": Denoise} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Fatalf("%q: want %s, got %s (%v)", in, want, got, err)
		}
	}
	if _, err := ParseKind("spiral"); err == nil {
		t.Fatalf("expected error for unknown strategy")
	}
}
