package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Equbuxu/PixelPainter-sub000/pkg/canvas"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/transport"
)

func px(color, x, y int) canvas.IdPixel { return canvas.IdPixel{Color: color, X: x, Y: y} }

func TestQueueTakeBatchSingleColour(t *testing.T) {
	q := NewQueue()
	q.Push(px(1, 0, 0), px(2, 1, 0), px(1, 2, 0), px(1, 3, 0), px(2, 4, 0))
	b := q.TakeBatch(2)
	if len(b) != 2 || b[0] != px(1, 0, 0) || b[1] != px(1, 2, 0) {
		t.Fatalf("unexpected batch %v", b)
	}
	rest := q.Drain()
	want := []canvas.IdPixel{px(2, 1, 0), px(1, 3, 0), px(2, 4, 0)}
	if len(rest) != len(want) {
		t.Fatalf("want %v, got %v", want, rest)
	}
	for i := range want {
		if rest[i] != want[i] {
			t.Fatalf("order broken: want %v, got %v", want, rest)
		}
	}
	if q.TakeBatch(28) != nil {
		t.Fatalf("empty queue must yield no batch")
	}
}

func TestQueuePushFrontAndClear(t *testing.T) {
	q := NewQueue()
	q.Push(px(1, 0, 0))
	q.PushFront(px(3, 9, 9), px(4, 8, 8))
	if b := q.TakeBatch(28); len(b) != 1 || b[0] != px(3, 9, 9) {
		t.Fatalf("front insert not taken first: %v", b)
	}
	if n := q.Clear(); n != 2 {
		t.Fatalf("clear: want 2, got %d", n)
	}
	if q.Len() != 0 {
		t.Fatalf("queue not empty after clear")
	}
}

func TestBaseDelay(t *testing.T) {
	if got := BaseDelay(28, 14); got != 2*time.Second {
		t.Fatalf("want 2s, got %s", got)
	}
	if got := BaseDelay(28, 0); got != 0 {
		t.Fatalf("zero speed: want 0, got %s", got)
	}
}

func TestPacerDelayScalesWithBatchRatio(t *testing.T) {
	p := NewPacer(28, 28, 0, 0, 0)
	now := time.Now()
	p.Sent(28, now)
	full := p.Delay()
	if full != time.Second {
		t.Fatalf("full batch: want 1s, got %s", full)
	}
	p.Sent(14, now)
	if half := p.Delay(); half != full/2 {
		t.Fatalf("half batch: want %s, got %s", full/2, half)
	}
	p = NewPacer(28, 28, 0, 0, 800*time.Millisecond)
	p.Sent(1, now)
	if got := p.Delay(); got != 800*time.Millisecond {
		t.Fatalf("floor: want 800ms, got %s", got)
	}
}

func TestPacerAnchorsAtSendAckMidpoint(t *testing.T) {
	p := NewPacer(28, 28, 0, 0, 0)
	t0 := time.Now()
	if got := p.Until(t0); got != 0 {
		t.Fatalf("first send must not wait, got %s", got)
	}
	p.Sent(28, t0)
	p.Acked(t0.Add(200 * time.Millisecond))
	if got := p.Until(t0.Add(100 * time.Millisecond)); got != time.Second {
		t.Fatalf("want 1s from the midpoint, got %s", got)
	}
	if got := p.Until(t0.Add(2 * time.Second)); got != 0 {
		t.Fatalf("elapsed delay: want 0, got %s", got)
	}
}

func TestPacerSpeedClampAndStall(t *testing.T) {
	p := NewPacer(28, 1000, 1, 50, 0)
	if p.Speed() != 50 {
		t.Fatalf("want speed clamped to 50, got %v", p.Speed())
	}
	if got := p.SetSpeed(0.1); got != 1 {
		t.Fatalf("want speed clamped to 1, got %v", got)
	}
	p.Stall(time.Second)
	p.Stall(300 * time.Millisecond)
	if got := p.TakeStall(); got != time.Second {
		t.Fatalf("want longest stall, got %s", got)
	}
	if got := p.TakeStall(); got != 0 {
		t.Fatalf("stall must be one-shot, got %s", got)
	}
}

type fakeSender struct {
	mu      sync.Mutex
	state   transport.State
	err     error
	batches [][]canvas.IdPixel
}

func (f *fakeSender) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSender) AckMark() uint64 { return 0 }

func (f *fakeSender) SendPixels(_ context.Context, pixels []canvas.IdPixel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]canvas.IdPixel(nil), pixels...))
	return f.err
}

func (f *fakeSender) WaitAck(context.Context, uint64) error { return nil }

func (f *fakeSender) sent() [][]canvas.IdPixel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]canvas.IdPixel(nil), f.batches...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionFlushesSingleColourBatches(t *testing.T) {
	snd := &fakeSender{state: transport.StateOpen}
	var mu sync.Mutex
	total := 0
	s := New("a", snd, Options{Speed: 28000, IdleInterval: 5 * time.Millisecond, OnBatch: func(n int, err error) {
		mu.Lock()
		total += n
		mu.Unlock()
	}})
	for i := 0; i < 30; i++ {
		s.Enqueue(px(1, i, 0))
	}
	s.Enqueue(px(2, 0, 1), px(2, 1, 1))
	s.Start(context.Background())
	defer s.Close()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return total == 32
	})
	batches := snd.sent()
	if len(batches[0]) != 28 {
		t.Fatalf("first batch: want 28, got %d", len(batches[0]))
	}
	for _, b := range batches {
		if len(b) > DefaultBatchSize {
			t.Fatalf("batch too large: %d", len(b))
		}
		for _, p := range b {
			if p.Color != b[0].Color {
				t.Fatalf("batch mixes colours: %v", b)
			}
		}
	}
}

func TestSessionDropsFailedBatch(t *testing.T) {
	snd := &fakeSender{state: transport.StateOpen, err: errors.New("boom")}
	failed := make(chan error, 4)
	s := New("a", snd, Options{Speed: 28000, IdleInterval: 5 * time.Millisecond, OnBatch: func(_ int, err error) { failed <- err }})
	s.Enqueue(px(1, 0, 0), px(1, 1, 0))
	s.Start(context.Background())
	defer s.Close()
	select {
	case err := <-failed:
		if err == nil {
			t.Fatalf("want send error reported")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("batch never attempted")
	}
	if s.Len() != 0 {
		t.Fatalf("failed pixels must not be requeued, queue has %d", s.Len())
	}
}

func TestSessionWaitsForOpenTransportAndCloseReturnsBacklog(t *testing.T) {
	snd := &fakeSender{state: transport.StateConnecting}
	s := New("a", snd, Options{IdleInterval: 5 * time.Millisecond})
	s.Enqueue(px(1, 0, 0), px(2, 1, 1), px(3, 2, 2))
	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	if len(snd.sent()) != 0 {
		t.Fatalf("nothing may be sent before the transport is open")
	}
	left := s.Close()
	if len(left) != 3 {
		t.Fatalf("close: want 3 pixels back, got %d", len(left))
	}
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatalf("pacing loop did not exit")
	}
}

func TestSessionCloseBeforeStart(t *testing.T) {
	s := New("a", &fakeSender{}, Options{})
	s.Enqueue(px(1, 0, 0))
	if got := s.Close(); len(got) != 1 {
		t.Fatalf("want backlog returned, got %v", got)
	}
	<-s.Done()
	s.Start(context.Background())
}
