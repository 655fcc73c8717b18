package session

import (
	"sync"

	"github.com/Equbuxu/PixelPainter-sub000/pkg/canvas"
)

// Queue is an ordered pixel queue. One mutex covers every operation, so the
// manager can fill it while the pacing loop drains it.
type Queue struct {
	mu    sync.Mutex
	items []canvas.IdPixel
	// ready holds a token while the queue may have items.
	ready chan struct{}
}

func NewQueue() *Queue { return &Queue{ready: make(chan struct{}, 1)} }

// Push appends pixels at the back.
func (q *Queue) Push(px ...canvas.IdPixel) {
	if len(px) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, px...)
	q.mu.Unlock()
	q.signal()
}

// PushFront inserts pixels ahead of everything queued, keeping their order.
func (q *Queue) PushFront(px ...canvas.IdPixel) {
	if len(px) == 0 {
		return
	}
	q.mu.Lock()
	items := make([]canvas.IdPixel, 0, len(px)+len(q.items))
	items = append(items, px...)
	q.items = append(items, q.items...)
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready receives a token after pushes.
func (q *Queue) Ready() <-chan struct{} { return q.ready }

// Len returns the number of queued pixels.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops everything and returns how many pixels were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// Drain removes and returns everything queued.
func (q *Queue) Drain() []canvas.IdPixel {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// TakeBatch removes up to limit pixels sharing the head's colour, scanning
// from the head. Pixels of other colours keep their relative order.
func (q *Queue) TakeBatch(limit int) []canvas.IdPixel {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || limit <= 0 {
		return nil
	}
	color := q.items[0].Color
	batch := make([]canvas.IdPixel, 0, min(limit, len(q.items)))
	rest := q.items[:0]
	for _, px := range q.items {
		if px.Color == color && len(batch) < limit {
			batch = append(batch, px)
			continue
		}
		rest = append(rest, px)
	}
	clear(q.items[len(rest):])
	q.items = rest
	return batch
}
