package sink

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

const DefaultBuffer = 1024

// Async forwards events to next from a single goroutine through a bounded
// buffer. Publish never blocks: when the buffer is full the event is dropped
// and counted.
type Async struct {
	next    Sink
	ch      chan Event
	done    chan struct{}
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

func NewAsync(next Sink, buffer int) *Async {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	a := &Async{next: next, ch: make(chan Event, buffer), done: make(chan struct{})}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.ch {
		a.next.Publish(ev)
	}
}

func (a *Async) Publish(ev Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.ch <- ev:
	default:
		if n := a.dropped.Add(1); n == 1 || n%1000 == 0 {
			zap.L().Warn("event sink saturated, dropping", zap.Uint64("dropped", n))
		}
	}
}

// Dropped reports how many events were discarded.
func (a *Async) Dropped() uint64 { return a.dropped.Load() }

// Close stops accepting events and waits until the buffer is delivered.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()
	<-a.done
}
