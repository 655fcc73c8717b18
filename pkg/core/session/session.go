// Package session buffers one identity's corrections and flushes them in
// single-colour batches paced to the service cooldown.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Equbuxu/PixelPainter-sub000/pkg/canvas"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/transport"
)

// Sender is the part of a transport connection a Session drives.
type Sender interface {
	State() transport.State
	AckMark() uint64
	SendPixels(ctx context.Context, pixels []canvas.IdPixel) error
	WaitAck(ctx context.Context, mark uint64) error
}

// Options configure a Session. Zero values fall back to the defaults.
type Options struct {
	BatchSize    int
	MinDelay     time.Duration
	IdleInterval time.Duration
	Speed        float64
	MinSpeed     float64
	MaxSpeed     float64
	Logger       *zap.Logger
	// OnBatch observes every send attempt with its size and result.
	OnBatch func(n int, err error)
}

const (
	DefaultBatchSize    = 28
	DefaultIdleInterval = 250 * time.Millisecond
	DefaultSpeed        = 20
)

func (o *Options) withDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.IdleInterval <= 0 {
		o.IdleInterval = DefaultIdleInterval
	}
	if o.Speed <= 0 {
		o.Speed = DefaultSpeed
	}
	if o.Logger == nil {
		o.Logger = zap.L()
	}
	if o.OnBatch == nil {
		o.OnBatch = func(int, error) {}
	}
}

// Session owns the queue and pacing loop of one identity.
type Session struct {
	id     string
	sender Sender
	opts   Options
	queue  *Queue
	pacer  *Pacer
	log    *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	closed  bool
	done    chan struct{}
}

// New builds an idle session for identity id.
func New(id string, sender Sender, opts Options) *Session {
	opts.withDefaults()
	return &Session{
		id:     id,
		sender: sender,
		opts:   opts,
		queue:  NewQueue(),
		pacer:  NewPacer(opts.BatchSize, opts.Speed, opts.MinSpeed, opts.MaxSpeed, opts.MinDelay),
		log:    opts.Logger.With(zap.String("identity", id)),
		done:   make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

// Start runs the pacing loop until ctx is cancelled or Close is called.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Close stops the pacing loop and returns the pixels still queued. It does
// not wait for a batch already in flight; Done reports when the loop exits.
func (s *Session) Close() []canvas.IdPixel {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		if s.cancel != nil {
			s.cancel()
		} else {
			close(s.done)
		}
	}
	s.mu.Unlock()
	return s.queue.Drain()
}

// Done is closed once the pacing loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Enqueue appends corrections.
func (s *Session) Enqueue(px ...canvas.IdPixel) { s.queue.Push(px...) }

// EnqueueFront inserts corrections ahead of the backlog.
func (s *Session) EnqueueFront(px ...canvas.IdPixel) { s.queue.PushFront(px...) }

func (s *Session) Len() int { return s.queue.Len() }

// Clear drops the backlog and returns its size.
func (s *Session) Clear() int { return s.queue.Clear() }

// Stall delays the next send once by d.
func (s *Session) Stall(d time.Duration) { s.pacer.Stall(d) }

// SetSpeed changes the target speed and returns the clamped value.
func (s *Session) SetSpeed(pps float64) float64 { return s.pacer.SetSpeed(pps) }

// Delay exposes the current pacing delay.
func (s *Session) Delay() time.Duration { return s.pacer.Delay() }

func (s *Session) loop(ctx context.Context) {
	defer close(s.done)
	for {
		if ctx.Err() != nil {
			return
		}
		if s.queue.Len() == 0 || s.sender.State() != transport.StateOpen {
			s.idle(ctx)
			continue
		}
		if !sleep(ctx, s.pacer.Until(time.Now())) {
			return
		}
		if !sleep(ctx, s.pacer.TakeStall()) {
			return
		}
		batch := s.queue.TakeBatch(s.opts.BatchSize)
		if len(batch) == 0 {
			continue
		}
		s.send(ctx, batch)
	}
}

func (s *Session) idle(ctx context.Context) {
	t := time.NewTimer(s.opts.IdleInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	case <-s.queue.Ready():
		// The transport may still be connecting; keep the idle spacing.
		if s.sender.State() != transport.StateOpen {
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		}
	}
}

// send flushes one batch. The send itself is not interrupted by Close;
// failed pixels are dropped and rediscovered by a later queue rebuild.
func (s *Session) send(ctx context.Context, batch []canvas.IdPixel) {
	mark := s.sender.AckMark()
	s.pacer.Sent(len(batch), time.Now())
	err := s.sender.SendPixels(context.WithoutCancel(ctx), batch)
	if err == nil {
		if aerr := s.sender.WaitAck(ctx, mark); aerr != nil && ctx.Err() == nil {
			s.log.Debug("batch not acknowledged", zap.Error(aerr))
		}
	} else {
		s.log.Warn("batch failed", zap.Int("pixels", len(batch)), zap.Int("color", batch[0].Color), zap.Error(err))
	}
	s.pacer.Acked(time.Now())
	s.opts.OnBatch(len(batch), err)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
