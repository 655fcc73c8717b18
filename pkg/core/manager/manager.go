// Package manager is the single coordinator of the painting engine. One
// goroutine owns the connection set, the board mirror and the protection
// mask, and runs a fixed pipeline every iteration: reconcile connections,
// distribute work, dispatch side-channel actions, drain inbound events and
// switch boards.
package manager

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Equbuxu/PixelPainter-sub000/pkg/activity"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/canvas"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/core/session"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/observability"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/placement"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/protocol"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/sink"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/snapshot"
)

// RasterSource downloads board state on a canvas switch.
type RasterSource interface {
	FetchRaster(ctx context.Context, board int, p canvas.Palette) (*canvas.Mirror, error)
	FetchMask(ctx context.Context, board int) (*canvas.Mask, error)
}

// Options configure a Manager. Dialer and Raster are required.
type Options struct {
	Dialer  Dialer
	Raster  RasterSource
	Palette canvas.Palette
	// Session is the template for every connection's session. Speed is
	// replaced by the snapshot setting when that is positive.
	Session    session.Options
	ErrorStall time.Duration

	Tick time.Duration
	// CreateSpacing is the minimum gap between connection creations;
	// negative disables it.
	CreateSpacing time.Duration
	LowWater      int
	QueueLimit    int
	TaskWindow    int
	ManualWindow  int
	InboxLimit    int
	// Strategy applies when the snapshot does not name one.
	Strategy placement.Kind
	// FetchRetry spaces raster downloads after a failed one.
	FetchRetry time.Duration

	Sink     sink.Sink
	Activity *activity.Store
	Metrics  *observability.Metrics
	Logger   *zap.Logger
}

const (
	DefaultTick          = 500 * time.Millisecond
	DefaultCreateSpacing = 2 * time.Second
	DefaultLowWater      = 50
	DefaultInboxLimit    = 256
	DefaultErrorStall    = 3 * time.Second
	DefaultFetchRetry    = 5 * time.Second
)

func (o *Options) withDefaults() {
	if o.Palette.Len() == 0 {
		o.Palette = canvas.DefaultPalette
	}
	if o.Tick <= 0 {
		o.Tick = DefaultTick
	}
	switch {
	case o.CreateSpacing == 0:
		o.CreateSpacing = DefaultCreateSpacing
	case o.CreateSpacing < 0:
		o.CreateSpacing = 0
	}
	if o.LowWater <= 0 {
		o.LowWater = DefaultLowWater
	}
	if o.QueueLimit <= 0 {
		o.QueueLimit = placement.DefaultLimit
	}
	if o.InboxLimit <= 0 {
		o.InboxLimit = DefaultInboxLimit
	}
	if o.ErrorStall <= 0 {
		o.ErrorStall = DefaultErrorStall
	}
	if o.FetchRetry <= 0 {
		o.FetchRetry = DefaultFetchRetry
	}
	if o.Sink == nil {
		o.Sink = sink.Discard
	}
	if o.Logger == nil {
		o.Logger = zap.L()
	}
}

var (
	ErrInboxFull       = errors.New("manager: inbox full")
	ErrEmptyMessage    = errors.New("manager: empty chat message")
	ErrUnknownIdentity = errors.New("manager: no live connection for identity")
)

// inbound is an event delivered by a connection's poll goroutine.
type inbound struct {
	connID   string
	identity string
	ev       protocol.Event
}

type chatAction struct {
	identity string
	text     string
	color    int
}

// Manager coordinates every connection. Create with New, then Run.
type Manager struct {
	opts    Options
	snap    *snapshot.Snapshot
	log     *zap.Logger
	limiter *rate.Limiter
	wake    chan struct{}

	// Owned by the Run goroutine.
	conns     *connSet
	board     int
	mirror    *canvas.Mirror
	mask      *canvas.Mask
	pstate    *placement.State
	kind      placement.Kind
	speed     float64
	lastFetch time.Time
	fetchErr  error

	inboxMu sync.Mutex
	events  []inbound
	actions []chatAction
	dropped uint64

	viewMu sync.RWMutex
	view   view
}

// New builds a Manager reading desired state from snap.
func New(snap *snapshot.Snapshot, opts Options) (*Manager, error) {
	if opts.Dialer == nil || opts.Raster == nil {
		return nil, errors.New("manager: dialer and raster source are required")
	}
	opts.withDefaults()
	limit := rate.Inf
	if opts.CreateSpacing > 0 {
		limit = rate.Every(opts.CreateSpacing)
	}
	return &Manager{
		opts:    opts,
		snap:    snap,
		log:     opts.Logger,
		limiter: rate.NewLimiter(limit, 1),
		wake:    make(chan struct{}, 1),
		conns:   newConnSet(),
		pstate:  placement.NewState(uint64(time.Now().UnixNano())),
		kind:    opts.Strategy,
	}, nil
}

// Wake schedules an iteration. Bursts collapse into one.
func (m *Manager) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run drives the pipeline until ctx is cancelled, then tears every
// connection down.
func (m *Manager) Run(ctx context.Context) error {
	cancel := m.snap.Subscribe(m.Wake)
	defer cancel()
	t := time.NewTicker(m.opts.Tick)
	defer t.Stop()
	m.log.Info("manager started", zap.Duration("tick", m.opts.Tick))
	for {
		m.iterate(ctx)
		select {
		case <-ctx.Done():
			m.teardownAll("shutdown")
			m.publishView()
			m.log.Info("manager stopped")
			return ctx.Err()
		case <-m.wake:
		case <-t.C:
		}
	}
}

// EnqueueChat queues a chat message for identity. An empty identity lets the
// manager pick the first open connection.
func (m *Manager) EnqueueChat(identity, text string, colorIndex int) error {
	if text == "" {
		return ErrEmptyMessage
	}
	m.inboxMu.Lock()
	if len(m.actions) >= m.opts.InboxLimit {
		m.inboxMu.Unlock()
		return ErrInboxFull
	}
	m.actions = append(m.actions, chatAction{identity: identity, text: text, color: colorIndex})
	m.inboxMu.Unlock()
	m.Wake()
	return nil
}

// deliver is called from poll goroutines.
func (m *Manager) deliver(in inbound) {
	m.inboxMu.Lock()
	if len(m.events) >= m.opts.InboxLimit {
		m.dropped++
		n := m.dropped
		m.inboxMu.Unlock()
		if n == 1 || n%100 == 0 {
			m.log.Warn("inbox full, dropping event", zap.Uint64("dropped", n))
		}
		return
	}
	m.events = append(m.events, in)
	m.inboxMu.Unlock()
	m.Wake()
}

func (m *Manager) takeInbox() ([]inbound, []chatAction) {
	m.inboxMu.Lock()
	defer m.inboxMu.Unlock()
	evs, acts := m.events, m.actions
	m.events, m.actions = nil, nil
	return evs, acts
}

// iterate runs the five phases in order.
func (m *Manager) iterate(ctx context.Context) {
	settings := m.snap.Settings()
	m.applySettings(settings)
	m.reconcile(ctx, settings)
	m.distribute()
	evs, acts := m.takeInbox()
	m.dispatchActions(ctx, acts)
	m.drain(evs)
	m.switchCanvas(ctx, settings)
	m.opts.Metrics.ObserveIteration()
	m.publishView()
}
