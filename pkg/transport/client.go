package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Equbuxu/PixelPainter-sub000/pkg/canvas"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/protocol"
)

// Credentials authenticate one identity.
type Credentials struct {
	AuthKey   string
	AuthToken string
	// Proxy is an optional http(s):// or socks5(h):// proxy URL.
	Proxy string
}

// Options tune a Client. Zero values fall back to the defaults below.
type Options struct {
	BaseURL        string
	Origin         string
	UserAgent      string
	Timeout        time.Duration
	PollInterval   time.Duration
	KeepaliveEvery int
	AckTimeout     time.Duration
	// FatalCodes lists throw.error codes that close the connection.
	FatalCodes []int
	Logger     *zap.Logger
	// HTTPClient overrides the client built from Timeout and Credentials.Proxy.
	HTTPClient *http.Client
}

const (
	DefaultTimeout        = 4 * time.Second
	DefaultPollInterval   = 900 * time.Millisecond
	DefaultKeepaliveEvery = 25
	DefaultAckTimeout     = 10 * time.Second
)

// DefaultFatalCodes are the error codes after which the service will not
// accept further actions on the session.
var DefaultFatalCodes = []int{1, 2, 3, 16}

func (o *Options) withDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.KeepaliveEvery <= 0 {
		o.KeepaliveEvery = DefaultKeepaliveEvery
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = DefaultAckTimeout
	}
	if o.FatalCodes == nil {
		o.FatalCodes = DefaultFatalCodes
	}
	if o.Logger == nil {
		o.Logger = zap.L()
	}
}

// Handler receives inbound pixel, chat and non-fatal error events in arrival
// order. It runs on the polling goroutine and must not block for long.
type Handler func(protocol.Event)

// StateFunc observes state transitions. err is set for StateClosedError.
type StateFunc func(State, error)

// Client is one long-polling session. Create with New, then Start.
type Client struct {
	opts    Options
	creds   Credentials
	board   int
	base    *url.URL
	http    *http.Client
	log     *zap.Logger
	onEvent Handler
	onState StateFunc

	state atomic.Int32
	seq   atomic.Uint64

	// sendMu serializes POSTs and is held for the whole handshake.
	sendMu sync.Mutex
	sid    string

	ackMu     sync.Mutex
	started   uint64
	completed uint64
	ackCh     chan struct{}

	stopping  atomic.Bool
	stopCh    chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once
	endOnce   sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error
}

// New validates options and builds an idle Client for board.
func New(opts Options, creds Credentials, board int, onEvent Handler, onState StateFunc) (*Client, error) {
	opts.withDefaults()
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("transport: bad base url %q", opts.BaseURL)
	}
	hc := opts.HTTPClient
	if hc == nil {
		if hc, err = NewHTTPClient(creds.Proxy, opts.Timeout); err != nil {
			return nil, err
		}
	}
	if onEvent == nil {
		onEvent = func(protocol.Event) {}
	}
	if onState == nil {
		onState = func(State, error) {}
	}
	return &Client{
		opts:    opts,
		creds:   creds,
		board:   board,
		base:    base,
		http:    hc,
		log:     opts.Logger.With(zap.Int("board", board)),
		onEvent: onEvent,
		onState: onState,
		ackCh:   make(chan struct{}),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// State returns the current state.
func (c *Client) State() State { return State(c.state.Load()) }

// Err returns the error that closed the connection, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Done is closed once the client reaches a terminal state.
func (c *Client) Done() <-chan struct{} { return c.done }

// Start launches the handshake and polling loop. Calling it more than once
// has no effect.
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		if !c.state.CompareAndSwap(int32(StateNotOpen), int32(StateConnecting)) {
			return
		}
		c.onState(StateConnecting, nil)
		go c.run(ctx)
	})
}

// Disconnect asks the polling loop to stop. It returns immediately; the
// loop notices the request at its next iteration, so shutdown is bounded
// by one in-flight poll.
func (c *Client) Disconnect() {
	c.stopping.Store(true)
	c.stopOnce.Do(func() { close(c.stopCh) })
	if c.state.CompareAndSwap(int32(StateNotOpen), int32(StateClosedByRequest)) {
		c.finish(StateClosedByRequest, nil)
	}
}

func (c *Client) run(ctx context.Context) {
	if err := c.handshake(ctx); err != nil {
		c.end(ctx, fmt.Errorf("handshake: %w", err))
		return
	}
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return
	}
	c.log.Debug("transport open", zap.String("sid", c.sid))
	c.onState(StateOpen, nil)

	for polls := 1; ; polls++ {
		if c.stopping.Load() || ctx.Err() != nil {
			c.sayGoodbye()
			c.end(ctx, nil)
			return
		}
		began := time.Now()
		if err := c.poll(ctx); err != nil {
			c.end(ctx, err)
			return
		}
		if polls%c.opts.KeepaliveEvery == 0 {
			if err := c.post(ctx, protocol.Ping()); err != nil {
				c.end(ctx, fmt.Errorf("keepalive: %w", err))
				return
			}
		}
		if wait := c.opts.PollInterval - time.Since(began); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-c.stopCh:
				t.Stop()
			case <-ctx.Done():
				t.Stop()
			}
		}
	}
}

// end moves to a terminal state. Failures observed after a stop request
// count as a requested close.
func (c *Client) end(ctx context.Context, err error) {
	if err == nil || c.stopping.Load() || ctx.Err() != nil {
		c.state.Store(int32(StateClosedByRequest))
		c.finish(StateClosedByRequest, nil)
		return
	}
	c.log.Warn("transport closed", zap.Error(err))
	c.state.Store(int32(StateClosedError))
	c.finish(StateClosedError, err)
}

func (c *Client) finish(s State, err error) {
	c.endOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
		c.onState(s, err)
	})
}

func (c *Client) handshake(ctx context.Context) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	body, err := c.do(ctx, http.MethodGet, "", nil)
	if err != nil {
		return err
	}
	pkts, err := protocol.DecodePayload(body)
	if err != nil {
		return err
	}
	if len(pkts) == 0 {
		return fmt.Errorf("%w: empty open response", ErrUnexpectedRsp)
	}
	hs, err := protocol.ParseHandshake(pkts[0])
	if err != nil {
		return err
	}
	c.sid = hs.SID

	hello, err := protocol.EventPacket(protocol.ActionInit, protocol.InitPayload{
		AuthKey:   c.creds.AuthKey,
		AuthToken: c.creds.AuthToken,
		BoardID:   c.board,
	})
	if err != nil {
		return err
	}
	if err := c.postLocked(ctx, hello); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err := c.poll(ctx); err != nil {
		return fmt.Errorf("backlog: %w", err)
	}
	return nil
}

// poll runs one blocking GET and dispatches what it returns.
func (c *Client) poll(ctx context.Context) error {
	c.ackMu.Lock()
	c.started++
	c.ackMu.Unlock()

	body, err := c.do(ctx, http.MethodGet, c.sid, nil)
	if err != nil {
		return err
	}
	pkts, err := protocol.DecodePayload(body)
	if err != nil {
		return err
	}
	for _, p := range pkts {
		if err := c.dispatch(p); err != nil {
			return err
		}
	}

	c.ackMu.Lock()
	c.completed++
	close(c.ackCh)
	c.ackCh = make(chan struct{})
	c.ackMu.Unlock()
	return nil
}

func (c *Client) dispatch(p protocol.Packet) error {
	switch p.Type {
	case protocol.PacketClose:
		return ErrServerClosed
	case protocol.PacketMessage:
		if p.Data == "" {
			return nil
		}
		switch p.Data[0] {
		case protocol.MessageDisconnect:
			return ErrServerClosed
		case protocol.MessageError:
			return fmt.Errorf("%w: %s", ErrServerClosed, p.Data[1:])
		case protocol.MessageEvent:
		default:
			return nil
		}
		ev, err := protocol.DecodeEvent(p.EventData())
		if err != nil {
			c.log.Debug("dropping undecodable event", zap.Error(err))
			return nil
		}
		switch ev.Kind {
		case protocol.EventError:
			if slices.Contains(c.opts.FatalCodes, ev.Code) {
				return &CodeError{Code: ev.Code}
			}
			c.log.Info("server error code", zap.Int("code", ev.Code))
			c.onEvent(ev)
		case protocol.EventPixels, protocol.EventChat:
			c.onEvent(ev)
		default:
			c.log.Debug("ignored event", zap.String("name", ev.Name))
		}
	}
	return nil
}

// sayGoodbye tells the service the session is over. Failures are ignored.
func (c *Client) sayGoodbye() {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)
	defer cancel()
	_ = c.post(ctx, protocol.Packet{Type: protocol.PacketClose})
}

// SendPixels posts one place action per pixel in a single request.
func (c *Client) SendPixels(ctx context.Context, pixels []canvas.IdPixel) error {
	if len(pixels) == 0 {
		return nil
	}
	pkts := make([]protocol.Packet, 0, len(pixels))
	for _, px := range pixels {
		p, err := protocol.EventPacket(protocol.ActionPlace, protocol.PlacePayload{X: px.X, Y: px.Y, Color: px.Color})
		if err != nil {
			return err
		}
		pkts = append(pkts, p)
	}
	return c.sendOpen(ctx, pkts...)
}

// SendChatMessage posts a chat line written in palette colour colorIndex.
func (c *Client) SendChatMessage(ctx context.Context, text string, colorIndex int) error {
	p, err := protocol.EventPacket(protocol.ActionChat, protocol.ChatPayload{Message: text, Color: colorIndex})
	if err != nil {
		return err
	}
	return c.sendOpen(ctx, p)
}

func (c *Client) sendOpen(ctx context.Context, pkts ...protocol.Packet) error {
	switch s := c.State(); {
	case s.Closed():
		return ErrClosed
	case s != StateOpen:
		return ErrNotOpen
	}
	return c.post(ctx, pkts...)
}

func (c *Client) post(ctx context.Context, pkts ...protocol.Packet) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.postLocked(ctx, pkts...)
}

func (c *Client) postLocked(ctx context.Context, pkts ...protocol.Packet) error {
	body, err := c.do(ctx, http.MethodPost, c.sid, protocol.EncodePayload(pkts...))
	if err != nil {
		return err
	}
	if s := string(bytes.TrimSpace(body)); s != "" && s != "ok" {
		return fmt.Errorf("%w: post answered %q", ErrUnexpectedRsp, truncate(s, 64))
	}
	return nil
}

// AckMark returns the mark to pass to WaitAck after a send.
func (c *Client) AckMark() uint64 {
	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	return c.started
}

// WaitAck blocks until a poll started after mark has completed.
func (c *Client) WaitAck(ctx context.Context, mark uint64) error {
	t := time.NewTimer(c.opts.AckTimeout)
	defer t.Stop()
	for {
		c.ackMu.Lock()
		acked := c.completed > mark
		ch := c.ackCh
		c.ackMu.Unlock()
		if acked {
			return nil
		}
		select {
		case <-ch:
		case <-c.done:
			return ErrClosed
		case <-t.C:
			return ErrAckTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) do(ctx context.Context, method, sid string, payload []byte) ([]byte, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(sid), rd)
	if err != nil {
		return nil, err
	}
	if c.opts.Origin != "" {
		req.Header.Set("Origin", c.opts.Origin)
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	}
	rsp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()
	body, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, err
	}
	if rsp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s status %d: %s", ErrUnexpectedRsp, method, rsp.StatusCode, truncate(string(body), 64))
	}
	return body, nil
}

func (c *Client) endpoint(sid string) string {
	u := *c.base
	q := u.Query()
	q.Set("EIO", "3")
	q.Set("transport", "polling")
	q.Set("t", c.token())
	if sid != "" {
		q.Set("sid", sid)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// token is a cache-busting request stamp.
func (c *Client) token() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + "." + strconv.FormatUint(c.seq.Add(1), 36)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
