package manager

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Equbuxu/PixelPainter-sub000/pkg/canvas"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/core/session"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/placement"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/protocol"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/sink"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/snapshot"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/transport"
)

func (m *Manager) applySettings(st snapshot.Settings) {
	kind := m.opts.Strategy
	if st.Strategy != "" {
		k, err := placement.ParseKind(st.Strategy)
		if err != nil {
			m.log.Warn("ignoring strategy setting", zap.Error(err))
		} else {
			kind = k
		}
	}
	if kind != m.kind {
		m.log.Info("placement strategy changed", zap.Stringer("from", m.kind), zap.Stringer("to", kind))
		m.kind = kind
	}
	if st.Speed > 0 && st.Speed != m.speed {
		m.speed = st.Speed
		for _, c := range m.conns.list() {
			c.sess.SetSpeed(st.Speed)
		}
	}
}

// reconcile drops connections whose identity is gone, disabled or whose
// transport died, then creates connections for enabled identities without
// one, no faster than the creation limiter allows.
func (m *Manager) reconcile(ctx context.Context, st snapshot.Settings) {
	enabled := m.snap.EnabledIdentities()
	want := make(map[string]snapshot.Identity, len(enabled))
	for _, id := range enabled {
		want[id.ID] = id
	}
	for _, c := range m.conns.list() {
		id, ok := want[c.Identity.ID]
		switch {
		case !ok:
			m.drop(c, "disabled")
		case id != c.Identity:
			m.drop(c, "credentials-changed")
		case c.State().Closed():
			m.drop(c, "dead")
		}
	}
	if m.mirror == nil || m.board != st.CanvasID {
		return
	}
	for _, id := range enabled {
		if m.conns.forIdentity(id.ID) != nil {
			continue
		}
		if !m.limiter.Allow() {
			return
		}
		if err := m.create(ctx, id); err != nil {
			m.log.Warn("connection not created", zap.String("identity", id.ID), zap.Error(err))
		}
	}
}

func (m *Manager) create(ctx context.Context, id snapshot.Identity) error {
	connID := uuid.NewString()
	onEvent := func(ev protocol.Event) { m.deliver(inbound{connID: connID, identity: id.ID, ev: ev}) }
	onState := func(s transport.State, err error) { m.stateChanged(connID, id.ID, s, err) }
	link, err := m.opts.Dialer(id, m.board, onEvent, onState)
	if err != nil {
		return err
	}
	sopts := m.opts.Session
	if m.speed > 0 {
		sopts.Speed = m.speed
	}
	sopts.Logger = m.log
	sopts.OnBatch = func(n int, err error) {
		m.opts.Metrics.ObserveBatch(n, err)
		if m.opts.Activity != nil {
			m.opts.Activity.RecordBatch(id.ID, n, err)
		}
	}
	c := &Connection{
		ID:       connID,
		Identity: id,
		Board:    m.board,
		Created:  time.Now(),
		link:     link,
		sess:     session.New(id.ID, link, sopts),
	}
	m.conns.add(c)
	link.Start(ctx)
	c.sess.Start(ctx)
	m.opts.Metrics.ObserveCreated()
	m.log.Info("connection created", zap.String("identity", id.ID), zap.String("conn", connID), zap.Int("board", m.board))
	return nil
}

// drop clears the session, stops it and disconnects the transport.
func (m *Manager) drop(c *Connection, reason string) {
	c.sess.Clear()
	c.sess.Close()
	c.link.Disconnect()
	m.conns.remove(c)
	m.opts.Metrics.ObserveDropped(reason)
	m.log.Info("connection dropped", zap.String("identity", c.Identity.ID), zap.String("conn", c.ID), zap.String("reason", reason))
}

func (m *Manager) teardownAll(reason string) {
	for _, c := range m.conns.list() {
		m.drop(c, reason)
	}
}

func (m *Manager) stateChanged(connID, identity string, s transport.State, err error) {
	ev := sink.Event{Time: time.Now(), Kind: sink.KindState, Identity: identity, Connection: connID, State: s.String()}
	if err != nil {
		ev.Error = err.Error()
	}
	if m.opts.Activity != nil {
		m.opts.Activity.RecordState(identity, connID, s.String(), err)
	}
	m.opts.Sink.Publish(ev)
	m.Wake()
}

// distribute tops up every open connection whose backlog fell under the
// low-water mark. Open connections split top-down work by their position.
// Every call is one iteration for the placement debounce windows.
func (m *Manager) distribute() {
	m.pstate.Tick()
	if m.mirror == nil {
		return
	}
	var open []*Connection
	for _, c := range m.conns.list() {
		if c.open() {
			open = append(open, c)
		}
	}
	if len(open) == 0 {
		return
	}
	tasks := m.snap.EnabledTasks()
	manual := m.snap.ManualPixels()
	completed := make(map[string]bool)
	satisfied := make(map[snapshot.ManualPixel]bool)
	for i, c := range open {
		if c.sess.Len() >= m.opts.LowWater {
			continue
		}
		res := placement.Build(m.kind, placement.Input{
			Tasks:        tasks,
			Manual:       manual,
			Mirror:       m.mirror,
			Mask:         m.mask,
			Palette:      m.opts.Palette,
			Shard:        i,
			Shards:       len(open),
			Limit:        m.opts.QueueLimit,
			TaskWindow:   m.opts.TaskWindow,
			ManualWindow: m.opts.ManualWindow,
		}, m.pstate)
		m.opts.Metrics.ObserveQueueBuilt(len(res.Queue))
		c.sess.Enqueue(res.Queue...)
		for _, id := range res.Completed {
			completed[id] = true
		}
		for _, mp := range res.Satisfied {
			satisfied[mp] = true
		}
	}
	for id := range completed {
		if m.snap.RemoveTask(id) {
			m.log.Info("task complete", zap.String("task", id))
		}
	}
	if len(satisfied) > 0 {
		px := make([]snapshot.ManualPixel, 0, len(satisfied))
		for mp := range satisfied {
			px = append(px, mp)
		}
		m.snap.RemoveManual(px...)
	}
}

// dispatchActions sends queued chat messages synchronously. A chat applies
// the error stall to its identity's session.
func (m *Manager) dispatchActions(ctx context.Context, acts []chatAction) {
	for _, a := range acts {
		c := m.pickChatConn(a.identity)
		if c == nil {
			m.log.Warn("chat dropped", zap.String("identity", a.identity), zap.Error(ErrUnknownIdentity))
			continue
		}
		if err := c.link.SendChatMessage(ctx, a.text, a.color); err != nil {
			m.log.Warn("chat failed", zap.String("identity", c.Identity.ID), zap.Error(err))
			continue
		}
		c.sess.Stall(m.opts.ErrorStall)
		if m.opts.Activity != nil {
			m.opts.Activity.RecordChat(c.Identity.ID)
		}
	}
}

func (m *Manager) pickChatConn(identity string) *Connection {
	if identity != "" {
		c := m.conns.forIdentity(identity)
		if c == nil || !c.open() {
			return nil
		}
		return c
	}
	for _, c := range m.conns.list() {
		if c.open() {
			return c
		}
	}
	return nil
}

// drain applies inbound events. Broadcasts are taken from the authoritative
// connection only; error codes are per identity.
func (m *Manager) drain(evs []inbound) {
	for _, in := range evs {
		c := m.conns.get(in.connID)
		if c == nil {
			continue
		}
		m.opts.Metrics.ObserveEvent(in.ev.Kind.String())
		if in.ev.Kind == protocol.EventError {
			m.serverError(c, in.ev.Code)
			continue
		}
		auth, changed := m.conns.elect(c.ID)
		if changed {
			m.log.Info("event authority", zap.String("identity", c.Identity.ID), zap.String("conn", c.ID))
		}
		if !auth {
			continue
		}
		switch in.ev.Kind {
		case protocol.EventPixels:
			m.applyPixels(c, in.ev.Pixels)
		case protocol.EventChat:
			ev := sink.Event{Time: time.Now(), Kind: sink.KindChat, Identity: c.Identity.ID, Connection: c.ID, Board: m.board, Chat: in.ev.Chat}
			m.opts.Sink.Publish(ev)
		}
	}
}

func (m *Manager) serverError(c *Connection, code int) {
	c.sess.Stall(m.opts.ErrorStall)
	if m.opts.Activity != nil {
		m.opts.Activity.RecordErrorCode(c.Identity.ID, code)
	}
	m.opts.Sink.Publish(sink.Event{Time: time.Now(), Kind: sink.KindError, Identity: c.Identity.ID, Connection: c.ID, Board: m.board, Code: code})
}

// applyPixels writes broadcast placements of the active board into the
// mirror, skipping protected cells, and forwards a copy to the sink.
// Placements with a colour outside the palette are discarded.
func (m *Manager) applyPixels(c *Connection, px []protocol.PixelUpdate) {
	if m.mirror == nil || len(px) == 0 {
		return
	}
	mine := make([]protocol.PixelUpdate, 0, len(px))
	for _, p := range px {
		if p.Board != 0 && p.Board != m.board {
			continue
		}
		if p.Color < 0 || p.Color >= m.opts.Palette.Len() {
			m.log.Debug("placement outside palette", zap.Int("x", p.X), zap.Int("y", p.Y), zap.Int("color", p.Color))
			continue
		}
		mine = append(mine, p)
		if m.mask.Protected(p.X, p.Y) {
			continue
		}
		m.mirror.Set(p.X, p.Y, p.Color)
	}
	if len(mine) == 0 {
		return
	}
	if m.opts.Activity != nil {
		m.opts.Activity.RecordPlacements(m.board, mine)
	}
	m.opts.Sink.Publish(sink.Event{Time: time.Now(), Kind: sink.KindPixels, Identity: c.Identity.ID, Connection: c.ID, Board: m.board, Pixels: mine})
}

// switchCanvas replaces the mirror and mask when the desired board changed.
// Every connection is torn down before anything is fetched, so no
// connection for the new board can exist alongside one for the old.
func (m *Manager) switchCanvas(ctx context.Context, st snapshot.Settings) {
	want := st.CanvasID
	if want <= 0 {
		if m.board != 0 || m.mirror != nil {
			m.teardownAll("canvas-off")
			m.board, m.mirror, m.mask = 0, nil, nil
			m.pstate.Reset()
			m.log.Info("no active board")
		}
		return
	}
	if want == m.board && m.mirror != nil {
		return
	}
	if want == m.board && m.fetchErr != nil && time.Since(m.lastFetch) < m.opts.FetchRetry {
		return
	}
	if m.board != want {
		m.teardownAll("canvas-switch")
		m.pstate.Reset()
		m.log.Info("switching board", zap.Int("from", m.board), zap.Int("to", want))
	}
	m.board, m.mirror, m.mask = want, nil, nil
	m.lastFetch = time.Now()

	mirror, mask, err := m.fetch(ctx, want)
	m.fetchErr = err
	if err != nil {
		m.log.Warn("board raster fetch failed", zap.Int("board", want), zap.Error(err))
		return
	}
	m.mirror, m.mask = mirror, mask
	m.log.Info("board ready", zap.Int("board", want), zap.Int("w", mirror.Width()), zap.Int("h", mirror.Height()))
	m.Wake()
}

// fetch downloads raster and mask together. A mask failure or a mask of the
// wrong size falls back to an all-unprotected mask.
func (m *Manager) fetch(ctx context.Context, board int) (*canvas.Mirror, *canvas.Mask, error) {
	var (
		mirror  *canvas.Mirror
		mask    *canvas.Mask
		maskErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		mirror, err = m.opts.Raster.FetchRaster(gctx, board, m.opts.Palette)
		return err
	})
	g.Go(func() error {
		mask, maskErr = m.opts.Raster.FetchMask(gctx, board)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if maskErr != nil || mask == nil || !mask.Matches(mirror) {
		if maskErr != nil {
			m.log.Warn("protection mask unavailable, nothing protected", zap.Int("board", board), zap.Error(maskErr))
		}
		mask = canvas.Unprotected(mirror.Width(), mirror.Height())
	}
	return mirror, mask, nil
}
