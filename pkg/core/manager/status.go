package manager

import (
	"time"

	"github.com/dustin/go-humanize"
)

// view is what Status reads outside the manager goroutine.
type view struct {
	board     int
	kind      string
	authority string
	conns     []*Connection
}

// ConnStatus describes one live connection.
type ConnStatus struct {
	ID        string `json:"id"`
	Identity  string `json:"identity"`
	Board     int    `json:"board"`
	State     string `json:"state"`
	Queued    int    `json:"queued"`
	Delay     string `json:"delay"`
	Age       string `json:"age"`
	Authority bool   `json:"authority,omitempty"`
}

// Status is a point-in-time summary of the manager.
type Status struct {
	Board       int          `json:"board"`
	Strategy    string       `json:"strategy"`
	Connections []ConnStatus `json:"connections"`
	Queued      int          `json:"queued"`
	Dropped     uint64       `json:"dropped_events"`
	DroppedText string       `json:"dropped_events_text"`
}

func (m *Manager) publishView() {
	conns := m.conns.list()
	queued := 0
	for _, c := range conns {
		queued += c.sess.Len()
	}
	m.opts.Metrics.SetLive(len(conns), queued)
	m.viewMu.Lock()
	m.view = view{board: m.board, kind: m.kind.String(), authority: m.conns.authority, conns: conns}
	m.viewMu.Unlock()
}

// Status reports the state as of the last iteration. Safe for concurrent
// use.
func (m *Manager) Status() Status {
	m.viewMu.RLock()
	v := m.view
	m.viewMu.RUnlock()
	m.inboxMu.Lock()
	dropped := m.dropped
	m.inboxMu.Unlock()

	st := Status{Board: v.board, Strategy: v.kind, Connections: make([]ConnStatus, 0, len(v.conns)), Dropped: dropped, DroppedText: humanize.Comma(int64(dropped))}
	now := time.Now()
	for _, c := range v.conns {
		n := c.sess.Len()
		st.Queued += n
		st.Connections = append(st.Connections, ConnStatus{
			ID:        c.ID,
			Identity:  c.Identity.ID,
			Board:     c.Board,
			State:     c.State().String(),
			Queued:    n,
			Delay:     c.sess.Delay().String(),
			Age:       humanize.RelTime(c.Created, now, "ago", "from now"),
			Authority: c.ID == v.authority,
		})
	}
	return st
}
