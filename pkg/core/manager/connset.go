package manager

import (
	"sort"
	"time"

	"github.com/Equbuxu/PixelPainter-sub000/pkg/core/session"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/snapshot"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/transport"
)

// Connection pairs one Link with the Session feeding it.
type Connection struct {
	ID       string
	Identity snapshot.Identity
	Board    int
	Created  time.Time
	link     Link
	sess     *session.Session
}

func (c *Connection) State() transport.State { return c.link.State() }

func (c *Connection) open() bool { return c.link.State() == transport.StateOpen }

// connSet holds at most one Connection per identity and tracks which
// connection is authoritative for broadcast events. It belongs to the
// manager goroutine.
type connSet struct {
	byIdentity map[string]*Connection
	byID       map[string]*Connection
	authority  string
}

func newConnSet() *connSet {
	return &connSet{byIdentity: make(map[string]*Connection), byID: make(map[string]*Connection)}
}

func (s *connSet) len() int { return len(s.byIdentity) }

func (s *connSet) add(c *Connection) {
	s.byIdentity[c.Identity.ID] = c
	s.byID[c.ID] = c
}

func (s *connSet) forIdentity(id string) *Connection { return s.byIdentity[id] }

func (s *connSet) get(connID string) *Connection { return s.byID[connID] }

// remove forgets c. Losing the authority leaves the role vacant until the
// next event arrives.
func (s *connSet) remove(c *Connection) {
	delete(s.byIdentity, c.Identity.ID)
	delete(s.byID, c.ID)
	if s.authority == c.ID {
		s.authority = ""
	}
}

// list returns connections in identity order.
func (s *connSet) list() []*Connection {
	out := make([]*Connection, 0, len(s.byIdentity))
	for _, c := range s.byIdentity {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity.ID < out[j].Identity.ID })
	return out
}

// elect decides whether an event from connID is the one applied. The
// current authority keeps the role while it is live and not closed; otherwise
// the sender takes it over.
func (s *connSet) elect(connID string) (authoritative, changed bool) {
	if s.authority == connID {
		return true, false
	}
	if cur := s.byID[s.authority]; cur != nil && !cur.link.State().Closed() {
		return false, false
	}
	if s.byID[connID] == nil {
		return false, false
	}
	s.authority = connID
	return true, true
}
