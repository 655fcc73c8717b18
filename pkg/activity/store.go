// Package activity tracks per-identity counters and which user last placed
// each board cell. Records live in the in-memory KV, CBOR encoded.
package activity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Equbuxu/PixelPainter-sub000/pkg/memkv"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/protocol"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/protocol/codec"
)

// IdentityStats is the running record of one identity.
type IdentityStats struct {
	ID            string `json:"id" cbor:"id"`
	Connection    string `json:"connection,omitempty" cbor:"connection,omitempty"`
	State         string `json:"state" cbor:"state"`
	PixelsSent    uint64 `json:"pixels_sent" cbor:"pixels_sent"`
	BatchesOK     uint64 `json:"batches_ok" cbor:"batches_ok"`
	BatchesFailed uint64 `json:"batches_failed" cbor:"batches_failed"`
	ChatSent      uint64 `json:"chat_sent" cbor:"chat_sent"`
	ErrorCodes    uint64 `json:"error_codes" cbor:"error_codes"`
	LastCode      int    `json:"last_code,omitempty" cbor:"last_code,omitempty"`
	LastError     string `json:"last_error,omitempty" cbor:"last_error,omitempty"`
	LastSend      int64  `json:"last_send_unix_ms,omitempty" cbor:"last_send_unix_ms,omitempty"`
	Updated       int64  `json:"updated_unix_ms" cbor:"updated_unix_ms"`
}

// Placement is the last known placement on one cell.
type Placement struct {
	Board  int   `json:"board" cbor:"board"`
	X      int   `json:"x" cbor:"x"`
	Y      int   `json:"y" cbor:"y"`
	Color  int   `json:"color" cbor:"color"`
	UserID int   `json:"user_id" cbor:"user_id"`
	Seen   int64 `json:"seen_unix_ms" cbor:"seen_unix_ms"`
}

const DefaultPlacementTTL = 30 * time.Minute

// Store is safe for concurrent use.
type Store struct {
	kv    *memkv.Store
	codec codec.Codec
	ttl   time.Duration
	nowFn func() time.Time
}

// NewStore keeps placements for ttl (DefaultPlacementTTL when <= 0).
func NewStore(kv *memkv.Store, ttl time.Duration) (*Store, error) {
	c, err := codec.CBOR()
	if err != nil {
		return nil, fmt.Errorf("activity: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultPlacementTTL
	}
	return &Store{kv: kv, codec: c, ttl: ttl, nowFn: time.Now}, nil
}

func keyIdentity(id string) string { return "id:" + id }

func keyPixel(board, x, y int) string { return fmt.Sprintf("px:%d:%d:%d", board, x, y) }

// update applies fn to the record of id inside a KV upsert, so concurrent
// recorders of one identity never lose a count.
func (s *Store) update(id string, fn func(*IdentityStats)) {
	if id == "" {
		return
	}
	ok := s.kv.Upsert(keyIdentity(id), 0, func(old []byte) []byte {
		var st IdentityStats
		if old != nil {
			if err := s.codec.Unmarshal(old, &st); err != nil {
				zap.L().Warn("activity record unreadable, resetting", zap.String("identity", id), zap.Error(err))
				st = IdentityStats{}
			}
		}
		st.ID = id
		fn(&st)
		st.Updated = s.nowFn().UnixMilli()
		b, err := s.codec.Marshal(st)
		if err != nil {
			zap.L().Warn("activity encode", zap.String("identity", id), zap.Error(err))
			return old
		}
		return b
	})
	if !ok {
		zap.L().Warn("activity store full", zap.String("identity", id))
	}
}

// RecordBatch counts one send attempt of n pixels.
func (s *Store) RecordBatch(id string, n int, err error) {
	s.update(id, func(st *IdentityStats) {
		if err != nil {
			st.BatchesFailed++
			st.LastError = err.Error()
			return
		}
		st.BatchesOK++
		st.PixelsSent += uint64(n)
		st.LastSend = s.nowFn().UnixMilli()
	})
}

// RecordState stores the connection state of an identity.
func (s *Store) RecordState(id, conn, state string, err error) {
	s.update(id, func(st *IdentityStats) {
		st.Connection = conn
		st.State = state
		if err != nil {
			st.LastError = err.Error()
		}
	})
}

func (s *Store) RecordChat(id string) {
	s.update(id, func(st *IdentityStats) { st.ChatSent++ })
}

// RecordErrorCode counts a non-fatal server error code.
func (s *Store) RecordErrorCode(id string, code int) {
	s.update(id, func(st *IdentityStats) {
		st.ErrorCodes++
		st.LastCode = code
	})
}

// Forget drops the record of an identity.
func (s *Store) Forget(id string) { s.kv.Delete(keyIdentity(id)) }

// Get returns the record of id.
func (s *Store) Get(id string) (IdentityStats, bool) {
	b, ok := s.kv.Get(keyIdentity(id))
	if !ok {
		return IdentityStats{}, false
	}
	var st IdentityStats
	if err := s.codec.Unmarshal(b, &st); err != nil {
		return IdentityStats{}, false
	}
	return st, true
}

// List returns all identity records sorted by id.
func (s *Store) List() []IdentityStats {
	keys := s.kv.Keys("id:")
	out := make([]IdentityStats, 0, len(keys))
	for _, k := range keys {
		if st, ok := s.Get(strings.TrimPrefix(k, "id:")); ok {
			out = append(out, st)
		}
	}
	return out
}

// RecordPlacements indexes broadcast pixel updates. Updates without a board
// id are filed under board.
func (s *Store) RecordPlacements(board int, pixels []protocol.PixelUpdate) {
	now := s.nowFn().UnixMilli()
	for _, p := range pixels {
		b := p.Board
		if b == 0 {
			b = board
		}
		rec := Placement{Board: b, X: p.X, Y: p.Y, Color: p.Color, UserID: p.UserID, Seen: now}
		data, err := s.codec.Marshal(rec)
		if err != nil {
			continue
		}
		s.kv.Set(keyPixel(b, p.X, p.Y), data, s.ttl)
	}
}

// ErrUnknownCell is returned by WhoPlaced when no placement is on record.
var ErrUnknownCell = errors.New("activity: no placement recorded")

// WhoPlaced returns the last recorded placement on a cell.
func (s *Store) WhoPlaced(board, x, y int) (Placement, error) {
	b, ok := s.kv.Get(keyPixel(board, x, y))
	if !ok {
		return Placement{}, ErrUnknownCell
	}
	var p Placement
	if err := s.codec.Unmarshal(b, &p); err != nil {
		return Placement{}, fmt.Errorf("activity: decode placement: %w", err)
	}
	return p, nil
}
