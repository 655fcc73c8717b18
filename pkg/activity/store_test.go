package activity

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Equbuxu/PixelPainter-sub000/pkg/memkv"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/protocol"
)

func newStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	kv := memkv.New(memkv.Options{Shards: 8})
	t.Cleanup(kv.Close)
	s, err := NewStore(kv, ttl)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestIdentityCounters(t *testing.T) {
	s := newStore(t, 0)
	s.RecordState("alice", "c1", "open", nil)
	s.RecordBatch("alice", 28, nil)
	s.RecordBatch("alice", 5, nil)
	s.RecordBatch("alice", 3, errors.New("timeout"))
	s.RecordChat("alice")
	s.RecordErrorCode("alice", 11)
	s.RecordState("bob", "c2", "connecting", nil)

	st, ok := s.Get("alice")
	if !ok {
		t.Fatalf("alice not recorded")
	}
	if st.PixelsSent != 33 || st.BatchesOK != 2 || st.BatchesFailed != 1 {
		t.Fatalf("unexpected batch counters %+v", st)
	}
	if st.ChatSent != 1 || st.ErrorCodes != 1 || st.LastCode != 11 || st.LastError != "timeout" {
		t.Fatalf("unexpected counters %+v", st)
	}
	if st.Connection != "c1" || st.State != "open" || st.LastSend == 0 {
		t.Fatalf("unexpected state %+v", st)
	}

	list := s.List()
	if len(list) != 2 || list[0].ID != "alice" || list[1].ID != "bob" {
		t.Fatalf("unexpected list %+v", list)
	}
	s.Forget("bob")
	if _, ok := s.Get("bob"); ok {
		t.Fatalf("bob must be forgotten")
	}
}

func TestWhoPlaced(t *testing.T) {
	s := newStore(t, 50*time.Millisecond)
	s.RecordPlacements(7, []protocol.PixelUpdate{
		{X: 1, Y: 2, Color: 3, UserID: 44},
		{X: 1, Y: 2, Color: 5, UserID: 45, Board: 7},
		{X: 9, Y: 9, Color: 1, UserID: 46, Board: 6},
	})
	p, err := s.WhoPlaced(7, 1, 2)
	if err != nil {
		t.Fatalf("who placed: %v", err)
	}
	if p.UserID != 45 || p.Color != 5 {
		t.Fatalf("latest placement must win, got %+v", p)
	}
	if _, err := s.WhoPlaced(6, 9, 9); err != nil {
		t.Fatalf("explicit board id must be kept: %v", err)
	}
	time.Sleep(120 * time.Millisecond)
	if _, err := s.WhoPlaced(7, 1, 2); !errors.Is(err, ErrUnknownCell) {
		t.Fatalf("want ErrUnknownCell after ttl, got %v", err)
	}
}

func TestConcurrentRecordsKeepEveryCount(t *testing.T) {
	s := newStore(t, 0)
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.RecordChat("alice")
		}()
		go func() {
			defer wg.Done()
			s.RecordBatch("alice", 2, nil)
		}()
	}
	wg.Wait()
	st, ok := s.Get("alice")
	if !ok {
		t.Fatalf("alice not recorded")
	}
	if st.ChatSent != 40 || st.BatchesOK != 40 || st.PixelsSent != 80 {
		t.Fatalf("lost updates: %+v", st)
	}
}
