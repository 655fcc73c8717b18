package memkv

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

func TestSetGetCopies(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	in := []byte("abc")
	if !s.Set("k1", in, 0) {
		t.Fatalf("Set rejected")
	}
	in[0] = 'X'
	v, ok := s.Get("k1")
	if !ok || string(v) != "abc" {
		t.Fatalf("Get mismatch: ok=%v v=%q", ok, v)
	}
	v[0] = 'Y'
	if v2, _ := s.Get("k1"); string(v2) != "abc" {
		t.Fatalf("returned slice must be a copy, got %q", v2)
	}
}

func TestExpireTTL(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	s.Set("k3", []byte("v"), 50*time.Millisecond)
	if _, ok := s.Get("k3"); !ok {
		t.Fatalf("expected key present before TTL")
	}
	time.Sleep(120 * time.Millisecond)
	if _, ok := s.Get("k3"); ok {
		t.Fatalf("expected key expired")
	}
	if st := s.Metrics(); st.Expired == 0 || st.Keys != 0 {
		t.Fatalf("want Expired > 0 and no keys, got %+v", st)
	}
}

func TestUpsert(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	incr := func(old []byte) []byte { return append(append([]byte(nil), old...), '+') }
	s.Upsert("n", 0, incr)
	s.Upsert("n", 0, incr)
	if v, _ := s.Get("n"); string(v) != "++" {
		t.Fatalf("want ++, got %q", v)
	}
	if st := s.Metrics(); st.Sets != 1 || st.Updates != 1 || st.Bytes != 2 {
		t.Fatalf("unexpected metrics %+v", st)
	}
}

func TestUpsertRecreatesExpiredKey(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	s.Set("k", []byte("old"), time.Nanosecond)
	time.Sleep(time.Millisecond)
	var seen []byte
	s.Upsert("k", 0, func(old []byte) []byte {
		seen = old
		return []byte("new")
	})
	if seen != nil {
		t.Fatalf("expired value leaked into upsert: %q", seen)
	}
	if v, ok := s.Get("k"); !ok || string(v) != "new" {
		t.Fatalf("want new, got %q %v", v, ok)
	}
	if st := s.Metrics(); st.Keys != 1 || st.Bytes != 3 {
		t.Fatalf("unexpected metrics %+v", st)
	}
}

func TestUpsertConcurrentNoLostWrites(t *testing.T) {
	s := New(Options{Shards: 2})
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Upsert("n", 0, func(old []byte) []byte { return append(append([]byte(nil), old...), '+') })
		}()
	}
	wg.Wait()
	if v, _ := s.Get("n"); len(v) != 64 {
		t.Fatalf("want 64 increments, got %d", len(v))
	}
}

func TestKeysPrefix(t *testing.T) {
	s := New(Options{Shards: 4})
	defer s.Close()
	s.Set("id:b", nil, 0)
	s.Set("id:a", nil, 0)
	s.Set("px:1", nil, 0)
	s.Set("id:gone", nil, time.Nanosecond)
	time.Sleep(time.Millisecond)
	got := s.Keys("id:")
	if len(got) != 2 || got[0] != "id:a" || got[1] != "id:b" {
		t.Fatalf("unexpected keys %v", got)
	}
}

func TestMaxBytesRejectsGrowth(t *testing.T) {
	s := New(Options{MaxBytes: 64})
	defer s.Close()

	if !s.Set("a", bytes.Repeat([]byte{'x'}, 50), 0) {
		t.Fatalf("expected initial Set to succeed")
	}
	if s.Set("b", bytes.Repeat([]byte{'y'}, 20), 0) {
		t.Fatalf("new key over the cap must be rejected")
	}
	if s.Set("a", bytes.Repeat([]byte{'z'}, 70), 0) {
		t.Fatalf("replace over the cap must be rejected")
	}
	if _, ok := s.Get("b"); ok {
		t.Fatalf("rejected key must not exist")
	}
	if s.Upsert("a", 0, func([]byte) []byte { return bytes.Repeat([]byte{'w'}, 65) }) {
		t.Fatalf("upsert over the cap must be rejected")
	}
	if v, _ := s.Get("a"); len(v) != 50 || v[0] != 'x' {
		t.Fatalf("rejected writes must keep the old value")
	}
	s.Set("a", []byte("tiny"), 0)
	s.Delete("a")
	if st := s.Metrics(); st.Bytes != 0 || st.Keys != 0 {
		t.Fatalf("byte accounting off after shrink+delete: %+v", st)
	}
}
