// Package memkv is a sharded, thread-safe in-memory byte store with TTLs,
// an optional cap on total value bytes and lock-free counters.
//
// Properties:
//   - sharded map guarded by RW mutexes (256 shards by default)
//   - TTLs enforced lazily on read and by a background expirer driven by a
//     min-heap of deadlines
//   - values are copied on Set, Upsert and Get
//   - Options.MaxBytes rejects writes that would grow past the cap
package memkv

import (
	"container/heap"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Options struct {
	Shards   int    // number of shards (default 256)
	MaxBytes uint64 // hard cap on the sum of value sizes (0 = unlimited)
}

func (o Options) withDefaults() Options {
	if o.Shards <= 0 {
		o.Shards = 256
	}
	return o
}

type Store struct {
	opts    Options
	shards  []shard
	expq    *expQueue
	closeCh chan struct{}
	closeMu sync.Once
	wg      sync.WaitGroup
	nowFn   func() time.Time

	mKeys    atomic.Uint64
	mBytes   atomic.Uint64
	mSets    atomic.Uint64
	mGets    atomic.Uint64
	mHits    atomic.Uint64
	mMisses  atomic.Uint64
	mDels    atomic.Uint64
	mExpired atomic.Uint64
	mUpdates atomic.Uint64
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*entry
}

type entry struct {
	val      []byte
	expireAt int64 // unix nano; 0 = never
}

func (e *entry) expired(now int64) bool { return e.expireAt != 0 && e.expireAt <= now }

func New(opts Options) *Store {
	opts = opts.withDefaults()
	s := &Store{
		opts:    opts,
		shards:  make([]shard, opts.Shards),
		expq:    &expQueue{},
		closeCh: make(chan struct{}),
		nowFn:   time.Now,
	}
	s.expq.cond = sync.NewCond(&s.expq.mu)
	for i := range s.shards {
		s.shards[i].m = make(map[string]*entry)
	}
	s.wg.Add(1)
	go s.expirer()
	return s
}

// Close stops the expirer. The store stays readable.
func (s *Store) Close() {
	s.closeMu.Do(func() {
		close(s.closeCh)
		s.expq.mu.Lock()
		s.expq.cond.Broadcast()
		s.expq.mu.Unlock()
	})
	s.wg.Wait()
}

func (s *Store) shardFor(key string) *shard {
	// FNV-1a 64
	var h uint64 = 1469598103934665603
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211
	}
	return &s.shards[int(h%uint64(len(s.shards)))]
}

// tryAddBytes reserves delta bytes, failing if the cap would be exceeded.
func (s *Store) tryAddBytes(delta uint64) bool {
	if s.opts.MaxBytes == 0 {
		s.mBytes.Add(delta)
		return true
	}
	for {
		cur := s.mBytes.Load()
		next := cur + delta
		if next > s.opts.MaxBytes {
			return false
		}
		if s.mBytes.CompareAndSwap(cur, next) {
			return true
		}
	}
}

func (s *Store) subBytes(n int) {
	if n <= 0 {
		return
	}
	for {
		cur := s.mBytes.Load()
		next := uint64(0)
		if uint64(n) < cur {
			next = cur - uint64(n)
		}
		if s.mBytes.CompareAndSwap(cur, next) {
			return
		}
	}
}

// removeLocked deletes key from sh, which must be write-locked.
func (s *Store) removeLocked(sh *shard, key string, e *entry) {
	delete(sh.m, key)
	s.mKeys.Add(^uint64(0))
	s.subBytes(len(e.val))
}

// Set stores a copy of val. ttl <= 0 means no expiry. It returns false when
// the write would exceed MaxBytes; the previous value is then kept.
func (s *Store) Set(key string, val []byte, ttl time.Duration) bool {
	expAt := int64(0)
	if ttl > 0 {
		expAt = s.nowFn().Add(ttl).UnixNano()
	}
	v := append([]byte(nil), val...)

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	prev, existed := sh.m[key]
	delta := len(v)
	if existed {
		delta -= len(prev.val)
	}
	if delta > 0 && !s.tryAddBytes(uint64(delta)) {
		return false
	}
	sh.m[key] = &entry{val: v, expireAt: expAt}
	if !existed {
		s.mKeys.Add(1)
	} else if delta < 0 {
		s.subBytes(-delta)
	}
	s.mSets.Add(1)
	if expAt != 0 {
		s.enqueueExpire(key, expAt)
	}
	return true
}

// Get returns a copy of the value.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mGets.Add(1)
	sh := s.shardFor(key)
	sh.mu.RLock()
	e, ok := sh.m[key]
	var val []byte
	expired := false
	if ok {
		expired = e.expired(s.nowFn().UnixNano())
		val = e.val
	}
	sh.mu.RUnlock()
	if !ok || expired {
		if expired {
			s.expireKey(key)
		}
		s.mMisses.Add(1)
		return nil, false
	}
	s.mHits.Add(1)
	return append([]byte(nil), val...), true
}

// Upsert replaces the value of key with fn(old) under the shard lock, so
// concurrent upserts of one key never lose a write. old is nil for missing
// or expired keys, which are then created with ttl; live keys keep their
// TTL. fn must not retain old. It returns false when the new value would
// exceed MaxBytes.
func (s *Store) Upsert(key string, ttl time.Duration, fn func(old []byte) []byte) bool {
	now := s.nowFn()
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.m[key]
	if ok && e.expired(now.UnixNano()) {
		s.removeLocked(sh, key, e)
		s.mExpired.Add(1)
		ok = false
	}
	var old []byte
	if ok {
		old = e.val
	}
	nv := append([]byte(nil), fn(old)...)
	delta := len(nv) - len(old)
	if delta > 0 && !s.tryAddBytes(uint64(delta)) {
		return false
	}
	if delta < 0 {
		s.subBytes(-delta)
	}
	if ok {
		e.val = nv
		s.mUpdates.Add(1)
		return true
	}
	expAt := int64(0)
	if ttl > 0 {
		expAt = now.Add(ttl).UnixNano()
	}
	sh.m[key] = &entry{val: nv, expireAt: expAt}
	s.mKeys.Add(1)
	s.mSets.Add(1)
	if expAt != 0 {
		s.enqueueExpire(key, expAt)
	}
	return true
}

func (s *Store) Delete(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	e, ok := sh.m[key]
	if ok {
		s.removeLocked(sh, key, e)
		s.mDels.Add(1)
	}
	sh.mu.Unlock()
	return ok
}

// Keys returns the sorted live keys starting with prefix.
func (s *Store) Keys(prefix string) []string {
	now := s.nowFn().UnixNano()
	var out []string
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for k, e := range sh.m {
			if strings.HasPrefix(k, prefix) && !e.expired(now) {
				out = append(out, k)
			}
		}
		sh.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

func (s *Store) expireKey(key string) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	if e, ok := sh.m[key]; ok && e.expired(s.nowFn().UnixNano()) {
		s.removeLocked(sh, key, e)
		s.mExpired.Add(1)
	}
	sh.mu.Unlock()
}

// Stats is a point-in-time copy of the counters.
type Stats struct {
	Keys    uint64
	Bytes   uint64
	Sets    uint64
	Gets    uint64
	Hits    uint64
	Misses  uint64
	Dels    uint64
	Expired uint64
	Updates uint64
}

func (s *Store) Metrics() Stats {
	return Stats{
		Keys:    s.mKeys.Load(),
		Bytes:   s.mBytes.Load(),
		Sets:    s.mSets.Load(),
		Gets:    s.mGets.Load(),
		Hits:    s.mHits.Load(),
		Misses:  s.mMisses.Load(),
		Dels:    s.mDels.Load(),
		Expired: s.mExpired.Load(),
		Updates: s.mUpdates.Load(),
	}
}

type expItem struct {
	when int64
	key  string
}

// expQueue is a min-heap of deadlines guarded by mu.
type expQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []expItem
}

func (q *expQueue) Len() int           { return len(q.items) }
func (q *expQueue) Less(i, j int) bool { return q.items[i].when < q.items[j].when }
func (q *expQueue) Swap(i, j int)      { q.items[i], q.items[j] = q.items[j], q.items[i] }
func (q *expQueue) Push(x any)         { q.items = append(q.items, x.(expItem)) }
func (q *expQueue) Pop() any {
	n := len(q.items)
	it := q.items[n-1]
	q.items = q.items[:n-1]
	return it
}

func (s *Store) enqueueExpire(key string, when int64) {
	s.expq.mu.Lock()
	heap.Push(s.expq, expItem{when: when, key: key})
	s.expq.cond.Broadcast()
	s.expq.mu.Unlock()
}

func (s *Store) closed() bool {
	select {
	case <-s.closeCh:
		return true
	default:
		return false
	}
}

func (s *Store) expirer() {
	defer s.wg.Done()
	for {
		s.expq.mu.Lock()
		for s.expq.Len() == 0 {
			if s.closed() {
				s.expq.mu.Unlock()
				return
			}
			s.expq.cond.Wait()
		}
		if s.closed() {
			s.expq.mu.Unlock()
			return
		}
		it := s.expq.items[0]
		if wait := it.when - s.nowFn().UnixNano(); wait > 0 {
			s.expq.mu.Unlock()
			t := time.NewTimer(time.Duration(wait))
			select {
			case <-t.C:
			case <-s.closeCh:
				t.Stop()
				return
			}
			continue
		}
		heap.Pop(s.expq)
		s.expq.mu.Unlock()
		// Stale heap items (key reset or deleted since) are skipped here.
		s.expireKey(it.key)
	}
}
