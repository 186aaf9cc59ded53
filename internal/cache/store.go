package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/omalloc/cellar/internal/constants"
)

// Size constants from spec.md §6.
const (
	// MaxCacheSize is the total byte budget across all resident entries.
	MaxCacheSize = constants.MaxCacheSize
	// MaxObjectSize is the per-object byte cap; callers must not Put a
	// body larger than this — the store does not re-check it.
	MaxObjectSize = constants.MaxObjectSize
)

// Logger is the subset of *zap.SugaredLogger the store needs. Kept
// narrow so internal/logging is the only package that has to know
// about zap.
type Logger interface {
	Infof(template string, args ...any)
	Warnf(template string, args ...any)
}

// Recorder receives cache events for metrics. All methods must be
// nil-safe from the caller's perspective; callers pass a no-op
// implementation when metrics are disabled.
type Recorder interface {
	CacheHit()
	CacheMiss()
	CacheEviction()
	CacheAdmission(size int)
	CacheBytesInUse(n int)
}

type noopRecorder struct{}

func (noopRecorder) CacheHit()             {}
func (noopRecorder) CacheMiss()            {}
func (noopRecorder) CacheEviction()        {}
func (noopRecorder) CacheAdmission(int)    {}
func (noopRecorder) CacheBytesInUse(int)   {}

type noopLogger struct{}

func (noopLogger) Infof(string, ...any) {}
func (noopLogger) Warnf(string, ...any) {}

// Store is the shared, size-bounded cache of response bodies. It is
// safe for concurrent use: many goroutines may call Get in parallel,
// exclusive of any goroutine calling Put.
//
// The reader/writer discipline is implemented exactly as spec.md §5
// describes it: two binary semaphores (writerMu and readerCountMu)
// realized as plain sync.Mutex, rather than sync.RWMutex. Go's
// sync.RWMutex deliberately blocks new readers once a writer is
// pending, which would prevent the writer starvation the spec calls
// for under continuous reader traffic — so the stdlib primitive is
// the wrong match here, and the hand-rolled protocol is the faithful
// one (see DESIGN.md).
type Store struct {
	log Logger
	rec Recorder

	// writerMu is the writer_mutex semaphore: held by a writer for the
	// duration of Put (and any eviction it triggers), and held by the
	// reader group for the duration of every read (acquired by the
	// first reader to arrive, released by the last to leave).
	writerMu sync.Mutex

	// readerCountMu is the reader_count_mutex semaphore, guarding
	// readerCount only.
	readerCountMu sync.Mutex
	readerCount   int

	// list and index are only ever touched while writerMu is held —
	// either by a writer, or by the reader group holding it on their
	// behalf. list keeps insertion order, newest at the front (the
	// eviction tie-break relies on this).
	list    *list.List
	index   map[string]*list.Element
	totalSize int
}

// New creates an empty cache store. log and rec may be nil, in which
// case events are discarded.
func New(log Logger, rec Recorder) *Store {
	if log == nil {
		log = noopLogger{}
	}
	if rec == nil {
		rec = noopRecorder{}
	}
	return &Store{
		log:   log,
		rec:   rec,
		list:  list.New(),
		index: make(map[string]*list.Element),
	}
}

// acquireReader implements the reader side of the protocol in spec.md
// §5: acquire reader_count_mutex, increment reader_count, and on the
// 1->... transition take writer_mutex on the group's behalf.
func (s *Store) acquireReader() {
	s.readerCountMu.Lock()
	s.readerCount++
	if s.readerCount == 1 {
		s.writerMu.Lock()
	}
	s.readerCountMu.Unlock()
}

// releaseReader is the matching release: decrement reader_count, and
// on the ...->0 transition release writer_mutex.
func (s *Store) releaseReader() {
	s.readerCountMu.Lock()
	s.readerCount--
	if s.readerCount == 0 {
		s.writerMu.Unlock()
	}
	s.readerCountMu.Unlock()
}

// Get looks up key and, on a hit, returns a copy of the cached body
// and its length. The copy is made while reader protection is still
// held, so the returned slice is safe to use after Get returns even
// if a concurrent Put replaces or evicts the entry the instant
// reader protection is released — this is the copy-out resolution to
// the aliasing hazard in spec.md §9.
func (s *Store) Get(key string) ([]byte, int, bool) {
	s.acquireReader()
	defer s.releaseReader()

	el, ok := s.index[key]
	if !ok {
		s.rec.CacheMiss()
		return nil, 0, false
	}

	e := el.Value.(*Entry)
	e.touch(time.Now().Unix())

	body := make([]byte, e.size)
	copy(body, e.body)

	s.rec.CacheHit()
	return body, e.size, true
}

// Put admits body under key, taking ownership of both. If key is
// already present, the prior entry is removed — and its size
// deducted from total_size — before the new size is counted (spec.md
// §4.1, "Replacement on key collision"); this is not treated as a
// hit and does not refresh the old body. The store then evicts the
// least-recently-used entries, preferring the earliest-inserted among
// ties, until total_size fits within MaxCacheSize.
//
// Callers must not pass size > MaxObjectSize; the store does not
// re-check that bound.
func (s *Store) Put(key string, body []byte, size int) {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	if el, ok := s.index[key]; ok {
		old := el.Value.(*Entry)
		s.totalSize -= old.size
		s.removeLocked(el)
	}

	s.totalSize += size
	for s.totalSize > MaxCacheSize && s.list.Len() > 0 {
		s.evictLocked()
	}

	entry := &Entry{key: key, body: body, size: size}
	entry.touch(time.Now().Unix())

	el := s.list.PushFront(entry)
	s.index[key] = el

	s.rec.CacheAdmission(size)
	s.rec.CacheBytesInUse(s.totalSize)
}

// evictLocked removes the entry with the smallest timestamp,
// scanning front-to-back and preferring the back-most entry among
// ties — because new entries are inserted at the front, that is the
// earliest-inserted of the group sharing the minimum timestamp
// (spec.md §4.1). Caller must hold writerMu.
func (s *Store) evictLocked() {
	victim := s.list.Front()
	if victim == nil {
		return
	}
	victimEntry := victim.Value.(*Entry)

	for el := victim.Next(); el != nil; el = el.Next() {
		e := el.Value.(*Entry)
		if e.lastUsed() <= victimEntry.lastUsed() {
			victim = el
			victimEntry = e
		}
	}

	s.totalSize -= victimEntry.size
	s.removeLocked(victim)

	s.log.Infof("cache evict key=%s size=%d timestamp=%d", victimEntry.key, victimEntry.size, victimEntry.lastUsed())
	s.rec.CacheEviction()
	s.rec.CacheBytesInUse(s.totalSize)
}

// removeLocked unlinks el from both the list and the index. Caller
// must hold writerMu.
func (s *Store) removeLocked(el *list.Element) {
	e := el.Value.(*Entry)
	delete(s.index, e.key)
	s.list.Remove(el)
}

// Len reports the number of resident entries. Intended for tests and
// diagnostics.
func (s *Store) Len() int {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()
	return s.list.Len()
}

// TotalSize reports the current total_size. Intended for tests and
// diagnostics.
func (s *Store) TotalSize() int {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()
	return s.totalSize
}
