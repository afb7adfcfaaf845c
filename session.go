package nodetxn

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"go.uber.org/zap"
)

// ---- page cache & revision-epoch tracker (C6) ----

// epochTracker is a small mutex-guarded table of active revision numbers
// (§4.5 "Revision epoch tracker"); it is not lock-free. The sweeper evicts
// a page only when its revision is strictly less than the current floor.
type epochTracker struct {
	mu     sync.Mutex
	active map[RevisionNumber]int // revision -> count of open readers
}

func newEpochTracker() *epochTracker {
	return &epochTracker{active: make(map[RevisionNumber]int)}
}

func (e *epochTracker) register(rev RevisionNumber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active[rev]++
}

func (e *epochTracker) deregister(rev RevisionNumber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active[rev] <= 1 {
		delete(e.active, rev)
	} else {
		e.active[rev]--
	}
}

// floor returns the minimum active revision, or -1 if none are active (in
// which case sweep evicts nothing).
func (e *epochTracker) floor() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	min := int64(-1)
	for rev := range e.active {
		if min == -1 || int64(rev) < min {
			min = int64(rev)
		}
	}
	return min
}

// pageCache holds materialized pages behind a hashicorp/golang-lru/v2 cache
// (grounded in ethereum-go-ethereum's common/lru and AKJUS-bsc-erigon's use
// of golang-lru for block/header caches). Capacity is sized generously.
// Two paths remove entries: the background sweeper, which honours guards
// and the epoch floor, and the LRU's own capacity eviction on Add, which
// drops the least recently used page regardless of guards or epoch floor.
// A guard whose page was dropped that way keeps its *cachedPage; a later
// acquire of the same key creates a fresh page.
type pageCache struct {
	mu    sync.Mutex
	cache *lru.Cache[PageKey, *cachedPage]
	epoch *epochTracker
	log   *zap.SugaredLogger
}

func newPageCache(capacity int, epoch *epochTracker, log *zap.SugaredLogger) *pageCache {
	c, _ := lru.New[PageKey, *cachedPage](capacity)
	return &pageCache{cache: c, epoch: epoch, log: log}
}

func (pc *pageCache) acquire(key PageKey, revision RevisionNumber) (*PageGuard, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	page, ok := pc.cache.Get(key)
	if !ok {
		page = &cachedPage{key: key, revision: revision, slots: make(map[NodeKey][]byte)}
		pc.cache.Add(key, page)
	}
	atomic.AddInt32(&page.refCount, 1)
	return &PageGuard{key: key, page: page}, nil
}

// sweep evicts every cached page whose revision is strictly below the
// current epoch floor and that carries no outstanding guard (§4.5
// "Background sweepers"). Returns the number of pages evicted.
func (pc *pageCache) sweep() int {
	floor := pc.epoch.floor()
	if floor < 0 {
		return 0
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()

	evicted := 0
	for _, key := range pc.cache.Keys() {
		page, ok := pc.cache.Peek(key)
		if !ok {
			continue
		}
		if int64(page.revision) >= floor {
			continue
		}
		if atomic.LoadInt32(&page.refCount) != 0 {
			continue
		}
		pc.cache.Remove(key)
		evicted++
	}
	return evicted
}

// ---- session options ----

// SessionOptions configures a Session (mirrors the teacher's LibraryOptions
// split between library-wide and per-resource config, §2 AMBIENT STACK).
type SessionOptions struct {
	// Logger receives structured session/txn events. Defaults to a no-op
	// logger so library consumers pay nothing unless they opt in.
	Logger *zap.Logger

	// PageCacheCapacity bounds the number of pages the session's page
	// cache may hold; beyond it the LRU evicts its least recently used
	// page. 0 uses a sane default.
	PageCacheCapacity int

	// SweepInterval is how often the background sweeper scans for
	// evictable pages. 0 disables sweeping; pages then leave the cache
	// only through the LRU's capacity eviction.
	SweepInterval time.Duration

	// HashMode selects which hash scheme write transactions maintain.
	HashMode HashMode

	// UseEytzinger toggles the optimized point-in-time revision search
	// (§4.5, §9 open question #2). Semantics are identical to the legacy
	// linear/binary search either way.
	UseEytzinger bool
}

// HashMode selects the per-resource hash scheme (§4.1).
type HashMode int

const (
	HashNone HashMode = iota
	HashRolling
	HashPostorder
)

const (
	defaultPageCacheCapacity = 4096
	writeLockTimeout         = 5 * time.Second
	pageTrxTimeout           = 20 * time.Second
)

// revisionRecord is the committed-revision metadata backing History() and
// the point-in-time floor search (§4.5.1).
type revisionRecord struct {
	Revision  RevisionNumber
	Timestamp int64 // unix nanos
	Message   string
}

// Session owns the lifecycle of readers/writers against one resource: the
// write lock, the txn-id -> reader/writer map, the revision-epoch tracker,
// and the background sweeper (§4.5). Grounded in the teacher's Garland,
// generalized from a single versioned rope to a node-keyed resource; the
// teacher's Library (cross-resource config + shared maintenance worker)
// is folded into SessionOptions plus the per-session sweeper goroutine
// started by Open, since this module does not need a multi-resource
// registry to satisfy the spec's component boundary.
type Session struct {
	id uuid.UUID

	engine *LevelDBEngine
	cache  *pageCache
	epoch  *epochTracker
	log    *zap.SugaredLogger

	hashMode     HashMode
	useEytzinger bool

	writeLock *semaphore.Weighted

	mu               sync.Mutex
	nextTxnID        uint64
	readers          map[uint64]*ReadTxn
	writer           *WriteTxn
	revisions        []revisionRecord // sorted by Revision
	indexesByRev     map[RevisionNumber]*Indexes
	pathSummary      *PathSummary
	lastCommittedRev RevisionNumber

	sweepStop chan struct{}
	sweepWG   sync.WaitGroup
}

// OpenSession opens (or creates) a resource session backed by a goleveldb
// engine rooted at dir.
func OpenSession(dir string, opts SessionOptions) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sugar := logger.Sugar()

	epoch := newEpochTracker()
	cap := opts.PageCacheCapacity
	if cap <= 0 {
		cap = defaultPageCacheCapacity
	}
	cache := newPageCache(cap, epoch, sugar)

	engine, err := OpenLevelDBEngine(dir, cache)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:           uuid.New(),
		engine:       engine,
		cache:        cache,
		epoch:        epoch,
		log:          sugar,
		hashMode:     opts.HashMode,
		useEytzinger: opts.UseEytzinger,
		writeLock:    semaphore.NewWeighted(1),
		readers:      make(map[uint64]*ReadTxn),
		indexesByRev: make(map[RevisionNumber]*Indexes),
		pathSummary:  NewPathSummary(),
	}
	s.revisions = append(s.revisions, revisionRecord{Revision: 0, Timestamp: 0})
	s.lastCommittedRev = engine.revision

	if opts.SweepInterval > 0 {
		s.startSweeper(opts.SweepInterval)
	}
	return s, nil
}

func (s *Session) startSweeper(interval time.Duration) {
	s.sweepStop = make(chan struct{})
	s.sweepWG.Add(1)
	go func() {
		defer s.sweepWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.sweepStop:
				return
			case <-ticker.C:
				if n := s.cache.sweep(); n > 0 {
					s.log.Debugw("swept cold pages", "evicted", n)
				}
			}
		}
	}()
}

// Close closes all tracked readers and writers (rolling back any writer
// with uncommitted modifications), stops the sweeper, and closes the
// storage handle. Does not clear shared caches other sessions may still
// reference (§4.5 "Close").
func (s *Session) Close() error {
	s.mu.Lock()
	writer := s.writer
	readers := make([]*ReadTxn, 0, len(s.readers))
	for _, r := range s.readers {
		readers = append(readers, r)
	}
	s.mu.Unlock()

	if writer != nil {
		if writer.state == txnRunning && writer.modCount > 0 {
			_ = writer.Rollback()
		}
		_ = writer.Close()
	}
	for _, r := range readers {
		_ = r.Close()
	}

	if s.sweepStop != nil {
		close(s.sweepStop)
		s.sweepWG.Wait()
	}
	return s.engine.Close()
}

// GetMostRecentRevisionNumber returns the highest committed revision.
func (s *Session) GetMostRecentRevisionNumber() RevisionNumber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCommittedRev
}

// ---- point-in-time floor search (§4.5.1) ----

// GetRevisionNumber resolves instant (unix nanos) to a revision using the
// floor rule: before the first commit -> 0; after the last -> most recent;
// exact match -> that revision; otherwise the revision immediately
// preceding instant.
func (s *Session) GetRevisionNumber(instant int64) RevisionNumber {
	s.mu.Lock()
	recs := s.revisions
	eytzinger := s.useEytzinger
	s.mu.Unlock()

	if len(recs) == 0 {
		return 0
	}
	if eytzinger {
		return floorSearchEytzinger(recs, instant)
	}
	return floorSearchLinear(recs, instant)
}

// floorSearchLinear is the legacy reference semantics: binary search over
// revision timestamps (sorted by construction) applying the floor rule.
func floorSearchLinear(recs []revisionRecord, instant int64) RevisionNumber {
	if instant < recs[0].Timestamp {
		return recs[0].Revision
	}
	last := recs[len(recs)-1]
	if instant > last.Timestamp {
		return last.Revision
	}
	idx := sort.Search(len(recs), func(i int) bool { return recs[i].Timestamp > instant })
	// idx is the first record strictly after instant; idx-1 is the floor.
	return recs[idx-1].Revision
}

// floorSearchEytzinger mirrors floorSearchLinear's semantics exactly
// (§9 open question #2: "its semantics must equal the legacy binary search
// with floor rule") but walks an implicit Eytzinger (BFS) layout of the
// same sorted timestamps, which is more cache-friendly for large histories.
func floorSearchEytzinger(recs []revisionRecord, instant int64) RevisionNumber {
	n := len(recs)
	layout := make([]int, n+1) // 1-indexed, 0 unused
	buildEytzinger(recs, layout, 0, n, 1)

	idx := 1
	best := -1
	for idx <= n {
		i := layout[idx]
		if recs[i].Timestamp <= instant {
			best = i
			idx = idx*2 + 1
		} else {
			idx = idx * 2
		}
	}
	if best == -1 {
		return recs[0].Revision
	}
	return recs[best].Revision
}

// buildEytzinger fills layout[1..n] with indexes into the sorted recs using
// the standard recursive Eytzinger construction: an in-order walk of the
// implicit tree rooted at k (children 2k and 2k+1) assigns the next sorted
// index, starting from next, to each visited slot. Returns the next unused
// sorted index.
func buildEytzinger(recs []revisionRecord, layout []int, next, n, k int) int {
	if k > n {
		return next
	}
	next = buildEytzinger(recs, layout, next, n, 2*k)
	layout[k] = next
	next++
	return buildEytzinger(recs, layout, next, n, 2*k+1)
}

// ---- History ----

// RevisionHistoryEntry describes one committed revision (§6 "get_history").
type RevisionHistoryEntry struct {
	Revision  RevisionNumber
	Timestamp int64
	Message   string
}

// History returns metadata for every committed revision.
func (s *Session) History() []RevisionHistoryEntry {
	return s.historyRange(0, ^RevisionNumber(0))
}

// HistoryN returns metadata for the n most recent committed revisions.
func (s *Session) HistoryN(n int) []RevisionHistoryEntry {
	all := s.History()
	if len(all) <= n {
		return all
	}
	return all[len(all)-n:]
}

// HistoryRange returns metadata for revisions in [from, to] inclusive.
func (s *Session) HistoryRange(from, to RevisionNumber) []RevisionHistoryEntry {
	return s.historyRange(from, to)
}

func (s *Session) historyRange(from, to RevisionNumber) []RevisionHistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RevisionHistoryEntry
	for _, r := range s.revisions {
		if r.Revision < from || r.Revision > to {
			continue
		}
		out = append(out, RevisionHistoryEntry{Revision: r.Revision, Timestamp: r.Timestamp, Message: r.Message})
	}
	return out
}

func (s *Session) recordCommit(rec revisionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revisions = append(s.revisions, rec)
	s.lastCommittedRev = rec.Revision
}

// ---- transaction entry points (§4.5, §6) ----

// BeginNodeReadOnlyTrx opens a read-only cursor transaction at revision
// rev. Pass GetMostRecentRevisionNumber() to read the latest state.
func (s *Session) BeginNodeReadOnlyTrx(rev RevisionNumber) (*ReadTxn, error) {
	s.mu.Lock()
	txnID := s.nextTxnID
	s.nextTxnID++
	s.mu.Unlock()

	reader := s.engine.ReaderAt(rev)
	s.epoch.register(rev)

	rt := &ReadTxn{
		id:      txnID,
		session: s,
		reader:  reader,
		cursor:  newCursor(reader),
	}

	s.mu.Lock()
	s.readers[txnID] = rt
	s.mu.Unlock()
	return rt, nil
}

// BeginNodeReadOnlyTrxAtInstant opens a read-only transaction at the
// revision the floor rule resolves instant to.
func (s *Session) BeginNodeReadOnlyTrxAtInstant(instant int64) (*ReadTxn, error) {
	return s.BeginNodeReadOnlyTrx(s.GetRevisionNumber(instant))
}

// BeginNodeTrx acquires the write lock (5s timeout, with orphan-lock
// recovery) and opens the single read-write transaction for this session
// (§4.5 "Write-transaction entry", §5 suspension points).
func (s *Session) BeginNodeTrx(maxNodeCount int64, maxTime time.Duration, after AfterCommitState) (*WriteTxn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeLockTimeout)
	defer cancel()

	if err := s.writeLock.Acquire(ctx, 1); err != nil {
		// Orphan detection: if nothing is tracked as a writer, assume a
		// crashed writer leaked the permit and retry once (§4.5, §8
		// scenario (e)).
		s.mu.Lock()
		orphaned := s.writer == nil
		s.mu.Unlock()
		if !orphaned {
			return nil, WrapUsage("write-lock acquire timed out")
		}
		s.log.Warnw("recovering orphaned write lock")
		s.writeLock.Release(1)
		ctx2, cancel2 := context.WithTimeout(context.Background(), writeLockTimeout)
		defer cancel2()
		if err := s.writeLock.Acquire(ctx2, 1); err != nil {
			return nil, WrapUsage("write-lock acquire timed out after orphan recovery")
		}
	}

	s.mu.Lock()
	txnID := s.nextTxnID
	s.nextTxnID++
	baseRev := s.lastCommittedRev
	s.mu.Unlock()

	rev := baseRev
	s.epoch.register(rev)
	reader := s.engine.ReaderAt(rev)
	writer := s.engine.Writer(rev)

	wt := newWriteTxn(txnID, s, reader, writer, rev, maxNodeCount, maxTime, after)

	s.mu.Lock()
	s.writer = wt
	s.mu.Unlock()
	return wt, nil
}

func (s *Session) releaseReader(txnID uint64, rev RevisionNumber) {
	s.mu.Lock()
	delete(s.readers, txnID)
	s.mu.Unlock()
	s.epoch.deregister(rev)
}

func (s *Session) releaseWriter() {
	s.mu.Lock()
	s.writer = nil
	s.mu.Unlock()
	s.writeLock.Release(1)
}

// ---- read-only transaction wrapper ----

// ReadTxn pairs a Cursor with its owning reader and revision-epoch
// registration, giving callers a begin/close lifecycle distinct from the
// bare Cursor (§6 "begin_node_read_only_trx").
type ReadTxn struct {
	id      uint64
	session *Session
	reader  StorageEngineReader
	cursor  *Cursor
	closed  bool
}

// Cursor returns the read-only cursor for this transaction.
func (rt *ReadTxn) Cursor() *Cursor { return rt.cursor }

// RevisionNumber reports the revision this transaction observes.
func (rt *ReadTxn) RevisionNumber() RevisionNumber { return rt.reader.Revision() }

// RevisionTimestamp reports when that revision was committed.
func (rt *ReadTxn) RevisionTimestamp() int64 { return rt.reader.RevisionTimestamp() }

// Close releases the page guard held by the cursor and deregisters this
// transaction's revision from the epoch tracker.
func (rt *ReadTxn) Close() error {
	if rt.closed {
		return nil
	}
	rt.closed = true
	rt.cursor.releaseGuard()
	rt.session.releaseReader(rt.id, rt.reader.Revision())
	return nil
}
